package models

import "fmt"

// DriftStatus is the relay's verdict on who is ahead.
type DriftStatus string

const (
	DriftAhead  DriftStatus = "ahead"
	DriftBehind DriftStatus = "behind"
	DriftOK     DriftStatus = "ok"
)

// DriftReport is the response of GET /sync/drift.
type DriftReport struct {
	Status  DriftStatus `json:"status"`
	Drift   float64     `json:"drift"`
	Partner string      `json:"partner"`
	SyncTo  float64     `json:"sync_to"`
}

// FormatClock renders seconds as m:ss.
func FormatClock(seconds float64) string {
	total := int(FloorSeconds(seconds))
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}
