package relay_client

const (
	// Headers - the relay accepts the key as header, body field or query parameter
	APIKeyHeader    = "X-API-Key"
	APIKeyParam     = "api_key"
	JsonHeader      = "Content-Type"
	JsonContentType = "application/json"

	// POST endpoints
	SyncPath            = "/sync"
	TelemetryPath       = "/telemetry"
	CommandPath         = "/command"
	WatchlistAddPath    = "/watchlist/add"
	WatchlistRemovePath = "/watchlist/remove"

	// GET endpoints
	DriftPath  = "/sync/drift"
	HealthPath = "/health"

	// Streams
	CommandStreamPath = "/command/stream"
	NavStreamPath     = "/nav/stream"
	InviteStreamPath  = "/invite/stream"
	CommandSocketPath = "/ws/command"
	userParam         = "user"
)
