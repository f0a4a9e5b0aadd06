package playsync

// State is the echo-suppression and change-detection state of one page.
// It is owned by a Machine and only touched from the session loop.
type State struct {
	LastKnownTimeSeconds float64
	LastPaused           bool
	LastPlaybackRate     float64

	// IgnoreNextRateChange suppresses the ratechange fired by a programmatic
	// rate mutation.
	IgnoreNextRateChange bool

	// PageUnloading blocks every further outbound sync once set.
	PageUnloading bool

	// pendingEchoes counts play, pause and seeked events that were caused by
	// programmatic mutations and must not be re-emitted. A counter rather than
	// a single flag so a seek followed by a play both get suppressed.
	pendingEchoes int
}

// NewState returns the state of a freshly loaded page.
func NewState() *State {
	return &State{LastPaused: true, LastPlaybackRate: 1}
}

// IgnoringEvents reports whether a programmatic mutation is still awaiting
// its native event.
func (s *State) IgnoringEvents() bool {
	return s.pendingEchoes > 0
}

// PendingEchoes returns the number of outstanding suppressed events.
func (s *State) PendingEchoes() int {
	return s.pendingEchoes
}

// expectEcho must be called before the mutation it guards.
func (s *State) expectEcho() {
	s.pendingEchoes++
}

// cancelEcho undoes expectEcho when the mutation failed and no event will fire.
func (s *State) cancelEcho() {
	if s.pendingEchoes > 0 {
		s.pendingEchoes--
	}
}

// consumeEcho reports whether the current event is a suppressed echo and
// consumes it if so.
func (s *State) consumeEcho() bool {
	if s.pendingEchoes == 0 {
		return false
	}
	s.pendingEchoes--
	return true
}

// reset re-seeds change detection from a newly attached player.
func (s *State) reset(position float64, paused bool, rate float64) {
	s.LastKnownTimeSeconds = position
	s.LastPaused = paused
	s.LastPlaybackRate = rate
	s.IgnoreNextRateChange = false
	s.pendingEchoes = 0
}
