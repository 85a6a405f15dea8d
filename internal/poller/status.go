package poller

import "time"

// Status summarises recent cycles for the health endpoint.
type Status struct {
	Cycles      int            `json:"cycles"`
	LastCycleID string         `json:"last_cycle_id,omitempty"`
	LastCycle   time.Time      `json:"last_cycle"`
	Targets     []TargetStatus `json:"targets"`
}

// TargetStatus is the latest outcome for one key.
type TargetStatus struct {
	Key           string    `json:"key"`
	LastSuccess   time.Time `json:"last_success"`
	Watermark     time.Time `json:"watermark"`
	LastError     string    `json:"last_error,omitempty"`
	LastErrorKind string    `json:"last_error_kind,omitempty"`
	LastErrorAt   time.Time `json:"last_error_at"`
}

// Healthy reports whether every key has succeeded at least once since its
// most recent error.
func (s Status) Healthy() bool {
	for _, t := range s.Targets {
		if !t.LastErrorAt.IsZero() && !t.LastSuccess.After(t.LastErrorAt) {
			return false
		}
	}
	return true
}
