package domain

import "time"

// =============================================================================
// Processor state machine
// =============================================================================

// ServiceState is the lifecycle state of a per-account processor.
type ServiceState string

const (
	StateStopped            ServiceState = "stopped"
	StateStarting           ServiceState = "starting"
	StateRunningStartup     ServiceState = "running_startup"
	StateRunningMaintenance ServiceState = "running_maintenance"
	StateStopping           ServiceState = "stopping"
	StateError              ServiceState = "error"
)

// ProcessingMode selects the job set a running processor schedules.
type ProcessingMode string

const (
	ModeStartup     ProcessingMode = "startup"
	ModeMaintenance ProcessingMode = "maintenance"
)

// StateForMode maps a mode to its running state.
func StateForMode(mode ProcessingMode) ServiceState {
	if mode == ModeMaintenance {
		return StateRunningMaintenance
	}
	return StateRunningStartup
}

// ProcessorStats tracks one processor's counters.
type ProcessorStats struct {
	EmailsProcessed   int        `json:"emails_processed"`
	EmailsPending     int        `json:"emails_pending"`
	Errors            int        `json:"errors"`
	ConsecutiveErrors int        `json:"consecutive_errors"`
	AvgProcessingTime float64    `json:"avg_processing_time"`
	ModeStartTime     time.Time  `json:"mode_start_time"`
	LastRun           *time.Time `json:"last_run,omitempty"`
	LastError         string     `json:"last_error,omitempty"`
}

// ErrorRate is errors over processed, guarding the zero denominator.
func (s *ProcessorStats) ErrorRate() float64 {
	processed := s.EmailsProcessed
	if processed < 1 {
		processed = 1
	}
	return float64(s.Errors) / float64(processed)
}

// Auto-transition thresholds from startup to maintenance mode.
const (
	TransitionPendingBelow = 50
	TransitionMinModeAge   = 14 * 24 * time.Hour
	TransitionMaxErrorRate = 0.05
	MaxConsecutiveErrors   = 5
)

// ReadyForMaintenance is the auto-transition predicate: a small pending
// backlog, two weeks of startup-mode history and a clean error record.
func (s *ProcessorStats) ReadyForMaintenance(now time.Time) bool {
	if s.EmailsPending >= TransitionPendingBelow {
		return false
	}
	if s.ModeStartTime.IsZero() || now.Sub(s.ModeStartTime) < TransitionMinModeAge {
		return false
	}
	if s.ConsecutiveErrors != 0 {
		return false
	}
	return s.ErrorRate() < TransitionMaxErrorRate
}

// BatchResult is the outcome of one inbox processing pass.
type BatchResult struct {
	Success         bool           `json:"success"`
	EmailsProcessed int            `json:"emails_processed"`
	InboxRemaining  int            `json:"inbox_remaining"`
	HasMore         bool           `json:"has_more"`
	Categories      map[string]int `json:"categories,omitempty"`
	Folders         map[string]int `json:"folders,omitempty"`
	ProcessingTime  float64        `json:"processing_time"`
	Error           string         `json:"error,omitempty"`
}
