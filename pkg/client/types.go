package client

import "time"

// Backend is the supervisor's view of the backend process.
type Backend struct {
	Running   bool      `json:"running"`
	Exited    bool      `json:"exited"`
	PID       int       `json:"pid,omitempty"`
	Root      string    `json:"root,omitempty"`
	Script    string    `json:"script,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	ExitErr   string    `json:"exit_error,omitempty"`
}

// Launch is the progress of the current launch attempt.
type Launch struct {
	LaunchID   string    `json:"launch_id"`
	Stage      string    `json:"stage"`
	Done       bool      `json:"done"`
	Ready      bool      `json:"ready"`
	Root       string    `json:"root"`
	Source     string    `json:"source"`
	URL        string    `json:"url,omitempty"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Backend    Backend   `json:"backend"`
}

// Usage is a resource sample of the backend process.
type Usage struct {
	RSSBytes   uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`
	NumThreads int32   `json:"num_threads"`
}

// Status is the body of GET /status.
type Status struct {
	Launch Launch `json:"launch"`
	Usage  *Usage `json:"usage,omitempty"`
}

// LaunchRecord is one entry of GET /history.
type LaunchRecord struct {
	ID           string    `json:"id"`
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	Root         string    `json:"root"`
	Source       string    `json:"source"`
	Bootstrapped bool      `json:"bootstrapped"`
	Outcome      string    `json:"outcome"`
	Error        string    `json:"error,omitempty"`
	PID          int       `json:"pid,omitempty"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
