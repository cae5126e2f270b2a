package client

import "time"

// MemberStatus mirrors the status document served for one fixture member.
type MemberStatus struct {
	Name      string    `json:"name"`
	Alias     string    `json:"alias"`
	Binary    string    `json:"binary"`
	State     string    `json:"state"`
	PID       int       `json:"pid,omitempty"`
	Running   bool      `json:"running"`
	Port      int       `json:"port,omitempty"`
	RPCPort   int       `json:"rpc_port,omitempty"`
	Addr      string    `json:"addr,omitempty"`
	RPCAddr   string    `json:"rpc_addr,omitempty"`
	Attempts  int       `json:"attempts"`
	LogFiles  []string  `json:"log_files,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	HealthyAt time.Time `json:"healthy_at,omitempty"`
	StoppedAt time.Time `json:"stopped_at,omitempty"`
	ExitErr   string    `json:"exit_error,omitempty"`
}

// Endpoint is where one member listens.
type Endpoint struct {
	Alias   string `json:"alias"`
	Addr    string `json:"addr"`
	RPCAddr string `json:"rpc_addr,omitempty"`
	Port    int    `json:"port"`
	RPCPort int    `json:"rpc_port,omitempty"`
	PID     int    `json:"pid,omitempty"`
}

// Manifest lists the endpoints of a running fixture.
type Manifest struct {
	RunID   string              `json:"run_id"`
	Members map[string]Endpoint `json:"members"`
}

// Resources is a CPU/memory sample of a member process.
type Resources struct {
	PID        int32     `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"`
	SampledAt  time.Time `json:"sampled_at"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}
