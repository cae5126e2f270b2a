package process

import "time"

// Status is a point-in-time view of a ManagedProcess.
type Status struct {
	Name      string    `json:"name"`
	Alias     string    `json:"alias"`
	Binary    string    `json:"binary"`
	State     State     `json:"state"`
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

// Status snapshots the process.
func (p *ManagedProcess) Status() Status {
	host := p.Host()
	p.mu.Lock()
	defer p.mu.Unlock()
	st := Status{
		Name:      p.cfg.Name,
		Alias:     p.cfg.Alias,
		Binary:    p.cfg.Binary,
		State:     p.state,
		Port:      p.port,
		RPCPort:   p.rpcPort,
		Attempts:  p.attempts,
		LogFiles:  append([]string(nil), p.logFiles...),
		StartedAt: p.startedAt,
		HealthyAt: p.healthyAt,
		StoppedAt: p.stoppedAt,
	}
	if p.cmd != nil && p.cmd.Process != nil {
		st.PID = p.cmd.Process.Pid
		st.Running = p.done != nil && !exited(p.done)
	}
	if p.port > 0 {
		st.Addr = joinHostPort(host, p.port)
	}
	if p.rpcPort > 0 {
		st.RPCAddr = joinHostPort(host, p.rpcPort)
	}
	if p.exitErr != nil {
		st.ExitErr = p.exitErr.Error()
	}
	return st
}
