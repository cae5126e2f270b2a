package process

import (
	"fmt"

	"github.com/loykin/fixturectl/internal/metrics"
)

// State is a ManagedProcess lifecycle stage.
//
//	NotStarted -> Starting -> Healthy -> Terminating -> Stopped
//	Starting -> Starting (retry) | Failed
type State int

const (
	NotStarted State = iota
	Starting
	Healthy
	Terminating
	Stopped
	Failed
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Starting:
		return "starting"
	case Healthy:
		return "healthy"
	case Terminating:
		return "terminating"
	case Stopped:
		return "stopped"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON and logs.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for st := NotStarted; st <= Failed; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown process state %q", b)
}

// Terminal reports whether the process can no longer be started.
func (s State) Terminal() bool { return s == Stopped || s == Failed }

// StopMode selects the signal used by a stop.
type StopMode int

const (
	Graceful StopMode = iota
	Forced
)

func (m StopMode) String() string {
	if m == Forced {
		return "forced"
	}
	return "graceful"
}

// setStateLocked moves the lifecycle and records the transition.
// Caller must hold p.mu.
func (p *ManagedProcess) setStateLocked(to State) {
	from := p.state
	p.state = to
	metrics.RecordStateTransition(p.cfg.Name, from.String(), to.String())
	p.logger.Debug("state transition", "from", from.String(), "to", to.String())
}
