package ports

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
)

// Default port range used when Options leaves it unset.
const (
	DefaultBase = 16000
	DefaultMax  = 65535
)

// ErrExhausted is returned when the range has no port left to hand out.
var ErrExhausted = errors.New("port range exhausted")

// Options configures an Allocator.
type Options struct {
	Base int // first port handed out (default DefaultBase)
	Max  int // last usable port (default DefaultMax)
	// Probe skips ports another process on this host is already bound to.
	Probe bool
	// Host is the address probed when Probe is set (default 127.0.0.1).
	Host string
}

// Allocator hands out ports that are unique for the lifetime of a run.
// It advances a cursor monotonically and never hands back a released
// port, so concurrent fixtures cannot collide with each other.
type Allocator struct {
	mu     sync.Mutex
	next   int
	max    int
	probe  bool
	host   string
	issued int
}

// New creates an allocator for the given options.
func New(opts Options) *Allocator {
	if opts.Base <= 0 {
		opts.Base = DefaultBase
	}
	if opts.Max <= 0 || opts.Max > DefaultMax {
		opts.Max = DefaultMax
	}
	if opts.Host == "" {
		opts.Host = "127.0.0.1"
	}
	return &Allocator{next: opts.Base, max: opts.Max, probe: opts.Probe, host: opts.Host}
}

// Reserve returns n distinct ports. Either all n are reserved or none are
// returned together with an error; ports skipped on the way are not reused.
func (a *Allocator) Reserve(n int) ([]int, error) {
	if n <= 0 {
		return nil, fmt.Errorf("reserve %d ports: count must be positive", n)
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]int, 0, n)
	for len(out) < n {
		if a.next > a.max {
			return nil, fmt.Errorf("%w: reserved %d of %d (cursor past %d)", ErrExhausted, len(out), n, a.max)
		}
		p := a.next
		a.next++
		if a.probe && !isPortAvailable(a.host, p) {
			continue
		}
		out = append(out, p)
	}
	a.issued += n
	return out, nil
}

// Next reserves a single port.
func (a *Allocator) Next() (int, error) {
	ps, err := a.Reserve(1)
	if err != nil {
		return 0, err
	}
	return ps[0], nil
}

// Issued reports how many ports have been handed out.
func (a *Allocator) Issued() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.issued
}

func isPortAvailable(host string, port int) bool {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}
