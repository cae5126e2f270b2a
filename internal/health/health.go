// Package health reads the debug variables a supervised process exports and
// evaluates readiness predicates against them.
package health

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"time"

	json "github.com/goccy/go-json"

	"github.com/loykin/fixturectl/internal/metrics"
)

// DefaultPath is where supervised binaries export their debug variables.
const DefaultPath = "/debug/vars"

// maxBody caps how much of a status document is read.
const maxBody = 4 << 20

// Availability classifies one poll.
type Availability int

const (
	// Unavailable means nothing answered (connection refused, timeout, non-2xx).
	Unavailable Availability = iota
	// Available means a status document was decoded.
	Available
	// Malformed means the endpoint answered with a body that is not a JSON object.
	Malformed
)

func (a Availability) String() string {
	switch a {
	case Available:
		return "available"
	case Malformed:
		return "malformed"
	default:
		return "unavailable"
	}
}

// MalformedStatusError describes a reachable endpoint with an unparseable body.
type MalformedStatusError struct {
	Addr    string
	Excerpt string
	Err     error
}

func (e *MalformedStatusError) Error() string {
	return fmt.Sprintf("malformed status document from %s: %v (body: %q)", e.Addr, e.Err, e.Excerpt)
}

func (e *MalformedStatusError) Unwrap() error { return e.Err }

// Snapshot is a point-in-time view of a process's status document.
type Snapshot struct {
	Availability Availability
	Vars         map[string]any
	// Err is set for Malformed snapshots.
	Err error
}

// OK reports whether the snapshot carries data.
func (s Snapshot) OK() bool { return s.Availability == Available }

// String returns field as a string. Numbers are formatted.
func (s Snapshot) String(field string) (string, bool) {
	v, ok := s.Vars[field]
	if !ok {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case json.Number:
		return t.String(), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return fmt.Sprint(t), true
	}
}

// Number returns field as a float64 when it is numeric.
func (s Snapshot) Number(field string) (float64, bool) {
	v, ok := s.Vars[field]
	if !ok {
		return 0, false
	}
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Poller performs best-effort reads of a status endpoint.
type Poller struct {
	Client *http.Client
	Path   string
	Logger *slog.Logger
}

// NewPoller returns a Poller with a short per-request timeout.
func NewPoller(logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{
		Client: &http.Client{Timeout: 2 * time.Second},
		Path:   DefaultPath,
		Logger: logger,
	}
}

// URL returns the status endpoint URL for addr.
func (p *Poller) URL(addr string) string {
	path := p.Path
	if path == "" {
		path = DefaultPath
	}
	return "http://" + addr + path
}

// Fetch reads the status document at addr. It never fails: transport errors
// yield an Unavailable snapshot and undecodable bodies a Malformed one, which
// is also logged because it usually means something else owns the port.
func (p *Poller) Fetch(ctx context.Context, addr string) Snapshot {
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL(addr), nil)
	if err != nil {
		return Snapshot{Availability: Unavailable}
	}
	resp, err := client.Do(req)
	if err != nil {
		return Snapshot{Availability: Unavailable}
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Snapshot{Availability: Unavailable}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return Snapshot{Availability: Unavailable}
	}

	vars, err := decode(body)
	if err != nil {
		merr := &MalformedStatusError{Addr: addr, Excerpt: excerpt(body), Err: err}
		metrics.IncMalformedStatus(addr)
		if p.Logger != nil {
			p.Logger.Warn("status endpoint returned malformed document", "addr", addr, "error", merr)
		}
		return Snapshot{Availability: Malformed, Err: merr}
	}
	return Snapshot{Availability: Available, Vars: vars}
}

func decode(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var vars map[string]any
	if err := dec.Decode(&vars); err != nil {
		return nil, err
	}
	if vars == nil {
		return nil, errors.New("status document is not a JSON object")
	}
	return vars, nil
}

func excerpt(b []byte) string {
	const n = 200
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

// Predicate decides whether a field value satisfies a wait. observed is a
// printable form of the value for timeout messages.
type Predicate func(s Snapshot, field string) (ok bool, observed string, present bool)

// MatchString matches field against pattern anchored at both ends.
func MatchString(pattern string) (Predicate, error) {
	re, err := regexp.Compile("^(?:" + pattern + ")$")
	if err != nil {
		return nil, fmt.Errorf("invalid state pattern %q: %w", pattern, err)
	}
	return func(s Snapshot, field string) (bool, string, bool) {
		v, ok := s.String(field)
		if !ok {
			return false, "", false
		}
		return re.MatchString(v), v, true
	}, nil
}

// EqualNumber matches a numeric field equal to want.
func EqualNumber(want float64) Predicate {
	return func(s Snapshot, field string) (bool, string, bool) {
		v, ok := s.Number(field)
		if !ok {
			if raw, present := s.String(field); present {
				return false, raw, true
			}
			return false, "", false
		}
		return v == want, strconv.FormatFloat(v, 'f', -1, 64), true
	}
}
