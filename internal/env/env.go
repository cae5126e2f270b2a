// Package env composes the environment handed to supervised children.
package env

import (
	"os"
	"sort"
	"strings"
)

type Vars map[string]string

// Env layers fixture-wide overrides over the supervisor's own environment.
// Children see: OS environment, then Env overrides, then per-process pairs.
type Env struct {
	Vars Vars
	base Vars
}

// New snapshots the current process environment as the base layer. The
// snapshot is read-only afterwards, so one Env may be merged concurrently.
func New() *Env {
	return &Env{Vars: make(Vars), base: parse(os.Environ())}
}

// FromOS re-reads the process environment into the base layer. It must not
// race with Merge.
func (e *Env) FromOS() {
	e.base = parse(os.Environ())
}

// Set adds a fixture-wide override.
func (e *Env) Set(k, v string) {
	if e.Vars == nil {
		e.Vars = make(Vars)
	}
	e.Vars[k] = v
}

// WithSet returns a copy of e with k=v added.
func (e *Env) WithSet(k, v string) *Env {
	cp := &Env{Vars: make(Vars, len(e.Vars)+1), base: e.base}
	for key, val := range e.Vars {
		cp.Vars[key] = val
	}
	cp.Vars[k] = v
	return cp
}

// Merge returns the child's environment as sorted K=V pairs. ${VAR}
// references in the fixture and per-process layers are expanded once against
// the composed map; unknown references expand to the empty string. Values
// inherited from the OS pass through untouched.
func (e *Env) Merge(perProcess []string) []string {
	m := make(Vars, len(e.base)+len(e.Vars)+len(perProcess))
	for k, v := range e.base {
		m[k] = v
	}
	overrides := make(Vars, len(e.Vars)+len(perProcess))
	for k, v := range e.Vars {
		if k != "" {
			m[k] = v
			overrides[k] = v
		}
	}
	for k, v := range parse(perProcess) {
		m[k] = v
		overrides[k] = v
	}

	out := make([]string, 0, len(m))
	for k, v := range m {
		if _, ok := overrides[k]; ok {
			v = expand(v, m)
		}
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func parse(pairs []string) Vars {
	m := make(Vars, len(pairs))
	for _, kv := range pairs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		m[k] = v
	}
	return m
}

func expand(s string, m Vars) string {
	if !strings.Contains(s, "${") {
		return s
	}
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			b.WriteString(s)
			return b.String()
		}
		j := strings.IndexByte(s[i:], '}')
		if j < 0 {
			b.WriteString(s)
			return b.String()
		}
		b.WriteString(s[:i])
		b.WriteString(m[s[i+2:i+j]])
		s = s[i+j+1:]
	}
}
