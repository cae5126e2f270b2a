package fixture

import (
	"io"

	json "github.com/goccy/go-json"
)

// Endpoint is how a client reaches one member.
type Endpoint struct {
	Alias   string `json:"alias"`
	Addr    string `json:"addr"`
	RPCAddr string `json:"rpc_addr,omitempty"`
	Port    int    `json:"port"`
	RPCPort int    `json:"rpc_port,omitempty"`
	PID     int    `json:"pid,omitempty"`
}

// Manifest tells whoever launched the fixture where its members listen.
type Manifest struct {
	RunID   string              `json:"run_id"`
	Members map[string]Endpoint `json:"members"`
}

// Manifest returns the endpoints of all members.
func (s *Supervisor) Manifest() Manifest {
	m := Manifest{RunID: s.runID, Members: make(map[string]Endpoint)}
	for _, p := range s.Members() {
		st := p.Status()
		m.Members[st.Name] = Endpoint{
			Alias:   st.Alias,
			Addr:    st.Addr,
			RPCAddr: st.RPCAddr,
			Port:    st.Port,
			RPCPort: st.RPCPort,
			PID:     st.PID,
		}
	}
	return m
}

// WriteTo writes the manifest as a single JSON line.
func (m Manifest) WriteTo(w io.Writer) (int64, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return 0, err
	}
	n, err := w.Write(append(b, '\n'))
	return int64(n), err
}
