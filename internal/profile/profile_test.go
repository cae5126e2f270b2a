package profile

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var shards = []Shard{
	{Keyspace: "test_keyspace", Name: "-80", DBName: "vt_test_keyspace_0"},
	{Keyspace: "test_keyspace", Name: "80-", DBName: "vt_test_keyspace_1"},
}

func TestTopologyRoundTrip(t *testing.T) {
	s := Topology(shards)
	assert.Equal(t, "test_keyspace/-80:vt_test_keyspace_0,test_keyspace/80-:vt_test_keyspace_1", s)

	back, err := ParseTopology(s)
	require.NoError(t, err)
	assert.Equal(t, shards, back)

	empty, err := ParseTopology(" ")
	require.NoError(t, err)
	assert.Nil(t, empty)

	_, err = ParseTopology("ks/0")
	assert.Error(t, err)
	_, err = ParseTopology("ks:db")
	assert.Error(t, err)
}

func argValue(args []string, flag string) (string, bool) {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag {
			return args[i+1], true
		}
	}
	return "", false
}

func TestCombo(t *testing.T) {
	t.Setenv("USER", "alice")
	cfg, err := Combo(ComboOptions{
		Binary:  "/bin/vtcombo",
		Dir:     "/tmp/run",
		Shards:  shards,
		DB:      DB{Host: "localhost", Port: 3306, User: "vt", UnixSocket: "/tmp/mysql.sock"},
		VSchema: `{"sharded":true}`,
	})
	require.NoError(t, err)
	assert.Equal(t, "vtcombo-alice", cfg.Name)
	assert.True(t, cfg.RPC)
	assert.Equal(t, filepath.Join("/tmp/run", "logs"), cfg.LogDir)

	v, ok := argValue(cfg.Args, "-topology")
	assert.True(t, ok)
	assert.Equal(t, Topology(shards), v)
	v, _ = argValue(cfg.Args, "-db-config-app-charset")
	assert.Equal(t, "utf8", v)
	v, _ = argValue(cfg.Args, "-mycnf_socket_file")
	assert.Equal(t, "/tmp/mysql.sock", v)
	v, _ = argValue(cfg.Args, "-queryserver-config-pool-size")
	assert.Equal(t, "4", v)
	assert.Equal(t, "-vschema", cfg.Args[len(cfg.Args)-2])

	_, err = Combo(ComboOptions{Binary: "x"})
	assert.Error(t, err)
}

func TestTablet(t *testing.T) {
	cfg, err := Tablet(TabletOptions{Binary: "vttablet", Dir: "/r", UID: 62344, Keyspace: "ks", Shard: "0"})
	require.NoError(t, err)
	assert.Equal(t, "vttablet-62344", cfg.Name)
	assert.Equal(t, "test-0000062344", cfg.Alias)
	assert.Equal(t, "SERVING", cfg.WaitState)

	v, _ := argValue(cfg.Args, "-init_tablet_type")
	assert.Equal(t, "replica", v)
	v, _ = argValue(cfg.Args, "-pid_file")
	assert.Equal(t, filepath.Join("/r", "logs", "vttablet-62344.pid"), v)

	_, err = Tablet(TabletOptions{Binary: "vttablet"})
	assert.Error(t, err)
}
