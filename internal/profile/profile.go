// Package profile builds process configurations for the storage and routing
// binaries a fixture usually runs.
package profile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/loykin/fixturectl/internal/process"
)

// QueryServerParameters keep the query server small for tests.
var QueryServerParameters = []string{
	"-queryserver-config-pool-size", "4",
	"-queryserver-config-query-timeout", "300",
	"-queryserver-config-schema-reload-time", "60",
	"-queryserver-config-stream-pool-size", "4",
	"-queryserver-config-transaction-cap", "4",
	"-queryserver-config-transaction-timeout", "300",
	"-queryserver-config-txpool-timeout", "300",
}

// Shard names one keyspace shard and the database backing it.
type Shard struct {
	Keyspace string `mapstructure:"keyspace" json:"keyspace"`
	Name     string `mapstructure:"name" json:"name"`
	DBName   string `mapstructure:"db_name" json:"db_name"`
}

// Topology formats shards as "ks/shard:db,...".
func Topology(shards []Shard) string {
	parts := make([]string, 0, len(shards))
	for _, s := range shards {
		parts = append(parts, fmt.Sprintf("%s/%s:%s", s.Keyspace, s.Name, s.DBName))
	}
	return strings.Join(parts, ",")
}

// ParseTopology is the inverse of Topology.
func ParseTopology(s string) ([]Shard, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var out []Shard
	for _, part := range strings.Split(s, ",") {
		ksShard, db, ok := strings.Cut(strings.TrimSpace(part), ":")
		if !ok {
			return nil, fmt.Errorf("shard %q: missing database name", part)
		}
		ks, shard, ok := strings.Cut(ksShard, "/")
		if !ok || ks == "" || shard == "" || db == "" {
			return nil, fmt.Errorf("shard %q: want keyspace/shard:db", part)
		}
		out = append(out, Shard{Keyspace: ks, Name: shard, DBName: db})
	}
	return out, nil
}

// DB holds connection parameters for the backing database.
type DB struct {
	Host       string `mapstructure:"host" json:"host"`
	Port       int    `mapstructure:"port" json:"port"`
	User       string `mapstructure:"user" json:"user"`
	Password   string `mapstructure:"password" json:"-"`
	UnixSocket string `mapstructure:"unix_socket" json:"unix_socket"`
	Charset    string `mapstructure:"charset" json:"charset"`
}

func (d DB) appFlags() []string {
	charset := d.Charset
	if charset == "" {
		charset = "utf8"
	}
	return []string{
		"-db-config-app-charset", charset,
		"-db-config-app-host", d.Host,
		"-db-config-app-port", strconv.Itoa(d.Port),
		"-db-config-app-uname", d.User,
		"-db-config-app-pass", d.Password,
		"-db-config-app-unixsocket", d.UnixSocket,
	}
}

// ComboOptions configure a single process serving routing and storage.
type ComboOptions struct {
	Binary    string   `mapstructure:"binary"`
	Dir       string   `mapstructure:"dir"`
	Shards    []Shard  `mapstructure:"shards"`
	DB        DB       `mapstructure:"db"`
	VSchema   string   `mapstructure:"vschema"`
	ExtraArgs []string `mapstructure:"extra_args"`
}

// Combo returns the configuration for a combined routing/storage process.
// It exposes an RPC port and is named after the invoking user so parallel
// users on one host do not collide.
func Combo(o ComboOptions) (process.Config, error) {
	if o.Binary == "" {
		return process.Config{}, errors.New("combo: binary is required")
	}
	if len(o.Shards) == 0 {
		return process.Config{}, errors.New("combo: at least one shard is required")
	}
	args := append(o.DB.appFlags(),
		"-topology", Topology(o.Shards),
		"-mycnf_server_id", "1",
		"-mycnf_socket_file", o.DB.UnixSocket,
	)
	args = append(args, QueryServerParameters...)
	args = append(args, o.ExtraArgs...)
	if o.VSchema != "" {
		args = append(args, "-vschema", o.VSchema)
	}
	return process.Config{
		Name:   "vtcombo-" + currentUser(),
		Alias:  "vtcombo",
		Binary: o.Binary,
		Args:   args,
		LogDir: logDir(o.Dir),
		RPC:    true,
	}, nil
}

// TabletOptions configure one storage shard process.
type TabletOptions struct {
	Binary     string   `mapstructure:"binary"`
	Dir        string   `mapstructure:"dir"`
	Cell       string   `mapstructure:"cell"`
	UID        int      `mapstructure:"uid"`
	Keyspace   string   `mapstructure:"keyspace"`
	Shard      string   `mapstructure:"shard"`
	TabletType string   `mapstructure:"tablet_type"`
	DB         DB       `mapstructure:"db"`
	ExtraArgs  []string `mapstructure:"extra_args"`
}

// TabletAlias is "cell-uid" with the uid zero-padded to ten digits.
func TabletAlias(cell string, uid int) string {
	return fmt.Sprintf("%s-%010d", cell, uid)
}

// Tablet returns the configuration for a storage shard process. Its pid file
// lives next to its logs.
func Tablet(o TabletOptions) (process.Config, error) {
	if o.Binary == "" {
		return process.Config{}, errors.New("tablet: binary is required")
	}
	if o.Keyspace == "" || o.Shard == "" {
		return process.Config{}, errors.New("tablet: keyspace and shard are required")
	}
	if o.Cell == "" {
		o.Cell = "test"
	}
	if o.TabletType == "" {
		o.TabletType = "replica"
	}
	alias := TabletAlias(o.Cell, o.UID)
	dir := logDir(o.Dir)
	pidFile := filepath.Join(dir, fmt.Sprintf("vttablet-%d.pid", o.UID))

	args := []string{
		"-tablet-path", alias,
		"-init_keyspace", o.Keyspace,
		"-init_shard", o.Shard,
		"-init_tablet_type", o.TabletType,
		"-pid_file", pidFile,
	}
	args = append(args, o.DB.appFlags()...)
	args = append(args, QueryServerParameters...)
	args = append(args, o.ExtraArgs...)

	return process.Config{
		Name:      fmt.Sprintf("vttablet-%d", o.UID),
		Alias:     alias,
		Binary:    o.Binary,
		Args:      args,
		LogDir:    dir,
		RPC:       true,
		WaitState: "SERVING",
	}, nil
}

func logDir(dir string) string {
	if dir == "" {
		return ""
	}
	return filepath.Join(dir, "logs")
}

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "fixture"
}
