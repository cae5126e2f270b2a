package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loykin/fixturectl/internal/process"
)

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "fixture.toml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoad_PlainProcesses(t *testing.T) {
	p := writeTOML(t, `
[run]
log_dir = "/tmp/fx"
port_base = 20000
parallel = true
start_timeout = "5s"

[[processes]]
name = "shard-0"
binary = "/usr/bin/vttablet"
args = ["-enable_semi_sync"]
rpc = true
wait_state = "SERVING"
start_retries = 2

[processes.health]
ready_pattern = "NOT_SERVING|SERVING"

[[processes]]
name = "router"
binary = "/usr/bin/vtgate"
start_timeout = "30s"
`)
	fc, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if fc.Run.PortBase != 20000 || !fc.Run.Parallel || fc.Run.LogDir != "/tmp/fx" {
		t.Fatalf("unexpected run config: %#v", fc.Run)
	}
	if fc.Run.StartRetries != process.DefaultStartRetries {
		t.Fatalf("default retries not applied: %d", fc.Run.StartRetries)
	}

	cfgs, err := fc.ProcessConfigs()
	if err != nil {
		t.Fatalf("ProcessConfigs: %v", err)
	}
	if len(cfgs) != 2 {
		t.Fatalf("want 2 processes, got %d", len(cfgs))
	}
	shard := cfgs[0]
	if !shard.RPC || shard.WaitState != "SERVING" || shard.StartRetries != 2 {
		t.Fatalf("unexpected shard config: %#v", shard)
	}
	if shard.Health.ReadyPattern != "NOT_SERVING|SERVING" {
		t.Fatalf("ready pattern not decoded: %q", shard.Health.ReadyPattern)
	}
	if shard.StartTimeout != 5*time.Second {
		t.Fatalf("run start_timeout not inherited: %v", shard.StartTimeout)
	}
	if shard.LogDir != filepath.Join("/tmp/fx", "shard-0") {
		t.Fatalf("log dir: %q", shard.LogDir)
	}
	if cfgs[1].StartTimeout != 30*time.Second {
		t.Fatalf("per-process start_timeout lost: %v", cfgs[1].StartTimeout)
	}
}

func TestLoad_Profiles(t *testing.T) {
	p := writeTOML(t, `
[[processes]]
profile = "combo"
start_retries = 3
args = ["-extra"]

[processes.combo]
binary = "/usr/bin/vtcombo"
dir = "/tmp/combo"
vschema = "{}"

[[processes.combo.shards]]
keyspace = "ks"
name = "0"
db_name = "vt_ks_0"

[processes.combo.db]
host = "localhost"
port = 3306
user = "vt_app"
unix_socket = "/tmp/mysql.sock"

[[processes]]
profile = "tablet"

[processes.tablet]
binary = "/usr/bin/vttablet"
uid = 100
keyspace = "ks"
shard = "0"
`)
	fc, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	cfgs, err := fc.ProcessConfigs()
	if err != nil {
		t.Fatalf("ProcessConfigs: %v", err)
	}
	combo := cfgs[0]
	if !strings.HasPrefix(combo.Name, "vtcombo-") || !combo.RPC || combo.StartRetries != 3 {
		t.Fatalf("unexpected combo: %#v", combo)
	}
	if combo.Args[len(combo.Args)-1] != "-extra" {
		t.Fatalf("explicit args should follow profile args: %v", combo.Args)
	}
	joined := strings.Join(combo.Args, " ")
	if !strings.Contains(joined, "-topology ks/0:vt_ks_0") || !strings.Contains(joined, "-vschema {}") {
		t.Fatalf("combo args: %s", joined)
	}
	if cfgs[1].Name != "vttablet-100" || cfgs[1].WaitState != "SERVING" {
		t.Fatalf("unexpected tablet: %#v", cfgs[1])
	}
}

func TestProcessConfigs_Errors(t *testing.T) {
	p := writeTOML(t, `
[[processes]]
name = "a"
binary = "x"

[[processes]]
name = "a"
binary = "y"

[[processes]]
profile = "combo"

[[processes]]
profile = "mystery"
`)
	fc, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	_, err = fc.ProcessConfigs()
	if err == nil {
		t.Fatal("expected errors")
	}
	for _, want := range []string{"duplicate name", "requires a [combo] table", "unknown profile"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("FIXTURECTL_RUN_LOG_DIR", "/from/env")
	t.Setenv("FIXTURECTL_RUN_HISTORY_DSN", "sqlite://:memory:")
	fc, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if fc.Run.LogDir != "/from/env" || fc.Run.HistoryDSN != "sqlite://:memory:" {
		t.Fatalf("env override not applied: %#v", fc.Run)
	}
	if fc.Log.Level != "info" {
		t.Fatalf("log default: %q", fc.Log.Level)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestGlobalEnv(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, "a.env")
	if err := os.WriteFile(envFile, []byte("# comment\nA=1\n\nB = two\nbroken\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	fc := &File{EnvFiles: []string{envFile}, Env: []string{"A=override"}}
	got, err := fc.GlobalEnv()
	if err != nil {
		t.Fatalf("GlobalEnv: %v", err)
	}
	want := []string{"A=1", "B=two", "A=override"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("got %v want %v", got, want)
	}

	fc.EnvFiles = []string{filepath.Join(dir, "missing.env")}
	if _, err := fc.GlobalEnv(); err == nil {
		t.Fatal("expected error for missing env file")
	}
}
