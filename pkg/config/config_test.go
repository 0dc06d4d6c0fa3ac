package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v2"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(p, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	p := writeFile(t, "sdb.yml", `
listen: "0.0.0.0:7000"
broadcast: false
wait-timeout: 5s
max-string-len: 10
aliases:
  bt: [where]
auth:
  enabled: true
  username: admin
  password: pw
`)
	c, err := LoadConfig(p)
	if err != nil {
		t.Fatal(err)
	}
	if c.Listen != "0.0.0.0:7000" || c.Broadcast || c.WaitTimeout.D() != 5*time.Second || c.MaxStringLen != 10 {
		t.Fatalf("unexpected config %+v", c)
	}
	if c.PollInterval.D() != 10*time.Millisecond || c.SourceListLineCount != 5 {
		t.Fatalf("defaults lost: %+v", c)
	}
	if len(c.Aliases["bt"]) != 1 || c.Aliases["bt"][0] != "where" {
		t.Fatalf("unexpected aliases %v", c.Aliases)
	}
	if !c.Auth.Enabled || c.Auth.Username != "admin" {
		t.Fatalf("unexpected auth %+v", c.Auth)
	}
}

func TestLoadTOML(t *testing.T) {
	p := writeFile(t, "sdb.toml", `
listen = "127.0.0.1:7001"
ping-interval = "2s"
max-array-values = 3

[aliases]
ps = ["tasks"]
`)
	c, err := LoadConfig(p)
	if err != nil {
		t.Fatal(err)
	}
	if c.Listen != "127.0.0.1:7001" || c.PingInterval.D() != 2*time.Second || c.MaxArrayValues != 3 {
		t.Fatalf("unexpected config %+v", c)
	}
	if !c.Broadcast {
		t.Fatal("broadcast default lost")
	}
	if c.Aliases["ps"][0] != "tasks" {
		t.Fatalf("unexpected aliases %v", c.Aliases)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := LoadConfig(writeFile(t, "sdb.json", "{}")); err == nil || !strings.Contains(err.Error(), "unsupported") {
		t.Fatalf("expected unsupported format error, got %v", err)
	}
	if _, err := LoadConfig(writeFile(t, "sdb.yml", "wait-timeout: soon\n")); err == nil {
		t.Fatal("expected decode error")
	}
	if _, err := LoadConfig(writeFile(t, "sdb.yml", "tls:\n  enabled: true\n")); err == nil {
		t.Fatal("expected validation error")
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yml")); err == nil {
		t.Fatal("expected open error")
	}
}

func TestEnvOverrides(t *testing.T) {
	p := writeFile(t, "sdb.yml", "listen: \"127.0.0.1:1\"\nauth:\n  username: file\n")
	t.Setenv(EnvEnableBasic, "true")
	t.Setenv(EnvBasicUsername, "env")
	t.Setenv(EnvBasicPassword, "secret")
	t.Setenv(EnvListen, "127.0.0.1:2")
	c, err := LoadConfig(p)
	if err != nil {
		t.Fatal(err)
	}
	if !c.Auth.Enabled || c.Auth.Username != "env" || c.Auth.Password != "secret" || c.Listen != "127.0.0.1:2" {
		t.Fatalf("environment did not override the file: %+v", c)
	}

	t.Setenv(EnvEnableBasic, "maybe")
	if _, err := LoadConfig(p); err == nil {
		t.Fatal("expected error for a bad ENABLE_BASIC")
	}
}

func TestDefaultConfigFile(t *testing.T) {
	c := Default()
	if err := yaml.Unmarshal([]byte(DefaultConfigFile()), c); err != nil {
		t.Fatal(err)
	}
	if c.Listen != DefaultListen || c.WaitTimeout.D() != time.Minute {
		t.Fatalf("the template must not change the defaults: %+v", c)
	}
	if err := c.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestRedacted(t *testing.T) {
	c := Default()
	c.Auth.Password = "secret"
	c.Aliases = map[string][]string{"bt": {"where"}}
	r := c.Redacted()
	if r.Auth.Password == "secret" || c.Auth.Password != "secret" {
		t.Fatal("password not redacted on the copy only")
	}
	r.Aliases["bt"][0] = "x"
	if c.Aliases["bt"][0] != "where" {
		t.Fatal("aliases shared with the copy")
	}
}

func TestSaveConfig(t *testing.T) {
	dir := t.TempDir()
	c := Default()
	c.Listen = "127.0.0.1:3"
	c.WaitTimeout = Duration(3 * time.Second)
	for _, name := range []string{"a.yml", "a.toml"} {
		p := filepath.Join(dir, name)
		if err := SaveConfig(c, p); err != nil {
			t.Fatal(err)
		}
		got, err := LoadConfig(p)
		if err != nil {
			t.Fatal(err)
		}
		if got.Listen != c.Listen || got.WaitTimeout != c.WaitTimeout {
			t.Fatalf("%s: unexpected config %+v", name, got)
		}
	}
}
