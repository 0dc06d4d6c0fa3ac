package version

import (
	"runtime"
	"runtime/debug"
	"strings"
	"testing"
)

func TestCheckCompatible(t *testing.T) {
	v := Version{Major: "0", Minor: "3", Patch: "1"}
	tests := []struct {
		remote string
		ok     bool
	}{
		{"0.3.0", true},
		{"0.3.9", true},
		{"0.3.2-rc1", true},
		{"0.4.0", false},
		{"1.3.1", false},
		{"garbage", false},
	}
	for _, tt := range tests {
		err := v.CheckCompatible(tt.remote)
		if (err == nil) != tt.ok {
			t.Errorf("CheckCompatible(%q) = %v", tt.remote, err)
		}
	}

	v1 := Version{Major: "1", Minor: "2", Patch: "0"}
	if err := v1.CheckCompatible("1.0.0"); err != nil {
		t.Errorf("same major rejected: %v", err)
	}
}

func TestSemver(t *testing.T) {
	v := Version{Major: "1", Minor: "2", Patch: "3", Metadata: "dev", Build: "abc"}
	if v.Semver() != "1.2.3-dev" {
		t.Fatalf("unexpected semver %q", v.Semver())
	}
	if s := v.String(); !strings.Contains(s, "1.2.3-dev") || !strings.Contains(s, "Build: abc") {
		t.Fatalf("unexpected string %q", s)
	}
}

func TestWriteModules(t *testing.T) {
	info := &debug.BuildInfo{
		Main: debug.Module{Path: "github.com/go-delve/sdb"},
		Deps: []*debug.Module{
			{Path: "github.com/gorilla/websocket", Version: "v1.5.3"},
			{Path: "go.starlark.net", Version: "v0.0.0-1", Replace: &debug.Module{Path: "../starlark"}},
		},
	}
	var buf strings.Builder
	writeModules(&buf, info)
	want := " mod\tgithub.com/go-delve/sdb\t(devel)\n" +
		" dep\tgithub.com/gorilla/websocket\tv1.5.3\n" +
		" dep\tgo.starlark.net\tv0.0.0-1\t=> ../starlark\t(devel)\n"
	if buf.String() != want {
		t.Fatalf("got %q, want %q", buf.String(), want)
	}
	if !strings.HasPrefix(BuildInfo(), runtime.Version()+"\n") {
		t.Fatalf("build info does not start with the toolchain: %q", BuildInfo())
	}
}
