package version

import (
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/Masterminds/semver/v3"
)

// Version represents the current version of sdb.
type Version struct {
	Major    string
	Minor    string
	Patch    string
	Metadata string
	Build    string
}

// SdbVersion is the current version of sdb.
var SdbVersion = Version{
	Major: "0", Minor: "3", Patch: "0", Metadata: "",
	Build: "$Id$",
}

// Semver returns the version in semver form, without the build.
func (v Version) Semver() string {
	ver := fmt.Sprintf("%s.%s.%s", v.Major, v.Minor, v.Patch)
	if v.Metadata != "" {
		ver += "-" + v.Metadata
	}
	return ver
}

func (v Version) String() string {
	fixBuild(&v)
	return fmt.Sprintf("Version: %s\nBuild: %s", v.Semver(), v.Build)
}

// CheckCompatible returns an error if a client of version v can not talk
// to a server reporting remote. Versions are compatible when they share the
// major version, and for 0.x versions the minor version too.
func (v Version) CheckCompatible(remote string) error {
	rv, err := semver.NewVersion(remote)
	if err != nil {
		return fmt.Errorf("invalid server version %q: %v", remote, err)
	}
	lv, err := semver.NewVersion(v.Semver())
	if err != nil {
		return err
	}
	rule := fmt.Sprintf("%d.x", lv.Major())
	if lv.Major() == 0 {
		rule = fmt.Sprintf("0.%d.x", lv.Minor())
	}
	c, err := semver.NewConstraint(rule)
	if err != nil {
		return err
	}
	// constraints never match prereleases
	release, err := rv.SetPrerelease("")
	if err != nil {
		return err
	}
	if !c.Check(&release) {
		return fmt.Errorf("server version %s is not compatible with client version %s", rv, lv)
	}
	return nil
}

func fixBuild(v *Version) {
	// Return if v.Build already set, but not if it is Git ident expand file blob hash
	if !strings.HasPrefix(v.Build, "$Id$") {
		return
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" {
			v.Build = setting.Value
			return
		}
	}
}
