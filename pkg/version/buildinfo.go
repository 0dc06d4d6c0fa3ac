package version

import (
	"fmt"
	"io"
	"runtime"
	"runtime/debug"
	"strings"
)

// BuildInfo describes the toolchain and the modules sdb was linked with, one
// module per line. Replaced modules show their replacement.
func BuildInfo() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return runtime.Version() + "\nnot built in module mode\n"
	}
	var buf strings.Builder
	fmt.Fprintf(&buf, "%s\n", runtime.Version())
	writeModules(&buf, info)
	return buf.String()
}

func writeModules(w io.Writer, info *debug.BuildInfo) {
	fmt.Fprintf(w, " mod\t%s\t%s\n", info.Main.Path, moduleVersion(&info.Main))
	for _, dep := range info.Deps {
		fmt.Fprintf(w, " dep\t%s\t%s", dep.Path, moduleVersion(dep))
		if dep.Replace != nil {
			fmt.Fprintf(w, "\t=> %s\t%s", dep.Replace.Path, moduleVersion(dep.Replace))
		}
		fmt.Fprintln(w)
	}
}

func moduleVersion(m *debug.Module) string {
	if m.Version == "" {
		return "(devel)"
	}
	return m.Version
}
