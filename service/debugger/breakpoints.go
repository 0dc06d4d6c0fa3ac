package debugger

import (
	"strconv"
	"strings"
	"sync"

	"github.com/go-delve/sdb/pkg/coro"
)

// breakpoints is the global list of break locations. It only grows.
type breakpoints struct {
	mu   sync.RWMutex
	locs []string
}

func (b *breakpoints) add(loc string) {
	b.mu.Lock()
	b.locs = append(b.locs, loc)
	b.mu.Unlock()
}

func (b *breakpoints) list() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	r := make([]string, len(b.locs))
	copy(r, b.locs)
	return r
}

func (b *breakpoints) empty() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.locs) == 0
}

// match returns the first location that matches f.
func (b *breakpoints) match(f coro.Frame) (string, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, loc := range b.locs {
		if locationMatches(loc, f) {
			return loc, true
		}
	}
	return "", false
}

// locationMatches reports whether loc designates frame f. A location is
// either a function name (fully qualified, without the import path or
// bare) or file:line, where file may be a suffix of the path.
func locationMatches(loc string, f coro.Frame) bool {
	if i := strings.LastIndex(loc, ":"); i >= 0 {
		if line, err := strconv.Atoi(loc[i+1:]); err == nil {
			file := loc[:i]
			return f.Line == line && (f.File == file || strings.HasSuffix(f.File, "/"+file))
		}
	}
	if loc == f.Function || loc == f.ShortName() {
		return true
	}
	name := f.Function
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return loc == name
}
