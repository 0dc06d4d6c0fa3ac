package terminal

import (
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/go-delve/sdb/pkg/coro"
	"github.com/go-delve/sdb/pkg/terminal/colorize"
	"github.com/go-delve/sdb/service/api"
)

func digits(n int) int {
	if n <= 0 {
		return 1
	}
	return int(math.Floor(math.Log10(float64(n)))) + 1
}

// formatPath shortens paths below the working directory.
func formatPath(path string) string {
	wd, err := os.Getwd()
	if err != nil {
		return path
	}
	if rel, err := filepath.Rel(wd, path); err == nil && !strings.HasPrefix(rel, "..") {
		return rel
	}
	return path
}

func shortFunction(name string) string {
	if i := strings.LastIndex(name, "/"); i >= 0 {
		return name[i+1:]
	}
	return name
}

func formatLocation(loc api.Location) string {
	if loc.File == "" {
		return "-"
	}
	return fmt.Sprintf("%s:%d %s()", formatPath(loc.File), loc.Line, shortFunction(loc.Function))
}

// printTasks writes a table of tasks, the current task of the session is
// marked with a star.
func (s *Session) printTasks(out io.Writer, tasks []*coro.Task) {
	w := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	fmt.Fprintln(w, "  ID\tStatus\tSwitches\tName\tLocation")
	for _, t := range tasks {
		at := api.ConvertTask(t)
		mark := " "
		if t == s.current {
			mark = "*"
		}
		status := at.Status
		if st := s.dbg.State(at.ID); st.StopRequested && !st.Stopped {
			status += " (stop requested)"
		}
		fmt.Fprintf(w, "%s %d\t%s\t%d\t%s\t%s\n", mark, at.ID, status, at.Switches, at.Name, formatLocation(at.CurrentLoc))
	}
	w.Flush()
}

// printTaskHeader writes the one line summary of t shown above its
// backtrace.
func printTaskHeader(out io.Writer, t *coro.Task) {
	at := api.ConvertTask(t)
	fmt.Fprintf(out, "Coroutine#%d %q (%s, switches: %d, created: %s)\n", at.ID, at.Name, at.Status, at.Switches, t.Created().Format("2006-01-02 15:04:05"))
}

func printStack(out io.Writer, stack []api.Stackframe, selected int) {
	if len(stack) == 0 {
		fmt.Fprintln(out, "(no frames captured yet)")
		return
	}
	d := digits(len(stack) - 1)
	fmtstr := "%s%" + strconv.Itoa(d) + "d  0x%016x in %s\n"
	s := strings.Repeat(" ", d+5)
	for i := range stack {
		mark := "   "
		if i == selected {
			mark = "=> "
		}
		fmt.Fprintf(out, fmtstr, mark, i, stack[i].PC, stack[i].Function)
		fmt.Fprintf(out, "%sat %s:%d\n", s, formatPath(stack[i].File), stack[i].Line)
	}
}

// printSource writes the lines around line of file and moves the list
// cursor after them.
func (s *Session) printSource(out io.Writer, file string, line int) {
	n := s.conf.SourceListLineCount
	src, err := s.conf.Sources.Get(file)
	if err != nil {
		fmt.Fprintf(out, "Source not available: %v\n", err)
		return
	}
	win := colorize.Around(line, n)
	if err := colorize.Print(out, file, src, win, s.colorEscapes); err != nil {
		fmt.Fprintf(out, "Source not available: %v\n", err)
		return
	}
	s.listFile, s.listLine, s.listArrow = file, win.End, line
}
