// Package introspect holds the read-only views of the host application
// that the console can dump: connection pools, the route table, scheduled
// jobs and the configuration.
//
// All dumps are JSON. The host registers what it has, a Registry with
// nothing registered answers every query with an error.
package introspect

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/tidwall/pretty"
)

const (
	// DefaultPoolKind and DefaultPoolName are used by the pool command
	// when its argument omits them.
	DefaultPoolKind = "mysql"
	DefaultPoolName = "default"

	nextRunLayout = "2006-01-02 15:04:05"
)

// Pool is a connection pool of the host application.
type Pool interface {
	// CurrentConnections is the number of connections opened by the pool.
	CurrentConnections() int
	// ConnectionsInChannel is the number of idle connections ready to be
	// handed out.
	ConnectionsInChannel() int
}

// PoolStats is one entry of the pool dump.
type PoolStats struct {
	Pool                 string `json:"pool"`
	PoolName             string `json:"poolName"`
	CurrentConnections   int    `json:"currentConnections"`
	ConnectionsInChannel int    `json:"connectionsInChannel"`
}

// Route is one entry of the route table.
type Route struct {
	Server     string   `json:"server,omitempty"`
	Method     string   `json:"method"`
	Path       string   `json:"path"`
	Handler    string   `json:"handler"`
	Middleware []string `json:"middleware,omitempty"`
}

// CronJob is a scheduled job of the host application.
type CronJob struct {
	Name         string                 `json:"name"`
	Rule         string                 `json:"rule"`
	Callback     string                 `json:"callback"`
	Enable       bool                   `json:"enable"`
	Memo         string                 `json:"memo"`
	Options      map[string]interface{} `json:"options"`
	Environments []string               `json:"environments"`
	Timezone     string                 `json:"timezone"`

	schedule cron.Schedule
	loc      *time.Location
}

// cronEntry is a CronJob as dumped by the crontab command.
type cronEntry struct {
	Name         string                 `json:"name"`
	Rule         string                 `json:"rule"`
	NextRunTime  string                 `json:"nextRunTime"`
	Callback     string                 `json:"callback"`
	Enable       bool                   `json:"enable"`
	Memo         string                 `json:"memo"`
	Options      map[string]interface{} `json:"options"`
	Environments []string               `json:"environments"`
	Timezone     string                 `json:"timezone"`
}

// CronParser accepts standard five field rules, rules with a leading
// seconds field and descriptors such as @hourly.
var CronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Registry collects the introspection sources of the host application.
// It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	pools  map[string]map[string]Pool
	routes []Route
	jobs   []*CronJob
	config func() interface{}
	now    func() time.Time
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		pools: make(map[string]map[string]Pool),
		now:   time.Now,
	}
}

// AddPool registers p as the pool name of the given kind ("mysql",
// "redis", ...).
func (r *Registry) AddPool(kind, name string, p Pool) {
	kind = strings.ToLower(kind)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pools[kind] == nil {
		r.pools[kind] = make(map[string]Pool)
	}
	r.pools[kind][name] = p
}

// AddRoutes appends routes to the route table.
func (r *Registry) AddRoutes(routes ...Route) {
	r.mu.Lock()
	r.routes = append(r.routes, routes...)
	r.mu.Unlock()
}

// AddCronJob registers job. Its rule and timezone are checked here so
// that the crontab dump never fails.
func (r *Registry) AddCronJob(job CronJob) error {
	sched, err := CronParser.Parse(job.Rule)
	if err != nil {
		return fmt.Errorf("crontab %s: invalid rule %q: %w", job.Name, job.Rule, err)
	}
	loc := time.Local
	if job.Timezone != "" {
		if loc, err = time.LoadLocation(job.Timezone); err != nil {
			return fmt.Errorf("crontab %s: %w", job.Name, err)
		}
	}
	job.schedule, job.loc = sched, loc
	r.mu.Lock()
	r.jobs = append(r.jobs, &job)
	r.mu.Unlock()
	return nil
}

// SetConfig sets the function returning the configuration snapshot.
func (r *Registry) SetConfig(fn func() interface{}) {
	r.mu.Lock()
	r.config = fn
	r.mu.Unlock()
}

// ParsePoolArg splits a pool command argument of the form kind:name.
// Missing parts default to mysql and default.
func ParsePoolArg(arg string) (kind, name string) {
	kind, name = DefaultPoolKind, DefaultPoolName
	if arg == "" {
		return
	}
	k, n, found := strings.Cut(arg, ":")
	if k != "" {
		kind = strings.ToLower(k)
	}
	if found && n != "" {
		name = n
	}
	return
}

// PoolStats returns the statistics of the pool designated by arg.
func (r *Registry) PoolStats(arg string) ([]PoolStats, error) {
	kind, name := ParsePoolArg(arg)
	r.mu.RLock()
	p, ok := r.pools[kind][name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("Pool %s:%s not found, usage: pool redis:default, pool mysql:mysql1", kind, name)
	}
	return []PoolStats{{
		Pool:                 kind,
		PoolName:             name,
		CurrentConnections:   p.CurrentConnections(),
		ConnectionsInChannel: p.ConnectionsInChannel(),
	}}, nil
}

// Routes returns the route table sorted by path then method.
func (r *Registry) Routes() []Route {
	r.mu.RLock()
	routes := append([]Route(nil), r.routes...)
	r.mu.RUnlock()
	sort.SliceStable(routes, func(i, j int) bool {
		if routes[i].Path != routes[j].Path {
			return routes[i].Path < routes[j].Path
		}
		return routes[i].Method < routes[j].Method
	})
	return routes
}

// NextRun returns the first time after now at which job runs, in the
// timezone of the job.
func (job *CronJob) NextRun(now time.Time) time.Time {
	return job.schedule.Next(now.In(job.loc))
}

func (r *Registry) crontab() []cronEntry {
	r.mu.RLock()
	jobs := append([]*CronJob(nil), r.jobs...)
	now := r.now()
	r.mu.RUnlock()
	entries := make([]cronEntry, 0, len(jobs))
	for _, job := range jobs {
		entries = append(entries, cronEntry{
			Name:         job.Name,
			Rule:         job.Rule,
			NextRunTime:  job.NextRun(now).Format(nextRunLayout),
			Callback:     job.Callback,
			Enable:       job.Enable,
			Memo:         job.Memo,
			Options:      job.Options,
			Environments: job.Environments,
			Timezone:     job.Timezone,
		})
	}
	return entries
}

// PoolJSON is the output of the pool command.
func (r *Registry) PoolJSON(arg string) (string, error) {
	stats, err := r.PoolStats(arg)
	if err != nil {
		return "", err
	}
	return encode(stats, false)
}

// RoutesJSON is the output of the route command.
func (r *Registry) RoutesJSON() (string, error) {
	return encode(r.Routes(), false)
}

// CrontabJSON is the output of the crontab command.
func (r *Registry) CrontabJSON() (string, error) {
	return encode(r.crontab(), false)
}

// ConfigJSON is the output of the config command, indented.
func (r *Registry) ConfigJSON() (string, error) {
	r.mu.RLock()
	fn := r.config
	r.mu.RUnlock()
	if fn == nil {
		return "", fmt.Errorf("No configuration available")
	}
	return encode(fn(), true)
}

func encode(v interface{}, indent bool) (string, error) {
	buf, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	if indent {
		buf = pretty.PrettyOptions(buf, &pretty.Options{Width: 80, Indent: "    "})
	}
	return strings.TrimSuffix(string(buf), "\n"), nil
}

// Colorize adds terminal colors to a JSON dump.
func Colorize(s string) string {
	return string(pretty.Color([]byte(s), nil))
}
