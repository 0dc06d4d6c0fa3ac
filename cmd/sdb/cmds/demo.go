package cmds

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/go-delve/sdb/pkg/config"
	"github.com/go-delve/sdb/pkg/coro"
	"github.com/go-delve/sdb/pkg/introspect"
	"github.com/go-delve/sdb/pkg/logflags"
	"github.com/go-delve/sdb/pkg/terminal"
	"github.com/go-delve/sdb/service/api"
	"github.com/go-delve/sdb/service/console"
	"github.com/go-delve/sdb/service/debugger"
)

func demoCmd(cmd *cobra.Command, args []string) {
	os.Exit(runDemo(cmd))
}

func runDemo(cmd *cobra.Command) int {
	if err := logflags.Setup(log, logOutput, logDest); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer logflags.Close()

	conf, err := loadConfig(cmd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	listener, err := net.Listen("tcp", conf.Listen)
	if err != nil {
		fmt.Fprintf(os.Stderr, "couldn't start listener: %s\n", err)
		return 1
	}

	sched := coro.NewScheduler()
	dbg := debugger.New(sched, debuggerConfig(conf))
	reg := introspect.NewRegistry()
	app, err := newDemoApp(sched, reg, time.Second)
	if err != nil {
		listener.Close()
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	reg.AddRoutes(consoleRoute(conf))
	reg.SetConfig(func() interface{} { return conf.Redacted() })

	server := console.NewServer(dbg, consoleConfig(conf, listener, reg))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(server.Run)
	g.Go(func() error {
		return app.run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		dbg.Detach()
		return server.Stop()
	})

	if logDest == "" {
		fmt.Printf("Console listening at: %s\n", listener.Addr())
	} else {
		logflags.DemoLogger().Infof("console listening at: %s", listener.Addr())
	}
	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	return 0
}

func debuggerConfig(conf *config.Config) *debugger.Config {
	return &debugger.Config{
		WaitTimeout:  conf.WaitTimeout.D(),
		PollInterval: conf.PollInterval.D(),
		LoadConfig: api.LoadConfig{
			MaxVariableRecurse: conf.MaxVariableRecurse,
			MaxStringLen:       conf.MaxStringLen,
			MaxArrayValues:     conf.MaxArrayValues,
			MaxStructFields:    conf.MaxStructFields,
		},
	}
}

func consoleConfig(conf *config.Config, l net.Listener, reg *introspect.Registry) *console.Config {
	c := &console.Config{
		Listener:      l,
		Listen:        conf.Listen,
		BasicAuth:     conf.Auth.Enabled,
		Username:      conf.Auth.Username,
		Password:      conf.Auth.Password,
		Broadcast:     conf.Broadcast,
		PingInterval:  conf.PingInterval.D(),
		AcceptBackoff: conf.AcceptBackoff.D(),
		Session: &terminal.Config{
			SourceListLineCount: conf.SourceListLineCount,
			Sources:             terminal.NewSourceCache(conf.SourceCacheSize),
			Introspect:          reg,
			Aliases:             conf.Aliases,
		},
	}
	if conf.TLS.Enabled {
		c.CertFile, c.KeyFile, c.CAFile = conf.TLS.CertFile, conf.TLS.KeyFile, conf.TLS.CAFile
	}
	return c
}

func consoleRoute(conf *config.Config) introspect.Route {
	r := introspect.Route{
		Server:  "console",
		Method:  "GET",
		Path:    "/",
		Handler: "console.(*Server).ServeHTTP",
	}
	if conf.Auth.Enabled {
		r.Middleware = append(r.Middleware, "basicAuth")
	}
	return r
}

// demoApp is the workload served by 'sdb demo'. Order workers take fake
// connections from two pools and bind their state at checkpoints so that
// there is something to step through.
type demoApp struct {
	sched *coro.Scheduler
	reg   *introspect.Registry
	cron  *cron.Cron
	mysql *chanPool
	redis *chanPool
	tick  time.Duration
	log   logflags.Logger

	mu  sync.Mutex
	ctx context.Context
}

type demoJob struct {
	introspect.CronJob
	fn coro.TaskFunc
}

func newDemoApp(sched *coro.Scheduler, reg *introspect.Registry, tick time.Duration) (*demoApp, error) {
	a := &demoApp{
		sched: sched,
		reg:   reg,
		mysql: newChanPool(4),
		redis: newChanPool(2),
		tick:  tick,
		log:   logflags.DemoLogger(),
		ctx:   context.Background(),
	}
	a.cron = cron.New(cron.WithParser(introspect.CronParser), cron.WithLogger(cron.PrintfLogger(a.log)))
	reg.AddPool("mysql", "default", a.mysql)
	reg.AddPool("redis", "default", a.redis)

	jobs := []demoJob{
		{
			CronJob: introspect.CronJob{
				Name:         "report",
				Rule:         "*/30 * * * * *",
				Callback:     "cmds.(*demoApp).report",
				Enable:       true,
				Memo:         "sum the totals of recent orders",
				Options:      map[string]interface{}{"limit": 100},
				Environments: []string{"dev", "test"},
			},
			fn: a.report,
		},
		{
			CronJob: introspect.CronJob{
				Name:     "shrink-pools",
				Rule:     "@hourly",
				Callback: "cmds.(*demoApp).shrinkPools",
				Enable:   true,
				Memo:     "close idle connections",
				Timezone: "UTC",
			},
			fn: a.shrinkPools,
		},
		{
			CronJob: introspect.CronJob{
				Name:     "rebuild-index",
				Rule:     "0 3 * * *",
				Callback: "cmds.(*demoApp).rebuildIndex",
				Memo:     "disabled",
			},
		},
	}
	for _, job := range jobs {
		if err := reg.AddCronJob(job.CronJob); err != nil {
			return nil, err
		}
		if !job.Enable || job.fn == nil {
			continue
		}
		spec := job.Rule
		if job.Timezone != "" {
			spec = "CRON_TZ=" + job.Timezone + " " + spec
		}
		if _, err := a.cron.AddFunc(spec, a.spawner("cron:"+job.Name, job.fn)); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// spawner returns a cron callback that runs fn as a new task.
func (a *demoApp) spawner(name string, fn coro.TaskFunc) func() {
	return func() {
		a.mu.Lock()
		ctx := a.ctx
		a.mu.Unlock()
		if ctx.Err() != nil {
			return
		}
		t := a.sched.Go(ctx, name, fn)
		a.log.WithField("task", t.ID()).Debugf("cron started %s", name)
	}
}

// run starts the workers and the cron scheduler and stops the cron
// scheduler when ctx is done. Tasks started by run end with ctx.
func (a *demoApp) run(ctx context.Context) error {
	a.mu.Lock()
	a.ctx = ctx
	a.mu.Unlock()
	for i := 0; i < 2; i++ {
		a.sched.Go(ctx, "order-worker", a.orderWorker)
	}
	a.cron.Start()
	<-ctx.Done()
	<-a.cron.Stop().Done()
	return nil
}

func (a *demoApp) orderWorker(ctx context.Context, t *coro.Task) error {
	for n := 1; ; n++ {
		if err := t.Checkpoint(coro.V("n", n)); err != nil {
			return err
		}
		if err := a.handleOrder(ctx, t, n); err != nil {
			return err
		}
		if err := t.Sleep(a.tick); err != nil {
			return err
		}
	}
}

func (a *demoApp) handleOrder(ctx context.Context, t *coro.Task, n int) error {
	conn, err := a.mysql.get(ctx, t)
	if err != nil {
		return err
	}
	defer a.mysql.put(conn)
	price := 10 + n%7
	qty := n%3 + 1
	total := price * qty
	if err := t.Checkpoint(coro.V("order", n), coro.V("conn", conn), coro.V("total", total)); err != nil {
		return err
	}
	return a.cacheOrder(ctx, t, n, total)
}

func (a *demoApp) cacheOrder(ctx context.Context, t *coro.Task, n, total int) error {
	conn, err := a.redis.get(ctx, t)
	if err != nil {
		return err
	}
	defer a.redis.put(conn)
	key := fmt.Sprintf("order:%d", n)
	return t.Checkpoint(coro.V("key", key), coro.V("value", total), coro.V("conn", conn))
}

func (a *demoApp) report(ctx context.Context, t *coro.Task) error {
	conn, err := a.mysql.get(ctx, t)
	if err != nil {
		return err
	}
	defer a.mysql.put(conn)
	stats, err := a.reg.PoolStats(introspect.DefaultPoolKind)
	if err != nil {
		return err
	}
	if err := t.Checkpoint(coro.V("stats", stats)); err != nil {
		return err
	}
	a.log.Debugf("report: %d pools", len(stats))
	return nil
}

func (a *demoApp) shrinkPools(ctx context.Context, t *coro.Task) error {
	closed := a.mysql.shrink() + a.redis.shrink()
	a.log.Debugf("closed %d idle connections", closed)
	return t.Checkpoint(coro.V("closed", closed))
}

// chanPool is a bounded pool of fake connections. Idle connections wait in
// a channel.
type chanPool struct {
	mu     sync.Mutex
	max    int
	opened int
	nextID int
	idle   chan int
}

func newChanPool(max int) *chanPool {
	return &chanPool{max: max, idle: make(chan int, max)}
}

func (p *chanPool) CurrentConnections() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.opened
}

func (p *chanPool) ConnectionsInChannel() int {
	return len(p.idle)
}

// get returns an idle connection, opens a new one if the pool is not full
// or waits for one to be put back. The wait is a blocking operation of t.
func (p *chanPool) get(ctx context.Context, t *coro.Task) (int, error) {
	var conn int
	err := t.Block(func() error {
		select {
		case conn = <-p.idle:
			return nil
		default:
		}
		p.mu.Lock()
		if p.opened < p.max {
			p.opened++
			p.nextID++
			conn = p.nextID
			p.mu.Unlock()
			return nil
		}
		p.mu.Unlock()
		select {
		case conn = <-p.idle:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
	return conn, err
}

func (p *chanPool) put(conn int) {
	p.idle <- conn
}

// shrink closes every idle connection and returns how many were closed.
func (p *chanPool) shrink() int {
	n := 0
	for {
		select {
		case <-p.idle:
			p.mu.Lock()
			p.opened--
			p.mu.Unlock()
			n++
		default:
			return n
		}
	}
}
