// Package daemon wires the configuration store, event bus, scheduler and
// control API into the likod process.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/liko-dev/liko/internal/config"
	configstore "github.com/liko-dev/liko/internal/config/store"
	"github.com/liko-dev/liko/internal/eventbus"
	"github.com/liko-dev/liko/internal/notify"
	"github.com/liko-dev/liko/internal/observability"
	"github.com/liko-dev/liko/internal/pipeline"
	"github.com/liko-dev/liko/internal/procutil"
	daemonruntime "github.com/liko-dev/liko/internal/runtime"
	"github.com/liko-dev/liko/internal/scheduler"
	"github.com/liko-dev/liko/internal/server"
)

const (
	// storeQueryTimeout bounds context deadlines for store lookups during
	// daemon startup and shutdown.
	storeQueryTimeout = 5 * time.Second

	serviceStopTimeout = 10 * time.Second
)

// Options groups dependencies required to construct a Daemon.
type Options struct {
	Store *configstore.Store

	// Binding and Port override the control API listen address. Zero
	// values keep the server defaults.
	Binding string
	Port    int
}

// Daemon is the likod process: scheduler, pipeline and control API bound
// to one instance's configuration store.
type Daemon struct {
	store         *configstore.Store
	eventBus      *eventbus.Bus
	scheduler     *scheduler.Scheduler
	apiServer     *server.APIServer
	serviceHost   *daemonruntime.ServiceHost
	lifecycle     *daemonruntime.Lifecycle
	instancePaths config.InstancePaths

	errMu  sync.Mutex
	runErr error
}

// New creates a daemon bound to the provided configuration store.
func New(opts Options) (*Daemon, error) {
	if opts.Store == nil {
		return nil, errors.New("daemon: configuration store is required")
	}

	paths := config.GetInstancePaths(opts.Store.InstanceName())

	counter := observability.NewEventCounter()
	bus := eventbus.New(eventbus.WithObserver(counter))

	notifier, err := buildNotifier(opts.Store)
	if err != nil {
		return nil, err
	}

	pipe := pipeline.New(opts.Store, bus, pipeline.WithNotifier(notifier))
	sched := scheduler.New(pipe, bus)

	exporter := observability.NewPrometheusExporter(bus, counter)
	exporter.WithScheduler(sched)

	serverOpts := []server.Option{server.WithExporter(exporter)}
	if opts.Binding != "" {
		serverOpts = append(serverOpts, server.WithBinding(opts.Binding))
	}
	if opts.Port != 0 {
		serverOpts = append(serverOpts, server.WithPort(opts.Port))
	}
	apiServer, err := server.New(opts.Store, sched, bus, serverOpts...)
	if err != nil {
		return nil, fmt.Errorf("daemon: create API server: %w", err)
	}

	d := &Daemon{
		store:         opts.Store,
		eventBus:      bus,
		scheduler:     sched,
		apiServer:     apiServer,
		serviceHost:   daemonruntime.NewServiceHost(),
		lifecycle:     daemonruntime.NewLifecycle(),
		instancePaths: paths,
	}

	if err := d.serviceHost.Register("api_server", apiService{apiServer}); err != nil {
		return nil, err
	}
	if err := d.serviceHost.Register("scheduler", schedulerService{sched}); err != nil {
		return nil, err
	}

	return d, nil
}

// buildNotifier constructs the Telegram notification service from the
// global notify token. A missing token yields a disabled notifier.
func buildNotifier(st *configstore.Store) (*notify.Service, error) {
	ctx, cancel := context.WithTimeout(context.Background(), storeQueryTimeout)
	defer cancel()

	token, err := st.Secret(ctx, "", configstore.SecretNotifyToken)
	if err != nil {
		if configstore.IsNotFound(err) {
			log.Printf("[Daemon] notify token not configured, notifications disabled")
			return notify.NewService(nil, log.Default()), nil
		}
		return nil, fmt.Errorf("daemon: load notify token: %w", err)
	}
	return notify.NewService(notify.NewClient(token), log.Default()), nil
}

// Start runs the daemon until Shutdown is called.
func (d *Daemon) Start() error {
	if err := daemonruntime.WritePIDFile(d.instancePaths.Lock, os.Getpid()); err != nil {
		return fmt.Errorf("daemon: write pid file: %w", err)
	}
	defer daemonruntime.RemovePIDFile(d.instancePaths.Lock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := d.serviceHost.Start(ctx); err != nil {
		return fmt.Errorf("daemon: start services: %w", err)
	}

	if err := d.persistListenAddr(ctx); err != nil {
		log.Printf("[Daemon] persist listen address: %v", err)
	}
	d.resumeScheduledSessions(ctx)
	d.watchHostErrors()

	<-d.lifecycle.Done()
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), serviceStopTimeout)
	if err := d.serviceHost.Stop(stopCtx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "daemon: service shutdown error: %v\n", err)
		d.setRunError(err)
	}
	stopCancel()

	d.eventBus.Shutdown()

	if err := d.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "daemon: store close error: %v\n", err)
	}

	return d.getRunError()
}

// Shutdown signals the daemon to stop.
func (d *Daemon) Shutdown() error {
	d.lifecycle.Shutdown()
	return nil
}

// APIServer returns the control API server.
func (d *Daemon) APIServer() *server.APIServer {
	return d.apiServer
}

// Scheduler returns the session scheduler.
func (d *Daemon) Scheduler() *scheduler.Scheduler {
	return d.scheduler
}

// persistListenAddr records the bound control address so the CLI can find
// the daemon.
func (d *Daemon) persistListenAddr(ctx context.Context) error {
	addr := fmt.Sprintf("127.0.0.1:%d", d.apiServer.Port())
	settings := map[string]string{configstore.SettingListenAddr: addr}
	return d.store.SaveSettings(ctx, "", settings)
}

// resumeScheduledSessions restarts schedule loops that were running when
// the daemon last stopped.
func (d *Daemon) resumeScheduledSessions(ctx context.Context) {
	queryCtx, cancel := context.WithTimeout(ctx, storeQueryTimeout)
	defer cancel()

	sessions, err := d.store.Sessions(queryCtx)
	if err != nil {
		log.Printf("[Daemon] list sessions for resume: %v", err)
		return
	}

	for _, session := range sessions {
		enabled, err := d.store.Setting(queryCtx, session.SessionID, configstore.SettingScheduleEnabled, "false")
		if err != nil || enabled != "true" {
			continue
		}
		if err := d.store.ValidateSession(queryCtx, session.SessionID); err != nil {
			log.Printf("[Daemon] session %s marked for schedule but incomplete, skipping: %v", session.SessionID, err)
			continue
		}
		if err := d.scheduler.Start(ctx, session.SessionID); err != nil {
			log.Printf("[Daemon] resume session %s: %v", session.SessionID, err)
			continue
		}
		log.Printf("[Daemon] resumed schedule loop for session %s", session.SessionID)
	}
}

func (d *Daemon) watchHostErrors() {
	go func() {
		for err := range d.serviceHost.Errors() {
			if err == nil {
				continue
			}
			log.Printf("[Daemon] fatal service error: %v", err)
			d.setRunError(err)
			d.lifecycle.Shutdown()
			return
		}
	}()
}

func (d *Daemon) setRunError(err error) {
	if err == nil {
		return
	}
	d.errMu.Lock()
	defer d.errMu.Unlock()
	if d.runErr == nil {
		d.runErr = err
	}
}

func (d *Daemon) getRunError() error {
	d.errMu.Lock()
	defer d.errMu.Unlock()
	return d.runErr
}

// apiService adapts the API server to the runtime Service interface.
type apiService struct {
	server *server.APIServer
}

func (s apiService) Start(ctx context.Context) error {
	return s.server.Start()
}

func (s apiService) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// schedulerService adapts the scheduler to the runtime Service interface.
// The scheduler starts per-session loops on demand, so service start is a
// no-op.
type schedulerService struct {
	scheduler *scheduler.Scheduler
}

func (s schedulerService) Start(ctx context.Context) error {
	return nil
}

func (s schedulerService) Shutdown(ctx context.Context) error {
	s.scheduler.Shutdown(ctx)
	return nil
}

// IsRunning checks if a daemon is already running for the given instance.
func IsRunning(instanceName string) bool {
	paths := config.GetInstancePaths(instanceName)

	pid, err := daemonruntime.ReadPIDFile(paths.Lock)
	if err != nil {
		return false
	}
	if !procutil.IsProcessAlive(pid) {
		os.Remove(paths.Lock)
		return false
	}
	return true
}
