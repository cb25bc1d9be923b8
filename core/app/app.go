package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/codewandler/dcb-go/core/dcb"
	"github.com/codewandler/dcb-go/core/projection"
)

type Config struct {
	Context context.Context
	Log     *slog.Logger

	// Store is required.
	Store dcb.EventStore
	// Publisher and Subscriber default to one shared in-memory feed.
	Publisher  dcb.EventPublisher
	Subscriber dcb.EventSubscriber
	// Types decodes events read without a payload. Without it projectors
	// see Data only.
	Types *dcb.EventTypes

	TagProjectors []dcb.TagProjector
	HostOptions   []dcb.HostOption
	Metrics       dcb.Metrics

	Projectors []projection.Projector
	// ProjectionOptions defaults to projection.DefaultOptions().
	ProjectionOptions *projection.Options
	ProjectionMetrics projection.Metrics
	Blob              projection.BlobAccessor
	// Snapshots defaults to an in-memory store.
	Snapshots        projection.SnapshotStore
	SnapshotInterval time.Duration
}

type App struct {
	ctx       context.Context
	cancelCtx context.CancelFunc
	log       *slog.Logger
	cfg       Config

	host     *dcb.Host
	executor *dcb.Executor
	feeder   *projection.Feeder
	actors   []*projection.Actor

	wg       sync.WaitGroup
	done     chan struct{}
	stopOnce sync.Once

	mu     sync.Mutex
	runErr error
}

func New(config Config) (app *App, err error) {
	if config.Store == nil {
		return nil, dcb.Errorf(dcb.KindValidation, "app", "store is required")
	}

	// === logger ===
	if config.Log == nil {
		config.Log = slog.Default()
	}

	// === context ===
	if config.Context == nil {
		config.Context = context.Background()
	}

	// === defaults ===
	if config.Metrics == nil {
		config.Metrics = dcb.NopMetrics()
	}
	if config.ProjectionMetrics == nil {
		config.ProjectionMetrics = projection.NopMetrics()
	}
	if config.ProjectionOptions == nil {
		opts := projection.DefaultOptions()
		config.ProjectionOptions = &opts
	}
	if config.Snapshots == nil {
		config.Snapshots = projection.NewInMemorySnapshotStore()
	}
	if config.Publisher == nil && config.Subscriber == nil {
		feed := dcb.NewInMemoryFeed(config.Log)
		config.Publisher, config.Subscriber = feed, feed
	}
	if config.Publisher == nil || config.Subscriber == nil {
		return nil, dcb.Errorf(dcb.KindValidation, "app", "publisher and subscriber must be configured together")
	}

	app = &App{
		log:  config.Log.With(slog.String("component", "app")),
		cfg:  config,
		done: make(chan struct{}),
	}
	app.ctx, app.cancelCtx = context.WithCancel(config.Context)

	// === consistency ===
	hostOpts := []dcb.HostOption{
		dcb.WithHostLogger(config.Log),
		dcb.WithHostMetrics(config.Metrics),
	}
	actorOpts := []projection.Option{
		projection.WithOptions(*config.ProjectionOptions),
		projection.WithBlobAccessor(config.Blob),
		projection.WithLogger(config.Log),
		projection.WithMetrics(config.ProjectionMetrics),
	}
	if config.Types != nil {
		hostOpts = append(hostOpts, dcb.WithHostEventTypes(config.Types))
		actorOpts = append(actorOpts, projection.WithEventTypes(config.Types))
	}
	hostOpts = append(hostOpts, config.HostOptions...)
	app.host = dcb.NewHost(config.Store, dcb.NewTagProjectors(config.TagProjectors...), hostOpts...)
	app.executor = dcb.NewExecutor(
		app.host,
		dcb.WithExecutorLogger(config.Log),
		dcb.WithPublisher(config.Publisher),
	)

	// === projections ===
	app.feeder = projection.NewFeeder(projection.WithFeederLogger(config.Log))
	for _, p := range config.Projectors {
		a, err := projection.NewActor(p, actorOpts...)
		if err != nil {
			app.host.Close()
			return nil, fmt.Errorf("projection %s: %w", p.Name(), err)
		}
		app.feeder.Register(a)
		app.actors = append(app.actors, a)
	}

	app.log.Debug(
		"creating app",
		slog.Int("tag_projectors", len(config.TagProjectors)),
		slog.Int("projectors", len(config.Projectors)),
		slog.Duration("snapshot_interval", config.SnapshotInterval),
	)

	return app, nil
}

func (a *App) Host() *dcb.Host                     { return a.host }
func (a *App) Executor() *dcb.Executor             { return a.executor }
func (a *App) Feeder() *projection.Feeder          { return a.feeder }
func (a *App) Done() <-chan struct{}               { return a.done }
func (a *App) Store() dcb.EventStore               { return a.cfg.Store }
func (a *App) Types() *dcb.EventTypes              { return a.cfg.Types }
func (a *App) Snapshots() projection.SnapshotStore { return a.cfg.Snapshots }

// Projection returns the actor of the named projector.
func (a *App) Projection(name string) (*projection.Actor, bool) {
	return a.feeder.Actor(name)
}

// Err returns the error that stopped the feeder, if any.
func (a *App) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.runErr
}

// Run restores snapshots and starts feeding the projections. It returns
// once the background work is started.
func (a *App) Run() (err error) {
	for _, act := range a.actors {
		name := act.Projector().Name()
		restored, err := act.RestoreFrom(a.ctx, a.cfg.Snapshots)
		if err != nil {
			a.feeder.Close()
			a.host.Close()
			return fmt.Errorf("restore %s: %w", name, err)
		}
		if restored {
			a.log.Info("projection restored", slog.String("projector", name), slog.String("cursor", act.LastSortableID().String()))
		}
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.feeder.Run(a.ctx, a.cfg.Store, a.cfg.Subscriber); err != nil {
			a.log.Error("feeder stopped", slog.Any("error", err))
			a.setErr(err)
			a.cancelCtx()
		}
	}()

	if a.cfg.SnapshotInterval > 0 && len(a.actors) > 0 {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.snapshotLoop(a.ctx, a.cfg.SnapshotInterval)
		}()
	}

	go func() {
		<-a.ctx.Done()
		a.wg.Wait()
		a.shutdown()
		close(a.done)
	}()

	a.log.Info("app started", slog.String("resume_from", a.feeder.ResumePosition().String()))

	return nil
}

func (a *App) setErr(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.runErr == nil {
		a.runErr = err
	}
}

func (a *App) snapshotLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.SaveSnapshots(ctx); err != nil {
				a.log.Warn("snapshot failed", slog.Any("error", err))
			}
		}
	}
}

// SaveSnapshots writes the safe state of every projection to the snapshot
// store. A failing projection does not keep the others from being saved.
func (a *App) SaveSnapshots(ctx context.Context) error {
	var errs []error
	for _, act := range a.actors {
		name := act.Projector().Name()
		rec, err := act.BuildSnapshotRecord(ctx)
		if err == nil {
			err = a.cfg.Snapshots.Save(ctx, *rec)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("snapshot %s: %w", name, err))
			continue
		}
		a.log.Debug(
			"snapshot saved",
			slog.String("projector", name),
			slog.String("cursor", rec.LastSortableID.String()),
			slog.Bool("offloaded", rec.IsOffloaded),
		)
	}
	return errors.Join(errs...)
}

func (a *App) shutdown() {
	if a.cfg.SnapshotInterval > 0 && len(a.actors) > 0 {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(a.ctx), 10*time.Second)
		if err := a.SaveSnapshots(ctx); err != nil {
			a.log.Warn("final snapshot failed", slog.Any("error", err))
		}
		cancel()
	}
	a.feeder.Close()
	a.host.Close()
	a.log.Info("app stopped")
}

// Stop cancels the app without waiting. It is idempotent.
func (a *App) Stop() {
	a.stopOnce.Do(a.cancelCtx)
}

// Shutdown stops the app and waits until the final snapshots are written
// or ctx ends.
func (a *App) Shutdown(ctx context.Context) error {
	a.Stop()
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func Run(config Config) (app *App, err error) {
	app, err = New(config)
	if err != nil {
		return nil, err
	}

	err = app.Run()
	if err != nil {
		app.Stop()
		return nil, err
	}

	return app, nil
}
