// Command emmkpi replays a captured LTE NAS/RRC event stream through
// the seven EMM procedure analyzers and reports the resulting
// KPI_Retainability_* failure counters: load config, build the logger,
// wire every optional component, run, wait for shutdown.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/protei/emmkpi/internal/logger"
	"github.com/protei/emmkpi/pkg/auth"
	"github.com/protei/emmkpi/pkg/config"
	"github.com/protei/emmkpi/pkg/database"
	"github.com/protei/emmkpi/pkg/emm"
	"github.com/protei/emmkpi/pkg/event"
	"github.com/protei/emmkpi/pkg/health"
	"github.com/protei/emmkpi/pkg/kpi"
	"github.com/protei/emmkpi/pkg/storage"
	"github.com/protei/emmkpi/pkg/web"
)

const appName = "emmkpi"

var configPath = flag.String("config", "configs/config.yaml", "path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Path:       cfg.Logging.Path,
		Level:      cfg.Logging.Level,
		Format:     "console",
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	log := logger.Get().WithComponent("main")

	app, err := newApplication(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize application")
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutdown signal received")
		cancel()
	}()

	log.Info().Str("app", appName).Msg("replaying event source")
	if err := app.run(ctx); err != nil && err != context.Canceled {
		log.Error().Err(err).Msg("replay ended with an error")
	}

	app.stop()

	snapshot := app.health.Snapshot()
	log.Info().
		Int64("messages_dispatched", snapshot.MessagesDispatched).
		Int64("rrc_unclassified_failures", snapshot.RRCUnclassifiedFailures).
		Msg("replay complete")
	for name, value := range app.sink.Snapshot() {
		log.Info().Str("kpi", name).Int64("value", value).Msg("final counter")
	}
}

// application holds every wired component for the lifetime of one run.
type application struct {
	cfg    *config.Config
	sink   *kpi.MemorySink
	health *health.HealthCheck
	source *event.FileReplaySource
	disp   *event.Dispatcher
	web    *web.Server
}

func newApplication(cfg *config.Config) (*application, error) {
	memSink := kpi.NewMemorySink()
	sinks := []kpi.Sink{memSink}

	if cfg.Database.Enabled {
		dbSink, err := database.NewPostgresSink(database.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Name,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			SSLMode:  cfg.Database.SSLMode,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize database sink: %w", err)
		}
		sinks = append(sinks, dbSink)
	}
	if cfg.Storage.Enabled {
		fileSink, err := storage.NewJSONLSink(cfg.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage sink: %w", err)
		}
		sinks = append(sinks, fileSink)
	}

	hc := health.New()

	var srv *web.Server
	if cfg.Web.Enabled {
		authSvc := auth.NewService(cfg.Auth.JWTSecret, cfg.Auth.TokenExpiry())
		if err := authSvc.RegisterUser(cfg.Auth.AdminUsername, cfg.Auth.AdminPassword); err != nil {
			return nil, fmt.Errorf("failed to register dashboard operator: %w", err)
		}
		srv = web.New(web.Config{
			Addr:         cfg.Web.Addr,
			AuthService:  authSvc,
			DataProvider: memSink,
			Logger:       logger.Get().WithComponent("web").Raw(),
		})
		sinks = append(sinks, web.NewBroadcastSink(discardSink{}, srv))
	}

	windows := cfg.Windows.ToEMMWindows()
	analyzers, _ := emm.NewAnalyzers(kpi.NewMultiSink(sinks...), windows, hc.RecordRRCUnclassified)

	disp := event.NewDispatcher()
	disp.OnDispatch = hc.RecordDispatch
	disp.OnPanic = hc.RecordAnalyzerPanic

	enabled := make(map[string]bool, len(cfg.Procedures.Enabled))
	for _, name := range cfg.Procedures.Enabled {
		enabled[name] = true
	}
	analyzers.RegisterAll(disp, enabled)

	source := event.NewFileReplaySource(cfg.Source.ReplayPath)
	source.EnableLog(string(event.EMMIncomingNAS))
	source.EnableLog(string(event.EMMOutgoingNAS))
	source.EnableLog(string(event.RRCOTA))

	app := &application{cfg: cfg, sink: memSink, health: hc, source: source, disp: disp, web: srv}

	if srv != nil {
		go func() {
			if err := srv.Start(); err != nil && err.Error() != "http: Server closed" {
				logger.Get().WithComponent("web").Error().Err(err).Msg("dashboard server stopped")
			}
		}()
	}

	return app, nil
}

// discardSink is the inner sink web.NewBroadcastSink wraps when the
// dashboard's only job is to mirror counters onto websocket clients —
// memSink already holds the authoritative running totals.
type discardSink struct{}

func (discardSink) StoreKPI(name string, value int64, ts time.Time) {}
func (discardSink) RegisterKPI(category, name string, cb func(value int64, ts time.Time), subKeys ...string) {
}

func (a *application) run(ctx context.Context) error {
	return a.source.Run(ctx, a.disp.Dispatch)
}

func (a *application) stop() {
	if a.web != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.web.Stop(ctx)
	}
}
