// Command run-scheduler runs the C9 unified tick loop: one process-level
// loop over every schedulable Source (plugin feeds, experiences), safe to
// run from multiple replicas since every claim goes through FOR UPDATE
// SKIP LOCKED at the store layer. Grounded on the teacher's cmd/orchestrator
// main.go wiring shape.
package main

import (
	"context"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"ragcore/internal/ingestevents"
	"ragcore/internal/queue"
	"ragcore/internal/ragconfig"
	"ragcore/internal/ragstore"
	"ragcore/internal/scheduler"
	"ragcore/internal/telemetry"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("run_scheduler_failed")
	}
}

func run() error {
	cfg, err := ragconfig.Load()
	if err != nil {
		return err
	}
	configureLogging(cfg.LogLevel)

	ctx := context.Background()

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:     cfg.TelemetryEndpoint != "",
		Endpoint:    cfg.TelemetryEndpoint,
		Insecure:    cfg.TelemetryInsecure,
		ServiceName: cfg.TelemetryServiceName,
	})
	if err != nil {
		return err
	}
	defer shutdownTelemetry(context.Background())
	metrics, err := telemetry.NewMetrics()
	if err != nil {
		return err
	}

	pool, err := ragstore.OpenPool(ctx, cfg.DatabaseDSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	store, err := ragstore.NewPostgres(ctx, pool)
	if err != nil {
		return err
	}
	defer store.Close()

	addr := ""
	if cfg.QueueBackend == "redis" {
		addr = cfg.RedisAddr
	}
	q, err := queue.New(addr)
	if err != nil {
		return err
	}

	events := ingestevents.New(ctx, ingestevents.Config{
		Brokers:         cfg.KafkaBrokers,
		ClickHouseDSN:   cfg.ClickHouseDSN,
		ClickHouseTable: cfg.ClickHouseTable,
	})
	defer events.Close()

	sources := []scheduler.Source{
		&scheduler.PluginSource{
			Store:               store,
			Registry:            scheduler.AllowAllRegistry{},
			StaleTimeoutSeconds: cfg.StaleTimeoutSecs,
			Events:              events,
		},
		&scheduler.ExperienceSource{
			Store: store,
			Users: noActiveUsers{},
		},
	}

	sch := scheduler.New(q, sources, scheduler.Config{
		TickInterval: cfg.SchedulerTick,
		ClaimLimit:   cfg.SchedulerClaim,
	})
	sch.Telemetry = metrics

	log.Info().Dur("tick_interval", cfg.SchedulerTick).Msg("run_scheduler_starting")
	return sch.Run(ctx)
}

// noActiveUsers is the default ActiveUserLister: user identity and
// membership resolution are out of scope for this module (spec.md §1), so
// a real deployment must supply its own implementation wired to whatever
// identity store it runs. Until then, experience fan-out is simply a
// no-op: next_run_at still advances (spec.md §4.9's "advances exactly
// once" guarantee), just with zero users reached.
type noActiveUsers struct{}

func (noActiveUsers) ActiveUserIDs(ctx context.Context) ([]string, error) {
	return nil, nil
}

func configureLogging(level string) {
	l, err := zerolog.ParseLevel(level)
	if err != nil {
		l = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(l)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}
