// Command sentinelcore is the daemon entrypoint for the decision-and-audit
// substrate: it loads configuration, runs the preflight checks, and either
// executes one daily cycle (--run-once) or schedules it on
// internal/scheduler and blocks serving the optional status API until
// interrupted. The CLI surface itself is thin and external to the core
// packages it wires together.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/sentinelcore/audit-substrate/internal/archival"
	"github.com/sentinelcore/audit-substrate/internal/attribution"
	"github.com/sentinelcore/audit-substrate/internal/config"
	"github.com/sentinelcore/audit-substrate/internal/featurestore"
	"github.com/sentinelcore/audit-substrate/internal/ledgerindex"
	"github.com/sentinelcore/audit-substrate/internal/preflight"
	"github.com/sentinelcore/audit-substrate/internal/regimetransition"
	"github.com/sentinelcore/audit-substrate/internal/riskcontrol"
	"github.com/sentinelcore/audit-substrate/internal/runctx"
	"github.com/sentinelcore/audit-substrate/internal/scheduler"
	"github.com/sentinelcore/audit-substrate/internal/statusapi"
	"github.com/sentinelcore/audit-substrate/pkg/logger"
)

var nyLocation = mustLoadLocation("America/New_York")

func mustLoadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func main() {
	dataDir := flag.String("data-dir", "", "override SENTINEL_DATA_DIR")
	port := flag.Int("port", 0, "override SENTINEL_STATUS_PORT")
	serve := flag.Bool("serve", false, "serve the read-only status API")
	configCheck := flag.Bool("config-check", false, "run preflight checks and exit (0=PASS 1=FAIL 2=WARN)")
	runOnce := flag.Bool("run-once", false, "run a single daily cycle and exit instead of scheduling")
	ignoreMarketHours := flag.Bool("ignore-market-hours", false, "run the daily cycle even outside regular trading hours")
	flag.Parse()

	log := logger.New(logger.Config{Level: getEnv("LOG_LEVEL", "info"), Pretty: getEnv("DEV_MODE", "") == "true"})
	logger.SetGlobalLogger(log)

	log.Info().Msg("starting sentinelcore")

	cfg, err := config.Load(*dataDir)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *serve {
		cfg.ServeStatusAPI = true
	}
	if *ignoreMarketHours {
		cfg.IgnoreMarketHours = true
	}

	result := preflight.Run(cfg.DataDir)
	for _, check := range result.Checks {
		ev := log.Info()
		if check.Severity == preflight.SeverityWarning {
			ev = log.Warn()
		} else if check.Severity == preflight.SeverityCritical {
			ev = log.Error()
		}
		ev.Str("check", check.Name).Str("detail", check.Detail).Msg("preflight check")
	}

	if *configCheck {
		os.Exit(result.ExitCode())
	}
	if result.Severity() == preflight.SeverityCritical {
		log.Fatal().Msg("preflight failed critically, refusing to start")
	}

	store := featurestore.New(cfg.FeatureRoot, cfg.SchemaVersion, resolveGitSHA(cfg), log)

	detector := regimetransition.New(regimetransition.DefaultSmoothingDays, log)
	rehydrateRegimeDetector(detector, store, log)

	resolver := riskcontrol.New(cfg.LedgerRoot, log)

	index, err := ledgerindex.Open(ledgerindex.Config{Path: cfg.DataDir + "/index.db"})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open ledger index")
	}
	defer index.Close()
	if err := index.Rebuild(cfg.LedgerRoot); err != nil {
		log.Warn().Err(err).Msg("initial ledger index rebuild failed")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	archiveCfg := archival.ConfigFromEnv()
	archiver, err := archival.NewArchiver(ctx, archiveCfg, log)
	if err != nil {
		log.Warn().Err(err).Msg("archival disabled: failed to construct archiver")
	}

	cycle := &dailyCycle{
		cfg:      cfg,
		log:      log,
		store:    store,
		detector: detector,
		resolver: resolver,
		index:    index,
		archiver: archiver,
	}

	var statusSrv *statusapi.Server
	if cfg.ServeStatusAPI {
		statusSrv = statusapi.New(statusapi.Config{
			Log:           log,
			Port:          cfg.Port,
			DevMode:       cfg.DevMode,
			DataDir:       cfg.DataDir,
			LedgerRoot:    cfg.LedgerRoot,
			FeatureRoot:   cfg.FeatureRoot,
			SchemaVersion: cfg.SchemaVersion,
			Index:         index,
			Detector:      detector,
		})
		go func() {
			if err := statusSrv.Start(); err != nil {
				log.Error().Err(err).Msg("status API stopped")
			}
		}()
		log.Info().Int("port", cfg.Port).Msg("status API started")
	}

	if *runOnce {
		if cfg.IgnoreMarketHours || isRegularTradingHours(time.Now()) {
			cycle.Run()
		} else {
			log.Info().Msg("outside regular trading hours, skipping run-once cycle (use --ignore-market-hours to override)")
		}
		shutdown(statusSrv, log)
		return
	}

	sched := scheduler.New(log)
	if err := sched.AddJob(cfg.CronSchedule, cycle); err != nil {
		log.Fatal().Err(err).Msg("failed to register daily cycle job")
	}
	sched.Start()
	defer sched.Stop()

	log.Info().Str("schedule", cfg.CronSchedule).Msg("sentinelcore running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	shutdown(statusSrv, log)
}

func shutdown(statusSrv *statusapi.Server, log zerolog.Logger) {
	if statusSrv == nil {
		return
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := statusSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("status API forced to shutdown")
	}
}

func resolveGitSHA(cfg *config.Config) string {
	if cfg.GitSHA != "" {
		return cfg.GitSHA
	}
	return featurestore.GitSHAFromEnv()
}

// rehydrateRegimeDetector replays every available REGIME_E2 feature
// partition's (label, confidence) through Update, in date order, so a
// freshly started process recovers the same confirmed/pending regime state
// an uninterrupted one would have reached — internal/regimetransition.Detector
// itself never persists across restarts.
func rehydrateRegimeDetector(detector *regimetransition.Detector, store *featurestore.Store, log zerolog.Logger) {
	dates, err := store.AvailableDates(featurestore.FeatureRegimeE2)
	if err != nil {
		log.Warn().Err(err).Msg("regime rehydration: failed to list available dates")
		return
	}
	for _, date := range dates {
		raw, found, err := store.Read(featurestore.FeatureRegimeE2, date)
		if err != nil || !found {
			continue
		}
		var row featurestore.RegimeE2Features
		if err := msgpack.Unmarshal(raw, &row); err != nil {
			continue
		}
		detector.Update(regimetransition.Label(strings.ToUpper(row.RegimeLabel)), row.Confidence, date)
	}
	log.Info().Int("replayed_dates", len(dates)).Msg("regime detector rehydrated from feature-store history")
}

// isRegularTradingHours reports whether t falls within 09:30-16:00 America/
// New_York on a weekday, the window --ignore-market-hours is built to skip.
func isRegularTradingHours(t time.Time) bool {
	ny := t.In(nyLocation)
	if ny.Weekday() == time.Saturday || ny.Weekday() == time.Sunday {
		return false
	}
	minutes := ny.Hour()*60 + ny.Minute()
	return minutes >= 9*60+30 && minutes < 16*60
}

// dailyCycle implements scheduler.Job: one invocation runs the regime
// update, risk-control resolution, attribution summaries, and fail-open
// ledger/feature-store archival for the current NY trading date. Exit
// management is deliberately not invoked here: a live broker adapter and
// market-data feed are out-of-scope external collaborators;
// internal/exitmgmt.ManagePositions remains available for a caller that
// supplies them, it is just never wired to a fabricated one in this
// entrypoint.
type dailyCycle struct {
	cfg      *config.Config
	log      zerolog.Logger
	store    *featurestore.Store
	detector *regimetransition.Detector
	resolver *riskcontrol.Resolver
	index    *ledgerindex.DB
	archiver *archival.Archiver
}

func (c *dailyCycle) Name() string { return "daily_cycle" }

func (c *dailyCycle) Run() error {
	ctx, log := runctx.StartRun(context.Background(), c.log)
	now := time.Now()
	nyDate := now.In(nyLocation).Format("2006-01-02")
	asOfUTC := now.UTC().Format("2006-01-02T15:04:05-07:00")

	log.Info().Str("ny_date", nyDate).Msg("daily cycle starting")

	c.updateRegime(nyDate, asOfUTC, log)
	c.resolveRiskControls(nyDate, asOfUTC, log)
	c.writeAttributionSummaries(nyDate, log)
	c.archive(ctx, now, log)

	if err := c.index.Rebuild(c.cfg.LedgerRoot); err != nil {
		log.Warn().Err(err).Msg("post-cycle ledger index rebuild failed")
	}

	log.Info().Str("ny_date", nyDate).Msg("daily cycle complete")
	return nil
}

func (c *dailyCycle) updateRegime(nyDate, asOfUTC string, log zerolog.Logger) {
	if getEnv("E2_REGIME_RISK_MODULATION", "") != "1" {
		return
	}
	raw, found, err := c.store.Read(featurestore.FeatureRegimeE2, nyDate)
	if err != nil {
		log.Warn().Err(err).Msg("regime update: failed to read regime_e2_features partition")
		return
	}
	if !found {
		if err := c.resolver.WriteRegimeSignal(nyDate, asOfUTC, false, "", 0); err != nil {
			log.Warn().Err(err).Msg("regime update: failed to append skipped signal")
		}
		return
	}
	var row featurestore.RegimeE2Features
	if err := msgpack.Unmarshal(raw, &row); err != nil {
		log.Warn().Err(err).Msg("regime update: failed to decode regime_e2_features partition")
		return
	}
	confirmed := c.detector.Update(regimetransition.Label(strings.ToUpper(row.RegimeLabel)), row.Confidence, nyDate)
	if err := c.resolver.WriteRegimeSignal(nyDate, asOfUTC, true, string(confirmed), row.Confidence); err != nil {
		log.Warn().Err(err).Msg("regime update: failed to append signal")
	}
}

func (c *dailyCycle) resolveRiskControls(nyDate, asOfUTC string, log zerolog.Logger) {
	drawdown, drawdownReasons := riskcontrol.ResolveDrawdownFromSnapshot(c.cfg.DataDir)
	for _, reason := range drawdownReasons {
		log.Debug().Str("reason", reason).Msg("drawdown resolution")
	}
	result, err := c.resolver.Build(riskcontrol.BuildInput{
		NYDate:      nyDate,
		AsOfUTC:     asOfUTC,
		Enabled:     true,
		WriteLedger: true,
		Drawdown:    drawdown,
	})
	if err != nil {
		log.Error().Err(err).Msg("risk-control resolution failed")
		return
	}
	log.Info().
		Float64("risk_multiplier", result.Controls.RiskMultiplier).
		Strs("reasons", result.Reasons).
		Msg("risk controls resolved")
}

func (c *dailyCycle) writeAttributionSummaries(nyDate string, log zerolog.Logger) {
	if getEnv("E3_RISK_ATTRIBUTION_SUMMARY_WRITE", "") == "1" {
		events, err := attribution.LoadEvents(c.cfg.LedgerRoot, nyDate)
		if err != nil {
			log.Warn().Err(err).Msg("attribution summary: failed to load events")
		} else {
			summary := attribution.BuildDailySummary(nyDate, events, "sentinelcore")
			if err := attribution.WriteDailySummary(c.cfg.LedgerRoot, summary); err != nil {
				log.Warn().Err(err).Msg("attribution summary: failed to write")
			}
		}
	}
	if getEnv("E3_RISK_ATTRIBUTION_ROLLING_WRITE", "") == "1" {
		rolling, err := attribution.BuildRollingSummary(c.cfg.LedgerRoot, nyDate)
		if err != nil {
			log.Warn().Err(err).Msg("rolling attribution summary: failed to build")
		} else if err := attribution.WriteRollingSummary(c.cfg.LedgerRoot, rolling); err != nil {
			log.Warn().Err(err).Msg("rolling attribution summary: failed to write")
		}
	}
}

func (c *dailyCycle) archive(ctx context.Context, now time.Time, log zerolog.Logger) {
	if c.archiver == nil {
		return
	}
	if err := c.archiver.ArchiveDir(ctx, c.cfg.LedgerRoot, now); err != nil {
		log.Warn().Err(err).Msg("ledger archival failed")
	}
	if err := c.archiver.ArchiveDir(ctx, c.cfg.FeatureRoot, now); err != nil {
		log.Warn().Err(err).Msg("feature-store archival failed")
	}
}
