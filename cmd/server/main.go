package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	router "github.com/skillswap/relay/internal/adapters/http"
	wssignal "github.com/skillswap/relay/internal/adapters/signal"
	"github.com/skillswap/relay/internal/app"
	"github.com/skillswap/relay/internal/auth"
	"github.com/skillswap/relay/internal/config"
	"github.com/skillswap/relay/internal/storage"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initialize zerolog global logger early so config.Load can use it.
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogging(cfg)
	ensureSecrets(cfg)

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("server stopped with error")
	}
	log.Info().Msg("Server exited gracefully")
}

func setupLogging(cfg *config.Config) {
	if cfg.Mode != "debug" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	lvl, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || lvl == zerolog.NoLevel {
		log.Warn().Str("level", cfg.LogLevel).Msg("unknown log level, using info")
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// ensureSecrets fills missing secrets outside release mode so a local run
// works without setup. Tokens and cookies then do not survive a restart.
func ensureSecrets(cfg *config.Config) {
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = uuid.NewString()
		log.Warn().Msg("jwt_secret not set, using an ephemeral one")
	}
	if cfg.SessionSecret == "" {
		cfg.SessionSecret = uuid.NewString()
		log.Warn().Msg("session_secret not set, using an ephemeral one")
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	store, err := storage.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("close store")
		}
	}()

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := app.NewMetrics(promReg)

	policy, err := app.ParsePolicy(cfg.OverflowPolicy)
	if err != nil {
		return err
	}

	reg := app.NewRegistry()
	recorder := app.NewRecordQueue(store, cfg.RecordQueue, cfg.RecordTimeout, metrics)
	relay := &app.Relay{
		Registry: reg,
		Recorder: recorder,
		Policy:   policy,
		Metrics:  metrics,
	}
	verifier := auth.NewJWTVerifier(cfg.JWTSecret)
	ctl := wssignal.NewSignalWSController(reg, relay, verifier, metrics, wssignal.Options{
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		PongWait:   cfg.PongWait,
		WriteWait:  cfg.WriteWait,
		SendBuffer: cfg.SendBuffer,
		RateLimit:  cfg.RateLimit,
		RateBurst:  cfg.RateBurst,
	})

	// Connections outlive the signal context until shutdown has stopped
	// accepting new ones.
	connCtx, closeConns := context.WithCancel(context.Background())
	defer closeConns()
	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()

	r := router.SetupRouter(connCtx, cfg, router.Deps{
		Signal:   ctl,
		History:  store,
		Verifier: verifier,
		Issuer:   auth.NewIssuer(cfg.JWTSecret),
		Gatherer: promReg,
	})
	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", addr).Str("policy", cfg.OverflowPolicy).Msg("relay server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return recorder.Run(workerCtx)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("Shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server forced to shutdown")
		}

		closeConns()
		n := reg.CloseAll()
		log.Info().Int("sessions", n).Msg("closed sessions")
		if err := ctl.Wait(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("connections still open, late chats may not be stored")
		}

		stopWorker()
		return nil
	})
	return g.Wait()
}
