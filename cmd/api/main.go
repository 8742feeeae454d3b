package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/paygate-labs/paygate/internal/api"
	"github.com/paygate-labs/paygate/internal/catalog"
	"github.com/paygate-labs/paygate/internal/chain"
	"github.com/paygate-labs/paygate/internal/config"
	"github.com/paygate-labs/paygate/internal/middleware"
	"github.com/paygate-labs/paygate/internal/paywall"
	"github.com/paygate-labs/paygate/internal/store"
	"github.com/paygate-labs/paygate/internal/verify"
)

// Claims expire after their TTL; keep them around a full day past that
// before eviction, far beyond any realistic retry horizon.
const referencePurgeGrace = 24 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("config load failed")
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	if cfg.Env == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	if err := store.Migrate(cfg.DBSource); err != nil {
		logger.Fatal().Err(err).Msg("migrations failed")
	}

	st, err := store.NewPostgres(context.Background(), cfg.DBSource)
	if err != nil {
		logger.Fatal().Err(err).Msg("unable to connect to database")
	}
	defer st.Close()

	ledger := chain.NewSolanaClient(cfg.RPCEndpoint, cfg.RPCTimeout, logger)
	cat := catalog.NewDirCatalog(cfg.ContentDir, cfg.DefaultMint)
	verifier := verify.New(ledger, logger)

	engine := paywall.New(st, verifier, ledger, cat, paywall.Config{
		Recipient:   cfg.Recipient,
		Network:     cfg.Network,
		TokenSymbol: cfg.TokenSymbol,
	}, logger)

	handler := api.NewHandler(engine, st, cat, cfg.Network, logger)

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", handler.HealthCheck).Methods("GET")
	handler.Register(r.PathPrefix("/api/v1").Subrouter())

	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, logger)
	root := limiter.Handler(middleware.RequestLogger(logger)(r))

	c := cron.New()
	if _, err := c.AddFunc("@hourly", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		n, err := st.PurgeExpiredReferences(ctx, referencePurgeGrace)
		if err != nil {
			logger.Warn().Err(err).Msg("reference purge failed")
			return
		}
		if n > 0 {
			logger.Info().Int64("purged", n).Msg("expired references evicted")
		}
	}); err != nil {
		logger.Fatal().Err(err).Msg("unable to schedule reference purge")
	}
	c.Start()
	defer c.Stop()

	logger.Info().
		Str("port", cfg.Port).
		Str("network", cfg.Network).
		Str("recipient", cfg.Recipient).
		Msg("paygate server starting")
	if err := http.ListenAndServe(":"+cfg.Port, root); err != nil {
		logger.Fatal().Err(err).Msg("server exited")
	}
}
