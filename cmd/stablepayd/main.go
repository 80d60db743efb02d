// Command stablepayd runs the stablecoin payment engine: proposal intake,
// approval resolution, and transfer execution behind an HTTP API.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/treasuryops/stablepay/pkg/api"
	"github.com/treasuryops/stablepay/pkg/approval"
	"github.com/treasuryops/stablepay/pkg/config"
	"github.com/treasuryops/stablepay/pkg/contracts"
	"github.com/treasuryops/stablepay/pkg/engine"
	"github.com/treasuryops/stablepay/pkg/observability"
	"github.com/treasuryops/stablepay/pkg/sequencer"
	"github.com/treasuryops/stablepay/pkg/settlement"
)

func main() {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("stablepayd: %v", err)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := slog.Default().With("component", "main")

	profile, err := config.LoadProfile(cfg.ProfilesDir, cfg.Profile)
	if err != nil {
		return err
	}
	logger.InfoContext(ctx, "execution profile loaded",
		"profile", profile.Name,
		"max_attempts", profile.Retry.MaxAttempts,
	)

	st, led, db, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	var network settlement.Network
	if cfg.NodeURL == "" {
		logger.WarnContext(ctx, "NODE_URL not set, using in-process settlement simulator")
		network = settlement.NewSimNetwork()
	} else {
		rpc, err := settlement.Dial(ctx, cfg.NodeURL)
		if err != nil {
			return err
		}
		defer rpc.Close()
		network = rpc
		logger.InfoContext(ctx, "connected to settlement node",
			"url", cfg.NodeURL,
			"chain_id", rpc.ChainID().String(),
		)
	}

	token := settlement.USDT()
	fees := settlement.FeePolicy{
		GasLimit:      profile.Fees.GasLimit,
		BufferPercent: profile.Fees.BufferPercent,
		BumpPercent:   profile.Fees.BumpPercent,
	}
	if fees.GasLimit == 0 {
		fees = settlement.DefaultFeePolicy()
	}

	obs, err := observability.New(ctx, &observability.Config{
		ServiceName:    "stablepayd",
		ServiceVersion: "1.0.0",
		Environment:    getenv("ENVIRONMENT", "development"),
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        cfg.OTLPEndpoint != "",
		Insecure:       true,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = obs.Shutdown(shutdownCtx)
	}()

	seq := sequencer.New(led)
	sub := settlement.NewSubmitter(token, fees, network, led)
	eng := engine.New(st, led, seq, sub, profile.EngineOptions()).WithMetrics(obs)

	// Interrupted executions are settled from the ledger at startup. Signing
	// material is never persisted, so resumption without an operator-supplied
	// key can only poll outstanding attempts, not submit new ones.
	if err := eng.ResumeAll(ctx, contracts.SendingAccount{}); err != nil {
		logger.WarnContext(ctx, "resume scan failed", "error", err)
	}

	server := api.NewServer(st, led, approval.NewResolver(st), eng, token)
	mux := http.NewServeMux()
	server.Routes(mux)

	var idem api.IdempotencyStorer
	if cfg.RedisAddr != "" {
		idem = api.NewRedisIdempotencyStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, 24*time.Hour)
		logger.InfoContext(ctx, "idempotency cache: redis", "addr", cfg.RedisAddr)
	} else {
		idem = api.NewIdempotencyStore(24 * time.Hour)
	}

	limiter := api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)

	handler := obs.HTTPMiddleware(
		limiter.Middleware(
			api.IdempotencyMiddleware(idem)(mux),
		),
	)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown", "error", err)
	}

	// Executions started by approved proposals keep running after the
	// listener closes; wait for them so the ledger ends on terminal states.
	server.Wait()
	return nil
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
