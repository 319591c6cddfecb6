package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/xtrntr/factoring/internal/api"
	"github.com/xtrntr/factoring/internal/auth"
	"github.com/xtrntr/factoring/internal/config"
	"github.com/xtrntr/factoring/internal/db"
	"github.com/xtrntr/factoring/internal/deal"
	"github.com/xtrntr/factoring/internal/invoice"
	"github.com/xtrntr/factoring/internal/messaging"
	"github.com/xtrntr/factoring/internal/policy"
	"github.com/xtrntr/factoring/internal/stats"
	"github.com/xtrntr/factoring/internal/users"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newLogger(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// Main entry point: sets up the store, the marketplace services and the HTTP server
func main() {
	cfg := config.Load()

	logger, err := newLogger(cfg.Log.Development)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize store
	var store db.Store
	if cfg.Database.UseMemoryStore() {
		logger.Warn("DATABASE_URL not set, using in-memory store")
		store = db.NewMemoryStore()
	} else {
		database, err := db.NewDB(ctx, cfg.Database.URL)
		if err != nil {
			logger.Fatal("Failed to connect to database", zap.Error(err))
		}
		defer database.Close()

		if cfg.Database.MigrationsAuto {
			if err := database.Migrate(ctx); err != nil {
				logger.Fatal("Failed to apply migrations", zap.Error(err))
			}
		}
		store = database
	}

	// Initialize marketplace services
	agg := stats.NewAggregator(logger.Named("stats"))
	dir := users.NewDirectory(store, agg, logger.Named("users"))
	if n, err := dir.CountActive(ctx); err == nil && n > 0 {
		agg.SetActiveUsers(int64(n))
	}
	invoices := invoice.NewRepository(store, logger.Named("invoice"))
	messages := messaging.NewLog(store, logger.Named("messaging"))
	engine := deal.NewEngine(store, invoices, messages, agg, logger.Named("deal"))
	svc := policy.NewService(auth.ContextSource{}, dir, invoices, engine, messages)

	tokens := auth.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	handler := api.NewHandler(svc, tokens, agg, logger.Named("api"))
	ticker := api.NewTicker(agg, logger.Named("ticker"))

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler.Routes(ticker, cfg.Server.CORSOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Starting server", zap.String("addr", cfg.Server.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	// Start periodic market stats broadcast
	g.Go(func() error {
		return ticker.Run(gctx, cfg.Server.TickerInterval)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("Shutting down server")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("Server stopped with error", zap.Error(err))
	}
}
