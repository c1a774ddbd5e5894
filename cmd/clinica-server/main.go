package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"clinica/backend/internal/config"
	"clinica/backend/internal/maintenance"
	"clinica/backend/internal/service/reports"
	"clinica/backend/internal/service/scheduling"
	"clinica/backend/internal/store"
	"clinica/backend/internal/store/snapshot"
	httptransport "clinica/backend/internal/transport/http"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})).With(
		slog.String("service", "clinica-server"),
	)
	slog.SetDefault(log)

	cfg, err := config.Load()
	if err != nil {
		log.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}

	log = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)})).With(
		slog.String("service", "clinica-server"),
	)
	slog.SetDefault(log)

	log.Info("starting",
		slog.String("http_addr", cfg.HTTPAddr),
		slog.String("data_dir", cfg.DataDir),
		slog.String("log_level", cfg.LogLevel),
	)

	files, err := snapshot.NewFiles(cfg.DataDir, cfg.BackupRetention, log)
	if err != nil {
		log.Error("data directory setup failed", slog.Any("err", err), slog.String("data_dir", cfg.DataDir))
		os.Exit(1)
	}

	st, err := store.Open(files, store.Options{
		CacheCapacity: cfg.CacheCapacity,
		CacheTTL:      cfg.CacheTTL,
		AllowDegraded: true,
	}, log)
	if err != nil {
		log.Error("store open failed", slog.Any("err", err))
		os.Exit(1)
	}

	maint, err := maintenance.New(st, maintenance.Config{
		SweepInterval: cfg.SweepInterval,
		FlushInterval: cfg.FlushInterval,
	}, log)
	if err != nil {
		log.Error("maintenance setup failed", slog.Any("err", err))
		os.Exit(1)
	}
	maint.Start()
	defer func() {
		if err := maint.Stop(); err != nil {
			log.Warn("maintenance stop failed", slog.Any("err", err))
		}
	}()

	schedSvc := scheduling.NewService(st)
	repSvc := reports.NewService(st)
	handler := httptransport.NewRouter(
		httptransport.NewHandlers(schedSvc, repSvc, st, log),
		log,
	)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: handler,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.Info("http server started", slog.String("http_addr", cfg.HTTPAddr))

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn("http graceful shutdown failed", slog.Any("err", err))
		}
		// One final flush so the loss window closes with the process.
		if err := st.Flush(context.Background()); err != nil && !errors.Is(err, store.ErrStoreDegraded) {
			log.Warn("final flush failed", slog.Any("err", err))
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server stopped with error", slog.Any("err", err))
			os.Exit(1)
		}
	}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
