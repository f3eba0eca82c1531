package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/falimentos/mariia/internal/api"
	"github.com/falimentos/mariia/internal/cache"
	"github.com/falimentos/mariia/internal/config"
	"github.com/falimentos/mariia/internal/core"
	"github.com/falimentos/mariia/internal/llm"
	"github.com/falimentos/mariia/internal/observability"
	"github.com/falimentos/mariia/internal/store"
)

func main() {
	config.LoadConfig()

	logger := newLogger(config.AppConfig.LogLevel)
	slog.SetDefault(logger)

	ingestSales := flag.String("ingest-sales", "", "CSV file to load into the sales dataset before serving")
	ingestSellers := flag.String("ingest-sellers", "", "CSV file to load into the seller directory before serving")
	flag.Parse()

	db, err := store.NewSQLiteStore(config.AppConfig.DatabaseURL)
	if err != nil {
		logger.Error("could not open database", "path", config.AppConfig.DatabaseURL, "error", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx := context.Background()
	if *ingestSales != "" {
		n, err := db.IngestSalesCSV(ctx, *ingestSales)
		if err != nil {
			logger.Error("sales ingestion failed", "file", *ingestSales, "error", err)
			os.Exit(1)
		}
		logger.Info("sales rows ingested", "file", *ingestSales, "rows", n)
	}
	if *ingestSellers != "" {
		n, err := db.IngestSellersCSV(ctx, *ingestSellers)
		if err != nil {
			logger.Error("seller ingestion failed", "file", *ingestSellers, "error", err)
			os.Exit(1)
		}
		logger.Info("sellers ingested", "file", *ingestSellers, "rows", n)
	}

	llmClient, err := llm.NewGeminiClient(ctx, config.AppConfig.GeminiAPIKey, config.AppConfig.ChatModelID, config.AppConfig.ClassifierModelID)
	if err != nil {
		logger.Error("could not create model client", "error", err)
		os.Exit(1)
	}
	defer llmClient.Close()

	metrics := observability.NewMetrics("mariia")
	resultCache := cache.New()

	modelTimeout := time.Duration(config.AppConfig.ModelTimeoutSecs) * time.Second
	toolTimeout := time.Duration(config.AppConfig.ToolTimeoutSecs) * time.Second

	sandbox := core.NewSandbox(db, logger.With("component", "sandbox"))
	tools := core.NewSalesTools(db, sandbox, resultCache, metrics, logger.With("component", "tools"))
	registry := core.NewRegistry()
	tools.RegisterAll(registry)

	dispatcher := core.NewDispatcher(registry, metrics, logger.With("component", "dispatcher"), toolTimeout)
	classifier := core.NewClassifier(llmClient, logger.With("component", "classifier"))
	resolver := core.NewSellerResolver(db, logger.With("component", "seller"))
	chatService := core.NewChatService(llmClient, classifier, resolver, registry, dispatcher, metrics, logger.With("component", "chat"), modelTimeout)
	pitchService := core.NewPitchService(llmClient, tools, resolver, db, logger.With("component", "pitch"), modelTimeout)

	handler := api.NewAPIHandler(chatService, pitchService, tools, resolver, logger.With("component", "api"))
	router := api.NewRouter(handler)

	srv := &http.Server{
		Addr:              ":" + config.AppConfig.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server listening", "port", config.AppConfig.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN", "WARNING":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
