// Command taskchat runs the task-management chat API server.
package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/basket/taskchat/internal/auth"
	"github.com/basket/taskchat/internal/chat"
	"github.com/basket/taskchat/internal/config"
	"github.com/basket/taskchat/internal/gateway"
	"github.com/basket/taskchat/internal/llm"
	"github.com/basket/taskchat/internal/scheduler"
	"github.com/basket/taskchat/internal/store"
	"github.com/basket/taskchat/internal/telemetry"
	"github.com/basket/taskchat/internal/tools"
	"github.com/mattn/go-isatty"
)

func main() {
	loadDotEnv(".env")

	quiet := flag.Bool("quiet", false, "log to file only, keep stdout clean")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, *quiet)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)
	logger.Info("startup phase", "phase", "config_loaded", "config_hash", cfg.Fingerprint())

	if isatty.IsTerminal(os.Stdout.Fd()) && *quiet {
		fmt.Printf("taskchat starting on %s (logs: %s/logs/system.jsonl)\n", cfg.BindAddr, cfg.HomeDir)
	}

	otelProvider, err := telemetry.Init(ctx, cfg.OTel)
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer otelProvider.Shutdown(ctx)
	metrics, err := telemetry.NewMetrics(otelProvider.Meter)
	if err != nil {
		fatalStartup(logger, "E_METRICS_INIT", err)
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		fatalStartup(logger, "E_STORE_OPEN", err)
	}
	defer st.Close()
	logger.Info("startup phase", "phase", "schema_migrated", "db_path", cfg.DBPath)

	// A malformed tool definition is a programming error; fail fast.
	if _, err := tools.CompileCatalog(tools.Catalog()); err != nil {
		fatalStartup(logger, "E_TOOL_SCHEMA", err)
	}

	jwtSecret := cfg.Auth.JWTSecret
	if jwtSecret == "" {
		jwtSecret = randomSecret()
		logger.Warn("no JWT secret configured; generated an ephemeral one, tokens will not survive restarts")
	}
	issuer := auth.NewTokenIssuer(jwtSecret, time.Duration(cfg.Auth.TokenTTLMinutes)*time.Minute)

	registry := tools.NewTaskRegistry(st, logger)

	provider, model, apiKey := cfg.ResolveLLMConfig()
	llmClient := llm.NewGenkitClient(ctx, llm.Config{
		Provider:                 provider,
		Model:                    model,
		APIKey:                   apiKey,
		Persona:                  cfg.PERSONA,
		OpenAICompatibleProvider: cfg.LLM.OpenAICompatibleProvider,
		OpenAICompatibleBaseURL:  cfg.LLM.OpenAICompatibleBaseURL,
	}, logger)

	chatSvc := chat.NewService(st, llmClient, registry, logger, otelProvider.Tracer, metrics)

	gw := gateway.New(gateway.Config{
		Store:             st,
		Chat:              chatSvc,
		Issuer:            issuer,
		Logger:            logger,
		ToolCatalog:       tools.Catalog(),
		ConfigFingerprint: cfg.Fingerprint(),
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: gw.Handler(),
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("gateway listening", "addr", cfg.BindAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	if !cfg.Scheduler.Disabled {
		sched, err := scheduler.NewScheduler(scheduler.Config{
			Store:   st,
			Spec:    cfg.Scheduler.RecurrenceSpec,
			Logger:  logger,
			Metrics: metrics,
		})
		if err != nil {
			fatalStartup(logger, "E_SCHEDULER_INIT", err)
		}
		sched.Start(ctx)
		defer sched.Stop()
	}

	confWatcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := confWatcher.Start(ctx); err != nil {
		logger.Warn("config watcher unavailable", "error", err)
	} else {
		go func() {
			for ev := range confWatcher.Events() {
				newCfg, err := config.Load()
				if err != nil {
					logger.Error("config reload failed", "path", ev.Path, "error", err)
					continue
				}
				llmClient.UpdatePersona(newCfg.PERSONA)
				logger.Info("config reloaded", "path", ev.Path, "config_hash", newCfg.Fingerprint())
			}
		}()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("gateway server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	logger.Info("shutdown complete")
}

func fatalStartup(logger *slog.Logger, code string, err error) {
	if logger != nil {
		logger.Error("fatal startup error", "code", code, "error", err)
	}
	fmt.Fprintf(os.Stderr, "taskchat: %s: %v\n", code, err)
	os.Exit(1)
}

func randomSecret() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(err)
	}
	return hex.EncodeToString(buf)
}

// loadDotEnv loads KEY=VALUE pairs from a local .env file, if present.
// Existing environment variables win.
func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if key == "" || os.Getenv(key) != "" {
			continue
		}
		_ = os.Setenv(key, value)
	}
}
