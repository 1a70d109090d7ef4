package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	ledgerconfig "vaultledger/config"
	"vaultledger/gateway/middleware"
	"vaultledger/gateway/routes"
	"vaultledger/observability"
	"vaultledger/observability/logging"
	telemetry "vaultledger/observability/otel"
	"vaultledger/services/ledgerd/config"
	"vaultledger/services/ledgerd/journal"
	"vaultledger/services/ledgerd/server"
	"vaultledger/storage"
)

func main() {
	var cfgPath, ledgerPath string
	flag.StringVar(&cfgPath, "config", "services/ledgerd/config.yaml", "path to ledgerd config")
	flag.StringVar(&ledgerPath, "ledger", "", "path to the ledger bootstrap file (overrides ledger_config)")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if ledgerPath != "" {
		cfg.LedgerConfig = ledgerPath
	}

	env := strings.TrimSpace(os.Getenv("LEDGER_ENV"))
	logger := logging.SetupWithLevel(logOutput(cfg.Log), "ledgerd", env, cfg.Log.Level)

	otlpEndpoint := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	insecure := true
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			insecure = parsed
		}
	}
	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "ledgerd",
		Environment: env,
		Endpoint:    otlpEndpoint,
		Insecure:    insecure,
		Headers:     telemetry.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
		Metrics:     otlpEndpoint != "",
		Traces:      otlpEndpoint != "",
	})
	if err != nil {
		log.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		_ = shutdownTelemetry(context.Background())
	}()

	if !cfg.Auth.Enabled && !strings.EqualFold(env, "dev") {
		log.Fatalf("auth may only be disabled with LEDGER_ENV=dev")
	}

	if err := run(cfg, env, logger); err != nil {
		logger.Error("ledgerd stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, env string, logger *slog.Logger) error {
	ledgerCfg, err := ledgerconfig.Load(cfg.LedgerConfig)
	if err != nil {
		return fmt.Errorf("load ledger config: %w", err)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o750); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		return fmt.Errorf("open state db: %w", err)
	}
	defer db.Close()

	events, err := journal.Open(cfg.JournalDSN, logger)
	if err != nil {
		return err
	}
	defer events.Close()
	logger.Info("journal opened", logging.MaskField("dsn", cfg.JournalDSN), "auth", cfg.Auth.Enabled, logging.MaskField("hmac_secret", cfg.Auth.HMACSecret))

	svc, err := server.New(db, ledgerCfg, server.Options{
		Logger:  logger,
		Journal: events,
		Metrics: observability.LedgerMetrics(),
	})
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	logger.Info("ledger opened", "root", svc.Root(), "sequence", svc.Sequence(), "assets", svc.Assets())

	limits := make(map[string]middleware.RateLimit, len(cfg.RateLimits))
	for group, limit := range cfg.RateLimits {
		limits[group] = middleware.RateLimit{RatePerSecond: limit.RatePerSecond, Burst: limit.Burst}
	}
	handler, err := routes.New(routes.Config{
		Ledger:  svc,
		Timeout: cfg.RequestTimeout,
		Authenticator: middleware.NewAuthenticator(middleware.AuthConfig{
			Enabled:    cfg.Auth.Enabled,
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
		}, logger),
		RateLimiter:   middleware.NewRateLimiter(limits, logger),
		Observability: middleware.NewObservability(middleware.ObservabilityConfig{ServiceName: "ledgerd", Enabled: true}, logger),
		CORS:          middleware.CORSConfig{AllowedOrigins: cfg.CORSOrigins},
		Scopes:        cfg.Auth.Scopes,
	})
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", cfg.ListenAddress, err)
	}
	if !cfg.TLS.Enabled() {
		tcpAddr, _ := listener.Addr().(*net.TCPAddr)
		loopback := tcpAddr != nil && tcpAddr.IP != nil && tcpAddr.IP.IsLoopback()
		if !strings.EqualFold(env, "dev") && !loopback {
			listener.Close()
			return errors.New("plaintext ledgerd mode is restricted to loopback listeners or dev environment")
		}
	}
	tlsCfg, err := loadServerTLS(cfg.TLS)
	if err != nil {
		listener.Close()
		return fmt.Errorf("configure tls: %w", err)
	}

	httpServer := &http.Server{
		Handler:           handler,
		TLSConfig:         tlsCfg,
		ReadHeaderTimeout: 5 * time.Second,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("ledgerd listening", "address", cfg.ListenAddress, "tls", tlsCfg != nil)
		if tlsCfg != nil {
			serverErr <- httpServer.ServeTLS(listener, "", "")
			return
		}
		serverErr <- httpServer.Serve(listener)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("forcing server stop", "error", err)
			_ = httpServer.Close()
		}
		logger.Info("ledger closed", "root", svc.Root(), "sequence", svc.Sequence())
		return nil
	case err := <-serverErr:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve http: %w", err)
	}
}

// logOutput tees logs into a rotated file when one is configured.
func logOutput(cfg config.LogConfig) io.Writer {
	if cfg.File == "" {
		return os.Stdout
	}
	return io.MultiWriter(os.Stdout, &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	})
}

func loadServerTLS(cfg config.TLSConfig) (*tls.Config, error) {
	if !cfg.Enabled() {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(cfg.CertPath, cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("load tls keypair: %w", err)
	}
	tlsCfg := &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}
	if cfg.ClientCAPath != "" {
		pem, err := os.ReadFile(cfg.ClientCAPath)
		if err != nil {
			return nil, fmt.Errorf("read client ca: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("parse client ca: invalid pem data")
		}
		tlsCfg.ClientCAs = pool
		tlsCfg.ClientAuth = tls.RequireAndVerifyClientCert
	} else {
		tlsCfg.ClientAuth = tls.NoClientCert
	}
	return tlsCfg, nil
}
