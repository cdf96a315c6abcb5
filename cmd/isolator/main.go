package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgnsrekt/iso_agent/internal/api"
	"github.com/dgnsrekt/iso_agent/internal/audit"
	"github.com/dgnsrekt/iso_agent/internal/browser"
	"github.com/dgnsrekt/iso_agent/internal/cdphost"
	"github.com/dgnsrekt/iso_agent/internal/classify"
	"github.com/dgnsrekt/iso_agent/internal/config"
	"github.com/dgnsrekt/iso_agent/internal/containerdir"
	"github.com/dgnsrekt/iso_agent/internal/controller"
	"github.com/dgnsrekt/iso_agent/internal/engine"
	"github.com/dgnsrekt/iso_agent/internal/exceptions"
	"github.com/dgnsrekt/iso_agent/internal/host"
	"github.com/dgnsrekt/iso_agent/internal/notify"
	"github.com/dgnsrekt/iso_agent/internal/oracle"
	relay "github.com/dgnsrekt/iso_agent/internal/signal"
	"github.com/dgnsrekt/iso_agent/internal/storage"
	"github.com/dgnsrekt/iso_agent/internal/sweeper"
	"github.com/dgnsrekt/iso_agent/internal/tabstate"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		if _, writeErr := io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n"); writeErr != nil {
			slog.Debug("logger setup stderr write failed", "error", writeErr)
		}
		os.Exit(1)
	}

	slog.Info("isolator config loaded",
		"bind_addr", cfg.BindAddr,
		"cdp_url", cfg.GetCDPURL(),
		"container", cfg.Policy.Container.Name,
		"tracked_domains", len(cfg.Policy.Domains),
		"strip_param", cfg.Policy.StripParam,
		"oracle_url", cfg.OracleURL,
		"log_level", cfg.LogLevel,
	)

	var launcher *browser.Launcher
	if cfg.LaunchBrowser {
		launcher = browser.NewLauncher(browser.Config{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			ProfileDir: cfg.ProfileDir,
		})
		if err := launcher.Launch(context.Background()); err != nil {
			slog.Error("failed to launch browser", "error", err)
			os.Exit(1)
		}
		defer launcher.Stop()
	}

	kv, err := storage.Open(cfg.DataDir)
	if err != nil {
		slog.Error("failed to open state store", "dir", cfg.DataDir, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := kv.Close(); err != nil {
			slog.Debug("state store close failed", "error", err)
		}
	}()

	cdpClient := cdphost.NewClient(cfg)
	if err := cdpClient.Connect(context.Background()); err != nil {
		reportStartupFailure(cfg, "cdp connect", err)
		slog.Error("failed to connect to browser", "cdp_url", cfg.GetCDPURL(), "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := cdpClient.Close(); err != nil {
			slog.Debug("CDP client close failed", "error", err)
		}
	}()

	containers := cdphost.NewContainers(cdpClient, kv)
	tabs := cdphost.NewTabs(cdpClient)
	cookies := cdphost.NewCookies(cdpClient)

	// Without the reserved container nothing can be isolated, so a failure
	// here is fatal.
	directory := containerdir.New(containers, host.ContainerAttrs{
		Name:  cfg.Policy.Container.Name,
		Color: cfg.Policy.Container.Color,
		Icon:  cfg.Policy.Container.Icon,
	})
	containerID, err := directory.Resolve(context.Background())
	if err != nil {
		reportStartupFailure(cfg, "container setup", err)
		slog.Error("failed to resolve isolated container", "error", err)
		os.Exit(1)
	}
	slog.Info("isolated container ready", "container", containerID, "name", cfg.Policy.Container.Name)

	classifier := classify.New(cfg.Policy.Domains)
	excStore := exceptions.NewStore(kv)

	oracleClient := oracle.NewClient(cfg.OracleURL, time.Duration(cfg.OracleTimeoutMS)*time.Millisecond, cfg.Policy.Domains)
	if cfg.OracleURL != "" {
		oracleClient.Probe(context.Background())
	}
	defer oracleClient.Close()

	broker := relay.NewBroker()
	auditLog := audit.NewWriter(cfg.DataDir, cfg.AuditBufferSize)
	defer func() {
		if err := auditLog.Close(); err != nil {
			slog.Debug("audit writer close failed", "error", err)
		}
	}()
	tracker := tabstate.NewTracker(classifier, excStore, kv)

	eng := engine.New(engine.Config{
		Classifier:  classifier,
		Exceptions:  excStore,
		Oracle:      oracleClient,
		Tabs:        tabs,
		ContainerID: containerID,
		StripParam:  cfg.Policy.StripParam,
		Tracker:     tracker,
		Broker:      broker,
		Audit:       auditLog,
	})

	interceptor := cdphost.NewInterceptor(cdpClient, eng)
	if err := interceptor.Start(context.Background()); err != nil {
		reportStartupFailure(cfg, "request interception", err)
		slog.Error("failed to install request interception", "error", err)
		os.Exit(1)
	}

	sweep := sweeper.New(sweeper.Config{
		Domains:    cfg.Policy.Domains,
		Containers: containers,
		Cookies:    cookies,
		Exceptions: excStore,
		Oracle:     oracleClient,
		IsolatedID: containerID,
		Audit:      auditLog,
	})

	// Startup reconciliation: reopen misplaced tabs, then purge any cookies
	// that leaked while the agent was down.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		if err := eng.ReopenOpenTabs(ctx); err != nil {
			slog.Warn("startup tab reconciliation failed", "error", err)
		}
		if _, err := sweep.Sweep(ctx); err != nil {
			slog.Warn("startup cookie sweep failed", "error", err)
		}
	}()

	svc := controller.NewService(controller.Config{
		Classifier: classifier,
		Exceptions: excStore,
		Tracker:    tracker,
		Sweeper:    sweep,
		Tabs:       tabs,
		Oracle:     oracleClient,
		OracleURL:  cfg.OracleURL,
		Container:  containerID,
	})
	h := api.NewServer(svc, broker)

	srv := &http.Server{Addr: cfg.BindAddr, Handler: h}

	go func() {
		slog.Info("isolator listening", "addr", cfg.BindAddr, "docs", "http://"+cfg.BindAddr+"/docs")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("isolator server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("isolator shutdown failed", "error", err)
	}
}

func reportStartupFailure(cfg *config.Config, component string, cause error) {
	if cfg.NotifyEndpoint == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := notify.SendStartupFailure(ctx, nil, cfg.NotifyEndpoint, component, cause); err != nil {
		slog.Debug("startup failure notification failed", "error", err)
	}
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll("logs", 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
