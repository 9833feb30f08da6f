package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/jobpilot/internal/agent"
	"github.com/raphaelgruber/jobpilot/internal/browser"
	"github.com/raphaelgruber/jobpilot/internal/config"
	"github.com/raphaelgruber/jobpilot/internal/llm"
	"github.com/raphaelgruber/jobpilot/internal/metrics"
	"github.com/raphaelgruber/jobpilot/internal/models"
	"github.com/raphaelgruber/jobpilot/internal/scheduler"
	"github.com/raphaelgruber/jobpilot/internal/server"
	"github.com/raphaelgruber/jobpilot/internal/service"
	"github.com/raphaelgruber/jobpilot/internal/store"
)

var (
	serveAddr      string
	serveHeadless  bool
	serveNoBrowser bool
	serveAutostart bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the jobpilot daemon",
	Long: `Run the daemon: it drives Chrome, keeps the job queue and answers the
other jobpilot commands and remote content scripts.

Examples:
  jobpilot serve
  jobpilot serve --addr 127.0.0.1:9000 --headless
  jobpilot serve --start`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default $JOBPILOT_ADDR)")
	serveCmd.Flags().BoolVar(&serveHeadless, "headless", false, "run Chrome without a window")
	serveCmd.Flags().BoolVar(&serveNoBrowser, "no-browser", false, "only serve remote tabs, do not launch Chrome")
	serveCmd.Flags().BoolVar(&serveAutostart, "start", false, "start automation right after loading the queue")
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveAddr != "" {
		cfg.ListenAddr = serveAddr
	}
	if serveHeadless {
		cfg.ChromeHeadless = true
	}

	logger, closeLog := config.SetupLogger(cfg.LogFile, cfg.LogLevel)
	defer func() { _ = closeLog() }()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	mc := metrics.NewCollector()

	openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	st, err := store.Open(openCtx, cfg, logger)
	cancel()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	persister := store.NewPersister(st, logger, mc)

	var tabs service.Browser = noBrowser{}
	var chrome *browser.Chrome
	if !serveNoBrowser {
		chrome, err = browser.New(ctx, browser.Options{
			RemoteURL:   cfg.ChromeRemoteURL,
			Headless:    cfg.ChromeHeadless,
			UserDataDir: cfg.ChromeUserDataDir,
		}, logger)
		if err != nil {
			_ = st.Close(context.Background())
			return fmt.Errorf("start browser: %w", err)
		}
		tabs = chrome
	}

	registry := service.NewTabRegistry()
	settings := service.NewSettingsStore()
	coord := service.NewCoordinator(service.CoordinatorDeps{
		Browser:    tabs,
		Tabs:       registry,
		Settings:   settings,
		Persister:  persister,
		Metrics:    mc,
		Logger:     logger,
		JobTimeout: cfg.JobTimeout,
	})

	var seed *models.Settings
	if cfg.SettingsFile != "" {
		s, err := service.LoadSettingsFile(cfg.SettingsFile)
		if err != nil {
			return fmt.Errorf("load settings: %w", err)
		}
		seed = &s
	}
	if err := coord.Load(ctx, st, seed); err != nil {
		return err
	}

	// The dispatcher is built last but the transports need it first.
	var d *server.Dispatcher
	dispatch := func(ctx context.Context, msg models.Message) models.Response {
		return d.Dispatch(ctx, msg)
	}

	hub := server.NewHub(dispatch, logger)
	messengers := server.Messengers{hub}

	var host *agent.Host
	if chrome != nil {
		host = agent.NewHost(chrome, browser.Page{}, server.NewLocalBus(dispatch), logger)
		messengers = append(messengers, host)
	}

	deps := service.GatewayDeps{
		Tabs:      registry,
		Settings:  settings,
		Browser:   tabs,
		Messenger: messengers,
		Local:     llm.NewLocalClient(nil, mc, logger),
		Metrics:   mc,
		Logger:    logger,
	}
	if model, err := llm.NewModel(ctx, cfg, mc, logger); err != nil {
		logger.Info("assistant provider mode disabled", "reason", err)
	} else {
		deps.Provider = model
	}
	gateway := service.NewAssistantGateway(deps)

	d = server.NewDispatcher(coord, gateway, logger, server.LoggingMiddleware(logger))

	if host != nil {
		go func() {
			if err := host.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("tab host stopped", "error", err)
			}
		}()
	}

	var sched *scheduler.Scheduler
	if cfg.FetchCron != "" {
		sched, err = scheduler.New(cfg.FetchCron, coord, cfg.AutostartOnFetch, logger)
		if err != nil {
			return err
		}
		sched.Start(ctx)
		logger.Info("fetch schedule enabled", "cron", cfg.FetchCron, "next", sched.Next())
	}

	if serveAutostart {
		if err := coord.StartAutomation(ctx); err != nil {
			logger.Warn("automation not started", "error", err)
		}
	}

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      server.NewRouter(d, hub, logger),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Minute, // PROXY_PROMPT_GPT waits for the assistant
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("jobpilot daemon listening", "addr", cfg.ListenAddr, "store", cfg.Store, "browser", chrome != nil)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down daemon...")
	case runErr = <-serveErr:
		if runErr != nil {
			runErr = fmt.Errorf("listen %s: %w", cfg.ListenAddr, runErr)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	if sched != nil {
		sched.Stop(shutdownCtx)
	}
	coord.Close()
	if host != nil {
		host.Close()
	}
	if err := persister.Close(shutdownCtx); err != nil {
		logger.Error("failed to flush state", "error", err)
	}
	if err := st.Close(shutdownCtx); err != nil {
		logger.Error("failed to close store", "error", err)
	}
	if chrome != nil {
		chrome.Close()
	}

	logger.Info("daemon stopped")
	return runErr
}

// noBrowser backs a daemon that only serves remote tabs.
type noBrowser struct{}

var errNoBrowser = fmt.Errorf("%w: run serve without --no-browser", service.ErrBrowserUnavailable)

func (noBrowser) OpenTab(context.Context, string, bool) (models.TabID, error) {
	return "", errNoBrowser
}

func (noBrowser) CloseTab(context.Context, models.TabID) error { return nil }

func (noBrowser) ActivateTab(context.Context, models.TabID) error { return nil }

