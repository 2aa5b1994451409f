package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"flowspec/internal/api"
	"flowspec/internal/event"
	"flowspec/internal/githost"
	"flowspec/internal/logging"
	"flowspec/internal/notify"
	"flowspec/internal/server"
	"flowspec/internal/skill"
	"flowspec/internal/store"
	"flowspec/internal/temporal"
	"flowspec/internal/temporal/activities"
	temporalworker "flowspec/internal/temporal/worker"
	"flowspec/internal/version"
)

const httpServerShutdownTimeout = 5 * time.Second

func runServer(args []string) int {
	cfg, err := server.LoadConfig(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if cfg.ShowVersion {
		if version.Version == "" || version.Version == "dev" {
			fmt.Fprintln(os.Stdout, "flowspec dev")
		} else {
			fmt.Fprintf(os.Stdout, "flowspec version %s\n", version.Version)
		}
		return 0
	}

	logLevel, recognized := logging.ParseLevel(cfg.LogLevel)
	if !recognized {
		logLevel = logging.LevelInfo
	}
	if cfg.Verbose {
		logLevel = logging.LevelDebug
	} else if cfg.Quiet {
		logLevel = logging.LevelWarning
	}
	logger := logging.NewLogger(logLevel)
	if cfg.Verbose {
		server.LogStartupFlags(logger, cfg)
	}
	server.LogVersionInfo(logger)
	server.EnsureStateDirs(cfg, logger)

	temporalDevServer, devServerError := server.StartTemporalDevServer(&cfg, logger)
	if devServerError != nil {
		logger.Warn("temporal dev server start failed", map[string]string{
			"error": devServerError.Error(),
		})
	}
	if temporalDevServer != nil {
		defer temporalDevServer.Stop(logger)
	}
	if cfg.TemporalDevServer && !cfg.TemporalEnabled {
		logger.Warn("temporal dev server running while workflows disabled", nil)
	}

	temporalEnabled := cfg.TemporalEnabled
	var temporalClient temporal.WorkflowClient
	if temporalEnabled {
		if temporalDevServer != nil {
			server.WaitForTemporalServer(cfg.TemporalHost, server.TemporalDevServerStartTimeout, temporalDevServer.Done(), logger)
		} else {
			server.LogTemporalServerHealth(logger, cfg.TemporalHost)
		}
		var temporalClientError error
		temporalClient, temporalClientError = temporal.NewClient(temporal.ClientConfig{
			HostPort:  cfg.TemporalHost,
			Namespace: cfg.TemporalNamespace,
			Logger:    logger,
		})
		if temporalClientError != nil {
			temporalEnabled = false
			logger.Warn("temporal client unavailable", map[string]string{
				"host":      cfg.TemporalHost,
				"namespace": cfg.TemporalNamespace,
				"error":     temporalClientError.Error(),
			})
		} else if temporalClient != nil {
			defer temporalClient.Close()
			logger.Info("temporal client connected", map[string]string{
				"host":      cfg.TemporalHost,
				"namespace": cfg.TemporalNamespace,
			})
		}
	}

	eventBus := event.NewBus[store.Event](context.Background(), event.BusOptions{
		Name:        "run-events",
		HistorySize: 256,
		Logger:      logger,
	})
	defer eventBus.Close()

	dataStore, err := store.Open(server.StateFilePath(cfg), logger)
	if err != nil {
		logger.Error("open state store failed", map[string]string{
			"path":  server.StateFilePath(cfg),
			"error": err.Error(),
		})
		return 1
	}
	dataStore.SetEventBus(eventBus)

	skills := skill.NewStore(server.SkillsFilePath(cfg), logger)
	if err := skills.Load(); err != nil {
		logger.Error("load skills failed", map[string]string{
			"path":  skills.Path(),
			"error": err.Error(),
		})
		return 1
	}
	if cfg.SeedSkills {
		seeded, seedError := skills.Seed(skill.SeedDefinitions)
		if seedError != nil {
			logger.Warn("seed skills failed", map[string]string{
				"error": seedError.Error(),
			})
		} else if seeded > 0 {
			logger.Info("skills seeded", map[string]string{
				"count": strconv.Itoa(seeded),
			})
		}
	}
	logger.Info("skills loaded", map[string]string{
		"count": strconv.Itoa(len(skills.All())),
	})
	stopSkillWatch, watchError := skills.Watch()
	if watchError != nil {
		logger.Warn("skill watcher unavailable", map[string]string{
			"error": watchError.Error(),
		})
	}
	if stopSkillWatch != nil {
		defer stopSkillWatch()
	}

	var host *githost.Client
	if cfg.HostToken != "" && cfg.HostOwner != "" {
		var hostError error
		host, hostError = githost.New(cfg.HostToken, cfg.HostOwner, cfg.HostBaseURL, nil)
		if hostError != nil {
			logger.Error("git host client failed", map[string]string{
				"owner": cfg.HostOwner,
				"error": hostError.Error(),
			})
			return 1
		}
		logger.Info("git host configured", map[string]string{
			"owner": cfg.HostOwner,
		})
	} else {
		logger.Warn("git host not configured; spec runs will fail until --host-token and --host-owner are set", nil)
	}

	var notifier notify.Notifier = notify.LogNotifier{Logger: logger}
	if cfg.MailAPIKey != "" && cfg.MailFrom != "" {
		mailClient, mailError := notify.NewMailClient(cfg.MailAPIKey, cfg.MailFrom, "", nil)
		if mailError != nil {
			logger.Warn("mail client unavailable; logging notifications instead", map[string]string{
				"error": mailError.Error(),
			})
		} else {
			notifier = mailClient
		}
	}

	specActivities := activities.NewSpecActivities(dataStore, skills, host, notifier, cfg.WebhookURL, cfg.WebhookSecret, logger)

	workerStarted := false
	if temporalEnabled && temporalClient != nil {
		workerError := temporalworker.StartWorker(temporalClient, specActivities)
		if workerError != nil {
			logger.Warn("temporal worker start failed", map[string]string{
				"error": workerError.Error(),
			})
		} else {
			workerStarted = true
		}
	}
	if workerStarted {
		defer temporalworker.StopWorker()
	}

	runner := &temporal.Runner{
		Client:        temporalClient,
		QuestionIssue: cfg.QuestionIssue,
		WaitTimeout:   time.Duration(cfg.WaitTimeoutDays) * 24 * time.Hour,
	}

	mux := http.NewServeMux()
	api.RegisterRoutes(mux, dataStore, skills, runner, eventBus, api.RoutesConfig{
		AuthToken:     cfg.AuthToken,
		WebhookSecret: cfg.WebhookSecret,
		ArchiveDir:    server.ArchiveDir(cfg),
	}, logger)

	listener, listenPort, err := listenOnPort(cfg.ListenPort)
	if err != nil {
		logger.Error("listen failed", map[string]string{
			"port":  strconv.Itoa(cfg.ListenPort),
			"error": err.Error(),
		})
		return 1
	}
	httpServer := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	logger.Info("flowspec listening", map[string]string{
		"addr":    ":" + strconv.Itoa(listenPort),
		"version": version.Version,
	})

	stopSignals := make(chan os.Signal, 1)
	signal.Notify(stopSignals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stopSignals)

	serveErrors := make(chan error, 1)
	go func() {
		serveErrors <- httpServer.Serve(listener)
	}()

	select {
	case sig := <-stopSignals:
		logger.Info("shutdown signal received", map[string]string{
			"signal": sig.String(),
		})
	case serveError := <-serveErrors:
		if serveError != nil && !errors.Is(serveError, http.ErrServerClosed) {
			logger.Error("http server stopped", map[string]string{
				"error": serveError.Error(),
			})
			return 1
		}
		return 0
	}

	shutdownContext, cancel := context.WithTimeout(context.Background(), httpServerShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownContext); err != nil {
		logger.Warn("http server shutdown failed", map[string]string{
			"error": err.Error(),
		})
	}
	return 0
}

func listenOnPort(port int) (net.Listener, int, error) {
	listener, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return nil, 0, err
	}
	tcpAddress, ok := listener.Addr().(*net.TCPAddr)
	if !ok {
		_ = listener.Close()
		return nil, 0, fmt.Errorf("unexpected listener address: %T", listener.Addr())
	}
	return listener, tcpAddress.Port, nil
}
