// Command birdrest serves the configuration-management API for the BIRD
// routing daemon: a schema-validated JSON document edited through candidate
// sessions and translated into the daemon's native configuration.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/birdrest/birdrest/core/config"
	"github.com/birdrest/birdrest/core/errlog"
	"github.com/birdrest/birdrest/core/executor"
	"github.com/birdrest/birdrest/core/render"
	"github.com/birdrest/birdrest/core/schema"
	"github.com/birdrest/birdrest/core/server"
	"github.com/birdrest/birdrest/core/serviceconfig"
	"github.com/birdrest/birdrest/core/session"
	"github.com/birdrest/birdrest/core/store"
)

// version is stamped at release time via ldflags.
var version = "0.0.0-dev"

const (
	exitOK      = 0
	exitFailure = 1
)

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(arguments []string, stderr io.Writer) int {
	flags := pflag.NewFlagSet("birdrest", pflag.ContinueOnError)
	flags.SetOutput(stderr)
	address := flags.StringP("address", "a", "", "host binding address (hostname or IP address)")
	port := flags.Uint16P("port", "p", 0, "host binding port")
	configPath := flags.StringP("config", "c", "", "running configuration document file")
	schemaPath := flags.StringP("schema", "s", "", "configuration schema file")
	execCommand := flags.StringP("exec", "e", "", "command addressing the daemon's control utility (e.g. \"birdc\" or a container-exec wrapper)")
	targetPath := flags.StringP("target", "t", "", "rendered target configuration file")
	serviceConfigPath := flags.String("service-config", "", "optional service defaults file (YAML)")
	logLevel := flags.String("log-level", "info", "log level: debug, info, warn, error")
	showVersion := flags.Bool("version", false, "print the version and exit")

	if err := flags.Parse(arguments); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return exitOK
		}
		return exitFailure
	}
	if *showVersion {
		fmt.Fprintln(stderr, "birdrest", version)
		return exitOK
	}
	if *configPath == "" || *schemaPath == "" || *address == "" || *port == 0 {
		fmt.Fprintln(stderr, "the --address, --port, --config, and --schema flags are required")
		flags.PrintDefaults()
		return exitFailure
	}
	if (*execCommand == "") != (*targetPath == "") {
		fmt.Fprintln(stderr, "the --exec and --target flags must be given together")
		return exitFailure
	}

	defaults, err := serviceconfig.Load(*serviceConfigPath, *serviceConfigPath == "")
	if err != nil {
		fmt.Fprintf(stderr, "load service config: %v\n", err)
		return exitFailure
	}

	ring := errlog.NewRing(defaults.ErrLogCapacity())
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: parseLogLevel(*logLevel)}))
	logger.Info("starting birdrest", "version", version)

	validator, err := schema.NewValidator(store.NewJSONFileStore(*schemaPath, logger), logger)
	if err != nil {
		logger.Error("load schema", "path", *schemaPath, "error", err)
		return exitFailure
	}

	runningStore := store.NewJSONFileStore(*configPath, logger)
	running := config.NewManager(runningStore, logger)
	if err := running.Load(); err != nil {
		logger.Error("load running config", "path", *configPath, "error", err)
		return exitFailure
	}
	startupData, err := running.Serialize()
	if err != nil {
		logger.Error("serialize running config", "error", err)
		return exitFailure
	}
	if err := validator.Validate(startupData); err != nil {
		logger.Error("running config rejected by schema", "error", err)
		return exitFailure
	}
	logger.Info("loaded running config", "path", *configPath, "fingerprint", running.Fingerprint())

	var targetStore store.Store
	var birdExec executor.Executor
	if *execCommand != "" {
		fileStore := store.NewFileStore(*targetPath, logger)
		rendered, err := render.Render(running.Document())
		if err != nil {
			logger.Error("render running config", "error", err)
			return exitFailure
		}
		if err := fileStore.Save(rendered); err != nil {
			logger.Error("write target config", "path", *targetPath, "error", err)
			return exitFailure
		}
		birdc := executor.NewBirdExecutor(*execCommand, *targetPath, logger)
		if err := birdc.Validate(context.Background()); err != nil {
			logger.Error("external validation of startup config", "error", err)
			return exitFailure
		}
		targetStore = fileStore
		birdExec = birdc
		logger.Info("validated startup config externally", "target", *targetPath)
	}

	sessions := session.NewCoordinator(defaults.SessionTimeout(), session.DefaultReaperInterval, logger)
	sessions.Start()
	defer sessions.Stop()

	dispatcher := server.New(server.Options{
		Sessions:              sessions,
		Running:               running,
		Schema:                validator,
		RunningStore:          runningStore,
		TargetStore:           targetStore,
		Executor:              birdExec,
		ErrLog:                ring,
		Logger:                logger,
		IdleCandidateTimeout:  defaults.IdleCandidateTimeout(),
		ConfirmDefaultTimeout: defaults.ConfirmDefaultTimeout(),
	})

	httpServer := &http.Server{
		Addr:              net.JoinHostPort(*address, strconv.Itoa(int(*port))),
		Handler:           dispatcher.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "address", httpServer.Addr)
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("serve", "error", err)
			return exitFailure
		}
	case <-ctx.Done():
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", "error", err)
			return exitFailure
		}
	}
	return exitOK
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
