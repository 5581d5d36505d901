package main

import (
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/procfleet/procfleet/cmd"
	"github.com/procfleet/procfleet/internal/api"
	"github.com/procfleet/procfleet/internal/config"
	"github.com/procfleet/procfleet/internal/events"
	"github.com/procfleet/procfleet/internal/logging"
	"github.com/procfleet/procfleet/internal/metrics"
	"github.com/procfleet/procfleet/internal/metrics/exporters"
	"github.com/procfleet/procfleet/internal/reload"
	"github.com/procfleet/procfleet/internal/supervisor"
	"github.com/procfleet/procfleet/internal/systemd"
)

// Options for the CLI - flat structure with toml mapping.
type Options struct {
	Config string `help:"Path to configuration file" short:"c" default:"config.toml"`

	// Fleet definition
	FleetFile string `help:"Fleet definition file" short:"f" default:"fleet.toml" toml:"fleet.file" env:"FLEET_FILE"`

	// Control API settings
	APIEnabled bool   `help:"Enable the control API" default:"true" toml:"api.enabled" env:"API_ENABLED"`
	APIPort    string `help:"Control API listen address" short:"p" default:":8090" toml:"api.port" env:"API_PORT"`

	// Auth settings
	AuthUsername string `help:"Basic auth username" default:"" toml:"auth.username" env:"AUTH_USERNAME"`
	AuthPassword string `help:"Basic auth password" default:"" toml:"auth.password" env:"AUTH_PASSWORD"`

	// Metrics settings
	MetricsEnabled bool `help:"Enable Prometheus metrics" default:"true" toml:"metrics.enabled" env:"METRICS_ENABLED"`

	// Logging settings
	LoggingLevel      string `help:"Global logging level (debug, info, warn, error)" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat     string `help:"Logging format (text, json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingSupervisor string `help:"Supervisor logging level" default:"info" toml:"logging.supervisor" env:"LOGGING_SUPERVISOR"`
	LoggingAPI        string `help:"API logging level" default:"info" toml:"logging.api" env:"LOGGING_API"`
	LoggingReload     string `help:"Auto-reload logging level" default:"info" toml:"logging.reload" env:"LOGGING_RELOAD"`
}

func main() {
	var cli humacli.CLI
	cli = humacli.New(func(hooks humacli.Hooks, opts *Options) {
		// The setup callback runs from cli.Run, after cli is assigned.
		if loadErr := config.LoadConfig(opts, cli.Root()); loadErr != nil {
			slog.Warn("Failed to load config", "error", loadErr)
		}

		// TOML [logging.modules] first, then the flag-covered modules on top.
		loggingConfig := config.LoadLoggingConfig(opts.Config)
		loggingConfig.Level = opts.LoggingLevel
		loggingConfig.Format = opts.LoggingFormat
		loggingConfig.Modules["supervisor"] = opts.LoggingSupervisor
		loggingConfig.Modules["api"] = opts.LoggingAPI
		loggingConfig.Modules["reload"] = opts.LoggingReload
		logging.Initialize(loggingConfig)
		logger := logging.GetLogger("main")

		fleet, err := config.LoadFleet(opts.FleetFile)
		if err != nil {
			logger.Error("Failed to load fleet definition", "file", opts.FleetFile, "error", err)
			os.Exit(1)
		}

		// Shared plumbing: the control channel carries wire commands from
		// every producer, the state table carries per-process state, the
		// bus carries notifications outward.
		eventBus := events.New()
		control := supervisor.NewPubsub()
		table := supervisor.NewStateTable()

		mgr, err := supervisor.New(supervisor.Config{
			Workers: fleet.Server.Workers,
			ServerTarget: supervisor.Target{
				Command: fleet.Server.Command,
				Env:     fleet.Server.Env,
				Dir:     fleet.Server.Dir,
			},
			AckThreshold:    fleet.Ack.Threshold,
			PollInterval:    config.Duration(fleet.Ack.PollInterval, 100*time.Millisecond),
			GracefulTimeout: config.Duration(fleet.Timeout.Graceful, 5*time.Second),
			KillTimeout:     config.Duration(fleet.Timeout.Kill, 5*time.Second),
			RestartDebounce: config.Duration(fleet.Timeout.RestartDebounce, time.Second),
			HandleSignals:   true,
		}, control, table, eventBus, logging.GetLogger("supervisor"))
		if err != nil {
			logger.Error("Failed to create manager", "error", err)
			os.Exit(1)
		}

		for _, w := range fleet.Workers {
			workers := w.Workers
			if workers == 0 {
				workers = 1
			}
			target := supervisor.Target{Command: w.Command, Env: w.Env, Dir: w.Dir}
			mgr.Manage(w.Name, target, w.Transient, workers)
		}

		var recorder *metrics.Recorder
		if opts.MetricsEnabled {
			recorder = metrics.NewRecorder(eventBus, logger)
		}

		notifier := systemd.NewNotifier(eventBus, logger)

		var server *api.Server
		if opts.APIEnabled {
			apiOpts := &api.Options{
				AuthUsername: opts.AuthUsername,
				AuthPassword: opts.AuthPassword,
				Control:      control,
				Table:        table,
			}
			if opts.MetricsEnabled {
				apiOpts.PrometheusHandler = exporters.HTTPHandler()
			}
			server = api.NewServer(apiOpts)
		}

		var reloader *reload.Reloader
		if fleet.Reload.Enabled && len(fleet.Reload.Paths) > 0 {
			reloader = reload.New(reload.Options{
				Paths:        fleet.Reload.Paths,
				StartupFirst: fleet.Reload.StartupFirst,
				Debounce:     config.Duration(fleet.Reload.Debounce, 0),
			}, control, logging.GetLogger("reload"))
		}

		hooks.OnStart(func() {
			if recorder != nil {
				recorder.Start()
			}
			if reloader != nil {
				if startErr := reloader.Start(); startErr != nil {
					logger.Warn("Failed to start auto-reload watcher", "error", startErr)
				}
			}
			if server != nil {
				go func() {
					if startErr := server.Start(opts.APIPort); startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
						logger.Error("Failed to start control API server", "error", startErr)
					}
				}()
			}

			logger.Info("Starting fleet",
				"servers", fleet.Server.Workers,
				"workers", len(fleet.Workers))
			runErr := mgr.Run()
			if runErr != nil {
				logger.Error("Fleet exited with error", "error", runErr)
			}

			// The fleet is done; tear the outer surfaces down and leave.
			if server != nil {
				_ = server.Stop()
			}
			if reloader != nil {
				_ = reloader.Stop()
			}
			if recorder != nil {
				recorder.Stop()
			}
			notifier.Close()
			if runErr != nil {
				os.Exit(1)
			}
		})

		hooks.OnStop(func() {
			// Reached when the CLI layer intercepts a signal before the
			// manager's own handler; route it the same way.
			control.Send(supervisor.MsgTerminate)
		})
	})

	cli.Root().AddCommand(cmd.CreateValidateCmd())

	cli.Run()
}
