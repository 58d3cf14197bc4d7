package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/frosk-go/frosk/internal/config"
)

const version = "0.1.0"

func init() {
	// systray and the hotkey backend on macOS must run on the main thread
	runtime.LockOSThread()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := &options{v: viper.New()}
	root := rootCommand(opts)

	err := root.ExecuteContext(ctx)
	if opts.sentry {
		if err != nil {
			sentry.CaptureException(err)
		}
		sentry.Flush(2 * time.Second)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "frosk: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// options carries the resolved configuration into the subcommands
type options struct {
	v          *viper.Viper
	configPath string
	config     *config.Config
	sentry     bool
}

func rootCommand(opts *options) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "frosk",
		Short:         "Detect a reference sound in live audio and answer with key presses",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", config.GetConfigPath(), "Path to the YAML config file")
	flags.String("template", "", "Reference WAV file")
	flags.Float64P("threshold", "t", 0, "Detection threshold (score must exceed it)")
	flags.String("mode", "", "Detection mode: every or edge")
	flags.Duration("cooldown", 0, "Minimum time between events")
	flags.String("log-level", "", "DEBUG, INFO, WARN or ERROR")
	flags.Int("port", 0, "Status API port (0 keeps the configured port)")
	flags.Bool("no-server", false, "Disable the status API")
	flags.Bool("no-hotkey", false, "Disable the pause/resume hotkey")
	flags.Bool("no-tray", false, "Run without the system tray icon")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if err := opts.v.BindPFlags(cmd.Flags()); err != nil {
			return fmt.Errorf("error binding flags: %w", err)
		}
		opts.v.SetEnvPrefix("FROSK")
		opts.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
		opts.v.AutomaticEnv()

		path := opts.configPath
		if p := opts.v.GetString("config"); p != "" {
			path = p
		}
		opts.configPath = path

		// init writes the file the other commands load
		if cmd.Name() == "init" {
			return nil
		}

		cfg, err := config.Load(path)
		if err != nil {
			return err
		}

		if err := applyOverrides(cfg, opts.v); err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		opts.config = cfg

		if cfg.SentryDSN != "" {
			err := sentry.Init(sentry.ClientOptions{
				Dsn:              cfg.SentryDSN,
				Release:          "frosk@" + version,
				AttachStacktrace: true,
			})
			if err != nil {
				return fmt.Errorf("sentry initialization failed: %w", err)
			}
			opts.sentry = true
		}
		return nil
	}

	rootCmd.AddCommand(
		listenCommand(opts),
		replayCommand(opts),
		deviceCommand(opts),
		devicesCommand(opts),
		resolveCommand(opts),
		initCommand(opts),
	)
	return rootCmd
}

func listenCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Capture one process's audio and react to matches",
		Long: "Capture the audio rendered by a single process tree (Windows process loopback) " +
			"and run the key sequence whenever the reference sound is detected.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.config.Source = config.SourceProcess
			return runApp(cmd.Context(), opts, opts.v.GetBool("no-tray"))
		},
	}
	cmd.Flags().String("window", "", "Title of the window whose process is captured")
	cmd.Flags().Int("pid", 0, "Process id to capture (wins over --window)")
	return cmd
}

func replayCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "replay [input.wav]",
		Short: "Replay a WAV file through the detector",
		Long:  "Replay a WAV file in real-time sized chunks as if it were captured live.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.config.Source = config.SourceFile
			opts.v.Set("file", args[0])
			return runApp(cmd.Context(), opts, true)
		},
	}
	cmd.Flags().Bool("loop", false, "Restart from the beginning after the last chunk")
	cmd.Flags().Bool("fast", false, "Deliver chunks without real-time pacing")
	cmd.Flags().Bool("dry-run", false, "Log events instead of pressing keys")
	return cmd
}

func deviceCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "device",
		Short: "Capture an input or loopback device instead of one process",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch b := opts.v.GetString("backend"); b {
			case "portaudio":
				opts.config.Source = config.SourceDevice
			case "miniaudio":
				opts.config.Source = config.SourceLoopback
			default:
				return fmt.Errorf("unknown backend %q (want portaudio or miniaudio)", b)
			}
			if name := opts.v.GetString("name"); name != "" {
				opts.config.Device.Name = name
			}
			return runApp(cmd.Context(), opts, opts.v.GetBool("no-tray"))
		},
	}
	cmd.Flags().String("backend", "miniaudio", "portaudio or miniaudio")
	cmd.Flags().String("name", "", "Device name substring (empty selects the default)")
	return cmd
}

func devicesCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List audio capture devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listDevices(cmd.OutOrStdout())
		},
	}
}

func resolveCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "resolve [title]",
		Short: "Print the process id owning a window title, or list titled windows",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return resolveWindows(cmd.Context(), cmd.OutOrStdout(), args)
		},
	}
}

func initCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		Long:  "Write the default configuration to the config path so it can be edited and hot reloaded.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return writeDefaultConfig(cmd.OutOrStdout(), opts.configPath, opts.v.GetBool("force"))
		},
	}
	cmd.Flags().Bool("force", false, "Overwrite an existing file")
	return cmd
}
