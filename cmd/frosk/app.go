package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"text/tabwriter"

	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/frosk-go/frosk/internal/action"
	"github.com/frosk-go/frosk/internal/api"
	"github.com/frosk-go/frosk/internal/audio"
	"github.com/frosk-go/frosk/internal/audio/device"
	"github.com/frosk-go/frosk/internal/capture"
	"github.com/frosk-go/frosk/internal/config"
	"github.com/frosk-go/frosk/internal/detect"
	"github.com/frosk-go/frosk/internal/dispatch"
	"github.com/frosk-go/frosk/internal/dsp"
	"github.com/frosk-go/frosk/internal/hotkey"
	"github.com/frosk-go/frosk/internal/logger"
	"github.com/frosk-go/frosk/internal/metrics"
	"github.com/frosk-go/frosk/internal/notification"
	"github.com/frosk-go/frosk/internal/pipeline"
	"github.com/frosk-go/frosk/internal/process"
	"github.com/frosk-go/frosk/internal/queue"
	"github.com/frosk-go/frosk/internal/server"
	"github.com/frosk-go/frosk/internal/tray"
)

// ErrNoTarget is returned when listen has neither a pid nor a window title
var ErrNoTarget = errors.New("no capture target: set --pid or --window")

// App holds all application state
type App struct {
	config     *config.Config
	configPath string
	flags      *viper.Viper

	logger     *logger.Logger
	metrics    *metrics.Metrics
	pipeline   *pipeline.Pipeline
	dispatcher *dispatch.Dispatcher
	source     audio.Source
	watcher    *config.Watcher
	httpServer *server.Server
	hotkeyMgr  *hotkey.Manager
	trayMgr    *tray.Manager
	notifier   *notification.NotificationManager
}

// applyOverrides copies flag and FROSK_* environment values over the file
// configuration
func applyOverrides(cfg *config.Config, v *viper.Viper) error {
	if s := v.GetString("template"); s != "" {
		cfg.Template = s
	}
	if v.IsSet("threshold") {
		cfg.Detection.Threshold = float32(v.GetFloat64("threshold"))
	}
	if s := v.GetString("mode"); s != "" {
		cfg.Detection.Mode = s
	}
	if v.IsSet("cooldown") {
		cfg.Detection.Cooldown = v.GetDuration("cooldown")
	}
	if s := v.GetString("log-level"); s != "" {
		cfg.Log.Level = strings.ToUpper(s)
	}
	if p := v.GetInt("port"); p != 0 {
		cfg.Server.Port = p
	}
	if v.GetBool("no-server") {
		cfg.Server.Enabled = false
	}
	if v.GetBool("no-hotkey") {
		cfg.Hotkey.Enabled = false
	}
	if s := v.GetString("window"); s != "" {
		cfg.Target.Window = s
	}
	if pid := v.GetInt("pid"); pid != 0 {
		if pid < 0 {
			return fmt.Errorf("invalid pid %d", pid)
		}
		cfg.Target.PID = pid
	}
	if s := v.GetString("sentry-dsn"); s != "" {
		cfg.SentryDSN = s
	}
	return nil
}

// runApp builds the application and runs it until ctx is cancelled or a
// component fails. Without headless the tray owns the main thread.
func runApp(ctx context.Context, opts *options, headless bool) error {
	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.logger.Close()

	if headless {
		return a.run(ctx)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	started := make(chan struct{})
	errCh := make(chan error, 1)
	a.trayMgr = tray.NewManager(tray.Config{
		OnReady: func() {
			close(started)
			go func() {
				errCh <- a.run(ctx)
				a.trayMgr.Quit()
			}()
		},
		OnTogglePause: a.togglePause,
		OnStatus:      a.openStatus,
		OnQuit:        cancel,
		Logger:        a.logger,
	})
	go func() {
		<-ctx.Done()
		a.trayMgr.Quit()
	}()

	// systray.Run blocks until Quit
	a.trayMgr.Run()
	cancel()

	select {
	case <-started:
		return <-errCh
	default:
		return errors.New("system tray failed to start")
	}
}

func newApp(ctx context.Context, opts *options) (*App, error) {
	cfg := opts.config
	a := &App{config: cfg, configPath: opts.configPath, flags: opts.v}

	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	logConfig := logger.Config{
		LogDir:        cfg.Log.Dir,
		Level:         level,
		RetentionDays: cfg.Log.MaxDays,
	}
	if cfg.Log.Console {
		logConfig.Console = os.Stderr
	}
	a.logger, err = logger.New(logConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := a.build(ctx); err != nil {
		a.logger.Error("Startup failed: %v", err)
		a.logger.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.config
	a.logger.Info("frosk v%s starting (source: %s)", version, cfg.Source)

	var err error
	a.metrics, err = metrics.New()
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	templatePath, err := cfg.GetTemplatePath()
	if err != nil {
		return err
	}
	template, err := dsp.LoadTemplate(templatePath)
	if err != nil {
		return fmt.Errorf("failed to load template %s: %w", templatePath, err)
	}
	a.logger.Info("Template loaded: %s (%d samples)", templatePath, template.Len())

	engine, err := dsp.NewEngine(template, dsp.EngineConfig{NormalizeWindow: cfg.Detection.NormalizeWindow})
	if err != nil {
		return err
	}

	mode, err := detect.ParseMode(cfg.Detection.Mode)
	if err != nil {
		return err
	}
	detector := detect.New(detect.Config{
		Threshold: cfg.Detection.Threshold,
		Mode:      mode,
		Cooldown:  cfg.Detection.Cooldown,
	})

	policy, err := queue.ParsePolicy(cfg.Queue.Policy)
	if err != nil {
		return err
	}
	q := queue.New(cfg.Queue.Capacity, policy)

	a.pipeline = pipeline.New(engine, detector, q, pipeline.Config{
		HopSize:      cfg.Pipeline.HopSize,
		Retention:    cfg.Pipeline.Retention,
		EventLogSize: cfg.Pipeline.EventLogSize,
	}, a.logger, a.metrics)

	var pid int
	a.source, pid, err = a.buildSource(ctx)
	if err != nil {
		return err
	}

	var handler dispatch.Handler
	if a.flags.GetBool("dry-run") {
		handler = dispatch.HandlerFunc(func(_ context.Context, ev detect.Event) error {
			a.logger.Info("Dry run: would run key sequence for %s (score %.3f)", ev.ID, ev.Score)
			return nil
		})
	} else {
		actionConfig := action.Config{Steps: cfg.Action.Steps}
		if cfg.Action.Focus {
			actionConfig.FocusPID = pid
		}
		handler, err = action.NewKeySequence(nil, actionConfig, a.logger)
		if err != nil {
			return err
		}
	}
	a.dispatcher = dispatch.New(q, handler, dispatch.Config{PollInterval: cfg.Queue.PollInterval}, a.logger, a.metrics)

	if _, err := os.Stat(a.configPath); err == nil {
		a.watcher = config.NewWatcher(a.configPath, cfg.Clone(), a.logger)
		a.watcher.OnReload(a.applyLive)
	}

	if cfg.Server.Enabled {
		serverConfig := server.DefaultConfig()
		serverConfig.Port = cfg.Server.Port
		a.httpServer = server.New(serverConfig, a.logger)
		api.New(a.pipeline, cfg, api.Options{
			ConfigPath:  a.configPath,
			Metrics:     a.metrics.Handler(),
			ListDevices: device.List,
			Logger:      a.logger,
		}).RegisterRoutes(a.httpServer.GetMux())
	}

	if cfg.Hotkey.Enabled {
		a.hotkeyMgr = hotkey.New()
	}

	if cfg.Notify.Enabled {
		nm := notification.NewNotificationManager("frosk", cfg.Notify.MinInterval, a.logger)
		if nm.Supported() {
			a.notifier = nm
		} else {
			a.logger.Warn("Desktop notifications are not supported on %s", runtime.GOOS)
		}
	}
	a.pipeline.OnEvent(a.onEvent)
	return nil
}

// onEvent runs on the capture goroutine for every emitted event
func (a *App) onEvent(ev detect.Event) {
	if a.trayMgr != nil {
		a.trayMgr.Flash()
	}
	if a.notifier != nil {
		a.notifier.Match(ev)
	}
}

// buildSource creates the configured audio source. The returned pid is the
// capture target for process sources and 0 otherwise.
func (a *App) buildSource(ctx context.Context) (audio.Source, int, error) {
	cfg := a.config

	switch cfg.Source {
	case config.SourceProcess:
		pid, err := resolveTarget(ctx, process.NewResolver(nil, nil), cfg.Target)
		if err != nil {
			return nil, 0, err
		}
		encoding, err := audio.ParseEncoding(cfg.Capture.Encoding)
		if err != nil {
			return nil, 0, err
		}
		capConfig := capture.DefaultConfig(uint32(pid))
		capConfig.Format.Encoding = encoding
		capConfig.BufferDuration = cfg.Capture.Buffer
		capConfig.StallTimeout = cfg.Capture.StallTimeout
		capConfig.ActivationTimeout = cfg.Capture.ActivationTimeout
		capConfig.ActivationRetries = uint64(cfg.Capture.ActivationRetries)
		a.logger.Info("Capturing process %d (%s)", pid, encoding)
		return capture.NewProcessSource(nil, capConfig, a.logger, a.metrics), pid, nil

	case config.SourceDevice:
		paConfig := device.DefaultPortAudioConfig()
		paConfig.DeviceName = cfg.Device.Name
		if cfg.Device.Latency == "low" {
			paConfig.Latency = audio.LowLatency
		} else {
			paConfig.Latency = audio.HighStability
		}
		a.logger.Info("Capturing PortAudio device %q", cfg.Device.Name)
		return device.NewPortAudioSource(paConfig), 0, nil

	case config.SourceLoopback:
		lbConfig := device.DefaultLoopbackConfig()
		lbConfig.DeviceName = cfg.Device.Name
		a.logger.Info("Capturing miniaudio device %q", cfg.Device.Name)
		return device.NewLoopbackSource(lbConfig), 0, nil

	case config.SourceFile:
		path, err := config.ExpandPath(a.flags.GetString("file"))
		if err != nil {
			return nil, 0, err
		}
		src := audio.NewFileSource(path)
		src.Loop = a.flags.GetBool("loop")
		if a.flags.GetBool("fast") {
			src.Interval = 0
		}
		a.logger.Info("Replaying %s", path)
		return src, 0, nil
	}
	return nil, 0, fmt.Errorf("unknown source %q", cfg.Source)
}

// resolveTarget picks the capture pid. An explicit pid wins over a title.
func resolveTarget(ctx context.Context, r *process.Resolver, target config.TargetConfig) (int, error) {
	if target.PID > 0 {
		if err := r.Validate(ctx, target.PID); err != nil {
			return 0, err
		}
		return target.PID, nil
	}
	if target.Window == "" {
		return 0, ErrNoTarget
	}
	return r.Resolve(ctx, target.Window)
}

// run starts every component and waits for the first failure or for ctx
func (a *App) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := a.pipeline.Run(gctx, a.source)
		if err == nil && a.config.Source == config.SourceFile && gctx.Err() == nil {
			// a finished replay handles what is queued, then ends the session
			a.dispatcher.Flush(gctx)
			return errReplayDone
		}
		return err
	})
	g.Go(func() error { return a.dispatcher.Run(gctx) })

	if a.watcher != nil {
		g.Go(func() error { return a.watcher.Run(gctx) })
	}

	if a.httpServer != nil {
		g.Go(func() error { return a.httpServer.Run(gctx) })
	}

	if a.hotkeyMgr != nil {
		g.Go(func() error {
			a.runHotkey(gctx)
			return nil
		})
	}

	if a.httpServer != nil {
		a.logger.Info("Status API: %s/api/status", a.statusURL())
	}

	err := g.Wait()
	if errors.Is(err, errReplayDone) {
		err = nil
	}
	if err != nil {
		a.logger.Error("Stopped with error: %v", err)
		return err
	}
	a.logger.Info("Stopped")
	return nil
}

var errReplayDone = errors.New("replay finished")

// runHotkey registers the pause hotkey. Registration failures are logged and
// the rest of the application keeps running.
func (a *App) runHotkey(ctx context.Context) {
	hkConfig, err := hotkey.FromConfig(a.config.Hotkey)
	if err != nil {
		a.logger.Warn("Invalid hotkey, pause hotkey disabled: %v", err)
		return
	}

	for _, c := range hotkey.CheckConflicts(hkConfig.Modifiers, hkConfig.Key) {
		a.logger.Warn("Hotkey %s conflicts with %s (%s)", hkConfig, c.Name, c.Description)
	}
	actionKeys := make([]string, 0, len(a.config.Action.Steps))
	for _, s := range a.config.Action.Steps {
		actionKeys = append(actionKeys, s.Key)
	}
	if c, ok := hotkey.CheckActionConflict(hkConfig.Modifiers, hkConfig.Key, actionKeys); ok {
		a.logger.Warn("Hotkey %s is %s; every match would toggle pause", hkConfig, c.Description)
	}

	a.logger.Info("Pause hotkey: %s", hkConfig)
	err = a.hotkeyMgr.Run(ctx, hkConfig, func() { a.togglePause() })
	if err != nil {
		a.logger.Warn("Hotkey registration failed: %v", err)
	}
}

func (a *App) togglePause() bool {
	paused := a.pipeline.Toggle()
	if a.trayMgr != nil {
		a.trayMgr.SetPaused(paused)
	}
	return paused
}

// applyLive pushes reloaded settings into the running components
func (a *App) applyLive(c *config.Config) {
	a.pipeline.SetThreshold(c.Detection.Threshold)
	a.pipeline.SetCooldown(c.Detection.Cooldown)
	if level, err := logger.ParseLevel(c.Log.Level); err == nil {
		a.logger.SetLevel(level)
	}
	a.logger.Info("Applied reloaded settings: threshold %.3f, cooldown %s, log level %s",
		c.Detection.Threshold, c.Detection.Cooldown, c.Log.Level)
}

func (a *App) statusURL() string {
	if a.httpServer == nil {
		return ""
	}
	return a.httpServer.URL()
}

// openStatus opens the status endpoint in the default browser
func (a *App) openStatus() {
	if a.httpServer == nil || !a.httpServer.IsRunning() {
		a.logger.Warn("Status API is not running")
		return
	}
	url := a.statusURL() + "/api/status"

	go func() {
		var cmd *exec.Cmd
		switch runtime.GOOS {
		case "darwin":
			cmd = exec.Command("open", url)
		case "windows":
			cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
		default:
			cmd = exec.Command("xdg-open", url)
		}
		if err := cmd.Run(); err != nil {
			a.logger.Error("Failed to open browser: %v", err)
			fmt.Printf("Status: %s\n", url)
		}
	}()
}

func listDevices(w io.Writer) error {
	devices, err := device.List()
	if len(devices) == 0 && err != nil {
		return err
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "BACKEND\tID\tDEFAULT\tNAME")
	for _, d := range devices {
		def := ""
		if d.IsDefault {
			def = "*"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", d.Backend, d.ID, def, d.Name)
	}
	return tw.Flush()
}

func resolveWindows(ctx context.Context, w io.Writer, args []string) error {
	r := process.NewResolver(nil, nil)

	if len(args) == 1 {
		pid, err := r.Resolve(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintln(w, pid)
		return nil
	}

	windows, err := r.Windows(ctx)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PID\tNAME\tTITLE")
	for _, win := range windows {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", win.PID, win.Name, win.Title)
	}
	return tw.Flush()
}
