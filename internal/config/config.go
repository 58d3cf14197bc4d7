package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/frosk-go/frosk/internal/action"
	"github.com/frosk-go/frosk/internal/audio"
	"github.com/frosk-go/frosk/internal/detect"
	"github.com/frosk-go/frosk/internal/logger"
	"github.com/frosk-go/frosk/internal/queue"
)

// Source kinds
const (
	SourceProcess  = "process"
	SourceDevice   = "device"
	SourceLoopback = "loopback"
	SourceFile     = "file"
)

// Config holds application configuration
type Config struct {
	Source    string          `yaml:"source" json:"source"` // "process", "device", "loopback" or "file"
	Template  string          `yaml:"template" json:"template"`
	Target    TargetConfig    `yaml:"target" json:"target"`
	Capture   CaptureConfig   `yaml:"capture" json:"capture"`
	Device    DeviceConfig    `yaml:"device" json:"device"`
	Detection DetectionConfig `yaml:"detection" json:"detection"`
	Pipeline  PipelineConfig  `yaml:"pipeline" json:"pipeline"`
	Queue     QueueConfig     `yaml:"queue" json:"queue"`
	Action    ActionConfig    `yaml:"action" json:"action"`
	Hotkey    HotkeyConfig    `yaml:"hotkey" json:"hotkey"`
	Notify    NotifyConfig    `yaml:"notify" json:"notify"`
	Server    ServerConfig    `yaml:"server" json:"server"`
	Log       LogConfig       `yaml:"log" json:"log"`
	SentryDSN string          `yaml:"sentry_dsn" json:"-"`
	mu        sync.RWMutex
}

// TargetConfig selects the process to capture. PID wins over Window.
type TargetConfig struct {
	Window string `yaml:"window" json:"window"`
	PID    int    `yaml:"pid" json:"pid"`
}

// CaptureConfig holds process loopback settings
type CaptureConfig struct {
	Encoding          string        `yaml:"encoding" json:"encoding"` // "int32" or "float32"
	Buffer            time.Duration `yaml:"buffer" json:"buffer"`
	StallTimeout      time.Duration `yaml:"stall_timeout" json:"stall_timeout"`
	ActivationTimeout time.Duration `yaml:"activation_timeout" json:"activation_timeout"`
	ActivationRetries int           `yaml:"activation_retries" json:"activation_retries"`
}

// DeviceConfig holds settings for the PortAudio and miniaudio sources
type DeviceConfig struct {
	Name    string `yaml:"name" json:"name"`
	Latency string `yaml:"latency" json:"latency"` // "low" or "stable"
}

// DetectionConfig holds detector settings
type DetectionConfig struct {
	Threshold       float32       `yaml:"threshold" json:"threshold"`
	Mode            string        `yaml:"mode" json:"mode"`
	Cooldown        time.Duration `yaml:"cooldown" json:"cooldown"`
	NormalizeWindow bool          `yaml:"normalize_window" json:"normalize_window"`
}

// PipelineConfig holds scoring and history settings
type PipelineConfig struct {
	HopSize      int `yaml:"hop_size" json:"hop_size"`
	Retention    int `yaml:"retention" json:"retention"`
	EventLogSize int `yaml:"event_log_size" json:"event_log_size"`
}

// QueueConfig holds event queue settings
type QueueConfig struct {
	Capacity     int           `yaml:"capacity" json:"capacity"`
	Policy       string        `yaml:"policy" json:"policy"`
	PollInterval time.Duration `yaml:"poll_interval" json:"poll_interval"`
}

// ActionConfig holds the key sequence run on a match
type ActionConfig struct {
	Steps []action.Step `yaml:"steps" json:"steps"`
	// Focus brings the target process to the front before pressing keys
	Focus bool `yaml:"focus" json:"focus"`
}

// HotkeyConfig holds the pause/resume hotkey
type HotkeyConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Ctrl    bool   `yaml:"ctrl" json:"ctrl"`
	Shift   bool   `yaml:"shift" json:"shift"`
	Alt     bool   `yaml:"alt" json:"alt"`
	Cmd     bool   `yaml:"cmd" json:"cmd"`
	Key     string `yaml:"key" json:"key"` // e.g., "P"
}

// NotifyConfig controls desktop notifications on matches
type NotifyConfig struct {
	Enabled     bool          `yaml:"enabled" json:"enabled"`
	MinInterval time.Duration `yaml:"min_interval" json:"min_interval"`
}

// ServerConfig holds the local status API settings
type ServerConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	Port    int  `yaml:"port" json:"port"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level   string `yaml:"level" json:"level"`
	Dir     string `yaml:"dir" json:"dir"`
	MaxDays int    `yaml:"max_days" json:"max_days"`
	Console bool   `yaml:"console" json:"console"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	det := detect.DefaultConfig()
	return &Config{
		Source:   SourceProcess,
		Template: "reference.wav",
		Capture: CaptureConfig{
			Encoding:          string(audio.EncodingInt32),
			Buffer:            20 * time.Millisecond,
			StallTimeout:      100 * time.Second,
			ActivationTimeout: 10 * time.Second,
			ActivationRetries: 3,
		},
		Device: DeviceConfig{
			Name:    "Stereo Mix",
			Latency: "low",
		},
		Detection: DetectionConfig{
			Threshold: det.Threshold,
			Mode:      string(det.Mode),
			Cooldown:  det.Cooldown,
		},
		Pipeline: PipelineConfig{
			HopSize:      10,
			Retention:    8000,
			EventLogSize: 256,
		},
		Queue: QueueConfig{
			Capacity:     queue.DefaultCapacity,
			Policy:       string(queue.DropOldest),
			PollInterval: 50 * time.Millisecond,
		},
		Action: ActionConfig{
			Steps: action.DefaultSteps(),
		},
		Hotkey: HotkeyConfig{
			Enabled: true,
			Ctrl:    true,
			Alt:     true,
			Key:     "P",
		},
		Notify: NotifyConfig{
			MinInterval: 5 * time.Second,
		},
		Server: ServerConfig{
			Enabled: true,
			Port:    18765,
		},
		Log: LogConfig{
			Level:   "INFO",
			Dir:     filepath.Join(configDir(), "logs"),
			MaxDays: 7,
			Console: true,
		},
	}
}

// Load loads configuration from the specified path. Fields missing from the
// file keep their defaults.
func Load(path string) (*Config, error) {
	// If file doesn't exist, return default config
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return DefaultConfig(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if config.Hotkey.Key == "" {
		config.Hotkey.Key = "P"
	}
	if len(config.Action.Steps) == 0 {
		config.Action.Steps = action.DefaultSteps()
	}

	return config, nil
}

// Save saves configuration to the specified path
func (c *Config) Save(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// SaveUpdates applies updates to the configuration stored at path and writes
// it back. Values that only live in memory, such as flag and environment
// overrides, never reach the file.
func SaveUpdates(path string, updates map[string]interface{}) error {
	stored, err := Load(path)
	if err != nil {
		return err
	}
	if err := stored.Update(updates); err != nil {
		return err
	}
	return stored.Save(path)
}

func configDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "frosk")
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

// Update applies the live-tunable settings in updates. Values arrive decoded
// from JSON, so numbers are float64 and durations are strings.
func (c *Config) Update(updates map[string]interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.Detection
	level := c.Log.Level

	for key, value := range updates {
		switch key {
		case "threshold":
			v, ok := value.(float64)
			if !ok {
				return fmt.Errorf("invalid threshold: %v", value)
			}
			next.Threshold = float32(v)
		case "cooldown":
			v, ok := value.(string)
			if !ok {
				return fmt.Errorf("invalid cooldown: %v", value)
			}
			d, err := time.ParseDuration(v)
			if err != nil || d < 0 {
				return fmt.Errorf("invalid cooldown: %s", v)
			}
			next.Cooldown = d
		case "log_level":
			v, ok := value.(string)
			if !ok {
				return fmt.Errorf("invalid log_level: %v", value)
			}
			if _, err := logger.ParseLevel(v); err != nil {
				return fmt.Errorf("invalid log_level: %s", v)
			}
			level = strings.ToUpper(v)
		default:
			return fmt.Errorf("setting %q cannot be changed at runtime", key)
		}
	}

	c.Detection = next
	c.Log.Level = level
	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return &Config{
		Source:    c.Source,
		Template:  c.Template,
		Target:    c.Target,
		Capture:   c.Capture,
		Device:    c.Device,
		Detection: c.Detection,
		Pipeline:  c.Pipeline,
		Queue:     c.Queue,
		Action: ActionConfig{
			Steps: append([]action.Step(nil), c.Action.Steps...),
			Focus: c.Action.Focus,
		},
		Hotkey:    c.Hotkey,
		Notify:    c.Notify,
		Server:    c.Server,
		Log:       c.Log,
		SentryDSN: c.SentryDSN,
	}
}

// ExpandPath expands ~ to home directory in file paths
func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(homeDir, path[2:]), nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	return absPath, nil
}

// GetTemplatePath returns the expanded reference waveform path
func (c *Config) GetTemplatePath() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return ExpandPath(c.Template)
}

// ValidateTemplatePath checks that the reference waveform file exists
func (c *Config) ValidateTemplatePath() error {
	path, err := c.GetTemplatePath()
	if err != nil {
		return fmt.Errorf("failed to expand template path: %w", err)
	}
	if path == "" {
		return fmt.Errorf("template path is not set")
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return fmt.Errorf("template file not found: %s", path)
	}
	if err != nil {
		return fmt.Errorf("failed to check template file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("template path is a directory, not a file: %s", path)
	}
	if !strings.EqualFold(filepath.Ext(path), ".wav") {
		return fmt.Errorf("template file must have .wav extension: %s", path)
	}

	return nil
}

// Validate validates all configuration fields
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	switch c.Source {
	case SourceProcess, SourceDevice, SourceLoopback, SourceFile:
	default:
		return fmt.Errorf("invalid source: %s (must be 'process', 'device', 'loopback' or 'file')", c.Source)
	}

	if c.Target.PID < 0 {
		return fmt.Errorf("invalid target pid: %d", c.Target.PID)
	}

	if _, err := audio.ParseEncoding(c.Capture.Encoding); err != nil {
		return err
	}
	if c.Capture.Buffer <= 0 || c.Capture.StallTimeout <= 0 || c.Capture.ActivationTimeout <= 0 {
		return fmt.Errorf("capture buffer, stall_timeout and activation_timeout must be positive")
	}
	if c.Capture.ActivationRetries < 0 || c.Capture.ActivationRetries > 10 {
		return fmt.Errorf("invalid activation_retries: %d (must be between 0 and 10)", c.Capture.ActivationRetries)
	}

	if c.Device.Latency != "low" && c.Device.Latency != "stable" {
		return fmt.Errorf("invalid device latency: %s (must be 'low' or 'stable')", c.Device.Latency)
	}

	if _, err := detect.ParseMode(c.Detection.Mode); err != nil {
		return err
	}
	if c.Detection.Cooldown < 0 {
		return fmt.Errorf("invalid cooldown: %v", c.Detection.Cooldown)
	}

	if c.Pipeline.HopSize < 0 {
		return fmt.Errorf("invalid hop_size: %d", c.Pipeline.HopSize)
	}
	if c.Pipeline.Retention <= 0 || c.Pipeline.EventLogSize <= 0 {
		return fmt.Errorf("retention and event_log_size must be positive")
	}

	if c.Queue.Capacity <= 0 || c.Queue.Capacity > 1024 {
		return fmt.Errorf("invalid queue capacity: %d (must be between 1 and 1024)", c.Queue.Capacity)
	}
	if _, err := queue.ParsePolicy(c.Queue.Policy); err != nil {
		return err
	}
	if c.Queue.PollInterval <= 0 {
		return fmt.Errorf("invalid poll_interval: %v", c.Queue.PollInterval)
	}

	if err := action.Validate(c.Action.Steps); err != nil {
		return fmt.Errorf("invalid action: %w", err)
	}

	if c.Hotkey.Enabled && c.Hotkey.Key == "" {
		return fmt.Errorf("hotkey key cannot be empty")
	}

	if c.Notify.MinInterval < 0 {
		return fmt.Errorf("invalid notify min_interval: %v", c.Notify.MinInterval)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}
	if c.Log.MaxDays < 0 {
		return fmt.Errorf("invalid log max_days: %d", c.Log.MaxDays)
	}

	return nil
}
