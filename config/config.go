package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config represents a flux.yaml configuration file. All values are
// optional; zero values are filled in by Default-derived fallbacks.
// CLI flags always override config values.
type Config struct {
	DownloadDir    string        `yaml:"download_dir"`
	StateDir       string        `yaml:"state_dir"`
	MaxActiveTasks int           `yaml:"max_active_tasks"`
	AutoStart      *bool         `yaml:"auto_start"`
	LogLevel       string        `yaml:"log_level"`
	HTTP           HTTPConfig    `yaml:"http"`
	Tuning         TuningConfig  `yaml:"tuning"`
	Adapter        AdapterConfig `yaml:"adapter"`
	API            APIConfig     `yaml:"api"`
}

// HTTPConfig holds HTTP client settings.
type HTTPConfig struct {
	// Timeout bounds each individual request, including range requests.
	Timeout Duration `yaml:"timeout"`
	// ProbeRetries is the retry count for metadata probes. Chunk
	// requests are retried by the coordinator, not the client.
	ProbeRetries int `yaml:"probe_retries"`
	// MaxIdleConnsPerHost sets the connection pool size per host.
	MaxIdleConnsPerHost int `yaml:"max_idle_conns_per_host"`
	// UserAgent is sent on every request.
	UserAgent string `yaml:"user_agent"`
}

// TuningConfig holds the adaptation thresholds. The values here are
// representative defaults, not contractual constants.
type TuningConfig struct {
	// InitialConnections is the worker count a transfer starts with.
	InitialConnections int `yaml:"initial_connections"`
	// MaxConnections is the connection-count ceiling.
	MaxConnections int `yaml:"max_connections"`
	// MinChunkSize / MaxChunkSize bound chunk-size adaptation, in bytes.
	MinChunkSize int64 `yaml:"min_chunk_size"`
	MaxChunkSize int64 `yaml:"max_chunk_size"`
	// HighErrorRate halves connections when exceeded.
	HighErrorRate float64 `yaml:"high_error_rate"`
	// LowErrorRate permits connection doubling when undercut.
	LowErrorRate float64 `yaml:"low_error_rate"`
	// SpeedHeadroom is the relative current-vs-previous speed margin
	// that counts as "throughput still climbing".
	SpeedHeadroom float64 `yaml:"speed_headroom"`
	// StableCV / UnstableCV classify the stability metric (coefficient
	// of variation of recent throughput samples).
	StableCV   float64 `yaml:"stable_cv"`
	UnstableCV float64 `yaml:"unstable_cv"`
	// HighRTT / LowRTT classify probe round-trip time.
	HighRTT Duration `yaml:"high_rtt"`
	LowRTT  Duration `yaml:"low_rtt"`
	// GrowthFactor multiplies/divides chunk size on adaptation.
	GrowthFactor int64 `yaml:"growth_factor"`
	// EvaluateInterval is the decision engine cadence while Active.
	EvaluateInterval Duration `yaml:"evaluate_interval"`
	// Cooldown is the minimum spacing between decisions per dimension.
	Cooldown Duration `yaml:"cooldown"`
	// RetryBudget is the per-chunk attempt limit.
	RetryBudget int `yaml:"retry_budget"`
	// RetryBackoff is the base backoff between chunk attempts.
	RetryBackoff Duration `yaml:"retry_backoff"`
	// ErrorWindow is the trailing attempt count for the error rate.
	ErrorWindow int `yaml:"error_window"`
	// SpeedWindow is the trailing sample count for speed statistics.
	SpeedWindow int `yaml:"speed_window"`
	// ProbeInterval is the low-frequency health probe cadence.
	ProbeInterval Duration `yaml:"probe_interval"`
	// RTTSmoothing is the EMA factor for probe RTT samples.
	RTTSmoothing float64 `yaml:"rtt_smoothing"`
}

// AdapterConfig configures the optional terminal-event publisher.
type AdapterConfig struct {
	Type    string            `yaml:"type"` // "webhook" or "redis"
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// APIConfig configures the REST control surface.
type APIConfig struct {
	Listen string `yaml:"listen"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// MarshalYAML renders the duration in time.Duration string form.
func (d Duration) MarshalYAML() (any, error) {
	return d.Duration.String(), nil
}

// Default returns a fully populated configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	autoStart := true
	return &Config{
		DownloadDir:    filepath.Join(home, "Downloads"),
		StateDir:       filepath.Join(home, ".flux"),
		MaxActiveTasks: 3,
		AutoStart:      &autoStart,
		LogLevel:       "info",
		HTTP: HTTPConfig{
			Timeout:             Duration{30 * time.Second},
			ProbeRetries:        3,
			MaxIdleConnsPerHost: 64,
			UserAgent:           "Flux/" + defaultUserAgentVersion,
		},
		Tuning: TuningConfig{
			InitialConnections: 8,
			MaxConnections:     32,
			MinChunkSize:       256 << 10,
			MaxChunkSize:       64 << 20,
			HighErrorRate:      0.10,
			LowErrorRate:       0.02,
			SpeedHeadroom:      0.05,
			StableCV:           0.1,
			UnstableCV:         0.3,
			HighRTT:            Duration{200 * time.Millisecond},
			LowRTT:             Duration{50 * time.Millisecond},
			GrowthFactor:       2,
			EvaluateInterval:   Duration{3 * time.Second},
			Cooldown:           Duration{5 * time.Second},
			RetryBudget:        3,
			RetryBackoff:       Duration{500 * time.Millisecond},
			ErrorWindow:        50,
			SpeedWindow:        60,
			ProbeInterval:      Duration{30 * time.Second},
			RTTSmoothing:       0.3,
		},
		API: APIConfig{Listen: "127.0.0.1:7786"},
	}
}

const defaultUserAgentVersion = "1.0.0"

// Normalize fills zero values from defaults and validates bounds.
func (c *Config) Normalize() error {
	def := Default()
	if c.DownloadDir == "" {
		c.DownloadDir = def.DownloadDir
	}
	if c.StateDir == "" {
		c.StateDir = def.StateDir
	}
	if c.MaxActiveTasks <= 0 {
		c.MaxActiveTasks = def.MaxActiveTasks
	}
	if c.AutoStart == nil {
		c.AutoStart = def.AutoStart
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.HTTP.Timeout.Duration <= 0 {
		c.HTTP.Timeout = def.HTTP.Timeout
	}
	if c.HTTP.ProbeRetries <= 0 {
		c.HTTP.ProbeRetries = def.HTTP.ProbeRetries
	}
	if c.HTTP.MaxIdleConnsPerHost <= 0 {
		c.HTTP.MaxIdleConnsPerHost = def.HTTP.MaxIdleConnsPerHost
	}
	if c.HTTP.UserAgent == "" {
		c.HTTP.UserAgent = def.HTTP.UserAgent
	}
	c.Tuning.normalize(&def.Tuning)
	if c.API.Listen == "" {
		c.API.Listen = def.API.Listen
	}
	if c.Tuning.MinChunkSize > c.Tuning.MaxChunkSize {
		return fmt.Errorf("min_chunk_size %d exceeds max_chunk_size %d",
			c.Tuning.MinChunkSize, c.Tuning.MaxChunkSize)
	}
	if c.Tuning.InitialConnections > c.Tuning.MaxConnections {
		c.Tuning.InitialConnections = c.Tuning.MaxConnections
	}
	return nil
}

func (t *TuningConfig) normalize(def *TuningConfig) {
	if t.InitialConnections <= 0 {
		t.InitialConnections = def.InitialConnections
	}
	if t.MaxConnections <= 0 {
		t.MaxConnections = def.MaxConnections
	}
	if t.MinChunkSize <= 0 {
		t.MinChunkSize = def.MinChunkSize
	}
	if t.MaxChunkSize <= 0 {
		t.MaxChunkSize = def.MaxChunkSize
	}
	if t.HighErrorRate <= 0 {
		t.HighErrorRate = def.HighErrorRate
	}
	if t.LowErrorRate <= 0 {
		t.LowErrorRate = def.LowErrorRate
	}
	if t.SpeedHeadroom <= 0 {
		t.SpeedHeadroom = def.SpeedHeadroom
	}
	if t.StableCV <= 0 {
		t.StableCV = def.StableCV
	}
	if t.UnstableCV <= 0 {
		t.UnstableCV = def.UnstableCV
	}
	if t.HighRTT.Duration <= 0 {
		t.HighRTT = def.HighRTT
	}
	if t.LowRTT.Duration <= 0 {
		t.LowRTT = def.LowRTT
	}
	if t.GrowthFactor <= 1 {
		t.GrowthFactor = def.GrowthFactor
	}
	if t.EvaluateInterval.Duration <= 0 {
		t.EvaluateInterval = def.EvaluateInterval
	}
	if t.Cooldown.Duration <= 0 {
		t.Cooldown = def.Cooldown
	}
	if t.RetryBudget <= 0 {
		t.RetryBudget = def.RetryBudget
	}
	if t.RetryBackoff.Duration <= 0 {
		t.RetryBackoff = def.RetryBackoff
	}
	if t.ErrorWindow <= 0 {
		t.ErrorWindow = def.ErrorWindow
	}
	if t.SpeedWindow <= 0 {
		t.SpeedWindow = def.SpeedWindow
	}
	if t.ProbeInterval.Duration <= 0 {
		t.ProbeInterval = def.ProbeInterval
	}
	if t.RTTSmoothing <= 0 || t.RTTSmoothing > 1 {
		t.RTTSmoothing = def.RTTSmoothing
	}
}
