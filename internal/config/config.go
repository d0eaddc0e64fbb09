package config

import (
	_ "embed"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

type Config struct {
	Regions    []Region   `yaml:"regions"`
	Analyzer   Analyzer   `yaml:"analyzer"`
	Search     Search     `yaml:"search"`
	Policy     Policy     `yaml:"policy"`
	Engagement Engagement `yaml:"engagement"`
	Editorial  Editorial  `yaml:"editorial"`
	Schedule   Schedule   `yaml:"schedule"`
	Output     Output     `yaml:"output"`
	Server     Server     `yaml:"server"`
	Logging    Logging    `yaml:"logging"`
}

// Region is a tenant scope with the feeds that supply its articles.
type Region struct {
	Slug  string `yaml:"slug"`
	Name  string `yaml:"name"`
	Feeds []Feed `yaml:"feeds"`
}

type Feed struct {
	URL  string `yaml:"url"`
	Name string `yaml:"name"`
}

type Analyzer struct {
	Provider          string  `yaml:"provider"`
	Model             string  `yaml:"model"`
	OllamaURL         string  `yaml:"ollama_url"`
	OpenAIModel       string  `yaml:"openai_model"`
	GeminiModel       string  `yaml:"gemini_model"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	GeminiAPIKeyEnv   string  `yaml:"gemini_api_key_env"`
	MaxTokens         int     `yaml:"max_tokens"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

type Search struct {
	APIKeyEnv string `yaml:"api_key_env"`
	BaseURL   string `yaml:"base_url"`
	Language  string `yaml:"language"`
}

// Policy holds the thresholds of the follow-up engine.
type Policy struct {
	// Trigger condition defaults, applied when a condition omits the value.
	DaysAfterLast      int   `yaml:"days_after_last"`
	MinViews           int64 `yaml:"min_views"`
	MinComments        int64 `yaml:"min_comments"`
	DaysBefore         int   `yaml:"days_before"`
	ResolutionDaysBack int   `yaml:"resolution_days_back"`
	ScheduledDaysBack  int   `yaml:"scheduled_days_back"`

	// Thread lifecycle.
	MonitoringStaleDays int `yaml:"monitoring_stale_days"`
	DormantStaleDays    int `yaml:"dormant_stale_days"`

	HighEngagementMinScore float64       `yaml:"high_engagement_min_score"`
	HighEngagementLimit    int           `yaml:"high_engagement_limit"`
	TriggerTTLDays         int           `yaml:"trigger_ttl_days"`
	AnalyzerTimeout        time.Duration `yaml:"analyzer_timeout"`
	Concurrency            int           `yaml:"concurrency"`
	QueueLimit             int           `yaml:"queue_limit"`
}

// Engagement holds the weights of the engagement score.
type Engagement struct {
	ViewsPerPoint    float64 `yaml:"views_per_point"`
	CommentsPerPoint float64 `yaml:"comments_per_point"`
	SharesPerPoint   float64 `yaml:"shares_per_point"`
	HalfLifeDays     float64 `yaml:"half_life_days"`
}

type Editorial struct {
	Log            bool          `yaml:"log"`
	WebhookURL     string        `yaml:"webhook_url"`
	WebhookTimeout time.Duration `yaml:"webhook_timeout"`
	BlobAccountURL string        `yaml:"blob_account_url"`
	BlobContainer  string        `yaml:"blob_container"`
}

// Schedule holds cron specs (with seconds) for the periodic jobs.
// An empty spec disables the job.
type Schedule struct {
	Triggers   string `yaml:"triggers"`
	Statuses   string `yaml:"statuses"`
	Engagement string `yaml:"engagement"`
	Ingest     string `yaml:"ingest"`
}

type Output struct {
	DataDir string `yaml:"data_dir"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ConfigDir returns the XDG config directory for followup.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "followup")
}

// DataDir returns the XDG data directory for followup.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "followup")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/followup/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	xdgConfig := filepath.Join(ConfigDir(), "config.yaml")
	if _, err := os.Stat(xdgConfig); err == nil {
		return xdgConfig, nil
	}

	cwdConfig := "config.yaml"
	if _, err := os.Stat(cwdConfig); err == nil {
		return cwdConfig, nil
	}

	return "", fmt.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'followup init' to create a default config",
		xdgConfig,
	)
}

// Load reads, parses and validates a config YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns the configuration used when no file sets a value.
func Default() *Config {
	return &Config{
		Analyzer: Analyzer{
			Provider:          "ollama",
			Model:             "qwen2.5:7b",
			OllamaURL:         "http://localhost:11434",
			OpenAIModel:       "gpt-4o-mini",
			GeminiModel:       "gemini-2.0-flash",
			APIKeyEnv:         "OPENAI_API_KEY",
			GeminiAPIKeyEnv:   "GEMINI_API_KEY",
			MaxTokens:         512,
			RequestsPerSecond: 2,
		},
		Search: Search{
			APIKeyEnv: "NEWSAPI_KEY",
			BaseURL:   "https://newsapi.org",
			Language:  "en",
		},
		Policy: DefaultPolicy(),
		Engagement: Engagement{
			ViewsPerPoint:    100,
			CommentsPerPoint: 5,
			SharesPerPoint:   2,
			HalfLifeDays:     7,
		},
		Editorial: Editorial{
			Log:            true,
			WebhookTimeout: 10 * time.Second,
		},
		Schedule: Schedule{
			Triggers:   "0 0 * * * *",
			Statuses:   "0 0 6 * * *",
			Engagement: "0 0 */4 * * *",
			Ingest:     "0 */30 * * * *",
		},
		Server:  Server{Port: 8000},
		Logging: Logging{Level: "info", Format: "text"},
	}
}

// DefaultPolicy returns the stock engine thresholds.
func DefaultPolicy() Policy {
	return Policy{
		DaysAfterLast:          3,
		MinViews:               1000,
		MinComments:            50,
		DaysBefore:             1,
		ResolutionDaysBack:     7,
		ScheduledDaysBack:      7,
		MonitoringStaleDays:    7,
		DormantStaleDays:       14,
		HighEngagementMinScore: 3,
		HighEngagementLimit:    10,
		TriggerTTLDays:         30,
		AnalyzerTimeout:        20 * time.Second,
		Concurrency:            4,
		QueueLimit:             20,
	}
}

// parse parses YAML bytes into a Config, applying defaults.
func parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

var cronParser = cron.NewParser(
	cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Validate reports every problem found in the configuration.
func (c *Config) Validate() error {
	var errs []error

	switch c.Analyzer.Provider {
	case "ollama", "openai", "gemini":
	default:
		errs = append(errs, fmt.Errorf("analyzer.provider: unknown provider %q", c.Analyzer.Provider))
	}
	if c.Analyzer.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("analyzer.requests_per_second must not be negative"))
	}

	seen := make(map[string]bool)
	for i, r := range c.Regions {
		if strings.TrimSpace(r.Slug) == "" {
			errs = append(errs, fmt.Errorf("regions[%d]: slug is required", i))
			continue
		}
		if seen[r.Slug] {
			errs = append(errs, fmt.Errorf("regions[%d]: duplicate slug %q", i, r.Slug))
		}
		seen[r.Slug] = true
	}

	p := c.Policy
	positive := map[string]float64{
		"policy.days_after_last":           float64(p.DaysAfterLast),
		"policy.min_views":                 float64(p.MinViews),
		"policy.min_comments":              float64(p.MinComments),
		"policy.resolution_days_back":      float64(p.ResolutionDaysBack),
		"policy.scheduled_days_back":       float64(p.ScheduledDaysBack),
		"policy.monitoring_stale_days":     float64(p.MonitoringStaleDays),
		"policy.dormant_stale_days":        float64(p.DormantStaleDays),
		"policy.high_engagement_min_score": p.HighEngagementMinScore,
		"policy.high_engagement_limit":     float64(p.HighEngagementLimit),
		"policy.trigger_ttl_days":          float64(p.TriggerTTLDays),
		"policy.analyzer_timeout":          float64(p.AnalyzerTimeout),
		"policy.concurrency":               float64(p.Concurrency),
		"engagement.views_per_point":       c.Engagement.ViewsPerPoint,
		"engagement.comments_per_point":    c.Engagement.CommentsPerPoint,
		"engagement.shares_per_point":      c.Engagement.SharesPerPoint,
		"engagement.half_life_days":        c.Engagement.HalfLifeDays,
	}
	for _, name := range slices.Sorted(maps.Keys(positive)) {
		if positive[name] <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if p.DaysBefore < 0 {
		errs = append(errs, errors.New("policy.days_before must not be negative"))
	}

	for name, spec := range map[string]string{
		"schedule.triggers":   c.Schedule.Triggers,
		"schedule.statuses":   c.Schedule.Statuses,
		"schedule.engagement": c.Schedule.Engagement,
		"schedule.ingest":     c.Schedule.Ingest,
	} {
		if spec == "" {
			continue
		}
		if _, err := cronParser.Parse(spec); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q", c.Logging.Format))
	}

	return errors.Join(errs...)
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// DatabasePath returns the sqlite file inside the data directory.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.GetDataDir(), "followup.db")
}

// FindRegion returns the configured region with the given slug.
func (c *Config) FindRegion(slug string) (Region, bool) {
	for _, r := range c.Regions {
		if r.Slug == slug {
			return r, true
		}
	}
	return Region{}, false
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
