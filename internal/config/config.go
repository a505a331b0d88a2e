package config

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DefaultConfigYAML []byte

// EnvPrefix is prepended to environment overrides, e.g. OFFERPILOT_GATE_PRICE_MIN.
const EnvPrefix = "OFFERPILOT"

type Config struct {
	Log        LogConfig  `yaml:"log" mapstructure:"log"`
	Output     Output     `yaml:"output" mapstructure:"output"`
	Sources    Sources    `yaml:"sources" mapstructure:"sources"`
	Normalize  Normalize  `yaml:"normalize" mapstructure:"normalize"`
	Gate       Gate       `yaml:"gate" mapstructure:"gate"`
	Score      Score      `yaml:"score" mapstructure:"score"`
	Selection  Selection  `yaml:"selection" mapstructure:"selection"`
	Cooldown   string     `yaml:"cooldown" mapstructure:"cooldown"`
	ShortLinks ShortLinks `yaml:"shortlinks" mapstructure:"shortlinks"`
	Schedule   Schedule   `yaml:"schedule" mapstructure:"schedule"`
	Compose    Compose    `yaml:"compose" mapstructure:"compose"`
	Dispatch   Dispatch   `yaml:"dispatch" mapstructure:"dispatch"`
	Media      Media      `yaml:"media" mapstructure:"media"`
	Lock       Lock       `yaml:"lock" mapstructure:"lock"`
	Server     Server     `yaml:"server" mapstructure:"server"`
}

type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

type Output struct {
	DataDir string `yaml:"data_dir" mapstructure:"data_dir"`
}

type Sources struct {
	Files     []string  `yaml:"files" mapstructure:"files"`
	Feeds     []Feed    `yaml:"feeds" mapstructure:"feeds"`
	Affiliate Affiliate `yaml:"affiliate" mapstructure:"affiliate"`
}

type Feed struct {
	URL  string `yaml:"url" mapstructure:"url"`
	Name string `yaml:"name" mapstructure:"name"`
}

type Affiliate struct {
	Enabled           bool     `yaml:"enabled" mapstructure:"enabled"`
	Endpoint          string   `yaml:"endpoint" mapstructure:"endpoint"`
	AppIDEnv          string   `yaml:"app_id_env" mapstructure:"app_id_env"`
	SecretEnv         string   `yaml:"secret_env" mapstructure:"secret_env"`
	Keywords          []string `yaml:"keywords" mapstructure:"keywords"`
	SortType          int      `yaml:"sort_type" mapstructure:"sort_type"`
	Limit             int      `yaml:"limit" mapstructure:"limit"`
	MaxPages          int      `yaml:"max_pages" mapstructure:"max_pages"`
	RequestsPerSecond float64  `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	Timeout           string   `yaml:"timeout" mapstructure:"timeout"`
}

// Credentials reads the app id and secret from the configured env vars.
func (a Affiliate) Credentials() (appID, secret string) {
	return os.Getenv(a.AppIDEnv), os.Getenv(a.SecretEnv)
}

type Normalize struct {
	CentsThreshold float64  `yaml:"cents_threshold" mapstructure:"cents_threshold"`
	PromoWords     []string `yaml:"promo_words" mapstructure:"promo_words"`
}

type Gate struct {
	PriceMin            float64  `yaml:"price_min" mapstructure:"price_min"`
	PriceMax            float64  `yaml:"price_max" mapstructure:"price_max"`
	MinRating           float64  `yaml:"min_rating" mapstructure:"min_rating"`
	RatingCoverageMin   float64  `yaml:"rating_coverage_min" mapstructure:"rating_coverage_min"`
	MinDiscountPct      float64  `yaml:"min_discount_pct" mapstructure:"min_discount_pct"`
	MinDiscountAbs      float64  `yaml:"min_discount_abs" mapstructure:"min_discount_abs"`
	BannedTerms         []string `yaml:"banned_terms" mapstructure:"banned_terms"`
	LowAppealRegex      string   `yaml:"low_appeal_regex" mapstructure:"low_appeal_regex"`
	AllowedCategories   []string `yaml:"allowed_categories" mapstructure:"allowed_categories"`
	MinItemsBeforeRelax int      `yaml:"min_items_before_relax" mapstructure:"min_items_before_relax"`
	RelaxPriceMinFactor float64  `yaml:"relax_price_min_factor" mapstructure:"relax_price_min_factor"`
	RelaxPriceMaxFactor float64  `yaml:"relax_price_max_factor" mapstructure:"relax_price_max_factor"`
	RelaxRatingDrop     float64  `yaml:"relax_rating_drop" mapstructure:"relax_rating_drop"`
}

type Score struct {
	IdealLow  float64  `yaml:"ideal_low" mapstructure:"ideal_low"`
	IdealHigh float64  `yaml:"ideal_high" mapstructure:"ideal_high"`
	Weights   Weights  `yaml:"weights" mapstructure:"weights"`
	EasyWords []string `yaml:"easy_words" mapstructure:"easy_words"`
	HardWords []string `yaml:"hard_words" mapstructure:"hard_words"`
}

type Weights struct {
	Offer    float64 `yaml:"offer" mapstructure:"offer"`
	Price    float64 `yaml:"price" mapstructure:"price"`
	Trust    float64 `yaml:"trust" mapstructure:"trust"`
	Decision float64 `yaml:"decision" mapstructure:"decision"`
}

type Selection struct {
	MaxItems              int `yaml:"max_items" mapstructure:"max_items"`
	MaxPerCategory        int `yaml:"max_per_category" mapstructure:"max_per_category"`
	MinDistinctCategories int `yaml:"min_distinct_categories" mapstructure:"min_distinct_categories"`
}

type ShortLinks struct {
	MinCoverage float64  `yaml:"min_coverage" mapstructure:"min_coverage"`
	SubIDs      []string `yaml:"sub_ids" mapstructure:"sub_ids"`
}

type Schedule struct {
	Timezone string  `yaml:"timezone" mapstructure:"timezone"`
	Blocks   []Block `yaml:"blocks" mapstructure:"blocks"`
}

type Block struct {
	ID    string `yaml:"id" mapstructure:"id"`
	Start string `yaml:"start" mapstructure:"start"`
	End   string `yaml:"end" mapstructure:"end"`
	Quota int    `yaml:"quota" mapstructure:"quota"`
}

type Compose struct {
	Locale      string            `yaml:"locale" mapstructure:"locale"`
	Currency    string            `yaml:"currency" mapstructure:"currency"`
	CTAVariants []string          `yaml:"cta_variants" mapstructure:"cta_variants"`
	Templates   map[string]string `yaml:"templates" mapstructure:"templates"`
}

type Dispatch struct {
	WindowStart     string  `yaml:"window_start" mapstructure:"window_start"`
	WindowEnd       string  `yaml:"window_end" mapstructure:"window_end"`
	IntervalMinutes []int   `yaml:"interval_minutes" mapstructure:"interval_minutes"`
	JitterSeconds   int     `yaml:"jitter_seconds" mapstructure:"jitter_seconds"`
	DailySends      int     `yaml:"daily_sends" mapstructure:"daily_sends"`
	TestMode        bool    `yaml:"test_mode" mapstructure:"test_mode"`
	Sink            string  `yaml:"sink" mapstructure:"sink"`
	Webhook         Webhook `yaml:"webhook" mapstructure:"webhook"`
}

type Webhook struct {
	URL     string `yaml:"url" mapstructure:"url"`
	Chat    string `yaml:"chat" mapstructure:"chat"`
	Timeout string `yaml:"timeout" mapstructure:"timeout"`
}

type Media struct {
	Concurrency int    `yaml:"concurrency" mapstructure:"concurrency"`
	Timeout     string `yaml:"timeout" mapstructure:"timeout"`
}

type Lock struct {
	Backend   string `yaml:"backend" mapstructure:"backend"`
	RedisAddr string `yaml:"redis_addr" mapstructure:"redis_addr"`
	TTL       string `yaml:"ttl" mapstructure:"ttl"`
}

type Server struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// ConfigDir returns the XDG config directory for offerpilot.
func ConfigDir() string {
	return filepath.Join(homeDir(), ".config", "offerpilot")
}

// DataDir returns the XDG data directory for offerpilot.
func DataDir() string {
	return filepath.Join(homeDir(), ".local", "share", "offerpilot")
}

// ResolveConfigPath finds the config file following priority:
// explicit path > ~/.config/offerpilot/config.yaml > ./config.yaml
func ResolveConfigPath(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", eris.Errorf("config file not found: %s", explicit)
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

	return "", eris.Errorf(
		"no config file found; searched:\n  %s\n  ./config.yaml\n\nRun 'offerpilot init' to create a default config",
		xdgConfig,
	)
}

// Load reads a config YAML file over the embedded defaults and applies
// OFFERPILOT_* environment overrides. An empty path loads defaults only.
func Load(path string) (*Config, error) {
	var data []byte
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrap(err, "config: read file")
		}
		data = b
	}
	return parse(data)
}

// parse merges YAML bytes into the embedded defaults.
func parse(data []byte) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadConfig(bytes.NewReader(DefaultConfigYAML)); err != nil {
		return nil, eris.Wrap(err, "config: read defaults")
	}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := v.MergeConfig(bytes.NewReader(data)); err != nil {
			return nil, eris.Wrap(err, "config: parse")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	return &cfg, nil
}

// YAML renders the effective configuration.
func (c *Config) YAML() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, eris.Wrap(err, "config: marshal")
	}
	return out, nil
}

// GetDataDir returns the effective data directory from config or XDG default.
func (c *Config) GetDataDir() string {
	if c.Output.DataDir != "" {
		return c.Output.DataDir
	}
	return DataDir()
}

// DBPath returns the SQLite database location inside the data directory.
func (c *Config) DBPath() string {
	return filepath.Join(c.GetDataDir(), "offerpilot.db")
}

// CooldownDuration returns the parsed cooldown. Validate guarantees it parses.
func (c *Config) CooldownDuration() time.Duration {
	return parseDuration(c.Cooldown)
}

// Location returns the schedule timezone, falling back to local time.
func (c *Config) Location() *time.Location {
	if c.Schedule.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Schedule.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// CentsThreshold returns the configured cent-scale threshold or the
// price-derived default.
func (c *Config) CentsThreshold() float64 {
	if c.Normalize.CentsThreshold > 0 {
		return c.Normalize.CentsThreshold
	}
	return max(1000, c.Gate.PriceMax*10)
}

// Duration parses a duration string, returning 0 for empty or invalid input.
func Duration(s string) time.Duration {
	return parseDuration(s)
}

func parseDuration(s string) time.Duration {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return d
}

func homeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

// String implements fmt.Stringer for log lines.
func (b Block) String() string {
	return fmt.Sprintf("%s %s-%s x%d", b.ID, b.Start, b.End, b.Quota)
}
