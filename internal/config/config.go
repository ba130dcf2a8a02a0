package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

type Config struct {
	CacheRoot string   `yaml:"cache_root" mapstructure:"cache_root"`
	Output    string   `yaml:"output" mapstructure:"output"`
	Workers   int      `yaml:"workers" mapstructure:"workers"`
	Retries   int      `yaml:"retries" mapstructure:"retries"`
	Format    string   `yaml:"format" mapstructure:"format"`
	Debug     bool     `yaml:"debug" mapstructure:"debug"`
	AllowExt  []string `yaml:"allow_ext" mapstructure:"allow_ext"`

	DefaultURL     string   `yaml:"default_url" mapstructure:"default_url"`
	DefaultRange   string   `yaml:"default_range" mapstructure:"default_range"`
	DefaultList    string   `yaml:"default_list" mapstructure:"default_list"`
	DefaultExclude []string `yaml:"default_exclude" mapstructure:"default_exclude"`

	Cookie           string `yaml:"cookie" mapstructure:"cookie"`
	CookieFile       string `yaml:"cookie_file" mapstructure:"cookie_file"`
	UserAgent        string `yaml:"user_agent" mapstructure:"user_agent"`
	CloudflareBypass bool   `yaml:"cloudflare_bypass" mapstructure:"cloudflare_bypass"`

	JitterMin       time.Duration `yaml:"jitter_min" mapstructure:"jitter_min"`
	JitterMax       time.Duration `yaml:"jitter_max" mapstructure:"jitter_max"`
	ChapterDelayMin time.Duration `yaml:"chapter_delay_min" mapstructure:"chapter_delay_min"`
	ChapterDelayMax time.Duration `yaml:"chapter_delay_max" mapstructure:"chapter_delay_max"`
	ScrapeCacheTTL  time.Duration `yaml:"scrape_cache_ttl" mapstructure:"scrape_cache_ttl"`

	APIAddr string `yaml:"api_addr" mapstructure:"api_addr"`

	Proxy ProxyConfig `yaml:"proxy" mapstructure:"proxy"`
	Log   LogConfig   `yaml:"log" mapstructure:"log"`
}

type ProxyConfig struct {
	Enabled              bool          `yaml:"enabled" mapstructure:"enabled"`
	Address              string        `yaml:"address" mapstructure:"address"`
	ExpectedIP           string        `yaml:"expected_ip" mapstructure:"expected_ip"`
	CheckURL             string        `yaml:"check_url" mapstructure:"check_url"`
	ConnectedInterval    time.Duration `yaml:"connected_interval" mapstructure:"connected_interval"`
	DisconnectedInterval time.Duration `yaml:"disconnected_interval" mapstructure:"disconnected_interval"`
	FailureThreshold     int           `yaml:"failure_threshold" mapstructure:"failure_threshold"`
}

type LogConfig struct {
	Level string `yaml:"level" mapstructure:"level"`
	Path  string `yaml:"path" mapstructure:"path"`
}

// Options carries CLI flags; zero values leave the loaded config untouched.
type Options struct {
	IgnoreConfig bool
	Debug        bool
	CacheRoot    string
	Output       string
	Workers      int
	Format       string
	DefaultURL   string
	DefaultRange string
	DefaultList  string
	Exclude      []string
	Cookie       string
	CookieFile   string
	UserAgent    string
	ProxyAddress string
	APIAddr      string
}

const envPrefix = "MANGACACHE"

func DefaultConfig() *Config {
	return &Config{
		CacheRoot:       "./manga_cache",
		Output:          ".",
		Workers:         4,
		Retries:         3,
		Format:          "cbz",
		AllowExt:        []string{"jpg", "jpeg", "png", "webp", "gif", "avif"},
		JitterMin:       100 * time.Millisecond,
		JitterMax:       600 * time.Millisecond,
		ChapterDelayMin: time.Second,
		ChapterDelayMax: 3 * time.Second,
		ScrapeCacheTTL:  6 * time.Hour,
		APIAddr:         "127.0.0.1:8089",
		Proxy: ProxyConfig{
			CheckURL:             "https://api.ipify.org?format=json",
			ConnectedInterval:    60 * time.Second,
			DisconnectedInterval: 5 * time.Second,
			FailureThreshold:     3,
		},
		Log: LogConfig{Level: "info"},
	}
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("cache_root", d.CacheRoot)
	v.SetDefault("output", d.Output)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("retries", d.Retries)
	v.SetDefault("format", d.Format)
	v.SetDefault("debug", d.Debug)
	v.SetDefault("allow_ext", d.AllowExt)
	v.SetDefault("default_url", d.DefaultURL)
	v.SetDefault("default_range", d.DefaultRange)
	v.SetDefault("default_list", d.DefaultList)
	v.SetDefault("default_exclude", d.DefaultExclude)
	v.SetDefault("cookie", d.Cookie)
	v.SetDefault("cookie_file", d.CookieFile)
	v.SetDefault("user_agent", d.UserAgent)
	v.SetDefault("cloudflare_bypass", d.CloudflareBypass)
	v.SetDefault("jitter_min", d.JitterMin)
	v.SetDefault("jitter_max", d.JitterMax)
	v.SetDefault("chapter_delay_min", d.ChapterDelayMin)
	v.SetDefault("chapter_delay_max", d.ChapterDelayMax)
	v.SetDefault("scrape_cache_ttl", d.ScrapeCacheTTL)
	v.SetDefault("api_addr", d.APIAddr)
	v.SetDefault("proxy.enabled", d.Proxy.Enabled)
	v.SetDefault("proxy.address", d.Proxy.Address)
	v.SetDefault("proxy.expected_ip", d.Proxy.ExpectedIP)
	v.SetDefault("proxy.check_url", d.Proxy.CheckURL)
	v.SetDefault("proxy.connected_interval", d.Proxy.ConnectedInterval)
	v.SetDefault("proxy.disconnected_interval", d.Proxy.DisconnectedInterval)
	v.SetDefault("proxy.failure_threshold", d.Proxy.FailureThreshold)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.path", d.Log.Path)
}

func SaveYAML(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// load reads path (when set) over the defaults and applies MANGACACHE_*
// environment overrides, e.g. MANGACACHE_PROXY_ADDRESS.
func load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, DefaultConfig())

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	return &c, nil
}

func LoadMerged(opts Options) (*Config, string, error) {
	if opts.IgnoreConfig {
		cfg, err := load("")
		if err != nil {
			return nil, "", err
		}
		mergeConfig(cfg, opts)
		normalizeDefaults(cfg)
		return cfg, "(ignored config)", nil
	}

	activePath, err := ActiveConfigPath()
	if errors.Is(err, ErrNoConfig) || activePath == "" {
		cfg, lerr := load("")
		if lerr != nil {
			return nil, "", lerr
		}
		mergeConfig(cfg, opts)
		normalizeDefaults(cfg)
		return cfg, "(default config in memory)\nRun `mangacache config init` to create an actual config\n", nil
	}
	if err != nil {
		return nil, "", err
	}

	cfg, err := load(activePath)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load config %s: %w", activePath, err)
	}

	mergeConfig(cfg, opts)
	normalizeDefaults(cfg)

	return cfg, activePath, nil
}

func mergeConfig(c *Config, o Options) {
	if o.Debug {
		c.Debug = true
	}
	if o.CacheRoot != "" {
		c.CacheRoot = o.CacheRoot
	}
	if o.Output != "" {
		c.Output = o.Output
	}
	if o.Workers != 0 {
		c.Workers = o.Workers
	}
	if o.Format != "" {
		c.Format = o.Format
	}
	if o.DefaultURL != "" {
		c.DefaultURL = o.DefaultURL
	}
	if o.DefaultRange != "" {
		c.DefaultRange = o.DefaultRange
	}
	if o.DefaultList != "" {
		c.DefaultList = o.DefaultList
	}
	if len(o.Exclude) > 0 {
		c.DefaultExclude = o.Exclude
	}
	if o.Cookie != "" {
		c.Cookie = o.Cookie
	}
	if o.CookieFile != "" {
		c.CookieFile = o.CookieFile
	}
	if o.UserAgent != "" {
		c.UserAgent = o.UserAgent
	}
	if o.ProxyAddress != "" {
		c.Proxy.Address = o.ProxyAddress
		c.Proxy.Enabled = true
	}
	if o.APIAddr != "" {
		c.APIAddr = o.APIAddr
	}
}

func normalizeDefaults(c *Config) {
	d := DefaultConfig()
	if c.CacheRoot == "" {
		c.CacheRoot = d.CacheRoot
	}
	if c.Output == "" {
		c.Output = "."
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.Retries <= 0 {
		c.Retries = d.Retries
	}
	if c.JitterMax < c.JitterMin {
		c.JitterMax = c.JitterMin
	}
	if c.ChapterDelayMax < c.ChapterDelayMin {
		c.ChapterDelayMax = c.ChapterDelayMin
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Print lists the effective settings; secrets are never echoed.
func (c *Config) Print(w io.Writer) {
	fmt.Fprintf(w, " -cache_root: %s\n", c.CacheRoot)
	fmt.Fprintf(w, " -output: %s\n", c.Output)
	fmt.Fprintf(w, " -workers: %d\n", c.Workers)
	fmt.Fprintf(w, " -retries: %d\n", c.Retries)
	fmt.Fprintf(w, " -format: %s\n", c.Format)
	if c.Debug {
		fmt.Fprintf(w, " -debug: %t\n", c.Debug)
	}
	if c.DefaultURL != "" {
		fmt.Fprintf(w, " -url: %s\n", c.DefaultURL)
	}
	if c.DefaultRange != "" {
		fmt.Fprintf(w, " -range: %s\n", c.DefaultRange)
	}
	if c.DefaultList != "" {
		fmt.Fprintf(w, " -list: %s\n", c.DefaultList)
	}
	if len(c.DefaultExclude) > 0 {
		fmt.Fprintf(w, " -exclude: %s\n", strings.Join(c.DefaultExclude, ", "))
	}
	if c.CookieFile != "" {
		fmt.Fprintf(w, " -cookie_file: %s\n", c.CookieFile)
	}
	if c.Cookie != "" {
		fmt.Fprintf(w, " -cookie: (set)\n")
	}
	if c.CloudflareBypass {
		fmt.Fprintf(w, " -cloudflare_bypass: %t\n", c.CloudflareBypass)
	}
	fmt.Fprintf(w, " -jitter: %s..%s\n", c.JitterMin, c.JitterMax)
	fmt.Fprintf(w, " -chapter_delay: %s..%s\n", c.ChapterDelayMin, c.ChapterDelayMax)
	fmt.Fprintf(w, " -scrape_cache_ttl: %s\n", c.ScrapeCacheTTL)
	if len(c.AllowExt) > 0 {
		fmt.Fprintf(w, " -allow_ext: %s\n", strings.Join(c.AllowExt, ", "))
	}
	if c.Proxy.Enabled {
		fmt.Fprintf(w, " -proxy: %s (expect %q, threshold %d)\n", c.Proxy.Address, c.Proxy.ExpectedIP, c.Proxy.FailureThreshold)
	}
	fmt.Fprintf(w, " -log: %s %s\n", c.Log.Level, c.Log.Path)
	fmt.Fprintf(w, " -api_addr: %s\n", c.APIAddr)
}
