// Package config loads the settings of an acq400 client from a YAML file with an
// optional .env overlay and turns them into acq400 options.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/arloliu/go-acq400/acq"
	"github.com/arloliu/go-acq400/acq400"
	"github.com/arloliu/go-acq400/logger"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the prefix of every environment variable read by LoadEnv.
const EnvPrefix = "ACQ400_"

// Config is the client configuration of one appliance.
type Config struct {
	Host     string         `yaml:"host"`
	Ports    PortsConfig    `yaml:"ports"`
	Sites    SitesConfig    `yaml:"sites"`
	Monitor  MonitorConfig  `yaml:"monitor"`
	Data     DataConfig     `yaml:"data"`
	Timeouts TimeoutsConfig `yaml:"timeouts"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type PortsConfig struct {
	SiteBase     int `yaml:"site_base"`
	Status       int `yaml:"status"`
	DataBase     int `yaml:"data_base"`
	SegmentWrite int `yaml:"segment_write"`
	SegmentRead  int `yaml:"segment_read"`
}

type SitesConfig struct {
	// Max is the highest site index probed.
	Max int `yaml:"max"`
	// List attaches the sites named by SITELIST instead of probing.
	List bool `yaml:"list"`
	// DeferDiscovery defers knob discovery to first use.
	DeferDiscovery bool `yaml:"defer_discovery"`
}

type MonitorConfig struct {
	// Enabled defaults to true when omitted.
	Enabled        *bool `yaml:"enabled"`
	FaultThreshold int   `yaml:"fault_threshold"`
}

type DataConfig struct {
	WordSize int    `yaml:"word_size"`
	SaveDir  string `yaml:"save_dir"`
}

type TimeoutsConfig struct {
	Connect time.Duration `yaml:"connect"`
	Read    time.Duration `yaml:"read"`
	Data    time.Duration `yaml:"data"`
}

type LogConfig struct {
	Level     string `yaml:"level"`
	AddSource bool   `yaml:"add_source"`
}

type MetricsConfig struct {
	// Addr is the listen address of the metrics endpoint, empty disables it.
	Addr string `yaml:"addr"`
}

// Load reads the YAML file at path, applies defaults and validates the result.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return Parse(raw)
}

// Parse decodes a YAML document, applies defaults and validates the result.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Default returns the configuration of the appliance at host with every default applied.
func Default(host string) *Config {
	cfg := &Config{Host: host}
	cfg.applyDefaults()

	return cfg
}

func (c *Config) applyDefaults() {
	if c.Ports.SiteBase == 0 {
		c.Ports.SiteBase = acq.SiteBasePort
	}
	if c.Ports.Status == 0 {
		c.Ports.Status = acq.StatusPort
	}
	if c.Ports.DataBase == 0 {
		c.Ports.DataBase = acq.DataBasePort
	}
	if c.Ports.SegmentWrite == 0 {
		c.Ports.SegmentWrite = acq.SegmentWritePort
	}
	if c.Ports.SegmentRead == 0 {
		c.Ports.SegmentRead = acq.SegmentReadPort
	}
	if c.Sites.Max == 0 {
		c.Sites.Max = 6
	}
	if c.Monitor.Enabled == nil {
		enabled := true
		c.Monitor.Enabled = &enabled
	}
	if c.Monitor.FaultThreshold == 0 {
		c.Monitor.FaultThreshold = 3
	}
	if c.Data.WordSize == 0 {
		c.Data.WordSize = 2
	}
	if c.Timeouts.Connect == 0 {
		c.Timeouts.Connect = 3 * time.Second
	}
	if c.Timeouts.Read == 0 {
		c.Timeouts.Read = 5 * time.Second
	}
	if c.Timeouts.Data == 0 {
		c.Timeouts.Data = 60 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) validate() error {
	if c.Host == "" {
		return errors.New("host is required")
	}
	if c.Data.WordSize != 2 && c.Data.WordSize != 4 {
		return fmt.Errorf("data.word_size must be 2 or 4, got %d", c.Data.WordSize)
	}
	if _, ok := logger.ParseLevel(c.Log.Level); !ok {
		return fmt.Errorf("log.level %q is not a valid level", c.Log.Level)
	}

	return nil
}

// LoadEnv overlays ACQ400_* variables onto c. Variables are read from the .env file
// at path, when path is not empty, and from the process environment, which wins.
// The result is validated again.
func (c *Config) LoadEnv(path string) error {
	vars := map[string]string{}
	if path != "" {
		var err error
		if vars, err = godotenv.Read(path); err != nil {
			return fmt.Errorf("read env file: %w", err)
		}
	}

	lookup := func(key string) (string, bool) {
		key = EnvPrefix + key
		if v, ok := os.LookupEnv(key); ok {
			return v, true
		}
		v, ok := vars[key]

		return v, ok
	}

	var errs []error
	setString := func(key string, dst *string) {
		if v, ok := lookup(key); ok {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v, ok := lookup(key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	setBool := func(key string, dst *bool) {
		if v, ok := lookup(key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = b
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = d
		}
	}

	setString("HOST", &c.Host)
	setInt("SITE_BASE_PORT", &c.Ports.SiteBase)
	setInt("STATUS_PORT", &c.Ports.Status)
	setInt("DATA_BASE_PORT", &c.Ports.DataBase)
	setInt("SEGMENT_WRITE_PORT", &c.Ports.SegmentWrite)
	setInt("SEGMENT_READ_PORT", &c.Ports.SegmentRead)
	setInt("MAX_SITES", &c.Sites.Max)
	setBool("SITE_LIST", &c.Sites.List)
	setBool("DEFER_DISCOVERY", &c.Sites.DeferDiscovery)
	if c.Monitor.Enabled == nil {
		c.Monitor.Enabled = new(bool)
		*c.Monitor.Enabled = true
	}
	setBool("MONITOR", c.Monitor.Enabled)
	setInt("FAULT_THRESHOLD", &c.Monitor.FaultThreshold)
	setInt("WORD_SIZE", &c.Data.WordSize)
	setString("SAVE_DIR", &c.Data.SaveDir)
	setDuration("CONNECT_TIMEOUT", &c.Timeouts.Connect)
	setDuration("READ_TIMEOUT", &c.Timeouts.Read)
	setDuration("DATA_TIMEOUT", &c.Timeouts.Data)
	setString("LOG_LEVEL", &c.Log.Level)
	setString("METRICS_ADDR", &c.Metrics.Addr)

	if err := errors.Join(errs...); err != nil {
		return err
	}

	return c.validate()
}

// Logger builds the logger described by the log section.
func (c *Config) Logger() logger.Logger {
	level, ok := logger.ParseLevel(c.Log.Level)
	if !ok {
		level = logger.InfoLevel
	}

	return logger.NewSlog(level, c.Log.AddSource)
}

// Options converts c into UUT options. Range checks are left to acq400.New.
func (c *Config) Options(extra ...acq400.Option) []acq400.Option {
	opts := []acq400.Option{
		acq400.WithSiteBasePort(c.Ports.SiteBase),
		acq400.WithStatusPort(c.Ports.Status),
		acq400.WithDataBasePort(c.Ports.DataBase),
		acq400.WithSegmentPorts(c.Ports.SegmentWrite, c.Ports.SegmentRead),
		acq400.WithMaxSites(c.Sites.Max),
		acq400.WithMonitor(c.Monitor.Enabled == nil || *c.Monitor.Enabled),
		acq400.WithFaultThreshold(c.Monitor.FaultThreshold),
		acq400.WithWordSize(c.Data.WordSize),
		acq400.WithSaveData(c.Data.SaveDir),
		acq400.WithConnectTimeout(c.Timeouts.Connect),
		acq400.WithReadTimeout(c.Timeouts.Read),
		acq400.WithDataTimeout(c.Timeouts.Data),
	}
	if c.Sites.List {
		opts = append(opts, acq400.WithSiteList())
	}
	if c.Sites.DeferDiscovery {
		opts = append(opts, acq400.WithDeferredDiscovery())
	}

	return append(opts, extra...)
}
