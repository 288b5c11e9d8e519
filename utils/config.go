package utils

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type BuildConfig struct {
	// Root directory holding one build workspace per website id.
	Root string `yaml:"root"`

	InstallCommand string `yaml:"install_command"`
	BuildCommand   string `yaml:"build_command"`
	StartCommand   string `yaml:"start_command"`

	MaxConcurrent  int      `yaml:"max_concurrent"`
	StepTimeout    Duration `yaml:"step_timeout"`
	StartupTimeout Duration `yaml:"startup_timeout"`
	StopGrace      Duration `yaml:"stop_grace"`
}

type PortsConfig struct {
	First int `yaml:"first"`
	Last  int `yaml:"last"`
}

type ReaperConfig struct {
	Interval          Duration `yaml:"interval"`
	InactivityTimeout Duration `yaml:"inactivity_timeout"`
	DiskWarnBytes     int64    `yaml:"disk_warn_bytes"`
}

type Config struct {
	MySQLDSN    string `yaml:"mysql_dsn"`
	Port        int    `yaml:"port"`
	MetricsPort int    `yaml:"metrics_port"`
	PreviewHost string `yaml:"preview_host"`

	Redis  RedisConfig  `yaml:"redis"`
	Build  BuildConfig  `yaml:"build"`
	Ports  PortsConfig  `yaml:"ports"`
	Reaper ReaperConfig `yaml:"reaper"`
}

func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) ApplyDefaults() {
	if c.Port == 0 {
		c.Port = 8090
	}
	if c.MetricsPort == 0 {
		c.MetricsPort = 2112
	}
	if c.PreviewHost == "" {
		c.PreviewHost = "localhost"
	}
	if c.Build.Root == "" {
		c.Build.Root = "/tmp/builder-sites"
	}
	if c.Build.InstallCommand == "" {
		c.Build.InstallCommand = "npm install"
	}
	if c.Build.StartCommand == "" {
		c.Build.StartCommand = "npm run dev"
	}
	if c.Build.MaxConcurrent == 0 {
		c.Build.MaxConcurrent = 3
	}
	if c.Build.StepTimeout == 0 {
		c.Build.StepTimeout = Duration(10 * time.Minute)
	}
	if c.Build.StartupTimeout == 0 {
		c.Build.StartupTimeout = Duration(60 * time.Second)
	}
	if c.Build.StopGrace == 0 {
		c.Build.StopGrace = Duration(5 * time.Second)
	}
	if c.Ports.First == 0 {
		c.Ports.First = 4000
	}
	if c.Ports.Last == 0 {
		c.Ports.Last = 4999
	}
	if c.Reaper.Interval == 0 {
		c.Reaper.Interval = Duration(3 * time.Hour)
	}
	if c.Reaper.InactivityTimeout == 0 {
		c.Reaper.InactivityTimeout = Duration(24 * time.Hour)
	}
	if c.Reaper.DiskWarnBytes == 0 {
		c.Reaper.DiskWarnBytes = 10 << 30
	}
}

func (c *Config) Validate() error {
	if c.Ports.First > c.Ports.Last {
		return fmt.Errorf("invalid port range %d-%d", c.Ports.First, c.Ports.Last)
	}
	if c.Build.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", c.Build.MaxConcurrent)
	}
	return nil
}
