package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration of a tcpcore server.
type Config struct {
	ListenIP               string `yaml:"listen_ip"`
	ListenPort             int    `yaml:"listen_port"`
	MSS                    int    `yaml:"mss"`
	RetransmitIntervalMs   int    `yaml:"retransmit_interval_ms"`
	WindowSize             int    `yaml:"window_size"`
	IgnoreChecksum         bool   `yaml:"ignore_checksum"`
	PacketLostSimulation   bool   `yaml:"packet_lost_simulation"` // drop one outbound segment in ten
	PayloadPoolSize        int    `yaml:"payload_pool_size"`
	Debug                  bool   `yaml:"debug"`
	PoolDebug              bool   `yaml:"pool_debug"`
	ProcessTimeThresholdMs int    `yaml:"process_time_threshold_ms"`
	CaptureFile            string `yaml:"capture_file"` // empty disables packet capture
	FilterIdentifier       string `yaml:"filter_identifier"`
}

var AppConfig *Config

func DefaultConfig() *Config {
	return &Config{
		ListenIP:               "127.0.0.2",
		ListenPort:             8901,
		MSS:                    1460,
		RetransmitIntervalMs:   1000,
		WindowSize:             65535,
		PayloadPoolSize:        2000,
		ProcessTimeThresholdMs: 10,
		FilterIdentifier:       "TCPCORE",
	}
}

// ReadConfig loads filename on top of DefaultConfig.
func ReadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrap(err, "read config")
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, errors.Wrapf(err, "parse config %s", filename)
	}
	if err := config.Validate(); err != nil {
		return nil, errors.Wrapf(err, "config %s", filename)
	}
	return config, nil
}

func (c *Config) Validate() error {
	if c.ListenPort <= 0 || c.ListenPort > 65535 {
		return errors.Errorf("listen_port %d out of range", c.ListenPort)
	}
	if c.MSS <= 0 || c.MSS > 65495 {
		return errors.Errorf("mss %d out of range", c.MSS)
	}
	if c.WindowSize <= 0 || c.WindowSize > 65535 {
		return errors.Errorf("window_size %d out of range", c.WindowSize)
	}
	if c.RetransmitIntervalMs <= 0 {
		return errors.Errorf("retransmit_interval_ms must be positive, got %d", c.RetransmitIntervalMs)
	}
	if c.PayloadPoolSize <= 0 {
		return errors.Errorf("payload_pool_size must be positive, got %d", c.PayloadPoolSize)
	}
	return nil
}
