package arbiter

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"carbonreceiver/aggregators"
	"carbonreceiver/receiver"
	"carbonreceiver/util"

	"github.com/spf13/viper"
)

var (
	errInvalidInterval = errors.New("interval must be at least 1s")
	errInvalidPort     = errors.New("port must be between 0 and 65535")
)

// configKeys lists every key understood in a configuration file. Each can
// be overridden by the CARBON_<KEY> environment variable.
var configKeys = []string{
	"use_udp", "host_udp", "port_udp", "multicast",
	"use_tcp", "host_tcp", "port_tcp",
	"interval", "grouped_collectd_plugins", "use_dedicated_thread",
	"clean_every", "report_every", "poll_every",
	"status_addr", "command_log",
	"database_driver", "database_dsn",
	"nats_url", "nats_subject",
	"log_level",
}

type Config struct {
	UseUDP    bool
	UDPHost   string
	UDPPort   int
	Multicast bool

	UseTCP  bool
	TCPHost string
	TCPPort int

	Interval       time.Duration
	GroupedPlugins []string
	// Dedicated runs receiving and ingestion on their own goroutine.
	Dedicated bool

	CleanEvery  time.Duration
	ReportEvery time.Duration
	PollEvery   time.Duration

	StatusAddr     string
	CommandLog     string
	DatabaseDriver string
	DatabaseDSN    string
	NATSURL        string
	NATSSubject    string
	LogLevel       string
}

func DefaultConfig() *Config {
	return &Config{
		UDPPort:        receiver.DefaultPort,
		TCPHost:        "0.0.0.0",
		TCPPort:        receiver.DefaultPort,
		Interval:       aggregators.DefaultInterval,
		CleanEvery:     15 * time.Second,
		ReportEvery:    60 * time.Second,
		PollEvery:      time.Second,
		DatabaseDriver: "postgres",
		NATSSubject:    "carbon.commands",
		LogLevel:       "info",
	}
}

// ConfigFromMap builds a Config from lower-cased key=value pairs, as read
// from a module configuration file. Missing keys keep their defaults.
func ConfigFromMap(m map[string]string) (*Config, error) {
	cfg := DefaultConfig()
	var err error

	cfg.UseUDP = util.ParseBool(m["use_udp"])
	cfg.UseTCP = util.ParseBool(m["use_tcp"])
	cfg.Multicast = util.ParseBool(m["multicast"])
	cfg.Dedicated = util.ParseBool(m["use_dedicated_thread"])

	if v, ok := m["host_udp"]; ok {
		cfg.UDPHost = v
	}
	if v, ok := m["host_tcp"]; ok && v != "" {
		cfg.TCPHost = v
	}
	if v, ok := m["port_udp"]; ok {
		if cfg.UDPPort, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("port_udp: %w", err)
		}
	}
	if v, ok := m["port_tcp"]; ok {
		if cfg.TCPPort, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("port_tcp: %w", err)
		}
	}
	if v, ok := m["interval"]; ok {
		if cfg.Interval, err = parseSeconds(v); err != nil {
			return nil, fmt.Errorf("interval: %w", err)
		}
	}
	if v, ok := m["clean_every"]; ok {
		if cfg.CleanEvery, err = parseSeconds(v); err != nil {
			return nil, fmt.Errorf("clean_every: %w", err)
		}
	}
	if v, ok := m["report_every"]; ok {
		if cfg.ReportEvery, err = parseSeconds(v); err != nil {
			return nil, fmt.Errorf("report_every: %w", err)
		}
	}
	if v, ok := m["poll_every"]; ok {
		if cfg.PollEvery, err = parseSeconds(v); err != nil {
			return nil, fmt.Errorf("poll_every: %w", err)
		}
	}
	if v, ok := m["grouped_collectd_plugins"]; ok {
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				cfg.GroupedPlugins = append(cfg.GroupedPlugins, name)
			}
		}
	}

	for key, dest := range map[string]*string{
		"status_addr":     &cfg.StatusAddr,
		"command_log":     &cfg.CommandLog,
		"database_driver": &cfg.DatabaseDriver,
		"database_dsn":    &cfg.DatabaseDSN,
		"nats_url":        &cfg.NATSURL,
		"nats_subject":    &cfg.NATSSubject,
		"log_level":       &cfg.LogLevel,
	} {
		if v, ok := m[key]; ok && v != "" {
			*dest = v
		}
	}

	return cfg, nil
}

// parseSeconds accepts a bare number of seconds or a Go duration.
func parseSeconds(s string) (time.Duration, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

// LoadConfig reads a key=value file (optional when path is empty) and
// applies CARBON_* environment overrides on top of it.
func LoadConfig(path string) (*Config, error) {
	fileValues := map[string]string{}
	if path != "" {
		if err := util.LoadConfig(path, fileValues); err != nil {
			return nil, fmt.Errorf("load config %s: %w", path, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix("carbon")
	v.AutomaticEnv()

	layered := map[string]interface{}{}
	for key, val := range fileValues {
		layered[key] = val
	}
	if err := v.MergeConfigMap(layered); err != nil {
		return nil, err
	}

	merged := map[string]string{}
	for _, key := range configKeys {
		if v.IsSet(key) {
			merged[key] = v.GetString(key)
		}
	}
	return ConfigFromMap(merged)
}

func (c *Config) Validate() error {
	if !c.UseUDP && !c.UseTCP {
		return receiver.ErrNoTransport
	}
	if c.Interval < time.Second {
		return errInvalidInterval
	}
	for _, port := range []int{c.UDPPort, c.TCPPort} {
		if port < 0 || port > 65535 {
			return errInvalidPort
		}
	}
	return nil
}

func (c *Config) udpConfig() *receiver.UDPConfig {
	if !c.UseUDP {
		return nil
	}
	return &receiver.UDPConfig{Host: c.UDPHost, Port: c.UDPPort, Multicast: c.Multicast}
}

func (c *Config) tcpConfig() *receiver.TCPConfig {
	if !c.UseTCP {
		return nil
	}
	return &receiver.TCPConfig{Host: c.TCPHost, Port: c.TCPPort}
}
