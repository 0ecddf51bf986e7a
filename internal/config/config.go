// Package config loads the optional JSON config file a broker binary can
// be pointed at with -c/--config. Flags always take precedence; a config
// file only supplies defaults for values the caller didn't pass on the
// command line.
package config

import (
	"encoding/json"
	"errors"
	"os"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Config is the set of broker settings that can be supplied via a JSON
// file instead of, or in addition to, command-line flags.
type Config struct {
	// Host is the address to listen on, e.g. "127.0.0.1".
	Host string `json:"host"`
	// Port is the TCP or UDP port to listen on.
	Port uint16 `json:"port"`
	// WS optionally specifies an address for an additional WebSocket
	// listener carrying the same binary protocol. Empty disables it.
	WS string `json:"ws"`
	// Verbose raises the log level to Debug.
	Verbose bool `json:"verbose"`
	// Log configures optional log output file and level.
	Log struct {
		File  string `json:"file"`
		Level string `json:"level"`
	} `json:"log"`
}

// LoadFromFile reads and validates a JSON config file at fPath.
func LoadFromFile(fPath string) (*Config, error) {
	f, err := os.Open(fPath)
	if err != nil {
		return nil, errors.New("error opening config file: " + err.Error())
	}
	defer f.Close()

	var c Config
	if err := json.NewDecoder(f).Decode(&c); err != nil {
		return nil, errors.New("error reading config file: " + err.Error())
	}

	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// ApplyLogLevel sets the logrus level from c.Log.Level, leaving the
// current level untouched if it's empty.
func (c *Config) ApplyLogLevel() error {
	if c.Log.Level == "" {
		return nil
	}
	switch strings.ToLower(c.Log.Level) {
	case "error":
		log.SetLevel(log.ErrorLevel)
	case "warn":
		log.SetLevel(log.WarnLevel)
	case "info":
		log.SetLevel(log.InfoLevel)
	case "debug":
		log.SetLevel(log.DebugLevel)
	default:
		return errors.New("unknown log level: " + c.Log.Level)
	}
	return nil
}

func (c *Config) validate() error {
	if c.WS != "" && !strings.Contains(c.WS, ":") {
		return errors.New("ws address must be host:port")
	}
	if c.Log.Level != "" {
		switch strings.ToLower(c.Log.Level) {
		case "error", "warn", "info", "debug":
		default:
			return errors.New("unknown log level: " + c.Log.Level)
		}
	}
	return nil
}
