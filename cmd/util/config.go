package util

import (
	"fmt"
	"strings"
	"time"

	"github.com/ValentinKolb/ixmap/lib/index"
	"github.com/ValentinKolb/ixmap/lib/store/imap"
	"github.com/spf13/viper"
)

// Config holds the settings of the CLI
type Config struct {
	Dir              string
	LogLevel         string
	Consistency      imap.Consistency
	Codec            string
	TargetMaxStale   time.Duration
	TargetMinStale   time.Duration
	CorruptionPolicy index.CorruptionPolicy
}

// GetConfig reads the configuration from viper
func GetConfig() (*Config, error) {
	consistency, err := imap.ParseConsistency(viper.GetString("consistency"))
	if err != nil {
		return nil, err
	}

	policy := index.CorruptionFail
	if viper.GetBool("rebuild") {
		policy = index.CorruptionRebuild
	}

	conf := &Config{
		Dir:              viper.GetString("dir"),
		LogLevel:         viper.GetString("log-level"),
		Consistency:      consistency,
		Codec:            strings.ToLower(viper.GetString("codec")),
		TargetMaxStale:   viper.GetDuration("max-stale"),
		TargetMinStale:   viper.GetDuration("min-stale"),
		CorruptionPolicy: policy,
	}
	if _, err := ValueCodec(conf.Codec); err != nil {
		return nil, err
	}
	return conf, nil
}

// MapOptions converts the configuration into options for imap.New
func (c *Config) MapOptions() *imap.Options {
	opts := imap.DefaultOptions()
	opts.Path = c.Dir
	opts.Consistency = c.Consistency
	opts.CorruptionPolicy = c.CorruptionPolicy
	opts.Name = "cli"
	if c.TargetMaxStale > 0 {
		opts.TargetMaxStale = c.TargetMaxStale
	}
	if c.TargetMinStale > 0 {
		opts.TargetMinStale = c.TargetMinStale
	}
	return opts
}

// String returns a string representation of the configuration
func (c *Config) String() string {
	var sb strings.Builder

	// Create helper functions for consistent formatting
	addSection := func(title string) {
		sb.WriteString("\n")
		sb.WriteString(fmt.Sprintf("%s\n", strings.ToUpper(title)))
	}

	addField := func(name, value string) {
		sb.WriteString(fmt.Sprintf("  %-22s: %s\n", name, value))
	}

	dir := c.Dir
	if dir == "" {
		dir = "<memory>"
	}

	// Storage
	addSection("Storage")
	addField("Directory", dir)
	addField("Codec", c.Codec)
	addField("Corruption Policy", c.CorruptionPolicy.String())

	// Reads
	addSection("Reads")
	addField("Consistency", c.Consistency.String())
	addField("Target Max Stale", c.TargetMaxStale.String())
	addField("Target Min Stale", c.TargetMinStale.String())

	// Logging configuration
	addSection("Logging")
	addField("Log Level", c.LogLevel)

	return sb.String()
}
