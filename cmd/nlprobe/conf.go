package main

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
	nl "github.com/khirono/go-tstnl"
)

type Config struct {
	LogLevel string `yaml:"logLevel"`
	LogTime  bool   `yaml:"logTime"`

	// WaitTimeout is in milliseconds.
	WaitTimeout int `yaml:"waitTimeout"`
	BufferSize  int `yaml:"bufferSize"`
}

func defaultConfig() *Config {
	return &Config{
		LogLevel:    "info",
		WaitTimeout: int(nl.DefaultWaitTimeout.Milliseconds()),
		BufferSize:  nl.DefaultBufferSize,
	}
}

func (c Config) String() string {
	m, err := yaml.MarshalWithOptions(c, yaml.Indent(2), yaml.IndentSequence(true))
	if err != nil {
		return "marshalling error..."
	}
	return string(m)
}

func (c *Config) UnmarshalYAML(b []byte) error {
	// Needed to break recursive calls into UnmarshalYAML
	type config Config

	def := (*config)(defaultConfig())
	if err := yaml.Unmarshal(b, def); err != nil {
		return err
	}

	*c = Config(*def)

	return nil
}

func (c *Config) Validate() error {
	if _, ok := logLevelMap[c.LogLevel]; !ok {
		return fmt.Errorf("unknown log level %q", c.LogLevel)
	}
	if c.WaitTimeout <= 0 {
		return fmt.Errorf("waitTimeout must be positive, got %d", c.WaitTimeout)
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("bufferSize must be positive, got %d", c.BufferSize)
	}
	return nil
}

func ReadConf(path string) (*Config, error) {
	r, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading the configuration file: %w", err)
	}

	conf := defaultConfig()
	if err := yaml.Unmarshal(r, conf); err != nil {
		return nil, fmt.Errorf("error unmarshaling the configuration: %w", err)
	}

	return conf, nil
}
