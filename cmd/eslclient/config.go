package main

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/ssh"
	"gopkg.in/yaml.v3"

	"github.com/sammck-go/eventsocket/pkg/esl"
	"github.com/sammck-go/eventsocket/pkg/esltransport"
	esshare "github.com/sammck-go/eventsocket/share"
)

// fileConfig is the YAML configuration file. Flags override it.
type fileConfig struct {
	esl.Config `yaml:",inline"`

	LogLevel esshare.LogLevel `yaml:"log_level"`

	// Events are followed after the commands run: "CHANNEL_ANSWER",
	// "CUSTOM sofia::register" or "ALL"
	Events []string `yaml:"events"`

	SSH struct {
		JumpHost    string `yaml:"jump_host"`
		Fingerprint string `yaml:"fingerprint"`
		KeyFile     string `yaml:"key_file"`
	} `yaml:"ssh"`

	SOCKS5Proxy string `yaml:"socks5_proxy"`
}

func defaultFileConfig() *fileConfig {
	return &fileConfig{Config: *esl.DefaultConfig(), LogLevel: esshare.LogLevelInfo}
}

// loadConfig reads path over the defaults
func loadConfig(path string) (*fileConfig, error) {
	config := defaultFileConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	return config, nil
}

// dialer builds the transport the config asks for, or nil for the address default
func (c *fileConfig) dialer(logger esshare.Logger) (esltransport.Dialer, error) {
	if c.SSH.JumpHost != "" && c.SOCKS5Proxy != "" {
		return nil, fmt.Errorf("ssh jump host and socks5 proxy are mutually exclusive")
	}
	if c.SOCKS5Proxy != "" {
		return &esltransport.SOCKS5Dialer{Proxy: c.SOCKS5Proxy}, nil
	}
	if c.SSH.JumpHost == "" {
		return nil, nil
	}
	d := &esltransport.SSHDialer{
		JumpHost:    c.SSH.JumpHost,
		Fingerprint: c.SSH.Fingerprint,
		Logger:      logger,
	}
	if c.SSH.KeyFile != "" {
		key, err := os.ReadFile(c.SSH.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("reading ssh key: %w", err)
		}
		d.Signer, err = ssh.ParsePrivateKey(key)
		if err != nil {
			return nil, fmt.Errorf("parsing ssh key %s: %w", c.SSH.KeyFile, err)
		}
	}
	return d, nil
}

// parseEventKey parses "NAME", "CUSTOM <subclass>" or "ALL"
func parseEventKey(s string) (esl.EventKey, error) {
	fields := strings.Fields(s)
	switch len(fields) {
	case 1:
		return esl.EventKey{Name: strings.ToUpper(fields[0])}, nil
	case 2:
		return esl.EventKey{Name: strings.ToUpper(fields[0]), Subclass: fields[1]}, nil
	default:
		return esl.EventKey{}, fmt.Errorf("invalid event %q", s)
	}
}
