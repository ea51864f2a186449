package esl

import (
	"time"

	"github.com/sammck-go/eventsocket/pkg/esltransport"
	esshare "github.com/sammck-go/eventsocket/share"
)

// DefaultPassword is the password a stock switch is configured with
const DefaultPassword = "ClueCon"

// Config represents a client configuration
type Config struct {
	// Address is "host[:port]", optionally with a tcp://, tls://, ws:// or wss://
	// prefix. The port defaults to 8021.
	Address string `yaml:"address"`

	Password string `yaml:"password"`

	// Debug enables debug logging
	Debug bool `yaml:"debug"`

	// Verbose logs every received event in full
	Verbose bool `yaml:"verbose"`

	MinRetryInterval time.Duration `yaml:"min_retry_interval"`
	MaxRetryInterval time.Duration `yaml:"max_retry_interval"`

	// MaxRetryCount is the number of consecutive failed attempts after which the
	// client gives up. Zero retries forever.
	MaxRetryCount int `yaml:"max_retry_count"`

	// AuthTimeout bounds the time from dial to a successful auth reply
	AuthTimeout time.Duration `yaml:"auth_timeout"`

	// Dialer opens the transport. When nil it is chosen from the Address scheme.
	Dialer esltransport.Dialer `yaml:"-"`

	// Logger receives the client's log output. When nil a stderr logger is
	// created at info level (debug level if Debug is set).
	Logger esshare.Logger `yaml:"-"`
}

// DefaultConfig returns a Config for a switch on the local host
func DefaultConfig() *Config {
	return &Config{
		Address:          "127.0.0.1:8021",
		Password:         DefaultPassword,
		MinRetryInterval: 100 * time.Millisecond,
		MaxRetryInterval: time.Minute,
		AuthTimeout:      10 * time.Second,
	}
}

// withDefaults returns a copy of c with zero fields filled in
func (c *Config) withDefaults() *Config {
	def := DefaultConfig()
	out := *c
	if out.Address == "" {
		out.Address = def.Address
	}
	if out.Password == "" {
		out.Password = def.Password
	}
	if out.MinRetryInterval <= 0 {
		out.MinRetryInterval = def.MinRetryInterval
	}
	if out.MaxRetryInterval < out.MinRetryInterval {
		out.MaxRetryInterval = def.MaxRetryInterval
		if out.MaxRetryInterval < out.MinRetryInterval {
			out.MaxRetryInterval = out.MinRetryInterval
		}
	}
	if out.AuthTimeout <= 0 {
		out.AuthTimeout = def.AuthTimeout
	}
	return &out
}
