// eslclient connects to a switch's event socket, runs api commands and
// optionally follows events until interrupted.
//
// Usage:
//
//	eslclient [flags] [command ...]
//
// Each positional argument is one api command, e.g. "status" or
// "sofia status profile internal". Results are printed in order.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/sammck-go/eventsocket/pkg/esl"
	"github.com/sammck-go/eventsocket/pkg/eslevent"
	esshare "github.com/sammck-go/eventsocket/share"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	configPath string
	follow     bool
	timeout    time.Duration
	commands   []string
	config     *fileConfig
}

func parseFlags(args []string) (*options, error) {
	var (
		configPath       string
		address          string
		password         string
		events           []string
		follow           bool
		debug            bool
		verbose          bool
		logLevel         string
		sshJump          string
		sshFingerprint   string
		sshKey           string
		socks            string
		maxRetryCount    int
		maxRetryInterval time.Duration
		timeout          time.Duration
	)
	flagSet := pflag.NewFlagSet("eslclient", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "YAML config file")
	flagSet.StringVarP(&address, "address", "a", "127.0.0.1:8021", "event socket address: host[:port] or tcp://, tls://, ws://, wss:// URL")
	flagSet.StringVarP(&password, "password", "p", esl.DefaultPassword, "event socket password")
	flagSet.StringArrayVarP(&events, "event", "e", nil, `event to follow, e.g. CHANNEL_ANSWER, "CUSTOM sofia::register" or ALL (repeatable)`)
	flagSet.BoolVarP(&follow, "follow", "f", false, "keep running and print events until interrupted")
	flagSet.BoolVar(&debug, "debug", false, "enable debug logging")
	flagSet.BoolVarP(&verbose, "verbose", "v", false, "log every received frame")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level: error, warning, info, debug, trace")
	flagSet.StringVar(&sshJump, "ssh-jump", "", "reach the socket through an ssh jump host: user[:password]@host[:port]")
	flagSet.StringVar(&sshFingerprint, "ssh-fingerprint", "", "expected jump host key fingerprint (prefix)")
	flagSet.StringVar(&sshKey, "ssh-key", "", "private key file for the jump host")
	flagSet.StringVar(&socks, "socks5", "", "reach the socket through a SOCKS5 proxy: [user[:password]@]host[:port]")
	flagSet.IntVar(&maxRetryCount, "max-retry-count", 0, "give up after this many failed connection attempts (0: never)")
	flagSet.DurationVar(&maxRetryInterval, "max-retry-interval", time.Minute, "longest wait between connection attempts")
	flagSet.DurationVar(&timeout, "timeout", 30*time.Second, "time allowed to connect and for each command")
	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}

	config := defaultFileConfig()
	if configPath != "" {
		var err error
		if config, err = loadConfig(configPath); err != nil {
			return nil, err
		}
	}
	// flags given explicitly win over the file
	changed := flagSet.Changed
	if changed("address") || configPath == "" {
		config.Address = address
	}
	if changed("password") || configPath == "" {
		config.Password = password
	}
	if changed("event") {
		config.Events = events
	}
	if changed("debug") {
		config.Debug = debug
	}
	if changed("verbose") {
		config.Verbose = verbose
	}
	if changed("log-level") || configPath == "" {
		if err := config.LogLevel.FromString(logLevel); err != nil {
			return nil, err
		}
	}
	if changed("ssh-jump") {
		config.SSH.JumpHost = sshJump
	}
	if changed("ssh-fingerprint") {
		config.SSH.Fingerprint = sshFingerprint
	}
	if changed("ssh-key") {
		config.SSH.KeyFile = sshKey
	}
	if changed("socks5") {
		config.SOCKS5Proxy = socks
	}
	if changed("max-retry-count") {
		config.MaxRetryCount = maxRetryCount
	}
	if changed("max-retry-interval") {
		config.MaxRetryInterval = maxRetryInterval
	}
	if config.Debug && config.LogLevel < esshare.LogLevelDebug {
		config.LogLevel = esshare.LogLevelDebug
	}

	return &options{
		configPath: configPath,
		follow:     follow || len(config.Events) > 0,
		timeout:    timeout,
		commands:   flagSet.Args(),
		config:     config,
	}, nil
}

func run(args []string) error {
	opts, err := parseFlags(args)
	if err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if len(opts.commands) == 0 && !opts.follow {
		return fmt.Errorf("nothing to do: give a command or --follow")
	}

	logger := esshare.NewLogger("eslclient", opts.config.LogLevel)
	config := opts.config.Config
	config.Logger = logger
	if config.Dialer, err = opts.config.dialer(logger.Fork("transport")); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, opts.timeout)
	client, err := esl.ConnectConfig(connectCtx, &config)
	cancel()
	if err != nil {
		return err
	}
	defer client.Close()

	for _, line := range opts.commands {
		if err := runCommand(ctx, client, line, opts.timeout); err != nil {
			return err
		}
	}
	if !opts.follow {
		return nil
	}

	events := opts.config.Events
	if len(events) == 0 {
		events = []string{esl.AllEvents}
	}
	printEvent := esl.HandlerFunc(func(ev *eslevent.PlainText) error {
		fmt.Println(eslevent.Render(ev))
		return nil
	})
	for _, e := range events {
		key, err := parseEventKey(e)
		if err != nil {
			return err
		}
		if _, err := client.Subscribe(key.Name, key.Subclass, printEvent); err != nil {
			return err
		}
	}
	client.OnDisconnected(func(reason error) {
		logger.WLogf("Disconnected: %s", reason)
	})

	select {
	case <-ctx.Done():
		logger.ILogf("Interrupted")
		return nil
	case <-client.ShutdownDoneChan():
		return client.WaitShutdown()
	}
}

func runCommand(ctx context.Context, client *esl.Client, line string, timeout time.Duration) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	out, err := client.SendCommand(fields[0], fields[1:]...).Wait(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", line, err)
	}
	fmt.Print(out)
	if !strings.HasSuffix(out, "\n") {
		fmt.Println()
	}
	return nil
}
