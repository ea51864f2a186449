package esl

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jpillora/backoff"

	"github.com/sammck-go/eventsocket/pkg/esltransport"
	esshare "github.com/sammck-go/eventsocket/share"
)

// Client represents an event socket client. It outlives individual
// connections: subscriptions and lifecycle callbacks survive reconnects.
type Client struct {
	esshare.ShutdownHelper
	config    *Config
	address   *esltransport.Address
	dialer    esltransport.Dialer
	registry  *registry
	connStats esshare.ConnStats
	state     atomic.Int32

	// callbackDepth is non-zero while the connection loop runs user code
	callbackDepth atomic.Int32

	// backoff is only touched by the connection loop goroutine
	backoff *backoff.Backoff

	loopCancel context.CancelFunc
	loopDone   chan struct{}

	mu              sync.Mutex
	closing         bool
	loopExited      bool
	session         *session
	authChan        chan struct{}
	onAuthenticated []func()
	onDisconnected  []func(error)
}

// NewClient creates a new client instance. It does not connect until Start.
func NewClient(config *Config) (*Client, error) {
	if config == nil {
		config = DefaultConfig()
	}
	config = config.withDefaults()

	logger := config.Logger
	if logger == nil {
		logLevel := esshare.LogLevelInfo
		if config.Debug {
			logLevel = esshare.LogLevelDebug
		}
		logger = esshare.NewLogger("esl", logLevel)
	} else if config.Debug && !logger.IsEnabled(esshare.LogLevelDebug) {
		logger.SetLogLevel(esshare.LogLevelDebug)
	}

	address, err := esltransport.ParseAddress(config.Address)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", logger.Prefix(), err)
	}
	dialer := config.Dialer
	if dialer == nil {
		dialer = address.Dialer()
	}

	c := &Client{
		config:   config,
		address:  address,
		dialer:   dialer,
		registry: newRegistry(logger.Fork("events")),
		authChan: make(chan struct{}),
		loopDone: make(chan struct{}),
		backoff: &backoff.Backoff{
			Min:    config.MinRetryInterval,
			Max:    config.MaxRetryInterval,
			Factor: 2,
			Jitter: true,
		},
	}
	c.InitShutdownHelper(logger, c)
	c.registry.onChange = c.announce
	return c, nil
}

// Connect creates a client for address, starts it, and waits until it has
// authenticated. ctx bounds the wait only; the client keeps running (and
// reconnecting) until it is closed.
func Connect(ctx context.Context, address, password string) (*Client, error) {
	config := DefaultConfig()
	config.Address = address
	config.Password = password
	return ConnectConfig(ctx, config)
}

// ConnectConfig is Connect with a full Config
func ConnectConfig(ctx context.Context, config *Config) (*Client, error) {
	c, err := NewClient(config)
	if err != nil {
		return nil, err
	}
	if err := c.Start(context.Background()); err != nil {
		return nil, err
	}
	if err := c.WaitAuthenticated(ctx); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

// Start begins connecting in the background and does not block. The client
// shuts down when ctx is done.
func (c *Client) Start(ctx context.Context) error {
	return c.DoOnceActivate(
		func() error {
			loopCtx, cancel := context.WithCancel(context.Background())
			c.mu.Lock()
			c.loopCancel = cancel
			c.mu.Unlock()
			c.ShutdownOnContext(ctx)
			c.AddShutdownChildChan(c.loopDone)
			c.ILogf("Connecting to %s", c.address)
			go c.connectionLoop(loopCtx)
			return nil
		},
		true,
	)
}

// Run starts the client and blocks until it shuts down
func (c *Client) Run(ctx context.Context) error {
	if err := c.Start(ctx); err != nil {
		return err
	}
	return c.WaitShutdown()
}

func (c *Client) connectionLoop(ctx context.Context) {
	defer func() {
		c.mu.Lock()
		c.loopExited = true
		c.mu.Unlock()
		c.setState(StateDisconnected)
		close(c.loopDone)
	}()
	var connerr error
	b := c.backoff
	for !c.IsStartedShutdown() {
		if connerr != nil {
			attempt := int(b.Attempt())
			maxAttempt := c.config.MaxRetryCount
			d := b.Duration()
			//show error and attempt counts
			msg := fmt.Sprintf("Connection error: %s", connerr)
			if attempt > 0 {
				msg += fmt.Sprintf(" (Attempt: %d", attempt)
				if maxAttempt > 0 {
					msg += fmt.Sprintf("/%d", maxAttempt)
				}
				msg += ")"
			}
			c.DLogf("%s", msg)
			//give up?
			if maxAttempt > 0 && attempt >= maxAttempt {
				c.StartShutdown(fmt.Errorf("giving up after %d attempts: %w", attempt, connectionLost(connerr)))
				break
			}
			c.ILogf("Retrying in %s...", d)
			connerr = nil
			if !c.sleep(ctx, d) {
				break
			}
		}

		id := c.connStats.New()
		netConn, err := c.dialer.DialContext(ctx, c.address.Host)
		if err != nil {
			c.connStats.Fail()
			connerr = err
			c.fireDisconnected(connectionLost(err))
			continue
		}
		s := newSession(c, esltransport.NewMeteredConn(id, netConn))
		if !c.sessionStarted(s) {
			netConn.Close()
			break
		}
		s.DLogf("Connected to %s %s", c.address, c.connStats.String())
		err = s.run()
		switch {
		case errors.Is(err, ErrAuthFailed), errors.Is(err, ErrRejected):
			c.ELogf("%s", err)
			c.StartShutdown(err)
		case err == nil:
			connerr = ErrConnectionLost
		default:
			connerr = err
		}
	}
}

func (c *Client) sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	case <-c.ShutdownStartedChan():
		return false
	}
}

// HandleOnceShutdown will be called exactly once, in its own goroutine. It should take completionError
// as an advisory completion value, actually shut down, then return the real completion value.
func (c *Client) HandleOnceShutdown(completionErr error) error {
	c.mu.Lock()
	c.closing = true
	s := c.session
	cancel := c.loopCancel
	if cancel != nil && !c.loopExited {
		c.setState(StateClosing)
	}
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if s != nil {
		s.abort(ErrClosed)
	}
	return completionErr
}

// Close shuts the client down and waits for it to finish. From inside a
// handler or lifecycle callback it only starts the shutdown, which completes
// after the callback returns.
func (c *Client) Close() error {
	if c.callbackDepth.Load() > 0 {
		c.StartShutdown(nil)
		return nil
	}
	return c.ShutdownHelper.Close()
}

// inCallback runs user code on the connection loop goroutine
func (c *Client) inCallback(fn func()) {
	c.callbackDepth.Add(1)
	defer c.callbackDepth.Add(-1)
	fn()
}

// State returns the current lifecycle state
func (c *Client) State() State {
	return State(c.state.Load())
}

// setState moves to st. Once closing, the only way out is disconnected.
func (c *Client) setState(st State) {
	for {
		old := State(c.state.Load())
		if old == st || (old == StateClosing && st != StateDisconnected) {
			return
		}
		if c.state.CompareAndSwap(int32(old), int32(st)) {
			c.DLogf("State %s -> %s", old, st)
			return
		}
	}
}

// sessionStarted makes s the current session. It reports false if the client
// is already closing.
func (c *Client) sessionStarted(s *session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return false
	}
	c.session = s
	return true
}

func (c *Client) sessionEnded(s *session) {
	c.mu.Lock()
	if c.session == s {
		c.session = nil
	}
	select {
	case <-c.authChan:
		c.authChan = make(chan struct{})
	default:
	}
	c.mu.Unlock()
	c.setState(StateDisconnected)
}

func (c *Client) sessionAuthenticated(s *session) {
	c.backoff.Reset()
	s.announce()
	c.mu.Lock()
	select {
	case <-c.authChan:
	default:
		close(c.authChan)
	}
	callbacks := append([]func(){}, c.onAuthenticated...)
	c.mu.Unlock()
	c.inCallback(func() {
		for _, fn := range callbacks {
			fn()
		}
	})
}

func (c *Client) fireDisconnected(reason error) {
	c.mu.Lock()
	callbacks := append([]func(error){}, c.onDisconnected...)
	c.mu.Unlock()
	c.inCallback(func() {
		for _, fn := range callbacks {
			fn(reason)
		}
	})
}

// activeSession returns the authenticated session, or the error a command
// should fail with
func (c *Client) activeSession() (*session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closing {
		return nil, ErrClosed
	}
	if c.session == nil || c.State() != StateAuthenticated {
		return nil, ErrNotConnected
	}
	return c.session, nil
}

// announce re-sends the event subscription after the registry changed
func (c *Client) announce() {
	if s, err := c.activeSession(); err == nil {
		s.announce()
	}
}

// WaitAuthenticated blocks until the client is authenticated, ctx is done, or
// the client shuts down.
func (c *Client) WaitAuthenticated(ctx context.Context) error {
	for {
		c.mu.Lock()
		ch := c.authChan
		c.mu.Unlock()
		if c.State() == StateAuthenticated {
			return nil
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		case <-c.ShutdownStartedChan():
			if err := c.WaitShutdown(); err != nil {
				return err
			}
			return ErrClosed
		}
	}
}

// OnAuthenticated registers fn to be called after every successful
// authentication. It runs on the connection's read goroutine.
func (c *Client) OnAuthenticated(fn func()) {
	c.mu.Lock()
	c.onAuthenticated = append(c.onAuthenticated, fn)
	c.mu.Unlock()
}

// OnDisconnected registers fn to be called whenever a connection ends or a dial
// fails, with the error outstanding commands were rejected with.
func (c *Client) OnDisconnected(fn func(reason error)) {
	c.mu.Lock()
	c.onDisconnected = append(c.onDisconnected, fn)
	c.mu.Unlock()
}

func (c *Client) submit(verb, command string, args []string) *Future {
	parts := make([]string, 0, len(args)+2)
	parts = append(parts, verb)
	for _, p := range append([]string{command}, args...) {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	if len(parts) == 1 {
		return failedFuture(fmt.Errorf("%s: empty command", verb))
	}
	s, err := c.activeSession()
	if err != nil {
		return failedFuture(err)
	}
	return s.command(strings.Join(parts, " "), verb == "bgapi")
}

// SendCommand sends "api <command> <args...>". The future resolves with the
// response body, or is rejected with a *CommandError for an -ERR response.
func (c *Client) SendCommand(command string, args ...string) *Future {
	return c.submit("api", command, args)
}

// SendBackgroundCommand sends "bgapi <command> <args...>". The future resolves
// with the body of the BACKGROUND_JOB event that completes the job.
func (c *Client) SendBackgroundCommand(command string, args ...string) *Future {
	return c.submit("bgapi", command, args)
}

// SendRaw sends a command line as is, such as "filter Unique-ID <uuid>" or
// "log 7". The future resolves with the reply text.
func (c *Client) SendRaw(line string) *Future {
	s, err := c.activeSession()
	if err != nil {
		return failedFuture(err)
	}
	return s.command(line, false)
}

// Subscribe registers handler for events named name (and, for CUSTOM events,
// subclass). Subscribing a comparable handler that is already registered for
// the same event returns the existing Subscription.
func (c *Client) Subscribe(name, subclass string, handler Handler) (*Subscription, error) {
	return c.registry.add(EventKey{Name: name, Subclass: subclass}, handler)
}

// SubscribeAll registers handler for every event
func (c *Client) SubscribeAll(handler Handler) (*Subscription, error) {
	return c.registry.add(EventKey{Name: AllEvents}, handler)
}

// SubscribeTable registers each handler in table under its key, in key order.
// If any registration fails, the ones already made are cancelled.
func (c *Client) SubscribeTable(table map[EventKey]Handler) ([]*Subscription, error) {
	keys := make([]EventKey, 0, len(table))
	for key := range table {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return keys[i].String() < keys[j].String()
	})
	subs := make([]*Subscription, 0, len(table))
	for _, key := range keys {
		s, err := c.registry.add(key, table[key])
		if err != nil {
			for _, s := range subs {
				s.Cancel()
			}
			return nil, err
		}
		subs = append(subs, s)
	}
	return subs, nil
}

// Stats returns the connection counters as "[open/total]"
func (c *Client) Stats() string {
	return c.connStats.String()
}
