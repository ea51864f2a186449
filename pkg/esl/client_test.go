package esl

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sammck-go/eventsocket/pkg/eslevent"
	"github.com/sammck-go/eventsocket/pkg/eslwire"
	esshare "github.com/sammck-go/eventsocket/share"
)

func TestConnectAuthenticateAndRunCommand(t *testing.T) {
	d := newPairDialer()
	config := testConfig(d)
	logs := &syncBuffer{}
	config.Logger = esshare.NewLoggerWithWriter(logs, "test", esshare.LogLevelDebug)

	type result struct {
		c   *Client
		err error
	}
	done := make(chan result, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		c, err := ConnectConfig(ctx, config)
		done <- result{c, err}
	}()

	sw := d.accept(t)
	sw.send(authRequest)
	sw.expect("auth secret")
	sw.reply("+OK accepted")
	sw.expect("event plain BACKGROUND_JOB")
	sw.reply("+OK event listener enabled plain")

	r := <-done
	require.NoError(t, r.err)
	c := r.c
	defer c.Close()
	assert.Equal(t, StateAuthenticated, c.State())

	f := c.SendCommand("status")
	sw.expect("api status")
	sw.send(apiResponse("UP"))
	got, err := wait(t, f)
	require.NoError(t, err)
	assert.Equal(t, "UP", got)

	require.NoError(t, c.Close())
	assert.Contains(t, logs.String(), "auth ********")
	assert.NotContains(t, logs.String(), "auth secret")
}

func TestRepliesAreMatchedInSendOrder(t *testing.T) {
	c, _, sw := connected(t)

	f1 := c.SendCommand("show", "channels")
	f2 := c.SendCommand("sofia status")
	f3 := c.SendCommand("nonsense")
	sw.expect("api show channels")
	sw.expect("api sofia status")
	sw.expect("api nonsense")

	sw.send(apiResponse("0 total.\n"))
	sw.send(apiResponse("profile internal RUNNING\n"))
	sw.send(apiResponse("-ERR nonsense Command not found!\n"))

	got, err := wait(t, f1)
	require.NoError(t, err)
	assert.Equal(t, "0 total.\n", got)

	got, err = wait(t, f2)
	require.NoError(t, err)
	assert.Equal(t, "profile internal RUNNING\n", got)

	_, err = wait(t, f3)
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "api nonsense", cmdErr.Command)
	assert.True(t, strings.HasPrefix(cmdErr.Reply, "-ERR"))
	assert.NotErrorIs(t, err, ErrConnectionLost)

	// the connection is still healthy
	f4 := c.SendCommand("status")
	sw.expect("api status")
	sw.send(apiResponse("UP"))
	got, err = wait(t, f4)
	require.NoError(t, err)
	assert.Equal(t, "UP", got)
}

func TestBackgroundCommandResolvesWithJobEvent(t *testing.T) {
	c, _, sw := connected(t)

	f := c.SendBackgroundCommand("originate", "user/1000", "&park()")
	sw.expect("bgapi originate user/1000 &park()")
	sw.send(bgapiAck("job-1"))
	sw.send(backgroundJob("job-other", "+OK not yours\n"))

	// a round trip guarantees the frames above were processed
	ping := c.SendCommand("status")
	sw.expect("api status")
	sw.send(apiResponse("UP"))
	_, err := wait(t, ping)
	require.NoError(t, err)

	select {
	case <-f.Done():
		t.Fatal("background future resolved by an unrelated job")
	default:
	}

	sw.send(backgroundJob("job-1", "+OK 7f4de4bc\n"))
	got, err := wait(t, f)
	require.NoError(t, err)
	assert.Equal(t, "+OK 7f4de4bc\n", got)
}

func TestBackgroundCommandAckFailures(t *testing.T) {
	c, _, sw := connected(t)

	refused := c.SendBackgroundCommand("originate", "bogus")
	sw.expect("bgapi originate bogus")
	sw.reply("-ERR invalid")
	_, err := wait(t, refused)
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "-ERR invalid", cmdErr.Reply)

	noJob := c.SendBackgroundCommand("status")
	sw.expect("bgapi status")
	sw.reply("+OK")
	_, err = wait(t, noJob)
	assert.ErrorIs(t, err, ErrProtocolViolation)
}

func TestBackgroundJobEventIsAlsoDispatched(t *testing.T) {
	c, _, sw := connected(t)

	got := make(chan *eslevent.PlainText, 1)
	_, err := c.Subscribe("BACKGROUND_JOB", "", HandlerFunc(func(ev *eslevent.PlainText) error {
		got <- ev
		return nil
	}))
	require.NoError(t, err)

	f := c.SendBackgroundCommand("status")
	sw.expect("bgapi status")
	sw.send(bgapiAck("job-2"))
	sw.send(backgroundJob("job-2", "UP"))

	_, err = wait(t, f)
	require.NoError(t, err)
	select {
	case ev := <-got:
		assert.Equal(t, "job-2", ev.JobUUID())
	case <-time.After(testTimeout):
		t.Fatal("BACKGROUND_JOB was not dispatched")
	}
}

func TestTransportLossRejectsOutstandingWorkAndReconnects(t *testing.T) {
	c, d, sw := connected(t)

	_, err := c.Subscribe("CHANNEL_ANSWER", "", HandlerFunc(func(*eslevent.PlainText) error { return nil }))
	require.NoError(t, err)
	sw.expect("event plain BACKGROUND_JOB CHANNEL_ANSWER")
	sw.reply("+OK event listener enabled plain")

	disconnected := make(chan error, 1)
	c.OnDisconnected(func(reason error) { notify(disconnected, reason) })
	authenticated := make(chan struct{}, 1)
	c.OnAuthenticated(func() { notify(authenticated, struct{}{}) })

	job := c.SendBackgroundCommand("originate", "user/1000", "&park()")
	sw.expect("bgapi originate user/1000 &park()")
	sw.send(bgapiAck("job-3"))
	f1 := c.SendCommand("status")
	f2 := c.SendCommand("uptime")
	sw.expect("api status")
	sw.expect("api uptime")
	sw.conn.Close()

	for _, f := range []*Future{f1, f2, job} {
		_, err := wait(t, f)
		assert.ErrorIs(t, err, ErrConnectionLost)
	}
	select {
	case reason := <-disconnected:
		assert.ErrorIs(t, reason, ErrConnectionLost)
	case <-time.After(testTimeout):
		t.Fatal("OnDisconnected not called")
	}

	sw2 := d.accept(t)
	sw2.send(authRequest)
	sw2.expect("auth secret")
	sw2.reply("+OK accepted")
	sw2.expect("event plain BACKGROUND_JOB CHANNEL_ANSWER")
	sw2.reply("+OK event listener enabled plain")
	select {
	case <-authenticated:
	case <-time.After(testTimeout):
		t.Fatal("OnAuthenticated not called after reconnect")
	}

	// a late completion for the old job has no effect
	sw2.send(backgroundJob("job-3", "+OK late\n"))
	_, err = f2.Result()
	assert.ErrorIs(t, err, ErrConnectionLost)
	_, err = job.Result()
	assert.ErrorIs(t, err, ErrConnectionLost)
}

func TestSecondAuthRequestClosesSession(t *testing.T) {
	c, d, sw := connected(t)

	disconnected := make(chan error, 1)
	c.OnDisconnected(func(reason error) { notify(disconnected, reason) })

	pending := c.SendCommand("status")
	sw.expect("api status")
	sw.send(authRequest)
	sw.expectClosed()

	_, err := wait(t, pending)
	assert.ErrorIs(t, err, ErrConnectionLost)
	assert.ErrorIs(t, err, ErrProtocolViolation)
	assert.ErrorIs(t, <-disconnected, ErrProtocolViolation)

	// not terminal: the client dials again
	d.accept(t).authenticate("secret")
}

func TestFirstFrameMustBeAuthRequest(t *testing.T) {
	c, d := startClient(t, nil)
	disconnected := make(chan error, 1)
	c.OnDisconnected(func(reason error) { notify(disconnected, reason) })

	sw := d.accept(t)
	sw.send(commandReply("+OK"))
	sw.expectClosed()
	assert.ErrorIs(t, <-disconnected, ErrProtocolViolation)

	d.accept(t).authenticate("secret")
}

func TestAuthFailureIsTerminal(t *testing.T) {
	c, d := startClient(t, nil)

	sw := d.accept(t)
	sw.send(authRequest)
	sw.expect("auth secret")
	sw.reply("-ERR invalid")
	sw.expectClosed()

	err := c.WaitShutdown()
	assert.ErrorIs(t, err, ErrAuthFailed)
	assert.Equal(t, StateDisconnected, c.State())
	assert.EqualValues(t, 1, d.dials.Load())

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	assert.ErrorIs(t, c.WaitAuthenticated(ctx), ErrAuthFailed)
	_, err = c.SendCommand("status").Result()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestRudeRejectionIsTerminal(t *testing.T) {
	c, d := startClient(t, nil)

	sw := d.accept(t)
	sw.send("Content-Type: text/rude-rejection\nContent-Length: 24\n\nAccess Denied, go away.\n")
	sw.expectClosed()

	assert.ErrorIs(t, c.WaitShutdown(), ErrRejected)
	assert.EqualValues(t, 1, d.dials.Load())
}

func TestAuthTimeoutReconnects(t *testing.T) {
	c, d := startClient(t, func(config *Config) {
		config.AuthTimeout = 200 * time.Millisecond
	})
	disconnected := make(chan error, 1)
	c.OnDisconnected(func(reason error) { notify(disconnected, reason) })

	d.accept(t).expectClosed()
	assert.ErrorIs(t, <-disconnected, ErrAuthTimeout)

	d.accept(t).authenticate("secret")
}

func TestDialFailuresRetryUntilMaxRetryCount(t *testing.T) {
	config := testConfig(newPairDialer())
	config.Dialer = &failingDialer{}
	config.MaxRetryCount = 3
	c, err := NewClient(config)
	require.NoError(t, err)
	var failures atomic.Int32
	c.OnDisconnected(func(reason error) {
		if errors.Is(reason, ErrConnectionLost) && errors.Is(reason, errDialRefused) {
			failures.Add(1)
		}
	})
	require.NoError(t, c.Start(context.Background()))

	err = c.WaitShutdown()
	assert.ErrorIs(t, err, ErrConnectionLost)
	assert.ErrorIs(t, err, errDialRefused)
	assert.EqualValues(t, 4, config.Dialer.(*failingDialer).dials.Load())
	assert.EqualValues(t, 4, failures.Load())
}

func TestFramingErrorClosesSessionAndReconnects(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  error
	}{
		{"malformed header", "Content-Type: api/response\nthis line has no colon\n\n", eslwire.ErrMalformedHeader},
		{"bad content length", "Content-Type: api/response\nContent-Length: -3\n\n", eslwire.ErrBadContentLength},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, d, sw := connected(t)
			disconnected := make(chan error, 1)
			c.OnDisconnected(func(reason error) { notify(disconnected, reason) })

			pending := c.SendCommand("status")
			sw.expect("api status")
			sw.send(tt.frame)
			sw.expectClosed()

			_, err := wait(t, pending)
			assert.ErrorIs(t, err, ErrConnectionLost)
			assert.ErrorIs(t, err, tt.want)
			select {
			case reason := <-disconnected:
				assert.ErrorIs(t, reason, tt.want)
			case <-time.After(testTimeout):
				t.Fatal("OnDisconnected not called")
			}

			d.accept(t).authenticate("secret")
			ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
			defer cancel()
			require.NoError(t, c.WaitAuthenticated(ctx))
		})
	}
}

func TestCloseFromDisconnectCallback(t *testing.T) {
	c, _, sw := connected(t)
	closed := make(chan error, 1)
	c.OnDisconnected(func(error) { notify(closed, c.Close()) })

	sw.conn.Close()
	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(testTimeout):
		t.Fatal("Close called from OnDisconnected did not return")
	}
	select {
	case <-c.ShutdownDoneChan():
	case <-time.After(testTimeout):
		t.Fatal("shutdown did not finish")
	}
	assert.Equal(t, StateDisconnected, c.State())
}

func TestCloseFromEventHandler(t *testing.T) {
	c, _, sw := connected(t)
	closed := make(chan error, 1)
	_, err := c.SubscribeAll(HandlerFunc(func(*eslevent.PlainText) error {
		notify(closed, c.Close())
		return nil
	}))
	require.NoError(t, err)
	sw.expect("event plain all")
	sw.reply("+OK event listener enabled plain")

	sw.send(plainEvent("", "Event-Name", "HEARTBEAT"))
	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(testTimeout):
		t.Fatal("Close called from a handler did not return")
	}
	sw.expectClosed()
	select {
	case <-c.ShutdownDoneChan():
	case <-time.After(testTimeout):
		t.Fatal("shutdown did not finish")
	}
	_, err = c.SendCommand("status").Result()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCommandsWhileNotConnected(t *testing.T) {
	config := testConfig(newPairDialer())
	c, err := NewClient(config)
	require.NoError(t, err)

	_, err = c.SendCommand("status").Result()
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = c.SendBackgroundCommand("status").Result()
	assert.ErrorIs(t, err, ErrNotConnected)

	require.NoError(t, c.Close())
	_, err = c.SendRaw("log 7").Result()
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, StateDisconnected, c.State())
}

func TestCloseRejectsPendingWork(t *testing.T) {
	c, d, sw := connected(t)

	f := c.SendCommand("status")
	job := c.SendBackgroundCommand("status")
	sw.expect("api status")
	sw.expect("bgapi status")

	require.NoError(t, c.Close())
	_, err := f.Result()
	assert.ErrorIs(t, err, ErrClosed)
	_, err = job.Result()
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, StateDisconnected, c.State())
	assert.EqualValues(t, 1, d.dials.Load())
}

func TestEmptyAndInvalidCommands(t *testing.T) {
	c, _, sw := connected(t)

	_, err := c.SendCommand("  ").Result()
	assert.Error(t, err)
	_, err = c.SendRaw("api a\n\napi b").Result()
	assert.Error(t, err)

	// nothing was queued for either, so the next reply pairs correctly
	f := c.SendRaw("log 7")
	sw.expect("log 7")
	sw.reply("+OK log level 7 [7]")
	got, err := wait(t, f)
	require.NoError(t, err)
	assert.Equal(t, "+OK log level 7 [7]", got)
}

func TestSubscriptionChangesAreAnnounced(t *testing.T) {
	c, _, sw := connected(t)
	noop := HandlerFunc(func(*eslevent.PlainText) error { return nil })

	answer, err := c.Subscribe("CHANNEL_ANSWER", "", noop)
	require.NoError(t, err)
	sw.expect("event plain BACKGROUND_JOB CHANNEL_ANSWER")
	sw.reply("+OK event listener enabled plain")

	_, err = c.Subscribe("CUSTOM", "sofia::register", noop)
	require.NoError(t, err)
	sw.expect("event plain BACKGROUND_JOB CHANNEL_ANSWER CUSTOM sofia::register")
	sw.reply("+OK event listener enabled plain")

	// a second handler for a subscribed key changes nothing on the wire
	_, err = c.Subscribe("CHANNEL_ANSWER", "", noop)
	require.NoError(t, err)

	answer.Cancel()
	// still one handler left for CHANNEL_ANSWER
	ping := c.SendCommand("status")
	sw.expect("api status")
	sw.send(apiResponse("UP"))
	_, err = wait(t, ping)
	require.NoError(t, err)

	all, err := c.SubscribeAll(noop)
	require.NoError(t, err)
	sw.expect("event plain all")
	sw.reply("+OK event listener enabled plain")

	all.Cancel()
	sw.expect("noevents")
	sw.reply("+OK no longer listening for events")
	sw.expect("event plain BACKGROUND_JOB CHANNEL_ANSWER CUSTOM sofia::register")
	sw.reply("+OK event listener enabled plain")
}

func TestEventsAreDispatchedToSubscribers(t *testing.T) {
	c, _, sw := connected(t)

	var order []string
	done := make(chan struct{})
	record := func(name string) Handler {
		return HandlerFunc(func(ev *eslevent.PlainText) error {
			order = append(order, name+":"+ev.Get("Unique-ID"))
			return nil
		})
	}
	table := make(map[EventKey]Handler)
	table[EventKey{Name: "CHANNEL_ANSWER"}] = record("answer")
	table[EventKey{Name: "CUSTOM", Subclass: "conference::maintenance"}] = record("conference")
	_, err := c.SubscribeTable(table)
	require.NoError(t, err)
	sw.expect("event plain BACKGROUND_JOB CHANNEL_ANSWER")
	sw.reply("+OK event listener enabled plain")
	sw.expect("event plain BACKGROUND_JOB CHANNEL_ANSWER CUSTOM conference::maintenance")
	sw.reply("+OK event listener enabled plain")

	_, err = c.Subscribe("CHANNEL_HANGUP", "", HandlerFunc(func(*eslevent.PlainText) error {
		close(done)
		return nil
	}))
	require.NoError(t, err)
	sw.expect("event plain BACKGROUND_JOB CHANNEL_ANSWER CHANNEL_HANGUP CUSTOM conference::maintenance")
	sw.reply("+OK event listener enabled plain")

	sw.send(plainEvent("", "Event-Name", "CHANNEL_ANSWER", "Unique-ID", "a1"))
	sw.send(plainEvent("", "Event-Name", "CHANNEL_PARK", "Unique-ID", "p1"))
	sw.send(plainEvent("", "Event-Name", "CUSTOM", "Event-Subclass", "conference::maintenance", "Unique-ID", "c1"))
	sw.send(plainEvent("", "Event-Name", "CHANNEL_HANGUP", "Unique-ID", "h1"))

	select {
	case <-done:
	case <-time.After(testTimeout):
		t.Fatal("CHANNEL_HANGUP was not dispatched")
	}
	assert.Equal(t, []string{"answer:a1", "conference:c1"}, order)
}

// notify sends v unless ch is full, so that callbacks fired during cleanup
// never block the client
func notify[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}

var errDialRefused = errors.New("connection refused")

type failingDialer struct {
	dials atomic.Int32
}

func (d *failingDialer) DialContext(ctx context.Context, address string) (net.Conn, error) {
	d.dials.Add(1)
	return nil, errDialRefused
}
