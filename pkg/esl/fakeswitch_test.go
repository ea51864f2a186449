package esl

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prep/socketpair"
	"github.com/stretchr/testify/require"

	"github.com/sammck-go/eventsocket/pkg/eslwire"
	esshare "github.com/sammck-go/eventsocket/share"
)

const testTimeout = 5 * time.Second

// pairDialer hands the client one end of a fresh socketpair per dial and
// queues the other end for the test to play the switch on.
type pairDialer struct {
	peers chan net.Conn
	dials atomic.Int32
}

func newPairDialer() *pairDialer {
	return &pairDialer{peers: make(chan net.Conn, 16)}
}

func (d *pairDialer) DialContext(ctx context.Context, address string) (net.Conn, error) {
	d.dials.Add(1)
	a, b, err := socketpair.New("unix")
	if err != nil {
		return nil, err
	}
	d.peers <- b
	return a, nil
}

// accept returns the switch side of the next connection the client dials
func (d *pairDialer) accept(t *testing.T) *fakeSwitch {
	t.Helper()
	select {
	case conn := <-d.peers:
		t.Cleanup(func() { conn.Close() })
		return &fakeSwitch{t: t, conn: conn, r: bufio.NewReader(conn)}
	case <-time.After(testTimeout):
		t.Fatal("client did not dial")
		return nil
	}
}

// fakeSwitch is the switch end of one connection
type fakeSwitch struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func (s *fakeSwitch) send(frame string) {
	s.t.Helper()
	_, err := s.conn.Write([]byte(frame))
	require.NoError(s.t, err)
}

// readCommand reads one command, up to the blank line that ends it
func (s *fakeSwitch) readCommand() (string, error) {
	s.conn.SetReadDeadline(time.Now().Add(testTimeout))
	var lines []string
	for {
		line, err := s.r.ReadString('\n')
		if err != nil {
			return strings.Join(lines, "\n"), err
		}
		line = strings.TrimRight(line, "\n")
		if line == "" {
			if len(lines) == 0 {
				continue
			}
			return strings.Join(lines, "\n"), nil
		}
		lines = append(lines, line)
	}
}

func (s *fakeSwitch) expect(want string) {
	s.t.Helper()
	got, err := s.readCommand()
	require.NoError(s.t, err)
	require.Equal(s.t, want, got)
}

// expectClosed waits for the client to close its end
func (s *fakeSwitch) expectClosed() {
	s.t.Helper()
	for {
		_, err := s.readCommand()
		if err != nil {
			var ne net.Error
			require.False(s.t, errors.As(err, &ne) && ne.Timeout(), "client did not close the connection")
			return
		}
	}
}

func (s *fakeSwitch) reply(text string) {
	s.send(commandReply(text))
}

// authenticate plays the handshake through the initial subscription
func (s *fakeSwitch) authenticate(password string) {
	s.t.Helper()
	s.send(authRequest)
	s.expect("auth " + password)
	s.reply("+OK accepted")
	s.expect("event plain BACKGROUND_JOB")
	s.reply("+OK event listener enabled plain")
}

const authRequest = "Content-Type: auth/request\n\n"

func commandReply(text string) string {
	return string(eslwire.EncodeFrame(eslwire.NewHeader("Content-Type", "command/reply", "Reply-Text", text), nil))
}

func bgapiAck(jobUUID string) string {
	return string(eslwire.EncodeFrame(eslwire.NewHeader(
		"Content-Type", "command/reply",
		"Reply-Text", "+OK Job-UUID: "+jobUUID,
		"Job-UUID", jobUUID,
	), nil))
}

func apiResponse(body string) string {
	return string(eslwire.EncodeFrame(eslwire.NewHeader("Content-Type", "api/response"), []byte(body)))
}

// plainEvent builds a text/event-plain frame from the event's own headers and body
func plainEvent(body string, kv ...string) string {
	inner := eslwire.EncodeFrame(eslwire.NewHeader(kv...), []byte(body))
	return string(eslwire.EncodeFrame(eslwire.NewHeader("Content-Type", "text/event-plain"), inner))
}

func backgroundJob(jobUUID, body string) string {
	return plainEvent(body, "Event-Name", "BACKGROUND_JOB", "Job-UUID", jobUUID)
}

// syncBuffer is a bytes.Buffer safe for concurrent log writes
type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

func testConfig(d *pairDialer) *Config {
	config := DefaultConfig()
	config.Address = "switch.test"
	config.Password = "secret"
	config.Dialer = d
	config.Logger = esshare.NewDiscardLogger()
	config.MinRetryInterval = 5 * time.Millisecond
	config.MaxRetryInterval = 20 * time.Millisecond
	return config
}

// startClient starts a client on a pairDialer; it is closed when the test ends
func startClient(t *testing.T, mutate func(*Config)) (*Client, *pairDialer) {
	t.Helper()
	d := newPairDialer()
	config := testConfig(d)
	if mutate != nil {
		mutate(config)
	}
	c, err := NewClient(config)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	require.NoError(t, c.Start(context.Background()))
	return c, d
}

// connected starts a client and authenticates its first connection
func connected(t *testing.T) (*Client, *pairDialer, *fakeSwitch) {
	t.Helper()
	c, d := startClient(t, nil)
	sw := d.accept(t)
	sw.authenticate("secret")
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	require.NoError(t, c.WaitAuthenticated(ctx))
	return c, d, sw
}

func wait(t *testing.T, f *Future) (string, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	result, err := f.Wait(ctx)
	require.NotErrorIs(t, err, context.DeadlineExceeded, "future never resolved")
	return result, err
}
