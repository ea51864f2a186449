package esl

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jpillora/sizestr"

	"github.com/sammck-go/eventsocket/pkg/eslevent"
	"github.com/sammck-go/eventsocket/pkg/esltransport"
	"github.com/sammck-go/eventsocket/pkg/eslwire"
	esshare "github.com/sammck-go/eventsocket/share"
)

// session is one transport connection: from dial to disconnect. It owns the
// correlator, so nothing outstanding survives it.
type session struct {
	esshare.Logger
	c      *Client
	conn   *esltransport.MeteredConn
	reader *eslwire.Reader
	corr   *correlator

	// sendMu makes queue order equal wire order
	sendMu sync.Mutex

	// announceMu guards announced, the event set last requested from the switch
	announceMu sync.Mutex
	announced  string

	mu       sync.Mutex
	closed   bool
	closeErr error

	authTimer *time.Timer
}

func newSession(c *Client, conn *esltransport.MeteredConn) *session {
	logger := c.Logger.Fork("conn#%d", conn.ID())
	s := &session{
		Logger: logger,
		c:      c,
		conn:   conn,
		reader: eslwire.NewReader(conn),
		corr:   newCorrelator(logger),
	}
	s.reader.OnChunk(func(n int) {
		s.TLogf("Read %d bytes", n)
	})
	return s
}

// run processes frames until the session ends and returns the reason it ended.
// It is called on the client's connection loop goroutine, and every frame is
// handled on it in arrival order.
func (s *session) run() error {
	s.c.connStats.Open()
	defer s.c.connStats.Close()
	s.c.setState(StateConnecting)
	s.authTimer = time.AfterFunc(s.c.config.AuthTimeout, func() {
		s.abort(fmt.Errorf("%w after %s", ErrAuthTimeout, s.c.config.AuthTimeout))
	})

	var err error
	for {
		var f *eslwire.Frame
		if f, err = s.reader.ReadFrame(); err != nil {
			break
		}
		var ev eslevent.Event
		if ev, err = eslevent.Classify(f); err != nil {
			break
		}
		if err = s.handle(ev); err != nil {
			break
		}
	}
	s.authTimer.Stop()
	s.abort(err)
	cause := s.reason()
	s.teardown(cause)
	return cause
}

// abort ends the session: the first call records the reason and closes the
// transport, which unblocks the read loop.
func (s *session) abort(reason error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.closeErr = reason
	s.mu.Unlock()
	if reason != nil {
		s.DLogf("Closing: %s", reason)
	}
	s.conn.Close()
}

func (s *session) reason() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeErr
}

func (s *session) teardown(cause error) {
	failure := connectionLost(cause)
	if errors.Is(cause, ErrClosed) {
		failure = ErrClosed
	}
	s.corr.failAll(failure)
	s.c.sessionEnded(s)
	s.ILogf("Disconnected (sent %s received %s): %v",
		sizestr.ToString(s.conn.BytesWritten()), sizestr.ToString(s.conn.BytesRead()), cause)
	s.c.fireDisconnected(failure)
}

func (s *session) handle(ev eslevent.Event) error {
	if s.c.config.Verbose {
		s.ILogf("Received %s", eslevent.Render(ev))
	} else {
		s.TLogf("Received %s", ev)
	}

	switch e := ev.(type) {
	case *eslevent.RudeRejection:
		return fmt.Errorf("%w: %s", ErrRejected, strings.TrimSpace(e.Body))
	case *eslevent.AuthRequest:
		return s.handleAuthRequest()
	}
	if s.c.State() == StateConnecting {
		return fmt.Errorf("%w: expected %s, got %s", ErrProtocolViolation, eslevent.ContentTypeAuthRequest, ev)
	}

	switch e := ev.(type) {
	case eslevent.Reply:
		s.corr.handleReply(e)
	case *eslevent.PlainText:
		if e.Name == eslevent.BackgroundJobEvent {
			s.corr.handleBackgroundJob(e)
		}
		s.c.inCallback(func() { s.c.registry.dispatch(e) })
	case *eslevent.DisconnectNotice:
		s.ILogf("Switch is disconnecting: %s", strings.TrimSpace(e.Body))
	default:
		s.DLogf("Ignoring %s", ev)
	}
	return nil
}

func (s *session) handleAuthRequest() error {
	if st := s.c.State(); st != StateConnecting {
		return fmt.Errorf("%w: %s while %s", ErrProtocolViolation, eslevent.ContentTypeAuthRequest, st)
	}
	s.c.setState(StateAwaitingAuth)
	return s.write("auth "+s.c.config.Password, "auth ********", s.handleAuthReply, nil)
}

func (s *session) handleAuthReply(r eslevent.Reply) {
	if !r.Success() {
		s.abort(fmt.Errorf("%w: %s", ErrAuthFailed, r.Result()))
		return
	}
	s.authTimer.Stop()
	s.c.setState(StateAuthenticated)
	s.ILogf("Authenticated")
	s.c.sessionAuthenticated(s)
}

// write queues a pending command and writes its line, under sendMu. display is
// what gets logged and reported in errors. An error means nothing was queued; a
// transport failure after queueing aborts the session, which fails the entry.
func (s *session) write(line, display string, onReply func(eslevent.Reply), onFail func(error)) error {
	line, err := eslwire.ValidateCommand(line)
	if err != nil {
		return err
	}
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	if err := s.corr.enqueue(&pendingCommand{text: display, onReply: onReply, onFail: onFail}); err != nil {
		return err
	}
	s.DLogf("Send %s", display)
	if err := eslwire.WriteCommand(s.conn, line); err != nil {
		s.abort(err)
	}
	return nil
}

// command sends line and returns a future for its reply. For a background
// command the reply is only an acknowledgement; the future then waits for the
// BACKGROUND_JOB event with the acknowledged Job-UUID.
func (s *session) command(line string, background bool) *Future {
	f := newFuture()
	display := strings.TrimRight(line, "\r\n")
	onReply := func(r eslevent.Reply) {
		if !r.Success() {
			f.reject(&CommandError{Command: display, Reply: r.Result()})
			return
		}
		if !background {
			f.resolve(r.Result())
			return
		}
		id := ""
		if cr, ok := r.(*eslevent.CommandReply); ok {
			id = cr.JobUUID()
		}
		if id == "" {
			f.reject(fmt.Errorf("%w: %q acknowledged without a Job-UUID", ErrProtocolViolation, display))
			return
		}
		s.DLogf("Job %s started for %q", id, display)
		if err := s.corr.addJob(id, f); err != nil {
			f.reject(err)
		}
	}
	onFail := func(err error) { f.reject(err) }
	if err := s.write(line, display, onReply, onFail); err != nil {
		f.reject(err)
	}
	return f
}

// announce asks the switch for the events the registry currently wants, unless
// that is what it last asked for.
func (s *session) announce() {
	s.announceMu.Lock()
	defer s.announceMu.Unlock()
	want := s.c.registry.announcement()
	if want == s.announced {
		return
	}
	logReply := func(r eslevent.Reply) {
		if !r.Success() {
			s.WLogf("Event subscription refused: %s", r.Result())
		}
	}
	if dropsEvents(s.announced, want) {
		if err := s.write("noevents", "noevents", logReply, nil); err != nil {
			s.DLogf("noevents: %s", err)
			return
		}
	}
	line := "event plain " + want
	if err := s.write(line, line, logReply, nil); err != nil {
		s.DLogf("%s: %s", line, err)
		return
	}
	s.announced = want
}
