package esl

import (
	"sync"

	"github.com/sammck-go/eventsocket/pkg/eslevent"
	esshare "github.com/sammck-go/eventsocket/share"
)

// pendingCommand is a command written to the switch whose reply has not been read
type pendingCommand struct {
	// text is the command as it may be logged
	text string
	// onReply is called with the reply that answers this command
	onReply func(eslevent.Reply)
	// onFail is called instead of onReply when the session ends first
	onFail func(error)
}

// correlator matches replies to commands. Replies from the switch arrive in the
// order commands were written, so pending commands are a FIFO queue; background
// jobs complete out of order and are keyed by Job-UUID.
//
// A correlator belongs to one session. Once failed it refuses new work.
type correlator struct {
	esshare.Logger

	mu    sync.Mutex
	queue []*pendingCommand
	jobs  map[string]*Future
	err   error
}

func newCorrelator(logger esshare.Logger) *correlator {
	return &correlator{
		Logger: logger,
		jobs:   make(map[string]*Future),
	}
}

// enqueue appends a command to the queue. The caller must write the command to
// the transport before releasing whatever lock orders its writes.
func (c *correlator) enqueue(p *pendingCommand) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.queue = append(c.queue, p)
	return nil
}

// addJob registers the future of an acknowledged background command
func (c *correlator) addJob(jobUUID string, f *Future) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	if _, ok := c.jobs[jobUUID]; ok {
		c.WLogf("Duplicate Job-UUID %s; previous job will never complete", jobUUID)
	}
	c.jobs[jobUUID] = f
	return nil
}

// handleReply completes the oldest pending command with r. A reply with nothing
// pending is logged and dropped.
func (c *correlator) handleReply(r eslevent.Reply) {
	c.mu.Lock()
	var p *pendingCommand
	if len(c.queue) > 0 {
		p = c.queue[0]
		c.queue[0] = nil
		c.queue = c.queue[1:]
	}
	c.mu.Unlock()

	if p == nil {
		c.WLogf("Dropping reply with no pending command: %s", r)
		return
	}
	c.TLogf("Reply to %q: %s", p.text, r)
	if p.onReply != nil {
		p.onReply(r)
	}
}

// handleBackgroundJob resolves the job named by a BACKGROUND_JOB event with the
// event body. Unknown jobs are logged and ignored.
func (c *correlator) handleBackgroundJob(ev *eslevent.PlainText) {
	id := ev.JobUUID()
	c.mu.Lock()
	f, ok := c.jobs[id]
	if ok {
		delete(c.jobs, id)
	}
	c.mu.Unlock()

	if !ok {
		c.DLogf("Ignoring BACKGROUND_JOB for unknown job %q", id)
		return
	}
	f.resolve(ev.Body)
}

// failAll rejects every pending command and job with err, and makes the
// correlator refuse further work with the same error.
func (c *correlator) failAll(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	queue := c.queue
	jobs := c.jobs
	c.queue = nil
	c.jobs = make(map[string]*Future)
	c.mu.Unlock()

	if n := len(queue) + len(jobs); n > 0 {
		c.DLogf("Failing %d pending commands and %d jobs: %s", len(queue), len(jobs), err)
	}
	for _, p := range queue {
		if p.onFail != nil {
			p.onFail(err)
		}
	}
	for _, f := range jobs {
		f.reject(err)
	}
}

// pending returns the number of queued commands and outstanding jobs
func (c *correlator) pending() (commands int, jobs int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue), len(c.jobs)
}
