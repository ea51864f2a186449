// Package eslevent turns event socket frames into typed events.
//
// Classification is keyed on the frame's Content-Type and is a pure function of
// the frame: no I/O and no shared state. Content types the package does not know
// produce an *Unclassified event rather than an error.
package eslevent

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/sammck-go/eventsocket/pkg/eslwire"
)

// Content types sent by the switch
const (
	ContentTypeAuthRequest      = "auth/request"
	ContentTypeCommandReply     = "command/reply"
	ContentTypeAPIResponse      = "api/response"
	ContentTypeEventPlain       = "text/event-plain"
	ContentTypeDisconnectNotice = "text/disconnect-notice"
	ContentTypeRudeRejection    = "text/rude-rejection"
)

// Header keys the engine reads
const (
	HeaderReplyText     = "Reply-Text"
	HeaderEventName     = "Event-Name"
	HeaderEventSubclass = "Event-Subclass"
	HeaderEventInfo     = "Event-Info"
	HeaderJobUUID       = "Job-UUID"
)

// BackgroundJobEvent is the name of the event that completes a bgapi command
const BackgroundJobEvent = "BACKGROUND_JOB"

// errorPrefix marks a failed reply
const errorPrefix = "-ERR"

// Kind identifies an Event variant
type Kind int

const (
	KindUnclassified Kind = iota
	KindAuthRequest
	KindCommandReply
	KindAPIResponse
	KindPlainText
	KindDisconnectNotice
	KindRudeRejection
)

var kindNames = [...]string{
	"unclassified", "auth-request", "command-reply", "api-response",
	"plain-text", "disconnect-notice", "rude-rejection",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// Event is a classified, read-only view of one frame
type Event interface {
	Kind() Kind
	// Header returns the event's headers. Callers must not modify it.
	Header() *eslwire.Header
	String() string
}

// Reply is implemented by the events that answer a command
type Reply interface {
	Event
	// Success reports whether the result is not prefixed with -ERR
	Success() bool
	// Result is the reply payload: Reply-Text for a command reply, the body for
	// an api response
	Result() string
}

type base struct {
	header eslwire.Header
}

func (b *base) Header() *eslwire.Header { return &b.header }

// AuthRequest asks the client to authenticate
type AuthRequest struct {
	base
}

func (*AuthRequest) Kind() Kind     { return KindAuthRequest }
func (*AuthRequest) String() string { return ContentTypeAuthRequest }

// CommandReply answers a command with a Reply-Text header
type CommandReply struct {
	base
}

func (*CommandReply) Kind() Kind { return KindCommandReply }

// Result returns the Reply-Text header
func (e *CommandReply) Result() string {
	return strings.TrimSpace(e.header.Get(HeaderReplyText))
}

// Success reports whether the reply is not an -ERR
func (e *CommandReply) Success() bool {
	return !strings.HasPrefix(e.Result(), errorPrefix)
}

// JobUUID returns the job id of a bgapi acknowledgement. It prefers the Job-UUID
// header and falls back to "+OK Job-UUID: <id>" in Reply-Text.
func (e *CommandReply) JobUUID() string {
	if id := strings.TrimSpace(e.header.Get(HeaderJobUUID)); id != "" {
		return id
	}
	const marker = "Job-UUID:"
	text := e.Result()
	if i := strings.Index(text, marker); i >= 0 {
		if f := strings.Fields(text[i+len(marker):]); len(f) > 0 {
			return f[0]
		}
	}
	return ""
}

func (e *CommandReply) String() string {
	return fmt.Sprintf("%s %q", ContentTypeCommandReply, e.Result())
}

// APIResponse answers an api command; the result is the content block
type APIResponse struct {
	base
	Body string
}

func (*APIResponse) Kind() Kind { return KindAPIResponse }

// Result returns the response body
func (e *APIResponse) Result() string { return e.Body }

// Success reports whether the body is not an -ERR
func (e *APIResponse) Success() bool {
	return !strings.HasPrefix(strings.TrimLeft(e.Body, " \t\r\n"), errorPrefix)
}

func (e *APIResponse) String() string {
	return fmt.Sprintf("%s (%d bytes)", ContentTypeAPIResponse, len(e.Body))
}

// PlainText is a general event. The headers carried in its content block are
// merged over the frame's own headers; whatever follows them is Body.
type PlainText struct {
	base
	Name     string
	Subclass string
	Info     string
	Body     string
}

func (*PlainText) Kind() Kind { return KindPlainText }

// Get returns a header value
func (e *PlainText) Get(key string) string { return e.header.Get(key) }

// JobUUID returns the Job-UUID header
func (e *PlainText) JobUUID() string {
	return strings.TrimSpace(e.header.Get(HeaderJobUUID))
}

func (e *PlainText) String() string {
	parts := []string{ContentTypeEventPlain, e.Name}
	if e.Subclass != "" {
		parts = append(parts, e.Subclass)
	}
	if e.Info != "" {
		parts = append(parts, e.Info)
	}
	return strings.Join(parts, " ")
}

// DisconnectNotice is sent by the switch before it closes the socket
type DisconnectNotice struct {
	base
	Body string
}

func (*DisconnectNotice) Kind() Kind { return KindDisconnectNotice }
func (e *DisconnectNotice) String() string {
	return fmt.Sprintf("%s %q", ContentTypeDisconnectNotice, strings.TrimSpace(e.Body))
}

// RudeRejection is sent when the switch refuses the client by ACL
type RudeRejection struct {
	base
	Body string
}

func (*RudeRejection) Kind() Kind { return KindRudeRejection }
func (e *RudeRejection) String() string {
	return fmt.Sprintf("%s %q", ContentTypeRudeRejection, strings.TrimSpace(e.Body))
}

// Unclassified carries any frame with an unknown content type
type Unclassified struct {
	base
	ContentType string
	Content     []byte
}

func (*Unclassified) Kind() Kind { return KindUnclassified }
func (e *Unclassified) String() string {
	if e.ContentType == "" {
		return "(no content type)"
	}
	return e.ContentType
}

// Classify maps a frame to its Event variant. The only error is a text/event-plain
// frame whose content block is not a valid header block.
func Classify(f *eslwire.Frame) (Event, error) {
	b := base{header: f.Header}
	switch ct := f.ContentType(); ct {
	case ContentTypeAuthRequest:
		return &AuthRequest{base: b}, nil
	case ContentTypeCommandReply:
		return &CommandReply{base: b}, nil
	case ContentTypeAPIResponse:
		return &APIResponse{base: b, Body: string(f.Content)}, nil
	case ContentTypeEventPlain:
		ev, err := parsePlainText(b, f.Content)
		if err != nil {
			return nil, err
		}
		return ev, nil
	case ContentTypeDisconnectNotice:
		return &DisconnectNotice{base: b, Body: string(f.Content)}, nil
	case ContentTypeRudeRejection:
		return &RudeRejection{base: b, Body: string(f.Content)}, nil
	default:
		return &Unclassified{base: b, ContentType: ct, Content: f.Content}, nil
	}
}

func parsePlainText(b base, content []byte) (*PlainText, error) {
	block, body := content, []byte(nil)
	if i := bytes.Index(content, []byte("\n\n")); i >= 0 {
		block, body = content[:i], content[i+2:]
	}
	inner, err := eslwire.ParseHeader(block)
	if err != nil {
		return nil, fmt.Errorf("event body: %w", err)
	}
	if n, err := (&eslwire.Frame{Header: inner}).ContentLength(); err == nil && n > 0 && n < len(body) {
		body = body[:n]
	}
	b.header = b.header.Clone()
	b.header.Merge(&inner)
	return &PlainText{
		base:     b,
		Name:     strings.TrimSpace(b.header.Get(HeaderEventName)),
		Subclass: strings.TrimSpace(b.header.Get(HeaderEventSubclass)),
		Info:     strings.TrimSpace(b.header.Get(HeaderEventInfo)),
		Body:     string(body),
	}, nil
}
