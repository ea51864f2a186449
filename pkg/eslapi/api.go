// Package eslapi formats switch commands and sends them as background jobs.
// It adds no protocol behaviour of its own: every call is one bgapi command.
package eslapi

import (
	"context"
	"fmt"
	"strings"

	"github.com/sammck-go/eventsocket/pkg/esl"
)

// Result is the eventual outcome of a background command. *esl.Future
// implements it.
type Result interface {
	Done() <-chan struct{}
	Result() (string, error)
	Wait(ctx context.Context) (string, error)
}

// BackgroundExecutor runs a command as a background job
type BackgroundExecutor interface {
	SendBackgroundCommand(command string, args ...string) Result
}

type clientExecutor struct {
	c *esl.Client
}

func (x clientExecutor) SendBackgroundCommand(command string, args ...string) Result {
	return x.c.SendBackgroundCommand(command, args...)
}

// API issues commands through a BackgroundExecutor
type API struct {
	x BackgroundExecutor
}

// New returns an API that sends through c
func New(c *esl.Client) *API {
	return &API{x: clientExecutor{c: c}}
}

// NewWithExecutor returns an API that sends through x
func NewWithExecutor(x BackgroundExecutor) *API {
	return &API{x: x}
}

func (a *API) bgapi(command string, args ...string) Result {
	return a.x.SendBackgroundCommand(command, args...)
}

// Status returns the switch's status report
func (a *API) Status() Result {
	return a.bgapi("status")
}

// UserDataKind selects the directory section UserData reads from
type UserDataKind string

const (
	UserAttr  UserDataKind = "attr"
	UserVar   UserDataKind = "var"
	UserParam UserDataKind = "param"
)

// UserData reads one attribute, variable or parameter of user@domain from the
// user directory
func (a *API) UserData(user, domain string, kind UserDataKind, name string) Result {
	return a.bgapi("user_data", user+"@"+domain, string(kind), name)
}

// UserExists reports whether the directory has a user whose key ("id" when
// empty) matches user in domain
func (a *API) UserExists(ctx context.Context, key, user, domain string) (bool, error) {
	if key == "" {
		key = "id"
	}
	out, err := a.bgapi("user_exists", key, user, domain).Wait(ctx)
	if err != nil {
		return false, err
	}
	return strings.EqualFold(strings.TrimSpace(out), "true"), nil
}

// ErrorResult is a Result that has already failed
type ErrorResult struct {
	Err error
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

func (r ErrorResult) Done() <-chan struct{} { return closedChan }

func (r ErrorResult) Result() (string, error) { return "", r.Err }

func (r ErrorResult) Wait(context.Context) (string, error) { return "", r.Err }

// checkArg rejects values that would split or end the command line
func checkArg(name, v string) error {
	if strings.ContainsAny(v, "\r\n") {
		return fmt.Errorf("%s contains a line break", name)
	}
	return nil
}
