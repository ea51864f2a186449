package esl

import (
	"fmt"
	"reflect"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/sammck-go/eventsocket/pkg/eslevent"
	esshare "github.com/sammck-go/eventsocket/share"
)

// AllEvents is the reserved event name that subscribes a handler to every event
const AllEvents = "ALL"

// customEvent is the event name under which subclassed events are delivered
const customEvent = "CUSTOM"

// EventKey names a class of plain-text events. Subclass is only set for
// CUSTOM events, e.g. {"CUSTOM", "sofia::register"}.
type EventKey struct {
	Name     string
	Subclass string
}

func (k EventKey) String() string {
	if k.Subclass == "" {
		return k.Name
	}
	return k.Name + " " + k.Subclass
}

// Handler receives plain-text events. A returned error is logged; it does not
// stop delivery to other handlers.
type Handler interface {
	HandleEvent(ev *eslevent.PlainText) error
}

// HandlerFunc adapts a function to a Handler. Functions are not comparable, so
// subscribing the same HandlerFunc twice registers it twice.
type HandlerFunc func(ev *eslevent.PlainText) error

// HandleEvent calls f(ev)
func (f HandlerFunc) HandleEvent(ev *eslevent.PlainText) error {
	return f(ev)
}

// Subscription is one handler registered for one EventKey
type Subscription struct {
	r       *registry
	key     EventKey
	handler Handler
}

// Key returns the event class the subscription is for
func (s *Subscription) Key() EventKey {
	return s.key
}

// Cancel removes the subscription. It is safe to call more than once.
func (s *Subscription) Cancel() {
	s.r.remove(s)
}

// registry holds event subscriptions for the lifetime of a Client and delivers
// events to them.
type registry struct {
	esshare.Logger

	mu sync.Mutex
	// keys lists subscribed keys in the order they were first subscribed
	keys    []EventKey
	entries map[EventKey][]*Subscription

	// onChange is called, without the lock held, after the key set changes
	onChange func()
}

func newRegistry(logger esshare.Logger) *registry {
	return &registry{
		Logger:  logger,
		entries: make(map[EventKey][]*Subscription),
	}
}

func normalizeKey(key EventKey) EventKey {
	key.Name = strings.TrimSpace(key.Name)
	key.Subclass = strings.TrimSpace(key.Subclass)
	if strings.EqualFold(key.Name, AllEvents) {
		return EventKey{Name: AllEvents}
	}
	if key.Name == "" && key.Subclass != "" {
		key.Name = customEvent
	}
	return key
}

// add registers h for key. Registering a comparable handler that is already
// registered for key returns the existing subscription.
func (r *registry) add(key EventKey, h Handler) (*Subscription, error) {
	if h == nil {
		return nil, fmt.Errorf("nil handler for %s", key)
	}
	key = normalizeKey(key)
	if key.Name == "" {
		return nil, fmt.Errorf("event name is required")
	}
	r.mu.Lock()
	list, existed := r.entries[key]
	for _, s := range list {
		if sameHandler(s.handler, h) {
			r.mu.Unlock()
			return s, nil
		}
	}
	s := &Subscription{r: r, key: key, handler: h}
	r.entries[key] = append(list, s)
	if !existed {
		r.keys = append(r.keys, key)
	}
	onChange := r.onChange
	r.mu.Unlock()

	r.DLogf("Subscribed to %s", key)
	if !existed && onChange != nil {
		onChange()
	}
	return s, nil
}

// sameHandler reports whether a and b are the same comparable handler. A
// comparable type can still hold an uncomparable value in an interface field,
// which makes == panic; such handlers are never the same.
func sameHandler(a, b Handler) (same bool) {
	if !reflect.TypeOf(a).Comparable() || reflect.TypeOf(a) != reflect.TypeOf(b) {
		return false
	}
	defer func() {
		if recover() != nil {
			same = false
		}
	}()
	return a == b
}

func (r *registry) remove(s *Subscription) {
	r.mu.Lock()
	list := r.entries[s.key]
	idx := -1
	for i, x := range list {
		if x == s {
			idx = i
			break
		}
	}
	if idx < 0 {
		r.mu.Unlock()
		return
	}
	// copy so that snapshots taken by dispatch stay intact
	newList := make([]*Subscription, 0, len(list)-1)
	newList = append(newList, list[:idx]...)
	newList = append(newList, list[idx+1:]...)
	emptied := len(newList) == 0
	if emptied {
		delete(r.entries, s.key)
		for i, k := range r.keys {
			if k == s.key {
				r.keys = append(r.keys[:i:i], r.keys[i+1:]...)
				break
			}
		}
	} else {
		r.entries[s.key] = newList
	}
	onChange := r.onChange
	r.mu.Unlock()

	r.DLogf("Unsubscribed from %s", s.key)
	if emptied && onChange != nil {
		onChange()
	}
}

// snapshot returns the handlers for ev: exact key first, then ALL, each in
// registration order.
func (r *registry) snapshot(ev *eslevent.PlainText) []*Subscription {
	key := EventKey{Name: ev.Name, Subclass: ev.Subclass}
	r.mu.Lock()
	defer r.mu.Unlock()
	exact := r.entries[key]
	all := r.entries[EventKey{Name: AllEvents}]
	out := make([]*Subscription, 0, len(exact)+len(all))
	out = append(out, exact...)
	return append(out, all...)
}

// dispatch delivers ev to every matching handler, outside the lock. Handler
// errors and panics are logged and do not stop delivery.
func (r *registry) dispatch(ev *eslevent.PlainText) {
	for _, s := range r.snapshot(ev) {
		if err := r.invoke(s, ev); err != nil {
			r.WLogf("Handler for %s failed on %s: %s", s.key, ev, err)
		}
	}
}

func (r *registry) invoke(s *Subscription, ev *eslevent.PlainText) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.DLogf("Handler panic stack:\n%s", debug.Stack())
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	return s.handler.HandleEvent(ev)
}

// announcement returns the argument of the "event plain" command that asks the
// switch for exactly the subscribed events: "all" when anything is subscribed
// to ALL, otherwise the subscribed names (BACKGROUND_JOB first, since bgapi
// needs it) followed by "CUSTOM" and the subscribed subclasses.
func (r *registry) announcement() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[EventKey{Name: AllEvents}]; ok {
		return "all"
	}
	names := []string{eslevent.BackgroundJobEvent}
	seen := map[string]bool{eslevent.BackgroundJobEvent: true}
	custom := false
	var subclasses []string
	for _, k := range r.keys {
		switch {
		case k.Subclass != "":
			custom = true
			if !seen[customEvent+" "+k.Subclass] {
				seen[customEvent+" "+k.Subclass] = true
				subclasses = append(subclasses, k.Subclass)
			}
		case k.Name == customEvent:
			custom = true
		case !seen[k.Name]:
			seen[k.Name] = true
			names = append(names, k.Name)
		}
	}
	// every word after CUSTOM is taken as a subclass
	if custom {
		names = append(names, customEvent)
		names = append(names, subclasses...)
	}
	return strings.Join(names, " ")
}

// dropsEvents reports whether switching the switch's subscription from prev to
// next would stop some event prev delivered. "event plain" only adds events, so
// such a switch needs a "noevents" first.
func dropsEvents(prev, next string) bool {
	if prev == "" || next == "all" {
		return false
	}
	if prev == "all" {
		return true
	}
	want := make(map[string]bool)
	for _, n := range strings.Fields(next) {
		want[n] = true
	}
	for _, n := range strings.Fields(prev) {
		if !want[n] {
			return true
		}
	}
	return false
}
