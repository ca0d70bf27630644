// SPDX-License-Identifier: MPL-2.0

// Package events broadcasts (severity, message) events from the updater to
// any number of subscribers: loggers, status views, tray applications.
package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// Severity levels, lowest first.
const (
	Debug Severity = iota
	Info
	Warn
	Error
)

type (
	// Severity ranks an event.
	Severity int

	// Event is one entry of the stream.
	Event struct {
		Time     time.Time
		Severity Severity
		Message  string
		// Operation identifies the updater call that produced the event.
		Operation string
		// Action is the kind of that call, e.g. "install" or "verify".
		Action  string
		Package string
	}

	// Handler receives events. Handlers run on the emitting goroutine.
	Handler func(Event)

	// Bus fans events out to its subscribers. The zero value is not usable;
	// call NewBus.
	Bus struct {
		mu     sync.Mutex
		nextID uint64
		subs   []subscription
		now    func() time.Time
	}

	subscription struct {
		id uint64
		h  Handler
	}

	// Emitter tags the events it emits with one operation and, optionally,
	// one package.
	Emitter struct {
		bus    *Bus
		op     string
		action string
		pkg    string
	}
)

// String returns the lowercase severity name.
func (s Severity) String() string {
	switch s {
	case Debug:
		return "debug"
	case Info:
		return "info"
	case Warn:
		return "warn"
	case Error:
		return "error"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// NewBus creates a bus without subscribers.
func NewBus() *Bus {
	return &Bus{now: time.Now}
}

// Subscribe registers h and returns the function that removes it. The
// returned function is idempotent and may be called from inside a handler.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, h: h})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subs {
			if s.id == id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Emit delivers e to the subscribers registered when Emit was called. The
// subscriber list is copied under the lock and handlers run outside it.
func (b *Bus) Emit(e Event) {
	if b == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = b.now()
	}

	b.mu.Lock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, s := range subs {
		s.h(e)
	}
}

// Operation starts a new operation of the given action and returns an
// Emitter tagging events with a fresh operation ID.
func (b *Bus) Operation(action string) Emitter {
	return Emitter{bus: b, op: uuid.NewString(), action: action}
}

// ID returns the operation ID.
func (e Emitter) ID() string { return e.op }

// ForPackage returns an Emitter for the same operation tagged with pkg.
func (e Emitter) ForPackage(pkg string) Emitter {
	e.pkg = pkg
	return e
}

func (e Emitter) emit(sev Severity, format string, args ...any) {
	if e.bus == nil {
		return
	}
	e.bus.Emit(Event{
		Severity:  sev,
		Message:   fmt.Sprintf(format, args...),
		Operation: e.op,
		Action:    e.action,
		Package:   e.pkg,
	})
}

func (e Emitter) Debugf(format string, args ...any) { e.emit(Debug, format, args...) }
func (e Emitter) Infof(format string, args ...any)  { e.emit(Info, format, args...) }
func (e Emitter) Warnf(format string, args ...any)  { e.emit(Warn, format, args...) }
func (e Emitter) Errorf(format string, args ...any) { e.emit(Error, format, args...) }

// LoggerHandler forwards events to l at the matching level.
func LoggerHandler(l *log.Logger) Handler {
	return func(e Event) {
		kv := []any{"op", e.Action, "id", shortID(e.Operation)}
		if e.Package != "" {
			kv = append(kv, "package", e.Package)
		}
		switch e.Severity {
		case Debug:
			l.Debug(e.Message, kv...)
		case Info:
			l.Info(e.Message, kv...)
		case Warn:
			l.Warn(e.Message, kv...)
		default:
			l.Error(e.Message, kv...)
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
