// Package msgsub implements MessageSubscriber, a per-channel registry
// fanning typed wire messages out to subscribed handlers by command.
// Modeled on htlcswitch's per-message routing, generalized from "route
// to one subsystem" to "route to N ordered subscribers per wire
// command".
package msgsub

import (
	"sync"

	"github.com/btcsuite/btcd/wire"
	"github.com/btcp2p/btcp2p/p2perr"
)

// Handler is invoked with the stop/delivery code and the decoded message.
// Returning false unsubscribes the handler; returning true keeps it
// registered for the next delivery of the same command.
type Handler func(code p2perr.Code, msg wire.Message) bool

// MessageSubscriber is a per-channel registry of handlers keyed by wire
// command. It is safe for concurrent use: every method locks the registry
// while reading or updating it, and Notify and Stop release the lock
// before invoking handlers, so a handler may call Subscribe.
type MessageSubscriber struct {
	mu       sync.Mutex
	handlers map[string][]Handler
	stopped  bool
	stopCode p2perr.Code
}

// New returns an empty subscriber registry.
func New() *MessageSubscriber {
	return &MessageSubscriber{
		handlers: make(map[string][]Handler),
	}
}

// Subscribe appends handler to the list for command. If the registry has
// already been stopped, handler is invoked immediately with the stop code
// instead of being registered.
func (s *MessageSubscriber) Subscribe(command string, handler Handler) {
	s.mu.Lock()
	if s.stopped {
		code := s.stopCode
		s.mu.Unlock()
		handler(code, nil)
		return
	}
	s.handlers[command] = append(s.handlers[command], handler)
	s.mu.Unlock()
}

// Notify invokes all handlers registered for command, in registration
// order, with the given code and decoded message. Handlers returning
// false are dropped from the registry.
func (s *MessageSubscriber) Notify(command string, code p2perr.Code, msg wire.Message) {
	s.mu.Lock()
	handlers := s.handlers[command]
	s.mu.Unlock()

	var survivors []Handler
	for _, h := range handlers {
		if h(code, msg) {
			survivors = append(survivors, h)
		}
	}

	s.mu.Lock()
	if !s.stopped {
		s.handlers[command] = survivors
	}
	s.mu.Unlock()
}

// Stop invokes every registered handler exactly once with code, then
// empties the registry. Idempotent: a second call is a no-op.
func (s *MessageSubscriber) Stop(code p2perr.Code) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.stopCode = code
	all := s.handlers
	s.handlers = make(map[string][]Handler)
	s.mu.Unlock()

	for _, hs := range all {
		for _, h := range hs {
			h(code, nil)
		}
	}
}
