// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"github.com/stacklok/mcpdelegate/pkg/logger"
)

// Reason codes carried by failed completion events.
const (
	ReasonDenied    = "access_denied"
	ReasonTimeout   = "timeout"
	ReasonCancelled = "cancelled"
	ReasonExchange  = "exchange_failed"
	ReasonInvalid   = "invalid_request"
)

// CompletionEvent is delivered after the coordinator processes an
// authorization callback for a session.
type CompletionEvent struct {
	ContextID  string
	ServerName string

	// State is the opaque correlation string from the callback.
	State string

	// Success reports whether a token was obtained and stored.
	Success bool

	// Reason is the failure reason code when Success is false.
	Reason string

	// Result is a human-readable summary.
	Result string

	// Metadata is copied from the session at delivery time.
	Metadata map[string]string
}

// Subscriber receives completion events. Implementations must not block for
// long; deliveries are serialized per coordinator.
type Subscriber interface {
	OnCompletion(event CompletionEvent)
}

// Subscribe registers a completion subscriber.
func (c *Coordinator) Subscribe(subscriber Subscriber) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.subscribers = append(c.subscribers, subscriber)
}

// publish delivers an event to every subscriber. Delivery is best-effort and
// serialized: subscriber panics are logged and never block progress, and
// holding subMu for the whole fan-out preserves completion order.
func (c *Coordinator) publish(event CompletionEvent) {
	// Wake the local flow blocked on this session, if any, before the
	// subscriber fan-out so cancellation and timeout release the loopback
	// listener promptly.
	c.notifyLocalWaiter(event)

	c.subMu.Lock()
	defer c.subMu.Unlock()
	for _, subscriber := range c.subscribers {
		deliver(subscriber, event)
	}
}

func deliver(subscriber Subscriber, event CompletionEvent) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorw("Completion subscriber panicked",
				"server", event.ServerName, "panic", r)
		}
	}()
	subscriber.OnCompletion(event)
}
