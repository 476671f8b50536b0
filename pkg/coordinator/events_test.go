// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type panickingSubscriber struct{}

func (panickingSubscriber) OnCompletion(CompletionEvent) {
	panic("subscriber bug")
}

func TestPublishSurvivesSubscriberPanic(t *testing.T) {
	t.Parallel()

	as := newFakeAuthServer(t)
	mcp := newFakeMCPServer(t, as)
	c := newTestCoordinator(t, mcp.URL, nil)

	after := &recordingSubscriber{}
	c.Subscribe(panickingSubscriber{})
	c.Subscribe(after)

	event := CompletionEvent{
		ContextID:  "alice",
		ServerName: "github",
		Success:    true,
	}
	require.NotPanics(t, func() { c.publish(event) })

	// Subscribers registered after the panicking one still get the event.
	events := after.all()
	require.Len(t, events, 1)
	assert.Equal(t, "github", events[0].ServerName)
}

func TestPublishDeliversInOrder(t *testing.T) {
	t.Parallel()

	as := newFakeAuthServer(t)
	mcp := newFakeMCPServer(t, as)
	c := newTestCoordinator(t, mcp.URL, nil)

	sub := &recordingSubscriber{}
	c.Subscribe(sub)

	c.publish(CompletionEvent{State: "s1", Success: true})
	c.publish(CompletionEvent{State: "s2", Success: false, Reason: ReasonDenied})

	events := sub.all()
	require.Len(t, events, 2)
	assert.Equal(t, "s1", events[0].State)
	assert.Equal(t, "s2", events[1].State)
	assert.Equal(t, ReasonDenied, events[1].Reason)
}
