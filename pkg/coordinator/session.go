// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"fmt"
	"sync"
	"time"
)

// Status is a Session state. Transitions follow a fixed table; anything else
// is a programming error and is rejected.
type Status string

// Session states.
const (
	StatusInitializing     Status = "initializing"
	StatusConnecting       Status = "connecting"
	StatusConnected        Status = "connected"
	StatusAuthenticating   Status = "authenticating"
	StatusAuthPending      Status = "auth_pending"
	StatusAuthFailed       Status = "auth_failed"
	StatusConnectionFailed Status = "connection_failed"
)

// validTransitions is the session state machine. A state maps to the set of
// states it may move to.
var validTransitions = map[Status][]Status{
	StatusInitializing:     {StatusConnecting},
	StatusConnecting:       {StatusConnected, StatusAuthenticating, StatusConnectionFailed},
	StatusAuthenticating:   {StatusAuthPending, StatusAuthFailed, StatusConnected},
	StatusAuthPending:      {StatusAuthenticating, StatusAuthFailed},
	StatusConnected:        {StatusConnecting, StatusConnectionFailed},
	StatusAuthFailed:       {StatusConnecting},
	StatusConnectionFailed: {StatusConnecting},
}

// canTransition reports whether from -> to is a legal move.
func canTransition(from, to Status) bool {
	for _, next := range validTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Session is the per-(context, server) coordinator state. All mutation goes
// through the owning Coordinator; external callers read snapshots.
type Session struct {
	mu sync.Mutex

	contextID  string
	serverName string
	server     ServerConfig

	status Status

	// authorizationURL is present exactly while status is auth_pending;
	// the matching PKCE verifier lives in the pending storage record.
	authorizationURL string
	pendingState     string
	pendingExpiry    time.Time

	lastError error

	// metadata is an opaque application-supplied map, copied onto
	// completion events.
	metadata map[string]string
}

func newSession(contextID, serverName string, server ServerConfig) *Session {
	return &Session{
		contextID:  contextID,
		serverName: serverName,
		server:     server,
		status:     StatusInitializing,
	}
}

// transition moves the session to next, enforcing the state table. Within a
// session, transitions are totally ordered by the session lock.
func (s *Session) transition(next Status, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !canTransition(s.status, next) {
		return fmt.Errorf("illegal session transition %s -> %s", s.status, next)
	}
	s.status = next
	s.lastError = cause
	if next != StatusAuthPending {
		s.authorizationURL = ""
		s.pendingState = ""
		s.pendingExpiry = time.Time{}
	}
	return nil
}

// setAuthPending records the authorization URL and moves to auth_pending.
func (s *Session) setAuthPending(authorizationURL, state string, expiry time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !canTransition(s.status, StatusAuthPending) {
		return fmt.Errorf("illegal session transition %s -> %s", s.status, StatusAuthPending)
	}
	s.status = StatusAuthPending
	s.authorizationURL = authorizationURL
	s.pendingState = state
	s.pendingExpiry = expiry
	s.lastError = nil
	return nil
}

// Status returns the current state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// ContextID returns the owning context.
func (s *Session) ContextID() string {
	return s.contextID
}

// ServerName returns the upstream server this session tracks.
func (s *Session) ServerName() string {
	return s.serverName
}

// Server returns the configured upstream server entry.
func (s *Session) Server() ServerConfig {
	return s.server
}

// AuthorizationURL returns the pending authorization URL, or "" when the
// session is not awaiting user action.
func (s *Session) AuthorizationURL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authorizationURL
}

// LastError returns the error that caused the most recent transition, if any.
func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastError
}

// SetMetadata replaces the application-supplied metadata map.
func (s *Session) SetMetadata(metadata map[string]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata = metadata
}

// Metadata returns a copy of the application-supplied metadata.
func (s *Session) Metadata() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.metadata == nil {
		return nil
	}
	copied := make(map[string]string, len(s.metadata))
	for k, v := range s.metadata {
		copied[k] = v
	}
	return copied
}

// IsOperational reports whether tool calls are permitted.
func (s *Session) IsOperational() bool {
	return s.Status() == StatusConnected
}

// RequiresUserAction reports whether the session awaits authorization
// completion.
func (s *Session) RequiresUserAction() bool {
	return s.Status() == StatusAuthPending
}

// IsFailed reports whether the current attempt terminated.
func (s *Session) IsFailed() bool {
	status := s.Status()
	return status == StatusAuthFailed || status == StatusConnectionFailed
}

// CanRetry reports whether a new connect attempt may be started.
func (s *Session) CanRetry() bool {
	return s.IsFailed()
}
