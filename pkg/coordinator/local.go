// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package coordinator

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net"
	"net/http"
	"time"

	"github.com/pkg/browser"

	"github.com/stacklok/mcpdelegate/pkg/logger"
)

// runLocalFlow serves the loopback callback for a session parked in
// auth_pending, opening the system browser unless suppressed. In blocking
// mode it waits for the callback (or cancellation, or the pending TTL) and
// returns the connect outcome; in non-blocking mode it returns
// ErrAuthorizationPending immediately while the listener keeps running.
//
// Concurrent flows share one loopback listener; each flow only observes
// completion events for its own (context, server) session.
func (c *Coordinator) runLocalFlow(ctx context.Context, session *Session) error {
	authorizationURL := session.AuthorizationURL()
	if authorizationURL == "" {
		return fmt.Errorf("session %s has no pending authorization", session.ServerName())
	}

	key := sessionKey{contextID: session.ContextID(), serverName: session.ServerName()}
	done, err := c.registerLocalWaiter(key)
	if err != nil {
		return err
	}

	if c.cfg.SuppressBrowser {
		logger.Infof("Please open this URL in your browser: %s", authorizationURL)
	} else {
		logger.Infof("Opening browser to: %s", authorizationURL)
		if err := browser.OpenURL(authorizationURL); err != nil {
			logger.Warnf("Failed to open browser: %v", err)
			logger.Infof("Please manually open this URL in your browser: %s", authorizationURL)
		}
	}

	if c.cfg.NonBlocking {
		// The waiter lives until its flow completes (callback, cancel, or
		// TTL); releasing the last waiter shuts the listener down. Callers
		// poll GetAuthPending.
		go func() {
			defer c.releaseLocalWaiter(key)
			select {
			case <-done:
			case <-time.After(c.cfg.PendingTTL):
			}
		}()
		return ErrAuthorizationPending
	}

	defer c.releaseLocalWaiter(key)

	waitCtx := ctx
	if c.cfg.CallbackWaitTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, c.cfg.CallbackWaitTimeout)
		defer cancel()
	}

	select {
	case event := <-done:
		if !event.Success {
			return fmt.Errorf("authorization failed: %s", event.Result)
		}
		return nil
	case <-time.After(time.Until(sessionPendingExpiry(session))):
		c.expirePendingIfStale(ctx, session)
		return errors.New("authorization timed out")
	case <-waitCtx.Done():
		// Cancellation cleans up the pending record so the verifier is
		// never redeemable afterwards.
		_ = c.CancelAuthorization(context.WithoutCancel(ctx), session.ContextID(), session.ServerName())
		return fmt.Errorf("authorization cancelled: %w", waitCtx.Err())
	}
}

func sessionPendingExpiry(session *Session) time.Time {
	session.mu.Lock()
	defer session.mu.Unlock()
	if session.pendingExpiry.IsZero() {
		return time.Now().Add(DefaultPendingTTL)
	}
	return session.pendingExpiry
}

// registerLocalWaiter allocates the completion channel for a session's local
// flow and starts the shared loopback listener if it is not already running.
func (c *Coordinator) registerLocalWaiter(key sessionKey) (<-chan CompletionEvent, error) {
	c.localMu.Lock()
	defer c.localMu.Unlock()

	if _, ok := c.localWaiters[key]; ok {
		return nil, fmt.Errorf("authorization already awaiting a callback for %s", key.serverName)
	}
	if c.localServer == nil {
		server, err := c.startLoopbackServer()
		if err != nil {
			return nil, err
		}
		c.localServer = server
	}

	done := make(chan CompletionEvent, 1)
	c.localWaiters[key] = done
	return done, nil
}

// releaseLocalWaiter removes a session's waiter and shuts the listener down
// once no flow is waiting on it.
func (c *Coordinator) releaseLocalWaiter(key sessionKey) {
	c.localMu.Lock()
	delete(c.localWaiters, key)
	var server *http.Server
	if len(c.localWaiters) == 0 {
		server = c.localServer
		c.localServer = nil
	}
	c.localMu.Unlock()

	if server != nil {
		shutdownLoopbackServer(server)
	}
}

// notifyLocalWaiter routes a completion event to the local flow waiting on
// that session, if any. Other sessions' events are never delivered.
func (c *Coordinator) notifyLocalWaiter(event CompletionEvent) {
	c.localMu.Lock()
	defer c.localMu.Unlock()
	key := sessionKey{contextID: event.ContextID, serverName: event.ServerName}
	if done, ok := c.localWaiters[key]; ok {
		select {
		case done <- event:
		default:
		}
	}
}

// startLoopbackServer binds the callback listener on the resolved loopback
// port and serves it in the background. Completion events reach the waiting
// flows via notifyLocalWaiter on the publish path, keyed by session.
func (c *Coordinator) startLoopbackServer() (*http.Server, error) {
	mux := http.NewServeMux()
	mux.HandleFunc(c.cfg.CallbackPath, func(w http.ResponseWriter, r *http.Request) {
		event, err := c.CompleteAuthorization(r.Context(), callbackParams(r))
		if err != nil {
			writeLocalErrorPage(w, err)
			return
		}
		if !event.Success {
			writeLocalErrorPage(w, errors.New(event.Result))
			return
		}
		writeLocalSuccessPage(w)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		writeLocalWaitingPage(w)
	})

	addr := fmt.Sprintf("%s:%d", c.cfg.CallbackHost, c.localPort)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind callback listener on %s: %w", addr, err)
	}

	server := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Infof("Starting OAuth callback server on port %d", c.localPort)
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("Callback server failed: %v", err)
		}
	}()
	return server, nil
}

func shutdownLoopbackServer(server *http.Server) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("Failed to shut down callback server: %v", err)
	}
}

func setCallbackPageHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("X-Frame-Options", "DENY")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
	w.Header().Set("Content-Security-Policy",
		"default-src 'self'; style-src 'unsafe-inline'; script-src 'none'; object-src 'none';")
}

const callbackPageTemplate = `<!DOCTYPE html>
<html>
<head>
    <title>%s</title>
    <meta charset="utf-8">
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <style>
        body { font-family: Arial, sans-serif; margin: 40px; text-align: center; }
        .container { max-width: 600px; margin: 0 auto; }
        .message { padding: 20px; border-radius: 5px; margin: 20px 0; }
        .success { background-color: #e7f6e7; border: 1px solid #b3e6b3; color: #006600; }
        .error { background-color: #ffe7e7; border: 1px solid #ffb3b3; color: #cc0000; }
        .info { background-color: #e7f3ff; border: 1px solid #b3d9ff; color: #0066cc; }
    </style>
</head>
<body>
    <div class="container">
        <h1>%s</h1>
        <div class="message %s"><p>%s</p></div>
    </div>
</body>
</html>`

func writeLocalSuccessPage(w http.ResponseWriter) {
	setCallbackPageHeaders(w)
	fmt.Fprintf(w, callbackPageTemplate,
		"Authentication Successful", "Authentication Successful!", "success",
		"You have successfully authenticated. You can now close this window and return to the application.")
}

func writeLocalErrorPage(w http.ResponseWriter, err error) {
	setCallbackPageHeaders(w)
	w.WriteHeader(http.StatusBadRequest)
	fmt.Fprintf(w, callbackPageTemplate,
		"Authentication Failed", "Authentication Failed", "error",
		html.EscapeString(err.Error()))
}

func writeLocalWaitingPage(w http.ResponseWriter) {
	setCallbackPageHeaders(w)
	fmt.Fprintf(w, callbackPageTemplate,
		"OAuth Callback", "OAuth Callback Server", "info",
		"The callback server is running. Please complete the authentication flow in your browser.")
}
