// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package coordinator drives OAuth on behalf of an MCP client talking to one
// or more upstream MCP servers.
//
// For every (context, server) pair the coordinator owns a [Session] state
// machine covering connection, authentication, operation, and recovery. On a
// 401 it discovers the server's authorization zone, registers a client
// dynamically (cached per zone), runs the PKCE authorization-code flow, and
// persists the resulting tokens through the storage contract so they survive
// restarts.
//
// Two operational profiles exist. The Local profile opens a loopback
// listener and the system browser and can block until the callback arrives.
// The Remote profile never touches a browser: the embedding application
// fetches pending authorization URLs via [Coordinator.GetAuthChallenges] and
// wires [Coordinator.CallbackHandler] into its own router; subscribers are
// notified of completions through [CompletionEvent].
package coordinator
