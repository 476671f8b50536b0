// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package delegation wraps a protected MCP server with bearer-token
// authentication and on-demand RFC 8693 token exchange.
//
// The [Provider] validates inbound tokens, publishes the RFC 9728 and
// RFC 8414 discovery documents, and materializes downstream tokens into a
// per-request [AccessContext] before the tool handler runs. Tools declare
// the resources they need through [ToolGrant]; the exchange results, token
// or failure, are partitioned per resource so one denied delegation never
// blocks the others.
package delegation
