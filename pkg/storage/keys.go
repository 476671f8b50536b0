// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import "fmt"

// Key builders for the record kinds the SDK persists. Token and pending keys
// are prefixed by context ID so sessions for distinct contexts never share
// records.

// ClientKey keys a registered client record by (zone, application name).
func ClientKey(zoneKey, appName string) string {
	return fmt.Sprintf("client:%s:%s", zoneKey, appName)
}

// TokenKey keys a token record by (context, server).
func TokenKey(contextID, serverName string) string {
	return fmt.Sprintf("token:%s:%s", contextID, serverName)
}

// PendingKey keys a pending authorization record by (context, server).
func PendingKey(contextID, serverName string) string {
	return fmt.Sprintf("pending:%s:%s", contextID, serverName)
}

// StateKey keys the reverse index from an opaque state string back to its
// (context, server) pair.
func StateKey(state string) string {
	return "state:" + state
}
