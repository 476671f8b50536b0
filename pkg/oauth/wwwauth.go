// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"fmt"
	"strings"
)

// Challenge is the parsed content of an RFC 6750 WWW-Authenticate header,
// including the RFC 9728 resource_metadata hint.
type Challenge struct {
	Scheme           string
	Realm            string
	ResourceMetadata string
	Error            string
	ErrorDescription string
	Scope            string
}

// ParseWWWAuthenticate parses a Bearer challenge. Parameters with quoted
// values may contain commas, so the header is not naively split.
func ParseWWWAuthenticate(header string) (*Challenge, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, fmt.Errorf("empty WWW-Authenticate header")
	}
	if !strings.HasPrefix(header, "Bearer") {
		return nil, fmt.Errorf("unsupported authentication scheme: %s", strings.SplitN(header, " ", 2)[0])
	}

	params := strings.TrimSpace(strings.TrimPrefix(header, "Bearer"))
	return &Challenge{
		Scheme:           "Bearer",
		Realm:            extractParameter(params, "realm"),
		ResourceMetadata: extractParameter(params, "resource_metadata"),
		Error:            extractParameter(params, "error"),
		ErrorDescription: extractParameter(params, "error_description"),
		Scope:            extractParameter(params, "scope"),
	}, nil
}

// extractParameter pulls one auth-param value, handling quoted strings with
// escaped quotes per RFC 7235.
func extractParameter(params, name string) string {
	search := name + "="
	idx := strings.Index(params, search)
	if idx == -1 {
		return ""
	}
	// Avoid matching a suffix of a longer parameter name
	// (e.g. "error=" inside "error_description=").
	for idx > 0 {
		prev := params[idx-1]
		if prev == ' ' || prev == ',' || prev == '\t' {
			break
		}
		next := strings.Index(params[idx+1:], search)
		if next == -1 {
			return ""
		}
		idx += 1 + next
	}

	remainder := params[idx+len(search):]
	if strings.HasPrefix(remainder, `"`) {
		for end := 1; end < len(remainder); end++ {
			if remainder[end] == '"' && remainder[end-1] != '\\' {
				return strings.ReplaceAll(remainder[1:end], `\"`, `"`)
			}
		}
		return ""
	}

	end := strings.IndexAny(remainder, ", ")
	if end == -1 {
		end = len(remainder)
	}
	return strings.TrimSpace(remainder[:end])
}

// EscapeQuotes escapes a value for inclusion in a quoted auth-param.
func EscapeQuotes(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}
