// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package networking

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHttpClientBuilder(t *testing.T) {
	t.Parallel()

	client := NewHttpClientBuilder().Build()
	assert.Equal(t, DefaultHTTPTimeout, client.Timeout)

	client = NewHttpClientBuilder().WithTimeout(5 * time.Second).Build()
	assert.Equal(t, 5*time.Second, client.Timeout)

	// Non-positive overrides keep the default.
	client = NewHttpClientBuilder().WithTimeout(0).Build()
	assert.Equal(t, DefaultHTTPTimeout, client.Timeout)
}

func TestIsLocalhost(t *testing.T) {
	t.Parallel()

	assert.True(t, IsLocalhost("localhost"))
	assert.True(t, IsLocalhost("LOCALHOST"))
	assert.True(t, IsLocalhost("localhost:8080"))
	assert.True(t, IsLocalhost("127.0.0.1"))
	assert.True(t, IsLocalhost("127.0.0.1:9000"))
	assert.True(t, IsLocalhost("[::1]:9000"))
	assert.False(t, IsLocalhost("example.com"))
	assert.False(t, IsLocalhost("10.0.0.1"))
	assert.False(t, IsLocalhost(""))
}

func TestValidateEndpointURL(t *testing.T) {
	t.Parallel()

	require.NoError(t, ValidateEndpointURL("https://auth.example.com/token"))
	require.NoError(t, ValidateEndpointURL("http://localhost:8080/token"))
	require.NoError(t, ValidateEndpointURL("http://127.0.0.1:8080/token"))

	assert.Error(t, ValidateEndpointURL("http://auth.example.com/token"))
	assert.Error(t, ValidateEndpointURL("/relative/path"))
	assert.Error(t, ValidateEndpointURL("not a url"))

	require.NoError(t, ValidateEndpointURLWithInsecure("http://auth.example.com/token", true))
}

func TestFindOrUsePort(t *testing.T) {
	t.Parallel()

	port, err := FindOrUsePort(8765)
	require.NoError(t, err)
	assert.Equal(t, 8765, port)

	port, err = FindOrUsePort(0)
	require.NoError(t, err)
	assert.Positive(t, port)

	// The allocated port is actually bindable.
	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	require.NoError(t, l.Close())
}
