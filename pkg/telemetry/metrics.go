// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package telemetry exposes the SDK's OpenTelemetry instruments. The global
// meter provider is used, so an embedding application that installs its own
// provider gets the metrics for free and everyone else gets no-ops.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/stacklok/mcpdelegate/pkg/logger"
)

const instrumentationName = "github.com/stacklok/mcpdelegate"

// Attribute keys shared by the instruments.
var (
	AttrResource   = attribute.Key("oauth.resource")
	AttrZone       = attribute.Key("oauth.zone")
	AttrServerName = attribute.Key("mcp.server.name")
	AttrOutcome    = attribute.Key("outcome")
)

// Metrics bundles the SDK instruments. A zero-value is unusable; call
// NewMetrics.
type Metrics struct {
	TokenExchanges     metric.Int64Counter
	AuthFlowsStarted   metric.Int64Counter
	AuthFlowsCompleted metric.Int64Counter
	TokenRefreshes     metric.Int64Counter
	VerifierRejections metric.Int64Counter
}

// NewMetrics creates the instruments on the global meter provider.
// Instrument creation only fails on invalid names, so errors are logged and
// the affected instrument left as a no-op rather than propagated.
func NewMetrics() *Metrics {
	meter := otel.Meter(instrumentationName)
	m := &Metrics{}
	m.TokenExchanges = counter(meter, "mcpdelegate_token_exchanges",
		"Total RFC 8693 token exchanges attempted, by resource and outcome")
	m.AuthFlowsStarted = counter(meter, "mcpdelegate_auth_flows_started",
		"Authorization-code flows started, by server")
	m.AuthFlowsCompleted = counter(meter, "mcpdelegate_auth_flows_completed",
		"Authorization-code flows completed, by server and outcome")
	m.TokenRefreshes = counter(meter, "mcpdelegate_token_refreshes",
		"Refresh-grant attempts, by server and outcome")
	m.VerifierRejections = counter(meter, "mcpdelegate_verifier_rejections",
		"Inbound bearer tokens rejected by the verifier")
	return m
}

func counter(meter metric.Meter, name, description string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		logger.Warnf("Failed to create counter %s: %v", name, err)
	}
	return c
}

// Outcome converts an error into the success/failure attribute value.
func Outcome(err error) attribute.KeyValue {
	if err != nil {
		return AttrOutcome.String("failure")
	}
	return AttrOutcome.String("success")
}

// Add is a nil-tolerant counter increment.
func Add(ctx context.Context, c metric.Int64Counter, attrs ...attribute.KeyValue) {
	if c == nil {
		return
	}
	c.Add(ctx, 1, metric.WithAttributes(attrs...))
}
