package engine

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	assert "github.com/stretchr/testify/require"

	"github.com/edgemock/edgemock/spec"
)

func TestEnsureTraceID(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

	// a full trace is preserved, client Parent included
	full := "Root=1-3152b799-8954dae64eda91bc9a23a7e8;Parent=7fa8c0f79203be72;Sampled=1"
	assert.Equal(t, full, ensureTraceID(full, now))

	// a Root without Parent gets a generated Parent appended
	got := ensureTraceID("Root=1-3152b799-8954dae64eda91bc9a23a7e8", now)
	parts := strings.Split(got, ";")
	assert.Len(t, parts, 2)
	assert.Equal(t, "Root=1-3152b799-8954dae64eda91bc9a23a7e8", parts[0])
	assert.True(t, strings.HasPrefix(parts[1], "Parent="))
	assert.Len(t, strings.TrimPrefix(parts[1], "Parent="), 16)

	// an absent header synthesizes both segments
	got = ensureTraceID("", now)
	parts = strings.Split(got, ";")
	assert.Len(t, parts, 2)
	assert.True(t, strings.HasPrefix(parts[0], "Root=1-65eda0c0-"))
	assert.True(t, strings.HasPrefix(parts[1], "Parent="))
}

func TestTraceIDOnFunctionIntegration(t *testing.T) {
	var eventTrace string
	functions := NewFunctionInvoker()
	functions.Register("fn:trace", func(_ context.Context, event []byte) ([]byte, error) {
		var parsed proxyEvent
		if err := json.Unmarshal(event, &parsed); err != nil {
			return nil, err
		}
		eventTrace = parsed.Headers[traceHeader]
		return json.Marshal(functionEnvelope{StatusCode: 200, Body: `{}`})
	})

	eng := newTestEngine(t, WithInvoker(spec.IntegrationFunction, functions))
	f := newAPIFixture(t, eng)
	res := f.putMethod("/proxy", &spec.Method{HTTPMethod: "GET"})
	assert.NoError(t, eng.PutIntegration(f.api.ID, res.ID, "GET", &spec.Integration{
		Type: spec.IntegrationFunction,
		URI:  "fn:trace",
	}))
	f.deploy("test")

	full := "Root=1-3152b799-8954dae64eda91bc9a23a7e8;Parent=7fa8c0f79203be72;Sampled=1"
	resp := f.invoke("test", &Request{
		Method:  "GET",
		Path:    "/proxy",
		Headers: map[string]string{"x-amzn-trace-id": full},
	})
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, full, resp.Headers[traceHeader])
	assert.Equal(t, full, eventTrace)

	// Root-only: the gateway populates the Parent segment
	resp = f.invoke("test", &Request{
		Method:  "GET",
		Path:    "/proxy",
		Headers: map[string]string{"x-amzn-trace-id": "Root=1-3152b799-8954dae64eda91bc9a23a7e8"},
	})
	trace := resp.Headers[traceHeader]
	assert.Contains(t, trace, "Root=1-3152b799-8954dae64eda91bc9a23a7e8")
	parts := strings.Split(trace, ";")
	assert.True(t, strings.HasPrefix(parts[1], "Parent="))
	assert.NotEqual(t, "Parent=7fa8c0f79203be72", parts[1])

	// no inbound header: both segments synthesized, backend still sees them
	resp = f.invoke("test", &Request{Method: "GET", Path: "/proxy"})
	assert.Contains(t, resp.Headers[traceHeader], "Root=1-")
	assert.Contains(t, resp.Headers[traceHeader], "Parent=")
	assert.Equal(t, resp.Headers[traceHeader], eventTrace)
}

func TestTraceIDAbsentOnMockIntegration(t *testing.T) {
	eng := newTestEngine(t)
	f := newAPIFixture(t, eng)
	f.mockMethod("/ping", "GET", "200", `{}`)
	f.deploy("test")

	full := "Root=1-3152b799-8954dae64eda91bc9a23a7e8;Parent=7fa8c0f79203be72;Sampled=1"
	resp := f.invoke("test", &Request{
		Method:  "GET",
		Path:    "/ping",
		Headers: map[string]string{"x-amzn-trace-id": full},
	})
	assert.Equal(t, 200, resp.StatusCode)
	assert.NotContains(t, resp.Headers, traceHeader)
}
