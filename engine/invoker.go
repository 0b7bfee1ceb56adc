package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/edgemock/edgemock/spec"
	"github.com/edgemock/edgemock/template"
)

// ErrMisconfigured marks backend failures caused by the integration's own
// configuration rather than the backend being unreachable. The pipeline
// turns it into a 500 instead of a 502.
var ErrMisconfigured = errors.New("integration misconfigured")

// Invocation carries everything an invoker needs for one backend call.
type Invocation struct {
	Integration  *spec.Integration
	URI          string
	Method       string
	ResourcePath string
	Stage        string

	Headers    map[string]string
	Query      map[string]string
	PathParams map[string]string
	Body       []byte

	// Fields holds the request context identifiers (apiId, requestId, ...).
	Fields map[string]string
}

// BackendResponse is the raw outcome of a backend call, before integration
// response selection and transformation.
type BackendResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

// Invoker executes one integration type.
type Invoker interface {
	Invoke(ctx context.Context, inv *Invocation) (*BackendResponse, error)
}

//
// MOCK
//

// MockInvoker implements MOCK integrations: there is no backend, and the
// rendered request template must be a JSON object carrying the integer
// statusCode used for integration response selection.
type MockInvoker struct{}

func (m *MockInvoker) Invoke(_ context.Context, inv *Invocation) (*BackendResponse, error) {
	value, err := template.ParseJSON(inv.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: mock integration output is not JSON", ErrMisconfigured)
	}
	status, ok := mockStatusCode(value)
	if !ok {
		return nil, fmt.Errorf("%w: mock integration output has no integer statusCode", ErrMisconfigured)
	}
	return &BackendResponse{
		StatusCode: status,
		Headers:    map[string]string{},
		Body:       inv.Body,
	}, nil
}

func mockStatusCode(value template.Value) (int, bool) {
	field, ok := value.Field("statusCode")
	if !ok || field.Kind() != template.KindNumber {
		return 0, false
	}
	status := int(field.Num())
	if float64(status) != field.Num() {
		return 0, false
	}
	return status, true
}

//
// HTTP
//

// HTTPInvoker proxies the transformed request to the integration URI.
type HTTPInvoker struct {
	client *http.Client
}

func NewHTTPInvoker() *HTTPInvoker {
	return &HTTPInvoker{client: &http.Client{
		// The per-invocation context carries the real deadline; this is a
		// safety net for misuse without one.
		Timeout: 60 * time.Second,
	}}
}

const maxBackendBody = 10 << 20

func (h *HTTPInvoker) Invoke(ctx context.Context, inv *Invocation) (*BackendResponse, error) {
	target, err := url.Parse(inv.URI)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid integration uri %q", ErrMisconfigured, inv.URI)
	}
	if len(inv.Query) > 0 {
		q := target.Query()
		for name, value := range inv.Query {
			q.Set(name, value)
		}
		target.RawQuery = q.Encode()
	}

	method := string(inv.Integration.IntegrationHTTPMethod)
	if method == "" {
		method = inv.Method
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), bytes.NewReader(inv.Body))
	if err != nil {
		return nil, err
	}
	for name, value := range inv.Headers {
		httpReq.Header.Set(name, value)
	}

	httpResp, err := h.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxBackendBody))
	if err != nil {
		return nil, err
	}

	headers := make(map[string]string, len(httpResp.Header))
	for name := range httpResp.Header {
		headers[name] = httpResp.Header.Get(name)
	}
	return &BackendResponse{
		StatusCode: httpResp.StatusCode,
		Headers:    headers,
		Body:       body,
	}, nil
}

//
// Function proxy
//

// FunctionHandler is an in-process function backend. It receives the proxy
// event document and must return an envelope with statusCode, headers and
// body, like a provider function would.
type FunctionHandler func(ctx context.Context, event []byte) ([]byte, error)

// FunctionInvoker dispatches AWS_PROXY style integrations to handlers
// registered under the integration URI.
type FunctionInvoker struct {
	mu       sync.RWMutex
	handlers map[string]FunctionHandler
}

func NewFunctionInvoker() *FunctionInvoker {
	return &FunctionInvoker{handlers: make(map[string]FunctionHandler)}
}

// Register binds a handler to an integration URI.
func (f *FunctionInvoker) Register(uri string, handler FunctionHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[uri] = handler
}

// proxyEvent is the request document handed to function backends.
type proxyEvent struct {
	Resource              string            `json:"resource"`
	Path                  string            `json:"path"`
	HTTPMethod            string            `json:"httpMethod"`
	Headers               map[string]string `json:"headers"`
	QueryStringParameters map[string]string `json:"queryStringParameters"`
	PathParameters        map[string]string `json:"pathParameters"`
	Body                  string            `json:"body"`
	RequestContext        map[string]string `json:"requestContext"`
}

// functionEnvelope is the response document function backends must return.
type functionEnvelope struct {
	StatusCode int               `json:"statusCode"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body"`
}

func (f *FunctionInvoker) Invoke(ctx context.Context, inv *Invocation) (*BackendResponse, error) {
	f.mu.RLock()
	handler, ok := f.handlers[inv.Integration.URI]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: no function registered for %q", ErrMisconfigured, inv.Integration.URI)
	}

	event := proxyEvent{
		Resource:              inv.ResourcePath,
		Path:                  inv.ResourcePath,
		HTTPMethod:            inv.Method,
		Headers:               inv.Headers,
		QueryStringParameters: inv.Query,
		PathParameters:        inv.PathParams,
		Body:                  string(inv.Body),
		RequestContext:        inv.Fields,
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}

	raw, err := handler(ctx, payload)
	if err != nil {
		return nil, err
	}

	var envelope functionEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("malformed function response: %v", err)
	}
	if envelope.StatusCode == 0 {
		return nil, errors.New("malformed function response: missing statusCode")
	}
	if envelope.Headers == nil {
		envelope.Headers = map[string]string{}
	}
	return &BackendResponse{
		StatusCode: envelope.StatusCode,
		Headers:    envelope.Headers,
		Body:       []byte(envelope.Body),
	}, nil
}
