// Package engine implements the request-time core of the gateway emulation:
// route resolution over deployed resource trees, request parameter and model
// validation, template-based request/response transformation, usage plan
// enforcement, and stage/deployment lifecycle.
//
// The management layer mutates the data model through the methods on Engine;
// invocation traffic enters through ResolveAndInvoke. Each API is guarded by
// its own read-write lock so that tenants stay independent: reads are
// concurrent, management mutations serialize per API.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/edgemock/edgemock/spec"
	"github.com/edgemock/edgemock/template"
)

const defaultIntegrationTimeout = 29 * time.Second

// Request is one inbound invocation, already stripped of the transport
// layer's /restapis/{api}/{stage} prefix.
type Request struct {
	Method  string
	Path    string
	Headers map[string]string
	Query   map[string]string
	Body    []byte
}

// header looks up a header case-insensitively.
func (r *Request) header(name string) string {
	for k, v := range r.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

// Response is what the transport layer writes back to the client.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
}

// Engine holds every emulated API plus the account-level usage plans and
// API keys.
type Engine struct {
	logger  *slog.Logger
	metrics *Metrics
	timeout time.Duration
	now     func() time.Time

	invokers map[spec.IntegrationType]Invoker

	mu    sync.RWMutex
	apis  map[string]*apiState
	plans map[string]*spec.UsagePlan
	keys  map[string]*spec.APIKey

	gate *usageGate
}

// apiState pairs one API with its lock and the per-API caches derived from
// it.
type apiState struct {
	mu  sync.RWMutex
	api *spec.API

	// compiled caches model validators under its own lock so that concurrent
	// invocations holding only the API read lock can still fill it.
	// Invalidated when a model changes.
	compiledMu sync.Mutex
	compiled   map[string]*spec.ModelValidator
}

// Option customizes an Engine.
type Option func(*Engine)

func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithInvoker overrides the invoker for one integration type. The function
// invoker registered by default is also how tests and embedders plug in
// local backends.
func WithInvoker(integrationType spec.IntegrationType, invoker Invoker) Option {
	return func(e *Engine) { e.invokers[integrationType] = invoker }
}

// WithClock replaces the time source used by quota windows.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithIntegrationTimeout bounds the backend call.
func WithIntegrationTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// New creates an empty engine with the built-in MOCK, HTTP and function
// invokers.
func New(opts ...Option) *Engine {
	e := &Engine{
		logger:   slog.Default(),
		timeout:  defaultIntegrationTimeout,
		now:      time.Now,
		invokers: make(map[spec.IntegrationType]Invoker),
		apis:     make(map[string]*apiState),
		plans:    make(map[string]*spec.UsagePlan),
		keys:     make(map[string]*spec.APIKey),
	}
	e.invokers[spec.IntegrationMock] = &MockInvoker{}
	e.invokers[spec.IntegrationHTTP] = NewHTTPInvoker()
	e.invokers[spec.IntegrationFunction] = NewFunctionInvoker()

	for _, opt := range opts {
		opt(e)
	}
	e.gate = newUsageGate(e.now)
	return e
}

// newID generates the short alphanumeric ids the provider hands out.
func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:10]
}

//
// API management
//

// CreateAPI creates an API with a generated id and an empty root resource.
func (e *Engine) CreateAPI(name string) *spec.API {
	api, _ := e.CreateAPIWithID(newID(), name)
	return api
}

// CreateAPIWithID creates an API under an externally assigned id.
func (e *Engine) CreateAPIWithID(id, name string) (*spec.API, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.apis[id]; exists {
		return nil, conflictf("api %q already exists", id)
	}

	root := &spec.Resource{
		ID:       newID(),
		PathPart: "",
		Path:     "/",
		Methods:  make(map[spec.HTTPVerb]*spec.Method),
	}
	api := &spec.API{
		ID:             id,
		Name:           name,
		RootResourceID: root.ID,
		Resources:      map[string]*spec.Resource{root.ID: root},
		Models:         make(map[string]*spec.Model),
		Validators:     make(map[string]*spec.RequestValidator),
		Deployments:    make(map[string]*spec.Deployment),
		Stages:         make(map[string]*spec.Stage),
	}
	e.apis[id] = &apiState{api: api, compiled: make(map[string]*spec.ModelValidator)}
	e.logger.Debug("created api", "api_id", id, "name", name)
	return api, nil
}

// DeleteAPI removes an API and everything under it.
func (e *Engine) DeleteAPI(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.apis[id]; !ok {
		return notFoundf("api %q", id)
	}
	delete(e.apis, id)
	return nil
}

// GetAPI returns the live API definition. Callers on the management path
// must treat it as read-only unless they hold no concurrent invocations.
func (e *Engine) GetAPI(id string) (*spec.API, error) {
	state, err := e.apiState(id)
	if err != nil {
		return nil, err
	}
	return state.api, nil
}

func (e *Engine) apiState(id string) (*apiState, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	state, ok := e.apis[id]
	if !ok {
		return nil, notFoundf("api %q", id)
	}
	return state, nil
}

//
// Resource and method management
//

// CreateResource adds a child path segment under a parent resource.
//
// Greedy proxy segments cannot have children, and one tree level cannot
// declare two parameters (or proxies) with different names: resolution
// would become order-dependent, which the resolver forbids, so creation
// rejects the ambiguity outright.
func (e *Engine) CreateResource(apiID, parentID, pathPart string) (*spec.Resource, error) {
	state, err := e.apiState(apiID)
	if err != nil {
		return nil, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	parent, ok := state.api.Resources[parentID]
	if !ok {
		return nil, notFoundf("resource %q", parentID)
	}
	if isGreedyPart(parent.PathPart) {
		return nil, conflictf("cannot create a child under greedy segment %q", parent.PathPart)
	}
	if pathPart == "" || strings.Contains(pathPart, "/") {
		return nil, conflictf("invalid path part %q", pathPart)
	}

	for _, siblingID := range parent.ChildIDs {
		sibling := state.api.Resources[siblingID]
		if sibling == nil {
			continue
		}
		switch {
		case sibling.PathPart == pathPart:
			return nil, conflictf("path part %q already exists", pathPart)
		case isParamPart(sibling.PathPart) && isParamPart(pathPart):
			return nil, conflictf("parameter %q conflicts with sibling %q", pathPart, sibling.PathPart)
		case isGreedyPart(sibling.PathPart) && isGreedyPart(pathPart):
			return nil, conflictf("greedy segment %q conflicts with sibling %q", pathPart, sibling.PathPart)
		}
	}

	res := &spec.Resource{
		ID:       newID(),
		ParentID: parentID,
		PathPart: pathPart,
		Path:     joinResourcePath(parent.Path, pathPart),
		Methods:  make(map[spec.HTTPVerb]*spec.Method),
	}
	state.api.Resources[res.ID] = res
	parent.ChildIDs = append(parent.ChildIDs, res.ID)
	return res, nil
}

func joinResourcePath(parentPath, part string) string {
	if parentPath == "/" {
		return "/" + part
	}
	return parentPath + "/" + part
}

// DeleteResource removes a resource and its subtree.
func (e *Engine) DeleteResource(apiID, resourceID string) error {
	state, err := e.apiState(apiID)
	if err != nil {
		return err
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	res, ok := state.api.Resources[resourceID]
	if !ok {
		return notFoundf("resource %q", resourceID)
	}
	if resourceID == state.api.RootResourceID {
		return conflictf("cannot delete the root resource")
	}

	var removeSubtree func(id string)
	removeSubtree = func(id string) {
		r, ok := state.api.Resources[id]
		if !ok {
			return
		}
		for _, childID := range r.ChildIDs {
			removeSubtree(childID)
		}
		delete(state.api.Resources, id)
	}
	removeSubtree(resourceID)

	if parent, ok := state.api.Resources[res.ParentID]; ok {
		for i, childID := range parent.ChildIDs {
			if childID == resourceID {
				parent.ChildIDs = append(parent.ChildIDs[:i], parent.ChildIDs[i+1:]...)
				break
			}
		}
	}
	return nil
}

// PutMethod declares a verb on a resource, replacing any previous
// declaration of the same verb.
func (e *Engine) PutMethod(apiID, resourceID string, method *spec.Method) error {
	return e.withResource(apiID, resourceID, func(res *spec.Resource) error {
		if method.HTTPMethod == "" {
			return conflictf("method verb must be set")
		}
		if method.MethodResponses == nil {
			method.MethodResponses = make(map[spec.StatusCode]*spec.MethodResponse)
		}
		res.Methods[method.HTTPMethod] = method
		return nil
	})
}

// PutMethodResponse declares a status code on an existing method.
func (e *Engine) PutMethodResponse(apiID, resourceID string, verb spec.HTTPVerb, response *spec.MethodResponse) error {
	return e.withMethod(apiID, resourceID, verb, func(method *spec.Method) error {
		method.MethodResponses[response.StatusCode] = response
		return nil
	})
}

// PutIntegration attaches the backend descriptor to an existing method.
func (e *Engine) PutIntegration(apiID, resourceID string, verb spec.HTTPVerb, integration *spec.Integration) error {
	return e.withMethod(apiID, resourceID, verb, func(method *spec.Method) error {
		if integration.IntegrationResponses == nil {
			integration.IntegrationResponses = make(map[spec.StatusCode]*spec.IntegrationResponse)
		}
		method.Integration = integration
		return nil
	})
}

// PutIntegrationResponse declares how one backend outcome maps back onto a
// method response.
func (e *Engine) PutIntegrationResponse(apiID, resourceID string, verb spec.HTTPVerb, response *spec.IntegrationResponse) error {
	return e.withMethod(apiID, resourceID, verb, func(method *spec.Method) error {
		if method.Integration == nil {
			return conflictf("method has no integration")
		}
		method.Integration.IntegrationResponses[response.StatusCode] = response
		return nil
	})
}

// UpdateMethod applies patch operations to a method's declared request
// parameters.
func (e *Engine) UpdateMethod(apiID, resourceID string, verb spec.HTTPVerb, ops []spec.PatchOperation) error {
	return e.withMethod(apiID, resourceID, verb, func(method *spec.Method) error {
		if err := method.ApplyPatch(ops); err != nil {
			return fmt.Errorf("%w: %s", ErrConflict, err)
		}
		return nil
	})
}

func (e *Engine) withResource(apiID, resourceID string, fn func(*spec.Resource) error) error {
	state, err := e.apiState(apiID)
	if err != nil {
		return err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	res, ok := state.api.Resources[resourceID]
	if !ok {
		return notFoundf("resource %q", resourceID)
	}
	return fn(res)
}

func (e *Engine) withMethod(apiID, resourceID string, verb spec.HTTPVerb, fn func(*spec.Method) error) error {
	return e.withResource(apiID, resourceID, func(res *spec.Resource) error {
		method, ok := res.Methods[verb]
		if !ok {
			return notFoundf("method %s on resource %q", verb, resourceID)
		}
		return fn(method)
	})
}

//
// Models and validators
//

// CreateModel registers a named schema on the API.
func (e *Engine) CreateModel(apiID string, model *spec.Model) error {
	state, err := e.apiState(apiID)
	if err != nil {
		return err
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	if _, exists := state.api.Models[model.Name]; exists {
		return conflictf("model %q already exists", model.Name)
	}
	state.api.Models[model.Name] = model
	// Any cached validator may embed the new model transitively.
	state.compiledMu.Lock()
	state.compiled = make(map[string]*spec.ModelValidator)
	state.compiledMu.Unlock()
	return nil
}

// CreateRequestValidator registers a validator and returns its id.
func (e *Engine) CreateRequestValidator(apiID, name string, validateBody, validateParameters bool) (*spec.RequestValidator, error) {
	state, err := e.apiState(apiID)
	if err != nil {
		return nil, err
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	validator := &spec.RequestValidator{
		ID:                        newID(),
		Name:                      name,
		ValidateRequestBody:       validateBody,
		ValidateRequestParameters: validateParameters,
	}
	state.api.Validators[validator.ID] = validator
	return validator, nil
}

// UpdateRequestValidator patches a validator's flags in place. Methods
// referencing it observe the new flags on their next invocation.
func (e *Engine) UpdateRequestValidator(apiID, validatorID string, ops []spec.PatchOperation) error {
	state, err := e.apiState(apiID)
	if err != nil {
		return err
	}
	state.mu.Lock()
	defer state.mu.Unlock()

	validator, ok := state.api.Validators[validatorID]
	if !ok {
		return notFoundf("request validator %q", validatorID)
	}
	if err := validator.ApplyPatch(ops); err != nil {
		return fmt.Errorf("%w: %s", ErrConflict, err)
	}
	return nil
}

// DeleteRequestValidator removes a validator. Methods still referencing its
// id behave as if validation were disabled.
func (e *Engine) DeleteRequestValidator(apiID, validatorID string) error {
	state, err := e.apiState(apiID)
	if err != nil {
		return err
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	if _, ok := state.api.Validators[validatorID]; !ok {
		return notFoundf("request validator %q", validatorID)
	}
	delete(state.api.Validators, validatorID)
	return nil
}

// compiledModel returns the cached validator for a model, compiling it on
// first use. Callers hold at least the API read lock.
func (s *apiState) compiledModel(name string) (*spec.ModelValidator, error) {
	s.compiledMu.Lock()
	defer s.compiledMu.Unlock()
	if validator, ok := s.compiled[name]; ok {
		return validator, nil
	}
	validator, err := spec.CompileModel(s.api.Models, name)
	if err != nil {
		return nil, err
	}
	s.compiled[name] = validator
	return validator, nil
}

//
// Invocation
//

// ResolveAndInvoke is the single entry point for invocation traffic: it
// routes, validates, transforms, authorizes, invokes the backend and
// transforms the response. Every failure mode yields a structured HTTP
// response.
func (e *Engine) ResolveAndInvoke(ctx context.Context, apiID, stageName string, req *Request) *Response {
	start := e.now()

	resp := e.invokePipeline(ctx, apiID, stageName, req)

	e.logger.Info("invocation",
		"api_id", apiID,
		"stage", stageName,
		"method", req.Method,
		"path", req.Path,
		"status", resp.StatusCode,
		"elapsed", time.Since(start),
	)
	if e.metrics != nil {
		e.metrics.observe(apiID, resp.StatusCode, resp.Headers["x-amzn-ErrorType"], time.Since(start))
	}
	return resp
}

func (e *Engine) invokePipeline(ctx context.Context, apiID, stageName string, req *Request) *Response {
	e.mu.RLock()
	state, ok := e.apis[apiID]
	e.mu.RUnlock()
	if !ok {
		return errorResponse(errUnknownAPI(apiID))
	}

	state.mu.RLock()
	defer state.mu.RUnlock()

	stage, ok := state.api.Stages[stageName]
	if !ok {
		return errorResponse(errUnknownAPI(apiID))
	}
	deployment, ok := state.api.Deployments[stage.DeploymentID]
	if !ok {
		return errorResponse(errUnknownAPI(apiID))
	}

	// Routing happens against the deployment snapshot: changes to the live
	// tree only show up after a redeploy.
	match, reqErr := resolveRoute(deployment.Resources, deployment.RootResourceID, spec.HTTPVerb(req.Method), req.Path)
	if reqErr != nil {
		return errorResponse(reqErr)
	}

	if reqErr := state.validateRequest(match.method, match, req); reqErr != nil {
		return errorResponse(reqErr)
	}

	integration := match.method.Integration
	if integration == nil {
		return errorResponse(errInternal())
	}

	fields := map[string]string{
		"apiId":        state.api.ID,
		"resourceId":   match.resource.ID,
		"resourcePath": match.resource.Path,
		"httpMethod":   req.Method,
		"stage":        stage.Name,
		"requestId":    uuid.NewString(),
	}

	requestCtx := &template.Context{
		Body:           req.Body,
		PathParams:     match.pathParams,
		QueryParams:    req.Query,
		Headers:        req.Headers,
		Fields:         fields,
		StageVariables: stage.Variables,
	}

	transformedBody := req.Body
	if tmpl, ok := integration.RequestTemplates[baseContentType(req.header("Content-Type"))]; ok {
		rendered, err := template.Render(tmpl, requestCtx)
		if err != nil {
			e.logger.Error("request template failed", "api_id", apiID, "error", err)
			return errorResponse(errInternal())
		}
		transformedBody = []byte(rendered)
	}

	backendHeaders, backendQuery, uri := applyRequestParameters(integration, match, req, fields, stage.Variables)

	// Backends see a normalized trace id; MOCK has no backend and its
	// responses carry no trace header.
	traceID := ensureTraceID(req.header(traceHeader), e.now())
	if integration.Type != spec.IntegrationMock {
		backendHeaders[traceHeader] = traceID
	}

	if reqErr := e.gate.authorize(e.plansFor(apiID, stageName), e.keysByValue(), match.method, req.header("x-api-key")); reqErr != nil {
		return errorResponse(reqErr)
	}

	invoker, ok := e.invokers[integration.Type]
	if !ok {
		return errorResponse(errInternal())
	}

	invocationCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	backendResp, err := invoker.Invoke(invocationCtx, &Invocation{
		Integration:  integration,
		URI:          uri,
		Method:       req.Method,
		ResourcePath: match.resource.Path,
		Stage:        stage.Name,
		Headers:      backendHeaders,
		Query:        backendQuery,
		PathParams:   match.pathParams,
		Body:         transformedBody,
		Fields:       fields,
	})
	if err != nil {
		e.logger.Error("backend invocation failed", "api_id", apiID, "type", integration.Type, "error", err)
		if errors.Is(err, ErrMisconfigured) {
			return errorResponse(errInternal())
		}
		return errorResponse(errBackend(err))
	}

	// Function-proxy integrations pass the backend envelope through without
	// response transformation, and echo the trace id to the client.
	if integration.Type == spec.IntegrationFunction {
		headers := backendResp.Headers
		if headers == nil {
			headers = make(map[string]string)
		}
		headers[traceHeader] = traceID
		return &Response{
			StatusCode: backendResp.StatusCode,
			Headers:    headers,
			Body:       backendResp.Body,
		}
	}

	integrationResp := selectIntegrationResponse(integration, backendResp.StatusCode)
	if integrationResp == nil {
		return errorResponse(errInternal())
	}

	responseBody := backendResp.Body
	if tmpl, ok := integrationResp.ResponseTemplates["application/json"]; ok && tmpl != "" {
		responseCtx := &template.Context{
			Body:           backendResp.Body,
			PathParams:     match.pathParams,
			QueryParams:    req.Query,
			Headers:        req.Headers,
			Fields:         fields,
			StageVariables: stage.Variables,
		}
		rendered, err := template.Render(tmpl, responseCtx)
		if err != nil {
			e.logger.Error("response template failed", "api_id", apiID, "error", err)
			return errorResponse(errInternal())
		}
		responseBody = []byte(rendered)
	}

	status := parseStatusCode(integrationResp.StatusCode)
	return &Response{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       responseBody,
	}
}

// selectIntegrationResponse picks the integration response whose selection
// pattern matches the backend status, falling back to the default entry
// with an empty pattern. Candidates are tried in status code order so that
// selection is deterministic.
func selectIntegrationResponse(integration *spec.Integration, backendStatus int) *spec.IntegrationResponse {
	statusText := fmt.Sprintf("%d", backendStatus)

	codes := make([]string, 0, len(integration.IntegrationResponses))
	for code := range integration.IntegrationResponses {
		codes = append(codes, string(code))
	}
	sort.Strings(codes)

	var fallback *spec.IntegrationResponse
	for _, code := range codes {
		candidate := integration.IntegrationResponses[spec.StatusCode(code)]
		if candidate.SelectionPattern == "" {
			if fallback == nil {
				fallback = candidate
			}
			continue
		}
		if matchesSelectionPattern(candidate.SelectionPattern, statusText) {
			return candidate
		}
	}
	return fallback
}

func parseStatusCode(code spec.StatusCode) int {
	status := 0
	for _, c := range code {
		if c < '0' || c > '9' {
			return 500
		}
		status = status*10 + int(c-'0')
	}
	if status < 100 || status > 599 {
		return 500
	}
	return status
}

func errorResponse(reqErr *RequestError) *Response {
	headers := map[string]string{"Content-Type": "application/json"}
	if reqErr.ErrorType != "" {
		headers["x-amzn-ErrorType"] = reqErr.ErrorType
	}
	body := fmt.Sprintf(`{"message":%q}`, reqErr.Message)
	return &Response{
		StatusCode: reqErr.Status,
		Headers:    headers,
		Body:       []byte(body),
	}
}
