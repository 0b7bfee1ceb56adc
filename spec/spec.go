// Package spec contains the declarative data model for an emulated REST API
// gateway: APIs, their resource trees, methods, integrations, models,
// validators, deployments, stages, usage plans and keys. The engine package
// interprets this model at request time.
package spec

type HTTPVerb string

// VerbAny is the wildcard verb. A method registered under it answers any
// request verb that has no exact match on the same resource.
const VerbAny HTTPVerb = "ANY"

type IntegrationType string

const (
	IntegrationMock     IntegrationType = "MOCK"
	IntegrationHTTP     IntegrationType = "HTTP"
	IntegrationFunction IntegrationType = "AWS_PROXY"
)

type StatusCode string

type QuotaPeriod string

const (
	QuotaDay   QuotaPeriod = "DAY"
	QuotaWeek  QuotaPeriod = "WEEK"
	QuotaMonth QuotaPeriod = "MONTH"
)

// API is the root of one emulated API: the resource tree plus everything
// referenced from it. Resources are held in a flat table keyed by id;
// parent/child links are id references so that tree walks are table lookups.
type API struct {
	ID   string `json:"id"`
	Name string `json:"name"`

	RootResourceID string               `json:"rootResourceId"`
	Resources      map[string]*Resource `json:"resources"`

	Models     map[string]*Model            `json:"models"`
	Validators map[string]*RequestValidator `json:"requestValidators"`

	Deployments map[string]*Deployment `json:"deployments"`
	Stages      map[string]*Stage      `json:"stages"`
}

// Resource is one node of the path tree. PathPart is a literal segment, a
// single-segment parameter like "{id}", or a greedy proxy like "{proxy+}"
// which consumes every remaining segment.
type Resource struct {
	ID       string `json:"id"`
	ParentID string `json:"parentId"`
	PathPart string `json:"pathPart"`
	Path     string `json:"path"`

	Methods map[HTTPVerb]*Method `json:"resourceMethods"`

	ChildIDs []string `json:"-"`
}

// Method describes one verb declared on a resource.
type Method struct {
	HTTPMethod        HTTPVerb `json:"httpMethod"`
	AuthorizationType string   `json:"authorizationType"`
	APIKeyRequired    bool     `json:"apiKeyRequired"`

	// RequestParameters maps a locator such as
	// "method.request.querystring.qs1" to whether the parameter is required.
	RequestParameters map[string]bool `json:"requestParameters"`

	// RequestModels maps a content type to a model name.
	RequestModels map[string]string `json:"requestModels"`

	RequestValidatorID string `json:"requestValidatorId"`

	MethodResponses map[StatusCode]*MethodResponse `json:"methodResponses"`
	Integration     *Integration                   `json:"methodIntegration"`
}

type MethodResponse struct {
	StatusCode     StatusCode        `json:"statusCode"`
	ResponseModels map[string]string `json:"responseModels"`
}

// Integration is the backend descriptor attached to a method.
type Integration struct {
	Type                  IntegrationType `json:"type"`
	URI                   string          `json:"uri"`
	IntegrationHTTPMethod HTTPVerb        `json:"httpMethod"`

	// RequestTemplates maps a content type to a template evaluated against
	// the inbound request before the backend is invoked.
	RequestTemplates map[string]string `json:"requestTemplates"`

	// RequestParameters maps a target locator such as
	// "integration.request.header.h" to a source expression such as
	// "method.request.header.x", "context.resourceId" or a 'literal'.
	RequestParameters map[string]string `json:"requestParameters"`

	IntegrationResponses map[StatusCode]*IntegrationResponse `json:"integrationResponses"`
}

// IntegrationResponse selects how a backend response maps back to a method
// response. SelectionPattern is a regex matched against the backend status
// code; the empty pattern is the default match.
type IntegrationResponse struct {
	StatusCode        StatusCode        `json:"statusCode"`
	SelectionPattern  string            `json:"selectionPattern"`
	ResponseTemplates map[string]string `json:"responseTemplates"`
}

// Model is a named JSON Schema document. Schema holds the raw decoded
// document; see Compile in validate.go for how $ref entries pointing at
// other models by name are resolved.
type Model struct {
	Name        string                 `json:"name"`
	ContentType string                 `json:"contentType"`
	Schema      map[string]interface{} `json:"schema"`
}

// RequestValidator toggles the two classes of request validation for every
// method referencing it by id. The flags are read at request time, so
// toggling them does not require a redeploy.
type RequestValidator struct {
	ID                        string `json:"id"`
	Name                      string `json:"name"`
	ValidateRequestBody       bool   `json:"validateRequestBody"`
	ValidateRequestParameters bool   `json:"validateRequestParameters"`
}

// Deployment is an immutable snapshot of an API's resources, methods and
// integrations taken at creation time.
type Deployment struct {
	ID          string `json:"id"`
	Description string `json:"description"`

	RootResourceID string               `json:"-"`
	Resources      map[string]*Resource `json:"-"`
}

// Stage is a named, mutable pointer to a deployment plus per-method
// operational settings.
type Stage struct {
	Name         string `json:"stageName"`
	DeploymentID string `json:"deploymentId"`
	Description  string `json:"description"`

	// MethodSettings is keyed by "{resourcePath}/{method}", with "*/*"
	// holding wildcard defaults. Wildcard values never overwrite settings
	// that were set explicitly for a concrete key.
	MethodSettings map[string]*MethodSetting `json:"methodSettings"`

	Variables      map[string]string `json:"variables"`
	TracingEnabled bool              `json:"tracingEnabled"`
}

// MethodSetting carries stage-level throttling and caching knobs for one
// method path. The Explicit* flags record which fields were set directly
// rather than inherited from the wildcard entry.
type MethodSetting struct {
	ThrottlingRateLimit  float64 `json:"throttlingRateLimit"`
	ThrottlingBurstLimit int     `json:"throttlingBurstLimit"`
	CachingEnabled       bool    `json:"cachingEnabled"`

	ExplicitThrottlingRateLimit  bool `json:"-"`
	ExplicitThrottlingBurstLimit bool `json:"-"`
	ExplicitCachingEnabled       bool `json:"-"`
}

// UsagePlan bundles quota and throttle limits and associates them with
// (api, stage) pairs and API keys.
type UsagePlan struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`

	Quota    *Quota    `json:"quota"`
	Throttle *Throttle `json:"throttle"`

	APIStages []APIStage `json:"apiStages"`

	KeyIDs []string `json:"-"`
}

// APIStage names one stage of one API, the unit a usage plan attaches to.
type APIStage struct {
	APIID string `json:"apiId"`
	Stage string `json:"stage"`
}

type Quota struct {
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
	Period QuotaPeriod `json:"period"`
}

type Throttle struct {
	RateLimit  float64 `json:"rateLimit"`
	BurstLimit int     `json:"burstLimit"`
}

// APIKey is a secret token presented by clients in the x-api-key header.
type APIKey struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Value   string `json:"value"`
	Enabled bool   `json:"enabled"`
}
