package spec

import (
	"testing"

	assert "github.com/stretchr/testify/require"
)

func TestRequestValidatorPatch(t *testing.T) {
	v := &RequestValidator{ID: "v1", ValidateRequestBody: true}

	assert.NoError(t, v.ApplyPatch([]PatchOperation{
		{Op: "replace", Path: "/validateRequestBody", Value: "false"},
		{Op: "replace", Path: "/validateRequestParameters", Value: "true"},
	}))
	assert.False(t, v.ValidateRequestBody)
	assert.True(t, v.ValidateRequestParameters)

	// a bad op in the batch leaves everything untouched
	err := v.ApplyPatch([]PatchOperation{
		{Op: "replace", Path: "/validateRequestBody", Value: "true"},
		{Op: "replace", Path: "/nope", Value: "true"},
	})
	assert.ErrorIs(t, err, ErrInvalidPatch)
	assert.False(t, v.ValidateRequestBody)

	err = v.ApplyPatch([]PatchOperation{
		{Op: "replace", Path: "/validateRequestBody", Value: "not-a-bool"},
	})
	assert.ErrorIs(t, err, ErrInvalidPatch)
}

func TestAPIKeyPatch(t *testing.T) {
	k := &APIKey{ID: "k1", Enabled: true}

	assert.NoError(t, k.ApplyPatch([]PatchOperation{
		{Op: "replace", Path: "/enabled", Value: "false"},
	}))
	assert.False(t, k.Enabled)

	assert.ErrorIs(t, k.ApplyPatch([]PatchOperation{
		{Op: "remove", Path: "/enabled"},
	}), ErrInvalidPatch)
}

func TestUsagePlanPatchLimits(t *testing.T) {
	p := &UsagePlan{ID: "p1"}

	assert.NoError(t, p.ApplyPatch([]PatchOperation{
		{Op: "replace", Path: "/throttle/rateLimit", Value: "2.5"},
		{Op: "replace", Path: "/throttle/burstLimit", Value: "10"},
		{Op: "replace", Path: "/quota/limit", Value: "100"},
		{Op: "replace", Path: "/quota/period", Value: "WEEK"},
	}))
	assert.Equal(t, 2.5, p.Throttle.RateLimit)
	assert.Equal(t, 10, p.Throttle.BurstLimit)
	assert.Equal(t, 100, p.Quota.Limit)
	assert.Equal(t, QuotaWeek, p.Quota.Period)

	assert.ErrorIs(t, p.ApplyPatch([]PatchOperation{
		{Op: "replace", Path: "/quota/period", Value: "FORTNIGHT"},
	}), ErrInvalidPatch)
}

func TestUsagePlanPatchRemoveStage(t *testing.T) {
	p := &UsagePlan{
		ID: "p1",
		APIStages: []APIStage{
			{APIID: "a1", Stage: "test"},
			{APIID: "a2", Stage: "prod"},
		},
	}

	assert.NoError(t, p.ApplyPatch([]PatchOperation{
		{Op: "remove", Path: "/apiStages", Value: "a1:test"},
	}))
	assert.Equal(t, []APIStage{{APIID: "a2", Stage: "prod"}}, p.APIStages)

	// unassociated stages and malformed values are rejected
	assert.ErrorIs(t, p.ApplyPatch([]PatchOperation{
		{Op: "remove", Path: "/apiStages", Value: "a1:test"},
	}), ErrInvalidPatch)
	assert.ErrorIs(t, p.ApplyPatch([]PatchOperation{
		{Op: "remove", Path: "/apiStages", Value: "no-colon"},
	}), ErrInvalidPatch)
	assert.ErrorIs(t, p.ApplyPatch([]PatchOperation{
		{Op: "remove", Path: "/apiStages"},
	}), ErrInvalidPatch)
}

func TestMethodPatchRequestParameters(t *testing.T) {
	m := &Method{HTTPMethod: "GET"}

	assert.NoError(t, m.ApplyPatch([]PatchOperation{
		{Op: "add", Path: "/requestParameters/method.request.querystring.q", Value: "true"},
	}))
	assert.True(t, m.RequestParameters["method.request.querystring.q"])

	assert.NoError(t, m.ApplyPatch([]PatchOperation{
		{Op: "remove", Path: "/requestParameters/method.request.querystring.q"},
	}))
	assert.NotContains(t, m.RequestParameters, "method.request.querystring.q")

	assert.ErrorIs(t, m.ApplyPatch([]PatchOperation{
		{Op: "remove", Path: "/requestParameters/method.request.querystring.q"},
	}), ErrInvalidPatch)
}

func TestStagePatchIsAtomic(t *testing.T) {
	s := &Stage{Name: "test"}

	err := s.ApplyPatch([]PatchOperation{
		{Op: "replace", Path: "/description", Value: "updated"},
		{Op: "replace", Path: "/bogus", Value: "x"},
	})
	assert.ErrorIs(t, err, ErrInvalidPatch)
	assert.Empty(t, s.Description)
	assert.Empty(t, s.Variables)
}

func TestStageWildcardDoesNotOverrideExplicit(t *testing.T) {
	s := &Stage{Name: "test"}

	assert.NoError(t, s.ApplyPatch([]PatchOperation{
		{Op: "replace", Path: "/pets/GET/throttling/rateLimit", Value: "7"},
		{Op: "replace", Path: "/*/*/throttling/rateLimit", Value: "100"},
		{Op: "replace", Path: "/*/*/caching/enabled", Value: "true"},
	}))

	effective := s.EffectiveMethodSetting("pets/GET")
	assert.Equal(t, float64(7), effective.ThrottlingRateLimit)
	assert.True(t, effective.CachingEnabled) // inherited from the wildcard

	// a path with no explicit entry sees the wildcard values directly
	effective = s.EffectiveMethodSetting("other/POST")
	assert.Equal(t, float64(100), effective.ThrottlingRateLimit)
}

func TestStageMethodSettingPathWithNestedResource(t *testing.T) {
	s := &Stage{Name: "test"}

	// the resource path portion may itself contain slashes
	assert.NoError(t, s.ApplyPatch([]PatchOperation{
		{Op: "replace", Path: "/pets/{petId}/toys/GET/throttling/burstLimit", Value: "3"},
	}))
	assert.Equal(t, 3, s.MethodSettings["pets/{petId}/toys/GET"].ThrottlingBurstLimit)
}

func TestCopyResourcesIsDeep(t *testing.T) {
	original := map[string]*Resource{
		"r1": {
			ID:       "r1",
			PathPart: "pets",
			Path:     "/pets",
			ChildIDs: []string{"r2"},
			Methods: map[HTTPVerb]*Method{
				"GET": {
					HTTPMethod:        "GET",
					RequestParameters: map[string]bool{"method.request.querystring.q": true},
					Integration: &Integration{
						Type:             IntegrationMock,
						RequestTemplates: map[string]string{"application/json": "{}"},
						IntegrationResponses: map[StatusCode]*IntegrationResponse{
							"200": {StatusCode: "200"},
						},
					},
				},
			},
		},
	}

	snapshot := CopyResources(original)

	original["r1"].Methods["GET"].RequestParameters["method.request.querystring.q"] = false
	original["r1"].Methods["GET"].Integration.RequestTemplates["application/json"] = "changed"
	original["r1"].Methods["POST"] = &Method{HTTPMethod: "POST"}
	original["r1"].ChildIDs[0] = "changed"

	copied := snapshot["r1"]
	assert.True(t, copied.Methods["GET"].RequestParameters["method.request.querystring.q"])
	assert.Equal(t, "{}", copied.Methods["GET"].Integration.RequestTemplates["application/json"])
	assert.NotContains(t, copied.Methods, HTTPVerb("POST"))
	assert.Equal(t, []string{"r2"}, copied.ChildIDs)
}
