package engine

import (
	"testing"
	"time"

	assert "github.com/stretchr/testify/require"

	"github.com/edgemock/edgemock/spec"
)

// gatedFixture is an API whose single method requires an API key, plus a
// plan and key wired to its stage.
type gatedFixture struct {
	*apiFixture
	plan *spec.UsagePlan
	key  *spec.APIKey
}

func newGatedFixture(t *testing.T, eng *Engine, plan *spec.UsagePlan) *gatedFixture {
	t.Helper()
	f := newAPIFixture(t, eng)

	res := f.resource("/gated")
	assert.NoError(t, eng.PutMethod(f.api.ID, res.ID, &spec.Method{
		HTTPMethod:     "GET",
		APIKeyRequired: true,
	}))
	assert.NoError(t, eng.PutIntegration(f.api.ID, res.ID, "GET", &spec.Integration{
		Type:             spec.IntegrationMock,
		RequestTemplates: map[string]string{"application/json": `{"statusCode": 200}`},
	}))
	assert.NoError(t, eng.PutIntegrationResponse(f.api.ID, res.ID, "GET", &spec.IntegrationResponse{
		StatusCode: "200",
	}))
	f.deploy("test")

	plan.APIStages = []spec.APIStage{{APIID: f.api.ID, Stage: "test"}}
	eng.CreateUsagePlan(plan)

	key := eng.CreateAPIKey("tester", "", true)
	assert.NoError(t, eng.AddUsagePlanKey(plan.ID, key.ID))

	return &gatedFixture{apiFixture: f, plan: plan, key: key}
}

func (f *gatedFixture) get(keyValue string) *Response {
	f.t.Helper()
	headers := map[string]string{}
	if keyValue != "" {
		headers["x-api-key"] = keyValue
	}
	return f.invoke("test", &Request{Method: "GET", Path: "/gated", Headers: headers})
}

func TestAPIKeyRequired(t *testing.T) {
	eng := newTestEngine(t)
	f := newGatedFixture(t, eng, &spec.UsagePlan{Name: "basic"})

	resp := f.get("")
	assert.Equal(t, 403, resp.StatusCode)
	assert.Equal(t, "ForbiddenException", resp.Headers["x-amzn-ErrorType"])

	resp = f.get("not-a-real-key")
	assert.Equal(t, 403, resp.StatusCode)

	resp = f.get(f.key.Value)
	assert.Equal(t, 200, resp.StatusCode)
}

func TestDisabledKeyRejectedImmediately(t *testing.T) {
	eng := newTestEngine(t)
	f := newGatedFixture(t, eng, &spec.UsagePlan{Name: "basic"})

	assert.Equal(t, 200, f.get(f.key.Value).StatusCode)

	assert.NoError(t, eng.UpdateAPIKey(f.key.ID, []spec.PatchOperation{
		{Op: "replace", Path: "/enabled", Value: "false"},
	}))
	assert.Equal(t, 403, f.get(f.key.Value).StatusCode)

	assert.NoError(t, eng.UpdateAPIKey(f.key.ID, []spec.PatchOperation{
		{Op: "replace", Path: "/enabled", Value: "true"},
	}))
	assert.Equal(t, 200, f.get(f.key.Value).StatusCode)
}

func TestKeyWithoutPlanRejected(t *testing.T) {
	eng := newTestEngine(t)
	f := newGatedFixture(t, eng, &spec.UsagePlan{Name: "basic"})

	loose := eng.CreateAPIKey("unattached", "", true)
	assert.Equal(t, 403, f.get(loose.Value).StatusCode)
}

func TestDetachedStageRejected(t *testing.T) {
	eng := newTestEngine(t)
	f := newGatedFixture(t, eng, &spec.UsagePlan{Name: "basic"})

	assert.NoError(t, eng.UpdateUsagePlan(f.plan.ID, []spec.PatchOperation{
		{Op: "remove", Path: "/apiStages", Value: f.api.ID + ":test"},
	}))
	assert.Equal(t, 403, f.get(f.key.Value).StatusCode)
}

func TestQuotaExhaustionAndReset(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	eng := newTestEngine(t, WithClock(func() time.Time { return now }))
	f := newGatedFixture(t, eng, &spec.UsagePlan{
		Name:  "quota",
		Quota: &spec.Quota{Limit: 2, Period: spec.QuotaDay},
	})

	assert.Equal(t, 200, f.get(f.key.Value).StatusCode)
	assert.Equal(t, 200, f.get(f.key.Value).StatusCode)

	resp := f.get(f.key.Value)
	assert.Equal(t, 429, resp.StatusCode)
	assert.Equal(t, "LimitExceededException", resp.Headers["x-amzn-ErrorType"])
	assert.Contains(t, string(resp.Body), "Limit Exceeded")

	// next day opens a fresh window
	now = now.AddDate(0, 0, 1)
	assert.Equal(t, 200, f.get(f.key.Value).StatusCode)
}

func TestQuotaOffsetShortensFirstWindow(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	eng := newTestEngine(t, WithClock(func() time.Time { return now }))
	f := newGatedFixture(t, eng, &spec.UsagePlan{
		Name:  "quota",
		Quota: &spec.Quota{Limit: 2, Offset: 1, Period: spec.QuotaDay},
	})

	// the offset counts against the initial window, leaving one request
	assert.Equal(t, 200, f.get(f.key.Value).StatusCode)
	assert.Equal(t, 429, f.get(f.key.Value).StatusCode)

	// the next window starts clean and grants the full limit
	now = now.AddDate(0, 0, 1)
	assert.Equal(t, 200, f.get(f.key.Value).StatusCode)
	assert.Equal(t, 200, f.get(f.key.Value).StatusCode)
	assert.Equal(t, 429, f.get(f.key.Value).StatusCode)
}

func TestThrottleBurst(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	eng := newTestEngine(t, WithClock(func() time.Time { return now }))
	f := newGatedFixture(t, eng, &spec.UsagePlan{
		Name:     "throttled",
		Throttle: &spec.Throttle{RateLimit: 1, BurstLimit: 2},
	})

	assert.Equal(t, 200, f.get(f.key.Value).StatusCode)
	assert.Equal(t, 200, f.get(f.key.Value).StatusCode)

	resp := f.get(f.key.Value)
	assert.Equal(t, 429, resp.StatusCode)
	assert.Equal(t, "TooManyRequestsException", resp.Headers["x-amzn-ErrorType"])
	assert.Contains(t, string(resp.Body), "Too Many Requests")

	// the bucket refills with the clock
	now = now.Add(2 * time.Second)
	assert.Equal(t, 200, f.get(f.key.Value).StatusCode)
}

func TestQuotaWindowStarts(t *testing.T) {
	at := time.Date(2024, 3, 13, 17, 30, 0, 0, time.UTC) // a Wednesday

	assert.Equal(t,
		time.Date(2024, 3, 13, 0, 0, 0, 0, time.UTC),
		quotaWindowStart(at, spec.QuotaDay))
	assert.Equal(t,
		time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), // preceding Sunday
		quotaWindowStart(at, spec.QuotaWeek))
	assert.Equal(t,
		time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		quotaWindowStart(at, spec.QuotaMonth))
}

func TestUsagePlanKeyLifecycle(t *testing.T) {
	eng := newTestEngine(t)
	f := newGatedFixture(t, eng, &spec.UsagePlan{Name: "basic"})

	// double attach is a conflict
	assert.ErrorIs(t, eng.AddUsagePlanKey(f.plan.ID, f.key.ID), ErrConflict)

	assert.NoError(t, eng.RemoveUsagePlanKey(f.plan.ID, f.key.ID))
	assert.Equal(t, 403, f.get(f.key.Value).StatusCode)

	// a plan with keys attached cannot be deleted
	assert.NoError(t, eng.AddUsagePlanKey(f.plan.ID, f.key.ID))
	assert.ErrorIs(t, eng.DeleteUsagePlan(f.plan.ID), ErrConflict)

	// deleting the key detaches it everywhere
	assert.NoError(t, eng.DeleteAPIKey(f.key.ID))
	assert.NoError(t, eng.DeleteUsagePlan(f.plan.ID))
}
