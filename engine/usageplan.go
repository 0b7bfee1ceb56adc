package engine

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/edgemock/edgemock/spec"
)

//
// Usage plan and key management
//

// CreateUsagePlan registers a plan, assigning an id when none is set.
func (e *Engine) CreateUsagePlan(plan *spec.UsagePlan) *spec.UsagePlan {
	e.mu.Lock()
	defer e.mu.Unlock()
	if plan.ID == "" {
		plan.ID = newID()
	}
	e.plans[plan.ID] = plan
	return plan
}

// UpdateUsagePlan applies patch operations to a plan's throttle, quota and
// stage associations.
func (e *Engine) UpdateUsagePlan(planID string, ops []spec.PatchOperation) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	plan, ok := e.plans[planID]
	if !ok {
		return notFoundf("usage plan %q", planID)
	}
	if err := plan.ApplyPatch(ops); err != nil {
		return fmt.Errorf("%w: %s", ErrConflict, err)
	}
	return nil
}

func (e *Engine) GetUsagePlan(planID string) (*spec.UsagePlan, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	plan, ok := e.plans[planID]
	if !ok {
		return nil, notFoundf("usage plan %q", planID)
	}
	return plan, nil
}

// DeleteUsagePlan removes a plan. A plan still carrying keys must have them
// detached first.
func (e *Engine) DeleteUsagePlan(planID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	plan, ok := e.plans[planID]
	if !ok {
		return notFoundf("usage plan %q", planID)
	}
	if len(plan.KeyIDs) > 0 {
		return conflictf("usage plan %q still has attached keys", planID)
	}
	delete(e.plans, planID)
	return nil
}

// CreateAPIKey registers a key. An empty value gets a generated one long
// enough to be accepted by provider-compatible clients.
func (e *Engine) CreateAPIKey(name, value string, enabled bool) *spec.APIKey {
	e.mu.Lock()
	defer e.mu.Unlock()
	if value == "" {
		value = generateKeyValue()
	}
	key := &spec.APIKey{
		ID:      newID(),
		Name:    name,
		Value:   value,
		Enabled: enabled,
	}
	e.keys[key.ID] = key
	return key
}

func generateKeyValue() string {
	a := strings.ReplaceAll(uuid.NewString(), "-", "")
	b := strings.ReplaceAll(uuid.NewString(), "-", "")
	return (a + b)[:40]
}

// UpdateAPIKey patches a key. Disabling a key takes effect on the next
// invocation presenting it.
func (e *Engine) UpdateAPIKey(keyID string, ops []spec.PatchOperation) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	key, ok := e.keys[keyID]
	if !ok {
		return notFoundf("api key %q", keyID)
	}
	if err := key.ApplyPatch(ops); err != nil {
		return fmt.Errorf("%w: %s", ErrConflict, err)
	}
	return nil
}

// DeleteAPIKey removes a key and detaches it from every plan.
func (e *Engine) DeleteAPIKey(keyID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.keys[keyID]; !ok {
		return notFoundf("api key %q", keyID)
	}
	delete(e.keys, keyID)
	for _, plan := range e.plans {
		for i, id := range plan.KeyIDs {
			if id == keyID {
				plan.KeyIDs = append(plan.KeyIDs[:i], plan.KeyIDs[i+1:]...)
				break
			}
		}
	}
	return nil
}

// AddUsagePlanKey attaches a key to a plan.
func (e *Engine) AddUsagePlanKey(planID, keyID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	plan, ok := e.plans[planID]
	if !ok {
		return notFoundf("usage plan %q", planID)
	}
	if _, ok := e.keys[keyID]; !ok {
		return notFoundf("api key %q", keyID)
	}
	for _, id := range plan.KeyIDs {
		if id == keyID {
			return conflictf("key %q already attached to plan %q", keyID, planID)
		}
	}
	plan.KeyIDs = append(plan.KeyIDs, keyID)
	return nil
}

// RemoveUsagePlanKey detaches a key from a plan.
func (e *Engine) RemoveUsagePlanKey(planID, keyID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	plan, ok := e.plans[planID]
	if !ok {
		return notFoundf("usage plan %q", planID)
	}
	for i, id := range plan.KeyIDs {
		if id == keyID {
			plan.KeyIDs = append(plan.KeyIDs[:i], plan.KeyIDs[i+1:]...)
			return nil
		}
	}
	return notFoundf("key %q on plan %q", keyID, planID)
}

// plansFor returns the plans whose stage associations cover one deployed
// stage. Read fresh on every request so plan changes apply immediately.
func (e *Engine) plansFor(apiID, stageName string) []*spec.UsagePlan {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var covering []*spec.UsagePlan
	for _, plan := range e.plans {
		for _, apiStage := range plan.APIStages {
			if apiStage.APIID == apiID && apiStage.Stage == stageName {
				covering = append(covering, plan)
				break
			}
		}
	}
	return covering
}

// keysByValue indexes the current keys by their secret value.
func (e *Engine) keysByValue() map[string]*spec.APIKey {
	e.mu.RLock()
	defer e.mu.RUnlock()
	byValue := make(map[string]*spec.APIKey, len(e.keys))
	for _, key := range e.keys {
		byValue[key.Value] = key
	}
	return byValue
}

//
// Request-time gate
//

// usageGate enforces API key checks, throttle limits and quota windows.
// Limiter and quota state live here rather than on the plan structs so that
// plan objects stay plain data.
type usageGate struct {
	now func() time.Time

	mu       sync.Mutex
	limiters map[string]*planLimiter
	quotas   map[string]*quotaWindow
}

type planLimiter struct {
	limiter *rate.Limiter
	cfg     spec.Throttle
}

type quotaWindow struct {
	start time.Time
	count int
}

func newUsageGate(now func() time.Time) *usageGate {
	return &usageGate{
		now:      now,
		limiters: make(map[string]*planLimiter),
		quotas:   make(map[string]*quotaWindow),
	}
}

// authorize runs the usage plan checks for one request. Methods that do not
// require a key pass through untouched. Key validity and plan membership
// are evaluated against the live tables, so disabling a key or detaching it
// from a plan takes effect on the next request.
func (g *usageGate) authorize(plans []*spec.UsagePlan, keys map[string]*spec.APIKey, method *spec.Method, keyValue string) *RequestError {
	if method == nil || !method.APIKeyRequired {
		return nil
	}
	if keyValue == "" {
		return errForbidden()
	}
	key, ok := keys[keyValue]
	if !ok || !key.Enabled {
		return errForbidden()
	}

	var plan *spec.UsagePlan
	for _, candidate := range plans {
		for _, id := range candidate.KeyIDs {
			if id == key.ID {
				plan = candidate
				break
			}
		}
		if plan != nil {
			break
		}
	}
	if plan == nil {
		return errForbidden()
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if plan.Throttle != nil && !g.allow(plan) {
		return errThrottled()
	}
	if plan.Quota != nil && !g.consumeQuota(plan, key) {
		return errQuotaExceeded()
	}
	return nil
}

// allow checks the plan's token bucket, rebuilding it when the throttle
// configuration changed since the last request.
func (g *usageGate) allow(plan *spec.UsagePlan) bool {
	pl, ok := g.limiters[plan.ID]
	if !ok || pl.cfg != *plan.Throttle {
		pl = &planLimiter{
			limiter: rate.NewLimiter(rate.Limit(plan.Throttle.RateLimit), plan.Throttle.BurstLimit),
			cfg:     *plan.Throttle,
		}
		g.limiters[plan.ID] = pl
	}
	return pl.limiter.AllowN(g.now(), 1)
}

// consumeQuota counts the request against the key's window, resetting the
// window when a new period starts. The plan's quota offset pre-charges the
// very first window of a key, so a key attached mid-period does not get the
// full limit; every later window starts from zero.
func (g *usageGate) consumeQuota(plan *spec.UsagePlan, key *spec.APIKey) bool {
	windowKey := plan.ID + "/" + key.ID
	start := quotaWindowStart(g.now().UTC(), plan.Quota.Period)

	window, ok := g.quotas[windowKey]
	if !ok {
		offset := plan.Quota.Offset
		if offset < 0 {
			offset = 0
		}
		if offset > plan.Quota.Limit {
			offset = plan.Quota.Limit
		}
		window = &quotaWindow{start: start, count: offset}
		g.quotas[windowKey] = window
	} else if !window.start.Equal(start) {
		window = &quotaWindow{start: start}
		g.quotas[windowKey] = window
	}
	if window.count >= plan.Quota.Limit {
		return false
	}
	window.count++
	return true
}

// quotaWindowStart truncates a moment to the start of its quota period.
// Weeks start on Sunday, matching the provider's accounting.
func quotaWindowStart(now time.Time, period spec.QuotaPeriod) time.Time {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	switch period {
	case spec.QuotaWeek:
		return midnight.AddDate(0, 0, -int(midnight.Weekday()))
	case spec.QuotaMonth:
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return midnight
	}
}
