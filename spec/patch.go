package spec

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// WildcardMethodPath is the method-settings key that supplies defaults for
// every method path without an explicit entry.
const WildcardMethodPath = "*/*"

// ErrInvalidPatch marks a rejected patch operation. Callers surface it as a
// configuration conflict; the entity is left unchanged because every
// Apply*Patch function validates all operations before mutating anything.
var ErrInvalidPatch = errors.New("invalid patch operation")

// PatchOperation is one (op, path, value) mutation taken from the management
// layer. Values arrive as strings regardless of the target field's type,
// the same way the provider's update calls encode them.
type PatchOperation struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value string `json:"value"`
}

// ApplyPatch mutates the validator's flags. Supported paths:
// replace /validateRequestBody, replace /validateRequestParameters.
func (v *RequestValidator) ApplyPatch(ops []PatchOperation) error {
	staged := *v
	for _, op := range ops {
		if op.Op != "replace" {
			return patchErrorf("op %q not supported on request validators", op.Op)
		}
		val, err := parsePatchBool(op)
		if err != nil {
			return err
		}
		switch op.Path {
		case "/validateRequestBody":
			staged.ValidateRequestBody = val
		case "/validateRequestParameters":
			staged.ValidateRequestParameters = val
		default:
			return patchErrorf("unknown path %q", op.Path)
		}
	}
	*v = staged
	return nil
}

// ApplyPatch mutates the key. Supported paths: replace /enabled.
func (k *APIKey) ApplyPatch(ops []PatchOperation) error {
	staged := *k
	for _, op := range ops {
		if op.Op != "replace" || op.Path != "/enabled" {
			return patchErrorf("unsupported operation %s %q on api key", op.Op, op.Path)
		}
		val, err := parsePatchBool(op)
		if err != nil {
			return err
		}
		staged.Enabled = val
	}
	*k = staged
	return nil
}

// ApplyPatch mutates the plan's limits and associations. Supported paths:
// replace /throttle/rateLimit, /throttle/burstLimit, /quota/limit,
// /quota/offset, /quota/period; remove /apiStages with value "apiId:stage".
func (p *UsagePlan) ApplyPatch(ops []PatchOperation) error {
	staged := *p
	staged.APIStages = append([]APIStage(nil), p.APIStages...)
	if p.Throttle != nil {
		t := *p.Throttle
		staged.Throttle = &t
	}
	if p.Quota != nil {
		q := *p.Quota
		staged.Quota = &q
	}

	for _, op := range ops {
		switch {
		case op.Op == "replace" && strings.HasPrefix(op.Path, "/throttle/"):
			if staged.Throttle == nil {
				staged.Throttle = &Throttle{}
			}
			switch op.Path {
			case "/throttle/rateLimit":
				val, err := parsePatchFloat(op)
				if err != nil {
					return err
				}
				staged.Throttle.RateLimit = val
			case "/throttle/burstLimit":
				val, err := parsePatchInt(op)
				if err != nil {
					return err
				}
				staged.Throttle.BurstLimit = val
			default:
				return patchErrorf("unknown path %q", op.Path)
			}

		case op.Op == "replace" && strings.HasPrefix(op.Path, "/quota/"):
			if staged.Quota == nil {
				staged.Quota = &Quota{}
			}
			switch op.Path {
			case "/quota/limit":
				val, err := parsePatchInt(op)
				if err != nil {
					return err
				}
				staged.Quota.Limit = val
			case "/quota/offset":
				val, err := parsePatchInt(op)
				if err != nil {
					return err
				}
				staged.Quota.Offset = val
			case "/quota/period":
				switch QuotaPeriod(op.Value) {
				case QuotaDay, QuotaWeek, QuotaMonth:
					staged.Quota.Period = QuotaPeriod(op.Value)
				default:
					return patchErrorf("invalid quota period %q", op.Value)
				}
			default:
				return patchErrorf("unknown path %q", op.Path)
			}

		case op.Op == "remove" && op.Path == "/apiStages":
			if op.Value == "" {
				return patchErrorf("remove /apiStages requires a value")
			}
			apiID, stage, ok := strings.Cut(op.Value, ":")
			if !ok {
				return patchErrorf("invalid api stage %q, expected apiId:stage", op.Value)
			}
			idx := -1
			for i, as := range staged.APIStages {
				if as.APIID == apiID && as.Stage == stage {
					idx = i
					break
				}
			}
			if idx == -1 {
				return patchErrorf("api stage %q is not associated with plan %s", op.Value, p.ID)
			}
			staged.APIStages = append(staged.APIStages[:idx], staged.APIStages[idx+1:]...)

		default:
			return patchErrorf("unsupported operation %s %q on usage plan", op.Op, op.Path)
		}
	}

	*p = staged
	return nil
}

// ApplyPatch mutates the method's declared request parameters. Supported
// paths: add/remove /requestParameters/<locator>.
func (m *Method) ApplyPatch(ops []PatchOperation) error {
	staged := copyBoolMap(m.RequestParameters)
	if staged == nil {
		staged = make(map[string]bool)
	}
	for _, op := range ops {
		locator, found := strings.CutPrefix(op.Path, "/requestParameters/")
		if !found || locator == "" {
			return patchErrorf("unknown path %q", op.Path)
		}
		switch op.Op {
		case "add", "replace":
			val, err := parsePatchBool(op)
			if err != nil {
				return err
			}
			staged[locator] = val
		case "remove":
			if _, ok := staged[locator]; !ok {
				return patchErrorf("parameter %q is not declared", locator)
			}
			delete(staged, locator)
		default:
			return patchErrorf("op %q not supported on methods", op.Op)
		}
	}
	m.RequestParameters = staged
	return nil
}

// ApplyPatch mutates the stage. Supported paths: replace /description,
// /tracingEnabled, /variables/<name>, and method-setting paths of the form
// /{resourcePath}/{method}/throttling/(rateLimit|burstLimit) or
// /{resourcePath}/{method}/caching/enabled, with */* as the wildcard method
// path. remove /*/* drops the wildcard defaults and resets every setting
// that was not set explicitly; it is rejected while no wildcard-driven
// settings exist.
func (s *Stage) ApplyPatch(ops []PatchOperation) error {
	staged := s.copyForPatch()
	for _, op := range ops {
		if err := staged.applyOne(op); err != nil {
			return err
		}
	}
	*s = *staged
	return nil
}

func (s *Stage) copyForPatch() *Stage {
	c := *s
	c.Variables = copyStringMap(s.Variables)
	c.MethodSettings = make(map[string]*MethodSetting, len(s.MethodSettings))
	for k, ms := range s.MethodSettings {
		msCopy := *ms
		c.MethodSettings[k] = &msCopy
	}
	return &c
}

func (s *Stage) applyOne(op PatchOperation) error {
	if op.Op == "remove" && op.Path == "/"+WildcardMethodPath {
		return s.removeWildcardSettings()
	}

	if op.Op != "replace" {
		return patchErrorf("op %q not supported on stages", op.Op)
	}

	switch {
	case op.Path == "/description":
		s.Description = op.Value
		return nil
	case op.Path == "/tracingEnabled":
		val, err := parsePatchBool(op)
		if err != nil {
			return err
		}
		s.TracingEnabled = val
		return nil
	case strings.HasPrefix(op.Path, "/variables/"):
		name := strings.TrimPrefix(op.Path, "/variables/")
		if name == "" {
			return patchErrorf("unknown path %q", op.Path)
		}
		if s.Variables == nil {
			s.Variables = make(map[string]string)
		}
		s.Variables[name] = op.Value
		return nil
	}

	if key, group, field, ok := splitMethodSettingPath(op.Path); ok {
		return s.patchMethodSetting(key, group, field, op)
	}

	return patchErrorf("unknown path %q", op.Path)
}

// splitMethodSettingPath splits "/test/GET/throttling/burstLimit" into
// ("test/GET", "throttling", "burstLimit"). The resource path portion may
// itself contain slashes.
func splitMethodSettingPath(path string) (key, group, field string, ok bool) {
	parts := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(parts) < 4 {
		return "", "", "", false
	}
	group = parts[len(parts)-2]
	if group != "throttling" && group != "caching" {
		return "", "", "", false
	}
	field = parts[len(parts)-1]
	key = strings.Join(parts[:len(parts)-2], "/")
	return key, group, field, true
}

func (s *Stage) patchMethodSetting(key, group, field string, op PatchOperation) error {
	if s.MethodSettings == nil {
		s.MethodSettings = make(map[string]*MethodSetting)
	}
	setting, ok := s.MethodSettings[key]
	if !ok {
		setting = &MethodSetting{}
		s.MethodSettings[key] = setting
	}
	explicit := key != WildcardMethodPath

	switch group + "/" + field {
	case "throttling/rateLimit":
		val, err := parsePatchFloat(op)
		if err != nil {
			return err
		}
		setting.ThrottlingRateLimit = val
		if explicit {
			setting.ExplicitThrottlingRateLimit = true
		}
	case "throttling/burstLimit":
		val, err := parsePatchInt(op)
		if err != nil {
			return err
		}
		setting.ThrottlingBurstLimit = val
		if explicit {
			setting.ExplicitThrottlingBurstLimit = true
		}
	case "caching/enabled":
		val, err := parsePatchBool(op)
		if err != nil {
			return err
		}
		setting.CachingEnabled = val
		if explicit {
			setting.ExplicitCachingEnabled = true
		}
	default:
		return patchErrorf("unknown path %q", op.Path)
	}
	return nil
}

func (s *Stage) removeWildcardSettings() error {
	if _, ok := s.MethodSettings[WildcardMethodPath]; !ok {
		return patchErrorf("no method settings exist for path /%s", WildcardMethodPath)
	}
	delete(s.MethodSettings, WildcardMethodPath)
	for key, setting := range s.MethodSettings {
		if !setting.ExplicitThrottlingRateLimit {
			setting.ThrottlingRateLimit = 0
		}
		if !setting.ExplicitThrottlingBurstLimit {
			setting.ThrottlingBurstLimit = 0
		}
		if !setting.ExplicitCachingEnabled {
			setting.CachingEnabled = false
		}
		if !setting.ExplicitThrottlingRateLimit &&
			!setting.ExplicitThrottlingBurstLimit &&
			!setting.ExplicitCachingEnabled {
			delete(s.MethodSettings, key)
		}
	}
	return nil
}

// EffectiveMethodSetting resolves the setting for one method path, filling
// fields that were not set explicitly from the wildcard defaults.
func (s *Stage) EffectiveMethodSetting(key string) *MethodSetting {
	wildcard := s.MethodSettings[WildcardMethodPath]
	explicit := s.MethodSettings[key]
	if explicit == nil {
		return wildcard
	}
	if wildcard == nil {
		return explicit
	}
	merged := *explicit
	if !merged.ExplicitThrottlingRateLimit {
		merged.ThrottlingRateLimit = wildcard.ThrottlingRateLimit
	}
	if !merged.ExplicitThrottlingBurstLimit {
		merged.ThrottlingBurstLimit = wildcard.ThrottlingBurstLimit
	}
	if !merged.ExplicitCachingEnabled {
		merged.CachingEnabled = wildcard.CachingEnabled
	}
	return &merged
}

//
// ---
//

func patchErrorf(format string, a ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidPatch, fmt.Sprintf(format, a...))
}

func parsePatchBool(op PatchOperation) (bool, error) {
	val, err := strconv.ParseBool(op.Value)
	if err != nil {
		return false, patchErrorf("path %q expects a boolean, got %q", op.Path, op.Value)
	}
	return val, nil
}

func parsePatchInt(op PatchOperation) (int, error) {
	val, err := strconv.Atoi(op.Value)
	if err != nil {
		return 0, patchErrorf("path %q expects an integer, got %q", op.Path, op.Value)
	}
	return val, nil
}

func parsePatchFloat(op PatchOperation) (float64, error) {
	val, err := strconv.ParseFloat(op.Value, 64)
	if err != nil {
		return 0, patchErrorf("path %q expects a number, got %q", op.Path, op.Value)
	}
	return val, nil
}
