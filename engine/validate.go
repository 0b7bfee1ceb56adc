package engine

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/edgemock/edgemock/param"
	"github.com/edgemock/edgemock/spec"
)

// validateRequest applies the method's request validator, if any: presence
// checks for required path/query/header parameters and model-based body
// validation. Both classes run so that problems aggregate, but a body
// problem always wins the reported message.
//
// The validator's flags are read from the live API, not the deployment
// snapshot, so toggling them takes effect without a redeploy.
func (s *apiState) validateRequest(method *spec.Method, match *routeMatch, req *Request) *RequestError {
	validator := s.api.Validators[method.RequestValidatorID]
	if validator == nil {
		// Includes the dangling-reference case after a validator delete:
		// validation is simply off.
		return nil
	}

	var missing []string
	if validator.ValidateRequestParameters {
		missing = missingParameters(method, match, req)
	}

	bodyInvalid := false
	if validator.ValidateRequestBody {
		bodyInvalid = !s.bodySatisfiesModel(method, req)
	}

	switch {
	case bodyInvalid:
		return errInvalidBody()
	case len(missing) > 0:
		return errMissingParameters(missing)
	}
	return nil
}

func missingParameters(method *spec.Method, match *routeMatch, req *Request) []string {
	var missing []string
	for locator, required := range method.RequestParameters {
		if !required {
			continue
		}
		loc, err := param.ParseMethodLocator(locator)
		if err != nil {
			// An undeclarable locator can never be satisfied.
			missing = append(missing, locator)
			continue
		}

		var present bool
		switch loc.Location {
		case param.LocationPath:
			present = match.pathParams[loc.Name] != ""
		case param.LocationQuery:
			present = req.Query[loc.Name] != ""
		case param.LocationHeader:
			present = req.header(loc.Name) != ""
		}
		if !present {
			missing = append(missing, loc.Name)
		}
	}
	sort.Strings(missing)
	return missing
}

// bodySatisfiesModel reports whether the request body passes the model
// declared for its content type. Methods without a matching request model
// accept anything.
func (s *apiState) bodySatisfiesModel(method *spec.Method, req *Request) bool {
	contentType := baseContentType(req.header("Content-Type"))
	modelName, ok := method.RequestModels[contentType]
	if !ok {
		return true
	}

	if len(req.Body) == 0 {
		// A zero-byte body only passes models that can be satisfied without
		// a payload. This covers GET requests with a required-property
		// model: still a validation failure.
		return !spec.RequiresNonEmptyBody(s.api.Models, modelName)
	}

	var decoded interface{}
	if err := json.Unmarshal(req.Body, &decoded); err != nil {
		return false
	}

	validator, err := s.compiledModel(modelName)
	if err != nil {
		return false
	}
	return validator.Validate(decoded) == nil
}

// baseContentType truncates content type parameters:
// "application/json; charset=utf-8" becomes "application/json". An absent
// content type defaults to JSON, which is what the provider assumes.
func baseContentType(contentType string) string {
	contentType = strings.TrimSpace(strings.Split(contentType, ";")[0])
	if contentType == "" {
		return "application/json"
	}
	return contentType
}
