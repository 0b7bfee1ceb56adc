package engine

import (
	"regexp"
	"strings"
	"sync"

	"github.com/edgemock/edgemock/param"
	"github.com/edgemock/edgemock/spec"
)

// applyRequestParameters evaluates the integration's request parameter
// mappings and returns the headers, query parameters and URI for the
// backend call. Mappings whose source cannot be resolved are dropped
// rather than failing the request.
func applyRequestParameters(integration *spec.Integration, match *routeMatch, req *Request, fields, stageVars map[string]string) (headers, query map[string]string, uri string) {
	headers = make(map[string]string)
	query = make(map[string]string)

	if ct := req.header("Content-Type"); ct != "" {
		headers["Content-Type"] = ct
	}

	pathValues := copyParams(match.pathParams)

	for target, source := range integration.RequestParameters {
		locator, err := param.ParseIntegrationLocator(target)
		if err != nil {
			continue
		}
		value, ok := resolveSource(source, match, req, fields, stageVars)
		if !ok {
			continue
		}
		switch locator.Location {
		case param.LocationHeader:
			headers[locator.Name] = value
		case param.LocationQuery:
			query[locator.Name] = value
		case param.LocationPath:
			pathValues[locator.Name] = value
		}
	}

	uri = expandURI(integration.URI, pathValues)
	return headers, query, uri
}

func resolveSource(expr string, match *routeMatch, req *Request, fields, stageVars map[string]string) (string, bool) {
	source, err := param.ParseSource(expr)
	if err != nil {
		return "", false
	}
	switch source.Kind {
	case param.SourceLiteral:
		return source.Name, true
	case param.SourceContext:
		value, ok := fields[source.Name]
		return value, ok
	case param.SourceStageVariable:
		value, ok := stageVars[source.Name]
		return value, ok
	case param.SourceMethodRequest:
		switch source.Request.Location {
		case param.LocationPath:
			value, ok := match.pathParams[source.Request.Name]
			return value, ok
		case param.LocationQuery:
			value, ok := req.Query[source.Request.Name]
			return value, ok
		case param.LocationHeader:
			value := req.header(source.Request.Name)
			return value, value != ""
		}
	}
	return "", false
}

// expandURI substitutes {name} placeholders in the integration URI with
// path parameter values. Unmatched placeholders stay as-is.
func expandURI(uri string, pathValues map[string]string) string {
	if !strings.Contains(uri, "{") {
		return uri
	}
	expanded := uri
	for name, value := range pathValues {
		expanded = strings.ReplaceAll(expanded, "{"+name+"}", value)
	}
	return expanded
}

//
// ---
//

var (
	selectionMu    sync.Mutex
	selectionCache = make(map[string]*regexp.Regexp)
)

// matchesSelectionPattern reports whether a selection pattern regex matches
// the backend status text. Invalid patterns never match. Compiled patterns
// are cached; the set of distinct patterns is bounded by configuration.
func matchesSelectionPattern(pattern, statusText string) bool {
	selectionMu.Lock()
	re, ok := selectionCache[pattern]
	if !ok {
		var err error
		re, err = regexp.Compile(pattern)
		if err != nil {
			re = nil
		}
		selectionCache[pattern] = re
	}
	selectionMu.Unlock()

	if re == nil {
		return false
	}
	return re.MatchString(statusText)
}
