package engine

import (
	"strings"

	"github.com/edgemock/edgemock/spec"
)

// routeMatch is the outcome of resolving an inbound method+path against a
// deployment's resource tree.
type routeMatch struct {
	resource *spec.Resource
	method   *spec.Method

	// pathParams holds values captured by {param} and {proxy+} segments.
	// A greedy capture keeps its internal slashes.
	pathParams map[string]string
}

// resolveRoute walks the resource tree for the best (resource, method) pair.
//
// At every level a literal segment beats a single-segment parameter, which
// beats a greedy proxy, regardless of creation order. The walk backtracks: a
// branch that matches the path but lacks the verb (or ANY) yields to a
// lower-precedence sibling that can serve it. Only when no branch produces a
// method does the result distinguish "path matched somewhere" (method not
// allowed) from "no path matched" (route not found).
func resolveRoute(resources map[string]*spec.Resource, rootID string, verb spec.HTTPVerb, path string) (*routeMatch, *RequestError) {
	root, ok := resources[rootID]
	if !ok {
		return nil, errRouteNotFound()
	}

	segments := splitPath(path)
	params := make(map[string]string)

	match, pathMatched := matchResource(resources, root, verb, segments, params)
	if match != nil {
		return match, nil
	}
	if pathMatched {
		return nil, errMethodNotAllowed()
	}
	return nil, errRouteNotFound()
}

func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func matchResource(resources map[string]*spec.Resource, res *spec.Resource, verb spec.HTTPVerb, segments []string, params map[string]string) (*routeMatch, bool) {
	if len(segments) == 0 {
		method := lookupMethod(res, verb)
		if method == nil {
			return nil, true
		}
		return &routeMatch{
			resource:   res,
			method:     method,
			pathParams: copyParams(params),
		}, true
	}

	var literal, parameter, proxy *spec.Resource
	for _, childID := range res.ChildIDs {
		child, ok := resources[childID]
		if !ok {
			continue
		}
		switch {
		case isGreedyPart(child.PathPart):
			proxy = child
		case isParamPart(child.PathPart):
			parameter = child
		case child.PathPart == segments[0]:
			literal = child
		}
	}

	pathMatched := false

	if literal != nil {
		match, matched := matchResource(resources, literal, verb, segments[1:], params)
		if match != nil {
			return match, true
		}
		pathMatched = pathMatched || matched
	}

	if parameter != nil {
		name := paramName(parameter.PathPart)
		params[name] = segments[0]
		match, matched := matchResource(resources, parameter, verb, segments[1:], params)
		if match != nil {
			return match, true
		}
		delete(params, name)
		pathMatched = pathMatched || matched
	}

	if proxy != nil {
		// Greedy segments consume every remaining segment, slashes included.
		name := paramName(proxy.PathPart)
		params[name] = strings.Join(segments, "/")
		method := lookupMethod(proxy, verb)
		if method != nil {
			match := &routeMatch{
				resource:   proxy,
				method:     method,
				pathParams: copyParams(params),
			}
			delete(params, name)
			return match, true
		}
		delete(params, name)
		pathMatched = true
	}

	return nil, pathMatched
}

func lookupMethod(res *spec.Resource, verb spec.HTTPVerb) *spec.Method {
	if method, ok := res.Methods[verb]; ok {
		return method
	}
	if method, ok := res.Methods[spec.VerbAny]; ok {
		return method
	}
	return nil
}

func copyParams(params map[string]string) map[string]string {
	out := make(map[string]string, len(params))
	for k, v := range params {
		out[k] = v
	}
	return out
}

//
// ---
//

func isParamPart(part string) bool {
	return len(part) > 2 && part[0] == '{' && part[len(part)-1] == '}' && !isGreedyPart(part)
}

func isGreedyPart(part string) bool {
	return len(part) > 3 && part[0] == '{' && strings.HasSuffix(part, "+}")
}

// paramName strips the braces and greedy marker from a parameter path part.
func paramName(part string) string {
	name := strings.TrimPrefix(part, "{")
	name = strings.TrimSuffix(name, "}")
	return strings.TrimSuffix(name, "+")
}
