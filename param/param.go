// Package param parses the dotted parameter locators that the gateway data
// model uses to address pieces of a request. Method-level declarations look
// like "method.request.querystring.qs1"; integration-level mapping targets
// look like "integration.request.header.h" and are sourced from another
// locator, a context field, a stage variable, or a quoted literal.
package param

import (
	"fmt"
	"strings"
)

// Location identifies where in a request a parameter lives.
type Location string

const (
	LocationPath   Location = "path"
	LocationQuery  Location = "querystring"
	LocationHeader Location = "header"
)

// Locator addresses one request parameter.
type Locator struct {
	Location Location
	Name     string
}

// ParseMethodLocator parses a method-level locator of the form
// "method.request.<location>.<name>".
func ParseMethodLocator(s string) (Locator, error) {
	return parseLocator(s, "method")
}

// ParseIntegrationLocator parses an integration mapping target of the form
// "integration.request.<location>.<name>".
func ParseIntegrationLocator(s string) (Locator, error) {
	return parseLocator(s, "integration")
}

func parseLocator(s, scope string) (Locator, error) {
	parts := strings.SplitN(s, ".", 4)
	if len(parts) != 4 || parts[0] != scope || parts[1] != "request" {
		return Locator{}, fmt.Errorf("invalid %s parameter locator %q", scope, s)
	}

	location := Location(parts[2])
	switch location {
	case LocationPath, LocationQuery, LocationHeader:
	default:
		return Locator{}, fmt.Errorf("invalid parameter location %q in %q", parts[2], s)
	}

	if parts[3] == "" {
		return Locator{}, fmt.Errorf("empty parameter name in %q", s)
	}

	return Locator{Location: location, Name: parts[3]}, nil
}

//
// ---
//

// SourceKind discriminates the expressions allowed on the right-hand side of
// an integration request parameter mapping.
type SourceKind int

const (
	SourceMethodRequest SourceKind = iota
	SourceContext
	SourceStageVariable
	SourceLiteral
)

// Source is a parsed mapping source expression.
type Source struct {
	Kind SourceKind

	// Request is set for SourceMethodRequest.
	Request Locator

	// Name is the context field, stage variable name, or literal value for
	// the other kinds.
	Name string
}

// ParseSource parses a mapping source expression. Literals are single-quoted
// strings, e.g. "'static-value'".
func ParseSource(s string) (Source, error) {
	if len(s) >= 2 && strings.HasPrefix(s, "'") && strings.HasSuffix(s, "'") {
		return Source{Kind: SourceLiteral, Name: s[1 : len(s)-1]}, nil
	}

	if field, ok := strings.CutPrefix(s, "context."); ok {
		if field == "" {
			return Source{}, fmt.Errorf("empty context field in %q", s)
		}
		return Source{Kind: SourceContext, Name: field}, nil
	}

	if name, ok := strings.CutPrefix(s, "stageVariables."); ok {
		if name == "" {
			return Source{}, fmt.Errorf("empty stage variable name in %q", s)
		}
		return Source{Kind: SourceStageVariable, Name: name}, nil
	}

	locator, err := ParseMethodLocator(s)
	if err != nil {
		return Source{}, fmt.Errorf("invalid mapping source %q", s)
	}
	return Source{Kind: SourceMethodRequest, Request: locator}, nil
}
