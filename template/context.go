package template

import (
	"strconv"
	"strings"
)

// Context carries everything a template can observe about the request (or,
// for response templates, the backend response payload).
type Context struct {
	// Body is the raw payload text. $input.body exposes it unparsed;
	// $input.path parses it on demand.
	Body []byte

	PathParams  map[string]string
	QueryParams map[string]string
	Headers     map[string]string

	// Fields backs $context.<field> (apiId, resourceId, resourcePath,
	// httpMethod, stage, requestId, ...).
	Fields map[string]string

	// StageVariables backs $stageVariables.<name>.
	StageVariables map[string]string

	parsed       Value
	parseFailed  bool
	parseDone    bool
}

// bodyValue parses the body once. Non-JSON payloads (including the empty
// body) extract as null rather than failing the render.
func (c *Context) bodyValue() Value {
	if !c.parseDone {
		c.parseDone = true
		val, err := ParseJSON(c.Body)
		if err != nil {
			c.parseFailed = true
		} else {
			c.parsed = val
		}
	}
	if c.parseFailed {
		return Null
	}
	return c.parsed
}

// Path implements $input.path(expr): structured extraction with object and
// list traversal. A path that does not exist yields null, which stays
// distinguishable from an empty string.
func (c *Context) Path(expr string) Value {
	root := c.bodyValue()
	expr = strings.TrimSpace(expr)
	if expr == "" || expr[0] != '$' {
		return Null
	}

	current := root
	rest := expr[1:]
	for rest != "" {
		switch rest[0] {
		case '.':
			rest = rest[1:]
			end := 0
			for end < len(rest) && rest[end] != '.' && rest[end] != '[' {
				end++
			}
			name := rest[:end]
			if name == "" {
				return Null
			}
			rest = rest[end:]
			next, ok := current.Field(name)
			if !ok {
				return Null
			}
			current = next
		case '[':
			close := strings.IndexByte(rest, ']')
			if close == -1 {
				return Null
			}
			idx, err := strconv.Atoi(strings.TrimSpace(rest[1:close]))
			if err != nil {
				return Null
			}
			rest = rest[close+1:]
			next, ok := current.Index(idx)
			if !ok {
				return Null
			}
			current = next
		default:
			return Null
		}
	}
	return current
}

// Param implements $input.params(name): path first, then query string, then
// headers. Header lookup is case-insensitive.
func (c *Context) Param(name string) Value {
	if v, ok := c.PathParams[name]; ok {
		return String(v)
	}
	if v, ok := c.QueryParams[name]; ok {
		return String(v)
	}
	for k, v := range c.Headers {
		if strings.EqualFold(k, name) {
			return String(v)
		}
	}
	return Null
}

// AllParams implements $input.params() without arguments: a map of the three
// parameter maps.
func (c *Context) AllParams() Value {
	return Map(
		[]string{"path", "querystring", "header"},
		map[string]Value{
			"path":        stringMapValue(c.PathParams),
			"querystring": stringMapValue(c.QueryParams),
			"header":      stringMapValue(c.Headers),
		},
	)
}

func stringMapValue(m map[string]string) Value {
	raw := make(map[string]interface{}, len(m))
	for k, v := range m {
		raw[k] = v
	}
	return FromGo(raw)
}
