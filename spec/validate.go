package spec

import (
	"fmt"
	"strings"

	schema "github.com/lestrrat-go/jsschema"
	"github.com/lestrrat-go/jsval"
	"github.com/lestrrat-go/jsval/builder"
)

// ModelValidator validates payloads against a compiled model. The root-level
// required keys are checked separately because jsval only enforces "required"
// for names that also appear under "properties".
type ModelValidator struct {
	validator *jsval.JSVal
	required  []string
}

// Validate checks a decoded JSON payload against the model.
func (v *ModelValidator) Validate(doc interface{}) error {
	if obj, ok := doc.(map[string]interface{}); ok {
		for _, name := range v.required {
			if _, present := obj[name]; !present {
				return fmt.Errorf("missing required property %q", name)
			}
		}
	}
	return v.validator.Validate(doc)
}

// CompileModel compiles the named model from a model set into a validator.
//
// Models may reference each other with $ref URLs whose final path segment
// after "/models/" is the target model's name. Before compilation every such
// ref is rewritten to a "#/definitions/<name>" pointer and each transitively
// referenced model is attached under "definitions", producing one
// self-contained document. Cyclic reference graphs are fine as long as they
// terminate through a oneOf branch or array indirection; the rewrite itself
// only visits each model once.
func CompileModel(models map[string]*Model, name string) (*ModelValidator, error) {
	model, ok := models[name]
	if !ok {
		return nil, fmt.Errorf("model %q not found", name)
	}

	doc := rewriteRefs(model.Schema).(map[string]interface{})

	definitions := make(map[string]interface{})
	collectDefinitions(models, model.Schema, definitions)
	if len(definitions) > 0 {
		doc["definitions"] = definitions
	}

	jsonSchema := schema.New()
	if err := jsonSchema.Extract(doc); err != nil {
		return nil, fmt.Errorf("extracting schema for model %q: %w", name, err)
	}

	validatorBuilder := builder.New()
	validator, err := validatorBuilder.BuildWithCtx(jsonSchema, doc)
	if err != nil {
		return nil, fmt.Errorf("building validator for model %q: %w", name, err)
	}

	var required []string
	if names, ok := model.Schema["required"].([]interface{}); ok {
		for _, n := range names {
			if s, ok := n.(string); ok {
				required = append(required, s)
			}
		}
	}

	return &ModelValidator{validator: validator, required: required}, nil
}

// RequiresNonEmptyBody reports whether the named model can only be satisfied
// by an actual payload. A request with a zero-byte body fails validation
// against such a model even for verbs that usually carry no body.
func RequiresNonEmptyBody(models map[string]*Model, name string) bool {
	model, ok := models[name]
	if !ok {
		return false
	}
	return schemaNeedsBody(model.Schema)
}

func schemaNeedsBody(doc map[string]interface{}) bool {
	if required, ok := doc["required"].([]interface{}); ok && len(required) > 0 {
		return true
	}
	if t, ok := doc["type"].(string); ok && (t == "array" || t == "object") {
		// An empty body is not a JSON document at all, so any typed root
		// can only be satisfied by a payload.
		return true
	}
	return false
}

//
// ---
//

// RefModelName extracts the model name out of a $ref URL following the
// provider convention, e.g.
// "https://example.com/restapis/abc123/models/testSchema" -> "testSchema".
// Pointer-style refs ("#/...") and URLs without a models segment return "".
func RefModelName(ref string) string {
	if strings.HasPrefix(ref, "#") {
		return ""
	}
	idx := strings.LastIndex(ref, "/models/")
	if idx == -1 {
		return ""
	}
	name := ref[idx+len("/models/"):]
	if name == "" || strings.Contains(name, "/") {
		return ""
	}
	return name
}

// rewriteRefs returns a deep copy of v with every model-URL $ref replaced by
// a local definitions pointer.
func rewriteRefs(v interface{}) interface{} {
	switch v := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for k, val := range v {
			if k == "$ref" {
				if ref, ok := val.(string); ok {
					if name := RefModelName(ref); name != "" {
						out[k] = "#/definitions/" + name
						continue
					}
				}
			}
			out[k] = rewriteRefs(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, val := range v {
			out[i] = rewriteRefs(val)
		}
		return out
	default:
		return v
	}
}

func collectDefinitions(models map[string]*Model, doc map[string]interface{}, definitions map[string]interface{}) {
	walkRefs(doc, func(name string) {
		if _, seen := definitions[name]; seen {
			return
		}
		referenced, ok := models[name]
		if !ok {
			return
		}
		definitions[name] = rewriteRefs(referenced.Schema)
		collectDefinitions(models, referenced.Schema, definitions)
	})
}

func walkRefs(v interface{}, visit func(name string)) {
	switch v := v.(type) {
	case map[string]interface{}:
		for k, val := range v {
			if k == "$ref" {
				if ref, ok := val.(string); ok {
					if name := RefModelName(ref); name != "" {
						visit(name)
					}
				}
				continue
			}
			walkRefs(val, visit)
		}
	case []interface{}:
		for _, val := range v {
			walkRefs(val, visit)
		}
	}
}
