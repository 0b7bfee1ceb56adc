// Package importer constructs a full API definition from an OpenAPI 3
// document: paths become the resource tree, operations become methods with
// their required parameters, and component schemas become models that body
// validation can reference.
package importer

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"

	"github.com/edgemock/edgemock/engine"
	"github.com/edgemock/edgemock/spec"
)

// Import loads an OpenAPI 3 document (JSON or YAML) and creates the
// corresponding API on the engine. The document is validated first; a
// document kin-openapi rejects imports nothing.
func Import(eng *engine.Engine, data []byte, name string) (*spec.API, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(data)
	if err != nil {
		return nil, fmt.Errorf("loading openapi document: %w", err)
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, fmt.Errorf("invalid openapi document: %w", err)
	}

	if name == "" && doc.Info != nil {
		name = doc.Info.Title
	}
	api := eng.CreateAPI(name)

	if err := importModels(eng, api, doc); err != nil {
		return nil, err
	}
	if err := importPaths(eng, api, doc); err != nil {
		return nil, err
	}
	return api, nil
}

// importModels converts every component schema into a model. References
// between schemas are rewritten to the model-URL convention the validator
// resolves.
func importModels(eng *engine.Engine, api *spec.API, doc *openapi3.T) error {
	if doc.Components == nil {
		return nil
	}
	names := make([]string, 0, len(doc.Components.Schemas))
	for name := range doc.Components.Schemas {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		schemaDoc, err := schemaDocument(api.ID, doc.Components.Schemas[name])
		if err != nil {
			return fmt.Errorf("converting schema %q: %w", name, err)
		}
		if err := eng.CreateModel(api.ID, &spec.Model{
			Name:        name,
			ContentType: "application/json",
			Schema:      schemaDoc,
		}); err != nil {
			return err
		}
	}
	return nil
}

// schemaDocument serializes a schema back to a plain document with
// component references rewritten to model URLs.
func schemaDocument(apiID string, ref *openapi3.SchemaRef) (map[string]interface{}, error) {
	raw, err := json.Marshal(ref)
	if err != nil {
		return nil, err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	rewriteComponentRefs(doc, apiID)
	return doc, nil
}

const componentSchemaPrefix = "#/components/schemas/"

func rewriteComponentRefs(v interface{}, apiID string) {
	switch v := v.(type) {
	case map[string]interface{}:
		for k, val := range v {
			if k == "$ref" {
				if ref, ok := val.(string); ok && strings.HasPrefix(ref, componentSchemaPrefix) {
					v[k] = modelRefURL(apiID, strings.TrimPrefix(ref, componentSchemaPrefix))
				}
				continue
			}
			rewriteComponentRefs(val, apiID)
		}
	case []interface{}:
		for _, val := range v {
			rewriteComponentRefs(val, apiID)
		}
	}
}

func modelRefURL(apiID, modelName string) string {
	return fmt.Sprintf("https://apigateway/restapis/%s/models/%s", apiID, modelName)
}

//
// ---
//

func importPaths(eng *engine.Engine, api *spec.API, doc *openapi3.T) error {
	if doc.Paths == nil {
		return nil
	}
	paths := make([]string, 0, doc.Paths.Len())
	for path := range doc.Paths.Map() {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		item := doc.Paths.Value(path)
		res, err := ensureResource(eng, api, path)
		if err != nil {
			return fmt.Errorf("creating resource for %q: %w", path, err)
		}
		for verb, op := range item.Operations() {
			method, err := buildMethod(eng, api, spec.HTTPVerb(verb), item, op)
			if err != nil {
				return fmt.Errorf("building %s %s: %w", verb, path, err)
			}
			if err := eng.PutMethod(api.ID, res.ID, method); err != nil {
				return err
			}
		}
	}
	return nil
}

// ensureResource creates any missing segments of an OpenAPI path, which
// shares the "{param}" segment syntax the resource tree uses.
func ensureResource(eng *engine.Engine, api *spec.API, path string) (*spec.Resource, error) {
	current := api.Resources[api.RootResourceID]
	for _, part := range strings.Split(strings.Trim(path, "/"), "/") {
		if part == "" {
			continue
		}
		var next *spec.Resource
		for _, childID := range current.ChildIDs {
			if child := api.Resources[childID]; child != nil && child.PathPart == part {
				next = child
				break
			}
		}
		if next == nil {
			created, err := eng.CreateResource(api.ID, current.ID, part)
			if err != nil {
				return nil, err
			}
			next = created
		}
		current = next
	}
	return current, nil
}

func buildMethod(eng *engine.Engine, api *spec.API, verb spec.HTTPVerb, item *openapi3.PathItem, op *openapi3.Operation) (*spec.Method, error) {
	method := &spec.Method{
		HTTPMethod:        verb,
		RequestParameters: make(map[string]bool),
		RequestModels:     make(map[string]string),
	}

	for _, paramRef := range append(append(openapi3.Parameters{}, item.Parameters...), op.Parameters...) {
		p := paramRef.Value
		if p == nil {
			continue
		}
		locator, ok := parameterLocator(p.In, p.Name)
		if !ok {
			continue // cookies have no gateway equivalent
		}
		// path parameters are always satisfied by a resolved route
		method.RequestParameters[locator] = p.Required && p.In != openapi3.ParameterInPath
	}

	if op.RequestBody != nil && op.RequestBody.Value != nil {
		if content, ok := op.RequestBody.Value.Content["application/json"]; ok && content.Schema != nil {
			modelName, err := requestModel(eng, api, op, content.Schema)
			if err != nil {
				return nil, err
			}
			if modelName != "" {
				method.RequestModels["application/json"] = modelName
			}
		}
	}
	return method, nil
}

func parameterLocator(in, name string) (string, bool) {
	switch in {
	case openapi3.ParameterInQuery:
		return "method.request.querystring." + name, true
	case openapi3.ParameterInHeader:
		return "method.request.header." + name, true
	case openapi3.ParameterInPath:
		return "method.request.path." + name, true
	}
	return "", false
}

// requestModel resolves the body schema to a model name: a component
// reference maps to the already-imported model, an inline schema becomes a
// model of its own named after the operation.
func requestModel(eng *engine.Engine, api *spec.API, op *openapi3.Operation, ref *openapi3.SchemaRef) (string, error) {
	if strings.HasPrefix(ref.Ref, componentSchemaPrefix) {
		return strings.TrimPrefix(ref.Ref, componentSchemaPrefix), nil
	}
	if ref.Value == nil {
		return "", nil
	}
	if op.OperationID == "" {
		return "", nil
	}

	name := op.OperationID + "Request"
	schemaDoc, err := schemaDocument(api.ID, ref)
	if err != nil {
		return "", err
	}
	if err := eng.CreateModel(api.ID, &spec.Model{
		Name:        name,
		ContentType: "application/json",
		Schema:      schemaDoc,
	}); err != nil {
		return "", err
	}
	return name, nil
}
