package spec

// CopyResources deep-copies a resource table. Deployment snapshots use this
// so that later mutations of the live tree never show through an existing
// deployment.
func CopyResources(resources map[string]*Resource) map[string]*Resource {
	out := make(map[string]*Resource, len(resources))
	for id, r := range resources {
		out[id] = copyResource(r)
	}
	return out
}

func copyResource(r *Resource) *Resource {
	c := &Resource{
		ID:       r.ID,
		ParentID: r.ParentID,
		PathPart: r.PathPart,
		Path:     r.Path,
		ChildIDs: append([]string(nil), r.ChildIDs...),
	}
	if r.Methods != nil {
		c.Methods = make(map[HTTPVerb]*Method, len(r.Methods))
		for verb, m := range r.Methods {
			c.Methods[verb] = copyMethod(m)
		}
	}
	return c
}

func copyMethod(m *Method) *Method {
	c := &Method{
		HTTPMethod:         m.HTTPMethod,
		AuthorizationType:  m.AuthorizationType,
		APIKeyRequired:     m.APIKeyRequired,
		RequestParameters:  copyBoolMap(m.RequestParameters),
		RequestModels:      copyStringMap(m.RequestModels),
		RequestValidatorID: m.RequestValidatorID,
	}
	if m.MethodResponses != nil {
		c.MethodResponses = make(map[StatusCode]*MethodResponse, len(m.MethodResponses))
		for code, mr := range m.MethodResponses {
			c.MethodResponses[code] = &MethodResponse{
				StatusCode:     mr.StatusCode,
				ResponseModels: copyStringMap(mr.ResponseModels),
			}
		}
	}
	if m.Integration != nil {
		c.Integration = copyIntegration(m.Integration)
	}
	return c
}

func copyIntegration(i *Integration) *Integration {
	c := &Integration{
		Type:                  i.Type,
		URI:                   i.URI,
		IntegrationHTTPMethod: i.IntegrationHTTPMethod,
		RequestTemplates:      copyStringMap(i.RequestTemplates),
		RequestParameters:     copyStringMap(i.RequestParameters),
	}
	if i.IntegrationResponses != nil {
		c.IntegrationResponses = make(map[StatusCode]*IntegrationResponse, len(i.IntegrationResponses))
		for code, ir := range i.IntegrationResponses {
			c.IntegrationResponses[code] = &IntegrationResponse{
				StatusCode:        ir.StatusCode,
				SelectionPattern:  ir.SelectionPattern,
				ResponseTemplates: copyStringMap(ir.ResponseTemplates),
			}
		}
	}
	return c
}

func copyStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyBoolMap(in map[string]bool) map[string]bool {
	if in == nil {
		return nil
	}
	out := make(map[string]bool, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
