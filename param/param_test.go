package param

import (
	"testing"

	assert "github.com/stretchr/testify/require"
)

//
// Tests
//

func TestParseMethodLocator(t *testing.T) {
	locator, err := ParseMethodLocator("method.request.querystring.qs1")
	assert.NoError(t, err)
	assert.Equal(t, Locator{Location: LocationQuery, Name: "qs1"}, locator)

	locator, err = ParseMethodLocator("method.request.path.test")
	assert.NoError(t, err)
	assert.Equal(t, Locator{Location: LocationPath, Name: "test"}, locator)

	locator, err = ParseMethodLocator("method.request.header.x-header-param")
	assert.NoError(t, err)
	assert.Equal(t, Locator{Location: LocationHeader, Name: "x-header-param"}, locator)

	// names may themselves contain dots
	locator, err = ParseMethodLocator("method.request.header.x.y.z")
	assert.NoError(t, err)
	assert.Equal(t, Locator{Location: LocationHeader, Name: "x.y.z"}, locator)

	_, err = ParseMethodLocator("integration.request.header.h")
	assert.Error(t, err)

	_, err = ParseMethodLocator("method.request.body")
	assert.Error(t, err)

	_, err = ParseMethodLocator("method.request.cookie.session")
	assert.Error(t, err)

	_, err = ParseMethodLocator("method.request.header.")
	assert.Error(t, err)
}

func TestParseIntegrationLocator(t *testing.T) {
	locator, err := ParseIntegrationLocator("integration.request.header.testHeader")
	assert.NoError(t, err)
	assert.Equal(t, Locator{Location: LocationHeader, Name: "testHeader"}, locator)

	_, err = ParseIntegrationLocator("method.request.header.testHeader")
	assert.Error(t, err)
}

func TestParseSource(t *testing.T) {
	source, err := ParseSource("method.request.header.customHeader")
	assert.NoError(t, err)
	assert.Equal(t, SourceMethodRequest, source.Kind)
	assert.Equal(t, Locator{Location: LocationHeader, Name: "customHeader"}, source.Request)

	source, err = ParseSource("context.resourceId")
	assert.NoError(t, err)
	assert.Equal(t, SourceContext, source.Kind)
	assert.Equal(t, "resourceId", source.Name)

	source, err = ParseSource("stageVariables.backendUrl")
	assert.NoError(t, err)
	assert.Equal(t, SourceStageVariable, source.Kind)
	assert.Equal(t, "backendUrl", source.Name)

	source, err = ParseSource("'some literal'")
	assert.NoError(t, err)
	assert.Equal(t, SourceLiteral, source.Kind)
	assert.Equal(t, "some literal", source.Name)

	_, err = ParseSource("context.")
	assert.Error(t, err)

	_, err = ParseSource("bogus")
	assert.Error(t, err)
}
