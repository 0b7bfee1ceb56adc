package main

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	assert "github.com/stretchr/testify/require"

	"github.com/edgemock/edgemock/engine"
	"github.com/edgemock/edgemock/spec"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// deployPingAPI builds an engine with one API exposing GET /ping on stage
// "test" behind a MOCK integration.
func deployPingAPI(t *testing.T) (*engine.Engine, string) {
	t.Helper()
	eng := engine.New(engine.WithLogger(discardLogger()))
	api := eng.CreateAPI("ping")

	res, err := eng.CreateResource(api.ID, api.RootResourceID, "ping")
	assert.NoError(t, err)
	assert.NoError(t, eng.PutMethod(api.ID, res.ID, &spec.Method{HTTPMethod: "GET"}))
	assert.NoError(t, eng.PutIntegration(api.ID, res.ID, "GET", &spec.Integration{
		Type:             spec.IntegrationMock,
		RequestTemplates: map[string]string{"application/json": `{"statusCode": 200}`},
	}))
	assert.NoError(t, eng.PutIntegrationResponse(api.ID, res.ID, "GET", &spec.IntegrationResponse{
		StatusCode:        "200",
		ResponseTemplates: map[string]string{"application/json": `{"message": "pong"}`},
	}))
	_, err = eng.CreateDeployment(api.ID, "test", "")
	assert.NoError(t, err)
	return eng, api.ID
}

func TestInvocationServerRoundTrip(t *testing.T) {
	eng, apiID := deployPingAPI(t)
	server := httptest.NewServer(NewInvocationServer(eng, discardLogger()))
	defer server.Close()

	resp, err := http.Get(server.URL + "/restapis/" + apiID + "/test/ping")
	assert.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 200, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	assert.NoError(t, err)
	assert.JSONEq(t, `{"message": "pong"}`, string(body))
}

func TestInvocationServerUnknownAPI(t *testing.T) {
	eng, _ := deployPingAPI(t)
	server := httptest.NewServer(NewInvocationServer(eng, discardLogger()))
	defer server.Close()

	resp, err := http.Get(server.URL + "/restapis/doesnotexist/test/ping")
	assert.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 404, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	assert.NoError(t, err)
	assert.Contains(t, string(body), "The API id 'doesnotexist' does not correspond to a deployed API Gateway API")
}

func TestInvocationServerErrorTypeHeader(t *testing.T) {
	eng, apiID := deployPingAPI(t)
	server := httptest.NewServer(NewInvocationServer(eng, discardLogger()))
	defer server.Close()

	req, err := http.NewRequest("DELETE", server.URL+"/restapis/"+apiID+"/test/ping", nil)
	assert.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	assert.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, 404, resp.StatusCode)
	assert.Equal(t, "MissingAuthenticationTokenException", resp.Header.Get("x-amzn-ErrorType"))
}

func TestSplitInvocationPath(t *testing.T) {
	tests := []struct {
		urlPath string
		apiID   string
		stage   string
		path    string
		ok      bool
	}{
		{"/restapis/abc/test/pets/dog", "abc", "test", "/pets/dog", true},
		{"/restapis/abc/test/", "abc", "test", "/", true},
		{"/restapis/abc/test", "abc", "test", "/", true},
		{"/restapis/abc", "", "", "", false},
		{"/other/abc/test", "", "", "", false},
		{"/restapis//test/pets", "", "", "", false},
	}
	for _, tt := range tests {
		apiID, stage, path, ok := splitInvocationPath(tt.urlPath)
		assert.Equal(t, tt.ok, ok, tt.urlPath)
		if tt.ok {
			assert.Equal(t, tt.apiID, apiID, tt.urlPath)
			assert.Equal(t, tt.stage, stage, tt.urlPath)
			assert.Equal(t, tt.path, path, tt.urlPath)
		}
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := strings.TrimSpace(`
listen: ":9999"
logLevel: debug
apis:
  - name: petstore
    openapi: petstore.json
    stage: prod
`)
	assert.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := loadConfig(path)
	assert.NoError(t, err)
	assert.Equal(t, ":9999", cfg.Listen)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Len(t, cfg.APIs, 1)
	assert.Equal(t, "prod", cfg.APIs[0].Stage)

	// no file means defaults
	cfg, err = loadConfig("")
	assert.NoError(t, err)
	assert.Equal(t, defaultListen, cfg.Listen)
	assert.Equal(t, "info", cfg.LogLevel)
}
