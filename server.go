package main

import (
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/edgemock/edgemock/engine"
)

const maxRequestBody = 10 << 20

// InvocationServer is the HTTP front for invocation traffic. It peels the
// /restapis/{apiId}/{stageName} prefix off the request path and hands the
// rest to the engine.
type InvocationServer struct {
	engine *engine.Engine
	logger *slog.Logger
}

func NewInvocationServer(eng *engine.Engine, logger *slog.Logger) *InvocationServer {
	return &InvocationServer{engine: eng, logger: logger}
}

func (s *InvocationServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	apiID, stage, path, ok := splitInvocationPath(r.URL.Path)
	if !ok {
		writeJSONError(w, 404, "NotFoundException", "Not Found")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		s.logger.Error("reading request body", "error", err)
		writeJSONError(w, 500, "InternalServerErrorException", "Internal server error")
		return
	}

	headers := make(map[string]string, len(r.Header))
	for name := range r.Header {
		headers[name] = r.Header.Get(name)
	}
	query := make(map[string]string)
	for name, values := range r.URL.Query() {
		if len(values) > 0 {
			query[name] = values[0]
		}
	}

	resp := s.engine.ResolveAndInvoke(r.Context(), apiID, stage, &engine.Request{
		Method:  r.Method,
		Path:    path,
		Headers: headers,
		Query:   query,
		Body:    body,
	})

	for name, value := range resp.Headers {
		w.Header().Set(name, value)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}

// splitInvocationPath breaks "/restapis/{apiId}/{stageName}/{path...}" into
// its parts. The invocation path may be empty, which addresses the root
// resource.
func splitInvocationPath(urlPath string) (apiID, stage, path string, ok bool) {
	rest, found := strings.CutPrefix(urlPath, "/restapis/")
	if !found {
		return "", "", "", false
	}
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", false
	}
	path = "/"
	if len(parts) == 3 {
		path += parts[2]
	}
	return parts[0], parts[1], path, true
}

func writeJSONError(w http.ResponseWriter, status int, errorType, message string) {
	w.Header().Set("Content-Type", "application/json")
	if errorType != "" {
		w.Header().Set("x-amzn-ErrorType", errorType)
	}
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"message":"` + message + `"}`))
}
