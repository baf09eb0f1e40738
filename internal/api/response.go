// Package api provides HTTP response utilities for the dashboard surface.
package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
)

// apiResponse is the envelope for every JSON reply.
type apiResponse struct {
	Status string `json:"status"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

func success(result any) apiResponse {
	return apiResponse{Status: "ok", Result: result}
}

func failure(msg string) apiResponse {
	return apiResponse{Status: "error", Error: msg}
}

// Pre-marshaled fallback so encoding failures never leave the client hanging.
var fallbackErrorResponse []byte

func init() {
	var err error
	fallbackErrorResponse, err = json.Marshal(failure("internal server error"))
	if err != nil {
		panic(fmt.Sprintf("failed to marshal fallback error response at startup: %v", err))
	}
}

// writeJSONResponse writes a JSON response with the given status code. The
// payload is marshaled before headers are written so encoding errors can
// still downgrade to the fallback.
func writeJSONResponse(w http.ResponseWriter, statusCode int, response apiResponse) {
	jsonData, err := json.Marshal(response)
	if err != nil {
		slog.Error("Server.writeJSONResponse: failed to marshal JSON response", "error", err)
		jsonData = fallbackErrorResponse
		statusCode = http.StatusInternalServerError
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, writeErr := w.Write(jsonData); writeErr != nil {
		slog.Error("Server.writeJSONResponse: failed to write JSON response", "error", writeErr)
	}
}
