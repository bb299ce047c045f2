package errors

import (
	"encoding/json"
	stdErrors "errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPErrorAdapter_StatusCodeFor(t *testing.T) {
	adapter := NewHTTPErrorAdapter(slog.Default())

	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{name: "nil error", err: nil, expected: http.StatusOK},
		{name: "validation", err: ValidationError("bad").Build(), expected: http.StatusBadRequest},
		{name: "not found", err: NotFoundError("unknown device").Build(), expected: http.StatusNotFound},
		{name: "not connected", err: ErrNotConnected, expected: http.StatusConflict},
		{name: "network", err: NetworkError("down").Build(), expected: http.StatusBadGateway},
		{name: "operation", err: OperationFailed("rejected").Build(), expected: http.StatusUnprocessableEntity},
		{name: "journal", err: JournalError("locked").Build(), expected: http.StatusServiceUnavailable},
		{name: "wrapped classified", err: WrapError(stdErrors.New("x"), CategoryAuth, "denied").Build(), expected: http.StatusUnauthorized},
		{name: "unclassified", err: stdErrors.New("boom"), expected: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, adapter.StatusCodeFor(tt.err))
		})
	}
}

func TestHTTPErrorAdapter_WriteErrorResponse(t *testing.T) {
	adapter := NewHTTPErrorAdapter(nil)
	r := httptest.NewRequest(http.MethodGet, "/api/devices/ghost", nil)
	w := httptest.NewRecorder()

	adapter.WriteErrorResponse(w, r, NotFoundError("unknown device").WithContext("device", "ghost").Build())

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	var resp HTTPErrorResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "unknown device", resp.Error)
	assert.Equal(t, "not_found", resp.Code)
	assert.Equal(t, "ghost", resp.Details["device"])
	assert.False(t, resp.Retryable)
}

func TestHTTPErrorAdapter_NilError(t *testing.T) {
	w := httptest.NewRecorder()
	NewHTTPErrorAdapter(nil).WriteErrorResponse(w, httptest.NewRequest(http.MethodGet, "/", nil), nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHTTPErrorAdapter_FormatErrorResponse(t *testing.T) {
	adapter := NewHTTPErrorAdapter(nil)

	resp := adapter.FormatErrorResponse(NetworkError("down").Retryable().Build())
	assert.Equal(t, "down", resp.Error)
	assert.True(t, resp.Retryable)

	plain := adapter.FormatErrorResponse(stdErrors.New("plain"))
	assert.Equal(t, "plain", plain.Error)
	assert.Empty(t, plain.Code)
}
