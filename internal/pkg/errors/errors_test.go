package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAppErrorWrapping(t *testing.T) {
	inner := fmt.Errorf("connection refused")
	err := EmbeddingUnavailableError(inner)

	if err.Unwrap() != inner {
		t.Error("Unwrap should return the inner error")
	}
	if !HasCode(err, CodeEmbeddingUnavailable) {
		t.Error("HasCode should match the error's code")
	}
	if HasCode(err, CodeEmbeddingUnauthorized) {
		t.Error("HasCode must not match other codes")
	}
}

func TestHasCodeThroughWrapping(t *testing.T) {
	err := fmt.Errorf("outer: %w", NotFoundError("dataset"))
	if !IsNotFound(err) {
		t.Error("code detection should see through fmt.Errorf wrapping")
	}
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  *AppError
		want int
	}{
		{ValidationError("bad"), http.StatusBadRequest},
		{NotFoundError("x"), http.StatusNotFound},
		{CollectionMissingError("p", "d"), http.StatusNotFound},
		{EmbeddingUnauthorizedError("dense"), http.StatusUnauthorized},
		{EmbeddingUnavailableError(nil), http.StatusServiceUnavailable},
		{StoreConflictError("dup", nil), http.StatusConflict},
		{TimeoutError("status"), http.StatusGatewayTimeout},
		{InternalError("boom", nil), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := tt.err.HTTPStatus(); got != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.err.Code, got, tt.want)
		}
	}
}

func TestWriteErrorSanitizesUnknown(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, fmt.Errorf("secret internal detail"))

	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	if resp.Code != CodeInternal {
		t.Errorf("code = %s, want internal", resp.Code)
	}
	if resp.Error == "secret internal detail" {
		t.Error("internal details must not leak to clients")
	}
}

func TestWriteErrorAppError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, CollectionMissingError("acme", "docs"))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	var resp ErrorResponse
	json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Details["dataset"] != "docs" {
		t.Errorf("details = %v", resp.Details)
	}
}
