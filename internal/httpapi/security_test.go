package httpapi

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestCSRFSecretIsPerInstance(t *testing.T) {
	first := newTestAPI(t)
	second := newTestAPI(t)

	if first.generateCSRFToken() == second.generateCSRFToken() {
		t.Fatalf("expected distinct CSRF tokens across instances; a shared secret would make tokens forgeable")
	}
}

func TestCSRFTokenValidatesOnlyAgainstOwnSecret(t *testing.T) {
	first := newTestAPI(t)
	second := newTestAPI(t)

	token := first.generateCSRFToken()
	if !first.validateCSRFToken(token) {
		t.Fatalf("expected token to validate against the issuing instance")
	}
	if second.validateCSRFToken(token) {
		t.Fatalf("expected token from another instance to be rejected")
	}
}

func TestOversizedMutatingBodyIsRejectedRegardlessOfContentType(t *testing.T) {
	api := newTestAPI(t)
	handler := api.Handler()

	// Valid JSON, just over the 1 MiB cap, deliberately sent without an
	// application/json Content-Type. Without the cap this request would
	// decode fine and fail with 401 invalid credentials instead.
	payload := fmt.Sprintf(`{"username":%q,"password":"x"}`, strings.Repeat("a", 1<<20+100))
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader(payload))
	req.Header.Set("Content-Type", "text/plain")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized body, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}
