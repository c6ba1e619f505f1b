package core

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"storefront/internal/types"
)

// actorEcho writes the resolved actor ID, or "anonymous".
var actorEcho = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	actor, ok := types.GetActor(r.Context())
	if !ok {
		_, _ = w.Write([]byte("anonymous"))
		return
	}
	_, _ = w.Write([]byte(actor.ID))
})

func decodeErrorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp APIErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to decode error body %q: %v", rec.Body.String(), err)
	}
	return resp.Error.Code
}

// --- AuthMiddleware ---

func TestAuthMiddleware_ValidToken(t *testing.T) {
	srv := newTestServer(t, nil)
	auth := &MockAuthenticator{Actor: &types.Actor{ID: "usr_1", Role: types.RoleCustomer}}
	srv.Authenticator = auth

	req := httptest.NewRequest(http.MethodGet, "/v1/orders/mine", nil)
	req.Header.Set("Authorization", "bearer tok_abc")
	rec := httptest.NewRecorder()
	srv.AuthMiddleware(actorEcho).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "usr_1" {
		t.Errorf("got %d %q", rec.Code, rec.Body.String())
	}
	if len(auth.Calls) != 1 || auth.Calls[0] != "tok_abc" {
		t.Errorf("unexpected token calls: %v", auth.Calls)
	}
}

func TestAuthMiddleware_Failures(t *testing.T) {
	tests := []struct {
		name     string
		header   string
		authErr  error
		wantCode types.ErrorCode
	}{
		{"missing header", "", nil, types.ErrCodeAuthTokenMissing},
		{"wrong scheme", "Basic dXNlcjpwYXNz", nil, types.ErrCodeAuthTokenMissing},
		{"empty bearer", "Bearer   ", nil, types.ErrCodeAuthTokenMissing},
		{"expired", "Bearer tok", types.NewAppError(types.ErrCodeAuthTokenExpired, "expired", nil), types.ErrCodeAuthTokenExpired},
		{"invalid", "Bearer tok", types.NewAppError(types.ErrCodeAuthTokenInvalid, "bad", nil), types.ErrCodeAuthTokenInvalid},
		{"unexpected error", "Bearer tok", errors.New("boom"), types.ErrCodeAuthTokenInvalid},
		{"nil actor", "Bearer tok", nil, types.ErrCodeAuthTokenInvalid},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := newTestServer(t, nil)
			srv.Authenticator = &MockAuthenticator{Err: tc.authErr}

			req := httptest.NewRequest(http.MethodGet, "/v1/orders/mine", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			srv.AuthMiddleware(actorEcho).ServeHTTP(rec, req)

			if rec.Code != http.StatusUnauthorized {
				t.Fatalf("expected 401, got %d", rec.Code)
			}
			if got := decodeErrorCode(t, rec); got != string(tc.wantCode) {
				t.Errorf("expected code %s, got %s", tc.wantCode, got)
			}
		})
	}
}

func TestAuthMiddleware_PublicPaths(t *testing.T) {
	srv := newTestServer(t, nil)
	auth := &MockAuthenticator{Err: errors.New("must not be called")}
	srv.Authenticator = auth

	for _, path := range []string{"/v1/auth/register", "/v1/auth/login"} {
		rec := httptest.NewRecorder()
		srv.AuthMiddleware(actorEcho).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, nil))
		if rec.Code != http.StatusOK || rec.Body.String() != "anonymous" {
			t.Errorf("%s: got %d %q", path, rec.Code, rec.Body.String())
		}
	}
	if len(auth.Calls) != 0 {
		t.Errorf("authenticator should not be consulted, calls=%v", auth.Calls)
	}
}

func TestAuthMiddleware_NoAuthenticatorPassesThrough(t *testing.T) {
	srv := newTestServer(t, nil)

	rec := httptest.NewRecorder()
	srv.AuthMiddleware(actorEcho).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/orders", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestExtractBearerToken(t *testing.T) {
	tests := map[string]string{
		"Bearer abc":    "abc",
		"BEARER abc":    "abc",
		"Bearer  abc  ": "abc",
		"Bearer":        "",
		"Token abc":     "",
		"":              "",
	}
	for in, want := range tests {
		if got := extractBearerToken(in); got != want {
			t.Errorf("extractBearerToken(%q) = %q, want %q", in, got, want)
		}
	}
}

// --- RequireAdmin ---

func TestRequireAdmin(t *testing.T) {
	tests := []struct {
		name       string
		actor      *types.Actor
		wantStatus int
		wantCode   types.ErrorCode
	}{
		{"no actor", nil, http.StatusUnauthorized, types.ErrCodeAuthTokenMissing},
		{"customer", &types.Actor{ID: "usr_1", Role: types.RoleCustomer}, http.StatusForbidden, types.ErrCodePermissionRole},
		{"admin", &types.Actor{ID: "usr_2", Role: types.RoleAdmin}, http.StatusOK, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPut, "/v1/orders/ord_1/deliver", nil)
			if tc.actor != nil {
				req = req.WithContext(types.WithActor(req.Context(), *tc.actor))
			}
			rec := httptest.NewRecorder()
			RequireAdmin(actorEcho).ServeHTTP(rec, req)

			if rec.Code != tc.wantStatus {
				t.Fatalf("expected %d, got %d", tc.wantStatus, rec.Code)
			}
			if tc.wantCode != "" {
				if got := decodeErrorCode(t, rec); got != string(tc.wantCode) {
					t.Errorf("expected code %s, got %s", tc.wantCode, got)
				}
			}
		})
	}
}
