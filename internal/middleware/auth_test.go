package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/basalt/basalt/internal/auth"
	"github.com/basalt/basalt/internal/model"
)

func TestExtractAPIKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		authHeader   string
		apiKeyHeader string
		want         string
	}{
		{"bearer token", "Bearer " + testKey, "", testKey},
		{"lowercase scheme", "bearer " + testKey, "", testKey},
		{"X-API-Key header", "", testKey, testKey},
		{"bearer takes precedence", "Bearer bearer_key", "apikey_header", "bearer_key"},
		{"basic auth ignored", "Basic dXNlcjpwYXNz", "", ""},
		{"no key", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			req := httptest.NewRequest(http.MethodPost, "/notarize", nil)
			if tt.authHeader != "" {
				req.Header.Set("Authorization", tt.authHeader)
			}
			if tt.apiKeyHeader != "" {
				req.Header.Set("X-API-Key", tt.apiKeyHeader)
			}

			if got := extractAPIKey(req); got != tt.want {
				t.Errorf("extractAPIKey() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAPIKeyAuth(t *testing.T) {
	t.Parallel()

	owner := &model.User{ID: 7, Tier: "pro", IsActive: true}
	sessionUser := &model.User{ID: 9, Tier: "free", IsActive: true}

	tests := []struct {
		name       string
		header     string
		session    *model.User
		keys       *fakeKeys
		wantStatus int
		wantUser   int64
		wantMethod auth.Method
		wantLookup bool
	}{
		{"valid key", "Bearer " + testKey, nil, &fakeKeys{owner: owner}, http.StatusOK, 7, auth.MethodAPIKey, true},
		{"unknown key", "Bearer bslt_" + strings.Repeat("f", 48), nil, &fakeKeys{owner: owner}, http.StatusUnauthorized, 0, "", true},
		{"wrong prefix skips lookup", "Bearer sk_" + strings.Repeat("f", 48), nil, &fakeKeys{owner: owner}, http.StatusUnauthorized, 0, "", false},
		{"missing key", "", nil, &fakeKeys{owner: owner}, http.StatusUnauthorized, 0, "", false},
		{"session fallback", "", sessionUser, &fakeKeys{owner: owner}, http.StatusOK, 9, auth.MethodSession, false},
		{"bad key beats session", "Bearer bslt_" + strings.Repeat("f", 48), sessionUser, &fakeKeys{owner: owner}, http.StatusUnauthorized, 0, "", true},
		{"store error", "Bearer " + testKey, nil, &fakeKeys{err: errStore}, http.StatusServiceUnavailable, 0, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			logger, _ := bufferLogger()
			var gotUser int64
			var gotMethod auth.Method
			handler := APIKeyAuth(AuthConfig{Logger: logger, Keys: tt.keys})(
				http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					gotUser = auth.UserIDFromContext(r.Context())
					gotMethod = auth.MethodFromContext(r.Context())
					w.WriteHeader(http.StatusOK)
				}))

			req := httptest.NewRequest(http.MethodPost, "/notarize", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.session != nil {
				req = req.WithContext(auth.ContextWithUser(req.Context(), tt.session, auth.MethodSession))
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if gotUser != tt.wantUser || gotMethod != tt.wantMethod {
				t.Errorf("user = %d/%q, want %d/%q", gotUser, gotMethod, tt.wantUser, tt.wantMethod)
			}
			if looked := len(tt.keys.calls) > 0; looked != tt.wantLookup {
				t.Errorf("validator called = %v, want %v", looked, tt.wantLookup)
			}
		})
	}
}

func TestAPIKeyAuth_GenericMessage(t *testing.T) {
	t.Parallel()

	logger, buf := bufferLogger()
	handler := APIKeyAuth(AuthConfig{Logger: logger, Keys: &fakeKeys{}})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	bodies := map[string]string{}
	for _, header := range []string{"", "Bearer nope", "Bearer " + testKey} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/usage", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		bodies[rec.Body.String()] = header
	}

	if len(bodies) != 1 {
		t.Errorf("expected one generic error body, got %v", bodies)
	}
	for _, reason := range []string{"missing_key", "invalid_format", "invalid_key"} {
		if !strings.Contains(buf.String(), reason) {
			t.Errorf("log missing reason %q", reason)
		}
	}
	if strings.Contains(buf.String(), testKey) {
		t.Error("log contains the presented key")
	}
}

func TestWriteAuthError(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	writeAuthError(rec)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if rec.Header().Get("Content-Type") != "application/json" {
		t.Errorf("expected JSON content type")
	}
	if got := rec.Body.String(); got != "{\"error\":\"Unauthorized\"}\n" {
		t.Errorf("body = %q", got)
	}
}
