package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"example/aegis-portal/app/models"
)

func doSessionRequest(router *gin.Engine, method, path, token, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func signup(t *testing.T, router *gin.Engine, email, password string) sessionResponse {
	t.Helper()

	w := doSessionRequest(router, http.MethodPost, "/api/auth/signup", "", `{"email":"`+email+`","password":"`+password+`"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("signup status = %d: %s", w.Code, w.Body.String())
	}
	var resp sessionResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode signup response: %v", err)
	}
	return resp
}

func TestSignupGrantsBonusAndSession(t *testing.T) {
	a, st, router := newTestApp(t)

	resp := signup(t, router, "Alice@Example.Test", "hunter2hunter2")
	if resp.Token == "" {
		t.Fatalf("signup returned no token")
	}
	if resp.User.Email != "alice@example.test" {
		t.Fatalf("email not normalized: %q", resp.User.Email)
	}
	if resp.User.TokenBalance != 5000 {
		t.Fatalf("starting balance = %d, want 5000", resp.User.TokenBalance)
	}

	// The bonus is a real ledger entry, not just a column default.
	history, err := st.RecentLedger(context.Background(), resp.User.ID, 10)
	if err != nil {
		t.Fatalf("RecentLedger error = %v", err)
	}
	if len(history) != 1 || history[0].Action != models.ActionSignupBonus || history[0].Amount != 5000 {
		t.Fatalf("signup ledger = %+v", history)
	}

	userID, err := a.Sessions.Verify(resp.Token)
	if err != nil || userID != resp.User.ID {
		t.Fatalf("session token verify = (%d, %v), want (%d, nil)", userID, err, resp.User.ID)
	}
}

func TestSignupValidation(t *testing.T) {
	_, _, router := newTestApp(t)

	cases := []struct {
		name string
		body string
		want int
	}{
		{"missing fields", `{}`, http.StatusBadRequest},
		{"bad email", `{"email":"not-an-email","password":"hunter2hunter2"}`, http.StatusBadRequest},
		{"short password", `{"email":"a@b.test","password":"short"}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doSessionRequest(router, http.MethodPost, "/api/auth/signup", "", tc.body)
			if w.Code != tc.want {
				t.Fatalf("status = %d, want %d: %s", w.Code, tc.want, w.Body.String())
			}
		})
	}
}

func TestSignupDuplicateEmail(t *testing.T) {
	_, _, router := newTestApp(t)

	signup(t, router, "dupe@example.test", "hunter2hunter2")
	w := doSessionRequest(router, http.MethodPost, "/api/auth/signup", "", `{"email":"dupe@example.test","password":"hunter2hunter2"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate signup status = %d, want 409: %s", w.Code, w.Body.String())
	}
}

func TestLogin(t *testing.T) {
	_, _, router := newTestApp(t)
	signup(t, router, "bob@example.test", "hunter2hunter2")

	t.Run("correct password", func(t *testing.T) {
		w := doSessionRequest(router, http.MethodPost, "/api/auth/login", "", `{"email":"bob@example.test","password":"hunter2hunter2"}`)
		if w.Code != http.StatusOK {
			t.Fatalf("login status = %d: %s", w.Code, w.Body.String())
		}
		var resp sessionResponse
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("decode login response: %v", err)
		}
		if resp.Token == "" || resp.User.Email != "bob@example.test" {
			t.Fatalf("unexpected login response: %+v", resp)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		w := doSessionRequest(router, http.MethodPost, "/api/auth/login", "", `{"email":"bob@example.test","password":"wrong-password"}`)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", w.Code)
		}
	})

	t.Run("unknown email", func(t *testing.T) {
		w := doSessionRequest(router, http.MethodPost, "/api/auth/login", "", `{"email":"nobody@example.test","password":"hunter2hunter2"}`)
		if w.Code != http.StatusUnauthorized {
			t.Fatalf("status = %d, want 401", w.Code)
		}
	})
}

func TestLoginCheckoutCreatedAccount(t *testing.T) {
	_, st, router := newTestApp(t)

	// Lazily created at checkout: no password hash on the row.
	if _, err := st.CreateUser(context.Background(), "buyer@example.test", "", 5000); err != nil {
		t.Fatalf("CreateUser error = %v", err)
	}

	w := doSessionRequest(router, http.MethodPost, "/api/auth/login", "", `{"email":"buyer@example.test","password":"anything-at-all"}`)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
}

func TestMeEndpoint(t *testing.T) {
	_, _, router := newTestApp(t)
	sess := signup(t, router, "carol@example.test", "hunter2hunter2")

	w := doSessionRequest(router, http.MethodGet, "/api/me", sess.Token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", w.Code, w.Body.String())
	}

	var body struct {
		User    userResponse `json:"user"`
		Allowed bool         `json:"allowed"`
		Plan    string       `json:"plan"`
		Balance int          `json:"balance"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if !body.Allowed || body.Plan != "free" || body.Balance != 5000 || body.User.Email != "carol@example.test" {
		t.Fatalf("unexpected response: %+v", body)
	}
}

func TestMeRejectsBadTokens(t *testing.T) {
	_, _, router := newTestApp(t)

	cases := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic abc123"},
		{"garbage token", "Bearer not.a.jwt"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			if w.Code != http.StatusUnauthorized {
				t.Fatalf("status = %d, want 401", w.Code)
			}
		})
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	_, _, router := newTestApp(t)
	sess := signup(t, router, "dave@example.test", "hunter2hunter2")

	// Create a key; the full secret appears only in this response.
	w := doSessionRequest(router, http.MethodPost, "/api/keys", sess.Token, `{"name":"Laptop"}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("create key status = %d: %s", w.Code, w.Body.String())
	}
	var created struct {
		ID        string `json:"id"`
		Key       string `json:"key"`
		KeyPrefix string `json:"keyPrefix"`
		Name      string `json:"name"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if !strings.HasPrefix(created.Key, "aegis_") || created.Name != "Laptop" {
		t.Fatalf("unexpected create response: %+v", created)
	}
	if !strings.HasPrefix(created.Key, strings.TrimSuffix(created.KeyPrefix, "...")) {
		t.Fatalf("prefix %q does not match key %q", created.KeyPrefix, created.Key)
	}

	// The key authenticates client endpoints.
	if w := doRequest(router, http.MethodGet, "/api/check_status", created.Key, ""); w.Code != http.StatusOK {
		t.Fatalf("fresh key check_status = %d: %s", w.Code, w.Body.String())
	}

	// Listing shows prefixes, never the secret.
	w = doSessionRequest(router, http.MethodGet, "/api/keys", sess.Token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("list keys status = %d: %s", w.Code, w.Body.String())
	}
	if strings.Contains(w.Body.String(), created.Key) {
		t.Fatalf("list response leaks the full key")
	}
	var listed struct {
		Keys []apiKeyResponse `json:"keys"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &listed); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	if len(listed.Keys) != 1 || listed.Keys[0].KeyPrefix != created.KeyPrefix {
		t.Fatalf("unexpected list: %+v", listed.Keys)
	}
	if listed.Keys[0].LastUsedAt == "" {
		t.Fatalf("last-used not recorded after key use")
	}

	// Revoke and verify the key stops working with a 403, not 401.
	w = doSessionRequest(router, http.MethodDelete, "/api/keys/"+created.ID, sess.Token, "")
	if w.Code != http.StatusOK {
		t.Fatalf("revoke status = %d: %s", w.Code, w.Body.String())
	}
	if w := doRequest(router, http.MethodGet, "/api/check_status", created.Key, ""); w.Code != http.StatusForbidden {
		t.Fatalf("revoked key check_status = %d, want 403", w.Code)
	}
}

func TestRevokeAPIKeyErrors(t *testing.T) {
	_, _, router := newTestApp(t)
	sess := signup(t, router, "erin@example.test", "hunter2hunter2")

	t.Run("malformed id", func(t *testing.T) {
		w := doSessionRequest(router, http.MethodDelete, "/api/keys/not-a-uuid", sess.Token, "")
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", w.Code)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		w := doSessionRequest(router, http.MethodDelete, "/api/keys/6ba7b810-9dad-11d1-80b4-00c04fd430c8", sess.Token, "")
		if w.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", w.Code)
		}
	})
}
