package handlers

import (
	"context"
	"net/http"
	"strings"
	"testing"

	"github.com/tbourn/phishguard-gateway/internal/http/middleware"
	"github.com/tbourn/phishguard-gateway/internal/services"
	"github.com/tbourn/phishguard-gateway/internal/users"
)

func newAuthRouter(svc stubAuth) http.Handler {
	h := New(svc, nil, nil, Options{})
	r := newEngine()
	r.POST("/auth/register", h.Register)
	r.POST("/auth/login", h.Login)
	r.GET("/auth/me", middleware.RequireAuth(testTokens), h.Me)
	return r
}

func TestRegister(t *testing.T) {
	var got services.RegisterInput
	svc := stubAuth{register: func(_ context.Context, in services.RegisterInput) (*services.AuthResult, error) {
		got = in
		switch in.UserName {
		case "taken":
			return nil, services.ErrUserExists
		case "x":
			return nil, &services.ValidationError{Fields: []services.FieldError{{Field: "userName", Message: "too short"}}}
		}
		return &services.AuthResult{Token: "tok", User: &users.User{ID: "u1", UserName: in.UserName, Role: users.RoleUser}}, nil
	}}
	r := newAuthRouter(svc)

	w := doJSON(r, http.MethodPost, "/auth/register", map[string]string{
		"firstName": "Ada", "lastName": "L", "userName": "ada", "email": "ada@example.com", "password": "secret1",
	}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	body := decodeBody(t, w)
	if body["token"] != "tok" || body["message"] != "User registered successfully" {
		t.Fatalf("body=%v", body)
	}
	if got.Email != "ada@example.com" || got.Password != "secret1" || got.FirstName != "Ada" {
		t.Fatalf("input not forwarded: %+v", got)
	}
	if u, _ := body["user"].(map[string]any); u["userName"] != "ada" {
		t.Fatalf("user=%v", body["user"])
	}

	w = doJSON(r, http.MethodPost, "/auth/register", map[string]string{"userName": "taken"}, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("duplicate: status=%d", w.Code)
	}

	w = doJSON(r, http.MethodPost, "/auth/register", map[string]string{"userName": "x"}, nil)
	if w.Code != http.StatusBadRequest || decodeBody(t, w)["error"] != ErrCodeValidation {
		t.Fatalf("validation: status=%d body=%s", w.Code, w.Body.String())
	}

	w = doJSON(r, http.MethodPost, "/auth/register", "not-an-object", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad json: status=%d", w.Code)
	}
}

func TestLogin(t *testing.T) {
	svc := stubAuth{login: func(_ context.Context, email, password string) (*services.AuthResult, error) {
		if email == "ada@example.com" && password == "secret1" {
			return &services.AuthResult{Token: "tok", User: &users.User{ID: "u1"}}, nil
		}
		return nil, services.ErrInvalidCredentials
	}}
	r := newAuthRouter(svc)

	w := doJSON(r, http.MethodPost, "/auth/login", map[string]string{"email": "ada@example.com", "password": "secret1"}, nil)
	if w.Code != http.StatusOK || decodeBody(t, w)["message"] != "Login successful" {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}

	w = doJSON(r, http.MethodPost, "/auth/login", map[string]string{"email": "ada@example.com", "password": "nope"}, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status=%d", w.Code)
	}
	if m := decodeBody(t, w); m["message"] != "Invalid credentials" || m["request_id"] == "" {
		t.Fatalf("body=%v", m)
	}
}

func TestMe(t *testing.T) {
	svc := stubAuth{me: func(_ context.Context, id string) (*users.User, error) {
		if id == "gone" {
			return nil, services.ErrUserNotFound
		}
		return &users.User{ID: id, Email: "ada@example.com", PasswordHash: "$2a$secret"}, nil
	}}
	r := newAuthRouter(svc)

	w := doJSON(r, http.MethodGet, "/auth/me", nil, nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("no token: status=%d", w.Code)
	}

	w = doJSON(r, http.MethodGet, "/auth/me", nil, http.Header{"Authorization": {bearerFor(t, "u1", "USER")}})
	if w.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if m := decodeBody(t, w); m["id"] != "u1" {
		t.Fatalf("body=%v", m)
	}
	if strings.Contains(w.Body.String(), "$2a$secret") {
		t.Fatalf("password hash leaked: %s", w.Body.String())
	}

	w = doJSON(r, http.MethodGet, "/auth/me", nil, http.Header{"Authorization": {bearerFor(t, "gone", "USER")}})
	if w.Code != http.StatusNotFound {
		t.Fatalf("deleted user: status=%d", w.Code)
	}
}
