// Auth HTTP handlers.
//
// Endpoints (mounted under both /auth and {API_BASE_PATH}/auth):
//   - POST register
//   - POST login
//   - GET  me      (requires a valid bearer token)
package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/phishguard-gateway/internal/http/middleware"
	"github.com/tbourn/phishguard-gateway/internal/services"
	"github.com/tbourn/phishguard-gateway/internal/users"
)

//
// DTOs
//

// RegisterRequest is the JSON payload for creating an account.
type RegisterRequest struct {
	FirstName string `json:"firstName" example:"Ada"`
	LastName  string `json:"lastName"  example:"Lovelace"`
	UserName  string `json:"userName"  example:"ada.l"`
	Email     string `json:"email"     example:"ada@example.com"`
	Password  string `json:"password"  example:"correct horse"`
}

// LoginRequest is the JSON payload for exchanging credentials for a token.
type LoginRequest struct {
	Email    string `json:"email"    example:"ada@example.com"`
	Password string `json:"password" example:"correct horse"`
}

// AuthResponse carries a fresh token and the public user record.
type AuthResponse struct {
	Message string      `json:"message" example:"Login successful"`
	Token   string      `json:"token"`
	User    *users.User `json:"user"`
}

// Register godoc
// @ID          register
// @Summary     Create an account
// @Description Stores a new USER and returns a signed session token.
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.RegisterRequest  true  "Account details"
// @Success     201   {object}  handlers.AuthResponse
// @Failure     400   {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     409   {object}  handlers.ErrorResponse  "Username or email already registered"
// @Failure     500   {object}  handlers.ErrorResponse  "Internal error"
// @Router      /auth/register [post]
func (h *Handlers) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	res, err := h.auth.Register(c.Request.Context(), services.RegisterInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		UserName:  req.UserName,
		Email:     req.Email,
		Password:  req.Password,
	})
	if errors.Is(err, services.ErrUserExists) {
		fail(c, http.StatusConflict, ErrCodeConflict, "User with this email or username already exists")
		return
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	ok(c, http.StatusCreated, AuthResponse{Message: "User registered successfully", Token: res.Token, User: res.User})
}

// Login godoc
// @ID          login
// @Summary     Log in
// @Description Exchanges email and password for a signed session token.
// @Tags        Auth
// @Accept      json
// @Produce     json
// @Param       body  body      handlers.LoginRequest  true  "Credentials"
// @Success     200   {object}  handlers.AuthResponse
// @Failure     400   {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     401   {object}  handlers.ErrorResponse  "Invalid credentials"
// @Failure     500   {object}  handlers.ErrorResponse  "Internal error"
// @Router      /auth/login [post]
func (h *Handlers) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	res, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if errors.Is(err, services.ErrInvalidCredentials) {
		fail(c, http.StatusUnauthorized, ErrCodeUnauthorized, "Invalid credentials")
		return
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	ok(c, http.StatusOK, AuthResponse{Message: "Login successful", Token: res.Token, User: res.User})
}

// Me godoc
// @ID          me
// @Summary     Current user
// @Description Returns the stored record of the authenticated user, without the password hash.
// @Tags        Auth
// @Produce     json
// @Security    BearerAuth
// @Success     200  {object}  users.User
// @Failure     401  {object}  handlers.ErrorResponse  "Missing or invalid token"
// @Failure     404  {object}  handlers.ErrorResponse  "User no longer exists"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /auth/me [get]
func (h *Handlers) Me(c *gin.Context) {
	u, err := h.auth.Me(c.Request.Context(), middleware.UserID(c))
	if errors.Is(err, services.ErrUserNotFound) {
		fail(c, http.StatusNotFound, ErrCodeNotFound, "User not found")
		return
	}
	if err != nil {
		h.respondError(c, err)
		return
	}
	ok(c, http.StatusOK, u)
}
