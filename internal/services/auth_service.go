// Package services – AuthService
//
// This file implements registration, login and profile lookup on top of the
// credential store and the token service. Passwords are hashed with bcrypt
// and never returned; tokens carry only the user id and role.
package services

import (
	"context"
	"errors"
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/phishguard-gateway/internal/auth"
	"github.com/tbourn/phishguard-gateway/internal/users"
)

const (
	minPasswordLen = 6
	maxNameRunes   = 50
)

var userNameRe = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,30}$`)

// RegisterInput is the registration payload.
type RegisterInput struct {
	FirstName string
	LastName  string
	UserName  string
	Email     string
	Password  string
}

// AuthResult is returned by Register and Login.
type AuthResult struct {
	Token string      `json:"token"`
	User  *users.User `json:"user"`
}

// AuthService implements the account use-cases.
type AuthService struct {
	Users      users.Repository
	Tokens     *auth.TokenService
	BcryptCost int
}

// NewAuthService constructs an AuthService.
func NewAuthService(repo users.Repository, tokens *auth.TokenService, bcryptCost int) *AuthService {
	return &AuthService{Users: repo, Tokens: tokens, BcryptCost: bcryptCost}
}

// Register validates in, stores a new USER and returns a signed token.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*AuthResult, error) {
	ctx, span := otel.Tracer("services/AuthService").Start(ctx, "Register")
	defer span.End()

	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.UserName = strings.TrimSpace(in.UserName)
	in.Email = users.NormalizeEmail(in.Email)

	var v validator
	v.check(in.FirstName != "", "firstName", "first name is required")
	v.check(utf8.RuneCountInString(in.FirstName) <= maxNameRunes, "firstName", "first name is too long")
	v.check(in.LastName != "", "lastName", "last name is required")
	v.check(utf8.RuneCountInString(in.LastName) <= maxNameRunes, "lastName", "last name is too long")
	v.check(userNameRe.MatchString(in.UserName), "userName", "username must be 3-30 letters, digits, '.', '_' or '-'")
	if _, err := mail.ParseAddress(in.Email); err != nil || !strings.Contains(in.Email, "@") {
		v.add("email", "a valid email is required")
	}
	v.check(len(in.Password) >= minPasswordLen, "password", "password must be at least 6 characters")
	v.check(len(in.Password) <= auth.MaxPasswordBytes, "password", "password must be at most 72 bytes")
	if err := v.err(); err != nil {
		return nil, err
	}

	hash, err := auth.HashPassword(in.Password, s.BcryptCost)
	if err != nil {
		return nil, err
	}
	u, err := s.Users.Create(ctx, &users.User{
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		UserName:     in.UserName,
		Email:        in.Email,
		PasswordHash: hash,
		Role:         users.RoleUser,
	})
	if errors.Is(err, users.ErrDuplicate) {
		return nil, ErrUserExists
	}
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("user.id", u.ID))
	return s.issue(u)
}

// Login checks the password for email and returns a fresh token.
func (s *AuthService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	ctx, span := otel.Tracer("services/AuthService").Start(ctx, "Login")
	defer span.End()

	email = users.NormalizeEmail(email)
	var v validator
	v.check(email != "", "email", "email is required")
	v.check(password != "", "password", "password is required")
	if err := v.err(); err != nil {
		return nil, err
	}

	u, err := s.Users.GetByEmail(ctx, email)
	if errors.Is(err, users.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if !auth.CheckPassword(u.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	span.SetAttributes(attribute.String("user.id", u.ID))
	return s.issue(u)
}

// Me re-reads the user behind a verified token.
func (s *AuthService) Me(ctx context.Context, userID string) (*users.User, error) {
	ctx, span := otel.Tracer("services/AuthService").Start(ctx, "Me",
		trace.WithAttributes(attribute.String("user.id", userID)))
	defer span.End()

	u, err := s.Users.GetByID(ctx, userID)
	if errors.Is(err, users.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	return withoutSecret(u), nil
}

func (s *AuthService) issue(u *users.User) (*AuthResult, error) {
	tok, err := s.Tokens.Issue(u.ID, u.Role)
	if err != nil {
		return nil, err
	}
	return &AuthResult{Token: tok, User: withoutSecret(u)}, nil
}

func withoutSecret(u *users.User) *users.User {
	cp := *u
	cp.PasswordHash = ""
	return &cp
}
