// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file validates the Idempotency-Key header on report submissions. A
// key is owned by the caller (user id, or "anonymous") within a scope such as
// "report". When the lookup finds a completed record for the triple the
// request is flagged as a replay: the rate limiters let it through and the
// service answers with the stored report instead of calling the AI service
// again.
package middleware

import (
	"context"
	"net/http"
	"regexp"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	// HeaderIdempotencyKey carries the client's idempotency key.
	HeaderIdempotencyKey = "Idempotency-Key"
	// HeaderIdempotentReplayed is set to "true" on responses served from a
	// stored result.
	HeaderIdempotentReplayed = "Idempotent-Replayed"

	ctxKeyIdempotency = "idempotency"
	ctxKeyRateBypass  = "rate.bypass"

	anonymousOwner = "anonymous"
	defaultKeyLen  = 200
)

var defaultKeyPattern = regexp.MustCompile(`^[A-Za-z0-9._~:-]+$`)

// idempotencyState is what the validator leaves in the Gin context.
type idempotencyState struct {
	key    string
	replay bool
}

// IdempotencyOptions configures IdempotencyValidator.
type IdempotencyOptions struct {
	Scope   string         // operation the keys belong to, e.g. "report"
	MaxLen  int            // defaults to 200
	Pattern *regexp.Regexp // defaults to ^[A-Za-z0-9._~:-]+$
}

// IdempotencyLookup reports whether a completed, unexpired result exists for
// (userID, scope, key) at now. A miss is (false, nil).
type IdempotencyLookup func(ctx context.Context, userID, scope, key string, now time.Time) (bool, error)

// GetIdempotencyKey returns the validated key, if the request carried one.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	st := stateFrom(c)
	if st == nil || st.key == "" {
		return "", false
	}
	return st.key, true
}

// IsReplay reports whether the key matched a completed request.
func IsReplay(c *gin.Context) bool {
	st := stateFrom(c)
	return st != nil && st.replay
}

func stateFrom(c *gin.Context) *idempotencyState {
	v, ok := c.Get(ctxKeyIdempotency)
	if !ok {
		return nil
	}
	st, _ := v.(*idempotencyState)
	return st
}

// IdempotencyValidator checks the Idempotency-Key header and, on unsafe
// methods, asks lookup whether the key was already completed.
//
//   - no header: pass through
//   - malformed key: 400 bad_idempotency_key
//   - replay: flag the request and mark it for rate-limit bypass
//
// Lookup failures are logged and the request proceeds as a first attempt;
// the service's own replay check still applies.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = defaultKeyLen
	}
	pat := opts.Pattern
	if pat == nil {
		pat = defaultKeyPattern
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			abortError(c, http.StatusBadRequest, "bad_idempotency_key", "invalid Idempotency-Key", gin.H{"maxLength": maxLen})
			return
		}

		st := &idempotencyState{key: key}
		c.Set(ctxKeyIdempotency, st)

		if lookup != nil && unsafeMethod(c.Request.Method) {
			owner := userIDFromCtx(c)
			found, err := lookup(c.Request.Context(), owner, opts.Scope, key, time.Now().UTC())
			switch {
			case err != nil:
				LoggerFrom(c).Warn().Err(err).Str("scope", opts.Scope).Msg("idempotency lookup failed")
			case found:
				st.replay = true
				c.Set(ctxKeyRateBypass, true)
			}
		}

		c.Next()
	}
}

func unsafeMethod(m string) bool {
	switch m {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// userIDFromCtx returns the authenticated user id, or "anonymous".
func userIDFromCtx(c *gin.Context) string {
	if id := UserID(c); id != "" {
		return id
	}
	return anonymousOwner
}
