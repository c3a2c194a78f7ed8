// Package auth implements the JWT verifier contract consumed by the
// pipeline's authentication stage. The engine treats the cryptographic
// primitive as a black box behind the Verifier interface; jwtVerifier is the
// one concrete implementation shipped here.
package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/actionkit/actionkit/internal/result"
)

// Method selects where the bearer token is read from.
type Method string

const (
	MethodHeader Method = "header"
	MethodCookie Method = "cookie"
)

// Config is the engine-level AuthConfig. Secret is the HS256 signing key.
type Config struct {
	Secret     string
	Method     Method
	HeaderName string
	CookieName string
}

func (c Config) headerName() string {
	if c.HeaderName != "" {
		return c.HeaderName
	}
	return "authorization"
}

func (c Config) cookieName() string {
	if c.CookieName != "" {
		return c.CookieName
	}
	return "auth_token"
}

// AuthContext is the transport-supplied carrier for the raw credentials.
// The engine accepts this value type rather than *http.Request so it never
// needs to import net/http for anything but http.Header/http.Cookie.
type AuthContext struct {
	Headers http.Header
	Cookies []*http.Cookie
}

// Result is the AuthResult populated into the execution context on success.
type Result struct {
	UserID         string
	OrganizationID string
	Claims         map[string]any
}

// Verifier verifies an AuthContext against a Config and produces a Result.
type Verifier interface {
	Verify(ctx context.Context, authCtx AuthContext, cfg Config) result.Result[Result]
}

// NewJWTVerifier returns the default HS256 Verifier grounded in
// github.com/golang-jwt/jwt/v5.
func NewJWTVerifier() Verifier { return jwtVerifier{} }

type jwtVerifier struct{}

func (jwtVerifier) Verify(_ context.Context, authCtx AuthContext, cfg Config) result.Result[Result] {
	method := cfg.Method
	if method == "" {
		method = MethodHeader
	}

	var raw string
	switch method {
	case MethodCookie:
		name := cfg.cookieName()
		for _, c := range authCtx.Cookies {
			if c.Name == name {
				raw = c.Value
				break
			}
		}
		if raw == "" {
			return result.Err[Result]("No JWT token found in cookie")
		}
	default:
		headerName := cfg.headerName()
		value := authCtx.Headers.Get(headerName)
		if value == "" {
			return result.Err[Result]("No JWT token found in header")
		}
		if !strings.HasPrefix(value, "Bearer ") {
			return result.Err[Result]("Expected Bearer scheme in authorization header")
		}
		raw = strings.TrimPrefix(value, "Bearer ")
		if raw == "" {
			return result.Err[Result]("No JWT token found in header")
		}
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(cfg.Secret), nil
	})
	if err != nil {
		return result.Err[Result](fmt.Sprintf("JWT authentication failed: %v", err))
	}

	userID := firstStringClaim(claims, "userId", "id", "sub")
	orgID := firstStringClaim(claims, "organizationId", "organization_id", "orgId")
	if userID == "" || orgID == "" {
		return result.Err[Result]("Missing userId or organizationId in JWT token")
	}

	return result.Ok(Result{
		UserID:         userID,
		OrganizationID: orgID,
		Claims:         map[string]any(claims),
	})
}

func firstStringClaim(claims jwt.MapClaims, keys ...string) string {
	for _, k := range keys {
		if v, ok := claims[k]; ok {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}
