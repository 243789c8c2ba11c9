// Package auth resolves bearer tokens to user ids through the platform's
// authentication collaborator. Session ownership checks live in the HTTP
// layer; this package only answers "whose token is this".
package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
)

// ErrUnauthorized marks a token the collaborator rejected.
var ErrUnauthorized = errors.New("token not recognized")

// Verifier resolves a bearer token to a user id.
type Verifier interface {
	Verify(ctx context.Context, token string) (userID string, err error)
}

// HTTPVerifier verifies tokens against the platform auth service.
type HTTPVerifier struct {
	baseURL string
	http    *http.Client
}

// NewHTTPVerifier constructs a verifier for the auth service at baseURL.
func NewHTTPVerifier(baseURL string) *HTTPVerifier {
	return &HTTPVerifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

type verifyResponse struct {
	UserID string `json:"user_id"`
}

func (v *HTTPVerifier) Verify(ctx context.Context, token string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.baseURL+"/v1/verify", nil)
	if err != nil {
		return "", errors.Wrap(err, "build verify request")
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := v.http.Do(req)
	if err != nil {
		return "", errors.Wrap(err, "auth service request")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return "", ErrUnauthorized
	default:
		return "", errors.Errorf("auth service returned %d", resp.StatusCode)
	}

	var payload verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", errors.Wrap(err, "decode verify response")
	}
	if payload.UserID == "" {
		return "", ErrUnauthorized
	}
	return payload.UserID, nil
}

// StaticVerifier maps fixed tokens to user ids. Local development and tests.
type StaticVerifier map[string]string

func (s StaticVerifier) Verify(_ context.Context, token string) (string, error) {
	if uid, ok := s[token]; ok {
		return uid, nil
	}
	return "", ErrUnauthorized
}

const userIDKey = "authUserID"

// Middleware authenticates requests with a bearer token and stores the
// resolved user id on the echo context.
func Middleware(v Verifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			token := strings.TrimPrefix(header, "Bearer ")
			if token == "" || token == header {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing bearer token")
			}
			userID, err := v.Verify(c.Request().Context(), token)
			if err != nil {
				if errors.Is(err, ErrUnauthorized) {
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
				}
				return echo.NewHTTPError(http.StatusBadGateway, "auth service unavailable")
			}
			c.Set(userIDKey, userID)
			return next(c)
		}
	}
}

// UserID returns the authenticated user id stored by Middleware.
func UserID(c echo.Context) string {
	uid, _ := c.Get(userIDKey).(string)
	return uid
}
