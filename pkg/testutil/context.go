package testutil

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"caredrop/pkg/requestcontext"
)

// WithPrincipal adds an authenticated caller to the request context.
// This simulates what the auth middleware would do for authenticated requests.
func WithPrincipal(req *http.Request, userID uuid.UUID, role requestcontext.Role) *http.Request {
	ctx := requestcontext.WithPrincipal(req.Context(), requestcontext.Principal{
		UserID: userID,
		Role:   role,
		Name:   string(role) + "-" + userID.String()[:8],
	})
	return req.WithContext(ctx)
}

// WithRequestTime pins the request clock so handlers and services see a fixed now.
func WithRequestTime(req *http.Request, now time.Time) *http.Request {
	return req.WithContext(requestcontext.WithTime(req.Context(), now))
}
