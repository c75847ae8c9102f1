package httputil

import (
	"context"
	"net/http"
)

// Unexported key type so other packages cannot collide with our context values.
type contextKey string

const (
	userIDKey contextKey = "userID"
)

// WithUserID stamps the authenticated user id onto the request context.
// The auth middleware calls this once per request.
func WithUserID(r *http.Request, userID string) *http.Request {
	ctx := context.WithValue(r.Context(), userIDKey, userID)
	return r.WithContext(ctx)
}

// GetUserID returns the authenticated user id, or "" on an
// unauthenticated request.
func GetUserID(r *http.Request) string {
	userID, _ := r.Context().Value(userIDKey).(string)
	return userID
}
