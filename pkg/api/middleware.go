package api

import (
	"context"
	"net/http"
)

// Authentication happens upstream; the gateway forwards the caller's
// identity in these headers.
const (
	UserHeader     = "X-User-ID"
	ReviewerHeader = "X-Reviewer-ID"
)

type contextKey string

const (
	userIDKey     contextKey = "userID"
	reviewerIDKey contextKey = "reviewerID"
)

// RequireUser rejects requests without a user identity
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(UserHeader)
		if userID == "" {
			writeMessage(w, http.StatusUnauthorized, "user identity required")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	})
}

// RequireReviewer rejects requests without a reviewer identity
func RequireReviewer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reviewerID := r.Header.Get(ReviewerHeader)
		if reviewerID == "" {
			writeMessage(w, http.StatusUnauthorized, "reviewer identity required")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), reviewerIDKey, reviewerID)))
	})
}

// UserID returns the caller set by RequireUser
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// ReviewerID returns the reviewer set by RequireReviewer
func ReviewerID(ctx context.Context) string {
	id, _ := ctx.Value(reviewerIDKey).(string)
	return id
}

// websocketUser reads the user from the header, falling back to the query
// string since browsers cannot set headers on websocket handshakes
func websocketUser(r *http.Request) string {
	if id := r.Header.Get(UserHeader); id != "" {
		return id
	}
	return r.URL.Query().Get("user_id")
}
