package auth

import (
	"context"
)

type contextKey string

const (
	sessionIDKey contextKey = "session_id"
	claimsKey    contextKey = "jwt_claims"
)

// NewContextWithSessionID returns a context carrying the session id.
func NewContextWithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// GetSessionIDFromContext returns the session id and whether one was set.
func GetSessionIDFromContext(ctx context.Context) (string, bool) {
	sessionID, ok := ctx.Value(sessionIDKey).(string)
	return sessionID, ok && sessionID != ""
}

// AddClaimsToContext stores the claims and their session id.
func AddClaimsToContext(ctx context.Context, claims *GuestClaims) context.Context {
	ctx = context.WithValue(ctx, claimsKey, claims)
	if claims != nil {
		ctx = NewContextWithSessionID(ctx, claims.SessionID)
	}
	return ctx
}

// GetClaimsFromContext returns the claims stored by RequireGuestToken.
func GetClaimsFromContext(ctx context.Context) (*GuestClaims, bool) {
	claims, ok := ctx.Value(claimsKey).(*GuestClaims)
	return claims, ok
}
