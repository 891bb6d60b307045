package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/codekids/pyquest/pkg/configuration"
	"github.com/codekids/pyquest/pkg/logger"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// Defaults; the real values come from the configuration.
	// placeholderJWTSecret is the old documented default and counts as unset.
	placeholderJWTSecret       = "fallback_secret_change_in_production"
	defaultIssuer              = "pyquest"
	defaultGuestTokenLifetime  = 24 * time.Hour
	defaultResumeTokenLifetime = 30 * time.Minute

	subjectGuest  = "guest"
	subjectResume = "resume"
)

var (
	ErrNoToken      = errors.New("no token found in request")
	ErrInvalidToken = errors.New("invalid token")
)

var (
	processSecretOnce sync.Once
	processSecret     string
)

// getJWTSecret prefers the JWT_SECRET_KEY environment variable over the config file.
// Without either, a random secret is used for the lifetime of the process.
func getJWTSecret() string {
	if envSecret := os.Getenv("JWT_SECRET_KEY"); envSecret != "" && envSecret != placeholderJWTSecret {
		return envSecret
	}
	secret := configuration.GetString("JWT", "secret_key", "")
	if secret == "" || secret == placeholderJWTSecret {
		return fallbackSecret()
	}
	return secret
}

func fallbackSecret() string {
	processSecretOnce.Do(func() {
		buf := make([]byte, 32)
		if _, err := rand.Read(buf); err != nil {
			panic(fmt.Sprintf("auth: reading random secret: %v", err))
		}
		processSecret = hex.EncodeToString(buf)
		logger.SecurityWarn("No JWT secret configured - using a random one, tokens will not survive a restart. Set JWT_SECRET_KEY for production!")
	})
	return processSecret
}

func getIssuer() string {
	return configuration.GetString("JWT", "issuer", defaultIssuer)
}

// GuestTokenLifetime is how long a guest session token stays valid.
func GuestTokenLifetime() time.Duration {
	return configuration.GetDuration("Session", "guest_token_lifetime", defaultGuestTokenLifetime)
}

// ResumeTokenLifetime is how long a paused run can be resumed.
func ResumeTokenLifetime() time.Duration {
	return configuration.GetDuration("Session", "resume_token_lifetime", defaultResumeTokenLifetime)
}

// GuestClaims identify a guest session.
type GuestClaims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// ResumeClaims point at one suspended run of a session.
type ResumeClaims struct {
	RunID     string `json:"rid"`
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

func registered(subject, id string, lifetime time.Duration) jwt.RegisteredClaims {
	now := time.Now()
	return jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(now.Add(lifetime)),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		Issuer:    getIssuer(),
		Subject:   subject,
		ID:        id,
	}
}

func sign(claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(getJWTSecret()))
	if err != nil {
		return "", fmt.Errorf("token could not be signed: %w", err)
	}
	return signed, nil
}

// GenerateGuestToken signs a token for a guest session.
func GenerateGuestToken(sessionID string) (string, error) {
	token, err := sign(GuestClaims{
		SessionID:        sessionID,
		RegisteredClaims: registered(subjectGuest, sessionID, GuestTokenLifetime()),
	})
	if err != nil {
		return "", err
	}
	logger.SessionDebug("guest token generated for session %s", sessionID)
	return token, nil
}

// GenerateResumeToken signs a token that lets sessionID resume runID.
func GenerateResumeToken(sessionID, runID string, lifetime time.Duration) (string, error) {
	return sign(ResumeClaims{
		RunID:            runID,
		SessionID:        sessionID,
		RegisteredClaims: registered(subjectResume, runID, lifetime),
	})
}

func parse(tokenString, subject string, claims jwt.Claims) error {
	_, err := jwt.ParseWithClaims(tokenString, claims,
		func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing algorithm: %v", token.Header["alg"])
			}
			return []byte(getJWTSecret()), nil
		},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(getIssuer()),
		jwt.WithSubject(subject),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return nil
}

// ValidateGuestToken checks a guest token and returns its claims.
func ValidateGuestToken(tokenString string) (*GuestClaims, error) {
	claims := &GuestClaims{}
	if err := parse(tokenString, subjectGuest, claims); err != nil {
		return nil, err
	}
	if claims.SessionID == "" {
		return nil, fmt.Errorf("%w: missing session id", ErrInvalidToken)
	}
	return claims, nil
}

// ValidateResumeToken checks a resume token and returns its claims.
func ValidateResumeToken(tokenString string) (*ResumeClaims, error) {
	claims := &ResumeClaims{}
	if err := parse(tokenString, subjectResume, claims); err != nil {
		return nil, err
	}
	if claims.RunID == "" || claims.SessionID == "" {
		return nil, fmt.Errorf("%w: missing run or session id", ErrInvalidToken)
	}
	return claims, nil
}

// CookieName is the name of the session token cookie.
func CookieName() string {
	return configuration.GetString("Session", "cookie_name", "pyquest_session")
}

// ExtractTokenFromRequest finds the session token in the Authorization
// header, the session cookie or the "token" query parameter, in that order.
func ExtractTokenFromRequest(r *http.Request) (string, error) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		scheme, token, ok := strings.Cut(authHeader, " ")
		if ok && scheme == "Bearer" && token != "" {
			return token, nil
		}
		return "", fmt.Errorf("invalid authorization header format")
	}
	if cookie, err := r.Cookie(CookieName()); err == nil && cookie.Value != "" {
		return cookie.Value, nil
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	return "", ErrNoToken
}

// RequireGuestToken rejects requests without a valid guest token and stores
// the claims in the request context.
func RequireGuestToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next(w, r)
			return
		}
		tokenString, err := ExtractTokenFromRequest(r)
		if err != nil {
			logger.SecurityWarn("request to %s without token: %v", r.URL.Path, err)
			respondWithError(w, "Unauthorized: token missing", http.StatusUnauthorized)
			return
		}
		claims, err := ValidateGuestToken(tokenString)
		if err != nil {
			logger.SecurityWarn("invalid token for %s: %v", r.URL.Path, err)
			respondWithError(w, "Unauthorized: invalid token", http.StatusUnauthorized)
			return
		}
		next(w, r.WithContext(AddClaimsToContext(r.Context(), claims)))
	}
}
