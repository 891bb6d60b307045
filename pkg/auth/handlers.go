package auth

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/codekids/pyquest/pkg/logger"
)

// SessionResponse is returned by the session endpoints.
type SessionResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"sessionId,omitempty"`
	Token     string `json:"token,omitempty"`
	Message   string `json:"message"`
}

func setCORSHeaders(w http.ResponseWriter, methods string) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", methods)
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Content-Type", "application/json")
}

// HandleCreateSession starts a guest session and returns its id and token.
// The token is also set as an HttpOnly cookie.
func HandleCreateSession(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w, "POST, OPTIONS")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		respondWithError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := generateSessionID()
	token, err := GenerateGuestToken(sessionID)
	if err != nil {
		logger.SecurityError("could not sign guest token: %v", err)
		respondWithError(w, "Could not create session", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName(),
		Value:    token,
		Path:     "/",
		MaxAge:   int(GuestTokenLifetime().Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})

	logger.SessionInfo("new guest session %s for %s", sessionID, ClientIP(r))
	json.NewEncoder(w).Encode(SessionResponse{
		Success:   true,
		SessionID: sessionID,
		Token:     token,
		Message:   "Session created successfully",
	})
}

// HandleTokenValidation reports whether the request carries a valid session token.
func HandleTokenValidation(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w, "GET, POST, OPTIONS")
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	tokenString, err := ExtractTokenFromRequest(r)
	if err != nil {
		respondWithError(w, "Token not found", http.StatusUnauthorized)
		return
	}
	claims, err := ValidateGuestToken(tokenString)
	if err != nil {
		logger.SecurityWarn("token validation failed: %v", err)
		respondWithError(w, "Invalid token", http.StatusUnauthorized)
		return
	}
	json.NewEncoder(w).Encode(SessionResponse{
		Success:   true,
		SessionID: claims.SessionID,
		Message:   "Token valid",
	})
}

func generateSessionID() string {
	return uuid.New().String()
}

// ClientIP returns the caller address, preferring proxy headers over RemoteAddr.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		return strings.TrimSpace(first)
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}

func respondWithError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(SessionResponse{Success: false, Message: message})
}
