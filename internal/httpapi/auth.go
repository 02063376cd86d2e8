package httpapi

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SessionClaims are the claims in a converse session token. One token admits
// one socket; the conversation ID in it names the session in the event log.
type SessionClaims struct {
	jwt.RegisteredClaims
	ConversationID string `json:"conversation_id"`
}

// handleToken issues a short-lived session token for the converse socket.
func (r *Router) handleToken(w http.ResponseWriter, req *http.Request) {
	if r.cfg.JWTSecret == "" {
		http.Error(w, `{"error": "token issuance not configured"}`, http.StatusServiceUnavailable)
		return
	}

	token, expiresAt, err := r.generateSessionToken()
	if err != nil {
		captureError(req, err, "generate session token")
		http.Error(w, `{"error": "could not issue token"}`, http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"token":      token,
		"expires_at": expiresAt.Unix(),
	})
}

func (r *Router) generateSessionToken() (string, time.Time, error) {
	expiry := r.cfg.JWTExpiry
	if expiry == 0 {
		expiry = 5 * time.Minute
	}
	expiresAt := time.Now().Add(expiry)

	claims := SessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "converse",
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		ConversationID: uuid.NewString(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(r.cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}
	return signed, expiresAt, nil
}

// verifySessionToken checks the token from the Authorization header or the
// "token" query parameter (browser WebSocket clients cannot set headers).
func (r *Router) verifySessionToken(req *http.Request) (*SessionClaims, error) {
	tokenString := ""
	if authHeader := req.Header.Get("Authorization"); authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
			return nil, fmt.Errorf("invalid authorization format")
		}
		tokenString = parts[1]
	} else {
		tokenString = req.URL.Query().Get("token")
	}
	if tokenString == "" {
		return nil, fmt.Errorf("missing session token")
	}

	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(r.cfg.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return nil, fmt.Errorf("invalid session token")
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}
	return claims, nil
}
