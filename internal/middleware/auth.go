// Package middleware содержит HTTP middleware виртуального банка.
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
	"time"
)

type contextKey string

const principalKey contextKey = "principal"

const (
	authCookieName = "auth_token"
	authCookieTTL  = 30 * 24 * time.Hour

	roleAdmin = "admin"
	roleUser  = "user"
)

// Principal — аутентифицированный владелец запроса.
type Principal struct {
	AccountID string
	IsAdmin   bool
}

// AuthMiddleware выполняет проверку аутентификации пользователя по подписанному cookie.
type AuthMiddleware struct {
	secretKey []byte
}

// NewAuthMiddleware создаёт новый экземпляр AuthMiddleware с указанным секретным ключом.
func NewAuthMiddleware(secret string) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}

	return &AuthMiddleware{
		secretKey: key,
	}
}

// Middleware проверяет cookie авторизации и добавляет владельца запроса в контекст.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(authCookieName)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		p, ok := a.parseCookie(cookie.Value)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), principalKey, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin пропускает только запросы администратора. Должен стоять после Middleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := GetPrincipalFromContext(r.Context())
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}
		if !p.IsAdmin {
			http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// SetAuthCookie устанавливает cookie авторизации для указанного владельца.
func (a *AuthMiddleware) SetAuthCookie(w http.ResponseWriter, p Principal) {
	cookie := &http.Cookie{
		Name:     authCookieName,
		Value:    a.sign(payload(p)),
		Path:     "/",
		Expires:  time.Now().Add(authCookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	http.SetCookie(w, cookie)
}

// ClearAuthCookie удаляет cookie авторизации.
func (a *AuthMiddleware) ClearAuthCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     authCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

func payload(p Principal) string {
	role := roleUser
	if p.IsAdmin {
		role = roleAdmin
	}
	return p.AccountID + ":" + role
}

func (a *AuthMiddleware) signature(data string) string {
	mac := hmac.New(sha256.New, a.secretKey)
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *AuthMiddleware) sign(data string) string {
	return data + "." + a.signature(data)
}

func (a *AuthMiddleware) parseCookie(cookieValue string) (Principal, bool) {
	i := strings.LastIndex(cookieValue, ".")
	if i <= 0 {
		return Principal{}, false
	}
	data, sig := cookieValue[:i], cookieValue[i+1:]

	if !hmac.Equal([]byte(sig), []byte(a.signature(data))) {
		return Principal{}, false
	}

	j := strings.LastIndex(data, ":")
	if j <= 0 {
		return Principal{}, false
	}
	id, role := data[:j], data[j+1:]
	switch role {
	case roleAdmin:
		return Principal{AccountID: id, IsAdmin: true}, true
	case roleUser:
		return Principal{AccountID: id}, true
	}
	return Principal{}, false
}

// GetPrincipalFromContext извлекает владельца запроса из контекста.
func GetPrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

// WithPrincipal возвращает контекст с владельцем запроса.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}
