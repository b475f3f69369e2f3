// Package middleware содержит HTTP middleware сервиса подбора исполнителей.
package middleware

import (
	"context"
	"crypto/rand"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/fairmatch/internal/model"
)

type contextKey string

const principalKey contextKey = "principal"

var (
	// ErrTokenInvalid возвращается для неподписанного, повреждённого или чужого токена.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrTokenExpired возвращается для токена с истёкшим сроком действия.
	ErrTokenExpired = errors.New("token expired")
)

// PrincipalResolver превращает id из токена в профиль пользователя.
type PrincipalResolver interface {
	ResolvePrincipal(ctx context.Context, userID int64) (*model.User, error)
}

// AuthMiddleware проверяет bearer-токен (JWT, HS256) и кладёт профиль пользователя в контекст запроса.
// Токены выпускает внешняя система учётных записей, id пользователя передаётся в claim sub.
type AuthMiddleware struct {
	secretKey []byte
	resolver  PrincipalResolver
	logger    *zap.Logger
	parser    *jwt.Parser
}

// NewAuthMiddleware создаёт AuthMiddleware. Пустой секрет заменяется случайным ключом:
// такой режим годится только для локального запуска.
func NewAuthMiddleware(secret string, resolver PrincipalResolver, logger *zap.Logger) *AuthMiddleware {
	key := []byte(secret)
	if len(key) == 0 {
		randomKey := make([]byte, 32)
		if _, err := rand.Read(randomKey); err == nil {
			key = randomKey
		} else {
			key = []byte("default-secret-key")
		}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AuthMiddleware{
		secretKey: key,
		resolver:  resolver,
		logger:    logger,
		parser:    jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

// Middleware проверяет заголовок Authorization и добавляет профиль пользователя в контекст запроса.
func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		userID, err := a.ParseToken(token)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			return
		}

		user, err := a.resolver.ResolvePrincipal(r.Context(), userID)
		if err != nil {
			switch {
			case errors.Is(err, model.ErrNotFound):
				http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
			case errors.Is(err, model.ErrUnavailable):
				a.logger.Warn("principal resolver unavailable", zap.Error(err), zap.Int64("userID", userID))
				http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			default:
				a.logger.Error("resolve principal error", zap.Error(err), zap.Int64("userID", userID))
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			}
			return
		}

		ctx := context.WithValue(r.Context(), principalKey, *user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ParseToken проверяет подпись и срок действия токена и возвращает id пользователя из claim sub.
func (a *AuthMiddleware) ParseToken(token string) (int64, error) {
	var claims jwt.RegisteredClaims
	tok, err := a.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.secretKey, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, ErrTokenExpired
		}
		return 0, ErrTokenInvalid
	}
	if tok == nil || !tok.Valid {
		return 0, ErrTokenInvalid
	}

	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, ErrTokenInvalid
	}
	return id, nil
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// WithPrincipal возвращает контекст с профилем пользователя.
func WithPrincipal(ctx context.Context, u model.User) context.Context {
	return context.WithValue(ctx, principalKey, u)
}

// GetPrincipalFromContext извлекает профиль пользователя из контекста запроса.
func GetPrincipalFromContext(ctx context.Context) (model.User, bool) {
	u, ok := ctx.Value(principalKey).(model.User)
	return u, ok
}
