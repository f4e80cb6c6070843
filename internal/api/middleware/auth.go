// auth.go — JWT middleware: RS256 + JWKS.
// Владелец всех ресурсов pipeline-module — sub из токена.
// Service Account (client_id + scope) используется сервисом извлечения
// для callback и проверяется по scope.
package middleware

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/smartact/internal/api/errors"
)

// ScopeCallback — scope Service Account сервиса извлечения.
const ScopeCallback = "meetings:callback"

// SubjectType — тип субъекта токена.
type SubjectType string

const (
	SubjectTypeUser           SubjectType = "user"
	SubjectTypeServiceAccount SubjectType = "service_account"
)

type contextKey string

const contextKeyIdentity contextKey = "pm_identity"

// Identity — субъект запроса.
type Identity struct {
	// Subject — sub, он же owner_id ресурсов
	Subject     string
	SubjectType SubjectType
	ClientID    string
	Scopes      []string
}

// HasScope проверяет наличие scope.
func (i *Identity) HasScope(scope string) bool {
	return i != nil && slices.Contains(i.Scopes, scope)
}

// tokenClaims — claims токена. scope может прийти строкой (Keycloak)
// или массивом (scopes).
type tokenClaims struct {
	jwt.RegisteredClaims
	ClientID    string   `json:"client_id"`
	ScopeString string   `json:"scope"`
	ScopeArray  []string `json:"scopes"`
}

func (c *tokenClaims) scopes() []string {
	result := strings.Fields(c.ScopeString)
	return append(result, c.ScopeArray...)
}

// JWTAuthConfig — параметры JWT middleware.
type JWTAuthConfig struct {
	JWKSURL         string
	CACertPath      string
	Issuer          string
	ClientTimeout   time.Duration
	RefreshInterval time.Duration
	Leeway          time.Duration
}

// JWTAuth — проверка Bearer-токенов.
type JWTAuth struct {
	jwks   keyfunc.Keyfunc
	issuer string
	leeway time.Duration
	logger *slog.Logger
}

// NewJWTAuth создаёт middleware с JWKS, загружаемым по HTTP.
// Первая неудачная загрузка JWKS не останавливает запуск.
func NewJWTAuth(cfg JWTAuthConfig, logger *slog.Logger) (*JWTAuth, error) {
	client, err := httpClientWithCA(cfg.CACertPath, cfg.ClientTimeout)
	if err != nil {
		return nil, err
	}

	storage, err := jwkset.NewStorageFromHTTP(cfg.JWKSURL, jwkset.HTTPClientStorageOptions{
		Client:                    client,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           cfg.RefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", cfg.JWKSURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}
	return NewJWTAuthWithKeyfunc(k, cfg.Issuer, cfg.Leeway, logger), nil
}

// NewJWTAuthWithKeyfunc создаёт middleware с готовой keyfunc (тесты).
func NewJWTAuthWithKeyfunc(kf keyfunc.Keyfunc, issuer string, leeway time.Duration, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{
		jwks:   kf,
		issuer: issuer,
		leeway: leeway,
		logger: logger.With(slog.String("component", "jwt_auth")),
	}
}

func httpClientWithCA(caCertPath string, timeout time.Duration) (*http.Client, error) {
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12}
	if caCertPath != "" {
		pem, err := os.ReadFile(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата %s: %w", caCertPath, err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("CA-сертификат %s не содержит PEM-блоков", caCertPath)
		}
		tlsConfig.RootCAs = pool
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: &http.Transport{TLSClientConfig: tlsConfig},
	}, nil
}

// Middleware проверяет Bearer-токен и помещает Identity в контекст.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apierrors.Unauthorized(w, "Отсутствует заголовок Authorization")
				return
			}
			scheme, tokenString, ok := strings.Cut(authHeader, " ")
			if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(tokenString) == "" {
				apierrors.Unauthorized(w, "Неверный формат Authorization: ожидается Bearer <token>")
				return
			}

			opts := []jwt.ParserOption{
				jwt.WithValidMethods([]string{"RS256"}),
				jwt.WithExpirationRequired(),
				jwt.WithLeeway(j.leeway),
			}
			if j.issuer != "" {
				opts = append(opts, jwt.WithIssuer(j.issuer))
			}

			claims := &tokenClaims{}
			token, err := jwt.ParseWithClaims(strings.TrimSpace(tokenString), claims, j.jwks.KeyfuncCtx(r.Context()), opts...)
			if err != nil || !token.Valid {
				msg := "невалидный токен"
				if err != nil {
					msg = err.Error()
				}
				j.logger.Debug("JWT валидация не пройдена",
					slog.String("error", msg),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}
			if claims.Subject == "" {
				apierrors.Unauthorized(w, "Отсутствует sub в токене")
				return
			}

			id := &Identity{
				Subject:     claims.Subject,
				SubjectType: SubjectTypeUser,
				ClientID:    claims.ClientID,
				Scopes:      claims.scopes(),
			}
			if claims.ClientID != "" && len(id.Scopes) > 0 {
				id.SubjectType = SubjectTypeServiceAccount
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}

// RequireScope пропускает только запросы с указанным scope.
// Используется после JWTAuth.Middleware().
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !IdentityFromContext(r.Context()).HasScope(scope) {
				apierrors.Forbidden(w, "Недостаточно прав: требуется scope "+scope)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithIdentity помещает Identity в контекст.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	if h, ok := ctx.Value(contextKeyIdentityHolder).(*identityHolder); ok && id != nil {
		h.owner = id.Subject
	}
	return context.WithValue(ctx, contextKeyIdentity, id)
}

// IdentityFromContext возвращает Identity или nil.
func IdentityFromContext(ctx context.Context) *Identity {
	id, _ := ctx.Value(contextKeyIdentity).(*Identity)
	return id
}

// OwnerFromContext возвращает владельца запроса (sub) или пустую строку.
func OwnerFromContext(ctx context.Context) string {
	if id := IdentityFromContext(ctx); id != nil {
		return id.Subject
	}
	return ""
}
