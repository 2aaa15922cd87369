package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/iapessoastecnologia/CredAnalyzer-backend/internal/config"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/pkg/logger"
	"github.com/iapessoastecnologia/CredAnalyzer-backend/pkg/res"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	// ContextUserIDKey is where RequireAuth stores the authenticated user id.
	ContextUserIDKey = "userID"
	authHeaderPrefix = "Bearer "
)

// TokenClaims are the JWT claims issued by the auth service.
type TokenClaims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

// JWTMiddleware authenticates requests on user-scoped routes.
type JWTMiddleware struct {
	secret []byte
	log    *logger.Logger
}

// NewJWTMiddleware creates the middleware. The signing secret must be set.
func NewJWTMiddleware(cfg *config.Config, log *logger.Logger) (*JWTMiddleware, error) {
	if cfg.Auth.JWTSecret == "" {
		return nil, errors.New("jwt secret is not configured")
	}
	return &JWTMiddleware{secret: []byte(cfg.Auth.JWTSecret), log: log}, nil
}

// RequireAuth validates the bearer token and, when the route carries a
// :userId parameter, checks it matches the token's subject.
func (m *JWTMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, authHeaderPrefix) {
			m.abort(c, "missing authorization token")
			return
		}

		claims, err := m.validate(strings.TrimPrefix(authHeader, authHeaderPrefix))
		if err != nil {
			m.log.Warnw("Token validation failed", "error", err, "path", c.FullPath())
			m.abort(c, "invalid authorization token")
			return
		}

		if paramUser := c.Param("userId"); paramUser != "" && paramUser != claims.UserID {
			m.log.Warnw("Token subject does not match requested user",
				"tokenUser", claims.UserID, "paramUser", paramUser)
			res.Error(c, http.StatusForbidden, "forbidden")
			return
		}

		c.Set(ContextUserIDKey, claims.UserID)
		c.Next()
	}
}

func (m *JWTMiddleware) validate(tokenString string) (*TokenClaims, error) {
	claims := &TokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.UserID == "" {
		return nil, errors.New("token is not valid")
	}
	return claims, nil
}

func (m *JWTMiddleware) abort(c *gin.Context, msg string) {
	res.Error(c, http.StatusUnauthorized, msg)
}
