package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
	"go.uber.org/zap"

	"github.com/fatflowers/finepay/pkg/logctx"
	"github.com/fatflowers/finepay/pkg/response"
)

const operatorKey = "operator"

// AdminAuthMiddleware accepts HS256 bearer tokens signed with secret. The token subject is the
// operator name stamped on admin actions. An empty secret rejects every request.
func AdminAuthMiddleware(secret string, base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logctx.FromGin(c, base)
		raw := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if secret == "" || raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorT[any](response.APIResponseCodeUnauthorized, nil))
			return
		}

		claims := &jwt.StandardClaims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid || claims.Subject == "" {
			log.Warnw("admin_auth_rejected", "err", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorT[any](response.APIResponseCodeUnauthorized, nil))
			return
		}

		c.Set(operatorKey, claims.Subject)
		c.Set(logctx.GinLoggerKey, log.With("operator", claims.Subject))
		c.Request = c.Request.WithContext(logctx.WithUserID(c.Request.Context(), claims.Subject))
		c.Next()
	}
}

// Operator returns the authenticated operator name.
func Operator(c *gin.Context) string {
	return c.GetString(operatorKey)
}
