package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"

	"github.com/pulsetel/simhub/pkg/response"
)

// AdminAuthMiddleware guards the admin surface with a bearer JWT signed by
// the shared HS256 secret. Tokens are issued out of band by the ops tooling;
// this service only verifies them.
func AdminAuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if secret == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				response.ErrorMsgT[any](response.APIResponseCodeError, "admin auth not configured", nil))
			return
		}

		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				response.ErrorMsgT[any](response.APIResponseCodeBadRequest, "missing bearer token", nil))
			return
		}
		tokenString := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))

		claims := &jwt.StandardClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized,
				response.ErrorMsgT[any](response.APIResponseCodeBadRequest, "invalid token", nil))
			return
		}

		if claims.Subject != "" {
			c.Set("adminSubject", claims.Subject)
		}
		c.Next()
	}
}
