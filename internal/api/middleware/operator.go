package middleware

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const OperatorTokenHeader = "X-Operator-Token"

// OperatorRequired guards process-wide operations. With verified claims the
// token must carry role in "roles" or Keycloak's "realm_access.roles";
// otherwise the X-Operator-Token header must match token. An empty token
// disables the header path.
func OperatorRequired(role, token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if claims, exists := c.Get(ClaimsKey); exists {
			jwtClaims, _ := claims.(jwt.MapClaims)
			if role != "" && hasRole(jwtClaims, role) {
				c.Next()
				return
			}
		} else if token != "" {
			given := c.GetHeader(OperatorTokenHeader)
			if subtle.ConstantTimeCompare([]byte(given), []byte(token)) == 1 {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Operator access required"})
	}
}

func hasRole(claims jwt.MapClaims, role string) bool {
	if containsRole(claims["roles"], role) {
		return true
	}
	if realm, ok := claims["realm_access"].(map[string]any); ok {
		return containsRole(realm["roles"], role)
	}
	return false
}

func containsRole(v any, role string) bool {
	roles, _ := v.([]any)
	for _, r := range roles {
		if s, _ := r.(string); s == role {
			return true
		}
	}
	return false
}
