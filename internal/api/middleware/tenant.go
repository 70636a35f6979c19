package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const OrganizationHeader = "X-Organization-ID"

// Tenant resolves the organization id the request acts for. With verified
// claims the orgClaim claim is authoritative; without them the
// X-Organization-ID header is used.
func Tenant(orgClaim string) gin.HandlerFunc {
	if orgClaim == "" {
		orgClaim = "organization"
	}
	return func(c *gin.Context) {
		var organization string

		if claims, exists := c.Get(ClaimsKey); exists {
			jwtClaims, _ := claims.(jwt.MapClaims)
			organization, _ = jwtClaims[orgClaim].(string)
			if organization == "" {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "Organization not found in token"})
				return
			}
		} else {
			organization = strings.TrimSpace(c.GetHeader(OrganizationHeader))
			if organization == "" {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": OrganizationHeader + " header required"})
				return
			}
		}

		c.Set(TenantIDKey, organization)
		c.Next()
	}
}
