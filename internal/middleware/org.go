package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/losehrt/fhirlinebot-sub000/internal/org"
)

const (
	ginOrgContextKey = "orgContext"

	// OrgHeader carries the organization id or slug.
	OrgHeader = "X-Org-ID"
	// OrgParam is the query or form parameter fallback for OrgHeader.
	OrgParam = "organization_id"
)

// Org resolves the organization named by the X-Org-ID header or the
// organization_id parameter. Requests without either run in the global partition.
func Org(resolver *org.Resolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		ref := strings.TrimSpace(c.Request.Header.Get(OrgHeader))
		if ref == "" {
			ref = strings.TrimSpace(c.Query(OrgParam))
		}
		if ref == "" && c.Request.Method == http.MethodPost {
			ref = strings.TrimSpace(c.PostForm(OrgParam))
		}
		if ref == "" {
			c.Next()
			return
		}

		orgCtx, err := resolver.Resolve(c.Request.Context(), ref)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "invalid_organization", "error_description": "Unknown organization."})
			return
		}

		c.Set(ginOrgContextKey, orgCtx)
		c.Set("org_id", orgCtx.Org.ID)

		c.Next()
	}
}

// GetOrgContext extracts the org context from gin.
func GetOrgContext(c *gin.Context) (*org.Context, bool) {
	value, ok := c.Get(ginOrgContextKey)
	if !ok {
		return nil, false
	}
	orgCtx, ok := value.(*org.Context)
	return orgCtx, ok
}

// OrgID returns the resolved organization id, 0 when none was requested.
func OrgID(c *gin.Context) int64 {
	orgCtx, _ := GetOrgContext(c)
	return orgCtx.ID()
}
