package identity

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// CallerHeader names the caller principal when no TokenIssuer is configured.
const CallerHeader = "X-Treasury-Caller"

const ctxCaller = "treasury_caller"

// RequireCaller resolves the calling principal and stores it in the context.
// With a TokenIssuer, a valid Bearer token is required and its subject becomes
// the caller. Without one, the X-Treasury-Caller header is trusted as-is.
func RequireCaller(tokens *TokenIssuer) gin.HandlerFunc {
	if tokens == nil {
		return func(c *gin.Context) {
			caller := strings.TrimSpace(c.GetHeader(CallerHeader))
			if caller == "" {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": CallerHeader + " header required",
				})
				return
			}
			c.Set(ctxCaller, caller)
			c.Next()
		}
	}

	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Bearer token required",
			})
			return
		}

		claims, err := tokens.Verify(strings.TrimPrefix(authHeader, "Bearer "))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "invalid token: " + err.Error(),
			})
			return
		}

		c.Set(ctxCaller, claims.Principal)
		c.Next()
	}
}

// CallerFromCtx returns the principal injected by RequireCaller, or "".
func CallerFromCtx(c *gin.Context) string {
	v, _ := c.Get(ctxCaller)
	s, _ := v.(string)
	return s
}
