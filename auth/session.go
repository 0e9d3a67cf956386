package auth

import (
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"example/aegis-portal/app/store"
)

// SessionMiddleware enforces bearer-token auth for dashboard endpoints and
// injects the session's user into the request context.
func SessionMiddleware(tokens *TokenManager, st store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			respondUnauthorized(c, "missing authorization header")
			return
		}

		token, ok := extractBearerToken(authHeader)
		if !ok {
			respondUnauthorized(c, "invalid authorization header")
			return
		}

		userID, err := tokens.Verify(token)
		if err != nil {
			log.Printf("session auth failure path=%s err=%v", c.Request.URL.Path, err)
			respondUnauthorized(c, "invalid token")
			return
		}

		user, err := st.UserByID(c.Request.Context(), userID)
		if err != nil {
			log.Printf("session user %d lookup failed: %v", userID, err)
			respondUnauthorized(c, "invalid token")
			return
		}

		c.Request = c.Request.WithContext(WithUser(c.Request.Context(), &user))
		c.Next()
	}
}

func extractBearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return "", false
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}

func respondUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"error": message,
	})
}
