package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"example/aegis-portal/app/store"
)

const keyPrefixLen = 12

// GenerateAPIKey mints new key material. The full key is returned exactly
// once; only the hash and the display prefix are ever stored.
func GenerateAPIKey() (key, keyHash, keyPrefix string, err error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", "", "", fmt.Errorf("generate key material: %w", err)
	}
	key = "aegis_" + base64.RawURLEncoding.EncodeToString(raw)
	return key, HashAPIKey(key), key[:keyPrefixLen] + "...", nil
}

// HashAPIKey is the one-way lookup hash stored for each key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// APIKeyMiddleware authenticates requests via the X-API-Key header and
// injects the owning user into the request context. A valid-but-revoked key
// is rejected with 403, distinct from the 401 for unknown keys, so clients
// can tell "re-prompt for credentials" from "access explicitly denied".
func APIKeyMiddleware(st store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader("X-API-Key")
		if apiKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "API key required. Pass via X-API-Key header.",
			})
			return
		}

		key, err := st.APIKeyByHash(c.Request.Context(), HashAPIKey(apiKey))
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				log.Printf("api key lookup failed: %v", err)
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
			return
		}
		if key.Revoked {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "API key revoked"})
			return
		}

		user, err := st.UserByID(c.Request.Context(), key.UserID)
		if err != nil {
			log.Printf("api key %s references missing user %d: %v", key.ID, key.UserID, err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid API key"})
			return
		}

		if err := st.TouchAPIKey(c.Request.Context(), key.ID, time.Now().UTC()); err != nil {
			log.Printf("touch api key %s failed: %v", key.ID, err)
		}

		c.Request = c.Request.WithContext(WithUser(c.Request.Context(), &user))
		c.Next()
	}
}
