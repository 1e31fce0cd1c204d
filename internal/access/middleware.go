package access

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	log "github.com/nghyane/medistream/internal/logging"
)

// SubjectKey is the gin context key holding the authenticated subject.
const SubjectKey = "subject"

// Middleware rejects requests without a valid bearer token: 401 when none is
// present, 403 when it does not verify.
func Middleware(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ExtractBearer(c.GetHeader("Authorization"))
		res, err := m.Authenticate(c.Request.Context(), token)
		switch {
		case err == nil:
			c.Set(SubjectKey, res.Subject)
			c.Next()
		case errors.Is(err, ErrNoCredentials):
			c.Header("WWW-Authenticate", "Bearer")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Not authenticated"})
		default:
			log.WithError(err).WithField("path", c.FullPath()).Info("access: rejected request")
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"detail": "Invalid token"})
		}
	}
}

// Subject returns the subject Middleware stored, or "".
func Subject(c *gin.Context) string {
	return c.GetString(SubjectKey)
}
