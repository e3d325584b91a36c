package handlers

import (
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"blog-admin/pkg/services"
)

const worksetKey = "workset"

// WorksetRequired attaches the session's workset to the request, starting a
// new one when the session has none.
func WorksetRequired(m *services.WorksetManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		id, _ := session.Get(worksetKey).(string)
		ws, err := m.Open(id)
		if err != nil {
			ws, err = m.Open(services.NewWorksetID())
			if err != nil {
				log.WithError(err).Error("Failed to open workset")
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			session.Set(worksetKey, ws.ID)
			if err := session.Save(); err != nil {
				log.WithError(err).Warn("Failed to save session")
			}
		}
		c.Set(worksetKey, ws)
		c.Next()
	}
}

func currentWorkset(c *gin.Context) *services.Workset {
	return c.MustGet(worksetKey).(*services.Workset)
}

// flash queues messages for the next rendered page.
func flash(c *gin.Context, messages ...string) {
	session := sessions.Default(c)
	for _, m := range messages {
		session.AddFlash(m)
	}
	if err := session.Save(); err != nil {
		log.WithError(err).Warn("Failed to save flash messages")
	}
}

// takeFlashes returns and clears the queued messages.
func takeFlashes(c *gin.Context) []string {
	session := sessions.Default(c)
	var out []string
	for _, f := range session.Flashes() {
		if s, ok := f.(string); ok {
			out = append(out, s)
		}
	}
	if len(out) > 0 {
		if err := session.Save(); err != nil {
			log.WithError(err).Warn("Failed to clear flash messages")
		}
	}
	return out
}
