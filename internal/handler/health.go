package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger проверяет доступность хранилища для /ready.
type Pinger func() error

// SessionCounter reports how many sessions have a live connection.
type SessionCounter interface {
	ActiveSessions() int
}

func Health(sessions SessionCounter) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{
			"status":  "ok",
			"service": "support-service",
			"time":    time.Now().Unix(),
		}
		if sessions != nil {
			body["active_sessions"] = sessions.ActiveSessions()
		}
		c.JSON(http.StatusOK, body)
	}
}

func Ready(ping Pinger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if ping != nil {
			if err := ping(); err != nil {
				c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": err.Error()})
				return
			}
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}
