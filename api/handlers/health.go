package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/syncstack/airsync/services"
)

func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Status reports the push loop phase per account and the currently scheduled
// polling interval.
func Status(s *services.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"push":              s.Push.Status(),
			"scheduledInterval": s.Scheduler.EffectiveInterval().String(),
			"networkOnline":     s.Network.Online(),
		})
	}
}
