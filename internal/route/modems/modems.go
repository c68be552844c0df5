// Package modems exposes the live modem listing on the management surface.
package modems

import (
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/chirino/sms-service/internal/modem"
	"github.com/chirino/sms-service/internal/route/messages"
	"github.com/gin-gonic/gin"
)

// MountRoutes mounts the modem listing route.
func MountRoutes(r *gin.Engine, source modem.Source) {
	r.GET("/modems", func(c *gin.Context) {
		modems, err := source.ListModems(c.Request.Context())
		if err != nil {
			log.Error("Modem listing failed", "err", err)
			c.JSON(http.StatusInternalServerError, messages.Response{
				Success: false,
				Error:   "failed to list modems",
			})
			return
		}
		if modems == nil {
			modems = []modem.Modem{}
		}
		c.JSON(http.StatusOK, messages.Response{Success: true, Data: modems})
	})
}
