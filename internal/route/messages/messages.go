// Package messages exposes the read-only query API over the message store.
package messages

import (
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/sms-service/internal/model"
	registrystore "github.com/chirino/sms-service/internal/registry/store"
	"github.com/chirino/sms-service/internal/timestamp"
	"github.com/gin-gonic/gin"
)

// Response is the success/error envelope every query endpoint returns.
// Validation failures come back as 400, internal failures as 500; the
// handler never leaks a transport-style error to the caller.
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// MountRoutes mounts the message query routes.
func MountRoutes(r *gin.Engine, store registrystore.MessageStore) {
	g := r.Group("/v1")

	g.GET("/messages", func(c *gin.Context) {
		var imei *string
		if v := c.Query("imei"); v != "" {
			imei = &v
		}
		listMessages(c, store, imei)
	})
	g.GET("/messages/:imei", func(c *gin.Context) {
		imei := c.Param("imei")
		listMessages(c, store, &imei)
	})
}

func listMessages(c *gin.Context, store registrystore.MessageStore, imei *string) {
	var after *time.Time
	if v := c.Query("after"); v != "" {
		t, err := timestamp.Parse(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, Response{
				Success: false,
				Error:   "invalid 'after' timestamp, expected RFC3339: " + err.Error(),
			})
			return
		}
		after = &t
	}

	msgs, err := store.Query(c.Request.Context(), imei, after)
	if err != nil {
		log.Error("Message query failed", "err", err)
		c.JSON(http.StatusInternalServerError, Response{Success: false, Error: "database error"})
		return
	}
	if msgs == nil {
		msgs = []model.Message{}
	}
	c.JSON(http.StatusOK, Response{Success: true, Data: msgs})
}
