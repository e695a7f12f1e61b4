package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/durvesh-thorat/RETRIVA/database"
	"github.com/durvesh-thorat/RETRIVA/version"
	"github.com/durvesh-thorat/RETRIVA/ws"
)

// StatusReporter exposes the connection state of a broker component.
type StatusReporter interface {
	IsConnected() bool
}

// SystemHandler serves health and version.
type SystemHandler struct {
	db         *database.Database
	hub        *ws.Hub
	publisher  StatusReporter
	subscriber StatusReporter
	service    string
}

func NewSystemHandler(db *database.Database, hub *ws.Hub, publisher, subscriber StatusReporter, service string) *SystemHandler {
	return &SystemHandler{
		db:         db,
		hub:        hub,
		publisher:  publisher,
		subscriber: subscriber,
		service:    service,
	}
}

// Health reports readiness. A broker outage degrades analysis but not the
// REST surface, so only the database decides the status code.
func (h *SystemHandler) Health(c *gin.Context) {
	status := http.StatusOK
	dbState := "up"
	if err := h.db.GetDB().Ping(); err != nil {
		dbState = "down"
		status = http.StatusServiceUnavailable
	}

	c.JSON(status, gin.H{
		"status":   statusWord(status),
		"service":  h.service,
		"database": dbState,
		"rabbitmq": gin.H{
			"publisher":  connected(h.publisher),
			"subscriber": connected(h.subscriber),
		},
		"websocket_clients": h.hub.ClientCount(),
		"timestamp":         time.Now().UTC(),
	})
}

// Version reports build information.
func (h *SystemHandler) Version(c *gin.Context) {
	c.JSON(http.StatusOK, version.Get(h.service))
}

func statusWord(status int) string {
	if status == http.StatusOK {
		return "healthy"
	}
	return "unhealthy"
}

func connected(r StatusReporter) bool {
	return r != nil && r.IsConnected()
}
