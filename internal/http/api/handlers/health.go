package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/smswire/concierge/internal/queue"
)

// HealthHandler answers liveness probes.
type HealthHandler struct {
	db    *gorm.DB
	queue *queue.Queue
}

// NewHealthHandler constructs a HealthHandler.
func NewHealthHandler(db *gorm.DB, q *queue.Queue) *HealthHandler {
	return &HealthHandler{db: db, queue: q}
}

// Check verifies the database connection and reports queue depth.
func (h *HealthHandler) Check(c *gin.Context) {
	sqlDB, errDB := h.db.DB()
	if errDB == nil {
		errDB = sqlDB.PingContext(c.Request.Context())
	}
	if errDB != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "database": errDB.Error()})
		return
	}

	out := gin.H{"status": "ok"}
	if h.queue != nil {
		if pending, errLen := h.queue.Len(c.Request.Context()); errLen == nil {
			out["queue_pending"] = pending
		}
	}
	c.JSON(http.StatusOK, out)
}
