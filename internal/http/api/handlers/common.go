package handlers

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

func nowUTC() time.Time {
	return time.Now().UTC()
}

func parseDate(raw string) (time.Time, error) {
	return time.Parse("2006-01-02", raw)
}

// pagination reads page/page_size query params with sane bounds.
func pagination(c *gin.Context) (offset, limit int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	size, _ := strconv.Atoi(c.DefaultQuery("page_size", "50"))
	if size < 1 {
		size = 50
	}
	if size > 200 {
		size = 200
	}
	return (page - 1) * size, size
}
