package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/newrelic/go-agent/v3/integrations/nrgin"
)

// NewRelicAttributes tags the request's New Relic transaction with the trip,
// driver and fare category it addresses so traces can be searched by them.
// It is a no-op when the agent is disabled.
func NewRelicAttributes() gin.HandlerFunc {
	return func(c *gin.Context) {
		txn := nrgin.Transaction(c)
		if txn == nil {
			c.Next()
			return
		}

		if id := c.Param("id"); id != "" {
			txn.AddAttribute(resourceAttribute(c.FullPath()), id)
		}

		c.Next()

		// Record error if present.
		for _, err := range c.Errors {
			txn.NoticeError(err.Err)
		}
	}
}

func resourceAttribute(route string) string {
	switch {
	case strings.HasPrefix(route, "/v1/trips"):
		return "trip_id"
	case strings.HasPrefix(route, "/v1/drivers"):
		return "driver_id"
	case strings.HasPrefix(route, "/v1/fare-categories"):
		return "fare_category_id"
	default:
		return "resource_id"
	}
}
