package http

import (
	"net/http"

	echo "github.com/labstack/echo/v4"

	"github.com/relaypoint/email-gateway/internal/queue"
)

func queueHealthHandler(queues []*queue.Queue, th queue.HealthThresholds) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()

		type entry struct {
			Queue   string       `json:"queue"`
			Counts  queue.Counts `json:"counts"`
			Healthy bool         `json:"healthy"`
		}

		healthy := true
		entries := make([]entry, 0, len(queues))
		for _, q := range queues {
			counts, err := q.Counts(ctx)
			if err != nil {
				c.Logger().Errorf("queue counts failed: %v", err)

				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "queue unavailable"})
			}
			ok := counts.Healthy(th)
			healthy = healthy && ok
			entries = append(entries, entry{Queue: q.Name(), Counts: counts, Healthy: ok})
		}

		status := http.StatusOK
		if !healthy {
			status = http.StatusServiceUnavailable
		}
		return c.JSON(status, map[string]any{
			"healthy": healthy,
			"queues":  entries,
		})
	}
}
