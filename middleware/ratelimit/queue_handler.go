package ratelimit

import (
	"net/http"
	"strings"

	"ratelimit-gateway/middleware/ratelimit/domain"
)

type QueueStatusReader interface {
	Status(id domain.AppID) domain.QueueStatus
}

// QueueStatusHandler responde {queueLength, draining} do app em
// GET /queues/{appId}.
func QueueStatusHandler(q QueueStatusReader) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.PathValue("appId"))
		if id == "" {
			writeJSON(w, http.StatusBadRequest, errorBody{Message: "App ID is required"})
			return
		}
		writeJSON(w, http.StatusOK, q.Status(domain.AppID(id)))
	})
}
