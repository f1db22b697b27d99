package server

import (
	"net/http"
	"time"
)

// HealthHandler reports liveness. With a poll status source it also reports
// readiness: a poll that has never succeeded or last failed returns 503.
func HealthHandler(lastPoll func() (time.Time, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if lastPoll != nil {
			when, err := lastPoll()
			if err != nil || when.IsZero() {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("degraded"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}
