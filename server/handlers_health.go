package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/onnwee/chatcaster/chat"
)

// HandleHealthz is the liveness probe.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz fails when the chat session is in the error state or any
// configured dependency check fails.
func (h *Handlers) HandleReadyz(w http.ResponseWriter, r *http.Request) {
	checks := append([]ReadyCheck{{Name: "session", Check: func(context.Context) error {
		if h.ctl.Status().State == chat.StateError.String() {
			return errors.New("chat session in error state")
		}
		return nil
	}}}, h.ready...)

	for _, check := range checks {
		if err := check.Check(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":       "not_ready",
				"failed_check": check.Name,
				"error":        err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// HandleStatus returns the controller status snapshot.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctl.Status())
}
