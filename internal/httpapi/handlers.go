package httpapi

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"time"

	"slack-context-bot/internal/events"
)

const maxBodyBytes = 1 << 20

type handlers struct {
	verifier   SignatureVerifier
	dispatcher Dispatcher
	queue      Enqueuer
	logger     *slog.Logger
}

// requireSignature verifies the platform's authenticity headers against the
// raw request body before any parsing happens. The body is re-buffered so
// downstream handlers can read it again.
func (h *handlers) requireSignature(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
		_ = r.Body.Close()

		timestamp := r.Header.Get("X-Slack-Request-Timestamp")
		signature := r.Header.Get("X-Slack-Signature")
		if !h.verifier.Verify(timestamp, string(body), signature) {
			h.logger.Warn("request_signature_rejected", "path", r.URL.Path)
			http.Error(w, "invalid request signature", http.StatusUnauthorized)
			return
		}

		r.Body = io.NopCloser(bytes.NewReader(body))
		next.ServeHTTP(w, r)
	})
}

func (h *handlers) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":   true,
		"time": time.Now().UTC().Format(time.RFC3339),
	})
}

// handleEvents accepts event callbacks. Challenges are echoed synchronously;
// everything else is deduplicated, queued and acknowledged immediately so
// the platform's delivery deadline is never at risk.
func (h *handlers) handleEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	cb, err := events.ParseCallback(body)
	if err != nil {
		h.logger.Warn("event_callback_malformed", "error", err.Error())
		http.Error(w, "malformed event callback", http.StatusBadRequest)
		return
	}

	switch cb.Type {
	case "url_verification":
		writeJSON(w, http.StatusOK, map[string]string{"challenge": cb.Challenge})
	case "event_callback":
		if h.dispatcher.Seen(cb.EventID, body) {
			h.logger.Debug("event_duplicate_dropped", "event_id", cb.EventID)
			w.WriteHeader(http.StatusOK)
			return
		}
		ev, err := cb.InnerEvent()
		if err != nil {
			h.logger.Warn("event_payload_malformed", "event_id", cb.EventID, "error", err.Error())
			http.Error(w, "malformed event payload", http.StatusBadRequest)
			return
		}
		jobID, err := h.queue.Enqueue(ev)
		if err != nil {
			// The 503 asks the platform to retry; the dedup record must
			// not outlive the rejection or the retry would be dropped.
			h.dispatcher.Forget(cb.EventID, body)
			h.logger.Error("event_enqueue_failed", "event_id", cb.EventID, "error", err.Error())
			http.Error(w, "event queue is full", http.StatusServiceUnavailable)
			return
		}
		h.logger.Info("event_accepted", "event_id", cb.EventID, "job_id", jobID, "type", ev.Type)
		w.WriteHeader(http.StatusOK)
	default:
		h.logger.Debug("event_callback_ignored", "type", cb.Type)
		w.WriteHeader(http.StatusOK)
	}
}

// handleCommands dispatches a slash command and answers in-channel with the
// router's reply. Unknown commands produce an ephemeral error instead of a
// non-2xx, which the platform would show as a delivery failure.
func (h *handlers) handleCommands(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "failed to parse command form", http.StatusBadRequest)
		return
	}
	cmd := events.Command{
		Command:     r.PostFormValue("command"),
		Text:        r.PostFormValue("text"),
		UserID:      r.PostFormValue("user_id"),
		ChannelID:   r.PostFormValue("channel_id"),
		ResponseURL: r.PostFormValue("response_url"),
		TriggerID:   r.PostFormValue("trigger_id"),
	}

	reply, err := h.dispatcher.HandleCommand(r.Context(), cmd)
	if err != nil {
		h.logger.Warn("command_rejected", "command", cmd.Command, "error", err.Error())
		writeJSON(w, http.StatusOK, map[string]string{
			"response_type": "ephemeral",
			"text":          err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"response_type": "in_channel",
		"text":          reply,
	})
}
