package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/o-farouk/stockwire/internal/mail"
	"github.com/o-farouk/stockwire/internal/notify"
)

// broadcastBody is the REST trigger surface: an inventory handler posts the
// broadcast it wants fanned out, optionally with an email for the same
// event. Both side effects are fire-and-forget relative to the caller's
// primary operation.
type broadcastBody struct {
	notify.BroadcastRequest
	Mail *mailBody `json:"mail,omitempty"`
}

type mailBody struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text,omitempty"`
	HTML    string   `json:"html,omitempty"`
}

func (a *App) broadcastHandler(w http.ResponseWriter, r *http.Request) {
	var body broadcastBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	a.hub.Dispatch(body.BroadcastRequest)

	if body.Mail != nil && a.mailer != nil {
		msg := mail.Message{
			To:      body.Mail.To,
			Subject: body.Mail.Subject,
			Text:    body.Mail.Text,
			HTML:    body.Mail.HTML,
		}
		// Mail must never delay or fail the triggering request.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if _, err := a.mailer.Send(ctx, msg); err != nil {
				a.logger.Warn("Triggered mail failed", slog.Any("error", err))
			}
		}()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
}
