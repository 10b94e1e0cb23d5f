// Package webchat implements the synchronous JSON chat channel: the reply is
// returned directly in the HTTP response body, no outbound call involved.
package webchat

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sawitlab/tanya/internal/bus"
)

// Processor is the turn pipeline contract.
type Processor interface {
	Process(ctx context.Context, msg bus.InboundMessage) bus.OutboundReply
}

// turnBudget caps a synchronous turn so the caller's request never hangs;
// the pipeline degrades to the safe fallback rather than exceeding it.
const turnBudget = 15 * time.Second

// Webhook serves the JSON chat endpoint.
type Webhook struct {
	processor Processor
}

// NewWebhook creates the webchat channel.
func NewWebhook(processor Processor) *Webhook {
	return &Webhook{processor: processor}
}

func (w *Webhook) Name() string  { return bus.ChannelWebchat }
func (w *Webhook) Route() string { return "POST /chat" }

func (w *Webhook) Handler() http.Handler {
	return http.HandlerFunc(w.handle)
}

type chatRequest struct {
	Text      string `json:"text"`
	User      string `json:"user,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

type chatResponse struct {
	Answer   string `json:"answer"`
	Intent   string `json:"intent,omitempty"`
	Escalate bool   `json:"escalate"`
}

func (w *Webhook) handle(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Set("Access-Control-Allow-Origin", "*")

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		writeJSON(rw, http.StatusBadRequest, map[string]string{"error": "text is required"})
		return
	}

	user := strings.TrimSpace(req.User)
	if user == "" {
		user = "webtester"
	}
	// Browsers do not redeliver; a client-supplied id still gets idempotent
	// replay, otherwise each request is its own turn.
	messageID := req.MessageID
	if messageID == "" {
		messageID = uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(r.Context(), turnBudget)
	defer cancel()

	reply := w.processor.Process(ctx, bus.InboundMessage{
		Channel:        bus.ChannelWebchat,
		ExternalUserID: user,
		MessageID:      messageID,
		Text:           req.Text,
		ReceivedAt:     time.Now().UTC(),
		ReplyTarget:    user,
	})

	writeJSON(rw, http.StatusOK, chatResponse{
		Answer:   reply.Text,
		Intent:   reply.Metadata["intent"],
		Escalate: reply.Metadata["escalated"] == "true",
	})
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	if err := json.NewEncoder(rw).Encode(v); err != nil {
		slog.Error("webchat response encode failed", "error", err)
	}
}
