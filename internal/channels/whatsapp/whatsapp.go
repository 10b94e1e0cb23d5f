// Package whatsapp implements the Twilio WhatsApp webhook channel.
package whatsapp

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/sawitlab/tanya/internal/bus"
)

// Dispatcher is the outbound delivery contract the webhook depends on.
type Dispatcher interface {
	Dispatch(ctx context.Context, reply bus.OutboundReply) (bus.DeliveryResult, error)
}

// Processor matches channels.Processor; redeclared locally to keep the
// package free of an import cycle through the abstraction package.
type Processor interface {
	Process(ctx context.Context, msg bus.InboundMessage) bus.OutboundReply
}

// Webhook handles inbound Twilio WhatsApp messages. The HTTP response is just
// an acknowledgment; the actual reply is delivered through the dispatcher.
type Webhook struct {
	verifier   Verifier
	processor  Processor
	dispatcher Dispatcher
}

// NewWebhook creates the WhatsApp webhook channel.
func NewWebhook(verifier Verifier, processor Processor, dispatcher Dispatcher) *Webhook {
	return &Webhook{verifier: verifier, processor: processor, dispatcher: dispatcher}
}

func (w *Webhook) Name() string  { return bus.ChannelWhatsApp }
func (w *Webhook) Route() string { return "POST /webhooks/whatsapp" }

func (w *Webhook) Handler() http.Handler {
	return http.HandlerFunc(w.handle)
}

func (w *Webhook) handle(rw http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(rw, "bad request", http.StatusBadRequest)
		return
	}

	if !w.verifier.Verify(r, r.PostForm) {
		slog.Warn("security.signature_rejected", "channel", "whatsapp")
		http.Error(rw, "forbidden", http.StatusForbidden)
		return
	}

	msg, err := Normalize(r.PostForm, time.Now().UTC())
	if err != nil {
		slog.Warn("whatsapp payload rejected", "error", err)
		http.Error(rw, "bad request", http.StatusBadRequest)
		return
	}

	if HasMedia(msg) && msg.Text == "" {
		slog.Info("non-text message ignored", "channel", "whatsapp")
		rw.WriteHeader(http.StatusOK)
		rw.Write([]byte("ignored"))
		return
	}

	reply := w.processor.Process(r.Context(), msg)

	// Delivery runs detached from the webhook deadline: Twilio only needs
	// the acknowledgment, and a slow send must not block the 200.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := w.dispatcher.Dispatch(ctx, reply); err != nil {
			slog.Error("whatsapp reply delivery failed", "error", err)
		}
	}()

	rw.WriteHeader(http.StatusOK)
	rw.Write([]byte("OK"))
}
