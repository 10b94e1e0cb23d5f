// Package channels provides the channel abstraction layer connecting external
// messaging platforms to the turn pipeline. Each channel owns exactly two
// jobs: canonicalizing its raw inbound payload into a bus.InboundMessage, and
// delivering the composed reply under its platform's contract. Business logic
// never lives here.
package channels

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/sawitlab/tanya/internal/bus"
)

// ErrMalformedPayload is returned by normalizers when required fields are
// absent. One of only two errors that surface to the calling transport.
var ErrMalformedPayload = errors.New("malformed payload")

// ErrAuthenticationFailed is returned when a webhook's authenticity check
// rejects the request. Unverified requests never reach the pipeline.
var ErrAuthenticationFailed = errors.New("authentication failed")

// Processor is the pipeline contract channels depend on. Process is total:
// it always yields a reply, degrading internally on failure.
type Processor interface {
	Process(ctx context.Context, msg bus.InboundMessage) bus.OutboundReply
}

// Channel is a long-running channel with its own transport (e.g. Telegram
// long polling).
type Channel interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// WebhookChannel is an inbound channel served from the gateway's HTTP mux.
type WebhookChannel interface {
	Name() string
	// Route returns the mux pattern (e.g. "POST /webhooks/whatsapp").
	Route() string
	Handler() http.Handler
}

// Truncate shortens a string to maxLen, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// AllowedSender checks an allowlist. Empty allowlist means everyone.
func AllowedSender(allowList []string, senderID string) bool {
	if len(allowList) == 0 {
		return true
	}
	for _, allowed := range allowList {
		if senderID == allowed || senderID == strings.TrimPrefix(allowed, "@") {
			return true
		}
	}
	return false
}
