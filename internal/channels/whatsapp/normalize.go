package whatsapp

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sawitlab/tanya/internal/bus"
	"github.com/sawitlab/tanya/internal/channels"
)

// Normalize converts a Twilio WhatsApp webhook form payload into the
// canonical inbound message. Pure mapping; no business logic.
func Normalize(form url.Values, receivedAt time.Time) (bus.InboundMessage, error) {
	from := form.Get("From")
	body := form.Get("Body")
	messageSid := form.Get("MessageSid")
	if from == "" || messageSid == "" {
		return bus.InboundMessage{}, fmt.Errorf("%w: missing From or MessageSid", channels.ErrMalformedPayload)
	}

	// WaId is the bare WhatsApp number; prefer it as the stable user id.
	userID := form.Get("WaId")
	if userID == "" {
		userID = strings.TrimPrefix(from, "whatsapp:")
	}

	numMedia := 0
	if v := form.Get("NumMedia"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			numMedia = n
		}
	}

	return bus.InboundMessage{
		Channel:        bus.ChannelWhatsApp,
		ExternalUserID: userID,
		MessageID:      messageSid,
		Text:           body,
		ReceivedAt:     receivedAt,
		ReplyTarget:    from,
		Metadata: map[string]string{
			"num_media": strconv.Itoa(numMedia),
		},
	}, nil
}

// HasMedia reports whether the normalized message carried media attachments.
// Media-only messages are acknowledged and skipped.
func HasMedia(msg bus.InboundMessage) bool {
	return msg.Metadata["num_media"] != "" && msg.Metadata["num_media"] != "0"
}
