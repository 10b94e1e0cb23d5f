package bus

import "time"

// Channel identifiers. Channels form a closed set; the pipeline branches on
// capability interfaces, never on these names.
const (
	ChannelWhatsApp = "whatsapp"
	ChannelDiscord  = "discord"
	ChannelWebchat  = "webchat"
	ChannelTelegram = "telegram"
)

// InboundMessage is the canonical form of a message received from any channel.
// MessageID is the idempotency key and is immutable once created.
type InboundMessage struct {
	Channel        string    `json:"channel"`
	ExternalUserID string    `json:"external_user_id"`
	MessageID      string    `json:"message_id"`
	Text           string    `json:"text"`
	ReceivedAt     time.Time `json:"received_at"`

	// ReplyTarget is the channel-specific delivery address for the reply
	// (phone number, interaction token, chat ID). Carried alongside the
	// canonical fields so the dispatcher never re-parses raw payloads.
	ReplyTarget string `json:"reply_target,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`
}

// OutboundReply is the composed reply for one inbound message.
// Dispatch is attempted at-least-once per reply.
type OutboundReply struct {
	Channel  string            `json:"channel"`
	Target   string            `json:"target"`
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// DeliveryResult reports the outcome of dispatching one reply.
type DeliveryResult struct {
	Delivered bool   `json:"delivered"`
	Attempts  int    `json:"attempts"`
	Body      string `json:"body,omitempty"` // response body for synchronous channels
}
