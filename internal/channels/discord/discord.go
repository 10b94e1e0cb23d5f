// Package discord implements the Discord Interactions webhook channel.
//
// Discord enforces a 3-second acknowledgment deadline on interactions, so
// this channel uses the deferred pattern: the HTTP response is an immediate
// type-5 acknowledgment, and the actual reply is posted afterwards through
// the interaction webhook. Ack strictly precedes content.
package discord

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/sawitlab/tanya/internal/bus"
)

// Dispatcher is the outbound delivery contract.
type Dispatcher interface {
	Dispatch(ctx context.Context, reply bus.OutboundReply) (bus.DeliveryResult, error)
}

// Processor is the turn pipeline contract.
type Processor interface {
	Process(ctx context.Context, msg bus.InboundMessage) bus.OutboundReply
}

// Webhook handles Discord interaction POSTs.
type Webhook struct {
	publicKey      ed25519.PublicKey
	verifySig      bool
	processor      Processor
	dispatcher     Dispatcher
	followUpBudget time.Duration
}

// NewWebhook creates the Discord interactions channel. publicKeyHex is the
// application's ed25519 verification key.
func NewWebhook(publicKeyHex string, verifySig bool, processor Processor, dispatcher Dispatcher) (*Webhook, error) {
	var key ed25519.PublicKey
	if verifySig {
		raw, err := hex.DecodeString(publicKeyHex)
		if err != nil || len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("invalid discord public key: %w", err)
		}
		key = ed25519.PublicKey(raw)
	}
	return &Webhook{
		publicKey:      key,
		verifySig:      verifySig,
		processor:      processor,
		dispatcher:     dispatcher,
		followUpBudget: 60 * time.Second,
	}, nil
}

func (w *Webhook) Name() string  { return bus.ChannelDiscord }
func (w *Webhook) Route() string { return "POST /webhooks/discord" }

func (w *Webhook) Handler() http.Handler {
	return http.HandlerFunc(w.handle)
}

func (w *Webhook) handle(rw http.ResponseWriter, r *http.Request) {
	if w.verifySig && !discordgo.VerifyInteraction(r, w.publicKey) {
		slog.Warn("security.signature_rejected", "channel", "discord")
		http.Error(rw, "invalid request signature", http.StatusUnauthorized)
		return
	}

	var interaction discordgo.Interaction
	if err := json.NewDecoder(r.Body).Decode(&interaction); err != nil {
		http.Error(rw, "invalid json", http.StatusBadRequest)
		return
	}

	switch interaction.Type {
	case discordgo.InteractionPing:
		writeResponse(rw, discordgo.InteractionResponse{Type: discordgo.InteractionResponsePong})

	case discordgo.InteractionApplicationCommand:
		msg, err := Normalize(&interaction, time.Now().UTC())
		if err != nil {
			slog.Warn("discord interaction rejected", "error", err)
			writeResponse(rw, discordgo.InteractionResponse{
				Type: discordgo.InteractionResponseChannelMessageWithSource,
				Data: &discordgo.InteractionResponseData{Content: "Gunakan perintah /chat dengan pertanyaan Anda."},
			})
			return
		}

		// Deferred acknowledgment first; the follow-up content call runs
		// detached from the interaction deadline.
		writeResponse(rw, discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		})

		go w.followUp(msg)

	default:
		writeResponse(rw, discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseChannelMessageWithSource,
			Data: &discordgo.InteractionResponseData{Content: "Interaksi tidak didukung."},
		})
	}
}

func (w *Webhook) followUp(msg bus.InboundMessage) {
	ctx, cancel := context.WithTimeout(context.Background(), w.followUpBudget)
	defer cancel()

	reply := w.processor.Process(ctx, msg)
	if _, err := w.dispatcher.Dispatch(ctx, reply); err != nil {
		slog.Error("discord follow-up delivery failed", "error", err)
	}
}

func writeResponse(rw http.ResponseWriter, resp discordgo.InteractionResponse) {
	rw.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(rw).Encode(resp); err != nil {
		slog.Error("discord response encode failed", "error", err)
	}
}
