package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/sawitlab/tanya/internal/bus"
)

const discordAPIBase = "https://discord.com/api/v10"

// Sender delivers the follow-up message through the interaction webhook after
// the deferred acknowledgment already went out. The content call carries no
// deadline from the original interaction.
type Sender struct {
	applicationID string
	baseURL       string
	client        *http.Client
}

// NewSender creates a Discord follow-up sender.
func NewSender(applicationID string) *Sender {
	return &Sender{
		applicationID: applicationID,
		baseURL:       discordAPIBase,
		client:        &http.Client{Timeout: 10 * time.Second},
	}
}

// SetBaseURL overrides the API base (tests).
func (s *Sender) SetBaseURL(u string) { s.baseURL = strings.TrimRight(u, "/") }

func (s *Sender) Channel() string { return bus.ChannelDiscord }

// Send implements dispatch.Sender. Target is the interaction token.
func (s *Sender) Send(ctx context.Context, reply bus.OutboundReply) (string, error) {
	body, err := json.Marshal(discordgo.WebhookParams{Content: reply.Text})
	if err != nil {
		return "", fmt.Errorf("discord: encode follow-up: %w", err)
	}

	endpoint := fmt.Sprintf("%s/webhooks/%s/%s", s.baseURL, s.applicationID, reply.Target)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("discord: build follow-up request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("discord: post follow-up: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("discord: follow-up returned %d: %s", resp.StatusCode, respBody)
	}
	return string(respBody), nil
}
