package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/sawitlab/tanya/internal/bus"
	"github.com/sawitlab/tanya/internal/channels"
)

func commandInteraction(command, option, value string) *discordgo.Interaction {
	return &discordgo.Interaction{
		ID:    "int123",
		Token: "tok456",
		Type:  discordgo.InteractionApplicationCommand,
		Data: discordgo.ApplicationCommandInteractionData{
			Name: command,
			Options: []*discordgo.ApplicationCommandInteractionDataOption{
				{Name: option, Type: discordgo.ApplicationCommandOptionString, Value: value},
			},
		},
		Member: &discordgo.Member{User: &discordgo.User{ID: "user42"}},
	}
}

func TestNormalize(t *testing.T) {
	msg, err := Normalize(commandInteraction("chat", "q", "jam buka?"), time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if msg.Channel != bus.ChannelDiscord {
		t.Errorf("channel = %s", msg.Channel)
	}
	if msg.ExternalUserID != "user42" {
		t.Errorf("user id = %q", msg.ExternalUserID)
	}
	if msg.MessageID != "int123" {
		t.Errorf("message id = %q", msg.MessageID)
	}
	if msg.ReplyTarget != "tok456" {
		t.Errorf("reply target = %q, want the interaction token", msg.ReplyTarget)
	}
	if msg.Text != "jam buka?" {
		t.Errorf("text = %q", msg.Text)
	}
}

func TestNormalize_OptionAliases(t *testing.T) {
	for _, option := range []string{"q", "prompt", "text", "pesan"} {
		t.Run(option, func(t *testing.T) {
			msg, err := Normalize(commandInteraction("ask", option, "halo"), time.Now())
			if err != nil {
				t.Fatal(err)
			}
			if msg.Text != "halo" {
				t.Errorf("text = %q", msg.Text)
			}
		})
	}
}

func TestNormalize_DMUserFallback(t *testing.T) {
	interaction := commandInteraction("chat", "q", "halo")
	interaction.Member = nil
	interaction.User = &discordgo.User{ID: "dmuser"}

	msg, err := Normalize(interaction, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if msg.ExternalUserID != "dmuser" {
		t.Errorf("user id = %q", msg.ExternalUserID)
	}
}

func TestNormalize_Rejections(t *testing.T) {
	tests := []struct {
		name        string
		interaction *discordgo.Interaction
	}{
		{"unsupported command", commandInteraction("weather", "q", "x")},
		{"missing question option", &discordgo.Interaction{
			Type: discordgo.InteractionApplicationCommand,
			Data: discordgo.ApplicationCommandInteractionData{Name: "chat"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Normalize(tt.interaction, time.Now()); !errors.Is(err, channels.ErrMalformedPayload) {
				t.Errorf("err = %v, want ErrMalformedPayload", err)
			}
		})
	}
}

type stubProcessor struct {
	reply bus.OutboundReply
}

func (p *stubProcessor) Process(context.Context, bus.InboundMessage) bus.OutboundReply {
	return p.reply
}

type recordingDispatcher struct {
	mu        sync.Mutex
	delivered []bus.OutboundReply
	done      chan struct{}
}

func (d *recordingDispatcher) Dispatch(_ context.Context, reply bus.OutboundReply) (bus.DeliveryResult, error) {
	d.mu.Lock()
	d.delivered = append(d.delivered, reply)
	d.mu.Unlock()
	if d.done != nil {
		close(d.done)
	}
	return bus.DeliveryResult{Delivered: true, Attempts: 1}, nil
}

func postInteraction(t *testing.T, interaction any) *http.Request {
	t.Helper()
	body, err := json.Marshal(interaction)
	if err != nil {
		t.Fatal(err)
	}
	req := httptest.NewRequest(http.MethodPost, "/webhooks/discord", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestWebhook_PingPong(t *testing.T) {
	w, err := NewWebhook("", false, &stubProcessor{}, &recordingDispatcher{})
	if err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	w.Handler().ServeHTTP(rec, postInteraction(t, map[string]any{"type": 1}))

	var resp struct {
		Type int `json:"type"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Type != int(discordgo.InteractionResponsePong) {
		t.Errorf("response type = %d, want pong", resp.Type)
	}
}

func TestWebhook_DeferredAckThenFollowUp(t *testing.T) {
	dispatcher := &recordingDispatcher{done: make(chan struct{})}
	processor := &stubProcessor{reply: bus.OutboundReply{Channel: bus.ChannelDiscord, Target: "tok456", Text: "jawaban"}}
	w, err := NewWebhook("", false, processor, dispatcher)
	if err != nil {
		t.Fatal(err)
	}

	rec := httptest.NewRecorder()
	w.Handler().ServeHTTP(rec, postInteraction(t, commandInteraction("chat", "q", "jam buka?")))

	// The HTTP response is the deferred ack, written before any content.
	var resp struct {
		Type int `json:"type"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Type != int(discordgo.InteractionResponseDeferredChannelMessageWithSource) {
		t.Errorf("response type = %d, want deferred ack", resp.Type)
	}

	select {
	case <-dispatcher.done:
	case <-time.After(2 * time.Second):
		t.Fatal("follow-up never dispatched")
	}
	if dispatcher.delivered[0].Text != "jawaban" {
		t.Errorf("follow-up = %+v", dispatcher.delivered[0])
	}
}

func TestWebhook_InvalidKeyRejected(t *testing.T) {
	if _, err := NewWebhook("nothex", true, &stubProcessor{}, &recordingDispatcher{}); err == nil {
		t.Error("expected error for malformed public key")
	}
}

func TestSender_FollowUpCall(t *testing.T) {
	var gotPath string
	var gotContent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		var params discordgo.WebhookParams
		json.NewDecoder(r.Body).Decode(&params)
		gotContent = params.Content
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSender("app789")
	s.SetBaseURL(srv.URL)

	_, err := s.Send(context.Background(), bus.OutboundReply{Channel: bus.ChannelDiscord, Target: "tok456", Text: "jawaban"})
	if err != nil {
		t.Fatal(err)
	}
	if gotPath != "/webhooks/app789/tok456" {
		t.Errorf("path = %q", gotPath)
	}
	if gotContent != "jawaban" {
		t.Errorf("content = %q", gotContent)
	}
}
