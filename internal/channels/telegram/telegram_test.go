package telegram

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/mymmrac/telego"

	"github.com/sawitlab/tanya/internal/bus"
	"github.com/sawitlab/tanya/internal/config"
)

type stubProcessor struct {
	reply bus.OutboundReply
	last  bus.InboundMessage
	calls int
}

func (p *stubProcessor) Process(_ context.Context, msg bus.InboundMessage) bus.OutboundReply {
	p.calls++
	p.last = msg
	return p.reply
}

type recordingDispatcher struct {
	mu        sync.Mutex
	delivered []bus.OutboundReply
}

func (d *recordingDispatcher) Dispatch(_ context.Context, reply bus.OutboundReply) (bus.DeliveryResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.delivered = append(d.delivered, reply)
	return bus.DeliveryResult{Delivered: true, Attempts: 1}, nil
}

func textMessage(userID int64, username, text string) *telego.Message {
	return &telego.Message{
		MessageID: 77,
		From:      &telego.User{ID: userID, Username: username},
		Chat:      telego.Chat{ID: -100200, Type: "private"},
		Date:      time.Now().Unix(),
		Text:      text,
	}
}

func TestHandleMessage_ProcessesAndDelivers(t *testing.T) {
	processor := &stubProcessor{reply: bus.OutboundReply{Channel: bus.ChannelTelegram, Target: "-100200", Text: "jawaban"}}
	dispatcher := &recordingDispatcher{}
	c := &Channel{cfg: config.TelegramConfig{}, processor: processor, dispatcher: dispatcher}

	c.handleMessage(context.Background(), textMessage(42, "budi", "halo"))

	if processor.calls != 1 {
		t.Fatalf("processor calls = %d", processor.calls)
	}
	if processor.last.ExternalUserID != "42" {
		t.Errorf("user id = %q", processor.last.ExternalUserID)
	}
	if processor.last.MessageID != "-100200:77" {
		t.Errorf("message id = %q", processor.last.MessageID)
	}
	if processor.last.ReplyTarget != "-100200" {
		t.Errorf("reply target = %q", processor.last.ReplyTarget)
	}
	if len(dispatcher.delivered) != 1 || dispatcher.delivered[0].Text != "jawaban" {
		t.Errorf("delivered = %+v", dispatcher.delivered)
	}
}

func TestHandleMessage_SkipsNonText(t *testing.T) {
	processor := &stubProcessor{}
	c := &Channel{cfg: config.TelegramConfig{}, processor: processor, dispatcher: &recordingDispatcher{}}

	msg := textMessage(42, "budi", "")
	c.handleMessage(context.Background(), msg)

	if processor.calls != 0 {
		t.Error("text-less message reached the pipeline")
	}
}

func TestHandleMessage_Allowlist(t *testing.T) {
	tests := []struct {
		name      string
		allowFrom []string
		userID    int64
		username  string
		processed bool
	}{
		{"empty allowlist allows everyone", nil, 42, "budi", true},
		{"allowed by id", []string{"42"}, 42, "budi", true},
		{"allowed by username", []string{"@budi"}, 42, "budi", true},
		{"rejected", []string{"99"}, 42, "budi", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			processor := &stubProcessor{}
			c := &Channel{
				cfg:        config.TelegramConfig{AllowFrom: tt.allowFrom},
				processor:  processor,
				dispatcher: &recordingDispatcher{},
			}
			c.handleMessage(context.Background(), textMessage(tt.userID, tt.username, "halo"))
			if got := processor.calls > 0; got != tt.processed {
				t.Errorf("processed = %v, want %v", got, tt.processed)
			}
		})
	}
}

func TestParseChatID(t *testing.T) {
	id, err := parseChatID("-100200")
	if err != nil {
		t.Fatal(err)
	}
	if id != -100200 {
		t.Errorf("id = %d", id)
	}
	if _, err := parseChatID("not-a-number"); err == nil {
		t.Error("expected error for invalid chat id")
	}
}
