package whatsapp

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sawitlab/tanya/internal/bus"
	"github.com/sawitlab/tanya/internal/channels"
)

func TestNormalize(t *testing.T) {
	received := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

	form := url.Values{}
	form.Set("From", "whatsapp:+628123456")
	form.Set("WaId", "628123456")
	form.Set("Body", "halo, jam buka?")
	form.Set("MessageSid", "SM123abc")
	form.Set("NumMedia", "0")

	msg, err := Normalize(form, received)
	if err != nil {
		t.Fatal(err)
	}
	if msg.Channel != bus.ChannelWhatsApp {
		t.Errorf("channel = %s", msg.Channel)
	}
	if msg.ExternalUserID != "628123456" {
		t.Errorf("user id = %q, want WaId", msg.ExternalUserID)
	}
	if msg.MessageID != "SM123abc" {
		t.Errorf("message id = %q", msg.MessageID)
	}
	if msg.ReplyTarget != "whatsapp:+628123456" {
		t.Errorf("reply target = %q", msg.ReplyTarget)
	}
	if HasMedia(msg) {
		t.Error("HasMedia = true for NumMedia=0")
	}
}

func TestNormalize_FallbackUserID(t *testing.T) {
	form := url.Values{}
	form.Set("From", "whatsapp:+628999")
	form.Set("Body", "hai")
	form.Set("MessageSid", "SM1")

	msg, err := Normalize(form, time.Now())
	if err != nil {
		t.Fatal(err)
	}
	if msg.ExternalUserID != "+628999" {
		t.Errorf("user id = %q, want number stripped from From", msg.ExternalUserID)
	}
}

func TestNormalize_MissingFields(t *testing.T) {
	tests := []struct {
		name string
		form url.Values
	}{
		{"missing From", url.Values{"MessageSid": {"SM1"}, "Body": {"x"}}},
		{"missing MessageSid", url.Values{"From": {"whatsapp:+62"}, "Body": {"x"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Normalize(tt.form, time.Now()); !errors.Is(err, channels.ErrMalformedPayload) {
				t.Errorf("err = %v, want ErrMalformedPayload", err)
			}
		})
	}
}

func TestHasMedia(t *testing.T) {
	msg := bus.InboundMessage{Metadata: map[string]string{"num_media": "2"}}
	if !HasMedia(msg) {
		t.Error("HasMedia = false for num_media=2")
	}
}

// twilioSign computes the signature Twilio would attach: HMAC-SHA1 over the
// URL plus sorted form key/value pairs.
func twilioSign(authToken, rawURL string, form url.Values) string {
	keys := make([]string, 0, len(form))
	for k := range form {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(rawURL))
	for _, k := range keys {
		mac.Write([]byte(k))
		mac.Write([]byte(form.Get(k)))
	}
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func signedRequest(t *testing.T, authToken string, form url.Values) *http.Request {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "https://bot.example.com/webhooks/whatsapp", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Host = "bot.example.com"
	req.Header.Set("X-Twilio-Signature", twilioSign(authToken, "https://bot.example.com/webhooks/whatsapp", form))
	return req
}

func TestTwilioVerifier(t *testing.T) {
	form := url.Values{}
	form.Set("From", "whatsapp:+628123")
	form.Set("Body", "halo")
	form.Set("MessageSid", "SM1")

	v := NewTwilioVerifier("token123")

	req := signedRequest(t, "token123", form)
	if !v.Verify(req, form) {
		t.Error("valid signature rejected")
	}

	req = signedRequest(t, "wrongtoken", form)
	if v.Verify(req, form) {
		t.Error("signature from wrong token accepted")
	}

	req = httptest.NewRequest(http.MethodPost, "https://bot.example.com/webhooks/whatsapp", nil)
	if v.Verify(req, form) {
		t.Error("missing signature accepted")
	}
}

func TestTwilioVerifier_ForwardedHeaders(t *testing.T) {
	form := url.Values{}
	form.Set("From", "whatsapp:+628123")
	form.Set("MessageSid", "SM1")

	v := NewTwilioVerifier("token123")

	// Twilio signed the public URL; the ingress rewrote host and proto.
	req := httptest.NewRequest(http.MethodPost, "http://10.0.0.5/webhooks/whatsapp", strings.NewReader(form.Encode()))
	req.Header.Set("X-Forwarded-Proto", "https")
	req.Header.Set("X-Forwarded-Host", "bot.example.com")
	req.Header.Set("X-Twilio-Signature", twilioSign("token123", "https://bot.example.com/webhooks/whatsapp", form))

	if !v.Verify(req, form) {
		t.Error("forwarded request rejected")
	}
}

type stubProcessor struct {
	reply bus.OutboundReply
	calls int
}

func (p *stubProcessor) Process(context.Context, bus.InboundMessage) bus.OutboundReply {
	p.calls++
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

func postForm(form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/whatsapp", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestWebhook_AcksAndDispatches(t *testing.T) {
	processor := &stubProcessor{reply: bus.OutboundReply{Channel: bus.ChannelWhatsApp, Target: "whatsapp:+62", Text: "jawaban"}}
	dispatcher := &recordingDispatcher{done: make(chan struct{})}
	w := NewWebhook(AllowAllVerifier{}, processor, dispatcher)

	form := url.Values{}
	form.Set("From", "whatsapp:+62")
	form.Set("Body", "halo")
	form.Set("MessageSid", "SM1")

	rec := httptest.NewRecorder()
	w.Handler().ServeHTTP(rec, postForm(form))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if string(body) != "OK" {
		t.Errorf("body = %q", body)
	}
	if processor.calls != 1 {
		t.Errorf("processor calls = %d", processor.calls)
	}

	select {
	case <-dispatcher.done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch never happened")
	}
	if dispatcher.delivered[0].Text != "jawaban" {
		t.Errorf("delivered = %+v", dispatcher.delivered[0])
	}
}

func TestWebhook_RejectsBadSignature(t *testing.T) {
	processor := &stubProcessor{}
	w := NewWebhook(NewTwilioVerifier("token123"), processor, &recordingDispatcher{})

	form := url.Values{}
	form.Set("From", "whatsapp:+62")
	form.Set("MessageSid", "SM1")

	rec := httptest.NewRecorder()
	w.Handler().ServeHTTP(rec, postForm(form))

	if rec.Code != http.StatusForbidden {
		t.Errorf("status = %d, want 403", rec.Code)
	}
	if processor.calls != 0 {
		t.Error("unverified request reached the pipeline")
	}
}

func TestWebhook_MediaOnlyIgnored(t *testing.T) {
	processor := &stubProcessor{}
	w := NewWebhook(AllowAllVerifier{}, processor, &recordingDispatcher{})

	form := url.Values{}
	form.Set("From", "whatsapp:+62")
	form.Set("Body", "")
	form.Set("MessageSid", "SM1")
	form.Set("NumMedia", "1")

	rec := httptest.NewRecorder()
	w.Handler().ServeHTTP(rec, postForm(form))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	if string(body) != "ignored" {
		t.Errorf("body = %q", body)
	}
	if processor.calls != 0 {
		t.Error("media-only message reached the pipeline")
	}
}
