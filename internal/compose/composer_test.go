package compose

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sawitlab/tanya/internal/bus"
	"github.com/sawitlab/tanya/internal/guardrail"
	"github.com/sawitlab/tanya/internal/providers"
	"github.com/sawitlab/tanya/internal/retrieval"
	"github.com/sawitlab/tanya/internal/session"
)

type stubProvider struct {
	replies []string
	errs    []error
	prompts []string
	calls   int
}

func (s *stubProvider) Generate(_ context.Context, req providers.GenerateRequest) (string, error) {
	i := s.calls
	s.calls++
	s.prompts = append(s.prompts, req.Prompt)
	var err error
	if i < len(s.errs) {
		err = s.errs[i]
	}
	var text string
	if i < len(s.replies) {
		text = s.replies[i]
	}
	return text, err
}

func (s *stubProvider) DefaultModel() string { return "stub-model" }
func (s *stubProvider) Name() string         { return "stub" }

func testMessage() bus.InboundMessage {
	return bus.InboundMessage{
		Channel:        bus.ChannelWebchat,
		ExternalUserID: "u1",
		MessageID:      "m1",
		Text:           "jam buka toko?",
		ReceivedAt:     time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
		ReplyTarget:    "u1",
	}
}

func testSession() *session.Session {
	return session.New("webchat:u1", time.Hour, time.Now())
}

func answerDecision() guardrail.Decision {
	return guardrail.Decision{Action: guardrail.ActionAnswer, Intent: guardrail.IntentFAQ, Confidence: 0.7}
}

func TestCompose_GeneratedAnswer(t *testing.T) {
	provider := &stubProvider{replies: []string{"Buka pukul 09.00 sampai 17.00."}}
	c := New(provider, DefaultTemplates(), Options{HistoryLimit: 20})

	sess := testSession()
	out := c.Compose(context.Background(), answerDecision(), testMessage(), retrieval.Result{}, sess)

	if !out.Generated {
		t.Error("Generated = false for successful inference")
	}
	if out.Escalate {
		t.Error("Escalate = true for successful inference")
	}
	if out.Reply.Text != "Buka pukul 09.00 sampai 17.00." {
		t.Errorf("reply = %q", out.Reply.Text)
	}
	if len(sess.History) != 2 {
		t.Errorf("history = %d turns, want 2", len(sess.History))
	}
}

func TestCompose_SafeFallbackDecisionsNeverGenerate(t *testing.T) {
	for _, action := range []guardrail.Action{guardrail.ActionEscalate, guardrail.ActionSafeFallback} {
		t.Run(string(action), func(t *testing.T) {
			provider := &stubProvider{replies: []string{"should never appear"}}
			c := New(provider, DefaultTemplates(), Options{})

			out := c.Compose(context.Background(), guardrail.Decision{Action: action}, testMessage(), retrieval.Result{}, testSession())

			if provider.calls != 0 {
				t.Errorf("provider called %d times", provider.calls)
			}
			if out.Reply.Text != DefaultTemplates().SafeFallback {
				t.Errorf("reply = %q, want safe fallback template", out.Reply.Text)
			}
			if out.Generated {
				t.Error("Generated = true for templated reply")
			}
		})
	}
}

func TestCompose_OrderStatusTemplate(t *testing.T) {
	provider := &stubProvider{}
	c := New(provider, DefaultTemplates(), Options{})

	decision := guardrail.Decision{Action: guardrail.ActionAnswer, Intent: guardrail.IntentOrderStatus, Confidence: 0.85}
	out := c.Compose(context.Background(), decision, testMessage(), retrieval.Result{}, testSession())

	if provider.calls != 0 {
		t.Errorf("provider called for order status stub")
	}
	if out.Reply.Text != DefaultTemplates().OrderStatus {
		t.Errorf("reply = %q, want order status template", out.Reply.Text)
	}
	if out.Escalate {
		t.Error("order status stub should not escalate")
	}
}

func TestCompose_InferenceFailureDegrades(t *testing.T) {
	provider := &stubProvider{errs: []error{errors.New("upstream 500"), errors.New("upstream 500")}}
	c := New(provider, DefaultTemplates(), Options{})

	out := c.Compose(context.Background(), answerDecision(), testMessage(), retrieval.Result{}, testSession())

	if provider.calls != 2 {
		t.Errorf("provider calls = %d, want 2 (one retry)", provider.calls)
	}
	if out.Reply.Text != DefaultTemplates().SafeFallback {
		t.Errorf("reply = %q, want safe fallback", out.Reply.Text)
	}
	if !out.Escalate {
		t.Error("degraded turn must escalate")
	}
}

func TestCompose_RetrySucceeds(t *testing.T) {
	provider := &stubProvider{
		errs:    []error{errors.New("transient"), nil},
		replies: []string{"", "Jawaban setelah retry."},
	}
	c := New(provider, DefaultTemplates(), Options{})

	out := c.Compose(context.Background(), answerDecision(), testMessage(), retrieval.Result{}, testSession())

	if out.Reply.Text != "Jawaban setelah retry." {
		t.Errorf("reply = %q", out.Reply.Text)
	}
	if out.Escalate || !out.Generated {
		t.Errorf("escalate=%v generated=%v after recovered retry", out.Escalate, out.Generated)
	}
}

func TestCompose_EmptyGenerationDegrades(t *testing.T) {
	provider := &stubProvider{replies: []string{"   "}}
	c := New(provider, DefaultTemplates(), Options{})

	out := c.Compose(context.Background(), answerDecision(), testMessage(), retrieval.Result{}, testSession())

	if out.Reply.Text != DefaultTemplates().SafeFallback {
		t.Errorf("reply = %q, want safe fallback for empty generation", out.Reply.Text)
	}
	if !out.Escalate {
		t.Error("empty generation must escalate")
	}
}

func TestCompose_DenylistedGenerationBlocked(t *testing.T) {
	provider := &stubProvider{replies: []string{"Silakan kirim nomor kartu Anda untuk verifikasi."}}
	c := New(provider, DefaultTemplates(), Options{Denylist: []string{"nomor kartu", "otp"}})

	sess := testSession()
	out := c.Compose(context.Background(), answerDecision(), testMessage(), retrieval.Result{}, sess)

	if out.Reply.Text != DefaultTemplates().Denylist {
		t.Errorf("reply = %q, want denylist template", out.Reply.Text)
	}
	if !out.Escalate {
		t.Error("denylist hit must escalate")
	}
	// The blocked text never reaches history either.
	if strings.Contains(sess.History[1].Text, "nomor kartu") {
		t.Errorf("blocked text stored in history: %q", sess.History[1].Text)
	}
}

func TestBuildPrompt(t *testing.T) {
	c := New(&stubProvider{}, DefaultTemplates(), Options{})

	sess := testSession()
	now := time.Now()
	for i := 0; i < 5; i++ {
		sess.AppendTurn("pertanyaan", "jawaban", 0, now)
	}

	ret := retrieval.Result{Passages: []retrieval.Passage{{Text: "Jam buka 09.00-17.00", Score: 0.9}}}
	prompt := c.buildPrompt("jam buka?", ret, sess)

	if !strings.Contains(prompt, "Riwayat percakapan:") {
		t.Error("prompt missing history section")
	}
	if !strings.Contains(prompt, "Konten relevan:") {
		t.Error("prompt missing retrieval section")
	}
	if !strings.Contains(prompt, "Pengguna: jam buka?") {
		t.Error("prompt missing current message")
	}
	// History in the prompt is bounded even when the session holds more.
	if got := strings.Count(prompt, "pertanyaan"); got != 3 {
		t.Errorf("prompt contains %d user history entries, want 3", got)
	}
}

func TestBuildPrompt_NoContextSections(t *testing.T) {
	c := New(&stubProvider{}, DefaultTemplates(), Options{})
	prompt := c.buildPrompt("halo", retrieval.Result{}, testSession())

	if strings.Contains(prompt, "Riwayat percakapan:") || strings.Contains(prompt, "Konten relevan:") {
		t.Errorf("empty sections rendered: %q", prompt)
	}
	if !strings.HasPrefix(prompt, "Pengguna: halo") {
		t.Errorf("prompt = %q", prompt)
	}
}
