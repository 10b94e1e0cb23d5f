// Package compose builds the final reply for a turn: prompt assembly, the
// inference call with graceful degradation, and the history append.
package compose

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sawitlab/tanya/internal/bus"
	"github.com/sawitlab/tanya/internal/guardrail"
	"github.com/sawitlab/tanya/internal/providers"
	"github.com/sawitlab/tanya/internal/retrieval"
	"github.com/sawitlab/tanya/internal/session"
)

const (
	// promptHistoryTurns bounds how many recent turns enter the prompt.
	promptHistoryTurns = 6

	inferenceRetryDelay = 500 * time.Millisecond
)

// Options configure the composer.
type Options struct {
	MaxTokens     int
	Temperature   float64
	SafetyProfile string
	Timeout       time.Duration
	HistoryLimit  int // session history bound, applied on append
	Denylist      []string
}

// Outcome is the composed reply plus the session effects the composer decided.
type Outcome struct {
	Reply bus.OutboundReply

	// Escalate is set when the composer itself degraded (inference failure,
	// empty generation, denylist hit) on an ANSWER decision.
	Escalate bool

	// Generated reports whether the text came from the inference service.
	Generated bool
}

// Composer assembles prompts and invokes the inference service.
type Composer struct {
	provider  providers.Provider
	templates Templates
	opts      Options
}

// New builds a composer. provider may be nil only if every decision path
// avoids ANSWER, which is never guaranteed, so callers pass a real one.
func New(provider providers.Provider, templates Templates, opts Options) *Composer {
	if opts.Timeout == 0 {
		opts.Timeout = 20 * time.Second
	}
	return &Composer{provider: provider, templates: templates, opts: opts}
}

// Compose produces the outbound reply for the decision and appends the turn to
// the session history. This is the single place history is appended; the
// mutated session goes back to the store for committing.
func (c *Composer) Compose(ctx context.Context, decision guardrail.Decision, msg bus.InboundMessage, ret retrieval.Result, sess *session.Session) Outcome {
	out := Outcome{}

	switch {
	case decision.Action == guardrail.ActionEscalate:
		// Fixed template, never model-generated: no improvisation on
		// out-of-scope queries.
		out.Reply = c.reply(msg, c.templates.SafeFallback)

	case decision.Action == guardrail.ActionSafeFallback:
		out.Reply = c.reply(msg, c.templates.SafeFallback)

	case decision.Intent == guardrail.IntentOrderStatus:
		// Stubbed lookup: fixed acknowledgment, no LLM, no escalation.
		out.Reply = c.reply(msg, c.templates.OrderStatus)

	default:
		text, err := c.generate(ctx, msg, ret, sess)
		if err != nil {
			slog.Warn("inference degraded to safe fallback", "error", err, "session", sess.ID)
			out.Reply = c.reply(msg, c.templates.SafeFallback)
			out.Escalate = true
			break
		}
		if text == "" {
			out.Reply = c.reply(msg, c.templates.SafeFallback)
			out.Escalate = true
			break
		}
		if guardrail.ContainsDenylisted(text, c.opts.Denylist) {
			out.Reply = c.reply(msg, c.templates.Denylist)
			out.Escalate = true
			break
		}
		out.Reply = c.reply(msg, text)
		out.Generated = true
	}

	sess.AppendTurn(msg.Text, out.Reply.Text, c.opts.HistoryLimit, msg.ReceivedAt)
	return out
}

// generate invokes the inference service with a timeout, retrying once with
// backoff before giving up.
func (c *Composer) generate(ctx context.Context, msg bus.InboundMessage, ret retrieval.Result, sess *session.Session) (string, error) {
	req := providers.GenerateRequest{
		System:        systemPrompt,
		Prompt:        c.buildPrompt(msg.Text, ret, sess),
		MaxTokens:     c.opts.MaxTokens,
		Temperature:   c.opts.Temperature,
		SafetyProfile: c.opts.SafetyProfile,
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(inferenceRetryDelay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
		text, err := c.provider.Generate(callCtx, req)
		cancel()
		if err == nil {
			return strings.TrimSpace(text), nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("inference failed after retry: %w", lastErr)
}

// buildPrompt assembles bounded recent history, retrieved passages, and the
// current message into the generation prompt.
func (c *Composer) buildPrompt(text string, ret retrieval.Result, sess *session.Session) string {
	var sections []string

	history := sess.History
	if len(history) > promptHistoryTurns {
		history = history[len(history)-promptHistoryTurns:]
	}
	if len(history) > 0 {
		var sb strings.Builder
		sb.WriteString("Riwayat percakapan:\n")
		for _, turn := range history {
			label := "Pengguna"
			if turn.Role == "assistant" {
				label = "Asisten"
			}
			fmt.Fprintf(&sb, "%s: %s\n", label, turn.Text)
		}
		sections = append(sections, strings.TrimRight(sb.String(), "\n"))
	}

	if len(ret.Passages) > 0 {
		var sb strings.Builder
		sb.WriteString("Konten relevan:\n")
		for _, p := range ret.Passages {
			sb.WriteString(p.Text)
			sb.WriteString("\n")
		}
		sections = append(sections, strings.TrimRight(sb.String(), "\n"))
	}

	sections = append(sections,
		"Pengguna: "+text,
		"Jawab dalam paragraf singkat, gunakan Bahasa Indonesia.",
	)
	return strings.Join(sections, "\n\n")
}

// Fallback returns the safe-fallback reply for degraded paths that never
// reached Compose (store unavailability, commit exhaustion).
func (c *Composer) Fallback(msg bus.InboundMessage) bus.OutboundReply {
	return c.reply(msg, c.templates.SafeFallback)
}

func (c *Composer) reply(msg bus.InboundMessage, text string) bus.OutboundReply {
	return bus.OutboundReply{
		Channel: msg.Channel,
		Target:  msg.ReplyTarget,
		Text:    text,
		Metadata: map[string]string{
			"message_id": msg.MessageID,
		},
	}
}
