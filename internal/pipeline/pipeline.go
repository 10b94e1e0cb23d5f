// Package pipeline orchestrates one conversational turn: session load,
// idempotent replay, retrieval, guardrail decision, reply composition, and the
// optimistically-concurrent commit. Dispatch happens downstream in the
// channels; the committed state never rolls back on delivery failure.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/sawitlab/tanya/internal/bus"
	"github.com/sawitlab/tanya/internal/compose"
	"github.com/sawitlab/tanya/internal/guardrail"
	"github.com/sawitlab/tanya/internal/retrieval"
	"github.com/sawitlab/tanya/internal/session"
)

// Composer is the reply-composition contract the pipeline depends on.
type Composer interface {
	Compose(ctx context.Context, decision guardrail.Decision, msg bus.InboundMessage, ret retrieval.Result, sess *session.Session) compose.Outcome
	Fallback(msg bus.InboundMessage) bus.OutboundReply
}

// Decider is the guardrail contract.
type Decider interface {
	Decide(messageText string, ret retrieval.Result, history []session.Turn) guardrail.Decision
}

// Retriever is the retrieval-orchestration contract.
type Retriever interface {
	Retrieve(ctx context.Context, query string) retrieval.Result
}

// Options configure the pipeline.
type Options struct {
	TTL           time.Duration
	CommitRetries int // reload-and-rerun attempts after a version conflict
}

// Pipeline processes inbound messages. Stateless across requests: all
// cross-request state lives in the session store.
type Pipeline struct {
	store     session.Store
	retriever Retriever
	guard     Decider
	composer  Composer
	opts      Options
	tracer    trace.Tracer
	now       func() time.Time
}

// New builds a pipeline.
func New(store session.Store, retriever Retriever, guard Decider, composer Composer, opts Options) *Pipeline {
	if opts.CommitRetries <= 0 {
		opts.CommitRetries = 3
	}
	if opts.TTL <= 0 {
		opts.TTL = 72 * time.Hour
	}
	return &Pipeline{
		store:     store,
		retriever: retriever,
		guard:     guard,
		composer:  composer,
		opts:      opts,
		tracer:    otel.Tracer("tanya/pipeline"),
		now:       time.Now,
	}
}

// SetClock overrides the time source (tests).
func (p *Pipeline) SetClock(now func() time.Time) { p.now = now }

// Process runs one turn and returns the reply to dispatch. It is total: every
// internal failure degrades into the safe-fallback reply, so synchronous
// channels always have something to send. Only the transport-level checks
// (payload shape, authenticity) upstream of Process produce hard errors.
func (p *Pipeline) Process(ctx context.Context, msg bus.InboundMessage) bus.OutboundReply {
	ctx, span := p.tracer.Start(ctx, "turn", trace.WithAttributes(
		attribute.String("channel", msg.Channel),
		attribute.String("session.id", session.ID(msg.Channel, msg.ExternalUserID)),
	))
	defer span.End()

	sessionID := session.ID(msg.Channel, msg.ExternalUserID)

	for attempt := 0; attempt <= p.opts.CommitRetries; attempt++ {
		reply, err := p.runTurn(ctx, sessionID, msg)
		if err == nil {
			span.SetAttributes(attribute.Int("commit.attempts", attempt+1))
			return reply
		}
		if !errors.Is(err, session.ErrConflict) {
			slog.Error("turn failed, replying with safe fallback", "session", sessionID, "error", err)
			span.SetAttributes(attribute.Bool("degraded", true))
			return p.composer.Fallback(msg)
		}
		// Conflict: another turn committed first. Reload and re-run the
		// whole turn against the new baseline so decisions are never stale;
		// the redelivery check then absorbs duplicate message ids.
		slog.Debug("commit conflict, retrying turn", "session", sessionID, "attempt", attempt+1)
	}

	slog.Error("commit retries exhausted, replying with safe fallback", "session", sessionID)
	span.SetAttributes(attribute.Bool("degraded", true))
	return p.composer.Fallback(msg)
}

// runTurn executes one load-decide-compose-commit cycle. A session.ErrConflict
// return means the caller should reload and try again.
func (p *Pipeline) runTurn(ctx context.Context, sessionID string, msg bus.InboundMessage) (bus.OutboundReply, error) {
	sess, err := p.store.Load(ctx, sessionID)
	if err != nil {
		return bus.OutboundReply{}, err
	}

	var expected int64
	if sess == nil {
		sess = session.New(sessionID, p.opts.TTL, p.now())
	} else {
		expected = sess.Version
	}

	// Redelivery: channel providers retry at-least-once. Replay the exact
	// reply computed before instead of re-invoking inference, so duplicates
	// never produce duplicate replies or duplicate escalations. The replayed
	// reply carries the same metadata as the original so downstream surfaces
	// cannot tell the two apart.
	if msg.MessageID != "" && msg.MessageID == sess.LastMessageID {
		slog.Info("redelivery detected, replaying stored reply", "session", sessionID, "message_id", msg.MessageID)
		return bus.OutboundReply{
			Channel: msg.Channel,
			Target:  msg.ReplyTarget,
			Text:    sess.LastReply,
			Metadata: map[string]string{
				"message_id": msg.MessageID,
				"intent":     sess.LastIntent,
				"escalated":  strconv.FormatBool(sess.Escalated),
			},
		}, nil
	}

	ret := p.retrieve(ctx, msg.Text)
	decision := p.guard.Decide(msg.Text, ret, sess.History)

	outcome := p.composer.Compose(ctx, decision, msg, ret, sess)

	if decision.Escalates() || outcome.Escalate {
		sess.Escalate()
	} else {
		sess.Activate()
	}
	sess.LastMessageID = msg.MessageID
	sess.LastReply = outcome.Reply.Text
	sess.LastIntent = decision.Intent
	sess.Touch(p.opts.TTL, p.now())

	if outcome.Reply.Metadata == nil {
		outcome.Reply.Metadata = map[string]string{}
	}
	outcome.Reply.Metadata["intent"] = decision.Intent
	outcome.Reply.Metadata["escalated"] = strconv.FormatBool(sess.Escalated)

	if _, err := p.store.Commit(ctx, sessionID, expected, sess); err != nil {
		return bus.OutboundReply{}, err
	}

	slog.Info("turn committed",
		"session", sessionID,
		"action", string(decision.Action),
		"intent", decision.Intent,
		"escalated", sess.Escalated,
		"generated", outcome.Generated,
	)
	return outcome.Reply, nil
}

func (p *Pipeline) retrieve(ctx context.Context, query string) retrieval.Result {
	ctx, span := p.tracer.Start(ctx, "retrieve")
	defer span.End()

	ret := p.retriever.Retrieve(ctx, query)
	span.SetAttributes(
		attribute.Float64("retrieval.top_score", ret.TopScore),
		attribute.Int("retrieval.passages", len(ret.Passages)),
	)
	return ret
}
