package guardrail

import (
	"strings"

	"github.com/sawitlab/tanya/internal/retrieval"
	"github.com/sawitlab/tanya/internal/session"
)

// Action is the guardrail branching decision.
type Action string

const (
	ActionAnswer       Action = "ANSWER"
	ActionSafeFallback Action = "SAFE_FALLBACK"
	ActionEscalate     Action = "ESCALATE"
)

// Decision drives the reply composer. Ephemeral, never persisted.
type Decision struct {
	Action     Action  `json:"action"`
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

// Escalates reports whether the decision marks the session for human follow-up.
// SAFE_FALLBACK escalates too: a templated reply goes out immediately but the
// conversation still needs a human.
func (d Decision) Escalates() bool {
	return d.Action == ActionEscalate || d.Action == ActionSafeFallback
}

// Engine computes guardrail decisions. Pure function of its inputs: no
// external calls, deterministic for identical inputs.
type Engine struct {
	classifier          IntentClassifier
	confidenceThreshold float64
	scoreThreshold      float64
	knowledgeConfigured bool
}

// NewEngine builds a guardrail engine. knowledgeConfigured toggles the
// grounding gate: without a knowledge source, a zero TopScore is not evidence
// of anything.
func NewEngine(classifier IntentClassifier, confidenceThreshold, scoreThreshold float64, knowledgeConfigured bool) *Engine {
	return &Engine{
		classifier:          classifier,
		confidenceThreshold: confidenceThreshold,
		scoreThreshold:      scoreThreshold,
		knowledgeConfigured: knowledgeConfigured,
	}
}

// Decide classifies intent and applies the confidence policy.
func (e *Engine) Decide(messageText string, ret retrieval.Result, _ []session.Turn) Decision {
	cls := e.classifier.Classify(messageText)

	if cls.Intent == IntentOutOfScope {
		return Decision{
			Action:     ActionEscalate,
			Intent:     cls.Intent,
			Confidence: cls.Confidence,
			Reason:     "intent out of scope",
		}
	}

	if e.knowledgeConfigured && ret.TopScore < e.scoreThreshold {
		return Decision{
			Action:     ActionSafeFallback,
			Intent:     cls.Intent,
			Confidence: cls.Confidence,
			Reason:     "insufficient grounding",
		}
	}

	if cls.Confidence < e.confidenceThreshold {
		return Decision{
			Action:     ActionSafeFallback,
			Intent:     cls.Intent,
			Confidence: cls.Confidence,
			Reason:     "confidence below threshold",
		}
	}

	return Decision{
		Action:     ActionAnswer,
		Intent:     cls.Intent,
		Confidence: cls.Confidence,
		Reason:     "confident",
	}
}

// ContainsDenylisted reports whether text matches any denylisted term,
// case-insensitively. Used by the composer to veto generated replies.
func ContainsDenylisted(text string, denylist []string) bool {
	lowered := strings.ToLower(text)
	for _, term := range denylist {
		if term != "" && strings.Contains(lowered, strings.ToLower(term)) {
			return true
		}
	}
	return false
}
