// Package guardrail decides whether a turn is answered directly, answered with
// a safe fallback, or escalated to a human.
package guardrail

import "strings"

// Intent labels produced by the shipped classifier. The engine only treats
// IntentOutOfScope specially; everything else flows through the confidence
// gates, so swapping in an external classifier changes nothing downstream.
const (
	IntentFAQ         = "faq"
	IntentGreeting    = "greeting"
	IntentOrderStatus = "order_status"
	IntentOutOfScope  = "out_of_scope"
)

// Classification is the opaque classifier result.
type Classification struct {
	Intent     string  `json:"intent"`
	Confidence float64 `json:"confidence"` // in [0,1]
}

// IntentClassifier maps user text to an intent with a confidence estimate.
type IntentClassifier interface {
	Classify(text string) Classification
}

// KeywordClassifier is a lightweight rule-based classifier over keyword sets.
type KeywordClassifier struct {
	greeting    []string
	faq         []string
	orderStatus []string
}

// NewKeywordClassifier returns the default keyword classifier.
func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{
		greeting:    []string{"halo", "hai", "selamat pagi", "selamat siang", "selamat malam"},
		faq:         []string{"jam", "harga", "layanan", "informasi", "alamat", "promo"},
		orderStatus: []string{"status", "nomor pesanan", "order", "resi", "pengiriman"},
	}
}

// Classify implements IntentClassifier.
func (c *KeywordClassifier) Classify(text string) Classification {
	normalized := strings.ToLower(text)

	if containsAny(normalized, c.orderStatus) {
		return Classification{Intent: IntentOrderStatus, Confidence: 0.85}
	}
	if containsAny(normalized, c.greeting) {
		return Classification{Intent: IntentGreeting, Confidence: 0.9}
	}
	if containsAny(normalized, c.faq) {
		return Classification{Intent: IntentFAQ, Confidence: 0.7}
	}
	return Classification{Intent: IntentOutOfScope, Confidence: 0.3}
}

func containsAny(text string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}
