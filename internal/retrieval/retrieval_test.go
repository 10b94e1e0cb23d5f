package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type stubSearcher struct {
	passages []Passage
	err      error
}

func (s stubSearcher) Search(context.Context, string, int) ([]Passage, error) {
	return s.passages, s.err
}

func TestRetrieve_NilSearcherIsNoop(t *testing.T) {
	o := NewOrchestrator(nil, 3, 0.5, time.Second)
	if o.Enabled() {
		t.Error("nil searcher reported as enabled")
	}
	res := o.Retrieve(context.Background(), "jam buka")
	if len(res.Passages) != 0 || res.TopScore != 0 {
		t.Errorf("no-op retrieve returned %+v", res)
	}
}

func TestRetrieve_ThresholdGate(t *testing.T) {
	o := NewOrchestrator(stubSearcher{passages: []Passage{
		{Text: "low", Score: 0.2},
		{Text: "high", Score: 0.8},
		{Text: "mid", Score: 0.5},
	}}, 3, 0.5, time.Second)

	res := o.Retrieve(context.Background(), "harga layanan")

	if res.TopScore != 0.8 {
		t.Errorf("TopScore = %v, want 0.8", res.TopScore)
	}
	if len(res.Passages) != 2 {
		t.Fatalf("passages = %d, want 2 (score >= threshold)", len(res.Passages))
	}
	if res.Passages[0].Text != "high" || res.Passages[1].Text != "mid" {
		t.Errorf("passages not sorted by score: %+v", res.Passages)
	}
}

func TestRetrieve_AllBelowThresholdKeepsTopScore(t *testing.T) {
	o := NewOrchestrator(stubSearcher{passages: []Passage{
		{Text: "weak", Score: 0.3},
	}}, 3, 0.5, time.Second)

	res := o.Retrieve(context.Background(), "promo")
	if len(res.Passages) != 0 {
		t.Errorf("passages = %d, want 0", len(res.Passages))
	}
	// The raw best score survives so the guardrail can see how weak it was.
	if res.TopScore != 0.3 {
		t.Errorf("TopScore = %v, want 0.3", res.TopScore)
	}
}

func TestRetrieve_SoftFailure(t *testing.T) {
	o := NewOrchestrator(stubSearcher{err: errors.New("connection refused")}, 3, 0.5, time.Second)
	res := o.Retrieve(context.Background(), "alamat kantor")
	if len(res.Passages) != 0 || res.TopScore != 0 {
		t.Errorf("failed retrieval leaked partial result: %+v", res)
	}
}

func TestHTTPSearcher_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/search" {
			t.Errorf("path = %s, want /search", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer testkey" {
			t.Errorf("auth header = %q", got)
		}
		var req struct {
			Query string `json:"query"`
			TopK  int    `json:"top_k"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatal(err)
		}
		if req.Query != "jam buka" || req.TopK != 3 {
			t.Errorf("request = %+v", req)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"matches": []map[string]any{
				{"text": "Buka 09.00-17.00", "score": 0.91},
				{"text": "", "score": 0.5},
			},
		})
	}))
	defer srv.Close()

	s := NewHTTPSearcher(srv.URL, "testkey")
	passages, err := s.Search(context.Background(), "jam buka", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(passages) != 1 {
		t.Fatalf("passages = %d, want 1 (empty text dropped)", len(passages))
	}
	if passages[0].Score != 0.91 {
		t.Errorf("score = %v", passages[0].Score)
	}
}

func TestHTTPSearcher_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "index rebuilding", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := NewHTTPSearcher(srv.URL, "")
	if _, err := s.Search(context.Background(), "q", 3); err == nil {
		t.Error("expected error on 503")
	}
}
