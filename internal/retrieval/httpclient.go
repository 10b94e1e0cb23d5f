package retrieval

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPSearcher queries a vector-search service over its REST interface.
type HTTPSearcher struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

// NewHTTPSearcher creates a searcher against the given endpoint.
func NewHTTPSearcher(endpoint, apiKey string) *HTTPSearcher {
	return &HTTPSearcher{
		endpoint: strings.TrimRight(endpoint, "/"),
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

type searchRequest struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

type searchResponse struct {
	Matches []struct {
		Text  string  `json:"text"`
		Score float64 `json:"score"`
	} `json:"matches"`
}

// Search implements Searcher.
func (s *HTTPSearcher) Search(ctx context.Context, query string, topK int) ([]Passage, error) {
	body, err := json.Marshal(searchRequest{Query: query, TopK: topK})
	if err != nil {
		return nil, fmt.Errorf("retrieval: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint+"/search", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("retrieval: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("retrieval: search request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("retrieval: search returned %d: %s", resp.StatusCode, snippet)
	}

	var parsed searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("retrieval: decode response: %w", err)
	}

	passages := make([]Passage, 0, len(parsed.Matches))
	for _, m := range parsed.Matches {
		if m.Text == "" {
			continue
		}
		passages = append(passages, Passage{Text: m.Text, Score: m.Score})
	}
	return passages, nil
}
