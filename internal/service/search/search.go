// Package search answers /search commands through a fallback chain:
// the model provider's native search tool when it has one, then Tavily,
// then Serper, and finally a synthetic degraded answer. The chain never
// returns an error; a chat turn must not fail because search is down.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"arbor/internal/domain/models/conv"
	convSvc "arbor/internal/domain/services/conv"
)

const (
	tavilyURL = "https://api.tavily.com/search"
	serperURL = "https://google.serper.dev/search"

	maxResults = 5
)

type Searcher struct {
	tavilyKey  string
	serperKey  string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewSearcher(tavilyKey, serperKey string, httpClient *http.Client, logger *slog.Logger) *Searcher {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Searcher{
		tavilyKey:  tavilyKey,
		serperKey:  serperKey,
		httpClient: httpClient,
		logger:     logger,
	}
}

// Search walks the backend chain. provider may be nil when the current
// model's provider has no native search tool.
func (s *Searcher) Search(ctx context.Context, provider convSvc.Provider, query string) *convSvc.SearchResult {
	if native, ok := provider.(convSvc.NativeSearcher); ok {
		result, err := native.Search(ctx, query)
		if err == nil {
			return result
		}
		s.logger.Warn("native search failed, falling back",
			"provider", provider.Name(), "error", err)
	}

	if s.tavilyKey != "" {
		result, err := s.tavily(ctx, query)
		if err == nil {
			return result
		}
		s.logger.Warn("tavily search failed, falling back", "error", err)
	}

	if s.serperKey != "" {
		result, err := s.serper(ctx, query)
		if err == nil {
			return result
		}
		s.logger.Warn("serper search failed, falling back", "error", err)
	}

	return &convSvc.SearchResult{
		Query:    query,
		Answer:   fmt.Sprintf("Web search is currently unavailable, so no live results could be retrieved for %q.", query),
		Degraded: true,
	}
}

func (s *Searcher) tavily(ctx context.Context, query string) (*convSvc.SearchResult, error) {
	payload, err := json.Marshal(map[string]any{
		"api_key":        s.tavilyKey,
		"query":          query,
		"include_answer": true,
		"max_results":    maxResults,
	})
	if err != nil {
		return nil, err
	}

	var resp struct {
		Answer  string `json:"answer"`
		Results []struct {
			Title   string `json:"title"`
			URL     string `json:"url"`
			Content string `json:"content"`
		} `json:"results"`
	}
	if err := s.post(ctx, tavilyURL, nil, payload, &resp); err != nil {
		return nil, err
	}

	result := &convSvc.SearchResult{Query: query, Answer: resp.Answer}
	for _, r := range resp.Results {
		result.Citations = append(result.Citations, conv.Citation{
			Title:     r.Title,
			URL:       r.URL,
			Source:    "tavily",
			CitedText: r.Content,
		})
	}
	if result.Answer == "" && len(result.Citations) == 0 {
		return nil, fmt.Errorf("tavily returned no results")
	}
	return result, nil
}

func (s *Searcher) serper(ctx context.Context, query string) (*convSvc.SearchResult, error) {
	payload, err := json.Marshal(map[string]any{"q": query, "num": maxResults})
	if err != nil {
		return nil, err
	}

	var resp struct {
		AnswerBox struct {
			Answer  string `json:"answer"`
			Snippet string `json:"snippet"`
		} `json:"answerBox"`
		Organic []struct {
			Title   string `json:"title"`
			Link    string `json:"link"`
			Snippet string `json:"snippet"`
		} `json:"organic"`
	}
	headers := map[string]string{"X-API-KEY": s.serperKey}
	if err := s.post(ctx, serperURL, headers, payload, &resp); err != nil {
		return nil, err
	}

	answer := resp.AnswerBox.Answer
	if answer == "" {
		answer = resp.AnswerBox.Snippet
	}
	result := &convSvc.SearchResult{Query: query, Answer: answer}
	for _, r := range resp.Organic {
		result.Citations = append(result.Citations, conv.Citation{
			Title:     r.Title,
			URL:       r.Link,
			Source:    "serper",
			CitedText: r.Snippet,
		})
	}
	if result.Answer == "" && len(result.Citations) == 0 {
		return nil, fmt.Errorf("serper returned no results")
	}
	return result, nil
}

func (s *Searcher) post(ctx context.Context, url string, headers map[string]string, payload []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
