package search

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	convModel "arbor/internal/domain/models/conv"
	convSvc "arbor/internal/domain/services/conv"
)

// roundTripperFunc lets a test serve canned responses per backend host.
type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": []string{"application/json"}},
	}
}

func clientFor(fn roundTripperFunc) *http.Client {
	return &http.Client{Transport: fn}
}

// nativeProvider stubs a provider with a native web-search tool.
type nativeProvider struct {
	result *convSvc.SearchResult
	err    error
}

func (p *nativeProvider) Name() string                  { return "native" }
func (p *nativeProvider) SupportsModel(string) bool     { return true }
func (p *nativeProvider) SupportsResume() bool          { return false }
func (p *nativeProvider) Stream(context.Context, *convSvc.GenerateRequest) (<-chan convSvc.Delta, error) {
	return nil, errors.New("not implemented")
}
func (p *nativeProvider) Resume(context.Context, *convSvc.ResumeRequest) (<-chan convSvc.Delta, error) {
	return nil, errors.New("not implemented")
}
func (p *nativeProvider) Search(context.Context, string) (*convSvc.SearchResult, error) {
	return p.result, p.err
}
func (p *nativeProvider) UploadAttachment(context.Context, convModel.Attachment, io.Reader) (string, error) {
	return "", errors.New("not implemented")
}

func TestSearchDegradedWithoutBackends(t *testing.T) {
	s := NewSearcher("", "", nil, nil)

	result := s.Search(context.Background(), nil, "weather in oslo")
	if !result.Degraded {
		t.Fatal("expected a degraded result")
	}
	if !strings.Contains(result.Answer, `"weather in oslo"`) {
		t.Errorf("answer = %q, want the query named", result.Answer)
	}
}

func TestSearchPrefersNativeTool(t *testing.T) {
	want := &convSvc.SearchResult{Query: "q", Answer: "native answer"}
	s := NewSearcher("tvly-key", "", clientFor(func(*http.Request) (*http.Response, error) {
		t.Error("external backend called despite a working native tool")
		return jsonResponse(http.StatusOK, `{}`), nil
	}), nil)

	result := s.Search(context.Background(), &nativeProvider{result: want}, "q")
	if result.Answer != "native answer" {
		t.Errorf("answer = %q, want the native result", result.Answer)
	}
}

func TestSearchTavilyParsing(t *testing.T) {
	s := NewSearcher("tvly-key", "", clientFor(func(req *http.Request) (*http.Response, error) {
		if req.URL.Host != "api.tavily.com" {
			t.Errorf("unexpected host %q", req.URL.Host)
		}
		return jsonResponse(http.StatusOK, `{
			"answer": "Go 1.25 was released in August 2025.",
			"results": [
				{"title": "Go Blog", "url": "https://go.dev/blog/go1.25", "content": "Release notes"}
			]
		}`), nil
	}), nil)

	// A failed native tool falls through to tavily
	result := s.Search(context.Background(), &nativeProvider{err: errors.New("overloaded")}, "go release")
	if result.Degraded {
		t.Fatal("unexpected degraded result")
	}
	if result.Answer != "Go 1.25 was released in August 2025." {
		t.Errorf("answer = %q", result.Answer)
	}
	if len(result.Citations) != 1 || result.Citations[0].Source != "tavily" {
		t.Fatalf("citations = %+v", result.Citations)
	}
	if result.Citations[0].URL != "https://go.dev/blog/go1.25" {
		t.Errorf("citation url = %q", result.Citations[0].URL)
	}
}

func TestSearchFallsBackToSerper(t *testing.T) {
	s := NewSearcher("tvly-key", "serper-key", clientFor(func(req *http.Request) (*http.Response, error) {
		switch req.URL.Host {
		case "api.tavily.com":
			return jsonResponse(http.StatusTooManyRequests, `{}`), nil
		case "google.serper.dev":
			if got := req.Header.Get("X-API-KEY"); got != "serper-key" {
				t.Errorf("serper key header = %q", got)
			}
			return jsonResponse(http.StatusOK, `{
				"answerBox": {"snippet": "snippet answer"},
				"organic": [
					{"title": "Result", "link": "https://example.com", "snippet": "text"}
				]
			}`), nil
		default:
			t.Errorf("unexpected host %q", req.URL.Host)
			return jsonResponse(http.StatusNotFound, `{}`), nil
		}
	}), nil)

	result := s.Search(context.Background(), nil, "q")
	if result.Degraded {
		t.Fatal("unexpected degraded result")
	}
	// The answer box had no direct answer, the snippet stands in
	if result.Answer != "snippet answer" {
		t.Errorf("answer = %q", result.Answer)
	}
	if len(result.Citations) != 1 || result.Citations[0].Source != "serper" {
		t.Fatalf("citations = %+v", result.Citations)
	}
}

func TestSearchEmptyBackendsDegrade(t *testing.T) {
	s := NewSearcher("tvly-key", "serper-key", clientFor(func(req *http.Request) (*http.Response, error) {
		// Both backends answer 200 with nothing usable
		return jsonResponse(http.StatusOK, `{}`), nil
	}), nil)

	result := s.Search(context.Background(), nil, "q")
	if !result.Degraded {
		t.Fatal("expected a degraded result when every backend is empty")
	}
}
