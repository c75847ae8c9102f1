package imagegen

import (
	"context"
	"errors"
	"io"
	"testing"

	"arbor/internal/capabilities"
	"arbor/internal/domain"
	"arbor/internal/domain/models/conv"
	convSvc "arbor/internal/domain/services/conv"
)

// stubProvider renders images from a canned result.
type stubProvider struct {
	name string
	url  string
	err  error
}

func (p *stubProvider) Name() string              { return p.name }
func (p *stubProvider) SupportsModel(string) bool { return true }
func (p *stubProvider) SupportsResume() bool      { return false }
func (p *stubProvider) Stream(context.Context, *convSvc.GenerateRequest) (<-chan convSvc.Delta, error) {
	return nil, errors.New("not implemented")
}
func (p *stubProvider) Resume(context.Context, *convSvc.ResumeRequest) (<-chan convSvc.Delta, error) {
	return nil, errors.New("not implemented")
}
func (p *stubProvider) UploadAttachment(context.Context, conv.Attachment, io.Reader) (string, error) {
	return "", errors.New("not implemented")
}
func (p *stubProvider) GenerateImage(context.Context, string) (string, error) {
	return p.url, p.err
}

// textOnlyProvider satisfies the provider contract but renders nothing.
type textOnlyProvider struct {
	name string
}

func (p *textOnlyProvider) Name() string              { return p.name }
func (p *textOnlyProvider) SupportsModel(string) bool { return true }
func (p *textOnlyProvider) SupportsResume() bool      { return false }
func (p *textOnlyProvider) Stream(context.Context, *convSvc.GenerateRequest) (<-chan convSvc.Delta, error) {
	return nil, errors.New("not implemented")
}
func (p *textOnlyProvider) Resume(context.Context, *convSvc.ResumeRequest) (<-chan convSvc.Delta, error) {
	return nil, errors.New("not implemented")
}
func (p *textOnlyProvider) UploadAttachment(context.Context, conv.Attachment, io.Reader) (string, error) {
	return "", errors.New("not implemented")
}

// stubFactory returns providers by name; missing names act unconfigured.
type stubFactory map[string]convSvc.Provider

func (f stubFactory) ForProvider(name string) (convSvc.Provider, error) {
	p, ok := f[name]
	if !ok {
		return nil, errors.New("not configured")
	}
	return p, nil
}

func testGenerator(t *testing.T) *Generator {
	t.Helper()
	registry, err := capabilities.NewRegistry()
	if err != nil {
		t.Fatalf("capability registry: %v", err)
	}
	return NewGenerator(registry, nil)
}

func TestGeneratePrefersRequestedModelProvider(t *testing.T) {
	g := testGenerator(t)
	factory := stubFactory{
		"echo":   &stubProvider{name: "echo", url: "https://echo.invalid/a.png"},
		"openai": &stubProvider{name: "openai", url: "https://openai.invalid/b.png"},
	}

	// echo-1 belongs to echo, so echo renders even though openai is the
	// provider with a registered image model
	url, err := g.Generate(context.Background(), factory, "echo-1", "a fox")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if url != "https://echo.invalid/a.png" {
		t.Errorf("url = %q, want the preferred model's provider", url)
	}
}

func TestGenerateFallsThroughFailures(t *testing.T) {
	g := testGenerator(t)
	factory := stubFactory{
		"echo":   &stubProvider{name: "echo", err: errors.New("renderer offline")},
		"openai": &stubProvider{name: "openai", url: "https://openai.invalid/b.png"},
	}

	url, err := g.Generate(context.Background(), factory, "echo-1", "a fox")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if url != "https://openai.invalid/b.png" {
		t.Errorf("url = %q, want the fallback provider's render", url)
	}
}

func TestGenerateAllProvidersFail(t *testing.T) {
	g := testGenerator(t)
	factory := stubFactory{
		"echo":   &stubProvider{name: "echo", err: errors.New("down")},
		"openai": &stubProvider{name: "openai", err: errors.New("also down")},
	}

	_, err := g.Generate(context.Background(), factory, "echo-1", "a fox")
	if !errors.Is(err, domain.ErrImageGeneration) {
		t.Errorf("err = %v, want ErrImageGeneration", err)
	}
}

func TestGenerateNothingConfigured(t *testing.T) {
	g := testGenerator(t)

	_, err := g.Generate(context.Background(), stubFactory{}, "gpt-4o", "a fox")
	if !errors.Is(err, domain.ErrImageGeneration) {
		t.Errorf("err = %v, want ErrImageGeneration", err)
	}
}

func TestGenerateSkipsTextOnlyProviders(t *testing.T) {
	g := testGenerator(t)
	factory := stubFactory{
		// anthropic resolves first for a claude model but cannot render
		"anthropic": &textOnlyProvider{name: "anthropic"},
		"openai":    &stubProvider{name: "openai", url: "https://openai.invalid/b.png"},
	}

	url, err := g.Generate(context.Background(), factory, "claude-sonnet-4-5-20250929", "a fox")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if url != "https://openai.invalid/b.png" {
		t.Errorf("url = %q", url)
	}
}
