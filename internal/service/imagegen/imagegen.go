// Package imagegen serves /image commands by walking the providers that
// expose an image capability, in credential order, until one renders.
package imagegen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"arbor/internal/capabilities"
	"arbor/internal/domain"
	"arbor/internal/domain/models/conv"
	convSvc "arbor/internal/domain/services/conv"
)

// Factory is the subset of the provider factory needed here.
type Factory interface {
	ForProvider(name string) (convSvc.Provider, error)
}

type Generator struct {
	registry *capabilities.Registry
	logger   *slog.Logger
}

func NewGenerator(registry *capabilities.Registry, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{registry: registry, logger: logger}
}

// Generate renders a prompt to an image URL. It prefers the provider of
// preferredModel when that provider can render, then tries every other
// configured provider with the capability. All failures collapse into
// ErrImageGeneration.
func (g *Generator) Generate(ctx context.Context, factory Factory, preferredModel, prompt string) (string, error) {
	var errs []error
	tried := map[string]bool{}

	for _, name := range g.candidates(preferredModel) {
		if tried[name] {
			continue
		}
		tried[name] = true

		p, err := factory.ForProvider(name)
		if err != nil {
			// Unconfigured provider; try the next one
			continue
		}
		gen, ok := p.(convSvc.ImageGenerator)
		if !ok {
			continue
		}

		url, err := gen.GenerateImage(ctx, prompt)
		if err == nil {
			return url, nil
		}
		g.logger.Warn("image generation failed, trying next provider",
			"provider", name, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
	}

	if len(errs) == 0 {
		return "", fmt.Errorf("no provider with image capability is configured: %w", domain.ErrImageGeneration)
	}
	return "", fmt.Errorf("all image providers failed: %w: %w", errors.Join(errs...), domain.ErrImageGeneration)
}

func (g *Generator) candidates(preferredModel string) []string {
	var order []string
	if name, ok := conv.ProviderForModel(preferredModel); ok {
		order = append(order, name)
	}
	for _, name := range g.registry.GetAllProviders() {
		if g.hasImageModel(name) {
			order = append(order, name)
		}
	}
	return order
}

func (g *Generator) hasImageModel(provider string) bool {
	models, err := g.registry.ListProviderModels(provider)
	if err != nil {
		return false
	}
	for _, m := range models {
		if m.ImageGeneration {
			return true
		}
	}
	return false
}
