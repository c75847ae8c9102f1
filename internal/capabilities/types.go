package capabilities

// ProviderCapabilities describes one provider and its models as loaded from
// the embedded YAML files.
type ProviderCapabilities struct {
	Provider string              `yaml:"provider"`
	// Resumable means the provider exposes a resume handle plus monotonic
	// sequence numbers sufficient to continue a dropped stream
	Resumable    bool                `yaml:"resumable"`
	NativeSearch bool                `yaml:"native_search"`
	Models       []ModelCapabilities `yaml:"models"`
}

// ModelCapabilities describes one model entry.
type ModelCapabilities struct {
	ID              string `yaml:"id"`
	DisplayName     string `yaml:"display_name"`
	ContextWindow   int    `yaml:"context_window"`
	MaxOutput       int    `yaml:"max_output"`
	ImageInput      bool   `yaml:"image_input"`
	ImageGeneration bool   `yaml:"image_generation"`
}
