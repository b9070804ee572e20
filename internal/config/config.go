// Package config provides configuration loading for reviewd.
package config

import (
	"fmt"
	"time"

	"github.com/konradekk14/llm-code-review-assistant/internal/coordinator"
	"github.com/konradekk14/llm-code-review-assistant/internal/embeddings"
	"github.com/konradekk14/llm-code-review-assistant/internal/logging"
	"github.com/konradekk14/llm-code-review-assistant/internal/provider"
	"github.com/konradekk14/llm-code-review-assistant/internal/retrieval"
	"github.com/konradekk14/llm-code-review-assistant/internal/vectorstore"
)

// Config is the complete reviewd configuration.
type Config struct {
	Server      ServerConfig       `koanf:"server"`
	Logging     logging.Config     `koanf:"logging"`
	Embeddings  embeddings.Config  `koanf:"embeddings"`
	VectorStore vectorstore.Config `koanf:"vectorstore"`
	Retrieval   retrieval.Config   `koanf:"retrieval"`
	Providers   []provider.Config  `koanf:"providers"`
	Coordinator coordinator.Config `koanf:"coordinator"`
	GitHub      GitHubConfig       `koanf:"github"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the listen address. Defaults to localhost only.
	Host string `koanf:"host"`

	// Port is the listen port.
	Port int `koanf:"port"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// GitHubConfig holds settings for posting reviews back to pull requests.
type GitHubConfig struct {
	// Token is a GitHub token with pull-request write access.
	Token string `koanf:"token"`

	// BaseURL overrides the API endpoint for GitHub Enterprise. Empty
	// means github.com.
	BaseURL string `koanf:"base_url"`

	// AutoPost enables posting aggregated reviews to the originating
	// pull request.
	AutoPost bool `koanf:"auto_post"`
}

// ApplyDefaults sets default values for missing configuration fields.
func (c *Config) ApplyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8941
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	def := logging.NewDefaultConfig()
	if c.Logging.Level == "" {
		c.Logging.Level = def.Level
	}
	if c.Logging.Format == "" {
		c.Logging.Format = def.Format
	}

	c.Embeddings.ApplyDefaults()
	c.VectorStore.ApplyDefaults()
	c.Retrieval.ApplyDefaults()
	c.Coordinator.ApplyDefaults()

	for i := range c.Providers {
		c.Providers[i].ApplyDefaults()
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be 1-65535, got %d", c.Server.Port)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.Embeddings.Validate(); err != nil {
		return fmt.Errorf("embeddings: %w", err)
	}
	if err := c.Retrieval.Validate(); err != nil {
		return fmt.Errorf("retrieval: %w", err)
	}
	if err := c.Coordinator.Validate(); err != nil {
		return fmt.Errorf("coordinator: %w", err)
	}

	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}
	names := make(map[string]bool, len(c.Providers))
	for _, p := range c.Providers {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("provider %q: %w", p.Name, err)
		}
		if names[p.Name] {
			return fmt.Errorf("duplicate provider name %q", p.Name)
		}
		names[p.Name] = true
	}

	if c.GitHub.AutoPost && c.GitHub.Token == "" {
		return fmt.Errorf("github auto_post requires a token")
	}

	return nil
}
