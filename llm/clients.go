package llm

import (
	"fmt"
	"sort"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
	log "github.com/sirupsen/logrus"
	"github.com/tinfoilsh/tinfoil-go"

	"github.com/tinfoilsh/reasoning-search/config"
	"github.com/tinfoilsh/reasoning-search/pipeline"
)

// Chat backend names
const (
	ProviderOpenAI   = "openai"
	ProviderDeepSeek = "deepseek"
	ProviderTinfoil  = "tinfoil"
)

// Clients is the registry of chat backends
type Clients struct {
	responders map[string]*ChatResponder
	fallback   string
}

// NewClients creates an empty registry; fallback names the backend used when none is requested
func NewClients(fallback string) *Clients {
	return &Clients{
		responders: make(map[string]*ChatResponder),
		fallback:   strings.ToLower(fallback),
	}
}

// FromConfig registers the OpenAI and DeepSeek backends, and Tinfoil when a key is configured.
// Backends without a server key still work with per-request keys.
func FromConfig(cfg *config.Config) (*Clients, error) {
	c := NewClients(cfg.AskProvider)

	openaiClient := openai.NewClient(clientOptions(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.LLMMaxRetries)...)
	c.Register(NewChatResponder(ProviderOpenAI, &openaiClient.Chat.Completions,
		cfg.OpenAIModel, config.ChatTemperature, config.OpenAIMaxTokens))

	deepseekClient := openai.NewClient(clientOptions(cfg.DeepSeekAPIKey, cfg.DeepSeekBaseURL, cfg.LLMMaxRetries)...)
	c.Register(NewChatResponder(ProviderDeepSeek, &deepseekClient.Chat.Completions,
		cfg.DeepSeekModel, config.ChatTemperature, config.DeepSeekMaxTokens))

	if cfg.TinfoilAPIKey != "" {
		tinfoilClient, err := tinfoil.NewClient(option.WithAPIKey(cfg.TinfoilAPIKey), option.WithMaxRetries(cfg.LLMMaxRetries))
		if err != nil {
			return nil, fmt.Errorf("failed to create Tinfoil client: %w", err)
		}
		log.Infof("Tinfoil backend verified (enclave: %s)", tinfoilClient.Enclave())
		c.Register(NewChatResponder(ProviderTinfoil, &tinfoilClient.Chat.Completions,
			cfg.TinfoilModel, config.ChatTemperature, config.DeepSeekMaxTokens))
	}

	if _, ok := c.responders[c.fallback]; !ok {
		return nil, fmt.Errorf("unknown ASK_PROVIDER %q (available: %s)", cfg.AskProvider, strings.Join(c.Names(), ", "))
	}
	return c, nil
}

func clientOptions(apiKey, baseURL string, maxRetries int) []option.RequestOption {
	opts := []option.RequestOption{option.WithMaxRetries(maxRetries)}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return opts
}

// Register adds or replaces a backend under its name
func (c *Clients) Register(r *ChatResponder) {
	c.responders[strings.ToLower(r.Name())] = r
}

// Get returns the named backend; an empty name selects the fallback
func (c *Clients) Get(name string) (*ChatResponder, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = c.fallback
	}
	r, ok := c.responders[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	return r, nil
}

// Responder implements pipeline.ResponderSource
func (c *Clients) Responder(name string) (pipeline.Responder, error) {
	r, err := c.Get(name)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Names lists the registered backends
func (c *Clients) Names() []string {
	names := make([]string, 0, len(c.responders))
	for name := range c.responders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Verify Clients implements ResponderSource
var _ pipeline.ResponderSource = (*Clients)(nil)
