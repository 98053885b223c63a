package llm

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	genai "google.golang.org/genai"
)

const (
	DefaultChatModel  = "gemini-3-flash-preview"
	DefaultImageModel = "gemini-2.5-flash-image"
)

// reClientStatus matches HTTP status codes that do not resolve by retrying.
var reClientStatus = regexp.MustCompile(`\b(400|401|403|404)\b`)

// GeminiConfig selects the credential and models of a GeminiClient.
type GeminiConfig struct {
	APIKey     string
	ChatModel  string
	ImageModel string
}

func (c GeminiConfig) withDefaults() GeminiConfig {
	if strings.TrimSpace(c.ChatModel) == "" {
		c.ChatModel = DefaultChatModel
	}
	if strings.TrimSpace(c.ImageModel) == "" {
		c.ImageModel = DefaultImageModel
	}
	return c
}

// GeminiClient is a thin wrapper around the official genai client.
type GeminiClient struct {
	cli *genai.Client
	cfg GeminiConfig
}

func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	cfg = cfg.withDefaults()
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GeminiClient{cli: cli, cfg: cfg}, nil
}

func (g *GeminiClient) Name() string { return "Gemini:" + g.cfg.ChatModel }
func (g *GeminiClient) Close() error { return nil }

func (g *GeminiClient) NewChat(ctx context.Context, opts ChatOptions) (Chat, error) {
	conf := &genai.GenerateContentConfig{}
	if s := strings.TrimSpace(opts.System); s != "" {
		conf.SystemInstruction = genai.NewContentFromText(s, genai.RoleUser)
	}
	if opts.Temperature > 0 {
		conf.Temperature = genai.Ptr(opts.Temperature)
	}
	chat, err := g.cli.Chats.Create(ctx, g.cfg.ChatModel, conf, nil)
	if err != nil {
		return nil, classify(fmt.Errorf("create chat: %w", err))
	}
	return &geminiChat{chat: chat}, nil
}

type geminiChat struct {
	chat *genai.Chat
}

func (c *geminiChat) Send(ctx context.Context, text string) (string, error) {
	resp, err := c.chat.SendMessage(ctx, genai.Part{Text: text})
	if err != nil {
		return "", classify(err)
	}
	out := resp.Text()
	if strings.TrimSpace(out) == "" {
		return "", ErrEmptyReply
	}
	return out, nil
}

// GenerateImage asks the image model for a picture and returns the first
// inline image part.
func (g *GeminiClient) GenerateImage(ctx context.Context, prompt string) (*Image, error) {
	resp, err := g.cli.Models.GenerateContent(ctx, g.cfg.ImageModel, genai.Text(prompt), nil)
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, ErrNoImage
	}
	for _, p := range resp.Candidates[0].Content.Parts {
		if p == nil || p.InlineData == nil {
			continue
		}
		if strings.HasPrefix(p.InlineData.MIMEType, "image/") && len(p.InlineData.Data) > 0 {
			return &Image{MIMEType: p.InlineData.MIMEType, Data: p.InlineData.Data}, nil
		}
	}
	return nil, ErrNoImage
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if reClientStatus.MatchString(err.Error()) {
		return NewPermanentError(err)
	}
	return err
}

// GeminiFactory returns a Factory that builds middleware-wrapped Gemini
// clients. An empty key falls back to cfg.APIKey.
func GeminiFactory(cfg GeminiConfig, mws ...Middleware) Factory {
	return func(ctx context.Context, apiKey string) (Client, error) {
		c := cfg
		if k := strings.TrimSpace(apiKey); k != "" {
			c.APIKey = k
		}
		cli, err := NewGeminiClient(ctx, c)
		if err != nil {
			return nil, err
		}
		return Wrap(cli, mws...), nil
	}
}

const (
	msgKeyVerified = "API Key Verified"
	msgKeyInvalid  = "유효하지 않은 API Key입니다."
	msgKeyExpired  = "권한이 없거나 만료된 Key입니다."
)

// GeminiValidator probes a key with a tiny generation request.
type GeminiValidator struct {
	Model string
}

func (v GeminiValidator) Validate(ctx context.Context, apiKey string) Validation {
	if strings.TrimSpace(apiKey) == "" {
		return Validation{Message: msgKeyInvalid}
	}
	model := v.Model
	if model == "" {
		model = DefaultChatModel
	}
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err == nil {
		_, err = cli.Models.GenerateContent(ctx, model, genai.Text("Test"), nil)
	}
	return validationFromError(err)
}

func validationFromError(err error) Validation {
	if err == nil {
		return Validation{Valid: true, Message: msgKeyVerified}
	}
	if strings.Contains(err.Error(), "403") {
		return Validation{Message: msgKeyExpired}
	}
	return Validation{Message: msgKeyInvalid}
}
