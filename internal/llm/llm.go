package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
)

var (
	// ErrNoImage is returned by GenerateImage when the model answered without an image part.
	ErrNoImage = errors.New("llm: no image in response")
	// ErrEmptyReply is returned when a chat turn produced no text.
	ErrEmptyReply = errors.New("llm: empty reply")
	// ErrMissingAPIKey is returned by factories when no credential is available.
	ErrMissingAPIKey = errors.New("llm: missing api key")
)

// Client is a handle on a remote generative service bound to one credential.
type Client interface {
	Name() string
	// NewChat opens a stateful chat session. The session keeps its own history.
	NewChat(ctx context.Context, opts ChatOptions) (Chat, error)
	// GenerateImage renders a single image for prompt.
	GenerateImage(ctx context.Context, prompt string) (*Image, error)
	Close() error
}

// Chat is one multi-turn conversation with the remote model.
type Chat interface {
	Send(ctx context.Context, text string) (string, error)
}

// ChatOptions configures a chat session.
type ChatOptions struct {
	System      string
	Temperature float32
}

// Image is an inline image returned by the service.
type Image struct {
	MIMEType string
	Data     []byte
}

// DataURL renders the image as a data: URL usable directly as an image reference.
func (i *Image) DataURL() string {
	if i == nil || len(i.Data) == 0 {
		return ""
	}
	return "data:" + i.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

// Ext returns a file extension for the image MIME type.
func (i *Image) Ext() string {
	if i == nil {
		return "bin"
	}
	switch strings.ToLower(i.MIMEType) {
	case "image/png":
		return "png"
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	}
	return "bin"
}

// Validation is the result of probing a credential.
type Validation struct {
	Valid   bool   `json:"isValid"`
	Message string `json:"message"`
}

// Validator probes whether a credential can be used.
type Validator interface {
	Validate(ctx context.Context, apiKey string) Validation
}

// Factory builds a Client for a credential. An empty key means "use the default".
type Factory func(ctx context.Context, apiKey string) (Client, error)

// PermanentError indicates an error that will not resolve with retries.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func NewPermanentError(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err should not be retried.
func IsPermanent(err error) bool {
	var pErr *PermanentError
	return errors.As(err, &pErr) || errors.Is(err, ErrNoImage)
}
