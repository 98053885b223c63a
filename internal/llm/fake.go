package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// tinyPNG is a 1x1 transparent PNG.
var tinyPNG = []byte{
	0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a, 0x00, 0x00, 0x00, 0x0d,
	0x49, 0x48, 0x44, 0x52, 0x00, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x01,
	0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0x15, 0xc4, 0x89, 0x00, 0x00, 0x00,
	0x0d, 0x49, 0x44, 0x41, 0x54, 0x78, 0x9c, 0x63, 0x00, 0x01, 0x00, 0x00,
	0x05, 0x00, 0x01, 0x0d, 0x0a, 0x2d, 0xb4, 0x00, 0x00, 0x00, 0x00, 0x49,
	0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
}

// DemoReplies walks a short session from concept to final brief. It is the
// script used by offline mode.
var DemoReplies = []string{
	"좋아요, 함께 시작해 볼까요? 먼저 **장르**를 정해 봅시다.\n\n```json\n{\"suggestions\":[{\"label\":\"미스터리\",\"description\":\"긴장감 있는 추리\"},\"로맨스\",\"다큐멘터리\"]}\n```",
	"**미스터리**군요. 장면을 구성해 보았어요.\n\n장면 1: 비 내리는 골목, 네온 간판 아래 주인공이 멈춰 선다\n장면 2: 새벽의 식당, 낯선 남자가 편지를 건넨다\n\n이대로 메타 프롬프트를 정리할까요?\n\n```json\n{\"suggestions\":[\"정리해 줘\",\"장면 추가\"]}\n```",
	"최종 메타 프롬프트입니다.\n\n```json\n{\"finalPrompt\":{\"ko\":\"공통: 필름 누아르, 16:9\\n\\n장면 1: 비 내리는 골목\\n장면 2: 새벽의 식당\",\"en\":\"Common: film noir, 16:9\\n\\nScene 1: rain-soaked alley\\nScene 2: diner at dawn\"},\"suggestions\":[\"처음부터 다시\"]}\n```",
}

// FakeClient returns deterministic scripted replies for offline use and tests.
// Replies are consumed in order across every chat it opens; once exhausted a
// generic echo reply is produced.
type FakeClient struct {
	// Block, when set, makes Send wait until it is closed or ctx is done.
	Block <-chan struct{}
	// SendErr, when set, is returned by every Send.
	SendErr error
	// ImageFunc overrides GenerateImage.
	ImageFunc func(ctx context.Context, prompt string) (*Image, error)

	mu      sync.Mutex
	replies []string
	sent    []string
	chats   []ChatOptions
	images  []string
}

func NewFakeClient(replies ...string) *FakeClient {
	return &FakeClient{replies: append([]string(nil), replies...)}
}

func (f *FakeClient) Name() string { return "FakeLLM" }
func (f *FakeClient) Close() error { return nil }

func (f *FakeClient) NewChat(_ context.Context, opts ChatOptions) (Chat, error) {
	f.mu.Lock()
	f.chats = append(f.chats, opts)
	f.mu.Unlock()
	return &fakeChat{f: f}, nil
}

func (f *FakeClient) GenerateImage(ctx context.Context, prompt string) (*Image, error) {
	f.mu.Lock()
	f.images = append(f.images, prompt)
	fn := f.ImageFunc
	f.mu.Unlock()
	if fn != nil {
		return fn(ctx, prompt)
	}
	return &Image{MIMEType: "image/png", Data: append([]byte(nil), tinyPNG...)}, nil
}

// Push appends replies to the script.
func (f *FakeClient) Push(replies ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies = append(f.replies, replies...)
}

// Sent returns the texts sent to any chat so far.
func (f *FakeClient) Sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent...)
}

// Chats returns the options of every chat opened so far.
func (f *FakeClient) Chats() []ChatOptions {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ChatOptions(nil), f.chats...)
}

// ImagePrompts returns the prompts passed to GenerateImage so far.
func (f *FakeClient) ImagePrompts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.images...)
}

type fakeChat struct {
	f *FakeClient
}

func (c *fakeChat) Send(ctx context.Context, text string) (string, error) {
	f := c.f
	if f.Block != nil {
		select {
		case <-f.Block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	if f.SendErr != nil {
		return "", f.SendErr
	}
	if len(f.replies) == 0 {
		return fmt.Sprintf("%q 확인했어요. 다음은 무엇을 정할까요?\n\n```json\n{\"suggestions\":[\"계속\",\"장면 보기\",\"최종 정리\"]}\n```", text), nil
	}
	reply := f.replies[0]
	f.replies = f.replies[1:]
	if strings.TrimSpace(reply) == "" {
		return "", ErrEmptyReply
	}
	return reply, nil
}

// FakeFactory returns a Factory that always hands out f.
func FakeFactory(f *FakeClient, mws ...Middleware) Factory {
	return func(context.Context, string) (Client, error) {
		return Wrap(f, mws...), nil
	}
}

// FakeValidator accepts every non-empty key except those listed in Reject.
type FakeValidator struct {
	Reject map[string]bool
}

func (v FakeValidator) Validate(_ context.Context, apiKey string) Validation {
	if apiKey == "" {
		return Validation{Message: msgKeyInvalid}
	}
	if v.Reject[apiKey] {
		return validationFromError(errors.New("error 403: permission denied"))
	}
	return Validation{Valid: true, Message: msgKeyVerified}
}
