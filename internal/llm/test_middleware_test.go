package llm

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// flaky fails the first n calls of each operation with err.
type flaky struct {
	mu    sync.Mutex
	fails int
	err   error
	calls int
}

func (f *flaky) Name() string { return "flaky" }
func (f *flaky) Close() error { return nil }

func (f *flaky) next() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.fails {
		return f.err
	}
	return nil
}

func (f *flaky) NewChat(context.Context, ChatOptions) (Chat, error) { return &flakyChat{f: f}, nil }

func (f *flaky) GenerateImage(context.Context, string) (*Image, error) {
	if err := f.next(); err != nil {
		return nil, err
	}
	return &Image{MIMEType: "image/png", Data: []byte{1}}, nil
}

type flakyChat struct{ f *flaky }

func (c *flakyChat) Send(_ context.Context, text string) (string, error) {
	if err := c.f.next(); err != nil {
		return "", err
	}
	return "echo:" + text, nil
}

// tagging records the order in which middlewares see a request.
func tagging(tag string, seen *[]string) Middleware {
	return func(next Client) Client {
		return &tagged{Client: next, tag: tag, seen: seen}
	}
}

type tagged struct {
	Client
	tag  string
	seen *[]string
}

func (t *tagged) GenerateImage(ctx context.Context, p string) (*Image, error) {
	*t.seen = append(*t.seen, t.tag)
	return t.Client.GenerateImage(ctx, p)
}

func TestWrap_Order(t *testing.T) {
	var seen []string
	cli := Wrap(&flaky{}, tagging("A", &seen), nil, tagging("B", &seen))
	if _, err := cli.GenerateImage(context.Background(), "p"); err != nil {
		t.Fatal(err)
	}
	if strings.Join(seen, ",") != "A,B" {
		t.Fatalf("order = %v, want A,B", seen)
	}
}

func TestRetry_TransientThenSuccess(t *testing.T) {
	inner := &flaky{fails: 2, err: errors.New("503 unavailable")}
	cli := Wrap(inner, Retry(3, time.Millisecond))
	chat, err := cli.NewChat(context.Background(), ChatOptions{})
	if err != nil {
		t.Fatal(err)
	}
	got, err := chat.Send(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if got != "echo:hi" || inner.calls != 3 {
		t.Fatalf("got %q after %d calls", got, inner.calls)
	}
}

func TestRetry_GivesUpAndReturnsLastError(t *testing.T) {
	inner := &flaky{fails: 10, err: errors.New("timeout")}
	cli := Wrap(inner, Retry(2, time.Millisecond))
	if _, err := cli.GenerateImage(context.Background(), "p"); err == nil || inner.calls != 2 {
		t.Fatalf("err = %v calls = %d", err, inner.calls)
	}
}

func TestRetry_PermanentStopsImmediately(t *testing.T) {
	for _, err := range []error{classify(errors.New("Error 403, Message: key expired")), ErrNoImage} {
		inner := &flaky{fails: 10, err: err}
		cli := Wrap(inner, Retry(5, time.Millisecond))
		if _, got := cli.GenerateImage(context.Background(), "p"); !errors.Is(got, err) {
			t.Fatalf("error = %v, want %v", got, err)
		}
		if inner.calls != 1 {
			t.Fatalf("calls = %d, want 1", inner.calls)
		}
	}
}

func TestRetry_ContextCanceledDuringBackoff(t *testing.T) {
	inner := &flaky{fails: 10, err: errors.New("unavailable")}
	cli := Wrap(inner, Retry(5, time.Hour))
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := cli.GenerateImage(ctx, "p"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("error = %v, want deadline exceeded", err)
	}
}

func TestRateLimit_SpacesRequests(t *testing.T) {
	cli := Wrap(&flaky{}, RateLimit(2, 1))
	chat, _ := cli.NewChat(context.Background(), ChatOptions{})
	start := time.Now()
	for i := 0; i < 2; i++ {
		if _, err := chat.Send(context.Background(), "p"); err != nil {
			t.Fatal(err)
		}
	}
	if elapsed := time.Since(start); elapsed < 450*time.Millisecond {
		t.Fatalf("expected throttling >=450ms, got %v", elapsed)
	}
}

func TestRateLimit_DisabledPassesThrough(t *testing.T) {
	inner := &flaky{}
	if got := Wrap(inner, RateLimit(0, 0)); got != Client(inner) {
		t.Fatalf("disabled limiter should return the inner client")
	}
}

func TestWithLogging_RecordsPhaseAndErrors(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	inner := &flaky{fails: 1, err: errors.New("boom")}
	cli := Wrap(inner, WithLogging(zap.New(core)))
	ctx := WithPhase(context.Background(), "turn")
	chat, _ := cli.NewChat(ctx, ChatOptions{System: "sys"})

	if _, err := chat.Send(ctx, "hello"); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := chat.Send(ctx, "hello"); err != nil {
		t.Fatal(err)
	}
	if n := logs.FilterMessage("llm error").Len(); n != 1 {
		t.Fatalf("llm error entries = %d", n)
	}
	req := logs.FilterMessage("llm request").All()
	if len(req) != 2 || req[0].ContextMap()["phase"] != "turn" {
		t.Fatalf("unexpected request entries: %+v", req)
	}
}

func TestRedactMedia(t *testing.T) {
	in := "look: data:image/png;base64,iVBORw0KGgo= done"
	got := RedactMedia(in)
	if strings.Contains(got, "iVBOR") || !strings.Contains(got, "[REDACTED media]") {
		t.Fatalf("RedactMedia() = %q", got)
	}
	if RedactMedia("plain text") != "plain text" {
		t.Fatalf("plain text must be kept")
	}
}

func TestImageDataURL(t *testing.T) {
	img := &Image{MIMEType: "image/png", Data: []byte("abc")}
	if got := img.DataURL(); got != "data:image/png;base64,YWJj" {
		t.Fatalf("DataURL() = %q", got)
	}
	if img.Ext() != "png" || (&Image{MIMEType: "image/jpeg"}).Ext() != "jpg" {
		t.Fatalf("unexpected extensions")
	}
	var nilImg *Image
	if nilImg.DataURL() != "" {
		t.Fatalf("nil image should render empty")
	}
}

func TestValidationFromError(t *testing.T) {
	if v := validationFromError(nil); !v.Valid {
		t.Fatalf("nil error should validate")
	}
	if v := validationFromError(errors.New("Error 403, PERMISSION_DENIED")); v.Valid || v.Message != msgKeyExpired {
		t.Fatalf("403 = %+v", v)
	}
	if v := validationFromError(errors.New("Error 400, API key not valid")); v.Valid || v.Message != msgKeyInvalid {
		t.Fatalf("400 = %+v", v)
	}
	if v := (FakeValidator{Reject: map[string]bool{"bad": true}}).Validate(context.Background(), "bad"); v.Message != msgKeyExpired {
		t.Fatalf("fake reject = %+v", v)
	}
}

func TestFakeClient_ScriptThenEcho(t *testing.T) {
	f := NewFakeClient("one")
	chat, _ := f.NewChat(context.Background(), ChatOptions{System: "s"})
	if got, _ := chat.Send(context.Background(), "a"); got != "one" {
		t.Fatalf("first reply = %q", got)
	}
	got, _ := chat.Send(context.Background(), "b")
	if !strings.Contains(got, "```json") {
		t.Fatalf("echo reply should carry a block: %q", got)
	}
	if s := f.Sent(); len(s) != 2 || s[1] != "b" {
		t.Fatalf("sent = %v", s)
	}
}
