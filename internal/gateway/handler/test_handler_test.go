package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"din/internal/artifact"
	"din/internal/conversation"
	"din/internal/gateway/handler"
	"din/internal/gateway/server"
	"din/internal/gateway/session"
	"din/internal/llm"
	"din/internal/protocol"
	"din/internal/scene"
)

type fixture struct {
	h     *handler.Handler
	srv   *httptest.Server
	fake  *llm.FakeClient
	store *artifact.MemoryStore
}

func newFixture(t *testing.T, block <-chan struct{}) *fixture {
	t.Helper()
	logger := zap.NewNop()
	fake := llm.NewFakeClient(llm.DemoReplies...)
	fake.Block = block
	store := artifact.NewMemoryStore()
	var n atomic.Int64
	reg := session.NewRegistry(session.Options{
		MaxSessions: 8,
		Factory:     llm.FakeFactory(fake),
		Artifacts:   store,
		Logger:      logger,
		NewID:       func() string { return fmt.Sprintf("s%d", n.Add(1)) },
	})
	h := handler.New(reg, llm.FakeValidator{Reject: map[string]bool{"expired": true}}, store, logger)
	srv := httptest.NewServer(server.NewMux(h, nil, logger))
	t.Cleanup(func() {
		srv.Close()
		reg.Close()
	})
	return &fixture{h: h, srv: srv, fake: fake, store: store}
}

func (f *fixture) do(t *testing.T, method, path string, body any, out any) int {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

type missingResp struct {
	Generated int  `json:"generated"`
	Complete  bool `json:"complete"`
}

type sessionResp struct {
	ID        string                 `json:"id"`
	CustomKey bool                   `json:"customKey"`
	Messages  []conversation.Message `json:"messages"`
	TurnState string                 `json:"turnState"`
	Project   struct {
		Scenes []scene.Scene `json:"scenes"`
	} `json:"project"`
}

func TestStartersAndHealth(t *testing.T) {
	f := newFixture(t, nil)
	var starters struct {
		Starters []conversation.Starter `json:"starters"`
	}
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/starters", nil, &starters))
	assert.Len(t, starters.Starters, 6)

	var health map[string]any
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/healthz", nil, &health))
	assert.Equal(t, true, health["ok"])
}

func TestValidateKey(t *testing.T) {
	f := newFixture(t, nil)
	var v llm.Validation
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/credentials/validate", map[string]string{"apiKey": "good"}, &v))
	assert.True(t, v.Valid)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/credentials/validate", map[string]string{"apiKey": "expired"}, &v))
	assert.False(t, v.Valid)
	assert.Equal(t, "권한이 없거나 만료된 Key입니다.", v.Message)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/v1/credentials/validate", map[string]string{}, nil))
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t, nil)

	var created sessionResp
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/v1/sessions", map[string]string{"apiKey": "mine"}, &created))
	assert.Equal(t, "s1", created.ID)
	assert.True(t, created.CustomKey)
	require.Len(t, created.Messages, 1)
	assert.Equal(t, conversation.GreetingText, created.Messages[0].Text)

	var got sessionResp
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/sessions/s1", nil, &got))
	assert.Equal(t, "idle", got.TurnState)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v1/sessions/missing", nil, nil))
	assert.Equal(t, http.StatusNoContent, f.do(t, http.MethodDelete, "/v1/sessions/s1", nil, nil))
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v1/sessions/s1", nil, nil))
}

func TestConversationFlow(t *testing.T) {
	f := newFixture(t, nil)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/v1/sessions", nil, nil))

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/v1/sessions/s1/messages", map[string]string{"text": "  "}, nil))

	var res conversation.TurnResult
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/sessions/s1/messages", map[string]string{"text": "영상 만들고 싶어"}, &res))
	assert.Equal(t, conversation.TurnSettled, res.Status)
	assert.Len(t, res.Message.Suggestions, 3)

	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/sessions/s1/messages", map[string]string{"text": "미스터리"}, &res))
	require.Len(t, res.NewScenes, 2)
	first := res.NewScenes[0]

	var updated scene.Scene
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPatch, "/v1/sessions/s1/scenes/"+first.ID,
		map[string]string{"visualPrompt": "noir alley, rain"}, &updated))
	assert.Equal(t, "noir alley, rain", updated.VisualPrompt)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPatch, "/v1/sessions/s1/scenes/"+first.ID, map[string]string{}, nil))
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPatch, "/v1/sessions/s1/scenes/nope",
		map[string]string{"description": "x"}, nil))

	var rendered scene.Scene
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/sessions/s1/scenes/"+first.ID+"/image?wait=true", nil, &rendered))
	assert.True(t, strings.HasPrefix(rendered.ImageRef, "data:image/png;base64,"))
	assert.Equal(t, []string{"noir alley, rain"}, f.fake.ImagePrompts())

	resp, err := f.srv.Client().Get(f.srv.URL + "/v1/sessions/s1/artifacts/scenes/" + first.ID + ".png")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	var missing missingResp
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/sessions/s1/images", nil, &missing))
	assert.Equal(t, missingResp{Generated: 1, Complete: true}, missing)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v1/sessions/s1/brief/segments", nil, nil))
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/sessions/s1/messages", map[string]string{"text": "정리해 줘"}, &res))
	require.NotNil(t, res.FinalBrief)

	var segs struct {
		Lang     string             `json:"lang"`
		Segments []protocol.Segment `json:"segments"`
	}
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/sessions/s1/brief/segments?lang=en", nil, &segs))
	assert.Equal(t, "en", segs.Lang)
	require.Len(t, segs.Segments, 3)
	assert.Equal(t, "Common: film noir, 16:9", segs.Segments[0].Text)
	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodGet, "/v1/sessions/s1/brief/segments?lang=fr", nil, nil))

	data, err := f.store.Get(context.Background(), "s1", conversation.BriefPath("en"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Scene 2")

	var reset sessionResp
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/sessions/s1/reset", nil, &reset))
	require.Len(t, reset.Messages, 1)
	assert.Empty(t, reset.Project.Scenes)
	_, err = f.store.Get(context.Background(), "s1", conversation.BriefPath("en"))
	assert.ErrorIs(t, err, artifact.ErrNotFound)
}

func TestSubmitWhileTurnInFlight(t *testing.T) {
	block := make(chan struct{})
	f := newFixture(t, block)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/v1/sessions", nil, nil))

	done := make(chan int, 1)
	go func() {
		req, _ := http.NewRequest(http.MethodPost, f.srv.URL+"/v1/sessions/s1/messages", strings.NewReader(`{"text":"first"}`))
		resp, err := f.srv.Client().Do(req)
		if err != nil {
			done <- 0
			return
		}
		resp.Body.Close()
		done <- resp.StatusCode
	}()

	require.Eventually(t, func() bool {
		var s sessionResp
		return f.do(t, http.MethodGet, "/v1/sessions/s1", nil, &s) == http.StatusOK && s.TurnState == "awaiting_reply"
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/v1/sessions/s1/messages", map[string]string{"text": "second"}, nil))
	close(block)
	assert.Equal(t, http.StatusOK, <-done)
	assert.Equal(t, []string{"first"}, f.fake.Sent())
}

func TestImageRequestsPastDeadline(t *testing.T) {
	f := newFixture(t, nil)
	f.h.SetImageTimeout(50 * time.Millisecond)
	f.fake.ImageFunc = func(ctx context.Context, _ string) (*llm.Image, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return nil, llm.ErrNoImage
		}
	}
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/v1/sessions", nil, nil))
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/sessions/s1/messages", map[string]string{"text": "영상 만들고 싶어"}, nil))
	var res conversation.TurnResult
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/sessions/s1/messages", map[string]string{"text": "미스터리"}, &res))
	require.Len(t, res.NewScenes, 2)

	var missing missingResp
	require.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/v1/sessions/s1/images", nil, &missing))
	assert.Equal(t, missingResp{Generated: 0, Complete: false}, missing)

	assert.Equal(t, http.StatusGatewayTimeout,
		f.do(t, http.MethodPost, "/v1/sessions/s1/scenes/"+res.NewScenes[0].ID+"/image?wait=true", nil, nil))

	var s sessionResp
	require.Equal(t, http.StatusOK, f.do(t, http.MethodGet, "/v1/sessions/s1", nil, &s))
	for _, sc := range s.Project.Scenes {
		assert.Empty(t, sc.ImageRef)
		assert.False(t, sc.Generating)
	}
}

func TestImageForUnknownScene(t *testing.T) {
	f := newFixture(t, nil)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/v1/sessions", nil, nil))
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/v1/sessions/s1/scenes/ghost/image", nil, nil))
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/v1/sessions/s1/artifacts/scenes/ghost.png", nil, nil))
}

func TestEventsWebsocket(t *testing.T) {
	f := newFixture(t, nil)
	require.Equal(t, http.StatusCreated, f.do(t, http.MethodPost, "/v1/sessions", nil, nil))

	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/v1/sessions/s1/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	type outbound struct {
		Type     string                 `json:"type"`
		Event    *conversation.Event    `json:"event"`
		Snapshot *conversation.Snapshot `json:"snapshot"`
		Code     string                 `json:"code"`
	}
	var first outbound
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, "subscribed", first.Type)
	require.NotNil(t, first.Snapshot)
	assert.Len(t, first.Snapshot.Messages, 1)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "bogus"}))
	var bad outbound
	require.NoError(t, conn.ReadJSON(&bad))
	assert.Equal(t, "error", bad.Type)
	assert.Equal(t, "invalid_argument", bad.Code)

	require.NoError(t, conn.WriteJSON(map[string]string{"type": "submit", "text": "hello"}))
	var reply *conversation.Message
	for reply == nil {
		var out outbound
		require.NoError(t, conn.ReadJSON(&out))
		if out.Type != "event" || out.Event.Kind != conversation.EventMessage {
			continue
		}
		if m := out.Event.Message; m.Role == conversation.RoleModel && !m.Pending {
			reply = m
		}
	}
	assert.Len(t, reply.Suggestions, 3)
}
