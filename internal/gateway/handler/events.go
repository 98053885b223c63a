package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"din/internal/conversation"
	"din/internal/imagegen"
)

const (
	eventsWSWriteWait = 10 * time.Second
	eventsWSPongWait  = 60 * time.Second
	eventsWSPingEvery = (eventsWSPongWait * 9) / 10
)

var eventsWSUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

type eventsWSInbound struct {
	Type    string `json:"type"`
	Text    string `json:"text,omitempty"`
	SceneID string `json:"sceneId,omitempty"`
	Prompt  string `json:"prompt,omitempty"`
}

type eventsWSOutbound struct {
	Type      string                 `json:"type"`
	SessionID string                 `json:"sessionId,omitempty"`
	Event     *conversation.Event    `json:"event,omitempty"`
	Snapshot  *conversation.Snapshot `json:"snapshot,omitempty"`
	Code      string                 `json:"code,omitempty"`
	Message   string                 `json:"message,omitempty"`
}

// Events upgrades to a websocket that first sends a snapshot of the session
// and then every session event. Clients may also submit messages, request
// images and reset the session over the same socket.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}

	conn, err := eventsWSUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	if err := conn.SetReadDeadline(time.Now().Add(eventsWSPongWait)); err != nil {
		h.log.Warn("events ws set read deadline failed", zap.Error(err))
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(eventsWSPongWait))
	})

	writeCh := make(chan eventsWSOutbound, 64)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(eventsWSPingEvery)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case out := <-writeCh:
				if err := conn.SetWriteDeadline(time.Now().Add(eventsWSWriteWait)); err != nil {
					return
				}
				if err := conn.WriteJSON(out); err != nil {
					return
				}
			case <-ticker.C:
				if err := conn.SetWriteDeadline(time.Now().Add(eventsWSWriteWait)); err != nil {
					return
				}
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}()

	conv := s.Conversation
	subCh := conv.Subscribe(ctx)
	snap := conv.Snapshot()
	pushEventsWS(writeCh, eventsWSOutbound{
		Type:      "subscribed",
		SessionID: s.ID,
		Snapshot:  &snap,
	})

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-subCh:
				if !ok {
					pushEventsWS(writeCh, eventsWSOutbound{Type: "closed", SessionID: s.ID})
					return
				}
				pushEventsWS(writeCh, eventsWSOutbound{Type: "event", SessionID: s.ID, Event: &ev})
			}
		}
	}()

	for {
		var in eventsWSInbound
		if err := conn.ReadJSON(&in); err != nil {
			cancel()
			<-writerDone
			return
		}
		switch in.Type {
		case "ping":
			pushEventsWS(writeCh, eventsWSOutbound{Type: "pong"})
		case "submit":
			go func(text string) {
				tctx, tcancel := context.WithTimeout(context.WithoutCancel(ctx), turnTimeout)
				defer tcancel()
				if _, err := conv.Submit(tctx, text); err != nil {
					pushEventsWS(writeCh, wsError(err))
				}
			}(in.Text)
		case "generate_image":
			if err := s.Images.GenerateAsync(in.SceneID, in.Prompt); err != nil {
				pushEventsWS(writeCh, wsError(err))
			}
		case "reset":
			if err := conv.Reset(ctx); err != nil {
				pushEventsWS(writeCh, wsError(err))
			}
		default:
			pushEventsWS(writeCh, eventsWSOutbound{
				Type:    "error",
				Code:    "invalid_argument",
				Message: "unsupported type: " + in.Type,
			})
		}
	}
}

func wsError(err error) eventsWSOutbound {
	code := "internal"
	switch {
	case errors.Is(err, conversation.ErrEmptyInput):
		code = "invalid_argument"
	case errors.Is(err, conversation.ErrTurnInFlight), errors.Is(err, conversation.ErrNoSession):
		code = "failed_precondition"
	case errors.Is(err, imagegen.ErrUnknownScene):
		code = "not_found"
	}
	return eventsWSOutbound{Type: "error", Code: code, Message: err.Error()}
}

func pushEventsWS(writeCh chan eventsWSOutbound, out eventsWSOutbound) {
	if writeCh == nil {
		return
	}
	select {
	case writeCh <- out:
		return
	default:
	}
	select {
	case <-writeCh:
	default:
	}
	select {
	case writeCh <- out:
	default:
	}
}
