package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"din/internal/artifact"
	"din/internal/llm"
	"din/internal/project"
	"din/internal/protocol"
	"din/internal/scene"
)

var (
	ErrEmptyInput   = errors.New("conversation: empty input")
	ErrNoSession    = errors.New("conversation: no chat session")
	ErrTurnInFlight = errors.New("conversation: a turn is already in flight")
	ErrNoFactory    = errors.New("conversation: no client factory configured")
)

const defaultTemperature = 0.7

// Options configures a Controller.
type Options struct {
	// SessionID names the session in logs and artifact paths.
	SessionID string
	Factory   llm.Factory
	// APIKey is the session credential; empty falls back to the factory default.
	APIKey      string
	Instruction protocol.InstructionOptions
	Temperature float32
	Scene       scene.Options
	// Artifacts, when set, receives the exported final brief.
	Artifacts artifact.Store
	Logger    *zap.Logger
	Now       func() time.Time
	NewID     func() string
}

// Controller runs the conversation of one session: it owns the transcript,
// the chat with the remote model and the project state derived from replies.
// At most one turn is in flight at a time.
type Controller struct {
	opts    Options
	log     *zap.Logger
	project *project.State
	bus     *broker

	mu       sync.Mutex
	client   llm.Client
	chat     llm.Chat
	messages []Message
	turn     TurnState
	gen      uint64
}

func New(opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	if opts.Temperature <= 0 {
		opts.Temperature = defaultTemperature
	}
	if opts.Instruction.Persona == "" {
		opts.Instruction = protocol.DefaultInstructionOptions()
	}
	return &Controller{
		opts:    opts,
		log:     opts.Logger.With(zap.String("session", opts.SessionID)),
		project: project.New(),
		bus:     newBroker(),
		turn:    TurnIdle,
	}
}

func (c *Controller) SessionID() string { return c.opts.SessionID }

// Project exposes the project state shared with the image coordinator.
func (c *Controller) Project() *project.State { return c.project }

// Start opens a chat with the configured credential and, on a fresh
// transcript, appends the greeting.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()

	client, chat, err := c.open(llm.WithPhase(ctx, "start"))
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		_ = client.Close()
		return nil
	}
	old := c.client
	c.client, c.chat = client, chat
	var greeting *Message
	if len(c.messages) == 0 {
		m := Message{ID: c.opts.NewID(), Role: RoleModel, Text: GreetingText, CreatedAt: c.opts.Now()}
		c.messages = append(c.messages, m)
		greeting = &m
	}
	c.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	if greeting != nil {
		c.bus.publish(Event{Kind: EventMessage, Message: greeting})
	}
	c.log.Info("chat session started", zap.String("client", client.Name()))
	return nil
}

func (c *Controller) open(ctx context.Context) (llm.Client, llm.Chat, error) {
	if c.opts.Factory == nil {
		return nil, nil, ErrNoFactory
	}
	system, err := protocol.Instruction(c.opts.Instruction)
	if err != nil {
		return nil, nil, fmt.Errorf("build instruction: %w", err)
	}
	client, err := c.opts.Factory(ctx, c.opts.APIKey)
	if err != nil {
		return nil, nil, fmt.Errorf("create client: %w", err)
	}
	chat, err := client.NewChat(ctx, llm.ChatOptions{System: system, Temperature: c.opts.Temperature})
	if err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("open chat: %w", err)
	}
	return client, chat, nil
}

// Submit sends text to the model and folds the reply into the session.
// Rejected submissions (empty text, no chat, turn in flight) return an error
// and change nothing. An accepted submission never returns an error: a failed
// turn resolves with TurnFailed and a fixed apology text.
func (c *Controller) Submit(ctx context.Context, text string) (TurnResult, error) {
	if strings.TrimSpace(text) == "" {
		return TurnResult{}, ErrEmptyInput
	}

	c.mu.Lock()
	if c.chat == nil {
		c.mu.Unlock()
		return TurnResult{}, ErrNoSession
	}
	if c.turn != TurnIdle {
		c.mu.Unlock()
		return TurnResult{}, ErrTurnInFlight
	}
	chat, gen := c.chat, c.gen
	now := c.opts.Now()
	user := Message{ID: c.opts.NewID(), Role: RoleUser, Text: text, CreatedAt: now}
	placeholder := Message{ID: c.opts.NewID(), Role: RoleModel, Pending: true, CreatedAt: now}
	c.messages = append(c.messages, user, placeholder)
	c.turn = TurnAwaitingReply
	c.mu.Unlock()

	c.bus.publish(Event{Kind: EventMessage, Message: &user})
	c.bus.publish(Event{Kind: EventMessage, Message: &placeholder})
	c.bus.publish(Event{Kind: EventTurnState, TurnState: TurnAwaitingReply})

	reply, err := chat.Send(llm.WithPhase(ctx, "turn"), text)
	if errors.Is(err, llm.ErrEmptyReply) {
		reply, err = EmptyReplyText, nil
	}
	return c.resolve(ctx, gen, placeholder.ID, reply, err), nil
}

func (c *Controller) resolve(ctx context.Context, gen uint64, placeholderID, reply string, sendErr error) TurnResult {
	var res TurnResult
	var dec protocol.Decoded
	if sendErr != nil {
		c.log.Warn("turn failed", zap.Error(sendErr))
		res.Status = TurnFailed
		res.Message = Message{Role: RoleModel, Text: ApologyText}
	} else {
		dec = protocol.Decode(reply)
		if dec.Outcome == protocol.BlockMalformed {
			c.log.Warn("malformed structured block", zap.Error(dec.Err))
		}
		res.Status = TurnSettled
		res.Outcome = dec.Outcome.String()
		res.Message = Message{Role: RoleModel, Text: dec.DisplayText, Suggestions: dec.Suggestions}
	}

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		c.log.Info("reply discarded after reset")
		res.Status = TurnDiscarded
		return res
	}
	if sendErr == nil {
		found := scene.Extract(dec.DisplayText, c.project.Known(), c.opts.Scene)
		res.NewScenes = c.project.Merge(found)
		if dec.FinalBrief != nil {
			c.project.SetFinalBrief(*dec.FinalBrief)
			b := *dec.FinalBrief
			res.FinalBrief = &b
		}
	}
	res.Message.ID = c.opts.NewID()
	res.Message.CreatedAt = c.opts.Now()
	c.replaceLocked(placeholderID, res.Message)
	c.turn = TurnIdle
	c.mu.Unlock()

	msg := res.Message
	c.bus.publish(Event{Kind: EventMessage, Message: &msg})
	if len(res.NewScenes) > 0 {
		c.bus.publish(Event{Kind: EventScenesAdded, Scenes: res.NewScenes})
	}
	if res.FinalBrief != nil {
		c.bus.publish(Event{Kind: EventFinalBrief, FinalBrief: res.FinalBrief})
		c.exportBrief(ctx, *res.FinalBrief)
	}
	c.bus.publish(Event{Kind: EventTurnState, TurnState: res.Status})
	c.bus.publish(Event{Kind: EventTurnState, TurnState: TurnIdle})

	c.log.Info("turn resolved",
		zap.String("status", string(res.Status)),
		zap.String("outcome", res.Outcome),
		zap.Int("new_scenes", len(res.NewScenes)),
		zap.Bool("final_brief", res.FinalBrief != nil),
	)
	return res
}

// replaceLocked swaps the placeholder for msg in place. The placeholder id
// changes but its position does not.
func (c *Controller) replaceLocked(placeholderID string, msg Message) {
	for i := range c.messages {
		if c.messages[i].ID == placeholderID {
			c.messages[i] = msg
			return
		}
	}
	c.messages = append(c.messages, msg)
}

// AppendMessage adds a non-turn message (e.g. a system notice carrying a
// scene image) to the transcript.
func (c *Controller) AppendMessage(role Role, text, sceneImage string) Message {
	c.mu.Lock()
	m := Message{ID: c.opts.NewID(), Role: role, Text: text, SceneImage: sceneImage, CreatedAt: c.opts.Now()}
	c.messages = append(c.messages, m)
	c.mu.Unlock()
	c.bus.publish(Event{Kind: EventMessage, Message: &m})
	return m
}

func (c *Controller) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.messages...)
}

func (c *Controller) TurnState() TurnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.turn
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		Messages: append([]Message{}, c.messages...),
		Project:  c.project.Snapshot(),
		Turn:     c.turn,
	}
}

// UpdateScene overwrites a scene description. Unknown ids are ignored.
func (c *Controller) UpdateScene(id, description string) bool {
	if !c.project.UpdateSceneDescription(id, description) {
		return false
	}
	c.publishScene(EventSceneUpdated, id, "")
	return true
}

// SetVisualPrompt stores an explicit image prompt for a scene.
func (c *Controller) SetVisualPrompt(id, prompt string) bool {
	if !c.project.SetVisualPrompt(id, prompt) {
		return false
	}
	c.publishScene(EventSceneUpdated, id, "")
	return true
}

func (c *Controller) publishScene(kind EventKind, id, errText string) {
	sc, ok := c.project.Scene(id)
	if !ok {
		return
	}
	c.bus.publish(Event{Kind: kind, Scene: &sc, Error: errText})
}

// PublishScene emits kind with the current copy of scene id.
func (c *Controller) PublishScene(kind EventKind, id string, err error) {
	text := ""
	if err != nil {
		text = err.Error()
	}
	c.publishScene(kind, id, text)
}

// Subscribe streams session events until ctx is done or the controller is
// closed.
func (c *Controller) Subscribe(ctx context.Context) <-chan Event {
	return c.bus.subscribe(ctx)
}

// GenerateImage renders prompt with the session's client.
func (c *Controller) GenerateImage(ctx context.Context, prompt string) (*llm.Image, error) {
	c.mu.Lock()
	client := c.client
	c.mu.Unlock()
	if client == nil {
		return nil, ErrNoSession
	}
	return client.GenerateImage(ctx, prompt)
}

// Reset clears the transcript and project, discards any turn in flight and
// opens a fresh chat.
func (c *Controller) Reset(ctx context.Context) error {
	c.mu.Lock()
	c.gen++
	c.messages = nil
	c.turn = TurnIdle
	c.chat = nil
	c.project.Reset()
	c.mu.Unlock()

	if c.opts.Artifacts != nil && c.opts.SessionID != "" {
		if err := c.opts.Artifacts.DeleteAll(ctx, c.opts.SessionID); err != nil {
			c.log.Warn("clear artifacts failed", zap.Error(err))
		}
	}
	c.bus.publish(Event{Kind: EventReset})
	return c.Start(ctx)
}

// Close releases the client and ends every subscription.
func (c *Controller) Close() error {
	c.mu.Lock()
	client := c.client
	c.client, c.chat = nil, nil
	c.mu.Unlock()
	c.bus.close()
	if client != nil {
		return client.Close()
	}
	return nil
}
