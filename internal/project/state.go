package project

import (
	"errors"
	"strings"
	"sync"

	"din/internal/protocol"
	"din/internal/scene"
)

var (
	// ErrImageUnavailable is returned when an image generation completed without an image.
	ErrImageUnavailable = errors.New("project: image unavailable")
	// ErrStaleTicket is returned when a newer generation for the same scene was
	// started, or the project was reset, after the ticket was issued.
	ErrStaleTicket = errors.New("project: stale image ticket")
)

// Ticket identifies one image generation attempt for a scene.
type Ticket uint64

// Snapshot is a point-in-time copy of the project.
type Snapshot struct {
	Scenes     []scene.Scene        `json:"scenes"`
	FinalBrief *protocol.MetaPrompt `json:"finalBrief,omitempty"`
}

// State is the in-memory model of the scenes and final brief derived from one
// conversation. The scene list is append-only: scenes are never reordered or
// removed except by Reset. All methods are safe for concurrent use.
type State struct {
	mu      sync.Mutex
	scenes  []scene.Scene
	byID    map[string]int
	keys    map[scene.Key]int
	tickets map[string]Ticket
	next    Ticket
	brief   *protocol.MetaPrompt
}

func New() *State {
	return &State{
		byID:    make(map[string]int),
		keys:    make(map[scene.Key]int),
		tickets: make(map[string]Ticket),
	}
}

// Known returns the (number, description) pairs of the current scenes.
func (s *State) Known() scene.KeySet {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(scene.KeySet, len(s.keys))
	for k := range s.keys {
		out.Add(k)
	}
	return out
}

// Merge appends the scenes whose pair is still unknown and whose id is unused,
// preserving their order, and returns the ones that were appended.
func (s *State) Merge(scenes []scene.Scene) []scene.Scene {
	s.mu.Lock()
	defer s.mu.Unlock()
	var added []scene.Scene
	for _, sc := range scenes {
		k := scene.KeyOf(sc)
		if s.keys[k] > 0 {
			continue
		}
		if _, dup := s.byID[sc.ID]; dup || sc.ID == "" {
			continue
		}
		sc.Generating = false
		s.byID[sc.ID] = len(s.scenes)
		s.keys[k]++
		s.scenes = append(s.scenes, sc)
		added = append(added, sc)
	}
	return added
}

// UpdateSceneDescription overwrites the description of a scene. Number,
// prompts and image fields are left untouched. Unknown ids are ignored and
// reported with false.
func (s *State) UpdateSceneDescription(id, text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.byID[id]
	if !ok {
		return false
	}
	old := scene.KeyOf(s.scenes[i])
	s.scenes[i].Description = text
	s.rekey(old, scene.KeyOf(s.scenes[i]))
	return true
}

// SetVisualPrompt replaces the image prompt of a scene with an explicit user
// override. An empty prompt is ignored.
func (s *State) SetVisualPrompt(id, prompt string) bool {
	prompt = strings.TrimSpace(prompt)
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.byID[id]
	if !ok || prompt == "" {
		return false
	}
	s.scenes[i].VisualPrompt = prompt
	return true
}

func (s *State) rekey(old, cur scene.Key) {
	if old == cur {
		return
	}
	if s.keys[old]--; s.keys[old] <= 0 {
		delete(s.keys, old)
	}
	s.keys[cur]++
}

// BeginImageGeneration marks a scene as generating and issues a ticket for
// the attempt. Starting again supersedes earlier tickets: the last started
// attempt wins.
func (s *State) BeginImageGeneration(id string) (Ticket, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.byID[id]
	if !ok {
		return 0, false
	}
	s.next++
	s.tickets[id] = s.next
	s.scenes[i].Generating = true
	return s.next, true
}

// CompleteImageGeneration settles the attempt identified by ticket. An empty
// ref clears the in-progress flag, keeps any prior image and returns
// ErrImageUnavailable. A superseded ticket changes nothing and returns
// ErrStaleTicket.
func (s *State) CompleteImageGeneration(id string, ticket Ticket, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.byID[id]
	if !ok || s.tickets[id] != ticket {
		return ErrStaleTicket
	}
	delete(s.tickets, id)
	s.scenes[i].Generating = false
	if ref == "" {
		return ErrImageUnavailable
	}
	s.scenes[i].ImageRef = ref
	return nil
}

// SetFinalBrief replaces any existing brief.
func (s *State) SetFinalBrief(b protocol.MetaPrompt) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.brief = &b
}

func (s *State) FinalBrief() (protocol.MetaPrompt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.brief == nil {
		return protocol.MetaPrompt{}, false
	}
	return *s.brief, true
}

func (s *State) Scenes() []scene.Scene {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]scene.Scene(nil), s.scenes...)
}

func (s *State) Scene(id string) (scene.Scene, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.byID[id]
	if !ok {
		return scene.Scene{}, false
	}
	return s.scenes[i], true
}

func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{Scenes: append([]scene.Scene{}, s.scenes...)}
	if s.brief != nil {
		b := *s.brief
		snap.FinalBrief = &b
	}
	return snap
}

// Reset drops every scene and the brief. Tickets issued before the reset
// become stale.
func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scenes = nil
	s.byID = make(map[string]int)
	s.keys = make(map[scene.Key]int)
	s.tickets = make(map[string]Ticket)
	s.brief = nil
}
