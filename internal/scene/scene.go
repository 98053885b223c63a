package scene

import "strings"

const (
	// DefaultVisualSuffix is appended to a scene description to derive its
	// image prompt.
	DefaultVisualSuffix = ", cinematic lighting, highly detailed, 8k"
	// DefaultDuration is stored on new scenes when no duration is configured.
	DefaultDuration = "5-10s"
)

// Scene is one unit of the video plan.
type Scene struct {
	ID           string `json:"id"`
	Number       int    `json:"number"`
	Description  string `json:"description"`
	VisualPrompt string `json:"visualPrompt"`
	AudioPrompt  string `json:"audioPrompt"`
	Duration     string `json:"duration"`
	ImageRef     string `json:"imageUrl,omitempty"`
	Generating   bool   `json:"isGeneratingImage,omitempty"`
}

// Key is the de-duplication identity of a scene: its number together with
// its description.
type Key struct {
	Number      int
	Description string
}

// KeyOf returns the de-duplication key of s.
func KeyOf(s Scene) Key {
	return Key{Number: s.Number, Description: s.Description}
}

// KeySet is a set of scene keys.
type KeySet map[Key]struct{}

// NewKeySet builds a set from scenes.
func NewKeySet(scenes ...Scene) KeySet {
	ks := make(KeySet, len(scenes))
	for _, s := range scenes {
		ks.Add(KeyOf(s))
	}
	return ks
}

func (ks KeySet) Add(k Key) { ks[k] = struct{}{} }

func (ks KeySet) Has(k Key) bool {
	_, ok := ks[k]
	return ok
}

// Options controls derived fields of newly discovered scenes.
type Options struct {
	VisualSuffix string
	Duration     string
	// NewID overrides ID generation, mostly for tests.
	NewID func(number int) string
}

func (o Options) visualPrompt(desc string) string {
	suffix := o.VisualSuffix
	if strings.TrimSpace(suffix) == "" {
		suffix = DefaultVisualSuffix
	}
	return desc + suffix
}

func (o Options) duration() string {
	if d := strings.TrimSpace(o.Duration); d != "" {
		return d
	}
	return DefaultDuration
}
