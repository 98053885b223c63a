package protocol

import "strings"

// DefaultSuggestionDescription is attached to suggestions that arrive without a
// rationale, including the legacy bare-string shape.
const DefaultSuggestionDescription = "Select to continue."

// Suggestion is a single quick-reply chip offered after a model turn.
type Suggestion struct {
	Label       string `json:"label"`
	Description string `json:"description,omitempty"`
}

// MetaPrompt is the final bilingual brief. KO is the working-language rendering;
// EN translates visuals and camera direction but keeps dialogue verbatim.
type MetaPrompt struct {
	EN string `json:"en"`
	KO string `json:"ko"`
}

// Complete reports whether both renderings are present.
func (m MetaPrompt) Complete() bool {
	return strings.TrimSpace(m.EN) != "" && strings.TrimSpace(m.KO) != ""
}

// Rendering returns the text for a language code ("en" or "ko").
func (m MetaPrompt) Rendering(lang string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(lang)) {
	case "en":
		return m.EN, true
	case "ko":
		return m.KO, true
	default:
		return "", false
	}
}

// Outcome tags how the structured block of a reply was handled.
type Outcome int

const (
	// BlockAbsent means no fenced json block was found.
	BlockAbsent Outcome = iota
	// BlockMalformed means the last block did not parse as a JSON object.
	BlockMalformed
	// BlockDecoded means the last block parsed and was stripped from the text.
	BlockDecoded
)

func (o Outcome) String() string {
	switch o {
	case BlockAbsent:
		return "absent"
	case BlockMalformed:
		return "malformed"
	case BlockDecoded:
		return "decoded"
	default:
		return "unknown"
	}
}

// Decoded is the result of splitting a raw reply into display text and
// structured fields.
type Decoded struct {
	DisplayText string
	Suggestions []Suggestion
	FinalBrief  *MetaPrompt
	Outcome     Outcome
	// Err carries the parse failure when Outcome is BlockMalformed.
	Err error
}
