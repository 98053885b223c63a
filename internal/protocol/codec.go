package protocol

import (
	"encoding/json"
	"regexp"
	"strings"

	"din/internal/util/jsonutil"
)

// reBlock matches a fenced json block. The body is matched lazily so that
// every block in a reply is found separately; Decode uses the last one.
var reBlock = regexp.MustCompile("(?s)```json\\s*(.*?)\\s*```")

// payload is the wire shape of the structured block.
type payload struct {
	Suggestions json.RawMessage `json:"suggestions,omitempty" prompt:"optional" prompt_type:"[]{label, description}" prompt_desc:"3-5 short follow-up options; each label carries exactly one decision and never combines conditions."`
	FinalPrompt json.RawMessage `json:"finalPrompt,omitempty" prompt:"optional" prompt_type:"{en, ko}" prompt_desc:"Only when the user approves the final meta-prompt. Both renderings are required together: ko fully in Korean; en with visuals and camera translated to English and dialogue/narration kept verbatim in Korean."`
}

type suggestionObject struct {
	Label       string `json:"label"`
	Description string `json:"description"`
}

// Decode splits a raw model reply into display text and the structured fields
// carried by its trailing json block. It never fails: a missing block or an
// unparsable one leaves the whole text as display text.
func Decode(reply string) Decoded {
	locs := reBlock.FindAllStringSubmatchIndex(reply, -1)
	if len(locs) == 0 {
		return Decoded{DisplayText: reply, Outcome: BlockAbsent}
	}
	loc := locs[len(locs)-1]
	body := reply[loc[2]:loc[3]]

	var p payload
	if err := jsonutil.UnmarshalObject([]byte(body), &p); err != nil {
		return Decoded{DisplayText: reply, Outcome: BlockMalformed, Err: err}
	}

	display := strings.TrimSpace(reply[:loc[0]] + reply[loc[1]:])
	return Decoded{
		DisplayText: display,
		Suggestions: decodeSuggestions(p.Suggestions),
		FinalBrief:  decodeFinalPrompt(p.FinalPrompt),
		Outcome:     BlockDecoded,
	}
}

func decodeSuggestions(raw json.RawMessage) []Suggestion {
	if len(raw) == 0 {
		return nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := make([]Suggestion, 0, len(items))
	for _, item := range items {
		var label string
		if err := json.Unmarshal(item, &label); err == nil {
			if label = strings.TrimSpace(label); label != "" {
				out = append(out, Suggestion{Label: label, Description: DefaultSuggestionDescription})
			}
			continue
		}
		var obj suggestionObject
		if err := json.Unmarshal(item, &obj); err != nil {
			continue
		}
		obj.Label = strings.TrimSpace(obj.Label)
		if obj.Label == "" {
			continue
		}
		desc := strings.TrimSpace(obj.Description)
		if desc == "" {
			desc = DefaultSuggestionDescription
		}
		out = append(out, Suggestion{Label: obj.Label, Description: desc})
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// decodeFinalPrompt returns a brief only when both renderings are non-empty.
// A partial pair is dropped rather than completed.
func decodeFinalPrompt(raw json.RawMessage) *MetaPrompt {
	if len(raw) == 0 {
		return nil
	}
	var mp MetaPrompt
	if err := json.Unmarshal(raw, &mp); err != nil {
		return nil
	}
	if !mp.Complete() {
		return nil
	}
	mp.EN = strings.TrimSpace(mp.EN)
	mp.KO = strings.TrimSpace(mp.KO)
	return &mp
}
