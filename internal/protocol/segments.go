package protocol

import (
	"regexp"
	"strconv"
	"strings"
)

// SegmentKind distinguishes the shared context block from per-scene blocks.
type SegmentKind string

const (
	SegmentCommon SegmentKind = "common"
	SegmentScene  SegmentKind = "scene"
)

// Segment is an independently copyable part of a meta-prompt rendering.
type Segment struct {
	Kind        SegmentKind `json:"kind"`
	SceneNumber int         `json:"sceneNumber,omitempty"`
	Text        string      `json:"text"`
}

// reSceneHeading matches a line that opens a scene block, allowing markdown
// decoration such as "## Scene 2", "**장면 3**" or "[Scene 4]".
var reSceneHeading = regexp.MustCompile(`(?im)^[ \t]*(?:#{1,6}[ \t]*)?(?:\*\*|__)?[ \t]*\[?[ \t]*(?:scene|장면)[ \t]*(\d+)`)

// Segments splits a rendering into one common block followed by the scene
// blocks in document order. The common block is always present, possibly empty.
func Segments(text string) []Segment {
	locs := reSceneHeading.FindAllStringSubmatchIndex(text, -1)
	if len(locs) == 0 {
		return []Segment{{Kind: SegmentCommon, Text: strings.TrimSpace(text)}}
	}
	out := make([]Segment, 0, len(locs)+1)
	out = append(out, Segment{Kind: SegmentCommon, Text: strings.TrimSpace(text[:locs[0][0]])})
	for i, loc := range locs {
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		n, _ := strconv.Atoi(text[loc[2]:loc[3]])
		out = append(out, Segment{
			Kind:        SegmentScene,
			SceneNumber: n,
			Text:        strings.TrimSpace(text[loc[0]:end]),
		})
	}
	return out
}

// SceneSegment returns the first block for scene n.
func SceneSegment(segs []Segment, n int) (Segment, bool) {
	for _, s := range segs {
		if s.Kind == SegmentScene && s.SceneNumber == n {
			return s, true
		}
	}
	return Segment{}, false
}
