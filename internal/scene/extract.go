package scene

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

var (
	// reHeader matches the word "Scene N" / "장면 N" followed by a colon, a dash or
	// whitespace. Headers may appear anywhere in the text.
	reHeader = regexp.MustCompile(`(?i)(?:\bscene|장면)\s+(\d+)(?:[ \t]*[:\-–—][ \t]*|[ \t]+|\n)`)
	// reNextHeaderLine finds the next line that opens with a scene keyword,
	// tolerating list bullets, quotes, headings and emphasis.
	reNextHeaderLine = regexp.MustCompile(`(?i)\n[ \t]*(?:[-*>#][ \t]*)*(?:\*\*|__)?[ \t]*(?:scene|장면)`)
)

// Extract returns the scenes described in text that are not already in known.
// Content of a header runs until the next scene line, a blank line or the end
// of the text. Neither text nor known is modified.
func Extract(text string, known KeySet, opts Options) []Scene {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var out []Scene
	seen := make(KeySet)
	pos := 0
	for pos < len(text) {
		loc := reHeader.FindStringSubmatchIndex(text[pos:])
		if loc == nil {
			break
		}
		numStart, numEnd := pos+loc[2], pos+loc[3]
		contentStart := pos + loc[1]
		end := contentEnd(text, numEnd)
		pos = end

		n, err := strconv.Atoi(text[numStart:numEnd])
		if err != nil || n <= 0 {
			continue
		}
		if end <= contentStart {
			continue
		}
		desc := cleanContent(text[contentStart:end])
		if desc == "" {
			continue
		}
		key := Key{Number: n, Description: desc}
		if known.Has(key) || seen.Has(key) {
			continue
		}
		seen.Add(key)
		out = append(out, newScene(n, desc, opts))
	}
	return out
}

func contentEnd(text string, from int) int {
	end := len(text)
	if i := strings.Index(text[from:], "\n\n"); i >= 0 {
		end = min(end, from+i)
	}
	if m := reNextHeaderLine.FindStringIndex(text[from:]); m != nil {
		end = min(end, from+m[0])
	}
	return end
}

// cleanContent trims whitespace and the emphasis markers left behind by
// headers written as "**Scene 1:** ...".
func cleanContent(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimLeft(s, "*_")
	return strings.TrimSpace(s)
}

func newScene(n int, desc string, opts Options) Scene {
	id := ""
	if opts.NewID != nil {
		id = opts.NewID(n)
	} else {
		id = fmt.Sprintf("scene-%s-%d", uuid.Must(uuid.NewV7()), n)
	}
	return Scene{
		ID:           id,
		Number:       n,
		Description:  desc,
		VisualPrompt: opts.visualPrompt(desc),
		AudioPrompt:  "",
		Duration:     opts.duration(),
	}
}
