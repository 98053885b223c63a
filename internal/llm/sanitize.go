package llm

import (
	"encoding/base64"
	"regexp"
)

var (
	reDataURL = regexp.MustCompile(`(?is)\bdata:(image|video|audio)/[a-z0-9+.-]+;base64,[a-z0-9+/=\r\n]+`)
	reImgTag  = regexp.MustCompile(`(?is)<img[^>]*src=["']data:(image)/[^"']+["'][^>]*>`)
)

const redacted = "[REDACTED media]"

// RedactMedia replaces inline media payloads in s with a marker so that
// logs stay readable.
func RedactMedia(s string) string {
	if looksLikeBase64Image(s) {
		return redacted
	}
	s = reImgTag.ReplaceAllString(s, redacted)
	return reDataURL.ReplaceAllString(s, redacted)
}

func looksLikeBase64Image(s string) bool {
	if len(s) < 512 {
		return false
	}
	_, err := base64.StdEncoding.DecodeString(s)
	return err == nil
}
