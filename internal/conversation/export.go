package conversation

import (
	"context"

	"go.uber.org/zap"

	"din/internal/protocol"
)

const briefContentType = "text/markdown; charset=utf-8"

// BriefPath returns the artifact path of one rendering of the final brief.
func BriefPath(lang string) string {
	return "brief/meta_prompt." + lang + ".md"
}

func (c *Controller) exportBrief(ctx context.Context, b protocol.MetaPrompt) {
	if c.opts.Artifacts == nil || c.opts.SessionID == "" {
		return
	}
	for _, r := range []struct{ lang, text string }{{"ko", b.KO}, {"en", b.EN}} {
		if err := c.opts.Artifacts.Put(ctx, c.opts.SessionID, BriefPath(r.lang), []byte(r.text), briefContentType); err != nil {
			c.log.Warn("export brief failed", zap.String("lang", r.lang), zap.Error(err))
		}
	}
}
