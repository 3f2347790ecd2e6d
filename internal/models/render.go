package models

import (
	"bytes"
	"fmt"

	highlighting "github.com/yuin/goldmark-highlighting"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"
)

var markdown = goldmark.New(
	goldmark.WithExtensions(
		extension.GFM,
		highlighting.NewHighlighting(
			highlighting.WithStyle("monokai"),
		),
	),
	goldmark.WithRendererOptions(
		html.WithHardWraps(),
	),
)

// RenderHTML converts the message contents into an HTML fragment for SSE
// payloads. Errors from the markdown renderer are wrapped, never swallowed,
// so a broken payload is visible to the caller instead of silently empty.
func RenderHTML(contents []Content) (string, error) {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(RenderContents(contents)), &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return buf.String(), nil
}
