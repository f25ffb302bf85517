package mailing

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
	"github.com/osteele/liquid"
)

const defaultLayout = `<!DOCTYPE html>
<html>
<body style="font-family:Arial,sans-serif;line-height:1.5;">
{{ content }}
{% if image_url != "" %}<p><a href="{{ click_url }}" target="_blank"><img src="{{ image_url }}" alt="" style="max-width:100%;"/></a></p>
{% endif %}<img src="{{ pixel_url }}" width="1" height="1" alt="" style="display:block;border:0;"/>
</body>
</html>
`

// Renderer turns a markdown body into the HTML that is mailed.
type Renderer struct {
	engine  *liquid.Engine
	layout  *liquid.Template
	baseURL string
}

// NewRenderer parses layout (the built-in one when empty). baseURL is the
// public origin of the tracking endpoints.
func NewRenderer(baseURL, layout string) (*Renderer, error) {
	if layout == "" {
		layout = defaultLayout
	}
	engine := liquid.NewEngine()
	tpl, err := engine.ParseString(layout)
	if err != nil {
		return nil, fmt.Errorf("parse email layout: %w", err)
	}
	return &Renderer{
		engine:  engine,
		layout:  tpl,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}, nil
}

// PixelURL is the open-tracking image address for emailID.
func (r *Renderer) PixelURL(emailID string) string {
	return r.baseURL + "/api/mail/track/" + url.PathEscape(emailID)
}

// ClickURL is the tracked link for emailID.
func (r *Renderer) ClickURL(emailID string) string {
	return r.baseURL + "/api/mail/click/" + url.PathEscape(emailID)
}

// Render converts body from markdown and wraps it in the layout.
func (r *Renderer) Render(emailID, body, imageURL string) (string, error) {
	bindings := map[string]interface{}{
		"content":   string(MarkdownToHTML(body)),
		"image_url": imageURL,
		"pixel_url": r.PixelURL(emailID),
		"click_url": r.ClickURL(emailID),
		"email_id":  emailID,
	}
	out, err := r.layout.RenderString(bindings)
	if err != nil {
		return "", fmt.Errorf("render email %s: %w", emailID, err)
	}
	return out, nil
}

// MarkdownToHTML renders markdown with links opening in a new tab.
func MarkdownToHTML(md string) []byte {
	p := parser.NewWithExtensions(parser.CommonExtensions | parser.AutoHeadingIDs)
	renderer := html.NewRenderer(html.RendererOptions{
		Flags: html.CommonFlags | html.HrefTargetBlank,
	})
	return markdown.ToHTML([]byte(md), p, renderer)
}
