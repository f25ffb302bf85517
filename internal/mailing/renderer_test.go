package mailing

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderer_Render(t *testing.T) {
	r, err := NewRenderer("https://mail.example.com/", "")
	require.NoError(t, err)

	out, err := r.Render("e1", "# Hello\n\nVisit [our site](https://example.com).", "https://cdn.example.com/banner.png")
	require.NoError(t, err)

	assert.Contains(t, out, `<h1 id="hello">Hello</h1>`)
	assert.Contains(t, out, `target="_blank"`)
	assert.Contains(t, out, `src="https://mail.example.com/api/mail/track/e1"`)
	assert.Contains(t, out, `href="https://mail.example.com/api/mail/click/e1"`)
	assert.Contains(t, out, `src="https://cdn.example.com/banner.png"`)
}

func TestRenderer_NoImage(t *testing.T) {
	r, err := NewRenderer("https://mail.example.com", "")
	require.NoError(t, err)

	out, err := r.Render("e1", "plain body", "")
	require.NoError(t, err)

	assert.Contains(t, out, "/api/mail/track/e1")
	assert.NotContains(t, out, "/api/mail/click/e1", "click link only wraps an image")
	assert.Equal(t, 1, strings.Count(out, "<img"))
}

func TestRenderer_CustomLayout(t *testing.T) {
	r, err := NewRenderer("http://localhost:8080", "{{ email_id }}|{{ pixel_url }}|{{ content }}")
	require.NoError(t, err)

	out, err := r.Render("abc", "*hi*", "")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "abc|http://localhost:8080/api/mail/track/abc|"))
	assert.Contains(t, out, "<em>hi</em>")
}

func TestNewRenderer_BadLayout(t *testing.T) {
	_, err := NewRenderer("http://localhost", "{% if x %}unterminated")
	assert.Error(t, err)
}
