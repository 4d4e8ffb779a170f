package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewTrackingTokenIsOpaque(t *testing.T) {
	token := NewTrackingToken()
	assert.Len(t, token, 32)
	assert.NotContains(t, token, "-")
	assert.NotEqual(t, token, NewTrackingToken())
}

func TestInjectTrackingAddsPixelBeforeBodyClose(t *testing.T) {
	html := `<html><body><p>Hi</p></body></html>`
	out := InjectTracking(html, "http://app.local/", "tok1", true, false)

	assert.Contains(t, out, `src="http://app.local/track/open/tok1"`)
	pixelIdx := strings.Index(out, "/track/open/")
	bodyIdx := strings.Index(out, "</body>")
	assert.Less(t, pixelIdx, bodyIdx)
}

func TestInjectTrackingRewritesLinks(t *testing.T) {
	html := `<a href="https://example.com/pricing">pricing</a>`
	out := InjectTracking(html, "http://app.local", "tok1", false, true)

	assert.Contains(t, out, `href="http://app.local/track/click/tok1?url=https%3A%2F%2Fexample.com%2Fpricing"`)
	assert.NotContains(t, out, `href="https://example.com/pricing"`)
}

func TestInjectTrackingLeavesTrackerLinksAlone(t *testing.T) {
	html := `<a href="http://app.local/track/click/old?url=x">x</a>`
	out := InjectTracking(html, "http://app.local", "tok1", false, true)
	assert.Equal(t, html, out)
}

func TestInjectTrackingDisabled(t *testing.T) {
	html := `<a href="https://example.com">x</a>`
	assert.Equal(t, html, InjectTracking(html, "http://app.local", "tok1", false, false))
}
