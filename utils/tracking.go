package utils

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// NewTrackingToken returns an opaque token tying tracking hits back to
// one EmailLog row.
func NewTrackingToken() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// TrackingPixelURL is the open-tracking endpoint for a token.
func TrackingPixelURL(baseURL, token string) string {
	return fmt.Sprintf("%s/track/open/%s", strings.TrimRight(baseURL, "/"), token)
}

// ClickTrackURL wraps a destination link in the click-tracking redirect.
func ClickTrackURL(baseURL, token, target string) string {
	return fmt.Sprintf("%s/track/click/%s?url=%s",
		strings.TrimRight(baseURL, "/"), token, url.QueryEscape(target))
}

var hrefPattern = regexp.MustCompile(`href="(https?://[^"]+)"`)

// InjectTracking rewrites outbound links through the click redirect and
// appends the open pixel. Links already pointing at the tracker are
// left alone.
func InjectTracking(html, baseURL, token string, trackOpens, trackClicks bool) string {
	if trackClicks {
		html = hrefPattern.ReplaceAllStringFunc(html, func(match string) string {
			target := hrefPattern.FindStringSubmatch(match)[1]
			if strings.HasPrefix(target, strings.TrimRight(baseURL, "/")+"/track/") {
				return match
			}
			return fmt.Sprintf(`href="%s"`, ClickTrackURL(baseURL, token, target))
		})
	}
	if trackOpens {
		pixel := fmt.Sprintf(`<img src="%s" width="1" height="1" style="display:none" alt=""/>`,
			TrackingPixelURL(baseURL, token))
		if idx := strings.LastIndex(strings.ToLower(html), "</body>"); idx >= 0 {
			html = html[:idx] + pixel + html[idx:]
		} else {
			html += pixel
		}
	}
	return html
}
