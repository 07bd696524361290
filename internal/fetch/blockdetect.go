package fetch

import (
	"net/http"
	"strings"
)

// BlockType describes the kind of anti-bot block detected.
type BlockType string

const (
	BlockNone         BlockType = ""
	BlockCloudflare   BlockType = "cloudflare"
	BlockCaptcha      BlockType = "captcha"
	BlockJSShell      BlockType = "js_shell"
	BlockAccessDenied BlockType = "access_denied"
)

// DetectBlock checks an HTTP response for signs of anti-bot protection.
// A block can hide behind a 200, so the body is always inspected.
func DetectBlock(resp *http.Response, body []byte) (bool, BlockType) {
	if resp == nil {
		return false, BlockNone
	}

	// Cloudflare: 403/503 with cf-* headers.
	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusServiceUnavailable {
		if resp.Header.Get("cf-ray") != "" || resp.Header.Get("cf-cache-status") != "" {
			return true, BlockCloudflare
		}
		if resp.Header.Get("server") == "cloudflare" {
			return true, BlockCloudflare
		}
	}

	lower := strings.ToLower(string(body))

	// Cloudflare challenge page markers.
	if strings.Contains(lower, "checking your browser") ||
		strings.Contains(lower, "cf-browser-verification") ||
		strings.Contains(lower, "cloudflare") && strings.Contains(lower, "challenge") {
		return true, BlockCloudflare
	}

	// Captcha markers.
	if strings.Contains(lower, "captcha") ||
		strings.Contains(lower, "recaptcha") ||
		strings.Contains(lower, "hcaptcha") {
		return true, BlockCaptcha
	}

	// Access-denied interstitials, including the marketplace's Japanese ones.
	if strings.Contains(lower, "access denied") ||
		strings.Contains(lower, "アクセスが拒否") ||
		strings.Contains(lower, "不正なアクセス") ||
		strings.Contains(lower, "しばらく時間をおいて") {
		return true, BlockAccessDenied
	}

	// JS-only shell: very small body with noscript or meta refresh.
	if len(body) < 2000 {
		if strings.Contains(lower, "<noscript") && strings.Contains(lower, "javascript") {
			return true, BlockJSShell
		}
		if strings.Contains(lower, "meta http-equiv=\"refresh\"") {
			return true, BlockJSShell
		}
	}

	return false, BlockNone
}
