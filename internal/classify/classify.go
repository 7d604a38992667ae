package classify

import (
	"net/url"
	"strings"
)

// GeoInfo is the geographic classification of a client IP.
type GeoInfo struct {
	Country string // ISO 3166-1 alpha-2
	Region  string
	City    string
}

// GeoClassifier resolves a client IP to a location. Implementations wrap an
// external geo database; the core treats them as optional and best-effort.
// Lookups must be fast and must never block ingestion on network I/O.
type GeoClassifier interface {
	Locate(ip string) (GeoInfo, bool)
}

// UAInfo is the device/browser/OS classification of a user-agent string.
type UAInfo struct {
	DeviceType     string // mobile, tablet, desktop
	Browser        string
	BrowserVersion string
	OS             string
	OSVersion      string
	Bot            bool
}

var tabletPatterns = []string{"ipad", "tablet", "kindle", "playbook"}

var mobilePatterns = []string{
	"iphone", "android", "mobile", "blackberry",
	"windows phone", "opera mini", "opera mobi",
}

var botPatterns = []string{
	"bot", "crawler", "spider", "slurp", "googlebot",
	"bingbot", "yandex", "baidu", "duckduck", "facebookexternalhit",
	"twitterbot", "linkedinbot", "pinterest", "whatsapp",
	"telegram", "curl", "wget", "python-requests", "scrapy",
}

// DeviceType classifies a user-agent as mobile, tablet, or desktop.
func DeviceType(ua string) string {
	lower := strings.ToLower(ua)
	for _, p := range tabletPatterns {
		if strings.Contains(lower, p) {
			return "tablet"
		}
	}
	for _, p := range mobilePatterns {
		if strings.Contains(lower, p) {
			// Android without "mobile" is a tablet pretending to be mobile
			if strings.Contains(lower, "android") && !strings.Contains(lower, "mobile") {
				return "tablet"
			}
			return "mobile"
		}
	}
	return "desktop"
}

// IsBot reports whether the user-agent matches a known crawler or tool.
func IsBot(ua string) bool {
	lower := strings.ToLower(ua)
	for _, p := range botPatterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// ReferrerDomain extracts the host portion of a referrer URL. Empty when the
// referrer is absent or unparseable.
func ReferrerDomain(referrer string) string {
	if referrer == "" {
		return ""
	}
	parsed, err := url.Parse(referrer)
	if err != nil {
		return ""
	}
	return parsed.Host
}

// UserAgent classifies a full user-agent string. The parser covers the
// browser and OS families that dominate redirect traffic; anything it does
// not recognize is left empty rather than guessed.
func UserAgent(ua string) UAInfo {
	info := UAInfo{
		DeviceType: DeviceType(ua),
		Bot:        IsBot(ua),
	}
	lower := strings.ToLower(ua)

	switch {
	case strings.Contains(lower, "edg/"):
		info.Browser = "Edge"
		info.BrowserVersion = versionAfter(ua, "Edg/")
	case strings.Contains(lower, "opr/"):
		info.Browser = "Opera"
		info.BrowserVersion = versionAfter(ua, "OPR/")
	case strings.Contains(lower, "firefox/"):
		info.Browser = "Firefox"
		info.BrowserVersion = versionAfter(ua, "Firefox/")
	case strings.Contains(lower, "chrome/"):
		info.Browser = "Chrome"
		info.BrowserVersion = versionAfter(ua, "Chrome/")
	case strings.Contains(lower, "safari/") && strings.Contains(lower, "version/"):
		info.Browser = "Safari"
		info.BrowserVersion = versionAfter(ua, "Version/")
	}

	switch {
	case strings.Contains(lower, "windows nt"):
		info.OS = "Windows"
		info.OSVersion = versionAfter(ua, "Windows NT ")
	case strings.Contains(lower, "android"):
		info.OS = "Android"
		info.OSVersion = versionAfter(ua, "Android ")
	case strings.Contains(lower, "iphone os"), strings.Contains(lower, "cpu os"):
		info.OS = "iOS"
		info.OSVersion = strings.ReplaceAll(versionAfter(ua, "OS "), "_", ".")
	case strings.Contains(lower, "mac os x"):
		info.OS = "macOS"
		info.OSVersion = strings.ReplaceAll(versionAfter(ua, "Mac OS X "), "_", ".")
	case strings.Contains(lower, "linux"):
		info.OS = "Linux"
	}

	return info
}

// versionAfter returns the token following marker, trimmed to version-like
// characters. Marker matching is case-insensitive.
func versionAfter(ua, marker string) string {
	idx := strings.Index(strings.ToLower(ua), strings.ToLower(marker))
	if idx < 0 {
		return ""
	}
	rest := ua[idx+len(marker):]
	end := 0
	for end < len(rest) {
		c := rest[end]
		if (c < '0' || c > '9') && c != '.' && c != '_' {
			break
		}
		end++
	}
	return rest[:end]
}
