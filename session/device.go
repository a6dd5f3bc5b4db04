package session

import "strings"

// ParseUserAgent derives DeviceInfo from a User-Agent header. Unknown agents
// classify as PC with empty browser and OS names.
func ParseUserAgent(ua string) DeviceInfo {
	info := DeviceInfo{UserAgent: ua, DeviceType: DevicePC}
	if ua == "" {
		return info
	}
	l := strings.ToLower(ua)

	switch {
	case strings.Contains(l, "ipad"),
		strings.Contains(l, "tablet"),
		strings.Contains(l, "android") && !strings.Contains(l, "mobile"):
		info.DeviceType = DeviceTablet
	case strings.Contains(l, "mobi"),
		strings.Contains(l, "iphone"),
		strings.Contains(l, "ipod"):
		info.DeviceType = DeviceMobile
	}

	info.OS = detectOS(l)
	info.Browser = detectBrowser(l)
	return info
}

// Order matters: iOS agents mention "mac os x" and Android agents mention "linux".
var osMarkers = []struct{ marker, name string }{
	{"iphone", "iOS"},
	{"ipad", "iOS"},
	{"ipod", "iOS"},
	{"android", "Android"},
	{"windows", "Windows"},
	{"cros", "ChromeOS"},
	{"mac os x", "macOS"},
	{"macintosh", "macOS"},
	{"linux", "Linux"},
}

// Order matters: Edge and Opera agents also claim Chrome, and Chrome claims Safari.
var browserMarkers = []struct{ marker, name string }{
	{"edg/", "Edge"},
	{"edga/", "Edge"},
	{"edgios/", "Edge"},
	{"opr/", "Opera"},
	{"samsungbrowser/", "Samsung Internet"},
	{"firefox/", "Firefox"},
	{"fxios/", "Firefox"},
	{"crios/", "Chrome"},
	{"chrome/", "Chrome"},
	{"safari/", "Safari"},
}

func detectOS(l string) string {
	for _, m := range osMarkers {
		if strings.Contains(l, m.marker) {
			return m.name
		}
	}
	return ""
}

func detectBrowser(l string) string {
	for _, m := range browserMarkers {
		if strings.Contains(l, m.marker) {
			return m.name
		}
	}
	return ""
}

// Normalize fills missing fields of d from its user agent and clamps an
// unknown device type to PC.
func (d DeviceInfo) Normalize() DeviceInfo {
	parsed := ParseUserAgent(d.UserAgent)
	switch d.DeviceType {
	case DevicePC, DeviceTablet, DeviceMobile:
	case "":
		d.DeviceType = parsed.DeviceType
	default:
		d.DeviceType = DeviceType(strings.ToUpper(string(d.DeviceType)))
		if d.DeviceType != DevicePC && d.DeviceType != DeviceTablet && d.DeviceType != DeviceMobile {
			d.DeviceType = parsed.DeviceType
		}
	}
	if d.Browser == "" {
		d.Browser = parsed.Browser
	}
	if d.OS == "" {
		d.OS = parsed.OS
	}
	return d
}
