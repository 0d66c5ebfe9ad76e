package resolver

import (
	"regexp"
	"strings"
)

// RefKind classifies a reference string.
type RefKind int

const (
	KindUnknown RefKind = iota
	KindVideo
	KindChannel
)

func (k RefKind) String() string {
	switch k {
	case KindVideo:
		return "video"
	case KindChannel:
		return "channel"
	default:
		return "unknown"
	}
}

// videoPatterns are tried in order; the first match wins.
var videoPatterns = []*regexp.Regexp{
	regexp.MustCompile(`youtube\.com/watch\?v=([\w-]+)`),
	regexp.MustCompile(`youtu\.be/([\w-]+)`),
	regexp.MustCompile(`youtube\.com/live/([\w-]+)`),
}

var channelMarkers = []string{"/@", "/channel/", "/c/", "/user/"}

// Classify reports whether ref names a video or a channel. A ref carrying an
// extractable video id is a video even if it also looks like a channel URL.
func Classify(ref string) RefKind {
	if _, ok := ExtractVideoID(ref); ok {
		return KindVideo
	}
	for _, m := range channelMarkers {
		if strings.Contains(ref, m) {
			return KindChannel
		}
	}
	return KindUnknown
}

// ExtractVideoID pulls the identifier out of a watch, short-link or /live URL
// without touching the network.
func ExtractVideoID(ref string) (string, bool) {
	ref = strings.TrimSpace(ref)
	// drop tracking params such as ?si= except on watch URLs, where v= is the id
	if i := strings.Index(ref, "?"); i >= 0 && !strings.Contains(ref, "watch?v=") {
		ref = ref[:i]
	}
	for _, re := range videoPatterns {
		if m := re.FindStringSubmatch(ref); m != nil {
			return m[1], true
		}
	}
	return "", false
}

// LivePageURL normalizes a channel reference to its /live sub-page. The legacy
// /c/<name> form is rewritten to the /@<name> handle form.
func LivePageURL(channelRef string) string {
	u := strings.TrimSpace(channelRef)
	if i := strings.Index(u, "?"); i >= 0 {
		u = u[:i]
	}
	u = strings.TrimRight(u, "/")
	if !strings.Contains(u, "@") && strings.Contains(u, "/c/") {
		u = strings.Replace(u, "/c/", "/@", 1)
	}
	u = strings.TrimSuffix(u, "/live")
	return u + "/live"
}
