package normalize

import (
	"net/url"
	"strings"
)

// DefaultTrackingParams are query keys stripped by CleanURL. Keys ending in "*"
// match by prefix.
var DefaultTrackingParams = []string{
	"trk",
	"trkInfo",
	"trackingId",
	"lipi",
	"refId",
	"midToken",
	"midSig",
	"eid",
	"li_fat_id",
	"gclid",
	"fbclid",
	"utm_*",
}

// CleanURL removes tracking parameters while keeping every other parameter in
// its original order. No dangling "?" or "&" is left behind.
func CleanURL(raw string, tracking []string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if tracking == nil {
		tracking = DefaultTrackingParams
	}
	base, fragment, hasFragment := strings.Cut(raw, "#")
	path, query, hasQuery := strings.Cut(base, "?")
	if !hasQuery {
		return raw
	}
	kept := make([]string, 0, 4)
	for _, part := range strings.Split(query, "&") {
		if part == "" {
			continue
		}
		key, _, _ := strings.Cut(part, "=")
		if k, err := url.QueryUnescape(key); err == nil {
			key = k
		}
		if isTracking(key, tracking) {
			continue
		}
		kept = append(kept, part)
	}
	out := path
	if len(kept) > 0 {
		out += "?" + strings.Join(kept, "&")
	}
	if hasFragment {
		out += "#" + fragment
	}
	return out
}

func isTracking(key string, tracking []string) bool {
	for _, t := range tracking {
		if prefix, ok := strings.CutSuffix(t, "*"); ok {
			if strings.HasPrefix(key, prefix) {
				return true
			}
			continue
		}
		if strings.EqualFold(key, t) {
			return true
		}
	}
	return false
}

// ResolveURL resolves ref against base. Protocol-relative ("//cdn/x"),
// absolute-path ("/x"), and bare-relative ("x") references are all handled.
// It returns "" when either value cannot be parsed.
func ResolveURL(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	if strings.HasPrefix(ref, "data:") || strings.HasPrefix(ref, "blob:") {
		return ref
	}
	refURL, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	if refURL.IsAbs() {
		return refURL.String()
	}
	baseURL, err := url.Parse(strings.TrimSpace(base))
	if err != nil || !baseURL.IsAbs() {
		return ""
	}
	return baseURL.ResolveReference(refURL).String()
}

// Canonicalize lowercases scheme and host, removes the fragment, and strips
// tracking parameters.
func Canonicalize(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", err
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}
	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	u.Fragment = ""
	return CleanURL(u.String(), nil), nil
}

// AdIDFromURL returns the final path segment of a detail URL.
func AdIDFromURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return lastSegment(u.Path)
}

// ParseProfileID extracts the identifier that follows a profile path marker
// ("/company/<id>", "/in/<id>", "/showcase/<id>", "/school/<id>"). When no
// marker is present the final path segment is returned.
func ParseProfileID(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	segments := splitPath(u.Path)
	for i, seg := range segments {
		switch seg {
		case "company", "in", "showcase", "school":
			if i+1 < len(segments) {
				return segments[i+1]
			}
		}
	}
	if len(segments) == 0 {
		return ""
	}
	return segments[len(segments)-1]
}

// IsPersonalProfile reports whether raw points at an individual's profile.
func IsPersonalProfile(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	segments := splitPath(u.Path)
	return len(segments) >= 2 && segments[0] == "in"
}

// CleanCursor strips a trailing "#fragment" and surrounding space.
func CleanCursor(raw string) string {
	c, _, _ := strings.Cut(raw, "#")
	return strings.TrimSpace(c)
}

func splitPath(p string) []string {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	out := parts[:0]
	for _, s := range parts {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func lastSegment(p string) string {
	segments := splitPath(p)
	if len(segments) == 0 {
		return ""
	}
	return segments[len(segments)-1]
}
