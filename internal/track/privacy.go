package track

import (
	"crypto/sha256"
	"fmt"
	"net/url"
	"path"
)

// PrivacyFilter applies masking and page-based filtering to target state
// before it is broadcast to watch clients. The zero value is a no-op.
type PrivacyFilter struct {
	MaskTargetIDs bool
	MaskPages     bool
	AllowedPages  []string
	BlockedPages  []string
}

// IsAllowed reports whether a target on the given page URL should be
// broadcast. An empty page is always allowed (the feed hasn't sent its
// hello yet). When AllowedPages is non-empty the page must match at
// least one pattern; it must then not match any BlockedPages pattern.
func (f *PrivacyFilter) IsAllowed(page string) bool {
	if page == "" {
		return true
	}

	if len(f.AllowedPages) > 0 {
		allowed := false
		for _, pattern := range f.AllowedPages {
			if matchPage(pattern, page) {
				allowed = true
				break
			}
		}
		if !allowed {
			return false
		}
	}

	for _, pattern := range f.BlockedPages {
		if matchPage(pattern, page) {
			return false
		}
	}

	return true
}

// matchPage globs pattern against the page URL and against its
// scheme-less host/path form, so "https://example.com/*" and
// "example.com/*" both match "https://example.com/docs".
func matchPage(pattern, page string) bool {
	if matched, _ := path.Match(pattern, page); matched {
		return true
	}
	if u, err := url.Parse(page); err == nil && u.Host != "" {
		stripped := u.Host + u.Path
		if matched, _ := path.Match(pattern, stripped); matched {
			return true
		}
		if u.Path != "" && u.Path != "/" {
			// Also match patterns against parent paths, so
			// "example.com/app/*" covers deeply nested pages.
			for p := path.Dir(stripped); p != "." && p != u.Host; p = path.Dir(p) {
				if matched, _ := path.Match(pattern, p); matched {
					return true
				}
			}
		}
	}
	return false
}

// Apply returns a copy of the state with sensitive fields masked.
// The original state is never modified.
func (f *PrivacyFilter) Apply(s *TargetState) *TargetState {
	masked := s.Clone()

	masked.Page = f.MaskPage(masked.Page)
	masked.ID = f.MaskID(masked.ID)
	masked.TargetID = f.MaskID(masked.TargetID)
	masked.FeedID = f.MaskID(masked.FeedID)

	return masked
}

// FilterSlice returns a new slice containing only the allowed targets,
// with masking applied to each. The input slice is not modified.
func (f *PrivacyFilter) FilterSlice(targets []*TargetState) []*TargetState {
	result := make([]*TargetState, 0, len(targets))
	for _, s := range targets {
		if !f.IsAllowed(s.Page) {
			continue
		}
		result = append(result, f.Apply(s))
	}
	return result
}

// MaskID hashes an opaque identifier when MaskTargetIDs is set,
// otherwise returns it unchanged.
func (f *PrivacyFilter) MaskID(id string) string {
	if !f.MaskTargetIDs || id == "" {
		return id
	}
	return shortHash(id)
}

// MaskPage reduces a page URL to its host when MaskPages is set,
// otherwise returns it unchanged.
func (f *PrivacyFilter) MaskPage(page string) string {
	if !f.MaskPages || page == "" {
		return page
	}
	if u, err := url.Parse(page); err == nil && u.Host != "" {
		return u.Host
	}
	return ""
}

// IsNoop reports whether the filter does nothing.
func (f *PrivacyFilter) IsNoop() bool {
	return !f.MaskTargetIDs && !f.MaskPages &&
		len(f.AllowedPages) == 0 && len(f.BlockedPages) == 0
}

// shortHash returns a truncated SHA-256 hex digest for an opaque identifier.
func shortHash(s string) string {
	h := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", h[:6])
}
