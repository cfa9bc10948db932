// Package rules decides whether a tracker item satisfies an acquisition rule.
// Everything here is pure: the same rule, item and clock give the same answer.
package rules

import (
	"strings"
	"time"

	"github.com/tinoosan/ptguard/internal/data"
)

// Reason names the first predicate an item failed.
type Reason string

const (
	Matched         Reason = ""
	ReasonHitAndRun Reason = "hit_and_run"
	ReasonNotFree   Reason = "not_free"
	ReasonNotDouble Reason = "not_double_upload"
	ReasonTooSmall  Reason = "too_small"
	ReasonTooLarge  Reason = "too_large"
	ReasonSeeders   Reason = "seeders"
	ReasonLeechers  Reason = "leechers"
	ReasonNoKeyword Reason = "no_keyword"
	ReasonExcluded  Reason = "excluded_keyword"
	ReasonCategory  Reason = "category"
	ReasonTooOld    Reason = "too_old"
)

// Match reports whether t satisfies r at now.
func Match(r *data.Rule, t *data.Torrent, now time.Time) bool {
	ok, _ := Evaluate(r, t, now)
	return ok
}

// Evaluate is Match with the reason for a rejection. Predicates run in a
// fixed order and the first failure wins.
func Evaluate(r *data.Rule, t *data.Torrent, now time.Time) (bool, Reason) {
	if r.SkipHitAndRun && t.HitAndRun {
		return false, ReasonHitAndRun
	}
	if r.FreeOnly && !t.Discount.IsFree() {
		return false, ReasonNotFree
	}
	if r.DoubleUpload && !t.Discount.IsDoubleUpload() {
		return false, ReasonNotDouble
	}
	if r.MinSize != nil && t.Size < *r.MinSize {
		return false, ReasonTooSmall
	}
	if r.MaxSize != nil && t.Size > *r.MaxSize {
		return false, ReasonTooLarge
	}
	if !within(t.Seeders, r.MinSeeders, r.MaxSeeders) {
		return false, ReasonSeeders
	}
	if !within(t.Leechers, r.MinLeechers, r.MaxLeechers) {
		return false, ReasonLeechers
	}

	text := strings.ToLower(t.Title + " " + t.Subtitle)
	if kws := clean(r.Keywords); len(kws) > 0 && !containsAny(text, kws) {
		return false, ReasonNoKeyword
	}
	if ex := clean(r.ExcludeKeywords); len(ex) > 0 && containsAny(text, ex) {
		return false, ReasonExcluded
	}
	// items without a category cannot be judged and pass
	if cats := clean(r.Categories); len(cats) > 0 && t.Category != "" && !contains(cats, t.Category) {
		return false, ReasonCategory
	}
	if r.MaxPublishHours != nil && *r.MaxPublishHours > 0 && t.PublishedAt != nil {
		maxAge := time.Duration(*r.MaxPublishHours * float64(time.Hour))
		if now.Sub(*t.PublishedAt) > maxAge {
			return false, ReasonTooOld
		}
	}
	return true, Matched
}

// Filter returns the items of ts that satisfy r and whose ids are not in
// known, preserving order.
func Filter(r *data.Rule, ts []data.Torrent, known map[string]struct{}, now time.Time) []data.Torrent {
	var out []data.Torrent
	for i := range ts {
		if _, dup := known[ts[i].ID]; dup {
			continue
		}
		if Match(r, &ts[i], now) {
			out = append(out, ts[i])
		}
	}
	return out
}

// ParseKeywords splits comma separated text into trimmed, non-empty terms.
func ParseKeywords(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// SearchKeyword is the term sent to the tracker search for r.
func SearchKeyword(r *data.Rule) string {
	if kws := clean(r.Keywords); len(kws) > 0 {
		return kws[0]
	}
	return ""
}

func within(n int, lo, hi *int) bool {
	if lo != nil && n < *lo {
		return false
	}
	if hi != nil && n > *hi {
		return false
	}
	return true
}

func clean(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func containsAny(text string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(text, strings.ToLower(t)) {
			return true
		}
	}
	return false
}

func contains(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
