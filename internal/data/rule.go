package data

import "time"

// DefaultMaxDownloading caps concurrent downloading items per rule when unset.
const DefaultMaxDownloading = 5

// Rule selects tracker items for automatic acquisition. Nil bounds impose
// no constraint.
type Rule struct {
	ID              int64     `json:"id"`
	Name            string    `json:"name"`
	Enabled         bool      `json:"enabled"`
	SortOrder       int       `json:"sortOrder"`
	FreeOnly        bool      `json:"freeOnly"`
	DoubleUpload    bool      `json:"doubleUpload"`
	SkipHitAndRun   bool      `json:"skipHitAndRun"`
	MinSize         *int64    `json:"minSize,omitempty"`
	MaxSize         *int64    `json:"maxSize,omitempty"`
	MinSeeders      *int      `json:"minSeeders,omitempty"`
	MaxSeeders      *int      `json:"maxSeeders,omitempty"`
	MinLeechers     *int      `json:"minLeechers,omitempty"`
	MaxLeechers     *int      `json:"maxLeechers,omitempty"`
	Keywords        []string  `json:"keywords,omitempty"`
	ExcludeKeywords []string  `json:"excludeKeywords,omitempty"`
	Categories      []string  `json:"categories,omitempty"`
	MaxPublishHours *float64  `json:"maxPublishHours,omitempty"`
	MaxDownloading  int       `json:"maxDownloading"`
	ClientID        int64     `json:"clientId"`
	AccountID       int64     `json:"accountId"`
	SavePath        string    `json:"savePath,omitempty"`
	Tags            []string  `json:"tags,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
}

// Cap returns the effective concurrency cap.
func (r *Rule) Cap() int {
	if r.MaxDownloading <= 0 {
		return DefaultMaxDownloading
	}
	return r.MaxDownloading
}

// Clone returns a deep copy of the rule.
func (r *Rule) Clone() *Rule {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Keywords = append([]string(nil), r.Keywords...)
	cp.ExcludeKeywords = append([]string(nil), r.ExcludeKeywords...)
	cp.Categories = append([]string(nil), r.Categories...)
	cp.Tags = append([]string(nil), r.Tags...)
	return &cp
}
