package data

import "time"

// DiscountKind is the promotion attached to a tracker item.
type DiscountKind string

const (
	DiscountNone          DiscountKind = ""
	DiscountFree          DiscountKind = "free"
	DiscountTwoUp         DiscountKind = "twoup"
	DiscountTwoUpFree     DiscountKind = "twoupfree"
	DiscountHalfDown      DiscountKind = "halfdown"
	DiscountThirtyPercent DiscountKind = "thirtypercent"
	DiscountCustom        DiscountKind = "custom"
)

// IsFree reports whether downloads are not counted against the account.
func (k DiscountKind) IsFree() bool {
	return k == DiscountFree || k == DiscountTwoUpFree
}

// IsDoubleUpload reports whether uploads are counted twice.
func (k DiscountKind) IsDoubleUpload() bool {
	return k == DiscountTwoUp || k == DiscountTwoUpFree
}

// Torrent is a tracker item as scraped from search or detail pages.
type Torrent struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Subtitle    string       `json:"subtitle,omitempty"`
	Category    string       `json:"category,omitempty"`
	Size        int64        `json:"size"`
	Seeders     int          `json:"seeders"`
	Leechers    int          `json:"leechers"`
	Completions int          `json:"completions"`
	PublishedAt *time.Time   `json:"publishedAt,omitempty"`
	Discount    DiscountKind `json:"discount"`
	DiscountEnd *time.Time   `json:"discountEnd,omitempty"`
	HitAndRun   bool         `json:"hitAndRun"`
	Uploader    string       `json:"uploader,omitempty"`
}
