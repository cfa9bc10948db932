package data

import (
	"encoding/json"
	"io"
	"strings"
	"time"
)

// ItemStatus is the lifecycle status of an acquired item.
type ItemStatus string

const (
	StatusDownloading         ItemStatus = "downloading"
	StatusSeeding             ItemStatus = "seeding"
	StatusCompleted           ItemStatus = "completed"
	StatusPaused              ItemStatus = "paused"
	StatusDeleted             ItemStatus = "deleted"
	StatusExpiredPaused       ItemStatus = "expired_paused"
	StatusExpiredDeleted      ItemStatus = "expired_deleted"
	StatusDynamicDeleted      ItemStatus = "dynamic_deleted"
	StatusUnregisteredDeleted ItemStatus = "unregistered_deleted"
)

// ActiveStatuses lists the statuses automation still acts on.
var ActiveStatuses = []ItemStatus{StatusDownloading, StatusSeeding}

// Active reports whether s is in the active set.
func (s ItemStatus) Active() bool {
	return s == StatusDownloading || s == StatusSeeding
}

// CanAdvanceTo reports whether automation may move a record from s to next.
// Terminal records never change and no-op writes are refused.
func (s ItemStatus) CanAdvanceTo(next ItemStatus) bool {
	if !s.Active() || s == next {
		return false
	}
	return next.Valid()
}

// Valid reports whether s is a known status.
func (s ItemStatus) Valid() bool {
	switch s {
	case StatusDownloading, StatusSeeding, StatusCompleted, StatusPaused,
		StatusDeleted, StatusExpiredPaused, StatusExpiredDeleted,
		StatusDynamicDeleted, StatusUnregisteredDeleted:
		return true
	}
	return false
}

// Destructive reports whether reaching s implies the payload was removed
// from the download client by automation.
func (s ItemStatus) Destructive() bool {
	switch s {
	case StatusDeleted, StatusExpiredDeleted, StatusDynamicDeleted:
		return true
	}
	return false
}

// Item is the record of one torrent pushed to a download client.
type Item struct {
	ID          int64        `json:"id"`
	TorrentID   string       `json:"torrentId"`
	InfoHash    string       `json:"infoHash"`
	Title       string       `json:"title"`
	Size        int64        `json:"size"`
	Status      ItemStatus   `json:"status"`
	Discount    DiscountKind `json:"discount"`
	DiscountEnd *time.Time   `json:"discountEnd,omitempty"`
	HitAndRun   bool         `json:"hitAndRun"`
	AccountID   int64        `json:"accountId"`
	ClientID    int64        `json:"clientId"`
	RuleID      *int64       `json:"ruleId,omitempty"`
	SavePath    string       `json:"savePath"`
	Tags        []string     `json:"tags"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

type Items []*Item

// NormalizeHash lowercases and trims a content hash for comparisons.
func NormalizeHash(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}

// Expired reports whether the item's promotion deadline is at or before now.
func (i *Item) Expired(now time.Time) bool {
	return i.DiscountEnd != nil && !i.DiscountEnd.After(now)
}

// Clone returns a deep copy of the item.
func (i *Item) Clone() *Item {
	if i == nil {
		return nil
	}
	cp := *i
	if i.DiscountEnd != nil {
		t := *i.DiscountEnd
		cp.DiscountEnd = &t
	}
	if i.RuleID != nil {
		r := *i.RuleID
		cp.RuleID = &r
	}
	if i.Tags != nil {
		cp.Tags = append([]string(nil), i.Tags...)
	}
	return &cp
}

// Clone returns a deep copy of the slice.
func (is Items) Clone() Items {
	out := make(Items, 0, len(is))
	for _, i := range is {
		out = append(out, i.Clone())
	}
	return out
}

func (is Items) ToJSON(w io.Writer) error { return json.NewEncoder(w).Encode(is) }

func (i *Item) ToJSON(w io.Writer) error { return json.NewEncoder(w).Encode(i) }

// ItemFilter narrows ListItems. Zero-valued fields do not constrain.
type ItemFilter struct {
	Statuses       []ItemStatus
	ClientID       int64
	RuleID         int64
	HasHash        bool
	DeadlineBefore *time.Time
	HasDeadline    bool
}

// Matches reports whether i satisfies f.
func (f ItemFilter) Matches(i *Item) bool {
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if i.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.ClientID != 0 && i.ClientID != f.ClientID {
		return false
	}
	if f.RuleID != 0 && (i.RuleID == nil || *i.RuleID != f.RuleID) {
		return false
	}
	if f.HasHash && i.InfoHash == "" {
		return false
	}
	if (f.HasDeadline || f.DeadlineBefore != nil) && i.DiscountEnd == nil {
		return false
	}
	if f.DeadlineBefore != nil && !i.DiscountEnd.Before(*f.DeadlineBefore) {
		return false
	}
	return true
}
