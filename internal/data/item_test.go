package data

import (
	"testing"
	"time"
)

func TestCanAdvanceTo(t *testing.T) {
	tests := []struct {
		from, to ItemStatus
		want     bool
	}{
		{StatusDownloading, StatusSeeding, true},
		{StatusSeeding, StatusDownloading, true},
		{StatusDownloading, StatusExpiredPaused, true},
		{StatusSeeding, StatusDynamicDeleted, true},
		{StatusDownloading, StatusDownloading, false},
		{StatusDeleted, StatusDownloading, false},
		{StatusExpiredPaused, StatusSeeding, false},
		{StatusCompleted, StatusDeleted, false},
		{StatusDownloading, ItemStatus("bogus"), false},
	}
	for _, tt := range tests {
		if got := tt.from.CanAdvanceTo(tt.to); got != tt.want {
			t.Errorf("%s -> %s = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestItemFilterMatches(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	rule := int64(7)
	it := &Item{Status: StatusSeeding, ClientID: 2, RuleID: &rule, InfoHash: "abc", DiscountEnd: &past}

	tests := []struct {
		name string
		f    ItemFilter
		want bool
	}{
		{"empty", ItemFilter{}, true},
		{"status hit", ItemFilter{Statuses: ActiveStatuses}, true},
		{"status miss", ItemFilter{Statuses: []ItemStatus{StatusPaused}}, false},
		{"client miss", ItemFilter{ClientID: 3}, false},
		{"rule hit", ItemFilter{RuleID: 7}, true},
		{"rule miss", ItemFilter{RuleID: 8}, false},
		{"deadline before now", ItemFilter{DeadlineBefore: &now}, true},
		{"deadline before past", ItemFilter{DeadlineBefore: &past}, false},
	}
	for _, tt := range tests {
		if got := tt.f.Matches(it); got != tt.want {
			t.Errorf("%s: got %v want %v", tt.name, got, tt.want)
		}
	}

	noDeadline := &Item{Status: StatusDownloading}
	if (ItemFilter{HasDeadline: true}).Matches(noDeadline) {
		t.Fatal("item without deadline matched HasDeadline")
	}
	if (ItemFilter{HasHash: true}).Matches(noDeadline) {
		t.Fatal("item without hash matched HasHash")
	}
}

func TestCloneIsDeep(t *testing.T) {
	end := time.Now()
	it := &Item{Tags: []string{"a"}, DiscountEnd: &end}
	cp := it.Clone()
	cp.Tags[0] = "b"
	*cp.DiscountEnd = end.Add(time.Hour)
	if it.Tags[0] != "a" || !it.DiscountEnd.Equal(end) {
		t.Fatal("clone shares memory with original")
	}
}

func TestDiscountKind(t *testing.T) {
	if !DiscountTwoUpFree.IsFree() || !DiscountTwoUpFree.IsDoubleUpload() {
		t.Fatal("twoupfree should be free and double upload")
	}
	if DiscountHalfDown.IsFree() || DiscountNone.IsDoubleUpload() {
		t.Fatal("unexpected discount classification")
	}
}
