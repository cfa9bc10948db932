package tracker

import (
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/tinoosan/ptguard/internal/data"
)

// Promotion binds a CSS class used on listing rows to a discount kind.
type Promotion struct {
	Class    string
	Discount data.DiscountKind
}

// Dialect holds the site-specific details of a NexusPHP deployment.
type Dialect struct {
	// Promotions are tried in order; the first class present wins.
	Promotions []Promotion
	// DeadlineLayout parses promotion deadlines and publish times shown
	// in span titles.
	DeadlineLayout string
	Location       *time.Location
	// UnregisteredMarkers are matched case-insensitively against the
	// download client's tracker message.
	UnregisteredMarkers []string
}

// DefaultTimeZone is the zone tracker pages print times in.
const DefaultTimeZone = "Asia/Shanghai"

// DefaultDialect returns the layout used by stock NexusPHP sites.
func DefaultDialect() Dialect {
	loc, err := time.LoadLocation(DefaultTimeZone)
	if err != nil {
		loc = time.FixedZone("CST", 8*3600)
	}
	return Dialect{
		Promotions: []Promotion{
			{"pro_free2up", data.DiscountTwoUpFree},
			{"pro_free", data.DiscountFree},
			{"pro_2up", data.DiscountTwoUp},
			{"pro_50pctdown", data.DiscountHalfDown},
			{"pro_30pctdown", data.DiscountThirtyPercent},
			{"pro_custom", data.DiscountCustom},
		},
		DeadlineLayout:      "2006-01-02 15:04:05",
		Location:            loc,
		UnregisteredMarkers: []string{"unregistered"},
	}
}

// WithTimeZone returns a copy of d printing times in the named zone.
func (d Dialect) WithTimeZone(name string) (Dialect, error) {
	if name == "" {
		return d, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return d, err
	}
	d.Location = loc
	return d, nil
}

// ParseTime reads a tracker timestamp. It reports false for text that is
// not in the deadline layout.
func (d Dialect) ParseTime(s string) (time.Time, bool) {
	loc := d.Location
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(d.DeadlineLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Unregistered reports whether a tracker message says the item was
// removed from the site.
func (d Dialect) Unregistered(msg string) bool {
	return MatchesMarker(msg, d.UnregisteredMarkers)
}

// MatchesMarker reports whether msg contains any marker, ignoring case.
func MatchesMarker(msg string, markers []string) bool {
	if msg == "" {
		return false
	}
	msg = strings.ToLower(msg)
	for _, m := range markers {
		if m != "" && strings.Contains(msg, strings.ToLower(m)) {
			return true
		}
	}
	return false
}
