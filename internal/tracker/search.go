package tracker

import (
	"context"
	"net/url"
	"strconv"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/tinoosan/ptguard/internal/data"
	"github.com/tinoosan/ptguard/internal/metrics"
)

// Promotion filters accepted by torrents.php's spstate parameter.
const (
	SPStateAny       = 0
	SPStateFree      = 2
	SPStateTwoUp     = 3
	SPStateTwoUpFree = 4
	SPStateHalfDown  = 5
	SPStateTwoUpHalf = 6
	SPStateThirtyPct = 7
)

// IncludeDeadAll lists live and dead items alike.
const IncludeDeadAll = 1

const listingColumns = 9

// SearchParams narrows a torrents.php listing. Zero values are omitted.
type SearchParams struct {
	Keyword     string
	Category    int
	SPState     int
	IncludeDead int
	Page        int
}

func (p SearchParams) query() url.Values {
	q := url.Values{}
	if p.Keyword != "" {
		q.Set("search", p.Keyword)
	}
	if p.Category > 0 {
		q.Set("cat", strconv.Itoa(p.Category))
	}
	if p.SPState > 0 {
		q.Set("spstate", strconv.Itoa(p.SPState))
	}
	if p.IncludeDead > 0 {
		q.Set("incldead", strconv.Itoa(p.IncludeDead))
	}
	if p.Page > 0 {
		q.Set("page", strconv.Itoa(p.Page))
	}
	return q
}

// Search returns the listing for p in page order, without duplicates.
func (s *Site) Search(ctx context.Context, p SearchParams) ([]data.Torrent, error) {
	doc, err := s.page(ctx, "torrents.php", p.query())
	if err != nil {
		return nil, err
	}
	return s.parseListing(doc, "torrents.php")
}

func (s *Site) parseListing(doc *goquery.Document, page string) ([]data.Torrent, error) {
	table := doc.Find("table.torrents").First()
	if table.Length() == 0 {
		s.log.Warn("listing table not found", "page", page)
		return nil, ErrNoTable
	}
	var out []data.Torrent
	seen := map[string]struct{}{}
	dropped := 0
	table.Find("tr").Each(func(i int, row *goquery.Selection) {
		if i == 0 {
			return
		}
		// rows of the nested title tables carry fewer cells
		if row.ChildrenFiltered("td").Length() < listingColumns {
			return
		}
		t, ok := s.parseRow(row)
		if !ok {
			dropped++
			return
		}
		if _, dup := seen[t.ID]; dup {
			return
		}
		seen[t.ID] = struct{}{}
		out = append(out, t)
	})
	if dropped > 0 {
		metrics.ScrapeDropped.WithLabelValues(page).Add(float64(dropped))
		s.log.Debug("dropped malformed rows", "page", page, "count", dropped)
	}
	s.log.Info("parsed listing", "page", page, "count", len(out))
	return out, nil
}

// parseRow reads one listing row. Columns are: category, title, comments,
// added, size, seeders, leechers, completions, uploader.
func (s *Site) parseRow(row *goquery.Selection) (data.Torrent, bool) {
	cells := row.ChildrenFiltered("td")
	link := row.Find("a[href*='details.php?id=']").First()
	href, _ := link.Attr("href")
	id := linkID(href)
	if id == "" {
		return data.Torrent{}, false
	}
	t := data.Torrent{ID: id}
	if title, ok := link.Attr("title"); ok && title != "" {
		t.Title = title
	} else {
		t.Title = text(link)
	}

	titleCell := link.Closest("td.embedded")
	t.Subtitle = subtitle(titleCell)

	if img := row.Find("a[href*='?cat=']").First().Find("img").First(); img.Length() > 0 {
		t.Category = img.AttrOr("alt", "")
		if t.Category == "" {
			t.Category = img.AttrOr("title", "")
		}
	}

	t.Discount = s.discount(row)
	t.HitAndRun = row.Find("img.hitandrun").Length() > 0
	if t.Discount != data.DiscountNone {
		t.DiscountEnd = s.spanTime(titleCell)
	}
	t.PublishedAt = s.spanTime(cells.Eq(3))

	t.Size = parseSize(text(cells.Eq(4)))
	t.Seeders = parseInt(text(cells.Eq(5)))
	t.Leechers = parseInt(text(cells.Eq(6)))
	t.Completions = parseInt(text(cells.Eq(7)))
	t.Uploader = text(cells.Eq(8))
	return t, true
}

// subtitle is the first text following a line break in the title cell.
func subtitle(cell *goquery.Selection) string {
	contents := cell.Contents()
	for i := 0; i < contents.Length()-1; i++ {
		if goquery.NodeName(contents.Eq(i)) != "br" {
			continue
		}
		if s := text(contents.Eq(i + 1)); len([]rune(s)) > 1 {
			return s
		}
	}
	return ""
}

func (s *Site) discount(sel *goquery.Selection) data.DiscountKind {
	for _, p := range s.dialect.Promotions {
		if sel.Find("." + p.Class).Length() > 0 {
			return p.Discount
		}
	}
	if sel.Find("font.free").Length() > 0 {
		return data.DiscountFree
	}
	return data.DiscountNone
}

// spanTime returns the first timestamp found in a span title under sel.
func (s *Site) spanTime(sel *goquery.Selection) *time.Time {
	var out *time.Time
	sel.Find("span[title]").EachWithBreak(func(_ int, span *goquery.Selection) bool {
		v := span.AttrOr("title", "")
		if !dateRe.MatchString(v) {
			return true
		}
		if t, ok := s.dialect.ParseTime(v); ok {
			out = &t
			return false
		}
		return true
	})
	return out
}

// Detail scrapes details.php for id.
func (s *Site) Detail(ctx context.Context, id string) (*data.Torrent, error) {
	doc, err := s.page(ctx, "details.php", url.Values{"id": {id}})
	if err != nil {
		return nil, err
	}
	t := &data.Torrent{ID: id}
	heading := doc.Find("h1#top").First()
	t.Title = text(heading)
	rowheads(doc, func(label string, v *goquery.Selection) {
		switch {
		case containsAny(label, "大小", "尺寸", "Size"):
			t.Size = parseSize(text(v))
		case containsAny(label, "類型", "类型", "分類", "Type"):
			t.Category = text(v)
		}
	})
	t.Discount = s.discount(doc.Selection)
	if t.Discount != data.DiscountNone {
		t.DiscountEnd = s.spanTime(heading)
	}
	t.HitAndRun = doc.Find("img.hitandrun").Length() > 0
	return t, nil
}
