package tracker

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/PuerkitoBio/goquery"
	"github.com/tinoosan/ptguard/internal/data"
	"github.com/tinoosan/ptguard/internal/metrics"
)

var hrTabs = map[data.HitAndRunStatus]int{
	data.HRInspecting: 1,
	data.HRReached:    2,
	data.HRUnreached:  3,
	data.HRPardoned:   4,
}

const hrColumns = 8

// HitAndRuns scrapes one tab of myhr.php. Records carry no AccountID; the
// caller owns that binding.
func (s *Site) HitAndRuns(ctx context.Context, status data.HitAndRunStatus) ([]data.HitAndRun, error) {
	tab, ok := hrTabs[status]
	if !ok {
		return nil, fmt.Errorf("hit and run status %q: %w", status, data.ErrBadStatus)
	}
	doc, err := s.page(ctx, "myhr.php", url.Values{"status": {strconv.Itoa(tab)}})
	if err != nil {
		return nil, err
	}
	table := doc.Find("table#hr-table").First()
	if table.Length() == 0 {
		table = doc.Find("table").FilterFunction(func(_ int, t *goquery.Selection) bool {
			return t.Find("td.colhead").Length() > 0
		}).First()
	}
	if table.Length() == 0 {
		s.log.Warn("hit and run table not found", "status", status)
		return nil, nil
	}

	var out []data.HitAndRun
	dropped := 0
	table.Find("tr").Each(func(i int, row *goquery.Selection) {
		if i == 0 {
			return
		}
		rec, ok := parseHitAndRun(row, status)
		if !ok {
			dropped++
			return
		}
		out = append(out, rec)
	})
	if dropped > 0 {
		metrics.ScrapeDropped.WithLabelValues("myhr.php").Add(float64(dropped))
	}
	s.log.Info("parsed hit and runs", "status", status, "count", len(out))
	return out, nil
}

// parseHitAndRun reads a myhr.php row. Columns are: id, torrent,
// uploaded, downloaded, ratio, seed time required, completed at, inspect
// time left and an optional comment.
func parseHitAndRun(row *goquery.Selection, status data.HitAndRunStatus) (data.HitAndRun, bool) {
	cells := row.Find("td")
	if cells.Length() < hrColumns {
		return data.HitAndRun{}, false
	}
	rec := data.HitAndRun{Status: status, HRID: int64(parseInt(text(cells.Eq(0))))}
	if rec.HRID == 0 {
		return data.HitAndRun{}, false
	}
	if link := cells.Eq(1).Find("a[href*='details.php?id=']").First(); link.Length() > 0 {
		rec.TorrentName = text(link)
		rec.TorrentID = linkID(link.AttrOr("href", ""))
	}
	rec.Uploaded = parseSize(text(cells.Eq(2)))
	rec.Downloaded = parseSize(text(cells.Eq(3)))
	rec.ShareRatio = text(cells.Eq(4))
	rec.SeedTimeRequired = text(cells.Eq(5))
	rec.CompletedAt = text(cells.Eq(6))
	rec.InspectTimeLeft = text(cells.Eq(7))
	if cells.Length() > hrColumns {
		rec.Comment = text(cells.Eq(8))
	}
	return rec, true
}
