package tracker

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var (
	sizeRe     = regexp.MustCompile(`(?i)([\d,.]+)\s*(PiB|PB|TiB|TB|GiB|GB|MiB|MB|KiB|KB|B)`)
	intRe      = regexp.MustCompile(`\d+`)
	numberRe   = regexp.MustCompile(`[\d.]+`)
	idRe       = regexp.MustCompile(`id=(\d+)`)
	passkeyRe  = regexp.MustCompile(`[a-f0-9]{32,}`)
	uploadRe   = regexp.MustCompile(`上[傳传]量[：:\s]*([\d,.]+\s*[PTGMK]i?B)`)
	downloadRe = regexp.MustCompile(`下[載载]量[：:\s]*([\d,.]+\s*[PTGMK]i?B)`)
	dateRe     = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}`)
)

var units = map[string]float64{
	"PIB": 1 << 50, "PB": 1 << 50,
	"TIB": 1 << 40, "TB": 1 << 40,
	"GIB": 1 << 30, "GB": 1 << 30,
	"MIB": 1 << 20, "MB": 1 << 20,
	"KIB": 1 << 10, "KB": 1 << 10,
	"B": 1,
}

// parseSize reads "1.5 GB" style text as binary-prefixed bytes.
func parseSize(s string) int64 {
	m := sizeRe.FindStringSubmatch(s)
	if m == nil {
		return 0
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0
	}
	return int64(math.Round(v * units[strings.ToUpper(m[2])]))
}

func parseInt(s string) int {
	m := intRe.FindString(strings.ReplaceAll(s, ",", ""))
	n, _ := strconv.Atoi(m)
	return n
}

func parseNumber(s string) float64 {
	m := numberRe.FindString(strings.ReplaceAll(s, ",", ""))
	f, _ := strconv.ParseFloat(m, 64)
	return f
}

// parseRatio returns +Inf for the tracker's infinity markers.
func parseRatio(s string) float64 {
	switch strings.TrimSpace(s) {
	case "∞", "Inf", "inf", "無限", "无限":
		return math.Inf(1)
	}
	return parseNumber(s)
}

// parseTransfer splits the user page's combined transfer cell into
// uploaded and downloaded bytes.
func parseTransfer(s string) (up, down int64) {
	if m := uploadRe.FindStringSubmatch(s); m != nil {
		up = parseSize(m[1])
	}
	if m := downloadRe.FindStringSubmatch(s); m != nil {
		down = parseSize(m[1])
	}
	return up, down
}

// linkID extracts the numeric id query parameter from an href.
func linkID(href string) string {
	if m := idRe.FindStringSubmatch(href); m != nil {
		return m[1]
	}
	return ""
}

func text(s *goquery.Selection) string { return strings.TrimSpace(s.Text()) }

// rowheads walks the label/value table layout shared by the detail, user
// and control panel pages.
func rowheads(doc *goquery.Document, fn func(label string, value *goquery.Selection)) {
	doc.Find("td.rowhead").Each(func(_ int, td *goquery.Selection) {
		next := td.NextAllFiltered("td").First()
		if next.Length() == 0 {
			return
		}
		fn(text(td), next)
	})
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
