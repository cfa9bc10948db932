package tracker

import (
	"context"
	"math"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// UserStats is the account summary shown on userdetails.php. Ratio is
// +Inf when nothing has been downloaded yet.
type UserStats struct {
	UID        string  `json:"uid"`
	Username   string  `json:"username"`
	Uploaded   int64   `json:"uploaded"`
	Downloaded int64   `json:"downloaded"`
	Ratio      float64 `json:"-"`
	Bonus      float64 `json:"bonus"`
	UserClass  string  `json:"userClass"`
}

// UserStats scrapes the profile page of uid.
func (s *Site) UserStats(ctx context.Context, uid string) (*UserStats, error) {
	doc, err := s.page(ctx, "userdetails.php", url.Values{"id": {uid}})
	if err != nil {
		return nil, err
	}
	st := &UserStats{UID: uid}
	rowheads(doc, func(label string, v *goquery.Selection) {
		val := text(v)
		switch {
		case containsAny(label, "用戶名", "用户名", "Username"):
			st.Username = val
		case containsAny(label, "等級", "等级", "Class"):
			st.UserClass = val
			if img := v.Find("img").First(); img.Length() > 0 {
				if c := img.AttrOr("title", img.AttrOr("alt", "")); c != "" {
					st.UserClass = c
				}
			}
		case containsAny(label, "魔力", "Bonus"):
			st.Bonus = parseNumber(val)
		case containsAny(label, "分享率", "Ratio"):
			st.Ratio = parseRatio(val)
		case containsAny(label, "傳送", "传送", "Transfer"):
			st.Uploaded, st.Downloaded = parseTransfer(val)
		}
	})
	if st.Ratio == 0 && st.Downloaded > 0 {
		st.Ratio = math.Round(float64(st.Uploaded)/float64(st.Downloaded)*1000) / 1000
	}
	return st, nil
}

// FiniteRatio returns the ratio with infinity reported as zero.
func (u *UserStats) FiniteRatio() float64 {
	if math.IsInf(u.Ratio, 0) || math.IsNaN(u.Ratio) {
		return 0
	}
	return u.Ratio
}

// Passkey reads the account passkey from usercp.php.
func (s *Site) Passkey(ctx context.Context) (string, error) {
	doc, err := s.page(ctx, "usercp.php", nil)
	if err != nil {
		return "", err
	}
	var key string
	rowheads(doc, func(label string, v *goquery.Selection) {
		if key != "" || !containsAny(strings.ToLower(label), "passkey", "密鑰", "密钥") {
			return
		}
		if in := v.Find("input").First(); in.AttrOr("value", "") != "" {
			key = in.AttrOr("value", "")
			return
		}
		key = passkeyRe.FindString(text(v))
	})
	if key == "" {
		key = passkeyRe.FindString(doc.Text())
	}
	return key, nil
}

// UID returns the logged-in user's id from the index page header.
func (s *Site) UID(ctx context.Context) (string, error) {
	doc, err := s.page(ctx, "index.php", nil)
	if err != nil {
		return "", err
	}
	return profileID(doc), nil
}

func profileID(doc *goquery.Document) string {
	href, _ := doc.Find("a[href*='userdetails.php?id=']").First().Attr("href")
	return linkID(href)
}
