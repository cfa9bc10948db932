package tracker

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/uuid"
	"github.com/tinoosan/ptguard/internal/ratelimit"
)

// LoginConfig tunes Login. Store defaults to a MemoryStore.
type LoginConfig struct {
	Store     SessionStore
	UserAgent string
	Timeout   time.Duration
	Origins   *ratelimit.Origins
}

// Credentials are what the operator types into the login form.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Captcha  string `json:"captcha"`
	TwoStep  string `json:"twoStep,omitempty"`
}

// LoginResult is a fresh session for the account.
type LoginResult struct {
	SiteURL string `json:"siteUrl"`
	Cookie  string `json:"-"`
	UID     string `json:"uid"`
}

// Login runs the two-step captcha and challenge-response login.
type Login struct {
	store   SessionStore
	agent   string
	timeout time.Duration
	origins *ratelimit.Origins
	log     *slog.Logger
	now     func() time.Time
}

func NewLogin(cfg LoginConfig, log *slog.Logger) *Login {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore(DefaultSessionTTL, defaultMaxPending)
	}
	if cfg.Origins == nil {
		cfg.Origins = ratelimit.New(ratelimit.DefaultDelay)
	}
	return &Login{
		store:   cfg.Store,
		agent:   userAgent(cfg.UserAgent),
		timeout: cfg.Timeout,
		origins: cfg.Origins,
		log:     log,
		now:     time.Now,
	}
}

// ChallengeResponse answers the tracker's login challenge:
// hex(HMAC-SHA256(key=challenge, hex(sha256(secret + hex(sha256(password)))))).
func ChallengeResponse(password, secret, challenge string) string {
	client := sha256Hex(password)
	server := sha256Hex(secret + client)
	mac := hmac.New(sha256.New, []byte(challenge))
	mac.Write([]byte(server))
	return hex.EncodeToString(mac.Sum(nil))
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func (l *Login) client(jar http.CookieJar, follow bool) *http.Client {
	c := limitedClient(l.origins, l.timeout)
	c.Jar = jar
	if !follow {
		c.CheckRedirect = func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	}
	return c
}

func (l *Login) get(ctx context.Context, c *http.Client, u, referer string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", l.agent)
	if referer != "" {
		req.Header.Set("Referer", referer)
	}
	return c.Do(req)
}

// Begin loads the login form, fetches its captcha and parks the session
// until Submit.
func (l *Login) Begin(ctx context.Context, siteURL string) (*LoginSession, error) {
	base, err := parseBase(siteURL)
	if err != nil {
		return nil, err
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	c := l.client(jar, true)
	loginURL := base.JoinPath("login.php")

	resp, err := l.get(ctx, c, loginURL.String(), "")
	if err != nil {
		return nil, fmt.Errorf("login page: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("login page: http %d", resp.StatusCode)
	}
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("login page: parse: %w", err)
	}

	hidden := map[string]string{}
	doc.Find("form[action*='takelogin.php'] input[type='hidden']").Each(func(_ int, in *goquery.Selection) {
		if name := in.AttrOr("name", ""); name != "" {
			hidden[name] = in.AttrOr("value", "")
		}
	})

	captcha := ""
	img := doc.Find("img[alt='CAPTCHA']").First()
	if img.Length() == 0 {
		img = doc.Find("img[src*='image.php']").First()
	}
	if src := img.AttrOr("src", ""); src != "" {
		ref, err := url.Parse(src)
		if err != nil {
			return nil, fmt.Errorf("captcha src: %w", err)
		}
		captcha, err = l.captcha(ctx, c, loginURL.ResolveReference(ref).String(), loginURL.String())
		if err != nil {
			return nil, err
		}
	}

	s := &LoginSession{
		ID:        uuid.NewString(),
		SiteURL:   base.String(),
		Cookies:   cookieMap(jar.Cookies(base)),
		Captcha:   captcha,
		ImageHash: hidden["imagehash"],
		Hidden:    hidden,
		CreatedAt: l.now(),
	}
	if err := l.store.Put(ctx, s); err != nil {
		return nil, err
	}
	l.log.Info("login started", "site", base.Host, "session", s.ID, "captcha", captcha != "")
	return s, nil
}

func (l *Login) captcha(ctx context.Context, c *http.Client, src, referer string) (string, error) {
	resp, err := l.get(ctx, c, src, referer)
	if err != nil {
		return "", fmt.Errorf("captcha: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("captcha: http %d", resp.StatusCode)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("captcha: %w", err)
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = "image/png"
	}
	return "data:" + ct + ";base64," + base64.StdEncoding.EncodeToString(b), nil
}

type challengeReply struct {
	Ret  int    `json:"ret"`
	Msg  string `json:"msg"`
	Data struct {
		Challenge string `json:"challenge"`
		Secret    string `json:"secret"`
	} `json:"data"`
}

// Submit completes the login started by Begin. The parked session is
// consumed whatever the outcome.
func (l *Login) Submit(ctx context.Context, id string, cred Credentials) (*LoginResult, error) {
	s, err := l.store.Take(ctx, id)
	if err != nil {
		return nil, err
	}
	base, err := parseBase(s.SiteURL)
	if err != nil {
		return nil, err
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	jar.SetCookies(base, cookieList(s.Cookies))
	c := l.client(jar, false)
	referer := base.JoinPath("login.php").String()

	ch, err := l.challenge(ctx, c, base, referer, cred.Username)
	if err != nil {
		return nil, err
	}

	form := url.Values{
		"username":    {cred.Username},
		"imagestring": {cred.Captcha},
		"imagehash":   {s.ImageHash},
		"secret":      {s.Hidden["secret"]},
		"response":    {ChallengeResponse(cred.Password, ch.Data.Secret, ch.Data.Challenge)},
	}
	if cred.TwoStep != "" {
		form.Set("two_step_code", cred.TwoStep)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base.JoinPath("takelogin.php").String(), strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", l.agent)
	req.Header.Set("Referer", referer)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.Do(req)
	if err != nil {
		return nil, fmt.Errorf("takelogin: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if !loginAccepted(resp) {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		msg := loginError(resp.StatusCode, b)
		l.log.Warn("login rejected", "site", base.Host, "username", cred.Username, "reason", msg)
		return nil, fmt.Errorf("%w: %s", ErrLoginFailed, msg)
	}

	cookies := jar.Cookies(base)
	res := &LoginResult{SiteURL: base.String(), Cookie: cookieString(cookies), UID: uidFromCookies(cookieMap(cookies))}
	if res.UID == "" {
		res.UID = l.uidFromIndex(ctx, jar, base)
	}
	l.log.Info("login succeeded", "site", base.Host, "username", cred.Username, "uid", res.UID)
	return res, nil
}

func (l *Login) challenge(ctx context.Context, c *http.Client, base *url.URL, referer, username string) (*challengeReply, error) {
	body, _ := json.Marshal(map[string]string{"username": username})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, base.JoinPath("api", "challenge").String(), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", l.agent)
	req.Header.Set("Referer", referer)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.Do(req)
	if err != nil {
		return nil, fmt.Errorf("challenge: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	var ch challengeReply
	if err := json.NewDecoder(resp.Body).Decode(&ch); err != nil {
		return nil, fmt.Errorf("challenge: decode: %w", err)
	}
	if ch.Ret != 0 {
		msg := ch.Msg
		if msg == "" {
			msg = "challenge refused"
		}
		return nil, fmt.Errorf("%w: %s", ErrLoginFailed, msg)
	}
	return &ch, nil
}

// loginAccepted reports a redirect away from the login form.
func loginAccepted(resp *http.Response) bool {
	switch resp.StatusCode {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther, http.StatusTemporaryRedirect:
	default:
		return false
	}
	loc, err := url.Parse(resp.Header.Get("Location"))
	if err != nil {
		return false
	}
	return !loginRedirect(loc)
}

func loginError(status int, body []byte) string {
	if status != http.StatusOK {
		return fmt.Sprintf("http %d", status)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "unreadable response"
	}
	if msg := text(doc.Find("td.text").First()); msg != "" {
		return msg
	}
	if msg := text(doc.Find("h2").First()); msg != "" {
		return msg
	}
	page := doc.Text()
	switch {
	case containsAny(page, "验证码", "驗證碼"):
		return "wrong captcha"
	case containsAny(page, "密码", "密碼"):
		return "wrong username or password"
	}
	return "check username, password and captcha"
}

func (l *Login) uidFromIndex(ctx context.Context, jar http.CookieJar, base *url.URL) string {
	resp, err := l.get(ctx, l.client(jar, true), base.JoinPath("index.php").String(), "")
	if err != nil {
		l.log.Debug("uid lookup failed", "err", err)
		return ""
	}
	defer func() { _ = resp.Body.Close() }()
	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return ""
	}
	return profileID(doc)
}

// uidFromCookies reads the user id NexusPHP leaves in its cookies.
func uidFromCookies(c map[string]string) string {
	for _, name := range []string{"c_secure_uid", "uid", "userid"} {
		v, ok := c[name]
		if !ok {
			continue
		}
		if name == "c_secure_uid" {
			if raw, err := base64.StdEncoding.DecodeString(v); err == nil {
				if id := intRe.FindString(string(raw)); id != "" {
					return id
				}
			}
		}
		if id := intRe.FindString(v); id != "" {
			return id
		}
	}
	return ""
}

func cookieMap(cs []*http.Cookie) map[string]string {
	m := make(map[string]string, len(cs))
	for _, c := range cs {
		m[c.Name] = c.Value
	}
	return m
}

func cookieList(m map[string]string) []*http.Cookie {
	out := make([]*http.Cookie, 0, len(m))
	for k, v := range m {
		out = append(out, &http.Cookie{Name: k, Value: v, Path: "/"})
	}
	return out
}

func cookieString(cs []*http.Cookie) string {
	parts := make([]string, 0, len(cs))
	for _, c := range cs {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}
