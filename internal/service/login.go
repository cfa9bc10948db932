package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tinoosan/ptguard/internal/audit"
	"github.com/tinoosan/ptguard/internal/data"
	"github.com/tinoosan/ptguard/internal/repo"
	"github.com/tinoosan/ptguard/internal/tracker"
)

// LoginFlow is the tracker's two-step login.
type LoginFlow interface {
	Begin(ctx context.Context, siteURL string) (*tracker.LoginSession, error)
	Submit(ctx context.Context, id string, cred tracker.Credentials) (*tracker.LoginResult, error)
}

// Logins completes tracker logins and stores the resulting cookie on the
// matching account, creating the account on first login.
type Logins struct {
	flow     LoginFlow
	accounts repo.AccountRepo
	audit    audit.Sink
	log      *slog.Logger
}

func NewLogins(flow LoginFlow, accounts repo.AccountRepo, sink audit.Sink, log *slog.Logger) *Logins {
	if log == nil {
		log = slog.Default()
	}
	if sink == nil {
		sink = audit.Discard
	}
	return &Logins{flow: flow, accounts: accounts, audit: sink, log: log}
}

// Begin starts a login and returns the session holding the captcha.
func (l *Logins) Begin(ctx context.Context, siteURL string) (*tracker.LoginSession, error) {
	return l.flow.Begin(ctx, siteURL)
}

// Submit finishes login id. accountID selects the account to update; zero
// matches by site URL and username.
func (l *Logins) Submit(ctx context.Context, id string, cred tracker.Credentials, accountID int64) (*data.Account, error) {
	res, err := l.flow.Submit(ctx, id, cred)
	if err != nil {
		return nil, err
	}
	target, err := l.find(ctx, accountID, res.SiteURL, cred.Username)
	if err != nil {
		return nil, err
	}
	if target == nil {
		target, err = l.accounts.AddAccount(ctx, &data.Account{
			SiteName: siteName(res.SiteURL),
			SiteURL:  res.SiteURL,
			Username: cred.Username,
			Active:   true,
		})
		if err != nil {
			return nil, fmt.Errorf("create account: %w", err)
		}
	}
	acc, err := l.accounts.UpdateAccount(ctx, target.ID, func(a *data.Account) error {
		a.Cookie = res.Cookie
		if res.UID != "" {
			a.UID = res.UID
		}
		a.Username = cred.Username
		a.Active = true
		return nil
	})
	if err != nil {
		return nil, err
	}
	l.audit.Emit(ctx, audit.Event{Kind: audit.KindLogin, Message: fmt.Sprintf("%s logged in to %s", cred.Username, res.SiteURL)})
	l.log.Info("account session refreshed", "account_id", acc.ID, "uid", acc.UID)
	return acc, nil
}

func (l *Logins) find(ctx context.Context, id int64, siteURL, username string) (*data.Account, error) {
	if id != 0 {
		return l.accounts.GetAccount(ctx, id)
	}
	accs, err := l.accounts.ListAccounts(ctx, false)
	if err != nil {
		return nil, err
	}
	for _, a := range accs {
		if strings.TrimRight(a.SiteURL, "/") == strings.TrimRight(siteURL, "/") && strings.EqualFold(a.Username, username) {
			return a, nil
		}
	}
	return nil, nil
}

func siteName(u string) string {
	u = strings.TrimPrefix(strings.TrimPrefix(u, "https://"), "http://")
	if i := strings.IndexByte(u, '/'); i >= 0 {
		u = u[:i]
	}
	return u
}
