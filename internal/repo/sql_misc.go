package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/tinoosan/ptguard/internal/data"
)

func (s *SQLStore) ListRules(ctx context.Context, enabledOnly bool) ([]*data.Rule, error) {
	query := `SELECT id,enabled,sort_order,definition,created_at FROM rules`
	if enabledOnly {
		query += ` WHERE enabled=?`
	}
	query += ` ORDER BY sort_order ASC, id ASC`
	var args []any
	if enabledOnly {
		args = append(args, true)
	}
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*data.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRule(rs rowScanner) (*data.Rule, error) {
	var (
		id         int64
		enabled    bool
		sortOrder  int
		definition string
		created    int64
	)
	if err := rs.Scan(&id, &enabled, &sortOrder, &definition, &created); err != nil {
		return nil, err
	}
	r := &data.Rule{}
	if err := json.Unmarshal([]byte(definition), r); err != nil {
		return nil, err
	}
	r.ID = id
	r.Enabled = enabled
	r.SortOrder = sortOrder
	r.CreatedAt = fromMillis(created)
	return r, nil
}

func (s *SQLStore) GetRule(ctx context.Context, id int64) (*data.Rule, error) {
	r, err := scanRule(s.db.QueryRowContext(ctx, s.q(`SELECT id,enabled,sort_order,definition,created_at FROM rules WHERE id=?`), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, data.ErrNotFound
		}
		return nil, err
	}
	return r, nil
}

func (s *SQLStore) AddRule(ctx context.Context, r *data.Rule) (*data.Rule, error) {
	definition, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	created := r.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	var id int64
	if err := s.db.QueryRowContext(ctx, s.q(`INSERT INTO rules (name,enabled,sort_order,definition,created_at) VALUES (?,?,?,?,?) RETURNING id`),
		r.Name, r.Enabled, r.SortOrder, string(definition), millis(created)).Scan(&id); err != nil {
		return nil, err
	}
	return s.GetRule(ctx, id)
}

const clientCols = `id,name,kind,host,port,username,password,use_ssl,is_default,download_dir,created_at`

func scanClient(rs rowScanner) (*data.Client, error) {
	var (
		c       data.Client
		kind    string
		created int64
	)
	if err := rs.Scan(&c.ID, &c.Name, &kind, &c.Host, &c.Port, &c.Username, &c.Password, &c.UseSSL, &c.IsDefault, &c.DownloadDir, &created); err != nil {
		return nil, err
	}
	c.Kind = data.ClientKind(kind)
	c.CreatedAt = fromMillis(created)
	return &c, nil
}

func (s *SQLStore) ListClients(ctx context.Context) ([]*data.Client, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+clientCols+` FROM clients ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*data.Client
	for rows.Next() {
		c, err := scanClient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLStore) GetClient(ctx context.Context, id int64) (*data.Client, error) {
	c, err := scanClient(s.db.QueryRowContext(ctx, s.q(`SELECT `+clientCols+` FROM clients WHERE id=?`), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, data.ErrNotFound
		}
		return nil, err
	}
	return c, nil
}

func (s *SQLStore) AddClient(ctx context.Context, c *data.Client) (*data.Client, error) {
	created := c.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	var id int64
	if err := s.db.QueryRowContext(ctx, s.q(`INSERT INTO clients (name,kind,host,port,username,password,use_ssl,is_default,download_dir,created_at) VALUES (?,?,?,?,?,?,?,?,?,?) RETURNING id`),
		c.Name, string(c.Kind), c.Host, c.Port, c.Username, c.Password, c.UseSSL, c.IsDefault, c.DownloadDir, millis(created)).Scan(&id); err != nil {
		return nil, err
	}
	return s.GetClient(ctx, id)
}

const accountCols = `id,site_name,site_url,username,cookie,passkey,uid,uploaded,downloaded,ratio,bonus,user_class,active,last_refresh,created_at,updated_at`

func scanAccount(rs rowScanner) (*data.Account, error) {
	var (
		a                data.Account
		last             sql.NullInt64
		created, updated int64
	)
	if err := rs.Scan(&a.ID, &a.SiteName, &a.SiteURL, &a.Username, &a.Cookie, &a.Passkey, &a.UID, &a.Uploaded,
		&a.Downloaded, &a.Ratio, &a.Bonus, &a.UserClass, &a.Active, &last, &created, &updated); err != nil {
		return nil, err
	}
	a.LastRefresh = timePtr(last)
	a.CreatedAt = fromMillis(created)
	a.UpdatedAt = fromMillis(updated)
	return &a, nil
}

func (s *SQLStore) ListAccounts(ctx context.Context, activeOnly bool) ([]*data.Account, error) {
	query := `SELECT ` + accountCols + ` FROM accounts`
	var args []any
	if activeOnly {
		query += ` WHERE active=?`
		args = append(args, true)
	}
	rows, err := s.db.QueryContext(ctx, s.q(query+` ORDER BY id ASC`), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*data.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLStore) GetAccount(ctx context.Context, id int64) (*data.Account, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx, s.q(`SELECT `+accountCols+` FROM accounts WHERE id=?`), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, data.ErrNotFound
		}
		return nil, err
	}
	return a, nil
}

func (s *SQLStore) AddAccount(ctx context.Context, a *data.Account) (*data.Account, error) {
	now := s.now()
	created := a.CreatedAt
	if created.IsZero() {
		created = now
	}
	var id int64
	if err := s.db.QueryRowContext(ctx, s.q(`INSERT INTO accounts (site_name,site_url,username,cookie,passkey,uid,uploaded,downloaded,ratio,bonus,user_class,active,last_refresh,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?) RETURNING id`),
		a.SiteName, a.SiteURL, a.Username, a.Cookie, a.Passkey, a.UID, a.Uploaded, a.Downloaded, a.Ratio, a.Bonus,
		a.UserClass, a.Active, nullMillis(a.LastRefresh), millis(created), millis(now)).Scan(&id); err != nil {
		return nil, err
	}
	return s.GetAccount(ctx, id)
}

func (s *SQLStore) UpdateAccount(ctx context.Context, id int64, mutate func(*data.Account) error) (*data.Account, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()
	lock := ""
	if s.dialect == DialectPostgres {
		lock = " FOR UPDATE"
	}
	cur, err := scanAccount(tx.QueryRowContext(ctx, s.q(`SELECT `+accountCols+` FROM accounts WHERE id=?`+lock), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, data.ErrNotFound
		}
		return nil, err
	}
	next := cur.Clone()
	if mutate != nil {
		if err := mutate(next); err != nil {
			return nil, err
		}
	}
	next.ID = cur.ID
	next.CreatedAt = cur.CreatedAt
	next.UpdatedAt = s.now()
	if _, err := tx.ExecContext(ctx, s.q(`UPDATE accounts SET site_name=?,site_url=?,username=?,cookie=?,passkey=?,uid=?,uploaded=?,downloaded=?,ratio=?,bonus=?,user_class=?,active=?,last_refresh=?,updated_at=? WHERE id=?`),
		next.SiteName, next.SiteURL, next.Username, next.Cookie, next.Passkey, next.UID, next.Uploaded, next.Downloaded,
		next.Ratio, next.Bonus, next.UserClass, next.Active, nullMillis(next.LastRefresh), millis(next.UpdatedAt), id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return next, nil
}

func (s *SQLStore) GetSetting(ctx context.Context, key string, dst any) (bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, s.q(`SELECT value FROM settings WHERE name=?`), key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal([]byte(raw), dst)
}

func (s *SQLStore) PutSetting(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.q(`INSERT INTO settings (name,value) VALUES (?,?) ON CONFLICT (name) DO UPDATE SET value=excluded.value`), key, string(raw))
	return err
}

func (s *SQLStore) UpsertHitAndRun(ctx context.Context, hr *data.HitAndRun) error {
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO hit_and_runs (account_id,hr_id,torrent_id,torrent_name,uploaded,downloaded,share_ratio,seed_time_required,completed_at,inspect_time_left,comment,status,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT (account_id,hr_id) DO UPDATE SET torrent_id=excluded.torrent_id, torrent_name=excluded.torrent_name,
uploaded=excluded.uploaded, downloaded=excluded.downloaded, share_ratio=excluded.share_ratio,
seed_time_required=excluded.seed_time_required, completed_at=excluded.completed_at,
inspect_time_left=excluded.inspect_time_left, comment=excluded.comment, status=excluded.status, updated_at=excluded.updated_at`),
		hr.AccountID, hr.HRID, hr.TorrentID, hr.TorrentName, hr.Uploaded, hr.Downloaded, hr.ShareRatio, hr.SeedTimeRequired,
		hr.CompletedAt, hr.InspectTimeLeft, hr.Comment, string(hr.Status), millis(s.now()))
	return err
}

func (s *SQLStore) ListHitAndRuns(ctx context.Context, accountID int64) ([]*data.HitAndRun, error) {
	query := `SELECT id,account_id,hr_id,torrent_id,torrent_name,uploaded,downloaded,share_ratio,seed_time_required,completed_at,inspect_time_left,comment,status,updated_at FROM hit_and_runs`
	var args []any
	if accountID != 0 {
		query += ` WHERE account_id=?`
		args = append(args, accountID)
	}
	rows, err := s.db.QueryContext(ctx, s.q(query+` ORDER BY id ASC`), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*data.HitAndRun
	for rows.Next() {
		var (
			hr      data.HitAndRun
			status  string
			updated int64
		)
		if err := rows.Scan(&hr.ID, &hr.AccountID, &hr.HRID, &hr.TorrentID, &hr.TorrentName, &hr.Uploaded, &hr.Downloaded,
			&hr.ShareRatio, &hr.SeedTimeRequired, &hr.CompletedAt, &hr.InspectTimeLeft, &hr.Comment, &status, &updated); err != nil {
			return nil, err
		}
		hr.Status = data.HitAndRunStatus(status)
		hr.UpdatedAt = fromMillis(updated)
		out = append(out, &hr)
	}
	return out, rows.Err()
}

func (s *SQLStore) AddSnapshot(ctx context.Context, snap *data.StatsSnapshot) error {
	created := snap.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err := s.db.ExecContext(ctx, s.q(`INSERT INTO stats_snapshots (account_id,uploaded,downloaded,upload_speed,download_speed,created_at) VALUES (?,?,?,?,?,?)`),
		snap.AccountID, snap.Uploaded, snap.Downloaded, snap.UploadSpeed, snap.DownloadSpeed, millis(created))
	return err
}
