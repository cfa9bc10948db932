package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/tinoosan/ptguard/internal/data"
)

const itemCols = `id,torrent_id,info_hash,title,size,status,discount,discount_end,hit_and_run,account_id,client_id,rule_id,save_path,tags,created_at,updated_at`

func scanItem(rs rowScanner) (*data.Item, error) {
	var (
		it                 data.Item
		status, discount   string
		end, rule          sql.NullInt64
		tags               string
		created, updatedAt int64
	)
	if err := rs.Scan(&it.ID, &it.TorrentID, &it.InfoHash, &it.Title, &it.Size, &status, &discount,
		&end, &it.HitAndRun, &it.AccountID, &it.ClientID, &rule, &it.SavePath, &tags, &created, &updatedAt); err != nil {
		return nil, err
	}
	it.Status = data.ItemStatus(status)
	it.Discount = data.DiscountKind(discount)
	it.DiscountEnd = timePtr(end)
	if rule.Valid {
		r := rule.Int64
		it.RuleID = &r
	}
	if tags != "" {
		_ = json.Unmarshal([]byte(tags), &it.Tags)
	}
	it.CreatedAt = fromMillis(created)
	it.UpdatedAt = fromMillis(updatedAt)
	return &it, nil
}

func tagsJSON(tags []string) string {
	if len(tags) == 0 {
		return "[]"
	}
	b, _ := json.Marshal(tags)
	return string(b)
}

func nullInt(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func (s *SQLStore) GetItem(ctx context.Context, id int64) (*data.Item, error) {
	row := s.db.QueryRowContext(ctx, s.q(`SELECT `+itemCols+` FROM items WHERE id=?`), id)
	it, err := scanItem(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, data.ErrNotFound
		}
		return nil, err
	}
	return it, nil
}

func itemWhere(f data.ItemFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if len(f.Statuses) > 0 {
		ph := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			ph[i] = "?"
			args = append(args, string(st))
		}
		conds = append(conds, "status IN ("+strings.Join(ph, ",")+")")
	}
	if f.ClientID != 0 {
		conds = append(conds, "client_id=?")
		args = append(args, f.ClientID)
	}
	if f.RuleID != 0 {
		conds = append(conds, "rule_id=?")
		args = append(args, f.RuleID)
	}
	if f.HasHash {
		conds = append(conds, "info_hash<>''")
	}
	if f.HasDeadline || f.DeadlineBefore != nil {
		conds = append(conds, "discount_end IS NOT NULL")
	}
	if f.DeadlineBefore != nil {
		conds = append(conds, "discount_end<?")
		args = append(args, millis(*f.DeadlineBefore))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (s *SQLStore) ListItems(ctx context.Context, f data.ItemFilter) (data.Items, error) {
	where, args := itemWhere(f)
	rows, err := s.db.QueryContext(ctx, s.q(`SELECT `+itemCols+` FROM items`+where+` ORDER BY created_at ASC, id ASC`), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(data.Items, 0)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (s *SQLStore) CountItems(ctx context.Context, f data.ItemFilter) (int, error) {
	where, args := itemWhere(f)
	var n int
	err := s.db.QueryRowContext(ctx, s.q(`SELECT COUNT(*) FROM items`+where), args...).Scan(&n)
	return n, err
}

func (s *SQLStore) TorrentIDs(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT torrent_id FROM items WHERE torrent_id<>''`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = struct{}{}
	}
	return out, rows.Err()
}

func (s *SQLStore) AddItem(ctx context.Context, it *data.Item) (*data.Item, error) {
	now := s.now()
	created := it.CreatedAt
	if created.IsZero() {
		created = now
	}
	var id int64
	err := s.db.QueryRowContext(ctx, s.q(`INSERT INTO items (torrent_id,info_hash,title,size,status,discount,discount_end,hit_and_run,account_id,client_id,rule_id,save_path,tags,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?) RETURNING id`),
		it.TorrentID, data.NormalizeHash(it.InfoHash), it.Title, it.Size, string(it.Status), string(it.Discount),
		nullMillis(it.DiscountEnd), it.HitAndRun, it.AccountID, it.ClientID, nullInt(it.RuleID), it.SavePath,
		tagsJSON(it.Tags), millis(created), millis(now)).Scan(&id)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, data.ErrConflict
		}
		return nil, err
	}
	return s.GetItem(ctx, id)
}

// UpdateItem serializes writers per row with SELECT ... FOR UPDATE on
// Postgres; sqlite runs on a single connection so the transaction is exclusive.
func (s *SQLStore) UpdateItem(ctx context.Context, id int64, mutate func(*data.Item) error) (*data.Item, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	lock := ""
	if s.dialect == DialectPostgres {
		lock = " FOR UPDATE"
	}
	cur, err := scanItem(tx.QueryRowContext(ctx, s.q(`SELECT `+itemCols+` FROM items WHERE id=?`+lock), id))
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
	next.InfoHash = data.NormalizeHash(next.InfoHash)

	if _, err := tx.ExecContext(ctx, s.q(`UPDATE items SET torrent_id=?,info_hash=?,title=?,size=?,status=?,discount=?,discount_end=?,hit_and_run=?,account_id=?,client_id=?,rule_id=?,save_path=?,tags=?,updated_at=? WHERE id=?`),
		next.TorrentID, next.InfoHash, next.Title, next.Size, string(next.Status), string(next.Discount),
		nullMillis(next.DiscountEnd), next.HitAndRun, next.AccountID, next.ClientID, nullInt(next.RuleID),
		next.SavePath, tagsJSON(next.Tags), millis(next.UpdatedAt), id); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return next, nil
}
