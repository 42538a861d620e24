package audit

import (
	"context"
	"database/sql"
	"strings"
)

// Sink は Event の書き込み先
type Sink interface {
	Append(ctx context.Context, e Event) error
}

type Store struct {
	db *sql.DB
}

var _ Sink = (*Store)(nil)

func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Append(ctx context.Context, e Event) error {
	const q = `
	INSERT INTO activity_logs (action, details, user_id, client, created_at)
	VALUES (?, ?, ?, ?, ?)`
	_, err := s.db.ExecContext(ctx, q, e.Action, e.Details, strOrNil(e.UserID), strOrNil(e.Client), e.Timestamp.UTC())
	return err
}

func (s *Store) List(ctx context.Context, f Filter, p Page) ([]LogResponse, int64, error) {
	var (
		wheres []string
		args   []any
	)
	if f.Action != "" {
		wheres = append(wheres, "action = ?")
		args = append(args, f.Action)
	}
	if f.UserID != "" {
		wheres = append(wheres, "user_id = ?")
		args = append(args, f.UserID)
	}
	if f.From != nil {
		wheres = append(wheres, "created_at >= ?")
		args = append(args, f.From.UTC())
	}
	if f.To != nil {
		wheres = append(wheres, "created_at < ?")
		args = append(args, f.To.UTC())
	}
	where := ""
	if len(wheres) > 0 {
		where = " WHERE " + strings.Join(wheres, " AND ")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT log_id, action, details, user_id, client, created_at FROM activity_logs`+where+
			` ORDER BY created_at DESC, log_id DESC LIMIT ? OFFSET ?`,
		append(args, p.Limit, p.Offset)...,
	)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []LogResponse
	for rows.Next() {
		var (
			r      LogResponse
			user   sql.NullString
			client sql.NullString
		)
		if err := rows.Scan(&r.LogID, &r.Action, &r.Details, &user, &client, &r.CreatedAt); err != nil {
			return nil, 0, err
		}
		if user.Valid {
			r.UserID = &user.String
		}
		if client.Valid {
			r.Client = &client.String
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM activity_logs`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func strOrNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}
