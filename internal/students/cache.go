package students

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Directory は学籍番号から学生を引く（貸出・返却処理からは読み取り専用）
type Directory interface {
	Lookup(ctx context.Context, studentNo string) (*Student, error)
}

// redis.Client のうち使う分だけ
type kv interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// Cached は Redis を前段に置いた cache-aside な Directory。
// Redis 障害時は next にそのまま流す。
type Cached struct {
	next Directory
	rdb  kv
	ttl  time.Duration
	log  *slog.Logger
}

func NewCached(next Directory, rdb kv, ttl time.Duration, log *slog.Logger) *Cached {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Cached{next: next, rdb: rdb, ttl: ttl, log: log}
}

// キャッシュ用の表現（sql.Null* は JSON にそのまま載らない）
type cachedStudent struct {
	StudentNo string    `json:"student_no"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Program   *string   `json:"program,omitempty"`
	Year      *string   `json:"year,omitempty"`
	Section   *string   `json:"section,omitempty"`
	ImagePath *string   `json:"image_path,omitempty"`
	Email     *string   `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

func cacheKey(studentNo string) string { return "libris:student:" + studentNo }

func (c *Cached) Lookup(ctx context.Context, studentNo string) (*Student, error) {
	key := cacheKey(studentNo)

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cs cachedStudent
		if jerr := json.Unmarshal(raw, &cs); jerr == nil {
			return cs.toStudent(), nil
		}
		c.log.WarnContext(ctx, "壊れたキャッシュを破棄", "key", key)
	case !errors.Is(err, redis.Nil):
		c.log.WarnContext(ctx, "redis get failed", "key", key, "err", err)
	}

	st, err := c.next.Lookup(ctx, studentNo)
	if err != nil {
		return nil, err
	}

	buf, err := json.Marshal(fromStudent(st))
	if err == nil {
		if serr := c.rdb.Set(ctx, key, buf, c.ttl).Err(); serr != nil {
			c.log.WarnContext(ctx, "redis set failed", "key", key, "err", serr)
		}
	}
	return st, nil
}

func (c *Cached) Invalidate(ctx context.Context, studentNo string) {
	if err := c.rdb.Del(ctx, cacheKey(studentNo)).Err(); err != nil {
		c.log.WarnContext(ctx, "redis del failed", "student_no", studentNo, "err", err)
	}
}

func fromStudent(s *Student) cachedStudent {
	r := toResponse(s)
	return cachedStudent(r)
}

func (cs cachedStudent) toStudent() *Student {
	return &Student{
		StudentNo: cs.StudentNo,
		FirstName: cs.FirstName,
		LastName:  cs.LastName,
		Program:   nullStr(cs.Program),
		Year:      nullStr(cs.Year),
		Section:   nullStr(cs.Section),
		ImagePath: nullStr(cs.ImagePath),
		Email:     nullStr(cs.Email),
		CreatedAt: cs.CreatedAt,
	}
}

func nullStr(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}
