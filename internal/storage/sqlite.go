package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"crosspost/internal/content"
	logx "crosspost/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

// Open initializes the SQLite store at cfg.Path.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	path := cfg.Path
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	// Basic pragmas.
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("storage opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

const postColumns = "id, text, media, platforms, status, due_time, published_time, results, created_at, updated_at"

func (s *sqliteStore) Create(ctx context.Context, p *content.Post) error {
	if p == nil {
		return errors.New("nil post")
	}
	if strings.TrimSpace(p.ID) == "" {
		p.ID = uuid.NewString()
	}
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.Status == "" {
		p.Status = content.StatusDraft
	}
	if !p.Status.Valid() {
		return fmt.Errorf("invalid status %q", p.Status)
	}

	media, err := jsonOrNull(p.Media)
	if err != nil {
		return err
	}
	pls := p.Platforms
	if pls == nil {
		pls = []content.Platform{}
	}
	platforms, err := json.Marshal(pls)
	if err != nil {
		return err
	}
	results, err := jsonOrNull(p.Results)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO posts(`+postColumns+`) VALUES(?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Text, media, string(platforms), string(p.Status),
		msOrNull(p.DueTime), msOrNull(p.PublishedTime), results,
		p.CreatedAt.UnixMilli(), p.UpdatedAt.UnixMilli(),
	)
	return err
}

func (s *sqliteStore) Get(ctx context.Context, id string) (*content.Post, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+postColumns+` FROM posts WHERE id = ?`, id)
	p, err := scanPost(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (s *sqliteStore) GetByStatus(ctx context.Context, status content.Status) ([]*content.Post, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+postColumns+` FROM posts WHERE status = ? ORDER BY due_time, created_at`,
		string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPosts(rows)
}

func (s *sqliteStore) GetByStatusAndTimeRange(ctx context.Context, status content.Status, from, to time.Time) ([]*content.Post, error) {
	// Inclusive bounds on both ends of the window.
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+postColumns+` FROM posts
		 WHERE status = ? AND due_time IS NOT NULL AND due_time >= ? AND due_time <= ?
		 ORDER BY due_time`,
		string(status), from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPosts(rows)
}

func (s *sqliteStore) Update(ctx context.Context, id string, fields UpdateFields) error {
	if fields.IsZero() {
		return nil
	}

	sets := make([]string, 0, 6)
	args := make([]any, 0, 7)

	if fields.Text != nil {
		sets = append(sets, "text = ?")
		args = append(args, *fields.Text)
	}
	if fields.Status != nil {
		if !fields.Status.Valid() {
			return fmt.Errorf("invalid status %q", *fields.Status)
		}
		sets = append(sets, "status = ?")
		args = append(args, string(*fields.Status))

		// Reaching published stamps the publish time unless the caller
		// provided one in the same update.
		if *fields.Status == content.StatusPublished && fields.PublishedTime == nil {
			now := time.Now()
			fields.PublishedTime = &now
		}
	}
	if fields.DueTime != nil {
		sets = append(sets, "due_time = ?")
		args = append(args, fields.DueTime.UnixMilli())
	}
	if fields.PublishedTime != nil {
		sets = append(sets, "published_time = ?")
		args = append(args, fields.PublishedTime.UnixMilli())
	}
	if fields.Results != nil {
		b, err := json.Marshal(fields.Results)
		if err != nil {
			return err
		}
		sets = append(sets, "results = ?")
		args = append(args, string(b))
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UnixMilli())
	args = append(args, id)

	res, err := s.db.ExecContext(ctx,
		`UPDATE posts SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) AppendMetric(ctx context.Context, postID string, platform content.Platform, snap content.MetricSnapshot) error {
	at := snap.CollectedAt
	if at.IsZero() {
		at = time.Now()
	}
	values := snap.Values
	if values == nil {
		values = map[string]int64{}
	}
	b, err := json.Marshal(values)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO metrics(post_id, platform, metrics, collected_at) VALUES(?,?,?,?)`,
		postID, string(platform), string(b), at.UnixMilli())
	return err
}

func (s *sqliteStore) ListMetrics(ctx context.Context, postID string, platform content.Platform) ([]content.MetricSnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT metrics, collected_at FROM metrics
		 WHERE post_id = ? AND platform = ? ORDER BY collected_at, seq`,
		postID, string(platform))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []content.MetricSnapshot
	for rows.Next() {
		var raw string
		var ms int64
		if err := rows.Scan(&raw, &ms); err != nil {
			return nil, err
		}
		var values map[string]int64
		if err := json.Unmarshal([]byte(raw), &values); err != nil {
			return nil, fmt.Errorf("metrics row for %s/%s: %w", postID, platform, err)
		}
		out = append(out, content.MetricSnapshot{Values: values, CollectedAt: time.UnixMilli(ms)})
	}
	return out, rows.Err()
}

func (s *sqliteStore) PruneMetrics(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM metrics WHERE collected_at < ?`, olderThan.UnixMilli())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *sqliteStore) CountByStatus(ctx context.Context) (map[content.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM posts GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[content.Status]int{}
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, err
		}
		out[content.Status(st)] = n
	}
	return out, rows.Err()
}

// ---- scanning helpers ----

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPost(r rowScanner) (*content.Post, error) {
	var (
		p         content.Post
		media     sql.NullString
		platforms string
		status    string
		due       sql.NullInt64
		published sql.NullInt64
		results   sql.NullString
		createdMS int64
		updatedMS int64
	)
	err := r.Scan(&p.ID, &p.Text, &media, &platforms, &status,
		&due, &published, &results, &createdMS, &updatedMS)
	if err != nil {
		return nil, err
	}

	p.Status = content.Status(status)
	p.CreatedAt = time.UnixMilli(createdMS)
	p.UpdatedAt = time.UnixMilli(updatedMS)
	if due.Valid {
		t := time.UnixMilli(due.Int64)
		p.DueTime = &t
	}
	if published.Valid {
		t := time.UnixMilli(published.Int64)
		p.PublishedTime = &t
	}
	if err := json.Unmarshal([]byte(platforms), &p.Platforms); err != nil {
		return nil, fmt.Errorf("platforms column for %s: %w", p.ID, err)
	}
	if media.Valid && media.String != "" {
		if err := json.Unmarshal([]byte(media.String), &p.Media); err != nil {
			return nil, fmt.Errorf("media column for %s: %w", p.ID, err)
		}
	}
	if results.Valid && results.String != "" {
		if err := json.Unmarshal([]byte(results.String), &p.Results); err != nil {
			return nil, fmt.Errorf("results column for %s: %w", p.ID, err)
		}
	}
	return &p, nil
}

func collectPosts(rows *sql.Rows) ([]*content.Post, error) {
	var out []*content.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func jsonOrNull(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(b)
	if s == "null" {
		return nil, nil
	}
	return s, nil
}

func msOrNull(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}
