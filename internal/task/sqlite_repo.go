package task

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"ticklist/internal/model"
)

const sqliteTimeLayout = time.RFC3339Nano

// SQLiteRepo stores tasks in a SQLite database, one row per task keyed by owner.
type SQLiteRepo struct {
	db     *sql.DB
	userID string
	now    func() time.Time
}

func OpenSQLiteRepo(dbPath string) (*SQLiteRepo, error) {
	if dbPath == "" {
		return nil, errors.New("db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, err
	}
	db, err := sql.Open("sqlite", sqliteDSN(dbPath))
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	r := &SQLiteRepo{db: db, userID: defaultUser, now: time.Now}
	if err := r.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return r, nil
}

func (r *SQLiteRepo) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}

// Snapshot writes a consistent copy of the whole database to dst, which must not exist.
func (r *SQLiteRepo) Snapshot(ctx context.Context, dst string) error {
	if _, err := os.Stat(dst); err == nil {
		return fmt.Errorf("snapshot target %s already exists", dst)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `VACUUM INTO ?`, dst)
	return err
}

func (r *SQLiteRepo) ensureSchema() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	completed INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	due_date TEXT DEFAULT NULL,
	category TEXT NOT NULL DEFAULT '',
	tags TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS tasks_user_created ON tasks (user_id, created_at);`
	_, err := r.db.Exec(ddl)
	return err
}

func (r *SQLiteRepo) ForUser(userID string) Repo {
	return &SQLiteRepo{db: r.db, userID: scopeUser(userID), now: r.now}
}

func (r *SQLiteRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

const taskColumns = `id, title, description, completed, created_at, updated_at, due_date, category, tags`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (model.Task, error) {
	var (
		t                model.Task
		completed        int
		created, updated string
		due              sql.NullString
		tagsJSON         string
	)
	if err := row.Scan(&t.ID, &t.Title, &t.Description, &completed, &created, &updated, &due, &t.Category, &tagsJSON); err != nil {
		return model.Task{}, err
	}
	t.Completed = completed == 1
	var err error
	if t.CreatedAt, err = time.Parse(sqliteTimeLayout, created); err != nil {
		return model.Task{}, err
	}
	if t.UpdatedAt, err = time.Parse(sqliteTimeLayout, updated); err != nil {
		return model.Task{}, err
	}
	if due.Valid {
		d, err := time.Parse(sqliteTimeLayout, due.String)
		if err != nil {
			return model.Task{}, err
		}
		t.DueDate = &d
	}
	if err := json.Unmarshal([]byte(tagsJSON), &t.Tags); err != nil {
		return model.Task{}, err
	}
	model.Normalize(&t)
	return t, nil
}

type taskRow struct {
	completed int
	created   string
	updated   string
	due       sql.NullString
	tags      string
}

func encodeRow(t model.Task) (taskRow, error) {
	tags, err := json.Marshal(t.Tags)
	if err != nil {
		return taskRow{}, err
	}
	row := taskRow{
		created: t.CreatedAt.UTC().Format(sqliteTimeLayout),
		updated: t.UpdatedAt.UTC().Format(sqliteTimeLayout),
		tags:    string(tags),
	}
	if t.Completed {
		row.completed = 1
	}
	if t.DueDate != nil {
		row.due = sql.NullString{String: t.DueDate.UTC().Format(sqliteTimeLayout), Valid: true}
	}
	return row, nil
}

func (r *SQLiteRepo) Create(ctx context.Context, t model.Task) (model.Task, error) {
	t = t.Clone()
	prepareCreate(&t, r.now())
	row, err := encodeRow(t)
	if err != nil {
		return model.Task{}, err
	}
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO tasks (id, user_id, title, description, completed, created_at, updated_at, due_date, category, tags)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		t.ID, r.userID, t.Title, t.Description, row.completed, row.created, row.updated, row.due, t.Category, row.tags)
	if err != nil {
		return model.Task{}, err
	}
	return t, nil
}

func (r *SQLiteRepo) Get(ctx context.Context, id string) (model.Task, error) {
	return r.get(ctx, r.db, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *SQLiteRepo) get(ctx context.Context, q queryer, id string) (model.Task, error) {
	row := q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE user_id = ? AND id = ?;`, r.userID, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Task{}, ErrNotFound
	}
	return t, err
}

func (r *SQLiteRepo) Update(ctx context.Context, id string, p model.Patch) (model.Task, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Task{}, err
	}
	defer tx.Rollback()

	t, err := r.get(ctx, tx, id)
	if err != nil {
		return model.Task{}, err
	}
	applyUpdate(&t, p, r.now())
	row, err := encodeRow(t)
	if err != nil {
		return model.Task{}, err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE tasks SET title = ?, description = ?, completed = ?, updated_at = ?, due_date = ?, category = ?, tags = ?
		 WHERE user_id = ? AND id = ?;`,
		t.Title, t.Description, row.completed, row.updated, row.due, t.Category, row.tags, r.userID, id)
	if err != nil {
		return model.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Task{}, err
	}
	return t, nil
}

func (r *SQLiteRepo) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE user_id = ? AND id = ?;`, r.userID, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLiteRepo) List(ctx context.Context) ([]model.Task, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE user_id = ?;`, r.userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Task{}
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	newestFirst(out)
	return out, nil
}

func sqliteDSN(path string) string {
	if strings.HasPrefix(path, "file:") {
		return path
	}
	abs, err := filepath.Abs(path)
	if err == nil {
		path = abs
	}
	u := url.URL{
		Scheme: "file",
		Path:   path,
	}
	q := u.Query()
	q.Set("mode", "rwc")
	q.Set("_pragma", "busy_timeout(5000)")
	u.RawQuery = q.Encode()
	return u.String()
}
