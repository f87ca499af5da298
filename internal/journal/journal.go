// Package journal keeps a queryable history of uevents in SQLite.
//
// The journal records what the bus announced. It is never read back to
// rebuild bus state.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/vbus/internal/uevent"
)

// Page size limits for List.
const (
	DefaultLimit = 50
	MaxLimit     = 500
)

// ErrInvalidFilter is returned when a filter names an unknown action.
var ErrInvalidFilter = errors.New("journal: invalid filter")

// Entry is one journalled uevent.
type Entry struct {
	ID        string        `json:"id"`
	Seq       uint64        `json:"seq"`
	Action    uevent.Action `json:"action"`
	Bus       string        `json:"bus"`
	Device    string        `json:"device"`
	Driver    string        `json:"driver,omitempty"`
	Env       []string      `json:"env"`
	CreatedAt time.Time     `json:"created_at"`
}

// Filter selects journal entries. Zero fields match everything.
type Filter struct {
	Bus      string
	Device   string
	Driver   string
	Action   uevent.Action
	AfterSeq uint64 // only entries with seq > AfterSeq
	Limit    int    // default DefaultLimit, capped at MaxLimit
	Offset   int
}

// ListResult is a page of entries, newest first.
type ListResult struct {
	Entries []Entry `json:"entries"`
	Total   int     `json:"total"`
	Limit   int     `json:"limit"`
	Offset  int     `json:"offset"`
}

// Repository stores and queries journal entries.
type Repository interface {
	Record(ctx context.Context, ev uevent.Event) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository implements Repository on the bus_events table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a repository on an already migrated database.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Record inserts ev. A zero event ID is replaced with a fresh UUID and a
// zero timestamp with the current time.
func (r *SQLiteRepository) Record(ctx context.Context, ev uevent.Event) error {
	id := ev.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	env := ev.Env
	if env == nil {
		env = []string{}
	}
	envJSON, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshalling event env: %w", err)
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO bus_events (id, seq, action, bus, device, driver, env, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id.String(), int64(ev.Seq), string(ev.Action), ev.Bus, ev.Device, //nolint:gosec // seq fits int64
		nullableString(ev.Driver), string(envJSON),
		ts.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting journal entry: %w", err)
	}
	return nil
}

// List returns entries matching filter, newest first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	filter, err := normalise(filter)
	if err != nil {
		return nil, err
	}

	where, args := filter.where()

	var total int
	countQuery := "SELECT COUNT(*) FROM bus_events " + where //nolint:gosec // WHERE holds only placeholders
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting journal entries: %w", err)
	}

	query := "SELECT id, seq, action, bus, device, driver, env, created_at FROM bus_events " + //nolint:gosec // WHERE holds only placeholders
		where + " ORDER BY seq DESC, created_at DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying journal: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating journal: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}

func normalise(f Filter) (Filter, error) {
	switch f.Action {
	case "", uevent.ActionAdd, uevent.ActionRemove, uevent.ActionBind, uevent.ActionUnbind:
	default:
		return f, fmt.Errorf("%w: action %q", ErrInvalidFilter, f.Action)
	}
	if f.Limit <= 0 {
		f.Limit = DefaultLimit
	}
	if f.Limit > MaxLimit {
		f.Limit = MaxLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f, nil
}

func (f Filter) where() (string, []any) {
	var conditions []string
	var args []any

	add := func(cond string, v any) {
		conditions = append(conditions, cond)
		args = append(args, v)
	}
	if f.Bus != "" {
		add("bus = ?", f.Bus)
	}
	if f.Device != "" {
		add("device = ?", f.Device)
	}
	if f.Driver != "" {
		add("driver = ?", f.Driver)
	}
	if f.Action != "" {
		add("action = ?", string(f.Action))
	}
	if f.AfterSeq > 0 {
		add("seq > ?", int64(f.AfterSeq)) //nolint:gosec // seq fits int64
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e         Entry
		seq       int64
		action    string
		driver    sql.NullString
		envJSON   string
		createdAt string
	)
	if err := rows.Scan(&e.ID, &seq, &action, &e.Bus, &e.Device, &driver, &envJSON, &createdAt); err != nil {
		return Entry{}, fmt.Errorf("scanning journal entry: %w", err)
	}

	e.Seq = uint64(seq) //nolint:gosec // written from a uint64
	e.Action = uevent.Action(action)
	e.Driver = driver.String
	if err := json.Unmarshal([]byte(envJSON), &e.Env); err != nil {
		return Entry{}, fmt.Errorf("decoding env of %s: %w", e.ID, err)
	}

	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Entry{}, fmt.Errorf("parsing journal timestamp %q: %w", createdAt, err)
	}
	e.CreatedAt = t
	return e, nil
}

// nullableString maps "" to SQL NULL.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
