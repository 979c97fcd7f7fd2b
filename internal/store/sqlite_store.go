package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"omniavatar/server/internal/model"

	"github.com/google/uuid"
	"github.com/pressly/goose/v3"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

//go:embed migrations/*.sql
var migrations embed.FS

type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLite opens the database at path and runs migrations. ":memory:" gives a
// private in-memory database.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	if path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// A single connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func runMigrations(db *sql.DB) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("goose up: %w", err)
	}
	return nil
}

// DB exposes the handle so other packages can keep their tables in the same
// database.
func (s *SQLiteStore) DB() *sql.DB { return s.db }

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func sqliteCode(err error) int {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code()
	}
	return 0
}

// mapWriteErr turns constraint failures into the package sentinels.
func mapWriteErr(err error) error {
	if sqliteCode(err)&0xff != sqlite3.SQLITE_CONSTRAINT {
		return err
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE"), strings.Contains(msg, "PRIMARY KEY"):
		return ErrConflict
	case strings.Contains(msg, "FOREIGN KEY"):
		return ErrNotFound
	case strings.Contains(msg, "CHECK"):
		return ErrInsufficientCredits
	}
	return err
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

const accountColumns = `id, email, full_name, avatar_url, password_hash, role, subscription_tier,
	subscription_status, billing_cycle, current_period_end, cancel_at_period_end, credits_remaining,
	created_at, updated_at`

func scanAccount(row rowScanner) (model.Account, error) {
	var a model.Account
	var periodEnd, created, updated int64
	err := row.Scan(&a.ID, &a.Email, &a.FullName, &a.AvatarURL, &a.PasswordHash, &a.Role,
		&a.SubscriptionTier, &a.SubscriptionStatus, &a.BillingCycle, &periodEnd, &a.CancelAtPeriodEnd,
		&a.CreditsRemaining, &created, &updated)
	if err != nil {
		return model.Account{}, err
	}
	a.CurrentPeriodEnd = fromNanos(periodEnd)
	a.CreatedAt = fromNanos(created)
	a.UpdatedAt = fromNanos(updated)
	return a, nil
}

func (s *SQLiteStore) CreateAccount(ctx context.Context, a model.Account) (model.Account, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO accounts (`+accountColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Email, a.FullName, a.AvatarURL, a.PasswordHash, a.Role, a.SubscriptionTier,
		a.SubscriptionStatus, a.BillingCycle, toNanos(a.CurrentPeriodEnd), a.CancelAtPeriodEnd,
		a.CreditsRemaining, toNanos(a.CreatedAt), toNanos(a.UpdatedAt),
	)
	if err != nil {
		return model.Account{}, fmt.Errorf("create account: %w", mapWriteErr(err))
	}
	return a, nil
}

func (s *SQLiteStore) GetAccount(ctx context.Context, id string) (model.Account, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Account{}, ErrNotFound
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("get account %s: %w", id, err)
	}
	return a, nil
}

func (s *SQLiteStore) GetAccountByEmail(ctx context.Context, email string) (model.Account, error) {
	a, err := scanAccount(s.db.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE email = ?`, email))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Account{}, ErrNotFound
	}
	if err != nil {
		return model.Account{}, fmt.Errorf("get account by email: %w", err)
	}
	return a, nil
}

func (s *SQLiteStore) AdjustCredits(ctx context.Context, accountID string, delta int) (model.Account, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET credits_remaining = credits_remaining + ?, updated_at = ?
		 WHERE id = ? AND credits_remaining + ? >= 0`,
		delta, toNanos(s.now().UTC()), accountID, delta,
	)
	if err != nil {
		return model.Account{}, fmt.Errorf("adjust credits %s: %w", accountID, mapWriteErr(err))
	}
	if err := expectOne(res); err != nil {
		if _, getErr := s.GetAccount(ctx, accountID); getErr != nil {
			return model.Account{}, getErr
		}
		return model.Account{}, ErrInsufficientCredits
	}
	return s.GetAccount(ctx, accountID)
}

func (s *SQLiteStore) UpdateSubscription(ctx context.Context, accountID string, sub Subscription) (model.Account, error) {
	// COALESCE keeps the stored balance when no new allotment is given.
	var credits sql.NullInt64
	if sub.Credits != nil {
		credits = sql.NullInt64{Int64: int64(*sub.Credits), Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE accounts SET subscription_tier = ?, subscription_status = ?, billing_cycle = ?,
		 current_period_end = ?, cancel_at_period_end = ?,
		 credits_remaining = COALESCE(?, credits_remaining), updated_at = ?
		 WHERE id = ?`,
		sub.Tier, sub.Status, sub.Cycle, toNanos(sub.CurrentPeriodEnd), sub.CancelAtPeriodEnd,
		credits, toNanos(sub.UpdatedAt), accountID,
	)
	if err != nil {
		return model.Account{}, fmt.Errorf("update subscription %s: %w", accountID, mapWriteErr(err))
	}
	if err := expectOne(res); err != nil {
		return model.Account{}, err
	}
	return s.GetAccount(ctx, accountID)
}

func (s *SQLiteStore) ListAccounts(ctx context.Context) ([]model.Account, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []model.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const avatarColumns = `a.id, a.user_id, a.name, a.description, a.method, a.source_data, a.avatar_url,
	a.thumbnail_url, a.style, a.gender, a.age_range, a.is_public, a.status, a.job_id,
	(SELECT COUNT(*) FROM videos v WHERE v.avatar_id = a.id), a.created_at, a.updated_at`

func scanAvatar(row rowScanner) (model.Avatar, error) {
	var a model.Avatar
	var created, updated int64
	err := row.Scan(&a.ID, &a.UserID, &a.Name, &a.Description, &a.Method, &a.SourceData, &a.AvatarURL,
		&a.ThumbnailURL, &a.Style, &a.Gender, &a.AgeRange, &a.IsPublic, &a.Status, &a.JobID,
		&a.VideoCount, &created, &updated)
	if err != nil {
		return model.Avatar{}, err
	}
	a.CreatedAt = fromNanos(created)
	a.UpdatedAt = fromNanos(updated)
	return a, nil
}

func (s *SQLiteStore) CreateAvatar(ctx context.Context, a model.Avatar) (model.Avatar, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO avatars (id, user_id, name, description, method, source_data, avatar_url,
		 thumbnail_url, style, gender, age_range, is_public, status, job_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.Name, a.Description, a.Method, a.SourceData, a.AvatarURL, a.ThumbnailURL,
		a.Style, a.Gender, a.AgeRange, a.IsPublic, a.Status, a.JobID, toNanos(a.CreatedAt), toNanos(a.UpdatedAt),
	)
	if err != nil {
		return model.Avatar{}, fmt.Errorf("create avatar: %w", mapWriteErr(err))
	}
	a.VideoCount = 0
	return a, nil
}

func (s *SQLiteStore) GetAvatar(ctx context.Context, id string) (model.Avatar, error) {
	a, err := scanAvatar(s.db.QueryRowContext(ctx, `SELECT `+avatarColumns+` FROM avatars a WHERE a.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Avatar{}, ErrNotFound
	}
	if err != nil {
		return model.Avatar{}, fmt.Errorf("get avatar %s: %w", id, err)
	}
	return a, nil
}

func (s *SQLiteStore) UpdateAvatar(ctx context.Context, a model.Avatar) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE avatars SET name = ?, description = ?, source_data = ?, avatar_url = ?, thumbnail_url = ?,
		 style = ?, gender = ?, age_range = ?, is_public = ?, status = ?, job_id = ?, updated_at = ?
		 WHERE id = ?`,
		a.Name, a.Description, a.SourceData, a.AvatarURL, a.ThumbnailURL, a.Style, a.Gender, a.AgeRange,
		a.IsPublic, a.Status, a.JobID, toNanos(a.UpdatedAt), a.ID,
	)
	if err != nil {
		return fmt.Errorf("update avatar %s: %w", a.ID, err)
	}
	return expectOne(res)
}

func (s *SQLiteStore) ListAvatars(ctx context.Context, userID string) ([]model.Avatar, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+avatarColumns+` FROM avatars a WHERE a.user_id = ? ORDER BY a.created_at DESC, a.id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list avatars: %w", err)
	}
	defer rows.Close()

	var out []model.Avatar
	for rows.Next() {
		a, err := scanAvatar(rows)
		if err != nil {
			return nil, fmt.Errorf("scan avatar: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const videoColumns = `id, user_id, avatar_id, title, description, script, voice_id, voice_speed,
	voice_pitch, quality, duration_seconds, credits_charged, status, video_url, thumbnail_url,
	view_count, is_public, job_id, created_at, updated_at`

func scanVideo(row rowScanner) (model.Video, error) {
	var v model.Video
	var created, updated int64
	err := row.Scan(&v.ID, &v.UserID, &v.AvatarID, &v.Title, &v.Description, &v.Script,
		&v.VoiceSettings.VoiceID, &v.VoiceSettings.Speed, &v.VoiceSettings.Pitch, &v.Quality,
		&v.DurationSeconds, &v.CreditsCharged, &v.Status, &v.VideoURL, &v.ThumbnailURL,
		&v.ViewCount, &v.IsPublic, &v.JobID, &created, &updated)
	if err != nil {
		return model.Video{}, err
	}
	v.CreatedAt = fromNanos(created)
	v.UpdatedAt = fromNanos(updated)
	return v, nil
}

func (s *SQLiteStore) CreateVideo(ctx context.Context, v model.Video) (model.Video, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO videos (`+videoColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.UserID, v.AvatarID, v.Title, v.Description, v.Script, v.VoiceSettings.VoiceID,
		v.VoiceSettings.Speed, v.VoiceSettings.Pitch, v.Quality, v.DurationSeconds, v.CreditsCharged,
		v.Status, v.VideoURL, v.ThumbnailURL, v.ViewCount, v.IsPublic, v.JobID,
		toNanos(v.CreatedAt), toNanos(v.UpdatedAt),
	)
	if err != nil {
		return model.Video{}, fmt.Errorf("create video: %w", mapWriteErr(err))
	}
	return v, nil
}

func (s *SQLiteStore) GetVideo(ctx context.Context, id string) (model.Video, error) {
	v, err := scanVideo(s.db.QueryRowContext(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Video{}, ErrNotFound
	}
	if err != nil {
		return model.Video{}, fmt.Errorf("get video %s: %w", id, err)
	}
	return v, nil
}

func (s *SQLiteStore) UpdateVideo(ctx context.Context, v model.Video) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE videos SET title = ?, description = ?, script = ?, voice_id = ?, voice_speed = ?,
		 voice_pitch = ?, quality = ?, duration_seconds = ?, credits_charged = ?, status = ?,
		 video_url = ?, thumbnail_url = ?, view_count = ?, is_public = ?, job_id = ?, updated_at = ?
		 WHERE id = ?`,
		v.Title, v.Description, v.Script, v.VoiceSettings.VoiceID, v.VoiceSettings.Speed,
		v.VoiceSettings.Pitch, v.Quality, v.DurationSeconds, v.CreditsCharged, v.Status, v.VideoURL,
		v.ThumbnailURL, v.ViewCount, v.IsPublic, v.JobID, toNanos(v.UpdatedAt), v.ID,
	)
	if err != nil {
		return fmt.Errorf("update video %s: %w", v.ID, err)
	}
	return expectOne(res)
}

func (s *SQLiteStore) ListVideos(ctx context.Context, userID string) ([]model.Video, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+videoColumns+` FROM videos WHERE user_id = ? ORDER BY created_at DESC, id`, userID)
	if err != nil {
		return nil, fmt.Errorf("list videos: %w", err)
	}
	defer rows.Close()

	var out []model.Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, fmt.Errorf("scan video: %w", err)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) IncrementVideoViews(ctx context.Context, id string) (model.Video, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE videos SET view_count = view_count + 1 WHERE id = ?`, id)
	if err != nil {
		return model.Video{}, fmt.Errorf("increment views %s: %w", id, err)
	}
	if err := expectOne(res); err != nil {
		return model.Video{}, err
	}
	return s.GetVideo(ctx, id)
}

const jobColumns = `id, kind, user_id, asset_id, status, progress, stage, credits, cancel_requested,
	attempt, max_attempt, error_code, error_message, retryable, trace_id, created_at, started_at, ended_at`

func scanJob(row rowScanner) (model.Job, error) {
	var j model.Job
	var created, started, ended int64
	err := row.Scan(&j.ID, &j.Kind, &j.UserID, &j.AssetID, &j.Status, &j.Progress, &j.Stage, &j.Credits,
		&j.CancelRequested, &j.Attempt, &j.MaxAttempt, &j.ErrorCode, &j.ErrorMessage, &j.Retryable,
		&j.TraceID, &created, &started, &ended)
	if err != nil {
		return model.Job{}, err
	}
	j.CreatedAt = fromNanos(created)
	j.StartedAt = fromNanos(started)
	j.EndedAt = fromNanos(ended)
	return j, nil
}

func (s *SQLiteStore) CreateJob(ctx context.Context, j model.Job) (model.Job, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.Kind, j.UserID, j.AssetID, j.Status, j.Progress, j.Stage, j.Credits, j.CancelRequested,
		j.Attempt, j.MaxAttempt, j.ErrorCode, j.ErrorMessage, j.Retryable, j.TraceID,
		toNanos(j.CreatedAt), toNanos(j.StartedAt), toNanos(j.EndedAt),
	)
	if err != nil {
		return model.Job{}, fmt.Errorf("create job: %w", mapWriteErr(err))
	}
	return j, nil
}

func (s *SQLiteStore) GetJob(ctx context.Context, id string) (model.Job, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Job{}, ErrNotFound
	}
	if err != nil {
		return model.Job{}, fmt.Errorf("get job %s: %w", id, err)
	}
	return j, nil
}

func (s *SQLiteStore) UpdateJob(ctx context.Context, j model.Job) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, progress = ?, stage = ?, credits = ?, cancel_requested = ?,
		 attempt = ?, max_attempt = ?, error_code = ?, error_message = ?, retryable = ?,
		 started_at = ?, ended_at = ?
		 WHERE id = ?`,
		j.Status, j.Progress, j.Stage, j.Credits, j.CancelRequested, j.Attempt, j.MaxAttempt,
		j.ErrorCode, j.ErrorMessage, j.Retryable, toNanos(j.StartedAt), toNanos(j.EndedAt), j.ID,
	)
	if err != nil {
		return fmt.Errorf("update job %s: %w", j.ID, err)
	}
	return expectOne(res)
}

func (s *SQLiteStore) ListJobs(ctx context.Context, statuses ...model.JobStatus) ([]model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs`
	args := make([]any, 0, len(statuses))
	if len(statuses) > 0 {
		query += ` WHERE status IN (?` + strings.Repeat(", ?", len(statuses)-1) + `)`
		for _, st := range statuses {
			args = append(args, st)
		}
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AppendJobEvent(ctx context.Context, jobID string, event model.JobEvent) (model.JobEvent, error) {
	payload, err := json.Marshal(event.Payload)
	if err != nil {
		return model.JobEvent{}, fmt.Errorf("encode event payload: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.JobEvent{}, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM jobs WHERE id = ?`, jobID).Scan(&exists); err != nil {
		return model.JobEvent{}, fmt.Errorf("check job %s: %w", jobID, err)
	}
	if exists == 0 {
		return model.JobEvent{}, ErrNotFound
	}
	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM job_events WHERE job_id = ?`, jobID,
	).Scan(&seq); err != nil {
		return model.JobEvent{}, fmt.Errorf("next event seq: %w", err)
	}

	event.Seq = seq
	event.JobID = jobID
	event.EventID = uuid.NewString()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO job_events (job_id, seq, event_id, trace_id, asset_id, type, ts, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		jobID, seq, event.EventID, event.TraceID, event.AssetID, event.Type, toNanos(event.TS), string(payload),
	); err != nil {
		return model.JobEvent{}, fmt.Errorf("insert event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return model.JobEvent{}, fmt.Errorf("commit event: %w", err)
	}
	return event, nil
}

func (s *SQLiteStore) ListJobEventsFromSeq(ctx context.Context, jobID string, fromSeq int64) ([]model.JobEvent, error) {
	if _, err := s.GetJob(ctx, jobID); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_id, seq, event_id, trace_id, asset_id, type, ts, payload
		 FROM job_events WHERE job_id = ? AND seq > ? ORDER BY seq`, jobID, fromSeq)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	out := []model.JobEvent{}
	for rows.Next() {
		var e model.JobEvent
		var ts int64
		var payload string
		if err := rows.Scan(&e.JobID, &e.Seq, &e.EventID, &e.TraceID, &e.AssetID, &e.Type, &ts, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.TS = fromNanos(ts)
		if err := json.Unmarshal([]byte(payload), &e.Payload); err != nil {
			return nil, fmt.Errorf("decode event payload: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) CreateInvoice(ctx context.Context, inv model.Invoice) (model.Invoice, error) {
	items, err := json.Marshal(inv.Items)
	if err != nil {
		return model.Invoice{}, fmt.Errorf("encode invoice items: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO invoices (id, account_id, amount, currency, status, description, items, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.AccountID, inv.Amount, inv.Currency, inv.Status, inv.Description, string(items), toNanos(inv.CreatedAt),
	)
	if err != nil {
		return model.Invoice{}, fmt.Errorf("create invoice: %w", mapWriteErr(err))
	}
	return inv, nil
}

func (s *SQLiteStore) ListInvoices(ctx context.Context, accountID string) ([]model.Invoice, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, account_id, amount, currency, status, description, items, created_at
		 FROM invoices WHERE account_id = ? ORDER BY created_at DESC, id`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()

	var out []model.Invoice
	for rows.Next() {
		var inv model.Invoice
		var items string
		var created int64
		if err := rows.Scan(&inv.ID, &inv.AccountID, &inv.Amount, &inv.Currency, &inv.Status,
			&inv.Description, &items, &created); err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		if err := json.Unmarshal([]byte(items), &inv.Items); err != nil {
			return nil, fmt.Errorf("decode invoice items: %w", err)
		}
		inv.CreatedAt = fromNanos(created)
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) AccountStats(ctx context.Context, accountID string, since time.Time) (model.AccountStats, error) {
	a, err := s.GetAccount(ctx, accountID)
	if err != nil {
		return model.AccountStats{}, err
	}
	stats := model.AccountStats{CreditsRemaining: a.CreditsRemaining}

	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(status = ?), 0) FROM avatars WHERE user_id = ?`,
		model.AvatarCompleted, accountID,
	).Scan(&stats.TotalAvatars, &stats.CompletedAvatars); err != nil {
		return model.AccountStats{}, fmt.Errorf("avatar stats: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(created_at >= ?), 0), COALESCE(SUM(view_count), 0)
		 FROM videos WHERE user_id = ?`,
		toNanos(since), accountID,
	).Scan(&stats.TotalVideos, &stats.VideosToday, &stats.TotalViews); err != nil {
		return model.AccountStats{}, fmt.Errorf("video stats: %w", err)
	}
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM jobs WHERE user_id = ? AND status IN (?, ?)`,
		accountID, model.JobQueued, model.JobProcessing,
	).Scan(&stats.ProcessingQueue); err != nil {
		return model.AccountStats{}, fmt.Errorf("job stats: %w", err)
	}
	return stats, nil
}

func (s *SQLiteStore) PlatformStats(ctx context.Context, since time.Time) (model.PlatformStats, error) {
	var stats model.PlatformStats
	var paid int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(subscription_status = ?), 0), COALESCE(SUM(subscription_tier != ?), 0)
		 FROM accounts`,
		model.StatusActive, model.TierFree,
	).Scan(&stats.TotalUsers, &stats.ActiveUsers, &paid); err != nil {
		return model.PlatformStats{}, fmt.Errorf("account stats: %w", err)
	}
	stats.ConversionRate = conversionRate(paid, stats.TotalUsers)

	if err := s.db.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM avatars), (SELECT COUNT(*) FROM videos),
		 (SELECT COUNT(*) FROM jobs WHERE status IN (?, ?)),
		 (SELECT COALESCE(SUM(amount), 0) FROM invoices WHERE status = ? AND created_at >= ?)`,
		model.JobQueued, model.JobProcessing, model.InvoicePaid, toNanos(since),
	).Scan(&stats.TotalAvatars, &stats.TotalVideos, &stats.ProcessingQueue, &stats.MonthlyRevenue); err != nil {
		return model.PlatformStats{}, fmt.Errorf("platform totals: %w", err)
	}
	return stats, nil
}
