package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/shopspring/decimal"

	"github.com/panicattack/panicd/internal/panicd/errs"
	"github.com/panicattack/panicd/internal/panicd/geo"
	"github.com/panicattack/panicd/internal/panicd/metrics"
	"github.com/panicattack/panicd/internal/panicd/models"
)

// txMaxAttempts bounds the internal retry on serialization conflicts before
// the error is surfaced as ErrTransientStore.
const txMaxAttempts = 3

// Repository defines the interface for data access operations
type Repository interface {
	// User operations
	CreateUser(ctx context.Context, email, passwordHash, name string) (int64, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	UpdateUserLocation(ctx context.Context, userID int64, lat, lng float64) error
	UpdateUserPush(ctx context.Context, userID int64, token string, enabled bool) error
	UpdateUserProfile(ctx context.Context, userID int64, name, profilePhoto string) error
	UpdateUserPassword(ctx context.Context, userID int64, passwordHash string) error
	DeleteUser(ctx context.Context, userID int64) error
	ListUsersInBox(ctx context.Context, box geo.BoundingBox, pushOnly bool) ([]models.User, error)
	ListAdmins(ctx context.Context) ([]models.User, error)

	// Alert operations
	CreateAlert(ctx context.Context, alert *models.Alert) error
	GetAlertByID(ctx context.Context, id uuid.UUID) (*models.Alert, error)
	ListRecentAlerts(ctx context.Context, since time.Time) ([]models.Alert, error)
	DeleteAlert(ctx context.Context, id uuid.UUID) error

	// Responder ledger. The slot check, the submission insert and the
	// balance credit are one atomic unit.
	SubmitFootage(ctx context.Context, sub *models.FootageSubmission, maxResponders int, payment decimal.Decimal) (*models.FootageSubmission, error)

	// Balance operations
	GetUserBalance(ctx context.Context, userID int64) (*models.Balance, error)
	CreateWithdrawal(ctx context.Context, w *models.Withdrawal) error
	GetUserWithdrawals(ctx context.Context, userID int64) ([]models.Withdrawal, error)
	ListUnpaidWithdrawals(ctx context.Context, limit int) ([]models.Withdrawal, error)
	MarkWithdrawalPaid(ctx context.Context, id uuid.UUID) error

	// Runtime settings
	GetSettings(ctx context.Context) (*models.Settings, error)
	UpdateSettings(ctx context.Context, s models.Settings) error

	// Initialize and close
	InitDB(databaseURI string) error
	Close() error
}

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	db      *sql.DB
	metrics *metrics.Metrics
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(m *metrics.Metrics) *PostgresRepository {
	return &PostgresRepository{metrics: m}
}

// InitDB initializes the database connection and schema
func (r *PostgresRepository) InitDB(databaseURI string) error {
	db, err := sql.Open("pgx", databaseURI)
	if err != nil {
		return err
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return err
	}

	r.db = db

	if err := r.createTables(); err != nil {
		db.Close()
		return err
	}

	return nil
}

// Close closes the database connection
func (r *PostgresRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// createTables creates the necessary tables if they don't exist
func (r *PostgresRepository) createTables() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id SERIAL PRIMARY KEY,
			email VARCHAR(255) UNIQUE NOT NULL,
			password_hash VARCHAR(255) NOT NULL,
			name VARCHAR(255) NOT NULL DEFAULT '',
			profile_photo TEXT NOT NULL DEFAULT '',
			balance NUMERIC(12, 4) NOT NULL DEFAULT 0 CHECK (balance >= 0),
			lat DOUBLE PRECISION,
			lng DOUBLE PRECISION,
			push_token VARCHAR(255) NOT NULL DEFAULT '',
			is_push_on BOOLEAN NOT NULL DEFAULT FALSE,
			is_admin BOOLEAN NOT NULL DEFAULT FALSE,
			is_subscribed BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id UUID PRIMARY KEY,
			user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			lat DOUBLE PRECISION NOT NULL,
			lng DOUBLE PRECISION NOT NULL,
			location_string TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts (created_at)`,
		`CREATE TABLE IF NOT EXISTS footage (
			id UUID PRIMARY KEY,
			alert_id UUID NOT NULL REFERENCES alerts(id) ON DELETE CASCADE,
			responder_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			video_url TEXT NOT NULL,
			duration_seconds DOUBLE PRECISION NOT NULL,
			status VARCHAR(16) NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (alert_id, responder_id)
		)`,
		`CREATE TABLE IF NOT EXISTS withdrawals (
			id UUID PRIMARY KEY,
			user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			amount NUMERIC(12, 4) NOT NULL,
			fee NUMERIC(12, 4) NOT NULL,
			total NUMERIC(12, 4) NOT NULL,
			method VARCHAR(16) NOT NULL,
			status VARCHAR(16) NOT NULL DEFAULT 'UNPAID',
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			id SMALLINT PRIMARY KEY CHECK (id = 1),
			max_responders INTEGER NOT NULL DEFAULT 5 CHECK (max_responders >= 0),
			payment_per_upload NUMERIC(12, 4) NOT NULL DEFAULT 10 CHECK (payment_per_upload >= 0)
		)`,
		`INSERT INTO settings (id) VALUES (1) ON CONFLICT (id) DO NOTHING`,
	}

	for _, stmt := range statements {
		if _, err := r.db.Exec(stmt); err != nil {
			return err
		}
	}

	return nil
}

// isSerializationError reports whether the error is a transaction conflict
// that is safe to rerun (serialization failure or deadlock).
func isSerializationError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "40001" || pgErr.Code == "40P01"
	}
	return false
}

// withTx runs fn inside a transaction, retrying a bounded number of times on
// serialization conflicts before surfacing ErrTransientStore.
func (r *PostgresRepository) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var err error
	for attempt := 0; attempt < txMaxAttempts; attempt++ {
		if attempt > 0 && r.metrics != nil {
			r.metrics.TxRetries.Inc()
		}

		err = r.runTx(ctx, fn)
		if err == nil || !isSerializationError(err) {
			return err
		}
	}
	return errs.ErrTransientStore
}

func (r *PostgresRepository) runTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

const userColumns = `id, email, password_hash, name, balance, lat, lng, push_token, is_push_on, is_admin, is_subscribed, created_at`

func scanUser(row interface{ Scan(...interface{}) error }) (*models.User, error) {
	user := &models.User{}
	err := row.Scan(
		&user.ID, &user.Email, &user.PasswordHash, &user.Name, &user.Balance,
		&user.Lat, &user.Lng, &user.PushToken, &user.IsPushOn, &user.IsAdmin,
		&user.IsSubscribed, &user.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return user, nil
}

// User repository methods

func (r *PostgresRepository) CreateUser(ctx context.Context, email, passwordHash, name string) (int64, error) {
	var id int64
	err := r.db.QueryRowContext(
		ctx,
		"INSERT INTO users (email, password_hash, name) VALUES ($1, $2, $3) RETURNING id",
		email, passwordHash, name,
	).Scan(&id)

	if err != nil {
		return 0, err
	}

	return id, nil
}

func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	user, err := scanUser(r.db.QueryRowContext(
		ctx,
		"SELECT "+userColumns+" FROM users WHERE email = $1",
		email,
	))

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return user, nil
}

func (r *PostgresRepository) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	user, err := scanUser(r.db.QueryRowContext(
		ctx,
		"SELECT "+userColumns+" FROM users WHERE id = $1",
		id,
	))

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return user, nil
}

// UpdateUserLocation overwrites the user's current coordinates. The write is
// idempotent per user; later writes simply win.
func (r *PostgresRepository) UpdateUserLocation(ctx context.Context, userID int64, lat, lng float64) error {
	res, err := r.db.ExecContext(
		ctx,
		"UPDATE users SET lat = $1, lng = $2 WHERE id = $3",
		lat, lng, userID,
	)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

func (r *PostgresRepository) UpdateUserPush(ctx context.Context, userID int64, token string, enabled bool) error {
	res, err := r.db.ExecContext(
		ctx,
		"UPDATE users SET push_token = $1, is_push_on = $2 WHERE id = $3",
		token, enabled, userID,
	)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

func (r *PostgresRepository) UpdateUserProfile(ctx context.Context, userID int64, name, profilePhoto string) error {
	res, err := r.db.ExecContext(
		ctx,
		"UPDATE users SET name = $1, profile_photo = $2 WHERE id = $3",
		name, profilePhoto, userID,
	)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

func (r *PostgresRepository) UpdateUserPassword(ctx context.Context, userID int64, passwordHash string) error {
	res, err := r.db.ExecContext(
		ctx,
		"UPDATE users SET password_hash = $1 WHERE id = $2",
		passwordHash, userID,
	)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

// DeleteUser removes the account. Alerts, footage and withdrawals go with
// it through the foreign-key cascades; paid-out money is not clawed back.
func (r *PostgresRepository) DeleteUser(ctx context.Context, userID int64) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM users WHERE id = $1", userID)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

func requireRowAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// ListUsersInBox returns users whose stored location falls inside the
// bounding box. Users with no location on record never match. The caller is
// expected to refine the result with an exact distance check.
func (r *PostgresRepository) ListUsersInBox(ctx context.Context, box geo.BoundingBox, pushOnly bool) ([]models.User, error) {
	query := "SELECT " + userColumns + ` FROM users
         WHERE lat IS NOT NULL AND lng IS NOT NULL
           AND lat BETWEEN $1 AND $2
           AND lng BETWEEN $3 AND $4`
	if pushOnly {
		query += " AND is_push_on = TRUE AND push_token <> ''"
	}

	rows, err := r.db.QueryContext(ctx, query, box.MinLat, box.MaxLat, box.MinLng, box.MaxLng)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectUsers(rows)
}

func (r *PostgresRepository) ListAdmins(ctx context.Context) ([]models.User, error) {
	rows, err := r.db.QueryContext(
		ctx,
		"SELECT "+userColumns+" FROM users WHERE is_admin = TRUE",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectUsers(rows)
}

func collectUsers(rows *sql.Rows) ([]models.User, error) {
	var users []models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *user)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return users, nil
}

// Alert repository methods

func (r *PostgresRepository) CreateAlert(ctx context.Context, alert *models.Alert) error {
	return r.db.QueryRowContext(
		ctx,
		`INSERT INTO alerts (id, user_id, lat, lng, location_string)
         VALUES ($1, $2, $3, $4, $5)
         RETURNING created_at`,
		alert.ID, alert.UserID, alert.Lat, alert.Lng, alert.LocationString,
	).Scan(&alert.CreatedAt)
}

func (r *PostgresRepository) GetAlertByID(ctx context.Context, id uuid.UUID) (*models.Alert, error) {
	alert := &models.Alert{}
	err := r.db.QueryRowContext(
		ctx,
		`SELECT a.id, a.user_id, a.lat, a.lng, a.location_string, a.created_at, u.name, u.profile_photo
         FROM alerts a
         JOIN users u ON u.id = a.user_id
         WHERE a.id = $1`,
		id,
	).Scan(&alert.ID, &alert.UserID, &alert.Lat, &alert.Lng, &alert.LocationString,
		&alert.CreatedAt, &alert.UserName, &alert.ProfilePhoto)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	return alert, nil
}

// ListRecentAlerts returns alerts created after the cutoff, newest first.
// Expired alerts stay in the table; they just stop matching.
func (r *PostgresRepository) ListRecentAlerts(ctx context.Context, since time.Time) ([]models.Alert, error) {
	rows, err := r.db.QueryContext(
		ctx,
		`SELECT a.id, a.user_id, a.lat, a.lng, a.location_string, a.created_at, u.name, u.profile_photo
         FROM alerts a
         JOIN users u ON u.id = a.user_id
         WHERE a.created_at > $1
         ORDER BY a.created_at DESC`,
		since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var alerts []models.Alert
	for rows.Next() {
		var alert models.Alert
		if err := rows.Scan(
			&alert.ID, &alert.UserID, &alert.Lat, &alert.Lng, &alert.LocationString,
			&alert.CreatedAt, &alert.UserName, &alert.ProfilePhoto,
		); err != nil {
			return nil, err
		}
		alerts = append(alerts, alert)
	}

	if err = rows.Err(); err != nil {
		return nil, err
	}

	return alerts, nil
}

func (r *PostgresRepository) DeleteAlert(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, "DELETE FROM alerts WHERE id = $1", id)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

// Responder ledger

// SubmitFootage records a footage submission and settles it in a single
// transaction. The alert row is locked so concurrent submitters racing for
// the last slot serialize on it; the accepted count, the submission insert
// and the balance credit all commit or roll back together.
//
// A prior submission for the same (alert, responder) pair is returned as-is:
// a responder is never paid twice. Rejected is terminal; the returned error
// is ErrCapacityExceeded for any rejected outcome, old or new.
func (r *PostgresRepository) SubmitFootage(ctx context.Context, sub *models.FootageSubmission, maxResponders int, payment decimal.Decimal) (*models.FootageSubmission, error) {
	result := &models.FootageSubmission{}

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		var alertID uuid.UUID
		err := tx.QueryRowContext(
			ctx,
			"SELECT id FROM alerts WHERE id = $1 FOR UPDATE",
			sub.AlertID,
		).Scan(&alertID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return errs.ErrNotFound
			}
			return err
		}

		// Idempotency: return the earlier outcome untouched
		err = tx.QueryRowContext(
			ctx,
			`SELECT id, alert_id, responder_id, video_url, duration_seconds, status, created_at
             FROM footage WHERE alert_id = $1 AND responder_id = $2`,
			sub.AlertID, sub.ResponderID,
		).Scan(&result.ID, &result.AlertID, &result.ResponderID, &result.VideoURL,
			&result.DurationSeconds, &result.Status, &result.CreatedAt)
		if err == nil {
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		var accepted int
		err = tx.QueryRowContext(
			ctx,
			"SELECT COUNT(*) FROM footage WHERE alert_id = $1 AND status = $2",
			sub.AlertID, models.SubmissionAccepted,
		).Scan(&accepted)
		if err != nil {
			return err
		}

		status := models.SubmissionAccepted
		if accepted >= maxResponders {
			status = models.SubmissionRejected
		}

		*result = *sub
		result.Status = status
		err = tx.QueryRowContext(
			ctx,
			`INSERT INTO footage (id, alert_id, responder_id, video_url, duration_seconds, status)
             VALUES ($1, $2, $3, $4, $5, $6)
             RETURNING created_at`,
			result.ID, result.AlertID, result.ResponderID, result.VideoURL,
			result.DurationSeconds, result.Status,
		).Scan(&result.CreatedAt)
		if err != nil {
			return err
		}

		if status == models.SubmissionAccepted {
			_, err = tx.ExecContext(
				ctx,
				"UPDATE users SET balance = balance + $1 WHERE id = $2",
				payment, result.ResponderID,
			)
			if err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.Status == models.SubmissionRejected {
		return result, errs.ErrCapacityExceeded
	}

	return result, nil
}

// Balance repository methods

func (r *PostgresRepository) GetUserBalance(ctx context.Context, userID int64) (*models.Balance, error) {
	balance := &models.Balance{}

	err := r.db.QueryRowContext(
		ctx,
		"SELECT balance FROM users WHERE id = $1",
		userID,
	).Scan(&balance.Current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}

	err = r.db.QueryRowContext(
		ctx,
		"SELECT COALESCE(SUM(amount), 0) FROM withdrawals WHERE user_id = $1",
		userID,
	).Scan(&balance.Withdrawn)
	if err != nil {
		return nil, err
	}

	return balance, nil
}

// CreateWithdrawal debits the gross amount and records the withdrawal in one
// transaction. The balance check happens against the locked row, not the
// caller's earlier read, so concurrent withdrawals cannot overdraft.
func (r *PostgresRepository) CreateWithdrawal(ctx context.Context, w *models.Withdrawal) error {
	return r.withTx(ctx, func(tx *sql.Tx) error {
		var balance decimal.Decimal
		err := tx.QueryRowContext(
			ctx,
			"SELECT balance FROM users WHERE id = $1 FOR UPDATE",
			w.UserID,
		).Scan(&balance)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return errs.ErrNotFound
			}
			return err
		}

		if balance.LessThan(w.Amount) {
			return errs.ErrInsufficientFunds
		}

		_, err = tx.ExecContext(
			ctx,
			"UPDATE users SET balance = balance - $1 WHERE id = $2",
			w.Amount, w.UserID,
		)
		if err != nil {
			return err
		}

		return tx.QueryRowContext(
			ctx,
			`INSERT INTO withdrawals (id, user_id, amount, fee, total, method, status)
             VALUES ($1, $2, $3, $4, $5, $6, $7)
             RETURNING created_at`,
			w.ID, w.UserID, w.Amount, w.Fee, w.Total, w.Method, w.Status,
		).Scan(&w.CreatedAt)
	})
}

func (r *PostgresRepository) GetUserWithdrawals(ctx context.Context, userID int64) ([]models.Withdrawal, error) {
	rows, err := r.db.QueryContext(
		ctx,
		`SELECT id, user_id, amount, fee, total, method, status, created_at
         FROM withdrawals
         WHERE user_id = $1
         ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectWithdrawals(rows)
}

func (r *PostgresRepository) ListUnpaidWithdrawals(ctx context.Context, limit int) ([]models.Withdrawal, error) {
	rows, err := r.db.QueryContext(
		ctx,
		`SELECT id, user_id, amount, fee, total, method, status, created_at
         FROM withdrawals
         WHERE status = $1
         ORDER BY created_at
         LIMIT $2`,
		models.WithdrawalUnpaid, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectWithdrawals(rows)
}

func collectWithdrawals(rows *sql.Rows) ([]models.Withdrawal, error) {
	var withdrawals []models.Withdrawal
	for rows.Next() {
		var w models.Withdrawal
		if err := rows.Scan(
			&w.ID, &w.UserID, &w.Amount, &w.Fee, &w.Total, &w.Method, &w.Status, &w.CreatedAt,
		); err != nil {
			return nil, err
		}
		withdrawals = append(withdrawals, w)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return withdrawals, nil
}

func (r *PostgresRepository) MarkWithdrawalPaid(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(
		ctx,
		"UPDATE withdrawals SET status = $1 WHERE id = $2 AND status = $3",
		models.WithdrawalPaid, id, models.WithdrawalUnpaid,
	)
	if err != nil {
		return err
	}
	return requireRowAffected(res)
}

// Settings repository methods

func (r *PostgresRepository) GetSettings(ctx context.Context) (*models.Settings, error) {
	s := &models.Settings{}
	err := r.db.QueryRowContext(
		ctx,
		"SELECT max_responders, payment_per_upload FROM settings WHERE id = 1",
	).Scan(&s.MaxResponders, &s.PaymentPerUpload)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (r *PostgresRepository) UpdateSettings(ctx context.Context, s models.Settings) error {
	_, err := r.db.ExecContext(
		ctx,
		"UPDATE settings SET max_responders = $1, payment_per_upload = $2 WHERE id = 1",
		s.MaxResponders, s.PaymentPerUpload,
	)
	return err
}
