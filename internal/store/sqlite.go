package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/damamartinez/chatcore/internal/domain"
)

// SQLiteStore implements UserRepository, RegistrationRepository, and
// IntegrationRepository on a single embedded database, following the
// one struct of repos sharing a single *sql.DB connection.
type SQLiteStore struct {
	db           *sql.DB
	Users        *SQLiteUserRepo
	Registration *SQLiteRegistrationRepo
	Integrations *SQLiteIntegrationRepo
}

// NewSQLiteStore opens (and migrates) a SQLite-backed store at dsn.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{
		db:           db,
		Users:        &SQLiteUserRepo{db: db},
		Registration: &SQLiteRegistrationRepo{db: db},
		Integrations: &SQLiteIntegrationRepo{db: db},
	}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func runMigrations(db *sql.DB) error {
	migration := `
	CREATE TABLE IF NOT EXISTS users (
		address TEXT PRIMARY KEY,
		phone TEXT NOT NULL DEFAULT '',
		display_name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL DEFAULT 'customer',
		language TEXT NOT NULL DEFAULT 'es',
		active BOOLEAN NOT NULL DEFAULT TRUE,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		last_activity_at TIMESTAMP,
		message_count INTEGER NOT NULL DEFAULT 0,
		metadata TEXT NOT NULL DEFAULT '{}'
	);

	CREATE INDEX IF NOT EXISTS idx_users_phone ON users(phone);
	CREATE INDEX IF NOT EXISTS idx_users_role ON users(role);

	CREATE TABLE IF NOT EXISTS conversation_states (
		address TEXT PRIMARY KEY,
		step TEXT NOT NULL DEFAULT 'none',
		attempts INTEGER NOT NULL DEFAULT 0,
		started_at TIMESTAMP,
		FOREIGN KEY (address) REFERENCES users(address) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS user_interactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		address TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		FOREIGN KEY (address) REFERENCES users(address) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_interactions_address_ts ON user_interactions(address, timestamp DESC);
	CREATE INDEX IF NOT EXISTS idx_interactions_ts ON user_interactions(timestamp DESC);

	CREATE TABLE IF NOT EXISTS external_integrations (
		name TEXT PRIMARY KEY,
		enabled BOOLEAN NOT NULL DEFAULT FALSE,
		updated_at TIMESTAMP NOT NULL
	);
	`
	_, err := db.Exec(migration)
	return err
}

// SQLiteUserRepo implements UserRepository.
type SQLiteUserRepo struct {
	db *sql.DB
}

func (r *SQLiteUserRepo) Create(ctx context.Context, user *domain.User) error {
	metadata, err := json.Marshal(user.Metadata)
	if err != nil {
		return fmt.Errorf("store: marshal metadata: %w", err)
	}
	now := time.Now()
	if user.CreatedAt.IsZero() {
		user.CreatedAt = now
	}
	user.UpdatedAt = now

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO users (address, phone, display_name, role, language, active, created_at, updated_at, last_activity_at, message_count, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, user.Address, user.Phone, user.DisplayName, string(user.Role), user.Language, user.Active,
		user.CreatedAt, user.UpdatedAt, nullableTime(user.LastActivityAt), user.MessageCount, string(metadata))
	return err
}

// Update persists an explicit, operator-driven change to an existing user:
// every field on user, including Role, is written as given. Display name is
// still not clobbered by a phone-number placeholder, since that guard
// applies regardless of who initiated the write.
func (r *SQLiteUserRepo) Update(ctx context.Context, user *domain.User) error {
	return r.update(ctx, user, false)
}

// UpdateAutoIngest persists a routine, message-driven change to an existing
// user (the registration flow assigning a name). Unlike Update, it protects
// a privileged role from being silently downgraded by that path: the
// resulting role is always the higher of the existing and incoming one.
func (r *SQLiteUserRepo) UpdateAutoIngest(ctx context.Context, user *domain.User) error {
	return r.update(ctx, user, true)
}

func (r *SQLiteUserRepo) update(ctx context.Context, user *domain.User, preserveRole bool) error {
	existing, err := r.GetByAddress(ctx, user.Address)
	if err != nil {
		return err
	}

	merged := *user
	if looksLikePhone(user.DisplayName, user.Phone) && !looksLikePhone(existing.DisplayName, existing.Phone) {
		merged.DisplayName = existing.DisplayName
	}
	if preserveRole {
		merged.Role = domain.Higher(existing.Role, user.Role)
	}
	merged.UpdatedAt = time.Now()

	metadata, err := json.Marshal(merged.Metadata)
	if err != nil {
		return fmt.Errorf("store: marshal metadata: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		UPDATE users SET phone=?, display_name=?, role=?, language=?, active=?, updated_at=?, last_activity_at=?, message_count=?, metadata=?
		WHERE address=?
	`, merged.Phone, merged.DisplayName, string(merged.Role), merged.Language, merged.Active,
		merged.UpdatedAt, nullableTime(merged.LastActivityAt), merged.MessageCount, string(metadata), merged.Address)
	if err != nil {
		return err
	}
	*user = merged
	return nil
}

func looksLikePhone(displayName, phone string) bool {
	return phone != "" && displayName == phone
}

// userSelectColumns is shared by every read query: a LEFT JOIN against
// conversation_states so User.Registration is always hydrated from the
// same row the registration engine consults, never left at its zero value
// for a returning sender (the engine's NeedsRegistration predicate depends
// on this being live, not just set at Create time).
const userSelectColumns = `
	u.address, u.phone, u.display_name, u.role, u.language, u.active,
	u.created_at, u.updated_at, u.last_activity_at, u.message_count, u.metadata,
	cs.step, cs.attempts, cs.started_at
`

const userSelectJoin = `FROM users u LEFT JOIN conversation_states cs ON cs.address = u.address`

func (r *SQLiteUserRepo) GetByAddress(ctx context.Context, address string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userSelectColumns+` `+userSelectJoin+` WHERE u.address = ?`, address)
	return scanUser(row)
}

func (r *SQLiteUserRepo) GetByPhone(ctx context.Context, phone string) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userSelectColumns+` `+userSelectJoin+` WHERE u.phone = ?`, phone)
	return scanUser(row)
}

func (r *SQLiteUserRepo) Search(ctx context.Context, term string, limit int) ([]domain.User, error) {
	pattern := "%" + term + "%"
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+userSelectColumns+`
		`+userSelectJoin+`
		WHERE u.display_name LIKE ? OR u.phone LIKE ? OR u.address LIKE ?
		ORDER BY u.last_activity_at DESC
		LIMIT ?
	`, pattern, pattern, pattern, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUsers(rows)
}

func (r *SQLiteUserRepo) List(ctx context.Context, limit, offset int) ([]domain.User, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+userSelectColumns+`
		`+userSelectJoin+`
		ORDER BY u.created_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUsers(rows)
}

func (r *SQLiteUserRepo) Delete(ctx context.Context, address string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM users WHERE address = ?", address)
	return err
}

func (r *SQLiteUserRepo) RecordInteraction(ctx context.Context, address string) error {
	now := time.Now()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "INSERT INTO user_interactions (address, timestamp) VALUES (?, ?)", address, now); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "UPDATE users SET message_count = message_count + 1, last_activity_at = ?, updated_at = ? WHERE address = ?", now, now, address); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *SQLiteUserRepo) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{ByRole: map[domain.Role]int{}, MessagesByRole: map[domain.Role]int64{}}

	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&stats.TotalUsers); err != nil {
		return stats, err
	}
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users WHERE active = TRUE").Scan(&stats.ActiveUsers); err != nil {
		return stats, err
	}

	rows, err := r.db.QueryContext(ctx, "SELECT role, COUNT(*), COALESCE(SUM(message_count), 0) FROM users GROUP BY role")
	if err != nil {
		return stats, err
	}
	for rows.Next() {
		var role string
		var count int
		var msgs int64
		if err := rows.Scan(&role, &count, &msgs); err != nil {
			rows.Close()
			return stats, err
		}
		stats.ByRole[domain.Role(role)] = count
		stats.MessagesByRole[domain.Role(role)] = msgs
		stats.TotalMessages += msgs
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stats, err
	}

	now := time.Now()
	windows := []struct {
		dest *int
		from time.Time
	}{
		{&stats.ActiveLast24h, now.Add(-24 * time.Hour)},
		{&stats.ActiveLastWeek, now.Add(-7 * 24 * time.Hour)},
		{&stats.ActiveLastMonth, now.Add(-30 * 24 * time.Hour)},
	}
	for _, w := range windows {
		if err := r.db.QueryRowContext(ctx,
			"SELECT COUNT(DISTINCT address) FROM user_interactions WHERE timestamp > ?", w.from,
		).Scan(w.dest); err != nil {
			return stats, err
		}
	}

	return stats, nil
}

// registrationScanTarget groups the nullable conversation_states columns
// produced by the LEFT JOIN in userSelectColumns, present only for
// addresses with a row in that table (i.e. mid-registration).
type registrationScanTarget struct {
	step      sql.NullString
	attempts  sql.NullInt64
	startedAt sql.NullTime
}

func (t registrationScanTarget) apply(u *domain.User) {
	if !t.step.Valid {
		u.Registration = domain.RegistrationData{Step: domain.StepNone}
		return
	}
	u.Registration = domain.RegistrationData{
		Step:     domain.RegistrationStep(t.step.String),
		Attempts: int(t.attempts.Int64),
	}
	if t.startedAt.Valid {
		u.Registration.StartedAt = t.startedAt.Time
	}
}

func scanUser(row *sql.Row) (*domain.User, error) {
	var u domain.User
	var role string
	var lastActivity sql.NullTime
	var metadataJSON string
	var reg registrationScanTarget

	err := row.Scan(&u.Address, &u.Phone, &u.DisplayName, &role, &u.Language, &u.Active,
		&u.CreatedAt, &u.UpdatedAt, &lastActivity, &u.MessageCount, &metadataJSON,
		&reg.step, &reg.attempts, &reg.startedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Role = domain.Role(role)
	if lastActivity.Valid {
		u.LastActivityAt = lastActivity.Time
	}
	if metadataJSON != "" {
		if err := json.Unmarshal([]byte(metadataJSON), &u.Metadata); err != nil {
			return nil, fmt.Errorf("store: unmarshal metadata: %w", err)
		}
	}
	reg.apply(&u)
	return &u, nil
}

func scanUsers(rows *sql.Rows) ([]domain.User, error) {
	var users []domain.User
	for rows.Next() {
		var u domain.User
		var role string
		var lastActivity sql.NullTime
		var metadataJSON string
		var reg registrationScanTarget

		err := rows.Scan(&u.Address, &u.Phone, &u.DisplayName, &role, &u.Language, &u.Active,
			&u.CreatedAt, &u.UpdatedAt, &lastActivity, &u.MessageCount, &metadataJSON,
			&reg.step, &reg.attempts, &reg.startedAt)
		if err != nil {
			return nil, err
		}
		u.Role = domain.Role(role)
		if lastActivity.Valid {
			u.LastActivityAt = lastActivity.Time
		}
		if metadataJSON != "" {
			if err := json.Unmarshal([]byte(metadataJSON), &u.Metadata); err != nil {
				return nil, fmt.Errorf("store: unmarshal metadata: %w", err)
			}
		}
		reg.apply(&u)
		users = append(users, u)
	}
	return users, rows.Err()
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

// SQLiteRegistrationRepo implements RegistrationRepository.
type SQLiteRegistrationRepo struct {
	db *sql.DB
}

func (r *SQLiteRegistrationRepo) GetRegistration(ctx context.Context, address string) (*domain.RegistrationData, error) {
	row := r.db.QueryRowContext(ctx, "SELECT step, attempts, started_at FROM conversation_states WHERE address = ?", address)

	var data domain.RegistrationData
	var step string
	var startedAt sql.NullTime
	err := row.Scan(&step, &data.Attempts, &startedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	data.Step = domain.RegistrationStep(step)
	if startedAt.Valid {
		data.StartedAt = startedAt.Time
	}
	return &data, nil
}

func (r *SQLiteRegistrationRepo) SetRegistration(ctx context.Context, address string, data domain.RegistrationData) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO conversation_states (address, step, attempts, started_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			step = excluded.step,
			attempts = excluded.attempts,
			started_at = excluded.started_at
	`, address, string(data.Step), data.Attempts, nullableTime(data.StartedAt))
	return err
}

func (r *SQLiteRegistrationRepo) ClearRegistration(ctx context.Context, address string) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM conversation_states WHERE address = ?", address)
	return err
}

// SQLiteIntegrationRepo implements IntegrationRepository.
type SQLiteIntegrationRepo struct {
	db *sql.DB
}

func (r *SQLiteIntegrationRepo) IsEnabled(ctx context.Context, name string) (bool, error) {
	var enabled bool
	err := r.db.QueryRowContext(ctx, "SELECT enabled FROM external_integrations WHERE name = ?", name).Scan(&enabled)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return enabled, err
}

func (r *SQLiteIntegrationRepo) SetEnabled(ctx context.Context, name string, enabled bool) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO external_integrations (name, enabled, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET enabled = excluded.enabled, updated_at = excluded.updated_at
	`, name, enabled, time.Now())
	return err
}

func (r *SQLiteIntegrationRepo) List(ctx context.Context) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT name, enabled FROM external_integrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var name string
		var enabled bool
		if err := rows.Scan(&name, &enabled); err != nil {
			return nil, err
		}
		out[name] = enabled
	}
	return out, rows.Err()
}
