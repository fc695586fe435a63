package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/juju/clock"
	"github.com/trobanga/stagehand/internal/models"

	_ "modernc.org/sqlite"
)

// SQLiteStore is an AllocationStore backed by a local SQLite snapshot of the portal
type SQLiteStore struct {
	db    *sql.DB
	clock clock.Clock
}

// OpenSQLiteStore opens (creating if needed) the database at path and ensures the schema
func OpenSQLiteStore(path string, clk clock.Clock) (*SQLiteStore, error) {
	if clk == nil {
		clk = clock.WallClock
	}

	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("setting wal mode: %w", err)
	}

	store := &SQLiteStore{db: db, clock: clk}
	if err := store.Init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Init creates the schema if it does not exist
func (s *SQLiteStore) Init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS allocations (
		id INTEGER PRIMARY KEY,
		project_id INTEGER NOT NULL,
		pi TEXT NOT NULL,
		status TEXT NOT NULL,
		resource_name TEXT NOT NULL DEFAULT '',
		resource_type TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS project_attributes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		allocation_id INTEGER NOT NULL,
		value TEXT NOT NULL,
		FOREIGN KEY (allocation_id) REFERENCES allocations(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS allocation_attributes (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		allocation_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		value TEXT NOT NULL,
		has_usage INTEGER NOT NULL DEFAULT 0,
		usage REAL,
		FOREIGN KEY (allocation_id) REFERENCES allocations(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS allocation_users (
		id INTEGER PRIMARY KEY,
		allocation_id INTEGER NOT NULL,
		username TEXT NOT NULL,
		status TEXT NOT NULL,
		storage_status TEXT NOT NULL,
		storage_permission TEXT NOT NULL,
		FOREIGN KEY (allocation_id) REFERENCES allocations(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS storage_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		allocation_user_id INTEGER NOT NULL,
		storage_status TEXT NOT NULL,
		recorded_at TEXT NOT NULL,
		FOREIGN KEY (allocation_user_id) REFERENCES allocation_users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS profiles (
		username TEXT PRIMARY KEY,
		validation TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS validation_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL,
		validation TEXT NOT NULL,
		recorded_at TEXT NOT NULL,
		FOREIGN KEY (username) REFERENCES profiles(username) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_allocation_users_allocation ON allocation_users(allocation_id);
	CREATE INDEX IF NOT EXISTS idx_storage_history_user ON storage_history(allocation_user_id);
	CREATE INDEX IF NOT EXISTS idx_validation_history_user ON validation_history(username);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}
	return nil
}

// Seed implements Seeder. Existing rows with the same ids are updated in place;
// storage and validation history already recorded is kept.
func (s *SQLiteStore) Seed(ctx context.Context, fixture Fixture) error {
	if err := fixture.Validate(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning seed: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, a := range fixture.Allocations {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO allocations (id, project_id, pi, status, resource_name, resource_type) VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				project_id = excluded.project_id,
				pi = excluded.pi,
				status = excluded.status,
				resource_name = excluded.resource_name,
				resource_type = excluded.resource_type`,
			a.ID, a.ProjectID, a.PI, string(a.Status), a.ResourceName, string(a.ResourceType)); err != nil {
			return fmt.Errorf("seeding allocation %d: %w", a.ID, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM project_attributes WHERE allocation_id = ?`, a.ID); err != nil {
			return fmt.Errorf("clearing project attributes of %d: %w", a.ID, err)
		}
		for _, value := range a.ProjectAttributes {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO project_attributes (allocation_id, value) VALUES (?, ?)`, a.ID, value); err != nil {
				return fmt.Errorf("seeding project attribute of %d: %w", a.ID, err)
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM allocation_attributes WHERE allocation_id = ?`, a.ID); err != nil {
			return fmt.Errorf("clearing attributes of %d: %w", a.ID, err)
		}
		for _, attr := range a.Attributes {
			var usage sql.NullFloat64
			if attr.Usage != nil {
				usage = sql.NullFloat64{Float64: *attr.Usage, Valid: true}
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO allocation_attributes (allocation_id, name, value, has_usage, usage) VALUES (?, ?, ?, ?, ?)`,
				a.ID, attr.Name, attr.Value, attr.HasUsage, usage); err != nil {
				return fmt.Errorf("seeding attribute %q of %d: %w", attr.Name, a.ID, err)
			}
		}
	}

	for _, u := range fixture.AllocationUsers {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO allocation_users (id, allocation_id, username, status, storage_status, storage_permission) VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				allocation_id = excluded.allocation_id,
				username = excluded.username,
				status = excluded.status,
				storage_status = excluded.storage_status,
				storage_permission = excluded.storage_permission`,
			u.ID, u.AllocationID, u.Username, string(u.Status), string(u.StorageStatus), string(u.StoragePermission)); err != nil {
			return fmt.Errorf("seeding allocation-user %d: %w", u.ID, err)
		}
	}

	for _, h := range fixture.StorageHistory {
		recordedAt := h.RecordedAt
		if recordedAt.IsZero() {
			recordedAt = s.clock.Now()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO storage_history (allocation_user_id, storage_status, recorded_at)
			SELECT ?, ?, ? WHERE NOT EXISTS (
				SELECT 1 FROM storage_history WHERE allocation_user_id = ? AND storage_status = ? AND recorded_at = ?)`,
			h.AllocationUserID, string(h.StorageStatus), formatTime(recordedAt),
			h.AllocationUserID, string(h.StorageStatus), formatTime(recordedAt)); err != nil {
			return fmt.Errorf("seeding storage history of %d: %w", h.AllocationUserID, err)
		}
	}

	for _, p := range fixture.Profiles {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO profiles (username, validation) VALUES (?, ?)
			ON CONFLICT(username) DO UPDATE SET validation = excluded.validation`,
			p.Username, string(p.Validation)); err != nil {
			return fmt.Errorf("seeding profile %s: %w", p.Username, err)
		}

		// A profile without fixture history gets one entry, once
		if len(p.History) == 0 {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO validation_history (username, validation, recorded_at)
				SELECT ?, ?, ? WHERE NOT EXISTS (SELECT 1 FROM validation_history WHERE username = ?)`,
				p.Username, string(p.Validation), formatTime(s.clock.Now()), p.Username); err != nil {
				return fmt.Errorf("seeding validation history of %s: %w", p.Username, err)
			}
		}
		for _, r := range p.History {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO validation_history (username, validation, recorded_at)
				SELECT ?, ?, ? WHERE NOT EXISTS (
					SELECT 1 FROM validation_history WHERE username = ? AND validation = ? AND recorded_at = ?)`,
				p.Username, string(r.Validation), formatTime(r.RecordedAt),
				p.Username, string(r.Validation), formatTime(r.RecordedAt)); err != nil {
				return fmt.Errorf("seeding validation history of %s: %w", p.Username, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing seed: %w", err)
	}
	return nil
}

const allocationUserColumns = `id, allocation_id, username, status, storage_status, storage_permission`

// ListStorageCandidates implements AllocationStore
func (s *SQLiteStore) ListStorageCandidates(ctx context.Context, storageStatuses []models.StorageStatus, userStatuses []models.UserStatus) ([]models.AllocationUser, error) {
	if len(storageStatuses) == 0 || len(userStatuses) == 0 {
		return nil, nil
	}

	args := []any{string(models.AllocationStatusActive), string(models.ResourceTypeStorage)}
	for _, st := range storageStatuses {
		args = append(args, string(st))
	}
	for _, st := range userStatuses {
		args = append(args, string(st))
	}

	query := fmt.Sprintf(`
		SELECT u.id, u.allocation_id, u.username, u.status, u.storage_status, u.storage_permission
		FROM allocation_users u
		JOIN allocations a ON a.id = u.allocation_id
		WHERE a.status = ? AND a.resource_type = ?
		  AND u.storage_status IN (%s)
		  AND u.status IN (%s)
		ORDER BY u.allocation_id, u.id`,
		placeholders(len(storageStatuses)), placeholders(len(userStatuses)))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing storage candidates: %w", err)
	}
	defer rows.Close()

	return scanAllocationUsers(rows)
}

// GetAllocation implements AllocationStore
func (s *SQLiteStore) GetAllocation(ctx context.Context, allocationID int64) (models.Allocation, error) {
	var a models.Allocation
	var status, resourceType string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, pi, status, resource_name, resource_type FROM allocations WHERE id = ?`, allocationID).
		Scan(&a.ID, &a.ProjectID, &a.PI, &status, &a.ResourceName, &resourceType)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Allocation{}, fmt.Errorf("allocation %d: %w", allocationID, models.ErrNotFound)
	}
	if err != nil {
		return models.Allocation{}, fmt.Errorf("reading allocation %d: %w", allocationID, err)
	}
	a.Status = models.AllocationStatus(status)
	a.ResourceType = models.ResourceType(resourceType)

	if err := s.loadAllocationAttributes(ctx, &a); err != nil {
		return models.Allocation{}, err
	}
	return a, nil
}

func (s *SQLiteStore) loadAllocationAttributes(ctx context.Context, a *models.Allocation) error {
	rows, err := s.db.QueryContext(ctx, `SELECT value FROM project_attributes WHERE allocation_id = ? ORDER BY id`, a.ID)
	if err != nil {
		return fmt.Errorf("reading project attributes of %d: %w", a.ID, err)
	}
	for rows.Next() {
		var value string
		if err := rows.Scan(&value); err != nil {
			rows.Close()
			return fmt.Errorf("scanning project attribute of %d: %w", a.ID, err)
		}
		a.ProjectAttributes = append(a.ProjectAttributes, value)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT name, value, has_usage, usage FROM allocation_attributes WHERE allocation_id = ? ORDER BY id`, a.ID)
	if err != nil {
		return fmt.Errorf("reading attributes of %d: %w", a.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var attr models.RawAttribute
		var usage sql.NullFloat64
		if err := rows.Scan(&attr.Name, &attr.Value, &attr.HasUsage, &usage); err != nil {
			return fmt.Errorf("scanning attribute of %d: %w", a.ID, err)
		}
		if usage.Valid {
			v := usage.Float64
			attr.Usage = &v
		}
		a.Attributes = append(a.Attributes, attr)
	}
	return rows.Err()
}

// GetAllocationUser implements AllocationStore
func (s *SQLiteStore) GetAllocationUser(ctx context.Context, allocationUserID int64) (models.AllocationUser, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+allocationUserColumns+` FROM allocation_users WHERE id = ?`, allocationUserID)
	if err != nil {
		return models.AllocationUser{}, fmt.Errorf("reading allocation-user %d: %w", allocationUserID, err)
	}
	defer rows.Close()

	users, err := scanAllocationUsers(rows)
	if err != nil {
		return models.AllocationUser{}, err
	}
	if len(users) == 0 {
		return models.AllocationUser{}, fmt.Errorf("allocation-user %d: %w", allocationUserID, models.ErrNotFound)
	}
	if err := users[0].Validate(); err != nil {
		return models.AllocationUser{}, err
	}
	return users[0], nil
}

// FindAllocationUser implements AllocationStore
func (s *SQLiteStore) FindAllocationUser(ctx context.Context, allocationID int64, username string) (models.AllocationUser, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+allocationUserColumns+` FROM allocation_users WHERE allocation_id = ? AND username = ? ORDER BY id LIMIT 1`,
		allocationID, username)
	if err != nil {
		return models.AllocationUser{}, fmt.Errorf("finding allocation-user %s on %d: %w", username, allocationID, err)
	}
	defer rows.Close()

	users, err := scanAllocationUsers(rows)
	if err != nil {
		return models.AllocationUser{}, err
	}
	if len(users) == 0 {
		return models.AllocationUser{}, fmt.Errorf("allocation-user %s on allocation %d: %w", username, allocationID, models.ErrNotFound)
	}
	if err := users[0].Validate(); err != nil {
		return models.AllocationUser{}, err
	}
	return users[0], nil
}

// ListAllocationUsers implements AllocationStore
func (s *SQLiteStore) ListAllocationUsers(ctx context.Context) ([]models.AllocationUser, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+allocationUserColumns+` FROM allocation_users ORDER BY allocation_id, id`)
	if err != nil {
		return nil, fmt.Errorf("listing allocation-users: %w", err)
	}
	defer rows.Close()

	return scanAllocationUsers(rows)
}

// CountStorageHistory implements AllocationStore
func (s *SQLiteStore) CountStorageHistory(ctx context.Context, allocationUserID int64, status models.StorageStatus) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM storage_history WHERE allocation_user_id = ? AND storage_status = ?`,
		allocationUserID, string(status)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting history of %d: %w", allocationUserID, err)
	}
	return count, nil
}

// TransitionStorageStatus implements AllocationStore
func (s *SQLiteStore) TransitionStorageStatus(ctx context.Context, allocationUserID int64, from, to models.StorageStatus) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transition: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE allocation_users SET storage_status = ? WHERE id = ? AND storage_status = ?`,
		string(to), allocationUserID, string(from))
	if err != nil {
		return fmt.Errorf("updating allocation-user %d: %w", allocationUserID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating allocation-user %d: %w", allocationUserID, err)
	}
	if affected == 0 {
		var current string
		err := tx.QueryRowContext(ctx,
			`SELECT storage_status FROM allocation_users WHERE id = ?`, allocationUserID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("allocation-user %d: %w", allocationUserID, models.ErrNotFound)
		}
		if err != nil {
			return fmt.Errorf("reading allocation-user %d: %w", allocationUserID, err)
		}
		return fmt.Errorf("allocation-user %d is %s, expected %s: %w", allocationUserID, current, from, models.ErrStatusConflict)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO storage_history (allocation_user_id, storage_status, recorded_at) VALUES (?, ?, ?)`,
		allocationUserID, string(to), formatTime(s.clock.Now())); err != nil {
		return fmt.Errorf("recording history of %d: %w", allocationUserID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transition of %d: %w", allocationUserID, err)
	}
	return nil
}

// ListActiveStorageAllocations implements AllocationStore
func (s *SQLiteStore) ListActiveStorageAllocations(ctx context.Context) ([]models.Allocation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM allocations WHERE status = ? AND resource_type = ? ORDER BY id`,
		string(models.AllocationStatusActive), string(models.ResourceTypeStorage))
	if err != nil {
		return nil, fmt.Errorf("listing storage allocations: %w", err)
	}

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning allocation id: %w", err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	allocations := make([]models.Allocation, 0, len(ids))
	for _, id := range ids {
		a, err := s.GetAllocation(ctx, id)
		if err != nil {
			return nil, err
		}
		allocations = append(allocations, a)
	}
	return allocations, nil
}

// SetUsage implements AllocationStore
func (s *SQLiteStore) SetUsage(ctx context.Context, allocationID int64, attributeName string, value float64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE allocation_attributes SET usage = ?
		 WHERE id = (SELECT id FROM allocation_attributes WHERE allocation_id = ? AND name = ? ORDER BY id LIMIT 1)`,
		value, allocationID, attributeName)
	if err != nil {
		return fmt.Errorf("setting usage on allocation %d: %w", allocationID, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("setting usage on allocation %d: %w", allocationID, err)
	}
	if affected == 0 {
		return fmt.Errorf("attribute %q on allocation %d: %w", attributeName, allocationID, models.ErrNotFound)
	}
	return nil
}

// AccountValidation implements AllocationStore
func (s *SQLiteStore) AccountValidation(ctx context.Context, username string) (models.AccountValidation, error) {
	var code string
	err := s.db.QueryRowContext(ctx, `SELECT validation FROM profiles WHERE username = ?`, username).Scan(&code)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("profile %s: %w", username, models.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("reading profile %s: %w", username, err)
	}
	return models.AccountValidation(code), nil
}

// AccountValidationHistory implements AllocationStore
func (s *SQLiteStore) AccountValidationHistory(ctx context.Context, username string, n int) ([]models.ValidationRecord, error) {
	if _, err := s.AccountValidation(ctx, username); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT validation, recorded_at FROM validation_history WHERE username = ? ORDER BY id DESC LIMIT ?`,
		username, n)
	if err != nil {
		return nil, fmt.Errorf("reading validation history of %s: %w", username, err)
	}
	defer rows.Close()

	var records []models.ValidationRecord
	for rows.Next() {
		var code, recordedAt string
		if err := rows.Scan(&code, &recordedAt); err != nil {
			return nil, fmt.Errorf("scanning validation history of %s: %w", username, err)
		}
		at, err := parseTime(recordedAt)
		if err != nil {
			return nil, fmt.Errorf("validation history of %s: %w", username, err)
		}
		records = append(records, models.ValidationRecord{
			Username:   username,
			Validation: models.AccountValidation(code),
			RecordedAt: at,
		})
	}
	return records, rows.Err()
}

// SetAccountValidation implements AllocationStore
func (s *SQLiteStore) SetAccountValidation(ctx context.Context, username string, code models.AccountValidation) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning validation update: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `UPDATE profiles SET validation = ? WHERE username = ?`, string(code), username)
	if err != nil {
		return fmt.Errorf("updating profile %s: %w", username, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating profile %s: %w", username, err)
	}
	if affected == 0 {
		return fmt.Errorf("profile %s: %w", username, models.ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO validation_history (username, validation, recorded_at) VALUES (?, ?, ?)`,
		username, string(code), formatTime(s.clock.Now())); err != nil {
		return fmt.Errorf("recording validation history of %s: %w", username, err)
	}

	return tx.Commit()
}

// Close implements AllocationStore
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanAllocationUsers(rows *sql.Rows) ([]models.AllocationUser, error) {
	var users []models.AllocationUser
	for rows.Next() {
		var u models.AllocationUser
		var status, storageStatus, permission string
		if err := rows.Scan(&u.ID, &u.AllocationID, &u.Username, &status, &storageStatus, &permission); err != nil {
			return nil, fmt.Errorf("scanning allocation-user: %w", err)
		}
		u.Status = models.UserStatus(status)
		u.StorageStatus = models.StorageStatus(storageStatus)
		u.StoragePermission = models.StoragePermission(permission)
		users = append(users, u)
	}
	return users, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: bad timestamp %q", models.ErrInvalidRecord, s)
	}
	return t, nil
}
