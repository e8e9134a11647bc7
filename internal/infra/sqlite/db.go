// Package sqlite provides SQLite-based persistent storage for Overwatch.
// Uses WAL mode for concurrent reads and crash-safe writes.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver (no CGO required)

	"github.com/overwatch-scan/overwatch/internal/domain"
)

// DB wraps a SQLite connection with WAL mode and migrations. It implements
// domain.SightingStore.
type DB struct {
	db *sql.DB
}

// Open creates or opens the SQLite database at dir/state.db.
// Enables WAL mode, foreign keys, and 5-second busy timeout.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := filepath.Join(dir, "state.db")
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// SQLite is single-writer; the persistence pipeline is the only writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return d, nil
}

// Close cleanly shuts down the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// Ping checks database connectivity.
func (d *DB) Ping() error {
	return d.db.Ping()
}

func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sightings (
			encounter_id         TEXT PRIMARY KEY,
			species_id           INTEGER NOT NULL,
			spawn_id             TEXT NOT NULL DEFAULT '',
			expire_timestamp     INTEGER NOT NULL,
			normalized_timestamp INTEGER NOT NULL,
			lat                  REAL NOT NULL,
			lon                  REAL NOT NULL,
			UNIQUE(species_id, normalized_timestamp, lat, lon)
		)`,
		`CREATE TABLE IF NOT EXISTS longspawn (
			species_id           INTEGER NOT NULL,
			normalized_timestamp INTEGER NOT NULL,
			lat                  REAL NOT NULL,
			lon                  REAL NOT NULL,
			encounter_id         TEXT NOT NULL,
			expire_timestamp     INTEGER NOT NULL,
			PRIMARY KEY (species_id, normalized_timestamp, lat, lon)
		)`,
		`CREATE TABLE IF NOT EXISTS spawns (
			id               TEXT PRIMARY KEY,
			offset_in_hour_s INTEGER NOT NULL,
			lat              REAL NOT NULL,
			lon              REAL NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS fort_sightings (
			external_id      TEXT PRIMARY KEY,
			lat              REAL NOT NULL,
			lon              REAL NOT NULL,
			team             INTEGER NOT NULL,
			prestige         INTEGER NOT NULL,
			guard_species_id INTEGER NOT NULL,
			last_modified    INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS accounts (
			username      TEXT PRIMARY KEY,
			password      TEXT NOT NULL,
			provider      TEXT NOT NULL,
			captcha_flag  BOOLEAN NOT NULL DEFAULT 0,
			last_used     INTEGER,
			auth_state    TEXT NOT NULL DEFAULT 'ready',
			device_info   TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS proxies (
			url                  TEXT PRIMARY KEY,
			last_rotated_at      INTEGER,
			consecutive_failures INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS node_info (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sightings_expire ON sightings(expire_timestamp)`,
	}

	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\nSQL: %s", err, m)
		}
	}
	return nil
}

// ─── Sightings ──────────────────────────────────────────────────────────────

// UpsertSighting inserts a sighting if its (species, normalized_ts, lat,
// lon) key is not already present. Reports whether a new row was
// inserted; a false with nil error means the uniqueness constraint
// suppressed a duplicate.
func (d *DB) UpsertSighting(s domain.Sighting) (bool, error) {
	res, err := d.db.Exec(
		`INSERT OR IGNORE INTO sightings
			(encounter_id, species_id, spawn_id, expire_timestamp, normalized_timestamp, lat, lon)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.EncounterID, s.SpeciesID, s.SpawnID, s.ExpireTimestamp, s.NormalizedTimestamp, s.Lat, s.Lon,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpsertFortSighting replaces the stored row for ExternalID only if the
// incoming LastModified is newer.
func (d *DB) UpsertFortSighting(f domain.FortSighting) (bool, error) {
	res, err := d.db.Exec(
		`INSERT INTO fort_sightings
			(external_id, lat, lon, team, prestige, guard_species_id, last_modified)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(external_id) DO UPDATE SET
			lat=excluded.lat, lon=excluded.lon, team=excluded.team,
			prestige=excluded.prestige, guard_species_id=excluded.guard_species_id,
			last_modified=excluded.last_modified
		 WHERE excluded.last_modified > fort_sightings.last_modified`,
		f.ExternalID, f.Lat, f.Lon, f.Team, f.Prestige, f.GuardSpeciesID, f.LastModified,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// UpsertLongSpawn inserts or updates a long-lived encounter by its
// composite key.
func (d *DB) UpsertLongSpawn(s domain.Sighting) error {
	_, err := d.db.Exec(
		`INSERT INTO longspawn
			(species_id, normalized_timestamp, lat, lon, encounter_id, expire_timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(species_id, normalized_timestamp, lat, lon) DO UPDATE SET
			encounter_id=excluded.encounter_id, expire_timestamp=excluded.expire_timestamp`,
		s.SpeciesID, s.NormalizedTimestamp, s.Lat, s.Lon, s.EncounterID, s.ExpireTimestamp,
	)
	return err
}

// ─── Spawns ─────────────────────────────────────────────────────────────────

// ReplaceSpawns atomically swaps the spawns table for the given set,
// mirroring catalog.Catalog.Load's replace-whole-table semantics. Called
// alongside the gob snapshot on shutdown so a database-only restart (no
// snapshot file, or --no-pickle) still has a known-spawn index to load.
func (d *DB) ReplaceSpawns(spawns []domain.Spawn) error {
	tx, err := d.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM spawns`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO spawns (id, offset_in_hour_s, lat, lon) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, s := range spawns {
		if _, err := stmt.Exec(s.ID, s.OffsetInHourS, s.Point.Lat, s.Point.Lon); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// ListSpawns returns every known spawn point, the fallback source for the
// catalog when no on-disk snapshot is available.
func (d *DB) ListSpawns() ([]domain.Spawn, error) {
	rows, err := d.db.Query(`SELECT id, offset_in_hour_s, lat, lon FROM spawns`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Spawn
	for rows.Next() {
		var s domain.Spawn
		if err := rows.Scan(&s.ID, &s.OffsetInHourS, &s.Point.Lat, &s.Point.Lon); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ─── Accounts ───────────────────────────────────────────────────────────────

// UpsertAccount inserts or updates an account record.
func (d *DB) UpsertAccount(a domain.Account) error {
	_, err := d.db.Exec(
		`INSERT INTO accounts (username, password, provider, captcha_flag, last_used, auth_state, device_info)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(username) DO UPDATE SET
			password=excluded.password, provider=excluded.provider,
			captcha_flag=excluded.captcha_flag, last_used=excluded.last_used,
			auth_state=excluded.auth_state, device_info=excluded.device_info`,
		a.Username, a.Password, a.Provider, a.CaptchaFlag, nullableUnix(a.LastUsed), string(a.AuthState), a.DeviceInfo,
	)
	return err
}

// ListAccounts returns every known account.
func (d *DB) ListAccounts() ([]domain.Account, error) {
	rows, err := d.db.Query(
		`SELECT username, password, provider, captcha_flag, last_used, auth_state, device_info FROM accounts`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		var a domain.Account
		var lastUsed sql.NullInt64
		var authState string
		if err := rows.Scan(&a.Username, &a.Password, &a.Provider, &a.CaptchaFlag, &lastUsed, &authState, &a.DeviceInfo); err != nil {
			return nil, err
		}
		if lastUsed.Valid {
			a.LastUsed = time.Unix(lastUsed.Int64, 0)
		}
		a.AuthState = domain.AccountState(authState)
		out = append(out, a)
	}
	return out, rows.Err()
}

// ─── Proxies ────────────────────────────────────────────────────────────────

// UpsertProxy inserts or updates a proxy's rotation bookkeeping. Latency
// samples are process-local and not persisted across restarts.
func (d *DB) UpsertProxy(p domain.Proxy) error {
	_, err := d.db.Exec(
		`INSERT INTO proxies (url, last_rotated_at, consecutive_failures)
		 VALUES (?, ?, ?)
		 ON CONFLICT(url) DO UPDATE SET
			last_rotated_at=excluded.last_rotated_at,
			consecutive_failures=excluded.consecutive_failures`,
		p.URL, nullableUnix(p.LastRotatedAt), p.ConsecutiveFailures,
	)
	return err
}

// ListProxies returns every known proxy.
func (d *DB) ListProxies() ([]domain.Proxy, error) {
	rows, err := d.db.Query(`SELECT url, last_rotated_at, consecutive_failures FROM proxies`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Proxy
	for rows.Next() {
		var p domain.Proxy
		var lastRotated sql.NullInt64
		if err := rows.Scan(&p.URL, &lastRotated, &p.ConsecutiveFailures); err != nil {
			return nil, err
		}
		if lastRotated.Valid {
			p.LastRotatedAt = time.Unix(lastRotated.Int64, 0)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// ─── Node Info ──────────────────────────────────────────────────────────────

// SetNodeInfo stores a key-value pair in node_info.
func (d *DB) SetNodeInfo(key, value string) error {
	_, err := d.db.Exec(
		`INSERT INTO node_info (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		key, value,
	)
	return err
}

// GetNodeInfo retrieves a value from node_info.
func (d *DB) GetNodeInfo(key string) (string, bool, error) {
	var value string
	err := d.db.QueryRow(`SELECT value FROM node_info WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func nullableUnix(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.Unix(), Valid: true}
}
