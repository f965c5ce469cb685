package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/metrolab/wafersample/pkg/errcode"
	"github.com/metrolab/wafersample/pkg/schematic"
	"github.com/metrolab/wafersample/pkg/strategy"
	"github.com/metrolab/wafersample/pkg/validation"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS strategy_versions (
	id              TEXT NOT NULL,
	version         TEXT NOT NULL,
	name            TEXT NOT NULL,
	author          TEXT NOT NULL,
	strategy_type   TEXT NOT NULL,
	process_step    TEXT NOT NULL,
	tool_type       TEXT NOT NULL,
	lifecycle_state TEXT NOT NULL,
	body            BLOB NOT NULL,
	PRIMARY KEY (id, version)
);
CREATE TABLE IF NOT EXISTS strategy_current (
	id      TEXT PRIMARY KEY,
	version TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS schematics (
	id          TEXT PRIMARY KEY,
	upload_date TEXT NOT NULL,
	tags        TEXT NOT NULL DEFAULT '',
	notes       TEXT NOT NULL DEFAULT '',
	body        BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS schematic_blobs (
	id   TEXT PRIMARY KEY,
	data BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS validations (
	id              TEXT PRIMARY KEY,
	schematic_id    TEXT NOT NULL,
	strategy_id     TEXT NOT NULL,
	validation_date TEXT NOT NULL,
	body            BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_validations_schematic ON validations (schematic_id);
CREATE INDEX IF NOT EXISTS idx_validations_strategy  ON validations (strategy_id);
`

// NewSQLiteStore opens (creating if needed) a SQLite-backed Store at path.
// WAL mode gives crash consistency: a committed write is visible after
// restart.
func NewSQLiteStore(path string) (*Store, func() error, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("opening sqlite store at %s: %w", path, err)
	}
	// modernc's driver is single-writer; serializing at the pool level
	// avoids SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("applying sqlite schema: %w", err)
	}

	store := &Store{
		Strategies: &sqliteStrategyRepo{db: db},
		Schematics: &sqliteSchematicRepo{db: db},
		Validation: &sqliteValidationRepo{db: db},
	}
	return store, db.Close, nil
}

type sqliteStrategyRepo struct {
	db *sql.DB
}

func encodeJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errcode.Wrap(errcode.Internal, err, "encoding record")
	}
	return data, nil
}

func (r *sqliteStrategyRepo) Create(ctx context.Context, def *strategy.Definition) error {
	body, err := encodeJSON(def)
	if err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var exists int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM strategy_current WHERE id = ?`, def.ID).Scan(&exists); err != nil {
		return err
	}
	if exists > 0 {
		return errcode.New(errcode.ValidationError, "strategy %s already exists", def.ID).
			WithDetail("id", def.ID)
	}
	if err := insertStrategyVersion(ctx, tx, def, body); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO strategy_current (id, version) VALUES (?, ?)`, def.ID, def.Version); err != nil {
		return err
	}
	return tx.Commit()
}

func insertStrategyVersion(ctx context.Context, tx *sql.Tx, def *strategy.Definition, body []byte) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO strategy_versions
			(id, version, name, author, strategy_type, process_step, tool_type, lifecycle_state, body)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id, version) DO UPDATE SET
			name = excluded.name, author = excluded.author,
			strategy_type = excluded.strategy_type, process_step = excluded.process_step,
			tool_type = excluded.tool_type, lifecycle_state = excluded.lifecycle_state,
			body = excluded.body`,
		def.ID, def.Version, def.Name, def.Author, string(def.StrategyType),
		def.ProcessStep, def.ToolType, string(def.LifecycleState), body)
	return err
}

func (r *sqliteStrategyRepo) Put(ctx context.Context, def *strategy.Definition) error {
	body, err := encodeJSON(def)
	if err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx,
		`SELECT version FROM strategy_current WHERE id = ?`, def.ID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return strategyNotFound(def.ID)
	}
	if err != nil {
		return err
	}
	if err := insertStrategyVersion(ctx, tx, def, body); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE strategy_current SET version = ? WHERE id = ?`, def.Version, def.ID); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *sqliteStrategyRepo) Get(ctx context.Context, id string) (*strategy.Definition, error) {
	var body []byte
	err := r.db.QueryRowContext(ctx, `
		SELECT v.body FROM strategy_versions v
		JOIN strategy_current c ON c.id = v.id AND c.version = v.version
		WHERE v.id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, strategyNotFound(id)
	}
	if err != nil {
		return nil, err
	}
	return decodeStrategy(body)
}

func decodeStrategy(body []byte) (*strategy.Definition, error) {
	var def strategy.Definition
	if err := json.Unmarshal(body, &def); err != nil {
		return nil, errcode.Wrap(errcode.Internal, err, "decoding strategy record")
	}
	return &def, nil
}

func (r *sqliteStrategyRepo) GetVersion(ctx context.Context, id, version string) (*strategy.Definition, error) {
	var body []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT body FROM strategy_versions WHERE id = ? AND version = ?`, id, version).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errcode.New(errcode.NotFound, "strategy %s has no version %s", id, version).
			WithDetail("id", id).
			WithDetail("version", version)
	}
	if err != nil {
		return nil, err
	}
	return decodeStrategy(body)
}

func (r *sqliteStrategyRepo) ListVersions(ctx context.Context, id string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT version FROM strategy_versions WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, strategyNotFound(id)
	}
	sortVersions(out)
	return out, nil
}

func sortVersions(versions []string) {
	for i := 1; i < len(versions); i++ {
		for j := i; j > 0 && strategy.CompareVersions(versions[j], versions[j-1]) < 0; j-- {
			versions[j], versions[j-1] = versions[j-1], versions[j]
		}
	}
}

func (r *sqliteStrategyRepo) List(ctx context.Context, filter StrategyFilter) ([]*strategy.Definition, error) {
	query := `
		SELECT v.body FROM strategy_versions v
		JOIN strategy_current c ON c.id = v.id AND c.version = v.version`
	var (
		where []string
		args  []any
	)
	if filter.Author != "" {
		where = append(where, "v.author = ?")
		args = append(args, filter.Author)
	}
	if filter.StrategyType != "" {
		where = append(where, "v.strategy_type = ?")
		args = append(args, string(filter.StrategyType))
	}
	if filter.ProcessStep != "" {
		where = append(where, "v.process_step = ?")
		args = append(args, filter.ProcessStep)
	}
	if filter.LifecycleState != "" {
		where = append(where, "v.lifecycle_state = ?")
		args = append(args, string(filter.LifecycleState))
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY v.name, v.id"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*strategy.Definition
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		def, err := decodeStrategy(body)
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, rows.Err()
}

func (r *sqliteStrategyRepo) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM strategy_current WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return strategyNotFound(id)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM strategy_versions WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// Activate runs entirely inside one transaction; SQLite's serialization
// stands in for the memory backend's ordered two-key lock.
func (r *sqliteStrategyRepo) Activate(ctx context.Context, id, user string) (*strategy.Definition, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var body []byte
	err = tx.QueryRowContext(ctx, `
		SELECT v.body FROM strategy_versions v
		JOIN strategy_current c ON c.id = v.id AND c.version = v.version
		WHERE v.id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, strategyNotFound(id)
	}
	if err != nil {
		return nil, err
	}
	def, err := decodeStrategy(body)
	if err != nil {
		return nil, err
	}
	if err := def.Transition(strategy.StateActive, user, nowUTC()); err != nil {
		return nil, err
	}

	// Deprecate the rival active strategy for the same slot, if any.
	var deprecated *strategy.Definition
	var rivalBody []byte
	err = tx.QueryRowContext(ctx, `
		SELECT v.body FROM strategy_versions v
		JOIN strategy_current c ON c.id = v.id AND c.version = v.version
		WHERE v.id != ? AND v.lifecycle_state = ? AND v.process_step = ? AND v.tool_type = ?
		ORDER BY v.id LIMIT 1`,
		id, string(strategy.StateActive), def.ProcessStep, def.ToolType).Scan(&rivalBody)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, err
	default:
		rival, err := decodeStrategy(rivalBody)
		if err != nil {
			return nil, err
		}
		if err := rival.Transition(strategy.StateDeprecated, user, nowUTC()); err == nil {
			rbody, err := encodeJSON(rival)
			if err != nil {
				return nil, err
			}
			if err := insertStrategyVersion(ctx, tx, rival, rbody); err != nil {
				return nil, err
			}
			deprecated = rival
		}
	}

	newBody, err := encodeJSON(def)
	if err != nil {
		return nil, err
	}
	if err := insertStrategyVersion(ctx, tx, def, newBody); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return deprecated, nil
}

type sqliteSchematicRepo struct {
	db *sql.DB
}

func (r *sqliteSchematicRepo) Create(ctx context.Context, data *schematic.SchematicData, fileBytes []byte) error {
	body, err := encodeJSON(data)
	if err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schematics (id, upload_date, body) VALUES (?, ?, ?)`,
		data.ID, data.UploadDate.Format("2006-01-02T15:04:05.000000000Z07:00"), body); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schematic_blobs (id, data) VALUES (?, ?)`, data.ID, fileBytes); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *sqliteSchematicRepo) Get(ctx context.Context, id string) (*SchematicRecord, error) {
	var (
		body  []byte
		tags  string
		notes string
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT body, tags, notes FROM schematics WHERE id = ?`, id).Scan(&body, &tags, &notes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, schematicNotFound(id)
	}
	if err != nil {
		return nil, err
	}
	return decodeSchematicRecord(body, tags, notes)
}

func decodeSchematicRecord(body []byte, tags, notes string) (*SchematicRecord, error) {
	var data schematic.SchematicData
	if err := json.Unmarshal(body, &data); err != nil {
		return nil, errcode.Wrap(errcode.Internal, err, "decoding schematic record")
	}
	rec := &SchematicRecord{Data: &data, Notes: notes}
	if tags != "" {
		rec.Tags = strings.Split(tags, ",")
	}
	return rec, nil
}

func (r *sqliteSchematicRepo) GetBlob(ctx context.Context, id string) ([]byte, error) {
	var data []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT data FROM schematic_blobs WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, schematicNotFound(id)
	}
	return data, err
}

func (r *sqliteSchematicRepo) List(ctx context.Context) ([]*SchematicRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT body, tags, notes FROM schematics ORDER BY upload_date DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*SchematicRecord
	for rows.Next() {
		var (
			body  []byte
			tags  string
			notes string
		)
		if err := rows.Scan(&body, &tags, &notes); err != nil {
			return nil, err
		}
		rec, err := decodeSchematicRecord(body, tags, notes)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *sqliteSchematicRepo) UpdateAnnotations(ctx context.Context, id string, tags []string, notes string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE schematics SET tags = ?, notes = ? WHERE id = ?`,
		strings.Join(tags, ","), notes, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return schematicNotFound(id)
	}
	return nil
}

func (r *sqliteSchematicRepo) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM schematics WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return schematicNotFound(id)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM schematic_blobs WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

type sqliteValidationRepo struct {
	db *sql.DB
}

func (r *sqliteValidationRepo) Put(ctx context.Context, result *validation.Result) error {
	body, err := encodeJSON(result)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO validations (id, schematic_id, strategy_id, validation_date, body)
		VALUES (?, ?, ?, ?, ?)`,
		result.ID, result.SchematicID, result.StrategyID,
		result.ValidationDate.Format("2006-01-02T15:04:05.000000000Z07:00"), body)
	return err
}

func (r *sqliteValidationRepo) Get(ctx context.Context, id string) (*validation.Result, error) {
	var body []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT body FROM validations WHERE id = ?`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errcode.New(errcode.NotFound, "validation result %s not found", id).
			WithDetail("id", id)
	}
	if err != nil {
		return nil, err
	}
	return decodeValidation(body)
}

func decodeValidation(body []byte) (*validation.Result, error) {
	var res validation.Result
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, errcode.Wrap(errcode.Internal, err, "decoding validation record")
	}
	return &res, nil
}

func (r *sqliteValidationRepo) ListBySchematic(ctx context.Context, schematicID string) ([]*validation.Result, error) {
	return r.list(ctx, `SELECT body FROM validations WHERE schematic_id = ? ORDER BY validation_date DESC`, schematicID)
}

func (r *sqliteValidationRepo) ListByStrategy(ctx context.Context, strategyID string) ([]*validation.Result, error) {
	return r.list(ctx, `SELECT body FROM validations WHERE strategy_id = ? ORDER BY validation_date DESC`, strategyID)
}

func (r *sqliteValidationRepo) list(ctx context.Context, query, arg string) ([]*validation.Result, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []*validation.Result{}
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, err
		}
		res, err := decodeValidation(body)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, rows.Err()
}
