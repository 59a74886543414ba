// Package sqldb is the relational Topology Store: node definitions, live
// state and the historical telemetry archive.
package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"

	"github.com/ohowland/winterriver/internal/pkg/asset"
	"github.com/ohowland/winterriver/internal/pkg/telemetry"
)

// Config selects the driver and connection.
type Config struct {
	Driver string `json:"Driver"`
	DSN    string `json:"DSN"`
}

// Store is a Topology Store over database/sql.
type Store struct {
	db      *sql.DB
	dialect dialect
	timeout time.Duration
}

// QueryTimeout bounds each store operation.
const QueryTimeout = 2 * time.Second

// Open connects, verifies the connection and applies the schema.
func Open(cfg Config) (*Store, error) {
	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}
	dsn, err := d.normalize(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse %s dsn: %w", d.driver, err)
	}
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.driver, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), QueryTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect %s: %w", d.driver, err)
	}
	s := &Store{db: db, dialect: d, timeout: QueryTimeout}
	if err := s.applySchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	log.Printf("[SQL] connected (%s)\n", d.driver)
	return s, nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) applySchema(ctx context.Context) error {
	for _, stmt := range s.dialect.schema() {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

// Provision upserts defs and seeds a live_status row for nodes without one.
func (s *Store) Provision(ctx context.Context, defs []asset.Def, genStartDelay int) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &asset.StoreError{Op: "provision", Err: err}
	}
	defer tx.Rollback()

	upsertNode := s.dialect.rebind(s.dialect.upsertNode())
	seedState := s.dialect.rebind(s.dialect.seedState())
	for _, d := range defs {
		if _, err := tx.ExecContext(ctx, upsertNode, d.ID, string(d.Type), nullable(d.ParentID), nullable(string(d.Side)), d.VRatio); err != nil {
			return &asset.StoreError{Op: "provision", Err: fmt.Errorf("%s: %w", d.ID, err)}
		}
		l := asset.Seed(d, genStartDelay)
		if _, err := tx.ExecContext(ctx, seedState, d.ID, l.Present, l.VOut, string(l.Status), l.Battery, l.GenTimer); err != nil {
			return &asset.StoreError{Op: "provision", Err: fmt.Errorf("%s: %w", d.ID, err)}
		}
	}
	if err := tx.Commit(); err != nil {
		return &asset.StoreError{Op: "provision", Err: err}
	}
	return nil
}

const selectSnapshot = `SELECT n.node_id, n.node_type, n.parent_id, n.side, n.v_ratio,
	l.is_present, l.v_out, l.status_msg, l.battery_level, l.gen_timer, l.last_update
	FROM nodes n LEFT JOIN live_status l ON n.node_id = l.node_id
	ORDER BY n.node_id`

// Snapshot reads every node with its live state. Nodes without a
// live_status row appear in Defs only.
func (s *Store) Snapshot(ctx context.Context) (asset.Snapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, selectSnapshot)
	if err != nil {
		return asset.Snapshot{}, &asset.StoreError{Op: "snapshot", Err: err}
	}
	defer rows.Close()

	snap := asset.Snapshot{States: make(map[string]asset.LiveState)}
	for rows.Next() {
		var (
			d                 asset.Def
			typ               string
			parent, side      sql.NullString
			present           sql.NullBool
			vOut              sql.NullFloat64
			status            sql.NullString
			battery, genTimer sql.NullInt64
			lastUpdate        sql.NullTime
		)
		if err := rows.Scan(&d.ID, &typ, &parent, &side, &d.VRatio,
			&present, &vOut, &status, &battery, &genTimer, &lastUpdate); err != nil {
			return asset.Snapshot{}, &asset.StoreError{Op: "snapshot", Err: err}
		}
		d.Type = asset.Type(typ)
		d.ParentID = parent.String
		d.Side = asset.Side(side.String)
		snap.Defs = append(snap.Defs, d)
		if !present.Valid {
			continue
		}
		snap.States[d.ID] = asset.LiveState{
			Present:    present.Bool,
			VOut:       vOut.Float64,
			Status:     asset.Status(status.String),
			Battery:    int(battery.Int64),
			GenTimer:   int(genTimer.Int64),
			LastUpdate: lastUpdate.Time,
		}
	}
	if err := rows.Err(); err != nil {
		return asset.Snapshot{}, &asset.StoreError{Op: "snapshot", Err: err}
	}
	return snap, nil
}

const updateDerived = `UPDATE live_status SET v_out = ?, status_msg = ?, battery_level = ?, gen_timer = ? WHERE node_id = ?`

// Commit writes the tick-owned columns of every state in one transaction.
func (s *Store) Commit(ctx context.Context, states map[string]asset.LiveState) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &asset.StoreError{Op: "commit", Err: err}
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, s.dialect.rebind(updateDerived))
	if err != nil {
		return &asset.StoreError{Op: "commit", Err: err}
	}
	defer stmt.Close()

	// fixed order keeps lock acquisition consistent between ticks
	ids := make([]string, 0, len(states))
	for id := range states {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		l := states[id]
		res, err := stmt.ExecContext(ctx, l.VOut, string(l.Status), asset.ClampBattery(l.Battery), l.GenTimer, id)
		if err != nil {
			return &asset.StoreError{Op: "commit", Err: fmt.Errorf("%s: %w", id, err)}
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return &asset.StoreError{Op: "commit", Err: fmt.Errorf("%s: %w", id, asset.ErrUnknownNode)}
		}
	}
	if err := tx.Commit(); err != nil {
		return &asset.StoreError{Op: "commit", Err: err}
	}
	return nil
}

const (
	updatePresence = `UPDATE live_status SET is_present = ?, last_update = ? WHERE node_id = ?`
	insertHistory  = `INSERT INTO historical_data (node_id, ts, metrics) VALUES (?, ?, ?)`
)

// RecordTelemetry updates presence and appends the history row together.
func (s *Store) RecordTelemetry(ctx context.Context, obs telemetry.Observation) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &asset.StoreError{Op: "telemetry", Err: err}
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, s.dialect.rebind(updatePresence), obs.Present, obs.At.UTC(), obs.NodeID)
	if err != nil {
		return &asset.StoreError{Op: "telemetry", Err: err}
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("record telemetry %s: %w", obs.NodeID, asset.ErrUnknownNode)
	}
	if _, err := tx.ExecContext(ctx, s.dialect.rebind(insertHistory), obs.NodeID, obs.At.UTC(), string(obs.Payload)); err != nil {
		return &asset.StoreError{Op: "telemetry", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &asset.StoreError{Op: "telemetry", Err: err}
	}
	return nil
}

const selectHistory = `SELECT node_id, ts, metrics FROM historical_data WHERE node_id = ? ORDER BY ts DESC LIMIT ?`

// History returns up to limit of the newest records of nodeID, newest first.
func (s *Store) History(ctx context.Context, nodeID string, limit int) ([]asset.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, s.dialect.rebind(selectHistory), nodeID, limit)
	if err != nil {
		return nil, &asset.StoreError{Op: "history", Err: err}
	}
	defer rows.Close()

	records := make([]asset.Record, 0)
	for rows.Next() {
		var (
			rec     asset.Record
			payload string
		)
		if err := rows.Scan(&rec.NodeID, &rec.Timestamp, &payload); err != nil {
			return nil, &asset.StoreError{Op: "history", Err: err}
		}
		rec.Payload = []byte(payload)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &asset.StoreError{Op: "history", Err: err}
	}
	return records, nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// dialect captures what differs between the supported drivers.
type dialect struct {
	driver string
	// numbered placeholders ($1, $2...) instead of ?
	numbered bool
}

var (
	postgres = dialect{driver: "postgres", numbered: true}
	mysqlDB  = dialect{driver: "mysql"}
)

func dialectFor(driver string) (dialect, error) {
	switch strings.ToLower(driver) {
	case "postgres", "postgresql", "":
		return postgres, nil
	case "mysql":
		return mysqlDB, nil
	}
	return dialect{}, fmt.Errorf("unsupported store driver %q", driver)
}

// normalize adapts a user supplied DSN to what the store relies on.
// Postgres URLs become key/value strings. MySQL reports matched rather
// than changed rows so an unchanged commit is not mistaken for a missing
// node.
func (d dialect) normalize(dsn string) (string, error) {
	if d.numbered {
		if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
			return pq.ParseURL(dsn)
		}
		return dsn, nil
	}
	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return "", err
	}
	cfg.ClientFoundRows = true
	cfg.ParseTime = true
	return cfg.FormatDSN(), nil
}

// rebind rewrites ? placeholders for the dialect.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (d dialect) schema() []string {
	ts, float := "TIMESTAMPTZ", "DOUBLE PRECISION"
	history := `CREATE TABLE IF NOT EXISTS historical_data (
		id BIGSERIAL PRIMARY KEY,
		node_id VARCHAR(64) NOT NULL REFERENCES nodes(node_id),
		ts TIMESTAMPTZ NOT NULL,
		metrics TEXT NOT NULL)`
	if !d.numbered {
		ts, float = "DATETIME(6)", "DOUBLE"
		history = `CREATE TABLE IF NOT EXISTS historical_data (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		node_id VARCHAR(64) NOT NULL,
		ts DATETIME(6) NOT NULL,
		metrics LONGTEXT NOT NULL,
		INDEX idx_history_node_ts (node_id, ts),
		FOREIGN KEY (node_id) REFERENCES nodes(node_id))`
	}
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS nodes (
		node_id VARCHAR(64) PRIMARY KEY,
		node_type VARCHAR(16) NOT NULL,
		parent_id VARCHAR(64) NULL,
		side VARCHAR(1) NULL,
		v_ratio %s NOT NULL DEFAULT 1.0)`, float),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS live_status (
		node_id VARCHAR(64) PRIMARY KEY REFERENCES nodes(node_id),
		is_present BOOLEAN NOT NULL DEFAULT FALSE,
		v_out %s NOT NULL DEFAULT 0,
		status_msg VARCHAR(16) NOT NULL DEFAULT 'NORMAL',
		battery_level INTEGER NOT NULL DEFAULT 100,
		gen_timer INTEGER NOT NULL DEFAULT 0,
		last_update %s NULL)`, float, ts),
		history,
	}
	if d.numbered {
		stmts = append(stmts, `CREATE INDEX IF NOT EXISTS idx_history_node_ts ON historical_data (node_id, ts)`)
	}
	return stmts
}

func (d dialect) upsertNode() string {
	if d.numbered {
		return `INSERT INTO nodes (node_id, node_type, parent_id, side, v_ratio) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (node_id) DO UPDATE SET node_type = EXCLUDED.node_type, parent_id = EXCLUDED.parent_id,
		side = EXCLUDED.side, v_ratio = EXCLUDED.v_ratio`
	}
	return `INSERT INTO nodes (node_id, node_type, parent_id, side, v_ratio) VALUES (?, ?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE node_type = VALUES(node_type), parent_id = VALUES(parent_id),
		side = VALUES(side), v_ratio = VALUES(v_ratio)`
}

func (d dialect) seedState() string {
	cols := `live_status (node_id, is_present, v_out, status_msg, battery_level, gen_timer) VALUES (?, ?, ?, ?, ?, ?)`
	if d.numbered {
		return `INSERT INTO ` + cols + ` ON CONFLICT (node_id) DO NOTHING`
	}
	return `INSERT IGNORE INTO ` + cols
}
