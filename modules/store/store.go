// Package store persists prepared telemetry rows into PostgreSQL: an
// append-only history table per manufacturer plus a current-state
// table upserted on (device_id, msg_class).
package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/JesusCabrera84/siscom-consumer/pkg/telemetry"
)

const (
	tableSuntech      = "communications_suntech"
	tableQueclink     = "communications_queclink"
	tableCurrentState = "communications_current_state"

	// insertChunkSize bounds one multi-VALUES statement. 100 rows of 40
	// binds stays well under the protocol's bind limit.
	insertChunkSize = 100

	healthCheckTimeout = 5 * time.Second
)

// db is the slice of pgxpool.Pool the store uses, narrowed so tests
// can substitute a fake.
type db interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close()
}

// execer covers both a transaction and the pool for statement
// execution.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

type Store struct {
	cfg    Config
	logger log.Logger
	db     db
}

// New opens the connection pool and verifies connectivity with a probe
// query. A failed probe closes the pool and aborts startup.
func New(ctx context.Context, cfg Config, logger log.Logger) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL())
	if err != nil {
		return nil, errors.Wrap(err, "parsing database config")
	}
	poolCfg.MinConns = int32(cfg.MinConnections)
	poolCfg.MaxConns = int32(cfg.MaxConnections)
	poolCfg.MaxConnIdleTime = cfg.IdleTimeout()
	poolCfg.ConnConfig.ConnectTimeout = cfg.ConnectionTimeout()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errors.Wrap(err, "creating connection pool")
	}

	probeCtx, cancel := context.WithTimeout(ctx, cfg.ConnectionTimeout())
	defer cancel()
	if _, err := pool.Exec(probeCtx, "SELECT 1"); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "verifying database connection")
	}

	return &Store{cfg: cfg, logger: logger, db: pool}, nil
}

// InsertByManufacturer writes a whole batch in one transaction: suntech
// history chunks, queclink history chunks, then the current-state
// upsert across both. Any statement failure rolls the transaction back
// after logging per-row diagnostics. Returns the number of history
// rows written.
func (s *Store) InsertByManufacturer(ctx context.Context, suntech, queclink []*Row) (int, error) {
	total := len(suntech) + len(queclink)
	if total == 0 {
		return 0, nil
	}

	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if err := s.appendHistory(ctx, tx, tableSuntech, suntech); err != nil {
			return err
		}
		if err := s.appendHistory(ctx, tx, tableQueclink, queclink); err != nil {
			return err
		}
		state := make([]*Row, 0, total)
		state = append(state, suntech...)
		state = append(state, queclink...)
		return s.upsertCurrentState(ctx, tx, state)
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}

// AppendHistory writes rows to one manufacturer's history table in its
// own transaction.
func (s *Store) AppendHistory(ctx context.Context, rows []*Row, manufacturer telemetry.Manufacturer) error {
	if len(rows) == 0 {
		return nil
	}
	table, err := historyTable(manufacturer)
	if err != nil {
		return err
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		return s.appendHistory(ctx, tx, table, rows)
	})
}

// UpsertCurrentState refreshes the current-state table from rows in
// its own transaction.
func (s *Store) UpsertCurrentState(ctx context.Context, rows []*Row) error {
	if len(rows) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx pgx.Tx) error {
		return s.upsertCurrentState(ctx, tx, rows)
	})
}

// CheckHealth runs the liveness probe, bounded at five seconds. A probe
// failure is logged and reported as unhealthy, not returned.
func (s *Store) CheckHealth(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()
	if _, err := s.db.Exec(ctx, "SELECT 1"); err != nil {
		level.Error(s.logger).Log("msg", "database health check failed", "err", err)
		return false
	}
	return true
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.db.Close()
}

// inTx runs fn inside one transaction. Begin is bounded by the pool
// acquire timeout; the deferred rollback is a no-op after commit.
func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	beginCtx, cancel := context.WithTimeout(ctx, s.cfg.ConnectionTimeout())
	defer cancel()
	tx, err := s.db.Begin(beginCtx)
	if err != nil {
		metricTransactions.WithLabelValues("begin_failed").Inc()
		return errors.Wrap(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		metricTransactions.WithLabelValues("rolled_back").Inc()
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		metricTransactions.WithLabelValues("rolled_back").Inc()
		return errors.Wrap(err, "committing transaction")
	}
	metricTransactions.WithLabelValues("committed").Inc()
	return nil
}

func (s *Store) appendHistory(ctx context.Context, x execer, table string, rows []*Row) error {
	for i := 0; i < len(rows); i += insertChunkSize {
		chunk := rows[i:min(i+insertChunkSize, len(rows))]
		sql, args := buildInsert(table, chunk)
		if _, err := x.Exec(ctx, sql, args...); err != nil {
			s.logChunkFailure(table, chunk, err)
			return errors.Wrapf(err, "inserting %d rows into %s", len(chunk), table)
		}
		metricRowsWritten.WithLabelValues(table).Add(float64(len(chunk)))
	}
	return nil
}

func (s *Store) upsertCurrentState(ctx context.Context, x execer, rows []*Row) error {
	rows = dedupeCurrentState(rows)
	for i := 0; i < len(rows); i += insertChunkSize {
		chunk := rows[i:min(i+insertChunkSize, len(rows))]
		sql, args := buildUpsert(chunk)
		if _, err := x.Exec(ctx, sql, args...); err != nil {
			s.logChunkFailure(tableCurrentState, chunk, err)
			return errors.Wrapf(err, "upserting %d rows into %s", len(chunk), tableCurrentState)
		}
		metricRowsWritten.WithLabelValues(tableCurrentState).Add(float64(len(chunk)))
	}
	return nil
}

func historyTable(m telemetry.Manufacturer) (string, error) {
	switch m {
	case telemetry.Suntech:
		return tableSuntech, nil
	case telemetry.Queclink:
		return tableQueclink, nil
	default:
		return "", errors.Errorf("unknown manufacturer %q", m)
	}
}

// dedupeCurrentState keeps the last occurrence per (device_id,
// msg_class). Two rows for the same key in one statement would make
// ON CONFLICT DO UPDATE fail with "cannot affect row a second time".
func dedupeCurrentState(rows []*Row) []*Row {
	type stateKey struct {
		deviceID string
		msgClass string
	}
	seen := make(map[stateKey]int, len(rows))
	out := make([]*Row, 0, len(rows))
	for _, r := range rows {
		k := stateKey{deviceID: r.DeviceID, msgClass: r.MsgClass}
		if i, ok := seen[k]; ok {
			out[i] = r
			continue
		}
		seen[k] = len(out)
		out = append(out, r)
	}
	return out
}

func buildInsert(table string, rows []*Row) (string, []any) {
	var sb strings.Builder
	sb.WriteString("INSERT INTO ")
	sb.WriteString(table)
	sb.WriteString(" (")
	sb.WriteString(strings.Join(columns, ", "))
	sb.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	for i, r := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for j := range columns {
			if j > 0 {
				sb.WriteString(", ")
			}
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(i*len(columns) + j + 1))
		}
		sb.WriteByte(')')
		args = append(args, r.args()...)
	}
	return sb.String(), args
}

func buildUpsert(rows []*Row) (string, []any) {
	sql, args := buildInsert(tableCurrentState, rows)
	return sql + " ON CONFLICT (device_id, msg_class) DO UPDATE SET " + upsertAssignments, args
}

// upsertAssignments is the DO UPDATE SET list: every column except the
// device_id conflict key, with received_at refreshed server-side and
// created_at carried from the incoming row.
var upsertAssignments = func() string {
	parts := make([]string, 0, len(columns))
	for _, col := range columns {
		switch col {
		case "device_id":
			continue
		case "received_at":
			parts = append(parts, "received_at = NOW()")
		default:
			parts = append(parts, fmt.Sprintf("%s = EXCLUDED.%s", col, col))
		}
	}
	return strings.Join(parts, ", ")
}()

// logChunkFailure emits per-row diagnostics for a failed statement. The
// usual culprit is an over-long value in one of the VARCHAR columns, so
// the bounded fields are called out explicitly.
func (s *Store) logChunkFailure(table string, rows []*Row, cause error) {
	level.Error(s.logger).Log("msg", "batch insert failed", "table", table, "rows", len(rows), "err", cause)
	for i, r := range rows {
		level.Warn(s.logger).Log(
			"msg", "failed batch row",
			"row", i,
			"device_id", r.DeviceID,
			"uuid", r.UUID,
			"cell_id_len", len(r.CellID),
			"lac_len", len(r.LAC),
			"mcc_len", len(r.MCC),
			"mnc_len", len(r.MNC),
		)
		logFieldIfTooLong(s.logger, "cell_id", r.CellID, maxLenCellID)
		logFieldIfTooLong(s.logger, "lac", r.LAC, maxLenLAC)
		logFieldIfTooLong(s.logger, "mcc", r.MCC, maxLenMCC)
		logFieldIfTooLong(s.logger, "mnc", r.MNC, maxLenMNC)
		logFieldIfTooLong(s.logger, "model", r.Model, maxLenModel)
		logFieldIfTooLong(s.logger, "firmware", r.Firmware, maxLenFirmware)
		logFieldIfTooLong(s.logger, "msg_class", r.MsgClass, maxLenMsgClass)
	}
}

func logFieldIfTooLong(logger log.Logger, field, value string, maxLen int) {
	if len(value) <= maxLen {
		return
	}
	level.Error(logger).Log(
		"msg", fmt.Sprintf("Campo '%s' excede límite", field),
		"longitud", len(value),
		"limite", maxLen,
		"valor", value,
	)
}
