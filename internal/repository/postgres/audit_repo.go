package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/xela07ax/freedom-sandbox/internal/audit"
	"github.com/xela07ax/freedom-sandbox/internal/domain"

	_ "github.com/jackc/pgx/v5/stdlib" // Драйвер Postgres
)

/*
AuditRepo — долговременное хранилище записей цепочки (форензика, выборки
для консоли). Для Verify источник правды — цепочка в RAM: база хранит
копию записей вместе с hash/prev_hash, так что независимый аудитор может
пересчитать цепочку и по выгрузке.

Схема:

	CREATE TABLE audit_chain (
	    seq         BIGINT PRIMARY KEY,
	    ts          TIMESTAMPTZ NOT NULL,
	    trace_id    TEXT,
	    agent_id    TEXT NOT NULL,
	    scope       TEXT NOT NULL,
	    kind        TEXT NOT NULL,
	    params_hash TEXT NOT NULL,
	    outcome     TEXT NOT NULL,
	    cost        DOUBLE PRECISION NOT NULL,
	    prev_hash   TEXT NOT NULL,
	    hash        TEXT NOT NULL
	);
*/
type AuditRepo struct {
	db *sql.DB
}

func NewAuditRepo(connString string, maxConns int) (*AuditRepo, error) {
	db, err := sql.Open("pgx", connString)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if maxConns <= 0 {
		maxConns = 15
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	db.SetConnMaxLifetime(5 * time.Minute)
	return &AuditRepo{db: db}, nil
}

// DB отдает пул для DB-провайдеров (READ_DB/WRITE_DB разделяют соединения).
func (r *AuditRepo) DB() *sql.DB { return r.db }

// Ping проверяет доступность базы при старте
func (r *AuditRepo) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *AuditRepo) Close() error { return r.db.Close() }

// WriteBatch сохраняет пачку записей одним INSERT (Bulk Insert).
// ON CONFLICT DO NOTHING: seq уникален, повторная доставка из буфера
// не плодит дублей.
func (r *AuditRepo) WriteBatch(ctx context.Context, entries []audit.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	const numFields = 11
	placeholders := make([]string, 0, len(entries))
	vals := make([]interface{}, 0, len(entries)*numFields)

	for i, e := range entries {
		p := i * numFields
		placeholders = append(placeholders, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			p+1, p+2, p+3, p+4, p+5, p+6, p+7, p+8, p+9, p+10, p+11))

		vals = append(vals,
			e.Seq, e.Timestamp, e.TraceID, e.AgentID, e.Scope,
			string(e.Kind), e.ParamsHash, string(e.Outcome), e.Cost, e.PrevHash, e.Hash,
		)
	}

	query := fmt.Sprintf(
		"INSERT INTO audit_chain (seq, ts, trace_id, agent_id, scope, kind, params_hash, outcome, cost, prev_hash, hash) VALUES %s ON CONFLICT (seq) DO NOTHING",
		strings.Join(placeholders, ","),
	)

	if _, err := r.db.ExecContext(ctx, query, vals...); err != nil {
		return fmt.Errorf("postgres: audit batch insert: %w", err)
	}
	return nil
}

// FetchEntries — выборка для консоли с фильтрацией по scope/kind.
// Пустой фильтр — без ограничения.
func (r *AuditRepo) FetchEntries(ctx context.Context, scope, kind string, limit int) ([]audit.Entry, error) {
	query := `SELECT seq, ts, trace_id, agent_id, scope, kind, params_hash, outcome, cost, prev_hash, hash
	          FROM audit_chain`

	var conds []string
	var args []interface{}
	if scope != "" {
		args = append(args, scope)
		conds = append(conds, fmt.Sprintf("scope = $%d", len(args)))
	}
	if kind != "" {
		args = append(args, kind)
		conds = append(conds, fmt.Sprintf("kind = $%d", len(args)))
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY seq DESC LIMIT $%d", len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: failed to query audit chain: %w", err)
	}
	defer rows.Close()

	// Инициализируем пустой слайс, чтобы в JSON был [] вместо null
	out := make([]audit.Entry, 0)
	for rows.Next() {
		var e audit.Entry
		var kindStr, outcomeStr string
		if err := rows.Scan(&e.Seq, &e.Timestamp, &e.TraceID, &e.AgentID, &e.Scope,
			&kindStr, &e.ParamsHash, &outcomeStr, &e.Cost, &e.PrevHash, &e.Hash); err != nil {
			return nil, fmt.Errorf("postgres: failed to scan audit entry: %w", err)
		}
		e.Kind = domain.ActionKind(kindStr)
		e.Outcome = audit.Outcome(outcomeStr)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows iteration error: %w", err)
	}
	return out, nil
}
