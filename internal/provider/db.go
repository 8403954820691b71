package provider

import (
	"context"
	"database/sql"
	"fmt"
)

// DBProviders — READ_DB/WRITE_DB поверх пула хоста (pgx через database/sql).
// Регистрируются только если хост дал строку подключения.
type DBProviders struct {
	db *sql.DB
}

func NewDBProviders(db *sql.DB) *DBProviders {
	return &DBProviders{db: db}
}

// Read исполняет SELECT. Это read-only проба, допустимая и в simulate.
func (d *DBProviders) Read() Func {
	return func(ctx context.Context, params map[string]any, simulate bool) (Result, error) {
		query, _ := params["query"].(string)
		if query == "" {
			return nil, fmt.Errorf("read_db: query param is required")
		}

		rows, err := d.db.QueryContext(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("read_db: %w", err)
		}
		defer rows.Close()

		cols, err := rows.Columns()
		if err != nil {
			return nil, fmt.Errorf("read_db: columns: %w", err)
		}

		var out []map[string]any
		for rows.Next() {
			vals := make([]any, len(cols))
			ptrs := make([]any, len(cols))
			for i := range vals {
				ptrs[i] = &vals[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				return nil, fmt.Errorf("read_db: scan: %w", err)
			}
			row := make(map[string]any, len(cols))
			for i, c := range cols {
				row[c] = vals[i]
			}
			out = append(out, row)
		}
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("read_db: rows: %w", err)
		}

		return Result{"status": "success", "rows": out, "count": len(out)}, nil
	}
}

// Write исполняет мутирующий запрос. Simulate не трогает базу вовсе —
// возвращается прогноз без выполнения.
func (d *DBProviders) Write() Func {
	return func(ctx context.Context, params map[string]any, simulate bool) (Result, error) {
		query, _ := params["query"].(string)
		if query == "" {
			return nil, fmt.Errorf("write_db: query param is required")
		}

		if simulate {
			return Result{"status": "simulated", "would_execute": query}, nil
		}

		res, err := d.db.ExecContext(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("write_db: %w", err)
		}
		affected, _ := res.RowsAffected()
		return Result{"status": "success", "rows_affected": affected}, nil
	}
}
