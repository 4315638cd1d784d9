package journal

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultTable = "fingpt_exchanges"

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Postgres stores exchanges in a single table.
type Postgres struct {
	DB    *pgxpool.Pool
	table string
}

// NewPostgres connects to Postgres. table defaults to fingpt_exchanges.
func NewPostgres(ctx context.Context, connStr, table string) (*Postgres, error) {
	if table == "" {
		table = defaultTable
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("journal: invalid table name %q", table)
	}
	db, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Postgres: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping Postgres: %w", err)
	}
	return &Postgres{DB: db, table: table}, nil
}

// CreateSchema creates the exchange table and its lookup index.
func (p *Postgres) CreateSchema(ctx context.Context) error {
	if p == nil || p.DB == nil {
		return nil
	}
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
    id              TEXT PRIMARY KEY,
    conversation_id TEXT NOT NULL,
    user_text       TEXT NOT NULL,
    attachments     TEXT[] NOT NULL DEFAULT '{}',
    reply           TEXT NOT NULL,
    document        TEXT NOT NULL DEFAULT '',
    created_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS %[1]s_conv_idx ON %[1]s (conversation_id, created_at DESC);`, p.table)
	if _, err := p.DB.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

func (p *Postgres) Record(ctx context.Context, ex Exchange) error {
	if p == nil || p.DB == nil {
		return nil
	}
	ex = Stamp(ex)
	attachments := ex.Attachments
	if attachments == nil {
		attachments = []string{}
	}
	query := fmt.Sprintf(`INSERT INTO %s (id, conversation_id, user_text, attachments, reply, document, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`, p.table)
	_, err := p.DB.Exec(ctx, query, ex.ID, ex.ConversationID, ex.UserText, attachments, ex.Reply, ex.Document, ex.CreatedAt)
	return err
}

func (p *Postgres) Recent(ctx context.Context, conversationID string, limit int) ([]Exchange, error) {
	if p == nil || p.DB == nil || limit <= 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT id, conversation_id, user_text, attachments, reply, document, created_at
FROM %s WHERE conversation_id = $1 ORDER BY created_at DESC LIMIT $2`, p.table)
	rows, err := p.DB.Query(ctx, query, conversationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Exchange
	for rows.Next() {
		var ex Exchange
		if err := rows.Scan(&ex.ID, &ex.ConversationID, &ex.UserText, &ex.Attachments, &ex.Reply, &ex.Document, &ex.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ex)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	reverse(out)
	return out, nil
}

// Close releases the underlying connection pool.
func (p *Postgres) Close() error {
	if p == nil || p.DB == nil {
		return nil
	}
	p.DB.Close()
	return nil
}

func reverse(list []Exchange) {
	for i, j := 0, len(list)-1; i < j; i, j = i+1, j-1 {
		list[i], list[j] = list[j], list[i]
	}
}
