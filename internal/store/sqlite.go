package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// ErrPitchNotFound reports feedback against a pitch_id that was never logged.
var ErrPitchNotFound = errors.New("pitch not found")

// SQLiteStore holds the local replica of the televendas sales view, the
// seller directory and the pitch usage log.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dataSourceName string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err = store.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) initSchema() error {
	schema := `
    CREATE TABLE IF NOT EXISTS FAL_IA_Dados_Vendas_Televendas (
        Data_Emissao DATE NOT NULL,
        Numero_Documento INTEGER NOT NULL,
        Status_Documento TEXT,
        Tipo_Documento TEXT,
        SKU TEXT NOT NULL,
        Nome_Produto TEXT,
        Quantidade REAL,
        Valor_Liquido REAL,
        Margem_Valor REAL,
        Codigo_Cliente TEXT NOT NULL,
        Nome_Cliente TEXT,
        Cidade TEXT,
        Estado TEXT,
        Vendedor_Atual TEXT
    );

    CREATE INDEX IF NOT EXISTS idx_vendas_cliente ON FAL_IA_Dados_Vendas_Televendas (Codigo_Cliente);
    CREATE INDEX IF NOT EXISTS idx_vendas_vendedor ON FAL_IA_Dados_Vendas_Televendas (Vendedor_Atual);
    CREATE INDEX IF NOT EXISTS idx_vendas_data ON FAL_IA_Dados_Vendas_Televendas (Data_Emissao);

    CREATE TABLE IF NOT EXISTS vendedores (
        slp_code INTEGER PRIMARY KEY,
        slp_name TEXT NOT NULL
    );

    CREATE TABLE IF NOT EXISTS pitch_log (
        pitch_id TEXT PRIMARY KEY, -- UUID
        card_code TEXT NOT NULL,
        target_sku TEXT,
        pitch_text TEXT,
        user_id TEXT,
        created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
        feedback TEXT,
        feedback_by TEXT
    );
    `
	_, err := s.db.Exec(schema)
	return err
}

// Select executes a read query and materializes the result as a Rowset.
// Callers at the tool boundary are expected to translate errors into an
// empty-result answer; Select itself reports them so the REST surface can
// distinguish.
func (s *SQLiteStore) Select(ctx context.Context, query string, args ...any) (*Rowset, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	rs := &Rowset{Columns: cols}
	for rows.Next() {
		raw := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		rendered := make([]string, len(cols))
		for i, v := range raw {
			rendered[i] = renderValue(v)
		}
		rs.Rows = append(rs.Rows, rendered)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration failed: %w", err)
	}
	return rs, nil
}

// Seller directory methods

func (s *SQLiteStore) SellerNameByCode(ctx context.Context, code int) (string, bool, error) {
	var name string
	err := s.db.QueryRowContext(ctx, "SELECT slp_name FROM vendedores WHERE slp_code = ?", code).Scan(&name)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to query seller directory: %w", err)
	}
	return name, true, nil
}

func (s *SQLiteStore) UpsertSeller(ctx context.Context, seller Seller) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO vendedores (slp_code, slp_name) VALUES (?, ?) ON CONFLICT(slp_code) DO UPDATE SET slp_name = excluded.slp_name",
		seller.Code, seller.Name)
	if err != nil {
		return fmt.Errorf("failed to upsert seller: %w", err)
	}
	return nil
}

// Pitch log methods

func (s *SQLiteStore) LogPitchUsage(ctx context.Context, usage PitchUsage) error {
	stmt, err := s.db.PrepareContext(ctx,
		"INSERT INTO pitch_log (pitch_id, card_code, target_sku, pitch_text, user_id, created_at) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("failed to prepare pitch log insert: %w", err)
	}
	defer stmt.Close()

	createdAt := usage.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	if _, err = stmt.ExecContext(ctx, usage.PitchID, usage.CardCode, usage.TargetSKU, usage.PitchText, usage.UserID, createdAt); err != nil {
		return fmt.Errorf("failed to log pitch usage: %w", err)
	}
	return nil
}

func (s *SQLiteStore) LogPitchFeedback(ctx context.Context, pitchID, feedbackType, userID string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE pitch_log SET feedback = ?, feedback_by = ? WHERE pitch_id = ?",
		feedbackType, userID, pitchID)
	if err != nil {
		return fmt.Errorf("failed to log pitch feedback: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("pitch %q: %w", pitchID, ErrPitchNotFound)
	}
	return nil
}
