package store

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

var salesColumns = []string{
	"Data_Emissao", "Numero_Documento", "Status_Documento", "Tipo_Documento",
	"SKU", "Nome_Produto", "Quantidade", "Valor_Liquido", "Margem_Valor",
	"Codigo_Cliente", "Nome_Cliente", "Cidade", "Estado", "Vendedor_Atual",
}

// IngestSalesCSV loads an export of the televendas view into the local
// replica. The CSV header must name a subset of the view's columns; missing
// columns are stored as NULL. Returns the number of rows inserted.
func (s *SQLiteStore) IngestSalesCSV(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open sales export: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return 0, fmt.Errorf("failed to read CSV header: %w", err)
	}

	known := make(map[string]bool, len(salesColumns))
	for _, c := range salesColumns {
		known[c] = true
	}
	for i, col := range header {
		header[i] = strings.TrimSpace(col)
		if !known[header[i]] {
			return 0, fmt.Errorf("unknown column %q in sales export", header[i])
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin ingestion transaction: %w", err)
	}
	defer tx.Rollback()

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(header)), ", ")
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(
		"INSERT INTO FAL_IA_Dados_Vendas_Televendas (%s) VALUES (%s)",
		strings.Join(header, ", "), placeholders))
	if err != nil {
		return 0, fmt.Errorf("failed to prepare ingestion insert: %w", err)
	}
	defer stmt.Close()

	count := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("failed to read CSV record %d: %w", count+1, err)
		}
		args := make([]any, len(record))
		for i, v := range record {
			args[i] = strings.TrimSpace(v)
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return 0, fmt.Errorf("failed to insert record %d: %w", count+1, err)
		}
		count++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit ingestion: %w", err)
	}
	return count, nil
}

// IngestSellersCSV loads the seller directory (slp_code,slp_name).
func (s *SQLiteStore) IngestSellersCSV(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open seller directory export: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return 0, fmt.Errorf("failed to read CSV header: %w", err)
	}
	if len(header) < 2 || strings.TrimSpace(header[0]) != "slp_code" || strings.TrimSpace(header[1]) != "slp_name" {
		return 0, fmt.Errorf("seller directory export must have header slp_code,slp_name")
	}

	count := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("failed to read CSV record %d: %w", count+1, err)
		}
		code, err := strconv.Atoi(strings.TrimSpace(record[0]))
		if err != nil {
			return 0, fmt.Errorf("invalid slp_code %q: %w", record[0], err)
		}
		if err := s.UpsertSeller(ctx, Seller{Code: code, Name: strings.TrimSpace(record[1])}); err != nil {
			return 0, err
		}
		count++
	}
	return count, nil
}
