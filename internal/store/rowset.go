package store

import (
	"fmt"
	"strings"
	"time"
)

// Rowset is the result of a dataset query: ordered columns plus rows with
// every value already rendered as text. It is the only shape the
// conversational core ever sees, regardless of the underlying engine.
type Rowset struct {
	Columns []string
	Rows    [][]string
}

func (r *Rowset) Empty() bool {
	return r == nil || len(r.Rows) == 0
}

func (r *Rowset) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// Table renders the rowset as a markdown table, capped at maxRows so a big
// result cannot blow up the model prompt. A truncation note is appended when
// rows were dropped.
func (r *Rowset) Table(maxRows int) string {
	if r.Empty() {
		return ""
	}

	var b strings.Builder
	b.WriteString("| ")
	b.WriteString(strings.Join(r.Columns, " | "))
	b.WriteString(" |\n|")
	for range r.Columns {
		b.WriteString(" --- |")
	}
	b.WriteString("\n")

	shown := len(r.Rows)
	if maxRows > 0 && shown > maxRows {
		shown = maxRows
	}
	for _, row := range r.Rows[:shown] {
		b.WriteString("| ")
		b.WriteString(strings.Join(row, " | "))
		b.WriteString(" |\n")
	}

	if shown < len(r.Rows) {
		fmt.Fprintf(&b, "\n(exibindo %d de %d linhas)\n", shown, len(r.Rows))
	}
	return b.String()
}

// Records converts the rowset into JSON-friendly objects for the REST
// surface.
func (r *Rowset) Records() []map[string]string {
	if r.Empty() {
		return []map[string]string{}
	}
	out := make([]map[string]string, 0, len(r.Rows))
	for _, row := range r.Rows {
		rec := make(map[string]string, len(r.Columns))
		for i, col := range r.Columns {
			if i < len(row) {
				rec[col] = row[i]
			}
		}
		out = append(out, rec)
	}
	return out
}

func renderValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(val)
	case time.Time:
		return val.Format("2006-01-02")
	case float64:
		// Avoid the %v exponent form for money-ish values.
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%.2f", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
