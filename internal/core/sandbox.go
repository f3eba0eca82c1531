package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/falimentos/mariia/internal/store"
)

// The sandbox lets the model author an ad-hoc read-only query against the
// single permitted view when no canned tool answers the question. It must
// guarantee three things before anything touches the database: no mutation,
// no other table, no rows outside the caller's seller scope.

const (
	permittedTable = "FAL_IA_Dados_Vendas_Televendas"
	scopeColumn    = "Vendedor_Atual"
	sandboxRowCap  = 30
)

var forbiddenTokens = map[string]bool{
	"UPDATE": true, "DELETE": true, "DROP": true, "INSERT": true,
	"ALTER": true, "TRUNCATE": true, "EXEC": true, "MERGE": true,
	"GRANT": true, "REVOKE": true,
}

// QueryRunner is the slice of the store the sandbox and the canned tools
// need. Tests substitute a recording fake.
type QueryRunner interface {
	Select(ctx context.Context, query string, args ...any) (*store.Rowset, error)
}

type Sandbox struct {
	runner QueryRunner
	log    *slog.Logger
}

func NewSandbox(runner QueryRunner, log *slog.Logger) *Sandbox {
	return &Sandbox{runner: runner, log: log}
}

// Execute validates the candidate, forces the seller scope when one is
// active, and runs it. Validation failures come back as errors (and reach
// the model as explanatory text); execution failures and empty results are
// regular answers, never stream-terminating.
func (s *Sandbox) Execute(ctx context.Context, candidate string, scope *Scope) (string, error) {
	query := strings.TrimSpace(candidate)
	if err := validateQuery(query); err != nil {
		return "", fmt.Errorf("consulta recusada: %w", err)
	}

	if scope != nil {
		query = injectScope(query, scope)
	}

	rs, err := s.runner.Select(ctx, query)
	if err != nil {
		s.log.Warn("sandboxed query failed at the database", "error", err)
		return "Não encontrei dados para essa consulta.", nil
	}
	if rs.Empty() {
		return "A consulta foi executada com sucesso, mas retornou zero linhas.", nil
	}
	return rs.Table(sandboxRowCap), nil
}

// --- validation ---

func validateQuery(query string) error {
	toks, err := scanSQL(query)
	if err != nil {
		return err
	}
	if len(toks) == 0 {
		return errors.New("consulta vazia")
	}
	if toks[0].upper != "SELECT" {
		return errors.New("apenas consultas SELECT são permitidas")
	}

	// Forbidden verbs first, so "…; DROP TABLE x" names DROP and not the
	// separator.
	for _, t := range toks {
		if !t.quoted && forbiddenTokens[t.upper] {
			return fmt.Errorf("token proibido %s", t.upper)
		}
	}
	for _, t := range toks {
		switch t.text {
		case ";":
			return errors.New("separador de instruções ';' não é permitido")
		case "--", "/*":
			return errors.New("comentários não são permitidos")
		}
	}

	if err := checkTableRefs(toks); err != nil {
		return err
	}
	for _, t := range toks {
		if strings.EqualFold(t.bare(), permittedTable) {
			return nil
		}
	}
	return fmt.Errorf("a consulta deve referenciar a view %s", permittedTable)
}

// clauseStarters end the table-reference list of a FROM or JOIN.
var clauseStarters = map[string]bool{
	"WHERE": true, "GROUP": true, "ORDER": true, "HAVING": true,
	"LIMIT": true, "ON": true, "USING": true, "UNION": true, "SELECT": true,
}

// checkTableRefs requires every table referenced by a FROM or JOIN, at any
// depth and including comma-join members, to be the permitted view. Merely
// mentioning the view is not enough: a comma-join with another table would
// otherwise return rows the scope predicate does not constrain. Derived
// tables pass here; their own FROM is checked when the walk reaches it.
func checkTableRefs(toks []sqlToken) error {
	for i, t := range toks {
		if t.upper != "FROM" && t.upper != "JOIN" {
			continue
		}
		expectRef := true
		for j := i + 1; j < len(toks); j++ {
			tok := toks[j]
			if tok.depth > t.depth {
				// Inside a subquery; it stands in for the reference.
				expectRef = false
				continue
			}
			if tok.depth < t.depth {
				break
			}
			if tok.text == "," {
				expectRef = true
				continue
			}
			if clauseStarters[tok.upper] || tok.upper == "JOIN" {
				break
			}
			if expectRef {
				if !strings.EqualFold(tok.bare(), permittedTable) {
					return fmt.Errorf("tabela %s não é permitida; consulte apenas %s", tok.bare(), permittedTable)
				}
				expectRef = false
			}
			// Alias or AS keyword; skip.
		}
	}
	return nil
}

// injectScope rewrites the query so the scope predicate is enforced, by
// first-match precedence over the top-level clause shape:
// existing WHERE → scope becomes the first conjunct and the original
// predicate is parenthesized (so OR chains keep their meaning); else a new
// WHERE goes before GROUP BY; else before ORDER BY; else at the end.
// Clause keywords inside string literals or subqueries are ignored because
// positions come from the depth-tracking scanner.
func injectScope(query string, scope *Scope) string {
	cond := fmt.Sprintf("%s = '%s'", scopeColumn, strings.ReplaceAll(scope.Name, "'", "''"))

	toks, err := scanSQL(query)
	if err != nil {
		// Validation already passed; this is unreachable in practice.
		return query
	}

	whereIdx, groupPos, orderPos := -1, -1, -1
	for i, t := range toks {
		if t.depth != 0 || t.quoted {
			continue
		}
		switch t.upper {
		case "WHERE":
			if whereIdx < 0 {
				whereIdx = i
			}
		case "GROUP":
			if groupPos < 0 && i+1 < len(toks) && toks[i+1].upper == "BY" {
				groupPos = t.pos
			}
		case "ORDER":
			if orderPos < 0 && i+1 < len(toks) && toks[i+1].upper == "BY" {
				orderPos = t.pos
			}
		}
	}

	switch {
	case whereIdx >= 0:
		where := toks[whereIdx]
		predStart := where.pos + len(where.text)
		predEnd := len(query)
		for _, t := range toks[whereIdx+1:] {
			if t.depth != 0 || t.quoted {
				continue
			}
			switch t.upper {
			case "GROUP", "ORDER", "HAVING", "LIMIT":
				predEnd = t.pos
			}
			if predEnd != len(query) {
				break
			}
		}
		pred := strings.TrimSpace(query[predStart:predEnd])
		rest := query[predEnd:]
		out := query[:predStart] + " " + cond + " AND (" + pred + ")"
		if rest != "" {
			out += " " + strings.TrimLeft(rest, " ")
		}
		return out
	case groupPos >= 0:
		return strings.TrimRight(query[:groupPos], " ") + " WHERE " + cond + " " + query[groupPos:]
	case orderPos >= 0:
		return strings.TrimRight(query[:orderPos], " ") + " WHERE " + cond + " " + query[orderPos:]
	default:
		return strings.TrimRight(query, " \t\n") + " WHERE " + cond
	}
}

// --- minimal literal-aware scanner ---

type sqlToken struct {
	text   string
	upper  string
	pos    int
	depth  int
	quoted bool
}

// bare strips identifier quoting so `[FAL_IA_…]` still counts as a
// reference to the permitted view.
func (t sqlToken) bare() string {
	s := t.text
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	s = strings.Trim(s, `"`)
	return s
}

func isWordByte(b byte) bool {
	return b == '_' ||
		(b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z') ||
		(b >= '0' && b <= '9')
}

// scanSQL tokenizes just enough SQL to validate and rewrite safely: string
// literals are skipped entirely, quoted identifiers are flagged, and the
// parenthesis depth is recorded so subquery internals never count as
// top-level clauses.
func scanSQL(q string) ([]sqlToken, error) {
	var toks []sqlToken
	depth := 0
	i, n := 0, len(q)

	for i < n {
		ch := q[i]
		switch {
		case ch == '\'':
			j := i + 1
			for {
				if j >= n {
					return nil, errors.New("literal de texto não terminado")
				}
				if q[j] == '\'' {
					if j+1 < n && q[j+1] == '\'' {
						j += 2
						continue
					}
					break
				}
				j++
			}
			i = j + 1
		case ch == '[':
			end := strings.IndexByte(q[i:], ']')
			if end < 0 {
				return nil, errors.New("identificador entre colchetes não terminado")
			}
			text := q[i : i+end+1]
			toks = append(toks, sqlToken{text: text, upper: strings.ToUpper(text), pos: i, depth: depth, quoted: true})
			i += end + 1
		case ch == '"':
			end := strings.IndexByte(q[i+1:], '"')
			if end < 0 {
				return nil, errors.New("identificador entre aspas não terminado")
			}
			text := q[i : i+end+2]
			toks = append(toks, sqlToken{text: text, upper: strings.ToUpper(text), pos: i, depth: depth, quoted: true})
			i += end + 2
		case ch == '(':
			depth++
			i++
		case ch == ')':
			depth--
			if depth < 0 {
				return nil, errors.New("parênteses desbalanceados")
			}
			i++
		case ch == '-' && i+1 < n && q[i+1] == '-':
			toks = append(toks, sqlToken{text: "--", upper: "--", pos: i, depth: depth})
			i += 2
		case ch == '/' && i+1 < n && q[i+1] == '*':
			toks = append(toks, sqlToken{text: "/*", upper: "/*", pos: i, depth: depth})
			i += 2
		case ch == ';':
			toks = append(toks, sqlToken{text: ";", upper: ";", pos: i, depth: depth})
			i++
		case ch == ',':
			toks = append(toks, sqlToken{text: ",", upper: ",", pos: i, depth: depth})
			i++
		case isWordByte(ch):
			j := i
			for j < n && isWordByte(q[j]) {
				j++
			}
			text := q[i:j]
			toks = append(toks, sqlToken{text: text, upper: strings.ToUpper(text), pos: i, depth: depth})
			i = j
		default:
			i++
		}
	}

	if depth != 0 {
		return nil, errors.New("parênteses desbalanceados")
	}
	return toks, nil
}
