package database

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Predicate is a single WHERE condition. Only the predicates the store
// actually needs are supported; there is no general filter language.
type Predicate interface {
	render(d Dialect) (string, []any, error)
}

// Equals matches rows whose column equals Value.
type Equals struct {
	Column string
	Value  any
}

func (p Equals) render(Dialect) (string, []any, error) {
	return quoteIdent(p.Column) + " = ?", []any{p.Value}, nil
}

// Range matches rows with From <= column < To.
type Range struct {
	Column string
	From   any
	To     any
}

func (p Range) render(Dialect) (string, []any, error) {
	col := quoteIdent(p.Column)
	return col + " >= ? AND " + col + " < ?", []any{p.From, p.To}, nil
}

// JSONArrayContains matches rows whose JSON array column holds at least one
// object with Field equal to Value.
type JSONArrayContains struct {
	Column string
	Field  string
	Value  string
}

func (p JSONArrayContains) render(d Dialect) (string, []any, error) {
	col := quoteIdent(p.Column)
	switch d {
	case DialectPostgres:
		doc, err := json.Marshal([]map[string]string{{p.Field: p.Value}})
		if err != nil {
			return "", nil, fmt.Errorf("failed to encode containment document: %w", err)
		}
		return col + " @> ?::jsonb", []any{string(doc)}, nil
	case DialectSQLite:
		return "EXISTS (SELECT 1 FROM json_each(" + col + ") WHERE json_extract(json_each.value, ?) = ?)",
			[]any{"$." + p.Field, p.Value}, nil
	default:
		return "", nil, fmt.Errorf("unsupported dialect %q", d)
	}
}

// selectQuery is a minimal SELECT builder over one table.
type selectQuery struct {
	table   string
	columns []string
	where   []Predicate
	orderBy []string
}

// build renders the query with '?' placeholders; callers Rebind for the driver.
func (q selectQuery) build(d Dialect) (string, []any, error) {
	cols := make([]string, len(q.columns))
	for i, c := range q.columns {
		cols[i] = quoteIdent(c)
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(cols, ", "))
	b.WriteString(" FROM ")
	b.WriteString(quoteIdent(q.table))

	var args []any
	for i, p := range q.where {
		clause, pargs, err := p.render(d)
		if err != nil {
			return "", nil, err
		}
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		b.WriteString("(" + clause + ")")
		args = append(args, pargs...)
	}

	if len(q.orderBy) > 0 {
		order := make([]string, len(q.orderBy))
		for i, c := range q.orderBy {
			order[i] = quoteIdent(c)
		}
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(order, ", "))
	}

	return b.String(), args, nil
}

// quoteIdent double-quotes an identifier; "user" is reserved in PostgreSQL.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
