package backend

import (
	"fmt"
	"slices"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"
)

// RowIDColumn is the implicit row identity used when a table declares no primary key.
const RowIDColumn = "%ID"

// defaultSchema is where unqualified table names live upstream.
const defaultSchema = "SQLUser"

// ErrInvalidInput marks builder failures caused by the caller's request rather
// than by the upstream. Test with errors.Is.
var ErrInvalidInput = errors.New("invalid input")

// ErrInvalidIdentifier is returned for names that cannot be quoted safely.
var ErrInvalidIdentifier = errors.Mark(errors.New("invalid identifier"), ErrInvalidInput)

// TableRef is a schema-qualified table name.
type TableRef struct {
	Schema string
	Name   string
}

// ParseTable splits "Schema.Table". A bare name lands in the default schema.
func ParseTable(s string) TableRef {
	s = strings.TrimSpace(s)
	if i := strings.LastIndex(s, "."); i > 0 && i < len(s)-1 {
		return TableRef{Schema: s[:i], Name: s[i+1:]}
	}
	return TableRef{Schema: defaultSchema, Name: s}
}

func (t TableRef) String() string { return t.Schema + "." + t.Name }

// Builder produces parameterized SQL. Implementations own identifier escaping.
type Builder interface {
	ListTables() (string, []any)
	Columns(t TableRef) (string, []any)
	PrimaryKey(t TableRef) (string, []any)
	SelectPage(t TableRef, key []string, offset, limit int) (string, []any, error)
	Update(t TableRef, key, changes map[string]any) (string, []any, error)
	Insert(t TableRef, values map[string]any) (string, []any, error)
	Delete(t TableRef, key map[string]any) (string, []any, error)
}

// SQLBuilder quotes identifiers with double quotes and binds values as ? parameters.
type SQLBuilder struct{}

var _ Builder = SQLBuilder{}

func (SQLBuilder) ListTables() (string, []any) {
	return "SELECT TABLE_SCHEMA, TABLE_NAME FROM INFORMATION_SCHEMA.TABLES " +
		"WHERE TABLE_TYPE = 'BASE TABLE' ORDER BY TABLE_SCHEMA, TABLE_NAME", nil
}

func (SQLBuilder) Columns(t TableRef) (string, []any) {
	return "SELECT COLUMN_NAME, DATA_TYPE, IS_NULLABLE FROM INFORMATION_SCHEMA.COLUMNS " +
		"WHERE TABLE_SCHEMA = ? AND TABLE_NAME = ? ORDER BY ORDINAL_POSITION", []any{t.Schema, t.Name}
}

func (SQLBuilder) PrimaryKey(t TableRef) (string, []any) {
	return "SELECT k.COLUMN_NAME FROM INFORMATION_SCHEMA.KEY_COLUMN_USAGE k " +
		"JOIN INFORMATION_SCHEMA.TABLE_CONSTRAINTS c ON c.CONSTRAINT_SCHEMA = k.CONSTRAINT_SCHEMA AND c.CONSTRAINT_NAME = k.CONSTRAINT_NAME " +
		"WHERE c.CONSTRAINT_TYPE = 'PRIMARY KEY' AND k.TABLE_SCHEMA = ? AND k.TABLE_NAME = ? " +
		"ORDER BY k.ORDINAL_POSITION", []any{t.Schema, t.Name}
}

func (b SQLBuilder) SelectPage(t TableRef, key []string, offset, limit int) (string, []any, error) {
	tbl, err := b.table(t)
	if err != nil {
		return "", nil, err
	}
	if offset < 0 || limit <= 0 {
		return "", nil, errors.Mark(errors.Newf("invalid window offset=%d limit=%d", offset, limit), ErrInvalidInput)
	}

	cols := "*"
	if slices.Contains(key, RowIDColumn) {
		cols = `%ID AS "%ID", *`
	}

	order := ""
	if len(key) > 0 {
		quoted, err := quoteAll(key)
		if err != nil {
			return "", nil, err
		}
		order = " ORDER BY " + strings.Join(quoted, ", ")
	}

	q := fmt.Sprintf("SELECT * FROM (SELECT TOP ALL %s FROM %s%s) WHERE %%VID BETWEEN ? AND ?", cols, tbl, order)
	return q, []any{offset + 1, offset + limit}, nil
}

func (b SQLBuilder) Update(t TableRef, key, changes map[string]any) (string, []any, error) {
	tbl, err := b.table(t)
	if err != nil {
		return "", nil, err
	}
	if len(changes) == 0 {
		return "", nil, errors.Mark(errors.New("no changes"), ErrInvalidInput)
	}

	set, setArgs, err := assignments(changes, ", ")
	if err != nil {
		return "", nil, err
	}
	where, whereArgs, err := assignments(key, " AND ")
	if err != nil {
		return "", nil, err
	}
	if where == "" {
		return "", nil, errors.Mark(errors.New("missing key"), ErrInvalidInput)
	}

	return "UPDATE " + tbl + " SET " + set + " WHERE " + where, append(setArgs, whereArgs...), nil
}

func (b SQLBuilder) Insert(t TableRef, values map[string]any) (string, []any, error) {
	tbl, err := b.table(t)
	if err != nil {
		return "", nil, err
	}
	if len(values) == 0 {
		return "", nil, errors.Mark(errors.New("no values"), ErrInvalidInput)
	}

	names := sortedKeys(values)
	quoted, err := quoteAll(names)
	if err != nil {
		return "", nil, err
	}
	args := lo.Map(names, func(n string, _ int) any { return values[n] })
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(names)), ", ")

	return "INSERT INTO " + tbl + " (" + strings.Join(quoted, ", ") + ") VALUES (" + marks + ")", args, nil
}

func (b SQLBuilder) Delete(t TableRef, key map[string]any) (string, []any, error) {
	tbl, err := b.table(t)
	if err != nil {
		return "", nil, err
	}
	where, args, err := assignments(key, " AND ")
	if err != nil {
		return "", nil, err
	}
	if where == "" {
		return "", nil, errors.Mark(errors.New("missing key"), ErrInvalidInput)
	}
	return "DELETE FROM " + tbl + " WHERE " + where, args, nil
}

func (SQLBuilder) table(t TableRef) (string, error) {
	s, err := quoteIdent(t.Schema)
	if err != nil {
		return "", err
	}
	n, err := quoteIdent(t.Name)
	if err != nil {
		return "", err
	}
	return s + "." + n, nil
}

// quoteIdent double-quotes name, doubling embedded quotes. %ID passes through.
func quoteIdent(name string) (string, error) {
	if name == RowIDColumn {
		return name, nil
	}
	if strings.TrimSpace(name) == "" || strings.ContainsRune(name, 0) {
		return "", errors.Wrapf(ErrInvalidIdentifier, "%q", name)
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`, nil
}

func quoteAll(names []string) ([]string, error) {
	out := make([]string, 0, len(names))
	for _, n := range names {
		q, err := quoteIdent(n)
		if err != nil {
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

func assignments(m map[string]any, sep string) (string, []any, error) {
	names := sortedKeys(m)
	parts := make([]string, 0, len(names))
	args := make([]any, 0, len(names))
	for _, n := range names {
		q, err := quoteIdent(n)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, q+" = ?")
		args = append(args, m[n])
	}
	return strings.Join(parts, sep), args, nil
}

func sortedKeys(m map[string]any) []string {
	keys := lo.Keys(m)
	slices.Sort(keys)
	return keys
}
