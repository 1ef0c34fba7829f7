package backend

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/samber/lo"

	"gridlink/cmd/internal/session"
	"gridlink/cmd/internal/upstream"
)

// Querier is the subset of upstream.Client the service uses.
type Querier interface {
	Probe(ctx context.Context, t upstream.Target) (upstream.ProbeResult, error)
	Query(ctx context.Context, t upstream.Target, namespace, sql string, params []any) (upstream.QueryResult, error)
}

// Column describes one column of a table.
type Column struct {
	Name       string
	Type       string
	Nullable   bool
	PrimaryKey bool
}

// Schema is the shape of a table.
type Schema struct {
	Table      string
	Columns    []Column
	PrimaryKey []string
}

// Page is one window of rows. Page numbers start at 0.
type Page struct {
	Page     int
	PageSize int
	Rows     []map[string]any
	HasMore  bool
}

// Config tunes the service.
type Config struct {
	PageSize     int
	QueryTimeout time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{PageSize: 100, QueryTimeout: 30 * time.Second}
}

// Service implements the router's backend over an upstream Querier.
type Service struct {
	q       Querier
	builder Builder
	cfg     Config
	log     *slog.Logger
}

// NewService builds a Service. A nil builder means SQLBuilder.
func NewService(q Querier, b Builder, cfg Config, log *slog.Logger) *Service {
	if b == nil {
		b = SQLBuilder{}
	}
	def := DefaultConfig()
	if cfg.PageSize <= 0 {
		cfg.PageSize = def.PageSize
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = def.QueryTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{q: q, builder: b, cfg: cfg, log: log}
}

// TargetOf extracts the upstream target from a session snapshot.
func TargetOf(s session.Session) upstream.Target {
	return upstream.Target{
		Host:       s.Host,
		Port:       s.Port,
		PathPrefix: s.PathPrefix,
		UseHTTPS:   s.UseHTTPS,
		Username:   s.Username,
		Password:   s.Password,
	}
}

// PageSize returns the configured rows per page.
func (s *Service) PageSize() int { return s.cfg.PageSize }

// ListNamespaces returns the namespaces the credentials can see.
func (s *Service) ListNamespaces(ctx context.Context, t upstream.Target) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	res, err := s.q.Probe(ctx, t)
	if err != nil {
		return nil, err
	}
	return res.Namespaces, nil
}

// ListTables returns user tables of namespace as "Schema.Table".
func (s *Service) ListTables(ctx context.Context, t upstream.Target, namespace string) ([]string, error) {
	sql, args := s.builder.ListTables()
	rows, err := s.query(ctx, t, namespace, sql, args)
	if err != nil {
		return nil, err
	}

	tables := lo.FilterMap(rows, func(r map[string]any, _ int) (string, bool) {
		schema, name := str(r["TABLE_SCHEMA"]), str(r["TABLE_NAME"])
		if schema == "" || name == "" || strings.HasPrefix(schema, "%") {
			return "", false
		}
		return schema + "." + name, true
	})
	return tables, nil
}

// TableSchema returns column metadata and the key used for edits.
func (s *Service) TableSchema(ctx context.Context, t upstream.Target, namespace, table string) (Schema, error) {
	ref := ParseTable(table)

	sql, args := s.builder.Columns(ref)
	colRows, err := s.query(ctx, t, namespace, sql, args)
	if err != nil {
		return Schema{}, err
	}
	if len(colRows) == 0 {
		return Schema{}, &upstream.Error{Kind: upstream.KindQuery, Detail: fmt.Sprintf("table %s not found", ref)}
	}

	sql, args = s.builder.PrimaryKey(ref)
	keyRows, err := s.query(ctx, t, namespace, sql, args)
	if err != nil {
		return Schema{}, err
	}
	key := lo.Map(keyRows, func(r map[string]any, _ int) string { return str(r["COLUMN_NAME"]) })
	key = lo.Compact(key)

	cols := lo.Map(colRows, func(r map[string]any, _ int) Column {
		name := str(r["COLUMN_NAME"])
		return Column{
			Name:       name,
			Type:       str(r["DATA_TYPE"]),
			Nullable:   strings.EqualFold(str(r["IS_NULLABLE"]), "YES"),
			PrimaryKey: slices.Contains(key, name),
		}
	})
	if len(key) == 0 {
		key = []string{RowIDColumn}
	}

	return Schema{Table: ref.String(), Columns: cols, PrimaryKey: key}, nil
}

// FetchPage reads page of schema.Table. HasMore is derived by over-fetching one row.
func (s *Service) FetchPage(ctx context.Context, t upstream.Target, namespace string, schema Schema, page int) (Page, error) {
	if page < 0 {
		page = 0
	}
	size := s.cfg.PageSize

	sql, args, err := s.builder.SelectPage(ParseTable(schema.Table), schema.PrimaryKey, page*size, size+1)
	if err != nil {
		return Page{}, err
	}
	rows, err := s.query(ctx, t, namespace, sql, args)
	if err != nil {
		return Page{}, err
	}

	more := len(rows) > size
	if more {
		rows = rows[:size]
	}
	return Page{Page: page, PageSize: size, Rows: rows, HasMore: more}, nil
}

// UpdateRow applies changes to the row identified by key.
func (s *Service) UpdateRow(ctx context.Context, t upstream.Target, namespace, table string, key, changes map[string]any) error {
	sql, args, err := s.builder.Update(ParseTable(table), key, changes)
	if err != nil {
		return err
	}
	_, err = s.query(ctx, t, namespace, sql, args)
	return err
}

// InsertRow inserts values into table.
func (s *Service) InsertRow(ctx context.Context, t upstream.Target, namespace, table string, values map[string]any) error {
	sql, args, err := s.builder.Insert(ParseTable(table), values)
	if err != nil {
		return err
	}
	_, err = s.query(ctx, t, namespace, sql, args)
	return err
}

// DeleteRow removes the row identified by key.
func (s *Service) DeleteRow(ctx context.Context, t upstream.Target, namespace, table string, key map[string]any) error {
	sql, args, err := s.builder.Delete(ParseTable(table), key)
	if err != nil {
		return err
	}
	_, err = s.query(ctx, t, namespace, sql, args)
	return err
}

// Execute runs a caller-supplied statement.
func (s *Service) Execute(ctx context.Context, t upstream.Target, namespace, sql string, params []any) ([]map[string]any, error) {
	if strings.TrimSpace(sql) == "" {
		return nil, errors.New("empty query")
	}
	return s.query(ctx, t, namespace, sql, params)
}

func (s *Service) query(ctx context.Context, t upstream.Target, namespace, sql string, args []any) ([]map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.QueryTimeout)
	defer cancel()

	start := time.Now()
	res, err := s.q.Query(ctx, t, namespace, sql, args)
	if err != nil {
		s.log.Debug("backend.query.fail", "namespace", namespace, "kind", upstream.KindOf(err).String(), "took", time.Since(start))
		return nil, err
	}
	return res.Rows, nil
}

func str(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}
