package entity

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quazardous/qdadm/model"
)

// PgManager stores entity records in PostgreSQL using pgx/v5. Each entity
// maps to one table of shape (id text primary key, data jsonb, created_at,
// updated_at); queries filter and sort through jsonb accessors so the table
// needs no per-entity schema migration.
type PgManager struct {
	base
	pool  *pgxpool.Pool
	table string
}

// identRe matches safe SQL identifiers. Table and field names outside this
// set are rejected before they reach a query.
var identRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// NewPgManager creates a Postgres-backed manager for the entity.
func NewPgManager(def model.EntityDefinition, fields []model.FieldSpec, authz Authorizer, pool *pgxpool.Pool) (*PgManager, error) {
	table := def.Backend.Table
	if table == "" {
		table = def.Entity
	}
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("entity: invalid table name %q", table)
	}
	return &PgManager{
		base:  newBase(def, fields, authz),
		pool:  pool,
		table: table,
	}, nil
}

func (m *PgManager) List(ctx context.Context, q model.ListQuery) (model.ListResult, error) {
	var conds []string
	var args []any
	arg := 1

	for field, v := range q.Filters {
		if v == nil || !identRe.MatchString(field) {
			continue
		}
		conds = append(conds, fmt.Sprintf("data->>'%s' = $%d", field, arg))
		args = append(args, fmt.Sprintf("%v", v))
		arg++
	}

	if q.Search != "" && len(q.SearchFields) > 0 {
		var ors []string
		for _, field := range q.SearchFields {
			if !identRe.MatchString(field) {
				continue
			}
			ors = append(ors, fmt.Sprintf("data->>'%s' ILIKE $%d", field, arg))
		}
		if len(ors) > 0 {
			conds = append(conds, "("+strings.Join(ors, " OR ")+")")
			args = append(args, "%"+q.Search+"%")
			arg++
		}
	}

	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	order := " ORDER BY created_at DESC"
	if q.SortBy != "" && identRe.MatchString(q.SortBy) {
		dir := "ASC"
		if strings.EqualFold(q.SortOrder, "desc") {
			dir = "DESC"
		}
		order = fmt.Sprintf(" ORDER BY data->>'%s' %s", q.SortBy, dir)
	}

	limit := ""
	if q.PageSize > 0 {
		page := q.Page
		if page < 1 {
			page = 1
		}
		limit = fmt.Sprintf(" LIMIT $%d OFFSET $%d", arg, arg+1)
		args = append(args, q.PageSize, (page-1)*q.PageSize)
	}

	query := fmt.Sprintf(
		"SELECT data, count(*) OVER() AS total FROM %s%s%s%s",
		m.table, where, order, limit,
	)

	rows, err := m.pool.Query(ctx, query, args...)
	if err != nil {
		return model.ListResult{}, fmt.Errorf("query %s: %w", m.table, err)
	}
	defer rows.Close()

	var items []model.Record
	total := 0
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data, &total); err != nil {
			return model.ListResult{}, fmt.Errorf("scan %s row: %w", m.table, err)
		}
		var rec model.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return model.ListResult{}, fmt.Errorf("unmarshal %s row: %w", m.table, err)
		}
		items = append(items, rec)
	}
	if err := rows.Err(); err != nil {
		return model.ListResult{}, fmt.Errorf("iterate %s rows: %w", m.table, err)
	}
	return model.ListResult{Items: items, Total: total}, nil
}

func (m *PgManager) Get(ctx context.Context, id string) (model.Record, error) {
	var data []byte
	err := m.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT data FROM %s WHERE id = $1", m.table), id,
	).Scan(&data)
	if err == pgx.ErrNoRows {
		return nil, model.NewNotFoundError(fmt.Sprintf("%s %q not found", m.def.Entity, id))
	}
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", m.table, err)
	}

	var rec model.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal %s record: %w", m.table, err)
	}
	return rec, nil
}

func (m *PgManager) Create(ctx context.Context, rec model.Record) (model.Record, error) {
	stored := cloneRecord(rec)
	id := stored.ID(m.IDField())
	if id == "" {
		id = uuid.NewString()
		stored[m.IDField()] = id
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("marshal %s record: %w", m.def.Entity, err)
	}

	now := time.Now().UTC()
	_, err = m.pool.Exec(ctx,
		fmt.Sprintf("INSERT INTO %s (id, data, created_at, updated_at) VALUES ($1, $2, $3, $3)", m.table),
		id, data, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, model.NewConflictError(fmt.Sprintf("%s %q already exists", m.def.Entity, id))
		}
		return nil, fmt.Errorf("insert %s: %w", m.table, err)
	}
	return stored, nil
}

func (m *PgManager) Update(ctx context.Context, id string, rec model.Record) (model.Record, error) {
	stored := cloneRecord(rec)
	stored[m.IDField()] = id

	data, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("marshal %s record: %w", m.def.Entity, err)
	}

	tag, err := m.pool.Exec(ctx,
		fmt.Sprintf("UPDATE %s SET data = $1, updated_at = $2 WHERE id = $3", m.table),
		data, time.Now().UTC(), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", m.table, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, model.NewNotFoundError(fmt.Sprintf("%s %q not found", m.def.Entity, id))
	}
	return stored, nil
}

func (m *PgManager) Patch(ctx context.Context, id string, rec model.Record) (model.Record, error) {
	existing, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	merged := cloneRecord(existing)
	for k, v := range rec {
		if k == m.IDField() {
			continue
		}
		merged[k] = v
	}
	return m.Update(ctx, id, merged)
}

func (m *PgManager) Delete(ctx context.Context, id string) error {
	tag, err := m.pool.Exec(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE id = $1", m.table), id,
	)
	if err != nil {
		return fmt.Errorf("delete %s: %w", m.table, err)
	}
	if tag.RowsAffected() == 0 {
		return model.NewNotFoundError(fmt.Sprintf("%s %q not found", m.def.Entity, id))
	}
	return nil
}

// Request supports "distinct/<field>" over the jsonb column.
func (m *PgManager) Request(ctx context.Context, method, path string, _ model.RequestOptions) (any, error) {
	if method != "GET" || !strings.HasPrefix(path, "distinct/") {
		return nil, model.NewNotFoundError(fmt.Sprintf("unsupported request %s %s", method, path))
	}
	field := strings.TrimPrefix(path, "distinct/")
	if !identRe.MatchString(field) {
		return nil, model.NewBadRequestError(fmt.Sprintf("invalid field %q", field))
	}

	rows, err := m.pool.Query(ctx, fmt.Sprintf(
		"SELECT DISTINCT data->>'%s' FROM %s WHERE data->>'%s' IS NOT NULL ORDER BY 1",
		field, m.table, field,
	))
	if err != nil {
		return nil, fmt.Errorf("distinct %s.%s: %w", m.table, field, err)
	}
	defer rows.Close()

	var values []any
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan distinct value: %w", err)
		}
		values = append(values, v)
	}
	return values, rows.Err()
}

func isUniqueViolation(err error) bool {
	// 23505 is the Postgres unique_violation code.
	return strings.Contains(err.Error(), "23505")
}
