package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"

	"cantus/internal/core/apperror"
	"cantus/internal/core/id"
	"cantus/internal/domain/schema"
)

// Dataset implements schema.Store over one table per collection. Records
// are schemaless, so each table is just an id column plus a jsonb document;
// foreign keys live inside the document and are queried with ->> so the
// engine, not the database, owns cascade semantics.
type Dataset struct {
	txManager *TxManager
	schema    *schema.Schema
}

var _ schema.Store = (*Dataset)(nil)

// NewDataset creates a dataset over the given schema's collections.
func NewDataset(txManager *TxManager, sch *schema.Schema) *Dataset {
	return &Dataset{txManager: txManager, schema: sch}
}

// recordRow is the scan target for record tables.
type recordRow struct {
	ID     id.ID  `db:"id"`
	Fields []byte `db:"fields"`
}

func (r recordRow) toRecord() (schema.Record, error) {
	rec := schema.Record{ID: r.ID, Fields: make(map[string]any)}
	if len(r.Fields) > 0 {
		if err := json.Unmarshal(r.Fields, &rec.Fields); err != nil {
			return schema.Record{}, fmt.Errorf("decode record %s: %w", r.ID, err)
		}
	}
	return rec, nil
}

// table maps a collection to its table name, rejecting anything outside the
// compiled-in schema so collection names never reach SQL unchecked.
func (d *Dataset) table(collection string) (string, error) {
	if !d.schema.HasCollection(collection) {
		return "", apperror.NewValidation("unknown collection: " + collection)
	}
	return "rec_" + collection, nil
}

func (d *Dataset) builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

func (d *Dataset) Get(ctx context.Context, collection string, recID id.ID) (schema.Record, error) {
	table, err := d.table(collection)
	if err != nil {
		return schema.Record{}, err
	}

	sql, args, err := d.builder().
		Select("id", "fields").
		From(table).
		Where(squirrel.Eq{"id": recID}).
		ToSql()
	if err != nil {
		return schema.Record{}, fmt.Errorf("build select: %w", err)
	}

	var row recordRow
	err = pgxscan.Get(ctx, d.txManager.GetQuerier(ctx), &row, sql, args...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return schema.Record{}, apperror.NewNotFound(collection, recID.String())
		}
		return schema.Record{}, apperror.NewDatabase("get "+collection, err)
	}
	return row.toRecord()
}

func (d *Dataset) Exists(ctx context.Context, collection string, recID id.ID) (bool, error) {
	table, err := d.table(collection)
	if err != nil {
		return false, err
	}

	sql, args, err := d.builder().
		Select("1").
		From(table).
		Where(squirrel.Eq{"id": recID}).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build exists: %w", err)
	}

	var one int
	err = d.txManager.GetQuerier(ctx).QueryRow(ctx, sql, args...).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, apperror.NewDatabase("exists "+collection, err)
	}
	return true, nil
}

func (d *Dataset) FindByField(ctx context.Context, collection, field, value string) ([]schema.Record, error) {
	table, err := d.table(collection)
	if err != nil {
		return nil, err
	}

	sql, args, err := d.builder().
		Select("id", "fields").
		From(table).
		Where(squirrel.Expr("fields->>? = ?", field, value)).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build find: %w", err)
	}

	return d.selectRecords(ctx, collection, sql, args)
}

func (d *Dataset) ListAll(ctx context.Context, collection string) ([]schema.Record, error) {
	table, err := d.table(collection)
	if err != nil {
		return nil, err
	}

	sql, args, err := d.builder().
		Select("id", "fields").
		From(table).
		OrderBy("id").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list: %w", err)
	}

	return d.selectRecords(ctx, collection, sql, args)
}

func (d *Dataset) selectRecords(ctx context.Context, collection, sql string, args []any) ([]schema.Record, error) {
	var rows []recordRow
	if err := pgxscan.Select(ctx, d.txManager.GetQuerier(ctx), &rows, sql, args...); err != nil {
		return nil, apperror.NewDatabase("select "+collection, err)
	}

	recs := make([]schema.Record, 0, len(rows))
	for _, row := range rows {
		rec, err := row.toRecord()
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (d *Dataset) Count(ctx context.Context, collection string) (int, error) {
	table, err := d.table(collection)
	if err != nil {
		return 0, err
	}

	sql, args, err := d.builder().
		Select("COUNT(*)").
		From(table).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count: %w", err)
	}

	var count int
	if err := d.txManager.GetQuerier(ctx).QueryRow(ctx, sql, args...).Scan(&count); err != nil {
		return 0, apperror.NewDatabase("count "+collection, err)
	}
	return count, nil
}

func (d *Dataset) Insert(ctx context.Context, collection string, recs []schema.Record) error {
	if len(recs) == 0 {
		return nil
	}
	table, err := d.table(collection)
	if err != nil {
		return err
	}

	q := d.builder().Insert(table).Columns("id", "fields")
	for _, rec := range recs {
		fields, err := json.Marshal(rec.Fields)
		if err != nil {
			return fmt.Errorf("encode record %s: %w", rec.ID, err)
		}
		q = q.Values(rec.ID, fields)
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := d.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return apperror.NewDatabase("insert "+collection, err)
	}
	return nil
}

func (d *Dataset) DeleteByIDs(ctx context.Context, collection string, ids []id.ID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	table, err := d.table(collection)
	if err != nil {
		return 0, err
	}

	sql, args, err := d.builder().
		Delete(table).
		Where(squirrel.Eq{"id": ids}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build delete: %w", err)
	}

	tag, err := d.txManager.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return 0, apperror.NewDatabase("delete "+collection, err)
	}
	return int(tag.RowsAffected()), nil
}

func (d *Dataset) SetField(ctx context.Context, collection string, recID id.ID, field string, value any) error {
	table, err := d.table(collection)
	if err != nil {
		return err
	}

	var sql string
	var args []any
	if value == nil {
		sql, args, err = d.builder().
			Update(table).
			Set("fields", squirrel.Expr("fields - ?", field)).
			Where(squirrel.Eq{"id": recID}).
			ToSql()
	} else {
		encoded, mErr := json.Marshal(value)
		if mErr != nil {
			return fmt.Errorf("encode field value: %w", mErr)
		}
		sql, args, err = d.builder().
			Update(table).
			Set("fields", squirrel.Expr("jsonb_set(fields, ARRAY[?], ?::jsonb)", field, encoded)).
			Where(squirrel.Eq{"id": recID}).
			ToSql()
	}
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	tag, err := d.txManager.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return apperror.NewDatabase("update "+collection, err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewNotFound(collection, recID.String())
	}
	return nil
}
