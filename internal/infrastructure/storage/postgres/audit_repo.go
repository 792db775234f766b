package postgres

import (
	"context"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"cantus/internal/domain/audit"
)

// AuditRepo implements audit.Store on the sys_audit_log table. Entries are
// append-only; there is no update or delete path.
type AuditRepo struct {
	txManager *TxManager
}

var _ audit.Store = (*AuditRepo)(nil)

// NewAuditRepo creates an audit repository.
func NewAuditRepo(txManager *TxManager) *AuditRepo {
	return &AuditRepo{txManager: txManager}
}

var auditColumns = ExtractDBColumns[audit.Entry]()

func (r *AuditRepo) builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

func (r *AuditRepo) Append(ctx context.Context, entry audit.Entry) error {
	data := StructToMap(entry)

	sql, args, err := r.builder().
		Insert("sys_audit_log").
		SetMap(data).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func (r *AuditRepo) Query(ctx context.Context, filter audit.Filter) (audit.Page, error) {
	filter.Normalize()
	where := r.conditions(filter)

	countQ := r.builder().
		Select("COUNT(*)").
		From("sys_audit_log")
	if len(where) > 0 {
		countQ = countQ.Where(where)
	}
	countSQL, countArgs, err := countQ.ToSql()
	if err != nil {
		return audit.Page{}, fmt.Errorf("build count: %w", err)
	}

	var total int64
	if err := r.txManager.GetQuerier(ctx).QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return audit.Page{}, fmt.Errorf("count audit entries: %w", err)
	}

	q := r.builder().
		Select(auditColumns...).
		From("sys_audit_log").
		OrderBy("created_at DESC").
		Limit(uint64(filter.Limit)).
		Offset(uint64(filter.Offset()))
	if len(where) > 0 {
		q = q.Where(where)
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return audit.Page{}, fmt.Errorf("build select: %w", err)
	}

	entries := []audit.Entry{}
	if err := pgxscan.Select(ctx, r.txManager.GetQuerier(ctx), &entries, sql, args...); err != nil {
		return audit.Page{}, fmt.Errorf("query audit entries: %w", err)
	}

	return audit.Page{
		Entries:    entries,
		TotalItems: total,
		PageNum:    filter.Page,
		Limit:      filter.Limit,
	}, nil
}

func (r *AuditRepo) conditions(filter audit.Filter) squirrel.And {
	where := squirrel.And{}
	if filter.ActorID != "" {
		where = append(where, squirrel.Eq{"actor_id": filter.ActorID})
	}
	if filter.Operation != "" {
		where = append(where, squirrel.Eq{"operation": filter.Operation})
	}
	if filter.Success != nil {
		where = append(where, squirrel.Eq{"success": *filter.Success})
	}
	if !filter.From.IsZero() {
		where = append(where, squirrel.GtOrEq{"created_at": filter.From})
	}
	if !filter.To.IsZero() {
		where = append(where, squirrel.LtOrEq{"created_at": filter.To})
	}
	return where
}
