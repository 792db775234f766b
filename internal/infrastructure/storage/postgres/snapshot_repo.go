package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/klauspost/compress/zstd"

	"cantus/internal/core/apperror"
	"cantus/internal/core/id"
	"cantus/internal/domain/rollback"
	"cantus/internal/domain/schema"
)

// CompressionAlgo specifies the compression algorithm used for a payload.
type CompressionAlgo string

const (
	CompressionNone CompressionAlgo = "none"
	CompressionZstd CompressionAlgo = "zstd"
)

// SnapshotRepo implements rollback.Store. Payloads above the threshold are
// zstd-compressed: a snapshot of a large cascade is mostly repetitive jsonb
// and shrinks well.
type SnapshotRepo struct {
	txManager         *TxManager
	encoder           *zstd.Encoder
	decoder           *zstd.Decoder
	compressThreshold int // bytes
}

var _ rollback.Store = (*SnapshotRepo)(nil)

// NewSnapshotRepo creates a snapshot repository.
func NewSnapshotRepo(txManager *TxManager) (*SnapshotRepo, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}

	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}

	return &SnapshotRepo{
		txManager:         txManager,
		encoder:           encoder,
		decoder:           decoder,
		compressThreshold: 10 * 1024, // 10KB
	}, nil
}

// snapshotRow is the scan target for sys_snapshots.
type snapshotRow struct {
	ID                id.ID           `db:"id"`
	OperationID       id.ID           `db:"operation_id"`
	TargetType        string          `db:"target_type"`
	TargetID          id.ID           `db:"target_id"`
	Records           []byte          `db:"records"`
	RecordsCompressed []byte          `db:"records_compressed"`
	CompressionAlgo   CompressionAlgo `db:"compression_algo"`
	RecordCount       int             `db:"record_count"`
	TakenAt           time.Time       `db:"taken_at"`
	ConsumedAt        *time.Time      `db:"consumed_at"`
}

func (r *SnapshotRepo) builder() squirrel.StatementBuilderType {
	return squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)
}

// Save persists a snapshot as one insert: it is either fully written or
// absent, even if the invoking request is cancelled mid-flight.
func (r *SnapshotRepo) Save(ctx context.Context, snap *rollback.Snapshot) error {
	payload, err := json.Marshal(snap.Records)
	if err != nil {
		return fmt.Errorf("encode snapshot records: %w", err)
	}

	row := map[string]any{
		"id":               snap.ID,
		"operation_id":     snap.OperationID,
		"target_type":      snap.TargetRef.Type,
		"target_id":        snap.TargetRef.ID,
		"compression_algo": CompressionNone,
		"record_count":     snap.RecordCount(),
		"taken_at":         snap.TakenAt,
		"consumed_at":      snap.ConsumedAt,
	}
	if len(payload) > r.compressThreshold {
		row["records_compressed"] = r.encoder.EncodeAll(payload, nil)
		row["compression_algo"] = CompressionZstd
	} else {
		row["records"] = payload
	}

	sql, args, err := r.builder().
		Insert("sys_snapshots").
		SetMap(row).
		ToSql()
	if err != nil {
		return fmt.Errorf("build insert: %w", err)
	}
	if _, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func (r *SnapshotRepo) Get(ctx context.Context, snapID id.ID) (*rollback.Snapshot, error) {
	sql, args, err := r.builder().
		Select("id", "operation_id", "target_type", "target_id",
			"records", "records_compressed", "compression_algo",
			"record_count", "taken_at", "consumed_at").
		From("sys_snapshots").
		Where(squirrel.Eq{"id": snapID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build select: %w", err)
	}

	var row snapshotRow
	err = pgxscan.Get(ctx, r.txManager.GetQuerier(ctx), &row, sql, args...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperror.NewNotFound("snapshot", snapID.String())
		}
		return nil, fmt.Errorf("get snapshot: %w", err)
	}

	payload := row.Records
	if row.CompressionAlgo == CompressionZstd && len(row.RecordsCompressed) > 0 {
		payload, err = r.decoder.DecodeAll(row.RecordsCompressed, nil)
		if err != nil {
			return nil, fmt.Errorf("decompress snapshot: %w", err)
		}
	}

	records := make(map[string][]schema.Record)
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &records); err != nil {
			return nil, fmt.Errorf("decode snapshot records: %w", err)
		}
	}

	return &rollback.Snapshot{
		ID:          row.ID,
		OperationID: row.OperationID,
		TargetRef:   schema.EntityRef{Type: row.TargetType, ID: row.TargetID},
		Records:     records,
		TakenAt:     row.TakenAt,
		ConsumedAt:  row.ConsumedAt,
	}, nil
}

// MarkConsumed retires a snapshot. Consuming an already-consumed snapshot
// is a conflict, enforced here with a guarded update rather than a read.
func (r *SnapshotRepo) MarkConsumed(ctx context.Context, snapID id.ID, at time.Time) error {
	sql, args, err := r.builder().
		Update("sys_snapshots").
		Set("consumed_at", at).
		Where(squirrel.Eq{"id": snapID, "consumed_at": nil}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update: %w", err)
	}

	tag, err := r.txManager.GetQuerier(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("mark snapshot consumed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperror.NewConflict("snapshot missing or already consumed").
			WithDetail("snapshot_id", snapID.String())
	}
	return nil
}
