package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"cantus/internal/core/id"
	"cantus/internal/core/security"
	"cantus/pkg/logger"
)

// AlertStatus represents the state of an outbox alert.
type AlertStatus string

const (
	AlertStatusPending   AlertStatus = "pending"
	AlertStatusDelivered AlertStatus = "delivered"
	AlertStatusFailed    AlertStatus = "failed"
)

// AlertMessage is one security alert waiting for delivery to the ops
// channel. Alerts are persisted first so a delivery outage never loses
// them; a relay drains the table in the background.
type AlertMessage struct {
	ID          id.ID       `db:"id"`
	Type        string      `db:"violation_type"`
	Severity    string      `db:"severity"`
	ActorID     string      `db:"actor_id"`
	Origin      string      `db:"origin"`
	Operation   string      `db:"operation"`
	Payload     []byte      `db:"payload"`
	Status      AlertStatus `db:"status"`
	RetryCount  int         `db:"retry_count"`
	LastError   *string     `db:"last_error"`
	NextRetryAt *time.Time  `db:"next_retry_at"`
	CreatedAt   time.Time   `db:"created_at"`
	DeliveredAt *time.Time  `db:"delivered_at"`
}

// AlertOutbox implements security.AlertSink by writing each violation to
// the sys_alert_outbox table. Writing never fails the caller: the sink is
// a side channel, so an insert failure is logged and dropped.
type AlertOutbox struct {
	txManager *TxManager
}

var _ security.AlertSink = (*AlertOutbox)(nil)

// NewAlertOutbox creates an alert outbox sink.
func NewAlertOutbox(txManager *TxManager) *AlertOutbox {
	return &AlertOutbox{txManager: txManager}
}

// Alert persists the violation for asynchronous delivery.
func (o *AlertOutbox) Alert(ctx context.Context, v security.Violation) {
	payload, err := json.Marshal(v)
	if err != nil {
		logger.Error(ctx, "encode alert payload", "error", err)
		return
	}

	_, err = o.txManager.GetQuerier(ctx).Exec(ctx, `
		INSERT INTO sys_alert_outbox (id, violation_type, severity, actor_id, origin, operation, payload, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, id.New(), string(v.Type), string(v.Severity), v.ActorID, v.Origin, v.Operation, payload, AlertStatusPending, time.Now().UTC())
	if err != nil {
		logger.Error(ctx, "persist alert", "type", v.Type, "error", err)
	}
}

// AlertHandler delivers one alert to its destination (pager, chat webhook).
type AlertHandler interface {
	Handle(ctx context.Context, msg *AlertMessage) error
}

// AlertRelay drains pending alerts in the background.
type AlertRelay struct {
	pool      *pgxpool.Pool
	batchSize int
	handler   AlertHandler
}

// NewAlertRelay creates a relay over the alert outbox.
func NewAlertRelay(pool *pgxpool.Pool, batchSize int, handler AlertHandler) *AlertRelay {
	return &AlertRelay{pool: pool, batchSize: batchSize, handler: handler}
}

// ProcessBatch fetches and delivers pending alerts. Returns the number
// delivered. Rows are locked with SKIP LOCKED so multiple relays can run.
func (r *AlertRelay) ProcessBatch(ctx context.Context) (int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, violation_type, severity, actor_id, origin, operation, payload,
		       status, retry_count, last_error, next_retry_at, created_at, delivered_at
		FROM sys_alert_outbox
		WHERE status = $1
		  AND (next_retry_at IS NULL OR next_retry_at <= NOW())
		ORDER BY created_at
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, AlertStatusPending, r.batchSize)
	if err != nil {
		return 0, fmt.Errorf("fetch pending alerts: %w", err)
	}
	defer rows.Close()

	var messages []*AlertMessage
	for rows.Next() {
		var msg AlertMessage
		err := rows.Scan(
			&msg.ID, &msg.Type, &msg.Severity, &msg.ActorID, &msg.Origin,
			&msg.Operation, &msg.Payload, &msg.Status, &msg.RetryCount,
			&msg.LastError, &msg.NextRetryAt, &msg.CreatedAt, &msg.DeliveredAt,
		)
		if err != nil {
			return 0, fmt.Errorf("scan alert: %w", err)
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate alerts: %w", err)
	}

	delivered := 0
	for _, msg := range messages {
		if err := r.deliver(ctx, msg); err != nil {
			continue
		}
		delivered++
	}
	return delivered, nil
}

// deliver hands a single alert to the handler, with exponential backoff on
// failure and a failed terminal state after five attempts.
func (r *AlertRelay) deliver(ctx context.Context, msg *AlertMessage) error {
	err := r.handler.Handle(ctx, msg)
	if err != nil {
		nextRetry := time.Now().Add(time.Duration(msg.RetryCount+1) * time.Minute)
		errStr := err.Error()

		_, updateErr := r.pool.Exec(ctx, `
			UPDATE sys_alert_outbox
			SET retry_count = retry_count + 1,
			    last_error = $1,
			    next_retry_at = $2,
			    status = CASE WHEN retry_count >= 5 THEN $3 ELSE status END
			WHERE id = $4
		`, errStr, nextRetry, AlertStatusFailed, msg.ID)
		if updateErr != nil {
			return fmt.Errorf("update failed alert: %w", updateErr)
		}
		return err
	}

	now := time.Now().UTC()
	_, err = r.pool.Exec(ctx, `
		UPDATE sys_alert_outbox
		SET status = $1, delivered_at = $2
		WHERE id = $3
	`, AlertStatusDelivered, now, msg.ID)
	return err
}

// Run processes batches until ctx is cancelled.
func (r *AlertRelay) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.ProcessBatch(ctx); err != nil {
				logger.Error(ctx, "alert relay batch failed", "error", err)
			}
		}
	}
}

// LogAlertHandler delivers alerts to the structured log. Stands in until a
// chat webhook destination is configured.
type LogAlertHandler struct{}

func (LogAlertHandler) Handle(ctx context.Context, msg *AlertMessage) error {
	logger.Warn(ctx, "security alert",
		"type", msg.Type,
		"severity", msg.Severity,
		"actor_id", msg.ActorID,
		"origin", msg.Origin,
		"operation", msg.Operation,
	)
	return nil
}
