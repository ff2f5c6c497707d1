package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/smallbiz/ops_backend/config"
	"github.com/smallbiz/ops_backend/models"
	"github.com/smallbiz/ops_backend/monitoring"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxOutboxBackoff = 10 * time.Minute

// Publisher delivers one outbox envelope and returns the broker's message id.
type Publisher interface {
	Publish(ctx context.Context, msg config.PubSubMessage) (string, error)
}

// PubSubPublisher publishes to PUBSUB_TOPIC.
type PubSubPublisher struct{}

func (PubSubPublisher) Publish(ctx context.Context, msg config.PubSubMessage) (string, error) {
	return config.PublishOutboxMessage(ctx, msg)
}

// OutboxDispatcher drains order and invoice events written by the domain
// transactions. Several dispatchers may run at once; rows are claimed with
// SKIP LOCKED and a PROCESSING claim expires after LockTimeout.
type OutboxDispatcher struct {
	DB           *gorm.DB
	Logger       *logrus.Logger
	Publisher    Publisher
	DispatcherID string

	BatchSize      int
	PollInterval   time.Duration
	LockTimeout    time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
}

func NewOutboxDispatcher(db *gorm.DB, logger *logrus.Logger, publisher Publisher) *OutboxDispatcher {
	return &OutboxDispatcher{
		DB:             db,
		Logger:         logger,
		Publisher:      publisher,
		DispatcherID:   uuid.NewString(),
		BatchSize:      50,
		PollInterval:   500 * time.Millisecond,
		LockTimeout:    30 * time.Second,
		MaxAttempts:    20,
		InitialBackoff: 5 * time.Second,
	}
}

// Run polls until ctx is cancelled.
func (d *OutboxDispatcher) Run(ctx context.Context) {
	ctx = config.WithoutTenantScope(ctx)
	ticker := time.NewTicker(d.PollInterval)
	defer ticker.Stop()
	for {
		d.DispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// DispatchOnce claims one batch and publishes it. Returns how many records were sent.
func (d *OutboxDispatcher) DispatchOnce(ctx context.Context) int {
	if d.DB == nil || d.Publisher == nil {
		return 0
	}
	now := time.Now().UTC()
	batch, err := d.claimBatch(ctx, now)
	if err != nil {
		config.LogError(d.Logger, "outboxDispatcher.go", "DispatchOnce", "Claiming outbox batch", nil, err)
		return 0
	}

	sent := 0
	for _, rec := range batch {
		if rec.PublishStatus == models.OutboxPublishStatusDead {
			monitoring.RecordOutboxPublish(models.OutboxPublishStatusDead)
			continue
		}
		messageId, err := d.Publisher.Publish(ctx, rec.ToPubSubMessage())
		if err != nil {
			d.publishFailed(ctx, rec, err)
			continue
		}
		if err := d.settle(ctx, rec.ID, models.OutboxPublishStatusSent, map[string]interface{}{
			"published_at":       now,
			"pub_sub_message_id": messageId,
		}); err != nil {
			config.LogError(d.Logger, "outboxDispatcher.go", "DispatchOnce", "Marking outbox record sent", rec.ID, err)
			continue
		}
		monitoring.RecordOutboxPublish(models.OutboxPublishStatusSent)
		sent++
	}
	return sent
}

// dueForDispatch selects PENDING/FAILED rows whose backoff elapsed and
// PROCESSING rows whose claimer went away.
func dueForDispatch(now time.Time, staleBefore time.Time) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.
			Where("publish_status IN ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)",
				[]string{models.OutboxPublishStatusPending, models.OutboxPublishStatusFailed}, now).
			Or("publish_status = ? AND locked_at IS NOT NULL AND locked_at <= ?",
				models.OutboxPublishStatusProcessing, staleBefore)
	}
}

// claimBatch marks due rows PROCESSING under this dispatcher's id. Rows that have
// used up MaxAttempts are moved to DEAD instead and returned with that status.
func (d *OutboxDispatcher) claimBatch(ctx context.Context, now time.Time) ([]models.PubSubMessageRecord, error) {
	var batch []models.PubSubMessageRecord
	err := d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Scopes(dueForDispatch(now, now.Add(-d.LockTimeout))).
			Order("id ASC").
			Limit(d.BatchSize).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Find(&batch).Error
		if err != nil {
			return err
		}
		for i := range batch {
			rec := &batch[i]
			if d.exhausted(rec.PublishAttempts) {
				rec.PublishStatus = models.OutboxPublishStatusDead
				reason := fmt.Sprintf("max publish attempts exceeded (%d)", d.MaxAttempts)
				if err := settleTx(tx, rec.ID, models.OutboxPublishStatusDead, map[string]interface{}{"last_publish_error": reason}); err != nil {
					return err
				}
				continue
			}
			rec.PublishStatus = models.OutboxPublishStatusProcessing
			rec.PublishAttempts++
			if err := tx.Model(&models.PubSubMessageRecord{}).Where("id = ?", rec.ID).Updates(map[string]interface{}{
				"publish_status":     models.OutboxPublishStatusProcessing,
				"locked_at":          now,
				"locked_by":          d.DispatcherID,
				"publish_attempts":   gorm.Expr("publish_attempts + 1"),
				"last_publish_error": nil,
				"next_attempt_at":    nil,
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	return batch, err
}

func (d *OutboxDispatcher) exhausted(attempts int) bool {
	return d.MaxAttempts > 0 && attempts >= d.MaxAttempts
}

// settleTx moves a record out of PROCESSING and drops its claim.
func settleTx(tx *gorm.DB, recordId int, status string, fields map[string]interface{}) error {
	updates := map[string]interface{}{
		"publish_status":  status,
		"locked_at":       nil,
		"locked_by":       nil,
		"next_attempt_at": nil,
	}
	for k, v := range fields {
		updates[k] = v
	}
	return tx.Model(&models.PubSubMessageRecord{}).Where("id = ?", recordId).Updates(updates).Error
}

func (d *OutboxDispatcher) settle(ctx context.Context, recordId int, status string, fields map[string]interface{}) error {
	return settleTx(d.DB.WithContext(ctx), recordId, status, fields)
}

// nextBackoff doubles InitialBackoff per prior attempt, capped at ten minutes.
func (d *OutboxDispatcher) nextBackoff(attempt int) time.Duration {
	backoff := d.InitialBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff >= maxOutboxBackoff {
			return maxOutboxBackoff
		}
	}
	return backoff
}

func (d *OutboxDispatcher) publishFailed(ctx context.Context, rec models.PubSubMessageRecord, publishErr error) {
	reason := publishErr.Error()
	fields := logrus.Fields{
		"field":       "OutboxDispatcher",
		"business_id": rec.BusinessId,
		"record_id":   rec.ID,
		"event_type":  rec.EventType,
		"attempt":     rec.PublishAttempts,
	}

	status := models.OutboxPublishStatusFailed
	updates := map[string]interface{}{"last_publish_error": reason}
	if d.exhausted(rec.PublishAttempts) {
		status = models.OutboxPublishStatusDead
	} else {
		next := time.Now().UTC().Add(d.nextBackoff(rec.PublishAttempts))
		updates["next_attempt_at"] = next
		fields["next_attempt_at"] = next.Format(time.RFC3339Nano)
	}
	if err := d.settle(ctx, rec.ID, status, updates); err != nil {
		config.LogError(d.Logger, "outboxDispatcher.go", "publishFailed", "Recording publish failure", rec.ID, err)
	}
	monitoring.RecordOutboxPublish(status)

	if d.Logger != nil {
		d.Logger.WithFields(fields).Errorf("outbox publish %s: %s", status, reason)
	}
}
