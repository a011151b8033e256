package persistence

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/bantz-ai/bantz/internal/domain/reminder"
	"github.com/bantz-ai/bantz/internal/infrastructure/persistence/models"
	domainErrors "github.com/bantz-ai/bantz/pkg/errors"
)

// GormReminderRepository is the gorm-backed reminder.Store.
type GormReminderRepository struct {
	db *gorm.DB
}

// NewGormReminderRepository builds a reminder.Store backed by db.
func NewGormReminderRepository(db *gorm.DB) reminder.Store {
	return &GormReminderRepository{db: db}
}

// Add persists a new reminder. The single-row write runs inside a
// transaction so it stays isolated from the scheduler's concurrent poll.
func (r *GormReminderRepository) Add(ctx context.Context, rem *reminder.Reminder) error {
	model := r.toModel(rem)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Create(model).Error
	})
	if err != nil {
		return domainErrors.NewInternalError("failed to save reminder: " + err.Error())
	}
	return nil
}

// List returns every reminder, oldest due date first.
func (r *GormReminderRepository) List(ctx context.Context) ([]*reminder.Reminder, error) {
	var rows []models.ReminderModel
	if err := r.db.WithContext(ctx).Order("remind_at asc").Find(&rows).Error; err != nil {
		return nil, domainErrors.NewInternalError("failed to list reminders: " + err.Error())
	}
	out := make([]*reminder.Reminder, 0, len(rows))
	for _, row := range rows {
		out = append(out, r.toEntity(&row))
	}
	return out, nil
}

// Delete removes a reminder by id.
func (r *GormReminderRepository) Delete(ctx context.Context, id string) error {
	var rowsAffected int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Delete(&models.ReminderModel{}, "id = ?", id)
		rowsAffected = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return domainErrors.NewInternalError("failed to delete reminder: " + err.Error())
	}
	if rowsAffected == 0 {
		return domainErrors.NewNotFoundError("reminder not found")
	}
	return nil
}

// Snooze pushes a reminder's next fire time to until.
func (r *GormReminderRepository) Snooze(ctx context.Context, id string, until time.Time) error {
	var rowsAffected int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.ReminderModel{}).
			Where("id = ?", id).
			Updates(map[string]any{"snoozed_until": until, "status": string(reminder.StatusSnoozed)})
		rowsAffected = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return domainErrors.NewInternalError("failed to snooze reminder: " + err.Error())
	}
	if rowsAffected == 0 {
		return domainErrors.NewNotFoundError("reminder not found")
	}
	return nil
}

// DueBefore returns every pending/snoozed reminder due at or before t.
func (r *GormReminderRepository) DueBefore(ctx context.Context, t time.Time) ([]*reminder.Reminder, error) {
	var rows []models.ReminderModel
	err := r.db.WithContext(ctx).
		Where("status != ?", string(reminder.StatusDone)).
		Where("(snoozed_until IS NOT NULL AND snoozed_until <= ?) OR (snoozed_until IS NULL AND remind_at <= ?)", t, t).
		Find(&rows).Error
	if err != nil {
		return nil, domainErrors.NewInternalError("failed to query due reminders: " + err.Error())
	}
	out := make([]*reminder.Reminder, 0, len(rows))
	for _, row := range rows {
		out = append(out, r.toEntity(&row))
	}
	return out, nil
}

// Rearm sets a recurring reminder's next fire time and clears any snooze.
func (r *GormReminderRepository) Rearm(ctx context.Context, id string, next time.Time) error {
	var rowsAffected int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.ReminderModel{}).
			Where("id = ?", id).
			Updates(map[string]any{"remind_at": next, "snoozed_until": nil, "status": string(reminder.StatusPending)})
		rowsAffected = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return domainErrors.NewInternalError("failed to rearm reminder: " + err.Error())
	}
	if rowsAffected == 0 {
		return domainErrors.NewNotFoundError("reminder not found")
	}
	return nil
}

// MarkDone marks a one-off reminder complete.
func (r *GormReminderRepository) MarkDone(ctx context.Context, id string) error {
	var rowsAffected int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.ReminderModel{}).
			Where("id = ?", id).
			Update("status", string(reminder.StatusDone))
		rowsAffected = result.RowsAffected
		return result.Error
	})
	if err != nil {
		return domainErrors.NewInternalError("failed to mark reminder done: " + err.Error())
	}
	if rowsAffected == 0 {
		return domainErrors.NewNotFoundError("reminder not found")
	}
	return nil
}

func (r *GormReminderRepository) toModel(rem *reminder.Reminder) *models.ReminderModel {
	return &models.ReminderModel{
		ID:             rem.ID,
		Message:        rem.Message,
		RemindAt:       rem.RemindAt,
		CreatedAt:      rem.CreatedAt,
		Status:         string(rem.Status),
		RepeatInterval: rem.RepeatInterval,
		SnoozedUntil:   rem.SnoozedUntil,
	}
}

func (r *GormReminderRepository) toEntity(model *models.ReminderModel) *reminder.Reminder {
	return &reminder.Reminder{
		ID:             model.ID,
		Message:        model.Message,
		RemindAt:       model.RemindAt,
		CreatedAt:      model.CreatedAt,
		Status:         reminder.Status(model.Status),
		RepeatInterval: model.RepeatInterval,
		SnoozedUntil:   model.SnoozedUntil,
	}
}
