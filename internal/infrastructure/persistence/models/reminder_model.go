package models

import "time"

// ReminderModel is the gorm row shape for a persisted reminder.
type ReminderModel struct {
	ID             string `gorm:"primaryKey;size:64"`
	Message        string `gorm:"type:text;not null"`
	RemindAt       time.Time
	CreatedAt      time.Time
	Status         string `gorm:"size:32;not null"`
	RepeatInterval string `gorm:"size:32"`
	SnoozedUntil   *time.Time
}

// TableName pins the table name.
func (ReminderModel) TableName() string {
	return "reminders"
}
