package models

import "time"

// TaskKind identifies what a scheduled task does when it comes due.
type TaskKind string

const (
	// TaskTrialExpiry expires a subscription still in trial.
	TaskTrialExpiry TaskKind = "trial_expiry"
	// TaskPeriodEnd moves an unrenewed active subscription to past_due.
	TaskPeriodEnd TaskKind = "period_end"
	// TaskGraceExpiry expires a subscription still past_due.
	TaskGraceExpiry TaskKind = "grace_expiry"
)

// ScheduledTask is a deferred subscription transition.
// Rows are claimed with row locks so several instances can share one queue.
type ScheduledTask struct {
	ID             string    `json:"id" gorm:"column:id;primaryKey;size:255"`
	SubscriptionID string    `json:"subscriptionId" gorm:"column:subscription_id;size:255;not null;index"`
	Kind           TaskKind  `json:"kind" gorm:"column:kind;size:32;not null"`
	DueAt          time.Time `json:"dueAt" gorm:"column:due_at;not null;index"`
	Attempts       int       `json:"attempts" gorm:"column:attempts;not null;default:0"`
}

// TableName specifies the table name for GORM
func (ScheduledTask) TableName() string {
	return "scheduled_tasks"
}

// TaskID builds the identifier of a subscription's task of the given kind.
// A subscription has at most one pending task per kind.
func TaskID(subscriptionID string, kind TaskKind) string {
	return subscriptionID + ":" + string(kind)
}
