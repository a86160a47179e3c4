package models

import "time"

// TaskClass buckets a tracker issue for planning.
type TaskClass string

const (
	ClassPriorityEligible TaskClass = "priority_eligible"
	ClassAdministrative   TaskClass = "administrative"
	ClassLongRunning      TaskClass = "long_running"
	ClassBlocking         TaskClass = "blocking"
	ClassDependent        TaskClass = "dependent"
)

// Task is one active tracker issue for a user.
type Task struct {
	Key           string    `json:"key"`
	Summary       string    `json:"summary"`
	Class         TaskClass `json:"class"`
	EstimateDays  float64   `json:"estimate_days"`
	RankScore     float64   `json:"rank_score"`
	BlockedBy     []string  `json:"blocked_by,omitempty"`
	Blocks        []string  `json:"blocks,omitempty"`
	AgeDays       int       `json:"age_days"`
	DueDate       *time.Time `json:"due_date,omitempty"`
}

// PlanItem is one scheduled entry in a daily plan.
type PlanItem struct {
	TaskKey  string    `json:"task_key"`
	Summary  string    `json:"summary"`
	Class    TaskClass `json:"class"`
	Priority int       `json:"priority,omitempty"` // 1..3 for priority slots, 0 otherwise
	Minutes  int       `json:"minutes,omitempty"`  // administrative block budget
}

// Plan is a generated daily plan: at most three priorities, one
// administrative block of at most 90 minutes, and the ranked remainder.
type Plan struct {
	UserID      string     `json:"user_id"`
	PlanDate    string     `json:"plan_date"` // YYYY-MM-DD
	Priorities  []PlanItem `json:"priorities"`
	AdminBlock  []PlanItem `json:"admin_block,omitempty"`
	Remainder   []PlanItem `json:"remainder,omitempty"`
	GeneratedAt time.Time  `json:"generated_at"`
}

// Subtask is one step of a decomposed task, each at most the target effort.
type Subtask struct {
	Order        int     `json:"order"`
	Title        string  `json:"title"`
	EstimateDays float64 `json:"estimate_days"`
}

// ClosureRecord is the persisted completion state for one user's plan day.
type ClosureRecord struct {
	UserID              string   `json:"user_id" db:"user_id"`
	PlanDate            string   `json:"plan_date" db:"plan_date"`
	TotalPriorities     int      `json:"total_priorities" db:"total_priorities"`
	CompletedPriorities int      `json:"completed_priorities" db:"completed_priorities"`
	ClosureRate         float64  `json:"closure_rate" db:"closure_rate"`
	IncompleteTasks     []string `json:"incomplete_tasks" db:"-"`
}

// UserSettings holds the per-user knobs the settings action recognises.
type UserSettings struct {
	UserID               string  `json:"user_id" db:"user_id"`
	NotificationEnabled  bool    `json:"notification_enabled" db:"notification_enabled"`
	ApprovalTimeoutHours float64 `json:"approval_timeout_hours" db:"approval_timeout_hours"`
	AdminBlockTime       string  `json:"admin_block_time" db:"admin_block_time"` // "HH:MM-HH:MM"
	MaxPriorities        int     `json:"max_priorities" db:"max_priorities"`     // 1..5
	UpdatedAt            time.Time `json:"updated_at" db:"updated_at"`
}

// DefaultSettings returns the settings applied before a user configures any.
func DefaultSettings(userID string) UserSettings {
	return UserSettings{
		UserID:               userID,
		NotificationEnabled:  true,
		ApprovalTimeoutHours: 4,
		AdminBlockTime:       "14:00-15:30",
		MaxPriorities:        3,
	}
}
