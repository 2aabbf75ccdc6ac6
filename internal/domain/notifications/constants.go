package notifications

const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

const (
	TargetAll        = "all"
	TargetDepartment = "department"
	TargetUser       = "user"
)

const (
	TypeGeneral      = "general"
	TypeAnnouncement = "announcement"
	TypePolicy       = "policy"
	TypeReminder     = "reminder"
)

// Table is the realtime table name for notification inserts.
const Table = "notifications"
