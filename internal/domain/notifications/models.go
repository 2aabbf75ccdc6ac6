package notifications

import "time"

type Notification struct {
	ID                 string     `json:"id"`
	Title              string     `json:"title"`
	Message            string     `json:"message"`
	Type               string     `json:"type"`
	Priority           string     `json:"priority"`
	TargetType         string     `json:"targetType"`
	TargetDepartmentID string     `json:"targetDepartmentId,omitempty"`
	TargetUserID       string     `json:"targetUserId,omitempty"`
	CreatedBy          string     `json:"createdBy,omitempty"`
	CreatedAt          time.Time  `json:"createdAt"`
	ScheduledFor       *time.Time `json:"scheduledFor,omitempty"`
}

// VisibleAt reports whether n is past its scheduled instant.
func (n Notification) VisibleAt(now time.Time) bool {
	return n.ScheduledFor == nil || !n.ScheduledFor.After(now)
}

// Recipient scopes the feed to one user and their department.
type Recipient struct {
	UserID       string
	DepartmentID string
}

type Receipt struct {
	NotificationID string    `json:"notificationId"`
	UserID         string    `json:"userId"`
	ReadAt         time.Time `json:"readAt"`
}

// Item is a feed entry with the recipient's read flag.
type Item struct {
	Notification
	Read bool `json:"read"`
}

type Snapshot struct {
	Items       []Item         `json:"items"`
	Unread      []Notification `json:"unread"`
	UnreadCount int            `json:"unreadCount"`
}

type CreateRequest struct {
	Title              string     `json:"title" validate:"required,max=200"`
	Message            string     `json:"message" validate:"required,max=4000"`
	Type               string     `json:"type" validate:"omitempty,oneof=general announcement policy reminder"`
	Priority           string     `json:"priority" validate:"omitempty,oneof=low normal high urgent"`
	TargetType         string     `json:"targetType" validate:"omitempty,oneof=all department user"`
	TargetDepartmentID string     `json:"targetDepartmentId" validate:"required_if=TargetType department,omitempty,uuid"`
	TargetUserID       string     `json:"targetUserId" validate:"required_if=TargetType user,omitempty,uuid"`
	ScheduledFor       *time.Time `json:"scheduledFor"`
}
