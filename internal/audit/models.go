package audit

import "time"

// Event は操作ログ1件。保存先（MySQL / Kafka）に依存しない形で持つ。
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
	UserID    string    `json:"user_id,omitempty"`
	Client    string    `json:"client,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}

// よく使うアクション名
const (
	ActionBorrow       = "BORROW"
	ActionReturn       = "RETURN"
	ActionDeleteBorrow = "DELETE_BORROW"
	ActionDeleteReturn = "DELETE_RETURN"
	ActionReconcile    = "RECONCILE"
	ActionCheckIn      = "CHECK_IN"
	ActionCheckOut     = "CHECK_OUT"
	ActionDeleteAttend = "DELETE_ATTENDANCE"
)

type Filter struct {
	Action string
	UserID string
	From   *time.Time
	To     *time.Time
}

type Page struct {
	Limit  int
	Offset int
}

type LogResponse struct {
	LogID     uint64    `json:"log_id"`
	Action    string    `json:"action"`
	Details   string    `json:"details"`
	UserID    *string   `json:"user_id,omitempty"`
	Client    *string   `json:"client,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type LogListResponse struct {
	Items      []LogResponse `json:"items"`
	Total      int64         `json:"total"`
	NextOffset *int          `json:"next_offset,omitempty"`
}
