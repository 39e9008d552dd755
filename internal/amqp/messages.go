package amqp

import (
	"encoding/json"
	"time"
)

// Reasons carried by cache invalidation messages.
const (
	ReasonExpenseAdded   = "expense_added"
	ReasonExpenseEdited  = "expense_edited"
	ReasonExpenseDeleted = "expense_deleted"
	ReasonBulkImport     = "bulk_import"
)

// CacheInvalidationMessage tells every dashboard instance that cached
// responses may be stale. Source identifies the publishing instance.
type CacheInvalidationMessage struct {
	Reason    string    `json:"reason"`
	TargetID  string    `json:"targetId,omitempty"`
	Source    string    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

func NewCacheInvalidationMessage(reason, targetID, source string) *CacheInvalidationMessage {
	return &CacheInvalidationMessage{
		Reason:    reason,
		TargetID:  targetID,
		Source:    source,
		Timestamp: time.Now(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *CacheInvalidationMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// CacheInvalidationMessageFromJSON decodes a message body.
func CacheInvalidationMessageFromJSON(data []byte) (*CacheInvalidationMessage, error) {
	var msg CacheInvalidationMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
