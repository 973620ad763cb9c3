// internal/models/chat.go
package models

import (
	"github.com/google/uuid"
)

// DealMessage is one entry in the deal's chat thread. The state machine
// writes MessageKindSystem entries here on every transition; the parties
// exchange MessageKindUser entries. Message transport (push, websockets) is
// a client concern.
type DealMessage struct {
	BaseModel
	DealID     uuid.UUID   `json:"deal_id" gorm:"type:uuid;not null;index"`
	SenderID   *uuid.UUID  `json:"sender_id" gorm:"type:uuid;index"` // nil for system messages
	Kind       MessageKind `json:"kind" gorm:"type:varchar(10);not null;default:'user'"`
	MessageKey string      `json:"message_key,omitempty" gorm:"size:100"` // i18n key for system messages
	Body       string      `json:"body" gorm:"type:text;not null"`

	// Relationships
	Deal   Deal  `json:"deal,omitempty" gorm:"foreignKey:DealID"`
	Sender *User `json:"sender,omitempty" gorm:"foreignKey:SenderID"`
}
