package models

import (
	"time"

	"github.com/google/uuid"
)

type UserRole string

const (
	RoleOwner   UserRole = "OWNER"
	RoleManager UserRole = "MANAGER"
)

type User struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	Role      UserRole  `json:"role" db:"role"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Shop is the unit of access control: an OWNER owns it, MANAGERs are
// assigned through the shop_managers relation.
type Shop struct {
	ID             uuid.UUID `json:"id" db:"id"`
	OwnerID        uuid.UUID `json:"owner_id" db:"owner_id"`
	Name           string    `json:"name" db:"name"`
	TelegramChatID string    `json:"telegram_chat_id,omitempty" db:"telegram_chat_id"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`
}
