package models

import (
	"fmt"
	"time"
)

// User is a registered account. Partners reference each other through PartnerID.
type User struct {
	ID       uint   `gorm:"primaryKey" json:"id,omitempty"`
	Phone    string `gorm:"size:32;uniqueIndex;not null" json:"phone"`
	Password string `gorm:"size:255;not null" json:"password"` // bcrypt hash
	Nickname string `gorm:"size:64" json:"nickname"`

	// BindingCode is the token a user shares with a partner to pair up.
	BindingCode *string `gorm:"size:16;uniqueIndex" json:"binding_code"`
	PartnerID   *uint   `gorm:"index" json:"partner_id"`
	// UnbindAt marks the start of the unbind cool-down.
	UnbindAt *time.Time `json:"unbind_at"`

	CoachGreetingShown bool      `gorm:"not null;default:false" json:"coach_greeting_shown"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Profile is the view of a user returned to its owner.
type Profile struct {
	ID          uint       `json:"id"`
	Phone       string     `json:"phone"`
	Nickname    string     `json:"nickname"`
	BindingCode string     `json:"binding_code,omitempty"`
	PartnerID   *uint      `json:"partner_id"`
	UnbindAt    *time.Time `json:"unbind_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

// PublicUser is the view of a user visible to other accounts.
type PublicUser struct {
	ID       uint   `json:"id"`
	Phone    string `json:"phone"`
	Nickname string `json:"nickname"`
}

func (u *User) Profile() Profile {
	p := Profile{
		ID:        u.ID,
		Phone:     u.Phone,
		Nickname:  u.Nickname,
		PartnerID: u.PartnerID,
		CreatedAt: u.CreatedAt,
	}
	// A released user keeps unbind_at, which is not a pending unbind.
	if u.HasPartner() {
		p.UnbindAt = u.UnbindAt
	}
	if u.BindingCode != nil {
		p.BindingCode = *u.BindingCode
	}
	return p
}

func (u *User) Public() PublicUser {
	return PublicUser{ID: u.ID, Phone: u.Phone, Nickname: u.Nickname}
}

// HasPartner reports whether the user is currently paired.
func (u *User) HasPartner() bool {
	return u.PartnerID != nil && *u.PartnerID != 0
}

// DisplayHandle is the name shown next to the user's lounge messages:
// the nickname, or a generic label with the phone number's last four digits.
func (u *User) DisplayHandle() string {
	if u.Nickname != "" {
		return u.Nickname
	}
	tail := u.Phone
	if len(tail) > 4 {
		tail = tail[len(tail)-4:]
	}
	return fmt.Sprintf("用户%s", tail)
}
