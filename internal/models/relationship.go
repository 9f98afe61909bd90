package models

import (
	"fmt"
	"time"
)

// Relationship is a pairing of two users and the lounge room they share.
// User1ID is always the smaller of the two ids.
type Relationship struct {
	ID      uint   `gorm:"primaryKey" json:"id,omitempty"`
	User1ID uint   `gorm:"not null;index" json:"user1_id"`
	User2ID uint   `gorm:"not null;index" json:"user2_id"`
	RoomID  string `gorm:"size:64;uniqueIndex;not null" json:"room_id"`
	// IsActive is false while an unbind cool-down is running.
	IsActive      bool      `gorm:"not null;default:true" json:"is_active"`
	GreetingShown bool      `gorm:"not null;default:false" json:"greeting_shown"`
	CreatedAt     time.Time `json:"created_at"`
}

// Includes reports whether userID is one of the two members.
func (r *Relationship) Includes(userID uint) bool {
	return r.User1ID == userID || r.User2ID == userID
}

// PartnerOf returns the other member of the pair.
func (r *Relationship) PartnerOf(userID uint) uint {
	if r.User1ID == userID {
		return r.User2ID
	}
	return r.User1ID
}

// CanonicalPair orders two user ids so that the smaller comes first.
func CanonicalPair(a, b uint) (uint, uint) {
	if a > b {
		return b, a
	}
	return a, b
}

// RoomIDFor derives the deterministic lounge room id for a pair of users.
func RoomIDFor(a, b uint) string {
	lo, hi := CanonicalPair(a, b)
	return fmt.Sprintf("room_%d_%d", lo, hi)
}

// NewRelationship builds an active relationship for the pair.
func NewRelationship(a, b uint) *Relationship {
	lo, hi := CanonicalPair(a, b)
	return &Relationship{
		User1ID:  lo,
		User2ID:  hi,
		RoomID:   RoomIDFor(lo, hi),
		IsActive: true,
	}
}
