package storage

import (
	"betweenus/backend/internal/config"
	"betweenus/backend/internal/models"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a lookup matches no record.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a unique field is already taken.
	ErrDuplicate = errors.New("duplicate record")
	// ErrAlreadyBound is returned by BindUsers when either user already has a partner.
	ErrAlreadyBound = errors.New("user already has a partner")
)

// Storage is the persistence surface shared by every backend.
// List methods return records in chronological order.
type Storage interface {
	CreateUser(user *models.User) error
	GetUserByID(id uint) (*models.User, error)
	GetUserByPhone(phone string) (*models.User, error)
	GetUserByBindingCode(code string) (*models.User, error)

	// The user setters write only their own columns, so a copy of the user
	// loaded earlier in a request never overwrites a concurrent bind.
	SetNickname(id uint, nickname string) error
	SetPassword(id uint, hash string) error
	// SetBindingCode stores code, or clears it when nil. ErrDuplicate if
	// another user holds the same code.
	SetBindingCode(id uint, code *string) error
	SetCoachGreetingShown(id uint, shown bool) error
	SetUnbindAt(ids []uint, at *time.Time) error
	// ReleasePartner clears partner_id and binding_code once the cool-down is
	// over. unbind_at is kept.
	ReleasePartner(id uint) error

	// BindUsers links a and b as partners and stores rel, or reactivates the
	// relationship already stored for the same room. Both users must be
	// unpartnered. unbind_at is cleared on both.
	BindUsers(a, b uint, rel *models.Relationship) error
	// ListUsersUnbindingBefore returns the partnered users whose unbind started
	// at or before t.
	ListUsersUnbindingBefore(t time.Time) ([]models.User, error)

	CreateRelationship(rel *models.Relationship) error
	GetRelationshipForUser(userID uint, activeOnly bool) (*models.Relationship, error)
	GetRelationshipByRoom(roomID string) (*models.Relationship, error)
	UpdateRelationship(rel *models.Relationship) error

	CreateCoachChat(chat *models.CoachChat) error
	UpdateCoachChat(chat *models.CoachChat) error
	ListCoachChats(userID uint) ([]models.CoachChat, error)
	RecentCoachChats(userID uint, n int) ([]models.CoachChat, error)
	DeleteCoachChats(userID uint) error

	CreateLoungeChat(chat *models.LoungeChat) error
	UpdateLoungeChat(chat *models.LoungeChat) error
	ListLoungeChats(roomID string, sinceID uint) ([]models.LoungeChat, error)
	RecentLoungeChats(roomID string, n int) ([]models.LoungeChat, error)
	// ClaimUnsentLoungeChats marks up to limit of the newest unsent user messages
	// as sent and returns them. A message is returned by at most one call.
	ClaimUnsentLoungeChats(roomID string, limit int) ([]models.LoungeChat, error)

	Close() error
}

// Open selects the backend named by cfg.StorageBackend.
func Open(cfg *config.Config) (Storage, error) {
	switch cfg.StorageBackend {
	case "", "json":
		return NewJSONFileStore(cfg.DataDir)
	case "sqlite":
		return OpenGorm(sqlite.Open(cfg.SQLitePath), true)
	case "postgres":
		if cfg.DatabaseDSN == "" {
			return nil, errors.New("DATABASE_DSN is required for the postgres backend")
		}
		return OpenGorm(postgres.Open(cfg.DatabaseDSN), false)
	case "mysql":
		if cfg.DatabaseDSN == "" {
			return nil, errors.New("DATABASE_DSN is required for the mysql backend")
		}
		return OpenGorm(mysql.Open(cfg.DatabaseDSN), false)
	case "supabase":
		return NewSupabaseStore(cfg.SupabaseURL, cfg.SupabaseKey)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

// OpenGorm connects through the given dialector and migrates the schema.
// serialize wraps every call in a store-wide mutex, for single-writer engines.
func OpenGorm(dialector gorm.Dialector, serialize bool) (*GormStore, error) {
	db, err := gorm.Open(dialector, &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", dialector.Name(), err)
	}
	store, err := NewGormStore(db, serialize)
	if err != nil {
		return nil, err
	}
	log.Printf("INFO: %s storage ready, migrations complete", dialector.Name())
	return store, nil
}

func reverse[T any](items []T) {
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
}
