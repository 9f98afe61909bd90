package storage

import (
	"betweenus/backend/internal/models"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"gorm.io/gorm"
)

// GormStore implements Storage on top of a relational database.
type GormStore struct {
	DB *gorm.DB

	serialize bool
	mu        sync.Mutex
}

// NewGormStore migrates the schema and wraps db.
func NewGormStore(db *gorm.DB, serialize bool) (*GormStore, error) {
	err := db.AutoMigrate(
		&models.User{},
		&models.Relationship{},
		&models.CoachChat{},
		&models.LoungeChat{},
	)
	if err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &GormStore{DB: db, serialize: serialize}, nil
}

func (s *GormStore) lock() func() {
	if !s.serialize {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	}
	return err
}

func (s *GormStore) CreateUser(user *models.User) error {
	defer s.lock()()

	return s.DB.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.User{}).Where("phone = ?", user.Phone).Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrDuplicate
		}
		if err := tx.Create(user).Error; err != nil {
			log.Printf("ERROR: Failed to create user %s: %v", user.Phone, err)
			return translate(err)
		}
		return nil
	})
}

func (s *GormStore) GetUserByID(id uint) (*models.User, error) {
	defer s.lock()()

	var user models.User
	if err := s.DB.First(&user, id).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (s *GormStore) GetUserByPhone(phone string) (*models.User, error) {
	defer s.lock()()

	var user models.User
	if err := s.DB.Where("phone = ?", phone).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

func (s *GormStore) GetUserByBindingCode(code string) (*models.User, error) {
	defer s.lock()()

	var user models.User
	if err := s.DB.Where("binding_code = ?", code).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

// updateUser writes only the given columns of one or more users.
func (s *GormStore) updateUser(ids []uint, fields map[string]interface{}) error {
	defer s.lock()()

	if err := s.DB.Model(&models.User{}).Where("id IN ?", ids).Updates(fields).Error; err != nil {
		log.Printf("ERROR: Failed to update users %v: %v", ids, err)
		return translate(err)
	}
	return nil
}

func (s *GormStore) SetNickname(id uint, nickname string) error {
	return s.updateUser([]uint{id}, map[string]interface{}{"nickname": nickname})
}

func (s *GormStore) SetPassword(id uint, hash string) error {
	return s.updateUser([]uint{id}, map[string]interface{}{"password": hash})
}

func (s *GormStore) SetBindingCode(id uint, code *string) error {
	var v interface{}
	if code != nil {
		v = *code
	}
	return s.updateUser([]uint{id}, map[string]interface{}{"binding_code": v})
}

func (s *GormStore) SetCoachGreetingShown(id uint, shown bool) error {
	return s.updateUser([]uint{id}, map[string]interface{}{"coach_greeting_shown": shown})
}

func (s *GormStore) SetUnbindAt(ids []uint, at *time.Time) error {
	var v interface{}
	if at != nil {
		v = *at
	}
	return s.updateUser(ids, map[string]interface{}{"unbind_at": v})
}

func (s *GormStore) ReleasePartner(id uint) error {
	return s.updateUser([]uint{id}, map[string]interface{}{"partner_id": nil, "binding_code": nil})
}

// BindUsers sets both partner ids with conditional updates so that a
// concurrent bind on either user makes the whole transaction fail.
func (s *GormStore) BindUsers(a, b uint, rel *models.Relationship) error {
	defer s.lock()()

	return s.DB.Transaction(func(tx *gorm.DB) error {
		for _, pair := range [][2]uint{{a, b}, {b, a}} {
			res := tx.Model(&models.User{}).
				Where("id = ? AND partner_id IS NULL", pair[0]).
				Updates(map[string]interface{}{
					"partner_id": pair[1],
					"unbind_at":  nil,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected != 1 {
				return ErrAlreadyBound
			}
		}

		var existing models.Relationship
		err := tx.Where("room_id = ?", rel.RoomID).First(&existing).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return tx.Create(rel).Error
		}
		if err != nil {
			return err
		}
		existing.IsActive = true
		if err := tx.Save(&existing).Error; err != nil {
			return err
		}
		*rel = existing
		return nil
	})
}

func (s *GormStore) ListUsersUnbindingBefore(t time.Time) ([]models.User, error) {
	defer s.lock()()

	var users []models.User
	if err := s.DB.Where("partner_id IS NOT NULL AND unbind_at IS NOT NULL AND unbind_at <= ?", t).Order("id asc").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func (s *GormStore) CreateRelationship(rel *models.Relationship) error {
	defer s.lock()()

	return translate(s.DB.Create(rel).Error)
}

func (s *GormStore) GetRelationshipForUser(userID uint, activeOnly bool) (*models.Relationship, error) {
	defer s.lock()()

	q := s.DB.Where("user1_id = ? OR user2_id = ?", userID, userID)
	if activeOnly {
		q = q.Where("is_active = ?", true)
	}
	var rel models.Relationship
	if err := q.Order("id desc").First(&rel).Error; err != nil {
		return nil, translate(err)
	}
	return &rel, nil
}

func (s *GormStore) GetRelationshipByRoom(roomID string) (*models.Relationship, error) {
	defer s.lock()()

	var rel models.Relationship
	if err := s.DB.Where("room_id = ?", roomID).First(&rel).Error; err != nil {
		return nil, translate(err)
	}
	return &rel, nil
}

func (s *GormStore) UpdateRelationship(rel *models.Relationship) error {
	defer s.lock()()

	return translate(s.DB.Save(rel).Error)
}

func (s *GormStore) CreateCoachChat(chat *models.CoachChat) error {
	defer s.lock()()

	if err := s.DB.Create(chat).Error; err != nil {
		log.Printf("ERROR: Failed to save coach message for user %d: %v", chat.UserID, err)
		return err
	}
	return nil
}

func (s *GormStore) UpdateCoachChat(chat *models.CoachChat) error {
	defer s.lock()()

	return s.DB.Save(chat).Error
}

func (s *GormStore) ListCoachChats(userID uint) ([]models.CoachChat, error) {
	defer s.lock()()

	var chats []models.CoachChat
	err := s.DB.Where("user_id = ?", userID).Order("created_at asc, id asc").Find(&chats).Error
	return chats, err
}

func (s *GormStore) RecentCoachChats(userID uint, n int) ([]models.CoachChat, error) {
	defer s.lock()()

	var chats []models.CoachChat
	err := s.DB.Where("user_id = ?", userID).Order("created_at desc, id desc").Limit(n).Find(&chats).Error
	if err != nil {
		return nil, err
	}
	reverse(chats)
	return chats, nil
}

func (s *GormStore) DeleteCoachChats(userID uint) error {
	defer s.lock()()

	return s.DB.Where("user_id = ?", userID).Delete(&models.CoachChat{}).Error
}

func (s *GormStore) CreateLoungeChat(chat *models.LoungeChat) error {
	defer s.lock()()

	if err := s.DB.Create(chat).Error; err != nil {
		log.Printf("ERROR: Failed to save lounge message for room %s: %v", chat.RoomID, err)
		return err
	}
	return nil
}

func (s *GormStore) UpdateLoungeChat(chat *models.LoungeChat) error {
	defer s.lock()()

	return s.DB.Save(chat).Error
}

func (s *GormStore) ListLoungeChats(roomID string, sinceID uint) ([]models.LoungeChat, error) {
	defer s.lock()()

	var chats []models.LoungeChat
	err := s.DB.Where("room_id = ? AND id > ?", roomID, sinceID).Order("created_at asc, id asc").Find(&chats).Error
	return chats, err
}

func (s *GormStore) RecentLoungeChats(roomID string, n int) ([]models.LoungeChat, error) {
	defer s.lock()()

	var chats []models.LoungeChat
	err := s.DB.Where("room_id = ?", roomID).Order("created_at desc, id desc").Limit(n).Find(&chats).Error
	if err != nil {
		return nil, err
	}
	reverse(chats)
	return chats, nil
}

// ClaimUnsentLoungeChats flips sent_to_ai with a conditional update per row,
// so a row raced by another caller is skipped instead of returned twice.
// Unsent messages older than the claimed batch are retired with it.
func (s *GormStore) ClaimUnsentLoungeChats(roomID string, limit int) ([]models.LoungeChat, error) {
	defer s.lock()()

	var claimed []models.LoungeChat
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var candidates []models.LoungeChat
		err := tx.Where("room_id = ? AND role = ? AND sent_to_ai = ?", roomID, models.RoleUser, false).
			Order("created_at desc, id desc").
			Limit(limit).
			Find(&candidates).Error
		if err != nil {
			return err
		}

		for _, c := range candidates {
			res := tx.Model(&models.LoungeChat{}).
				Where("id = ? AND sent_to_ai = ?", c.ID, false).
				Update("sent_to_ai", true)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 1 {
				c.SentToAI = true
				claimed = append(claimed, c)
			}
		}

		if len(candidates) == limit {
			oldest := candidates[len(candidates)-1].ID
			return tx.Model(&models.LoungeChat{}).
				Where("room_id = ? AND role = ? AND sent_to_ai = ? AND id < ?", roomID, models.RoleUser, false, oldest).
				Update("sent_to_ai", true).Error
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	reverse(claimed)
	return claimed, nil
}

func (s *GormStore) Close() error {
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
