// Package account handles registration, login and profile updates.
package account

import (
	"errors"
	"fmt"
	"log"
	"strings"

	"betweenus/backend/internal/apperr"
	"betweenus/backend/internal/models"
	"betweenus/backend/internal/storage"

	"golang.org/x/crypto/bcrypt"
)

type Service struct {
	Storage storage.Storage
	// Cost is the bcrypt work factor.
	Cost int
}

func NewService(s storage.Storage) *Service {
	return &Service{Storage: s, Cost: bcrypt.DefaultCost}
}

// Register creates an account. The phone number must not be taken.
func (s *Service) Register(phone, password, nickname string) (*models.User, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" || password == "" {
		return nil, apperr.Validation("account.phone_password_required")
	}

	hash, err := s.hash(password)
	if err != nil {
		return nil, err
	}
	user := &models.User{Phone: phone, Password: hash, Nickname: strings.TrimSpace(nickname)}
	if err := s.Storage.CreateUser(user); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, apperr.Validation("account.phone_taken")
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	log.Printf("INFO: Registered user %d", user.ID)
	return user, nil
}

// Authenticate checks the credentials and returns the user. Accounts stored
// with a plaintext password are upgraded to a hash on their first login.
func (s *Service) Authenticate(phone, password string) (*models.User, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" || password == "" {
		return nil, apperr.Validation("account.phone_password_required")
	}

	user, err := s.Storage.GetUserByPhone(phone)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.Unauthorized("account.bad_credentials")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	if !isHash(user.Password) {
		if user.Password != password {
			return nil, apperr.Unauthorized("account.bad_credentials")
		}
		if err := s.setPassword(user, password); err != nil {
			log.Printf("WARNING: Failed to upgrade legacy password for user %d: %v", user.ID, err)
		}
		return user, nil
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(password)); err != nil {
		return nil, apperr.Unauthorized("account.bad_credentials")
	}
	return user, nil
}

func (s *Service) GetUser(id uint) (*models.User, error) {
	user, err := s.Storage.GetUserByID(id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("user.not_found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user %d: %w", id, err)
	}
	return user, nil
}

func (s *Service) GetUserByPhone(phone string) (*models.User, error) {
	user, err := s.Storage.GetUserByPhone(strings.TrimSpace(phone))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("user.not_found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return user, nil
}

func (s *Service) UpdateNickname(id uint, nickname string) (*models.User, error) {
	nickname = strings.TrimSpace(nickname)
	if nickname == "" {
		return nil, apperr.Validation("account.nickname_required")
	}
	user, err := s.GetUser(id)
	if err != nil {
		return nil, err
	}
	if err := s.Storage.SetNickname(user.ID, nickname); err != nil {
		return nil, fmt.Errorf("failed to update nickname: %w", err)
	}
	user.Nickname = nickname
	return user, nil
}

// ResetPassword replaces the password of the account registered with phone.
func (s *Service) ResetPassword(phone, password string) error {
	if password == "" {
		return apperr.Validation("account.phone_password_required")
	}
	user, err := s.GetUserByPhone(phone)
	if err != nil {
		return err
	}
	return s.setPassword(user, password)
}

func (s *Service) setPassword(user *models.User, password string) error {
	hash, err := s.hash(password)
	if err != nil {
		return err
	}
	if err := s.Storage.SetPassword(user.ID, hash); err != nil {
		return fmt.Errorf("failed to store password: %w", err)
	}
	user.Password = hash
	return nil
}

func (s *Service) hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.Cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// isHash reports whether stored looks like a bcrypt hash.
func isHash(stored string) bool {
	_, err := bcrypt.Cost([]byte(stored))
	return err == nil
}
