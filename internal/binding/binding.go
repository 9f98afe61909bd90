// Package binding pairs users into couples through binding codes and runs
// the unbind cool-down.
package binding

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"betweenus/backend/internal/apperr"
	"betweenus/backend/internal/config"
	"betweenus/backend/internal/localization"
	"betweenus/backend/internal/models"
	"betweenus/backend/internal/storage"
)

// Service handles the business logic for pairing and unpairing.
type Service struct {
	Storage   storage.Storage
	Localizer *localization.Localizer
	Lang      string
	CoolDown  time.Duration
	Now       func() time.Time
}

// NewService creates a new binding service.
func NewService(s storage.Storage, l *localization.Localizer, lang string) *Service {
	return &Service{
		Storage:   s,
		Localizer: l,
		Lang:      lang,
		CoolDown:  config.UnbindCoolDown,
		Now:       time.Now,
	}
}

// Result describes a completed bind.
type Result struct {
	Partner      *models.User
	Relationship *models.Relationship
}

// Code returns the user's binding code, generating one on first use.
func (s *Service) Code(userID uint) (string, error) {
	user, err := s.user(userID)
	if err != nil {
		return "", err
	}
	if user.BindingCode != nil && *user.BindingCode != "" {
		return *user.BindingCode, nil
	}
	return s.assignCode(user.ID)
}

// Regenerate replaces the user's binding code.
func (s *Service) Regenerate(userID uint) (string, error) {
	if _, err := s.user(userID); err != nil {
		return "", err
	}
	return s.assignCode(userID)
}

func (s *Service) assignCode(userID uint) (string, error) {
	for attempt := 0; attempt < config.BindingCodeRetries; attempt++ {
		code, err := newCode()
		if err != nil {
			return "", err
		}
		if _, err := s.Storage.GetUserByBindingCode(code); err == nil {
			continue
		} else if !errors.Is(err, storage.ErrNotFound) {
			return "", err
		}

		err = s.Storage.SetBindingCode(userID, &code)
		if errors.Is(err, storage.ErrDuplicate) {
			continue
		}
		if err != nil {
			return "", fmt.Errorf("failed to store binding code: %w", err)
		}
		return code, nil
	}
	return "", fmt.Errorf("no free binding code after %d attempts", config.BindingCodeRetries)
}

// newCode returns six uppercase hex characters.
func newCode() (string, error) {
	buf := make([]byte, config.BindingCodeBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate binding code: %w", err)
	}
	return strings.ToUpper(hex.EncodeToString(buf)), nil
}

// Bind pairs userID with the owner of code. The partner's code is consumed,
// and a greeting is posted in a newly created lounge room.
func (s *Service) Bind(userID uint, code string) (*Result, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return nil, apperr.Validation("binding.code_required")
	}

	user, err := s.user(userID)
	if err != nil {
		return nil, err
	}
	partner, err := s.Storage.GetUserByBindingCode(code)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.Validation("binding.invalid_code")
	}
	if err != nil {
		return nil, err
	}
	if partner.ID == user.ID {
		return nil, apperr.Validation("binding.self")
	}
	if user.HasPartner() || partner.HasPartner() {
		return nil, apperr.Validation("binding.already_bound")
	}

	rel := models.NewRelationship(user.ID, partner.ID)
	if err := s.Storage.BindUsers(user.ID, partner.ID, rel); err != nil {
		if errors.Is(err, storage.ErrAlreadyBound) {
			return nil, apperr.Validation("binding.already_bound")
		}
		return nil, fmt.Errorf("failed to bind users: %w", err)
	}
	log.Printf("INFO: Users %d and %d bound in %s", user.ID, partner.ID, rel.RoomID)

	if err := s.Storage.SetBindingCode(partner.ID, nil); err != nil {
		log.Printf("WARNING: Failed to consume binding code of user %d: %v", partner.ID, err)
	}
	// Reload: BindUsers changed the partner record underneath us.
	if partner, err = s.Storage.GetUserByID(partner.ID); err != nil {
		return nil, err
	}

	if !rel.GreetingShown {
		s.greet(rel)
	}

	return &Result{Partner: partner, Relationship: rel}, nil
}

func (s *Service) greet(rel *models.Relationship) {
	msg := &models.LoungeChat{
		RoomID:  rel.RoomID,
		Role:    models.RoleAssistant,
		Content: s.Localizer.Pick(s.Lang, "lounge.greeting", config.GreetingVariants),
	}
	if err := s.Storage.CreateLoungeChat(msg); err != nil {
		log.Printf("WARNING: Failed to post lounge greeting in %s: %v", rel.RoomID, err)
		return
	}
	rel.GreetingShown = true
	if err := s.Storage.UpdateRelationship(rel); err != nil {
		log.Printf("WARNING: Failed to mark greeting shown in %s: %v", rel.RoomID, err)
	}
}

// Unbind starts the cool-down for the user and their partner. The lounge
// room is closed until the unbind is cancelled.
func (s *Service) Unbind(userID uint) (time.Time, error) {
	user, err := s.user(userID)
	if err != nil {
		return time.Time{}, err
	}
	if !user.HasPartner() {
		return time.Time{}, apperr.Validation("binding.not_bound")
	}
	if user.UnbindAt != nil {
		return time.Time{}, apperr.Validation("binding.unbind_pending")
	}

	now := s.Now().UTC()
	if err := s.setUnbindAt(user, &now); err != nil {
		return time.Time{}, err
	}
	s.setRoomActive(user, false)

	log.Printf("INFO: User %d started unbinding from %d", user.ID, *user.PartnerID)
	return now, nil
}

// CancelUnbind stops a running cool-down and reopens the lounge room.
func (s *Service) CancelUnbind(userID uint) error {
	user, err := s.user(userID)
	if err != nil {
		return err
	}
	if user.UnbindAt == nil {
		return apperr.Validation("binding.no_pending_unbind")
	}
	// Released users keep unbind_at, so an unpartnered user here is past the cool-down.
	if !user.HasPartner() || s.Now().Sub(*user.UnbindAt) > s.CoolDown {
		return apperr.Validation("binding.cooldown_expired")
	}

	if err := s.setUnbindAt(user, nil); err != nil {
		return err
	}
	s.setRoomActive(user, true)
	return nil
}

// setUnbindAt writes at to the user and, when still linked, their partner.
func (s *Service) setUnbindAt(user *models.User, at *time.Time) error {
	ids := []uint{user.ID}
	if user.HasPartner() {
		ids = append(ids, *user.PartnerID)
	}
	if err := s.Storage.SetUnbindAt(ids, at); err != nil {
		return fmt.Errorf("failed to update unbind time of users %v: %w", ids, err)
	}
	user.UnbindAt = at
	return nil
}

func (s *Service) setRoomActive(user *models.User, active bool) {
	if !user.HasPartner() {
		return
	}
	rel, err := s.Storage.GetRelationshipByRoom(models.RoomIDFor(user.ID, *user.PartnerID))
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			log.Printf("WARNING: Failed to load relationship of user %d: %v", user.ID, err)
		}
		return
	}
	rel.IsActive = active
	if err := s.Storage.UpdateRelationship(rel); err != nil {
		log.Printf("WARNING: Failed to update relationship %s: %v", rel.RoomID, err)
	}
}

// FinalizeExpired completes every unbind whose cool-down has passed and
// returns how many users were released. unbind_at stays set on released
// users so a late cancel reports the expired cool-down.
func (s *Service) FinalizeExpired() (int, error) {
	due, err := s.Storage.ListUsersUnbindingBefore(s.Now().UTC().Add(-s.CoolDown))
	if err != nil {
		return 0, fmt.Errorf("failed to list expired unbinds: %w", err)
	}

	released := 0
	for _, user := range due {
		if err := s.Storage.ReleasePartner(user.ID); err != nil {
			log.Printf("ERROR: Failed to finalize unbind of user %d: %v", user.ID, err)
			continue
		}
		released++
	}
	if released > 0 {
		log.Printf("INFO: Finalized unbind for %d users", released)
	}
	return released, nil
}

// RunSweeper calls FinalizeExpired every period until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		if _, err := s.FinalizeExpired(); err != nil {
			log.Printf("ERROR: Unbind sweep failed: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Service) user(id uint) (*models.User, error) {
	user, err := s.Storage.GetUserByID(id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.NotFound("user.not_found")
	}
	if err != nil {
		return nil, err
	}
	return user, nil
}
