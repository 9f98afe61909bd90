package storage

import (
	"betweenus/backend/internal/models"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"time"

	"github.com/nedpals/supabase-go"
)

// Table names in the hosted project.
const (
	usersTable         = "users"
	relationshipsTable = "relationships"
	coachChatsTable    = "coach_chats"
	loungeChatsTable   = "lounge_chats"
)

// SupabaseStore implements Storage against a hosted Postgres exposed
// through PostgREST. Ordering is done in Go after each fetch.
type SupabaseStore struct {
	Client *supabase.Client
	now    func() time.Time
}

// NewSupabaseStore creates the client and checks that the users table answers.
func NewSupabaseStore(url, key string) (*SupabaseStore, error) {
	if url == "" || key == "" {
		return nil, fmt.Errorf("SUPABASE_URL and SUPABASE_KEY are required for the supabase backend")
	}
	client := supabase.CreateClient(url, key)

	var rows []map[string]interface{}
	if err := client.DB.From(usersTable).Select("id").Limit(1).Execute(&rows); err != nil {
		log.Printf("WARNING: supabase users check failed (empty table?): %v", err)
	}
	return &SupabaseStore{Client: client, now: time.Now}, nil
}

func idString(id uint) string { return strconv.FormatUint(uint64(id), 10) }

func (s *SupabaseStore) selectUsers(column, value string) ([]models.User, error) {
	var users []models.User
	err := s.Client.DB.From(usersTable).Select("*").Eq(column, value).Execute(&users)
	return users, err
}

func firstUser(users []models.User, err error) (*models.User, error) {
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, ErrNotFound
	}
	return &users[0], nil
}

func (s *SupabaseStore) CreateUser(user *models.User) error {
	existing, err := s.selectUsers("phone", user.Phone)
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return ErrDuplicate
	}

	now := s.now()
	user.CreatedAt, user.UpdatedAt = now, now
	var results []models.User
	if err := s.Client.DB.From(usersTable).Insert(user).Execute(&results); err != nil {
		log.Printf("ERROR: Failed to insert user %s: %v", user.Phone, err)
		return err
	}
	if len(results) > 0 {
		*user = results[0]
	}
	return nil
}

func (s *SupabaseStore) GetUserByID(id uint) (*models.User, error) {
	return firstUser(s.selectUsers("id", idString(id)))
}

func (s *SupabaseStore) GetUserByPhone(phone string) (*models.User, error) {
	return firstUser(s.selectUsers("phone", phone))
}

func (s *SupabaseStore) GetUserByBindingCode(code string) (*models.User, error) {
	return firstUser(s.selectUsers("binding_code", code))
}

// patchUsers sends one PATCH per user carrying only fields.
func (s *SupabaseStore) patchUsers(ids []uint, fields map[string]interface{}) error {
	fields["updated_at"] = s.now()
	for _, id := range ids {
		var results []models.User
		if err := s.Client.DB.From(usersTable).Update(fields).Eq("id", idString(id)).Execute(&results); err != nil {
			log.Printf("ERROR: Failed to update user %d: %v", id, err)
			return err
		}
	}
	return nil
}

func (s *SupabaseStore) SetNickname(id uint, nickname string) error {
	return s.patchUsers([]uint{id}, map[string]interface{}{"nickname": nickname})
}

func (s *SupabaseStore) SetPassword(id uint, hash string) error {
	return s.patchUsers([]uint{id}, map[string]interface{}{"password": hash})
}

func (s *SupabaseStore) SetBindingCode(id uint, code *string) error {
	if code != nil {
		holders, err := s.selectUsers("binding_code", *code)
		if err != nil {
			return err
		}
		for _, h := range holders {
			if h.ID != id {
				return ErrDuplicate
			}
		}
	}
	return s.patchUsers([]uint{id}, map[string]interface{}{"binding_code": code})
}

func (s *SupabaseStore) SetCoachGreetingShown(id uint, shown bool) error {
	return s.patchUsers([]uint{id}, map[string]interface{}{"coach_greeting_shown": shown})
}

func (s *SupabaseStore) SetUnbindAt(ids []uint, at *time.Time) error {
	return s.patchUsers(ids, map[string]interface{}{"unbind_at": at})
}

func (s *SupabaseStore) ReleasePartner(id uint) error {
	return s.patchUsers([]uint{id}, map[string]interface{}{"partner_id": nil, "binding_code": nil})
}

// claimPartner sets partner_id on id only while it is still null and
// reports whether the row was taken.
func (s *SupabaseStore) claimPartner(id, partner uint) (bool, error) {
	var results []models.User
	err := s.Client.DB.From(usersTable).
		Update(map[string]interface{}{"partner_id": partner, "unbind_at": nil, "updated_at": s.now()}).
		Eq("id", idString(id)).
		IsNull("partner_id").
		Execute(&results)
	if err != nil {
		return false, err
	}
	return len(results) == 1, nil
}

// BindUsers claims both partner ids with conditional updates in sequence.
// PostgREST offers no multi-statement transaction, so the first claim is
// undone if the second user turns out to be taken.
func (s *SupabaseStore) BindUsers(a, b uint, rel *models.Relationship) error {
	for _, id := range []uint{a, b} {
		if _, err := s.GetUserByID(id); err != nil {
			return err
		}
	}

	ok, err := s.claimPartner(a, b)
	if err != nil {
		return err
	}
	if !ok {
		return ErrAlreadyBound
	}
	ok, err = s.claimPartner(b, a)
	if err != nil || !ok {
		if rbErr := s.patchUsers([]uint{a}, map[string]interface{}{"partner_id": nil}); rbErr != nil {
			log.Printf("ERROR: Failed to roll back partner of user %d: %v", a, rbErr)
		}
		if err != nil {
			return err
		}
		return ErrAlreadyBound
	}

	existing, err := s.GetRelationshipByRoom(rel.RoomID)
	if errors.Is(err, ErrNotFound) {
		return s.CreateRelationship(rel)
	}
	if err != nil {
		return err
	}
	existing.IsActive = true
	if err := s.UpdateRelationship(existing); err != nil {
		return err
	}
	*rel = *existing
	return nil
}

func (s *SupabaseStore) ListUsersUnbindingBefore(t time.Time) ([]models.User, error) {
	var users []models.User
	if err := s.Client.DB.From(usersTable).Select("*").Execute(&users); err != nil {
		return nil, err
	}
	var due []models.User
	for _, u := range users {
		if u.HasPartner() && u.UnbindAt != nil && !u.UnbindAt.After(t) {
			due = append(due, u)
		}
	}
	return due, nil
}

func (s *SupabaseStore) CreateRelationship(rel *models.Relationship) error {
	rel.CreatedAt = s.now()
	var results []models.Relationship
	if err := s.Client.DB.From(relationshipsTable).Insert(rel).Execute(&results); err != nil {
		log.Printf("ERROR: Failed to insert relationship %s: %v", rel.RoomID, err)
		return err
	}
	if len(results) > 0 {
		*rel = results[0]
	}
	return nil
}

func (s *SupabaseStore) GetRelationshipForUser(userID uint, activeOnly bool) (*models.Relationship, error) {
	var candidates []models.Relationship
	for _, column := range []string{"user1_id", "user2_id"} {
		var rels []models.Relationship
		if err := s.Client.DB.From(relationshipsTable).Select("*").Eq(column, idString(userID)).Execute(&rels); err != nil {
			return nil, err
		}
		candidates = append(candidates, rels...)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].ID > candidates[j].ID })
	for _, r := range candidates {
		if !activeOnly || r.IsActive {
			return &r, nil
		}
	}
	return nil, ErrNotFound
}

func (s *SupabaseStore) GetRelationshipByRoom(roomID string) (*models.Relationship, error) {
	var rels []models.Relationship
	if err := s.Client.DB.From(relationshipsTable).Select("*").Eq("room_id", roomID).Execute(&rels); err != nil {
		return nil, err
	}
	if len(rels) == 0 {
		return nil, ErrNotFound
	}
	return &rels[0], nil
}

func (s *SupabaseStore) UpdateRelationship(rel *models.Relationship) error {
	var results []models.Relationship
	return s.Client.DB.From(relationshipsTable).Update(rel).Eq("id", idString(rel.ID)).Execute(&results)
}

func (s *SupabaseStore) CreateCoachChat(chat *models.CoachChat) error {
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = s.now()
	}
	var results []models.CoachChat
	if err := s.Client.DB.From(coachChatsTable).Insert(chat).Execute(&results); err != nil {
		log.Printf("ERROR: Failed to save coach message for user %d: %v", chat.UserID, err)
		return err
	}
	if len(results) > 0 {
		chat.ID = results[0].ID
	}
	return nil
}

func (s *SupabaseStore) UpdateCoachChat(chat *models.CoachChat) error {
	var results []models.CoachChat
	return s.Client.DB.From(coachChatsTable).Update(chat).Eq("id", idString(chat.ID)).Execute(&results)
}

func (s *SupabaseStore) ListCoachChats(userID uint) ([]models.CoachChat, error) {
	var chats []models.CoachChat
	if err := s.Client.DB.From(coachChatsTable).Select("*").Eq("user_id", idString(userID)).Execute(&chats); err != nil {
		return nil, err
	}
	sort.SliceStable(chats, func(i, j int) bool {
		if chats[i].CreatedAt.Equal(chats[j].CreatedAt) {
			return chats[i].ID < chats[j].ID
		}
		return chats[i].CreatedAt.Before(chats[j].CreatedAt)
	})
	return chats, nil
}

func (s *SupabaseStore) RecentCoachChats(userID uint, n int) ([]models.CoachChat, error) {
	chats, err := s.ListCoachChats(userID)
	if err != nil {
		return nil, err
	}
	if len(chats) > n {
		chats = chats[len(chats)-n:]
	}
	return chats, nil
}

func (s *SupabaseStore) DeleteCoachChats(userID uint) error {
	var results []models.CoachChat
	return s.Client.DB.From(coachChatsTable).Delete().Eq("user_id", idString(userID)).Execute(&results)
}

func (s *SupabaseStore) CreateLoungeChat(chat *models.LoungeChat) error {
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = s.now()
	}
	var results []models.LoungeChat
	if err := s.Client.DB.From(loungeChatsTable).Insert(chat).Execute(&results); err != nil {
		log.Printf("ERROR: Failed to save lounge message for room %s: %v", chat.RoomID, err)
		return err
	}
	if len(results) > 0 {
		chat.ID = results[0].ID
	}
	return nil
}

func (s *SupabaseStore) UpdateLoungeChat(chat *models.LoungeChat) error {
	var results []models.LoungeChat
	return s.Client.DB.From(loungeChatsTable).Update(chat).Eq("id", idString(chat.ID)).Execute(&results)
}

func (s *SupabaseStore) roomChats(roomID string) ([]models.LoungeChat, error) {
	var chats []models.LoungeChat
	if err := s.Client.DB.From(loungeChatsTable).Select("*").Eq("room_id", roomID).Execute(&chats); err != nil {
		return nil, err
	}
	sort.SliceStable(chats, func(i, j int) bool {
		if chats[i].CreatedAt.Equal(chats[j].CreatedAt) {
			return chats[i].ID < chats[j].ID
		}
		return chats[i].CreatedAt.Before(chats[j].CreatedAt)
	})
	return chats, nil
}

func (s *SupabaseStore) ListLoungeChats(roomID string, sinceID uint) ([]models.LoungeChat, error) {
	chats, err := s.roomChats(roomID)
	if err != nil {
		return nil, err
	}
	var out []models.LoungeChat
	for _, c := range chats {
		if c.ID > sinceID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *SupabaseStore) RecentLoungeChats(roomID string, n int) ([]models.LoungeChat, error) {
	chats, err := s.roomChats(roomID)
	if err != nil {
		return nil, err
	}
	if len(chats) > n {
		chats = chats[len(chats)-n:]
	}
	return chats, nil
}

// ClaimUnsentLoungeChats issues one PATCH per row filtered on
// sent_to_ai=false; only rows the PATCH actually returned are claimed.
func (s *SupabaseStore) ClaimUnsentLoungeChats(roomID string, limit int) ([]models.LoungeChat, error) {
	chats, err := s.roomChats(roomID)
	if err != nil {
		return nil, err
	}
	var unsent []models.LoungeChat
	for _, c := range chats {
		if c.Role == models.RoleUser && !c.SentToAI {
			unsent = append(unsent, c)
		}
	}

	var claimed []models.LoungeChat
	for i, c := range unsent {
		var results []models.LoungeChat
		err := s.Client.DB.From(loungeChatsTable).
			Update(map[string]interface{}{"sent_to_ai": true}).
			Eq("id", idString(c.ID)).
			Eq("sent_to_ai", "false").
			Execute(&results)
		if err != nil {
			return nil, err
		}
		if len(results) == 1 && i >= len(unsent)-limit {
			c.SentToAI = true
			claimed = append(claimed, c)
		}
	}
	return claimed, nil
}

func (s *SupabaseStore) Close() error { return nil }
