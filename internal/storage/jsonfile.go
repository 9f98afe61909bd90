package storage

import (
	"betweenus/backend/internal/models"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// table is the on-disk layout of one JSON file.
type table[T any] struct {
	NextID uint `json:"next_id"`
	Data   []T  `json:"data"`
}

// JSONFileStore keeps every table in memory and rewrites the matching
// file after each mutation. A single mutex serializes all access.
type JSONFileStore struct {
	dir string
	mu  sync.Mutex
	now func() time.Time

	users         table[models.User]
	relationships table[models.Relationship]
	coachChats    table[models.CoachChat]
	loungeChats   table[models.LoungeChat]
}

const (
	usersFile         = "users.json"
	relationshipsFile = "relationships.json"
	coachChatsFile    = "coach_chats.json"
	loungeChatsFile   = "lounge_chats.json"
)

// NewJSONFileStore loads (or creates) the tables under dir.
func NewJSONFileStore(dir string) (*JSONFileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	s := &JSONFileStore{dir: dir, now: time.Now}
	if err := load(dir, usersFile, &s.users); err != nil {
		return nil, err
	}
	if err := load(dir, relationshipsFile, &s.relationships); err != nil {
		return nil, err
	}
	if err := load(dir, coachChatsFile, &s.coachChats); err != nil {
		return nil, err
	}
	if err := load(dir, loungeChatsFile, &s.loungeChats); err != nil {
		return nil, err
	}
	return s, nil
}

func load[T any](dir, name string, t *table[T]) error {
	raw, err := os.ReadFile(filepath.Join(dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		t.NextID = 1
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(raw, t); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	if t.NextID == 0 {
		t.NextID = 1
	}
	return nil
}

// save writes to a temp file and renames it over the table file.
func save[T any](dir, name string, t *table[T]) error {
	raw, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, name+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(dir, name))
}

func (s *JSONFileStore) nextID(next *uint) uint {
	id := *next
	*next = id + 1
	return id
}

func (s *JSONFileStore) CreateUser(user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users.Data {
		if u.Phone == user.Phone {
			return ErrDuplicate
		}
	}
	now := s.now()
	user.ID = s.nextID(&s.users.NextID)
	user.CreatedAt, user.UpdatedAt = now, now
	s.users.Data = append(s.users.Data, *user)
	return save(s.dir, usersFile, &s.users)
}

func (s *JSONFileStore) findUser(match func(*models.User) bool) (*models.User, error) {
	for i := range s.users.Data {
		if match(&s.users.Data[i]) {
			u := s.users.Data[i]
			return &u, nil
		}
	}
	return nil, ErrNotFound
}

func (s *JSONFileStore) GetUserByID(id uint) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.findUser(func(u *models.User) bool { return u.ID == id })
}

func (s *JSONFileStore) GetUserByPhone(phone string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.findUser(func(u *models.User) bool { return u.Phone == phone })
}

func (s *JSONFileStore) GetUserByBindingCode(code string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.findUser(func(u *models.User) bool { return u.BindingCode != nil && *u.BindingCode == code })
}

// updateUsers applies set to every listed user and rewrites the table once.
// Nothing changes unless every id exists.
func (s *JSONFileStore) updateUsers(ids []uint, set func(*models.User) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := make([]int, 0, len(ids))
	for _, id := range ids {
		found := -1
		for i := range s.users.Data {
			if s.users.Data[i].ID == id {
				found = i
				break
			}
		}
		if found < 0 {
			return ErrNotFound
		}
		idx = append(idx, found)
	}

	now := s.now()
	for _, i := range idx {
		if err := set(&s.users.Data[i]); err != nil {
			return err
		}
		s.users.Data[i].UpdatedAt = now
	}
	return save(s.dir, usersFile, &s.users)
}

func (s *JSONFileStore) SetNickname(id uint, nickname string) error {
	return s.updateUsers([]uint{id}, func(u *models.User) error {
		u.Nickname = nickname
		return nil
	})
}

func (s *JSONFileStore) SetPassword(id uint, hash string) error {
	return s.updateUsers([]uint{id}, func(u *models.User) error {
		u.Password = hash
		return nil
	})
}

func (s *JSONFileStore) SetBindingCode(id uint, code *string) error {
	return s.updateUsers([]uint{id}, func(u *models.User) error {
		if code != nil {
			for _, other := range s.users.Data {
				if other.ID != id && other.BindingCode != nil && *other.BindingCode == *code {
					return ErrDuplicate
				}
			}
			c := *code
			code = &c
		}
		u.BindingCode = code
		return nil
	})
}

func (s *JSONFileStore) SetCoachGreetingShown(id uint, shown bool) error {
	return s.updateUsers([]uint{id}, func(u *models.User) error {
		u.CoachGreetingShown = shown
		return nil
	})
}

func (s *JSONFileStore) SetUnbindAt(ids []uint, at *time.Time) error {
	return s.updateUsers(ids, func(u *models.User) error {
		if at == nil {
			u.UnbindAt = nil
			return nil
		}
		t := *at
		u.UnbindAt = &t
		return nil
	})
}

func (s *JSONFileStore) ReleasePartner(id uint) error {
	return s.updateUsers([]uint{id}, func(u *models.User) error {
		u.PartnerID = nil
		u.BindingCode = nil
		return nil
	})
}

func (s *JSONFileStore) BindUsers(a, b uint, rel *models.Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ia, ib := -1, -1
	for i, u := range s.users.Data {
		switch u.ID {
		case a:
			ia = i
		case b:
			ib = i
		}
	}
	if ia < 0 || ib < 0 {
		return ErrNotFound
	}
	if s.users.Data[ia].HasPartner() || s.users.Data[ib].HasPartner() {
		return ErrAlreadyBound
	}

	now := s.now()
	ua, ub := &s.users.Data[ia], &s.users.Data[ib]
	ua.PartnerID, ua.UnbindAt, ua.UpdatedAt = &b, nil, now
	ub.PartnerID, ub.UnbindAt, ub.UpdatedAt = &a, nil, now

	found := false
	for i := range s.relationships.Data {
		if s.relationships.Data[i].RoomID == rel.RoomID {
			s.relationships.Data[i].IsActive = true
			*rel = s.relationships.Data[i]
			found = true
			break
		}
	}
	if !found {
		rel.ID = s.nextID(&s.relationships.NextID)
		rel.CreatedAt = now
		s.relationships.Data = append(s.relationships.Data, *rel)
	}

	if err := save(s.dir, usersFile, &s.users); err != nil {
		return err
	}
	return save(s.dir, relationshipsFile, &s.relationships)
}

func (s *JSONFileStore) ListUsersUnbindingBefore(t time.Time) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var users []models.User
	for _, u := range s.users.Data {
		if u.HasPartner() && u.UnbindAt != nil && !u.UnbindAt.After(t) {
			users = append(users, u)
		}
	}
	return users, nil
}

func (s *JSONFileStore) CreateRelationship(rel *models.Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.relationships.Data {
		if r.RoomID == rel.RoomID {
			return ErrDuplicate
		}
	}
	rel.ID = s.nextID(&s.relationships.NextID)
	rel.CreatedAt = s.now()
	s.relationships.Data = append(s.relationships.Data, *rel)
	return save(s.dir, relationshipsFile, &s.relationships)
}

func (s *JSONFileStore) GetRelationshipForUser(userID uint, activeOnly bool) (*models.Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := len(s.relationships.Data) - 1; i >= 0; i-- {
		r := s.relationships.Data[i]
		if r.Includes(userID) && (!activeOnly || r.IsActive) {
			return &r, nil
		}
	}
	return nil, ErrNotFound
}

func (s *JSONFileStore) GetRelationshipByRoom(roomID string) (*models.Relationship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range s.relationships.Data {
		if r.RoomID == roomID {
			return &r, nil
		}
	}
	return nil, ErrNotFound
}

func (s *JSONFileStore) UpdateRelationship(rel *models.Relationship) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.relationships.Data {
		if s.relationships.Data[i].ID == rel.ID {
			s.relationships.Data[i] = *rel
			return save(s.dir, relationshipsFile, &s.relationships)
		}
	}
	return ErrNotFound
}

func (s *JSONFileStore) CreateCoachChat(chat *models.CoachChat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat.ID = s.nextID(&s.coachChats.NextID)
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = s.now()
	}
	s.coachChats.Data = append(s.coachChats.Data, *chat)
	return save(s.dir, coachChatsFile, &s.coachChats)
}

func (s *JSONFileStore) UpdateCoachChat(chat *models.CoachChat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.coachChats.Data {
		if s.coachChats.Data[i].ID == chat.ID {
			s.coachChats.Data[i] = *chat
			return save(s.dir, coachChatsFile, &s.coachChats)
		}
	}
	return ErrNotFound
}

func (s *JSONFileStore) coachChatsFor(userID uint) []models.CoachChat {
	var chats []models.CoachChat
	for _, c := range s.coachChats.Data {
		if c.UserID == userID {
			chats = append(chats, c)
		}
	}
	sort.SliceStable(chats, func(i, j int) bool {
		if chats[i].CreatedAt.Equal(chats[j].CreatedAt) {
			return chats[i].ID < chats[j].ID
		}
		return chats[i].CreatedAt.Before(chats[j].CreatedAt)
	})
	return chats
}

func (s *JSONFileStore) ListCoachChats(userID uint) ([]models.CoachChat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.coachChatsFor(userID), nil
}

func (s *JSONFileStore) RecentCoachChats(userID uint, n int) ([]models.CoachChat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chats := s.coachChatsFor(userID)
	if len(chats) > n {
		chats = chats[len(chats)-n:]
	}
	return chats, nil
}

func (s *JSONFileStore) DeleteCoachChats(userID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.coachChats.Data[:0]
	for _, c := range s.coachChats.Data {
		if c.UserID != userID {
			kept = append(kept, c)
		}
	}
	s.coachChats.Data = kept
	return save(s.dir, coachChatsFile, &s.coachChats)
}

func (s *JSONFileStore) CreateLoungeChat(chat *models.LoungeChat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	chat.ID = s.nextID(&s.loungeChats.NextID)
	if chat.CreatedAt.IsZero() {
		chat.CreatedAt = s.now()
	}
	s.loungeChats.Data = append(s.loungeChats.Data, *chat)
	return save(s.dir, loungeChatsFile, &s.loungeChats)
}

func (s *JSONFileStore) UpdateLoungeChat(chat *models.LoungeChat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.loungeChats.Data {
		if s.loungeChats.Data[i].ID == chat.ID {
			// sent_to_ai is monotonic
			if s.loungeChats.Data[i].SentToAI {
				chat.SentToAI = true
			}
			s.loungeChats.Data[i] = *chat
			return save(s.dir, loungeChatsFile, &s.loungeChats)
		}
	}
	return ErrNotFound
}

func (s *JSONFileStore) loungeChatsFor(roomID string) []models.LoungeChat {
	var chats []models.LoungeChat
	for _, c := range s.loungeChats.Data {
		if c.RoomID == roomID {
			chats = append(chats, c)
		}
	}
	sort.SliceStable(chats, func(i, j int) bool {
		if chats[i].CreatedAt.Equal(chats[j].CreatedAt) {
			return chats[i].ID < chats[j].ID
		}
		return chats[i].CreatedAt.Before(chats[j].CreatedAt)
	})
	return chats
}

func (s *JSONFileStore) ListLoungeChats(roomID string, sinceID uint) ([]models.LoungeChat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var chats []models.LoungeChat
	for _, c := range s.loungeChatsFor(roomID) {
		if c.ID > sinceID {
			chats = append(chats, c)
		}
	}
	return chats, nil
}

func (s *JSONFileStore) RecentLoungeChats(roomID string, n int) ([]models.LoungeChat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	chats := s.loungeChatsFor(roomID)
	if len(chats) > n {
		chats = chats[len(chats)-n:]
	}
	return chats, nil
}

func (s *JSONFileStore) ClaimUnsentLoungeChats(roomID string, limit int) ([]models.LoungeChat, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var unsent []models.LoungeChat
	for _, c := range s.loungeChatsFor(roomID) {
		if c.Role == models.RoleUser && !c.SentToAI {
			unsent = append(unsent, c)
		}
	}
	if len(unsent) == 0 {
		return nil, nil
	}

	retired := make(map[uint]bool, len(unsent))
	for _, c := range unsent {
		retired[c.ID] = true
	}
	for i := range s.loungeChats.Data {
		if retired[s.loungeChats.Data[i].ID] {
			s.loungeChats.Data[i].SentToAI = true
		}
	}
	if err := save(s.dir, loungeChatsFile, &s.loungeChats); err != nil {
		return nil, err
	}

	if len(unsent) > limit {
		unsent = unsent[len(unsent)-limit:]
	}
	for i := range unsent {
		unsent[i].SentToAI = true
	}
	return unsent, nil
}

func (s *JSONFileStore) Close() error { return nil }
