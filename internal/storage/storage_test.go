package storage_test

import (
	"betweenus/backend/internal/models"
	"betweenus/backend/internal/storage"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// backends returns a fresh instance of every locally runnable backend.
func backends(t *testing.T) map[string]storage.Storage {
	t.Helper()

	jsonStore, err := storage.NewJSONFileStore(t.TempDir())
	require.NoError(t, err)

	sqliteStore, err := storage.OpenGorm(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqliteStore.Close() })

	return map[string]storage.Storage{
		"json":   jsonStore,
		"sqlite": sqliteStore,
	}
}

func mustUser(t *testing.T, s storage.Storage, phone string) *models.User {
	t.Helper()
	u := &models.User{Phone: phone, Password: "hash"}
	require.NoError(t, s.CreateUser(u))
	require.NotZero(t, u.ID)
	return u
}

func TestUsers(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			u := mustUser(t, s, "13800000000")

			err := s.CreateUser(&models.User{Phone: "13800000000", Password: "other"})
			assert.ErrorIs(t, err, storage.ErrDuplicate)

			got, err := s.GetUserByPhone("13800000000")
			require.NoError(t, err)
			assert.Equal(t, u.ID, got.ID)

			_, err = s.GetUserByID(9999)
			assert.ErrorIs(t, err, storage.ErrNotFound)

			code := "ABC123"
			require.NoError(t, s.SetBindingCode(got.ID, &code))
			require.NoError(t, s.SetNickname(got.ID, "阿明"))
			require.NoError(t, s.SetPassword(got.ID, "new-hash"))

			byCode, err := s.GetUserByBindingCode("ABC123")
			require.NoError(t, err)
			assert.Equal(t, "阿明", byCode.Nickname)
			assert.Equal(t, "new-hash", byCode.Password)

			other := mustUser(t, s, "13800000009")
			assert.ErrorIs(t, s.SetBindingCode(other.ID, &code), storage.ErrDuplicate)
			require.NoError(t, s.SetBindingCode(got.ID, nil))
			_, err = s.GetUserByBindingCode("ABC123")
			assert.ErrorIs(t, err, storage.ErrNotFound)

			_, err = s.GetUserByBindingCode("ZZZZZZ")
			assert.ErrorIs(t, err, storage.ErrNotFound)
		})
	}
}

func TestBindUsers(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			a := mustUser(t, s, "13800000001")
			b := mustUser(t, s, "13800000002")
			c := mustUser(t, s, "13800000003")

			rel := models.NewRelationship(b.ID, a.ID)
			require.NoError(t, s.BindUsers(a.ID, b.ID, rel))
			assert.NotZero(t, rel.ID)

			ga, _ := s.GetUserByID(a.ID)
			gb, _ := s.GetUserByID(b.ID)
			require.NotNil(t, ga.PartnerID)
			require.NotNil(t, gb.PartnerID)
			assert.Equal(t, b.ID, *ga.PartnerID)
			assert.Equal(t, a.ID, *gb.PartnerID)

			err := s.BindUsers(c.ID, a.ID, models.NewRelationship(c.ID, a.ID))
			assert.ErrorIs(t, err, storage.ErrAlreadyBound)
			gc, _ := s.GetUserByID(c.ID)
			assert.Nil(t, gc.PartnerID, "failed bind must not leave a half-set partner")

			found, err := s.GetRelationshipForUser(b.ID, true)
			require.NoError(t, err)
			assert.Equal(t, models.RoomIDFor(a.ID, b.ID), found.RoomID)

			found.IsActive = false
			require.NoError(t, s.UpdateRelationship(found))
			_, err = s.GetRelationshipForUser(b.ID, true)
			assert.ErrorIs(t, err, storage.ErrNotFound)
			inactive, err := s.GetRelationshipForUser(b.ID, false)
			require.NoError(t, err)
			assert.False(t, inactive.IsActive)

			byRoom, err := s.GetRelationshipByRoom(found.RoomID)
			require.NoError(t, err)
			assert.Equal(t, found.ID, byRoom.ID)
		})
	}
}

func TestBindUsers_ReactivatesExistingRoom(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			a := mustUser(t, s, "13900000001")
			b := mustUser(t, s, "13900000002")

			first := models.NewRelationship(a.ID, b.ID)
			require.NoError(t, s.BindUsers(a.ID, b.ID, first))
			first.IsActive = false
			first.GreetingShown = true
			require.NoError(t, s.UpdateRelationship(first))

			require.NoError(t, s.ReleasePartner(a.ID))
			require.NoError(t, s.ReleasePartner(b.ID))

			again := models.NewRelationship(a.ID, b.ID)
			require.NoError(t, s.BindUsers(b.ID, a.ID, again))
			assert.Equal(t, first.ID, again.ID)
			assert.True(t, again.IsActive)
			assert.True(t, again.GreetingShown)
		})
	}
}

func TestUserSetters_LeaveOtherColumnsAlone(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			a := mustUser(t, s, "13500000001")
			b := mustUser(t, s, "13500000002")
			code := "C0FFEE"
			require.NoError(t, s.SetBindingCode(a.ID, &code))
			stale, err := s.GetUserByID(a.ID)
			require.NoError(t, err)

			require.NoError(t, s.BindUsers(b.ID, a.ID, models.NewRelationship(a.ID, b.ID)))
			require.NoError(t, s.SetCoachGreetingShown(stale.ID, true))
			require.NoError(t, s.SetNickname(stale.ID, "小红"))

			got, err := s.GetUserByID(a.ID)
			require.NoError(t, err)
			require.NotNil(t, got.PartnerID)
			assert.Equal(t, b.ID, *got.PartnerID)
			require.NotNil(t, got.BindingCode)
			assert.Equal(t, code, *got.BindingCode)
			assert.True(t, got.CoachGreetingShown)
			assert.Equal(t, "小红", got.Nickname)
		})
	}
}

func TestListUsersUnbindingBefore(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			now := time.Now().UTC()
			old := now.Add(-31 * 24 * time.Hour)
			recent := now.Add(-time.Hour)

			a := mustUser(t, s, "13700000001")
			b := mustUser(t, s, "13700000002")
			c := mustUser(t, s, "13700000003")
			d := mustUser(t, s, "13700000004")
			mustUser(t, s, "13700000005")
			require.NoError(t, s.BindUsers(a.ID, b.ID, models.NewRelationship(a.ID, b.ID)))
			require.NoError(t, s.BindUsers(c.ID, d.ID, models.NewRelationship(c.ID, d.ID)))
			require.NoError(t, s.SetUnbindAt([]uint{a.ID, b.ID}, &old))
			require.NoError(t, s.SetUnbindAt([]uint{c.ID, d.ID}, &recent))

			cutoff := now.Add(-30 * 24 * time.Hour)
			due, err := s.ListUsersUnbindingBefore(cutoff)
			require.NoError(t, err)
			require.Len(t, due, 2)
			assert.Equal(t, a.ID, due[0].ID)
			assert.Equal(t, b.ID, due[1].ID)

			require.NoError(t, s.ReleasePartner(a.ID))
			released, err := s.GetUserByID(a.ID)
			require.NoError(t, err)
			assert.Nil(t, released.PartnerID)
			require.NotNil(t, released.UnbindAt, "released users keep unbind_at")

			due, err = s.ListUsersUnbindingBefore(cutoff)
			require.NoError(t, err)
			require.Len(t, due, 1, "released users are not listed again")
			assert.Equal(t, b.ID, due[0].ID)
		})
	}
}

func TestCoachChats(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			for i, content := range []string{"一", "二", "三", "四"} {
				role := models.RoleUser
				if i%2 == 1 {
					role = models.RoleAssistant
				}
				require.NoError(t, s.CreateCoachChat(&models.CoachChat{UserID: 1, Role: role, Content: content}))
			}
			require.NoError(t, s.CreateCoachChat(&models.CoachChat{UserID: 2, Role: models.RoleUser, Content: "other"}))

			all, err := s.ListCoachChats(1)
			require.NoError(t, err)
			require.Len(t, all, 4)
			assert.Equal(t, "一", all[0].Content)

			recent, err := s.RecentCoachChats(1, 2)
			require.NoError(t, err)
			require.Len(t, recent, 2)
			assert.Equal(t, "三", recent[0].Content, "recent window is chronological")
			assert.Equal(t, "四", recent[1].Content)

			last := recent[1]
			last.Content = "四（完整）"
			last.ReasoningContent = models.StringPtr("想一想")
			require.NoError(t, s.UpdateCoachChat(&last))
			all, _ = s.ListCoachChats(1)
			assert.Equal(t, "四（完整）", all[3].Content)
			require.NotNil(t, all[3].ReasoningContent)

			require.NoError(t, s.DeleteCoachChats(1))
			all, _ = s.ListCoachChats(1)
			assert.Empty(t, all)
			others, _ := s.ListCoachChats(2)
			assert.Len(t, others, 1)
		})
	}
}

func TestLoungeChats_SinceAndRecent(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			uid := uint(1)
			var ids []uint
			for _, content := range []string{"a", "b", "c"} {
				msg := &models.LoungeChat{RoomID: "room_1_2", UserID: &uid, Role: models.RoleUser, Content: content}
				require.NoError(t, s.CreateLoungeChat(msg))
				ids = append(ids, msg.ID)
			}
			require.NoError(t, s.CreateLoungeChat(&models.LoungeChat{RoomID: "room_3_4", Role: models.RoleUser, Content: "x"}))

			since, err := s.ListLoungeChats("room_1_2", ids[0])
			require.NoError(t, err)
			require.Len(t, since, 2)
			assert.Equal(t, "b", since[0].Content)

			recent, err := s.RecentLoungeChats("room_1_2", 2)
			require.NoError(t, err)
			require.Len(t, recent, 2)
			assert.Equal(t, "c", recent[1].Content)
		})
	}
}

func TestClaimUnsentLoungeChats_AtMostOnce(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			uid := uint(1)
			for i := 0; i < 12; i++ {
				require.NoError(t, s.CreateLoungeChat(&models.LoungeChat{
					RoomID: "room_1_2", UserID: &uid, Role: models.RoleUser, Content: string(rune('a' + i)),
				}))
			}
			require.NoError(t, s.CreateLoungeChat(&models.LoungeChat{RoomID: "room_1_2", Role: models.RoleAssistant, Content: "ai"}))

			claimed, err := s.ClaimUnsentLoungeChats("room_1_2", 10)
			require.NoError(t, err)
			require.Len(t, claimed, 10)
			assert.Equal(t, "c", claimed[0].Content, "the newest ten, chronological")
			assert.Equal(t, "l", claimed[9].Content)

			again, err := s.ClaimUnsentLoungeChats("room_1_2", 10)
			require.NoError(t, err)
			assert.Empty(t, again, "older unsent messages are retired with the batch")

			all, _ := s.ListLoungeChats("room_1_2", 0)
			for _, m := range all {
				if m.Role == models.RoleUser {
					assert.True(t, m.SentToAI)
				}
			}
		})
	}
}

func TestClaimUnsentLoungeChats_Concurrent(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			uid := uint(1)
			for i := 0; i < 5; i++ {
				require.NoError(t, s.CreateLoungeChat(&models.LoungeChat{RoomID: "room_1_2", UserID: &uid, Role: models.RoleUser, Content: "m"}))
			}

			var wg sync.WaitGroup
			var mu sync.Mutex
			total := 0
			for i := 0; i < 4; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					claimed, err := s.ClaimUnsentLoungeChats("room_1_2", 10)
					assert.NoError(t, err)
					mu.Lock()
					total += len(claimed)
					mu.Unlock()
				}()
			}
			wg.Wait()
			assert.Equal(t, 5, total, "every message is claimed exactly once")
		})
	}
}

func TestJSONFileStore_Persists(t *testing.T) {
	dir := t.TempDir()
	s, err := storage.NewJSONFileStore(dir)
	require.NoError(t, err)
	u := mustUser(t, s, "13600000000")

	reopened, err := storage.NewJSONFileStore(dir)
	require.NoError(t, err)
	got, err := reopened.GetUserByID(u.ID)
	require.NoError(t, err)
	assert.Equal(t, "13600000000", got.Phone)

	next := mustUser(t, reopened, "13600000001")
	assert.Equal(t, u.ID+1, next.ID, "next_id survives a reload")
}
