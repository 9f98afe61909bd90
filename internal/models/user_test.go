package models_test

import (
	"betweenus/backend/internal/models"
	"encoding/json"
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRoomIDFor_IsOrderIndependent verifies both members derive the same room id.
func TestRoomIDFor_IsOrderIndependent(t *testing.T) {
	assert.Equal(t, "room_3_7", models.RoomIDFor(3, 7))
	assert.Equal(t, "room_3_7", models.RoomIDFor(7, 3))
	assert.Equal(t, "room_5_5", models.RoomIDFor(5, 5))
}

// TestNewRelationship_Canonicalizes verifies the smaller id is stored first.
func TestNewRelationship_Canonicalizes(t *testing.T) {
	rel := models.NewRelationship(9, 2)

	assert.Equal(t, uint(2), rel.User1ID)
	assert.Equal(t, uint(9), rel.User2ID)
	assert.Equal(t, "room_2_9", rel.RoomID)
	assert.True(t, rel.IsActive)
	assert.True(t, rel.Includes(9))
	assert.False(t, rel.Includes(4))
	assert.Equal(t, uint(2), rel.PartnerOf(9))
	assert.Equal(t, uint(9), rel.PartnerOf(2))
}

// TestUserDisplayHandle covers nickname and phone fallbacks.
func TestUserDisplayHandle(t *testing.T) {
	tests := []struct {
		name     string
		user     models.User
		expected string
	}{
		{name: "Nickname wins", user: models.User{Phone: "13800000000", Nickname: "小明"}, expected: "小明"},
		{name: "Phone tail", user: models.User{Phone: "13800001234"}, expected: "用户1234"},
		{name: "Short phone", user: models.User{Phone: "12"}, expected: "用户12"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.user.DisplayHandle())
		})
	}
}

// TestUserProfile_HidesPassword verifies the owner view never carries the hash.
func TestUserProfile_HidesPassword(t *testing.T) {
	code := "A1B2C3"
	partner := uint(4)
	user := models.User{ID: 1, Phone: "13800000000", Password: "$2a$10$secret", BindingCode: &code, PartnerID: &partner}

	raw, err := json.Marshal(user.Profile())
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "secret")
	assert.Contains(t, string(raw), `"binding_code":"A1B2C3"`)

	raw, err = json.Marshal(user.Public())
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1,"phone":"13800000000","nickname":""}`, string(raw))
}

// TestUserProfile_UnbindOnlyWhilePartnered verifies a released user shows no pending unbind.
func TestUserProfile_UnbindOnlyWhilePartnered(t *testing.T) {
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	partner := uint(4)

	pending := models.User{ID: 1, PartnerID: &partner, UnbindAt: &at}
	require.NotNil(t, pending.Profile().UnbindAt)
	assert.True(t, at.Equal(*pending.Profile().UnbindAt))

	released := models.User{ID: 1, UnbindAt: &at}
	assert.Nil(t, released.Profile().UnbindAt)
}

// TestUserHasPartner verifies nil and zero partner ids count as unpaired.
func TestUserHasPartner(t *testing.T) {
	zero := uint(0)
	one := uint(1)

	assert.False(t, (&models.User{}).HasPartner())
	assert.False(t, (&models.User{PartnerID: &zero}).HasPartner())
	assert.True(t, (&models.User{PartnerID: &one}).HasPartner())
}

// TestModelStructTags verifies the storage tags the backends rely on.
func TestModelStructTags(t *testing.T) {
	userType := reflect.TypeOf(models.User{})

	phone, found := userType.FieldByName("Phone")
	assert.True(t, found)
	assert.Contains(t, phone.Tag.Get("gorm"), "uniqueIndex", "Phone must be unique")

	code, found := userType.FieldByName("BindingCode")
	assert.True(t, found)
	assert.Contains(t, code.Tag.Get("gorm"), "uniqueIndex", "BindingCode must be unique")

	relType := reflect.TypeOf(models.Relationship{})
	room, found := relType.FieldByName("RoomID")
	assert.True(t, found)
	assert.Contains(t, room.Tag.Get("gorm"), "uniqueIndex", "RoomID must be unique")

	loungeType := reflect.TypeOf(models.LoungeChat{})
	sent, found := loungeType.FieldByName("SentToAI")
	assert.True(t, found)
	assert.Equal(t, "sent_to_ai", sent.Tag.Get("json"))
}

// TestStringPtr verifies empty strings become nil.
func TestStringPtr(t *testing.T) {
	assert.Nil(t, models.StringPtr(""))
	require.NotNil(t, models.StringPtr("x"))
	assert.Equal(t, "x", *models.StringPtr("x"))
}

// TestLoungeEventJSON verifies the wire shape consumed by lounge clients.
func TestLoungeEventJSON(t *testing.T) {
	uid := uint(2)
	ev := models.LoungeEvent{
		Event:     models.EventNewMessage,
		RoomID:    "room_1_2",
		Message:   &models.LoungeChat{ID: 10, RoomID: "room_1_2", UserID: &uid, Role: models.RoleUser, Content: "@AI 帮帮我们", CreatedAt: time.Unix(0, 0).UTC()},
		TriggerAI: true,
	}

	raw, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "new_message", decoded["event"])
	assert.Equal(t, true, decoded["trigger_ai"])
	assert.NotContains(t, decoded, "type")
	msg := decoded["message"].(map[string]any)
	assert.Equal(t, "@AI 帮帮我们", msg["content"])
	assert.Equal(t, false, msg["sent_to_ai"])
}

// BenchmarkRoomIDFor measures room id derivation.
func BenchmarkRoomIDFor(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = models.RoomIDFor(uint(i), 42)
	}
}
