package chat

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"betweenus/backend/internal/coze"
	"betweenus/backend/internal/localization"
	"betweenus/backend/internal/models"
	"betweenus/backend/internal/storage"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockProvider is a mock implementation of the Provider interface.
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Configured(botID string) bool {
	return m.Called(botID).Bool(0)
}

func (m *MockProvider) Stream(ctx context.Context, req coze.ChatRequest) (coze.Stream, error) {
	args := m.Called(ctx, req)
	s, _ := args.Get(0).(coze.Stream)
	return s, args.Error(1)
}

// MockBroadcaster records every published event.
type MockBroadcaster struct {
	mock.Mock
	mu     sync.Mutex
	events []models.LoungeEvent
}

func (m *MockBroadcaster) Publish(ctx context.Context, event *models.LoungeEvent) error {
	m.mu.Lock()
	m.events = append(m.events, *event)
	m.mu.Unlock()
	return m.Called(ctx, event).Error(0)
}

func (m *MockBroadcaster) Events() []models.LoungeEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.LoungeEvent(nil), m.events...)
}

// eventStream replays fixed events, then err or io.EOF.
type eventStream struct {
	events []coze.Event
	err    error
	closed bool
}

func newStream(events ...coze.Event) *eventStream {
	return &eventStream{events: events}
}

func (s *eventStream) Next() (coze.Event, error) {
	if len(s.events) == 0 {
		if s.err != nil {
			return coze.Event{}, s.err
		}
		return coze.Event{}, io.EOF
	}
	ev := s.events[0]
	s.events = s.events[1:]
	return ev, nil
}

func (s *eventStream) Close() error {
	s.closed = true
	return nil
}

func answer(text string) []coze.Event {
	return []coze.Event{
		{Kind: coze.EventContentDelta, Text: text},
		{Kind: coze.EventTurnCompleted, Type: coze.TypeAnswer, Text: text},
	}
}

type env struct {
	store    storage.Storage
	provider *MockProvider
	opts     Options
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store, err := storage.NewJSONFileStore(t.TempDir())
	require.NoError(t, err)
	l, err := localization.Default("zh")
	require.NoError(t, err)

	provider := &MockProvider{}
	clock := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	return &env{
		store:    store,
		provider: provider,
		opts: Options{
			Storage:   store,
			Provider:  provider,
			Localizer: l,
			Lang:      "zh",
			Now:       func() time.Time { return clock },
		},
	}
}

func (e *env) user(t *testing.T, phone, nickname string) *models.User {
	t.Helper()
	u := &models.User{Phone: phone, Password: "hash", Nickname: nickname}
	require.NoError(t, e.store.CreateUser(u))
	return u
}

// couple registers two bound users and returns them reloaded.
func (e *env) couple(t *testing.T) (*models.User, *models.User, string) {
	t.Helper()
	a := e.user(t, "13800001111", "小明")
	b := e.user(t, "13900002222", "")
	rel := models.NewRelationship(a.ID, b.ID)
	require.NoError(t, e.store.BindUsers(a.ID, b.ID, rel))

	a, err := e.store.GetUserByID(a.ID)
	require.NoError(t, err)
	b, err = e.store.GetUserByID(b.ID)
	require.NoError(t, err)
	return a, b, rel.RoomID
}

// collectFrames returns a sink and the frames it received.
func collectFrames() (FrameSink, *[]Frame) {
	var frames []Frame
	return func(f Frame) { frames = append(frames, f) }, &frames
}
