package chathub_test

import (
	"sync/atomic"

	"betweenus/backend/internal/models"
)

type MockClient struct {
	userID      uint
	roomID      string
	RecvChannel chan *models.LoungeEvent
	closed      atomic.Int32
}

func newMockClient(userID uint, roomID string, buffer int) *MockClient {
	return &MockClient{
		userID:      userID,
		roomID:      roomID,
		RecvChannel: make(chan *models.LoungeEvent, buffer),
	}
}

func (c *MockClient) GetUserID() uint                              { return c.userID }
func (c *MockClient) GetRoomID() string                            { return c.roomID }
func (c *MockClient) GetSendChannel() chan<- *models.LoungeEvent { return c.RecvChannel }

func (c *MockClient) Run() {
	// Not needed for testing
}

func (c *MockClient) Close() {
	c.closed.Add(1)
}

func (c *MockClient) Closed() int {
	return int(c.closed.Load())
}
