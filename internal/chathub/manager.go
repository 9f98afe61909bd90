package chathub

import (
	"context"
	"log"
	"sync"

	"betweenus/backend/internal/metrics"
	"betweenus/backend/internal/models"
)

const broadcastBuffer = 256

// ManagerService is the lounge hub. Run owns the room membership; events
// reach it through the Publisher, so every server process subscribed to the
// same backend delivers them to its own connections.
type ManagerService struct {
	// Rooms maps a room id to the connections attached to it.
	Rooms map[string]map[Client]bool

	RegisterCh   chan Client
	UnregisterCh chan Client

	Publisher Publisher
	Metrics   *metrics.Metrics

	broadcastCh chan *models.LoungeEvent
	done        chan struct{}
	mu          sync.RWMutex
}

// NewManagerService creates a hub. A nil publisher keeps events in process.
func NewManagerService(p Publisher, m *metrics.Metrics) *ManagerService {
	if p == nil {
		p = NewLocalPublisher()
	}
	return &ManagerService{
		Rooms:        make(map[string]map[Client]bool),
		RegisterCh:   make(chan Client),
		UnregisterCh: make(chan Client),
		Publisher:    p,
		Metrics:      m,
		broadcastCh:  make(chan *models.LoungeEvent, broadcastBuffer),
		done:         make(chan struct{}),
	}
}

// Publish sends event to every connection in its room, on every process.
func (m *ManagerService) Publish(ctx context.Context, event *models.LoungeEvent) error {
	return m.Publisher.Publish(ctx, event)
}

// Register attaches client to its room. It reports false once the hub has stopped.
func (m *ManagerService) Register(client Client) bool {
	select {
	case m.RegisterCh <- client:
		return true
	case <-m.done:
		return false
	}
}

// Done is closed when Run returns.
func (m *ManagerService) Done() <-chan struct{} { return m.done }

// ClientCount reports how many connections are attached to roomID.
func (m *ManagerService) ClientCount(roomID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.Rooms[roomID])
}

func (m *ManagerService) deliver(event *models.LoungeEvent) {
	select {
	case m.broadcastCh <- event:
	case <-m.done:
	}
}

// Run processes registrations and broadcasts until ctx is done.
func (m *ManagerService) Run(ctx context.Context) {
	defer close(m.done)

	go func() {
		if err := m.Publisher.Subscribe(ctx, m.deliver); err != nil && ctx.Err() == nil {
			log.Printf("ERROR: Lounge subscription stopped: %v", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			m.closeAll()
			return

		case client := <-m.RegisterCh:
			m.register(client)

		case client := <-m.UnregisterCh:
			m.unregister(client)

		case event := <-m.broadcastCh:
			m.broadcast(event)
		}
	}
}

func (m *ManagerService) register(client Client) {
	m.mu.Lock()
	defer m.mu.Unlock()

	roomID := client.GetRoomID()
	if m.Rooms[roomID] == nil {
		m.Rooms[roomID] = make(map[Client]bool)
	}
	m.Rooms[roomID][client] = true
	m.Metrics.ConnectionOpened()
	log.Printf("INFO: User %d joined lounge %s (%d connected)", client.GetUserID(), roomID, len(m.Rooms[roomID]))
}

func (m *ManagerService) unregister(client Client) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.detach(client)
}

// detach removes client from its room. The caller holds mu.
func (m *ManagerService) detach(client Client) {
	roomID := client.GetRoomID()
	clients, ok := m.Rooms[roomID]
	if !ok || !clients[client] {
		return
	}
	delete(clients, client)
	if len(clients) == 0 {
		delete(m.Rooms, roomID)
	}
	client.Close()
	m.Metrics.ConnectionClosed()
	log.Printf("INFO: User %d left lounge %s", client.GetUserID(), roomID)
}

func (m *ManagerService) broadcast(event *models.LoungeEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for client := range m.Rooms[event.RoomID] {
		select {
		case client.GetSendChannel() <- event:
		default:
			// Slow consumer: drop the connection rather than block the room.
			log.Printf("WARNING: Dropping slow lounge client of user %d", client.GetUserID())
			m.detach(client)
		}
	}
}

func (m *ManagerService) closeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, clients := range m.Rooms {
		for client := range clients {
			m.detach(client)
		}
	}
}
