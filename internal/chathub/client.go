package chathub

import (
	"context"

	"betweenus/backend/internal/models"
)

// Client is one live connection to a lounge room.
// It abstracts the underlying transport so the hub can manage every
// connection the same way.
type Client interface {
	// GetUserID returns the user the connection was opened by.
	GetUserID() uint
	// GetRoomID returns the lounge room the connection is attached to.
	GetRoomID() string

	// GetSendChannel returns the channel the hub writes room events to.
	GetSendChannel() chan<- *models.LoungeEvent

	// Run starts the client's read and write pumps.
	Run()
	// Close shuts the connection down. It may be called more than once.
	Close()
}

// CommandHandler executes a frame sent by a client. ctx ends when the
// connection closes.
type CommandHandler func(ctx context.Context, client Client, cmd models.LoungeCommand)
