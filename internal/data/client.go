package data

import (
	"context"

	"hftcore/internal/command"
	"hftcore/internal/model"
	"hftcore/internal/model/enum"
)

// Client is implemented by venue adapters. Data is pushed back through the
// runner, never from the client's own goroutines into the engine.
type Client interface {
	ID() model.ClientID
	// Venue is zero for clients serving several venues.
	Venue() model.Venue
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsConnected() bool
	Supports(kind enum.DataKind) bool
	Subscribe(spec command.DataSpec) error
	Unsubscribe(spec command.DataSpec) error
	// Request starts a historical request. The answer arrives later as a
	// command.Response carrying req.CommandID as its correlation id.
	Request(req *command.Request) error
}
