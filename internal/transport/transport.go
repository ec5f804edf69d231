// Package transport moves encoded messages between nodes and the coordinator.
//
// Every exchange is one message in and at most one message out. An empty
// reply means "no action needed". The coordinator drives a Transport through
// Accept, Receive, Send and Close; nodes and clients use an HTTPClient.
package transport

import (
	"context"
	"errors"
)

var (
	// ErrClosed is returned by Accept once the transport has shut down.
	ErrClosed = errors.New("transport closed")

	// ErrForeignConn is returned when a Conn from another transport is passed in.
	ErrForeignConn = errors.New("connection does not belong to this transport")
)

// Conn is one in-flight exchange.
type Conn interface {
	// ID identifies the exchange in logs.
	ID() string
}

// Transport is the server side of the exchange protocol.
type Transport interface {
	// Listen starts accepting exchanges.
	Listen() error

	// Accept blocks until an exchange arrives, ctx is done, or the
	// transport is closed.
	Accept(ctx context.Context) (Conn, error)

	// Receive returns the inbound message of the exchange.
	Receive(conn Conn) ([]byte, error)

	// Send sets the reply. A nil or empty reply means no action.
	Send(conn Conn, payload []byte) error

	// Close finishes the exchange and releases the peer.
	Close(conn Conn) error
}
