package conn

import (
	"context"
	"errors"

	"github.com/noteduco342/om-realtime-hub/internal/models"
)

// ErrUnauthorized means the server rejected the session credentials.
// It is never retried.
var ErrUnauthorized = errors.New("unauthorized")

// Conn is one live transport connection. WriteMessage must be safe to call
// from more than one goroutine; ReadMessage is called by a single reader.
type Conn interface {
	ReadMessage() (data []byte, binary bool, err error)
	WriteMessage(data []byte, binary bool) error
	Close() error
}

// Dialer opens transport connections for a session. Implementations return
// an error wrapping ErrUnauthorized when the handshake is rejected for
// credentials.
type Dialer interface {
	Dial(ctx context.Context, session models.Session) (Conn, error)
}
