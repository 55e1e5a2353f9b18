package eventloop

import (
	"time"

	"github.com/google/uuid"
	"github.com/kfcemployee/webserv/internal/config"
	"github.com/kfcemployee/webserv/internal/netutil"
	"github.com/kfcemployee/webserv/internal/request"
)

// Phase is a Connection's place in the event loop's state machine, per
// spec §3's Connection data model.
type Phase int

const (
	Reading Phase = iota
	Writing
	Closing
)

// Connection is one accepted client socket and everything the event
// loop needs to drive it through exactly one request/response cycle.
// Grounded on the teacher's engine.Session (server/engine/session.go),
// trimmed to the fields spec §3 actually names plus the bookkeeping the
// single-threaded loop needs to resolve a virtual host and enforce
// client_max_body_size mid-parse.
type Connection struct {
	FD       int
	Listener *netutil.Listener
	Phase    Phase

	Inbound  []byte
	Outbound []byte
	sent     int

	Req    *request.Request
	Parser *request.Parser

	// Server is resolved once, the first time enough of the request is
	// known to pick a virtual host (either on entering ParsingBody, for
	// the client_max_body_size check, or on Complete for requests with
	// no body at all).
	Server *config.Server

	// Responded marks a connection that has already sent its one
	// response. Spec §6 rules out persistent connections and pipelining;
	// any further readable event on such a connection is treated as the
	// peer closing its side, not as a second request.
	Responded bool

	LastActivity time.Time
	TraceID      string
}

func newConnection(fd int, l *netutil.Listener) *Connection {
	return &Connection{
		FD:           fd,
		Listener:     l,
		Phase:        Reading,
		Req:          request.New(),
		Parser:       request.NewParser(),
		LastActivity: time.Now(),
		TraceID:      uuid.NewString(),
	}
}

// queueResponse loads b as the outbound buffer and flips the connection
// to Writing; the event loop re-registers it for EPOLLOUT.
func (c *Connection) queueResponse(b []byte) {
	c.Outbound = b
	c.sent = 0
	c.Phase = Writing
}

// drainMore writes as much of the outbound buffer as fn accepts,
// reporting whether the buffer is now fully sent.
func (c *Connection) drainMore(write func([]byte) (int, error)) (done bool, err error) {
	n, werr := write(c.Outbound[c.sent:])
	if n > 0 {
		c.sent += n
		c.LastActivity = time.Now()
	}
	if werr != nil {
		return false, werr
	}
	return c.sent >= len(c.Outbound), nil
}

func (c *Connection) finishedWriting() {
	c.Responded = true
	c.Phase = Reading
	c.Inbound = nil
	c.Outbound = nil
	c.sent = 0
}

func (c *Connection) idleFor(now time.Time, limit time.Duration) bool {
	return now.Sub(c.LastActivity) > limit
}
