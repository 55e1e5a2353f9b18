// Package netutil manages the set of TCP listeners this server binds:
// one socket per unique port, each carrying the list of virtual Server
// records bound to it, per spec §3's Listener set and §4.5's
// virtual-host selection. Grounded on the teacher's listenSocket
// (server/engine/epoll.go) but built on golang.org/x/sys/unix instead
// of bare syscall — see SPEC_FULL.md §11 for why.
package netutil

import (
	"fmt"

	"github.com/kfcemployee/webserv/internal/config"
	"golang.org/x/sys/unix"
)

const backlog = 128

// Listener is one bound, listening, non-blocking socket and the
// virtual hosts sharing its port.
type Listener struct {
	FD      int
	Port    uint16
	Servers []*config.Server
}

// ListenerSet maps each unique port to one Listener. Spec §9 notes the
// source had two registry variants (per-socket server list, and
// without); this follows the per-socket-list variant spec §4.5 adopts.
type ListenerSet struct {
	byPort map[uint16]*Listener
	byFD   map[int]*Listener
}

func NewListenerSet() *ListenerSet {
	return &ListenerSet{
		byPort: make(map[uint16]*Listener),
		byFD:   make(map[int]*Listener),
	}
}

// Bind ensures a listening socket exists for server.ListenPort and adds
// server to its virtual-host list.
func (ls *ListenerSet) Bind(server *config.Server) error {
	l, ok := ls.byPort[server.ListenPort]
	if !ok {
		fd, err := listenSocket(server.ListenPort)
		if err != nil {
			return fmt.Errorf("netutil: bind port %d: %w", server.ListenPort, err)
		}
		l = &Listener{FD: fd, Port: server.ListenPort}
		ls.byPort[server.ListenPort] = l
		ls.byFD[fd] = l
	}
	l.Servers = append(l.Servers, server)
	return nil
}

// Listeners returns every bound listener, for epoll registration.
func (ls *ListenerSet) Listeners() []*Listener {
	out := make([]*Listener, 0, len(ls.byFD))
	for _, l := range ls.byFD {
		out = append(out, l)
	}
	return out
}

// ByFD resolves a listening descriptor back to its Listener. Returns
// nil, false for a non-listener fd (i.e. a connection).
func (ls *ListenerSet) ByFD(fd int) (*Listener, bool) {
	l, ok := ls.byFD[fd]
	return l, ok
}

// listenSocket creates, binds, and listens on an IPv4 TCP socket for
// port, set non-blocking for epoll's edge/level-triggered readiness.
func listenSocket(port uint16) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, err
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, err
	}

	addr := &unix.SockaddrInet4{Port: int(port)}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, err
	}

	return fd, nil
}

// Close tears down every bound listening socket.
func (ls *ListenerSet) Close() {
	for fd := range ls.byFD {
		unix.Close(fd)
	}
}
