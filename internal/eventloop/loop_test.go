package eventloop

import (
	"testing"
	"time"

	"github.com/kfcemployee/webserv/internal/config"
	"github.com/kfcemployee/webserv/internal/netutil"
	"github.com/kfcemployee/webserv/internal/request"
)

func TestResolveServerMatchesHostHeader(t *testing.T) {
	api := &config.Server{ServerName: "api.example.com"}
	www := &config.Server{ServerName: "www.example.com"}
	listener := &netutil.Listener{Port: 80, Servers: []*config.Server{www, api}}

	lp := &Loop{}
	c := newConnection(7, listener)
	c.Req.Headers["host"] = "api.example.com:8080"

	got := lp.resolveServer(c)
	if got != api {
		t.Fatalf("resolveServer matched %v, want api", got)
	}
}

func TestResolveServerFallsBackToFirstBound(t *testing.T) {
	www := &config.Server{ServerName: "www.example.com"}
	other := &config.Server{ServerName: "other.example.com"}
	listener := &netutil.Listener{Port: 80, Servers: []*config.Server{www, other}}

	lp := &Loop{}
	c := newConnection(7, listener)
	c.Req.Headers["host"] = "unknown.example.com"

	got := lp.resolveServer(c)
	if got != www {
		t.Fatalf("resolveServer = %v, want first-bound www", got)
	}
}

func TestResolveServerNilWithoutListener(t *testing.T) {
	lp := &Loop{}
	c := newConnection(7, nil)

	if got := lp.resolveServer(c); got != nil {
		t.Fatalf("resolveServer = %v, want nil", got)
	}
}

func TestConnectionIdleFor(t *testing.T) {
	c := &Connection{LastActivity: time.Now().Add(-2 * time.Minute)}
	if !c.idleFor(time.Now(), idleTimeout) {
		t.Fatal("expected connection past idleTimeout to be idle")
	}

	c.LastActivity = time.Now()
	if c.idleFor(time.Now(), idleTimeout) {
		t.Fatal("freshly active connection should not be idle")
	}
}

func TestConnectionQueueAndDrain(t *testing.T) {
	c := newConnection(3, nil)
	c.queueResponse([]byte("hello"))

	if c.Phase != Writing {
		t.Fatalf("Phase = %v, want Writing", c.Phase)
	}

	written := 0
	done, err := c.drainMore(func(p []byte) (int, error) {
		n := len(p)
		if n > 2 {
			n = 2
		}
		written += n
		return n, nil
	})
	if err != nil {
		t.Fatalf("drainMore error: %v", err)
	}
	if done {
		t.Fatal("expected partial write to report not done")
	}

	done, err = c.drainMore(func(p []byte) (int, error) {
		written += len(p)
		return len(p), nil
	})
	if err != nil {
		t.Fatalf("drainMore error: %v", err)
	}
	if !done {
		t.Fatal("expected full drain to report done")
	}
	if written != len("hello") {
		t.Fatalf("wrote %d bytes, want %d", written, len("hello"))
	}

	c.finishedWriting()
	if !c.Responded || c.Phase != Reading || c.Outbound != nil {
		t.Fatalf("finishedWriting left inconsistent state: %+v", c)
	}
}

func TestIndexByte(t *testing.T) {
	if indexByte("example.com:8080", ':') != len("example.com") {
		t.Fatal("indexByte should find the port separator")
	}
	if indexByte("example.com", ':') != -1 {
		t.Fatal("indexByte should return -1 when absent")
	}
}

func TestStatusFromResponse(t *testing.T) {
	tests := []struct {
		resp []byte
		want int
	}{
		{[]byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"), 200},
		{[]byte("HTTP/1.1 404 Not Found\r\n\r\n"), 404},
		{[]byte("garbage"), 0},
	}
	for _, tt := range tests {
		if got := statusFromResponse(tt.resp); got != tt.want {
			t.Errorf("statusFromResponse(%q) = %d, want %d", tt.resp, got, tt.want)
		}
	}
}

func TestErrOutcomeCarriesStatus(t *testing.T) {
	out := errOutcome(413)
	if out.ErrStatus != 413 {
		t.Fatalf("ErrStatus = %d, want 413", out.ErrStatus)
	}
}

func TestRequestErrorState(t *testing.T) {
	req := request.New()
	req.State = request.Error
	req.Err = &request.RequestError{Code: 400}
	if req.Err.Code != 400 {
		t.Fatalf("Err.Code = %d, want 400", req.Err.Code)
	}
}
