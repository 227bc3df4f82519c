package httpc

import (
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewClient(t *testing.T) {
	c := NewClient(5 * time.Second)
	if c.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v", c.Timeout)
	}
	if NewClient(0).Timeout != 0 {
		t.Error("zero timeout should disable the deadline")
	}
	tr, ok := c.Transport.(*http.Transport)
	if !ok || tr.TLSHandshakeTimeout == 0 || tr.IdleConnTimeout != DefaultIdleConnTimeout {
		t.Errorf("transport = %+v", c.Transport)
	}
}

func TestDrainReusesConnection(t *testing.T) {
	var conns atomic.Int32
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("body that must be consumed"))
	}))
	srv.Config.ConnState = func(_ net.Conn, s http.ConnState) {
		if s == http.StateNew {
			conns.Add(1)
		}
	}
	srv.Start()
	defer srv.Close()

	c := NewClient(time.Second)
	for i := 0; i < 3; i++ {
		resp, err := c.Get(srv.URL)
		if err != nil {
			t.Fatal(err)
		}
		Drain(resp.Body)
	}
	if n := conns.Load(); n != 1 {
		t.Errorf("connections = %d, want 1", n)
	}

	Drain(nil)
}
