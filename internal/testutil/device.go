package testutil

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// FakeDevice stands in for the microcontroller. It records every command it
// receives on /cmd and answers with a configurable status.
type FakeDevice struct {
	srv *httptest.Server

	mu       sync.Mutex
	commands []string
	status   int
	body     string
}

// NewFakeDevice starts a device that accepts everything. It is closed when
// the test ends.
func NewFakeDevice(t testing.TB) *FakeDevice {
	t.Helper()
	d := &FakeDevice{status: http.StatusOK, body: "OK"}
	d.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		d.commands = append(d.commands, r.URL.Query().Get("c"))
		status, body := d.status, d.body
		d.mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(d.srv.Close)
	return d
}

// URL is the address the device registers with.
func (d *FakeDevice) URL() string { return d.srv.URL }

// SetStatus changes the HTTP status of later replies.
func (d *FakeDevice) SetStatus(code int) {
	d.mu.Lock()
	d.status = code
	d.mu.Unlock()
}

// SetBody changes the body of later replies.
func (d *FakeDevice) SetBody(body string) {
	d.mu.Lock()
	d.body = body
	d.mu.Unlock()
}

// Commands returns the commands received so far, oldest first.
func (d *FakeDevice) Commands() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.commands...)
}
