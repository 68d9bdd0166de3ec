// Package device talks to the cell's microcontroller over its HTTP command
// endpoint and tracks whether it is reachable.
package device

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/ashita-ai/warecell/internal/model"
	"github.com/ashita-ai/warecell/internal/telemetry"
)

// maxResponseBytes caps how much of a device reply is kept.
const maxResponseBytes = 64 * 1024

var tracer = telemetry.Tracer("warecell/device")

// TransportError is returned when a command could not be delivered or the
// device answered with a non-2xx status. It matches model.ErrTransport.
type TransportError struct {
	Command    string
	StatusCode int // zero when the device was never reached
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.Rejected() {
		return fmt.Sprintf("device HTTP %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("device unreachable: %v", e.Err)
}

func (e *TransportError) Unwrap() []error {
	if e.Err == nil {
		return []error{model.ErrTransport}
	}
	return []error{model.ErrTransport, e.Err}
}

// Rejected reports whether the device answered but refused the command,
// as opposed to being unreachable or timing out.
func (e *TransportError) Rejected() bool { return e.StatusCode != 0 }

// Link is the single channel to the microcontroller. It is safe for
// concurrent use, but callers serialize commands through the dispatch lock.
type Link struct {
	client *http.Client
	logger *slog.Logger

	mu       sync.RWMutex
	reg      *model.DeviceRegistration
	base     *url.URL
	onChange func(model.DeviceRegistration)
}

// New creates a Link whose sends give up after timeout.
func New(timeout time.Duration, logger *slog.Logger) *Link {
	return &Link{
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// OnChange registers fn to be called after registration and after every
// connectivity flip. fn runs outside the Link's lock.
func (l *Link) OnChange(fn func(model.DeviceRegistration)) {
	l.mu.Lock()
	l.onChange = fn
	l.mu.Unlock()
}

// ParseAddress turns a check-in address into the device base URL. Bare
// host[:port] values get an http scheme.
func ParseAddress(address string) (*url.URL, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, errors.New("device: address is required")
	}
	raw := address
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("device: invalid address %q: %w", address, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("device: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("device: address %q has no host", address)
	}
	u.Path = strings.TrimRight(u.Path, "/")
	u.RawQuery = ""
	return u, nil
}

// Register records address as the device location and marks it connected.
// Registration is optimistic; the device is not contacted.
func (l *Link) Register(address string) (model.DeviceRegistration, error) {
	base, err := ParseAddress(address)
	if err != nil {
		return model.DeviceRegistration{}, err
	}
	now := time.Now().UTC()

	l.mu.Lock()
	if l.reg == nil {
		l.reg = &model.DeviceRegistration{RegisteredAt: now}
	}
	l.reg.Address = strings.TrimSpace(address)
	l.reg.Connected = true
	l.reg.LastSeen = &now
	l.base = base
	snap := *l.reg
	fn := l.onChange
	l.mu.Unlock()

	l.logger.Info("device registered", "address", snap.Address)
	if fn != nil {
		fn(snap)
	}
	return snap, nil
}

// Registration returns a copy of the current registration.
func (l *Link) Registration() (model.DeviceRegistration, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.reg == nil {
		return model.DeviceRegistration{}, false
	}
	return *l.reg, true
}

// Registered reports whether an address is known.
func (l *Link) Registered() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.reg != nil
}

// MarkSeen refreshes lastSeen and sets connected after inbound traffic
// from the device, such as a sensor report.
func (l *Link) MarkSeen() {
	l.setConnected(true)
}

func (l *Link) setConnected(connected bool) {
	now := time.Now().UTC()
	l.mu.Lock()
	if l.reg == nil {
		l.mu.Unlock()
		return
	}
	flipped := l.reg.Connected != connected
	l.reg.Connected = connected
	if connected {
		l.reg.LastSeen = &now
	}
	snap := *l.reg
	fn := l.onChange
	l.mu.Unlock()

	if flipped {
		l.logger.Info("device connectivity changed", "address", snap.Address, "connected", connected)
		if fn != nil {
			fn(snap)
		}
	}
}

// Send delivers cmd as GET <base>/cmd?c=<cmd> and returns the reply body.
// There are no retries. Any failure marks the device disconnected.
func (l *Link) Send(ctx context.Context, cmd string) (string, error) {
	l.mu.RLock()
	var base url.URL
	registered := l.base != nil
	if registered {
		base = *l.base
	}
	l.mu.RUnlock()
	if !registered {
		return "", model.ErrNotRegistered
	}

	ctx, span := tracer.Start(ctx, "device.send")
	defer span.End()
	span.SetAttributes(attribute.String("warecell.command", cmd))

	target := base
	target.Path = base.Path + "/cmd"
	target.RawQuery = url.Values{"c": {cmd}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return "", fmt.Errorf("device: build request: %w", err)
	}

	start := time.Now()
	resp, err := l.client.Do(req)
	if err != nil {
		l.setConnected(false)
		span.RecordError(err)
		span.SetStatus(codes.Error, "unreachable")
		l.logger.Warn("device send failed", "command", cmd, "error", err)
		return "", &TransportError{Command: cmd, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	text := strings.TrimSpace(string(body))
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		l.setConnected(false)
		span.SetStatus(codes.Error, "rejected")
		l.logger.Warn("device rejected command", "command", cmd, "status", resp.StatusCode, "body", text)
		return "", &TransportError{Command: cmd, StatusCode: resp.StatusCode, Body: text}
	}
	if readErr != nil {
		l.setConnected(false)
		span.RecordError(readErr)
		span.SetStatus(codes.Error, "read body")
		return "", &TransportError{Command: cmd, Err: readErr}
	}

	l.setConnected(true)
	l.logger.Debug("device command sent", "command", cmd, "duration_ms", time.Since(start).Milliseconds())
	return text, nil
}
