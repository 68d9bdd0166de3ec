package testutil

import (
	"testing"
	"time"

	"github.com/ashita-ai/warecell/internal/device"
	"github.com/ashita-ai/warecell/internal/hub"
	"github.com/ashita-ai/warecell/internal/model"
	"github.com/ashita-ai/warecell/internal/operations"
	"github.com/ashita-ai/warecell/internal/scheduler"
	"github.com/ashita-ai/warecell/internal/service/warehouse"
	"github.com/ashita-ai/warecell/internal/state"
	"github.com/ashita-ai/warecell/internal/storage/memory"
)

// Harness is a control plane wired the way the application wires it, with
// in-memory storage, short delays and a FakeDevice.
type Harness struct {
	Svc     *warehouse.Service
	Store   *state.Store
	Repo    *memory.Store
	Hub     *hub.Hub
	Link    *device.Link
	Tracker *operations.Tracker
	Queue   *scheduler.Queue
	Loop    *scheduler.Loop
	Device  *FakeDevice
}

// NewHarness builds a Harness. The device is not registered; call Register.
func NewHarness(t testing.TB) *Harness {
	t.Helper()
	logger := TestLogger()
	repo := memory.New()
	h := hub.New(hub.Config{BufferSize: 256, SnapshotInterval: time.Hour}, logger)
	store := state.New(model.DefaultLayout, h, repo, logger)
	link := device.New(2*time.Second, logger)
	tracker := operations.New(repo, link, store, repo, h, logger, time.Second)
	queue := scheduler.NewQueue(repo, h, logger)
	loop := scheduler.NewLoop(queue, tracker, store, repo, logger, 10*time.Millisecond, 10*time.Millisecond)
	svc := warehouse.New(store, tracker, queue, loop, link, repo, h, logger)
	h.SetSource(svc)
	return &Harness{
		Svc:     svc,
		Store:   store,
		Repo:    repo,
		Hub:     h,
		Link:    link,
		Tracker: tracker,
		Queue:   queue,
		Loop:    loop,
		Device:  NewFakeDevice(t),
	}
}

// Register points the link at the FakeDevice.
func (h *Harness) Register(t testing.TB) {
	t.Helper()
	if _, err := h.Svc.RegisterDevice(h.Device.URL()); err != nil {
		t.Fatalf("testutil: register device: %v", err)
	}
}
