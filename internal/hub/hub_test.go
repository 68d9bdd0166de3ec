package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/warecell/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeSource mimics the state store: mutations publish while holding the
// same lock View takes.
type fakeSource struct {
	mu   sync.RWMutex
	snap model.Snapshot
	hub  *Hub
}

func (s *fakeSource) View(fn func(model.Snapshot)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.snap)
}

func (s *fakeSource) setCell(id int64, status model.CellStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Cells[id-1].Status = status
	s.hub.Publish(model.EventCellUpdate, []model.Cell{s.snap.Cells[id-1]})
}

func newTestHub(buffer int) (*Hub, *fakeSource) {
	h := New(Config{BufferSize: buffer, SnapshotInterval: time.Hour}, testLogger())
	src := &fakeSource{snap: model.Snapshot{Cells: model.DefaultLayout.SeedCells()}, hub: h}
	h.SetSource(src)
	return h, src
}

type wireEvent struct {
	Type model.EventType `json:"type"`
	Seq  uint64          `json:"seq"`
	Data json.RawMessage `json:"data"`
}

func decode(t *testing.T, raw []byte) wireEvent {
	t.Helper()
	var ev wireEvent
	require.NoError(t, json.Unmarshal(raw, &ev))
	return ev
}

func TestSubscribe_SnapshotFirstReflectsCurrentState(t *testing.T) {
	h, src := newTestHub(8)
	src.setCell(4, model.CellOccupied)

	o := h.Subscribe()
	defer h.Unsubscribe(o)

	ev := decode(t, <-o.Events())
	assert.Equal(t, model.EventSnapshot, ev.Type)
	assert.Equal(t, uint64(1), ev.Seq, "snapshot carries the last published seq")

	var snap model.Snapshot
	require.NoError(t, json.Unmarshal(ev.Data, &snap))
	assert.Equal(t, model.CellOccupied, snap.Cells[3].Status)

	src.setCell(5, model.CellOccupied)
	ev = decode(t, <-o.Events())
	assert.Equal(t, model.EventCellUpdate, ev.Type)
	assert.Equal(t, uint64(2), ev.Seq)
}

func TestPublish_CausalOrderPerObserver(t *testing.T) {
	h, _ := newTestHub(256)
	a := h.Subscribe()
	b := h.Subscribe()
	<-a.Events()
	<-b.Events()

	var wg sync.WaitGroup
	for w := range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 25 {
				h.Publish(model.EventOperationUpdate, fmt.Sprintf("%d-%d", w, i))
			}
		}()
	}
	wg.Wait()

	for _, o := range []*Observer{a, b} {
		var last uint64
		for range 100 {
			ev := decode(t, <-o.Events())
			assert.Equal(t, last+1, ev.Seq, "no gaps or reordering")
			last = ev.Seq
		}
	}
}

func TestPublish_SlowObserverIsSkipped(t *testing.T) {
	h, _ := newTestHub(2)
	slow := h.Subscribe() // snapshot fills one slot
	other := h.Subscribe()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := range 10 {
			h.Publish(model.EventSensorUpdate, i)
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full observer")
	}

	assert.Equal(t, int64(9), slow.Dropped())
	assert.Equal(t, int64(9), other.Dropped())
	h.Unsubscribe(slow)
	h.Unsubscribe(other)
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	h, _ := newTestHub(4)
	o := h.Subscribe()
	assert.Equal(t, 1, h.Count())
	h.Unsubscribe(o)
	h.Unsubscribe(o)
	assert.Equal(t, 0, h.Count())

	h.Publish(model.EventModeUpdate, "auto") // no panic on closed channel
	_, ok := <-o.Events()
	for ok {
		_, ok = <-o.Events()
	}
}

func TestRun_PublishesPeriodicSnapshots(t *testing.T) {
	h := New(Config{BufferSize: 8, SnapshotInterval: 20 * time.Millisecond}, testLogger())
	h.SetSource(&fakeSource{snap: model.Snapshot{Cells: model.DefaultLayout.SeedCells()}, hub: h})
	o := h.Subscribe()
	<-o.Events()

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = h.Run(ctx) }()
	defer cancel()

	select {
	case raw := <-o.Events():
		assert.Equal(t, model.EventSnapshot, decode(t, raw).Type)
	case <-time.After(time.Second):
		t.Fatal("no periodic snapshot")
	}
}

type fakeController struct {
	mu         sync.Mutex
	strategies []string
}

func (c *fakeController) SetStrategy(_ context.Context, s string) (model.StrategyResult, error) {
	st, err := model.ParseStorageStrategy(s)
	if err != nil {
		return model.StrategyResult{}, err
	}
	c.mu.Lock()
	c.strategies = append(c.strategies, s)
	c.mu.Unlock()
	return model.StrategyResult{Strategy: st}, nil
}

func TestHandleWS_RoundTrip(t *testing.T) {
	h, src := newTestHub(16)
	ctrl := &fakeController{}
	ts := httptest.NewServer(h.HandleWS(ctrl))
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+ts.URL[len("http"):], nil)
	require.NoError(t, err)
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	read := func() model.EventType {
		_, msg, err := conn.Read(ctx)
		require.NoError(t, err)
		return decode(t, msg).Type
	}

	assert.Equal(t, model.EventSnapshot, read(), "snapshot on connect")

	require.Eventually(t, func() bool { return h.Count() == 1 }, time.Second, 5*time.Millisecond)
	src.setCell(2, model.CellOccupied)
	assert.Equal(t, model.EventCellUpdate, read())

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"refresh_data"}`)))
	assert.Equal(t, model.EventSnapshot, read())

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"set_strategy","strategy":"ROUND_ROBIN"}`)))
	require.Eventually(t, func() bool {
		ctrl.mu.Lock()
		defer ctrl.mu.Unlock()
		return len(ctrl.strategies) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"set_strategy","strategy":"TALLEST"}`)))
	assert.Equal(t, model.EventError, read())

	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte(`{"type":"reboot"}`)))
	assert.Equal(t, model.EventError, read())

	_ = conn.Close(websocket.StatusNormalClosure, "")
	require.Eventually(t, func() bool { return h.Count() == 0 }, time.Second, 5*time.Millisecond)
}
