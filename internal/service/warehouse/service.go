// Package warehouse is the control-plane facade shared by the HTTP API, the
// observer channel and the MCP server.
//
// It owns no state of its own. Every request is validated here, then
// delegated to the state store, the operation tracker or the task queue, so
// all three surfaces behave identically.
package warehouse

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashita-ai/warecell/internal/device"
	"github.com/ashita-ai/warecell/internal/model"
	"github.com/ashita-ai/warecell/internal/operations"
	"github.com/ashita-ai/warecell/internal/scheduler"
	"github.com/ashita-ai/warecell/internal/state"
)

// Device commands sent on mode changes.
const (
	cmdModeAuto   = "MODE AUTO"
	cmdModeManual = "MODE MANUAL"
	cmdAutoStart  = "AUTO START"
	cmdAutoStop   = "AUTO STOP"
)

// Equipment commands.
const (
	cmdConveyorMove = "CONVEYOR_MOVE"
	cmdConveyorStop = "CONVEYOR_STOP"
	cmdLoadingOpen  = "LOADING_OPEN"
	cmdLoadingClose = "LOADING_CLOSE"
	cmdLoadingCheck = "CHECK_LOADING"
)

// ProductRepository is the product catalog.
type ProductRepository interface {
	CreateProduct(ctx context.Context, p *model.Product) error
	GetProduct(ctx context.Context, id int64) (model.Product, error)
	ListProducts(ctx context.Context) ([]model.Product, error)
}

// Broadcaster is the observer hub as seen by the service.
type Broadcaster interface {
	Publish(eventType model.EventType, data any)
	Count() int
}

// Service wires the control plane components together.
type Service struct {
	store    *state.Store
	tracker  *operations.Tracker
	queue    *scheduler.Queue
	loop     *scheduler.Loop
	link     *device.Link
	products ProductRepository
	hub      Broadcaster
	logger   *slog.Logger
	now      func() time.Time

	modeMu sync.Mutex // serializes mode switches
}

// New creates a Service and subscribes the hub to device connectivity changes.
func New(store *state.Store, tracker *operations.Tracker, queue *scheduler.Queue, loop *scheduler.Loop,
	link *device.Link, products ProductRepository, hub Broadcaster, logger *slog.Logger,
) *Service {
	s := &Service{
		store:    store,
		tracker:  tracker,
		queue:    queue,
		loop:     loop,
		link:     link,
		products: products,
		hub:      hub,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	link.OnChange(func(reg model.DeviceRegistration) {
		hub.Publish(model.EventDeviceStatus, reg)
	})
	return s
}

// View calls fn with a full snapshot while the state store lock is held.
// It satisfies hub.Source.
func (s *Service) View(fn func(model.Snapshot)) {
	s.store.View(func(snap model.Snapshot) {
		s.decorate(&snap)
		fn(snap)
	})
}

func (s *Service) decorate(snap *model.Snapshot) {
	if reg, ok := s.link.Registration(); ok {
		snap.Device = &reg
	}
	if op, ok := s.tracker.Current(); ok {
		snap.Current = &op
	}
}

// Snapshot returns the full state.
func (s *Service) Snapshot() model.Snapshot {
	var out model.Snapshot
	s.View(func(snap model.Snapshot) { out = snap })
	return out
}

// Status returns the aggregate status summary.
func (s *Service) Status() model.StatusSummary {
	snap := s.Snapshot()
	sum := model.StatusSummary{
		CellsTotal:       len(snap.Cells),
		PendingTasks:     s.queue.Pending(),
		CurrentOperation: snap.Current,
		Device:           snap.Device,
		Settings:         snap.Settings,
		Arm:              snap.Arm,
		SchedulerArmed:   s.loop.Armed(),
		Observers:        s.hub.Count(),
	}
	for _, c := range snap.Cells {
		if c.Status == model.CellOccupied {
			sum.CellsOccupied++
		}
		if c.Status == model.CellEmpty {
			sum.CellsAvailable++
		}
	}
	return sum
}

// --- device ---

// RegisterDevice records the device's check-in address.
func (s *Service) RegisterDevice(address string) (model.DeviceRegistration, error) {
	reg, err := s.link.Register(address)
	if err != nil {
		return model.DeviceRegistration{}, fmt.Errorf("warehouse: register device: %w: %v", model.ErrInvalidCommand, err)
	}
	return reg, nil
}

// DeviceStatus returns the registration, if any.
func (s *Service) DeviceStatus() (model.DeviceRegistration, bool) {
	return s.link.Registration()
}

// IngestSensors applies a device report. Inbound traffic counts as proof
// of life, so the device is marked seen even when some fields are rejected.
func (s *Service) IngestSensors(ctx context.Context, r model.SensorReport) error {
	s.link.MarkSeen()
	if err := s.store.ApplySensorReport(ctx, r); err != nil {
		return fmt.Errorf("warehouse: %w: %w", model.ErrInvalidCommand, err)
	}
	return nil
}

// Sensors returns the latest raw report.
func (s *Service) Sensors() (model.SensorReport, bool) {
	return s.store.Sensors()
}

// RunStatusPoll sends the status poll every interval while no command is
// in flight. It returns when ctx is done.
func (s *Service) RunStatusPoll(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, sent, err := s.tracker.Probe(ctx); sent && err != nil {
				s.logger.Debug("warehouse: status poll failed", "error", err)
			}
		}
	}
}

// --- operations ---

// Submit validates and dispatches a command.
func (s *Service) Submit(ctx context.Context, req model.SubmitOperationRequest) (model.Operation, error) {
	var kind model.OperationKind
	if strings.TrimSpace(req.Kind) != "" {
		k, err := model.ParseOperationKind(req.Kind)
		if err != nil {
			return model.Operation{}, err
		}
		kind = k
	}
	prio, err := model.ParseOperationPriority(req.Priority)
	if err != nil {
		return model.Operation{}, err
	}
	return s.tracker.Submit(ctx, operations.Request{
		Kind:      kind,
		Command:   strings.TrimSpace(req.Command),
		CellID:    req.CellID,
		ProductID: req.ProductID,
		Priority:  prio,
	})
}

// Operation returns one operation record.
func (s *Service) Operation(ctx context.Context, id int64) (model.Operation, error) {
	return s.tracker.Get(ctx, id)
}

// Operations returns the newest operations first.
func (s *Service) Operations(ctx context.Context, limit int) ([]model.Operation, error) {
	return s.tracker.Recent(ctx, limit)
}

// --- tasks ---

// CreateTask validates req and enqueues a PENDING task.
func (s *Service) CreateTask(ctx context.Context, req model.CreateTaskRequest) (model.Task, error) {
	typ, err := model.ParseTaskType(req.Type)
	if err != nil {
		return model.Task{}, err
	}
	prio, err := model.ParseTaskPriority(req.Priority)
	if err != nil {
		return model.Task{}, err
	}
	if req.Quantity < 0 {
		return model.Task{}, fmt.Errorf("%w: quantity must not be negative", model.ErrInvalidCommand)
	}
	strategy := s.store.Settings().StorageStrategy
	if strings.TrimSpace(req.StorageStrategy) != "" {
		if strategy, err = model.ParseStorageStrategy(req.StorageStrategy); err != nil {
			return model.Task{}, err
		}
	}
	if req.CellID != nil {
		if _, err := s.store.Cell(*req.CellID); err != nil {
			return model.Task{}, err
		}
	}
	if req.ProductID != nil {
		if _, err := s.products.GetProduct(ctx, *req.ProductID); err != nil {
			return model.Task{}, err
		}
	}
	if typ == model.TaskRetrieve && req.CellID == nil {
		return model.Task{}, fmt.Errorf("%w: RETRIEVE requires cell_id", model.ErrInvalidCommand)
	}
	tag := trimmed(req.ProductTag)
	if typ == model.TaskStock && tag == nil && req.ProductID == nil {
		return model.Task{}, fmt.Errorf("%w: STOCK requires product_tag or product_id", model.ErrInvalidCommand)
	}
	action := trimmed(req.Action)
	if action != nil {
		if err := model.ValidateCommand(*action); err != nil {
			return model.Task{}, err
		}
	}

	return s.queue.Enqueue(ctx, model.Task{
		Type:            typ,
		CellID:          req.CellID,
		ProductID:       req.ProductID,
		ProductTag:      tag,
		Action:          action,
		Quantity:        req.Quantity,
		Priority:        prio,
		StorageStrategy: strategy,
	})
}

// Task returns one task.
func (s *Service) Task(ctx context.Context, id int64) (model.Task, error) {
	return s.queue.Get(ctx, id)
}

// Tasks lists tasks, optionally filtered by status name.
func (s *Service) Tasks(ctx context.Context, status string, limit int) ([]model.Task, error) {
	filter := model.TaskFilter{Limit: operations.ClampLimit(limit)}
	if strings.TrimSpace(status) != "" {
		st, err := model.ParseTaskStatus(status)
		if err != nil {
			return nil, err
		}
		filter.Status = &st
	}
	return s.queue.List(ctx, filter)
}

// CancelTask cancels a PENDING task.
func (s *Service) CancelTask(ctx context.Context, id int64) (model.Task, error) {
	return s.queue.Cancel(ctx, id)
}

// --- settings ---

// SetMode switches between manual and auto. Entering auto stores the mode,
// tells the device and arms the scheduler. Leaving auto disarms first so no
// new task starts, then tells the device. Device signal failures are
// reported in the result and never block the switch.
func (s *Service) SetMode(ctx context.Context, mode string) (model.ModeResult, error) {
	m, err := model.ParseMode(mode)
	if err != nil {
		return model.ModeResult{}, err
	}

	s.modeMu.Lock()
	defer s.modeMu.Unlock()

	var signals []string
	if m == model.ModeAuto {
		s.store.SetMode(m)
		signals = []string{cmdModeAuto, cmdAutoStart}
	} else {
		s.loop.Disarm()
		s.store.SetMode(m)
		signals = []string{cmdAutoStop, cmdModeManual}
	}

	res := model.ModeResult{Mode: m}
	if s.link.Registered() {
		for _, cmd := range signals {
			if _, err := s.tracker.Signal(ctx, cmd); err != nil {
				s.logger.Warn("warehouse: mode signal failed", "command", cmd, "error", err)
				res.SignalErrors = append(res.SignalErrors, err.Error())
			}
		}
	}

	if m == model.ModeAuto {
		s.loop.Arm()
	}
	res.SchedulerArmed = s.loop.Armed()
	s.logger.Info("warehouse: mode changed", "mode", m, "signal_errors", len(res.SignalErrors))
	return res, nil
}

// Mode returns the stored mode.
func (s *Service) Mode() model.Mode {
	return s.store.Settings().Mode
}

// SetStrategy stores the storage strategy and sends it to the device once.
// A device failure is reported in the result; the strategy is kept.
func (s *Service) SetStrategy(ctx context.Context, strategy string) (model.StrategyResult, error) {
	st, err := model.ParseStorageStrategy(strategy)
	if err != nil {
		return model.StrategyResult{}, err
	}
	s.store.SetStrategy(st)
	res := model.StrategyResult{Strategy: st}
	if s.link.Registered() {
		if _, err := s.tracker.Signal(ctx, st.DeviceCommand()); err != nil {
			s.logger.Warn("warehouse: strategy signal failed", "strategy", st, "error", err)
			res.DeviceError = err.Error()
		}
	}
	return res, nil
}

// Strategy returns the stored storage strategy.
func (s *Service) Strategy() model.StorageStrategy {
	return s.store.Settings().StorageStrategy
}

// --- equipment ---

// ConveyorManual runs the belt ("move") or halts it ("stop"). The conveyor
// switches to manual mode once the device accepts the command.
func (s *Service) ConveyorManual(ctx context.Context, action string) (model.ControlResult, error) {
	a, err := model.ParseAction(action, "move", "stop")
	if err != nil {
		return model.ControlResult{}, err
	}
	cmd := cmdConveyorStop
	if a == "move" {
		cmd = cmdConveyorMove
	}
	op, err := s.tracker.Submit(ctx, operations.Request{Kind: model.OpConveyorManual, Command: cmd})
	res := model.ControlResult{Operation: op}
	if err != nil {
		return res, err
	}
	conv := s.store.SetConveyorManual(a == "move")
	res.Conveyor = &conv
	return res, nil
}

// LoadingZoneControl opens or closes the loading-zone gate, or asks the
// device to re-check occupancy.
func (s *Service) LoadingZoneControl(ctx context.Context, action string) (model.ControlResult, error) {
	a, err := model.ParseAction(action, "open", "close", "check")
	if err != nil {
		return model.ControlResult{}, err
	}
	var (
		cmd   string
		angle int
	)
	switch a {
	case "open":
		cmd, angle = cmdLoadingOpen, model.ServoOpen
	case "close":
		cmd, angle = cmdLoadingClose, model.ServoClosed
	default:
		cmd = cmdLoadingCheck
	}
	op, err := s.tracker.Submit(ctx, operations.Request{Kind: model.OpLoadingZone, Command: cmd})
	res := model.ControlResult{Operation: op}
	if err != nil {
		return res, err
	}
	var lz model.LoadingZone
	if angle != 0 {
		lz = s.store.SetServo(angle)
	} else {
		lz = s.store.LoadingZone()
	}
	res.LoadingZone = &lz
	return res, nil
}

// LoadingZone returns the loading zone.
func (s *Service) LoadingZone() model.LoadingZone { return s.store.LoadingZone() }

// Conveyor returns the conveyor.
func (s *Service) Conveyor() model.Conveyor { return s.store.Conveyor() }

// --- cells & products ---

// Cells returns every cell in id order.
func (s *Service) Cells() []model.Cell { return s.store.Cells() }

// AssignCell sets a cell's contents by hand. A nil product empties the cell.
func (s *Service) AssignCell(ctx context.Context, id int64, req model.AssignCellRequest) (model.Cell, error) {
	if req.ProductID != nil {
		if _, err := s.products.GetProduct(ctx, *req.ProductID); err != nil {
			return model.Cell{}, err
		}
	}
	if req.Quantity < 0 {
		return model.Cell{}, fmt.Errorf("%w: quantity must not be negative", model.ErrInvalidCommand)
	}
	return s.store.AssignCell(id, req.ProductID, req.Quantity)
}

// CreateProduct adds a product to the catalog.
func (s *Service) CreateProduct(ctx context.Context, req model.CreateProductRequest) (model.Product, error) {
	if err := req.Validate(); err != nil {
		return model.Product{}, err
	}
	p := model.Product{
		Name:      strings.TrimSpace(req.Name),
		SKU:       trimmed(req.SKU),
		Tag:       trimmed(req.Tag),
		CreatedAt: s.now(),
	}
	if err := s.products.CreateProduct(ctx, &p); err != nil {
		return model.Product{}, fmt.Errorf("warehouse: create product: %w", err)
	}
	return p, nil
}

// Products lists the catalog.
func (s *Service) Products(ctx context.Context) ([]model.Product, error) {
	return s.products.ListProducts(ctx)
}

func trimmed(p *string) *string {
	if p == nil {
		return nil
	}
	v := strings.TrimSpace(*p)
	if v == "" {
		return nil
	}
	return &v
}
