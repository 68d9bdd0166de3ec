package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/warecell/internal/ctxutil"
	"github.com/ashita-ai/warecell/internal/device"
	"github.com/ashita-ai/warecell/internal/model"
)

func (s *Server) registerTools() {
	// warehouse_status: the aggregate view an agent should read first.
	s.mcpServer.AddTool(
		mcplib.NewTool("warehouse_status",
			mcplib.WithDescription(`Read the current state of the storage cell.

WHEN TO USE: FIRST, before sending any command or task. Commands that
ignore the current state (an occupied loading zone, a busy arm, manual
mode) fail or do nothing.

WHAT YOU GET BACK:
- mode and storage strategy
- device registration and connectivity
- arm state and the operation in flight, if any
- cell counts plus every occupied cell with its product and quantity
- pending task count`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleStatus,
	)

	// submit_command: send one raw command and wait for the device.
	s.mcpServer.AddTool(
		mcplib.NewTool("submit_command",
			mcplib.WithDescription(`Send one command to the device and wait for its answer.

IMPORTANT: Call warehouse_status FIRST. Only one command runs at a time;
if another is in flight this fails with DEVICE_BUSY and you should retry.

COMMAND EXAMPLES:
- "HOME"                   return the arm to its rest position
- "PICK 2 3"               pick from row 2, column 3
- "PLACE 1 4"              place into row 1, column 4
- "TAKE 3 2"               move a product from cell (3,2) to the loading zone
- "GOTO_COLUMN 4"
- "GET_STATUS"`),
			mcplib.WithDestructiveHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("command",
				mcplib.Description("The command text, e.g. PICK 2 3"),
				mcplib.Required(),
			),
			mcplib.WithString("kind",
				mcplib.Description("Optional operation kind recorded with the command"),
				mcplib.Enum(string(model.OpHome), string(model.OpPick), string(model.OpPlace), string(model.OpTake),
					string(model.OpGotoColumn), string(model.OpMoveToLoading), string(model.OpReturnToLoading), string(model.OpManual)),
			),
			mcplib.WithNumber("cell_id", mcplib.Description("Optional cell the command refers to")),
			mcplib.WithNumber("product_id", mcplib.Description("Optional product the command moves")),
			mcplib.WithString("priority",
				mcplib.Description("Operation priority"),
				mcplib.Enum(string(model.OpPriorityLow), string(model.OpPriorityMedium), string(model.OpPriorityHigh)),
			),
		),
		s.handleSubmitCommand,
	)

	// enqueue_task: queue autonomous work for the scheduler.
	s.mcpServer.AddTool(
		mcplib.NewTool("enqueue_task",
			mcplib.WithDescription(`Queue a task for the scheduler. Tasks run one at a time, highest
priority first, while the cell is in auto mode.

TASK TYPES:
- RETRIEVE: move the product in cell_id to the loading zone (cell_id required)
- STOCK: store the product at the loading zone (product_tag or product_id required)
- MOVE, ORGANIZE, INVENTORY_CHECK, LOADING_ZONE_OP: optional action text is sent as-is`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("type",
				mcplib.Description("Task type"),
				mcplib.Required(),
				mcplib.Enum(string(model.TaskStock), string(model.TaskRetrieve), string(model.TaskMove),
					string(model.TaskOrganize), string(model.TaskInventoryCheck), string(model.TaskLoadingZoneOp)),
			),
			mcplib.WithNumber("cell_id", mcplib.Description("Target cell")),
			mcplib.WithNumber("product_id", mcplib.Description("Product to store or retrieve")),
			mcplib.WithString("product_tag", mcplib.Description("Identification tag of the product to store")),
			mcplib.WithString("action", mcplib.Description("Device command for MOVE, ORGANIZE and similar tasks")),
			mcplib.WithNumber("quantity", mcplib.Description("Quantity"), mcplib.Min(0)),
			mcplib.WithString("priority",
				mcplib.Description("Task priority"),
				mcplib.Enum(string(model.TaskPriorityLow), string(model.TaskPriorityMedium),
					string(model.TaskPriorityHigh), string(model.TaskPriorityUrgent)),
			),
		),
		s.handleEnqueueTask,
	)

	// list_tasks: follow queued work.
	s.mcpServer.AddTool(
		mcplib.NewTool("list_tasks",
			mcplib.WithDescription("List tasks, newest first, optionally filtered by status."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("status",
				mcplib.Description("Only tasks in this status"),
				mcplib.Enum(string(model.TaskPending), string(model.TaskProcessing), string(model.TaskCompleted),
					string(model.TaskFailed), string(model.TaskCancelled)),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum results to return"),
				mcplib.Min(1),
				mcplib.Max(200),
				mcplib.DefaultNumber(20),
			),
		),
		s.handleListTasks,
	)

	// cancel_task: withdraw a task that has not started.
	s.mcpServer.AddTool(
		mcplib.NewTool("cancel_task",
			mcplib.WithDescription("Cancel a PENDING task. Tasks that already started cannot be cancelled."),
			mcplib.WithDestructiveHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithNumber("task_id", mcplib.Description("Task to cancel"), mcplib.Required()),
		),
		s.handleCancelTask,
	)

	// set_mode: switch between manual and auto.
	s.mcpServer.AddTool(
		mcplib.NewTool("set_mode",
			mcplib.WithDescription(`Switch the cell between manual and auto mode. Auto mode starts the
scheduler; manual mode stops it before the next task. Device signal
failures are reported but do not prevent the switch.`),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithString("mode",
				mcplib.Description("Target mode"),
				mcplib.Required(),
				mcplib.Enum(string(model.ModeManual), string(model.ModeAuto)),
			),
		),
		s.handleSetMode,
	)

	// set_strategy: change the placement hint.
	s.mcpServer.AddTool(
		mcplib.NewTool("set_strategy",
			mcplib.WithDescription("Change the storage strategy the device uses to pick empty cells."),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithString("strategy",
				mcplib.Description("Storage strategy"),
				mcplib.Required(),
				mcplib.Enum(string(model.StrategyNearestEmpty), string(model.StrategyRoundRobin), string(model.StrategyRandom),
					string(model.StrategyAIOptimized), string(model.StrategyFixed)),
			),
		),
		s.handleSetStrategy,
	)

	// recent_operations: what the device did lately.
	s.mcpServer.AddTool(
		mcplib.NewTool("recent_operations",
			mcplib.WithDescription("List the most recent device operations, newest first."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum results to return"),
				mcplib.Min(1),
				mcplib.Max(200),
				mcplib.DefaultNumber(10),
			),
		),
		s.handleRecentOperations,
	)
}

func (s *Server) handleStatus(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	s.viewed.Record(sessionKey(ctx))

	st := s.svc.Status()
	out := map[string]any{
		"mode":            st.Settings.Mode,
		"strategy":        st.Settings.StorageStrategy,
		"arm":             st.Arm,
		"scheduler_armed": st.SchedulerArmed,
		"pending_tasks":   st.PendingTasks,
		"cells":           compactCells(s.svc.Cells()),
		"loading_zone":    s.svc.LoadingZone(),
		"conveyor":        s.svc.Conveyor(),
	}
	if st.Device != nil {
		out["device"] = map[string]any{"address": st.Device.Address, "connected": st.Device.Connected}
	} else {
		out["device"] = nil
	}
	if st.CurrentOperation != nil {
		out["current_operation"] = compactOperation(*st.CurrentOperation)
	}
	return jsonResult(out), nil
}

func (s *Server) handleSubmitCommand(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	command := strings.TrimSpace(request.GetString("command", ""))
	if command == "" {
		return errorResult("command is required"), nil
	}
	cellID, err := optionalID(request, "cell_id")
	if err != nil {
		return errorResult(err.Error()), nil
	}
	productID, err := optionalID(request, "product_id")
	if err != nil {
		return errorResult(err.Error()), nil
	}

	session := sessionKey(ctx)
	op, err := s.svc.Submit(ctxutil.WithSurface(ctx, ctxutil.SurfaceMCP), model.SubmitOperationRequest{
		Kind:      request.GetString("kind", ""),
		Command:   command,
		CellID:    cellID,
		ProductID: productID,
		Priority:  request.GetString("priority", ""),
	})
	if err != nil {
		s.logger.Info("mcp: command failed", "command", command, "session", session, "error", err)
		if op.ID != 0 {
			return errorResult(fmt.Sprintf("%s (operation %d recorded as %s)", describe(err), op.ID, op.Status)), nil
		}
		return errorResult(describe(err)), nil
	}

	out := map[string]any{"operation": compactOperation(op)}
	if !s.viewed.Viewed(session) {
		out["note"] = "Call warehouse_status before sending commands so they match the cell's current state."
	}
	return jsonResult(out), nil
}

func (s *Server) handleEnqueueTask(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	req := model.CreateTaskRequest{
		Type:     request.GetString("type", ""),
		Quantity: request.GetInt("quantity", 0),
		Priority: request.GetString("priority", ""),
	}
	var err error
	if req.CellID, err = optionalID(request, "cell_id"); err != nil {
		return errorResult(err.Error()), nil
	}
	if req.ProductID, err = optionalID(request, "product_id"); err != nil {
		return errorResult(err.Error()), nil
	}
	if tag := request.GetString("product_tag", ""); tag != "" {
		req.ProductTag = &tag
	}
	if action := request.GetString("action", ""); action != "" {
		req.Action = &action
	}

	task, err := s.svc.CreateTask(ctx, req)
	if err != nil {
		return errorResult(describe(err)), nil
	}
	out := map[string]any{"task": compactTask(task)}
	if s.svc.Mode() != model.ModeAuto {
		out["note"] = "The cell is in manual mode; the task waits until set_mode switches to auto."
	}
	return jsonResult(out), nil
}

func (s *Server) handleListTasks(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	tasks, err := s.svc.Tasks(ctx, request.GetString("status", ""), request.GetInt("limit", 20))
	if err != nil {
		return errorResult(describe(err)), nil
	}
	compact := make([]map[string]any, len(tasks))
	for i, t := range tasks {
		compact[i] = compactTask(t)
	}
	return jsonResult(map[string]any{"tasks": compact, "total": len(compact)}), nil
}

func (s *Server) handleCancelTask(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id, err := optionalID(request, "task_id")
	if err != nil || id == nil {
		return errorResult("task_id is required"), nil
	}
	task, err := s.svc.CancelTask(ctx, *id)
	if err != nil {
		return errorResult(describe(err)), nil
	}
	return jsonResult(map[string]any{"task": compactTask(task)}), nil
}

func (s *Server) handleSetMode(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	res, err := s.svc.SetMode(ctxutil.WithSurface(ctx, ctxutil.SurfaceMCP), request.GetString("mode", ""))
	if err != nil {
		return errorResult(describe(err)), nil
	}
	return jsonResult(res), nil
}

func (s *Server) handleSetStrategy(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	res, err := s.svc.SetStrategy(ctxutil.WithSurface(ctx, ctxutil.SurfaceMCP), request.GetString("strategy", ""))
	if err != nil {
		return errorResult(describe(err)), nil
	}
	return jsonResult(res), nil
}

func (s *Server) handleRecentOperations(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	ops, err := s.svc.Operations(ctx, request.GetInt("limit", 10))
	if err != nil {
		return errorResult(describe(err)), nil
	}
	compact := make([]map[string]any, len(ops))
	for i, op := range ops {
		compact[i] = compactOperation(op)
	}
	return jsonResult(map[string]any{"operations": compact, "total": len(compact)}), nil
}

// optionalID reads a positive integer argument. Absent arguments yield nil.
func optionalID(request mcplib.CallToolRequest, key string) (*int64, error) {
	raw, ok := request.GetArguments()[key]
	if !ok || raw == nil {
		return nil, nil
	}
	var id int64
	switch v := raw.(type) {
	case float64:
		if v != float64(int64(v)) {
			return nil, fmt.Errorf("%s must be an integer", key)
		}
		id = int64(v)
	case int:
		id = int64(v)
	case int64:
		id = v
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return nil, fmt.Errorf("%s must be an integer", key)
		}
		id = n
	default:
		return nil, fmt.Errorf("%s must be a number", key)
	}
	if id <= 0 {
		return nil, fmt.Errorf("%s must be positive", key)
	}
	return &id, nil
}

// describe prefixes an error with the stable code an agent can branch on.
func describe(err error) string {
	code := model.ErrCodeInternalError
	var te *device.TransportError
	switch {
	case errors.As(err, &te) && te.Rejected():
		code = model.ErrCodeDeviceRejected
	case errors.Is(err, model.ErrNotRegistered):
		code = model.ErrCodeDeviceNotRegistered
	case errors.Is(err, model.ErrBusy):
		code = model.ErrCodeDeviceBusy
	case errors.Is(err, model.ErrTransport):
		code = model.ErrCodeDeviceUnreachable
	case errors.Is(err, model.ErrInvalidCommand):
		code = model.ErrCodeInvalidCommand
	case errors.Is(err, model.ErrNotFound):
		code = model.ErrCodeNotFound
	case errors.Is(err, model.ErrInvalidState), errors.Is(err, model.ErrConflict):
		code = model.ErrCodeConflict
	}
	return code + ": " + err.Error()
}

func jsonResult(v any) *mcplib.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(fmt.Sprintf("failed to encode result: %v", err))
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
