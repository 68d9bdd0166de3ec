package mcp

import (
	"context"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	// retrieve-product: walks the agent through a safe retrieval.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("retrieve-product",
			mcplib.WithPromptDescription("Retrieve a product from storage to the loading zone"),
			mcplib.WithArgument("product",
				mcplib.ArgumentDescription("Product id, name or identification tag"),
				mcplib.RequiredArgument(),
			),
		),
		s.handleRetrievePrompt,
	)

	// stock-product: store whatever sits in the loading zone.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("stock-product",
			mcplib.WithPromptDescription("Store the product waiting in the loading zone"),
			mcplib.WithArgument("tag",
				mcplib.ArgumentDescription("Identification tag read at the loading zone, if known"),
			),
		),
		s.handleStockPrompt,
	)

	// operator-setup: system prompt snippet for agents driving the cell.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("operator-setup",
			mcplib.WithPromptDescription("System prompt snippet explaining how to operate the storage cell"),
		),
		s.handleOperatorSetupPrompt,
	)
}

func (s *Server) handleRetrievePrompt(ctx context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	product := strings.TrimSpace(request.Params.Arguments["product"])
	if product == "" {
		return nil, fmt.Errorf("product argument is required")
	}

	return userPrompt(fmt.Sprintf("Retrieve %s to the loading zone", product),
		fmt.Sprintf(`To retrieve %s:

1. CALL warehouse_status and find the occupied cell holding this product.
   If no occupied cell holds it, stop and report that it is not in storage.

2. CHECK the loading zone. If it is occupied, the arm cannot drop the
   product there; ask the operator to clear it first.

3. CALL enqueue_task with type="RETRIEVE" and the cell_id you found.

4. If the mode is manual, CALL set_mode with mode="auto" so the scheduler
   runs the task.

5. CALL list_tasks until the task is COMPLETED or FAILED and report the outcome.`, product)), nil
}

func (s *Server) handleStockPrompt(ctx context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	tag := strings.TrimSpace(request.Params.Arguments["tag"])
	target := `product_tag set to the tag shown under loading_zone in warehouse_status`
	if tag != "" {
		target = fmt.Sprintf(`product_tag="%s"`, tag)
	}

	return userPrompt("Store the product in the loading zone",
		fmt.Sprintf(`To store the product waiting in the loading zone:

1. CALL warehouse_status. Confirm the loading zone is occupied and at least
   one cell is free.

2. CALL enqueue_task with type="STOCK" and %s.
   The device picks the target cell according to the storage strategy.

3. If the mode is manual, CALL set_mode with mode="auto".

4. CALL list_tasks until the task finishes and report which cell was filled.`, target)), nil
}

func (s *Server) handleOperatorSetupPrompt(ctx context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	return userPrompt("How to operate the warecell storage cell",
		`You operate a warehouse storage cell: a grid of storage cells served by a
robotic arm, an input conveyor with an identification reader, and a
loading zone where products enter and leave.

## Rules

- The device runs one command at a time. A second command while one is in
  flight fails with DEVICE_BUSY; wait and retry.
- Read warehouse_status before acting. It is cheap.
- Prefer enqueue_task over submit_command. Tasks are persisted, ordered by
  priority and survive your session.
- Tasks only run in auto mode. Switching to manual stops the scheduler
  before the next task; a task already running finishes.
- DEVICE_NOT_REGISTERED means the microcontroller has not checked in.
  Nothing you send will reach it.

## Tools

- warehouse_status: current state
- enqueue_task / list_tasks / cancel_task: autonomous work
- submit_command: one raw device command
- set_mode / set_strategy: settings
- recent_operations: what the device did lately`), nil
}

func userPrompt(description, text string) *mcplib.GetPromptResult {
	return &mcplib.GetPromptResult{
		Description: description,
		Messages: []mcplib.PromptMessage{
			{
				Role:    mcplib.RoleUser,
				Content: mcplib.TextContent{Type: "text", Text: text},
			},
		},
	}
}
