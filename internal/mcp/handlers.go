package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/syllabus/internal/errors"
	"github.com/hpungsan/syllabus/internal/ops"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	env *ops.Env
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(env *ops.Env) *Handlers {
	return &Handlers{env: env}
}

// Request types for each tool

// ScanRequest represents the arguments for source_scan.
type ScanRequest struct {
	Root string `json:"root,omitempty"`
}

// SourceListRequest represents the arguments for source_list.
type SourceListRequest struct {
	Status         string `json:"status,omitempty"`
	IncludeMissing bool   `json:"include_missing,omitempty"`
}

// IDRequest represents the arguments for tools addressing one record.
type IDRequest struct {
	ID string `json:"id,omitempty"`
}

// SourceMarkRequest represents the arguments for source_mark.
type SourceMarkRequest struct {
	ID          string `json:"id"`
	Action      string `json:"action"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Detail      string `json:"detail,omitempty"`
	Label       string `json:"label,omitempty"`
}

// ProcessRequest represents the arguments for source_process.
type ProcessRequest struct {
	IDs   []string `json:"ids,omitempty"`
	Retry bool     `json:"retry,omitempty"`
}

// RegisterRequest represents the arguments for artifact_register.
type RegisterRequest struct {
	Kind     string   `json:"kind"`
	Owners   []string `json:"owners,omitempty"`
	Inputs   []string `json:"inputs,omitempty"`
	Subject  string   `json:"subject,omitempty"`
	Location string   `json:"location,omitempty"`
}

// ArtifactListRequest represents the arguments for artifact_list.
type ArtifactListRequest struct {
	Kind      string `json:"kind,omitempty"`
	SourceID  string `json:"source_id,omitempty"`
	Subject   string `json:"subject,omitempty"`
	StaleOnly bool   `json:"stale_only,omitempty"`
}

// InvalidateRequest represents the arguments for artifact_invalidate.
type InvalidateRequest struct {
	ID     string `json:"id"`
	Reason string `json:"reason,omitempty"`
}

// InventoryImportRequest represents the arguments for inventory_import.
type InventoryImportRequest struct {
	Path  string `json:"path,omitempty"`
	YAML  string `json:"yaml,omitempty"`
	Prune bool   `json:"prune,omitempty"`
}

// WindowRequest represents the arguments for plan_analyze and plan_create.
type WindowRequest struct {
	Start           string `json:"start,omitempty"`
	End             string `json:"end"`
	CapacityMinutes int    `json:"capacity_minutes,omitempty"`
	Strategy        string `json:"strategy,omitempty"`
}

// HistoryRequest represents the arguments for plan_history.
type HistoryRequest struct {
	Limit int `json:"limit,omitempty"`
}

// ExportRequest represents the arguments for plan_export.
type ExportRequest struct {
	ID     string `json:"id,omitempty"`
	Format string `json:"format,omitempty"`
	Path   string `json:"path,omitempty"`
}

// Handler implementations

// HandleSourceScan handles the source_scan tool call.
func (h *Handlers) HandleSourceScan(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ScanRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.env.Scan(ctx, ops.ScanInput{Root: input.Root})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleSourceList handles the source_list tool call.
func (h *Handlers) HandleSourceList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SourceListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.env.ListSources(ctx, ops.ListSourcesInput{
		Status:         input.Status,
		IncludeMissing: input.IncludeMissing,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleSourceGet handles the source_get tool call.
func (h *Handlers) HandleSourceGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.env.GetSource(ctx, input.ID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleSourceMark handles the source_mark tool call.
func (h *Handlers) HandleSourceMark(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SourceMarkRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	var result any
	switch input.Action {
	case "processed":
		result, err = h.env.MarkProcessed(ctx, ops.MarkProcessedInput{ID: input.ID, Fingerprint: input.Fingerprint})
	case "failed":
		result, err = h.env.MarkFailed(ctx, ops.MarkFailedInput{ID: input.ID, Detail: input.Detail})
	case "classify":
		result, err = h.env.Classify(ctx, ops.ClassifyInput{ID: input.ID, Label: input.Label})
	default:
		err = errors.NewInvalidRequest("action must be processed, failed or classify")
	}
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleSourceProcess handles the source_process tool call.
func (h *Handlers) HandleSourceProcess(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ProcessRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.env.Process(ctx, ops.ProcessInput{IDs: input.IDs, Retry: input.Retry})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleArtifactRegister handles the artifact_register tool call.
func (h *Handlers) HandleArtifactRegister(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RegisterRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.env.RegisterArtifact(ctx, ops.RegisterArtifactInput{
		Kind:     input.Kind,
		Owners:   input.Owners,
		Inputs:   input.Inputs,
		Subject:  input.Subject,
		Location: input.Location,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleArtifactList handles the artifact_list tool call.
func (h *Handlers) HandleArtifactList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ArtifactListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.env.ListArtifacts(ctx, ops.ListArtifactsInput{
		Kind:      input.Kind,
		SourceID:  input.SourceID,
		Subject:   input.Subject,
		StaleOnly: input.StaleOnly,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleArtifactInvalidate handles the artifact_invalidate tool call.
func (h *Handlers) HandleArtifactInvalidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[InvalidateRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.env.InvalidateFor(ctx, ops.InvalidateInput{ID: input.ID, Reason: input.Reason})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleInventoryImport handles the inventory_import tool call.
func (h *Handlers) HandleInventoryImport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[InventoryImportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	in := ops.ImportInventoryInput{Path: input.Path, Prune: input.Prune}
	if input.YAML != "" {
		in.Data = []byte(input.YAML)
	}
	result, err := h.env.ImportInventory(ctx, in)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandleInventoryShow handles the inventory_show tool call.
func (h *Handlers) HandleInventoryShow(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	result, err := h.env.ShowInventory(ctx)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandlePlanAnalyze handles the plan_analyze tool call.
func (h *Handlers) HandlePlanAnalyze(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[WindowRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.env.Analyze(ctx, input.window())
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandlePlanCreate handles the plan_create tool call.
func (h *Handlers) HandlePlanCreate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[WindowRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.env.CreatePlan(ctx, ops.CreatePlanInput{
		PlanWindow: input.window(),
		Strategy:   input.Strategy,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandlePlanFetch handles the plan_fetch tool call.
func (h *Handlers) HandlePlanFetch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.env.FetchPlan(ctx, input.ID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandlePlanVerify handles the plan_verify tool call.
func (h *Handlers) HandlePlanVerify(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.env.VerifyPlan(ctx, input.ID)
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandlePlanHistory handles the plan_history tool call.
func (h *Handlers) HandlePlanHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[HistoryRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.env.History(ctx, ops.HistoryInput{Limit: input.Limit})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

// HandlePlanExport handles the plan_export tool call.
func (h *Handlers) HandlePlanExport(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ExportRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := h.env.ExportPlan(ctx, ops.ExportPlanInput{
		ID:     input.ID,
		Format: input.Format,
		Path:   input.Path,
	})
	if err != nil {
		return errorResult(err), nil
	}
	return successResult(result)
}

func (r WindowRequest) window() ops.PlanWindow {
	return ops.PlanWindow{Start: r.Start, End: r.End, CapacityMinutes: r.CapacityMinutes}
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Uses IsError: true so MCP clients recognize failures properly.
// Internal error details are never exposed.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if sErr, ok := errors.As(err); ok {
		msg := sErr.Message
		if err != error(sErr) {
			// keep the wrapper's context
			msg = err.Error()
		}
		if sErr.Code == errors.ErrInternal {
			msg = "an internal error occurred"
		}
		errorObj := map[string]any{
			"code":    sErr.Code,
			"message": msg,
			"status":  sErr.Status,
		}
		if sErr.Code != errors.ErrInternal && sErr.Details != nil {
			errorObj["details"] = sErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    errors.ErrInternal,
				"message": "an internal error occurred",
				"status":  500,
			},
		}
	}

	content, _ := json.Marshal(payload)
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.TextContent{Type: "text", Text: string(content)}},
		IsError: true,
	}
}

// successResult creates an MCP success result from any data.
func successResult(data any) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultJSON(data)
}
