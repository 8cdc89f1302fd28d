package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"path/filepath"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hpungsan/cardvault/internal/errors"
	"github.com/hpungsan/cardvault/internal/ops"
	"github.com/hpungsan/cardvault/internal/rewrite"
)

// Handlers holds dependencies for MCP tool handlers.
type Handlers struct {
	deps *ops.Deps
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(deps *ops.Deps) *Handlers {
	return &Handlers{deps: deps}
}

// Request types for each tool

// IngestRequest represents the arguments for card_ingest.
type IngestRequest struct {
	DataBase64  string `json:"data_base64,omitempty"`
	Path        string `json:"path,omitempty"`
	FileName    string `json:"file_name,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	CardID      string `json:"card_id,omitempty"`
}

// IDRequest represents the arguments for tools addressing one card.
type IDRequest struct {
	ID             string `json:"id"`
	IncludeDeleted bool   `json:"include_deleted,omitempty"`
}

// ListRequest represents the arguments for the listing tools.
type ListRequest struct {
	CardID string `json:"card_id,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// RulesRequest represents the arguments for rules_get and rules_set.
type RulesRequest struct {
	Scope  rewrite.Scope  `json:"scope,omitempty"`
	CardID string         `json:"card_id,omitempty"`
	Rules  []rewrite.Rule `json:"rules,omitempty"`
}

// SessionAddRequest represents the arguments for session_add.
type SessionAddRequest struct {
	CardID     string `json:"card_id"`
	FileName   string `json:"file_name,omitempty"`
	DataBase64 string `json:"data_base64,omitempty"`
	Path       string `json:"path,omitempty"`
}

// PageRequest represents the arguments for transcript_page.
type PageRequest struct {
	SessionID string `json:"session_id"`
	Page      int    `json:"page,omitempty"`
	PageSize  int    `json:"page_size,omitempty"`
}

// ParseRequest represents the arguments for transcript_parse.
type ParseRequest struct {
	Text     string `json:"text"`
	FileName string `json:"file_name,omitempty"`
	CardID   string `json:"card_id,omitempty"`
	Page     int    `json:"page,omitempty"`
	PageSize int    `json:"page_size,omitempty"`
}

// payload resolves inline base64 data or a local path into bytes.
func payload(dataBase64, path string) ([]byte, error) {
	dataBase64 = strings.TrimSpace(dataBase64)
	switch {
	case dataBase64 != "" && path != "":
		return nil, errors.NewInvalidRequest("pass either data_base64 or path, not both")
	case dataBase64 != "":
		data, err := base64.StdEncoding.DecodeString(dataBase64)
		if err != nil {
			return nil, errors.NewInvalidRequest("data_base64 is not valid base64")
		}
		return data, nil
	case path != "":
		return ops.ReadUploadFile(path)
	default:
		return nil, errors.NewInvalidRequest("data_base64 or path is required")
	}
}

// HandleIngest handles the card_ingest tool call.
func (h *Handlers) HandleIngest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IngestRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	data, err := payload(input.DataBase64, input.Path)
	if err != nil {
		return errorResult(err), nil
	}
	fileName := input.FileName
	if fileName == "" && input.Path != "" {
		fileName = filepath.Base(input.Path)
	}

	result, err := ops.IngestCard(ctx, h.deps, ops.IngestInput{
		CardID:      input.CardID,
		FileName:    fileName,
		ContentType: input.ContentType,
		Data:        data,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleFetch handles the card_fetch tool call.
func (h *Handlers) HandleFetch(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.FetchCard(h.deps.DB, ops.FetchCardInput{
		ID:             input.ID,
		IncludeDeleted: input.IncludeDeleted,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleList handles the card_list tool call.
func (h *Handlers) HandleList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.ListCards(h.deps.DB, ops.ListCardsInput{Limit: input.Limit, Offset: input.Offset})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleHistory handles the card_history tool call.
func (h *Handlers) HandleHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.CardHistory(h.deps.DB, ops.CardHistoryInput{ID: input.ID})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleDelete handles the card_delete tool call.
func (h *Handlers) HandleDelete(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[IDRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.DeleteCard(h.deps.DB, ops.DeleteCardInput{ID: input.ID})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleRulesGet handles the rules_get tool call.
func (h *Handlers) HandleRulesGet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RulesRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.GetRules(h.deps.DB, ops.RulesInput{Scope: input.Scope, CardID: input.CardID})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleRulesSet handles the rules_set tool call.
func (h *Handlers) HandleRulesSet(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[RulesRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.SetRules(h.deps.DB, ops.SetRulesInput{
		RulesInput: ops.RulesInput{Scope: input.Scope, CardID: input.CardID},
		Rules:      input.Rules,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleSessionAdd handles the session_add tool call.
func (h *Handlers) HandleSessionAdd(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[SessionAddRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	data, err := payload(input.DataBase64, input.Path)
	if err != nil {
		return errorResult(err), nil
	}
	fileName := input.FileName
	if fileName == "" && input.Path != "" {
		fileName = filepath.Base(input.Path)
	}

	result, err := ops.AddSession(ctx, h.deps, ops.AddSessionInput{
		CardID:   input.CardID,
		FileName: fileName,
		Data:     data,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleSessionList handles the session_list tool call.
func (h *Handlers) HandleSessionList(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ListRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.ListSessions(h.deps.DB, ops.ListSessionsInput{
		CardID: input.CardID,
		Limit:  input.Limit,
		Offset: input.Offset,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandlePage handles the transcript_page tool call.
func (h *Handlers) HandlePage(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[PageRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.ReadTranscriptPage(ctx, h.deps, ops.PageInput{
		SessionID: input.SessionID,
		Page:      input.Page,
		PageSize:  input.PageSize,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// HandleParse handles the transcript_parse tool call.
func (h *Handlers) HandleParse(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	input, err := decode[ParseRequest](req)
	if err != nil {
		return errorResult(errors.NewInvalidRequest(err.Error())), nil
	}

	result, err := ops.ParseTranscript(ctx, h.deps, ops.ParseInput{
		Text:     input.Text,
		FileName: input.FileName,
		CardID:   input.CardID,
		Page:     input.Page,
		PageSize: input.PageSize,
	})
	if err != nil {
		return errorResult(err), nil
	}

	return successResult(result)
}

// Result helpers

// errorResult creates an MCP error result from any error.
// Internal error details are not exposed.
func errorResult(err error) *mcp.CallToolResult {
	var payload map[string]any

	if vErr, ok := errors.As(err); ok {
		message := vErr.Message
		// Keep wrapper context such as "rules[2]: " ahead of the message.
		if prefix, found := strings.CutSuffix(err.Error(), vErr.Error()); found && prefix != "" {
			message = prefix + message
		}
		if vErr.Code == errors.ErrInternal {
			message = "an internal error occurred"
		}
		errorObj := map[string]any{
			"code":    vErr.Code,
			"message": message,
			"status":  vErr.Status,
		}
		if vErr.Stage != "" {
			errorObj["stage"] = vErr.Stage
		}
		if vErr.Code != errors.ErrInternal && vErr.Details != nil {
			errorObj["details"] = vErr.Details
		}
		payload = map[string]any{"error": errorObj}
	} else {
		payload = map[string]any{
			"error": map[string]any{
				"code":    "INTERNAL",
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
