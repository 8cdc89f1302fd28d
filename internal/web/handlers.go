package web

import (
	"log/slog"
	"net/http"

	"github.com/hpungsan/cardvault/internal/logging"
	"github.com/hpungsan/cardvault/internal/ops"
	"github.com/hpungsan/cardvault/internal/rewrite"
)

// Handlers contains HTTP route handlers for the JSON API.
type Handlers struct {
	deps *ops.Deps
}

func (h *Handlers) logger() *slog.Logger { return logging.OrDiscard(h.deps.Logger) }

func (h *Handlers) fail(w http.ResponseWriter, err error) { renderError(w, h.logger(), err) }

// HandleHealth handles GET /healthz.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleIngest handles POST /cards and POST /cards/{id}/versions. The body
// is the raw card file; Content-Type and ?file_name= pick the format.
func (h *Handlers) HandleIngest(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(w, r)
	if err != nil {
		h.fail(w, err)
		return
	}

	result, err := ops.IngestCard(r.Context(), h.deps, ops.IngestInput{
		CardID:      r.PathValue("id"),
		FileName:    r.URL.Query().Get("file_name"),
		ContentType: r.Header.Get("Content-Type"),
		Data:        data,
	})
	if err != nil {
		h.fail(w, err)
		return
	}

	renderJSON(w, http.StatusCreated, result)
}

// HandleList handles GET /cards.
func (h *Handlers) HandleList(w http.ResponseWriter, r *http.Request) {
	result, err := ops.ListCards(h.deps.DB, ops.ListCardsInput{
		Limit:  parseIntParam(r, "limit", ops.DefaultListLimit),
		Offset: parseIntParam(r, "offset", 0),
	})
	if err != nil {
		h.fail(w, err)
		return
	}

	renderJSON(w, http.StatusOK, result)
}

// HandleFetch handles GET /cards/{id}.
func (h *Handlers) HandleFetch(w http.ResponseWriter, r *http.Request) {
	result, err := ops.FetchCard(h.deps.DB, ops.FetchCardInput{
		ID:             r.PathValue("id"),
		IncludeDeleted: parseBoolParam(r, "include_deleted"),
	})
	if err != nil {
		h.fail(w, err)
		return
	}

	renderJSON(w, http.StatusOK, result)
}

// HandleHistory handles GET /cards/{id}/history.
func (h *Handlers) HandleHistory(w http.ResponseWriter, r *http.Request) {
	result, err := ops.CardHistory(h.deps.DB, ops.CardHistoryInput{ID: r.PathValue("id")})
	if err != nil {
		h.fail(w, err)
		return
	}

	renderJSON(w, http.StatusOK, result)
}

// HandleDelete handles DELETE /cards/{id}.
func (h *Handlers) HandleDelete(w http.ResponseWriter, r *http.Request) {
	result, err := ops.DeleteCard(h.deps.DB, ops.DeleteCardInput{ID: r.PathValue("id")})
	if err != nil {
		h.fail(w, err)
		return
	}

	renderJSON(w, http.StatusOK, result)
}

// rulesInput maps a rules route to its scope. /rules/global is the global
// scope; /cards/{id}/rules defaults to card-display and takes ?scope=.
func rulesInput(r *http.Request) ops.RulesInput {
	cardID := r.PathValue("id")
	if cardID == "" {
		return ops.RulesInput{Scope: rewrite.ScopeGlobal}
	}
	scope := rewrite.Scope(r.URL.Query().Get("scope"))
	if scope == "" {
		scope = rewrite.ScopeCardDisplay
	}
	return ops.RulesInput{Scope: scope, CardID: cardID}
}

// HandleGetRules handles GET /rules/global and GET /cards/{id}/rules.
func (h *Handlers) HandleGetRules(w http.ResponseWriter, r *http.Request) {
	result, err := ops.GetRules(h.deps.DB, rulesInput(r))
	if err != nil {
		h.fail(w, err)
		return
	}

	renderJSON(w, http.StatusOK, result)
}

// HandleSetRules handles PUT /rules/global and PUT /cards/{id}/rules. The
// body is {"rules": [...]}.
func (h *Handlers) HandleSetRules(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Rules []rewrite.Rule `json:"rules"`
	}
	if err := decodeBody(w, r, &body); err != nil {
		h.fail(w, err)
		return
	}

	result, err := ops.SetRules(h.deps.DB, ops.SetRulesInput{
		RulesInput: rulesInput(r),
		Rules:      body.Rules,
	})
	if err != nil {
		h.fail(w, err)
		return
	}

	renderJSON(w, http.StatusOK, result)
}

// HandleAddSession handles POST /cards/{id}/sessions. The body is the raw
// transcript file.
func (h *Handlers) HandleAddSession(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(w, r)
	if err != nil {
		h.fail(w, err)
		return
	}

	result, err := ops.AddSession(r.Context(), h.deps, ops.AddSessionInput{
		CardID:   r.PathValue("id"),
		FileName: r.URL.Query().Get("file_name"),
		Data:     data,
	})
	if err != nil {
		h.fail(w, err)
		return
	}

	renderJSON(w, http.StatusCreated, result)
}

// HandleListSessions handles GET /cards/{id}/sessions.
func (h *Handlers) HandleListSessions(w http.ResponseWriter, r *http.Request) {
	result, err := ops.ListSessions(h.deps.DB, ops.ListSessionsInput{
		CardID: r.PathValue("id"),
		Limit:  parseIntParam(r, "limit", ops.DefaultListLimit),
		Offset: parseIntParam(r, "offset", 0),
	})
	if err != nil {
		h.fail(w, err)
		return
	}

	renderJSON(w, http.StatusOK, result)
}

// HandleContent handles GET /sessions/{sid}/content?page=&limit=.
func (h *Handlers) HandleContent(w http.ResponseWriter, r *http.Request) {
	result, err := ops.ReadTranscriptPage(r.Context(), h.deps, ops.PageInput{
		SessionID: r.PathValue("sid"),
		Page:      parseIntParam(r, "page", 0),
		PageSize:  parseIntParam(r, "limit", 0),
	})
	if err != nil {
		h.fail(w, err)
		return
	}

	renderJSON(w, http.StatusOK, result)
}

// HandlePresign handles GET /sessions/{sid}/url.
func (h *Handlers) HandlePresign(w http.ResponseWriter, r *http.Request) {
	result, err := ops.PresignSession(r.Context(), h.deps, r.PathValue("sid"))
	if err != nil {
		h.fail(w, err)
		return
	}

	renderJSON(w, http.StatusOK, result)
}

// HandleDeleteSession handles DELETE /sessions/{sid}.
func (h *Handlers) HandleDeleteSession(w http.ResponseWriter, r *http.Request) {
	result, err := ops.DeleteSession(r.Context(), h.deps, r.PathValue("sid"))
	if err != nil {
		h.fail(w, err)
		return
	}

	renderJSON(w, http.StatusOK, result)
}
