package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/pesio-ai/be-asset-custody/internal/domain"
	"github.com/pesio-ai/be-asset-custody/internal/platform/auth"
	"github.com/pesio-ai/be-asset-custody/internal/platform/errors"
	"github.com/pesio-ai/be-asset-custody/internal/platform/logger"
	"github.com/pesio-ai/be-asset-custody/internal/service"
)

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	approvals *service.ApprovalService
	transfers *service.TransferService
	requests  *service.RequestService
	log       *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(approvals *service.ApprovalService, transfers *service.TransferService, requests *service.RequestService, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		approvals: approvals,
		transfers: transfers,
		requests:  requests,
		log:       log.With("http"),
	}
}

// Register mounts the API routes on mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/approvals/approve", h.Approve)
	mux.HandleFunc("/api/v1/approvals/reject", h.Reject)
	mux.HandleFunc("/api/v1/approvals/external-approve", h.ExternalApprove)
	mux.HandleFunc("/api/v1/approvals/reset", h.Reset)
	mux.HandleFunc("/api/v1/approvals/get", h.GetApproval)
	mux.HandleFunc("/api/v1/approvals/history", h.History)

	mux.HandleFunc("/api/v1/transfers", h.CreateTransfer)
	mux.HandleFunc("/api/v1/transfers/save", h.SaveTransfer)
	mux.HandleFunc("/api/v1/transfers/get", h.GetTransfer)

	mux.HandleFunc("/api/v1/requests", h.CreateRequest)
	mux.HandleFunc("/api/v1/requests/get", h.GetRequest)
}

type approvalActionBody struct {
	ID            string  `json:"id"`
	Notes         *string `json:"notes,omitempty"`
	ExternalName  string  `json:"external_name,omitempty"`
	ExternalTitle string  `json:"external_title,omitempty"`
}

// Approve handles approve step HTTP requests
func (h *HTTPHandler) Approve(w http.ResponseWriter, r *http.Request) {
	caller, body, ok := h.approvalAction(w, r)
	if !ok {
		return
	}
	snap, err := h.approvals.Approve(r.Context(), body.ID, caller, body.Notes)
	h.respond(w, r, http.StatusOK, snap, err)
}

// Reject handles reject step HTTP requests
func (h *HTTPHandler) Reject(w http.ResponseWriter, r *http.Request) {
	caller, body, ok := h.approvalAction(w, r)
	if !ok {
		return
	}
	snap, err := h.approvals.Reject(r.Context(), body.ID, caller, body.Notes)
	h.respond(w, r, http.StatusOK, snap, err)
}

// ExternalApprove handles external approval HTTP requests
func (h *HTTPHandler) ExternalApprove(w http.ResponseWriter, r *http.Request) {
	caller, body, ok := h.approvalAction(w, r)
	if !ok {
		return
	}
	snap, err := h.approvals.ExternalApprove(r.Context(), body.ID, caller, body.ExternalName, body.ExternalTitle, body.Notes)
	h.respond(w, r, http.StatusOK, snap, err)
}

// Reset handles approval reset HTTP requests
func (h *HTTPHandler) Reset(w http.ResponseWriter, r *http.Request) {
	caller, body, ok := h.approvalAction(w, r)
	if !ok {
		return
	}
	snap, err := h.approvals.Reset(r.Context(), body.ID, caller)
	h.respond(w, r, http.StatusOK, snap, err)
}

func (h *HTTPHandler) approvalAction(w http.ResponseWriter, r *http.Request) (auth.UserContext, approvalActionBody, bool) {
	var body approvalActionBody
	if !allow(w, r, http.MethodPost) {
		return auth.UserContext{}, body, false
	}
	caller, err := auth.GetUserContext(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return auth.UserContext{}, body, false
	}
	if err := decode(r, &body); err != nil {
		h.writeError(w, r, err)
		return auth.UserContext{}, body, false
	}
	return caller, body, true
}

// GetApproval handles get approval HTTP requests
func (h *HTTPHandler) GetApproval(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	snap, err := h.approvals.Get(r.Context(), r.URL.Query().Get("id"))
	h.respond(w, r, http.StatusOK, snap, err)
}

type auditView struct {
	ID             string             `json:"id"`
	ApprovableType domain.RequestKind `json:"approvable_type"`
	ApprovableID   string             `json:"approvable_id"`
	FormApprovalID *string            `json:"form_approval_id,omitempty"`
	StepID         *string            `json:"step_id,omitempty"`
	Action         domain.AuditAction `json:"action"`
	PerformedBy    string             `json:"performed_by"`
	PerformedAt    time.Time          `json:"performed_at"`
	StatusBefore   *string            `json:"status_before,omitempty"`
	StatusAfter    *string            `json:"status_after,omitempty"`
	Metadata       map[string]any     `json:"metadata,omitempty"`
}

// History handles audit history HTTP requests
func (h *HTTPHandler) History(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	ref, err := service.ParseApprovableRef(r.URL.Query().Get("type"), r.URL.Query().Get("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	entries, err := h.approvals.History(r.Context(), ref)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]auditView, len(entries))
	for i, e := range entries {
		out[i] = auditView{
			ID:             e.ID,
			ApprovableType: e.ApprovableType,
			ApprovableID:   e.ApprovableID,
			FormApprovalID: e.FormApprovalID,
			StepID:         e.StepID,
			Action:         e.Action,
			PerformedBy:    e.PerformedBy,
			PerformedAt:    e.PerformedAt,
			StatusBefore:   e.StatusBefore,
			StatusAfter:    e.StatusAfter,
			Metadata:       e.Metadata,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": out})
}

// CreateTransfer handles create transfer HTTP requests
func (h *HTTPHandler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	caller, err := auth.GetUserContext(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req service.CreateTransferRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	snap, err := h.transfers.Create(r.Context(), &req, caller)
	h.respond(w, r, http.StatusCreated, snap, err)
}

// SaveTransfer handles transfer edit HTTP requests
func (h *HTTPHandler) SaveTransfer(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPut) {
		return
	}
	caller, err := auth.GetUserContext(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req service.SaveTransferRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	snap, err := h.transfers.Save(r.Context(), &req, caller)
	h.respond(w, r, http.StatusOK, snap, err)
}

// GetTransfer handles get transfer HTTP requests
func (h *HTTPHandler) GetTransfer(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	snap, err := h.transfers.Get(r.Context(), r.URL.Query().Get("id"))
	h.respond(w, r, http.StatusOK, snap, err)
}

// CreateRequest handles create request HTTP requests
func (h *HTTPHandler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	caller, err := auth.GetUserContext(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var req service.CreateRequestRequest
	if err := decode(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	snap, err := h.requests.Create(r.Context(), &req, caller)
	h.respond(w, r, http.StatusCreated, snap, err)
}

// GetRequest handles get request HTTP requests
func (h *HTTPHandler) GetRequest(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	snap, err := h.requests.Get(r.Context(), r.URL.Query().Get("type"), r.URL.Query().Get("id"))
	h.respond(w, r, http.StatusOK, snap, err)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func allow(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: errorDetail{Code: "METHOD_NOT_ALLOWED", Message: "method not allowed"}})
	return false
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid request body")
	}
	return nil
}

func (h *HTTPHandler) respond(w http.ResponseWriter, r *http.Request, status int, v any, err error) {
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, status, v)
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.HTTPStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: errorDetail{
		Code:    string(errors.CodeOf(err)),
		Message: msg,
		Field:   errors.FieldOf(err),
	}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
