package httpapi

import (
	"errors"
	"net/http"
	"time"

	"dialgate/internal/auth"
	"dialgate/internal/calls"
	"dialgate/internal/dispatch"
	"dialgate/internal/quota"
	"dialgate/internal/reporting"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.
type Handlers struct {
	Auth     *auth.Manager
	Dispatch *dispatch.Service
	Reports  *reporting.Service
	Repo     calls.Repository
}

// writeError maps the internal error taxonomy onto HTTP status codes. Every
// non-2xx body is {"error": ...} plus taxonomy-specific detail.
func writeError(c *gin.Context, err error) {
	var verr *calls.ValidationError
	if errors.As(err, &verr) {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "field": verr.Field})
		return
	}
	var qerr *quota.ExceededError
	if errors.As(err, &qerr) {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":  qerr.Error(),
			"usage":  qerr.Usage,
			"limits": qerr.Limits,
		})
		return
	}
	switch {
	case errors.Is(err, calls.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "call not found"})
	case errors.Is(err, calls.ErrInvalidState):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "call is not cancellable in its current state"})
	case errors.Is(err, reporting.ErrInvalidRequest):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// --- Calls ---

type createCallRequest struct {
	PhoneNumber  string `json:"phone_number"`
	Message      string `json:"message"`
	Voice        string `json:"voice,omitempty"`
	ScheduledFor string `json:"scheduled_for,omitempty"` // RFC 3339
}

func (r createCallRequest) toCreate(accountID, apiKeyID string) (dispatch.CreateRequest, error) {
	out := dispatch.CreateRequest{
		AccountID: accountID,
		APIKeyID:  apiKeyID,
		ToNumber:  r.PhoneNumber,
		Message:   r.Message,
		Voice:     r.Voice,
	}
	if r.ScheduledFor != "" {
		at, err := time.Parse(time.RFC3339, r.ScheduledFor)
		if err != nil {
			return dispatch.CreateRequest{}, calls.NewValidationError("scheduled_for", "must be RFC 3339")
		}
		out.ScheduledFor = &at
	}
	return out, nil
}

// CreateCall accepts a call for processing. 202: the call exists and will be
// dispatched; its outcome is observed via GET /v1/calls/:id.
func (h Handlers) CreateCall(c *gin.Context) {
	accountID, err := auth.AccountID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "account required"})
		return
	}
	apiKeyID, _ := auth.APIKeyID(c.Request.Context())

	var req createCallRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	cr, err := req.toCreate(accountID, apiKeyID)
	if err != nil {
		writeError(c, err)
		return
	}

	created, err := h.Dispatch.CreateCall(c.Request.Context(), cr)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"call_id": created.ID, "status": created.Status})
}

// GetCall returns the call and, when present, its recording.
func (h Handlers) GetCall(c *gin.Context) {
	accountID, err := auth.AccountID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "account required"})
		return
	}

	call, err := h.Repo.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	if call.AccountID != accountID {
		writeError(c, calls.ErrNotFound)
		return
	}

	body := gin.H{"call": call}
	if rec, found, err := h.Repo.RecordingByCall(c.Request.Context(), call.ID); err == nil && found {
		body["recording"] = rec
	}
	c.JSON(http.StatusOK, body)
}

func (h Handlers) CancelCall(c *gin.Context) {
	accountID, err := auth.AccountID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "account required"})
		return
	}

	cancelled, err := h.Dispatch.Cancel(c.Request.Context(), accountID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"call_id": cancelled.ID, "status": cancelled.Status})
}

// --- Batch ---

type batchRequest struct {
	Calls []createCallRequest `json:"calls"`
}

func (h Handlers) CreateBatch(c *gin.Context) {
	accountID, err := auth.AccountID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "account required"})
		return
	}
	apiKeyID, _ := auth.APIKeyID(c.Request.Context())

	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	reqs := make([]dispatch.CreateRequest, 0, len(req.Calls))
	for _, item := range req.Calls {
		cr, err := item.toCreate(accountID, apiKeyID)
		if err != nil {
			writeError(c, err)
			return
		}
		reqs = append(reqs, cr)
	}

	res, err := h.Dispatch.DispatchBatch(c.Request.Context(), reqs)
	if err != nil {
		writeError(c, err)
		return
	}

	items := make([]gin.H, 0, len(res.Calls))
	for _, call := range res.Calls {
		items = append(items, gin.H{"call_id": call.ID, "to": call.ToNumber, "status": call.Status})
	}
	c.JSON(http.StatusAccepted, gin.H{"batch_id": res.BatchID, "calls": items})
}

func (h Handlers) BatchStatus(c *gin.Context) {
	accountID, err := auth.AccountID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "account required"})
		return
	}

	status, err := h.Reports.BatchStatus(c.Request.Context(), accountID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// --- Reports ---

// CallsReport aggregates the account's calls over ?from/?to (RFC 3339,
// default: last 24h).
func (h Handlers) CallsReport(c *gin.Context) {
	accountID, err := auth.AccountID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "account required"})
		return
	}

	now := time.Now().UTC()
	r := reporting.TimeRange{From: now.Add(-24 * time.Hour), To: now}
	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "from must be RFC 3339"})
			return
		}
		r.From = t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "to must be RFC 3339"})
			return
		}
		r.To = t
	}

	summary, err := h.Reports.CallsSummary(c.Request.Context(), accountID, r)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// --- Keys ---

type issueKeyRequest struct {
	AccountID string   `json:"account_id"`
	Scopes    []string `json:"scopes,omitempty"`
}

// IssueKey mints an API key.
//
// NOTE: This is a skeleton-only endpoint for local development. Real systems
// must gate key issuance behind an operator identity.
func (h Handlers) IssueKey(c *gin.Context) {
	var req issueKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.AccountID == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "account_id required"})
		return
	}
	token, apiKeyID, err := h.Auth.IssueKey(time.Now(), req.AccountID, req.Scopes)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "key issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"api_key": token, "api_key_id": apiKeyID})
}
