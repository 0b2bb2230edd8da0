package webhook

import (
	"net/http"

	"dialgate/internal/telephony"

	"github.com/gin-gonic/gin"
)

// Handlers exposes the provider callback endpoints. Once the form parses the
// answer is always 200: reconciliation outcomes (unmatched, duplicate, stale)
// are not the provider's problem, and a non-2xx only triggers redelivery.
type Handlers struct {
	rec *Reconciler
}

func NewHandlers(rec *Reconciler) *Handlers {
	return &Handlers{rec: rec}
}

func (h *Handlers) Register(r gin.IRoutes) {
	r.POST("/webhooks/twilio/status", h.Status)
	r.POST("/webhooks/twilio/recording", h.Recording)
	r.POST("/webhooks/twilio/transcription", h.Transcription)
}

func (h *Handlers) Status(c *gin.Context) {
	form, err := telephony.ParseStatusCallback(c.Request)
	if err != nil {
		c.String(http.StatusBadRequest, "bad form")
		return
	}
	h.rec.ApplyStatusEvent(c.Request.Context(), c.Query("call_id"), form)
	c.String(http.StatusOK, "ok")
}

func (h *Handlers) Recording(c *gin.Context) {
	form, err := telephony.ParseRecordingCallback(c.Request)
	if err != nil {
		c.String(http.StatusBadRequest, "bad form")
		return
	}
	h.rec.ApplyRecordingEvent(c.Request.Context(), c.Query("call_id"), form)
	c.String(http.StatusOK, "ok")
}

func (h *Handlers) Transcription(c *gin.Context) {
	form, err := telephony.ParseTranscriptionCallback(c.Request)
	if err != nil {
		c.String(http.StatusBadRequest, "bad form")
		return
	}
	h.rec.ApplyTranscriptionEvent(c.Request.Context(), c.Query("call_id"), form)
	c.String(http.StatusOK, "ok")
}
