package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"coursemail/internal/mailer"
	"coursemail/internal/model"
	"coursemail/internal/service"
	"coursemail/pkg/logger"
	"coursemail/pkg/rbac"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxBatchSize = 500

type EmailJobHandler struct {
	emailService *service.EmailService
	logger       *zap.Logger
}

func NewEmailJobHandler(emailService *service.EmailService, logger *zap.Logger) *EmailJobHandler {
	return &EmailJobHandler{
		emailService: emailService,
		logger:       logger,
	}
}

// Enqueue handles POST /api/v1/email-jobs
func (h *EmailJobHandler) Enqueue(c *gin.Context) {
	var spec model.JobSpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	jobID, created, err := h.emailService.EnqueueIdempotent(c.Request.Context(), c.GetHeader("Idempotency-Key"), spec)
	if err != nil {
		logger.WithTrace(c.Request.Context(), h.logger).Warn("Enqueue rejected", zap.Error(err))
		writeError(c, err)
		return
	}

	status := http.StatusAccepted
	if !created {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"job_id": jobID, "status": model.JobStatusQueued})
}

// EnqueueBatch handles POST /api/v1/email-jobs/batch
func (h *EmailJobHandler) EnqueueBatch(c *gin.Context) {
	var req struct {
		Jobs []model.JobSpec `json:"jobs"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if len(req.Jobs) > maxBatchSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("at most %d jobs per batch", maxBatchSize)})
		return
	}

	ids, err := h.emailService.EnqueueBatch(c.Request.Context(), req.Jobs)
	if err != nil {
		logger.WithTrace(c.Request.Context(), h.logger).Warn("Batch enqueue rejected", zap.Error(err))
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_ids": ids, "count": len(ids)})
}

// EnqueueTemplated handles POST /api/v1/email-jobs/templated
func (h *EmailJobHandler) EnqueueTemplated(c *gin.Context) {
	var req struct {
		Type      model.EmailType   `json:"type"`
		Recipient service.Recipient `json:"recipient"`
		Data      json.RawMessage   `json:"data"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	ctx := c.Request.Context()
	var (
		jobID string
		err   error
	)
	switch req.Type {
	case model.EmailTypeVerification, model.EmailTypeVerificationResend:
		var data mailer.VerificationData
		if err = decodeData(req.Data, &data); err == nil {
			jobID, err = h.emailService.SendVerification(ctx, req.Recipient, data, req.Type == model.EmailTypeVerificationResend)
		}
	case model.EmailTypePasswordReset:
		var data mailer.PasswordResetData
		if err = decodeData(req.Data, &data); err == nil {
			jobID, err = h.emailService.SendPasswordReset(ctx, req.Recipient, data)
		}
	case model.EmailTypePaymentNotification:
		var data mailer.PaymentData
		if err = decodeData(req.Data, &data); err == nil {
			jobID, err = h.emailService.SendPaymentNotification(ctx, req.Recipient, data)
		}
	case model.EmailTypeEnrollmentConfirmation:
		var data mailer.EnrollmentData
		if err = decodeData(req.Data, &data); err == nil {
			jobID, err = h.emailService.SendEnrollmentConfirmation(ctx, req.Recipient, data)
		}
	default:
		err = &model.ValidationError{Field: "type", Message: "no template for email type " + string(req.Type)}
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"job_id": jobID, "status": model.JobStatusQueued})
}

func decodeData(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &model.ValidationError{Field: "data", Message: err.Error()}
	}
	return nil
}

// GetJob handles GET /api/v1/email-jobs/:id
func (h *EmailJobHandler) GetJob(c *gin.Context) {
	job, err := h.emailService.GetJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	// Plain users only see their own jobs.
	if err := rbac.ValidateUserID(roleFrom(c), userIDFrom(c), job.UserID); err != nil {
		writeError(c, model.ErrJobNotFound)
		return
	}
	c.JSON(http.StatusOK, job)
}

// RetryFailed handles POST /api/v1/admin/email-jobs/:id/retry
func (h *EmailJobHandler) RetryFailed(c *gin.Context) {
	job, err := h.emailService.RetryFailed(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}
