package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/studyforge/studyforge/internal/common"
	"github.com/studyforge/studyforge/internal/generation"
)

func jobKind(c *gin.Context) (generation.Kind, bool) {
	kind := generation.Kind(c.Param("kind"))
	if !kind.Valid() {
		common.Fail(c, http.StatusBadRequest, 10010, "unknown job kind")
		return "", false
	}
	return kind, true
}

type submitJobReq struct {
	// Content is the raw source material (transcript, textbook text).
	Content string `json:"content"`
	// Prompt is the inline prompt for document jobs.
	Prompt string          `json:"prompt"`
	Params json.RawMessage `json:"params"`
}

// SubmitJob creates a pending job and returns its id immediately; the
// generation runs detached and is observed via polling.
func (h *Handler) SubmitJob(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	kind, okk := jobKind(c)
	if !okk {
		return
	}

	var req submitJobReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.Fail(c, http.StatusBadRequest, 10001, "invalid json")
		return
	}

	in := generation.SubmitInput{
		Kind:       kind,
		UserID:     uid,
		RawContent: []byte(req.Content),
		PromptText: req.Prompt,
	}
	if len(req.Params) > 0 {
		in.Params = req.Params
	}

	jobID, err := h.GenSvc.Submit(c.Request.Context(), in)
	if err != nil {
		if errors.Is(err, generation.ErrValidation) {
			common.Fail(c, http.StatusBadRequest, 10011, err.Error())
			return
		}
		log.Error().Err(err).Str("kind", string(kind)).Uint64("user_id", uid).Msg("submit failed")
		common.Fail(c, http.StatusInternalServerError, 50001, "failed to create job")
		return
	}

	common.OK(c, gin.H{"job_id": jobID})
}

type jobStatusResp struct {
	ID            string            `json:"id"`
	Status        generation.Status `json:"status"`
	OutputKey     *string           `json:"output_key,omitempty"`
	Error         *string           `json:"error,omitempty"`
	CreatedAt     int64             `json:"created_at"`
	RegeneratedAt *int64            `json:"regenerated_at,omitempty"`
}

// GetJob is the polling endpoint: read-only, owner-scoped, served
// through a short-TTL cache so 5s polling stays cheap.
func (h *Handler) GetJob(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	kind, okk := jobKind(c)
	if !okk {
		return
	}
	jobID := c.Param("job_id")
	if jobID == "" {
		common.Fail(c, http.StatusBadRequest, 10002, "job_id required")
		return
	}

	if h.Cache != nil {
		if cached, err := h.Cache.GetStatus(c.Request.Context(), string(kind), jobID, uid); err == nil {
			common.OK(c, json.RawMessage(cached))
			return
		} else if err != redis.Nil {
			log.Warn().Err(err).Msg("status cache read failed")
		}
	}

	core, err := h.GenSvc.Status(c.Request.Context(), kind, jobID, uid)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// foreign jobs look identical to missing ones
			common.Fail(c, http.StatusNotFound, 40402, "job not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	resp := jobStatusResp{
		ID:        core.ID,
		Status:    core.Status,
		OutputKey: core.OutputKey,
		Error:     core.Error,
		CreatedAt: core.CreatedAt.Unix(),
	}
	if core.RegeneratedAt != nil {
		ts := core.RegeneratedAt.Unix()
		resp.RegeneratedAt = &ts
	}

	if h.Cache != nil {
		if payload, err := json.Marshal(resp); err == nil {
			if err := h.Cache.SetStatus(c.Request.Context(), string(kind), jobID, uid, payload); err != nil {
				log.Warn().Err(err).Msg("status cache write failed")
			}
		}
	}

	common.OK(c, resp)
}

type regenerateReq struct {
	Params json.RawMessage `json:"params"`
}

// RegenerateJob re-enters the state machine at pending, reusing the
// same job id and output key. Refused while an attempt is in flight.
func (h *Handler) RegenerateJob(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	kind, okk := jobKind(c)
	if !okk {
		return
	}
	jobID := c.Param("job_id")

	var req regenerateReq
	_ = c.ShouldBindJSON(&req) // empty body keeps the old params

	var params any
	if len(req.Params) > 0 {
		params = req.Params
	}

	err := h.GenSvc.Regenerate(c.Request.Context(), kind, jobID, uid, params)
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			common.Fail(c, http.StatusNotFound, 40402, "job not found")
		case errors.Is(err, generation.ErrJobBusy):
			common.Fail(c, http.StatusConflict, 40901, "job is still being processed")
		default:
			log.Error().Err(err).Str("job_id", jobID).Msg("regenerate failed")
			common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		}
		return
	}

	if h.Cache != nil {
		_ = h.Cache.DropStatus(c.Request.Context(), string(kind), jobID, uid)
	}
	common.OK(c, gin.H{"job_id": jobID})
}

// DownloadJob streams the generated artifact of a completed job.
func (h *Handler) DownloadJob(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	kind, okk := jobKind(c)
	if !okk {
		return
	}
	jobID := c.Param("job_id")

	rc, err := h.GenSvc.Download(c.Request.Context(), kind, jobID, uid)
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			common.Fail(c, http.StatusNotFound, 40402, "job not found")
		case errors.Is(err, generation.ErrNotReady):
			common.Fail(c, http.StatusConflict, 40902, "output not ready")
		default:
			common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		}
		return
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50003, "failed to read output")
		return
	}
	c.Data(http.StatusOK, "text/markdown; charset=utf-8", data)
}

// DeleteJob removes the job row; blob cleanup is fire-and-forget.
func (h *Handler) DeleteJob(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}
	kind, okk := jobKind(c)
	if !okk {
		return
	}
	jobID := c.Param("job_id")

	if err := h.GenSvc.Delete(c.Request.Context(), kind, jobID, uid); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			common.Fail(c, http.StatusNotFound, 40402, "job not found")
			return
		}
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}

	if h.Cache != nil {
		_ = h.Cache.DropStatus(c.Request.Context(), string(kind), jobID, uid)
	}
	common.OK(c, gin.H{"deleted": jobID})
}

// ListActivities returns the caller's token usage ledger.
func (h *Handler) ListActivities(c *gin.Context) {
	uid, okk := userIDFromContext(c)
	if !okk {
		common.Fail(c, http.StatusUnauthorized, 40101, "unauthorized")
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	acts, err := h.GenSvc.Activities(c.Request.Context(), uid, limit)
	if err != nil {
		common.Fail(c, http.StatusInternalServerError, 50001, "internal error")
		return
	}
	common.OK(c, gin.H{"activities": acts})
}
