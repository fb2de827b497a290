package controller

import (
	"github.com/gin-gonic/gin"

	"techfolks/internal/judge/model"
	"techfolks/internal/judge/repository"
	"techfolks/pkg/utils/response"
)

// JudgeController is the worker's small HTTP surface: a liveness probe
// and a status passthrough for inspecting one submission without going
// through the public API.
type JudgeController struct {
	store       repository.ResultStore
	statusCache *repository.StatusCache
}

func NewJudgeController(store repository.ResultStore, statusCache *repository.StatusCache) *JudgeController {
	return &JudgeController{store: store, statusCache: statusCache}
}

func (ctl *JudgeController) RegisterRoutes(r gin.IRouter) {
	r.GET("/healthz", ctl.Health)
	r.GET("/api/v1/judge/submissions/:id", ctl.GetStatus)
}

func (ctl *JudgeController) Health(c *gin.Context) {
	response.Success(c, gin.H{"status": "ok"})
}

// GetStatus reads the status cache first and falls back to the store,
// the same order the public API uses.
func (ctl *JudgeController) GetStatus(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	if ctl.statusCache != nil {
		if view, err := ctl.statusCache.Get(ctx, id); err == nil && view != nil {
			response.Success(c, view)
			return
		}
	}

	sub, err := ctl.store.GetSubmission(ctx, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	view := &model.StatusView{
		SubmissionID: sub.SubmissionID,
		Status:       sub.Status,
		Verdict:      sub.Verdict,
		Score:        sub.Score,
		TimeUsedMs:   sub.TimeUsedMs,
		MemoryUsedKb: sub.MemoryUsedKb,
	}
	if n := len(sub.Results); n > 0 {
		view.LastTestCaseIndex = sub.Results[n-1].Index
	}
	response.Success(c, view)
}
