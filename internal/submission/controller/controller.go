package controller

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"techfolks/internal/common/http/middleware"
	"techfolks/internal/judge/model"
	"techfolks/internal/notify"
	"techfolks/internal/submission/service"
	appErr "techfolks/pkg/errors"
	"techfolks/pkg/utils/logger"
	"techfolks/pkg/utils/response"
)

// SubmissionController exposes the submission HTTP API.
type SubmissionController struct {
	svc        *service.SubmissionService
	subscriber notify.Subscriber
	upgrader   websocket.Upgrader
}

func NewSubmissionController(svc *service.SubmissionService, subscriber notify.Subscriber) *SubmissionController {
	return &SubmissionController{
		svc:        svc,
		subscriber: subscriber,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Auth happens via the bearer token; cross-origin browser
			// clients are expected.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// RegisterRoutes mounts the submission API under the given group.
func (ctl *SubmissionController) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/submissions", ctl.Submit)
	rg.GET("/submissions", ctl.List)
	rg.GET("/submissions/:id", ctl.Get)
	rg.GET("/submissions/:id/status", ctl.GetStatus)
	rg.GET("/submissions/:id/events", ctl.Events)
}

type submitRequest struct {
	ProblemID  int64  `json:"problem_id" binding:"required"`
	Language   string `json:"language" binding:"required"`
	SourceCode string `json:"source_code" binding:"required"`
}

func (ctl *SubmissionController) Submit(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.ErrorWithCode(c, appErr.Unauthorized, "")
		return
	}

	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}

	sub, err := ctl.svc.Submit(c.Request.Context(), service.SubmitRequest{
		UserID:     userID,
		ProblemID:  req.ProblemID,
		Language:   req.Language,
		SourceCode: req.SourceCode,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, gin.H{
		"submission_id": sub.SubmissionID,
		"status":        sub.Status,
	})
}

func (ctl *SubmissionController) Get(c *gin.Context) {
	sub, err := ctl.svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	// Source code stays private to its author.
	if userID, ok := middleware.UserID(c); !ok || userID != sub.UserID {
		sub.SourceCode = ""
	}
	response.Success(c, sub)
}

func (ctl *SubmissionController) GetStatus(c *gin.Context) {
	view, err := ctl.svc.GetStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, view)
}

func (ctl *SubmissionController) List(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		response.ErrorWithCode(c, appErr.Unauthorized, "")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	subs, err := ctl.svc.List(c.Request.Context(), userID, limit, offset)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"submissions": subs})
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

func statusEvent(view *model.StatusView) notify.Event {
	return notify.Event{
		SubmissionID:      view.SubmissionID,
		Status:            view.Status,
		Verdict:           view.Verdict,
		Score:             view.Score,
		LastTestCaseIndex: view.LastTestCaseIndex,
		At:                view.UpdatedAt,
	}
}

// Events streams judging events for one submission over a WebSocket. The
// stream is best-effort; clients reconcile with GET /submissions/:id
// after a terminal event or a dropped connection.
func (ctl *SubmissionController) Events(c *gin.Context) {
	submissionID := c.Param("id")
	if _, err := ctl.svc.GetStatus(c.Request.Context(), submissionID); err != nil {
		response.Error(c, err)
		return
	}

	conn, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warn(c.Request.Context(), "websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	events, unsubscribe, err := ctl.subscriber.Subscribe(ctx, notify.SubmissionChannel(submissionID))
	if err != nil {
		logger.Error(ctx, "subscribe submission events failed", zap.Error(err))
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"),
			time.Now().Add(wsWriteTimeout))
		return
	}
	defer unsubscribe()

	// Snapshot the current state after subscribing so a transition in the
	// window between the status check and the subscription is not lost. A
	// submission that is already terminal closes the stream right away.
	view, err := ctl.svc.GetStatus(ctx, submissionID)
	if err == nil {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(statusEvent(view)); err != nil {
			return
		}
		if view.Status.Terminal() {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(view.Status)),
				time.Now().Add(wsWriteTimeout))
			return
		}
	}

	// Drain client frames so close/ping handling works; their content is
	// ignored.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
			if ev.Status.Terminal() {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(ev.Status)),
					time.Now().Add(wsWriteTimeout))
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
