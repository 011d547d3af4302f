package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"SocialSync/internal/model"
	"SocialSync/internal/service"
)

// TaskHandler 搜索任务接口
type TaskHandler struct {
	tasks  *service.TaskManager
	logger *logrus.Logger
}

func NewTaskHandler(tasks *service.TaskManager, logger *logrus.Logger) *TaskHandler {
	return &TaskHandler{tasks: tasks, logger: logger}
}

type searchRequest struct {
	Platform       string `json:"platform" binding:"required"`
	Keyword        string `json:"keyword" binding:"required"`
	MaxCount       int    `json:"max_count"`
	EnableComments bool   `json:"enable_comments"`
	EnableMedia    bool   `json:"enable_media"`
}

// Search 发起搜索任务
// POST /search {"platform":"xhs","keyword":"露营","max_count":20}
func (h *TaskHandler) Search(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	platform, ok := model.ParsePlatform(req.Platform)
	if !ok || platform == model.PlatformKuaishou {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported platform: " + req.Platform})
		return
	}
	if req.MaxCount < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "max_count must be >= 1"})
		return
	}

	view, err := h.tasks.StartSearch(service.SearchRequest{
		Platform:       platform,
		Keyword:        req.Keyword,
		MaxCount:       req.MaxCount,
		EnableComments: req.EnableComments,
		EnableMedia:    req.EnableMedia,
	})
	if err != nil {
		h.fail(c, "Search", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"task_id": view.TaskID})
}

// GetTask GET /task/:id
func (h *TaskHandler) GetTask(c *gin.Context) {
	view, err := h.tasks.Get(c.Param("id"))
	if err != nil {
		h.fail(c, "GetTask", err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// GetResult GET /task/:id/result
func (h *TaskHandler) GetResult(c *gin.Context) {
	res, err := h.tasks.Result(c.Param("id"))
	if err != nil {
		h.fail(c, "GetResult", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// ListTasks GET /tasks
func (h *TaskHandler) ListTasks(c *gin.Context) {
	c.JSON(http.StatusOK, h.tasks.List())
}

// StopTask POST /task/:id/stop
func (h *TaskHandler) StopTask(c *gin.Context) {
	view, err := h.tasks.Stop(c.Param("id"))
	if err != nil {
		h.fail(c, "StopTask", err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *TaskHandler) fail(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, service.ErrTaskNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrTaskConflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	default:
		h.logger.WithError(err).Errorf("%s failed", op)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
