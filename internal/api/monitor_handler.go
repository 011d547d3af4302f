package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"SocialSync/internal/crawlerr"
	"SocialSync/internal/interfaces"
	"SocialSync/internal/model"
	"SocialSync/internal/service"
)

// MonitorHandler 监控列表与定时任务管理
type MonitorHandler struct {
	store     interfaces.MonitorStore
	scheduler *service.Scheduler // 未启用监控时为空
	logger    *logrus.Logger
}

func NewMonitorHandler(store interfaces.MonitorStore, scheduler *service.Scheduler, logger *logrus.Logger) *MonitorHandler {
	return &MonitorHandler{store: store, scheduler: scheduler, logger: logger}
}

type watchRequest struct {
	Platform       string `json:"platform" binding:"required"`
	TargetKind     string `json:"target_kind" binding:"required"`
	Target         string `json:"target" binding:"required"`
	Name           string `json:"name"`
	Active         *bool  `json:"active"`
	CadenceMinutes int    `json:"cadence_minutes"`
	MaxItems       int    `json:"max_items"`
}

type watchQuery struct {
	Platform   string `form:"platform" binding:"required"`
	TargetKind string `form:"target_kind" binding:"required"`
	Target     string `form:"target" binding:"required"`
}

func parseWatchKey(platform, kind, target string) (model.WatchKey, error) {
	p, ok := model.ParsePlatform(platform)
	if !ok || p == model.PlatformKuaishou {
		return model.WatchKey{}, errors.New("unsupported platform: " + platform)
	}
	k := model.TargetKind(kind)
	if !k.Valid() {
		return model.WatchKey{}, errors.New("unknown target_kind: " + kind)
	}
	return model.WatchKey{Platform: p, TargetKind: k, Target: target}, nil
}

// ListWatches GET /monitor/watches?active=true
func (h *MonitorHandler) ListWatches(c *gin.Context) {
	activeOnly, _ := strconv.ParseBool(c.DefaultQuery("active", "false"))
	list, err := h.store.ListWatches(c.Request.Context(), activeOnly)
	if err != nil {
		h.logger.WithError(err).Error("ListWatches failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if list == nil {
		list = []*model.WatchEntry{}
	}
	c.JSON(http.StatusOK, list)
}

// UpsertWatch POST /monitor/watches
func (h *MonitorHandler) UpsertWatch(c *gin.Context) {
	var req watchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	key, err := parseWatchKey(req.Platform, req.TargetKind, req.Target)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	entry := &model.WatchEntry{
		Platform: key.Platform, TargetKind: key.TargetKind, Target: key.Target,
		Name: req.Name, Active: true, CadenceMinutes: req.CadenceMinutes, MaxItems: req.MaxItems,
	}
	if req.Active != nil {
		entry.Active = *req.Active
	}
	if err := h.store.UpsertWatch(c.Request.Context(), entry); err != nil {
		h.logger.WithError(err).Error("UpsertWatch failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, entry)
}

// DeleteWatch DELETE /monitor/watches?platform=xhs&target_kind=creator&target=...
func (h *MonitorHandler) DeleteWatch(c *gin.Context) {
	var q watchQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	key, err := parseWatchKey(q.Platform, q.TargetKind, q.Target)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := h.store.DeleteWatch(c.Request.Context(), key); err != nil {
		if errors.Is(err, crawlerr.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "watch not found"})
			return
		}
		h.logger.WithError(err).Error("DeleteWatch failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": key})
}

// ListHot GET /monitor/hot?limit=50
func (h *MonitorHandler) ListHot(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	list, err := h.store.ListHotNotes(c.Request.Context(), limit)
	if err != nil {
		h.logger.WithError(err).Error("ListHot failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if list == nil {
		list = []*model.HotNote{}
	}
	c.JSON(http.StatusOK, list)
}

// ListJobs GET /monitor/jobs
func (h *MonitorHandler) ListJobs(c *gin.Context) {
	if h.scheduler == nil {
		c.JSON(http.StatusOK, []service.JobInfo{})
		return
	}
	c.JSON(http.StatusOK, h.scheduler.Jobs())
}

// TriggerJob POST /monitor/jobs/:name/trigger
func (h *MonitorHandler) TriggerJob(c *gin.Context) {
	h.jobAction(c, "triggered", func(s *service.Scheduler, name string) error { return s.TriggerNow(name) })
}

// PauseJob POST /monitor/jobs/:name/pause
func (h *MonitorHandler) PauseJob(c *gin.Context) {
	h.jobAction(c, "paused", func(s *service.Scheduler, name string) error { return s.Pause(name) })
}

// ResumeJob POST /monitor/jobs/:name/resume
func (h *MonitorHandler) ResumeJob(c *gin.Context) {
	h.jobAction(c, "resumed", func(s *service.Scheduler, name string) error { return s.Resume(name) })
}

func (h *MonitorHandler) jobAction(c *gin.Context, done string, fn func(*service.Scheduler, string) error) {
	name := c.Param("name")
	if h.scheduler == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found: " + name})
		return
	}
	if err := fn(h.scheduler, name); err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		h.logger.WithError(err).WithField("job", name).Error("job action failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": name, "status": done})
}
