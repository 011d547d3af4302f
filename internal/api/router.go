package api

import (
	"net/http"

	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"SocialSync/internal/interfaces"
	"SocialSync/internal/service"
)

// RouterDeps 路由依赖；Store 为空时不注册监控接口
type RouterDeps struct {
	Tasks     *service.TaskManager
	Store     interfaces.MonitorStore
	Scheduler *service.Scheduler
	Logger    *logrus.Logger
	Pprof     bool
}

// NewRouter 注册全部 HTTP 接口
func NewRouter(d RouterDeps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	if d.Pprof {
		// 注册ppof 方便调试和监测性能问题
		pprof.Register(r)
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	tasks := NewTaskHandler(d.Tasks, d.Logger)
	r.POST("/search", tasks.Search)
	r.GET("/tasks", tasks.ListTasks)
	r.GET("/task/:id", tasks.GetTask)
	r.GET("/task/:id/result", tasks.GetResult)
	r.POST("/task/:id/stop", tasks.StopTask)

	if d.Store != nil {
		monitor := NewMonitorHandler(d.Store, d.Scheduler, d.Logger)
		g := r.Group("/monitor")
		g.GET("/watches", monitor.ListWatches)
		g.POST("/watches", monitor.UpsertWatch)
		g.DELETE("/watches", monitor.DeleteWatch)
		g.GET("/hot", monitor.ListHot)
		g.GET("/jobs", monitor.ListJobs)
		g.POST("/jobs/:name/trigger", monitor.TriggerJob)
		g.POST("/jobs/:name/pause", monitor.PauseJob)
		g.POST("/jobs/:name/resume", monitor.ResumeJob)
	}
	return r
}
