package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"SocialSync/internal/config"
	"SocialSync/internal/engine"
	"SocialSync/internal/interfaces"
	"SocialSync/internal/model"
	"SocialSync/internal/sink"
)

// TaskStatus 任务状态
type TaskStatus string

const (
	TaskIdle      TaskStatus = "idle"
	TaskRunning   TaskStatus = "running"
	TaskStopping  TaskStatus = "stopping"
	TaskStopped   TaskStatus = "stopped"
	TaskError     TaskStatus = "error"
	TaskCompleted TaskStatus = "completed"
)

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrTaskConflict = errors.New("platform already has a running task")
)

// SearchRequest 通过 HTTP 发起的搜索任务
type SearchRequest struct {
	Platform       model.PlatformType
	Keyword        string
	MaxCount       int
	EnableComments bool
	EnableMedia    bool
}

// TaskView 任务对外展示的状态
type TaskView struct {
	TaskID     string             `json:"task_id"`
	Platform   model.PlatformType `json:"platform"`
	Keyword    string             `json:"keyword"`
	Status     TaskStatus         `json:"status"`
	Progress   int                `json:"progress"` // 已写入的内容条数
	Error      string             `json:"error,omitempty"`
	StartedAt  *time.Time         `json:"started_at"`
	FinishedAt *time.Time         `json:"finished_at"`
}

// TaskResult 任务结果
type TaskResult struct {
	Data []*model.Content `json:"data"`
	Meta TaskMeta         `json:"meta"`
}

type TaskMeta struct {
	New      int `json:"new"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
	Comments int `json:"comments"`
	Creators int `json:"creators"`
	Media    int `json:"media"`
	Errors   int `json:"errors"`
}

type task struct {
	id         string
	req        SearchRequest
	status     TaskStatus
	err        string
	startedAt  time.Time
	finishedAt time.Time
	result     *engine.RunResult
	collector  *sink.Collector
	cancel     context.CancelFunc
}

// TaskManager 每个平台同时只允许一个运行中的任务
type TaskManager struct {
	cfg     *config.Config
	engines *EngineProvider
	sink    interfaces.Sink
	media   interfaces.MediaSink
	logger  *logrus.Logger
	now     func() time.Time

	mu      sync.Mutex
	tasks   map[string]*task
	running map[model.PlatformType]string
	wg      sync.WaitGroup
}

func NewTaskManager(cfg *config.Config, engines *EngineProvider, store interfaces.Sink, media interfaces.MediaSink, logger *logrus.Logger) *TaskManager {
	return &TaskManager{
		cfg: cfg, engines: engines, sink: store, media: media, logger: logger, now: time.Now,
		tasks:   make(map[string]*task),
		running: make(map[model.PlatformType]string),
	}
}

// StartSearch 创建并在后台执行搜索任务
func (m *TaskManager) StartSearch(req SearchRequest) (TaskView, error) {
	if req.MaxCount < 1 {
		return TaskView{}, fmt.Errorf("max_count 必须大于0")
	}
	m.mu.Lock()
	if id, ok := m.running[req.Platform]; ok {
		m.mu.Unlock()
		return TaskView{}, fmt.Errorf("%w: %s (%s)", ErrTaskConflict, req.Platform, id)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &task{
		id:        uuid.NewString(),
		req:       req,
		status:    TaskRunning,
		startedAt: m.now(),
		collector: sink.NewCollector(req.MaxCount),
		cancel:    cancel,
	}
	m.tasks[t.id] = t
	m.running[req.Platform] = t.id
	view := m.viewLocked(t)
	m.mu.Unlock()

	m.wg.Add(1)
	go m.execute(ctx, t)
	return view, nil
}

func (m *TaskManager) execute(ctx context.Context, t *task) {
	defer m.wg.Done()
	defer t.cancel()
	logger := m.logger.WithFields(logrus.Fields{"task_id": t.id, "platform": t.req.Platform, "keyword": t.req.Keyword})
	logger.Info("任务开始")

	var res *engine.RunResult
	eng, err := m.engines.Get(ctx)
	if err == nil {
		res, err = eng.Run(ctx, m.runConfig(t))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	t.finishedAt = m.now()
	t.result = res
	switch {
	case t.status == TaskStopping || ctx.Err() != nil:
		t.status = TaskStopped
	case engine.Outcome(res, err) == engine.OutcomeError:
		t.status = TaskError
		if err != nil {
			t.err = err.Error()
		} else {
			t.err = fmt.Sprintf("%d 个错误，未写入任何内容", res.Errors)
		}
	default:
		t.status = TaskCompleted
	}
	delete(m.running, t.req.Platform)
	logger.WithField("status", t.status).Info("任务结束")
}

func (m *TaskManager) runConfig(t *task) engine.RunConfig {
	rc := engine.Defaults(m.cfg, t.req.Platform, model.CrawlerSearch)
	rc.Keywords = t.req.Keyword
	rc.StartPage = 1
	rc.MaxNotes = t.req.MaxCount
	rc.PageSize = min(max(rc.PageSize, 1), t.req.MaxCount)
	rc.EnableComments = t.req.EnableComments
	rc.EnableMedia = t.req.EnableMedia
	rc.Media = m.media
	// 结果集也经 Router 校验并补时间戳，存储在前
	results := sink.NewRouter(t.collector, m.now)
	if m.sink != nil {
		rc.Sink = sink.Multi{m.sink, results}
	} else {
		rc.Sink = results
	}
	return rc
}

// Stop 请求停止，状态先变为 stopping，引擎退出后变为 stopped
func (m *TaskManager) Stop(id string) (TaskView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return TaskView{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if t.status == TaskRunning {
		t.status = TaskStopping
		t.cancel()
	}
	return m.viewLocked(t), nil
}

func (m *TaskManager) Get(id string) (TaskView, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return TaskView{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return m.viewLocked(t), nil
}

// List 按开始时间倒序
func (m *TaskManager) List() []TaskView {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]TaskView, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, m.viewLocked(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(*out[j].StartedAt) })
	return out
}

// Result 已写入的内容与统计，运行中也可查询
func (m *TaskManager) Result(id string) (TaskResult, error) {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if !ok {
		m.mu.Unlock()
		return TaskResult{}, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	res := t.result
	m.mu.Unlock()

	out := TaskResult{Data: t.collector.Contents()}
	comments, creators := t.collector.Counts()
	out.Meta.Comments = comments
	out.Meta.Creators = creators
	if res != nil {
		out.Meta = TaskMeta{
			New: res.New, Updated: res.Updated, Skipped: res.Skipped, Comments: res.Comments,
			Creators: res.Creators, Media: res.Media, Errors: res.Errors,
		}
	}
	if out.Data == nil {
		out.Data = []*model.Content{}
	}
	return out, nil
}

// Close 取消所有任务并等待退出
func (m *TaskManager) Close(ctx context.Context) error {
	m.mu.Lock()
	for _, t := range m.tasks {
		if t.status == TaskRunning {
			t.status = TaskStopping
			t.cancel()
		}
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *TaskManager) viewLocked(t *task) TaskView {
	v := TaskView{
		TaskID: t.id, Platform: t.req.Platform, Keyword: t.req.Keyword, Status: t.status, Error: t.err,
		Progress: len(t.collector.Contents()),
	}
	started := t.startedAt
	v.StartedAt = &started
	if !t.finishedAt.IsZero() {
		finished := t.finishedAt
		v.FinishedAt = &finished
	}
	return v
}
