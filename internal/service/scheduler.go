package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"SocialSync/internal/metrics"
)

const (
	defaultMisfireGrace = 60 * time.Second
	defaultStopGrace    = 15 * time.Second
)

var (
	ErrJobNotFound = errors.New("job not found")
	ErrJobExists   = errors.New("job already registered")
)

// JobFunc 定时任务，ctx 在 Stop 时取消
type JobFunc func(ctx context.Context) error

// JobInfo 任务状态
type JobInfo struct {
	Name      string    `json:"name"`
	Spec      string    `json:"spec"`
	Next      time.Time `json:"next"`
	Prev      time.Time `json:"prev"`
	Running   bool      `json:"running"`
	Paused    bool      `json:"paused"`
	Runs      int       `json:"runs"`
	LastError string    `json:"last_error,omitempty"`
}

type job struct {
	name string
	spec string
	fn   JobFunc
	id   cron.EntryID

	mu      sync.Mutex
	running bool
	pending time.Time // 运行期间到达的触发，零值表示没有
	paused  bool
	runs    int
	lastErr string
}

// cronLogger 把 cron 的日志接到 logrus
type cronLogger struct {
	logger *logrus.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(kvFields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithError(err).WithFields(kvFields(keysAndValues)).Error(msg)
}

func kvFields(kv []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}

// Scheduler 定时任务调度。同一任务同时只运行一个实例，
// 运行期间的触发合并为一次补跑，补跑须在触发后 misfire 宽限内开始，否则丢弃
type Scheduler struct {
	cron      *cron.Cron
	logger    *logrus.Logger
	misfire   time.Duration
	stopGrace time.Duration
	now       func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu   sync.RWMutex
	jobs map[string]*job
}

func NewScheduler(logger *logrus.Logger, misfireGrace time.Duration) *Scheduler {
	if misfireGrace <= 0 {
		misfireGrace = defaultMisfireGrace
	}
	ctx, cancel := context.WithCancel(context.Background())
	cl := cronLogger{logger: logger}
	return &Scheduler{
		cron:      cron.New(cron.WithLocation(time.Local), cron.WithLogger(cl), cron.WithChain(cron.Recover(cl))),
		logger:    logger,
		misfire:   misfireGrace,
		stopGrace: defaultStopGrace,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		jobs:      make(map[string]*job),
	}
}

// AddCronJob 注册任务，spec 支持标准五段式与 @every/@hourly 等描述符
func (s *Scheduler) AddCronJob(name, spec string, fn JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("%w: %s", ErrJobExists, name)
	}
	j := &job{name: name, spec: spec, fn: fn}
	id, err := s.cron.AddFunc(spec, func() { s.fire(j) })
	if err != nil {
		return fmt.Errorf("注册定时任务%s失败: %w", name, err)
	}
	j.id = id
	s.jobs[name] = j
	s.logger.WithFields(logrus.Fields{"job": name, "spec": spec}).Info("定时任务已注册")
	return nil
}

func (s *Scheduler) get(name string) (*job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	return j, nil
}

// TriggerNow 立即触发一次（暂停中的任务也会执行）
func (s *Scheduler) TriggerNow(name string) error {
	j, err := s.get(name)
	if err != nil {
		return err
	}
	s.start(j, s.now(), true)
	return nil
}

func (s *Scheduler) Pause(name string) error {
	return s.setPaused(name, true)
}

func (s *Scheduler) Resume(name string) error {
	return s.setPaused(name, false)
}

func (s *Scheduler) setPaused(name string, paused bool) error {
	j, err := s.get(name)
	if err != nil {
		return err
	}
	j.mu.Lock()
	j.paused = paused
	j.mu.Unlock()
	return nil
}

// Jobs 所有任务的状态，按名称排序
func (s *Scheduler) Jobs() []JobInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]JobInfo, 0, len(s.jobs))
	for _, j := range s.jobs {
		entry := s.cron.Entry(j.id)
		j.mu.Lock()
		out = append(out, JobInfo{
			Name: j.name, Spec: j.spec, Next: entry.Next, Prev: entry.Prev,
			Running: j.running, Paused: j.paused, Runs: j.runs, LastError: j.lastErr,
		})
		j.mu.Unlock()
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Name < out[b].Name })
	return out
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("调度器已启动")
}

// Stop 停止触发并取消运行中的任务，最多等待 stopGrace
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cron.Stop()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(s.stopGrace)
	defer timer.Stop()
	select {
	case <-done:
		s.logger.Info("调度器已停止")
		return nil
	case <-timer.C:
		return fmt.Errorf("等待任务退出超时（%s）", s.stopGrace)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fire cron 触发入口
func (s *Scheduler) fire(j *job) {
	s.start(j, s.now(), false)
}

func (s *Scheduler) start(j *job, at time.Time, manual bool) {
	if s.ctx.Err() != nil {
		return
	}
	j.mu.Lock()
	if j.paused && !manual {
		j.mu.Unlock()
		s.logger.WithField("job", j.name).Debug("任务已暂停，跳过本次触发")
		return
	}
	if j.running {
		if !j.pending.IsZero() {
			s.logger.WithField("job", j.name).Info("已有待补跑的触发，合并")
		}
		j.pending = at
		j.mu.Unlock()
		return
	}
	j.running = true
	j.mu.Unlock()

	s.wg.Add(1)
	go s.loop(j)
}

// loop 执行任务，结束后检查是否需要补跑
func (s *Scheduler) loop(j *job) {
	defer s.wg.Done()
	for {
		s.execute(j)

		j.mu.Lock()
		pending := j.pending
		j.pending = time.Time{}
		if pending.IsZero() || s.ctx.Err() != nil {
			j.running = false
			j.mu.Unlock()
			return
		}
		if late := s.now().Sub(pending); late > s.misfire {
			j.running = false
			j.mu.Unlock()
			s.logger.WithField("job", j.name).Warnf("补跑已超出宽限 %s（延迟 %s），丢弃", s.misfire, late)
			return
		}
		j.mu.Unlock()
	}
}

func (s *Scheduler) execute(j *job) {
	entry := s.logger.WithField("job", j.name)
	started := s.now()
	err := s.call(j)

	j.mu.Lock()
	j.runs++
	if err != nil {
		j.lastErr = err.Error()
	} else {
		j.lastErr = ""
	}
	j.mu.Unlock()

	if err != nil {
		metrics.JobRuns.WithLabelValues(j.name, "error").Inc()
		entry.WithError(err).Error("定时任务执行失败")
		return
	}
	metrics.JobRuns.WithLabelValues(j.name, "ok").Inc()
	entry.Infof("定时任务完成，耗时 %s", s.now().Sub(started).Round(time.Millisecond))
}

func (s *Scheduler) call(j *job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return j.fn(s.ctx)
}
