package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"SocialSync/internal/crawlerr"
	"SocialSync/internal/interfaces"
	"SocialSync/internal/metrics"
	"SocialSync/internal/model"
)

// ErrRunClosed 收尾时限已过，不再接受写入
var ErrRunClosed = errors.New("sink: run closed")

// Router 写入前校验自然键、计数归零、补时间戳，写入后计数
type Router struct {
	backend interfaces.Sink
	now     func() time.Time
}

var (
	_ interfaces.Sink       = (*Router)(nil)
	_ interfaces.SinkReader = (*Router)(nil)
)

func NewRouter(backend interfaces.Sink, now func() time.Time) *Router {
	if now == nil {
		now = time.Now
	}
	return &Router{backend: backend, now: now}
}

func (r *Router) Name() string { return r.backend.Name() }

// Backend 底层后端
func (r *Router) Backend() interfaces.Sink { return r.backend }

func (r *Router) stamp(ingested, updated *time.Time) {
	now := r.now()
	if ingested.IsZero() {
		*ingested = now
	}
	*updated = now
}

func keyError(kind model.RecordKind, platform model.PlatformType, id string) error {
	if platform == "" || id == "" {
		return fmt.Errorf("%w: %s 缺少自然键 (platform=%q id=%q)", crawlerr.ErrSink, kind, platform, id)
	}
	return nil
}

func (r *Router) done(platform model.PlatformType, kind model.RecordKind, err error) error {
	if err != nil {
		if errors.Is(err, ErrRunClosed) || errors.Is(err, crawlerr.ErrSink) {
			return err
		}
		return fmt.Errorf("%w: %s: %w", crawlerr.ErrSink, r.backend.Name(), err)
	}
	metrics.RecordsSunk.WithLabelValues(string(platform), string(kind), r.backend.Name()).Inc()
	return nil
}

func (r *Router) StoreContent(ctx context.Context, c *model.Content) error {
	if err := keyError(model.KindContent, c.Platform, c.ContentID); err != nil {
		return err
	}
	c.ClampCounts()
	r.stamp(&c.IngestedAt, &c.UpdatedAt)
	return r.done(c.Platform, model.KindContent, r.backend.StoreContent(ctx, c))
}

func (r *Router) StoreComment(ctx context.Context, c *model.Comment) error {
	if err := keyError(model.KindComment, c.Platform, c.CommentID); err != nil {
		return err
	}
	c.ClampCounts()
	r.stamp(&c.IngestedAt, &c.UpdatedAt)
	return r.done(c.Platform, model.KindComment, r.backend.StoreComment(ctx, c))
}

func (r *Router) StoreCreator(ctx context.Context, c *model.Creator) error {
	if err := keyError(model.KindCreator, c.Platform, c.UserID); err != nil {
		return err
	}
	c.ClampCounts()
	r.stamp(&c.IngestedAt, &c.UpdatedAt)
	return r.done(c.Platform, model.KindCreator, r.backend.StoreCreator(ctx, c))
}

func (r *Router) Close(ctx context.Context) error {
	return r.backend.Close(ctx)
}

func (r *Router) reader() (interfaces.SinkReader, error) {
	rd, ok := r.backend.(interfaces.SinkReader)
	if !ok {
		return nil, fmt.Errorf("%w: %s 不支持读取", crawlerr.ErrSink, r.backend.Name())
	}
	return rd, nil
}

func (r *Router) LoadContent(ctx context.Context, platform model.PlatformType, id string) (*model.Content, error) {
	rd, err := r.reader()
	if err != nil {
		return nil, err
	}
	return rd.LoadContent(ctx, platform, id)
}

func (r *Router) LoadComment(ctx context.Context, platform model.PlatformType, id string) (*model.Comment, error) {
	rd, err := r.reader()
	if err != nil {
		return nil, err
	}
	return rd.LoadComment(ctx, platform, id)
}

func (r *Router) LoadCreator(ctx context.Context, platform model.PlatformType, id string) (*model.Creator, error) {
	rd, err := r.reader()
	if err != nil {
		return nil, err
	}
	return rd.LoadCreator(ctx, platform, id)
}

// Multi 依次写入多个后端，错误合并返回
type Multi []interfaces.Sink

func (m Multi) Name() string {
	name := ""
	for i, s := range m {
		if i > 0 {
			name += "+"
		}
		name += s.Name()
	}
	return name
}

func (m Multi) each(fn func(interfaces.Sink) error) error {
	var errs []error
	for _, s := range m {
		if err := fn(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) StoreContent(ctx context.Context, c *model.Content) error {
	return m.each(func(s interfaces.Sink) error { return s.StoreContent(ctx, c) })
}

func (m Multi) StoreComment(ctx context.Context, c *model.Comment) error {
	return m.each(func(s interfaces.Sink) error { return s.StoreComment(ctx, c) })
}

func (m Multi) StoreCreator(ctx context.Context, c *model.Creator) error {
	return m.each(func(s interfaces.Sink) error { return s.StoreCreator(ctx, c) })
}

func (m Multi) Close(ctx context.Context) error {
	return m.each(func(s interfaces.Sink) error { return s.Close(ctx) })
}

// Gate 关闭后拒绝写入；Close 不关闭底层后端
type Gate struct {
	inner interfaces.Sink

	mu     sync.RWMutex
	closed bool
}

func NewGate(inner interfaces.Sink) *Gate {
	return &Gate{inner: inner}
}

func (g *Gate) Name() string { return g.inner.Name() }

// Shut 之后的写入返回 ErrRunClosed
func (g *Gate) Shut() {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()
}

func (g *Gate) Closed() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.closed
}

// pass 持读锁写入，Shut 会等正在进行的写入结束
func (g *Gate) pass(fn func() error) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.closed {
		return ErrRunClosed
	}
	return fn()
}

func (g *Gate) StoreContent(ctx context.Context, c *model.Content) error {
	return g.pass(func() error { return g.inner.StoreContent(ctx, c) })
}

func (g *Gate) StoreComment(ctx context.Context, c *model.Comment) error {
	return g.pass(func() error { return g.inner.StoreComment(ctx, c) })
}

func (g *Gate) StoreCreator(ctx context.Context, c *model.Creator) error {
	return g.pass(func() error { return g.inner.StoreCreator(ctx, c) })
}

func (g *Gate) Close(context.Context) error {
	g.Shut()
	return nil
}

// Media 媒体写入同样受 Shut 约束
func (g *Gate) Media(inner interfaces.MediaSink) interfaces.MediaSink {
	if inner == nil {
		return nil
	}
	return gatedMedia{gate: g, inner: inner}
}

type gatedMedia struct {
	gate  *Gate
	inner interfaces.MediaSink
}

func (m gatedMedia) StoreMedia(ctx context.Context, platform model.PlatformType, contentID string, index int, sourceURL string, data []byte) (string, error) {
	var path string
	err := m.gate.pass(func() error {
		var err error
		path, err = m.inner.StoreMedia(ctx, platform, contentID, index, sourceURL, data)
		return err
	})
	return path, err
}

// Collector 在内存里保留前 limit 条内容，供任务结果查询
type Collector struct {
	limit int

	mu       sync.Mutex
	contents []*model.Content
	comments int
	creators int
}

func NewCollector(limit int) *Collector {
	return &Collector{limit: limit}
}

func (c *Collector) Name() string { return "collector" }

func (c *Collector) StoreContent(_ context.Context, item *model.Content) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, existing := range c.contents {
		if existing.Key() == item.Key() {
			cp := *item
			c.contents[i] = &cp
			return nil
		}
	}
	if c.limit <= 0 || len(c.contents) < c.limit {
		cp := *item
		c.contents = append(c.contents, &cp)
	}
	return nil
}

func (c *Collector) StoreComment(context.Context, *model.Comment) error {
	c.mu.Lock()
	c.comments++
	c.mu.Unlock()
	return nil
}

func (c *Collector) StoreCreator(context.Context, *model.Creator) error {
	c.mu.Lock()
	c.creators++
	c.mu.Unlock()
	return nil
}

func (c *Collector) Close(context.Context) error { return nil }

// Contents 已收集内容的副本
func (c *Collector) Contents() []*model.Content {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*model.Content, len(c.contents))
	copy(out, c.contents)
	return out
}

// Counts 评论数与创作者数
func (c *Collector) Counts() (comments, creators int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.comments, c.creators
}
