package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"SocialSync/internal/config"
	"SocialSync/internal/engine"
	"SocialSync/internal/interfaces"
	"SocialSync/internal/model"
	"SocialSync/internal/repository"
	"SocialSync/internal/seen"
	"SocialSync/internal/service"
)

type stubClient struct {
	items []*model.Content
	block chan struct{}
}

func (s *stubClient) Platform() model.PlatformType { return model.PlatformXHS }

func (s *stubClient) Search(ctx context.Context, _ string, _ int, _ interfaces.SearchOptions) (interfaces.ContentPage, error) {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return interfaces.ContentPage{}, ctx.Err()
		}
	}
	return interfaces.ContentPage{Items: s.items}, nil
}

func (s *stubClient) GetContent(_ context.Context, ref model.ContentRef) (*model.Content, error) {
	return &model.Content{Platform: model.PlatformXHS, ContentID: ref.ID}, nil
}

func (s *stubClient) GetRootComments(context.Context, model.ContentRef, string, int) (interfaces.CommentPage, error) {
	return interfaces.CommentPage{}, nil
}

func (s *stubClient) GetChildComments(context.Context, *model.Comment, string, int) (interfaces.CommentPage, error) {
	return interfaces.CommentPage{}, nil
}

func (s *stubClient) GetCreator(_ context.Context, ref model.CreatorRef) (*model.Creator, error) {
	return &model.Creator{Platform: model.PlatformXHS, UserID: ref.ID}, nil
}

func (s *stubClient) ListCreatorContent(context.Context, *model.Creator, string, int) (interfaces.ContentPage, error) {
	return interfaces.ContentPage{}, nil
}

func (s *stubClient) FetchMedia(context.Context, string) ([]byte, error) { return nil, nil }
func (s *stubClient) Ping(context.Context) (bool, error)               { return true, nil }
func (s *stubClient) RefreshCookies(context.Context) error             { return nil }

type stubSource struct{ client interfaces.PlatformClient }

func (s stubSource) Client(context.Context, model.PlatformType) (interfaces.PlatformClient, error) {
	return s.client, nil
}

type fixture struct {
	router *gin.Engine
	store  *repository.MonitorRepository
	sched  *service.Scheduler
	ran    chan struct{}
}

func newFixture(t *testing.T, client *stubClient) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log, _ := test.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "api.db")), &gorm.Config{Logger: logger.Discard})
	require.NoError(t, err)
	require.NoError(t, repository.AutoMigrate(db))
	store := repository.NewMonitorRepository(db)

	cfg := &config.Config{Crawler: config.CrawlerConfig{StartPage: 1, PageSize: 20, MaxConcurrency: 1, Grace: time.Second}}
	engines := service.NewEngineProvider(func(context.Context) (*engine.Engine, error) {
		return engine.New(stubSource{client}, nil, seen.New(nil), nil, log), nil
	})
	tasks := service.NewTaskManager(cfg, engines, nil, nil, log)

	sched := service.NewScheduler(log, time.Minute)
	ran := make(chan struct{}, 4)
	require.NoError(t, sched.AddCronJob("retention", "@daily", func(context.Context) error {
		ran <- struct{}{}
		return nil
	}))
	t.Cleanup(func() {
		_ = sched.Stop(context.Background())
		_ = tasks.Close(context.Background())
	})

	return &fixture{
		router: NewRouter(RouterDeps{Tasks: tasks, Store: store, Scheduler: sched, Logger: log}),
		store:  store, sched: sched, ran: ran,
	}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestHealth(t *testing.T) {
	f := newFixture(t, &stubClient{})
	w := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = f.do(t, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSearchValidation(t *testing.T) {
	f := newFixture(t, &stubClient{})
	cases := []struct {
		name string
		body any
	}{
		{"缺少关键词", gin.H{"platform": "xhs", "max_count": 5}},
		{"未知平台", gin.H{"platform": "tiktok", "keyword": "a", "max_count": 5}},
		{"仅解析平台", gin.H{"platform": "ks", "keyword": "a", "max_count": 5}},
		{"数量为0", gin.H{"platform": "xhs", "keyword": "a", "max_count": 0}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := f.do(t, http.MethodPost, "/search", tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestSearchTaskLifecycle(t *testing.T) {
	client := &stubClient{items: []*model.Content{
		{Platform: model.PlatformXHS, ContentID: "a", Title: "A"},
	}}
	f := newFixture(t, client)

	w := f.do(t, http.MethodPost, "/search", gin.H{"platform": "xhs", "keyword": "露营", "max_count": 3})
	require.Equal(t, http.StatusOK, w.Code)
	id := decode[map[string]string](t, w)["task_id"]
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool {
		w := f.do(t, http.MethodGet, "/task/"+id, nil)
		return w.Code == http.StatusOK && decode[service.TaskView](t, w).Status == service.TaskCompleted
	}, 2*time.Second, 10*time.Millisecond)

	w = f.do(t, http.MethodGet, "/task/"+id+"/result", nil)
	require.Equal(t, http.StatusOK, w.Code)
	res := decode[service.TaskResult](t, w)
	require.Len(t, res.Data, 1)
	assert.Equal(t, 1, res.Meta.New)

	w = f.do(t, http.MethodGet, "/tasks", nil)
	assert.Len(t, decode[[]service.TaskView](t, w), 1)

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodGet, "/task/missing", nil).Code)
	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/task/missing/stop", nil).Code)
}

func TestSearchConflict(t *testing.T) {
	client := &stubClient{block: make(chan struct{})}
	f := newFixture(t, client)
	defer close(client.block)

	body := gin.H{"platform": "xhs", "keyword": "a", "max_count": 3}
	w := f.do(t, http.MethodPost, "/search", body)
	require.Equal(t, http.StatusOK, w.Code)
	id := decode[map[string]string](t, w)["task_id"]

	assert.Equal(t, http.StatusConflict, f.do(t, http.MethodPost, "/search", body).Code)

	w = f.do(t, http.MethodPost, "/task/"+id+"/stop", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, service.TaskStopping, decode[service.TaskView](t, w).Status)
}

func TestWatchCRUD(t *testing.T) {
	f := newFixture(t, &stubClient{})

	w := f.do(t, http.MethodPost, "/monitor/watches", gin.H{
		"platform": "xhs", "target_kind": "creator", "target": "u1", "name": "测试",
	})
	require.Equal(t, http.StatusOK, w.Code)
	entry := decode[model.WatchEntry](t, w)
	assert.True(t, entry.Active)

	assert.Equal(t, http.StatusBadRequest, f.do(t, http.MethodPost, "/monitor/watches", gin.H{
		"platform": "xhs", "target_kind": "hashtag", "target": "x",
	}).Code)

	w = f.do(t, http.MethodGet, "/monitor/watches?active=true", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode[[]model.WatchEntry](t, w)
	require.Len(t, list, 1)
	assert.Equal(t, "u1", list[0].Target)

	w = f.do(t, http.MethodDelete, "/monitor/watches?platform=xhs&target_kind=creator&target=u1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w = f.do(t, http.MethodDelete, "/monitor/watches?platform=xhs&target_kind=creator&target=u1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = f.do(t, http.MethodDelete, "/monitor/watches?platform=xhs", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHotList(t *testing.T) {
	f := newFixture(t, &stubClient{})
	w := f.do(t, http.MethodGet, "/monitor/hot", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	require.NoError(t, f.store.UpsertHotNote(context.Background(), &model.Content{
		Platform: model.PlatformXHS, ContentID: "h1", LikeCount: 9000,
		Hot: model.HotScore{Level: model.LevelHot, IsHot: true, Score: 70},
	}, time.Now()))
	w = f.do(t, http.MethodGet, "/monitor/hot?limit=5", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode[[]model.HotNote](t, w), 1)
}

func TestJobActions(t *testing.T) {
	f := newFixture(t, &stubClient{})

	w := f.do(t, http.MethodGet, "/monitor/jobs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	jobs := decode[[]service.JobInfo](t, w)
	require.Len(t, jobs, 1)
	assert.Equal(t, "retention", jobs[0].Name)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/monitor/jobs/retention/pause", nil).Code)
	jobs = decode[[]service.JobInfo](t, f.do(t, http.MethodGet, "/monitor/jobs", nil))
	assert.True(t, jobs[0].Paused)
	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/monitor/jobs/retention/resume", nil).Code)

	assert.Equal(t, http.StatusOK, f.do(t, http.MethodPost, "/monitor/jobs/retention/trigger", nil).Code)
	select {
	case <-f.ran:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run")
	}

	assert.Equal(t, http.StatusNotFound, f.do(t, http.MethodPost, "/monitor/jobs/nope/trigger", nil).Code)
}
