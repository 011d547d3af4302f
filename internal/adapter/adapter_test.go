package adapter

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SocialSync/internal/config"
	"SocialSync/internal/crawlerr"
	"SocialSync/internal/interfaces"
	"SocialSync/internal/model"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func testRequester(baseURL string, signer interfaces.Signer) *Requester {
	return NewRequester(model.PlatformXHS, Deps{
		Config: config.PlatformConfig{
			BaseURL:      baseURL,
			Timeout:      5 * time.Second,
			RetryCount:   3,
			RetryBackoff: time.Millisecond,
			UserAgent:    "test-ua",
		},
		Signer: signer,
		Logger: quietLogger(),
	}, nil)
}

func TestRequesterSignsAndDecodes(t *testing.T) {
	var gotSign, gotUA, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSign = r.Header.Get("X-s")
		gotUA = r.Header.Get("User-Agent")
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"name":"ok"}`))
	}))
	defer srv.Close()

	var signedURI string
	signer := interfaces.SignerFunc(func(_ context.Context, uri string, _ []byte, _ map[string]string, _ string) (map[string]string, error) {
		signedURI = uri
		return map[string]string{"X-s": "signature"}, nil
	})
	r := testRequester(srv.URL, signer)

	var out struct{ Name string }
	err := r.Do(context.Background(), Request{Op: "test", URL: "/api/x", Query: map[string][]string{"a": {"1"}}}, &out)
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Name)
	assert.Equal(t, "signature", gotSign)
	assert.Equal(t, "test-ua", gotUA)
	assert.Equal(t, "a=1", gotQuery)
	assert.Equal(t, "/api/x?a=1", signedURI)
}

func TestRequesterRetriesTransient(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	r := testRequester(srv.URL, nil)
	require.NoError(t, r.Do(context.Background(), Request{Op: "test", URL: "/x"}, nil))
	assert.Equal(t, int32(3), calls.Load())
}

func TestRequesterExhaustedRetriesReturnLastError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	r := testRequester(srv.URL, nil)
	err := r.Do(context.Background(), Request{Op: "test", URL: "/x"}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, crawlerr.ErrRateLimited))
	assert.Equal(t, int32(3), calls.Load())
}

func TestRequesterStatusMapping(t *testing.T) {
	cases := []struct {
		status   int
		comments bool
		want     error
		calls    int32
	}{
		{http.StatusForbidden, false, crawlerr.ErrForbidden, 1},
		{http.StatusNotFound, false, crawlerr.ErrNotFound, 1},
		{http.StatusNotFound, true, nil, 1},
		{432, false, crawlerr.ErrRateLimited, 3},
	}
	for _, tc := range cases {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(tc.status)
		}))
		r := testRequester(srv.URL, nil)
		err := r.Do(context.Background(), Request{Op: "test", URL: "/x", Comments: tc.comments}, nil)
		if tc.want == nil {
			assert.NoError(t, err)
		} else {
			assert.ErrorIs(t, err, tc.want, "status=%d", tc.status)
		}
		assert.Equal(t, tc.calls, calls.Load(), "status=%d", tc.status)
		srv.Close()
	}
}

func TestRequesterDecoderClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	r := testRequester(srv.URL, nil)
	var out map[string]any
	err := r.Do(context.Background(), Request{Op: "test", URL: "/x"}, &out)
	assert.ErrorIs(t, err, crawlerr.ErrDataFetch)
}

func TestRequesterCancelledContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	r := testRequester(srv.URL, nil)
	err := r.Do(ctx, Request{Op: "test", URL: "/x"}, nil)
	require.Error(t, err)
	assert.False(t, crawlerr.IsRetryable(err))
}

func TestScriptJSON(t *testing.T) {
	page := `<html><head><script>var a = 1;</script>
<script>window.__INITIAL_STATE__={"note":{"id":"abc","desc":"a } b","x":undefined}};window.foo=1</script></head></html>`
	payload, err := ScriptJSON(page, "window.__INITIAL_STATE__")
	require.NoError(t, err)
	assert.Equal(t, `{"note":{"id":"abc","desc":"a } b","x":null}}`, payload)

	render := `<script>var $render_data = [{"status":{"id":"1"}}][0] || {};</script>`
	payload, err = ScriptJSON(render, "$render_data")
	require.NoError(t, err)
	assert.Equal(t, `[{"status":{"id":"1"}}]`, payload)

	_, err = ScriptJSON("<html></html>", "window.__INITIAL_STATE__")
	assert.ErrorIs(t, err, ErrScriptNotFound)
}

func TestCleanText(t *testing.T) {
	assert.Equal(t, "hello world & more", CleanText(`<a href="/x">hello</a> <b>world</b> &amp; more`))
	assert.Equal(t, "line1\nline2", CleanText("line1<br />line2"))
	assert.Equal(t, "", CleanText(""))
}

type stubClient struct{ platform model.PlatformType }

func (s stubClient) Platform() model.PlatformType { return s.platform }
func (stubClient) Search(context.Context, string, int, interfaces.SearchOptions) (interfaces.ContentPage, error) {
	return interfaces.ContentPage{}, nil
}
func (stubClient) GetContent(context.Context, model.ContentRef) (*model.Content, error) {
	return nil, nil
}
func (stubClient) GetRootComments(context.Context, model.ContentRef, string, int) (interfaces.CommentPage, error) {
	return interfaces.CommentPage{}, nil
}
func (stubClient) GetChildComments(context.Context, *model.Comment, string, int) (interfaces.CommentPage, error) {
	return interfaces.CommentPage{}, nil
}
func (stubClient) GetCreator(context.Context, model.CreatorRef) (*model.Creator, error) {
	return nil, nil
}
func (stubClient) ListCreatorContent(context.Context, *model.Creator, string, int) (interfaces.ContentPage, error) {
	return interfaces.ContentPage{}, nil
}
func (stubClient) FetchMedia(context.Context, string) ([]byte, error) { return nil, nil }
func (stubClient) Ping(context.Context) (bool, error)                 { return true, nil }
func (stubClient) RefreshCookies(context.Context) error               { return nil }

func TestPlatformRegistryCreatesOnce(t *testing.T) {
	var built atomic.Int32
	Register("test", func(deps Deps) (interfaces.PlatformClient, error) {
		built.Add(1)
		return stubClient{platform: "test"}, nil
	})
	Register("mismatch", func(deps Deps) (interfaces.PlatformClient, error) {
		return stubClient{platform: "other"}, nil
	})

	cfg := &config.Config{Platforms: map[string]config.PlatformConfig{}}
	reg := NewPlatformRegistry(cfg, nil, nil, quietLogger())

	c1, err := reg.Client(context.Background(), "test")
	require.NoError(t, err)
	c2, err := reg.Client(context.Background(), "test")
	require.NoError(t, err)
	assert.Equal(t, c1, c2)
	assert.Equal(t, int32(1), built.Load())

	_, err = reg.Client(context.Background(), "mismatch")
	assert.Error(t, err)
	_, err = reg.Client(context.Background(), "nope")
	assert.Error(t, err)
	assert.Contains(t, ListFactories(), model.PlatformType("test"))
}
