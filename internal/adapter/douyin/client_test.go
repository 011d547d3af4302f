package douyin

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"SocialSync/internal/adapter"
	"SocialSync/internal/config"
	"SocialSync/internal/crawlerr"
	"SocialSync/internal/interfaces"
	"SocialSync/internal/model"
)

func newTestClient(t *testing.T, mux *http.ServeMux, signer interfaces.Signer) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	c, err := New(adapter.Deps{
		Config: config.PlatformConfig{
			BaseURL:      srv.URL,
			HomeURL:      srv.URL,
			Timeout:      5 * time.Second,
			RetryCount:   2,
			RetryBackoff: time.Millisecond,
		},
		Signer: signer,
		Logger: logger,
	})
	require.NoError(t, err)
	return c.(*Client)
}

func writeJSON(w http.ResponseWriter, v any) {
	_ = json.NewEncoder(w).Encode(v)
}

func sampleAweme(id string) map[string]any {
	return map[string]any{
		"aweme_id":    id,
		"desc":        "周末露营 #户外",
		"create_time": 1700000000,
		"ip_label":    "四川",
		"author": map[string]any{
			"uid": "42", "sec_uid": "MS4wLjABAAAA_x", "nickname": "山野",
			"avatar_thumb": map[string]any{"url_list": []string{"https://a/thumb.jpg"}},
		},
		"statistics": map[string]any{"digg_count": 25000, "collect_count": 800, "comment_count": 320, "share_count": 40},
		"video":      map[string]any{"play_addr": map[string]any{"url_list": []string{"https://v/play.mp4"}}},
		"text_extra": []map[string]any{{"hashtag_name": "户外"}},
	}
}

func TestSearchCarriesSearchID(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/aweme/v1/web/general/search/single/", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "露营", q.Get("keyword"))
		assert.Equal(t, "15", q.Get("offset"))
		assert.Equal(t, "prev-log", q.Get("search_id"))
		assert.Equal(t, "webapp", q.Get("device_platform"))
		assert.Empty(t, q.Get("a_bogus"))
		writeJSON(w, map[string]any{
			"status_code": 0,
			"has_more":    1,
			"extra":       map[string]any{"logid": "next-log"},
			"data": []map[string]any{
				{"aweme_info": sampleAweme("7300000000000000001")},
				{"aweme_mix_info": map[string]any{"mix_items": []any{sampleAweme("7300000000000000002")}}},
				{"type": 999},
			},
		})
	})
	signer := interfaces.SignerFunc(func(context.Context, string, []byte, map[string]string, string) (map[string]string, error) {
		t.Fatal("search must not be signed")
		return nil, nil
	})
	c := newTestClient(t, mux, signer)

	page, err := c.Search(context.Background(), "露营", 2, interfaces.SearchOptions{PageSize: 15, Cursor: "prev-log"})
	require.NoError(t, err)
	assert.True(t, page.HasMore)
	assert.Equal(t, "next-log", page.Cursor)
	require.Len(t, page.Items, 2)

	item := page.Items[0]
	assert.Equal(t, "7300000000000000001", item.ContentID)
	assert.Equal(t, model.ContentVideo, item.ContentType)
	assert.Equal(t, "MS4wLjABAAAA_x", item.AuthorID)
	assert.Equal(t, "https://a/thumb.jpg", item.AuthorAvatarURL)
	assert.Equal(t, int64(25000), item.LikeCount)
	assert.Equal(t, []string{"https://v/play.mp4"}, []string(item.MediaURLs))
	assert.Equal(t, []string{"户外"}, []string(item.TagList))
	assert.False(t, item.Partial)
}

func TestDetailSignsIntoQuery(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/aweme/v1/web/aweme/detail/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "sig", r.URL.Query().Get("a_bogus"))
		assert.Empty(t, r.Header.Get("a_bogus"))
		writeJSON(w, map[string]any{"status_code": 0, "aweme_detail": sampleAweme("7300000000000000001")})
	})
	signer := interfaces.SignerFunc(func(context.Context, string, []byte, map[string]string, string) (map[string]string, error) {
		return map[string]string{"a_bogus": "sig"}, nil
	})
	c := newTestClient(t, mux, signer)

	got, err := c.GetContent(context.Background(), model.ContentRef{ID: "7300000000000000001"})
	require.NoError(t, err)
	assert.Equal(t, "周末露营 #户外", got.Title)
	assert.Equal(t, "https://www.douyin.com/video/7300000000000000001", got.ContentURL)
}

func TestDetailMissingIsNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/aweme/v1/web/aweme/detail/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"status_code": 0, "aweme_detail": nil})
	})
	c := newTestClient(t, mux, nil)

	_, err := c.GetContent(context.Background(), model.ContentRef{ID: "1"})
	assert.ErrorIs(t, err, crawlerr.ErrNotFound)
}

func TestBlockedIsRateLimited(t *testing.T) {
	calls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/aweme/v1/web/aweme/detail/", func(w http.ResponseWriter, r *http.Request) {
		calls++
		_, _ = w.Write([]byte("blocked"))
	})
	c := newTestClient(t, mux, nil)

	_, err := c.GetContent(context.Background(), model.ContentRef{ID: "1"})
	assert.ErrorIs(t, err, crawlerr.ErrRateLimited)
	assert.Equal(t, 2, calls)
}

func TestCommentsAndReplies(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/aweme/v1/web/comment/list/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "0", r.URL.Query().Get("cursor"))
		writeJSON(w, map[string]any{"status_code": 0, "has_more": 1, "cursor": 20, "comments": []map[string]any{
			{"cid": "c1", "aweme_id": "a1", "text": "好看", "digg_count": 5, "reply_comment_total": 3,
				"user": map[string]any{"sec_uid": "s1", "nickname": "路人"}},
		}})
	})
	mux.HandleFunc("/aweme/v1/web/comment/list/reply/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "c1", r.URL.Query().Get("comment_id"))
		assert.Equal(t, "a1", r.URL.Query().Get("item_id"))
		writeJSON(w, map[string]any{"status_code": 0, "has_more": 0, "cursor": 3, "comments": []map[string]any{
			{"cid": "c2", "text": "同感"},
		}})
	})
	c := newTestClient(t, mux, nil)

	roots, err := c.GetRootComments(context.Background(), model.ContentRef{ID: "a1"}, "", 10)
	require.NoError(t, err)
	assert.True(t, roots.HasMore)
	assert.Equal(t, "20", roots.Cursor)
	require.Len(t, roots.Comments, 1)
	assert.Equal(t, int64(3), roots.Comments[0].SubCommentCount)

	replies, err := c.GetChildComments(context.Background(), roots.Comments[0], "", 10)
	require.NoError(t, err)
	require.Len(t, replies.Comments, 1)
	assert.Equal(t, "c1", replies.Comments[0].ParentCommentID)
	assert.Equal(t, "a1", replies.Comments[0].ContentID)
	assert.False(t, replies.HasMore)
}

func TestCreatorPosts(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/aweme/v1/web/user/profile/other/", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"status_code": 0, "user": map[string]any{
			"uid": "42", "sec_uid": "MS4wLjABAAAA_x", "nickname": "山野", "gender": 2,
			"follower_count": 120000, "following_count": 12, "total_favorited": 3400000, "aweme_count": 88,
			"ip_location": "IP属地：四川",
		}})
	})
	mux.HandleFunc("/aweme/v1/web/aweme/post/", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "1700000000000", r.URL.Query().Get("max_cursor"))
		writeJSON(w, map[string]any{"status_code": 0, "has_more": false, "max_cursor": 1690000000000,
			"aweme_list": []any{sampleAweme("7300000000000000003")}})
	})
	c := newTestClient(t, mux, nil)

	creator, err := c.GetCreator(context.Background(), model.CreatorRef{ID: "MS4wLjABAAAA_x"})
	require.NoError(t, err)
	assert.Equal(t, "女", creator.Gender)
	assert.Equal(t, int64(120000), creator.FollowerCount)
	assert.Equal(t, int64(88), creator.ContentCount)

	page, err := c.ListCreatorContent(context.Background(), creator, "1700000000000", 10)
	require.NoError(t, err)
	assert.False(t, page.HasMore)
	assert.Equal(t, "1690000000000", page.Cursor)
	require.Len(t, page.Items, 1)
}

func TestPingUsesLoginCookie(t *testing.T) {
	c := newTestClient(t, http.NewServeMux(), nil)
	ok, err := c.Ping(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	c.req.Jar().Set([]interfaces.Cookie{{Name: "LOGIN_STATUS", Value: "1", Domain: ".douyin.com"}})
	ok, err = c.Ping(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
}
