package bilibili

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

const (
	testImgURL = "https://i0.hdslb.com/bfs/wbi/7cd084941338484aae1ad9425b84077c.png"
	testSubURL = "https://i0.hdslb.com/bfs/wbi/4932caff0ff746eab6f01bf08b70ac45.png"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	mux.HandleFunc("/x/web-interface/nav", func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, -101, map[string]any{
			"isLogin": false,
			"wbi_img": map[string]any{"img_url": testImgURL, "sub_url": testSubURL},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	c, err := New(adapter.Deps{
		Config: config.PlatformConfig{
			BaseURL:      srv.URL,
			HomeURL:      srv.URL,
			Timeout:      5 * time.Second,
			RetryCount:   1,
			RetryBackoff: time.Millisecond,
		},
		Logger: logger,
	})
	require.NoError(t, err)
	return c.(*Client)
}

func writeBody(w http.ResponseWriter, code int, data any) {
	_ = json.NewEncoder(w).Encode(map[string]any{"code": code, "message": "0", "data": data})
}

func TestBVConversion(t *testing.T) {
	assert.Equal(t, int64(170001), BV2AV("BV17x411w7KC"))
	assert.Equal(t, "BV17x411w7KC", AV2BV(170001))
	assert.Equal(t, "BV1mH4y1u7UA", AV2BV(1054803170))
	assert.Equal(t, int64(1054803170), BV2AV("BV1mH4y1u7UA"))
	assert.Zero(t, BV2AV("not-a-bvid"))
}

func TestWbiSignature(t *testing.T) {
	fetches := 0
	s := NewWbiSigner(func(context.Context) (string, string, error) {
		fetches++
		return testImgURL, testSubURL, nil
	})
	s.now = func() time.Time { return time.Unix(1702204169, 0) }

	signed, err := s.Sign(context.Background(), "/x/wbi/demo?foo=114&bar=514&zab=1919810", nil, nil, "")
	require.NoError(t, err)
	assert.Equal(t, "1702204169", signed["wts"])
	assert.Equal(t, "8f6f2b5b3d485fe1886cec6a0be8c5d4", signed["w_rid"])

	_, err = s.Sign(context.Background(), "/x/wbi/demo?foo=1", nil, nil, "")
	require.NoError(t, err)
	assert.Equal(t, 1, fetches)

	plain, err := s.Sign(context.Background(), "/x/web-interface/view/detail?bvid=x", nil, nil, "")
	require.NoError(t, err)
	assert.Empty(t, plain)
}

func TestSearchSignsWbi(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/x/web-interface/wbi/search/type", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.NotEmpty(t, q.Get("w_rid"))
		assert.NotEmpty(t, q.Get("wts"))
		assert.Equal(t, "2", q.Get("page"))
		writeBody(w, 0, map[string]any{
			"page": 2, "numPages": 5,
			"result": []map[string]any{
				{"type": "video", "aid": 170001, "bvid": "BV17x411w7KC", "title": `<em class="keyword">露营</em>攻略`,
					"author": "up主", "mid": 7, "pic": "//i0.hdslb.com/a.jpg", "play": 1200, "like": 300,
					"favorites": 40, "review": 12, "pubdate": 1700000000, "tag": "户外,露营"},
				{"type": "ketang", "aid": 1},
			},
		})
	})
	c := newTestClient(t, mux)

	page, err := c.Search(context.Background(), "露营", 2, interfaces.SearchOptions{PageSize: 20})
	require.NoError(t, err)
	assert.True(t, page.HasMore)
	require.Len(t, page.Items, 1)
	item := page.Items[0]
	assert.Equal(t, "BV17x411w7KC", item.ContentID)
	assert.Equal(t, "露营攻略", item.Title)
	assert.True(t, item.Partial)
	assert.Equal(t, "170001", item.Tokens["aid"])
	assert.Equal(t, []string{"https://i0.hdslb.com/a.jpg"}, []string(item.MediaURLs))
	assert.Equal(t, []string{"户外", "露营"}, []string(item.TagList))
}

func TestGetContent(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/x/web-interface/view/detail", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("bvid") {
		case "BV17x411w7KC":
			writeBody(w, 0, map[string]any{
				"View": map[string]any{"aid": 170001, "bvid": "BV17x411w7KC", "title": "标题", "desc": "简介",
					"pubdate": 1700000000, "owner": map[string]any{"mid": 7, "name": "up主", "face": "f.jpg"},
					"stat": map[string]any{"view": 9000, "like": 800, "favorite": 90, "reply": 30, "share": 5}},
				"Tags": []map[string]any{{"tag_name": "户外"}},
			})
		default:
			writeBody(w, -404, nil)
		}
	})
	c := newTestClient(t, mux)

	got, err := c.GetContent(context.Background(), model.ContentRef{ID: "BV17x411w7KC"})
	require.NoError(t, err)
	assert.Equal(t, int64(800), got.LikeCount)
	assert.Equal(t, int64(9000), got.ViewCount)
	assert.Equal(t, "7", got.AuthorID)
	assert.Equal(t, "https://www.bilibili.com/video/BV17x411w7KC", got.ContentURL)

	_, err = c.GetContent(context.Background(), model.ContentRef{ID: "BV1xx411c7mD"})
	assert.ErrorIs(t, err, crawlerr.ErrNotFound)
}

func TestCommentsUseAid(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/x/v2/reply/wbi/main", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "170001", q.Get("oid"))
		var p map[string]string
		require.NoError(t, json.Unmarshal([]byte(q.Get("pagination_str")), &p))
		assert.Equal(t, "", p["offset"])
		writeBody(w, 0, map[string]any{
			"cursor": map[string]any{"is_end": false, "pagination_reply": map[string]any{"next_offset": "CURSOR2"}},
			"replies": []map[string]any{{
				"rpid": 11, "oid": 170001, "root": 0, "ctime": 1700000100, "like": 9, "rcount": 2,
				"content":       map[string]any{"message": "第一"},
				"member":        map[string]any{"mid": "55", "uname": "观众"},
				"reply_control": map[string]any{"location": "IP属地：上海"},
			}},
		})
	})
	mux.HandleFunc("/x/v2/reply/reply", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "170001", q.Get("oid"))
		assert.Equal(t, "11", q.Get("root"))
		writeBody(w, 0, map[string]any{
			"page":    map[string]any{"num": 1, "size": 1, "count": 2},
			"replies": []map[string]any{{"rpid": 12, "oid": 170001, "root": 11, "content": map[string]any{"message": "回复"}}},
		})
	})
	c := newTestClient(t, mux)

	roots, err := c.GetRootComments(context.Background(), model.ContentRef{ID: "BV17x411w7KC"}, "", 20)
	require.NoError(t, err)
	assert.True(t, roots.HasMore)
	assert.Equal(t, "CURSOR2", roots.Cursor)
	require.Len(t, roots.Comments, 1)
	root := roots.Comments[0]
	assert.True(t, root.IsRoot())
	assert.Equal(t, "上海", root.IPLocation)
	assert.Equal(t, "BV17x411w7KC", root.ContentID)

	children, err := c.GetChildComments(context.Background(), root, "", 1)
	require.NoError(t, err)
	assert.True(t, children.HasMore)
	assert.Equal(t, "2", children.Cursor)
	require.Len(t, children.Comments, 1)
	assert.Equal(t, "11", children.Comments[0].ParentCommentID)
}

func TestRateLimitCode(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/x/web-interface/view/detail", func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, -412, nil)
	})
	c := newTestClient(t, mux)
	_, err := c.GetContent(context.Background(), model.ContentRef{ID: "170001"})
	assert.ErrorIs(t, err, crawlerr.ErrRateLimited)
}

func TestCreatorAndArchive(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/x/web-interface/card", func(w http.ResponseWriter, r *http.Request) {
		writeBody(w, 0, map[string]any{
			"card":          map[string]any{"mid": "7", "name": "up主", "sex": "保密", "sign": "签名", "attention": 10},
			"follower":      52000,
			"archive_count": 31,
			"like_num":      880000,
		})
	})
	mux.HandleFunc("/x/space/wbi/arc/search", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "7", r.URL.Query().Get("mid"))
		assert.NotEmpty(t, r.URL.Query().Get("w_rid"))
		writeBody(w, 0, map[string]any{
			"list": map[string]any{"vlist": []map[string]any{{"aid": 170001, "bvid": "BV17x411w7KC", "title": "投稿", "created": 1700000000, "play": 10}}},
			"page": map[string]any{"pn": 1, "ps": 30, "count": 31},
		})
	})
	c := newTestClient(t, mux)

	creator, err := c.GetCreator(context.Background(), model.CreatorRef{ID: "7"})
	require.NoError(t, err)
	assert.Equal(t, int64(52000), creator.FollowerCount)
	assert.Equal(t, int64(31), creator.ContentCount)
	assert.Empty(t, creator.Gender)

	page, err := c.ListCreatorContent(context.Background(), creator, "", 30)
	require.NoError(t, err)
	assert.True(t, page.HasMore)
	assert.Equal(t, "2", page.Cursor)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "BV17x411w7KC", page.Items[0].ContentID)
}

func TestPingReadsNav(t *testing.T) {
	c := newTestClient(t, http.NewServeMux())
	ok, err := c.Ping(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAidOf(t *testing.T) {
	assert.Equal(t, "99", aidOf("BV17x411w7KC", map[string]string{"aid": "99"}))
	assert.Equal(t, "170001", aidOf("BV17x411w7KC", nil))
	assert.Equal(t, "170001", aidOf("av170001", nil))
}
