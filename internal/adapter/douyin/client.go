// Package douyin 抖音客户端
package douyin

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/sirupsen/logrus"

	"SocialSync/internal/adapter"
	"SocialSync/internal/crawlerr"
	"SocialSync/internal/interfaces"
	"SocialSync/internal/model"
)

func init() {
	adapter.Register(model.PlatformDouyin, New)
}

// Client 抖音 PlatformClient
type Client struct {
	req    *adapter.Requester
	logger *logrus.Logger
}

var _ interfaces.PlatformClient = (*Client)(nil)

func New(deps adapter.Deps) (interfaces.PlatformClient, error) {
	return &Client{
		req:    adapter.NewRequester(model.PlatformDouyin, deps, decodeEnvelope),
		logger: deps.Logger,
	}, nil
}

func (c *Client) Platform() model.PlatformType {
	return model.PlatformDouyin
}

// commonParams 网页端公共参数
func (c *Client) commonParams(q url.Values) url.Values {
	if q == nil {
		q = url.Values{}
	}
	common := map[string]string{
		"device_platform":  "webapp",
		"aid":              "6383",
		"channel":          "channel_pc_web",
		"version_code":     "190600",
		"version_name":     "19.6.0",
		"pc_client_type":   "1",
		"cookie_enabled":   "true",
		"browser_language": "zh-CN",
		"browser_platform": "MacIntel",
		"browser_name":     "Chrome",
		"browser_version":  "125.0.0.0",
		"browser_online":   "true",
		"engine_name":      "Blink",
		"os_name":          "Mac OS",
		"os_version":       "10.15.7",
		"platform":         "PC",
	}
	for k, v := range common {
		q.Set(k, v)
	}
	if ms := c.req.Jar().Get("msToken"); ms != "" {
		q.Set("msToken", ms)
	}
	return q
}

func (c *Client) get(ctx context.Context, op, path string, q url.Values, comments bool, out any) error {
	return c.req.Do(ctx, adapter.Request{
		Op:        op,
		URL:       path,
		Query:     c.commonParams(q),
		Comments:  comments,
		SignQuery: []string{"a_bogus"},
	}, out)
}

// Search 综合搜索；翻页用 offset，search_id 通过游标在页间传递
func (c *Client) Search(ctx context.Context, keyword string, page int, opts interfaces.SearchOptions) (interfaces.ContentPage, error) {
	count := opts.PageSize
	if count <= 0 {
		count = 15
	}
	q := url.Values{}
	q.Set("search_channel", "aweme_general")
	q.Set("enable_history", "1")
	q.Set("keyword", keyword)
	q.Set("search_source", "tab_search")
	q.Set("query_correct_type", "1")
	q.Set("is_filter_search", "0")
	q.Set("offset", strconv.Itoa((page-1)*count))
	q.Set("count", strconv.Itoa(count))
	q.Set("need_filter_settings", "1")
	q.Set("list_type", "multi")
	q.Set("search_id", opts.Cursor)
	if opts.Sort != "" {
		q.Set("filter_selected", fmt.Sprintf(`{"sort_type":"%s","publish_time":"0"}`, opts.Sort))
		q.Set("is_filter_search", "1")
	}

	var res struct {
		Data []struct {
			AwemeInfo    *aweme `json:"aweme_info"`
			AwemeMixInfo *struct {
				MixItems []aweme `json:"mix_items"`
			} `json:"aweme_mix_info"`
		} `json:"data"`
		HasMore any `json:"has_more"`
		Extra   struct {
			LogID string `json:"logid"`
		} `json:"extra"`
	}
	// 搜索接口不需要 a_bogus
	err := c.req.Do(ctx, adapter.Request{
		Op:      "search",
		URL:     "/aweme/v1/web/general/search/single/",
		Query:   c.commonParams(q),
		NoSign:  true,
		Headers: map[string]string{"Referer": c.req.HomeURL() + "/search/" + url.PathEscape(keyword) + "?type=general"},
	}, &res)
	if err != nil {
		return interfaces.ContentPage{}, err
	}

	out := interfaces.ContentPage{HasMore: truthy(res.HasMore), Cursor: res.Extra.LogID}
	for _, item := range res.Data {
		var a *aweme
		switch {
		case item.AwemeInfo != nil:
			a = item.AwemeInfo
		case item.AwemeMixInfo != nil && len(item.AwemeMixInfo.MixItems) > 0:
			a = &item.AwemeMixInfo.MixItems[0]
		}
		if a == nil || a.AwemeID == "" {
			continue
		}
		out.Items = append(out.Items, toContent(*a))
	}
	return out, nil
}

func (c *Client) GetContent(ctx context.Context, ref model.ContentRef) (*model.Content, error) {
	q := url.Values{}
	q.Set("aweme_id", ref.ID)
	var res struct {
		AwemeDetail *aweme `json:"aweme_detail"`
	}
	if err := c.get(ctx, "detail", "/aweme/v1/web/aweme/detail/", q, false, &res); err != nil {
		return nil, err
	}
	if res.AwemeDetail == nil || res.AwemeDetail.AwemeID == "" {
		return nil, fmt.Errorf("dy aweme %s: %w", ref.ID, crawlerr.ErrNotFound)
	}
	return toContent(*res.AwemeDetail), nil
}

func (c *Client) GetRootComments(ctx context.Context, ref model.ContentRef, cursor string, limit int) (interfaces.CommentPage, error) {
	if cursor == "" {
		cursor = "0"
	}
	q := url.Values{}
	q.Set("aweme_id", ref.ID)
	q.Set("cursor", cursor)
	q.Set("count", strconv.Itoa(pageCount(limit)))
	q.Set("item_type", "0")

	var res commentPage
	if err := c.get(ctx, "comments", "/aweme/v1/web/comment/list/", q, true, &res); err != nil {
		return interfaces.CommentPage{}, err
	}
	out := interfaces.CommentPage{HasMore: truthy(res.HasMore), Cursor: cursorString(res.Cursor)}
	for _, cm := range res.Comments {
		out.Comments = append(out.Comments, toComment(cm, ref.ID, ""))
	}
	return out, nil
}

func (c *Client) GetChildComments(ctx context.Context, root *model.Comment, cursor string, limit int) (interfaces.CommentPage, error) {
	if cursor == "" {
		cursor = "0"
	}
	q := url.Values{}
	q.Set("comment_id", root.CommentID)
	q.Set("cursor", cursor)
	q.Set("count", strconv.Itoa(pageCount(limit)))
	q.Set("item_type", "0")
	q.Set("item_id", root.ContentID)

	var res commentPage
	if err := c.get(ctx, "sub_comments", "/aweme/v1/web/comment/list/reply/", q, true, &res); err != nil {
		return interfaces.CommentPage{}, err
	}
	out := interfaces.CommentPage{HasMore: truthy(res.HasMore), Cursor: cursorString(res.Cursor)}
	for _, cm := range res.Comments {
		out.Comments = append(out.Comments, toComment(cm, root.ContentID, root.CommentID))
	}
	return out, nil
}

// GetCreator 创作者资料，ID 为 sec_uid
func (c *Client) GetCreator(ctx context.Context, ref model.CreatorRef) (*model.Creator, error) {
	q := url.Values{}
	q.Set("sec_user_id", ref.ID)
	q.Set("publish_video_strategy_type", "2")
	q.Set("personal_center_strategy", "1")
	var res struct {
		User *profile `json:"user"`
	}
	if err := c.get(ctx, "creator", "/aweme/v1/web/user/profile/other/", q, false, &res); err != nil {
		return nil, err
	}
	if res.User == nil {
		return nil, fmt.Errorf("dy creator %s: %w", ref.ID, crawlerr.ErrNotFound)
	}
	return toCreator(*res.User, ref.ID), nil
}

// ListCreatorContent 作品列表，游标为 max_cursor
func (c *Client) ListCreatorContent(ctx context.Context, creator *model.Creator, cursor string, limit int) (interfaces.ContentPage, error) {
	if cursor == "" {
		cursor = "0"
	}
	count := limit
	if count <= 0 || count > 18 {
		count = 18
	}
	q := url.Values{}
	q.Set("sec_user_id", creator.UserID)
	q.Set("count", strconv.Itoa(count))
	q.Set("max_cursor", cursor)
	q.Set("locate_query", "false")
	q.Set("publish_video_strategy_type", "2")

	var res struct {
		AwemeList []aweme `json:"aweme_list"`
		HasMore   any     `json:"has_more"`
		MaxCursor any     `json:"max_cursor"`
	}
	if err := c.get(ctx, "creator_posts", "/aweme/v1/web/aweme/post/", q, false, &res); err != nil {
		return interfaces.ContentPage{}, err
	}
	out := interfaces.ContentPage{HasMore: truthy(res.HasMore), Cursor: cursorString(res.MaxCursor)}
	for _, a := range res.AwemeList {
		if a.AwemeID == "" {
			continue
		}
		out.Items = append(out.Items, toContent(a))
	}
	return out, nil
}

func (c *Client) FetchMedia(ctx context.Context, u string) ([]byte, error) {
	return c.req.Fetch(ctx, u)
}

// Ping 抖音没有轻量的登录态接口：先看 cookie LOGIN_STATUS，再看页面 localStorage
func (c *Client) Ping(ctx context.Context) (bool, error) {
	if err := c.req.SyncCookies(ctx); err != nil {
		return false, err
	}
	if c.req.Jar().Get("LOGIN_STATUS") == "1" {
		return true, nil
	}
	provider := c.req.Provider()
	if provider == nil {
		return false, nil
	}
	page, err := provider.Open(ctx, c.req.HomeURL())
	if err != nil {
		return false, err
	}
	defer page.Close()
	var flag *string
	if err := page.Evaluate(ctx, `window.localStorage.getItem("HasUserLogin")`, &flag); err != nil {
		return false, err
	}
	return flag != nil && *flag == "1", nil
}

func (c *Client) RefreshCookies(ctx context.Context) error {
	return c.req.RefreshCookies(ctx)
}

func pageCount(limit int) int {
	if limit <= 0 || limit > 20 {
		return 20
	}
	return limit
}
