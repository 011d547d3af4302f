// Package weibo 微博移动端（m.weibo.cn）客户端
package weibo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"SocialSync/internal/adapter"
	"SocialSync/internal/crawlerr"
	"SocialSync/internal/interfaces"
	"SocialSync/internal/model"
)

func init() {
	adapter.Register(model.PlatformWeibo, New)
}

// Client 微博 PlatformClient
type Client struct {
	req    *adapter.Requester
	logger *logrus.Logger
	now    func() time.Time
}

var _ interfaces.PlatformClient = (*Client)(nil)

func New(deps adapter.Deps) (interfaces.PlatformClient, error) {
	return &Client{
		req:    adapter.NewRequester(model.PlatformWeibo, deps, decodeEnvelope),
		logger: deps.Logger,
		now:    time.Now,
	}, nil
}

func (c *Client) Platform() model.PlatformType {
	return model.PlatformWeibo
}

func (c *Client) container(ctx context.Context, op string, q url.Values, out *containerData) error {
	return c.req.Do(ctx, adapter.Request{
		Op:     op,
		URL:    "/api/container/getIndex",
		Query:  q,
		NoSign: true,
	}, out)
}

// Search 综合搜索，页码从 1 开始
func (c *Client) Search(ctx context.Context, keyword string, page int, opts interfaces.SearchOptions) (interfaces.ContentPage, error) {
	searchType := opts.Sort
	if searchType == "" {
		searchType = "1"
	}
	q := url.Values{}
	q.Set("containerid", fmt.Sprintf("100103type=%s&q=%s", searchType, keyword))
	q.Set("page_type", "searchall")
	q.Set("page", strconv.Itoa(page))

	var res containerData
	if err := c.container(ctx, "search", q, &res); err != nil {
		return interfaces.ContentPage{}, err
	}
	items := mblogs(res.Cards)
	out := interfaces.ContentPage{HasMore: len(items) > 0}
	now := c.now()
	for _, m := range items {
		if m.ID == "" && m.MID == "" {
			continue
		}
		out.Items = append(out.Items, toContent(m, now))
	}
	return out, nil
}

// GetContent 详情只能从页面的 $render_data 里取
func (c *Client) GetContent(ctx context.Context, ref model.ContentRef) (*model.Content, error) {
	page, err := c.req.HTML(ctx, "detail", c.req.HomeURL()+"/detail/"+ref.ID)
	if err != nil {
		return nil, err
	}
	raw, err := adapter.ScriptJSON(page, "$render_data")
	if err != nil {
		return nil, fmt.Errorf("wb detail %s: %w", ref.ID, crawlerr.ErrNotFound)
	}
	var data []struct {
		Status *mblog `json:"status"`
	}
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, fmt.Errorf("%w: wb detail %s: %v", crawlerr.ErrDataFetch, ref.ID, err)
	}
	if len(data) == 0 || data[0].Status == nil {
		return nil, fmt.Errorf("wb detail %s: %w", ref.ID, crawlerr.ErrNotFound)
	}
	content := toContent(data[0].Status, c.now())
	content.Partial = false
	return content, nil
}

// commentsRaw 评论为空时接口返回 ok=0，这里按空页处理
func (c *Client) commentsRaw(ctx context.Context, op, path string, q url.Values, referer string) ([]byte, error) {
	var body []byte
	err := c.req.Do(ctx, adapter.Request{
		Op:       op,
		URL:      path,
		Query:    q,
		Comments: true,
		Raw:      true,
		NoSign:   true,
		Headers:  map[string]string{"Referer": referer},
	}, &body)
	return body, err
}

// GetRootComments 游标为 max_id，0 表示到底
func (c *Client) GetRootComments(ctx context.Context, ref model.ContentRef, cursor string, limit int) (interfaces.CommentPage, error) {
	q := url.Values{}
	q.Set("id", ref.ID)
	q.Set("mid", ref.ID)
	q.Set("max_id_type", "0")
	if cursor != "" && cursor != "0" {
		q.Set("max_id", cursor)
	}
	body, err := c.commentsRaw(ctx, "comments", "/comments/hotflow", q, c.req.HomeURL()+"/detail/"+ref.ID)
	if err != nil || len(body) == 0 {
		return interfaces.CommentPage{}, err
	}
	var env struct {
		OK   int `json:"ok"`
		Data struct {
			Data  []comment `json:"data"`
			MaxID any       `json:"max_id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return interfaces.CommentPage{}, fmt.Errorf("%w: wb comments: %v", crawlerr.ErrDataFetch, err)
	}
	if env.OK != 1 {
		return interfaces.CommentPage{}, nil
	}
	out := interfaces.CommentPage{Cursor: idString(env.Data.MaxID)}
	out.HasMore = out.Cursor != "" && out.Cursor != "0"
	now := c.now()
	for _, cm := range env.Data.Data {
		out.Comments = append(out.Comments, toComment(cm, ref.ID, "", now))
	}
	return out, nil
}

// GetChildComments 楼中楼，返回结构与一级评论不同：data 直接是数组
func (c *Client) GetChildComments(ctx context.Context, root *model.Comment, cursor string, limit int) (interfaces.CommentPage, error) {
	q := url.Values{}
	q.Set("cid", root.CommentID)
	q.Set("max_id_type", "0")
	q.Set("max_id", "0")
	if cursor != "" {
		q.Set("max_id", cursor)
	}
	body, err := c.commentsRaw(ctx, "sub_comments", "/comments/hotFlowChild", q, c.req.HomeURL()+"/detail/"+root.ContentID)
	if err != nil || len(body) == 0 {
		return interfaces.CommentPage{}, err
	}
	var env struct {
		OK    int       `json:"ok"`
		Data  []comment `json:"data"`
		MaxID any       `json:"max_id"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return interfaces.CommentPage{}, fmt.Errorf("%w: wb sub comments: %v", crawlerr.ErrDataFetch, err)
	}
	if env.OK != 1 {
		return interfaces.CommentPage{}, nil
	}
	out := interfaces.CommentPage{Cursor: idString(env.MaxID)}
	out.HasMore = out.Cursor != "" && out.Cursor != "0"
	now := c.now()
	for _, cm := range env.Data {
		out.Comments = append(out.Comments, toComment(cm, root.ContentID, root.CommentID, now))
	}
	return out, nil
}

// GetCreator 用户资料容器 100505<uid>
func (c *Client) GetCreator(ctx context.Context, ref model.CreatorRef) (*model.Creator, error) {
	q := url.Values{}
	q.Set("containerid", "100505"+ref.ID)
	var res containerData
	if err := c.container(ctx, "creator", q, &res); err != nil {
		return nil, err
	}
	if res.UserInfo == nil {
		return nil, fmt.Errorf("wb creator %s: %w", ref.ID, crawlerr.ErrNotFound)
	}
	return toCreator(res.UserInfo, ref.ID), nil
}

// ListCreatorContent 微博列表容器 107603<uid>，游标为 since_id
func (c *Client) ListCreatorContent(ctx context.Context, creator *model.Creator, cursor string, limit int) (interfaces.ContentPage, error) {
	q := url.Values{}
	q.Set("containerid", "107603"+creator.UserID)
	if cursor != "" {
		q.Set("since_id", cursor)
	}
	var res containerData
	if err := c.container(ctx, "creator_posts", q, &res); err != nil {
		return interfaces.ContentPage{}, err
	}
	out := interfaces.ContentPage{Cursor: idString(res.CardlistInfo.SinceID)}
	out.HasMore = out.Cursor != "" && out.Cursor != "0"
	now := c.now()
	for _, m := range mblogs(res.Cards) {
		out.Items = append(out.Items, toContent(m, now))
	}
	return out, nil
}

func (c *Client) FetchMedia(ctx context.Context, u string) ([]byte, error) {
	return c.req.Fetch(ctx, u)
}

func (c *Client) Ping(ctx context.Context) (bool, error) {
	if err := c.req.SyncCookies(ctx); err != nil {
		return false, err
	}
	var res struct {
		Login bool `json:"login"`
	}
	if err := c.req.Do(ctx, adapter.Request{Op: "ping", URL: "/api/config", NoSign: true}, &res); err != nil {
		return false, err
	}
	return res.Login, nil
}

func (c *Client) RefreshCookies(ctx context.Context) error {
	return c.req.RefreshCookies(ctx)
}
