// Package bilibili B站客户端，wbi 接口在进程内签名，不依赖浏览器
package bilibili

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"SocialSync/internal/adapter"
	"SocialSync/internal/crawlerr"
	"SocialSync/internal/interfaces"
	"SocialSync/internal/model"
)

func init() {
	adapter.Register(model.PlatformBilibili, New)
}

// Client B站 PlatformClient
type Client struct {
	req    *adapter.Requester
	logger *logrus.Logger
}

var _ interfaces.PlatformClient = (*Client)(nil)

func New(deps adapter.Deps) (interfaces.PlatformClient, error) {
	c := &Client{logger: deps.Logger}
	if deps.Signer == nil {
		deps.Signer = NewWbiSigner(c.wbiKeys)
	}
	c.req = adapter.NewRequester(model.PlatformBilibili, deps, decodeEnvelope)
	return c, nil
}

func (c *Client) Platform() model.PlatformType {
	return model.PlatformBilibili
}

func (c *Client) get(ctx context.Context, op, path string, q url.Values, comments bool, out any) error {
	return c.req.Do(ctx, adapter.Request{
		Op:        op,
		URL:       path,
		Query:     q,
		Comments:  comments,
		SignQuery: []string{"wts", "w_rid"},
	}, out)
}

type navInfo struct {
	IsLogin bool `json:"isLogin"`
	WbiImg  struct {
		ImgURL string `json:"img_url"`
		SubURL string `json:"sub_url"`
	} `json:"wbi_img"`
}

// nav 未登录时 code=-101 但仍返回 wbi_img，所以不走信封解码
func (c *Client) nav(ctx context.Context) (navInfo, error) {
	var body []byte
	err := c.req.Do(ctx, adapter.Request{Op: "nav", URL: "/x/web-interface/nav", Raw: true, NoSign: true}, &body)
	if err != nil {
		return navInfo{}, err
	}
	var env struct {
		Data navInfo `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return navInfo{}, fmt.Errorf("%w: nav: %v", crawlerr.ErrDataFetch, err)
	}
	return env.Data, nil
}

func (c *Client) wbiKeys(ctx context.Context) (string, string, error) {
	info, err := c.nav(ctx)
	if err != nil {
		return "", "", err
	}
	return info.WbiImg.ImgURL, info.WbiImg.SubURL, nil
}

// aidOf 评论接口需要数字 aid
func aidOf(id string, tokens map[string]string) string {
	if aid := tokens["aid"]; aid != "" && aid != "0" {
		return aid
	}
	if strings.HasPrefix(strings.ToUpper(id), "BV") {
		if aid := BV2AV(id); aid > 0 {
			return strconv.FormatInt(aid, 10)
		}
	}
	return strings.TrimPrefix(strings.ToLower(id), "av")
}

func (c *Client) Search(ctx context.Context, keyword string, page int, opts interfaces.SearchOptions) (interfaces.ContentPage, error) {
	size := opts.PageSize
	if size <= 0 || size > 50 {
		size = 20
	}
	q := url.Values{}
	q.Set("search_type", "video")
	q.Set("keyword", keyword)
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(size))
	if opts.Sort != "" {
		q.Set("order", opts.Sort)
	}
	var res searchResult
	if err := c.get(ctx, "search", "/x/web-interface/wbi/search/type", q, false, &res); err != nil {
		return interfaces.ContentPage{}, err
	}
	out := interfaces.ContentPage{HasMore: res.Page < res.NumPages}
	for _, v := range res.Result {
		if v.Type != "" && v.Type != "video" {
			continue
		}
		if v.Bvid == "" && v.Aid == 0 {
			continue
		}
		out.Items = append(out.Items, searchToContent(v))
	}
	return out, nil
}

// GetContent 支持 BV 号与 av 数字号
func (c *Client) GetContent(ctx context.Context, ref model.ContentRef) (*model.Content, error) {
	q := url.Values{}
	if strings.HasPrefix(strings.ToUpper(ref.ID), "BV") {
		q.Set("bvid", ref.ID)
	} else {
		q.Set("aid", strings.TrimPrefix(strings.ToLower(ref.ID), "av"))
	}
	var res viewDetail
	if err := c.get(ctx, "detail", "/x/web-interface/view/detail", q, false, &res); err != nil {
		return nil, err
	}
	if res.View.Bvid == "" && res.View.Aid == 0 {
		return nil, fmt.Errorf("bili video %s: %w", ref.ID, crawlerr.ErrNotFound)
	}
	return toContent(res), nil
}

// GetRootComments 游标为 pagination_str 的 offset
func (c *Client) GetRootComments(ctx context.Context, ref model.ContentRef, cursor string, limit int) (interfaces.CommentPage, error) {
	pagination, _ := json.Marshal(map[string]string{"offset": cursor})
	q := url.Values{}
	q.Set("oid", aidOf(ref.ID, ref.Tokens))
	q.Set("type", "1")
	q.Set("mode", "3")
	q.Set("plat", "1")
	q.Set("pagination_str", string(pagination))

	var res mainReplies
	if err := c.get(ctx, "comments", "/x/v2/reply/wbi/main", q, true, &res); err != nil {
		return interfaces.CommentPage{}, err
	}
	out := interfaces.CommentPage{
		HasMore: !res.Cursor.IsEnd && res.Cursor.PaginationReply.NextOffset != "",
		Cursor:  res.Cursor.PaginationReply.NextOffset,
	}
	for _, r := range res.Replies {
		cm := toComment(r, ref.ID)
		cm.ParentCommentID = ""
		out.Comments = append(out.Comments, cm)
	}
	return out, nil
}

// GetChildComments 楼中楼按页码翻页，游标即页码
func (c *Client) GetChildComments(ctx context.Context, root *model.Comment, cursor string, limit int) (interfaces.CommentPage, error) {
	pn := 1
	if n, err := strconv.Atoi(cursor); err == nil && n > 0 {
		pn = n
	}
	ps := limit
	if ps <= 0 || ps > 20 {
		ps = 10
	}
	oid := ""
	if v, ok := root.Extra["oid"].(string); ok {
		oid = v
	}
	if oid == "" || oid == "0" {
		oid = aidOf(root.ContentID, nil)
	}
	q := url.Values{}
	q.Set("oid", oid)
	q.Set("type", "1")
	q.Set("root", root.CommentID)
	q.Set("pn", strconv.Itoa(pn))
	q.Set("ps", strconv.Itoa(ps))

	var res childReplies
	if err := c.req.Do(ctx, adapter.Request{
		Op:       "sub_comments",
		URL:      "/x/v2/reply/reply",
		Query:    q,
		Comments: true,
		NoSign:   true,
	}, &res); err != nil {
		return interfaces.CommentPage{}, err
	}
	out := interfaces.CommentPage{}
	if res.Page.Size > 0 && res.Page.Num*res.Page.Size < res.Page.Count {
		out.HasMore = true
		out.Cursor = strconv.Itoa(pn + 1)
	}
	for _, r := range res.Replies {
		cm := toComment(r, root.ContentID)
		cm.ParentCommentID = root.CommentID
		out.Comments = append(out.Comments, cm)
	}
	return out, nil
}

func (c *Client) GetCreator(ctx context.Context, ref model.CreatorRef) (*model.Creator, error) {
	q := url.Values{}
	q.Set("mid", ref.ID)
	q.Set("photo", "true")
	var res card
	if err := c.req.Do(ctx, adapter.Request{Op: "creator", URL: "/x/web-interface/card", Query: q, NoSign: true}, &res); err != nil {
		return nil, err
	}
	if res.Card.Mid == "" && res.Card.Name == "" {
		return nil, fmt.Errorf("bili creator %s: %w", ref.ID, crawlerr.ErrNotFound)
	}
	return toCreator(res, ref.ID), nil
}

// ListCreatorContent 投稿列表按页码翻页
func (c *Client) ListCreatorContent(ctx context.Context, creator *model.Creator, cursor string, limit int) (interfaces.ContentPage, error) {
	pn := 1
	if n, err := strconv.Atoi(cursor); err == nil && n > 0 {
		pn = n
	}
	ps := limit
	if ps <= 0 || ps > 30 {
		ps = 30
	}
	q := url.Values{}
	q.Set("mid", creator.UserID)
	q.Set("pn", strconv.Itoa(pn))
	q.Set("ps", strconv.Itoa(ps))
	q.Set("order", "pubdate")

	var res arcSearch
	if err := c.get(ctx, "creator_posts", "/x/space/wbi/arc/search", q, false, &res); err != nil {
		return interfaces.ContentPage{}, err
	}
	out := interfaces.ContentPage{}
	if res.Page.Ps > 0 && res.Page.Pn*res.Page.Ps < res.Page.Count {
		out.HasMore = true
		out.Cursor = strconv.Itoa(pn + 1)
	}
	for _, a := range res.List.Vlist {
		out.Items = append(out.Items, arcToContent(a))
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
	info, err := c.nav(ctx)
	if err != nil {
		return false, err
	}
	return info.IsLogin, nil
}

func (c *Client) RefreshCookies(ctx context.Context) error {
	return c.req.RefreshCookies(ctx)
}
