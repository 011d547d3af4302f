package xhs

import (
	"encoding/json"
	"fmt"
	"strings"
	"unicode"

	"SocialSync/internal/adapter"
	"SocialSync/internal/hot"
	"SocialSync/internal/model"
)

const (
	webHost  = "https://www.xiaohongshu.com"
	videoCDN = "http://sns-video-bd.xhscdn.com/"
)

// envelope 小红书接口统一外层
type envelope struct {
	Success bool            `json:"success"`
	Code    int             `json:"code"`
	Msg     string          `json:"msg"`
	Data    json.RawMessage `json:"data"`
}

type userInfo struct {
	UserID   string `json:"user_id"`
	Nickname string `json:"nickname"`
	Avatar   string `json:"avatar"`
	Image    string `json:"image"`
}

type interactInfo struct {
	LikedCount     any `json:"liked_count"`
	CollectedCount any `json:"collected_count"`
	CommentCount   any `json:"comment_count"`
	ShareCount     any `json:"share_count"`
}

type noteCard struct {
	NoteID       string       `json:"note_id"`
	Type         string       `json:"type"` // normal / video
	Title        string       `json:"title"`
	DisplayTitle string       `json:"display_title"`
	Desc         string       `json:"desc"`
	Time         int64        `json:"time"` // 毫秒
	IPLocation   string       `json:"ip_location"`
	XsecToken    string       `json:"xsec_token"`
	User         userInfo     `json:"user"`
	InteractInfo interactInfo `json:"interact_info"`
	ImageList    []struct {
		URLDefault string `json:"url_default"`
		URL        string `json:"url"`
	} `json:"image_list"`
	Cover struct {
		URLDefault string `json:"url_default"`
	} `json:"cover"`
	TagList []struct {
		Name string `json:"name"`
		Type string `json:"type"`
	} `json:"tag_list"`
	Video *struct {
		Consumer struct {
			OriginVideoKey string `json:"origin_video_key"`
		} `json:"consumer"`
	} `json:"video"`
}

type searchItem struct {
	ID        string   `json:"id"`
	ModelType string   `json:"model_type"`
	XsecToken string   `json:"xsec_token"`
	NoteCard  noteCard `json:"note_card"`
}

type commentItem struct {
	ID                string   `json:"id"`
	NoteID            string   `json:"note_id"`
	Content           string   `json:"content"`
	CreateTime        int64    `json:"create_time"`
	IPLocation        string   `json:"ip_location"`
	LikeCount         any      `json:"like_count"`
	SubCommentCount   any      `json:"sub_comment_count"`
	UserInfo          userInfo `json:"user_info"`
	SubCommentCursor  string   `json:"sub_comment_cursor"`
	SubCommentHasMore bool     `json:"sub_comment_has_more"`
	Pictures          []struct {
		URLDefault string `json:"url_default"`
	} `json:"pictures"`
	TargetComment struct {
		ID string `json:"id"`
	} `json:"target_comment"`
}

type commentPage struct {
	Comments []commentItem `json:"comments"`
	Cursor   string        `json:"cursor"`
	HasMore  bool          `json:"has_more"`
}

// userPageData 主页 __INITIAL_STATE__.user.userPageData
type userPageData struct {
	BasicInfo struct {
		Nickname   string `json:"nickname"`
		RedID      string `json:"redId"`
		Gender     int    `json:"gender"`
		Images     string `json:"images"`
		Desc       string `json:"desc"`
		IPLocation string `json:"ipLocation"`
	} `json:"basicInfo"`
	Interactions []struct {
		Type  string `json:"type"`
		Count any    `json:"count"`
	} `json:"interactions"`
	Tags []struct {
		TagType string `json:"tagType"`
		Name    string `json:"name"`
	} `json:"tags"`
}

// decodeEnvelope success=false 时按业务码分类
func decodeEnvelope(body []byte, out any) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return err
	}
	if !env.Success {
		return classify(env.Code, env.Msg)
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

// noteURL 详情页地址（带 xsec_token 才能打开）
func noteURL(id, token string) string {
	u := webHost + "/explore/" + id
	if token != "" {
		u += "?xsec_token=" + token + "&xsec_source=pc_search"
	}
	return u
}

// toContent 详情/列表卡片转为统一模型
func toContent(n noteCard, id, token string, partial bool) *model.Content {
	if id == "" {
		id = n.NoteID
	}
	if token == "" {
		token = n.XsecToken
	}
	title := n.Title
	if title == "" {
		title = n.DisplayTitle
	}
	body := adapter.CleanText(n.Desc)
	if title == "" {
		title = truncate(body, 255)
	}

	c := &model.Content{
		Platform:        model.PlatformXHS,
		ContentID:       id,
		ContentType:     model.ContentPost,
		AuthorID:        n.User.UserID,
		AuthorName:      n.User.Nickname,
		AuthorAvatarURL: firstNonEmpty(n.User.Avatar, n.User.Image),
		Title:           title,
		BodyText:        body,
		ContentURL:      noteURL(id, token),
		IPLocation:      n.IPLocation,
		CreatedAt:       n.Time / 1000,
		LikeCount:       hot.ParseCount(n.InteractInfo.LikedCount),
		CollectCount:    hot.ParseCount(n.InteractInfo.CollectedCount),
		CommentCount:    hot.ParseCount(n.InteractInfo.CommentCount),
		ShareCount:      hot.ParseCount(n.InteractInfo.ShareCount),
		Extra:           map[string]any{"note_type": n.Type},
		Partial:         partial,
	}
	if token != "" {
		c.Tokens = map[string]string{"xsec_token": token}
	}
	for _, img := range n.ImageList {
		if u := firstNonEmpty(img.URLDefault, img.URL); u != "" {
			c.MediaURLs = append(c.MediaURLs, u)
		}
	}
	if len(c.MediaURLs) == 0 && n.Cover.URLDefault != "" {
		c.MediaURLs = append(c.MediaURLs, n.Cover.URLDefault)
	}
	if n.Type == "video" {
		c.ContentType = model.ContentVideo
		if n.Video != nil && n.Video.Consumer.OriginVideoKey != "" {
			c.MediaURLs = append(c.MediaURLs, videoCDN+n.Video.Consumer.OriginVideoKey)
		}
	}
	for _, tag := range n.TagList {
		if tag.Type == "topic" {
			c.TagList = append(c.TagList, tag.Name)
		}
	}
	return c
}

func toComment(item commentItem, contentID string) *model.Comment {
	if item.NoteID != "" {
		contentID = item.NoteID
	}
	c := &model.Comment{
		Platform:        model.PlatformXHS,
		CommentID:       item.ID,
		ParentCommentID: item.TargetComment.ID,
		ContentID:       contentID,
		AuthorID:        item.UserInfo.UserID,
		AuthorName:      item.UserInfo.Nickname,
		AuthorAvatarURL: firstNonEmpty(item.UserInfo.Image, item.UserInfo.Avatar),
		BodyText:        adapter.CleanText(item.Content),
		LikeCount:       hot.ParseCount(item.LikeCount),
		SubCommentCount: hot.ParseCount(item.SubCommentCount),
		IPLocation:      item.IPLocation,
		CreatedAt:       item.CreateTime / 1000,
		ChildHasMore:    item.SubCommentHasMore,
	}
	var pics []string
	for _, p := range item.Pictures {
		if p.URLDefault != "" {
			pics = append(pics, p.URLDefault)
		}
	}
	if len(pics) > 0 {
		c.Extra = map[string]any{"pictures": pics}
	}
	return c
}

func toCreator(userID string, data userPageData) *model.Creator {
	b := data.BasicInfo
	c := &model.Creator{
		Platform:   model.PlatformXHS,
		UserID:     userID,
		Handle:     b.RedID,
		Nickname:   b.Nickname,
		AvatarURL:  b.Images,
		Bio:        adapter.CleanText(b.Desc),
		IPLocation: b.IPLocation,
		Gender:     "男",
	}
	if b.Gender == 1 {
		c.Gender = "女"
	}
	for _, i := range data.Interactions {
		switch i.Type {
		case "follows":
			c.FollowingCount = hot.ParseCount(i.Count)
		case "fans":
			c.FollowerCount = hot.ParseCount(i.Count)
		case "interaction":
			c.InteractionCount = hot.ParseCount(i.Count)
		}
	}
	if len(data.Tags) > 0 {
		tags := make(map[string]any, len(data.Tags))
		for _, t := range data.Tags {
			tags[t.TagType] = t.Name
		}
		c.Extra = map[string]any{"tags": tags}
	}
	return c
}

// noteFromHTML 从详情页 __INITIAL_STATE__ 取笔记，键名为驼峰需转下划线
func noteFromHTML(page, noteID string) (*noteCard, error) {
	if !strings.Contains(page, "noteDetailMap") {
		return nil, nil
	}
	payload, err := adapter.ScriptJSON(page, "window.__INITIAL_STATE__")
	if err != nil {
		return nil, err
	}
	var state struct {
		Note struct {
			NoteDetailMap map[string]struct {
				Note json.RawMessage `json:"note"`
			} `json:"noteDetailMap"`
		} `json:"note"`
	}
	if err := json.Unmarshal([]byte(payload), &state); err != nil {
		return nil, fmt.Errorf("解析页面状态失败: %w", err)
	}
	entry, ok := state.Note.NoteDetailMap[noteID]
	if !ok || len(entry.Note) == 0 || string(entry.Note) == "null" {
		return nil, nil
	}
	var raw any
	if err := json.Unmarshal(entry.Note, &raw); err != nil {
		return nil, err
	}
	snake, err := json.Marshal(decamelize(raw))
	if err != nil {
		return nil, err
	}
	var card noteCard
	if err := json.Unmarshal(snake, &card); err != nil {
		return nil, err
	}
	if card.NoteID == "" {
		return nil, nil
	}
	return &card, nil
}

// creatorFromHTML 主页 __INITIAL_STATE__.user.userPageData
func creatorFromHTML(page string) (*userPageData, error) {
	payload, err := adapter.ScriptJSON(page, "window.__INITIAL_STATE__")
	if err != nil {
		return nil, err
	}
	var state struct {
		User struct {
			UserPageData *userPageData `json:"userPageData"`
		} `json:"user"`
	}
	if err := json.Unmarshal([]byte(payload), &state); err != nil {
		return nil, fmt.Errorf("解析页面状态失败: %w", err)
	}
	return state.User.UserPageData, nil
}

// decamelize 递归把 map 键从 camelCase 转为 snake_case
func decamelize(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[snakeCase(k)] = decamelize(val)
		}
		return out
	case []any:
		for i := range t {
			t[i] = decamelize(t[i])
		}
		return t
	}
	return v
}

func snakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
