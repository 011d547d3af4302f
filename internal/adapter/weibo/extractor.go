package weibo

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"SocialSync/internal/adapter"
	"SocialSync/internal/crawlerr"
	"SocialSync/internal/hot"
	"SocialSync/internal/model"
)

const createdAtLayout = "Mon Jan 02 15:04:05 -0700 2006"

var cst = time.FixedZone("CST", 8*3600)

type envelope struct {
	OK   int             `json:"ok"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type user struct {
	ID              any    `json:"id"`
	ScreenName      string `json:"screen_name"`
	Gender          string `json:"gender"` // m / f
	ProfileImageURL string `json:"profile_image_url"`
	AvatarHD        string `json:"avatar_hd"`
	Description     string `json:"description"`
	FollowersCount  any    `json:"followers_count"`
	FollowCount     any    `json:"follow_count"`
	StatusesCount   any    `json:"statuses_count"`
	Verified        bool   `json:"verified"`
	VerifiedReason  string `json:"verified_reason"`
}

type mblog struct {
	ID             string `json:"id"`
	MID            string `json:"mid"`
	BID            string `json:"bid"`
	Text           string `json:"text"`
	CreatedAt      string `json:"created_at"`
	RegionName     string `json:"region_name"`
	Source         string `json:"source"`
	IsLongText     bool   `json:"isLongText"`
	AttitudesCount any    `json:"attitudes_count"`
	CommentsCount  any    `json:"comments_count"`
	RepostsCount   any    `json:"reposts_count"`
	User           *user  `json:"user"`
	Pics           []struct {
		URL   string `json:"url"`
		Large struct {
			URL string `json:"url"`
		} `json:"large"`
	} `json:"pics"`
	PageInfo *struct {
		Type      string            `json:"type"`
		URLs      map[string]string `json:"urls"`
		MediaInfo struct {
			StreamURL   string `json:"stream_url"`
			StreamURLHD string `json:"stream_url_hd"`
		} `json:"media_info"`
	} `json:"page_info"`
}

type cardItem struct {
	CardType  int        `json:"card_type"`
	Mblog     *mblog     `json:"mblog"`
	CardGroup []cardItem `json:"card_group"`
}

type containerData struct {
	Cards        []cardItem `json:"cards"`
	CardlistInfo struct {
		Page    any `json:"page"`
		SinceID any `json:"since_id"`
		Total   any `json:"total"`
	} `json:"cardlistInfo"`
	UserInfo     *user `json:"userInfo"`
}

type comment struct {
	ID          any    `json:"id"`
	RootID      any    `json:"rootid"`
	Text        string `json:"text"`
	CreatedAt   string `json:"created_at"`
	Source      string `json:"source"`
	LikeCount   any    `json:"like_count"`
	LikeCounts  any    `json:"like_counts"`
	TotalNumber any    `json:"total_number"`
	User        *user  `json:"user"`
}

// decodeEnvelope ok 不为 1 视为失败
func decodeEnvelope(body []byte, out any) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return err
	}
	if env.OK != 1 {
		return crawlerr.New(string(model.PlatformWeibo), env.OK, env.Msg, crawlerr.ErrDataFetch)
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

// mblogs 展开 card_group，只取微博卡片（card_type=9）
func mblogs(cards []cardItem) []*mblog {
	var out []*mblog
	for _, c := range cards {
		if c.CardType == 9 && c.Mblog != nil {
			out = append(out, c.Mblog)
		}
		if len(c.CardGroup) > 0 {
			out = append(out, mblogs(c.CardGroup)...)
		}
	}
	return out
}

func idString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatInt(int64(t), 10)
	case json.Number:
		return t.String()
	}
	return fmt.Sprint(v)
}

var (
	minutesAgo = regexp.MustCompile(`^(\d+)\s*分钟前$`)
	hoursAgo   = regexp.MustCompile(`^(\d+)\s*小时前$`)
	yesterday  = regexp.MustCompile(`^昨天\s*(\d{1,2}):(\d{2})$`)
	monthDay   = regexp.MustCompile(`^(\d{1,2})-(\d{1,2})$`)
	fullDate   = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})$`)
)

// parseCreatedAt 接口返回标准格式，偶尔是“5分钟前”“昨天 12:00”“11-18”这类相对时间；无法识别返回 0
func parseCreatedAt(s string, now time.Time) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if t, err := time.Parse(createdAtLayout, s); err == nil {
		return t.Unix()
	}
	now = now.In(cst)
	atoi := func(v string) int { n, _ := strconv.Atoi(v); return n }
	switch {
	case s == "刚刚":
		return now.Unix()
	case minutesAgo.MatchString(s):
		m := minutesAgo.FindStringSubmatch(s)
		return now.Add(-time.Duration(atoi(m[1])) * time.Minute).Unix()
	case hoursAgo.MatchString(s):
		m := hoursAgo.FindStringSubmatch(s)
		return now.Add(-time.Duration(atoi(m[1])) * time.Hour).Unix()
	case yesterday.MatchString(s):
		m := yesterday.FindStringSubmatch(s)
		y := now.AddDate(0, 0, -1)
		return time.Date(y.Year(), y.Month(), y.Day(), atoi(m[1]), atoi(m[2]), 0, 0, cst).Unix()
	case monthDay.MatchString(s):
		m := monthDay.FindStringSubmatch(s)
		return time.Date(now.Year(), time.Month(atoi(m[1])), atoi(m[2]), 0, 0, 0, 0, cst).Unix()
	case fullDate.MatchString(s):
		m := fullDate.FindStringSubmatch(s)
		return time.Date(atoi(m[1]), time.Month(atoi(m[2])), atoi(m[3]), 0, 0, 0, 0, cst).Unix()
	}
	return 0
}

// location "发布于 四川" / "来自四川"
func location(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "发布于")
	s = strings.TrimPrefix(s, "来自")
	return strings.TrimSpace(s)
}

var topicPattern = regexp.MustCompile(`#([^#]+)#`)

func toContent(m *mblog, now time.Time) *model.Content {
	id := m.ID
	if id == "" {
		id = m.MID
	}
	body := adapter.CleanText(m.Text)
	c := &model.Content{
		Platform:     model.PlatformWeibo,
		ContentID:    id,
		ContentType:  model.ContentPost,
		Title:        firstLine(body, 64),
		BodyText:     body,
		ContentURL:   "https://m.weibo.cn/detail/" + id,
		IPLocation:   location(m.RegionName),
		CreatedAt:    parseCreatedAt(m.CreatedAt, now),
		LikeCount:    hot.ParseCount(m.AttitudesCount),
		CommentCount: hot.ParseCount(m.CommentsCount),
		ShareCount:   hot.ParseCount(m.RepostsCount),
		Extra:        map[string]any{"bid": m.BID, "source": m.Source},
		Partial:      m.IsLongText,
	}
	if m.User != nil {
		c.AuthorID = idString(m.User.ID)
		c.AuthorName = m.User.ScreenName
		c.AuthorAvatarURL = m.User.ProfileImageURL
	}
	for _, p := range m.Pics {
		u := p.Large.URL
		if u == "" {
			u = p.URL
		}
		if u != "" {
			c.MediaURLs = append(c.MediaURLs, u)
		}
	}
	if m.PageInfo != nil && m.PageInfo.Type == "video" {
		c.ContentType = model.ContentVideo
		u := firstNonEmpty(m.PageInfo.URLs["mp4_720p_mp4"], m.PageInfo.URLs["mp4_hd_mp4"], m.PageInfo.URLs["mp4_ld_mp4"],
			m.PageInfo.MediaInfo.StreamURLHD, m.PageInfo.MediaInfo.StreamURL)
		if u != "" {
			c.MediaURLs = append(c.MediaURLs, u)
		}
	}
	for _, t := range topicPattern.FindAllStringSubmatch(body, -1) {
		c.TagList = append(c.TagList, strings.TrimSpace(t[1]))
	}
	return c
}

func toComment(cm comment, contentID, parentID string, now time.Time) *model.Comment {
	likes := cm.LikeCount
	if likes == nil {
		likes = cm.LikeCounts
	}
	out := &model.Comment{
		Platform:        model.PlatformWeibo,
		CommentID:       idString(cm.ID),
		ParentCommentID: parentID,
		ContentID:       contentID,
		BodyText:        adapter.CleanText(cm.Text),
		LikeCount:       hot.ParseCount(likes),
		SubCommentCount: hot.ParseCount(cm.TotalNumber),
		IPLocation:      location(cm.Source),
		CreatedAt:       parseCreatedAt(cm.CreatedAt, now),
	}
	if cm.User != nil {
		out.AuthorID = idString(cm.User.ID)
		out.AuthorName = cm.User.ScreenName
		out.AuthorAvatarURL = cm.User.ProfileImageURL
	}
	return out
}

func toCreator(u *user, ref string) *model.Creator {
	id := idString(u.ID)
	if id == "" {
		id = ref
	}
	c := &model.Creator{
		Platform:       model.PlatformWeibo,
		UserID:         id,
		Nickname:       u.ScreenName,
		AvatarURL:      firstNonEmpty(u.AvatarHD, u.ProfileImageURL),
		Bio:            adapter.CleanText(u.Description),
		FollowerCount:  hot.ParseCount(u.FollowersCount),
		FollowingCount: hot.ParseCount(u.FollowCount),
		ContentCount:   hot.ParseCount(u.StatusesCount),
		Extra:          map[string]any{"verified": u.Verified, "verified_reason": u.VerifiedReason},
	}
	switch u.Gender {
	case "m":
		c.Gender = "男"
	case "f":
		c.Gender = "女"
	}
	return c
}

// firstLine 微博没有标题，取正文首行
func firstLine(s string, n int) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	r := []rune(s)
	if len(r) > n {
		return string(r[:n])
	}
	return s
}

func firstNonEmpty(vs ...string) string {
	for _, v := range vs {
		if v != "" {
			return v
		}
	}
	return ""
}
