package bilibili

import (
	"encoding/json"
	"strconv"
	"strings"

	"SocialSync/internal/adapter"
	"SocialSync/internal/crawlerr"
	"SocialSync/internal/hot"
	"SocialSync/internal/model"
)

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type owner struct {
	Mid  int64  `json:"mid"`
	Name string `json:"name"`
	Face string `json:"face"`
}

type view struct {
	Aid     int64  `json:"aid"`
	Bvid    string `json:"bvid"`
	Title   string `json:"title"`
	Desc    string `json:"desc"`
	Pic     string `json:"pic"`
	Tname   string `json:"tname"`
	Pubdate int64  `json:"pubdate"`
	Owner   owner  `json:"owner"`
	Stat    struct {
		View     any `json:"view"`
		Danmaku  any `json:"danmaku"`
		Reply    any `json:"reply"`
		Favorite any `json:"favorite"`
		Coin     any `json:"coin"`
		Share    any `json:"share"`
		Like     any `json:"like"`
	} `json:"stat"`
}

type viewDetail struct {
	View view `json:"View"`
	Tags []struct {
		TagName string `json:"tag_name"`
	} `json:"Tags"`
}

// searchVideo 搜索结果条目，title 带 <em class="keyword"> 高亮
type searchVideo struct {
	Type        string `json:"type"`
	Aid         int64  `json:"aid"`
	Bvid        string `json:"bvid"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Author      string `json:"author"`
	Mid         int64  `json:"mid"`
	Upic        string `json:"upic"`
	Pic         string `json:"pic"`
	Play        any    `json:"play"`
	Favorites   any    `json:"favorites"`
	Review      any    `json:"review"`
	Like        any    `json:"like"`
	Danmaku     any    `json:"video_review"`
	Pubdate     int64  `json:"pubdate"`
	Tag         string `json:"tag"`
}

type searchResult struct {
	Page     int           `json:"page"`
	NumPages int           `json:"numPages"`
	Result   []searchVideo `json:"result"`
}

type reply struct {
	Rpid    int64 `json:"rpid"`
	Oid     int64 `json:"oid"`
	Root    int64 `json:"root"`
	Parent  int64 `json:"parent"`
	Ctime   int64 `json:"ctime"`
	Like    any   `json:"like"`
	Rcount  any   `json:"rcount"`
	Content struct {
		Message string `json:"message"`
	} `json:"content"`
	Member struct {
		Mid    string `json:"mid"`
		Uname  string `json:"uname"`
		Avatar string `json:"avatar"`
	} `json:"member"`
	ReplyControl struct {
		Location string `json:"location"`
	} `json:"reply_control"`
}

type mainReplies struct {
	Cursor struct {
		IsEnd           bool `json:"is_end"`
		PaginationReply struct {
			NextOffset string `json:"next_offset"`
		} `json:"pagination_reply"`
	} `json:"cursor"`
	Replies []reply `json:"replies"`
}

type childReplies struct {
	Page struct {
		Num   int `json:"num"`
		Size  int `json:"size"`
		Count int `json:"count"`
	} `json:"page"`
	Replies []reply `json:"replies"`
}

type card struct {
	Card struct {
		Mid       string `json:"mid"`
		Name      string `json:"name"`
		Sex       string `json:"sex"`
		Face      string `json:"face"`
		Sign      string `json:"sign"`
		Fans      any    `json:"fans"`
		Attention any    `json:"attention"`
		LevelInfo struct {
			CurrentLevel int `json:"current_level"`
		} `json:"level_info"`
	} `json:"card"`
	Follower     any `json:"follower"`
	ArchiveCount any `json:"archive_count"`
	LikeNum      any `json:"like_num"`
}

type arcItem struct {
	Aid         int64  `json:"aid"`
	Bvid        string `json:"bvid"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Pic         string `json:"pic"`
	Author      string `json:"author"`
	Mid         int64  `json:"mid"`
	Created     int64  `json:"created"`
	Play        any    `json:"play"`
	Comment     any    `json:"comment"`
}

type arcSearch struct {
	List struct {
		Vlist []arcItem `json:"vlist"`
	} `json:"list"`
	Page struct {
		Pn    int `json:"pn"`
		Ps    int `json:"ps"`
		Count int `json:"count"`
	} `json:"page"`
}

// decodeEnvelope code 非 0 视为失败
func decodeEnvelope(body []byte, out any) error {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return err
	}
	if env.Code != 0 {
		return classify(env.Code, env.Message)
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	return json.Unmarshal(env.Data, out)
}

func classify(code int, msg string) error {
	kind := crawlerr.ErrDataFetch
	switch code {
	case -404, 62002, 62004, 62012:
		kind = crawlerr.ErrNotFound
	case -412, -352, -509:
		kind = crawlerr.ErrRateLimited
	case -101, -403:
		kind = crawlerr.ErrForbidden
	}
	return crawlerr.New(string(model.PlatformBilibili), code, msg, kind)
}

func videoURL(bvid string) string {
	return "https://www.bilibili.com/video/" + bvid
}

// normalizePic 搜索结果里的图片地址缺协议
func normalizePic(u string) string {
	if strings.HasPrefix(u, "//") {
		return "https:" + u
	}
	return u
}

func toContent(d viewDetail) *model.Content {
	v := d.View
	bvid := v.Bvid
	if bvid == "" && v.Aid > 0 {
		bvid = AV2BV(v.Aid)
	}
	c := &model.Content{
		Platform:        model.PlatformBilibili,
		ContentID:       bvid,
		ContentType:     model.ContentVideo,
		AuthorID:        strconv.FormatInt(v.Owner.Mid, 10),
		AuthorName:      v.Owner.Name,
		AuthorAvatarURL: v.Owner.Face,
		Title:           adapter.CleanText(v.Title),
		BodyText:        adapter.CleanText(v.Desc),
		ContentURL:      videoURL(bvid),
		CreatedAt:       v.Pubdate,
		LikeCount:       hot.ParseCount(v.Stat.Like),
		CollectCount:    hot.ParseCount(v.Stat.Favorite),
		CommentCount:    hot.ParseCount(v.Stat.Reply),
		ShareCount:      hot.ParseCount(v.Stat.Share),
		ViewCount:       hot.ParseCount(v.Stat.View),
		Extra: map[string]any{
			"aid":     strconv.FormatInt(v.Aid, 10),
			"danmaku": hot.ParseCount(v.Stat.Danmaku),
			"coin":    hot.ParseCount(v.Stat.Coin),
			"tname":   v.Tname,
		},
		Tokens: map[string]string{"aid": strconv.FormatInt(v.Aid, 10)},
	}
	if v.Pic != "" {
		c.MediaURLs = append(c.MediaURLs, normalizePic(v.Pic))
	}
	for _, t := range d.Tags {
		if t.TagName != "" {
			c.TagList = append(c.TagList, t.TagName)
		}
	}
	return c
}

func searchToContent(s searchVideo) *model.Content {
	bvid := s.Bvid
	if bvid == "" && s.Aid > 0 {
		bvid = AV2BV(s.Aid)
	}
	c := &model.Content{
		Platform:        model.PlatformBilibili,
		ContentID:       bvid,
		ContentType:     model.ContentVideo,
		AuthorID:        strconv.FormatInt(s.Mid, 10),
		AuthorName:      s.Author,
		AuthorAvatarURL: normalizePic(s.Upic),
		Title:           adapter.CleanText(s.Title),
		BodyText:        adapter.CleanText(s.Description),
		ContentURL:      videoURL(bvid),
		CreatedAt:       s.Pubdate,
		LikeCount:       hot.ParseCount(s.Like),
		CollectCount:    hot.ParseCount(s.Favorites),
		CommentCount:    hot.ParseCount(s.Review),
		ViewCount:       hot.ParseCount(s.Play),
		Extra:           map[string]any{"aid": strconv.FormatInt(s.Aid, 10)},
		Tokens:          map[string]string{"aid": strconv.FormatInt(s.Aid, 10)},
		Partial:         true,
	}
	if s.Pic != "" {
		c.MediaURLs = append(c.MediaURLs, normalizePic(s.Pic))
	}
	for _, t := range strings.Split(s.Tag, ",") {
		if t = strings.TrimSpace(t); t != "" {
			c.TagList = append(c.TagList, t)
		}
	}
	return c
}

func arcToContent(a arcItem) *model.Content {
	bvid := a.Bvid
	if bvid == "" && a.Aid > 0 {
		bvid = AV2BV(a.Aid)
	}
	c := &model.Content{
		Platform:     model.PlatformBilibili,
		ContentID:    bvid,
		ContentType:  model.ContentVideo,
		AuthorID:     strconv.FormatInt(a.Mid, 10),
		AuthorName:   a.Author,
		Title:        adapter.CleanText(a.Title),
		BodyText:     adapter.CleanText(a.Description),
		ContentURL:   videoURL(bvid),
		CreatedAt:    a.Created,
		CommentCount: hot.ParseCount(a.Comment),
		ViewCount:    hot.ParseCount(a.Play),
		Extra:        map[string]any{"aid": strconv.FormatInt(a.Aid, 10)},
		Tokens:       map[string]string{"aid": strconv.FormatInt(a.Aid, 10)},
		Partial:      true,
	}
	if a.Pic != "" {
		c.MediaURLs = append(c.MediaURLs, normalizePic(a.Pic))
	}
	return c
}

func toComment(r reply, contentID string) *model.Comment {
	parent := ""
	if r.Root != 0 {
		parent = strconv.FormatInt(r.Root, 10)
	}
	return &model.Comment{
		Platform:        model.PlatformBilibili,
		CommentID:       strconv.FormatInt(r.Rpid, 10),
		ParentCommentID: parent,
		ContentID:       contentID,
		AuthorID:        r.Member.Mid,
		AuthorName:      r.Member.Uname,
		AuthorAvatarURL: r.Member.Avatar,
		BodyText:        adapter.CleanText(r.Content.Message),
		LikeCount:       hot.ParseCount(r.Like),
		SubCommentCount: hot.ParseCount(r.Rcount),
		IPLocation:      strings.TrimPrefix(r.ReplyControl.Location, "IP属地："),
		CreatedAt:       r.Ctime,
		Extra:           map[string]any{"oid": strconv.FormatInt(r.Oid, 10)},
	}
}

func toCreator(c card, ref string) *model.Creator {
	id := c.Card.Mid
	if id == "" {
		id = ref
	}
	gender := ""
	if c.Card.Sex == "男" || c.Card.Sex == "女" {
		gender = c.Card.Sex
	}
	followers := hot.ParseCount(c.Follower)
	if followers == 0 {
		followers = hot.ParseCount(c.Card.Fans)
	}
	return &model.Creator{
		Platform:         model.PlatformBilibili,
		UserID:           id,
		Nickname:         c.Card.Name,
		AvatarURL:        c.Card.Face,
		Bio:              adapter.CleanText(c.Card.Sign),
		FollowerCount:    followers,
		FollowingCount:   hot.ParseCount(c.Card.Attention),
		InteractionCount: hot.ParseCount(c.LikeNum),
		ContentCount:     hot.ParseCount(c.ArchiveCount),
		Gender:           gender,
		Extra:            map[string]any{"level": c.Card.LevelInfo.CurrentLevel},
	}
}
