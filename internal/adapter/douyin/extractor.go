package douyin

import (
	"bytes"
	"encoding/json"
	"strconv"

	"SocialSync/internal/adapter"
	"SocialSync/internal/crawlerr"
	"SocialSync/internal/hot"
	"SocialSync/internal/model"
)

type urlList struct {
	URLList []string `json:"url_list"`
}

func (u *urlList) first() string {
	if u == nil || len(u.URLList) == 0 {
		return ""
	}
	return u.URLList[0]
}

type author struct {
	UID         string   `json:"uid"`
	SecUID      string   `json:"sec_uid"`
	ShortID     string   `json:"short_id"`
	UniqueID    string   `json:"unique_id"`
	Nickname    string   `json:"nickname"`
	Signature   string   `json:"signature"`
	AvatarThumb *urlList `json:"avatar_thumb"`
}

type aweme struct {
	AwemeID    string `json:"aweme_id"`
	AwemeType  int    `json:"aweme_type"`
	Desc       string `json:"desc"`
	CreateTime int64  `json:"create_time"`
	IPLabel    string `json:"ip_label"`
	Author     author `json:"author"`
	Statistics struct {
		DiggCount    any `json:"digg_count"`
		CollectCount any `json:"collect_count"`
		CommentCount any `json:"comment_count"`
		ShareCount   any `json:"share_count"`
		PlayCount    any `json:"play_count"`
	} `json:"statistics"`
	Video *struct {
		PlayAddr *urlList `json:"play_addr"`
		Cover    *urlList `json:"cover"`
	} `json:"video"`
	Images []urlList `json:"images"`
	TextExtra []struct {
		HashtagName string `json:"hashtag_name"`
	} `json:"text_extra"`
}

type comment struct {
	CID               string `json:"cid"`
	AwemeID           string `json:"aweme_id"`
	Text              string `json:"text"`
	CreateTime        int64  `json:"create_time"`
	IPLabel           string `json:"ip_label"`
	DiggCount         any    `json:"digg_count"`
	ReplyCommentTotal any    `json:"reply_comment_total"`
	ReplyID           string `json:"reply_id"`
	User              struct {
		UID          string   `json:"uid"`
		SecUID       string   `json:"sec_uid"`
		Nickname     string   `json:"nickname"`
		AvatarMedium *urlList `json:"avatar_medium"`
		AvatarThumb  *urlList `json:"avatar_thumb"`
	} `json:"user"`
}

type commentPage struct {
	Comments []comment `json:"comments"`
	Cursor   any       `json:"cursor"`
	HasMore  any       `json:"has_more"`
}

type profile struct {
	UID            string   `json:"uid"`
	SecUID         string   `json:"sec_uid"`
	UniqueID       string   `json:"unique_id"`
	Nickname       string   `json:"nickname"`
	Signature      string   `json:"signature"`
	Gender         int      `json:"gender"`
	IPLocation     string   `json:"ip_location"`
	FollowerCount  any      `json:"follower_count"`
	FollowingCount any      `json:"following_count"`
	TotalFavorited any      `json:"total_favorited"`
	AwemeCount     any      `json:"aweme_count"`
	Avatar         *urlList `json:"avatar_300x300"`
}

// decodeEnvelope 抖音接口 status_code 非 0 视为失败；空响应或 blocked 为风控
func decodeEnvelope(body []byte, out any) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || string(trimmed) == "blocked" {
		return crawlerr.New("dy", 0, "empty or blocked response", crawlerr.ErrRateLimited)
	}
	var head struct {
		StatusCode int    `json:"status_code"`
		StatusMsg  string `json:"status_msg"`
	}
	if err := json.Unmarshal(trimmed, &head); err != nil {
		return err
	}
	if head.StatusCode != 0 {
		kind := crawlerr.ErrDataFetch
		if head.StatusCode == 8 { // 未登录
			kind = crawlerr.ErrForbidden
		}
		return crawlerr.New("dy", head.StatusCode, head.StatusMsg, kind)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(trimmed, out)
}

func toContent(a aweme) *model.Content {
	c := &model.Content{
		Platform:        model.PlatformDouyin,
		ContentID:       a.AwemeID,
		ContentType:     model.ContentVideo,
		AuthorID:        a.Author.SecUID,
		AuthorName:      a.Author.Nickname,
		AuthorAvatarURL: a.Author.AvatarThumb.first(),
		Title:           adapter.CleanText(a.Desc),
		BodyText:        adapter.CleanText(a.Desc),
		ContentURL:      "https://www.douyin.com/video/" + a.AwemeID,
		IPLocation:      a.IPLabel,
		CreatedAt:       a.CreateTime,
		LikeCount:       hot.ParseCount(a.Statistics.DiggCount),
		CollectCount:    hot.ParseCount(a.Statistics.CollectCount),
		CommentCount:    hot.ParseCount(a.Statistics.CommentCount),
		ShareCount:      hot.ParseCount(a.Statistics.ShareCount),
		ViewCount:       hot.ParseCount(a.Statistics.PlayCount),
		Extra: map[string]any{
			"aweme_type": strconv.Itoa(a.AwemeType),
			"user_id":    a.Author.UID,
			"short_id":   a.Author.ShortID,
		},
	}
	if c.AuthorID == "" {
		c.AuthorID = a.Author.UID
	}
	if len(a.Images) > 0 {
		c.ContentType = model.ContentPost
		for _, img := range a.Images {
			if u := img.first(); u != "" {
				c.MediaURLs = append(c.MediaURLs, u)
			}
		}
	} else if a.Video != nil {
		if u := a.Video.PlayAddr.first(); u != "" {
			c.MediaURLs = append(c.MediaURLs, u)
		} else if u := a.Video.Cover.first(); u != "" {
			c.MediaURLs = append(c.MediaURLs, u)
		}
	}
	for _, t := range a.TextExtra {
		if t.HashtagName != "" {
			c.TagList = append(c.TagList, t.HashtagName)
		}
	}
	return c
}

func toComment(cm comment, contentID, parentID string) *model.Comment {
	if cm.AwemeID != "" {
		contentID = cm.AwemeID
	}
	avatar := cm.User.AvatarMedium.first()
	if avatar == "" {
		avatar = cm.User.AvatarThumb.first()
	}
	if parentID == "" && cm.ReplyID != "" && cm.ReplyID != "0" {
		parentID = cm.ReplyID
	}
	return &model.Comment{
		Platform:        model.PlatformDouyin,
		CommentID:       cm.CID,
		ParentCommentID: parentID,
		ContentID:       contentID,
		AuthorID:        cm.User.SecUID,
		AuthorName:      cm.User.Nickname,
		AuthorAvatarURL: avatar,
		BodyText:        adapter.CleanText(cm.Text),
		LikeCount:       hot.ParseCount(cm.DiggCount),
		SubCommentCount: hot.ParseCount(cm.ReplyCommentTotal),
		IPLocation:      cm.IPLabel,
		CreatedAt:       cm.CreateTime,
		Extra:           map[string]any{"user_id": cm.User.UID},
	}
}

func toCreator(p profile, ref string) *model.Creator {
	id := p.SecUID
	if id == "" {
		id = ref
	}
	c := &model.Creator{
		Platform:         model.PlatformDouyin,
		UserID:           id,
		Handle:           p.UniqueID,
		Nickname:         p.Nickname,
		AvatarURL:        p.Avatar.first(),
		Bio:              adapter.CleanText(p.Signature),
		FollowerCount:    hot.ParseCount(p.FollowerCount),
		FollowingCount:   hot.ParseCount(p.FollowingCount),
		InteractionCount: hot.ParseCount(p.TotalFavorited),
		ContentCount:     hot.ParseCount(p.AwemeCount),
		IPLocation:       p.IPLocation,
		Extra:            map[string]any{"uid": p.UID},
	}
	switch p.Gender {
	case 1:
		c.Gender = "男"
	case 2:
		c.Gender = "女"
	}
	return c
}

// cursorString 游标可能是数字或字符串
func cursorString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatInt(int64(t), 10)
	}
	return ""
}

// truthy has_more 可能是 0/1 或 bool
func truthy(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case float64:
		return t != 0
	case string:
		return t == "1" || t == "true"
	}
	return false
}
