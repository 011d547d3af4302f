package resolver

import (
	"regexp"

	"SocialSync/internal/model"
)

// Rules 单个平台的解析规则；正则匹配 host+path（host 去掉 www.），第一个捕获组为 ID
type Rules struct {
	Content      []*regexp.Regexp // 规范链接
	ContentAlt   []*regexp.Regexp // 旧版/次要路径
	ContentQuery []string         // 携带内容 ID 的查询参数
	Creator      []*regexp.Regexp
	CreatorQuery []string
	ValidContent func(id string) bool
	ValidCreator func(id string) bool
	Redirectors  []string // 短链域名
	// NumericPaths 用户与内容共用数字 ID 空间时按路径段判断
	NumericPaths []string
	// Normalize 对提取出的内容 ID 做规范化，如去掉 av 前缀
	Normalize func(id string) string
}

var (
	hex24      = regexp.MustCompile(`^[0-9a-f]{24}$`)
	digits     = regexp.MustCompile(`^\d+$`)
	bvid       = regexp.MustCompile(`^BV[0-9A-Za-z]{10}$`)
	avid       = regexp.MustCompile(`^(?i:av)?(\d+)$`)
	secUID     = regexp.MustCompile(`^MS4wLjABAAAA[\w-]+$`)
	pathID     = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)
	hasLetter  = regexp.MustCompile(`[A-Za-z]`)
	hasDigit   = regexp.MustCompile(`\d`)
	digitRange = func(lo, hi int) func(string) bool {
		return func(s string) bool {
			return digits.MatchString(s) && len(s) >= lo && len(s) <= hi
		}
	}
)

// DefaultRules 内置平台规则
func DefaultRules() map[model.PlatformType]*Rules {
	return map[model.PlatformType]*Rules{
		model.PlatformXHS: {
			Content: []*regexp.Regexp{
				regexp.MustCompile(`/explore/([0-9a-f]{24})`),
				regexp.MustCompile(`/discovery/item/([0-9a-f]{24})`),
			},
			ContentQuery: []string{"noteId"},
			Creator:      []*regexp.Regexp{regexp.MustCompile(`/user/profile/([0-9a-f]{24})`)},
			ValidContent: hex24.MatchString,
			ValidCreator: hex24.MatchString,
			Redirectors:  []string{"xhslink.com"},
		},
		model.PlatformDouyin: {
			Content:      []*regexp.Regexp{regexp.MustCompile(`/video/(\d+)`)},
			ContentAlt:   []*regexp.Regexp{regexp.MustCompile(`/note/(\d+)`)},
			ContentQuery: []string{"modal_id", "aweme_id"},
			Creator:      []*regexp.Regexp{regexp.MustCompile(`/user/([A-Za-z0-9_-]+)`)},
			CreatorQuery: []string{"sec_user_id"},
			ValidContent: digitRange(15, 20),
			ValidCreator: func(s string) bool { return secUID.MatchString(s) || digitRange(5, 20)(s) },
			Redirectors:  []string{"v.douyin.com"},
		},
		model.PlatformBilibili: {
			Content: []*regexp.Regexp{
				regexp.MustCompile(`/video/(BV[0-9A-Za-z]{10})`),
				regexp.MustCompile(`/video/(av\d+)`),
			},
			ContentQuery: []string{"bvid", "aid"},
			Creator:      []*regexp.Regexp{regexp.MustCompile(`^space\.bilibili\.com/(\d+)`)},
			CreatorQuery: []string{"mid"},
			ValidContent: func(s string) bool { return bvid.MatchString(s) || avid.MatchString(s) },
			ValidCreator: digitRange(1, 20),
			Redirectors:  []string{"b23.tv"},
			Normalize: func(s string) string {
				if m := avid.FindStringSubmatch(s); m != nil {
					return m[1]
				}
				return s
			},
		},
		model.PlatformWeibo: {
			Content: []*regexp.Regexp{
				regexp.MustCompile(`^m\.weibo\.cn/detail/(\d+)`),
				regexp.MustCompile(`^m\.weibo\.cn/status/(\d+)`),
			},
			ContentQuery: []string{"id", "mid"},
			Creator: []*regexp.Regexp{
				regexp.MustCompile(`/u/(\d+)`),
				regexp.MustCompile(`^m\.weibo\.cn/profile/(\d+)`),
			},
			CreatorQuery: []string{"uid"},
			ValidContent: digitRange(10, 20),
			ValidCreator: digitRange(5, 12),
			Redirectors:  []string{"t.cn"},
			NumericPaths: []string{"weibo.com", "weibo.cn"},
		},
		model.PlatformKuaishou: {
			Content:      []*regexp.Regexp{regexp.MustCompile(`/short-video/([A-Za-z0-9_-]+)`)},
			ContentQuery: []string{"photoId"},
			Creator:      []*regexp.Regexp{regexp.MustCompile(`/profile/([A-Za-z0-9_-]+)`)},
			ValidContent: func(s string) bool {
				return pathID.MatchString(s) && hasLetter.MatchString(s) && hasDigit.MatchString(s)
			},
			ValidCreator: pathID.MatchString,
			Redirectors:  []string{"v.kuaishou.com"},
		},
	}
}
