// Package hot 爆款内容识别：多维度打分 + 等级划分，纯计算无 I/O
package hot

import (
	"math"
	"sort"
	"time"

	"SocialSync/internal/config"
	"SocialSync/internal/model"
)

// Thresholds 等级阈值（配置项）
type Thresholds struct {
	ViralLikes     int64
	ViralScore     float64
	HotLikes       int64
	HotScore       float64
	HotGrowth      float64
	TrendingLikes  int64
	TrendingScore  float64
	TrendingGrowth float64
}

// DefaultThresholds 默认阈值
func DefaultThresholds() Thresholds {
	return Thresholds{
		ViralLikes:     20000,
		ViralScore:     80,
		HotLikes:       5000,
		HotScore:       60,
		HotGrowth:      500,
		TrendingLikes:  1000,
		TrendingScore:  40,
		TrendingGrowth: 100,
	}
}

// ThresholdsFromConfig 从配置构造阈值，未配置的项沿用默认值
func ThresholdsFromConfig(c config.HotConfig) Thresholds {
	t := DefaultThresholds()
	if c.ViralLikes > 0 {
		t.ViralLikes = c.ViralLikes
	}
	if c.ViralScore > 0 {
		t.ViralScore = c.ViralScore
	}
	if c.HotLikes > 0 {
		t.HotLikes = c.HotLikes
	}
	if c.HotScore > 0 {
		t.HotScore = c.HotScore
	}
	if c.HotGrowth > 0 {
		t.HotGrowth = c.HotGrowth
	}
	if c.TrendingLikes > 0 {
		t.TrendingLikes = c.TrendingLikes
	}
	if c.TrendingScore > 0 {
		t.TrendingScore = c.TrendingScore
	}
	if c.TrendingGrowth > 0 {
		t.TrendingGrowth = c.TrendingGrowth
	}
	return t
}

// Counts 参与打分的互动数据
type Counts struct {
	Likes    int64
	Collects int64
	Comments int64
	Shares   int64
}

// Detector 爆款识别器
type Detector struct {
	thresholds Thresholds
	now        func() time.Time
}

func NewDetector(t Thresholds) *Detector {
	return &Detector{thresholds: t, now: time.Now}
}

// Detect 计算内容的热度标注；ageHours 为空或 <=0 时不计增长分
func (d *Detector) Detect(c *model.Content, ageHours *float64) model.HotScore {
	return d.Analyze(Counts{
		Likes:    c.LikeCount,
		Collects: c.CollectCount,
		Comments: c.CommentCount,
		Shares:   c.ShareCount,
	}, ageHours)
}

// DetectAt 用 created_at 推算发布时长后打分
func (d *Detector) DetectAt(c *model.Content, now time.Time) model.HotScore {
	return d.Detect(c, AgeHours(c.CreatedAt, now))
}

// Analyze 打分并划分等级
func (d *Detector) Analyze(c Counts, ageHours *float64) model.HotScore {
	likes := nonNegative(c.Likes)
	collects := nonNegative(c.Collects)
	comments := nonNegative(c.Comments)

	ratio := float64(collects) / float64(max64(likes, 1))

	var growth *float64
	if ageHours != nil && *ageHours > 0 {
		g := float64(likes) / *ageHours
		growth = &g
	}

	score := Score(likes, ratio, comments, growth)
	level := d.level(likes, score, growth)

	hs := model.HotScore{
		Level:           level,
		Score:           round(score, 2),
		EngagementRatio: round(ratio, 3),
		TotalEngagement: likes + collects + comments + nonNegative(c.Shares),
		IsHot:           level.AtLeast(model.LevelHot),
		IsTrending:      level.AtLeast(model.LevelTrending),
		ComputedAt:      d.now(),
	}
	if growth != nil {
		g := round(*growth, 2)
		hs.GrowthRate = &g
	}
	return hs
}

// Score 综合得分（0-100）
// 点赞 40 分、收藏/点赞比 20 分、评论 20 分、增长速度 20 分
func Score(likes int64, collectRatio float64, comments int64, growth *float64) float64 {
	likeScore := math.Min(40, math.Log10(float64(max64(likes, 1)))*10)
	collectScore := math.Min(20, collectRatio*66.67)
	commentScore := math.Min(20, math.Log10(float64(max64(comments, 1)))*6.67)
	growthScore := 0.0
	if growth != nil {
		growthScore = math.Min(20, math.Log10(math.Max(*growth, 1))*6.67)
	}
	return likeScore + collectScore + commentScore + growthScore
}

// level 按阈值自高向低匹配
func (d *Detector) level(likes int64, score float64, growth *float64) model.HotLevel {
	t := d.thresholds
	g := 0.0
	if growth != nil {
		g = *growth
	}
	switch {
	case likes >= t.ViralLikes || score >= t.ViralScore:
		return model.LevelViral
	case likes >= t.HotLikes || score >= t.HotScore || (growth != nil && g >= t.HotGrowth):
		return model.LevelHot
	case likes >= t.TrendingLikes || score >= t.TrendingScore || (growth != nil && g >= t.TrendingGrowth):
		return model.LevelTrending
	}
	return model.LevelNormal
}

// Scored 批量识别的结果
type Scored struct {
	Content *model.Content
	Hot     model.HotScore
}

// BatchDetect 批量打分，过滤掉低于 minLevel 的内容，按得分降序
func (d *Detector) BatchDetect(items []*model.Content, minLevel model.HotLevel, now time.Time) []Scored {
	out := make([]Scored, 0, len(items))
	for _, c := range items {
		hs := d.DetectAt(c, now)
		if !hs.Level.AtLeast(minLevel) {
			continue
		}
		out = append(out, Scored{Content: c, Hot: hs})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Hot.Score > out[j].Hot.Score
	})
	return out
}

// LevelStats 各等级数量统计（不计增长分）
func (d *Detector) LevelStats(items []*model.Content) map[model.HotLevel]int {
	stats := map[model.HotLevel]int{
		model.LevelNormal:   0,
		model.LevelTrending: 0,
		model.LevelHot:      0,
		model.LevelViral:    0,
	}
	for _, c := range items {
		stats[d.Detect(c, nil).Level]++
	}
	return stats
}

// AgeHours 发布至今的小时数；发布时间未知（<=0）返回 nil，兼容毫秒时间戳
func AgeHours(createdAt int64, now time.Time) *float64 {
	if createdAt <= 0 {
		return nil
	}
	if createdAt > 1e12 {
		createdAt /= 1000
	}
	h := now.Sub(time.Unix(createdAt, 0)).Hours()
	if h <= 0 {
		return nil
	}
	return &h
}

func round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
