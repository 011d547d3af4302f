package bilibili

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// mixinKeyTable img_key+sub_key 的重排表
var mixinKeyTable = []int{
	46, 47, 18, 2, 53, 8, 23, 32, 15, 50, 10, 31, 58, 3, 45, 35, 27, 43, 5, 49,
	33, 9, 42, 19, 29, 28, 14, 39, 12, 38, 41, 13, 37, 48, 7, 16, 24, 55, 40,
	61, 26, 17, 0, 1, 60, 51, 30, 4, 22, 25, 54, 21, 56, 59, 6, 63, 57, 62, 11,
	36, 20, 34, 44, 52,
}

// KeyFetcher 返回 nav 接口里的 img_url 与 sub_url
type KeyFetcher func(ctx context.Context) (imgURL, subURL string, err error)

// WbiSigner wbi 接口签名：查询串追加 wts 与 w_rid
type WbiSigner struct {
	fetch KeyFetcher
	ttl   time.Duration
	now   func() time.Time

	mu        sync.Mutex
	mixinKey  string
	fetchedAt time.Time
}

func NewWbiSigner(fetch KeyFetcher) *WbiSigner {
	return &WbiSigner{fetch: fetch, ttl: 12 * time.Hour, now: time.Now}
}

// Sign 实现 interfaces.Signer，只处理路径中带 /wbi/ 的接口
func (s *WbiSigner) Sign(ctx context.Context, uri string, _ []byte, _ map[string]string, _ string) (map[string]string, error) {
	if !strings.Contains(uri, "/wbi/") {
		return nil, nil
	}
	key, err := s.key(ctx)
	if err != nil {
		return nil, err
	}
	query := ""
	if i := strings.Index(uri, "?"); i >= 0 {
		query = uri[i+1:]
	}
	params, err := url.ParseQuery(query)
	if err != nil {
		return nil, fmt.Errorf("解析签名参数失败: %w", err)
	}
	wts := strconv.FormatInt(s.now().Unix(), 10)
	return map[string]string{
		"wts":   wts,
		"w_rid": signParams(params, wts, key),
	}, nil
}

func (s *WbiSigner) key(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mixinKey != "" && s.now().Sub(s.fetchedAt) < s.ttl {
		return s.mixinKey, nil
	}
	imgURL, subURL, err := s.fetch(ctx)
	if err != nil {
		return "", fmt.Errorf("获取 wbi key 失败: %w", err)
	}
	key := mixinKey(keyFromURL(imgURL) + keyFromURL(subURL))
	if key == "" {
		return "", fmt.Errorf("wbi key 为空")
	}
	s.mixinKey = key
	s.fetchedAt = s.now()
	return key, nil
}

// keyFromURL https://i0.hdslb.com/bfs/wbi/<key>.png → <key>
func keyFromURL(u string) string {
	base := path.Base(u)
	return strings.TrimSuffix(base, path.Ext(base))
}

func mixinKey(raw string) string {
	if len(raw) < 64 {
		return ""
	}
	var b strings.Builder
	for _, i := range mixinKeyTable[:32] {
		b.WriteByte(raw[i])
	}
	return b.String()
}

// signParams 参数按键排序、过滤 !'()* 后拼接，再与 mixin key 一起取 md5
func signParams(params url.Values, wts, key string) string {
	params.Set("wts", wts)
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	filter := strings.NewReplacer("!", "", "'", "", "(", "", ")", "", "*", "")
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		v := filter.Replace(params.Get(k))
		parts = append(parts, url.QueryEscape(k)+"="+strings.ReplaceAll(url.QueryEscape(v), "+", "%20"))
	}
	sum := md5.Sum([]byte(strings.Join(parts, "&") + key))
	return hex.EncodeToString(sum[:])
}

const bvAlphabet = "FcwAPNKTMug3GV5Lj7EJnHpWsx4tb8haYeviqBz6rkCy12mUSDQX9RdoZf"

const (
	bvXor  = 23442827791579
	bvMask = 2251799813685247
	bvMax  = 1 << 51
)

// BV2AV bvid 转 aid，格式不对返回 0
func BV2AV(bvid string) int64 {
	if len(bvid) != 12 || !strings.EqualFold(bvid[:2], "BV") {
		return 0
	}
	chars := []byte(bvid)
	chars[3], chars[9] = chars[9], chars[3]
	chars[4], chars[7] = chars[7], chars[4]
	var tmp uint64
	for _, c := range chars[3:] {
		idx := strings.IndexByte(bvAlphabet, c)
		if idx < 0 {
			return 0
		}
		tmp = tmp*58 + uint64(idx)
	}
	return int64((tmp & bvMask) ^ bvXor)
}

// AV2BV aid 转 bvid
func AV2BV(aid int64) string {
	out := []byte("BV1000000000")
	tmp := uint64(bvMax|aid) ^ bvXor
	for i := len(out) - 1; tmp > 0 && i >= 3; i-- {
		out[i] = bvAlphabet[tmp%58]
		tmp /= 58
	}
	out[3], out[9] = out[9], out[3]
	out[4], out[7] = out[7], out[4]
	return string(out)
}
