package hot

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// unitSuffix 中文计数单位
var unitSuffix = []struct {
	suffix string
	factor float64
}{
	{"亿", 1e8},
	{"万", 1e4},
	{"w", 1e4},
	{"k", 1e3},
}

// ParseCount 解析平台返回的计数字段
// 支持 int/float/json.Number/字符串，如 "1.2万"、"1.2w"、"1,234"、"10万+"；非法值返回 0
func ParseCount(v any) int64 {
	switch n := v.(type) {
	case nil:
		return 0
	case int:
		return nonNegative(int64(n))
	case int32:
		return nonNegative(int64(n))
	case int64:
		return nonNegative(n)
	case uint64:
		if n > math.MaxInt64 {
			return math.MaxInt64
		}
		return int64(n)
	case float32:
		return floatCount(float64(n))
	case float64:
		return floatCount(n)
	case json.Number:
		return ParseCount(string(n))
	case string:
		return parseCountString(n)
	case *string:
		if n == nil {
			return 0
		}
		return parseCountString(*n)
	}
	return 0
}

func parseCountString(s string) int64 {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(",", "", " ", "", "+", "").Replace(s)
	if s == "" {
		return 0
	}
	factor := 1.0
	for _, u := range unitSuffix {
		if strings.HasSuffix(s, u.suffix) {
			factor = u.factor
			s = strings.TrimSuffix(s, u.suffix)
			break
		}
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return floatCount(f * factor)
}

func floatCount(f float64) int64 {
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return 0
	}
	if f >= math.MaxInt64 {
		return math.MaxInt64
	}
	// 1.2*10000 会得到 11999.999...，截断前补一个极小量
	return int64(math.Floor(f + 1e-6))
}

func nonNegative(v int64) int64 {
	if v < 0 {
		return 0
	}
	return v
}
