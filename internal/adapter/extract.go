package adapter

import (
	"errors"
	"html"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

var strictPolicy = bluemonday.StrictPolicy()

// CleanText 去掉 HTML 标签并反转义实体
func CleanText(s string) string {
	if s == "" {
		return ""
	}
	// 微博等平台用 <br /> 换行
	s = strings.NewReplacer("<br />", "\n", "<br/>", "\n", "<br>", "\n").Replace(s)
	return strings.TrimSpace(html.UnescapeString(strictPolicy.Sanitize(s)))
}

// ErrScriptNotFound 页面中没有找到目标脚本变量
var ErrScriptNotFound = errors.New("script payload not found")

// ScriptJSON 在页面 <script> 中找到 "marker = {...}" 形式的赋值，返回等号右侧的 JSON 文本
func ScriptJSON(page, marker string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(page))
	if err != nil {
		return "", err
	}
	var payload string
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := s.Text()
		idx := strings.Index(text, marker)
		if idx < 0 {
			return true
		}
		rest := text[idx+len(marker):]
		eq := strings.Index(rest, "=")
		if eq < 0 {
			return true
		}
		payload = balanced(strings.TrimSpace(rest[eq+1:]))
		return payload == ""
	})
	if payload == "" {
		return "", ErrScriptNotFound
	}
	// 页面状态里常见 undefined，不是合法 JSON
	payload = strings.NewReplacer(":undefined", ":null", ",undefined", ",null", "[undefined", "[null").Replace(payload)
	return payload, nil
}

// balanced 截取开头的完整 JSON 对象或数组
func balanced(s string) string {
	if s == "" || (s[0] != '{' && s[0] != '[') {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return ""
}
