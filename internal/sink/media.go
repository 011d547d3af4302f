package sink

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"path/filepath"
	"strings"

	"SocialSync/internal/interfaces"
	"SocialSync/internal/model"
)

// MediaStore 图片/视频写入 data/<platform>/media/
type MediaStore struct {
	dir string
}

var _ interfaces.MediaSink = (*MediaStore)(nil)

func NewMediaStore(dataDir string) *MediaStore {
	if dataDir == "" {
		dataDir = "data"
	}
	return &MediaStore{dir: dataDir}
}

// MediaFileName 第一张为 <content_id>.<ext>，其后为 <content_id>_<n>.<ext>
func MediaFileName(contentID string, index int, sourceURL string) string {
	ext := mediaExt(sourceURL)
	if index <= 0 {
		return contentID + "." + ext
	}
	return fmt.Sprintf("%s_%d.%s", contentID, index, ext)
}

// mediaExt 取 URL 路径的扩展名，缺省 jpg
func mediaExt(raw string) string {
	p := raw
	if u, err := url.Parse(raw); err == nil {
		p = u.Path
	}
	ext := strings.TrimPrefix(path.Ext(p), ".")
	// 部分 CDN 在扩展名后拼接处理参数，如 .jpg!nd_dft
	if i := strings.IndexAny(ext, "!@~"); i >= 0 {
		ext = ext[:i]
	}
	ext = strings.ToLower(ext)
	if ext == "" || len(ext) > 5 {
		return "jpg"
	}
	return ext
}

func (m *MediaStore) StoreMedia(ctx context.Context, platform model.PlatformType, contentID string, index int, sourceURL string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if contentID == "" {
		return "", fmt.Errorf("媒体文件缺少 content_id")
	}
	p := filepath.Join(m.dir, string(platform), "media", MediaFileName(contentID, index, sourceURL))
	if err := writeAtomic(p, data); err != nil {
		return "", fmt.Errorf("写入媒体 %s 失败: %w", p, err)
	}
	return p, nil
}
