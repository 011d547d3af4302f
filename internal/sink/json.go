package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"SocialSync/internal/crawlerr"
	"SocialSync/internal/interfaces"
	"SocialSync/internal/model"
)

// jsonSink 顶层数组文件；读-改-原子写，按自然键覆盖
type jsonSink struct {
	dir         string
	crawlerType model.CrawlerType
	now         func() time.Time
	locks       fileLocks
}

func newJSONSink(opts Options) (interfaces.Sink, error) {
	return &jsonSink{dir: opts.DataDir, crawlerType: opts.CrawlerType, now: opts.Now}, nil
}

func (s *jsonSink) Name() string { return "json" }

func readArray[T any](path string) ([]*T, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var list []*T
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("解析 %s 失败: %w", path, err)
	}
	return list, nil
}

// upsertArray 已存在的键保留首次 ingested_at
func upsertArray[T any](s *jsonSink, path string, rec *T, key func(*T) string, keep func(old, cur *T)) error {
	unlock := s.locks.lock(path)
	defer unlock()

	list, err := readArray[T](path)
	if err != nil {
		return err
	}
	k := key(rec)
	replaced := false
	for i, old := range list {
		if key(old) == k {
			keep(old, rec)
			list[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		list = append(list, rec)
	}
	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return err
	}
	return writeAtomic(path, data)
}

func (s *jsonSink) path(platform model.PlatformType, kind model.RecordKind) string {
	return recordPath(s.dir, platform, s.crawlerType, kind, s.now(), "json")
}

func (s *jsonSink) StoreContent(_ context.Context, c *model.Content) error {
	return upsertArray(s, s.path(c.Platform, model.KindContent), c,
		func(v *model.Content) string { return v.Key() },
		func(old, cur *model.Content) { cur.IngestedAt = old.IngestedAt })
}

func (s *jsonSink) StoreComment(_ context.Context, c *model.Comment) error {
	return upsertArray(s, s.path(c.Platform, model.KindComment), c,
		func(v *model.Comment) string { return v.Key() },
		func(old, cur *model.Comment) { cur.IngestedAt = old.IngestedAt })
}

func (s *jsonSink) StoreCreator(_ context.Context, c *model.Creator) error {
	return upsertArray(s, s.path(c.Platform, model.KindCreator), c,
		func(v *model.Creator) string { return v.Key() },
		func(old, cur *model.Creator) { cur.IngestedAt = old.IngestedAt })
}

func (s *jsonSink) Close(context.Context) error { return nil }

// findInFiles 在该平台所有同类文件中查找（文件名倒序）
func findInFiles[T any](s *jsonSink, platform model.PlatformType, kind model.RecordKind, want string, key func(*T) string) (*T, error) {
	pattern := filepath.Join(s.dir, string(platform), fmt.Sprintf("*_%s_*.json", kind))
	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(files)))
	for _, f := range files {
		unlock := s.locks.lock(f)
		list, err := readArray[T](f)
		unlock()
		if err != nil {
			return nil, err
		}
		for _, v := range list {
			if key(v) == want {
				return v, nil
			}
		}
	}
	return nil, crawlerr.ErrNotFound
}

func (s *jsonSink) LoadContent(_ context.Context, platform model.PlatformType, id string) (*model.Content, error) {
	return findInFiles(s, platform, model.KindContent, model.RecordKey(platform, id), func(v *model.Content) string { return v.Key() })
}

func (s *jsonSink) LoadComment(_ context.Context, platform model.PlatformType, id string) (*model.Comment, error) {
	return findInFiles(s, platform, model.KindComment, model.RecordKey(platform, id), func(v *model.Comment) string { return v.Key() })
}

func (s *jsonSink) LoadCreator(_ context.Context, platform model.PlatformType, id string) (*model.Creator, error) {
	return findInFiles(s, platform, model.KindCreator, model.RecordKey(platform, id), func(v *model.Creator) string { return v.Key() })
}
