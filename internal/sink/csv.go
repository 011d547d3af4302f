package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"SocialSync/internal/interfaces"
	"SocialSync/internal/model"
)

// csvSink 只追加；表头在文件为空时写一次
type csvSink struct {
	dir         string
	crawlerType model.CrawlerType
	now         func() time.Time
	locks       fileLocks
}

func newCSVSink(opts Options) (interfaces.Sink, error) {
	return &csvSink{dir: opts.DataDir, crawlerType: opts.CrawlerType, now: opts.Now}, nil
}

func (s *csvSink) Name() string { return "csv" }

func (s *csvSink) append(platform model.PlatformType, kind model.RecordKind, rec model.Record) error {
	path := recordPath(s.dir, platform, s.crawlerType, kind, s.now(), "csv")
	unlock := s.locks.lock(path)
	defer unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(rec.Columns()); err != nil {
			return err
		}
	}
	if err := w.Write(rec.Values()); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("写入 %s 失败: %w", path, err)
	}
	return nil
}

func (s *csvSink) StoreContent(_ context.Context, c *model.Content) error {
	return s.append(c.Platform, model.KindContent, c)
}

func (s *csvSink) StoreComment(_ context.Context, c *model.Comment) error {
	return s.append(c.Platform, model.KindComment, c)
}

func (s *csvSink) StoreCreator(_ context.Context, c *model.Creator) error {
	return s.append(c.Platform, model.KindCreator, c)
}

func (s *csvSink) Close(context.Context) error { return nil }
