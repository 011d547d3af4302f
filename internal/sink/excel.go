package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"

	"SocialSync/internal/interfaces"
	"SocialSync/internal/model"
)

var sheetOrder = []model.RecordKind{model.KindContent, model.KindComment, model.KindCreator}

type sheetBuf struct {
	header []string
	rows   [][]string
}

// excelSink 内存缓冲，Close 时按 (平台, 抓取模式, 日期) 追加写入工作簿
type excelSink struct {
	dir         string
	crawlerType model.CrawlerType
	now         func() time.Time

	mu    sync.Mutex
	books map[string]map[model.RecordKind]*sheetBuf // 文件路径 -> sheet
	order []string
}

func newExcelSink(opts Options) (interfaces.Sink, error) {
	return &excelSink{
		dir:         opts.DataDir,
		crawlerType: opts.CrawlerType,
		now:         opts.Now,
		books:       make(map[string]map[model.RecordKind]*sheetBuf),
	}, nil
}

func (s *excelSink) Name() string { return "excel" }

func (s *excelSink) bookPath(platform model.PlatformType) string {
	name := fmt.Sprintf("%s_%s.xlsx", s.crawlerType, s.now().Format("2006-01-02"))
	return filepath.Join(s.dir, string(platform), name)
}

func (s *excelSink) add(platform model.PlatformType, kind model.RecordKind, rec model.Record) error {
	path := s.bookPath(platform)
	s.mu.Lock()
	defer s.mu.Unlock()
	book, ok := s.books[path]
	if !ok {
		book = make(map[model.RecordKind]*sheetBuf)
		s.books[path] = book
		s.order = append(s.order, path)
	}
	buf, ok := book[kind]
	if !ok {
		buf = &sheetBuf{header: rec.Columns()}
		book[kind] = buf
	}
	buf.rows = append(buf.rows, rec.Values())
	return nil
}

func (s *excelSink) StoreContent(_ context.Context, c *model.Content) error {
	return s.add(c.Platform, model.KindContent, c)
}

func (s *excelSink) StoreComment(_ context.Context, c *model.Comment) error {
	return s.add(c.Platform, model.KindComment, c)
}

func (s *excelSink) StoreCreator(_ context.Context, c *model.Creator) error {
	return s.add(c.Platform, model.KindCreator, c)
}

// Close 落盘所有缓冲
func (s *excelSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for _, path := range s.order {
		if err := flushBook(path, s.books[path]); err != nil {
			errs = append(errs, fmt.Errorf("写入 %s 失败: %w", path, err))
		}
	}
	s.books = make(map[string]map[model.RecordKind]*sheetBuf)
	s.order = nil
	return errors.Join(errs...)
}

func flushBook(path string, book map[model.RecordKind]*sheetBuf) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, created, err := openBook(path)
	if err != nil {
		return err
	}
	defer f.Close()

	for _, kind := range sheetOrder {
		buf, ok := book[kind]
		if !ok {
			continue
		}
		sheet := string(kind)
		idx, err := f.GetSheetIndex(sheet)
		if err != nil {
			return err
		}
		if idx < 0 {
			if _, err := f.NewSheet(sheet); err != nil {
				return err
			}
		}
		existing, err := f.GetRows(sheet)
		if err != nil {
			return err
		}
		next := len(existing) + 1
		if next == 1 {
			if err := setRow(f, sheet, next, buf.header); err != nil {
				return err
			}
			next++
		}
		for _, row := range buf.rows {
			if err := setRow(f, sheet, next, row); err != nil {
				return err
			}
			next++
		}
	}
	if created {
		if idx, _ := f.GetSheetIndex("Sheet1"); idx >= 0 && len(f.GetSheetList()) > 1 {
			if err := f.DeleteSheet("Sheet1"); err != nil {
				return err
			}
			f.SetActiveSheet(0)
		}
	}
	return f.SaveAs(path)
}

func openBook(path string) (*excelize.File, bool, error) {
	if _, err := os.Stat(path); err == nil {
		f, err := excelize.OpenFile(path)
		return f, false, err
	}
	return excelize.NewFile(), true, nil
}

func setRow(f *excelize.File, sheet string, row int, values []string) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	cells := interfaces.ToInterfaceSlice(values)
	return f.SetSheetRow(sheet, cell, &cells)
}
