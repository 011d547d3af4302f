package sink

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"SocialSync/internal/model"
)

// fileLocks 每个文件一把锁，同进程内串行读改写
type fileLocks struct {
	m sync.Map // path -> *sync.Mutex
}

func (l *fileLocks) lock(path string) func() {
	v, _ := l.m.LoadOrStore(path, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// recordPath data/<platform>/<crawler_type>_<record_kind>_<YYYY-MM-DD>.<ext>
func recordPath(dir string, platform model.PlatformType, crawlerType model.CrawlerType, kind model.RecordKind, day time.Time, ext string) string {
	name := fmt.Sprintf("%s_%s_%s.%s", crawlerType, kind, day.Format("2006-01-02"), ext)
	return filepath.Join(dir, string(platform), name)
}

// writeAtomic 先写临时文件再改名
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}
