package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
)

// NewStore 构建磁盘产物存储，整个进程复用一份实例；各输出目录由 Locator.Dir 指定。
func NewStore() Store {
	return &fileStore{}
}

// fileStore 以输出目录为粒度串行化写入与删除：一次构建会在同一目录内
// 连续写入产物、清理旧文件并重写 manifest。
type fileStore struct {
	dirs sync.Map // clean dir -> *sync.Mutex
}

func (s *fileStore) Get(ctx context.Context, locator Locator) (*ReadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	filePath, err := resolve(locator)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(filePath)
	if err != nil {
		return nil, notFound(err)
	}
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		f.Close()
		if err != nil {
			return nil, err
		}
		return nil, ErrNotFound
	}
	return &ReadResult{Entry: entryOf(locator, filePath, info), Reader: f}, nil
}

func (s *fileStore) Put(ctx context.Context, locator Locator, body io.Reader, opts PutOptions) (*Entry, error) {
	filePath, err := resolve(locator)
	if err != nil {
		return nil, err
	}
	unlock := s.lock(locator.Dir)
	defer unlock()

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(dir, ".velop-*")
	if err != nil {
		return nil, err
	}
	_, err = io.Copy(tmp, ctxReader{ctx: ctx, r: body})
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil && !opts.ModTime.IsZero() {
		err = os.Chtimes(tmp.Name(), opts.ModTime, opts.ModTime)
	}
	if err == nil {
		err = os.Rename(tmp.Name(), filePath)
	}
	if err != nil {
		os.Remove(tmp.Name())
		return nil, err
	}

	info, err := os.Stat(filePath)
	if err != nil {
		return nil, err
	}
	entry := entryOf(locator, filePath, info)
	return &entry, nil
}

func (s *fileStore) Remove(_ context.Context, locator Locator) error {
	filePath, err := resolve(locator)
	if err != nil {
		return err
	}
	unlock := s.lock(locator.Dir)
	defer unlock()

	if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *fileStore) lock(dir string) func() {
	v, _ := s.dirs.LoadOrStore(filepath.Clean(dir), &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// resolve 将 Locator 映射为磁盘路径，名称被清理为输出目录内的相对路径。
func resolve(locator Locator) (string, error) {
	if locator.Dir == "" {
		return "", errors.New("output dir required")
	}
	rel := strings.TrimPrefix(path.Clean("/"+locator.Name), "/")
	if rel == "" {
		return "", fmt.Errorf("invalid artifact name %q", locator.Name)
	}
	return filepath.Join(filepath.Clean(locator.Dir), filepath.FromSlash(rel)), nil
}

func entryOf(locator Locator, filePath string, info fs.FileInfo) Entry {
	return Entry{
		Locator:   locator,
		FilePath:  filePath,
		SizeBytes: info.Size(),
		ModTime:   info.ModTime(),
	}
}

func notFound(err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return ErrNotFound
	}
	return err
}

// ctxReader 在每次读取前检查 ctx，取消后中断写入。
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
