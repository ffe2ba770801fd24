package export

import (
	"context"
	"fmt"
	"sync"

	"github.com/dmitrijs2005/gatekeeper/internal/filex"
	"github.com/dmitrijs2005/gatekeeper/internal/server/directory"
)

// FileSink keeps the document in a local file. The mutex serializes the
// read-modify-write cycle within this process.
type FileSink struct {
	path string
	mu   sync.Mutex
}

func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

func (s *FileSink) Append(ctx context.Context, entry directory.Entry) error {
	return s.update(ctx, func(doc []byte) ([]byte, error) {
		return AppendEntry(doc, entry)
	})
}

func (s *FileSink) Remove(ctx context.Context, entry directory.Entry) error {
	return s.update(ctx, func(doc []byte) ([]byte, error) {
		return RemoveEntry(doc, entry)
	})
}

func (s *FileSink) update(ctx context.Context, fn func([]byte) ([]byte, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	doc, err := filex.ReadIfExists(s.path)
	if err != nil {
		return fmt.Errorf("read %s: %w", s.path, err)
	}
	out, err := fn(doc)
	if err != nil {
		return err
	}
	if err := filex.WriteAtomic(s.path, out, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", s.path, err)
	}
	return nil
}
