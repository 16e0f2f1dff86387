package checkpoint

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"
)

const (
	jsonExt = ".json"
	zstdExt = ".zst"
)

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// FileStoreOptions configures a FileStore.
type FileStoreOptions struct {
	// Compress writes zstd compressed documents with a .json.zst suffix.
	Compress bool
}

// FileStore keeps one checkpoint document per agent/task pair in a directory.
type FileStore struct {
	dir  string
	opts FileStoreOptions
}

// NewFileStore creates a store rooted at dir. The directory is created on
// the first save.
func NewFileStore(dir string, optFns ...func(o *FileStoreOptions)) *FileStore {
	opts := FileStoreOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &FileStore{dir: dir, opts: opts}
}

// Path returns the file a checkpoint of the agent/task pair is written to.
func (s *FileStore) Path(agentName, task string) string {
	name := Key(agentName, task) + jsonExt
	if s.opts.Compress {
		name += zstdExt
	}

	return filepath.Join(s.dir, name)
}

// Save writes cp atomically (temporary file then rename).
func (s *FileStore) Save(ctx context.Context, cp *Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	doc, err := prepare(cp)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	if s.opts.Compress {
		data, err = compress(data)
		if err != nil {
			return err
		}
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint directory: %w", err)
	}

	return writeAtomic(s.Path(doc.AgentName, doc.Task), data)
}

// Load reads the checkpoint of the agent/task pair. Both the plain and the
// compressed form are looked up.
func (s *FileStore) Load(ctx context.Context, agentName, task string) (*Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	base := filepath.Join(s.dir, Key(agentName, task)+jsonExt)

	candidates := []string{base, base + zstdExt}
	if s.opts.Compress {
		candidates[0], candidates[1] = candidates[1], candidates[0]
	}

	for _, path := range candidates {
		cp, err := LoadFile(path)
		if errors.Is(err, ErrNotFound) {
			continue
		}

		return cp, err
	}

	return nil, fmt.Errorf("%w: %s", ErrNotFound, Key(agentName, task))
}

// LoadFile reads a checkpoint document from path. Compressed documents are
// detected by their zstd frame header.
func LoadFile(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}

		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	if bytes.HasPrefix(data, zstdMagic) || strings.HasSuffix(path, zstdExt) {
		data, err = decompress(data)
		if err != nil {
			return nil, err
		}
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", path, err)
	}

	if err := cp.Validate(); err != nil {
		return nil, err
	}

	return &cp, nil
}

func compress(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	defer enc.Close()

	return enc.EncodeAll(data, make([]byte, 0, len(data)/2)), nil
}

func decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create zstd decoder: %w", err)
	}
	defer dec.Close()

	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress checkpoint: %w", err)
	}

	return out, nil
}

func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temporary checkpoint: %w", err)
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)

		return fmt.Errorf("write checkpoint: %w", err)
	}

	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close checkpoint: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename checkpoint: %w", err)
	}

	return nil
}
