package fs

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/OFFIS-RIT/ctilinker/pkg/store"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const tempAlphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

// Input reads sources from the directories below a root directory.
type Input struct {
	root string
}

// Output writes results below a root directory. Partial results live in
// <root>/.partial/<source> until Commit renames that directory to <root>/<source>.
type Output struct {
	root string
}

func NewInput(root string) *Input {
	return &Input{root: root}
}

func NewOutput(root string) *Output {
	return &Output{root: root}
}

func (in *Input) ListSources(ctx context.Context) ([]string, error) {
	return listDirs(in.root)
}

func (in *Input) ListFiles(ctx context.Context, source string) ([]string, error) {
	return listRecords(ctx, filepath.Join(in.root, source))
}

func (in *Input) Read(ctx context.Context, source, file string) ([]byte, error) {
	return readFile(filepath.Join(in.root, source, filepath.FromSlash(file)))
}

func (out *Output) CompletedSources(ctx context.Context) ([]string, error) {
	return listDirs(out.root)
}

func (out *Output) HasPartial(ctx context.Context, source, file string) (bool, error) {
	_, err := os.Stat(out.partialPath(source, file))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// WritePartial writes data to a temporary file next to the target and renames it.
func (out *Output) WritePartial(ctx context.Context, source, file string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target := out.partialPath(source, file)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	return writeAtomic(target, data)
}

// Commit makes source visible as completed. A source without any partial
// result is committed as an empty directory.
func (out *Output) Commit(ctx context.Context, source string) error {
	target := filepath.Join(out.root, source)
	if _, err := os.Stat(target); err == nil {
		return fmt.Errorf("commit %s: already completed", source)
	}

	partial := filepath.Join(out.root, store.PartialDir, source)
	if _, err := os.Stat(partial); errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(partial, 0o755); err != nil {
			return fmt.Errorf("commit %s: %w", source, err)
		}
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("commit %s: %w", source, err)
	}
	if err := os.Rename(partial, target); err != nil {
		return fmt.Errorf("commit %s: %w", source, err)
	}
	return nil
}

func (out *Output) ListFiles(ctx context.Context, source string) ([]string, error) {
	return listRecords(ctx, filepath.Join(out.root, source))
}

func (out *Output) Read(ctx context.Context, source, file string) ([]byte, error) {
	return readFile(filepath.Join(out.root, source, filepath.FromSlash(file)))
}

func (out *Output) partialPath(source, file string) string {
	return filepath.Join(out.root, store.PartialDir, source, filepath.FromSlash(file))
}

func writeAtomic(target string, data []byte) error {
	suffix, err := gonanoid.Generate(tempAlphabet, 12)
	if err != nil {
		return err
	}
	tmp := filepath.Join(filepath.Dir(target), ".tmp-"+suffix)

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp, target); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func listDirs(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var dirs []string
	for _, e := range entries {
		if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
			dirs = append(dirs, e.Name())
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

func listRecords(ctx context.Context, dir string) ([]string, error) {
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", dir, store.ErrNotFound)
		}
		return nil, err
	}

	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if store.IsRecordFile(rel) {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", path, store.ErrNotFound)
		}
		return nil, err
	}
	return data, nil
}
