package store

import (
	"context"
	"errors"
	"path"
	"sort"
	"strings"

	"github.com/OFFIS-RIT/ctilinker/pkg/common"
)

// ErrNotFound is returned when a source or file does not exist.
var ErrNotFound = errors.New("not found")

// PartialDir is the hidden area of an output root where results of sources
// that are not complete yet are kept. It never shows up as a source.
const PartialDir = ".partial"

// RecordExt is the extension of input and output records.
const RecordExt = ".json"

// Input is a read-only tree of sources, each holding record files.
type Input interface {
	// ListSources returns the source names in lexical order.
	ListSources(ctx context.Context) ([]string, error)
	// ListFiles returns the record files of source as slash separated paths
	// relative to the source, in lexical order.
	ListFiles(ctx context.Context, source string) ([]string, error)
	Read(ctx context.Context, source, file string) ([]byte, error)
}

// Output is the result tree mirroring an Input. Results are written to the
// partial area first and become visible per source by Commit.
type Output interface {
	// CompletedSources returns the committed sources.
	CompletedSources(ctx context.Context) ([]string, error)
	HasPartial(ctx context.Context, source, file string) (bool, error)
	// WritePartial stores a result atomically; readers never see half a file.
	WritePartial(ctx context.Context, source, file string, data []byte) error
	// Commit publishes every partial result of source at once.
	Commit(ctx context.Context, source string) error

	// ListFiles and Read give access to committed results.
	ListFiles(ctx context.Context, source string) ([]string, error)
	Read(ctx context.Context, source, file string) ([]byte, error)
}

// ResultIndex receives every written result, e.g. to make results queryable.
type ResultIndex interface {
	SaveResult(ctx context.Context, source, file string, result *common.LinkPredictionResult) error
}

// IsRecordFile reports whether name is a record file.
func IsRecordFile(name string) bool {
	base := path.Base(name)
	return strings.HasSuffix(base, RecordExt) && !strings.HasPrefix(base, ".")
}

// CleanName validates a source or file name taken from user input and
// returns it in slash form without leading or trailing slashes.
func CleanName(name string) (string, error) {
	trimmed := strings.Trim(strings.TrimSpace(name), "/")
	if trimmed == "" {
		return "", errors.New("empty name")
	}
	if path.Clean(trimmed) != trimmed {
		return "", errors.New("invalid name: " + name)
	}
	for _, part := range strings.Split(trimmed, "/") {
		if part == ".." || strings.HasPrefix(part, ".") || strings.Contains(part, "\\") {
			return "", errors.New("invalid name: " + name)
		}
	}
	return trimmed, nil
}

// Pending returns the sources of all that are not in completed, keeping order.
func Pending(all, completed []string) []string {
	done := make(map[string]struct{}, len(completed))
	for _, s := range completed {
		done[s] = struct{}{}
	}
	out := make([]string, 0, len(all))
	for _, s := range all {
		if _, ok := done[s]; !ok {
			out = append(out, s)
		}
	}
	return out
}

// SortedUnique sorts names and drops duplicates.
func SortedUnique(names []string) []string {
	sort.Strings(names)
	out := names[:0]
	for i, n := range names {
		if i > 0 && n == names[i-1] {
			continue
		}
		out = append(out, n)
	}
	return out
}
