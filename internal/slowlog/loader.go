package slowlog

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"sql-advisor/internal/model"
)

// Loader reads captured slow-query records from JSON files. A path may
// point at a single file or at a directory, in which case every .json
// file underneath it is decoded.
type Loader struct {
	Concurrency int
}

func NewLoader(concurrency int) *Loader {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Loader{Concurrency: concurrency}
}

// Load decodes every record file under path. Decoding runs on a small
// worker pool; the merged result is ordered by file path so repeated
// runs over the same input produce the same batch.
func (l *Loader) Load(ctx context.Context, path string) ([]model.SlowQuery, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat input: %w", err)
	}

	if !info.IsDir() {
		return decodeFile(path)
	}

	files, err := collectFiles(ctx, path)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .json record files under %s", path)
	}

	type fileResult struct {
		file    string
		records []model.SlowQuery
		err     error
	}

	paths := make(chan string, len(files))
	for _, f := range files {
		paths <- f
	}
	close(paths)

	results := make(chan fileResult, len(files))
	var wg sync.WaitGroup
	for i := 0; i < l.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for f := range paths {
				select {
				case <-ctx.Done():
					return
				default:
				}
				recs, err := decodeFile(f)
				results <- fileResult{file: f, records: recs, err: err}
			}
		}()
	}
	wg.Wait()
	close(results)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	byFile := make(map[string][]model.SlowQuery, len(files))
	for res := range results {
		if res.err != nil {
			return nil, res.err
		}
		byFile[res.file] = res.records
	}

	var merged []model.SlowQuery
	for _, f := range files {
		merged = append(merged, byFile[f]...)
	}
	return merged, nil
}

// collectFiles walks root and returns every .json file in sorted order.
// Hidden directories are skipped.
func collectFiles(ctx context.Context, root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if d.IsDir() {
			if strings.HasPrefix(d.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".json") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(files)
	return files, nil
}

func decodeFile(path string) ([]model.SlowQuery, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	var records []model.SlowQuery
	if err := json.Unmarshal(data, &records); err != nil {
		// Single-object files are accepted too.
		var one model.SlowQuery
		if oneErr := json.Unmarshal(data, &one); oneErr != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		records = append(records, one)
	}

	for i := range records {
		records[i].SQL = strings.TrimSpace(records[i].SQL)
	}
	return records, nil
}
