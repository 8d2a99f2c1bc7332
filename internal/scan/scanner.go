// Package scan enumerates files for taxonomy inference and watches for
// changes. It never reads file contents; that is the inspector's job.
package scan

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"taxod/internal/logging"
)

// FileRecord is one scanned file.
type FileRecord struct {
	ID      string
	Name    string
	Path    string
	Size    int64
	ModTime int64
}

// Partition separates files already organized into folders from loose
// files at the root, for hierarchy-aware taxonomy building.
type Partition struct {
	Folders map[string][]FileRecord
	Loose   []FileRecord
}

// ScannerConfig tunes directory scanning.
type ScannerConfig struct {
	MaxConcurrent int  // stat worker pool size
	IncludeHidden bool // scan hidden directories outside the allowlist
}

// DefaultScannerConfig returns sensible defaults.
func DefaultScannerConfig() ScannerConfig {
	return ScannerConfig{MaxConcurrent: 20}
}

// Scanner walks directories and produces FileRecords.
type Scanner struct {
	cfg ScannerConfig
}

// NewScanner creates a scanner.
func NewScanner(cfg ScannerConfig) *Scanner {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultScannerConfig().MaxConcurrent
	}
	return &Scanner{cfg: cfg}
}

// hiddenAllowlist names hidden directories worth scanning anyway.
var hiddenAllowlist = map[string]bool{
	".config": true,
}

// ScanDirectory walks root and returns every regular file as a record.
// The walk only enumerates names; stats run on a bounded worker pool.
// A single unreadable file is skipped, not fatal.
func (s *Scanner) ScanDirectory(ctx context.Context, root string) ([]FileRecord, error) {
	defer logging.StartTimer(logging.CategoryScan, "scan_directory").Stop()

	var mu sync.Mutex
	var records []FileRecord

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrent)

	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			logging.ScanDebug("skipping %s: %v", path, err)
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		name := d.Name()
		if d.IsDir() {
			if strings.HasPrefix(name, ".") && name != "." && path != root {
				if s.cfg.IncludeHidden || hiddenAllowlist[name] {
					return nil
				}
				return filepath.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") {
			return nil
		}

		g.Go(func() error {
			// Lstat so symlinks report themselves and stay excluded.
			info, err := os.Lstat(path)
			if err != nil {
				logging.ScanDebug("skipping %s: %v", path, err)
				return nil
			}
			if !info.Mode().IsRegular() {
				return nil
			}
			rec := FileRecord{
				ID:      uuid.NewString(),
				Name:    name,
				Path:    path,
				Size:    info.Size(),
				ModTime: info.ModTime().Unix(),
			}
			mu.Lock()
			records = append(records, rec)
			mu.Unlock()
			return nil
		})
		return nil
	})
	if werr := g.Wait(); werr != nil && err == nil {
		err = werr
	}
	if err != nil {
		return nil, err
	}

	// Walk + worker pool makes ordering nondeterministic; sort for
	// reproducible downstream clustering.
	sort.Slice(records, func(i, j int) bool { return records[i].Path < records[j].Path })

	logging.Scan("scanned %d files under %s", len(records), root)
	return records, nil
}

// PartitionDirectory splits root's contents into first-level folders and
// loose files, scanning each folder recursively.
func (s *Scanner) PartitionDirectory(ctx context.Context, root string) (*Partition, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	p := &Partition{Folders: make(map[string][]FileRecord)}
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			continue
		}
		full := filepath.Join(root, name)
		if e.IsDir() {
			recs, err := s.ScanDirectory(ctx, full)
			if err != nil {
				return nil, err
			}
			p.Folders[name] = recs
			continue
		}
		info, err := e.Info()
		if err != nil {
			logging.ScanDebug("skipping %s: %v", full, err)
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		p.Loose = append(p.Loose, FileRecord{
			ID:      uuid.NewString(),
			Name:    name,
			Path:    full,
			Size:    info.Size(),
			ModTime: info.ModTime().Unix(),
		})
	}
	return p, nil
}
