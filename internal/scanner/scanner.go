// Package scanner enumerates a repository and builds its RepoMap.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/go-git/go-git/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lucasnoah/fixloop/internal/ticket"
)

// DefaultMaxFiles bounds how many files a scan records.
const DefaultMaxFiles = 20000

// statWorkers bounds concurrent stat calls when listing from the git index.
const statWorkers = 8

// Scanner builds repository maps. Tracked files come from the git index when the
// root is a git work tree; otherwise the directory is walked.
type Scanner struct {
	MaxFiles int
	logger   *zap.Logger
}

// New creates a Scanner.
func New(logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{MaxFiles: DefaultMaxFiles, logger: logger}
}

// Scan enumerates root and detects configs, entrypoints and the test framework.
func (s *Scanner) Scan(ctx context.Context, root string) (*ticket.RepoMap, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("repository root %s is not a directory", abs)
	}

	var (
		files  []ticket.FileEntry
		branch string
	)
	repo, err := git.PlainOpen(abs)
	switch {
	case err == nil:
		branch = currentBranch(repo)
		files, err = s.fromIndex(ctx, abs, repo)
		if err != nil {
			s.logger.Warn("git index unreadable, walking directory", zap.Error(err))
			files, err = s.walk(ctx, abs)
		}
	case errors.Is(err, git.ErrRepositoryNotExists):
		files, err = s.walk(ctx, abs)
	default:
		s.logger.Warn("open git repository", zap.Error(err))
		files, err = s.walk(ctx, abs)
	}
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	if s.MaxFiles > 0 && len(files) > s.MaxFiles {
		s.logger.Warn("repository truncated", zap.Int("files", len(files)), zap.Int("max", s.MaxFiles))
		files = files[:s.MaxFiles]
	}

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}
	configs := detectConfigs(paths)
	m := &ticket.RepoMap{
		Root:          abs,
		Files:         files,
		ConfigsFound:  configs,
		TestFramework: detectFramework(abs, configs, paths),
		Entrypoints:   detectEntrypoints(paths),
		Branch:        branch,
	}
	s.logger.Info("repository scanned",
		zap.String("root", abs),
		zap.Int("files", len(files)),
		zap.String("framework", m.TestFramework),
		zap.String("branch", branch),
	)
	return m, nil
}

func currentBranch(repo *git.Repository) string {
	head, err := repo.Head()
	if err != nil {
		return ""
	}
	if head.Name().IsBranch() {
		return head.Name().Short()
	}
	return head.Hash().String()[:12]
}

// fromIndex lists tracked files that still exist on disk.
func (s *Scanner) fromIndex(ctx context.Context, root string, repo *git.Repository) ([]ticket.FileEntry, error) {
	idx, err := repo.Storer.Index()
	if err != nil {
		return nil, fmt.Errorf("read git index: %w", err)
	}
	if len(idx.Entries) == 0 {
		return nil, errors.New("git index is empty")
	}

	var (
		mu    sync.Mutex
		files []ticket.FileEntry
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(statWorkers)
	for _, e := range idx.Entries {
		name := filepath.ToSlash(e.Name)
		if isIgnored(name) {
			continue
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			info, err := os.Lstat(filepath.Join(root, filepath.FromSlash(name)))
			if err != nil || !info.Mode().IsRegular() {
				return nil
			}
			mu.Lock()
			files = append(files, ticket.FileEntry{Path: name, Language: Language(name), Size: info.Size()})
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("stat tracked files: %w", err)
	}
	return files, nil
}

func (s *Scanner) walk(ctx context.Context, root string) ([]ticket.FileEntry, error) {
	var files []ticket.FileEntry
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		rel, relErr := filepath.Rel(root, p)
		if relErr != nil || rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if ignoredDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, infoErr := d.Info()
		if infoErr != nil {
			return nil
		}
		files = append(files, ticket.FileEntry{Path: rel, Language: Language(rel), Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk repository: %w", err)
	}
	return files, nil
}
