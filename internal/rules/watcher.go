package rules

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/ziadkadry99/menusql/internal/category"
)

// Watch invalidates cached rules when corpus files change. It blocks until
// ctx is cancelled. Edits under a category directory invalidate that
// category; edits to the base schema or to patterns invalidate everything.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	if err := addTree(watcher, s.dir); err != nil {
		return fmt.Errorf("watching %s: %w", s.dir, err)
	}
	s.logger.Info("watching rules corpus", zap.String("dir", s.dir))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					s.watchNewDir(watcher, ev.Name)
				}
			}
			if ev.Has(fsnotify.Chmod) && !ev.Has(fsnotify.Write) {
				continue
			}
			s.applyChange(ev.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("rules watcher error", zap.Error(err))
		}
	}
}

func (s *Store) applyChange(path string) {
	rel, err := filepath.Rel(s.dir, path)
	if err != nil {
		return
	}
	c, all := affected(rel)
	switch {
	case all:
		s.logger.Info("rules corpus changed, invalidating all", zap.String("path", rel))
		s.InvalidateAll()
	case c != "":
		s.logger.Info("rules changed", zap.String("category", string(c)), zap.String("path", rel))
		s.Invalidate(c)
	}
}

// affected maps a corpus-relative path to the category it belongs to, or
// reports that every category is affected.
func affected(rel string) (category.Category, bool) {
	rel = filepath.ToSlash(filepath.Clean(rel))
	if rel == "." || strings.HasPrefix(rel, "../") {
		return "", false
	}
	first, _, nested := strings.Cut(rel, "/")
	if !nested {
		if first == schemaFile {
			return "", true
		}
		if c, err := category.Parse(first); err == nil {
			// The category directory itself was created or removed.
			return c, false
		}
		return "", false
	}
	if first == patternsDir {
		return "", true
	}
	if c, err := category.Parse(first); err == nil {
		return c, false
	}
	return "", false
}

// addTree adds root and every directory below it. fsnotify is not recursive.
// watchNewDir adds a directory created after Watch started.
func (s *Store) watchNewDir(w *fsnotify.Watcher, dir string) {
	if err := addTree(w, dir); err != nil {
		s.logger.Warn("cannot watch new rules directory", zap.String("dir", dir), zap.Error(err))
	}
}

func addTree(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
