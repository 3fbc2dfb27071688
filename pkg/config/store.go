// Copyright (C) 2025-2026, Advanced Micro Devices, Inc. All rights reserved.
// See LICENSE for license information.

package config

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/AMD-AGI/Skylapse/brain/pkg/errors"
	"github.com/AMD-AGI/Skylapse/brain/pkg/logger/log"
)

// Environment variable names. Unset values fall back to configured defaults.
const (
	EnvConfigPath = "BRAIN_CONFIG_PATH"
	EnvDataDir    = "BRAIN_DATA_DIR"
	EnvLogLevel   = "BRAIN_LOG_LEVEL"
	EnvQueueURL   = "BRAIN_QUEUE_URL"
)

func PathFromEnv() string {
	if p := os.Getenv(EnvConfigPath); p != "" {
		return p
	}
	return "config.json"
}

func DataDirFromEnv() string {
	if p := os.Getenv(EnvDataDir); p != "" {
		return p
	}
	return "data"
}

// Store owns the configuration document. It is the sole durable-write
// primitive for config; the scheduler only ever reads snapshots.
type Store struct {
	path string

	mu      sync.RWMutex
	doc     *Document
	version uint64

	watcher *fsnotify.Watcher
	closed  atomic.Bool
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads and validates the document from disk, replacing the current
// snapshot and bumping the version.
func (s *Store) Load() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		return errors.NewError().
			WithCode(errors.CodeConfigIO).
			WithMessagef("failed to read config file %s", s.path).
			WithError(err)
	}

	doc := &Document{}
	if err := json.Unmarshal(raw, doc); err != nil {
		return errors.NewError().
			WithCode(errors.CodeConfigInvalid).
			WithMessagef("failed to parse config file %s", s.path).
			WithError(err)
	}
	if err := doc.Validate(); err != nil {
		return err
	}
	s.applyDefaults(doc)

	s.mu.Lock()
	s.doc = doc
	s.version++
	s.mu.Unlock()
	return nil
}

// applyDefaults fills storage paths from BRAIN_DATA_DIR when unset.
func (s *Store) applyDefaults(doc *Document) {
	dataDir := DataDirFromEnv()
	if doc.Storage.DatabasePath == "" {
		doc.Storage.DatabasePath = filepath.Join(dataDir, "brain.db")
	}
	if doc.Storage.ImageRoot == "" {
		doc.Storage.ImageRoot = filepath.Join(dataDir, "images")
	}
	if doc.Storage.VideoRoot == "" {
		doc.Storage.VideoRoot = filepath.Join(dataDir, "videos")
	}
	if doc.Storage.WorkerLogDir == "" {
		doc.Storage.WorkerLogDir = filepath.Join(dataDir, "logs")
	}
	if lvl := os.Getenv(EnvLogLevel); lvl != "" {
		doc.Logging.Level = lvl
	}
}

// Snapshot returns a deep copy of the current document. Callers may mutate
// the copy freely (typically as the starting point for a Save); shared state
// never changes outside Load and Save.
func (s *Store) Snapshot() *Document {
	s.mu.RLock()
	doc := s.doc
	s.mu.RUnlock()
	if doc == nil {
		return nil
	}

	copied, err := doc.DeepCopy()
	if err != nil {
		// The document round-tripped through JSON at load time already; a
		// copy failure here means memory corruption, not bad input.
		log.Errorf("Config snapshot copy failed, returning shared document: %v", err)
		return doc
	}
	return copied
}

// Version increments on every successful Load or Save. The scheduler
// consults it each tick and rebinds its snapshot when it changes.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// DeepCopy clones the document through its JSON form.
func (d *Document) DeepCopy() (*Document, error) {
	raw, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	out := &Document{}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Save validates doc and writes it atomically: temp file in the same
// directory, fsync, rename over the target. On any failure the temp file is
// removed and the pre-existing file is untouched.
func (s *Store) Save(doc *Document) error {
	if err := doc.Validate(); err != nil {
		return err
	}

	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.NewError().
			WithCode(errors.CodeInternalError).
			WithMessage("failed to encode config").
			WithError(err)
	}

	dir := filepath.Dir(s.path)
	tmp, err := os.CreateTemp(dir, ".config-*.json")
	if err != nil {
		return errors.NewError().
			WithCode(errors.CodeConfigIO).
			WithMessagef("failed to create temp file in %s", dir).
			WithError(err)
	}
	tmpName := tmp.Name()

	cleanup := func(cause error) error {
		tmp.Close()
		os.Remove(tmpName)
		return errors.NewError().
			WithCode(errors.CodeConfigIO).
			WithMessagef("failed to write config file %s", s.path).
			WithError(cause)
	}

	if _, err := tmp.Write(raw); err != nil {
		return cleanup(err)
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return cleanup(err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return cleanup(err)
	}

	s.mu.Lock()
	s.doc = doc
	s.version++
	s.mu.Unlock()
	return nil
}

// Watch reloads the document when the file changes on disk (external edits
// through the config CLI/UI land here). Save already bumps the version, so
// self-inflicted events at most trigger a redundant reload.
func (s *Store) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return err
	}
	s.watcher = watcher

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Name != s.path {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := s.Load(); err != nil {
					log.Errorf("Config reload after %s failed, keeping previous snapshot: %v", ev.Op, err)
					continue
				}
				log.Infof("Config reloaded from %s (version %d)", s.path, s.Version())
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warnf("Config watcher error: %v", err)
			}
		}
	}()
	return nil
}
