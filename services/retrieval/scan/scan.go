// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package scan walks a document vault and classifies each file against
// its stored fingerprint.
//
// Change detection is two-phase. A size+mtime match against the stored
// fingerprint skips the file without reading it. When either moved, the
// file is re-read and hashed; the content hash is the final authority,
// so a touched-but-identical file still classifies as unchanged.
package scan

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/AleutianAI/kodiak/services/retrieval/repository"
)

// Classification is the scan verdict for one file.
type Classification int

const (
	// Unchanged means the content hash (or fast path) matches the
	// stored fingerprint.
	Unchanged Classification = iota

	// Added means the file has no stored fingerprint.
	Added

	// Modified means the content hash differs from the fingerprint.
	Modified

	// Removed means a fingerprinted file no longer exists on disk.
	Removed
)

// String returns the classification name.
func (c Classification) String() string {
	switch c {
	case Unchanged:
		return "unchanged"
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// FileChange is one classified file with its fresh fingerprint.
// Removed files carry the stored fingerprint instead.
type FileChange struct {
	Path        string
	Class       Classification
	Fingerprint repository.Fingerprint
}

// Result is the outcome of a full vault scan.
type Result struct {
	// Changes holds added, modified, and removed files.
	Changes []FileChange

	// Unchanged holds files whose content did not move. Their
	// fingerprints may still need a refresh (mtime drift).
	Unchanged []FileChange

	// Scanned is the number of supported files visited.
	Scanned int
}

// Config configures a Detector.
type Config struct {
	// VaultPath is the root directory to scan.
	VaultPath string

	// ExcludedSegments are path segment names skipped anywhere in the
	// tree (exact match).
	ExcludedSegments []string

	// ExcludedPrefixes skip any segment starting with one of these.
	ExcludedPrefixes []string
}

// DefaultConfig returns exclusions suitable for a notes vault.
func DefaultConfig(vaultPath string) Config {
	return Config{
		VaultPath:        vaultPath,
		ExcludedSegments: []string{".git", ".obsidian", ".trash", "node_modules"},
		ExcludedPrefixes: []string{"~"},
	}
}

// Detector classifies vault files against stored fingerprints.
//
// Symlinked directories are not followed (filepath.WalkDir semantics),
// so a symlink loop inside the vault cannot hang a scan. A symlinked
// file is hashed like a regular file.
//
// Thread Safety: safe for concurrent use; scans are independent.
type Detector struct {
	cfg          Config
	registry     *Registry
	fingerprints *repository.FingerprintStore
	logger       *slog.Logger
}

// NewDetector creates a Detector.
func NewDetector(cfg Config, registry *Registry, fingerprints *repository.FingerprintStore, logger *slog.Logger) *Detector {
	return &Detector{
		cfg:          cfg,
		registry:     registry,
		fingerprints: fingerprints,
		logger:       logger,
	}
}

// Excluded reports whether a vault-relative path is excluded from
// indexing. A path is excluded when any of its segments matches an
// excluded segment exactly or starts with an excluded prefix.
func (d *Detector) Excluded(relPath string) bool {
	for _, segment := range strings.Split(filepath.ToSlash(relPath), "/") {
		for _, excluded := range d.cfg.ExcludedSegments {
			if segment == excluded {
				return true
			}
		}
		for _, prefix := range d.cfg.ExcludedPrefixes {
			if prefix != "" && strings.HasPrefix(segment, prefix) {
				return true
			}
		}
	}
	return false
}

// Scan walks the vault and classifies every supported file.
//
// Description:
//
//	Reads stored fingerprints once up front, walks the tree, and
//	classifies each supported file. Files that vanished since the
//	last scan come back as Removed. Unreadable files are logged and
//	skipped rather than failing the scan.
//
// Outputs:
//
//	Result - Classified changes. Fingerprints inside are fresh for
//	Added/Modified/Unchanged and stored for Removed.
//	error - Non-nil when the walk itself or the fingerprint load fails.
func (d *Detector) Scan(ctx context.Context) (Result, error) {
	stored, err := d.fingerprints.List(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load fingerprints: %w", err)
	}

	var result Result
	seen := make(map[string]struct{}, len(stored))

	walkErr := filepath.WalkDir(d.cfg.VaultPath, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		rel, err := filepath.Rel(d.cfg.VaultPath, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}

		if entry.IsDir() {
			if d.Excluded(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Excluded(rel) || !d.registry.Supported(path) {
			return nil
		}

		info, err := entry.Info()
		if err != nil {
			d.logger.Warn("stat failed, skipping file", slog.String("path", rel), slog.String("error", err.Error()))
			return nil
		}

		rel = filepath.ToSlash(rel)
		seen[rel] = struct{}{}
		result.Scanned++

		change, err := d.classify(path, rel, info, stored)
		if err != nil {
			d.logger.Warn("hash failed, skipping file", slog.String("path", rel), slog.String("error", err.Error()))
			return nil
		}
		if change.Class == Unchanged {
			result.Unchanged = append(result.Unchanged, change)
		} else {
			result.Changes = append(result.Changes, change)
		}
		return nil
	})
	if walkErr != nil {
		return Result{}, fmt.Errorf("walk vault %s: %w", d.cfg.VaultPath, walkErr)
	}

	for path, fp := range stored {
		if _, ok := seen[path]; !ok {
			result.Changes = append(result.Changes, FileChange{
				Path:        path,
				Class:       Removed,
				Fingerprint: fp,
			})
		}
	}

	return result, nil
}

// classify compares one file against its stored fingerprint.
func (d *Detector) classify(absPath, relPath string, info fs.FileInfo, stored map[string]repository.Fingerprint) (FileChange, error) {
	now := time.Now().UTC()
	prev, known := stored[relPath]

	// Fast path: size and mtime both match, content assumed identical.
	if known && prev.Size == info.Size() && prev.MTime.Equal(info.ModTime()) {
		prev.LastChecked = now
		return FileChange{Path: relPath, Class: Unchanged, Fingerprint: prev}, nil
	}

	hash, err := hashFile(absPath)
	if err != nil {
		return FileChange{}, err
	}

	fp := repository.Fingerprint{
		Path:        relPath,
		Size:        info.Size(),
		MTime:       info.ModTime(),
		ContentHash: hash,
		LastChecked: now,
	}

	switch {
	case !known:
		return FileChange{Path: relPath, Class: Added, Fingerprint: fp}, nil
	case prev.ContentHash == hash:
		// Touched but identical. Refresh the fingerprint so the fast
		// path works next cycle.
		return FileChange{Path: relPath, Class: Unchanged, Fingerprint: fp}, nil
	default:
		return FileChange{Path: relPath, Class: Modified, Fingerprint: fp}, nil
	}
}

// hashFile returns the SHA-256 hex digest of a file's contents.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
