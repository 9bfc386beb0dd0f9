package sync

import (
	"fmt"
	"runtime"

	"github.com/biswanathroul/filesync-guardian/internal/utils"
	"github.com/bmatcuk/doublestar/v4"
)

// SymlinkPolicy controls how the scanner treats symbolic links.
type SymlinkPolicy string

const (
	SymlinkSkip   SymlinkPolicy = "skip"   // ignore links, log a warning
	SymlinkCopy   SymlinkPolicy = "copy"   // reproduce the link itself
	SymlinkFollow SymlinkPolicy = "follow" // materialize the link target
)

// Config enumerates every option the engine recognizes. Zero values get
// documented defaults from Validate.
type Config struct {
	// SourcePath and TargetPath are required, distinct, non-overlapping
	// directory paths. Validate resolves them to absolute paths.
	SourcePath string
	TargetPath string

	// DeleteOrphans removes target-only paths. Default true.
	DeleteOrphans bool

	// VerifyChecksums re-hashes applied files after copy. Default true.
	VerifyChecksums bool

	// ExcludePatterns are doublestar globs matched against relative paths.
	ExcludePatterns []string

	// MaxParallelOps bounds the applier worker pool.
	// Default runtime.GOMAXPROCS(0).
	MaxParallelOps int

	// SymlinkPolicy defaults to SymlinkSkip.
	SymlinkPolicy SymlinkPolicy

	// DryRun computes and reports the change set without applying it.
	DryRun bool

	// StrictCompare disables the size+mtime fast path and hashes every
	// file pair during diffing. Default false.
	StrictCompare bool

	// VerifySample is the fraction of applied files the verifier re-hashes
	// (0 < f <= 1). Default 1.0.
	VerifySample float64
}

// NewConfig returns a Config for the given roots with all defaults set.
func NewConfig(sourcePath, targetPath string) *Config {
	return &Config{
		SourcePath:      sourcePath,
		TargetPath:      targetPath,
		DeleteOrphans:   true,
		VerifyChecksums: true,
		SymlinkPolicy:   SymlinkSkip,
		VerifySample:    1.0,
	}
}

// Validate resolves both roots, applies defaults and rejects invalid
// combinations. Must be called before the config is handed to an Engine.
func (c *Config) Validate() error {
	src, err := utils.ResolvePath(c.SourcePath)
	if err != nil {
		return fmt.Errorf("invalid source path %q: %w", c.SourcePath, err)
	}
	dst, err := utils.ResolvePath(c.TargetPath)
	if err != nil {
		return fmt.Errorf("invalid target path %q: %w", c.TargetPath, err)
	}
	c.SourcePath = src
	c.TargetPath = dst

	if src == dst {
		return fmt.Errorf("source and target must be distinct paths")
	}
	if utils.PathsOverlap(src, dst) {
		return fmt.Errorf("source and target must not overlap: %q vs %q", src, dst)
	}

	switch c.SymlinkPolicy {
	case SymlinkSkip, SymlinkCopy, SymlinkFollow:
	case "":
		c.SymlinkPolicy = SymlinkSkip
	default:
		return fmt.Errorf("invalid symlink policy %q", c.SymlinkPolicy)
	}

	for _, pattern := range c.ExcludePatterns {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid exclude pattern %q", pattern)
		}
	}

	if c.MaxParallelOps <= 0 {
		c.MaxParallelOps = runtime.GOMAXPROCS(0)
	}
	if c.VerifySample <= 0 || c.VerifySample > 1 {
		c.VerifySample = 1.0
	}

	return nil
}
