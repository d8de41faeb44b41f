// Package vectorize implements the Code Vectorization Pipeline (C4):
// walk a project tree, skip content that hasn't changed since the last
// run, summarize new or changed files into markdown fragments, embed
// them, and keep the Tiered Vector Store in sync with what's on disk.
// Grounded on internal/rag/index/manager.go's parse->chunk->embed->store
// pipeline shape, retargeted from document ingestion to source-file
// ingestion.
package vectorize

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/codesage-ai/codesage/internal/embedclient"
	"github.com/codesage-ai/codesage/internal/llm"
	"github.com/codesage-ai/codesage/internal/vectorstore"
	"github.com/codesage-ai/codesage/pkg/models"
)

// Config configures a Pipeline.
type Config struct {
	ProjectRoot string
	ProjectKey  string
	// Extensions restricts ingestion to these file extensions, each
	// including the leading dot (".go", ".py", ...). Empty means no
	// restriction.
	Extensions []string
	// CachePath is the on-disk location of the persisted HashCache.
	CachePath string
	// SummaryPrompt is the system prompt used for Summarizer.Summarize
	// calls. A reasonable default is supplied if empty.
	SummaryPrompt string
	Logger        *slog.Logger
}

// RunOptions controls one Pipeline.Run invocation.
type RunOptions struct {
	// ForceUpdate bypasses the hash-cache short-circuit, re-summarizing
	// and re-embedding every matched file regardless of whether its
	// content changed.
	ForceUpdate bool
	// FromExistingMD skips the LLM-summarize step and re-embeds
	// already-generated markdown files directly, purging existing
	// code_summary fragments for the project first.
	FromExistingMD bool
	// MDRoot is the directory FromExistingMD walks for markdown
	// fragments when set; defaults to Config.ProjectRoot.
	MDRoot string
}

// FileResult captures the outcome of ingesting a single file.
type FileResult struct {
	Path   string
	Action string // "embedded", "skipped", "deleted"
}

// Result summarizes one Pipeline.Run invocation. Per-file failures are
// captured in Errors and never abort the batch.
type Result struct {
	Files    []FileResult
	Errors   map[string]error
	Duration time.Duration
}

// Pipeline is the vectorization driver.
type Pipeline struct {
	cfg       Config
	summarize Summarizer
	embed     *embedclient.Client
	store     *vectorstore.Store
	cache     *HashCache
}

// Summarizer turns raw file content into a markdown fragment. Its
// default implementation is an llm.Service.Simple call.
type Summarizer interface {
	Summarize(ctx context.Context, path, content string) (string, error)
}

// LLMSummarizer adapts an llm.Service into a Summarizer.
type LLMSummarizer struct {
	Service *llm.Service
	Prompt  string
}

func (s *LLMSummarizer) Summarize(ctx context.Context, path, content string) (string, error) {
	prompt := s.Prompt
	if prompt == "" {
		prompt = defaultSummaryPrompt
	}
	user := fmt.Sprintf("File: %s\n\n%s", path, content)
	return s.Service.Simple(ctx, prompt, user)
}

const defaultSummaryPrompt = "Summarize the purpose, public API, and key dependencies of the given source file in concise markdown. Do not include the raw source."

// New builds a Pipeline, loading its HashCache from cfg.CachePath.
func New(cfg Config, summarizer Summarizer, embed *embedclient.Client, store *vectorstore.Store) (*Pipeline, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if s, ok := summarizer.(*LLMSummarizer); ok && s.Prompt == "" {
		s.Prompt = cfg.SummaryPrompt
	}
	cache, err := LoadHashCache(cfg.CachePath)
	if err != nil {
		return nil, fmt.Errorf("vectorize: load hash cache: %w", err)
	}
	return &Pipeline{cfg: cfg, summarize: summarizer, embed: embed, store: store, cache: cache}, nil
}

// Run walks cfg.ProjectRoot and synchronizes the vector store with
// what's on disk according to opts.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*Result, error) {
	start := time.Now()
	res := &Result{Errors: make(map[string]error)}

	if opts.FromExistingMD {
		if _, err := p.store.CleanupByTag(ctx, models.MetadataFilter{
			ProjectKey: p.cfg.ProjectKey,
			Type:       models.FragmentCodeSummary,
		}); err != nil {
			return nil, fmt.Errorf("vectorize: purge existing code_summary fragments: %w", err)
		}
		root := opts.MDRoot
		if root == "" {
			root = p.cfg.ProjectRoot
		}
		return p.runFromExistingMD(ctx, root, res, start)
	}

	seen := make(map[string]bool)

	err := filepath.WalkDir(p.cfg.ProjectRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !p.matchesExtension(path) {
			return nil
		}
		rel, relErr := filepath.Rel(p.cfg.ProjectRoot, path)
		if relErr != nil {
			rel = path
		}
		seen[rel] = true

		action, ferr := p.ingestFile(ctx, path, rel, opts.ForceUpdate)
		if ferr != nil {
			res.Errors[rel] = ferr
			return nil
		}
		res.Files = append(res.Files, FileResult{Path: rel, Action: action})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("vectorize: walk project root: %w", err)
	}

	for _, rel := range p.cache.Paths() {
		if seen[rel] {
			continue
		}
		if derr := p.deleteFile(ctx, rel); derr != nil {
			res.Errors[rel] = derr
			continue
		}
		res.Files = append(res.Files, FileResult{Path: rel, Action: "deleted"})
	}

	if err := p.cache.Save(); err != nil {
		p.cfg.Logger.Warn("vectorize: failed to persist hash cache", "error", err)
	}

	res.Duration = time.Since(start)
	return res, nil
}

func (p *Pipeline) matchesExtension(path string) bool {
	if len(p.cfg.Extensions) == 0 {
		return true
	}
	ext := filepath.Ext(path)
	for _, allowed := range p.cfg.Extensions {
		if strings.EqualFold(ext, allowed) {
			return true
		}
	}
	return false
}

func (p *Pipeline) ingestFile(ctx context.Context, absPath, relPath string, force bool) (string, error) {
	content, err := os.ReadFile(absPath)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}

	hash := hashContent(content)
	if !force {
		if prev, ok := p.cache.Get(relPath); ok && prev == hash {
			return "skipped", nil
		}
	}

	summary, err := p.summarize.Summarize(ctx, relPath, string(content))
	if err != nil {
		return "", fmt.Errorf("summarize: %w", err)
	}

	if err := p.embedAndStore(ctx, relPath, summary); err != nil {
		return "", err
	}

	p.cache.Set(relPath, hash)
	return "embedded", nil
}

func (p *Pipeline) embedAndStore(ctx context.Context, relPath, markdown string) error {
	vector, _, err := p.embed.Embed(ctx, markdown)
	if err != nil {
		return fmt.Errorf("embed: %w", err)
	}

	frag := &models.EmbeddingFragment{
		ID:      fragmentID(p.cfg.ProjectKey, relPath),
		Vector:  vector,
		Title:   relPath,
		Content: markdown,
		Tags:    []string{relPath},
		Metadata: models.FragmentMetadata{
			Type:       models.FragmentCodeSummary,
			ProjectKey: p.cfg.ProjectKey,
			Extra:      map[string]any{"path": relPath},
		},
	}
	if err := p.store.Upsert(ctx, frag); err != nil {
		return fmt.Errorf("upsert fragment: %w", err)
	}
	return nil
}

func (p *Pipeline) deleteFile(ctx context.Context, relPath string) error {
	if err := p.store.Delete(ctx, p.cfg.ProjectKey, fragmentID(p.cfg.ProjectKey, relPath)); err != nil {
		return fmt.Errorf("delete fragment: %w", err)
	}
	p.cache.Delete(relPath)
	return nil
}

func (p *Pipeline) runFromExistingMD(ctx context.Context, root string, res *Result, start time.Time) (*Result, error) {
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".md" {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}

		content, rerr := os.ReadFile(path)
		if rerr != nil {
			res.Errors[rel] = rerr
			return nil
		}
		if serr := p.embedAndStore(ctx, rel, string(content)); serr != nil {
			res.Errors[rel] = serr
			return nil
		}
		p.cache.Set(rel, hashContent(content))
		res.Files = append(res.Files, FileResult{Path: rel, Action: "embedded"})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("vectorize: walk markdown root: %w", err)
	}
	if err := p.cache.Save(); err != nil {
		p.cfg.Logger.Warn("vectorize: failed to persist hash cache", "error", err)
	}
	res.Duration = time.Since(start)
	return res, nil
}

func hashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

func fragmentID(projectKey, relPath string) string {
	sum := sha256.Sum256([]byte(projectKey + "::" + relPath))
	return hex.EncodeToString(sum[:])
}
