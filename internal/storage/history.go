// Records directory version history using go-git (pure Go, no git binary dependency).

package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const (
	historyName  = "selfiegram"
	historyEmail = "selfiegram@localhost"
)

// History commits every change of a records directory to a git repository
// living in that directory.
type History struct {
	dir  string
	repo *gogit.Repository
	mu   sync.Mutex
}

// Commit represents a commit in the history.
type Commit struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// OpenHistory opens the repository in dir, initializing it if needed.
func OpenHistory(dir string) (*History, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return nil, fmt.Errorf("failed to create repo directory: %w", err)
	}
	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		// Not a repo yet.
		repo, err = gogit.PlainInit(dir, false)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize git repo: %w", err)
		}
		cfg, err := repo.Config()
		if err != nil {
			return nil, fmt.Errorf("failed to read git config: %w", err)
		}
		cfg.User.Name = historyName
		cfg.User.Email = historyEmail
		if err := repo.SetConfig(cfg); err != nil {
			return nil, fmt.Errorf("failed to write git config: %w", err)
		}
		// In-flight writes of other records must never be committed.
		if err := os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("*"+tmpSuffix+"\n"), 0o644); err != nil { //nolint:gosec // G306: not secret
			return nil, fmt.Errorf("failed to write .gitignore: %w", err)
		}
	}
	return &History{dir: dir, repo: repo}, nil
}

// Commit stages every change in the directory and commits it with msg.
//
// It is a no-op when the worktree is clean.
func (h *History) Commit(_ context.Context, msg string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	w, err := h.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	// All also stages deletions.
	if err := w.AddWithOptions(&gogit.AddOptions{All: true}); err != nil {
		return fmt.Errorf("failed to stage files: %w", err)
	}
	status, err := w.Status()
	if err != nil {
		return fmt.Errorf("failed to get worktree status: %w", err)
	}
	if status.IsClean() {
		return nil
	}
	now := time.Now()
	sig := &object.Signature{Name: historyName, Email: historyEmail, When: now}
	if _, err := w.Commit(msg, &gogit.CommitOptions{Author: sig, Committer: sig}); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Log returns up to n commits touching the record id, newest first. An empty
// id returns the whole history.
func (h *History) Log(_ context.Context, id string, n int) ([]*Commit, error) {
	if n <= 0 || n > 1000 {
		n = 1000
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	opts := &gogit.LogOptions{}
	if id != "" {
		prefix := id + "."
		imgName := id + imageSuffix
		opts.PathFilter = func(p string) bool {
			return strings.HasPrefix(p, prefix) || p == imgName
		}
	}
	iter, err := h.repo.Log(opts)
	if err != nil {
		return nil, nil // no commits yet is not an error
	}
	defer iter.Close()

	var commits []*Commit
	for range n {
		c, err := iter.Next()
		if err != nil {
			break
		}
		subject, _, _ := strings.Cut(c.Message, "\n")
		commits = append(commits, &Commit{
			Hash:      c.Hash.String(),
			Message:   subject,
			Timestamp: c.Author.When,
		})
	}
	return commits, nil
}
