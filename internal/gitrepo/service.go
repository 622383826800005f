// Package gitrepo archives canonical record versions in git: one repository
// per record, one commit per accepted version, tagged v<N>.
package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/psinetreject/card-scanner/internal/store"
)

const recordFile = "record.json"

type Service struct {
	baseDir string
	lockMu  sync.Mutex
	locks   map[string]*sync.Mutex
}

func New(baseDir string) *Service {
	return &Service{
		baseDir: baseDir,
		locks:   make(map[string]*sync.Mutex),
	}
}

// Archive commits v.Record as the record's content and points tag v<N> at
// the commit. Re-archiving an existing version moves its tag.
func (s *Service) Archive(ctx context.Context, v store.RecordVersion) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if v.Version <= 0 {
		return fmt.Errorf("archive %s/%s: version must be positive", v.Entity, v.EntityID)
	}
	path, err := s.repoPath(v.Entity, v.EntityID)
	if err != nil {
		return err
	}
	lock := s.recordLock(path)
	lock.Lock()
	defer lock.Unlock()

	repo, err := openOrInit(path)
	if err != nil {
		return err
	}
	worktree, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}
	if err := os.WriteFile(filepath.Join(path, recordFile), append([]byte(v.Record), '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", recordFile, err)
	}
	if _, err := worktree.Add(recordFile); err != nil {
		return fmt.Errorf("git add record: %w", err)
	}

	when := v.CreatedAt
	if when.IsZero() {
		when = time.Now().UTC()
	}
	message := v.Message
	if strings.TrimSpace(message) == "" {
		message = fmt.Sprintf("%s %s v%d", v.Entity, v.EntityID, v.Version)
	}
	hash, err := worktree.Commit(message, &git.CommitOptions{
		AllowEmptyCommits: true,
		Author: &object.Signature{
			Name:  authorName(v.Author),
			Email: fmt.Sprintf("%s@cardscan.local", sanitizeEmail(v.Author)),
			When:  when,
		},
	})
	if err != nil {
		return fmt.Errorf("commit record: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewHashReference(tagName(v.Version), hash)); err != nil {
		return fmt.Errorf("tag version %d: %w", v.Version, err)
	}
	return nil
}

// GetVersion reads the record snapshot tagged v<version>.
func (s *Service) GetVersion(ctx context.Context, entity store.Entity, id string, version int) (store.RecordVersion, error) {
	if err := ctx.Err(); err != nil {
		return store.RecordVersion{}, err
	}
	path, err := s.repoPath(entity, id)
	if err != nil {
		return store.RecordVersion{}, err
	}
	lock := s.recordLock(path)
	lock.Lock()
	defer lock.Unlock()

	missing := fmt.Errorf("%s %s v%d: %w", entity, id, version, store.ErrVersionNotFound)
	repo, err := git.PlainOpen(path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return store.RecordVersion{}, missing
	}
	if err != nil {
		return store.RecordVersion{}, fmt.Errorf("open repo: %w", err)
	}
	ref, err := repo.Reference(tagName(version), true)
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return store.RecordVersion{}, missing
	}
	if err != nil {
		return store.RecordVersion{}, fmt.Errorf("resolve tag: %w", err)
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return store.RecordVersion{}, fmt.Errorf("load commit object: %w", err)
	}
	return toRecordVersion(entity, id, version, commitObj)
}

// History lists archived versions newest first. A record that was never
// archived has an empty history.
func (s *Service) History(ctx context.Context, entity store.Entity, id string) ([]store.RecordVersion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := s.repoPath(entity, id)
	if err != nil {
		return nil, err
	}
	lock := s.recordLock(path)
	lock.Lock()
	defer lock.Unlock()

	repo, err := git.PlainOpen(path)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return []store.RecordVersion{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open repo: %w", err)
	}

	tags, err := repo.Tags()
	if err != nil {
		return nil, fmt.Errorf("list tags: %w", err)
	}
	defer tags.Close()
	items := make([]store.RecordVersion, 0)
	err = tags.ForEach(func(ref *plumbing.Reference) error {
		version, ok := parseTag(ref.Name())
		if !ok {
			return nil
		}
		commitObj, err := repo.CommitObject(ref.Hash())
		if err != nil {
			return fmt.Errorf("load commit for v%d: %w", version, err)
		}
		item, err := toRecordVersion(entity, id, version, commitObj)
		if err != nil {
			return err
		}
		items = append(items, item)
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate tags: %w", err)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Version > items[j].Version })
	return items, nil
}

func (s *Service) repoPath(entity store.Entity, id string) (string, error) {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return "", fmt.Errorf("invalid record id %q", id)
	}
	return filepath.Join(s.baseDir, string(entity), id), nil
}

func (s *Service) recordLock(path string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[path]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[path] = lock
	return lock
}

func openOrInit(path string) (*git.Repository, error) {
	repo, err := git.PlainOpen(path)
	if err == nil {
		return repo, nil
	}
	if !errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("open repo: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create repo dir: %w", err)
	}
	repo, err = git.PlainInit(path, false)
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	if err := repo.Storer.SetReference(plumbing.NewSymbolicReference(plumbing.HEAD, plumbing.NewBranchReferenceName("main"))); err != nil {
		return nil, fmt.Errorf("set HEAD to main: %w", err)
	}
	return repo, nil
}

func toRecordVersion(entity store.Entity, id string, version int, commitObj *object.Commit) (store.RecordVersion, error) {
	file, err := commitObj.File(recordFile)
	if err != nil {
		return store.RecordVersion{}, fmt.Errorf("load %s from commit: %w", recordFile, err)
	}
	contents, err := file.Contents()
	if err != nil {
		return store.RecordVersion{}, fmt.Errorf("read record contents: %w", err)
	}
	return store.RecordVersion{
		Entity:    entity,
		EntityID:  id,
		Version:   version,
		Record:    []byte(strings.TrimSpace(contents)),
		Author:    commitObj.Author.Name,
		Message:   strings.TrimSpace(commitObj.Message),
		CreatedAt: commitObj.Author.When.UTC(),
	}, nil
}

func tagName(version int) plumbing.ReferenceName {
	return plumbing.NewTagReferenceName("v" + strconv.Itoa(version))
}

func parseTag(name plumbing.ReferenceName) (int, bool) {
	if !name.IsTag() {
		return 0, false
	}
	short := strings.TrimPrefix(name.Short(), "v")
	n, err := strconv.Atoi(short)
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

func authorName(author string) string {
	if strings.TrimSpace(author) == "" {
		return "system"
	}
	return author
}

func sanitizeEmail(input string) string {
	out := make([]rune, 0, len(input))
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			out = append(out, r)
			continue
		}
		if r == ' ' || r == '-' || r == '_' {
			out = append(out, '.')
		}
	}
	if len(out) == 0 {
		return "system"
	}
	return string(out)
}
