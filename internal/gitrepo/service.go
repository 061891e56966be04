// Package gitrepo mirrors committed versions into one git repository per
// document. The relational store stays the source of truth; the mirror is
// for diagnostics and offline inspection.
package gitrepo

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	git "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"quill/api/internal/store"
)

const contentFile = "content.txt"

var ErrNotArchived = errors.New("document not archived")

type CommitInfo struct {
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	Author    string    `json:"author"`
	CreatedAt time.Time `json:"createdAt"`
}

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

func TagName(number int) string {
	return "v" + strconv.Itoa(number)
}

// ArchiveVersion commits the version's content as content.txt with message
// and tag v<N>. Archiving the same number twice is a no-op.
func (s *Service) ArchiveVersion(version store.Version) (CommitInfo, error) {
	path, err := s.repoPath(version.DocumentID)
	if err != nil {
		return CommitInfo{}, err
	}
	lock := s.documentLock(version.DocumentID)
	lock.Lock()
	defer lock.Unlock()

	repo, err := openOrInit(path)
	if err != nil {
		return CommitInfo{}, err
	}

	tag := TagName(version.Number)
	if ref, err := repo.Tag(tag); err == nil {
		existing, err := commitForTag(repo, ref)
		if err != nil {
			return CommitInfo{}, err
		}
		return toCommitInfo(existing), nil
	} else if !errors.Is(err, git.ErrTagNotFound) {
		return CommitInfo{}, fmt.Errorf("lookup tag %s: %w", tag, err)
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return CommitInfo{}, fmt.Errorf("open worktree: %w", err)
	}
	if err := os.WriteFile(filepath.Join(path, contentFile), []byte(version.Content), 0o644); err != nil {
		return CommitInfo{}, fmt.Errorf("write %s: %w", contentFile, err)
	}
	if _, err := worktree.Add(contentFile); err != nil {
		return CommitInfo{}, fmt.Errorf("git add content: %w", err)
	}

	when := version.CreatedAt
	if when.IsZero() {
		when = time.Now()
	}
	signature := &object.Signature{
		Name:  version.AuthorID,
		Email: fmt.Sprintf("%s@users.quill.local", sanitizeEmail(version.AuthorID)),
		When:  when,
	}
	// Identical content across versions still gets its own commit.
	hash, err := worktree.Commit(tag, &git.CommitOptions{AllowEmptyCommits: true, Author: signature})
	if err != nil {
		return CommitInfo{}, fmt.Errorf("commit %s: %w", tag, err)
	}
	if _, err := repo.CreateTag(tag, hash, &git.CreateTagOptions{Tagger: signature, Message: tag}); err != nil && !errors.Is(err, git.ErrTagExists) {
		return CommitInfo{}, fmt.Errorf("create tag %s: %w", tag, err)
	}

	commitObj, err := repo.CommitObject(hash)
	if err != nil {
		return CommitInfo{}, fmt.Errorf("read commit object: %w", err)
	}
	return toCommitInfo(commitObj), nil
}

// ArchivedHistory lists mirrored commits newest first.
func (s *Service) ArchivedHistory(documentID string, limit int) ([]CommitInfo, error) {
	repo, unlock, err := s.open(documentID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolve head: %w", err)
	}
	iter, err := repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("read log: %w", err)
	}
	defer iter.Close()

	items := make([]CommitInfo, 0)
	err = iter.ForEach(func(commitObj *object.Commit) error {
		items = append(items, toCommitInfo(commitObj))
		if limit > 0 && len(items) >= limit {
			return io.EOF
		}
		return nil
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("iterate log: %w", err)
	}
	return items, nil
}

// ArchivedContent reads content.txt as of tag v<number>.
func (s *Service) ArchivedContent(documentID string, number int) (string, error) {
	repo, unlock, err := s.open(documentID)
	if err != nil {
		return "", err
	}
	defer unlock()

	ref, err := repo.Tag(TagName(number))
	if err != nil {
		return "", fmt.Errorf("lookup tag %s: %w", TagName(number), err)
	}
	commitObj, err := commitForTag(repo, ref)
	if err != nil {
		return "", err
	}
	file, err := commitObj.File(contentFile)
	if err != nil {
		return "", fmt.Errorf("load %s from commit: %w", contentFile, err)
	}
	return file.Contents()
}

// RemoveDocument deletes the document's mirror. Missing mirrors are fine.
func (s *Service) RemoveDocument(documentID string) error {
	path, err := s.repoPath(documentID)
	if err != nil {
		return err
	}
	lock := s.documentLock(documentID)
	lock.Lock()
	defer lock.Unlock()
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove archive: %w", err)
	}
	return nil
}

func (s *Service) open(documentID string) (*git.Repository, func(), error) {
	path, err := s.repoPath(documentID)
	if err != nil {
		return nil, nil, err
	}
	lock := s.documentLock(documentID)
	lock.Lock()
	repo, err := git.PlainOpen(path)
	if err != nil {
		lock.Unlock()
		if errors.Is(err, git.ErrRepositoryNotExists) {
			return nil, nil, fmt.Errorf("open archive %s: %w", documentID, ErrNotArchived)
		}
		return nil, nil, fmt.Errorf("open repo: %w", err)
	}
	return repo, lock.Unlock, nil
}

func (s *Service) repoPath(documentID string) (string, error) {
	if documentID == "" || documentID == "." || documentID == ".." || strings.ContainsAny(documentID, `/\`) {
		return "", fmt.Errorf("invalid document id %q", documentID)
	}
	return filepath.Join(s.baseDir, documentID), nil
}

func (s *Service) documentLock(documentID string) *sync.Mutex {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	lock, ok := s.locks[documentID]
	if ok {
		return lock
	}
	lock = &sync.Mutex{}
	s.locks[documentID] = lock
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
	repo, err = git.PlainInitWithOptions(path, &git.PlainInitOptions{
		InitOptions: git.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName("main")},
	})
	if err != nil {
		return nil, fmt.Errorf("init repo: %w", err)
	}
	return repo, nil
}

func commitForTag(repo *git.Repository, ref *plumbing.Reference) (*object.Commit, error) {
	if tagObj, err := repo.TagObject(ref.Hash()); err == nil {
		commitObj, err := tagObj.Commit()
		if err != nil {
			return nil, fmt.Errorf("resolve tag commit: %w", err)
		}
		return commitObj, nil
	}
	commitObj, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return nil, fmt.Errorf("read commit object: %w", err)
	}
	return commitObj, nil
}

func toCommitInfo(commitObj *object.Commit) CommitInfo {
	return CommitInfo{
		Hash:      commitObj.Hash.String()[:7],
		Message:   strings.TrimSpace(commitObj.Message),
		Author:    commitObj.Author.Name,
		CreatedAt: commitObj.Author.When,
	}
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
		return "user"
	}
	return string(out)
}
