// Package storage persists users, chats and personas as one pretty-printed
// JSON document per record:
//
//	<root>/users/<username>.json
//	<root>/chats/<chat_id>.json
//	<root>/personas/<persona_id>.json
//
// Every operation is total. Failures are logged and reported as false or
// absent, never as an error or a panic. The only in-memory state is the chat
// owner index used by ListChatsByOwner; records themselves are always read
// from disk.
package storage

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/spf13/afero"

	"github.com/zhouzirui/xiaohao/backend/internal/metrics"
	"github.com/zhouzirui/xiaohao/backend/internal/model/chat"
	"github.com/zhouzirui/xiaohao/backend/pkg/log"
)

const (
	usersDir    = "users"
	chatsDir    = "chats"
	personasDir = "personas"

	recordExt = ".json"
	indent    = "    "
)

const (
	entityUser    = "user"
	entityChat    = "chat"
	entityPersona = "persona"
)

var codec = sonic.ConfigStd

type indexEntry struct {
	owner   string
	summary chat.Summary
}

// FileStorage is the file-backed store. It is safe for concurrent use, but
// concurrent writers to the same key follow last-write-wins.
type FileStorage struct {
	fs   afero.Fs
	root string

	mu    sync.RWMutex
	chats map[string]indexEntry
}

// New opens the store rooted at root on fsys, creating the entity
// directories when missing and building the chat owner index.
func New(fsys afero.Fs, root string) (*FileStorage, error) {
	s := &FileStorage{
		fs:    fsys,
		root:  root,
		chats: make(map[string]indexEntry),
	}

	for _, dir := range []string{usersDir, chatsDir, personasDir} {
		if err := fsys.MkdirAll(path.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create %s directory: %w", dir, err)
		}
	}

	if err := s.rebuildIndex(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewOS opens the store on the host filesystem.
func NewOS(root string) (*FileStorage, error) {
	return New(afero.NewOsFs(), root)
}

// Root returns the directory the store was opened on.
func (s *FileStorage) Root() string {
	return s.root
}

func (s *FileStorage) rebuildIndex() error {
	ids, err := s.listKeys(chatsDir)
	if err != nil {
		return fmt.Errorf("scan chats directory: %w", err)
	}

	index := make(map[string]indexEntry, len(ids))
	for _, id := range ids {
		c, ok := s.LoadChat(id)
		if !ok {
			log.Warnf("[storage] skipping unreadable chat %s while building index", id)
			continue
		}
		index[c.ID] = indexEntry{owner: c.OwnerUserID(), summary: c.Summary()}
	}

	s.mu.Lock()
	s.chats = index
	s.mu.Unlock()

	log.Infow("[storage] chat index built", "root", s.root, "chats", len(index))
	return nil
}

// validKey rejects keys that cannot be used as a single file name.
func validKey(key string) bool {
	if key == "" || key == "." || key == ".." {
		return false
	}
	return !strings.ContainsAny(key, "/\\\x00")
}

func (s *FileStorage) recordPath(dir, key string) string {
	return path.Join(s.root, dir, key+recordExt)
}

// writeRecord encodes v and replaces the record atomically through a
// temporary file in the same directory.
func (s *FileStorage) writeRecord(dir, key string, v any) error {
	data, err := codec.MarshalIndent(v, "", indent)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	tmp, err := afero.TempFile(s.fs, path.Join(s.root, dir), "."+key+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("close: %w", err)
	}

	if err := s.fs.Rename(tmpName, s.recordPath(dir, key)); err != nil {
		_ = s.fs.Remove(tmpName)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}

// readRecord decodes the record into v. A missing record yields fs.ErrNotExist.
func (s *FileStorage) readRecord(dir, key string, v any) error {
	data, err := afero.ReadFile(s.fs, s.recordPath(dir, key))
	if err != nil {
		return err
	}
	if err := codec.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}

func (s *FileStorage) exists(dir, key string) bool {
	if !validKey(key) {
		return false
	}
	info, err := s.fs.Stat(s.recordPath(dir, key))
	return err == nil && !info.IsDir()
}

// listKeys returns the keys of all records in dir, skipping temp files.
func (s *FileStorage) listKeys(dir string) ([]string, error) {
	entries, err := afero.ReadDir(s.fs, path.Join(s.root, dir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, recordExt) {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, recordExt))
	}
	return keys, nil
}

// load wraps readRecord with the shared logging and metrics policy.
func (s *FileStorage) load(entity, dir, key string, v any) bool {
	if !validKey(key) {
		log.Warnw("[storage] rejected invalid key", "entity", entity, "key", key)
		return false
	}

	if err := s.readRecord(dir, key, v); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false
		}
		metrics.StorageFailure(entity, "load")
		log.Errorw("[storage] failed to load record", "entity", entity, "key", key, "error", err)
		return false
	}
	return true
}

// save wraps writeRecord with the shared logging and metrics policy.
func (s *FileStorage) save(entity, dir, key string, v any) bool {
	if !validKey(key) {
		log.Warnw("[storage] rejected invalid key", "entity", entity, "key", key)
		return false
	}

	if err := s.writeRecord(dir, key, v); err != nil {
		metrics.StorageFailure(entity, "save")
		log.Errorw("[storage] failed to save record", "entity", entity, "key", key, "error", err)
		return false
	}
	return true
}

// sortSummaries orders by UpdatedAt descending, then ChatID ascending.
func sortSummaries(items []chat.Summary) {
	slices.SortFunc(items, func(a, b chat.Summary) int {
		if c := b.UpdatedAt.Compare(a.UpdatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ChatID, b.ChatID)
	})
}
