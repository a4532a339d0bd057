package receipt

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// DefaultBackupKeep is the number of backups retained
const DefaultBackupKeep = 20

const (
	backupPrefix     = "data_backup_"
	backupTimeLayout = "20060102_150405"

	maxBackupsPerSecond = 999
)

// Store owns the in-memory document and its JSON file. Every read and write
// goes through the same mutex, so the background integrity pass never sees a
// half-applied mutation.
type Store struct {
	mu          sync.Mutex
	path        string
	backupDir   string
	keep        int
	doc         *Document
	timeSource  TimeSource
	idGenerator IDGenerator
}

// NewStore opens the document at path, creating the directories it needs.
// A corrupt document is reported, never replaced.
func NewStore(path, backupDir string, keep int) (*Store, error) {
	return NewStoreWithDeps(path, backupDir, keep, &defaultTimeSource{}, &defaultIDGenerator{})
}

// NewStoreWithDeps creates a Store with custom dependencies for testing
func NewStoreWithDeps(path, backupDir string, keep int, timeSrc TimeSource, idGen IDGenerator) (*Store, error) {
	if keep <= 0 {
		keep = DefaultBackupKeep
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return nil, fmt.Errorf("creating backup directory: %w", err)
	}

	s := &Store{
		path:        path,
		backupDir:   backupDir,
		keep:        keep,
		timeSource:  timeSrc,
		idGenerator: idGen,
	}
	doc, err := s.Load()
	if err != nil {
		return nil, err
	}
	s.doc = doc
	return s, nil
}

// Load reads the document from disk. A missing file yields an empty document.
func (s *Store) Load() (*Document, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return NewDocument(), nil
	}
	if err != nil {
		return nil, newError(KindStorage, err, "reading %s", s.path)
	}

	doc, err := decodeDocument(data)
	if err != nil {
		return nil, newError(KindCorruptStore, err, "%s is not a valid document, restore it from %s", s.path, s.backupDir)
	}
	return doc, nil
}

// Snapshot returns a copy of the current document
func (s *Store) Snapshot() *Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone()
}

// View runs fn with the current document while holding the guard. fn must not modify it.
func (s *Store) View(fn func(doc *Document) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.doc)
}

// Save persists doc and makes it the current document
func (s *Store) Save(doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := doc.Clone()
	if err := s.persist(next); err != nil {
		return err
	}
	s.doc = next
	return nil
}

// Tx is one mutation of the document. Filesystem work done inside it registers
// undo hooks, which run if the mutation or the save fails, and follow-up hooks,
// which run once the document is safely on disk.
type Tx struct {
	doc       *Document
	rollbacks []func() error
	commits   []func()
}

// Document returns the working copy being mutated
func (tx *Tx) Document() *Document {
	return tx.doc
}

// OnRollback registers an undo step
func (tx *Tx) OnRollback(fn func() error) {
	tx.rollbacks = append(tx.rollbacks, fn)
}

// OnCommit registers a step to run after the document has been saved
func (tx *Tx) OnCommit(fn func()) {
	tx.commits = append(tx.commits, fn)
}

func (tx *Tx) rollback() {
	for i := len(tx.rollbacks) - 1; i >= 0; i-- {
		if err := tx.rollbacks[i](); err != nil {
			slog.Error("Rollback step failed", "error", err)
		}
	}
}

func (tx *Tx) commit() {
	for _, fn := range tx.commits {
		fn()
	}
}

// Update applies fn to a copy of the document and persists the copy. Nothing
// changes, in memory or on disk, unless fn and the save both succeed.
func (s *Store) Update(fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Tx{doc: s.doc.Clone()}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	if err := s.persist(tx.doc); err != nil {
		tx.rollback()
		return err
	}
	s.doc = tx.doc
	tx.commit()
	return nil
}

// Replace swaps in an imported document after backing up the outgoing one
func (s *Store) Replace(doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := encodeDocument(s.doc)
	if err != nil {
		return err
	}
	if err := s.backup(current); err != nil {
		return newError(KindStorage, err, "backing up current document before import")
	}

	next := doc.Clone()
	if err := s.persist(next); err != nil {
		return err
	}
	s.doc = next
	return nil
}

// persist writes the document atomically and then records a backup
func (s *Store) persist(doc *Document) error {
	data, err := encodeDocument(doc)
	if err != nil {
		return err
	}
	if err := s.atomicWrite(data); err != nil {
		return newError(KindStorage, err, "saving %s", s.path)
	}
	if err := s.backup(data); err != nil {
		slog.Warn("Failed to back up document", "dir", s.backupDir, "error", err)
	}
	return nil
}

func encodeDocument(doc *Document) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling document: %w", err)
	}
	return append(data, '\n'), nil
}

// atomicWrite writes to a temporary sibling and renames it over the primary file
func (s *Store) atomicWrite(data []byte) error {
	tmp := s.path + ".tmp." + s.idGenerator.Generate()

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("syncing temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// backup stores data as a timestamped copy unless the newest backup already
// holds the same content (integrity issues aside), then prunes old copies.
func (s *Store) backup(data []byte) error {
	backups, err := s.Backups()
	if err != nil {
		return err
	}

	if len(backups) > 0 {
		latest, err := os.ReadFile(backups[len(backups)-1])
		if err == nil && sameContent(latest, data) {
			return nil
		}
	}

	if err := s.writeBackup(data); err != nil {
		return err
	}

	backups, err = s.Backups()
	if err != nil {
		return err
	}
	for len(backups) > s.keep {
		if err := os.Remove(backups[0]); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("pruning backup: %w", err)
		}
		backups = backups[1:]
	}
	return nil
}

// writeBackup creates a new backup file and never overwrites an existing one.
// Saves within the same second get a counter suffix, which sorts after the
// plain name.
func (s *Store) writeBackup(data []byte) error {
	stamp := backupPrefix + s.timeSource.Now().Format(backupTimeLayout)
	for n := 0; n <= maxBackupsPerSecond; n++ {
		name := stamp + ".json"
		if n > 0 {
			name = fmt.Sprintf("%s_%03d.json", stamp, n)
		}

		f, err := os.OpenFile(filepath.Join(s.backupDir, name), os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("creating backup: %w", err)
		}
		if _, err := f.Write(data); err != nil {
			f.Close()
			return fmt.Errorf("writing backup: %w", err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("closing backup: %w", err)
		}
		return nil
	}
	return fmt.Errorf("too many backups for %s", stamp)
}

// Backups lists backup files, oldest first
func (s *Store) Backups() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(s.backupDir, backupPrefix+"*.json"))
	if err != nil {
		return nil, fmt.Errorf("listing backups: %w", err)
	}
	sort.Strings(matches)
	return matches, nil
}

// sameContent compares two serialized documents ignoring integrity issues
func sameContent(a, b []byte) bool {
	strip := func(data []byte) ([]byte, bool) {
		var m map[string]json.RawMessage
		if err := json.Unmarshal(data, &m); err != nil {
			return nil, false
		}
		delete(m, "integrity_issues")
		out, err := json.Marshal(m)
		if err != nil {
			return nil, false
		}
		return out, true
	}

	sa, ok := strip(a)
	if !ok {
		return false
	}
	sb, ok := strip(b)
	if !ok {
		return false
	}
	return bytes.Equal(sa, sb)
}
