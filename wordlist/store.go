package wordlist

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
)

// Store owns the current blacklist and slang snapshots and the files they
// are loaded from.
type Store struct {
	blacklistPath string
	slangPath     string

	blacklist atomic.Pointer[Blacklist]
	slang     atomic.Pointer[SlangTable]
}

// NewStore returns a store with empty tables. Call Reload to read the files.
func NewStore(blacklistPath, slangPath string) *Store {
	s := &Store{blacklistPath: blacklistPath, slangPath: slangPath}
	s.blacklist.Store(&Blacklist{})
	s.slang.Store(&SlangTable{})
	return s
}

// Blacklist returns the current snapshot.
func (s *Store) Blacklist() *Blacklist { return s.blacklist.Load() }

// Slang returns the current snapshot.
func (s *Store) Slang() *SlangTable { return s.slang.Load() }

// SetBlacklist swaps in b.
func (s *Store) SetBlacklist(b *Blacklist) {
	if b == nil {
		b = &Blacklist{}
	}
	s.blacklist.Store(b)
}

// SetSlang swaps in t.
func (s *Store) SetSlang(t *SlangTable) {
	if t == nil {
		t = &SlangTable{}
	}
	s.slang.Store(t)
}

// Reload re-reads both files. Both are attempted even if the first fails.
func (s *Store) Reload() error {
	return errors.Join(s.ReloadBlacklist(), s.ReloadSlang())
}

// ReloadBlacklist re-reads the blacklist file. A missing file means an empty
// list; any other error keeps the previous snapshot.
func (s *Store) ReloadBlacklist() error {
	if s.blacklistPath == "" {
		return nil
	}
	f, err := os.Open(s.blacklistPath)
	if errors.Is(err, fs.ErrNotExist) {
		s.blacklist.Store(&Blacklist{})
		return nil
	}
	if err != nil {
		return fmt.Errorf("open blacklist: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.Warn("failed to close blacklist file", slog.Any("err", err))
		}
	}()
	b, err := ParseBlacklist(f)
	if err != nil {
		return err
	}
	s.blacklist.Store(b)
	slog.Info("blacklist loaded", slog.Int("entries", b.Len()), slog.String("component", "wordlist"))
	return nil
}

// ReloadSlang re-reads the slang file with the same missing-file policy as
// ReloadBlacklist.
func (s *Store) ReloadSlang() error {
	if s.slangPath == "" {
		return nil
	}
	f, err := os.Open(s.slangPath)
	if errors.Is(err, fs.ErrNotExist) {
		s.slang.Store(&SlangTable{})
		return nil
	}
	if err != nil {
		return fmt.Errorf("open slang table: %w", err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			slog.Warn("failed to close slang file", slog.Any("err", err))
		}
	}()
	t, err := ParseSlang(f)
	if err != nil {
		return err
	}
	s.slang.Store(t)
	slog.Info("slang table loaded", slog.Int("rules", t.Len()), slog.String("component", "wordlist"))
	return nil
}

// SaveBlacklist writes entries to the blacklist file and swaps in the new
// snapshot. The file is written to a temp file and renamed into place.
func (s *Store) SaveBlacklist(entries []string) error {
	b := NewBlacklist(entries)
	if s.blacklistPath != "" {
		dir := filepath.Dir(s.blacklistPath)
		tmp, err := os.CreateTemp(dir, ".blacklist-*")
		if err != nil {
			return fmt.Errorf("save blacklist: %w", err)
		}
		content := strings.Join(b.entries, "\n")
		if content != "" {
			content += "\n"
		}
		if _, err := tmp.WriteString(content); err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
			return fmt.Errorf("save blacklist: %w", err)
		}
		if err := tmp.Close(); err != nil {
			_ = os.Remove(tmp.Name())
			return fmt.Errorf("save blacklist: %w", err)
		}
		if err := os.Rename(tmp.Name(), s.blacklistPath); err != nil {
			_ = os.Remove(tmp.Name())
			return fmt.Errorf("save blacklist: %w", err)
		}
	}
	s.blacklist.Store(b)
	return nil
}
