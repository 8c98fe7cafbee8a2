package lists

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"mailrulez/config"
	"mailrulez/pkg/fsutil"
)

// Store manages sender lists: one *.txt file per list, one address per
// line, case-insensitive and unique within a list. Every list file gets
// its own RWMutex so concurrent processors never interleave rewrites.
type Store struct {
	cfg   *config.Config
	mu    sync.Mutex
	locks map[string]*sync.RWMutex
	log   zerolog.Logger
}

// NewStore creates a Store over the configured lists directory.
func NewStore(cfg *config.Config) *Store {
	return &Store{
		cfg:   cfg,
		locks: make(map[string]*sync.RWMutex),
		log:   log.With().Str("component", "lists").Logger(),
	}
}

func (s *Store) lockFor(name string) *sync.RWMutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok := s.locks[name]; ok {
		return l
	}
	l := &sync.RWMutex{}
	s.locks[name] = l
	return l
}

func normalize(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

// All returns every known list name.
func (s *Store) All() []string {
	return s.cfg.GetAllLists()
}

// Load returns a list's entries, normalized, blanks dropped.
func (s *Store) Load(name string) ([]string, error) {
	path, err := s.cfg.GetListFilePath(name)
	if err != nil {
		return nil, err
	}
	l := s.lockFor(name)
	l.RLock()
	defer l.RUnlock()
	return readList(path)
}

func readList(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	seen := make(map[string]bool)
	var entries []string
	for _, line := range strings.Split(string(data), "\n") {
		addr := normalize(line)
		if addr == "" || seen[addr] {
			continue
		}
		seen[addr] = true
		entries = append(entries, addr)
	}
	return entries, nil
}

func (s *Store) write(name, path string, entries []string) error {
	var b strings.Builder
	for _, e := range entries {
		b.WriteString(e)
		b.WriteByte('\n')
	}
	if err := fsutil.WriteFileAtomic(path, []byte(b.String())); err != nil {
		return fmt.Errorf("write list %s: %w", name, err)
	}
	return nil
}

// Contains reports membership, implementing domain.ListMembership.
// Unknown lists and read failures report false.
func (s *Store) Contains(name, address string) bool {
	entries, err := s.Load(name)
	if err != nil {
		return false
	}
	addr := normalize(address)
	for _, e := range entries {
		if e == addr {
			return true
		}
	}
	return false
}

// ContainsSet loads a list once and returns a membership set for batch
// classification passes.
func (s *Store) ContainsSet(name string) (map[string]bool, error) {
	entries, err := s.Load(name)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(entries))
	for _, e := range entries {
		set[e] = true
	}
	return set, nil
}

// Add appends an address to a list; duplicates are a no-op.
func (s *Store) Add(name, address string) error {
	addr := normalize(address)
	if addr == "" {
		return nil
	}
	path, err := s.cfg.GetListFilePath(name)
	if err != nil {
		return err
	}
	l := s.lockFor(name)
	l.Lock()
	defer l.Unlock()

	entries, err := readList(path)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e == addr {
			return nil
		}
	}
	entries = append(entries, addr)
	return s.write(name, path, entries)
}

// AddAll appends many addresses in one rewrite, returning how many were new.
func (s *Store) AddAll(name string, addresses []string) (int, error) {
	path, err := s.cfg.GetListFilePath(name)
	if err != nil {
		return 0, err
	}
	l := s.lockFor(name)
	l.Lock()
	defer l.Unlock()

	entries, err := readList(path)
	if err != nil {
		return 0, err
	}
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		seen[e] = true
	}
	added := 0
	for _, address := range addresses {
		addr := normalize(address)
		if addr == "" || seen[addr] {
			continue
		}
		seen[addr] = true
		entries = append(entries, addr)
		added++
	}
	if added == 0 {
		return 0, nil
	}
	return added, s.write(name, path, entries)
}

// Remove drops an address from a list.
func (s *Store) Remove(name, address string) error {
	addr := normalize(address)
	path, err := s.cfg.GetListFilePath(name)
	if err != nil {
		return err
	}
	l := s.lockFor(name)
	l.Lock()
	defer l.Unlock()

	entries, err := readList(path)
	if err != nil {
		return err
	}
	kept := entries[:0]
	for _, e := range entries {
		if e != addr {
			kept = append(kept, e)
		}
	}
	return s.write(name, path, kept)
}

// RemoveBlanks rewrites a list dropping blank lines and duplicates.
func (s *Store) RemoveBlanks(name string) error {
	path, err := s.cfg.GetListFilePath(name)
	if err != nil {
		return err
	}
	l := s.lockFor(name)
	l.Lock()
	defer l.Unlock()

	entries, err := readList(path)
	if err != nil {
		return err
	}
	return s.write(name, path, entries)
}

// CreateList creates an empty list file. Existing lists are left alone.
func (s *Store) CreateList(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("list name required")
	}
	if err := fsutil.Touch(s.cfg.ListFilePath(name)); err != nil {
		return err
	}
	s.log.Info().Str("list", name).Msg("created list")
	return nil
}

// Conflicts reports addresses that appear in more than one list, mapping
// address to the sorted list names that carry it.
func (s *Store) Conflicts() (map[string][]string, error) {
	membership := make(map[string][]string)
	for _, name := range s.All() {
		entries, err := s.Load(name)
		if err != nil {
			return nil, err
		}
		for _, addr := range entries {
			membership[addr] = append(membership[addr], name)
		}
	}
	conflicts := make(map[string][]string)
	for addr, names := range membership {
		if len(names) > 1 {
			sort.Strings(names)
			conflicts[addr] = names
		}
	}
	return conflicts, nil
}
