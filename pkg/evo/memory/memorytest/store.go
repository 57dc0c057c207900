// Package memorytest provides an in-memory memory.Store for tests.
package memorytest

import (
	"context"
	"sync"

	"github.com/jholhewres/evo/pkg/evo/memory"
)

// Merge records one MergeUserMemory call.
type Merge struct {
	ServerID string
	UserID   string
	Patch    memory.UserMemoryPatch
}

// Store is a thread-safe in-memory implementation of memory.Store and
// memory.ConfigStore.
type Store struct {
	mu       sync.Mutex
	configs  map[string]memory.ServerConfig
	records  map[string]memory.UserMemory
	merges   []Merge
	loads    []string
	MergeErr error
}

// New returns an empty store.
func New() *Store {
	return &Store{
		configs: make(map[string]memory.ServerConfig),
		records: make(map[string]memory.UserMemory),
	}
}

func key(serverID, userID string) string { return serverID + "/" + userID }

// PutConfig stores a server configuration.
func (s *Store) PutConfig(cfg memory.ServerConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[cfg.ServerID] = cfg
}

// PutMemory stores a user record.
func (s *Store) PutMemory(serverID, userID string, mem memory.UserMemory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key(serverID, userID)] = mem
}

// Memory returns the stored record, or memory.Empty().
func (s *Store) Memory(serverID, userID string) memory.UserMemory {
	s.mu.Lock()
	defer s.mu.Unlock()
	if mem, ok := s.records[key(serverID, userID)]; ok {
		return mem
	}
	return memory.Empty()
}

// Merges returns every merge applied so far.
func (s *Store) Merges() []Merge {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Merge(nil), s.merges...)
}

// MemoryLoads returns the "server/user" keys passed to LoadUserMemory.
func (s *Store) MemoryLoads() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.loads...)
}

func (s *Store) LoadServerConfig(_ context.Context, serverID string) (*memory.ServerConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[serverID]
	if !ok {
		return nil, nil
	}
	return &cfg, nil
}

func (s *Store) SaveServerConfig(_ context.Context, cfg memory.ServerConfig) error {
	s.PutConfig(cfg)
	return nil
}

func (s *Store) DeleteServer(_ context.Context, serverID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.configs[serverID]; !ok {
		return memory.ErrServerNotFound
	}
	delete(s.configs, serverID)
	return nil
}

func (s *Store) LoadUserMemory(_ context.Context, serverID, userID string) memory.UserMemory {
	s.mu.Lock()
	s.loads = append(s.loads, key(serverID, userID))
	s.mu.Unlock()
	return s.Memory(serverID, userID)
}

func (s *Store) MergeUserMemory(_ context.Context, serverID, userID string, patch memory.UserMemoryPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.MergeErr != nil {
		return s.MergeErr
	}
	s.merges = append(s.merges, Merge{ServerID: serverID, UserID: userID, Patch: patch})

	mem, ok := s.records[key(serverID, userID)]
	if !ok {
		mem = memory.Empty()
	}
	if patch.ConversationHistory != nil {
		mem.ConversationHistory = append([]string(nil), patch.ConversationHistory...)
	}
	if patch.PersonalSummary != nil {
		mem.PersonalSummary = *patch.PersonalSummary
	}
	if patch.GossipSummary != nil {
		mem.GossipSummary = *patch.GossipSummary
	}
	s.records[key(serverID, userID)] = mem
	return nil
}

var (
	_ memory.Store       = (*Store)(nil)
	_ memory.ConfigStore = (*Store)(nil)
)
