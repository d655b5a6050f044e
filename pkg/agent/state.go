package agent

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cpunion/hkforum/pkg/types"
)

// State is the persisted preference state of a chat user.
type State struct {
	mu sync.RWMutex

	LastPlatform types.Platform `json:"last_platform,omitempty"`
	// CategoryUse counts forum questions per category name.
	CategoryUse map[string]int `json:"category_use"`
	Questions   int            `json:"questions"`
	LastActive  time.Time      `json:"last_active"`

	// Persistence path
	dataPath string
}

// NewState creates an empty state persisted under dataPath. An empty
// dataPath keeps the state in memory only.
func NewState(dataPath string) *State {
	return &State{
		CategoryUse: make(map[string]int),
		dataPath:    dataPath,
	}
}

// LoadState loads a state from dataPath, starting empty when none exists.
func LoadState(dataPath string) (*State, error) {
	state := NewState(dataPath)
	if err := state.Load(); err != nil {
		return nil, err
	}
	return state, nil
}

// Platform returns the platform of the last forum question.
func (s *State) Platform() types.Platform {
	if s == nil {
		return ""
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.LastPlatform
}

// Remember records a forum question. Empty values are ignored.
func (s *State) Remember(p types.Platform, category string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p != "" {
		s.LastPlatform = p
	}
	if category = strings.TrimSpace(category); category != "" {
		s.CategoryUse[category]++
	}
	s.Questions++
	s.LastActive = at
}

// FavoriteCategories returns up to n categories, most used first.
func (s *State) FavoriteCategories(n int) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.CategoryUse))
	for name := range s.CategoryUse {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		ci, cj := s.CategoryUse[names[i]], s.CategoryUse[names[j]]
		if ci != cj {
			return ci > cj
		}
		return names[i] < names[j]
	})
	if n > 0 && len(names) > n {
		names = names[:n]
	}
	return names
}

// Describe renders the state for the assistant's instruction.
func (s *State) Describe() string {
	if s == nil {
		return ""
	}
	var b strings.Builder
	if p := s.Platform(); p != "" {
		fmt.Fprintf(&b, "- 上次使用的討論區：%s\n", p)
	}
	if favs := s.FavoriteCategories(3); len(favs) > 0 {
		fmt.Fprintf(&b, "- 常用分類：%s\n", strings.Join(favs, "、"))
	}
	return strings.TrimRight(b.String(), "\n")
}

// Save persists the state to disk.
func (s *State) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.dataPath == "" {
		return nil
	}
	if err := os.MkdirAll(s.dataPath, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(s.dataPath, "state.json"), data, 0644)
}

// Load loads the state from disk.
func (s *State) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dataPath == "" {
		return nil
	}
	data, err := os.ReadFile(filepath.Join(s.dataPath, "state.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil // No state to load
		}
		return err
	}

	if err := json.Unmarshal(data, s); err != nil {
		return err
	}
	if s.CategoryUse == nil {
		s.CategoryUse = make(map[string]int)
	}
	return nil
}
