package state

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/harmonia-ai/muse/internal/model"
	"github.com/harmonia-ai/muse/pkg/logger"
)

// Store is the in-memory authority for conversation histories and settings.
// Single map accesses are guarded by an internal RWMutex; compound
// read-modify-write sequences additionally run under the FIFO Lock so
// interleaved toggles cannot lose updates.
type Store struct {
	lock *Lock
	mu   sync.RWMutex

	histories map[string]*model.SubjectHistory

	alwaysRespond      map[string]bool
	customInstructions map[string]string
	guildSettings      map[string]model.GuildSettings
	responseFormats    map[string]model.ResponseFormat
	alwaysRespondWide  map[string]bool
	sharedHistory      map[string]bool
	blacklists         map[string][]string

	historyDir string
	configDir  string
	logger     *logger.Logger
}

// NewStore creates an empty store rooted at the given directories.
func NewStore(historyDir, configDir string, log *logger.Logger) *Store {
	return &Store{
		lock:               NewLock(),
		histories:          map[string]*model.SubjectHistory{},
		alwaysRespond:      map[string]bool{},
		customInstructions: map[string]string{},
		guildSettings:      map[string]model.GuildSettings{},
		responseFormats:    map[string]model.ResponseFormat{},
		alwaysRespondWide:  map[string]bool{},
		sharedHistory:      map[string]bool{},
		blacklists:         map[string][]string{},
		historyDir:         historyDir,
		configDir:          configDir,
		logger:             log,
	}
}

// categoryFile is the on-disk envelope for one settings category.
type categoryFile struct {
	Version int             `json:"version"`
	Data    json.RawMessage `json:"data"`
}

// Load reads every subject file under the history directory plus the fixed
// set of category files. A missing file means no prior state; any other read
// failure is logged and that category or subject starts empty.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.historyDir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		s.logger.Warn("history directory unreadable, starting empty",
			zap.String("dir", s.historyDir), zap.Error(err))
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		subject := strings.TrimSuffix(e.Name(), ".json")
		hist := model.NewSubjectHistory()
		path := filepath.Join(s.historyDir, e.Name())
		if err := readJSONFile(path, hist); err != nil {
			s.logger.Warn("skipping unreadable history file",
				zap.String("path", path), zap.Error(err))
			continue
		}
		if hist.Threads == nil {
			hist.Threads = map[string][]model.Turn{}
		}
		s.histories[subject] = hist
	}

	s.loadCategory(model.CategoryAlwaysRespond, &s.alwaysRespond)
	s.loadCategory(model.CategoryCustomInstruction, &s.customInstructions)
	s.loadCategory(model.CategoryGuildSettings, &s.guildSettings)
	s.loadCategory(model.CategoryResponseFormat, &s.responseFormats)
	s.loadCategory(model.CategoryAlwaysRespondWide, &s.alwaysRespondWide)
	s.loadCategory(model.CategorySharedHistory, &s.sharedHistory)
	s.loadCategory(model.CategoryBlacklist, &s.blacklists)
	return nil
}

func (s *Store) loadCategory(cat model.Category, dst any) {
	path := filepath.Join(s.configDir, string(cat)+".json")
	var file categoryFile
	if err := readJSONFile(path, &file); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("category file unreadable, starting empty",
				zap.String("category", string(cat)), zap.Error(err))
		}
		return
	}
	if err := json.Unmarshal(file.Data, dst); err != nil {
		s.logger.Warn("category file undecodable, starting empty",
			zap.String("category", string(cat)), zap.Error(err))
	}
}

// fileSnapshot captures one pending file write.
type fileSnapshot struct {
	path    string
	content []byte
}

// snapshot marshals the full state into per-file payloads under the read
// lock, so a flush writes a consistent point-in-time image.
func (s *Store) snapshot() []fileSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]fileSnapshot, 0, len(s.histories)+len(model.Categories))
	for subject, hist := range s.histories {
		data, err := json.MarshalIndent(hist, "", "  ")
		if err != nil {
			s.logger.Error("history marshal failed", zap.String("subject", subject), zap.Error(err))
			continue
		}
		out = append(out, fileSnapshot{
			path:    filepath.Join(s.historyDir, subject+".json"),
			content: data,
		})
	}
	for _, cat := range model.Categories {
		raw, err := json.Marshal(s.categoryData(cat))
		if err != nil {
			s.logger.Error("category marshal failed", zap.String("category", string(cat)), zap.Error(err))
			continue
		}
		data, err := json.MarshalIndent(categoryFile{Version: model.SchemaVersion, Data: raw}, "", "  ")
		if err != nil {
			s.logger.Error("category marshal failed", zap.String("category", string(cat)), zap.Error(err))
			continue
		}
		out = append(out, fileSnapshot{
			path:    filepath.Join(s.configDir, string(cat)+".json"),
			content: data,
		})
	}
	return out
}

func (s *Store) categoryData(cat model.Category) any {
	switch cat {
	case model.CategoryAlwaysRespond:
		return s.alwaysRespond
	case model.CategoryCustomInstruction:
		return s.customInstructions
	case model.CategoryGuildSettings:
		return s.guildSettings
	case model.CategoryResponseFormat:
		return s.responseFormats
	case model.CategoryAlwaysRespondWide:
		return s.alwaysRespondWide
	case model.CategorySharedHistory:
		return s.sharedHistory
	case model.CategoryBlacklist:
		return s.blacklists
	}
	return nil
}

// Thread returns a copy of one conversation thread's turns.
func (s *Store) Thread(subjectID, threadID string) []model.Turn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hist, ok := s.histories[subjectID]
	if !ok {
		return nil
	}
	turns := hist.Threads[threadID]
	out := make([]model.Turn, len(turns))
	copy(out, turns)
	return out
}

// AppendTurns appends turns to a thread, creating the subject's history
// lazily on first write. Append-only: existing turns are never rewritten.
func (s *Store) AppendTurns(subjectID, threadID string, turns ...model.Turn) {
	s.lock.RunExclusive(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		hist, ok := s.histories[subjectID]
		if !ok {
			hist = model.NewSubjectHistory()
			s.histories[subjectID] = hist
		}
		hist.Threads[threadID] = append(hist.Threads[threadID], turns...)
	})
}

// TrimThread drops the oldest turns of a thread beyond max, keeping the
// most recent ones. A max of zero or less means unbounded.
func (s *Store) TrimThread(subjectID, threadID string, max int) {
	if max <= 0 {
		return
	}
	s.lock.RunExclusive(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		hist, ok := s.histories[subjectID]
		if !ok {
			return
		}
		turns := hist.Threads[threadID]
		if len(turns) > max {
			hist.Threads[threadID] = append([]model.Turn(nil), turns[len(turns)-max:]...)
		}
	})
}

// ClearThread removes one thread from a subject's history.
func (s *Store) ClearThread(subjectID, threadID string) {
	s.lock.RunExclusive(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if hist, ok := s.histories[subjectID]; ok {
			delete(hist.Threads, threadID)
		}
	})
}

// PurgeFileParts strips remote-file reference parts older than cutoff from
// every thread. Parts left empty are dropped, and turns left without parts
// are removed entirely; the order of surviving turns is preserved. Returns
// the number of parts removed.
func (s *Store) PurgeFileParts(cutoff time.Time) int {
	removed := 0
	s.lock.RunExclusive(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, hist := range s.histories {
			for threadID, turns := range hist.Threads {
				kept := turns[:0:0]
				for _, turn := range turns {
					parts := turn.Parts[:0:0]
					for _, p := range turn.Parts {
						if p.FileURI != "" && (p.AddedAt == nil || p.AddedAt.Before(cutoff)) {
							p.FileURI = ""
							p.MimeType = ""
							p.AddedAt = nil
							removed++
						}
						if !p.IsEmpty() {
							parts = append(parts, p)
						}
					}
					if len(parts) > 0 {
						turn.Parts = parts
						kept = append(kept, turn)
					}
				}
				hist.Threads[threadID] = kept
			}
		}
	})
	return removed
}

// AlwaysRespond reports whether the channel has the always-respond flag.
func (s *Store) AlwaysRespond(channelID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.alwaysRespond[channelID] || s.alwaysRespondWide[channelID]
}

// ToggleAlwaysRespond flips the channel's always-respond flag and returns
// the new value. Runs under the FIFO lock: the read and write halves of the
// toggle cannot interleave with a concurrent toggle.
func (s *Store) ToggleAlwaysRespond(channelID string) bool {
	var on bool
	s.lock.RunExclusive(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		on = !s.alwaysRespond[channelID]
		if on {
			s.alwaysRespond[channelID] = true
		} else {
			delete(s.alwaysRespond, channelID)
		}
	})
	return on
}

// ToggleAlwaysRespondWide flips the channel-wide always-respond flag.
func (s *Store) ToggleAlwaysRespondWide(channelID string) bool {
	var on bool
	s.lock.RunExclusive(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		on = !s.alwaysRespondWide[channelID]
		if on {
			s.alwaysRespondWide[channelID] = true
		} else {
			delete(s.alwaysRespondWide, channelID)
		}
	})
	return on
}

// ToggleSharedHistory flips the channel-wide shared-history flag.
func (s *Store) ToggleSharedHistory(channelID string) bool {
	var on bool
	s.lock.RunExclusive(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		on = !s.sharedHistory[channelID]
		if on {
			s.sharedHistory[channelID] = true
		} else {
			delete(s.sharedHistory, channelID)
		}
	})
	return on
}

// SharedHistory reports whether the channel shares one history across users.
func (s *Store) SharedHistory(channelID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sharedHistory[channelID]
}

// CustomInstruction returns the subject's custom instruction, if any.
func (s *Store) CustomInstruction(subjectID string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.customInstructions[subjectID]
}

// SetCustomInstruction stores or clears the subject's custom instruction.
func (s *Store) SetCustomInstruction(subjectID, instruction string) {
	s.lock.RunExclusive(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if instruction == "" {
			delete(s.customInstructions, subjectID)
			return
		}
		s.customInstructions[subjectID] = instruction
	})
}

// ResponseFormat returns the subject's display preference, defaulting to rich.
func (s *Store) ResponseFormat(subjectID string) model.ResponseFormat {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if f, ok := s.responseFormats[subjectID]; ok {
		return f
	}
	return model.FormatRich
}

// SetResponseFormat stores the subject's display preference.
func (s *Store) SetResponseFormat(subjectID string, format model.ResponseFormat) {
	s.lock.RunExclusive(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.responseFormats[subjectID] = format
	})
}

// GuildSettings returns the settings for a guild.
func (s *Store) GuildSettings(guildID string) model.GuildSettings {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.guildSettings[guildID]
}

// UpdateGuildSettings applies fn to the guild's settings under the lock.
func (s *Store) UpdateGuildSettings(guildID string, fn func(*model.GuildSettings)) {
	s.lock.RunExclusive(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		settings := s.guildSettings[guildID]
		fn(&settings)
		s.guildSettings[guildID] = settings
	})
}

// Blacklisted reports whether the subject is blacklisted in the guild.
func (s *Store) Blacklisted(guildID, subjectID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.blacklists[guildID] {
		if id == subjectID {
			return true
		}
	}
	return false
}

// SetBlacklisted adds or removes the subject from the guild blacklist.
func (s *Store) SetBlacklisted(guildID, subjectID string, blocked bool) {
	s.lock.RunExclusive(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		list := s.blacklists[guildID]
		idx := -1
		for i, id := range list {
			if id == subjectID {
				idx = i
				break
			}
		}
		switch {
		case blocked && idx < 0:
			s.blacklists[guildID] = append(list, subjectID)
		case !blocked && idx >= 0:
			s.blacklists[guildID] = append(list[:idx], list[idx+1:]...)
		}
	})
}

// SubjectCount returns the number of subjects with histories.
func (s *Store) SubjectCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.histories)
}
