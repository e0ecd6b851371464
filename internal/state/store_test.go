package state

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/harmonia-ai/muse/internal/model"
	"github.com/harmonia-ai/muse/pkg/logger"
)

func testLogger() *logger.Logger {
	return &logger.Logger{Logger: zap.NewNop()}
}

func testStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	return NewStore(filepath.Join(dir, "history"), filepath.Join(dir, "config"), testLogger())
}

func TestStoreHistoryRoundTrip(t *testing.T) {
	dir := t.TempDir()
	historyDir := filepath.Join(dir, "history")
	configDir := filepath.Join(dir, "config")

	store := NewStore(historyDir, configDir, testLogger())
	store.AppendTurns("alice", "chan-1",
		model.Turn{Role: model.RoleUser, Parts: []model.ContentPart{model.TextPart("hello")}},
		model.Turn{Role: model.RoleAssistant, Parts: []model.ContentPart{model.TextPart("hi there")}},
	)
	store.ToggleAlwaysRespond("chan-1")
	store.SetCustomInstruction("alice", "be brief")
	store.SetResponseFormat("alice", model.FormatPlain)
	store.SetBlacklisted("guild-1", "mallory", true)

	for _, f := range store.snapshot() {
		require.NoError(t, writeFileAtomic(f.path, f.content))
	}

	reloaded := NewStore(historyDir, configDir, testLogger())
	require.NoError(t, reloaded.Load())

	turns := reloaded.Thread("alice", "chan-1")
	require.Len(t, turns, 2)
	require.Equal(t, model.RoleUser, turns[0].Role)
	require.Equal(t, "hello", turns[0].Text())
	require.Equal(t, "hi there", turns[1].Text())

	require.True(t, reloaded.AlwaysRespond("chan-1"))
	require.Equal(t, "be brief", reloaded.CustomInstruction("alice"))
	require.Equal(t, model.FormatPlain, reloaded.ResponseFormat("alice"))
	require.True(t, reloaded.Blacklisted("guild-1", "mallory"))
	require.False(t, reloaded.Blacklisted("guild-1", "alice"))
}

func TestStoreLoadMissingDirsStartsEmpty(t *testing.T) {
	store := testStore(t)
	require.NoError(t, store.Load())
	require.Zero(t, store.SubjectCount())
	require.Nil(t, store.Thread("nobody", "nowhere"))
}

func TestStoreTrimThreadKeepsNewest(t *testing.T) {
	store := testStore(t)
	for i := 0; i < 10; i++ {
		store.AppendTurns("bob", "t", model.Turn{
			Role:  model.RoleUser,
			Parts: []model.ContentPart{model.TextPart(string(rune('a' + i)))},
		})
	}

	store.TrimThread("bob", "t", 4)
	turns := store.Thread("bob", "t")
	require.Len(t, turns, 4)
	require.Equal(t, "g", turns[0].Text())
	require.Equal(t, "j", turns[3].Text())

	// Unbounded max leaves the thread alone.
	store.TrimThread("bob", "t", 0)
	require.Len(t, store.Thread("bob", "t"), 4)
}

func TestStorePurgeFileParts(t *testing.T) {
	store := testStore(t)

	old := time.Now().Add(-48 * time.Hour)
	fresh := time.Now()

	store.AppendTurns("carol", "t",
		// Mixed turn: the text part must survive the purge.
		model.Turn{Role: model.RoleUser, Parts: []model.ContentPart{
			{Text: "look at this"},
			{FileURI: "files/expired-1", MimeType: "image/png", AddedAt: &old},
		}},
		// File-only turn: should disappear entirely.
		model.Turn{Role: model.RoleUser, Parts: []model.ContentPart{
			{FileURI: "files/expired-2", MimeType: "image/png", AddedAt: &old},
		}},
		// Fresh file part: untouched.
		model.Turn{Role: model.RoleUser, Parts: []model.ContentPart{
			{FileURI: "files/current", MimeType: "image/png", AddedAt: &fresh},
		}},
		model.Turn{Role: model.RoleAssistant, Parts: []model.ContentPart{model.TextPart("nice")}},
	)

	removed := store.PurgeFileParts(time.Now().Add(-24 * time.Hour))
	require.Equal(t, 2, removed)

	turns := store.Thread("carol", "t")
	require.Len(t, turns, 3)
	require.Equal(t, "look at this", turns[0].Text())
	require.Len(t, turns[0].Parts, 1)
	require.Equal(t, "files/current", turns[1].Parts[0].FileURI)
	require.Equal(t, "nice", turns[2].Text())
}

func TestStoreToggles(t *testing.T) {
	store := testStore(t)

	require.True(t, store.ToggleAlwaysRespond("c1"))
	require.True(t, store.AlwaysRespond("c1"))
	require.False(t, store.ToggleAlwaysRespond("c1"))
	require.False(t, store.AlwaysRespond("c1"))

	// The wide flag also satisfies AlwaysRespond.
	require.True(t, store.ToggleAlwaysRespondWide("c1"))
	require.True(t, store.AlwaysRespond("c1"))

	require.True(t, store.ToggleSharedHistory("c1"))
	require.True(t, store.SharedHistory("c1"))
	require.False(t, store.ToggleSharedHistory("c1"))
}

func TestStoreGuildSettingsUpdate(t *testing.T) {
	store := testStore(t)

	store.UpdateGuildSettings("g1", func(s *model.GuildSettings) {
		s.SystemPrompt = "house rules"
		s.MaxHistoryTurns = 20
	})
	got := store.GuildSettings("g1")
	require.Equal(t, "house rules", got.SystemPrompt)
	require.Equal(t, 20, got.MaxHistoryTurns)
}

func TestStoreResponseFormatDefaultsRich(t *testing.T) {
	store := testStore(t)
	require.Equal(t, model.FormatRich, store.ResponseFormat("nobody"))
}
