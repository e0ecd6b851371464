package model

// GuildSettings holds per-guild operator configuration.
type GuildSettings struct {
	SystemPrompt    string `json:"system_prompt,omitempty"`
	DefaultBackend  string `json:"default_backend,omitempty"`
	AllowMedia      bool   `json:"allow_media"`
	MaxHistoryTurns int    `json:"max_history_turns,omitempty"`
}

// Category names a persisted state category. Each category is mirrored to
// exactly one file under the config directory.
type Category string

const (
	CategoryAlwaysRespond     Category = "always_respond"
	CategoryCustomInstruction Category = "custom_instructions"
	CategoryGuildSettings     Category = "guild_settings"
	CategoryResponseFormat    Category = "response_format"
	CategoryAlwaysRespondWide Category = "always_respond_wide"
	CategorySharedHistory     Category = "shared_history"
	CategoryBlacklist         Category = "blacklist"
)

// Categories lists every persisted state category in a stable order.
var Categories = []Category{
	CategoryAlwaysRespond,
	CategoryCustomInstruction,
	CategoryGuildSettings,
	CategoryResponseFormat,
	CategoryAlwaysRespondWide,
	CategorySharedHistory,
	CategoryBlacklist,
}
