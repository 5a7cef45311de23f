package slack

// ChannelInfo is the channel object attached to search matches.
type ChannelInfo struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// Message is a single Slack message as returned by search.messages,
// conversations.history and conversations.replies. Search matches carry a
// Channel object and often a Username; history/replies messages carry
// neither. TS is the platform's native "seconds.microseconds" timestamp
// string and is the canonical sort/dedup key.
type Message struct {
	Type       string       `json:"type,omitempty"`
	User       string       `json:"user,omitempty"`
	BotID      string       `json:"bot_id,omitempty"`
	Text       string       `json:"text,omitempty"`
	TS         string       `json:"ts"`
	ThreadTS   string       `json:"thread_ts,omitempty"`
	ReplyCount int          `json:"reply_count,omitempty"`
	Channel    *ChannelInfo `json:"channel,omitempty"`
	Username   string       `json:"username,omitempty"`
}

// Sender returns the display name for a message line: the search-provided
// username when present, otherwise the user id, otherwise "unknown".
func (m Message) Sender() string {
	if m.Username != "" {
		return m.Username
	}
	if m.User != "" {
		return m.User
	}
	return "unknown"
}

// ChannelID returns the channel id of a search match, or "" for messages
// that carry no channel object.
func (m Message) ChannelID() string {
	if m.Channel == nil {
		return ""
	}
	return m.Channel.ID
}

// ChannelName returns the channel name of a search match, falling back to
// "unknown" when absent.
func (m Message) ChannelName() string {
	if m.Channel == nil || m.Channel.Name == "" {
		return "unknown"
	}
	return m.Channel.Name
}

// MessagesAround is the window surrounding one search match. Before and
// After are both chronological (oldest first) and never include the target
// message itself.
type MessagesAround struct {
	Before []Message
	After  []Message
}

// ThreadInfo holds all replies fetched under one thread root.
type ThreadInfo struct {
	ThreadTS   string
	MessageTS  string
	ReplyCount int
	Replies    []Message
}

// User is a workspace member from users.list.
type User struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	RealName string `json:"real_name,omitempty"`
	IsBot    bool   `json:"is_bot,omitempty"`
	Deleted  bool   `json:"deleted,omitempty"`
}

// Channel is a conversation from conversations.list.
type Channel struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	IsChannel bool   `json:"is_channel,omitempty"`
	IsPrivate bool   `json:"is_private,omitempty"`
	IsMember  bool   `json:"is_member,omitempty"`
}

// SearchSort selects the ranking of search.messages results.
type SearchSort string

const (
	// SortByRelevance ranks by match score.
	SortByRelevance SearchSort = "score"
	// SortByRecency ranks by timestamp, newest first.
	SortByRecency SearchSort = "timestamp"
)
