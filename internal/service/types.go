package service

// ModerationRequest asks for a verdict on one chat message. Ts is the
// client's send time in unix milliseconds. It is logged but never used for
// ban timing.
type ModerationRequest struct {
	RequestID     string `json:"requestId,omitempty"`
	StreamID      string `json:"streamId"`
	ParticipantID string `json:"participantId"`
	Text          string `json:"text"`
	Ts            int64  `json:"ts,omitempty"`
}

// ModerationResult is the verdict for a ModerationRequest. BanUntil is in
// unix milliseconds and set only while Banned.
type ModerationResult struct {
	RequestID     string `json:"requestId"`
	StreamID      string `json:"streamId"`
	ParticipantID string `json:"participantId"`
	Flagged       bool   `json:"flagged"`
	Severity      int    `json:"severity"`
	Category      string `json:"category,omitempty"`
	Reason        string `json:"reason,omitempty"`
	Banned        bool   `json:"banned"`
	BanUntil      int64  `json:"banUntil,omitempty"`
	Error         string `json:"error,omitempty"`
}

// ActionType names a streamer console action.
type ActionType string

const (
	ActionMute            ActionType = "mute"
	ActionBan             ActionType = "ban"
	ActionAssignModerator ActionType = "assign_moderator"
	ActionPin             ActionType = "pin"
	ActionUnpin           ActionType = "unpin"
	ActionDelete          ActionType = "delete"
)

// ControlAction is a moderation action taken by the streamer or a moderator.
// DurationMs applies to mutes only; zero means the default mute.
type ControlAction struct {
	Type       ActionType `json:"type"`
	StreamID   string     `json:"streamId"`
	UserID     string     `json:"userId,omitempty"`
	Username   string     `json:"username,omitempty"`
	MessageID  string     `json:"messageId,omitempty"`
	Message    string     `json:"message,omitempty"`
	DurationMs int64      `json:"durationMs,omitempty"`
}

// ControlReply acknowledges a ControlAction.
type ControlReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// StreamEnded announces that a broadcast is over.
type StreamEnded struct {
	StreamID string `json:"streamId"`
}

// ViewerLeft announces that a participant left a broadcast.
type ViewerLeft struct {
	StreamID      string `json:"streamId"`
	ParticipantID string `json:"participantId"`
}

// ReportOutcome acknowledges a viewer report.
type ReportOutcome struct {
	Reports int    `json:"reports"`
	Muted   bool   `json:"muted"`
	Error   string `json:"error,omitempty"`
}
