package protocol

import (
	"strings"
	"time"
)

// EngineEvent is the bus payload for every voice engine notification.
type EngineEvent struct {
	Event     string    `json:"event"`
	SessionID string    `json:"session_id,omitempty"`
	Runtime   string    `json:"runtime"`
	Lang      string    `json:"lang,omitempty"`
	Voice     string    `json:"voice,omitempty"`
	Text      string    `json:"text,omitempty"`
	Recorded  string    `json:"recorded,omitempty"`
	Segments  []Segment `json:"segments,omitempty"`
	Error     string    `json:"error,omitempty"`
	Recording bool      `json:"recording"`
	Timestamp time.Time `json:"timestamp"`
}

// Segment mirrors one recognized alternative.
type Segment struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence,omitempty"`
}

const (
	DefaultSubjectPrefix = "voice.engine"
	subjectWildcard      = ">"
)

// Subject returns the subject an event is published on.
func Subject(prefix, event string) string {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return strings.TrimSuffix(prefix, ".") + "." + event
}

// SubjectAll matches every event under prefix.
func SubjectAll(prefix string) string {
	return Subject(prefix, subjectWildcard)
}

// Commands accepted on <prefix>.cmd.<command>.
const (
	CommandStart    = "start"
	CommandStop     = "stop"
	CommandToggle   = "toggle"
	CommandListen   = "listen"
	CommandSpeak    = "speak"
	CommandCancel   = "cancel"
	CommandSettings = "settings"
	CommandState    = "state"

	commandToken = "cmd"
)

// Command is the request body of every command; fields are optional and
// only read by the commands that use them.
type Command struct {
	Text         *string `json:"text,omitempty"`
	Lang         *string `json:"lang,omitempty"`
	Voice        *string `json:"voice,omitempty"`
	Speech       *string `json:"speech,omitempty"`
	Continuous   *bool   `json:"continuous,omitempty"`
	LocalService *bool   `json:"local_service,omitempty"`
}

type CommandReply struct {
	OK         bool   `json:"ok"`
	Error      string `json:"error,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	State      any    `json:"state,omitempty"`
}

func CommandSubject(prefix, command string) string {
	return Subject(prefix, commandToken+"."+command)
}

// CommandName extracts the command from a command subject.
func CommandName(subject string) string {
	i := strings.LastIndexByte(subject, '.')
	return subject[i+1:]
}
