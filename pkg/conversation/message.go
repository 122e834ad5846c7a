package conversation

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/huandu/go-clone"
)

type ContentKind string

const (
	ContentKindText  ContentKind = "text"
	ContentKindImage ContentKind = "image"
	ContentKindVoice ContentKind = "voice"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

func ParseRole(s string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleSystem:
		return RoleSystem, nil
	case RoleAssistant:
		return RoleAssistant, nil
	case RoleUser:
		return RoleUser, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

// Attachment references binary content stored outside the message (an image
// file, a voice clip). Messages carrying one are never mirrored into the
// context window.
type Attachment struct {
	URI       string `json:"uri" yaml:"uri"`
	MediaType string `json:"mediaType,omitempty" yaml:"mediaType,omitempty"`
	Size      int64  `json:"size,omitempty" yaml:"size,omitempty"`
}

// Message is a displayed message: the full record including an optional
// attachment reference.
type Message struct {
	ID         string      `json:"id" yaml:"id"`
	SessionID  string      `json:"sessionID" yaml:"sessionID"`
	Role       Role        `json:"role" yaml:"role"`
	SpeakerID  string      `json:"speakerID,omitempty" yaml:"speakerID,omitempty"`
	Kind       ContentKind `json:"kind" yaml:"kind"`
	Text       string      `json:"text" yaml:"text"`
	Attachment *Attachment `json:"attachment,omitempty" yaml:"attachment,omitempty"`
	Visible    bool        `json:"visible" yaml:"visible"`
	Time       time.Time   `json:"time" yaml:"time"`
	LastUpdate time.Time   `json:"lastUpdate" yaml:"lastUpdate"`

	Metadata map[string]interface{} `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

type MessageOption func(*Message)

func WithID(id string) MessageOption {
	return func(m *Message) {
		m.ID = id
	}
}

func WithTime(t time.Time) MessageOption {
	return func(m *Message) {
		m.Time = t
		m.LastUpdate = t
	}
}

func WithSpeaker(speakerID string) MessageOption {
	return func(m *Message) {
		m.SpeakerID = speakerID
	}
}

func WithKind(kind ContentKind) MessageOption {
	return func(m *Message) {
		m.Kind = kind
	}
}

func WithAttachment(a *Attachment) MessageOption {
	return func(m *Message) {
		m.Attachment = a
		if m.Kind == ContentKindText {
			m.Kind = ContentKindImage
		}
	}
}

// WithHidden marks a message that is part of the context but not shown, e.g. a
// system turn injected by the app.
func WithHidden() MessageOption {
	return func(m *Message) {
		m.Visible = false
	}
}

func WithMetadata(metadata map[string]interface{}) MessageOption {
	return func(m *Message) {
		m.Metadata = metadata
	}
}

func NewMessage(sessionID string, role Role, text string, options ...MessageOption) *Message {
	now := time.Now()
	ret := &Message{
		ID:         uuid.NewString(),
		SessionID:  sessionID,
		Role:       role,
		Kind:       ContentKindText,
		Text:       text,
		Visible:    true,
		Time:       now,
		LastUpdate: now,
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

// Clone returns a deep copy, including attachment and metadata.
func (m *Message) Clone() *Message {
	if m == nil {
		return nil
	}
	return clone.Clone(m).(*Message)
}

func (m *Message) HasAttachment() bool {
	return m != nil && m.Attachment != nil
}

// Record derives the lightweight context record of the message.
func (m *Message) Record() Record {
	return Record{
		ID:        m.ID,
		Text:      m.Text,
		Role:      m.Role,
		SpeakerID: m.SpeakerID,
		Kind:      m.Kind,
		Time:      m.Time,
		Visible:   m.Visible,
	}
}

func (m *Message) String() string {
	if m.SpeakerID != "" {
		return fmt.Sprintf("[%s/%s]: %s", m.Role, m.SpeakerID, strings.TrimRight(m.Text, "\n"))
	}
	return fmt.Sprintf("[%s]: %s", m.Role, strings.TrimRight(m.Text, "\n"))
}

// Record is one lightweight turn of the context window, the part of a message
// that is sent to the generation backend.
type Record struct {
	ID        string      `json:"id" yaml:"id"`
	Text      string      `json:"text" yaml:"text"`
	Role      Role        `json:"role" yaml:"role"`
	SpeakerID string      `json:"speakerID,omitempty" yaml:"speakerID,omitempty"`
	Kind      ContentKind `json:"kind" yaml:"kind"`
	Time      time.Time   `json:"time" yaml:"time"`
	Visible   bool        `json:"visible" yaml:"visible"`
}

// PersonaRef is what a turn dispatcher needs to know about a persona. The
// core never interprets the weight or keywords itself.
type PersonaRef struct {
	ID              string   `json:"id" yaml:"id"`
	Name            string   `json:"name,omitempty" yaml:"name,omitempty"`
	ResponseWeight  float64  `json:"responseWeight" yaml:"responseWeight"`
	TriggerKeywords []string `json:"triggerKeywords,omitempty" yaml:"triggerKeywords,omitempty"`
}

func (p PersonaRef) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return fmt.Errorf("persona id is empty")
	}
	if p.ResponseWeight < 0 || p.ResponseWeight > 1 {
		return fmt.Errorf("persona %q: response weight %v outside [0,1]", p.ID, p.ResponseWeight)
	}
	return nil
}

// Conversation is an ordered list of messages.
type Conversation []*Message

// Records returns the context records of all messages without attachment.
func (c Conversation) Records() []Record {
	ret := make([]Record, 0, len(c))
	for _, m := range c {
		if m.HasAttachment() {
			continue
		}
		ret = append(ret, m.Record())
	}
	return ret
}

func (c Conversation) Clone() Conversation {
	if c == nil {
		return nil
	}
	ret := make(Conversation, len(c))
	for i, m := range c {
		ret[i] = m.Clone()
	}
	return ret
}

// GetSinglePrompt renders the conversation as one prompt string.
func (c Conversation) GetSinglePrompt() string {
	if len(c) == 0 {
		return ""
	}
	if len(c) == 1 {
		return c[0].Text
	}
	var b strings.Builder
	for _, m := range c {
		b.WriteString(m.String())
		b.WriteString("\n")
	}
	return b.String()
}
