package conversation

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// LoadTranscript reads messages from a JSON or YAML file, oldest first, and
// assigns them to sessionID. Missing ids, kinds and times are filled in;
// messages without a time are spaced one millisecond apart so import order is
// kept.
func LoadTranscript(filename string, sessionID string) (Conversation, error) {
	var (
		messages Conversation
		err      error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".json":
		messages, err = loadFromJSONFile(filename)
	case ".yaml", ".yml":
		messages, err = loadFromYAMLFile(filename)
	default:
		return nil, errors.Errorf("unsupported transcript format %q", filepath.Ext(filename))
	}
	if err != nil {
		return nil, errors.Wrapf(err, "could not load transcript %s", filename)
	}

	base := time.Now().Add(-time.Duration(len(messages)) * time.Millisecond)
	for i, m := range messages {
		if m == nil {
			return nil, errors.Errorf("transcript %s: message %d is empty", filename, i)
		}
		if _, err := ParseRole(string(m.Role)); err != nil {
			return nil, errors.Wrapf(err, "transcript %s: message %d", filename, i)
		}
		m.SessionID = sessionID
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.Kind == "" {
			m.Kind = ContentKindText
			if m.Attachment != nil {
				m.Kind = ContentKindImage
			}
		}
		if m.Time.IsZero() {
			m.Time = base.Add(time.Duration(i) * time.Millisecond)
		}
		if m.LastUpdate.IsZero() {
			m.LastUpdate = m.Time
		}
	}
	return messages, nil
}

// transcriptMessage defaults Visible to true when the field is absent.
type transcriptMessage Message

func (t *transcriptMessage) UnmarshalJSON(data []byte) error {
	type alias Message
	a := alias{Visible: true}
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*t = transcriptMessage(a)
	return nil
}

func (t *transcriptMessage) UnmarshalYAML(node *yaml.Node) error {
	type alias Message
	a := alias{Visible: true}
	if err := node.Decode(&a); err != nil {
		return err
	}
	*t = transcriptMessage(a)
	return nil
}

func loadFromYAMLFile(filename string) (Conversation, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	var raw []*transcriptMessage
	if err := yaml.NewDecoder(f).Decode(&raw); err != nil {
		return nil, err
	}
	return fromTranscript(raw), nil
}

func loadFromJSONFile(filename string) (Conversation, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer func(f *os.File) {
		_ = f.Close()
	}(f)

	var raw []*transcriptMessage
	if err := json.NewDecoder(f).Decode(&raw); err != nil {
		return nil, err
	}
	return fromTranscript(raw), nil
}

func fromTranscript(raw []*transcriptMessage) Conversation {
	ret := make(Conversation, 0, len(raw))
	for _, m := range raw {
		if m == nil {
			ret = append(ret, nil)
			continue
		}
		ret = append(ret, (*Message)(m))
	}
	return ret
}
