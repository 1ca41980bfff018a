// Package flow holds the externally authored dialogue content graph: the
// parsed design-tool export the questionnaire states walk through.
package flow

// MsgButton is one answer option attached to a flow message.
type MsgButton struct {
	Text        string            `json:"text"`
	TextKey     string            `json:"text_key"`
	NextMessage string            `json:"next_message,omitempty"`
	Commands    []string          `json:"commands,omitempty"`
	CommandArgs map[string]string `json:"command_args,omitempty"`
}

// Command returns the button's primary command, if any.
func (b *MsgButton) Command() string {
	if len(b.Commands) == 0 {
		return ""
	}
	return b.Commands[0]
}

// Message is one step of the dialogue graph.
type Message struct {
	ID           string            `json:"id"`
	Text         string            `json:"text"`
	TextKey      string            `json:"text_key"`
	Type         string            `json:"type"`
	NextMessage  string            `json:"next_message,omitempty"`
	First        bool              `json:"is_first_message"`
	FreeAnswer   bool              `json:"free_answer"`
	Multichoice  bool              `json:"multichoice"`
	ExpectedType string            `json:"expected_type"`
	Commands     []string          `json:"commands,omitempty"`
	CommandArgs  map[string]string `json:"command_args,omitempty"`
	Buttons      []MsgButton       `json:"buttons"`
	Image        string            `json:"image,omitempty"`
}

// HasCommand reports whether the message carries the given #command.
func (m *Message) HasCommand(cmd string) bool {
	for _, c := range m.Commands {
		if c == cmd {
			return true
		}
	}
	return false
}

// ButtonByKey returns the button with the given text key.
func (m *Message) ButtonByKey(key string) *MsgButton {
	for i := range m.Buttons {
		if m.Buttons[i].TextKey == key {
			return &m.Buttons[i]
		}
	}
	return nil
}

// ButtonKeys lists the text keys of every button.
func (m *Message) ButtonKeys() []string {
	keys := make([]string, 0, len(m.Buttons))
	for _, b := range m.Buttons {
		keys = append(keys, b.TextKey)
	}
	return keys
}

// Graph is the immutable parsed dialogue graph. Loaders swap whole
// snapshots; a Graph is never mutated after construction.
type Graph struct {
	messages []*Message
	byID     map[string]*Message
}

// NewGraph indexes a parsed message list.
func NewGraph(messages []*Message) *Graph {
	g := &Graph{messages: messages, byID: make(map[string]*Message, len(messages))}
	for _, m := range messages {
		g.byID[m.ID] = m
	}
	return g
}

// Messages returns all messages in import order. A nil graph is a valid
// empty graph: the engine may run before any export was imported.
func (g *Graph) Messages() []*Message {
	if g == nil {
		return nil
	}
	return g.messages
}

// Find returns the message with the given id.
func (g *Graph) Find(id string) *Message {
	if g == nil {
		return nil
	}
	return g.byID[id]
}

// First returns the entry message of the graph.
func (g *Graph) First() *Message {
	if g == nil {
		return nil
	}
	for _, m := range g.messages {
		if m.First {
			return m
		}
	}
	return nil
}

// Next resolves the follow-up message: by the answered button when the
// current message has buttons, by next_message otherwise. Returns nil
// when there is no continuation (callers treat that as a wrong answer).
func (g *Graph) Next(curr *Message, answerKey string) *Message {
	if g == nil || curr == nil {
		return nil
	}
	if len(curr.Buttons) > 0 {
		for i := range curr.Buttons {
			if curr.Buttons[i].TextKey == answerKey {
				if next := curr.Buttons[i].NextMessage; next != "" {
					return g.byID[next]
				}
				return nil
			}
		}
		return nil
	}
	if curr.NextMessage != "" {
		return g.byID[curr.NextMessage]
	}
	return nil
}

// Texts exports every message and button text keyed by its text key, for
// the localization catalog.
func (g *Graph) Texts() map[string]string {
	if g == nil {
		return nil
	}
	out := make(map[string]string, len(g.messages)*2)
	for _, m := range g.messages {
		out[m.TextKey] = m.Text
		for _, b := range m.Buttons {
			out[b.TextKey] = b.Text
		}
	}
	return out
}
