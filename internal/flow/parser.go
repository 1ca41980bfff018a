package flow

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// exportMessage is the raw design-tool export shape.
type exportMessage struct {
	ID          string          `json:"id"`
	Text        string          `json:"text"`
	Type        string          `json:"type"`
	NextMessage string          `json:"next_message"`
	First       bool            `json:"is_first_message"`
	LeftSide    *bool           `json:"is_left_side"`
	Buttons     []exportButton  `json:"buttons"`
	Quickreplies []exportButton `json:"quickreplies"`
	Image       string          `json:"image,omitempty"`
}

type exportButton struct {
	Text        string `json:"text"`
	NextMessage string `json:"next_message"`
}

// commandPattern finds #commands in authored text; a leading backslash
// escapes a literal hashtag.
var commandPattern = regexp.MustCompile(`(?:^|[^\\])#([^\s]+)`)

// extractCommands splits authored text into clean text, the lowercased
// #commands it carried, and their key=value;key=value arguments.
func extractCommands(text string) (string, []string, map[string]string) {
	raw := commandPattern.FindAllStringSubmatch(text, -1)
	cmds := make([]string, 0, len(raw))
	args := make(map[string]string)

	// After the search, turn every escaped '\#' into a real '#'.
	text = strings.ReplaceAll(text, `\#`, "#")
	for _, m := range raw {
		cmd := m[1]
		text = strings.Trim(strings.ReplaceAll(text, "#"+cmd, ""), "\n ")

		// Syntax: #name;key=value;key=value — or #name=value as a
		// shorthand for a single argument keyed by the command name.
		segments := strings.Split(cmd, ";")
		name, value, hasValue := strings.Cut(segments[0], "=")
		name = strings.ToLower(name)
		cmds = append(cmds, name)
		if hasValue {
			args[name] = value
		}
		for _, pair := range segments[1:] {
			key, value, ok := strings.Cut(pair, "=")
			if !ok {
				continue
			}
			args[key] = value
		}
	}
	return text, cmds, args
}

// textKey generates a short unique key for the localization catalog.
func textKey() string {
	return uuid.NewString()[:8]
}

// ParseExport converts a raw design-tool export into the message graph:
// quick-reply messages are folded into their predecessor's buttons,
// right-side (user) messages become free-answer markers on their
// predecessor,
// #commands are extracted, and every text gets a generated key.
func ParseExport(data []byte) (*Graph, error) {
	var raw []exportMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("cannot parse flow export: %w", err)
	}

	byID := make(map[string]*exportMessage, len(raw))
	for i := range raw {
		byID[raw[i].ID] = &raw[i]
	}

	var result []*Message
	for i := range raw {
		src := &raw[i]
		msg := &Message{
			ID:           src.ID,
			Text:         src.Text,
			Type:         src.Type,
			NextMessage:  src.NextMessage,
			First:        src.First,
			TextKey:      textKey(),
			ExpectedType: "text",
		}

		buttons := src.Buttons
		if src.Type != "quickreplies" {
			text, cmds, args := extractCommands(src.Text)
			msg.Text = text
			msg.Commands = cmds
			msg.CommandArgs = args
			msg.Multichoice = msg.HasCommand("multichoice")

			if next := byID[src.NextMessage]; next != nil {
				switch {
				case next.Type == "quickreplies":
					// Quick replies become this message's buttons.
					msg.NextMessage = ""
					buttons = next.Quickreplies
				case next.LeftSide != nil && !*next.LeftSide:
					// A user-side message means a free answer.
					msg.NextMessage = next.NextMessage
					msg.FreeAnswer = true
					switch next.Type {
					case "image":
						msg.ExpectedType = "image"
					case "location":
						msg.ExpectedType = "location"
					}
				}
			}
		}

		// Quick-reply placeholders and user-side messages were folded in
		// above; they do not appear in the graph themselves.
		if src.Type == "quickreplies" {
			continue
		}
		if src.LeftSide != nil && !*src.LeftSide {
			continue
		}

		msg.Buttons = make([]MsgButton, 0, len(buttons))
		for index, b := range buttons {
			text, cmds, args := extractCommands(b.Text)
			msg.Buttons = append(msg.Buttons, MsgButton{
				Text:        text,
				TextKey:     fmt.Sprintf("%s-btn%d", msg.TextKey, index),
				NextMessage: b.NextMessage,
				Commands:    cmds,
				CommandArgs: args,
			})
		}
		msg.Image = src.Image

		result = append(result, msg)
	}
	return NewGraph(result), nil
}
