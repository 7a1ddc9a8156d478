package flow

import "strings"

// ActionKind enumerates the button actions the flow understands.
type ActionKind int

const (
	// ActionUnknown is anything the parser could not place.
	ActionUnknown ActionKind = iota
	// ActionSelectCategory carries a category code.
	ActionSelectCategory
	// ActionSelectTopic carries a topic code.
	ActionSelectTopic
	// ActionConfirmSend triggers delivery from the confirmation step.
	ActionConfirmSend
	// ActionConfirmCancel resets the flow from the confirmation step.
	ActionConfirmCancel
	// ActionReviewSend delivers flagged content anyway.
	ActionReviewSend
	// ActionReviewRewrite clears content and returns to the content step.
	ActionReviewRewrite
)

// Action is the tagged form of a raw callback token such as "category:idea".
type Action struct {
	Kind  ActionKind
	Value string
}

// ParseAction turns a raw "<kind>:<value>" action token into its tagged
// variant. Parsing happens once at the boundary; the state machine never
// branches on raw strings.
func ParseAction(token string) Action {
	kind, value, _ := strings.Cut(strings.TrimSpace(token), ":")
	switch kind {
	case "category":
		if value != "" {
			return Action{Kind: ActionSelectCategory, Value: value}
		}
	case "topic":
		if value != "" {
			return Action{Kind: ActionSelectTopic, Value: value}
		}
	case "confirm":
		switch value {
		case "send":
			return Action{Kind: ActionConfirmSend}
		case "cancel":
			return Action{Kind: ActionConfirmCancel}
		}
	case "review":
		switch value {
		case "send":
			return Action{Kind: ActionReviewSend}
		case "rewrite":
			return Action{Kind: ActionReviewRewrite}
		}
	}
	return Action{Kind: ActionUnknown, Value: token}
}
