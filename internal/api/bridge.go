package api

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/vdavid/threadview/internal/threadview"
)

// Bridge operations sent by the native layer.
const (
	opAddMessage           = "add_message"
	opClearMessages        = "clear_messages"
	opExpandMessage        = "expand_message"
	opCollapseMessage      = "collapse_message"
	opFocusNextElement     = "focus_next_element"
	opFocusPreviousElement = "focus_previous_element"
	opSetWarning           = "set_warning"
	opHideWarning          = "hide_warning"
	opSetInfo              = "set_info"
	opHideInfo             = "hide_info"
	opIndentState          = "indent_state"
)

var (
	errUnknownOp      = errors.New("unknown op")
	errMissingID      = errors.New("id is required")
	errMissingOp      = errors.New("op is required")
	errMissingPayload = errors.New("message is required")
	errViewClosed     = errors.New("view is closed")
)

type bridgeCommand struct {
	Op      string          `json:"op"`
	ID      string          `json:"id"`
	Text    string          `json:"text"`
	Indent  any             `json:"indent"`
	Message json.RawMessage `json:"message"`
}

type bridgeReply struct {
	Op      string `json:"op"`
	Focused string `json:"focused"`
	Error   string `json:"error,omitempty"`
}

// handleBridgeCommand decodes and applies one bridge command. Failures are
// reported in the reply; the caller keeps the connection open.
func handleBridgeCommand(t *threadview.Thread, data []byte) bridgeReply {
	var cmd bridgeCommand
	if err := json.Unmarshal(data, &cmd); err != nil {
		return bridgeReply{Focused: focusedString(t), Error: fmt.Sprintf("invalid command: %v", err)}
	}

	focused, err := applyBridgeCommand(t, cmd)
	if err != nil {
		return bridgeReply{Op: cmd.Op, Focused: focusedString(t), Error: err.Error()}
	}
	return bridgeReply{Op: cmd.Op, Focused: focused}
}

// closedViewReply answers a command that arrived after its view was closed.
func closedViewReply(data []byte) bridgeReply {
	var cmd bridgeCommand
	_ = json.Unmarshal(data, &cmd)
	return bridgeReply{Op: cmd.Op, Error: errViewClosed.Error()}
}

func applyBridgeCommand(t *threadview.Thread, cmd bridgeCommand) (string, error) {
	switch cmd.Op {
	case "":
		return "", errMissingOp
	case opAddMessage:
		if len(cmd.Message) == 0 {
			return "", errMissingPayload
		}
		_, focused, err := t.AddMessageJSON(cmd.Message)
		if err != nil {
			return "", err
		}
		return focused, nil
	case opClearMessages:
		t.ClearMessages()
		return "", nil
	case opFocusNextElement:
		return t.FocusNextElement(), nil
	case opFocusPreviousElement:
		return t.FocusPreviousElement(), nil
	}

	// The remaining ops address a single message.
	if cmd.ID == "" {
		switch cmd.Op {
		case opExpandMessage, opCollapseMessage, opSetWarning, opHideWarning, opSetInfo, opHideInfo, opIndentState:
			return "", errMissingID
		}
		return "", fmt.Errorf("%w: %q", errUnknownOp, cmd.Op)
	}

	switch cmd.Op {
	case opExpandMessage:
		return t.ExpandMessage(cmd.ID), nil
	case opCollapseMessage:
		return t.CollapseMessage(cmd.ID), nil
	case opSetWarning:
		return t.SetWarning(cmd.ID, cmd.Text), nil
	case opHideWarning:
		return t.HideWarning(cmd.ID), nil
	case opSetInfo:
		return t.SetInfo(cmd.ID, cmd.Text), nil
	case opHideInfo:
		return t.HideInfo(cmd.ID), nil
	case opIndentState:
		return t.IndentState(cmd.ID, truthy(cmd.Indent)), nil
	}
	return "", fmt.Errorf("%w: %q", errUnknownOp, cmd.Op)
}

// truthy accepts a JSON true or the string "true", matching how the native
// layer serializes booleans.
func truthy(v any) bool {
	switch b := v.(type) {
	case bool:
		return b
	case string:
		return b == "true"
	}
	return false
}
