package models

// CallbackAction type of callback action
type CallbackAction string

const (
	CallbackPause  CallbackAction = "p"
	CallbackResume CallbackAction = "r"
	CallbackRemove CallbackAction = "rm"
	CallbackPoll   CallbackAction = "n"
)

// CallbackData structure for inline button callback
type CallbackData struct {
	Action   CallbackAction `json:"a"`
	TargetID int64          `json:"t"`
}
