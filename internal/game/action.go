package game

// ActionType names an inbound player intent.
type ActionType string

const (
	ActionJoinRoom      ActionType = "join_room"
	ActionStartGame     ActionType = "start_game"
	ActionDeclare       ActionType = "declare"
	ActionPlay          ActionType = "play"
	ActionAcceptRedeal  ActionType = "accept_redeal"
	ActionDeclineRedeal ActionType = "decline_redeal"
	ActionLeaveRoom     ActionType = "leave_room"
	ActionPing          ActionType = "ping"
)

// Action is a validated player intent handed to a room.
type Action struct {
	Type    ActionType
	Player  string
	Payload map[string]any
}
