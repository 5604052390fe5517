// internal/models/command.go
package models

// Inbound command types recognized by the dispatcher.
const (
	CmdLoginInform         = "LOGIN_INFORM"
	CmdGameInitialize      = "GAME_INITIALIZE"
	CmdDisconnectBotRemote = "DISCONNECT_BOT_REMOTE"
	CmdChallenge           = "CHALLENGE"
	CmdTurnReply           = "TURN_REPLY"
	CmdServerMessage       = "SERVER_MESSAGE"
	CmdPlayCardsReply      = "PLAYCARDS_REPLY"
)

// Outbound command types emitted by the dispatcher.
const (
	CmdGameOrder        = "GAME_ORDER"
	CmdCardMessage      = "CARD_MESSAGE"
	CmdPlayCardsRequest = "PLAYCARDS_REQUEST"
	CmdTurnSummary      = "TURN_SUMMARY"
	CmdBullshitResult   = "BULLSHIT_RESULT"
	CmdGameWinner       = "GAME_WINNER"
	CmdGameAbort        = "GAME_ABORT"
)

// NoBotID is the sentinel for commands carrying no bot identity, such as
// the periodic CHALLENGE trigger.
const NoBotID = -1

// Command is one inbound command from the switch.
type Command struct {
	Type     string `json:"type"`
	BotID    int    `json:"botId"`
	MetaData string `json:"metaData"`
}

// CmdPack is one outbound command addressed to a single bot.
// ResponseDeadlineMs is an advisory reply deadline forwarded to the switch;
// 0 means no deadline.
type CmdPack struct {
	Type               string `json:"type"`
	Payload            string `json:"payload"`
	TargetBotID        int    `json:"targetBotId"`
	ResponseDeadlineMs int    `json:"responseDeadlineMs"`
}
