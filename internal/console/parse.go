package console

import (
	"strings"

	"github.com/DoyleJ11/math-duel/internal/engine"
	"github.com/DoyleJ11/math-duel/internal/quiz"
)

type ActionKind int

const (
	ActionNone ActionKind = iota
	ActionHost
	ActionJoin
	ActionAnswer
	ActionKey
	ActionCancel
	ActionQuit
	ActionHelp
)

// Action is one parsed input line.
type Action struct {
	Kind ActionKind
	Seat engine.Seat
	Code string
	Keys []quiz.Key
}

// ParseRemote reads a line typed during a remote duel.
//
//	host          create a game
//	join 4821     join a game
//	42            answer
//	b / c         backspace / clear
//	x             leave the current game
//	q             quit
func ParseRemote(line string) Action {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return Action{}
	}

	switch fields[0] {
	case "host", "create":
		return Action{Kind: ActionHost}
	case "join":
		if len(fields) < 2 {
			return Action{}
		}
		return Action{Kind: ActionJoin, Code: fields[1]}
	case "x", "leave", "cancel":
		return Action{Kind: ActionCancel}
	case "q", "quit", "exit":
		return Action{Kind: ActionQuit}
	case "?", "help":
		return Action{Kind: ActionHelp}
	}
	return parseKeys(fields[0])
}

// ParseLocal reads "<seat> <answer|b|c>" lines, or q to quit.
func ParseLocal(line string) Action {
	fields := strings.Fields(strings.ToLower(line))
	if len(fields) == 0 {
		return Action{}
	}
	switch fields[0] {
	case "q", "quit", "exit":
		return Action{Kind: ActionQuit}
	case "?", "help":
		return Action{Kind: ActionHelp}
	}
	if len(fields) != 2 {
		return Action{}
	}

	var seat engine.Seat
	switch fields[0] {
	case "1":
		seat = engine.SeatOne
	case "2":
		seat = engine.SeatTwo
	default:
		return Action{}
	}
	a := parseKeys(fields[1])
	a.Seat = seat
	return a
}

func parseKeys(s string) Action {
	switch s {
	case "b", "bs":
		return Action{Kind: ActionKey, Keys: []quiz.Key{quiz.KeyBackspace}}
	case "c", "clear":
		return Action{Kind: ActionKey, Keys: []quiz.Key{quiz.KeyClear}}
	}
	keys := quiz.Keys(s)
	if len(keys) == 0 || len(keys) != len(s) {
		return Action{}
	}
	// An answer line replaces whatever is in the buffer.
	return Action{Kind: ActionAnswer, Keys: append([]quiz.Key{quiz.KeyClear}, keys...)}
}
