package engine

import (
	"errors"

	"github.com/DoyleJ11/math-duel/internal/quiz"
)

var ErrUnknownSeat = errors.New("unknown seat")
var ErrRoundDecided = errors.New("round already decided")
var ErrNotANumber = errors.New("input is not a number")
var ErrInvalidKey = errors.New("invalid key")
var ErrInvalidQuestion = errors.New("invalid question")
var ErrStaleRound = errors.New("stale round")
var ErrUnsupportedCommand = errors.New("unsupported command")

type Seat int

const (
	SeatNone Seat = iota
	SeatOne
	SeatTwo
)

var Seats = []Seat{SeatOne, SeatTwo}

func (s Seat) Valid() bool { return s == SeatOne || s == SeatTwo }

func (s Seat) String() string {
	switch s {
	case SeatOne:
		return "one"
	case SeatTwo:
		return "two"
	default:
		return "none"
	}
}

type Phase string

const (
	PhaseAwaitingInput Phase = "awaiting_input"
	PhaseWon           Phase = "won"
)

// SeatState is one player's side of the shared round. Seats never read each other's state.
type SeatState struct {
	Score      int
	Input      quiz.Input
	WrongFlash bool
}

type State struct {
	Round    int
	Question quiz.Question
	Seats    [2]SeatState
	Winner   Seat
}

func (s State) Phase() Phase {
	if s.Winner != SeatNone {
		return PhaseWon
	}
	return PhaseAwaitingInput
}

// Seat returns a copy of one seat's state.
func (s State) Seat(seat Seat) SeatState {
	if !seat.Valid() {
		return SeatState{}
	}
	return s.Seats[seat-1]
}

type CommandType string

const (
	CmdPress      CommandType = "Press"
	CmdSubmit     CommandType = "Submit"
	CmdStartRound CommandType = "StartRound"
	CmdClearFlash CommandType = "ClearFlash"
)

/*
	CmdPress      -> EvtInputChanged
	CmdSubmit     -> EvtSeatWon | EvtWrongAnswer
	CmdStartRound -> EvtRoundStarted
	CmdClearFlash -> EvtFlashCleared
*/

type Command struct {
	Type     CommandType
	Seat     Seat
	Key      quiz.Key
	Question quiz.Question
	Round    int
}

type EventType string

const (
	EvtInputChanged EventType = "InputChanged"
	EvtSeatWon      EventType = "SeatWon"
	EvtWrongAnswer  EventType = "WrongAnswer"
	EvtRoundStarted EventType = "RoundStarted"
	EvtFlashCleared EventType = "FlashCleared"
)

type Event struct {
	Type  EventType
	Seat  Seat
	Round int
}

// Apply is the local duel reducer. It never mutates s; rejected commands return s unchanged.
func Apply(s State, cmd Command) ([]Event, State, error) {
	newState := s

	switch cmd.Type {
	case CmdPress:
		if !cmd.Seat.Valid() {
			return nil, s, ErrUnknownSeat
		}
		if !cmd.Key.Valid() {
			return nil, s, ErrInvalidKey
		}
		if s.Winner != SeatNone {
			return nil, s, ErrRoundDecided
		}
		seat := &newState.Seats[cmd.Seat-1]
		seat.Input = seat.Input.Press(cmd.Key)
		return []Event{{Type: EvtInputChanged, Seat: cmd.Seat, Round: s.Round}}, newState, nil

	case CmdSubmit:
		if !cmd.Seat.Valid() {
			return nil, s, ErrUnknownSeat
		}
		// Check-and-set of Winner happens inside one Apply call, so the other seat cannot interleave.
		if s.Winner != SeatNone {
			return nil, s, ErrRoundDecided
		}
		seat := &newState.Seats[cmd.Seat-1]
		val, ok := seat.Input.Value()
		if !ok {
			return nil, s, ErrNotANumber
		}

		if val == s.Question.Answer {
			seat.Score++
			newState.Winner = cmd.Seat
			return []Event{{Type: EvtSeatWon, Seat: cmd.Seat, Round: s.Round}}, newState, nil
		}

		seat.Input = ""
		seat.WrongFlash = true
		return []Event{{Type: EvtWrongAnswer, Seat: cmd.Seat, Round: s.Round}}, newState, nil

	case CmdStartRound:
		if !cmd.Question.Valid() {
			return nil, s, ErrInvalidQuestion
		}
		newState.Round = s.Round + 1
		newState.Question = cmd.Question
		newState.Winner = SeatNone
		for i := range newState.Seats {
			newState.Seats[i].Input = ""
			newState.Seats[i].WrongFlash = false
		}
		return []Event{{Type: EvtRoundStarted, Round: newState.Round}}, newState, nil

	case CmdClearFlash:
		if !cmd.Seat.Valid() {
			return nil, s, ErrUnknownSeat
		}
		if cmd.Round != s.Round {
			return nil, s, ErrStaleRound
		}
		seat := &newState.Seats[cmd.Seat-1]
		if !seat.WrongFlash {
			return nil, s, nil
		}
		seat.WrongFlash = false
		return []Event{{Type: EvtFlashCleared, Seat: cmd.Seat, Round: s.Round}}, newState, nil

	default:
		return nil, s, ErrUnsupportedCommand
	}
}
