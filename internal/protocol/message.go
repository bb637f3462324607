// Package protocol defines the JSON messages two duel peers exchange over an open channel.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/DoyleJ11/math-duel/internal/quiz"
)

// ErrMalformed marks a payload that is not a well-formed duel message. Receivers drop it.
var ErrMalformed = errors.New("malformed message")

type Type string

const (
	TypeHello    Type = "HELLO"     // GUEST -> HOST
	TypeWelcome  Type = "WELCOME"   // HOST -> GUEST
	TypeNewRound Type = "NEW_ROUND" // HOST -> GUEST
	TypeOpWon    Type = "OP_WON"    // either -> other
)

type Message struct {
	Type Type           `json:"type"`
	Name string         `json:"name,omitempty"`
	Q    *quiz.Question `json:"q,omitempty"`
}

func Hello(name string) Message {
	return Message{Type: TypeHello, Name: name}
}

func Welcome(name string, q quiz.Question) Message {
	return Message{Type: TypeWelcome, Name: name, Q: &q}
}

func NewRound(q quiz.Question) Message {
	return Message{Type: TypeNewRound, Q: &q}
}

func OpWon() Message {
	return Message{Type: TypeOpWon}
}

// Question returns the carried question, or the zero value when absent.
func (m Message) Question() quiz.Question {
	if m.Q == nil {
		return quiz.Question{}
	}
	return *m.Q
}

func Encode(m Message) ([]byte, error) {
	if err := m.validate(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}

// Decode parses one payload. Every failure wraps ErrMalformed.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := m.validate(); err != nil {
		return Message{}, err
	}
	return m, nil
}

func (m Message) validate() error {
	switch m.Type {
	case "":
		return fmt.Errorf("%w: missing type", ErrMalformed)
	case TypeHello, TypeOpWon:
		return nil
	case TypeWelcome, TypeNewRound:
		if m.Q == nil {
			return fmt.Errorf("%w: %s without question", ErrMalformed, m.Type)
		}
		if !m.Q.Valid() {
			return fmt.Errorf("%w: %s carries invalid question %+v", ErrMalformed, m.Type, *m.Q)
		}
		return nil
	default:
		return fmt.Errorf("%w: unknown type %q", ErrMalformed, m.Type)
	}
}
