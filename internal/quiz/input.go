package quiz

import "strconv"

// MaxInputDigits caps the keypad buffer; further digits are ignored.
const MaxInputDigits = 4

type Key string

const (
	KeyBackspace Key = "BS"
	KeyClear     Key = "C"
)

// DigitKey returns the key for a single decimal digit.
func DigitKey(d int) Key {
	return Key(strconv.Itoa(d % 10))
}

func (k Key) IsDigit() bool {
	return len(k) == 1 && k[0] >= '0' && k[0] <= '9'
}

func (k Key) Valid() bool {
	return k.IsDigit() || k == KeyBackspace || k == KeyClear
}

// Input is a keypad answer buffer.
type Input string

// Press returns the buffer after applying k. Unknown keys leave it unchanged.
func (in Input) Press(k Key) Input {
	switch {
	case k == KeyClear:
		return ""
	case k == KeyBackspace:
		if in == "" {
			return in
		}
		return in[:len(in)-1]
	case k.IsDigit():
		if len(in) >= MaxInputDigits {
			return in
		}
		return in + Input(k)
	default:
		return in
	}
}

// Value parses the buffer. ok is false for an empty buffer.
func (in Input) Value() (int, bool) {
	if in == "" {
		return 0, false
	}
	v, err := strconv.Atoi(string(in))
	if err != nil {
		return 0, false
	}
	return v, true
}

// Keys splits s into keypad presses, skipping anything that is not a digit.
func Keys(s string) []Key {
	keys := make([]Key, 0, len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			keys = append(keys, Key(string(r)))
		}
	}
	return keys
}
