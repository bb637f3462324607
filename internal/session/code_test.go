package session

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseCode(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want Code
		ok   bool
	}{
		{"plain", "4821", "4821", true},
		{"surrounding space", " 1234\n", "1234", true},
		{"lowest", "1000", "1000", true},
		{"highest", "9999", "9999", true},
		{"leading zero", "0123", "", false},
		{"too short", "123", "", false},
		{"too long", "12345", "", false},
		{"letters", "12a4", "", false},
		{"empty", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCode(tt.in)
			if !tt.ok {
				require.ErrorIs(t, err, ErrInvalidCode)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}

func TestCode_Address(t *testing.T) {
	require.Equal(t, "M-1234", Code("1234").Address("M"))
	require.Equal(t, "math-duel-v1-4821", Code("4821").Address(DefaultAddressPrefix))
}

func TestRandomCodes_StayInRange(t *testing.T) {
	next := RandomCodes(42)
	for i := 0; i < 2000; i++ {
		c := next()
		parsed, err := ParseCode(string(c))
		require.NoError(t, err)
		require.Equal(t, c, parsed)
	}
}

func TestFixedCodes_RepeatsLast(t *testing.T) {
	next := FixedCodes("1111", "2222")
	require.Equal(t, Code("1111"), next())
	require.Equal(t, Code("2222"), next())
	require.Equal(t, Code("2222"), next())
}

func TestNormalizeName(t *testing.T) {
	require.Equal(t, "Dana", NormalizeName("  Dana "))
	require.Equal(t, "Abcdefghijkl", NormalizeName("Abcdefghijklmnop"))
	require.Equal(t, "ÄÖÜäöüßéèêëï", NormalizeName("ÄÖÜäöüßéèêëïî"))
	require.Equal(t, "", NormalizeName("   "))
	require.Equal(t, DefaultOpponentName, peerName(""))
	require.Equal(t, "Avi", peerName("Avi"))
}
