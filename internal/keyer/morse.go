package keyer

import (
	"strings"

	"github.com/jl1nie/wifikey2/internal/sender"
)

// morseEntry is one character's Morse representation: the code packed as a
// bitfield (1 = dah, 0 = dit, read from the highest of its len bits down) and its length in
// symbols, matching the reference Keyer's (char, len, code) table.
type morseEntry struct {
	char byte
	len  uint8
	code uint8
}

// morseTable covers the alphanumerics the reference desktop Keyer plays;
// punctuation used only by that table's original CW contest tooling is
// intentionally left out here since nothing in this transport needs it.
var morseTable = []morseEntry{
	{'A', 2, 0b01}, {'B', 4, 0b1000}, {'C', 4, 0b1010}, {'D', 3, 0b100},
	{'E', 1, 0b0}, {'F', 4, 0b0010}, {'G', 3, 0b110}, {'H', 4, 0b0000},
	{'I', 2, 0b00}, {'J', 4, 0b0111}, {'K', 3, 0b101}, {'L', 4, 0b0100},
	{'M', 2, 0b11}, {'N', 2, 0b10}, {'O', 3, 0b111}, {'P', 4, 0b0110},
	{'Q', 4, 0b1101}, {'R', 3, 0b010}, {'S', 3, 0b000}, {'T', 1, 0b1},
	{'U', 3, 0b001}, {'V', 4, 0b0001}, {'W', 3, 0b011}, {'X', 4, 0b1001},
	{'Y', 4, 0b1011}, {'Z', 4, 0b1100},
	{'0', 5, 0b11111}, {'1', 5, 0b01111}, {'2', 5, 0b00111}, {'3', 5, 0b00011},
	{'4', 5, 0b00001}, {'5', 5, 0b00000}, {'6', 5, 0b10000}, {'7', 5, 0b11000},
	{'8', 5, 0b11100}, {'9', 5, 0b11110},
}

func lookup(c byte) (morseEntry, bool) {
	for _, e := range morseTable {
		if e.char == c {
			return e, true
		}
	}
	return morseEntry{}, false
}

// DotDuration is a unit length to pass as PlayText's unitMS, chosen to land near a
// conversational 20 WPM (1200ms / WPM, PARIS standard).
const DotDuration = 60

// PlayText synthesizes a slice of Edge values for text as if it had been
// typed at a straight key, so a caller can drive internal/sender without
// any GPIO hardware attached. This has no wire-protocol role; it exists to
// exercise the sender/session/keyer chain end to end in tests and in the
// wk2client -demo debug flag described in SPEC_FULL.md §4.5.
func PlayText(text string, startTick uint32, unitMS uint32) []sender.Edge {
	var edges []sender.Edge
	t := startTick
	for _, r := range strings.ToUpper(text) {
		if r == ' ' {
			t += unitMS * 7
			continue
		}
		entry, ok := lookup(byte(r))
		if !ok {
			continue
		}
		for i := uint8(0); i < entry.len; i++ {
			bit := (entry.code >> (entry.len - 1 - i)) & 1
			dur := unitMS
			if bit == 1 {
				dur = unitMS * 3
			}
			edges = append(edges, sender.Edge{Down: true, Tick: t})
			t += dur
			edges = append(edges, sender.Edge{Down: false, Tick: t})
			t += unitMS // inter-symbol gap
		}
		t += unitMS * 2 // inter-character gap (3 units total with the symbol gap above)
	}
	return edges
}
