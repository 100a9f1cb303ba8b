package registry

import "math/rand/v2"

// codeAlphabet excludes the look-alikes I, O, 0, and 1 so codes survive being
// read aloud or copied by hand. Codes are canonically uppercase; lookups
// upper-case their input. Collision avoidance is by retry; guessing
// resistance is not a goal here.
const (
	codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	codeLength   = 6
)

func newGameCode() string {
	buf := make([]byte, codeLength)
	for i := range buf {
		buf[i] = codeAlphabet[rand.IntN(len(codeAlphabet))]
	}
	return string(buf)
}
