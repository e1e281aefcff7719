package relay

import "github.com/google/uuid"

// MaxRoomIDLen bounds room ids accepted anywhere in the relay.
const MaxRoomIDLen = 64

// codeAlphabet leaves out characters that are easy to misread aloud.
const codeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// RoomCodeLen is the length of codes made by NewRoomCode.
const RoomCodeLen = 6

// NewRoomCode returns a short random room code for invitation links.
func NewRoomCode() string {
	id := uuid.New()
	code := make([]byte, RoomCodeLen)
	for i := range code {
		code[i] = codeAlphabet[int(id[i])%len(codeAlphabet)]
	}
	return string(code)
}

// ValidRoomID reports whether id is 1..MaxRoomIDLen characters of
// [A-Za-z0-9_-].
func ValidRoomID(id string) bool {
	if id == "" || len(id) > MaxRoomIDLen {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}
