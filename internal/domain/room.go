// Package domain contains entity without logic, just meta-data
package domain

import "errors"

const (
	// CodeLength is the length of a generated room code.
	CodeLength = 4
	// CodeAlphabet is the character set room codes are drawn from.
	CodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

var (
	ErrCodeEmpty          = errors.New("room code empty")
	ErrRoomNotFound       = errors.New("room not found")
	ErrCodeSpaceExhausted = errors.New("room code space exhausted")
)

type RoomCode string
