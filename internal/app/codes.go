package app

import (
	"math/rand/v2"

	"github.com/nkoval/parlor/internal/domain"
)

// freeCode draws random codes until one is not a registry key.
// Caller must hold r.mu, which makes the check-then-insert in CreateRoom
// atomic against concurrent generator calls. Retries are capped so a full
// code space surfaces ErrCodeSpaceExhausted instead of spinning forever.
func (r *Rooms) freeCode() (domain.RoomCode, error) {
	buf := make([]byte, r.codeLen)
	for attempt := 0; attempt < r.codeAttempts; attempt++ {
		for i := range buf {
			buf[i] = domain.CodeAlphabet[rand.IntN(len(domain.CodeAlphabet))]
		}
		code := domain.RoomCode(buf)
		if _, taken := r.rooms[code]; !taken {
			return code, nil
		}
	}
	return "", domain.ErrCodeSpaceExhausted
}
