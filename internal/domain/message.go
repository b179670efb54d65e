package domain

// Message is one transcript entry. Immutable once appended;
// order is append order within a room.
type Message struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}
