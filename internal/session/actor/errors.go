package actor

import "fmt"

var (
	// ErrSessionEnded is returned when a command targets a session that has
	// already reached a terminal state or been closed.
	ErrSessionEnded = fmt.Errorf("session ended")
)
