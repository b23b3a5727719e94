package session

import "fmt"

var (
	// ErrUnknownSession is returned when an id does not name a live session.
	ErrUnknownSession = fmt.Errorf("unknown session")
	// ErrNoActiveSession is returned when a snapshot arrives with no session
	// to route it to.
	ErrNoActiveSession = fmt.Errorf("no active session")
	// ErrManagerClosed is returned after Close.
	ErrManagerClosed = fmt.Errorf("session manager closed")
)
