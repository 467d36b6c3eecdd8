package relay

import "errors"

// ErrServing is returned by operations that are forbidden while the event
// loop is running, such as Close or SetTimeout; callers must Stop first.
var ErrServing = errors.New("server is serving; call Stop first")
