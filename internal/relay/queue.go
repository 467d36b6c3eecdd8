package relay

// pendingCommand is one command awaiting a device transaction. The owner
// reference is weak: the serial channel checks the connection is still in
// the active set before delivering the reply, and discards it otherwise.
type pendingCommand struct {
	payload []byte
	owner   *clientConn
}

// commandQueue is the FIFO shared by all client connections (producers)
// and the serial channel (sole consumer). Only the event loop goroutine
// ever touches it, so no locking is required.
type commandQueue struct {
	items []pendingCommand
}

func (q *commandQueue) push(cmd pendingCommand) {
	q.items = append(q.items, cmd)
}

// pop removes and returns the earliest-enqueued command. It panics on an
// empty queue; callers gate on the armed write-interest invariant.
func (q *commandQueue) pop() pendingCommand {
	cmd := q.items[0]
	q.items[0] = pendingCommand{}
	q.items = q.items[1:]
	if len(q.items) == 0 {
		q.items = nil
	}
	return cmd
}

func (q *commandQueue) empty() bool { return len(q.items) == 0 }

func (q *commandQueue) len() int { return len(q.items) }

func (q *commandQueue) clear() { q.items = nil }
