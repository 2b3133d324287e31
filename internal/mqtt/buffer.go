package mqtt

// bufferedMsg stores a serialized MQTT message for replay after reconnection.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// ringBuffer holds messages published while the broker is unreachable.
// Retained messages on the same topic replace each other, since the broker
// would only keep the last one anyway; everything else is FIFO and the oldest
// message is dropped when full.
// Not safe for concurrent use; caller must synchronize.
type ringBuffer struct {
	msgs     []bufferedMsg
	capacity int
	dropped  int
}

func newRingBuffer(capacity int) *ringBuffer {
	return &ringBuffer{
		msgs:     make([]bufferedMsg, 0, capacity),
		capacity: capacity,
	}
}

func (r *ringBuffer) push(msg bufferedMsg) {
	if msg.retained {
		for i := range r.msgs {
			if r.msgs[i].retained && r.msgs[i].topic == msg.topic {
				copy(r.msgs[i:], r.msgs[i+1:])
				r.msgs[len(r.msgs)-1] = msg
				return
			}
		}
	}
	if len(r.msgs) == r.capacity {
		copy(r.msgs, r.msgs[1:])
		r.msgs = r.msgs[:len(r.msgs)-1]
		r.dropped++
	}
	r.msgs = append(r.msgs, msg)
}

// drainAll returns the buffered messages oldest first and the number dropped
// since the last drain, then empties the buffer.
func (r *ringBuffer) drainAll() ([]bufferedMsg, int) {
	dropped := r.dropped
	r.dropped = 0
	if len(r.msgs) == 0 {
		return nil, dropped
	}
	out := make([]bufferedMsg, len(r.msgs))
	copy(out, r.msgs)
	r.msgs = r.msgs[:0]
	return out, dropped
}

func (r *ringBuffer) len() int {
	return len(r.msgs)
}
