package mqtt

// pendingMsg is a serialized message waiting for the broker to come back.
type pendingMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
	// latestOnly marks state messages where only the newest one matters.
	// Queuing one replaces any earlier message for the same topic.
	latestOnly bool
}

// outbox queues messages while disconnected, oldest first. When full the
// oldest message is dropped. It is not safe for concurrent use.
type outbox struct {
	msgs     []pendingMsg
	capacity int
	dropping bool // a message was dropped since the last take
}

func newOutbox(capacity int) *outbox {
	if capacity < 1 {
		capacity = 1
	}
	return &outbox{capacity: capacity}
}

// add queues m. It returns true on the first drop since the last take, so
// callers can warn once per outage.
func (o *outbox) add(m pendingMsg) bool {
	if m.latestOnly {
		for i := range o.msgs {
			if o.msgs[i].latestOnly && o.msgs[i].topic == m.topic {
				o.msgs = append(o.msgs[:i], o.msgs[i+1:]...)
				break
			}
		}
	}

	first := false
	if len(o.msgs) == o.capacity {
		o.msgs = append(o.msgs[:0], o.msgs[1:]...)
		first = !o.dropping
		o.dropping = true
	}
	o.msgs = append(o.msgs, m)
	return first
}

// take empties the outbox and returns its messages in publish order.
func (o *outbox) take() []pendingMsg {
	if len(o.msgs) == 0 {
		return nil
	}
	msgs := o.msgs
	o.msgs = nil
	o.dropping = false
	return msgs
}

func (o *outbox) len() int {
	return len(o.msgs)
}
