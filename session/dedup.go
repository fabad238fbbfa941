package session

// Echo suppression: a message the user (or agent) sent optimistically also
// comes back through the topic subscription. The copies are matched by
// server message id when the gateway assigned one, with content+sender as
// the fallback for echoes that have no id yet.

// absorb applies an inbound user/agent message against the log. It returns
// the stored message and true when a new entry was appended; false when the
// frame was suppressed as a duplicate or consumed as a backfill.
func (s *Session) absorb(m Message) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == Closed {
		return Message{}, false
	}

	if m.ServerMessageID != "" {
		// Already rendered under this server id.
		for i := range s.log {
			if s.log[i].ServerMessageID == m.ServerMessageID {
				return Message{}, false
			}
		}
		// An optimistic local copy without an id gets the server id
		// backfilled instead of a second entry.
		for i := len(s.log) - 1; i >= 0; i-- {
			e := &s.log[i]
			if e.ServerMessageID == "" && e.Sender == m.Sender && e.Content == m.Content {
				e.ServerMessageID = m.ServerMessageID
				return Message{}, false
			}
		}
	} else {
		// No server id: suppress the sender's own echo of a message that
		// was just appended locally.
		for i := len(s.log) - 1; i >= 0; i-- {
			e := s.log[i]
			if e.ServerMessageID == "" && e.Sender == m.Sender && e.Content == m.Content {
				return Message{}, false
			}
		}
	}

	return s.appendLocked(m), true
}

// absorbRaw appends an opaque text payload as a bot message unless it
// repeats the last log entry verbatim. The dedup window is the last message
// only.
func (s *Session) absorbRaw(text string) (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == Closed {
		return Message{}, false
	}
	if n := len(s.log); n > 0 && s.log[n-1].Content == text {
		return Message{}, false
	}
	return s.appendLocked(Message{Sender: SenderBot, Content: text}), true
}
