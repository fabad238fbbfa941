package session

// Streaming assembler: reconstructs one bot reply from an ordered run of
// start, delta*, end frames. The pub/sub layer redelivers and races start
// frames around reconnect windows, so the state machine is idempotent under
// at-least-once delivery: start-while-streaming and delta-while-idle are
// absorbed as no-ops rather than corrupting the log.

// ApplyStart opens a new streaming bot reply: appends an empty mutable bot
// message and raises the typing indicator. Returns false when the frame is
// ignored (duplicate start, or the session is closed).
func (s *Session) ApplyStart() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == Closed || s.streaming {
		return false
	}
	s.streaming = true
	s.accumulated = ""
	s.typing = true
	s.appendLocked(Message{Sender: SenderBot})
	s.streamIdx = len(s.log) - 1
	return true
}

// ApplyDelta appends a chunk to the in-flight reply and updates the mutable
// bot message in place. A delta arriving while idle is a stale or duplicate
// delivery and is dropped without touching any message.
func (s *Session) ApplyDelta(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == Closed || !s.streaming {
		return false
	}
	s.accumulated += text
	if s.streamIdx >= 0 && s.streamIdx < len(s.log) {
		s.log[s.streamIdx].Content = s.accumulated
	}
	return true
}

// StreamingMessage returns the bot message currently being streamed, with
// its content so far.
func (s *Session) StreamingMessage() (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.streaming || s.streamIdx < 0 || s.streamIdx >= len(s.log) {
		return Message{}, false
	}
	return s.log[s.streamIdx], true
}

// ApplyEnd freezes the bot message at the buffer's final value, clears the
// typing indicator and resets the buffer. Returns false when no stream is
// open.
func (s *Session) ApplyEnd() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.streaming {
		return false
	}
	if s.streamIdx >= 0 && s.streamIdx < len(s.log) {
		s.log[s.streamIdx].Content = s.accumulated
	}
	s.streaming = false
	s.accumulated = ""
	s.streamIdx = -1
	s.typing = false
	return true
}
