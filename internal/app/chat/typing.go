package chat

import (
	"sync"
	"time"
)

// DefaultTypingStopDelay is how long after the last keystroke stop-typing is sent.
const DefaultTypingStopDelay = 1 * time.Second

// TypingSender is implemented by Client.
type TypingSender interface {
	SendTypingStatus(isTyping bool, targetUserID string)
}

// TypingNotifier turns keystrokes into typing and stop-typing signals.
// The first keystroke sends typing; stop-typing follows once no keystroke has arrived
// for the stop delay, or immediately on Stop.
type TypingNotifier struct {
	sender TypingSender
	delay  time.Duration

	mu     sync.Mutex
	typing bool
	target string
	timer  *time.Timer

	// seq identifies the armed timer so a superseded one does nothing when it fires.
	seq uint64
}

// NewTypingNotifier creates a TypingNotifier. A delay of zero or less uses DefaultTypingStopDelay.
func NewTypingNotifier(sender TypingSender, delay time.Duration) *TypingNotifier {
	if delay <= 0 {
		delay = DefaultTypingStopDelay
	}
	return &TypingNotifier{sender: sender, delay: delay}
}

// Keystroke records input in the conversation with targetUserID (empty for broadcast).
func (n *TypingNotifier) Keystroke(targetUserID string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.typing && n.target != targetUserID {
		n.sender.SendTypingStatus(false, n.target)
		n.typing = false
	}

	if !n.typing {
		n.sender.SendTypingStatus(true, targetUserID)
		n.typing = true
		n.target = targetUserID
	}

	n.arm()
}

// Stop sends stop-typing now if typing was signalled, e.g. when the message is submitted.
func (n *TypingNotifier) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.disarm()
	n.stopLocked()
}

func (n *TypingNotifier) arm() {
	n.disarm()

	n.seq++
	seq := n.seq
	n.timer = time.AfterFunc(n.delay, func() {
		n.mu.Lock()
		defer n.mu.Unlock()

		if seq != n.seq {
			return
		}
		n.timer = nil
		n.stopLocked()
	})
}

func (n *TypingNotifier) disarm() {
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	n.seq++
}

func (n *TypingNotifier) stopLocked() {
	if !n.typing {
		return
	}
	n.sender.SendTypingStatus(false, n.target)
	n.typing = false
}
