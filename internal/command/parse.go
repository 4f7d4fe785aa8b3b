package command

import (
	"math/rand/v2"
	"strings"
	"sync/atomic"
	"time"

	"pricebot/internal/subscription"
	kit "pricebot/internal/transport"
)

// Command names understood by the dispatcher.
const (
	NameStart     = "start"
	NameHelp      = "help"
	NameSubscribe = "ton"
	NameStartPoll = "tonstart"
	NameStopPoll  = "tonstop"
)

// Command is one parsed chat command.
type Command struct {
	Name   string
	Target subscription.Destination

	ChatID       int64
	ThreadID     int
	FromID       int64
	FromUsername string
}

// Parse turns raw message text into a Command. ok is false for anything
// that should be dropped without a reply.
//
// Command words match case-insensitively and may carry a bot mention
// ("/ton@PriceBot"). Help takes no target and ignores extra words; every
// other command needs exactly one valid "@channel" argument.
func Parse(text string) (Command, bool) {
	parts := strings.Fields(text)
	if len(parts) == 0 || !strings.HasPrefix(parts[0], "/") {
		return Command{}, false
	}
	word := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	if i := strings.IndexByte(word, '@'); i >= 0 {
		word = word[:i]
	}

	switch word {
	case NameStart, NameHelp:
		return Command{Name: word}, true
	case NameSubscribe, NameStartPoll, NameStopPoll:
	default:
		return Command{}, false
	}

	if len(parts) != 2 {
		return Command{}, false
	}
	dest, err := subscription.Parse(parts[1])
	if err != nil {
		return Command{}, false
	}
	return Command{Name: word, Target: dest}, true
}

// FromMessage parses msg and fills in the chat and sender fields.
func FromMessage(msg *kit.Message) (Command, bool) {
	if msg == nil {
		return Command{}, false
	}
	cmd, ok := Parse(msg.Text)
	if !ok {
		return Command{}, false
	}
	cmd.ChatID = msg.ChatID
	cmd.ThreadID = msg.ThreadID
	cmd.FromID = msg.FromID
	cmd.FromUsername = msg.FromUsername
	return cmd, true
}

var ridSeq atomic.Uint64

// newReqID returns a short id: base36 timestamp, sequence, two random chars.
func newReqID() string {
	n := ridSeq.Add(1)
	return base36(time.Now().UnixNano()) + "-" + base36(int64(n)) + randSuffix(2)
}

func randSuffix(n int) string {
	const alpha = "abcdefghijklmnopqrstuvwxyz0123456789"
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteByte(alpha[rand.IntN(len(alpha))])
	}
	return b.String()
}

func base36(v int64) string {
	const chars = "0123456789abcdefghijklmnopqrstuvwxyz"
	if v < 0 {
		v = -v
	}
	if v == 0 {
		return "0"
	}
	var out [32]byte
	i := len(out)
	for v > 0 {
		i--
		out[i] = chars[v%36]
		v /= 36
	}
	return string(out[i:])
}
