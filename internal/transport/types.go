package transport

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// ChannelRef addresses one messaging channel (chat, plus an optional forum
// thread for Telegram groups).
type ChannelRef struct {
	ChatID   int64
	ThreadID int
}

// ParseChannelRef parses a destination target of the form "<chat_id>" or
// "<chat_id>:<thread_id>".
func ParseChannelRef(target string) (ChannelRef, error) {
	target = strings.TrimSpace(target)
	chatPart, threadPart, hasThread := strings.Cut(target, ":")

	chatID, err := strconv.ParseInt(strings.TrimSpace(chatPart), 10, 64)
	if err != nil {
		return ChannelRef{}, fmt.Errorf("invalid channel reference %q: %w", target, err)
	}
	ref := ChannelRef{ChatID: chatID}
	if hasThread {
		tid, err := strconv.Atoi(strings.TrimSpace(threadPart))
		if err != nil {
			return ChannelRef{}, fmt.Errorf("invalid thread id in %q: %w", target, err)
		}
		ref.ThreadID = tid
	}
	return ref, nil
}

func (r ChannelRef) String() string {
	if r.ThreadID != 0 {
		return strconv.FormatInt(r.ChatID, 10) + ":" + strconv.Itoa(r.ThreadID)
	}
	return strconv.FormatInt(r.ChatID, 10)
}

// PostOptions control how content is rendered by the platform.
type PostOptions struct {
	ParseMode      string // platform parse mode ("HTML", "MarkdownV2", "")
	DisablePreview bool
}

// Gateway posts formatted content to a messaging channel. Implementations
// must be safe for concurrent use; the delivery dispatcher fans out to
// multiple destinations in parallel.
type Gateway interface {
	Post(ctx context.Context, to ChannelRef, content string, opt *PostOptions) error
	Stop(ctx context.Context) error
}
