// Package push delivers outbound messages to users and groups,
// splitting long text into transport-safe chunks.
package push

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Pusher is the outbound transport capability.
type Pusher interface {
	// SendToUser delivers a message to an individual recipient.
	SendToUser(ctx context.Context, userID, text string) error

	// SendToGroup delivers a message to a group.
	SendToGroup(ctx context.Context, groupID, text string) error
}

// Split breaks text into chunks no longer than limit. The split point
// prefers the line boundary nearest the limit over cutting mid-line;
// a single line longer than the limit is cut hard.
func Split(text string, limit int) []string {
	if limit <= 0 || len(text) <= limit {
		return []string{text}
	}

	var chunks []string
	for len(text) > limit {
		cut := strings.LastIndexByte(text[:limit+1], '\n')
		if cut <= 0 {
			cut = limit
		}
		chunks = append(chunks, strings.TrimRight(text[:cut], "\n"))
		text = strings.TrimLeft(text[cut:], "\n")
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

// Chunked wraps a Pusher so every send is split to fit the limit.
type Chunked struct {
	pusher Pusher
	limit  int
}

// NewChunked builds a splitting wrapper around pusher.
func NewChunked(pusher Pusher, limit int) *Chunked {
	return &Chunked{pusher: pusher, limit: limit}
}

func (c *Chunked) SendToUser(ctx context.Context, userID, text string) error {
	for _, chunk := range Split(text, c.limit) {
		if err := c.pusher.SendToUser(ctx, userID, chunk); err != nil {
			return fmt.Errorf("failed to push to user %s: %w", userID, err)
		}
	}
	return nil
}

func (c *Chunked) SendToGroup(ctx context.Context, groupID, text string) error {
	for _, chunk := range Split(text, c.limit) {
		if err := c.pusher.SendToGroup(ctx, groupID, chunk); err != nil {
			return fmt.Errorf("failed to push to group %s: %w", groupID, err)
		}
	}
	return nil
}

// Console writes outbound messages to the log. It stands in for a real
// chat transport in CLI runs.
type Console struct {
	logger *zap.Logger
}

// NewConsole builds a console pusher.
func NewConsole(logger *zap.Logger) *Console {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Console{logger: logger}
}

func (c *Console) SendToUser(_ context.Context, userID, text string) error {
	c.logger.Info("push to user", zap.String("user_id", userID), zap.String("text", text))
	return nil
}

func (c *Console) SendToGroup(_ context.Context, groupID, text string) error {
	c.logger.Info("push to group", zap.String("group_id", groupID), zap.String("text", text))
	return nil
}
