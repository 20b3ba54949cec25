package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jpl-au/collab/guide"
	"github.com/mark3labs/mcp-go/mcp"
)

// getGuide returns a guide page. An unknown topic is an argument error that
// lists the topics that exist.
func (h *handlers) getGuide(ctx context.Context, req mcp.CallToolRequest) (reply, error) {
	topic := getString(req, "topic", "")
	content, err := guide.Get(topic)
	if errors.Is(err, guide.ErrUnknownTopic) {
		topics, lerr := guide.List()
		if lerr != nil {
			return reply{}, lerr
		}
		return reply{}, fmt.Errorf("%w: %w (available: %s)", ErrInvalidArgument, err, strings.Join(topics, ", "))
	}
	if err != nil {
		return reply{}, err
	}
	r := reply{summary: content, data: map[string]string{"topic": topic}}
	return r, nil
}
