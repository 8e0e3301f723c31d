package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Client sends requests to remote queues and waits for their replies.
type Client struct {
	rdb     *redis.Client
	timeout time.Duration
}

// NewClient returns a Client that waits at most timeout for each reply.
func NewClient(rdb *redis.Client, timeout time.Duration) *Client {
	return &Client{rdb: rdb, timeout: timeout}
}

// Call sends cmd with data to queue and decodes the reply into out.
// It returns ErrNullResponse for a null reply, a *ReplyError for a remote
// failure, ErrTimeout when nothing arrives in time and ctx.Err() when the
// caller gives up first.
func (c *Client) Call(ctx context.Context, queue, cmd string, data, out any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", cmd, err)
	}
	id := uuid.NewString()
	req := Request{
		ID:      id,
		Pattern: Pattern{Cmd: cmd},
		Data:    payload,
		ReplyTo: replyKey(queue, id),
	}
	raw, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode %s request: %w", cmd, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.rdb.LPush(callCtx, queue, raw).Err(); err != nil {
		return classify(ctx, fmt.Errorf("push %s to %s: %w", cmd, queue, err))
	}

	wait := c.timeout
	if deadline, ok := callCtx.Deadline(); ok {
		wait = time.Until(deadline)
	}
	if wait <= 0 {
		return classify(ctx, ErrTimeout)
	}

	res, err := c.rdb.BRPop(callCtx, wait, req.ReplyTo).Result()
	if err != nil {
		return classify(ctx, fmt.Errorf("await %s reply: %w", cmd, err))
	}

	var reply Reply
	if err := json.Unmarshal([]byte(res[1]), &reply); err != nil {
		return fmt.Errorf("decode %s reply: %w", cmd, err)
	}
	if reply.Err != nil {
		return reply.Err
	}
	if isNull(reply.Response) {
		return ErrNullResponse
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(reply.Response, out); err != nil {
		return fmt.Errorf("decode %s response: %w", cmd, err)
	}
	return nil
}

// classify reports the caller's own cancellation as is and folds expired
// waits into ErrTimeout.
func classify(parent context.Context, err error) error {
	if parent.Err() != nil {
		return parent.Err()
	}
	if errors.Is(err, redis.Nil) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrTimeout) {
		return ErrTimeout
	}
	return err
}

func replyKey(queue, id string) string {
	return queue + ":reply:" + id
}
