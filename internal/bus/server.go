package bus

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// HandlerFunc serves one command. A nil result is replied as null.
type HandlerFunc func(ctx context.Context, req Request) (any, error)

// ErrorMapper turns a handler error into the error sent back to the caller.
type ErrorMapper func(err error) *ReplyError

// ServerOptions tune a Server.
type ServerOptions struct {
	Workers     int
	ReplyTTL    time.Duration
	PollTimeout time.Duration
	MapError    ErrorMapper
}

// Server consumes one queue and dispatches requests to handlers.
type Server struct {
	rdb      *redis.Client
	queue    string
	opts     ServerOptions
	handlers map[string]HandlerFunc
	log      *zap.Logger
}

// NewServer returns a Server for queue. Register handlers before Serve.
func NewServer(rdb *redis.Client, queue string, opts ServerOptions, log *zap.Logger) *Server {
	if opts.Workers <= 0 {
		opts.Workers = 8
	}
	if opts.ReplyTTL <= 0 {
		opts.ReplyTTL = time.Minute
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = time.Second
	}
	if opts.MapError == nil {
		opts.MapError = defaultMapError
	}
	return &Server{
		rdb:      rdb,
		queue:    queue,
		opts:     opts,
		handlers: make(map[string]HandlerFunc),
		log:      log.With(zap.String("queue", queue)),
	}
}

// Handle registers fn for cmd.
func (s *Server) Handle(cmd string, fn HandlerFunc) {
	s.handlers[cmd] = fn
}

// Serve pops requests until ctx is done, then waits for in-flight handlers.
// Handlers run on a context that outlives ctx so a shutdown never cuts a
// mutation in half.
func (s *Server) Serve(ctx context.Context) error {
	var g errgroup.Group
	g.SetLimit(s.opts.Workers)
	handlerCtx := context.WithoutCancel(ctx)

	s.log.Info("bus server started", zap.Int("workers", s.opts.Workers))
	for ctx.Err() == nil {
		res, err := s.rdb.BRPop(ctx, s.opts.PollTimeout, s.queue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			s.log.Warn("pop request failed", zap.Error(err))
			select {
			case <-ctx.Done():
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}
		raw := res[1]
		g.Go(func() error {
			s.dispatch(handlerCtx, raw)
			return nil
		})
	}

	err := g.Wait()
	s.log.Info("bus server stopped")
	return err
}

func (s *Server) dispatch(ctx context.Context, raw string) {
	var req Request
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		s.log.Warn("drop malformed request", zap.Error(err))
		return
	}
	if req.ReplyTo == "" {
		s.log.Warn("drop request without replyTo", zap.String("id", req.ID), zap.String("cmd", req.Pattern.Cmd))
		return
	}

	reply := Reply{ID: req.ID}
	fn, ok := s.handlers[req.Pattern.Cmd]
	if !ok {
		reply.Err = &ReplyError{Code: "UNKNOWN_COMMAND", Message: ErrUnknownCommand.Error() + ": " + req.Pattern.Cmd}
	} else {
		result, err := fn(ctx, req)
		switch {
		case errors.Is(err, ErrNoReply):
			s.log.Debug("request answered elsewhere", zap.String("id", req.ID), zap.String("cmd", req.Pattern.Cmd))
			return
		case err != nil:
			reply.Err = s.opts.MapError(err)
		case result != nil:
			body, err := json.Marshal(result)
			if err != nil {
				s.log.Error("encode response", zap.String("cmd", req.Pattern.Cmd), zap.Error(err))
				reply.Err = defaultMapError(err)
			} else {
				reply.Response = body
			}
		}
	}

	if err := s.send(ctx, req.ReplyTo, reply); err != nil {
		s.log.Error("send reply", zap.String("id", req.ID), zap.String("cmd", req.Pattern.Cmd), zap.Error(err))
	}
}

func (s *Server) send(ctx context.Context, replyTo string, reply Reply) error {
	body, err := json.Marshal(reply)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LPush(ctx, replyTo, body)
		p.Expire(ctx, replyTo, s.opts.ReplyTTL)
		return nil
	})
	return err
}

func defaultMapError(error) *ReplyError {
	return &ReplyError{Code: "INTERNAL", Message: "internal error"}
}
