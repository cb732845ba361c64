package strategy

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	syncerr "github.com/Aman-CERP/indexsync/internal/errors"
	"github.com/Aman-CERP/indexsync/internal/index"
)

// ErrStackUnderflow is returned when popping the base frame.
var ErrStackUnderflow = syncerr.New(syncerr.ErrCodeStackUnderflow, "cannot pop the base strategy", nil)

// Stack is the per-task strategy stack. Only the top frame is active. The
// base frame is never popped. A Stack belongs to one task; do not share it.
type Stack struct {
	mu     sync.Mutex
	frames []Policy
}

// NewStack returns a stack holding only the base frame.
func NewStack() *Stack {
	return &Stack{frames: []Policy{NewBase()}}
}

// Push makes p the active policy.
func (s *Stack) Push(p Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, p)
}

// Pop removes the active policy and runs its Leave. The popped policy is
// returned even when Leave fails.
func (s *Stack) Pop(ctx context.Context) (Policy, error) {
	s.mu.Lock()
	if len(s.frames) <= 1 {
		s.mu.Unlock()
		return nil, ErrStackUnderflow
	}
	top := s.frames[len(s.frames)-1]
	s.frames = s.frames[:len(s.frames)-1]
	s.mu.Unlock()

	return top, top.Leave(ctx)
}

// Current returns the active policy.
func (s *Stack) Current() Policy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames[len(s.frames)-1]
}

// Depth returns the number of frames, base included.
func (s *Stack) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

// Update dispatches to the active policy.
func (s *Stack) Update(ctx context.Context, idx *index.Index, ids []string, opts ...index.Option) error {
	return s.Current().Update(ctx, idx, ids, opts...)
}

// Wrap runs fn with p active. The stack is unwound to its prior depth on
// every exit, panics included; frames fn left behind are popped too.
// Errors from Leave are joined with fn's error.
func (s *Stack) Wrap(ctx context.Context, p Policy, fn func(ctx context.Context) error) (err error) {
	depth := s.Depth()
	s.Push(p)
	defer func() {
		err = errors.Join(err, s.unwind(ctx, depth))
	}()
	return fn(ctx)
}

// WrapValue is Wrap for blocks that return a value.
func WrapValue[T any](ctx context.Context, s *Stack, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var v T
	err := s.Wrap(ctx, p, func(ctx context.Context) error {
		var err error
		v, err = fn(ctx)
		return err
	})
	return v, err
}

func (s *Stack) unwind(ctx context.Context, depth int) error {
	var errs []error
	for s.Depth() > depth {
		p, err := s.Pop(ctx)
		if err != nil {
			name := ""
			if p != nil {
				name = p.Name()
			}
			slog.Warn("strategy_leave_failed",
				slog.String("strategy", name),
				slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		if p == nil {
			break
		}
	}
	return errors.Join(errs...)
}

type stackKey struct{}

// WithStack returns a context carrying s.
func WithStack(ctx context.Context, s *Stack) context.Context {
	return context.WithValue(ctx, stackKey{}, s)
}

// FromContext returns the stack carried by ctx.
func FromContext(ctx context.Context) (*Stack, bool) {
	s, ok := ctx.Value(stackKey{}).(*Stack)
	return s, ok && s != nil
}

// Update dispatches to the stack carried by ctx. Without one, it fails like
// the base policy.
func Update(ctx context.Context, idx *index.Index, ids []string, opts ...index.Option) error {
	s, ok := FromContext(ctx)
	if !ok {
		return ErrUndefinedStrategy
	}
	return s.Update(ctx, idx, ids, opts...)
}
