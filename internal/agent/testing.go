package agent

import "context"

// FakeRunner plays a scripted session in place of the real subprocess.
// The script receives the turn stream, the run options (so it can exercise
// the permission callback), and an emit function feeding the output stream.
// Its return value becomes the stream's terminal error.
type FakeRunner struct {
	StartErr error
	Script   func(ctx context.Context, turns <-chan UserTurn, opts Options, emit func(Message)) error
}

func (f *FakeRunner) Run(ctx context.Context, turns <-chan UserTurn, opts Options) (*Stream, error) {
	if f.StartErr != nil {
		return nil, f.StartErr
	}
	s := newStream(ctx)
	go func() {
		var err error
		if f.Script != nil {
			err = f.Script(ctx, turns, opts, s.send)
		}
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		s.close(err)
	}()
	return s, nil
}
