package ledger

import "context"

// Ledger is the set of operations both backends provide.
type Ledger interface {
	SaveRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context) (*Run, error)
	CommitRound(ctx context.Context, run *Run, round *UpdateRound, state *State) error
	GetRound(ctx context.Context, index int) (*UpdateRound, error)
	Rounds(ctx context.Context) ([]*UpdateRound, error)
	LatestState(ctx context.Context) (*State, error)
	Reset(ctx context.Context) error
	Close() error
}

var (
	_ Ledger = (*Client)(nil)
	_ Ledger = (*BoltStore)(nil)
)
