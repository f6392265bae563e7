package store

import (
	"context"
	"fmt"

	"pohchain/internal/poh"
)

// VerifyChain replays every stored entry of a chain from its initial
// digest with the chain's hasher. workers follows VerifyParallel: 1
// replays sequentially, 0 uses GOMAXPROCS.
func (s *Store) VerifyChain(ctx context.Context, chainID int64, workers int) (poh.Report, error) {
	c, err := s.GetChain(ctx, chainID)
	if err != nil {
		return poh.Report{}, err
	}

	h, err := poh.HasherByName(c.Hasher)
	if err != nil {
		return poh.Report{}, fmt.Errorf("chain %d: %w", chainID, err)
	}

	entries, err := s.Entries(ctx, chainID)
	if err != nil {
		return poh.Report{}, err
	}

	v := poh.NewVerifier(h)
	if workers != 1 {
		return v.VerifyParallel(ctx, c.Initial, entries, workers), nil
	}
	return v.ReplayContext(ctx, c.Initial, entries), nil
}
