package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/aussiebroadwan/roster/internal/roster/store"
)

// maxChainDepth bounds the supervisor walk so a cycle already present in
// storage cannot hang the caller.
const maxChainDepth = 1024

// checkSupervisor reports ErrSupervisorCycle if making supervisorID the
// supervisor of subjectID would close a loop. A nil supervisor is always
// allowed.
func checkSupervisor(ctx context.Context, identities store.Identities, subjectID string, supervisorID *string) error {
	if supervisorID == nil {
		return nil
	}

	cur := *supervisorID
	seen := make(map[string]struct{})
	for depth := 0; depth < maxChainDepth; depth++ {
		if cur == subjectID {
			return ErrSupervisorCycle
		}
		if _, ok := seen[cur]; ok {
			// Existing loop above the subject; refuse to attach to it.
			return ErrSupervisorCycle
		}
		seen[cur] = struct{}{}

		next, err := identities.GetByID(ctx, cur)
		if errors.Is(err, store.ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("walk supervisor chain: %w", err)
		}
		if next.SupervisorID == nil {
			return nil
		}
		cur = *next.SupervisorID
	}
	return ErrSupervisorCycle
}
