package httpapi

import (
	"context"
	"fmt"

	"github.com/MarkoPoloResearchLab/gitsats/pkg/reward"
)

// DirectoryChecker answers follower checks straight from a directory. It serves
// the plain check route when the reward service cannot be built.
type DirectoryChecker struct {
	Directory reward.FollowerDirectory
}

func (checker DirectoryChecker) CheckFollower(ctx context.Context, rawUsername string) (bool, error) {
	username, err := reward.NewUsername(rawUsername)
	if err != nil {
		return false, err
	}
	isFollowing, err := checker.Directory.IsFollower(ctx, username)
	if err != nil {
		return false, fmt.Errorf("%w: %w", reward.ErrDirectoryUnavailable, err)
	}
	return isFollowing, nil
}
