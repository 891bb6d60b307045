package lessons

import (
	"context"

	"github.com/codekids/pyquest/pkg/logger"
)

// RewardNotifier receives completed-lesson credits. Implementations must not
// block for long; the API calls them on the request path.
type RewardNotifier interface {
	Credit(ctx context.Context, sessionID, lessonID string, reward Reward) error
}

// LogNotifier writes credits to the rewards log. Nothing is stored.
type LogNotifier struct{}

// Credit implements RewardNotifier.
func (LogNotifier) Credit(ctx context.Context, sessionID, lessonID string, reward Reward) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	logger.Info(logger.AreaRewards, "session %s completed %s: +%d XP, +%d coins", sessionID, lessonID, reward.XP, reward.Coins)
	return nil
}
