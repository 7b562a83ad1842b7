package magdee

import (
	"context"

	"github.com/JohnPlummer/magdee-client/resilience"
)

// Achievements lists the signed-in user's achievements.
func (c *Client) Achievements(ctx context.Context) resilience.Result[[]Achievement] {
	return read(ctx, c, c.achievements)
}

func (c *Client) fetchAchievements(ctx context.Context, _ string) resilience.Result[[]Achievement] {
	res := resilience.Call[achievementList](ctx, c.gateway, resilience.Request{
		Path: path("achievements"),
	}, c.timeouts.Read)
	if !res.OK() {
		return resilience.Failure[[]Achievement](res.Outcome(), res.Err())
	}
	return resilience.Success([]Achievement(res.Value()))
}
