package magdee

import (
	"context"
	"net/http"

	"github.com/JohnPlummer/magdee-client/resilience"
)

// Analytics returns the signed-in user's activity summary.
func (c *Client) Analytics(ctx context.Context) resilience.Result[Analytics] {
	return read(ctx, c, c.analytics)
}

// UpdateAnalytics records an activity event and returns the refreshed summary.
func (c *Client) UpdateAnalytics(ctx context.Context, event AnalyticsEvent) resilience.Result[Analytics] {
	res := send[analyticsPayload](ctx, c, resilience.Request{
		Method: http.MethodPost,
		Path:   path("analytics"),
		Body:   &event,
	}, c.timeouts.Write)
	if !res.OK() {
		return resilience.Failure[Analytics](res.Outcome(), res.Err())
	}

	summary := Analytics(res.Value())
	if userID, ok := c.currentUser(); ok {
		c.analytics.Remember(userID, summary)
	}
	return resilience.Success(summary)
}

func (c *Client) fetchAnalytics(ctx context.Context, _ string) resilience.Result[Analytics] {
	res := resilience.Call[analyticsPayload](ctx, c.gateway, resilience.Request{
		Path: path("analytics"),
	}, c.timeouts.Read)
	if !res.OK() {
		return resilience.Failure[Analytics](res.Outcome(), res.Err())
	}
	return resilience.Success(Analytics(res.Value()))
}
