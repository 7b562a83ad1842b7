package magdee

import (
	"context"
	"net/http"

	"github.com/JohnPlummer/magdee-client/resilience"
)

// Notifications lists the signed-in user's notifications.
func (c *Client) Notifications(ctx context.Context) resilience.Result[[]Notification] {
	return read(ctx, c, c.notifications)
}

// CreateNotification posts a notification for the signed-in user.
func (c *Client) CreateNotification(ctx context.Context, n NewNotification) resilience.Result[Notification] {
	res := send[Notification](ctx, c, resilience.Request{
		Method: http.MethodPost,
		Path:   path("notifications"),
		Body:   &n,
	}, c.timeouts.Write)
	if res.OK() {
		c.forgetNotifications()
	}
	return res
}

// MarkNotificationRead marks one notification as read.
func (c *Client) MarkNotificationRead(ctx context.Context, notificationID string) resilience.Result[struct{}] {
	if notificationID == "" {
		return invalid[struct{}]("notification_id", "is required")
	}
	res := send[struct{}](ctx, c, resilience.Request{
		Method: http.MethodPut,
		Path:   path("notifications", notificationID, "read"),
	}, c.timeouts.Write)
	if res.OK() {
		c.forgetNotifications()
	}
	return res
}

func (c *Client) forgetNotifications() {
	if userID, ok := c.currentUser(); ok {
		c.notifications.Forget(userID)
	}
}

func (c *Client) fetchNotifications(ctx context.Context, _ string) resilience.Result[[]Notification] {
	res := resilience.Call[notificationList](ctx, c.gateway, resilience.Request{
		Path: path("notifications"),
	}, c.timeouts.Read)
	if !res.OK() {
		return resilience.Failure[[]Notification](res.Outcome(), res.Err())
	}
	return resilience.Success([]Notification(res.Value()))
}
