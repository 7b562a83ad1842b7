package magdee

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/JohnPlummer/magdee-client/resilience"
)

type sessionStart struct {
	StartedAt time.Time `json:"started_at"`
	ClientID  string    `json:"client_id" validate:"required,uuid"`
	BookID    string    `json:"book_id" validate:"required"`
}

// StartReadingSession opens a listening session for a book. The client id lets the API
// recognise a retried start.
func (c *Client) StartReadingSession(ctx context.Context, bookID string) resilience.Result[ReadingSession] {
	start := sessionStart{
		StartedAt: time.Now().UTC(),
		ClientID:  uuid.NewString(),
		BookID:    bookID,
	}

	res := send[ReadingSession](ctx, c, resilience.Request{
		Method: http.MethodPost,
		Path:   path("reading-sessions"),
		Body:   &start,
	}, c.timeouts.Write)
	if !res.OK() {
		return res
	}

	rs := res.Value()
	if rs.ClientID == "" {
		rs.ClientID = start.ClientID
	}
	if rs.BookID == "" {
		rs.BookID = bookID
	}
	if rs.StartedAt.IsZero() {
		rs.StartedAt = start.StartedAt
	}
	return resilience.Success(rs)
}

// EndReadingSession closes a listening session at the given position.
func (c *Client) EndReadingSession(ctx context.Context, sessionID string, end SessionEnd) resilience.Result[ReadingSession] {
	if sessionID == "" {
		return invalid[ReadingSession]("session_id", "is required")
	}
	res := send[ReadingSession](ctx, c, resilience.Request{
		Method: http.MethodPost,
		Path:   path("reading-sessions", sessionID, "end"),
		Body:   &end,
	}, c.timeouts.Write)
	if res.OK() {
		if userID, ok := c.currentUser(); ok {
			c.analytics.Forget(userID)
		}
	}
	return res
}
