package magdee

import (
	"context"
	"net/http"

	"github.com/JohnPlummer/magdee-client/resilience"
)

// Books lists the signed-in user's books, newest first as served by the API.
func (c *Client) Books(ctx context.Context) resilience.Result[[]Book] {
	return read(ctx, c, c.books)
}

// CreateBook uploads a PDF for conversion.
func (c *Client) CreateBook(ctx context.Context, book NewBook) resilience.Result[Book] {
	res := send[Book](ctx, c, resilience.Request{
		Method: http.MethodPost,
		Path:   path("books"),
		Body:   &book,
	}, c.timeouts.Upload)
	if res.OK() {
		c.forgetBooks()
	}
	return res
}

// DeleteBook removes a book and its audio.
func (c *Client) DeleteBook(ctx context.Context, bookID string) resilience.Result[struct{}] {
	if bookID == "" {
		return invalid[struct{}]("book_id", "is required")
	}
	res := send[struct{}](ctx, c, resilience.Request{
		Method: http.MethodDelete,
		Path:   path("books", bookID),
	}, c.timeouts.Write)
	if res.OK() {
		c.forgetBooks()
	}
	return res
}

// UpdateProgress stores the listening position for a book.
func (c *Client) UpdateProgress(ctx context.Context, bookID string, progress Progress) resilience.Result[BookProgress] {
	if bookID == "" {
		return invalid[BookProgress]("book_id", "is required")
	}
	res := send[BookProgress](ctx, c, resilience.Request{
		Method: http.MethodPut,
		Path:   path("books", bookID, "progress"),
		Body:   &progress,
	}, c.timeouts.Write)
	if !res.OK() {
		return res
	}

	stored := res.Value()
	if stored.BookID == "" {
		stored.BookID = bookID
		stored.Percent = progress.Percent
		stored.PositionSeconds = progress.PositionSeconds
	}
	c.forgetBooks()
	return resilience.Success(stored)
}

func (c *Client) forgetBooks() {
	if userID, ok := c.currentUser(); ok {
		c.books.Forget(userID)
	}
}

func (c *Client) fetchBooks(ctx context.Context, _ string) resilience.Result[[]Book] {
	res := resilience.Call[bookList](ctx, c.gateway, resilience.Request{
		Path: path("books"),
	}, c.timeouts.Read)
	if !res.OK() {
		return resilience.Failure[[]Book](res.Outcome(), res.Err())
	}
	return resilience.Success([]Book(res.Value()))
}
