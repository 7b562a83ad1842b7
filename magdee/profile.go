package magdee

import (
	"context"
	"net/http"

	"github.com/JohnPlummer/magdee-client/resilience"
)

// Profile returns the signed-in user's profile. While the API is unavailable or the profile
// breaker is open it serves the last known profile, or one derived from the session, as a
// degraded result.
func (c *Client) Profile(ctx context.Context) resilience.Result[Profile] {
	return read(ctx, c, c.profile)
}

// UpdateProfile applies update to the signed-in user's profile.
func (c *Client) UpdateProfile(ctx context.Context, update ProfileUpdate) resilience.Result[Profile] {
	userID, ok := c.currentUser()
	if !ok {
		return resilience.Failure[Profile](resilience.OutcomeAuthMissing, resilience.ErrUnauthenticated)
	}

	res := send[profilePayload](ctx, c, resilience.Request{
		Method: http.MethodPut,
		Path:   path("users", userID, "profile"),
		Body:   &update,
	}, c.timeouts.Write)
	return c.rememberProfile(userID, res)
}

// UpdateProfilePicture uploads a new avatar and returns the updated profile.
func (c *Client) UpdateProfilePicture(ctx context.Context, picture Picture) resilience.Result[Profile] {
	userID, ok := c.currentUser()
	if !ok {
		return resilience.Failure[Profile](resilience.OutcomeAuthMissing, resilience.ErrUnauthenticated)
	}

	res := send[profilePayload](ctx, c, resilience.Request{
		Method: http.MethodPost,
		Path:   path("users", userID, "profile", "picture"),
		Body:   &picture,
	}, c.timeouts.Upload)
	return c.rememberProfile(userID, res)
}

// rememberProfile converts a write answer and makes it the last known profile.
func (c *Client) rememberProfile(userID string, res resilience.Result[profilePayload]) resilience.Result[Profile] {
	if !res.OK() {
		return resilience.Failure[Profile](res.Outcome(), res.Err())
	}
	profile := Profile(res.Value())
	if profile.ID == "" {
		profile.ID = userID
	}
	c.profile.Remember(userID, profile)
	return resilience.Success(profile)
}

func (c *Client) fetchProfile(ctx context.Context, userID string) resilience.Result[Profile] {
	res := resilience.Call[profilePayload](ctx, c.gateway, resilience.Request{
		Path: path("users", userID, "profile"),
	}, c.timeouts.Read)
	if !res.OK() {
		return resilience.Failure[Profile](res.Outcome(), res.Err())
	}
	profile := Profile(res.Value())
	if profile.ID == "" {
		profile.ID = userID
	}
	return resilience.Success(profile)
}

// profileFallback derives a minimal profile from the session user metadata.
func (c *Client) profileFallback(_ context.Context, userID string) (Profile, bool) {
	s := c.store.Current()
	if s == nil || s.User.ID != userID {
		return Profile{}, false
	}
	meta := s.User.UserMetadata
	return Profile{
		ID:          s.User.ID,
		Email:       s.User.Email,
		Name:        meta.DisplayName(),
		Username:    meta.Username,
		AvatarURL:   meta.AvatarURL,
		Synthesized: true,
	}, true
}
