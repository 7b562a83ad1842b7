package magdee

import (
	"context"
	"net/http"

	"github.com/JohnPlummer/magdee-client/resilience"
)

// AudioSettings returns the signed-in user's playback preferences. While the API is
// unavailable it serves the last known settings, or DefaultAudioSettings.
func (c *Client) AudioSettings(ctx context.Context) resilience.Result[AudioSettings] {
	return read(ctx, c, c.audio)
}

// UpdateAudioSettings replaces the signed-in user's playback preferences.
func (c *Client) UpdateAudioSettings(ctx context.Context, settings AudioSettings) resilience.Result[AudioSettings] {
	userID, ok := c.currentUser()
	if !ok {
		return resilience.Failure[AudioSettings](resilience.OutcomeAuthMissing, resilience.ErrUnauthenticated)
	}

	res := send[settingsPayload](ctx, c, resilience.Request{
		Method: http.MethodPut,
		Path:   path("audio-settings"),
		Body:   &settings,
	}, c.timeouts.Write)
	if !res.OK() {
		return resilience.Failure[AudioSettings](res.Outcome(), res.Err())
	}

	stored := AudioSettings(res.Value())
	c.audio.Remember(userID, stored)
	return resilience.Success(stored)
}

func (c *Client) fetchAudioSettings(ctx context.Context, _ string) resilience.Result[AudioSettings] {
	res := resilience.Call[settingsPayload](ctx, c.gateway, resilience.Request{
		Path: path("audio-settings"),
	}, c.timeouts.Read)
	if !res.OK() {
		return resilience.Failure[AudioSettings](res.Outcome(), res.Err())
	}
	return resilience.Success(AudioSettings(res.Value()))
}

func defaultSettingsFallback(context.Context, string) (AudioSettings, bool) {
	return DefaultAudioSettings(), true
}
