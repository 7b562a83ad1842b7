package magdee

import (
	"bytes"
	"encoding/json"
	"time"
)

// Profile is the user profile served by the API.
type Profile struct {
	UpdatedAt   time.Time      `json:"updated_at,omitzero"`
	Preferences *AudioSettings `json:"preferences,omitempty"`
	ID          string         `json:"id"`
	Email       string         `json:"email,omitempty"`
	Name        string         `json:"name,omitempty"`
	Username    string         `json:"username,omitempty"`
	AvatarURL   string         `json:"avatar_url,omitempty"`
	BooksCount  int            `json:"books_count,omitempty"`

	// Synthesized marks a profile derived locally from the session rather than served by the API.
	Synthesized bool `json:"-"`
}

// ProfileUpdate is a partial profile change. Empty fields are left untouched.
type ProfileUpdate struct {
	Preferences *AudioSettings `json:"preferences,omitempty"`
	Name        string         `json:"name,omitempty" validate:"omitempty,max=100"`
	Username    string         `json:"username,omitempty" validate:"omitempty,min=3,max=30"`
	Email       string         `json:"email,omitempty" validate:"omitempty,email"`
	AvatarURL   string         `json:"avatar_url,omitempty" validate:"omitempty,url"`
}

// Picture is an image upload for the profile avatar. Data is sent base64-encoded.
type Picture struct {
	FileName    string `json:"file_name" validate:"required"`
	ContentType string `json:"content_type" validate:"required,oneof=image/jpeg image/png image/webp"`
	Data        []byte `json:"data" validate:"required,min=1,max=5242880"`
}

// Book is an uploaded PDF and its audiobook conversion.
type Book struct {
	CreatedAt        time.Time `json:"created_at,omitzero"`
	ID               string    `json:"id"`
	Title            string    `json:"title"`
	Author           string    `json:"author,omitempty"`
	CoverURL         string    `json:"cover_url,omitempty"`
	AudioURL         string    `json:"audio_url,omitempty"`
	ConversionStatus string    `json:"conversion_status,omitempty"`
	Progress         float64   `json:"progress,omitempty"`
	DurationSeconds  int       `json:"duration_seconds,omitempty"`
}

// NewBook is a PDF upload. Data is sent base64-encoded.
type NewBook struct {
	Title       string `json:"title" validate:"required,max=200"`
	Author      string `json:"author,omitempty" validate:"omitempty,max=200"`
	FileName    string `json:"file_name" validate:"required"`
	ContentType string `json:"content_type" validate:"required,oneof=application/pdf"`
	Data        []byte `json:"data" validate:"required,min=1"`
}

// Progress is a listening position update for a book.
type Progress struct {
	Percent         float64 `json:"percent" validate:"gte=0,lte=100"`
	PositionSeconds int     `json:"position_seconds" validate:"gte=0"`
}

// BookProgress is the stored listening position for a book.
type BookProgress struct {
	UpdatedAt       time.Time `json:"updated_at,omitzero"`
	BookID          string    `json:"book_id"`
	Percent         float64   `json:"percent"`
	PositionSeconds int       `json:"position_seconds"`
}

// Notification is an in-app message.
type Notification struct {
	CreatedAt time.Time `json:"created_at,omitzero"`
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Message   string    `json:"message,omitempty"`
	Type      string    `json:"type,omitempty"`
	Read      bool      `json:"read"`
}

// NewNotification creates a notification for the signed-in user.
type NewNotification struct {
	Title   string `json:"title" validate:"required,max=120"`
	Message string `json:"message,omitempty" validate:"omitempty,max=1000"`
	Type    string `json:"type,omitempty" validate:"omitempty,oneof=info success warning error"`
}

// Analytics summarizes the user's listening activity.
type Analytics struct {
	ProcessingStatus   map[string]int `json:"processing_status,omitempty"`
	DailyActivity      map[string]int `json:"daily_activity,omitempty"`
	TotalBooks         int            `json:"total_books"`
	TotalActivities    int            `json:"total_activities"`
	PDFUploads         int            `json:"pdf_uploads"`
	ProfileViews       int            `json:"profile_views"`
	ListeningMinutes   int            `json:"listening_minutes"`
	BooksCompleted     int            `json:"books_completed"`
	CurrentStreakDays  int            `json:"current_streak_days"`
	PreferencesUpdates int            `json:"preferences_updates"`
}

// AnalyticsEvent records one activity.
type AnalyticsEvent struct {
	Metadata        map[string]string `json:"metadata,omitempty"`
	Type            string            `json:"type" validate:"required,oneof=listen pdf_upload book_completed profile_access preferences_update"`
	BookID          string            `json:"book_id,omitempty"`
	DurationSeconds int               `json:"duration_seconds,omitempty" validate:"gte=0"`
}

// AudioSettings are the playback preferences.
type AudioSettings struct {
	NotificationPreferences map[string]bool `json:"notification_preferences,omitempty"`
	AutoPlayNext            *bool           `json:"auto_play_next,omitempty"`
	VoiceType               string          `json:"voice_type,omitempty"`
	Language                string          `json:"language,omitempty" validate:"omitempty,bcp47_language_tag"`
	Theme                   string          `json:"theme,omitempty" validate:"omitempty,oneof=light dark system"`
	AudioSpeed              float64         `json:"audio_speed,omitempty" validate:"omitempty,gte=0.5,lte=3"`
}

// DefaultAudioSettings is served when no settings are known and the API is unavailable.
func DefaultAudioSettings() AudioSettings {
	autoPlay := true
	return AudioSettings{
		AudioSpeed:   1.0,
		VoiceType:    "default",
		Language:     "en",
		Theme:        "system",
		AutoPlayNext: &autoPlay,
	}
}

// Achievement is a badge the user has earned or is working towards.
type Achievement struct {
	UnlockedAt  *time.Time `json:"unlocked_at,omitempty"`
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Icon        string     `json:"icon,omitempty"`
	Progress    float64    `json:"progress,omitempty"`
}

// Unlocked reports whether the achievement has been earned.
func (a Achievement) Unlocked() bool {
	return a.UnlockedAt != nil
}

// ReadingSession is one continuous listening period.
type ReadingSession struct {
	StartedAt       time.Time  `json:"started_at"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	ID              string     `json:"id"`
	ClientID        string     `json:"client_id,omitempty"`
	BookID          string     `json:"book_id"`
	DurationSeconds int        `json:"duration_seconds,omitempty"`
}

// SessionEnd closes a reading session at a listening position.
type SessionEnd struct {
	Percent         float64 `json:"percent" validate:"gte=0,lte=100"`
	PositionSeconds int     `json:"position_seconds" validate:"gte=0"`
}

// The API answers some endpoints with the value nested under a named key, e.g.
// {"success": true, "profile": {...}}. The payload types below accept that shape as well as
// the bare value.

type profilePayload Profile

func (p *profilePayload) UnmarshalJSON(data []byte) error {
	return unmarshalNested(data, "profile", (*Profile)(p))
}

type analyticsPayload Analytics

func (p *analyticsPayload) UnmarshalJSON(data []byte) error {
	return unmarshalNested(data, "analytics", (*Analytics)(p))
}

type settingsPayload AudioSettings

func (p *settingsPayload) UnmarshalJSON(data []byte) error {
	return unmarshalNested(data, "preferences", (*AudioSettings)(p))
}

type bookList []Book

func (l *bookList) UnmarshalJSON(data []byte) error {
	return unmarshalNested(data, "books", (*[]Book)(l))
}

type notificationList []Notification

func (l *notificationList) UnmarshalJSON(data []byte) error {
	return unmarshalNested(data, "notifications", (*[]Notification)(l))
}

type achievementList []Achievement

func (l *achievementList) UnmarshalJSON(data []byte) error {
	return unmarshalNested(data, "achievements", (*[]Achievement)(l))
}

// unmarshalNested decodes data into out, first looking for the value under key when data is
// an object that has it.
func unmarshalNested(data []byte, key string, out any) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &fields); err != nil {
			return err
		}
		if inner, ok := fields[key]; ok {
			trimmed = inner
		}
	}
	return json.Unmarshal(trimmed, out)
}
