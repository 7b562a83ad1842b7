package magdee_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/JohnPlummer/magdee-client/magdee"
	"github.com/JohnPlummer/magdee-client/resilience"
	"github.com/JohnPlummer/magdee-client/session"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func signedIn() *session.Session {
	return &session.Session{
		AccessToken: "token-u1",
		User: session.User{
			ID:    "u1",
			Email: "ada@magdee.test",
			UserMetadata: session.UserMetadata{
				FullName:  "Ada Lovelace",
				Username:  "ada",
				AvatarURL: "https://cdn.magdee.test/ada.png",
			},
		},
	}
}

func expectValidation(err error, field string) {
	GinkgoHelper()
	var validationErr *resilience.ValidationError
	Expect(errors.As(err, &validationErr)).To(BeTrue(), "expected a validation error, got %v", err)
	Expect(validationErr.Field).To(Equal(field))
}

var _ = Describe("Client", func() {
	var (
		server   *ghttp.Server
		monitor  *resilience.HealthMonitor
		store    *session.Store
		registry *resilience.Registry
		client   *magdee.Client
		ctx      context.Context
	)

	BeforeEach(func() {
		ctx = context.Background()
		server = ghttp.NewServer()

		// A frozen clock keeps every health mark inside the debounce window.
		frozen := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
		monitor = resilience.NewHealthMonitor(nil, server.URL()+"/health",
			resilience.WithHealthClock(func() time.Time { return frozen }),
			resilience.WithHealthLogger(discardLogger),
		)
		monitor.MarkHealthy()

		store = session.NewStore(session.WithLogger(discardLogger))
		store.Set(session.EventSignedIn, signedIn())

		gateway, err := resilience.NewGateway(server.URL()+"/api", monitor, store,
			resilience.WithGatewayLogger(discardLogger))
		Expect(err).NotTo(HaveOccurred())

		registry = resilience.NewRegistry(resilience.WithCircuitBreakerLogger(discardLogger))
		client, err = magdee.New(gateway, store,
			magdee.WithLogger(discardLogger),
			magdee.WithRegistry(registry),
			magdee.WithTimeouts(magdee.Timeouts{Read: time.Second}),
		)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		client.Close()
		server.Close()
	})

	Describe("Profile", func() {
		It("should load the profile nested under a profile key", func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodGet, "/api/users/u1/profile"),
				ghttp.VerifyHeaderKV("Authorization", "Bearer token-u1"),
				ghttp.RespondWith(http.StatusOK,
					`{"success":true,"profile":{"id":"u1","name":"Ada","email":"ada@magdee.test","books_count":4}}`),
			))

			res := client.Profile(ctx)

			Expect(res.Err()).NotTo(HaveOccurred())
			Expect(res.Degraded()).To(BeFalse())
			Expect(res.Value().Name).To(Equal("Ada"))
			Expect(res.Value().BooksCount).To(Equal(4))
			Expect(res.Value().Synthesized).To(BeFalse())
		})

		It("should derive a profile from the session while the API is down", func() {
			monitor.MarkUnhealthy()

			res := client.Profile(ctx)

			Expect(res.OK()).To(BeTrue())
			Expect(res.Degraded()).To(BeTrue())
			Expect(res.Cause()).To(BeIdenticalTo(resilience.ErrServiceUnavailable))
			profile := res.Value()
			Expect(profile.Synthesized).To(BeTrue())
			Expect(profile.ID).To(Equal("u1"))
			Expect(profile.Name).To(Equal("Ada Lovelace"))
			Expect(profile.Email).To(Equal("ada@magdee.test"))
			Expect(profile.AvatarURL).To(Equal("https://cdn.magdee.test/ada.png"))
			Expect(server.ReceivedRequests()).To(BeEmpty())
		})

		It("should serve the last known profile while the API is down", func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusOK, `{"data":{"id":"u1","name":"Ada (live)"}}`))
			Expect(client.Profile(ctx).Value().Name).To(Equal("Ada (live)"))

			monitor.MarkUnhealthy()
			res := client.Profile(ctx)

			Expect(res.Degraded()).To(BeTrue())
			Expect(res.Value().Name).To(Equal("Ada (live)"))
			Expect(res.Value().Synthesized).To(BeFalse())
		})

		It("should forget cached profiles on sign-out", func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusOK, `{"id":"u1","name":"Ada (live)"}`))
			client.Profile(ctx)

			store.Clear()
			store.Set(session.EventSignedIn, signedIn())
			monitor.MarkUnhealthy()

			Expect(client.Profile(ctx).Value().Synthesized).To(BeTrue())
		})

		It("should surface API errors", func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusNotFound, `{"detail":"User profile not found"}`))

			res := client.Profile(ctx)

			Expect(res.Err()).To(MatchError("User profile not found"))
		})

		It("should be unauthenticated when signed out", func() {
			store.Clear()

			res := client.Profile(ctx)

			Expect(res.Err()).To(BeIdenticalTo(resilience.ErrUnauthenticated))
			Expect(server.ReceivedRequests()).To(BeEmpty())
		})

		It("should validate and apply updates", func() {
			res := client.UpdateProfile(ctx, magdee.ProfileUpdate{Email: "not-an-email"})
			expectValidation(res.Err(), "email")

			res = client.UpdateProfile(ctx, magdee.ProfileUpdate{
				Preferences: &magdee.AudioSettings{AudioSpeed: 9},
			})
			expectValidation(res.Err(), "preferences.audio_speed")
			Expect(server.ReceivedRequests()).To(BeEmpty())

			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPut, "/api/users/u1/profile"),
				ghttp.VerifyJSON(`{"name":"Countess"}`),
				ghttp.RespondWith(http.StatusOK, `{"success":true,"profile":{"id":"u1","name":"Countess"}}`),
			))
			res = client.UpdateProfile(ctx, magdee.ProfileUpdate{Name: "Countess"})
			Expect(res.Err()).NotTo(HaveOccurred())
			Expect(res.Value().Name).To(Equal("Countess"))

			monitor.MarkUnhealthy()
			Expect(client.Profile(ctx).Value().Name).To(Equal("Countess"))
		})

		It("should upload a picture", func() {
			res := client.UpdateProfilePicture(ctx, magdee.Picture{FileName: "ada.gif", ContentType: "image/gif", Data: []byte{1}})
			expectValidation(res.Err(), "content_type")

			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/api/users/u1/profile/picture"),
				ghttp.VerifyJSON(`{"file_name":"ada.png","content_type":"image/png","data":"AQID"}`),
				ghttp.RespondWith(http.StatusOK, `{"id":"u1","avatar_url":"https://cdn.magdee.test/new.png"}`),
			))

			res = client.UpdateProfilePicture(ctx, magdee.Picture{
				FileName:    "ada.png",
				ContentType: "image/png",
				Data:        []byte{1, 2, 3},
			})
			Expect(res.Err()).NotTo(HaveOccurred())
			Expect(res.Value().AvatarURL).To(Equal("https://cdn.magdee.test/new.png"))
		})
	})

	Describe("Books", func() {
		It("should list books from either response shape", func() {
			server.AppendHandlers(
				ghttp.RespondWith(http.StatusOK, `{"success":true,"books":[{"id":"b1","title":"Dune"}],"total":1}`),
			)
			res := client.Books(ctx)
			Expect(res.Err()).NotTo(HaveOccurred())
			Expect(res.Value()).To(HaveLen(1))
			Expect(res.Value()[0].Title).To(Equal("Dune"))
		})

		It("should call the API again while it is healthy", func() {
			server.AppendHandlers(
				ghttp.RespondWith(http.StatusOK, `[{"id":"b1","title":"Dune"}]`),
				ghttp.RespondWith(http.StatusOK, `[]`),
			)

			client.Books(ctx)
			res := client.Books(ctx)

			Expect(res.Degraded()).To(BeFalse())
			Expect(res.Value()).To(BeEmpty())
			Expect(server.ReceivedRequests()).To(HaveLen(2))
		})

		It("should accept a bare array", func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusOK, `[{"id":"b1","title":"Dune"},{"id":"b2","title":"Emma"}]`))

			Expect(client.Books(ctx).Value()).To(HaveLen(2))
		})

		It("should validate uploads before sending", func() {
			res := client.CreateBook(ctx, magdee.NewBook{FileName: "dune.pdf", ContentType: "application/pdf", Data: []byte("%PDF")})
			expectValidation(res.Err(), "title")

			res = client.CreateBook(ctx, magdee.NewBook{Title: "Dune", ContentType: "application/pdf", Data: []byte("%PDF")})
			expectValidation(res.Err(), "file_name")

			res = client.CreateBook(ctx, magdee.NewBook{Title: "Dune", FileName: "dune.pdf", ContentType: "application/pdf"})
			expectValidation(res.Err(), "data")

			Expect(res.Outcome()).To(Equal(resilience.OutcomeInvalidInput))
			Expect(server.ReceivedRequests()).To(BeEmpty())
		})

		It("should create a book", func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/api/books"),
				ghttp.RespondWith(http.StatusCreated, `{"data":{"id":"b9","title":"Dune","conversion_status":"pending"}}`),
			))

			res := client.CreateBook(ctx, magdee.NewBook{
				Title:       "Dune",
				FileName:    "dune.pdf",
				ContentType: "application/pdf",
				Data:        []byte("%PDF-1.7"),
			})

			Expect(res.Err()).NotTo(HaveOccurred())
			Expect(res.Value().ID).To(Equal("b9"))
			Expect(res.Value().ConversionStatus).To(Equal("pending"))
		})

		It("should delete a book", func() {
			Expect(client.DeleteBook(ctx, "").Err()).To(HaveOccurred())

			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodDelete, "/api/books/b1"),
				ghttp.RespondWith(http.StatusNoContent, ""),
			))
			Expect(client.DeleteBook(ctx, "b1").Err()).NotTo(HaveOccurred())
		})

		It("should drop a deleted book from the cached list", func() {
			server.AppendHandlers(
				ghttp.RespondWith(http.StatusOK, `[{"id":"b1","title":"Dune"}]`),
				ghttp.RespondWith(http.StatusNoContent, ""),
			)
			client.Books(ctx)
			client.DeleteBook(ctx, "b1")

			monitor.MarkUnhealthy()
			res := client.Books(ctx)
			Expect(res.Degraded()).To(BeTrue())
			Expect(res.Value()).To(BeEmpty())
		})

		It("should validate and store progress", func() {
			res := client.UpdateProgress(ctx, "b1", magdee.Progress{Percent: 120})
			expectValidation(res.Err(), "percent")

			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPut, "/api/books/b1/progress"),
				ghttp.VerifyJSON(`{"percent":42.5,"position_seconds":900}`),
				ghttp.RespondWith(http.StatusOK, `{"success":true}`),
			))

			res = client.UpdateProgress(ctx, "b1", magdee.Progress{Percent: 42.5, PositionSeconds: 900})
			Expect(res.Err()).NotTo(HaveOccurred())
			Expect(res.Value().BookID).To(Equal("b1"))
			Expect(res.Value().Percent).To(Equal(42.5))
		})

		It("should open the books breaker after repeated failures", func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, ""))

			first := client.Books(ctx)
			Expect(first.Err()).To(MatchError("HTTP 500"))

			// The failed call marked the API down, so the next calls short-circuit.
			for range 2 {
				res := client.Books(ctx)
				Expect(res.Err()).NotTo(HaveOccurred())
				Expect(res.Degraded()).To(BeTrue())
				Expect(res.Cause()).To(BeIdenticalTo(resilience.ErrServiceUnavailable))
			}
			res := client.Books(ctx)

			Expect(res.Outcome()).To(Equal(resilience.OutcomeCircuitOpen))
			Expect(res.Err()).NotTo(HaveOccurred())
			Expect(res.Value()).To(BeEmpty())
			Expect(registry.Get(magdee.CapabilityBooks).State()).To(Equal(resilience.StateOpen))
			Expect(server.ReceivedRequests()).To(HaveLen(1))
		})
	})

	Describe("Notifications", func() {
		It("should list notifications", func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodGet, "/api/notifications"),
				ghttp.RespondWith(http.StatusOK, `{"notifications":[{"id":"n1","title":"Your audiobook is ready","read":false}]}`),
			))

			res := client.Notifications(ctx)

			Expect(res.Value()).To(HaveLen(1))
			Expect(res.Value()[0].Title).To(Equal("Your audiobook is ready"))
		})

		It("should create a notification", func() {
			res := client.CreateNotification(ctx, magdee.NewNotification{Title: "Hi", Type: "shout"})
			expectValidation(res.Err(), "type")

			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/api/notifications"),
				ghttp.VerifyJSON(`{"title":"Hi","type":"info"}`),
				ghttp.RespondWith(http.StatusCreated, `{"id":"n2","title":"Hi","type":"info"}`),
			))
			res = client.CreateNotification(ctx, magdee.NewNotification{Title: "Hi", Type: "info"})
			Expect(res.Value().ID).To(Equal("n2"))
		})

		It("should mark a notification read", func() {
			expectValidation(client.MarkNotificationRead(ctx, "").Err(), "notification_id")

			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPut, "/api/notifications/n1/read"),
				ghttp.RespondWith(http.StatusOK, `{"success":true}`),
			))
			Expect(client.MarkNotificationRead(ctx, "n1").Err()).NotTo(HaveOccurred())
		})
	})

	Describe("Analytics", func() {
		It("should read the nested summary", func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodGet, "/api/analytics"),
				ghttp.RespondWith(http.StatusOK,
					`{"success":true,"analytics":{"total_books":3,"pdf_uploads":2,"processing_status":{"completed":2}}}`),
			))

			res := client.Analytics(ctx)

			Expect(res.Value().TotalBooks).To(Equal(3))
			Expect(res.Value().ProcessingStatus).To(HaveKeyWithValue("completed", 2))
		})

		It("should record an event", func() {
			res := client.UpdateAnalytics(ctx, magdee.AnalyticsEvent{Type: "dance"})
			expectValidation(res.Err(), "type")

			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/api/analytics"),
				ghttp.VerifyJSON(`{"type":"listen","book_id":"b1","duration_seconds":600}`),
				ghttp.RespondWith(http.StatusOK, `{"analytics":{"listening_minutes":10}}`),
			))
			res = client.UpdateAnalytics(ctx, magdee.AnalyticsEvent{Type: "listen", BookID: "b1", DurationSeconds: 600})
			Expect(res.Value().ListeningMinutes).To(Equal(10))
		})
	})

	Describe("Audio settings", func() {
		It("should serve defaults while the API is down", func() {
			monitor.MarkUnhealthy()

			res := client.AudioSettings(ctx)

			Expect(res.Degraded()).To(BeTrue())
			Expect(res.Value()).To(Equal(magdee.DefaultAudioSettings()))
		})

		It("should validate and save settings", func() {
			res := client.UpdateAudioSettings(ctx, magdee.AudioSettings{Theme: "neon"})
			expectValidation(res.Err(), "theme")

			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPut, "/api/audio-settings"),
				ghttp.RespondWith(http.StatusOK, `{"preferences":{"audio_speed":1.5,"theme":"dark"}}`),
			))
			res = client.UpdateAudioSettings(ctx, magdee.AudioSettings{AudioSpeed: 1.5, Theme: "dark"})
			Expect(res.Err()).NotTo(HaveOccurred())

			monitor.MarkUnhealthy()
			Expect(client.AudioSettings(ctx).Value().AudioSpeed).To(Equal(1.5))
		})
	})

	Describe("Achievements", func() {
		It("should list achievements", func() {
			server.AppendHandlers(ghttp.RespondWith(http.StatusOK,
				`{"achievements":[{"id":"a1","title":"First book","unlocked_at":"2026-03-01T10:00:00Z"},{"id":"a2","title":"Ten hours"}]}`))

			res := client.Achievements(ctx)

			Expect(res.Value()).To(HaveLen(2))
			Expect(res.Value()[0].Unlocked()).To(BeTrue())
			Expect(res.Value()[1].Unlocked()).To(BeFalse())
		})
	})

	Describe("Reading sessions", func() {
		It("should start a session with a client id", func() {
			expectValidation(client.StartReadingSession(ctx, "").Err(), "book_id")

			var sent map[string]any
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/api/reading-sessions"),
				func(_ http.ResponseWriter, r *http.Request) {
					Expect(json.NewDecoder(r.Body).Decode(&sent)).To(Succeed())
				},
				ghttp.RespondWith(http.StatusCreated, `{"id":"rs1"}`),
			))

			res := client.StartReadingSession(ctx, "b1")

			Expect(res.Err()).NotTo(HaveOccurred())
			Expect(res.Value().ID).To(Equal("rs1"))
			Expect(res.Value().BookID).To(Equal("b1"))
			Expect(sent).To(HaveKeyWithValue("book_id", "b1"))
			Expect(uuid.Validate(sent["client_id"].(string))).To(Succeed())
			Expect(res.Value().ClientID).To(Equal(sent["client_id"]))
		})

		It("should end a session", func() {
			expectValidation(client.EndReadingSession(ctx, "", magdee.SessionEnd{}).Err(), "session_id")
			expectValidation(client.EndReadingSession(ctx, "rs1", magdee.SessionEnd{PositionSeconds: -1}).Err(), "position_seconds")

			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodPost, "/api/reading-sessions/rs1/end"),
				ghttp.RespondWith(http.StatusOK, `{"id":"rs1","book_id":"b1","duration_seconds":1200}`),
			))

			res := client.EndReadingSession(ctx, "rs1", magdee.SessionEnd{Percent: 50, PositionSeconds: 1200})

			Expect(res.Value().DurationSeconds).To(Equal(1200))
		})
	})

	Describe("Outage", func() {
		It("should answer every read with a substitute once the breakers open", func() {
			monitor.MarkUnhealthy()

			for range 4 {
				client.Books(ctx)
				client.Notifications(ctx)
				client.Analytics(ctx)
				client.Achievements(ctx)
			}

			books := client.Books(ctx)
			notifications := client.Notifications(ctx)
			analytics := client.Analytics(ctx)
			achievements := client.Achievements(ctx)

			for _, res := range []interface {
				Err() error
				Degraded() bool
				Outcome() resilience.Outcome
			}{books, notifications, analytics, achievements} {
				Expect(res.Err()).NotTo(HaveOccurred())
				Expect(res.Degraded()).To(BeTrue())
				Expect(res.Outcome()).To(Equal(resilience.OutcomeCircuitOpen))
			}
			Expect(books.Value()).To(BeEmpty())
			Expect(notifications.Value()).To(BeEmpty())
			Expect(analytics.Value()).To(Equal(magdee.Analytics{}))
			Expect(achievements.Value()).To(BeEmpty())
			Expect(server.ReceivedRequests()).To(BeEmpty())
		})
	})

	Describe("Health", func() {
		It("should probe when forced and list every capability breaker", func() {
			server.AppendHandlers(ghttp.CombineHandlers(
				ghttp.VerifyRequest(http.MethodGet, "/health"),
				ghttp.RespondWith(http.StatusOK, `{"status":"healthy","environment":"production"}`),
			))

			diag := client.Health(ctx, true)

			Expect(diag.Online).To(BeTrue())
			Expect(diag.API.Report.Environment).To(Equal("production"))
			names := make([]string, 0, len(diag.Breakers))
			for _, b := range diag.Breakers {
				names = append(names, b.Name)
				Expect(b.Healthy).To(BeTrue())
			}
			Expect(names).To(Equal([]string{
				magdee.CapabilityAchievements,
				magdee.CapabilityAnalytics,
				magdee.CapabilityAudioSettings,
				magdee.CapabilityBooks,
				magdee.CapabilityNotifications,
				magdee.CapabilityProfile,
			}))
		})

		It("should report offline without probing inside the window", func() {
			monitor.MarkUnhealthy()

			diag := client.Health(ctx, false)

			Expect(diag.Online).To(BeFalse())
			Expect(server.ReceivedRequests()).To(BeEmpty())
		})
	})
})
