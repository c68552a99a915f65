package email

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/kursadbilgin/webinar-reminder/internal/domain"
)

func testWebinar() domain.Webinar {
	return domain.Webinar{
		ID:              "w-1",
		Title:           "Scaling Postgres <Live>",
		Slug:            "scaling-postgres",
		StartsAt:        time.Date(2026, 3, 10, 18, 0, 0, 0, time.UTC),
		DurationMinutes: 45,
		IsActive:        true,
		MeetingURL:      "https://meet.example.com/j/123",
		MeetingID:       "123 456 789",
		MeetingPassword: "s3cret",
	}
}

func TestRendererRenderPreEvent(t *testing.T) {
	t.Parallel()

	r, err := NewRenderer("https://academy.example.com/")
	if err != nil {
		t.Fatalf("NewRenderer() error = %v", err)
	}

	w := testWebinar()
	reg := domain.Registration{Email: "ada@example.com", FullName: "Ada Lovelace"}

	msg, err := r.Render(domain.KindPreEvent, w, reg, w.StartsAt.Add(-15*time.Minute))
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	if msg.To != "ada@example.com" || msg.ToName != "Ada Lovelace" {
		t.Fatalf("recipient = %q <%s>, want Ada Lovelace <ada@example.com>", msg.ToName, msg.To)
	}
	if msg.Subject != "Starting soon: Scaling Postgres <Live>" {
		t.Fatalf("Subject = %q", msg.Subject)
	}

	for _, want := range []string{"Hi Ada Lovelace", "about 15 minutes", "https://meet.example.com/j/123", "123 456 789", "s3cret", "Tue, 10 Mar 2026 18:00 UTC"} {
		if !strings.Contains(msg.Text, want) {
			t.Fatalf("Text missing %q:\n%s", want, msg.Text)
		}
	}
	if !strings.Contains(msg.HTML, "Scaling Postgres &lt;Live&gt;") {
		t.Fatal("HTML should escape the webinar title")
	}
	if !strings.Contains(msg.HTML, "https://academy.example.com/webinars/scaling-postgres") {
		t.Fatal("HTML should link the webinar page")
	}
}

func TestRendererRenderEveryKind(t *testing.T) {
	t.Parallel()

	r, err := NewRenderer("")
	if err != nil {
		t.Fatalf("NewRenderer() error = %v", err)
	}

	recording := "https://video.example.com/rec/1"
	w := testWebinar()
	w.RecordingURL = &recording
	reg := domain.Registration{Email: "grace@example.com"}

	testCases := []struct {
		kind     domain.ReminderKind
		wantText string
	}{
		{kind: domain.KindConfirmation, wantText: "is confirmed"},
		{kind: domain.KindPreEvent, wantText: "starts in about"},
		{kind: domain.KindLiveNow, wantText: "We are live!"},
		{kind: domain.KindRecordingAvailable, wantText: recording},
	}

	for _, tc := range testCases {
		t.Run(tc.kind.String(), func(t *testing.T) {
			t.Parallel()

			msg, err := r.Render(tc.kind, w, reg, w.StartsAt)
			if err != nil {
				t.Fatalf("Render() error = %v", err)
			}
			if !strings.Contains(msg.Text, tc.wantText) {
				t.Fatalf("Text = %q, want it to contain %q", msg.Text, tc.wantText)
			}
			if !strings.Contains(msg.Text, "Hi grace@example.com") {
				t.Fatalf("Text should greet by email when no name is set: %q", msg.Text)
			}
			if msg.HTML == "" {
				t.Fatal("HTML should not be empty")
			}
			if err := msg.Validate(); err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
		})
	}
}

func TestRendererRecordingRequiresURL(t *testing.T) {
	t.Parallel()

	r, err := NewRenderer("")
	if err != nil {
		t.Fatalf("NewRenderer() error = %v", err)
	}

	_, err = r.Render(domain.KindRecordingAvailable, testWebinar(), domain.Registration{Email: "a@example.com"}, time.Now())
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("Render() error = %v, want %v", err, domain.ErrValidation)
	}
}

func TestRendererLiveNowFallsBackToWebinarPage(t *testing.T) {
	t.Parallel()

	r, err := NewRenderer("https://academy.example.com")
	if err != nil {
		t.Fatalf("NewRenderer() error = %v", err)
	}

	w := testWebinar()
	w.MeetingURL = ""

	msg, err := r.Render(domain.KindLiveNow, w, domain.Registration{Email: "a@example.com"}, w.StartsAt)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if !strings.Contains(msg.Text, "Join now: https://academy.example.com/webinars/scaling-postgres") {
		t.Fatalf("Text = %q", msg.Text)
	}
}
