package email

import (
	"bytes"
	"embed"
	"fmt"
	htmltmpl "html/template"
	"strings"
	texttmpl "text/template"
	"time"

	"github.com/kursadbilgin/webinar-reminder/internal/domain"
)

//go:embed templates/*.gohtml templates/*.txt
var templateFS embed.FS

const startsAtLayout = "Mon, 02 Jan 2006 15:04 MST"

var subjects = map[domain.ReminderKind]string{
	domain.KindConfirmation:       "You're registered: %s",
	domain.KindPreEvent:           "Starting soon: %s",
	domain.KindLiveNow:            "We're live: %s",
	domain.KindRecordingAvailable: "Recording available: %s",
}

type templateData struct {
	Webinar           domain.Webinar
	RecipientName     string
	StartsAt          string
	MinutesUntilStart int
	WebinarURL        string
	RecordingURL      string
}

type kindTemplates struct {
	html *htmltmpl.Template
	text *texttmpl.Template
}

// Renderer turns a reminder kind, webinar and registration into a Message.
// Templates are parsed once at construction.
type Renderer struct {
	siteBaseURL string
	templates   map[domain.ReminderKind]kindTemplates
}

func NewRenderer(siteBaseURL string) (*Renderer, error) {
	r := &Renderer{
		siteBaseURL: strings.TrimRight(strings.TrimSpace(siteBaseURL), "/"),
		templates:   make(map[domain.ReminderKind]kindTemplates, len(subjects)),
	}

	for kind := range subjects {
		name := kind.Label()

		html, err := htmltmpl.New(name).Option("missingkey=error").
			ParseFS(templateFS, "templates/_base.gohtml", "templates/"+name+".gohtml")
		if err != nil {
			return nil, fmt.Errorf("parse %s html template: %w", name, err)
		}
		text, err := texttmpl.New(name).Option("missingkey=error").
			ParseFS(templateFS, "templates/_base.txt", "templates/"+name+".txt")
		if err != nil {
			return nil, fmt.Errorf("parse %s text template: %w", name, err)
		}

		r.templates[kind] = kindTemplates{html: html, text: text}
	}

	return r, nil
}

// CheckRenderable reports content a kind needs but the webinar lacks.
func CheckRenderable(kind domain.ReminderKind, w domain.Webinar) error {
	if !kind.IsValid() {
		return fmt.Errorf("%w: invalid reminder kind %q", domain.ErrValidation, kind)
	}
	if kind == domain.KindRecordingAvailable && (w.RecordingURL == nil || strings.TrimSpace(*w.RecordingURL) == "") {
		return fmt.Errorf("%w: webinar %s has no recording url", domain.ErrValidation, w.ID)
	}
	return nil
}

func (r *Renderer) Render(kind domain.ReminderKind, w domain.Webinar, reg domain.Registration, now time.Time) (Message, error) {
	if err := CheckRenderable(kind, w); err != nil {
		return Message{}, err
	}
	tmpl, ok := r.templates[kind]
	if !ok {
		return Message{}, fmt.Errorf("no template for %s", kind)
	}

	data := templateData{
		Webinar:           w,
		RecipientName:     reg.DisplayName(),
		StartsAt:          w.StartsAt.UTC().Format(startsAtLayout),
		MinutesUntilStart: minutesUntil(w.StartsAt, now),
		WebinarURL:        r.webinarURL(w),
	}
	if w.RecordingURL != nil {
		data.RecordingURL = *w.RecordingURL
	}

	var html, text bytes.Buffer
	if err := tmpl.html.ExecuteTemplate(&html, "base", data); err != nil {
		return Message{}, fmt.Errorf("render %s html: %w", kind.Label(), err)
	}
	if err := tmpl.text.ExecuteTemplate(&text, "base", data); err != nil {
		return Message{}, fmt.Errorf("render %s text: %w", kind.Label(), err)
	}

	return Message{
		To:      reg.Email,
		ToName:  strings.TrimSpace(reg.FullName),
		Subject: fmt.Sprintf(subjects[kind], w.Title),
		HTML:    html.String(),
		Text:    strings.TrimSpace(text.String()),
	}, nil
}

func (r *Renderer) webinarURL(w domain.Webinar) string {
	if r.siteBaseURL == "" {
		return "/webinars/" + w.Slug
	}
	return r.siteBaseURL + "/webinars/" + w.Slug
}

func minutesUntil(startsAt, now time.Time) int {
	if now.IsZero() {
		return 0
	}
	d := startsAt.Sub(now).Round(time.Minute)
	if d < 0 {
		return 0
	}
	return int(d / time.Minute)
}
