package mailer

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"coursemail/internal/model"

	"github.com/Masterminds/sprig/v3"
)

//go:embed templates/*.html
var templateFS embed.FS

type VerificationData struct {
	Name             string
	Link             string
	ExpiresInMinutes int
}

type PasswordResetData struct {
	Name             string
	Link             string
	ExpiresInMinutes int
}

type PaymentData struct {
	Name       string
	CourseName string
	BatchName  string
	Amount     float64
	Currency   string
	Status     string
	Reference  string
}

type EnrollmentData struct {
	Name       string
	CourseName string
	BatchName  string
	ClassName  string
	StartDate  time.Time
}

var templateFiles = map[model.EmailType]string{
	model.EmailTypeVerification:           "verification.html",
	model.EmailTypeVerificationResend:     "verification.html",
	model.EmailTypePasswordReset:          "password_reset.html",
	model.EmailTypePaymentNotification:    "payment_notification.html",
	model.EmailTypeEnrollmentConfirmation: "enrollment_confirmation.html",
}

var subjectTemplates = map[model.EmailType]string{
	model.EmailTypeVerification:           `[{{.Brand}}] Verify your email`,
	model.EmailTypeVerificationResend:     `[{{.Brand}}] Your new verification link`,
	model.EmailTypePasswordReset:          `[{{.Brand}}] Reset your password`,
	model.EmailTypePaymentNotification:    `[{{.Brand}}] Payment {{.D.Status | lower}}: {{.D.CourseName}}`,
	model.EmailTypeEnrollmentConfirmation: `[{{.Brand}}] Enrollment confirmed: {{.D.CourseName}}`,
}

type templateData struct {
	Brand string
	D     any
}

// Renderer turns typed template data into subject and HTML body.
type Renderer struct {
	brand    string
	bodies   map[model.EmailType]*htmltemplate.Template
	subjects map[model.EmailType]*texttemplate.Template
}

func NewRenderer(brand string) (*Renderer, error) {
	if brand == "" {
		brand = "Course Enrollment"
	}
	layout, err := htmltemplate.New("layout.html").Funcs(sprig.FuncMap()).ParseFS(templateFS, "templates/layout.html")
	if err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}

	r := &Renderer{
		brand:    brand,
		bodies:   make(map[model.EmailType]*htmltemplate.Template),
		subjects: make(map[model.EmailType]*texttemplate.Template),
	}
	for typ, file := range templateFiles {
		base, err := layout.Clone()
		if err != nil {
			return nil, fmt.Errorf("clone layout: %w", err)
		}
		body, err := base.ParseFS(templateFS, "templates/"+file)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", file, err)
		}
		r.bodies[typ] = body

		subject, err := texttemplate.New(string(typ)).Funcs(sprig.TxtFuncMap()).Parse(subjectTemplates[typ])
		if err != nil {
			return nil, fmt.Errorf("parse subject for %s: %w", typ, err)
		}
		r.subjects[typ] = subject
	}
	return r, nil
}

// Render executes the templates registered for typ.
func (r *Renderer) Render(typ model.EmailType, data any) (subject string, html string, err error) {
	body, ok := r.bodies[typ]
	if !ok {
		return "", "", fmt.Errorf("no template for email type %s", typ)
	}
	td := templateData{Brand: r.brand, D: data}

	var sb strings.Builder
	if err := r.subjects[typ].Execute(&sb, td); err != nil {
		return "", "", fmt.Errorf("render subject: %w", err)
	}

	var buf bytes.Buffer
	if err := body.ExecuteTemplate(&buf, "layout.html", td); err != nil {
		return "", "", fmt.Errorf("render body: %w", err)
	}
	return strings.TrimSpace(sb.String()), buf.String(), nil
}
