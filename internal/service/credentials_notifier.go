package service

import (
	"context"
	"fmt"
	"html/template"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/tutoring-enrollment-api/pkg/jobs"
	"github.com/noah-isme/tutoring-enrollment-api/pkg/mail"
)

// CredentialsJobType labels credential emails on the background queue.
const CredentialsJobType = "credentials_email"

type jobEnqueuer interface {
	Enqueue(job jobs.Job) error
}

type credentialsRenderer interface {
	CredentialsSheet(notice CredentialsNotice) (*ExportFile, error)
}

var credentialsTemplate = template.Must(template.New("credentials").Parse(`<p>Hola {{.GuardianName}},</p>
<p>El pago de la inscripción fue aprobado. Estos son los accesos a la plataforma:</p>
<p><strong>Usuario:</strong> {{.GuardianUsername}}{{if .TemporaryPassword}}<br><strong>Contraseña temporal:</strong> {{.TemporaryPassword}}{{end}}</p>
{{if .Students}}<ul>{{range .Students}}<li>{{.StudentName}}: usuario <strong>{{.Username}}</strong>, PIN <strong>{{.PIN}}</strong></li>{{end}}</ul>{{end}}
<p>Adjuntamos un PDF con el mismo detalle.</p>`))

// CredentialsMailer queues and delivers the post-activation email.
type CredentialsMailer struct {
	queue    jobEnqueuer
	sender   mail.Sender
	renderer credentialsRenderer
	metrics  *MetricsService
	logger   *zap.Logger
}

// NewCredentialsMailer constructs the mailer. Bind a queue before use.
func NewCredentialsMailer(sender mail.Sender, renderer credentialsRenderer, metrics *MetricsService, logger *zap.Logger) *CredentialsMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CredentialsMailer{sender: sender, renderer: renderer, metrics: metrics, logger: logger}
}

// Bind sets the queue used by NotifyCredentials.
func (m *CredentialsMailer) Bind(queue jobEnqueuer) {
	m.queue = queue
}

// NotifyCredentials enqueues the email without blocking the caller.
func (m *CredentialsMailer) NotifyCredentials(_ context.Context, notice CredentialsNotice) error {
	if m.queue == nil {
		return fmt.Errorf("credentials mailer has no queue")
	}
	return m.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    CredentialsJobType,
		Payload: notice,
	})
}

// Handle is the queue handler delivering one credentials email.
func (m *CredentialsMailer) Handle(ctx context.Context, job jobs.Job) error {
	notice, ok := job.Payload.(CredentialsNotice)
	if !ok {
		return fmt.Errorf("unexpected payload %T for job %s", job.Payload, job.ID)
	}
	if strings.TrimSpace(notice.GuardianEmail) == "" {
		m.logger.Warn("credentials email skipped, guardian has no email", zap.String("enrollment_id", notice.EnrollmentID))
		return nil
	}

	var body strings.Builder
	if err := credentialsTemplate.Execute(&body, notice); err != nil {
		return fmt.Errorf("render credentials email: %w", err)
	}
	msg := mail.Message{
		To:      []mail.Address{{Name: notice.GuardianName, Email: notice.GuardianEmail}},
		Subject: "Inscripción confirmada - credenciales de acceso",
		Text:    plainCredentials(notice),
		HTML:    body.String(),
	}

	sheet, err := m.renderer.CredentialsSheet(notice)
	if err != nil {
		return err
	}
	msg.Attachments = append(msg.Attachments, mail.Attachment{Filename: sheet.Filename, ContentType: sheet.ContentType, Content: sheet.Body})

	if err := m.sender.Send(ctx, msg); err != nil {
		return err
	}
	m.logger.Info("credentials email sent",
		zap.String("enrollment_id", notice.EnrollmentID),
		zap.Int("students", len(notice.Students)),
		zap.Int("attempt", job.Attempt))
	return nil
}

// OnResult records the final outcome of a job.
func (m *CredentialsMailer) OnResult(job jobs.Job, err error) {
	m.metrics.RecordJob(job.Type, err)
	if err != nil {
		m.logger.Error("credentials email dropped", zap.String("job_id", job.ID), zap.Error(err))
	}
}

func plainCredentials(n CredentialsNotice) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Hola %s,\n\nUsuario: %s\n", n.GuardianName, n.GuardianUsername)
	if n.TemporaryPassword != "" {
		fmt.Fprintf(&b, "Contraseña temporal: %s\n", n.TemporaryPassword)
	}
	for _, st := range n.Students {
		fmt.Fprintf(&b, "%s: usuario %s, PIN %s\n", st.StudentName, st.Username, st.PIN)
	}
	return b.String()
}
