// Package delivery sends ticket email to large recipient sets in fixed-size
// batches, streaming progress to the caller after every batch.
package delivery

import (
	"bytes"
	"context"
	"fmt"
	"text/template"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gatepass/backend/internal/apperr"
	"github.com/gatepass/backend/internal/models"
)

// Event types on the progress stream.
const (
	EventProgress = "progress"
	EventComplete = "complete"
	EventError    = "error"
)

// Event is one notification on the delivery stream.
type Event struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// RecipientOutcome is the per-recipient result within one batch.
type RecipientOutcome struct {
	RegistrationID uuid.UUID `json:"registration_id"`
	Email          string    `json:"email"`
	Status         string    `json:"status"`
	Error          string    `json:"error,omitempty"`
}

// Progress is the payload of a per-batch progress event. Counts are cumulative
// over the run; sent+failed always equals processed.
type Progress struct {
	Batch     int                `json:"batch"`
	Batches   int                `json:"batches"`
	Processed int                `json:"processed"`
	Sent      int                `json:"sent"`
	Failed    int                `json:"failed"`
	Total     int                `json:"total"`
	Outcomes  []RecipientOutcome `json:"outcomes"`
}

// Summary is the payload of the terminal complete event.
type Summary struct {
	Processed int `json:"processed"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
}

// Store is the registration persistence the pipeline needs.
type Store interface {
	ListUnsent(ctx context.Context, eventID uuid.UUID, limit int) ([]models.Registration, error)
	ListByIDs(ctx context.Context, eventID uuid.UUID, ids []uuid.UUID) ([]models.Registration, error)
	MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkDeliveryFailed(ctx context.Context, id uuid.UUID, reason string) error
}

// TokenAssigner ensures a registration has its ticket token.
type TokenAssigner interface {
	EnsureToken(ctx context.Context, reg *models.Registration) (string, error)
}

// Renderer produces the ticket artifact for one recipient.
type Renderer interface {
	RenderAndStore(ctx context.Context, ev *models.Event, reg *models.Registration, token string) (png []byte, s3Key string, err error)
}

// Sender dispatches one message.
type Sender interface {
	Send(to, subject, htmlBody string, attachment []byte, filename string) error
}

// AuditLog records each dispatch attempt.
type AuditLog interface {
	Record(ctx context.Context, log *models.EmailLog) error
}

// Default mail templates; per-attendee fields are substituted per recipient.
const (
	DefaultSubject = `Your ticket for {{.EventName}}`
	DefaultBody    = `<p>Hi {{.Name}},</p>
<p>Your ticket for <b>{{.EventName}}</b>{{if .Venue}} at {{.Venue}}{{end}} is attached.
Registration number: <b>{{.RegNo}}</b>.</p>
<p>Present the QR code at the entrance. See you on {{.StartsAt}}.</p>`
)

// templateVars are the substitution variables available to mail templates.
type templateVars struct {
	Name      string
	RegNo     string
	Email     string
	EventName string
	Venue     string
	StartsAt  string
}

// Selection picks the recipient set. IDs takes precedence; otherwise Limit>0
// means "next N unsent" and Limit<=0 means "all unsent".
type Selection struct {
	IDs   []uuid.UUID
	Limit int
}

// Options configures one pipeline run. Callers are expected to clamp
// BatchSize and Delay (see Clamp helpers) before constructing Options.
type Options struct {
	BatchSize int
	Delay     time.Duration
	Selection Selection
}

// ClampBatchSize bounds a requested batch size to [min, max]; zero requests
// fall back to def.
func ClampBatchSize(n, def, min, max int) int {
	if n == 0 {
		n = def
	}
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

// ClampDelay bounds a requested inter-batch delay to [min, max]; zero falls
// back to def.
func ClampDelay(d, def, min, max time.Duration) time.Duration {
	if d == 0 {
		d = def
	}
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}

// Pipeline delivers ticket email in batches.
type Pipeline struct {
	store    Store
	assigner TokenAssigner
	renderer Renderer
	sender   Sender
	audit    AuditLog
	logger   *zap.Logger

	subjectTpl *template.Template
	bodyTpl    *template.Template
}

// NewPipeline creates a delivery pipeline with the default mail templates.
func NewPipeline(store Store, assigner TokenAssigner, renderer Renderer, sender Sender, audit AuditLog, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		store:      store,
		assigner:   assigner,
		renderer:   renderer,
		sender:     sender,
		audit:      audit,
		logger:     logger,
		subjectTpl: template.Must(template.New("subject").Parse(DefaultSubject)),
		bodyTpl:    template.Must(template.New("body").Parse(DefaultBody)),
	}
}

// Run starts delivery and returns the notification stream. The stream carries
// one progress event per completed batch and exactly one terminal complete or
// error event, then closes. Sends are non-blocking: an abandoned consumer
// stops receiving notifications while delivery runs to completion, so ctx
// should outlive the originating request.
func (p *Pipeline) Run(ctx context.Context, ev *models.Event, opts Options) <-chan Event {
	ch := make(chan Event, 32)
	go p.run(ctx, ev, opts, ch)
	return ch
}

func (p *Pipeline) run(ctx context.Context, ev *models.Event, opts Options, ch chan<- Event) {
	defer close(ch)
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("delivery pipeline panic", zap.Any("panic", r), zap.String("event_id", ev.ID.String()))
			emit(ch, Event{Type: EventError, Data: map[string]string{"error": fmt.Sprint(r)}})
		}
	}()

	recipients, err := p.selectRecipients(ctx, ev.ID, opts.Selection)
	if err != nil {
		p.logger.Error("recipient selection failed", zap.Error(err), zap.String("event_id", ev.ID.String()))
		emit(ch, Event{Type: EventError, Data: map[string]string{"error": "failed to load recipients"}})
		return
	}

	total := len(recipients)
	batches := 0
	if opts.BatchSize > 0 {
		batches = (total + opts.BatchSize - 1) / opts.BatchSize
	}
	p.logger.Info("delivery started",
		zap.String("event_id", ev.ID.String()),
		zap.Int("recipients", total),
		zap.Int("batch_size", opts.BatchSize),
		zap.Duration("delay", opts.Delay))

	var processed, sent, failed int
	for b := 0; b < batches; b++ {
		start := b * opts.BatchSize
		end := start + opts.BatchSize
		if end > total {
			end = total
		}
		batch := recipients[start:end]

		outcomes := make([]RecipientOutcome, 0, len(batch))
		for i := range batch {
			reg := &batch[i]
			outcome := RecipientOutcome{RegistrationID: reg.ID, Email: reg.Email, Status: models.DeliveryStateSent}
			if err := p.deliverOne(ctx, ev, reg); err != nil {
				outcome.Status = models.DeliveryStateFailed
				outcome.Error = err.Error()
				failed++
			} else {
				sent++
			}
			processed++
			outcomes = append(outcomes, outcome)
		}

		emit(ch, Event{Type: EventProgress, Data: Progress{
			Batch:     b + 1,
			Batches:   batches,
			Processed: processed,
			Sent:      sent,
			Failed:    failed,
			Total:     total,
			Outcomes:  outcomes,
		}})

		if b < batches-1 && opts.Delay > 0 {
			time.Sleep(opts.Delay)
		}
	}

	p.logger.Info("delivery finished",
		zap.String("event_id", ev.ID.String()),
		zap.Int("sent", sent), zap.Int("failed", failed))
	emit(ch, Event{Type: EventComplete, Data: Summary{Processed: processed, Sent: sent, Failed: failed}})
}

func (p *Pipeline) selectRecipients(ctx context.Context, eventID uuid.UUID, sel Selection) ([]models.Registration, error) {
	if len(sel.IDs) > 0 {
		return p.store.ListByIDs(ctx, eventID, sel.IDs)
	}
	return p.store.ListUnsent(ctx, eventID, sel.Limit)
}

// deliverOne processes a single recipient end to end. Every failure is caught
// here and turned into persisted per-recipient state; the registration is
// fully committed before the function returns, so an abandoned stream never
// leaves a recipient half-written.
func (p *Pipeline) deliverOne(ctx context.Context, ev *models.Event, reg *models.Registration) error {
	err := p.send(ctx, ev, reg)
	if err != nil {
		if markErr := p.store.MarkDeliveryFailed(ctx, reg.ID, err.Error()); markErr != nil {
			p.logger.Error("mark failed state", zap.Error(markErr), zap.String("registration_id", reg.ID.String()))
		}
		p.recordLog(ctx, ev, reg, models.EmailLogStatusFailed, "", err)
		return err
	}
	now := time.Now()
	if markErr := p.store.MarkDelivered(ctx, reg.ID, now); markErr != nil {
		p.logger.Error("mark sent state", zap.Error(markErr), zap.String("registration_id", reg.ID.String()))
	}
	p.recordLog(ctx, ev, reg, models.EmailLogStatusSent, "", nil)
	return nil
}

func (p *Pipeline) send(ctx context.Context, ev *models.Event, reg *models.Registration) error {
	token, err := p.assigner.EnsureToken(ctx, reg)
	if err != nil {
		return &apperr.DependencyError{Stage: "assign token", Err: err}
	}
	png, _, err := p.renderer.RenderAndStore(ctx, ev, reg, token)
	if err != nil {
		return &apperr.DependencyError{Stage: "render ticket", Err: err}
	}
	subject, body, err := p.renderMail(ev, reg)
	if err != nil {
		return &apperr.DependencyError{Stage: "render mail", Err: err}
	}
	if err := p.sender.Send(reg.Email, subject, body, png, "ticket.png"); err != nil {
		return &apperr.DependencyError{Stage: "dispatch", Err: err}
	}
	return nil
}

func (p *Pipeline) renderMail(ev *models.Event, reg *models.Registration) (subject, body string, err error) {
	vars := templateVars{
		Name:      reg.Name,
		RegNo:     reg.RegNo,
		Email:     reg.Email,
		EventName: ev.Name,
		Venue:     ev.Venue,
		StartsAt:  ev.StartsAt.Format("Mon, 2 Jan 2006 15:04"),
	}
	var sb, bb bytes.Buffer
	if err := p.subjectTpl.Execute(&sb, vars); err != nil {
		return "", "", err
	}
	if err := p.bodyTpl.Execute(&bb, vars); err != nil {
		return "", "", err
	}
	return sb.String(), bb.String(), nil
}

func (p *Pipeline) recordLog(ctx context.Context, ev *models.Event, reg *models.Registration, status, subject string, cause error) {
	if p.audit == nil {
		return
	}
	log := &models.EmailLog{
		EventID:        &ev.ID,
		RegistrationID: &reg.ID,
		EmailType:      models.EmailTypeTicket,
		RecipientEmail: reg.Email,
		Subject:        subject,
		Status:         status,
	}
	if status == models.EmailLogStatusSent {
		now := time.Now()
		log.SentAt = &now
	}
	if cause != nil {
		log.ErrorMessage = cause.Error()
	}
	if err := p.audit.Record(ctx, log); err != nil {
		p.logger.Warn("email log write failed", zap.Error(err), zap.String("registration_id", reg.ID.String()))
	}
}

// emit pushes without blocking; notifications are dropped once the consumer
// stops draining the channel.
func emit(ch chan<- Event, ev Event) {
	select {
	case ch <- ev:
	default:
	}
}
