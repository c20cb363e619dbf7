// Package worker runs the background processor for queued ticket email jobs.
package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"text/template"
	"time"

	"go.uber.org/zap"

	"github.com/gatepass/backend/internal/delivery"
	"github.com/gatepass/backend/internal/events"
	"github.com/gatepass/backend/internal/models"
	"github.com/gatepass/backend/internal/registrations"
	"github.com/gatepass/backend/internal/tickets"
	"github.com/gatepass/backend/pkg/mailer"
	"github.com/gatepass/backend/pkg/queue"
)

// TicketEmailProcessor consumes ticket email jobs from the queue and sends
// a single ticket per job. Bulk delivery goes through the streaming pipeline;
// this path serves out-of-band resends requested from the admin UI.
type TicketEmailProcessor struct {
	queue    *queue.Queue
	regs     *registrations.Repository
	events   *events.Repository
	assigner *tickets.Assigner
	renderer *tickets.Renderer
	mail     *mailer.Mailer
	audit    delivery.AuditLog
	logger   *zap.Logger

	subjectTpl *template.Template
	bodyTpl    *template.Template
}

// NewTicketEmailProcessor creates the processor.
func NewTicketEmailProcessor(
	q *queue.Queue,
	regs *registrations.Repository,
	evs *events.Repository,
	assigner *tickets.Assigner,
	renderer *tickets.Renderer,
	mail *mailer.Mailer,
	audit delivery.AuditLog,
	logger *zap.Logger,
) *TicketEmailProcessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TicketEmailProcessor{
		queue:      q,
		regs:       regs,
		events:     evs,
		assigner:   assigner,
		renderer:   renderer,
		mail:       mail,
		audit:      audit,
		logger:     logger,
		subjectTpl: template.Must(template.New("subject").Parse(delivery.DefaultSubject)),
		bodyTpl:    template.Must(template.New("body").Parse(delivery.DefaultBody)),
	}
}

// Run blocks processing jobs until ctx is cancelled.
func (p *TicketEmailProcessor) Run(ctx context.Context) {
	p.logger.Info("ticket email worker started")
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("ticket email worker stopping")
			return
		default:
		}

		job, _, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("dequeue failed", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		if err := p.process(ctx, job); err != nil {
			p.logger.Error("job failed",
				zap.String("job_id", job.ID),
				zap.Int("attempt", job.Attempt),
				zap.Error(err))
			if err := p.queue.Retry(ctx, job); err != nil {
				p.logger.Error("retry enqueue failed", zap.String("job_id", job.ID), zap.Error(err))
			}
			continue
		}
		p.logger.Info("job processed", zap.String("job_id", job.ID))
	}
}

func (p *TicketEmailProcessor) process(ctx context.Context, job *queue.Job) error {
	if job.Type != queue.JobTypeTicketEmail {
		p.logger.Warn("unknown job type dropped", zap.String("type", string(job.Type)))
		return nil
	}
	var payload queue.TicketEmailPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		p.logger.Warn("invalid job payload dropped", zap.String("job_id", job.ID), zap.Error(err))
		return nil
	}

	reg, err := p.regs.GetByID(ctx, payload.RegistrationID)
	if err != nil {
		return fmt.Errorf("load registration: %w", err)
	}
	ev, err := p.events.GetByID(ctx, payload.EventID)
	if err != nil {
		return fmt.Errorf("load event: %w", err)
	}
	if ev == nil {
		p.logger.Warn("job for missing event dropped", zap.String("event_id", payload.EventID.String()))
		return nil
	}

	emailType := payload.EmailType
	if emailType == "" {
		emailType = models.EmailTypeTicket
	}

	sendErr := p.send(ctx, ev, reg)
	p.record(ctx, ev, reg, emailType, sendErr)
	if sendErr != nil {
		if errors.Is(sendErr, mailer.ErrNotConfigured) {
			p.logger.Warn("smtp not configured, dropping job", zap.String("job_id", job.ID))
			return nil
		}
		if err := p.regs.MarkDeliveryFailed(ctx, reg.ID, sendErr.Error()); err != nil {
			p.logger.Error("mark failed state", zap.Error(err), zap.String("registration_id", reg.ID.String()))
		}
		return sendErr
	}
	if err := p.regs.MarkDelivered(ctx, reg.ID, time.Now()); err != nil {
		p.logger.Error("mark sent state", zap.Error(err), zap.String("registration_id", reg.ID.String()))
	}
	return nil
}

func (p *TicketEmailProcessor) send(ctx context.Context, ev *models.Event, reg *models.Registration) error {
	token, err := p.assigner.EnsureToken(ctx, reg)
	if err != nil {
		return fmt.Errorf("assign token: %w", err)
	}
	png, _, err := p.renderer.RenderAndStore(ctx, ev, reg, token)
	if err != nil {
		return fmt.Errorf("render ticket: %w", err)
	}
	vars := struct {
		Name, RegNo, Email, EventName, Venue, StartsAt string
	}{
		Name:      reg.Name,
		RegNo:     reg.RegNo,
		Email:     reg.Email,
		EventName: ev.Name,
		Venue:     ev.Venue,
		StartsAt:  ev.StartsAt.Format("Mon, 2 Jan 2006 15:04"),
	}
	var sb, bb bytes.Buffer
	if err := p.subjectTpl.Execute(&sb, vars); err != nil {
		return fmt.Errorf("render subject: %w", err)
	}
	if err := p.bodyTpl.Execute(&bb, vars); err != nil {
		return fmt.Errorf("render body: %w", err)
	}
	return p.mail.Send(reg.Email, sb.String(), bb.String(), png, "ticket.png")
}

func (p *TicketEmailProcessor) record(ctx context.Context, ev *models.Event, reg *models.Registration, emailType string, cause error) {
	if p.audit == nil {
		return
	}
	log := &models.EmailLog{
		EventID:        &ev.ID,
		RegistrationID: &reg.ID,
		EmailType:      emailType,
		RecipientEmail: reg.Email,
		Status:         models.EmailLogStatusSent,
	}
	if cause != nil {
		log.Status = models.EmailLogStatusFailed
		log.ErrorMessage = cause.Error()
	} else {
		now := time.Now()
		log.SentAt = &now
	}
	if err := p.audit.Record(ctx, log); err != nil {
		p.logger.Warn("email log write failed", zap.Error(err), zap.String("registration_id", reg.ID.String()))
	}
}
