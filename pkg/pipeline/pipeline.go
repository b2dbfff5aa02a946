// Package pipeline runs one report: every metric query as an independent
// task, then assembly once all of them succeeded, then delivery.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jazware/engagement-report/pkg/metrics"
	"github.com/jazware/engagement-report/pkg/report"
	"github.com/jazware/engagement-report/pkg/taskgraph"
)

var tracer = otel.Tracer("engagement-report-pipeline")

const (
	taskAssemble = "assemble"
	taskDeliver  = "deliver"
)

// Sender delivers the report text and image to a chat.
type Sender interface {
	SendMessage(ctx context.Context, chatID, text string) (int64, error)
	SendPhoto(ctx context.Context, chatID, filename string, image []byte, caption string) (int64, error)
}

type Pipeline struct {
	src         metrics.Source
	assembler   *report.Assembler
	sender      Sender
	chatID      string
	dryRun      bool
	concurrency int
	cities      []string
	country     string
	logger      *slog.Logger
}

type Option func(*Pipeline)

// WithDryRun builds the report without delivering it.
func WithDryRun(dryRun bool) Option {
	return func(p *Pipeline) {
		p.dryRun = dryRun
	}
}

// WithConcurrency bounds the number of queries in flight.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) {
		p.concurrency = n
	}
}

func WithChatID(chatID string) Option {
	return func(p *Pipeline) {
		p.chatID = chatID
	}
}

// WithRestriction sets the cities and country of the per-city queries.
func WithRestriction(cities []string, country string) Option {
	return func(p *Pipeline) {
		p.cities = cities
		p.country = country
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func New(src metrics.Source, assembler *report.Assembler, sender Sender, opts ...Option) *Pipeline {
	p := &Pipeline{
		src:         src,
		assembler:   assembler,
		sender:      sender,
		concurrency: 4,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "pipeline")
	return p
}

// Run builds and delivers the report for one day. executedAt anchors the
// hourly panels; passing the same value reproduces a run exactly.
// Any task failure fails the whole run and nothing is delivered.
func (p *Pipeline) Run(ctx context.Context, reportDate, executedAt time.Time) (rep *report.Report, err error) {
	runID := uuid.NewString()
	params := metrics.NewParams(reportDate, executedAt, p.cities, p.country)
	day := params.ReportDate.Format(time.DateOnly)
	logger := p.logger.With("run_id", runID, "report_date", day)

	ctx, span := tracer.Start(ctx, "pipeline.Run")
	span.SetAttributes(
		attribute.String("run.id", runID),
		attribute.String("report.date", day),
		attribute.Bool("report.dry_run", p.dryRun),
	)
	start := time.Now()
	defer func() {
		result := "success"
		if err != nil {
			result = "error"
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			lastSuccess.SetToCurrentTime()
		}
		runsTotal.WithLabelValues(result).Inc()
		runDuration.Observe(time.Since(start).Seconds())
		span.End()
	}()

	g, assembled, err := p.graph(params)
	if err != nil {
		return nil, err
	}

	logger.Info("starting report run", "queries", len(metrics.Catalog()), "dry_run", p.dryRun)

	results, m, err := g.Run(ctx,
		taskgraph.WithConcurrency(p.concurrency),
		taskgraph.WithHooks(p.hooks(logger)),
	)
	if err != nil {
		logger.Error("report run failed", "error", err,
			"tasks_succeeded", m.TasksSucceeded, "tasks_failed", m.TasksFailed, "tasks_skipped", m.TasksSkipped)
		return nil, fmt.Errorf("report run %s for %s failed: %w", runID, day, err)
	}

	rep, err = assembled.Value(results)
	if err != nil {
		return nil, err
	}

	logger.Info("report run finished", "duration", m.Duration, "max_concurrency", m.MaxConcurrency, "delivered", !p.dryRun)
	return rep, nil
}

// graph wires one task per catalog query, the assemble join and delivery.
func (p *Pipeline) graph(params metrics.Params) (*taskgraph.Graph, *taskgraph.Handle[*report.Report], error) {
	g := taskgraph.NewGraph()

	catalog := metrics.Catalog()
	handles := make(map[string]*taskgraph.Handle[*metrics.Table], len(catalog))
	refs := make([]taskgraph.Reference, 0, len(catalog))
	for _, q := range catalog {
		h, err := taskgraph.AddTask(g, q.Name, func(ctx context.Context, _ taskgraph.Resolver) (*metrics.Table, error) {
			return metrics.Compute(ctx, p.src, q, params)
		})
		if err != nil {
			return nil, nil, err
		}
		handles[q.Name] = h
		refs = append(refs, h)
	}

	assembled, err := taskgraph.AddTask(g, taskAssemble, func(ctx context.Context, deps taskgraph.Resolver) (*report.Report, error) {
		tables := make(map[string]*metrics.Table, len(handles))
		for name, h := range handles {
			t, err := h.Value(deps)
			if err != nil {
				return nil, err
			}
			tables[name] = t
		}

		in, err := report.InputsFrom(tables)
		if err != nil {
			return nil, err
		}

		_, span := tracer.Start(ctx, "pipeline.Assemble")
		defer span.End()
		return p.assembler.Assemble(in)
	}, taskgraph.DependsOn(refs...))
	if err != nil {
		return nil, nil, err
	}

	if p.dryRun {
		return g, assembled, nil
	}

	_, err = taskgraph.AddTask(g, taskDeliver, func(ctx context.Context, deps taskgraph.Resolver) (struct{}, error) {
		rep, err := assembled.Value(deps)
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, p.deliver(ctx, rep)
	}, taskgraph.DependsOn(assembled))
	if err != nil {
		return nil, nil, err
	}
	return g, assembled, nil
}

// deliver sends the text first, then the dashboard image.
func (p *Pipeline) deliver(ctx context.Context, rep *report.Report) error {
	ctx, span := tracer.Start(ctx, "pipeline.Deliver")
	defer span.End()

	if _, err := p.sender.SendMessage(ctx, p.chatID, rep.Text); err != nil {
		deliveriesTotal.WithLabelValues("sendMessage", "error").Inc()
		return err
	}
	deliveriesTotal.WithLabelValues("sendMessage", "success").Inc()

	if _, err := p.sender.SendPhoto(ctx, p.chatID, rep.Filename, rep.Image, ""); err != nil {
		deliveriesTotal.WithLabelValues("sendPhoto", "error").Inc()
		return err
	}
	deliveriesTotal.WithLabelValues("sendPhoto", "success").Inc()
	return nil
}

func (p *Pipeline) hooks(logger *slog.Logger) taskgraph.Hooks {
	return taskgraph.Hooks{
		OnStart: func(_ context.Context, ev taskgraph.Event) {
			tasksInFlight.Inc()
			logger.Debug("task started", "task", ev.TaskID)
		},
		OnFinish: func(_ context.Context, ev taskgraph.Event) {
			tasksInFlight.Dec()
			taskDuration.WithLabelValues(ev.TaskID, string(ev.Status)).Observe(ev.Duration.Seconds())
			if ev.Err != nil {
				logger.Warn("task failed", "task", ev.TaskID, "duration", ev.Duration, "error", ev.Err)
				return
			}
			logger.Debug("task finished", "task", ev.TaskID, "duration", ev.Duration)
		},
	}
}
