// ABOUTME: Event dispatcher: rate-limits inbound events and runs the per-session pipeline.
// ABOUTME: Append turn, recall memory, dispatch to a model, remember facts, format the reply.

package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/parleybot/parley/internal/format"
	"github.com/parleybot/parley/internal/llm"
	"github.com/parleybot/parley/internal/memory"
	"github.com/parleybot/parley/internal/prompt"
	"github.com/parleybot/parley/internal/session"
	"github.com/parleybot/parley/internal/store"
)

// ErrRateLimited indicates the identity exceeded its event rate. Rejected at
// the boundary, never queued.
var ErrRateLimited = errors.New("rate limited")

// Kind classifies an inbound event payload.
type Kind string

const (
	KindText  Kind = "text"
	KindImage Kind = "image"
	KindAudio Kind = "audio"
)

// Event is the normalized inbound record handed over by the transport layer,
// already authenticated and parsed.
type Event struct {
	Identity   string
	Kind       Kind
	Payload    string // message text, or caption for media events
	Media      *llm.Media
	ReceivedAt time.Time
}

// ResponseKind classifies the outbound record.
type ResponseKind string

const (
	ResponseText  ResponseKind = "text"
	ResponseError ResponseKind = "error"
)

// Response is the record returned to the transport layer.
type Response struct {
	Kind      ResponseKind
	Content   string
	ModelUsed string
}

// Generator is what the dispatcher needs from the model layer.
type Generator interface {
	Generate(ctx context.Context, req llm.Request, preferred string) (*llm.Response, error)
	AnalyzeMedia(ctx context.Context, media llm.Media, prompt, preferred string) (*llm.Response, error)
}

// Sessions is what the dispatcher needs from the session layer.
type Sessions interface {
	WithSession(ctx context.Context, identity string, fn func(*session.Session) error) error
}

// Config holds dispatcher policy.
type Config struct {
	EventsPerSecond float64
	Burst           int
	Persona         string
	RecallLimit     int
}

const defaultRecallLimit = 5

// Dispatcher accepts inbound events, resolves the session, and feeds each
// event through that session's processing pipeline.
type Dispatcher struct {
	sessions Sessions
	models   Generator
	prompts  *prompt.Registry
	store    store.Store
	limiter  *identityLimiter
	cfg      Config
	logger   *slog.Logger
}

// New validates cfg and builds a dispatcher. The store may be store.NopStore.
func New(sessions Sessions, models Generator, prompts *prompt.Registry, st store.Store, cfg Config, logger *slog.Logger) (*Dispatcher, error) {
	if sessions == nil || models == nil {
		return nil, fmt.Errorf("sessions and models are required")
	}
	if cfg.EventsPerSecond <= 0 || cfg.Burst < 1 {
		return nil, fmt.Errorf("rate limit must allow at least one event")
	}
	if cfg.RecallLimit <= 0 {
		cfg.RecallLimit = defaultRecallLimit
	}
	if prompts == nil {
		prompts = prompt.NewRegistry()
	}
	if st == nil {
		st = store.NopStore{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		sessions: sessions,
		models:   models,
		prompts:  prompts,
		store:    st,
		limiter:  newIdentityLimiter(cfg.EventsPerSecond, cfg.Burst),
		cfg:      cfg,
		logger:   logger.With("component", "dispatch"),
	}, nil
}

// Handle processes one inbound event and returns the outbound record.
//
// Error mapping: rate-limit rejections return ErrRateLimited with no
// response. Model exhaustion and unsupported media are user-visible
// conditions and come back as ResponseError records with a nil error —
// the conversation continues, degraded. Anything else is an internal fault
// for the transport layer to translate.
func (d *Dispatcher) Handle(ctx context.Context, ev Event) (*Response, error) {
	if ev.Identity == "" {
		return nil, fmt.Errorf("event identity is required")
	}
	if !d.limiter.Allow(ev.Identity) {
		d.logger.Warn("event rejected by rate limit", "identity", ev.Identity)
		return nil, ErrRateLimited
	}

	var out *Response
	err := d.sessions.WithSession(ctx, ev.Identity, func(s *session.Session) error {
		resp, err := d.process(ctx, s, ev)
		out = resp
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// process runs the pipeline with the session token held.
func (d *Dispatcher) process(ctx context.Context, s *session.Session, ev Event) (*Response, error) {
	received := ev.ReceivedAt
	if received.IsZero() {
		received = time.Now()
	}

	// The triggering user turn is appended before dispatch and stays in
	// the window regardless of the model outcome.
	s.Window.Append(llm.Turn{
		Role:      llm.RoleUser,
		Content:   ev.Payload,
		Timestamp: received,
		Media:     ev.Media,
	})

	recalled := s.Memory.Recall(ev.Payload, d.cfg.RecallLimit)
	systemPrompt := d.buildSystemPrompt(recalled)

	resp, err := d.generate(ctx, s, ev, systemPrompt)
	if err != nil {
		switch {
		case errors.Is(err, llm.ErrAllModelsExhausted):
			d.logger.Error("all adapters exhausted", "identity", ev.Identity, "error", err)
			return &Response{
				Kind:    ResponseError,
				Content: "The assistant is temporarily unavailable. Please try again in a moment.",
			}, nil
		case errors.Is(err, llm.ErrUnsupportedMedia):
			return &Response{
				Kind:    ResponseError,
				Content: "Sorry, this kind of attachment isn't supported.",
			}, nil
		default:
			return nil, err
		}
	}

	// The assistant turn is appended only on success.
	s.Window.Append(llm.Turn{
		Role:      llm.RoleAssistant,
		Content:   resp.Text,
		Timestamp: time.Now(),
	})

	d.rememberFacts(s, ev, received)
	d.record(ctx, s, ev, resp, received)

	return &Response{
		Kind:      ResponseText,
		Content:   format.Flatten(resp.Text),
		ModelUsed: resp.Adapter,
	}, nil
}

// generate picks the model call for the event kind.
func (d *Dispatcher) generate(ctx context.Context, s *session.Session, ev Event, systemPrompt string) (*llm.Response, error) {
	if ev.Kind == KindText || ev.Media == nil {
		req := llm.Request{
			Prompt: systemPrompt,
			Turns:  s.Window.Snapshot(),
		}
		return d.models.Generate(ctx, req, s.ModelPreference)
	}

	analysisPrompt := ev.Payload
	if analysisPrompt == "" {
		analysisPrompt = "Describe this attachment and respond to the user."
	}
	return d.models.AnalyzeMedia(ctx, *ev.Media, analysisPrompt, s.ModelPreference)
}

// buildSystemPrompt combines the persona with recalled facts.
func (d *Dispatcher) buildSystemPrompt(recalled []memory.Entry) string {
	var b strings.Builder
	b.WriteString(d.prompts.System(d.cfg.Persona))
	if len(recalled) > 0 {
		b.WriteString("\n\nKnown facts about this user:\n")
		for _, e := range recalled {
			b.WriteString("- ")
			b.WriteString(e.Fact)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// declarative cues that make a user statement worth remembering.
var factCues = []string{
	"i am ", "i'm ", "my name is ", "call me ", "my ",
	"i live ", "i work ", "i like ", "i love ", "i hate ",
	"i prefer ", "i have ",
}

// rememberFacts applies the salience heuristic: declarative statements about
// the user are stored as memory entries. An external enricher can call
// Memory.Remember directly with better scores; this is the floor.
func (d *Dispatcher) rememberFacts(s *session.Session, ev Event, received time.Time) {
	if ev.Kind != KindText {
		return
	}
	lower := strings.ToLower(ev.Payload)
	for _, cue := range factCues {
		if strings.Contains(lower, cue) {
			s.Memory.Remember(memory.Entry{
				SessionID:  s.ID,
				Fact:       ev.Payload,
				Importance: 0.6,
				CreatedAt:  received,
			})
			return
		}
	}
}

// record persists the exchange and token usage. Best effort: the reply is
// already committed to the window, so persistence failures are logged and
// swallowed.
func (d *Dispatcher) record(ctx context.Context, s *session.Session, ev Event, resp *llm.Response, received time.Time) {
	now := time.Now()

	ex := &store.Exchange{
		ID:        uuid.New().String(),
		SessionID: s.ID,
		Identity:  ev.Identity,
		Kind:      string(ev.Kind),
		Prompt:    ev.Payload,
		Reply:     resp.Text,
		ModelUsed: resp.Adapter,
		CreatedAt: received,
	}
	if err := d.store.SaveExchange(ctx, ex); err != nil {
		d.logger.Error("recording exchange failed", "identity", ev.Identity, "error", err)
	}

	usage := &store.Usage{
		ID:           uuid.New().String(),
		SessionID:    s.ID,
		Adapter:      resp.Adapter,
		Model:        resp.Model,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		CreatedAt:    now,
	}
	if err := d.store.SaveUsage(ctx, usage); err != nil {
		d.logger.Error("recording usage failed", "identity", ev.Identity, "error", err)
	}
}
