package companion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/mentara/internal/observe"
	"github.com/MrWong99/mentara/internal/statestore"
	"github.com/MrWong99/mentara/pkg/provider/llm"
)

var (
	// ErrNotFound is returned for an unknown task id.
	ErrNotFound = errors.New("companion: not found")

	// ErrInvalidMood is returned for a mood level outside 1..5.
	ErrInvalidMood = errors.New("companion: mood level must be between 1 and 5")

	// ErrInvalidProfile is returned for an unsupported language or theme.
	ErrInvalidProfile = errors.New("companion: invalid profile")

	// ErrEmptyMessage is returned by SendMessage for blank text.
	ErrEmptyMessage = errors.New("companion: empty message")
)

const (
	// MinMoodsForInsights is how many check-ins Insights needs.
	MinMoodsForInsights = 3

	// InsightWindow is how many recent check-ins Insights looks at.
	InsightWindow = 7

	NotEnoughMoodsText      = "Berikan aku beberapa hari lagi untuk mengenali polamu ya. Tetap lakukan check-in setiap hari."
	EmptyInsightText        = "Teruslah berproses."
	InsightErrorText        = "Kamu melakukan hal hebat hari ini."
	DefaultAffirmation      = "Kamu berharga, dan harimu akan baik-baik saja."
	DefaultAffirmationEN    = "You are worthy, and your day will be okay."
	affirmationPromptID     = "Berikan satu afirmasi positif yang singkat dan puitis dalam Bahasa Indonesia."
	affirmationPromptEN     = "Give me one short and poetic positive affirmation in English."
	insightPromptTemplateID = "Analisis pola emosi ini: %s. Berikan insight singkat dan hangat dalam Bahasa Indonesia."
	insightPromptTemplateEN = "Analyse this emotional pattern: %s. Give a short and warm insight in English."
)

// Profile holds the user-editable settings. Empty fields are left unchanged.
type Profile struct {
	UserName string
	Language Language
	Theme    Theme
}

// Reply is the result of [Service.SendMessage].
type Reply struct {
	Message Message
	Crisis  bool
}

// Option configures a [Service].
type Option func(*Service)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithStateKey overrides [StateKey].
func WithStateKey(key string) Option {
	return func(s *Service) { s.key = key }
}

// Service owns the application document.
type Service struct {
	store   statestore.Store
	chat    *Chat
	key     string
	now     func() time.Time
	metrics *observe.Metrics
	log     *slog.Logger

	mu     sync.Mutex
	state  AppState
	loaded bool
}

// New returns a service over store. chat answers messages and its provider
// also writes insights and affirmations.
func New(store statestore.Store, chat *Chat, opts ...Option) *Service {
	s := &Service{
		store: store,
		chat:  chat,
		key:   StateKey,
		now:   time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// ─── Document lifecycle ──────────────────────────────────────────────────────

// loadLocked reads the document on first use. A missing document yields the
// defaults; a corrupt one is replaced by defaults and logged. Must be called
// with s.mu held.
func (s *Service) loadLocked(ctx context.Context) error {
	if s.loaded {
		return nil
	}
	start := time.Now()
	b, err := s.store.Load(ctx, s.key)
	s.metrics.StoreDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("op", "load")))

	switch {
	case errors.Is(err, statestore.ErrNotFound):
		s.state = DefaultState(s.now())
	case err != nil:
		return fmt.Errorf("companion: load state: %w", err)
	default:
		st, derr := DecodeState(b)
		if derr != nil {
			s.log.Warn("companion: stored state unreadable, starting fresh", "err", derr)
			st = DefaultState(s.now())
		}
		s.state = st
	}
	s.loaded = true
	return nil
}

// saveLocked persists st. Must be called with s.mu held.
func (s *Service) saveLocked(ctx context.Context, st AppState) error {
	ctx, span := observe.StartSpan(ctx, "companion.save")
	defer span.End()

	b, err := st.Encode()
	if err != nil {
		return err
	}
	start := time.Now()
	err = s.store.Save(ctx, s.key, b)
	s.metrics.StoreDuration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("op", "save")))
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("companion: save state: %w", err)
	}
	return nil
}

// mutate applies fn to a copy of the document and commits the copy once it
// is saved.
func (s *Service) mutate(ctx context.Context, fn func(st *AppState) error) (AppState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(ctx); err != nil {
		return AppState{}, err
	}
	next := s.state.Clone()
	if err := fn(&next); err != nil {
		return AppState{}, err
	}
	if err := s.saveLocked(ctx, next); err != nil {
		return AppState{}, err
	}
	s.state = next
	return next.Clone(), nil
}

// ─── Operations ──────────────────────────────────────────────────────────────

// State returns a copy of the document.
func (s *Service) State(ctx context.Context) (AppState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.loadLocked(ctx); err != nil {
		return AppState{}, err
	}
	return s.state.Clone(), nil
}

// SaveMood records a check-in, completes every journal task and extends the
// streak.
func (s *Service) SaveMood(ctx context.Context, level MoodLevel, note string, tags []string) (MoodEntry, error) {
	if !level.IsValid() {
		return MoodEntry{}, fmt.Errorf("%w: got %d", ErrInvalidMood, level)
	}
	now := s.now()
	entry := MoodEntry{
		ID:        newID(now),
		Timestamp: now.UnixMilli(),
		Level:     level,
		Note:      strings.TrimSpace(note),
		Tags:      append([]string{}, tags...),
	}
	_, err := s.mutate(ctx, func(st *AppState) error {
		st.Moods = append([]MoodEntry{entry}, st.Moods...)
		for i := range st.Tasks {
			if st.Tasks[i].Type == TaskJournal {
				st.Tasks[i].Completed = true
			}
		}
		st.Streak++
		st.LastActive = now.Format(dateLayout)
		return nil
	})
	if err != nil {
		return MoodEntry{}, err
	}
	return entry, nil
}

// ToggleTask flips the completion of the task with the given id.
func (s *Service) ToggleTask(ctx context.Context, id string) (MentalTask, error) {
	var out MentalTask
	_, err := s.mutate(ctx, func(st *AppState) error {
		for i := range st.Tasks {
			if st.Tasks[i].ID == id {
				st.Tasks[i].Completed = !st.Tasks[i].Completed
				out = st.Tasks[i]
				return nil
			}
		}
		return fmt.Errorf("%w: task %q", ErrNotFound, id)
	})
	return out, err
}

// SendMessage appends text to the conversation, asks the companion and
// appends its reply. The user message is saved before the model is asked so
// it survives a crash mid-request.
func (s *Service) SendMessage(ctx context.Context, text string) (Reply, error) {
	return s.sendMessage(ctx, text, nil)
}

// SendMessageStream is SendMessage with reply text streamed to onDelta.
func (s *Service) SendMessageStream(ctx context.Context, text string, onDelta func(string)) (Reply, error) {
	return s.sendMessage(ctx, text, onDelta)
}

func (s *Service) sendMessage(ctx context.Context, text string, onDelta func(string)) (Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Reply{}, ErrEmptyMessage
	}
	now := s.now()
	userMsg := Message{ID: newID(now), Role: RoleUser, Content: text, Timestamp: now.UnixMilli()}

	var (
		history  []Message
		userName string
	)
	_, err := s.mutate(ctx, func(st *AppState) error {
		history = append([]Message(nil), st.Messages...)
		userName = st.UserName
		st.Messages = append(st.Messages, userMsg)
		return nil
	})
	if err != nil {
		return Reply{}, err
	}

	var cr ChatReply
	if onDelta != nil {
		cr = s.chat.RespondStream(ctx, userName, history, text, onDelta)
	} else {
		cr = s.chat.Respond(ctx, userName, history, text)
	}

	done := s.now()
	botMsg := Message{ID: newID(done), Role: RoleAssistant, Content: cr.Content, Timestamp: done.UnixMilli()}
	if _, err := s.mutate(ctx, func(st *AppState) error {
		st.Messages = append(st.Messages, botMsg)
		return nil
	}); err != nil {
		return Reply{}, err
	}
	return Reply{Message: botMsg, Crisis: cr.Crisis}, nil
}

// UpdateProfile changes the non-empty fields of p.
func (s *Service) UpdateProfile(ctx context.Context, p Profile) (AppState, error) {
	var errs []error
	if p.Language != "" && !p.Language.IsValid() {
		errs = append(errs, fmt.Errorf("%w: language %q (want id or en)", ErrInvalidProfile, p.Language))
	}
	if p.Theme != "" && !p.Theme.IsValid() {
		errs = append(errs, fmt.Errorf("%w: theme %q (want slate or midnight)", ErrInvalidProfile, p.Theme))
	}
	if err := errors.Join(errs...); err != nil {
		return AppState{}, err
	}
	return s.mutate(ctx, func(st *AppState) error {
		if name := strings.TrimSpace(p.UserName); name != "" {
			st.UserName = name
		}
		if p.Language != "" {
			st.Language = p.Language
		}
		if p.Theme != "" {
			st.Theme = p.Theme
		}
		return nil
	})
}

// Reset discards every mood, message and setting.
func (s *Service) Reset(ctx context.Context) (AppState, error) {
	return s.mutate(ctx, func(st *AppState) error {
		*st = DefaultState(s.now())
		return nil
	})
}

// ResetDailyTasks clears the completion of every task when the document was
// last active on an earlier day. It reports whether anything changed.
func (s *Service) ResetDailyTasks(ctx context.Context) (bool, error) {
	today := s.now().Format(dateLayout)
	changed := false
	_, err := s.mutate(ctx, func(st *AppState) error {
		if st.LastActive == today {
			return nil
		}
		for i := range st.Tasks {
			st.Tasks[i].Completed = false
		}
		st.LastActive = today
		changed = true
		return nil
	})
	return changed, err
}

// Insights asks the model to describe the user's recent mood pattern.
func (s *Service) Insights(ctx context.Context) (string, error) {
	st, err := s.State(ctx)
	if err != nil {
		return "", err
	}
	if len(st.Moods) < MinMoodsForInsights {
		return NotEnoughMoodsText, nil
	}
	recent := st.Moods
	if len(recent) > InsightWindow {
		recent = recent[:InsightWindow]
	}
	payload, err := json.Marshal(recent)
	if err != nil {
		return "", fmt.Errorf("companion: insights: %w", err)
	}
	tmpl := insightPromptTemplateID
	if st.Language == LanguageEN {
		tmpl = insightPromptTemplateEN
	}

	ctx, span := observe.StartSpan(ctx, "companion.insights")
	defer span.End()
	resp, err := s.chat.provider.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: fmt.Sprintf(tmpl, payload)}},
	})
	if err != nil {
		s.log.Error("companion: insights failed", "err", err)
		return InsightErrorText, nil
	}
	if text := strings.TrimSpace(resp.Content); text != "" {
		return text, nil
	}
	return EmptyInsightText, nil
}

// Affirmation asks the model for a short positive affirmation in the user's
// language.
func (s *Service) Affirmation(ctx context.Context) (string, error) {
	st, err := s.State(ctx)
	if err != nil {
		return "", err
	}
	prompt, fallback := affirmationPromptID, DefaultAffirmation
	if st.Language == LanguageEN {
		prompt, fallback = affirmationPromptEN, DefaultAffirmationEN
	}

	ctx, span := observe.StartSpan(ctx, "companion.affirmation")
	defer span.End()
	resp, err := s.chat.provider.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: prompt}},
	})
	if err != nil {
		s.log.Warn("companion: affirmation failed", "err", err)
		return fallback, nil
	}
	text := strings.TrimSpace(strings.ReplaceAll(resp.Content, `"`, ""))
	if text == "" {
		return fallback, nil
	}
	return text, nil
}
