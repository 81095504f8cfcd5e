package reading

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/astrelia/readings/internal/cache"
	"github.com/astrelia/readings/internal/chart"
	"github.com/astrelia/readings/internal/interpret"
	"github.com/astrelia/readings/internal/ledger"
	"github.com/astrelia/readings/internal/lock"
	"github.com/astrelia/readings/internal/orchestrate"
	"github.com/astrelia/readings/internal/prompt"
	"github.com/astrelia/readings/internal/provider"
	"github.com/astrelia/readings/internal/task"
)

const defaultLockTTL = 30 * time.Second

// outagePlaceholder fills a degraded record when every provider is down.
const outagePlaceholder = "The interpretation service is temporarily unavailable. " +
	"Your chart was calculated and saved; request this reading again shortly for the full text."

// Generator is the slice of the orchestrator the service needs.
type Generator interface {
	Generate(ctx context.Context, pair *provider.PromptPair) (*orchestrate.Outcome, error)
	Stream(ctx context.Context, pair *provider.PromptPair) (<-chan *provider.Chunk, string, error)
}

// Locker is the slice of the advisory lock the service needs.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (lock.Handle, error)
}

// ResultCache is the two-tier cache surface.
type ResultCache interface {
	Get(ctx context.Context, key cache.Key, rt prompt.ReadingType) *interpret.Result
	Put(ctx context.Context, key cache.Key, rt prompt.ReadingType, res *interpret.Result, chartSnapshot []byte)
}

// DefaultCreditCosts maps each reading type to its price in credits.
var DefaultCreditCosts = map[prompt.ReadingType]int{
	prompt.Lifetime: 3,
	prompt.Annual:   2,
	prompt.Monthly:  1,
	prompt.Question: 1,
}

// Service runs the full reading pipeline: validate, lock, chart, cache,
// generate, parse, bill, persist.
type Service struct {
	readings    Store
	ledger      ledger.Store
	cache       ResultCache
	locker      Locker
	engine      chart.Engine
	assembler   *prompt.Assembler
	generator   Generator
	tasks       *task.Supervisor
	costs       map[prompt.ReadingType]int
	ruleVersion string
	lockTTL     time.Duration
}

type Config struct {
	Readings    Store
	Ledger      ledger.Store
	Cache       ResultCache
	Locker      Locker
	Engine      chart.Engine
	Assembler   *prompt.Assembler
	Generator   Generator
	Tasks       *task.Supervisor
	Costs       map[prompt.ReadingType]int
	RuleVersion string
	LockTTL     time.Duration
}

func NewService(cfg Config) *Service {
	costs := cfg.Costs
	if costs == nil {
		costs = DefaultCreditCosts
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = defaultLockTTL
	}
	return &Service{
		readings:    cfg.Readings,
		ledger:      cfg.Ledger,
		cache:       cfg.Cache,
		locker:      cfg.Locker,
		engine:      cfg.Engine,
		assembler:   cfg.Assembler,
		generator:   cfg.Generator,
		tasks:       cfg.Tasks,
		costs:       costs,
		ruleVersion: cfg.RuleVersion,
		lockTTL:     lockTTL,
	}
}

// CreateReading runs one billed reading request end to end. At most one
// request per subject is in flight at a time; a second caller gets
// ErrConcurrentRequest instead of queueing.
func (s *Service) CreateReading(ctx context.Context, req *Request) (*Record, error) {
	variant, err := s.validate(req.Type, req.Year, req.Month, req.Day, req.Question)
	if err != nil {
		return nil, err
	}

	subject, err := s.ledger.GetSubject(ctx, req.SubjectID)
	if err != nil {
		return nil, err
	}
	profile, err := s.ledger.GetProfile(ctx, req.ProfileID)
	if err != nil {
		return nil, err
	}
	if profile.SubjectID != subject.ID {
		return nil, ledger.ErrProfileNotFound
	}

	handle, err := s.locker.Acquire(ctx, lockKey(subject.ID), s.lockTTL)
	if err != nil {
		if errors.Is(err, lock.ErrNotAcquired) {
			return nil, ErrConcurrentRequest
		}
		return nil, err
	}
	defer handle.Release(ctx)

	birth := chart.BirthData{
		Date:   profile.BirthDate,
		Hour:   profile.BirthHour,
		Minute: profile.BirthMin,
		City:   profile.BirthCity,
		Gender: profile.Gender,
	}
	c, err := s.engine.Compute(birth, targetDate(req.Type, variant))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	birthTime := fmt.Sprintf("%02d:%02d", profile.BirthHour, profile.BirthMin)
	key := cache.ComputeKey(profile.BirthDate, birthTime, profile.BirthCity, profile.Gender, req.Type, variant, s.ruleVersion)

	record := &Record{
		SubjectID:   subject.ID,
		ProfileID:   profile.ID,
		Type:        req.Type,
		Year:        variant.Year,
		Month:       variant.Month,
		Day:         variant.Day,
		Question:    variant.Question,
		ContentHash: string(key),
		Chart:       c,
	}

	if cached := s.cache.Get(ctx, key, req.Type); cached != nil {
		record.Interpretation = cached
		record.CacheHit = true
	} else {
		pair, err := s.assembler.Assemble(ctx, req.Type, variant, c)
		if err != nil {
			return nil, err
		}

		outcome, genErr := s.generator.Generate(ctx, pair)
		if genErr != nil {
			if !errors.Is(genErr, orchestrate.ErrAllProvidersExhausted) {
				return nil, genErr
			}
			// Total provider outage: persist a chart-only record with a
			// null interpretation instead of failing the request. The
			// placeholder text is synthesized at read time, never stored
			// or cached, so a retry after recovery generates normally.
			log.Printf("reading: degraded generation for subject %s: %v", subject.ID, genErr)
			record.Degraded = true
		} else {
			res := interpret.Parse(outcome.Text, req.Type)
			record.Interpretation = res
			record.Provider = outcome.Provider
			record.Model = outcome.Model
			record.CostUSD = outcome.CostUSD
			record.Degraded = res.Degraded

			snapshot, _ := json.Marshal(c)
			resCopy := res
			s.tasks.Go("cache-put", func(ctx context.Context) error {
				s.cache.Put(ctx, key, req.Type, resCopy, snapshot)
				return nil
			})
		}
	}

	if err := s.bill(ctx, subject, record); err != nil {
		return nil, err
	}

	if err := s.readings.Create(ctx, record); err != nil {
		// The debit already landed; surface the failure loudly rather
		// than silently re-crediting.
		log.Printf("reading: persist failed after billing subject %s: %v", subject.ID, err)
		return nil, err
	}
	fillDegraded(record)
	return record, nil
}

// bill settles the credit cost for a freshly assembled record. Cache hits,
// degraded results, and the unlimited tier cost nothing. The free trial
// covers the first reading; the conditional updates in the ledger keep both
// the trial flag and the balance safe under races.
func (s *Service) bill(ctx context.Context, subject *ledger.Subject, record *Record) error {
	if record.CacheHit || record.Degraded || subject.Tier == ledger.TierUnlimited {
		return nil
	}

	if !subject.TrialUsed {
		err := s.ledger.ConsumeTrial(ctx, subject.ID)
		if err == nil {
			record.TrialUsed = true
			return nil
		}
		if !errors.Is(err, ledger.ErrTrialAlreadyUsed) {
			return err
		}
		// Lost the trial race to a parallel request; fall through to a
		// normal debit.
	}

	cost := s.costs[record.Type]
	if err := s.ledger.DebitCredits(ctx, subject.ID, cost); err != nil {
		return err
	}
	record.CreditsSpent = cost
	return nil
}

// GenerateOnly produces an interpretation without a stored profile, a debit,
// or a persisted record. Unlike CreateReading it fails hard on provider
// outage: there is nothing to degrade into.
func (s *Service) GenerateOnly(ctx context.Context, req *GenerateRequest) (*interpret.Result, *chart.Chart, error) {
	variant, err := s.validate(req.Type, req.Year, req.Month, req.Day, req.Question)
	if err != nil {
		return nil, nil, err
	}

	c, err := s.engine.Compute(req.Birth, targetDate(req.Type, variant))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	birthTime := fmt.Sprintf("%02d:%02d", req.Birth.Hour, req.Birth.Minute)
	key := cache.ComputeKey(req.Birth.Date, birthTime, req.Birth.City, req.Birth.Gender, req.Type, variant, s.ruleVersion)

	if cached := s.cache.Get(ctx, key, req.Type); cached != nil {
		return cached, c, nil
	}

	pair, err := s.assembler.Assemble(ctx, req.Type, variant, c)
	if err != nil {
		return nil, nil, err
	}
	outcome, err := s.generator.Generate(ctx, pair)
	if err != nil {
		return nil, nil, err
	}

	res := interpret.Parse(outcome.Text, req.Type)
	if !res.Degraded {
		snapshot, _ := json.Marshal(c)
		s.tasks.Go("cache-put", func(ctx context.Context) error {
			s.cache.Put(ctx, key, req.Type, res, snapshot)
			return nil
		})
	}
	return res, c, nil
}

// Stream opens a raw token stream for a reading. Streams are never billed,
// cached, or persisted; the text arrives unparsed.
func (s *Service) Stream(ctx context.Context, req *GenerateRequest) (<-chan *provider.Chunk, string, error) {
	variant, err := s.validate(req.Type, req.Year, req.Month, req.Day, req.Question)
	if err != nil {
		return nil, "", err
	}

	c, err := s.engine.Compute(req.Birth, targetDate(req.Type, variant))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrValidation, err)
	}

	pair, err := s.assembler.Assemble(ctx, req.Type, variant, c)
	if err != nil {
		return nil, "", err
	}
	return s.generator.Stream(ctx, pair)
}

// GetReading returns a reading by id. Callers other than the owner see only
// previews; the full text stays private to the subject who paid for it.
func (s *Service) GetReading(ctx context.Context, id, requesterID string) (*Record, error) {
	record, err := s.readings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	fillDegraded(record)
	if record.SubjectID != requesterID {
		record = redact(record)
	}
	return record, nil
}

func (s *Service) ListBySubject(ctx context.Context, subjectID string, limit, offset int) ([]*Record, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	records, err := s.readings.ListBySubject(ctx, subjectID, limit, offset)
	if err != nil {
		return nil, err
	}
	for _, r := range records {
		fillDegraded(r)
	}
	return records, nil
}

func (s *Service) validate(rt prompt.ReadingType, year, month, day int, question string) (prompt.Variant, error) {
	var v prompt.Variant
	if !prompt.Known(rt) {
		return v, fmt.Errorf("%w: unknown reading type %q", ErrValidation, rt)
	}

	switch rt {
	case prompt.Annual:
		if year < 1900 || year > 2200 {
			return v, fmt.Errorf("%w: annual reading requires a year", ErrValidation)
		}
		v.Year = year
	case prompt.Monthly:
		if year < 1900 || year > 2200 {
			return v, fmt.Errorf("%w: monthly reading requires a year", ErrValidation)
		}
		if month < 1 || month > 12 {
			return v, fmt.Errorf("%w: monthly reading requires a month 1-12", ErrValidation)
		}
		v.Year = year
		v.Month = month
		if day >= 1 && day <= 31 {
			v.Day = day
		}
	case prompt.Question:
		q := strings.TrimSpace(question)
		if q == "" {
			return v, fmt.Errorf("%w: question reading requires a question", ErrValidation)
		}
		if len(q) > 500 {
			return v, fmt.Errorf("%w: question exceeds 500 characters", ErrValidation)
		}
		v.Question = q
	}
	return v, nil
}

func targetDate(rt prompt.ReadingType, v prompt.Variant) *time.Time {
	switch rt {
	case prompt.Annual:
		t := time.Date(v.Year, time.January, 1, 0, 0, 0, 0, time.UTC)
		return &t
	case prompt.Monthly:
		day := v.Day
		if day == 0 {
			day = 1
		}
		t := time.Date(v.Year, time.Month(v.Month), day, 0, 0, 0, 0, time.UTC)
		return &t
	}
	return nil
}

func lockKey(subjectID string) string {
	return fmt.Sprintf("reading:lock:subject:%s", subjectID)
}

// fillDegraded synthesizes the placeholder interpretation for chart-only
// records. The stored row keeps a null interpretation; only the view the
// caller sees carries the placeholder.
func fillDegraded(r *Record) {
	if r.Degraded && r.Interpretation == nil {
		r.Interpretation = interpret.Parse(outagePlaceholder, r.Type)
	}
}

// redact strips the full text from every section, leaving previews.
func redact(r *Record) *Record {
	out := *r
	if r.Interpretation != nil {
		res := &interpret.Result{
			Order:    r.Interpretation.Order,
			Sections: make(map[string]interpret.Section, len(r.Interpretation.Sections)),
			Summary:  interpret.Section{Preview: r.Interpretation.Summary.Preview},
			Degraded: r.Interpretation.Degraded,
		}
		for k, sec := range r.Interpretation.Sections {
			res.Sections[k] = interpret.Section{Preview: sec.Preview}
		}
		out.Interpretation = res
	}
	return &out
}
