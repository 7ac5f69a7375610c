package autopilot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/tjfontaine/autopilot-gateway/internal/audit"
	"github.com/tjfontaine/autopilot-gateway/internal/cache"
	"github.com/tjfontaine/autopilot-gateway/internal/domain"
	"github.com/tjfontaine/autopilot-gateway/internal/pricing"
	"github.com/tjfontaine/autopilot-gateway/internal/provider"
	"github.com/tjfontaine/autopilot-gateway/internal/ratelimit"
	"github.com/tjfontaine/autopilot-gateway/internal/router"
	"github.com/tjfontaine/autopilot-gateway/internal/tokens"
	"github.com/tjfontaine/autopilot-gateway/internal/validate"
)

// ConfigSource resolves an organization's provider configs. Read-only from
// this package.
type ConfigSource interface {
	ProviderConfigs(orgID string) []domain.ProviderConfig
}

// AdmissionError is returned when the rate limiter rejects a request. It
// carries per-window usage so the transport layer can emit telemetry headers.
type AdmissionError struct {
	*domain.APIError
	Usage []ratelimit.WindowUsage
}

func (e *AdmissionError) Unwrap() error { return e.APIError }

// Engine is the per-request orchestrator. It shares no mutable state across
// requests beyond the cache and rate limiter.
type Engine struct {
	limiter     *ratelimit.Limiter
	cache       *cache.ResponseCache
	router      *router.Router
	validator   *validate.Validator
	pricing     *pricing.Table
	recorder    audit.Recorder
	estimator   *tokens.Estimator
	configs     ConfigSource
	classifier  *Classifier
	selector    *Selector
	logger      *slog.Logger
	callTimeout time.Duration
}

// Params collects the Engine's dependencies.
type Params struct {
	Limiter     *ratelimit.Limiter
	Cache       *cache.ResponseCache
	Router      *router.Router
	Validator   *validate.Validator
	Pricing     *pricing.Table
	Recorder    audit.Recorder
	Estimator   *tokens.Estimator
	Configs     ConfigSource
	Logger      *slog.Logger
	CallTimeout time.Duration
}

// New creates an Engine.
func New(p Params) *Engine {
	if p.Recorder == nil {
		p.Recorder = audit.Noop{}
	}
	if p.Estimator == nil {
		p.Estimator = tokens.NewEstimator()
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.CallTimeout <= 0 {
		p.CallTimeout = provider.DefaultCallTimeout
	}
	return &Engine{
		limiter:     p.Limiter,
		cache:       p.Cache,
		router:      p.Router,
		validator:   p.Validator,
		pricing:     p.Pricing,
		recorder:    p.Recorder,
		estimator:   p.Estimator,
		configs:     p.Configs,
		classifier:  NewClassifier(),
		selector:    NewSelector(),
		logger:      p.Logger,
		callTimeout: p.CallTimeout,
	}
}

// plan is the outcome of the protected classify/select/cache-lookup step.
type plan struct {
	task       TaskType
	confidence float64
	model      string
	reason     string
	key        string
	coarse     string
	cached     *cache.Entry
}

// HandleCompletionRequest is the single entry point. Admission is checked
// first; past admission, internal failures degrade to a direct call with the
// caller's original model rather than surfacing. Only admission denial,
// no-provider and full fallback exhaustion reach the caller as errors.
func (e *Engine) HandleCompletionRequest(ctx context.Context, orgID string, req *domain.ChatRequest) (*domain.Response, *domain.RoutingDecision, error) {
	res := e.limiter.Allow(ctx, orgID)
	if !res.Allowed {
		retry := int(math.Ceil(res.RetryAfter.Seconds()))
		apiErr := domain.ErrRateLimit(fmt.Sprintf("rate limit exceeded for organization %s", orgID)).WithRetryAfter(retry)
		return nil, nil, &AdmissionError{APIError: apiErr, Usage: res.Usage}
	}

	decision := e.newDecision(orgID, req)
	resp, err := e.process(ctx, orgID, req, decision)

	decision.CreatedAt = time.Now().UTC()
	e.recorder.RecordRoutingDecision(decision)
	return resp, decision, err
}

func (e *Engine) newDecision(orgID string, req *domain.ChatRequest) *domain.RoutingDecision {
	temp := 1.0
	if req.Temperature != nil {
		temp = *req.Temperature
	}
	return &domain.RoutingDecision{
		ID:             uuid.New().String(),
		OrgID:          orgID,
		RequestedModel: req.Model,
		SelectedModel:  req.Model,
		PromptLength:   e.estimator.EstimatePrompt(req.Model, req.Messages),
		Temperature:    temp,
	}
}

func (e *Engine) process(ctx context.Context, orgID string, req *domain.ChatRequest, decision *domain.RoutingDecision) (*domain.Response, error) {
	p, perr := e.safePlan(ctx, orgID, req)
	if perr != nil {
		return e.degrade(ctx, orgID, req, decision, perr)
	}

	decision.TaskType = string(p.task)
	decision.Confidence = p.confidence
	decision.SelectedModel = p.model
	decision.Reason = p.reason

	if p.cached != nil {
		if resp, err := e.serveCached(decision, p.cached); err == nil {
			return resp, nil
		} else {
			// Corrupt payload: treat as a miss and let the normal path
			// repopulate the slot.
			e.logger.Error("cached payload unreadable", slog.String("key", p.key), slog.String("error", err.Error()))
		}
	}

	// Upstream calls run on a detached context: a client disconnect must not
	// abort an in-flight call we will be billed for.
	callCtx := context.WithoutCancel(ctx)
	cfgs := e.configs.ProviderConfigs(orgID)
	opts := domain.OptionsFromRequest(req, e.callTimeout)

	var servedBy domain.ProviderConfig
	dispatch := validate.Dispatcher(func(dctx context.Context, msgs []domain.Message, o domain.CallOptions) (*domain.Response, error) {
		r, cfg, err := e.router.CallWithFallback(dctx, cfgs, p.model, msgs, o)
		if err == nil {
			servedBy = cfg
		}
		return r, err
	})

	resp, err := dispatch(callCtx, req.Messages, opts)
	if err != nil {
		decision.Error = err.Error()
		return nil, callerVisible(err)
	}

	resp = e.safeRepair(callCtx, orgID, decision.ID, resp, req.Messages, opts, dispatch)

	decision.Provider = servedBy.Provider
	decision.Cost = e.pricing.Price(p.model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)

	e.populateCache(ctx, orgID, p, servedBy, resp, decision.Cost)
	return resp, nil
}

// serveCached returns the cached payload unmodified and records a zero-cost
// cache_hit decision.
func (e *Engine) serveCached(decision *domain.RoutingDecision, entry *cache.Entry) (*domain.Response, error) {
	var resp domain.Response
	if err := json.Unmarshal(entry.Payload, &resp); err != nil {
		return nil, fmt.Errorf("decode cached payload: %w", err)
	}
	decision.CacheHit = true
	decision.Reason = ReasonCacheHit
	decision.SelectedModel = entry.Model
	decision.Provider = domain.ProviderType(entry.Provider)
	decision.Cost = decimal.Zero
	return &resp, nil
}

// safePlan runs classification, selection and the cache lookup. Any panic in
// this step is converted to an error and handled by the degraded path.
func (e *Engine) safePlan(ctx context.Context, orgID string, req *domain.ChatRequest) (p plan, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("autopilot planning failed: %v", r)
		}
	}()

	p.task, p.confidence = e.classifier.Classify(req)
	p.model, p.reason = e.selector.Select(req.Model, p.task, p.confidence)
	p.key = cache.Fingerprint(orgID, req, p.model)
	p.coarse = cache.CoarseHash(req, p.model)
	if entry, ok := e.cache.Get(ctx, orgID, p.key); ok {
		p.cached = entry
	}
	return p, nil
}

// safeRepair runs the validator; a panic inside repair returns the response
// untouched rather than failing the request.
func (e *Engine) safeRepair(ctx context.Context, orgID, requestID string, resp *domain.Response, msgs []domain.Message, opts domain.CallOptions, dispatch validate.Dispatcher) (out *domain.Response) {
	out = resp
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("validator panic", slog.String("request_id", requestID), slog.Any("panic", r))
		}
	}()
	return e.validator.Repair(ctx, orgID, requestID, resp, msgs, opts, dispatch)
}

// populateCache writes the response into both tiers. Failures are logged and
// swallowed; caching is derived state and never fails the request.
func (e *Engine) populateCache(ctx context.Context, orgID string, p plan, served domain.ProviderConfig, resp *domain.Response, cost decimal.Decimal) {
	payload, err := json.Marshal(resp)
	if err != nil {
		e.logger.Error("encode response for cache", slog.String("error", err.Error()))
		return
	}
	entry := &cache.Entry{
		Key:              p.key,
		OrgID:            orgID,
		CoarseHash:       p.coarse,
		Payload:          payload,
		Model:            p.model,
		Provider:         string(served.Provider),
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		Cost:             cost,
	}
	if err := e.cache.Set(ctx, entry, 0); err != nil {
		e.logger.Error("cache populate failed", slog.String("key", p.key), slog.String("error", err.Error()))
	}
}

// degrade handles an internal planning failure: log it on the decision and
// fall back to a direct call with the caller's original model. A credential
// rejection on that call tries every other enabled provider before giving up.
func (e *Engine) degrade(ctx context.Context, orgID string, req *domain.ChatRequest, decision *domain.RoutingDecision, cause error) (*domain.Response, error) {
	e.logger.Error("degrading to direct call",
		slog.String("org_id", orgID),
		slog.String("model", req.Model),
		slog.String("error", cause.Error()))

	decision.Degraded = true
	decision.Reason = ReasonDegradedFallback
	decision.Error = cause.Error()
	decision.SelectedModel = req.Model

	cfgs := e.configs.ProviderConfigs(orgID)
	cfg, ok := e.router.Resolve(cfgs, req.Model)
	if !ok {
		return nil, domain.ErrNoProvider(fmt.Sprintf("no enabled provider for model %s", req.Model))
	}

	callCtx := context.WithoutCancel(ctx)
	opts := domain.OptionsFromRequest(req, e.callTimeout)
	resp, err := e.router.Call(callCtx, cfg, router.DispatchModel(cfg.Provider, req.Model), req.Messages, opts)
	if err != nil && isCredentialRejection(err) {
		for _, alt := range cfgs {
			if !alt.Enabled || alt.Provider == cfg.Provider {
				continue
			}
			r, altErr := e.router.Call(callCtx, alt, router.DispatchModel(alt.Provider, req.Model), req.Messages, opts)
			if altErr == nil {
				resp, err, cfg = r, nil, alt
				break
			}
		}
	}
	if err != nil {
		decision.Error = fmt.Sprintf("%s; fallback: %s", cause.Error(), err.Error())
		return nil, callerVisible(err)
	}

	decision.Provider = cfg.Provider
	decision.Cost = e.pricing.Price(req.Model, resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	return resp, nil
}

func isCredentialRejection(err error) bool {
	var apiErr *domain.APIError
	return errors.As(err, &apiErr) && apiErr.Type == domain.ErrorTypeAuthentication
}

// callerVisible maps an internal dispatch failure onto the caller-facing
// error taxonomy.
func callerVisible(err error) error {
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) && apiErr.Type == domain.ErrorTypeNoProvider {
		return apiErr
	}
	var fbErr *router.FallbackError
	if errors.As(err, &fbErr) {
		return domain.ErrUpstream(fbErr.Error())
	}
	return domain.ErrUpstream(err.Error())
}

// CurrentUsage exposes per-window usage without incrementing, for telemetry
// endpoints and headers.
func (e *Engine) CurrentUsage(ctx context.Context, orgID string) []ratelimit.WindowUsage {
	return e.limiter.CurrentUsage(ctx, orgID)
}
