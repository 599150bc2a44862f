package recommend

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"recipe-recommender/internal/core/ai/oracle"
	"recipe-recommender/internal/core/catalog"
	"recipe-recommender/internal/core/profile"
	"recipe-recommender/internal/core/taxonomy"
	"recipe-recommender/internal/metrics"
	"recipe-recommender/internal/pkg/common"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ResultCache 推薦結果快取；只存成功結果
type ResultCache interface {
	Get(ctx context.Context, key string) (*Result, bool)
	Set(ctx context.Context, key string, r *Result)
}

// Outcome 單次請求的遙測事件
type Outcome struct {
	RequestID      string        `json:"request_id"`
	UserID         string        `json:"user_id"`
	MealType       string        `json:"meal_type,omitempty"`
	Outcome        string        `json:"outcome"`
	Error          string        `json:"error,omitempty"`
	Backend        string        `json:"backend,omitempty"`
	WideningLevel  int           `json:"widening_level"`
	CandidateCount int           `json:"candidate_count"`
	Attempts       int           `json:"attempts"`
	Recommended    []string      `json:"recommended,omitempty"`
	Avoided        []Avoided     `json:"avoided,omitempty"`
	Diagnostics    Diagnostics   `json:"diagnostics"`
	CacheHit       bool          `json:"cache_hit,omitempty"`
	Duration       time.Duration `json:"duration_ns"`
	At             time.Time     `json:"at"`
}

// OutcomePublisher 接收每一次請求的結果
type OutcomePublisher interface {
	Publish(ctx context.Context, o Outcome) error
}

// Option 服務選項
type Option func(*Service)

// WithCache 啟用結果快取
func WithCache(c ResultCache) Option {
	return func(s *Service) { s.cache = c }
}

// WithPublisher 啟用遙測
func WithPublisher(p OutcomePublisher) Option {
	return func(s *Service) { s.publisher = p }
}

// WithClock 替換時鐘（餐別推測與時間戳）
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service 推薦流程
type Service struct {
	profiles  profile.Store
	tax       *taxonomy.Taxonomy
	oracle    oracle.Client
	catalog   catalog.Catalog
	selector  *Selector
	prompts   *PromptBuilder
	cfg       Config
	cache     ResultCache
	publisher OutcomePublisher
	now       func() time.Time
}

// NewService 創建推薦服務
func NewService(profiles profile.Store, cat catalog.Catalog, tax *taxonomy.Taxonomy, oc oracle.Client, cfg Config, opts ...Option) *Service {
	if cfg.MaxOracleAttempts <= 0 {
		cfg.MaxOracleAttempts = 1
	}
	s := &Service{
		profiles: profiles,
		tax:      tax,
		oracle:   oc,
		catalog:  cat,
		selector: NewSelector(cat, tax, cfg),
		prompts:  NewPromptBuilder(tax, cfg),
		cfg:      cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// run 單次請求的中間狀態
type run struct {
	req      Request
	profile  *profile.TasteProfile
	cands    *CandidateSet
	parsed   *Parsed
	avoided  []Avoided
	attempts int
	cacheHit bool
}

// Recommend 執行一次推薦
//
// 請求層級的失敗以 *PipelineError 返回，永遠不會降級為空結果或部分結果。
func (s *Service) Recommend(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}
	r := &run{req: req}

	res, err := s.recommend(ctx, r)

	outcome := OutcomeOf(err)
	metrics.RecordRecommendation(outcome, time.Since(start))
	s.publish(ctx, r, res, outcome, err, time.Since(start))

	if err != nil {
		common.LogError("推薦請求失敗",
			zap.String("request_id", req.RequestID),
			zap.String("user_id", req.UserID),
			zap.String("outcome", outcome),
			zap.Int("attempts", r.attempts),
			zap.Int("avoided", len(r.avoided)),
			zap.Error(err),
		)
		return nil, err
	}
	common.LogInfo("推薦完成",
		zap.String("request_id", req.RequestID),
		zap.String("user_id", req.UserID),
		zap.Int("recommendations", len(res.Recommendations)),
		zap.Int("avoided", len(res.Avoided)),
		zap.Int("widening_level", res.WideningLevel),
		zap.Bool("cache_hit", res.CacheHit),
		zap.Duration("duration", time.Since(start)),
	)
	return res, nil
}

func (s *Service) recommend(ctx context.Context, r *run) (*Result, error) {
	p, err := s.loadProfile(ctx, r.req.UserID)
	if err != nil {
		return nil, err
	}
	r.profile = p

	meal, err := s.mealType(r.req.MealType)
	if err != nil {
		return nil, err
	}
	r.req.MealType = meal

	var cacheKey string
	if s.cache != nil {
		cacheKey = CacheKey(p, r.req)
		if cached, ok := s.cache.Get(ctx, cacheKey); ok {
			if s.stillValid(ctx, r, cached) {
				metrics.ResultCache.WithLabelValues("hit").Inc()
				common.LogCacheHit("recommendation", cacheKey)
				out := *cached
				out.RequestID = r.req.RequestID
				out.CacheHit = true
				r.cacheHit = true
				return &out, nil
			}
			metrics.ResultCache.WithLabelValues("stale").Inc()
		} else {
			metrics.ResultCache.WithLabelValues("miss").Inc()
		}
		common.LogCacheMiss("recommendation", cacheKey)
	}

	cs, err := s.selectCandidates(ctx, r)
	if err != nil {
		return nil, err
	}
	r.cands = cs

	parsed, err := s.rank(ctx, r)
	if err != nil {
		return nil, err
	}
	r.parsed = parsed
	s.reportAnomalies(r)
	r.avoided = append(r.avoided, parsed.Avoided...)

	approved, rejected := ValidateAll(cs.Constraints, cs, parsed.Selections, s.cfg.RejectThreshold)
	for _, a := range rejected {
		metrics.ValidatorRejections.WithLabelValues(string(a.Check)).Inc()
		common.LogDebug("驗證器排除選擇",
			zap.String("request_id", r.req.RequestID),
			zap.String("recipe_id", a.RecipeID),
			zap.String("check", string(a.Check)),
			zap.String("reason", a.Reason),
		)
	}
	r.avoided = append(r.avoided, rejected...)

	kept, dropped := Diversify(approved)
	metrics.DiversityDrops.Add(float64(len(dropped)))
	r.avoided = append(r.avoided, dropped...)

	recs, err := Assemble(kept, s.cfg.MinResults, s.cfg.MaxResults)
	if err != nil {
		var pe *PipelineError
		if errors.As(err, &pe) {
			pe.Attempts = r.attempts
		}
		return nil, err
	}

	res := &Result{
		RequestID:       r.req.RequestID,
		UserID:          p.UserID,
		MealType:        r.req.MealType,
		Recommendations: recs,
		Avoided:         r.avoided,
		Diagnostics:     parsed.Diagnostics,
		WideningLevel:   cs.Level,
		CandidateCount:  cs.Len(),
		Attempts:        r.attempts,
		Backend:         s.oracle.Name(),
		GeneratedAt:     s.now().UTC(),
	}
	if s.cache != nil {
		s.cache.Set(ctx, cacheKey, res)
	}
	return res, nil
}

// stillValid 以目前的目錄記錄重新驗證快取結果
//
// 快取期間食譜可能被重新標記或刪除；任何一道不再通過硬性限制即視為未命中。
func (s *Service) stillValid(ctx context.Context, r *run, cached *Result) bool {
	plan := WideningPlan(ConstraintsFor(r.profile, s.tax, r.req.MealType), s.cfg.WidenTimeSlackMinutes)
	if cached.WideningLevel < 0 || cached.WideningLevel >= len(plan) {
		return false
	}
	c := plan[cached.WideningLevel]
	for _, rec := range cached.Recommendations {
		recipe, err := s.catalog.Get(ctx, rec.RecipeID)
		if err != nil {
			common.LogDebug("快取結果的食譜無法取得",
				zap.String("request_id", r.req.RequestID),
				zap.String("recipe_id", rec.RecipeID),
				zap.Error(err),
			)
			return false
		}
		if v := Validate(c, &recipe, rec.Confidence, s.cfg.RejectThreshold); v != nil {
			common.LogInfo("快取結果已失效",
				zap.String("request_id", r.req.RequestID),
				zap.String("recipe_id", rec.RecipeID),
				zap.String("check", string(v.Check)),
				zap.String("reason", v.Reason),
			)
			return false
		}
	}
	return true
}

// loadProfile 取得口味檔案快照；請求期間不受外部修改影響
func (s *Service) loadProfile(ctx context.Context, userID string) (*profile.TasteProfile, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, &PipelineError{Kind: ErrInvalidRequest, Stage: StageRequest, Err: errors.New("user_id is required")}
	}
	p, err := s.profiles.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, profile.ErrNotFound) {
			return nil, &PipelineError{Kind: ErrProfileNotFound, Stage: StageProfile, Err: err}
		}
		return nil, fmt.Errorf("load profile %s: %w", userID, err)
	}
	p = p.Clone()
	if err := p.Normalize(s.tax); err != nil {
		return nil, &PipelineError{Kind: ErrInvalidProfile, Stage: StageProfile, Err: err}
	}
	if err := p.Validate(); err != nil {
		return nil, &PipelineError{Kind: ErrInvalidProfile, Stage: StageProfile, Err: err}
	}
	return p, nil
}

func (s *Service) mealType(raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		if s.cfg.AutoMealType {
			return DetectMealType(s.now()), nil
		}
		return "", nil
	}
	meal, ok := s.tax.Canonical(taxonomy.DimMealType, raw)
	if !ok {
		return "", &PipelineError{Kind: ErrInvalidRequest, Stage: StageRequest, Err: fmt.Errorf("unknown meal type %q", raw)}
	}
	return meal, nil
}

// selectCandidates 依放寬計畫選出候選集
//
// 取第一個達到最低可用數量的層級；都不足時取候選最多的層級。
func (s *Service) selectCandidates(ctx context.Context, r *run) (*CandidateSet, error) {
	base := ConstraintsFor(r.profile, s.tax, r.req.MealType)
	var best *CandidateSet
	for level, c := range WideningPlan(base, s.cfg.WidenTimeSlackMinutes) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cs, err := s.selector.Select(ctx, r.profile, c, level)
		if err != nil {
			return nil, err
		}
		if best == nil || cs.Len() > best.Len() {
			best = cs
		}
		if cs.Len() >= s.cfg.MinViableCandidates {
			best = cs
			break
		}
		common.LogDebug("候選不足，放寬篩選",
			zap.String("request_id", r.req.RequestID),
			zap.Int("level", level),
			zap.Int("candidates", cs.Len()),
		)
	}

	metrics.RecordWidening(best.Level, best.Len())
	if best.Len() < s.cfg.MinResults {
		return nil, &PipelineError{
			Kind:  ErrInsufficientCandidates,
			Stage: StageSelect,
			Got:   best.Len(),
			Need:  s.cfg.MinResults,
		}
	}
	if best.Len() < s.cfg.MinViableCandidates {
		common.LogWarn("候選數量低於建議值",
			zap.String("request_id", r.req.RequestID),
			zap.Int("candidates", best.Len()),
			zap.Int("min_viable", s.cfg.MinViableCandidates),
			zap.Int("level", best.Level),
		)
	}
	return best, nil
}

// rank 呼叫 oracle 並解析回應，傳輸或格式錯誤時最多重試一次
func (s *Service) rank(ctx context.Context, r *run) (*Parsed, error) {
	var (
		lastErr    error
		correction string
	)
	for r.attempts < s.cfg.MaxOracleAttempts {
		r.attempts++

		prompt, err := s.prompts.Build(r.profile, r.cands, PromptOptions{
			MealType:          r.req.MealType,
			PantryIngredients: r.req.PantryIngredients,
			Correction:        correction,
		})
		if err != nil {
			return nil, err
		}

		completion, err := s.complete(ctx, prompt)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			lastErr = &PipelineError{Kind: ErrOracleTransport, Stage: StageOracle, Attempts: r.attempts, Err: err}
			common.LogWarn("Oracle 呼叫失敗",
				zap.String("request_id", r.req.RequestID),
				zap.Int("attempt", r.attempts),
				zap.Error(err),
			)
			if errors.Is(err, oracle.ErrCircuitOpen) {
				break
			}
			correction = ""
			continue
		}

		parsed, err := ParseResponse(completion.Content, r.cands, s.cfg.MinAvoided)
		if err != nil {
			var pe *PipelineError
			if errors.As(err, &pe) {
				pe.Attempts = r.attempts
				if pe.Err != nil {
					correction = pe.Err.Error()
				}
			}
			lastErr = err
			metrics.ParserAnomalies.WithLabelValues("malformed").Inc()
			common.LogWarn("Oracle 回應格式錯誤",
				zap.String("request_id", r.req.RequestID),
				zap.Int("attempt", r.attempts),
				zap.Error(err),
				zap.String("raw_response", completion.Content),
			)
			continue
		}
		return parsed, nil
	}
	return nil, lastErr
}

// complete 以單次逾時呼叫 oracle
func (s *Service) complete(ctx context.Context, prompt Prompt) (*oracle.Completion, error) {
	attemptCtx := ctx
	if s.cfg.OracleAttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, s.cfg.OracleAttemptTimeout)
		defer cancel()
	}

	start := time.Now()
	completion, err := s.oracle.Complete(attemptCtx, &oracle.Request{
		System:      prompt.System,
		User:        prompt.User,
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
	})
	duration := time.Since(start)

	var promptTokens, completionTokens int
	if completion != nil {
		promptTokens, completionTokens = completion.PromptTokens, completion.CompletionTokens
	}
	metrics.RecordOracleCall(s.oracle.Name(), duration, promptTokens, completionTokens, err)
	common.LogOracleCall(s.oracle.Name(), duration, promptTokens, completionTokens, err)
	return completion, err
}

func (s *Service) reportAnomalies(r *run) {
	d := r.parsed.Diagnostics
	if len(d.UnknownIDs) > 0 {
		metrics.ParserAnomalies.WithLabelValues("unknown_id").Add(float64(len(d.UnknownIDs)))
		common.LogWarn("Oracle 回傳未知的食譜 ID",
			zap.String("request_id", r.req.RequestID),
			zap.Strings("recipe_ids", d.UnknownIDs),
		)
	}
	if len(d.DuplicateIDs) > 0 {
		metrics.ParserAnomalies.WithLabelValues("duplicate_id").Add(float64(len(d.DuplicateIDs)))
	}
	if d.NonDiscriminating {
		metrics.ParserAnomalies.WithLabelValues("non_discriminating").Inc()
		common.LogWarn("Oracle 回應缺乏區辨力",
			zap.String("request_id", r.req.RequestID),
			zap.Bool("uniform_confidence", d.UniformConfidence),
			zap.Int("avoided", len(r.parsed.Avoided)),
		)
	}
	if d.LegacyArrayFormat {
		metrics.ParserAnomalies.WithLabelValues("legacy_array").Inc()
	}
}

func (s *Service) publish(ctx context.Context, r *run, res *Result, outcome string, err error, d time.Duration) {
	if s.publisher == nil {
		return
	}
	o := Outcome{
		RequestID: r.req.RequestID,
		UserID:    r.req.UserID,
		MealType:  r.req.MealType,
		Outcome:   outcome,
		Backend:   s.oracle.Name(),
		Attempts:  r.attempts,
		Avoided:   r.avoided,
		CacheHit:  r.cacheHit,
		Duration:  d,
		At:        s.now().UTC(),
	}
	if err != nil {
		o.Error = err.Error()
	}
	if r.cands != nil {
		o.WideningLevel = r.cands.Level
		o.CandidateCount = r.cands.Len()
	}
	if r.parsed != nil {
		o.Diagnostics = r.parsed.Diagnostics
	}
	if res != nil {
		o.Recommended = make([]string, len(res.Recommendations))
		for i, rec := range res.Recommendations {
			o.Recommended[i] = rec.RecipeID
		}
	}
	// 呼叫方取消後仍送出結果事件
	if perr := s.publisher.Publish(context.WithoutCancel(ctx), o); perr != nil {
		common.LogWarn("遙測事件送出失敗",
			zap.String("request_id", r.req.RequestID),
			zap.Error(perr),
		)
	}
}

// CacheKey 由使用者、餐別、食材與口味檔案指紋組成
func CacheKey(p *profile.TasteProfile, req Request) string {
	pantry := append([]string(nil), req.PantryIngredients...)
	for i := range pantry {
		pantry[i] = strings.ToLower(strings.TrimSpace(pantry[i]))
	}
	sort.Strings(pantry)

	h := sha256.New()
	data, _ := json.Marshal(struct {
		Profile *profile.TasteProfile `json:"profile"`
		Pantry  []string              `json:"pantry"`
	}{p, pantry})
	h.Write(data)

	meal := req.MealType
	if meal == "" {
		meal = "any"
	}
	return fmt.Sprintf("%s:%s:%s", p.UserID, meal, hex.EncodeToString(h.Sum(nil))[:16])
}
