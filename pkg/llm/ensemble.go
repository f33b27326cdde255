package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/MLidstrom/Castellan-sub013/pkg/config"
	"github.com/MLidstrom/Castellan-sub013/pkg/models"
)

// Ensemble voting modes.
const (
	VotingMajority  = "majority"
	VotingUnanimous = "unanimous"
	VotingWeighted  = "weighted"
)

// Confidence reducers.
const (
	ReduceMean         = "mean"
	ReduceMedian       = "median"
	ReduceMin          = "min"
	ReduceMax          = "max"
	ReduceWeightedMean = "weighted_mean"
)

// ModelFactory builds one fully decorated client bound to a model name.
type ModelFactory func(model string) Client

// Ensemble runs an analysis against several models and votes on the
// outcome. Generation is never voted; it goes straight to the default
// client, as does everything when the ensemble is disabled.
type Ensemble struct {
	defaultClient Client
	cfg           config.EnsembleConfig
	clients       []Client
	models        []string
	weights       []float64
	logger        *slog.Logger

	runs           atomic.Uint64
	unanimousVotes atomic.Uint64
	partialResults atomic.Uint64
	fallthroughs   atomic.Uint64
}

var _ Client = (*Ensemble)(nil)

// NewEnsemble builds the decorator. factory is invoked once per configured
// model; defaultClient answers when the ensemble is disabled or yields no
// usable result.
func NewEnsemble(defaultClient Client, factory ModelFactory, cfg config.EnsembleConfig) (*Ensemble, error) {
	e := &Ensemble{
		defaultClient: defaultClient,
		cfg:           cfg,
		logger:        slog.With("component", "llm_ensemble"),
	}
	if !cfg.Enabled {
		return e, nil
	}

	if len(cfg.Models) < 2 {
		return nil, fmt.Errorf("ensemble requires at least two models, got %d", len(cfg.Models))
	}
	e.models = cfg.Models
	e.clients = make([]Client, len(cfg.Models))
	for i, model := range cfg.Models {
		e.clients[i] = factory(model)
	}

	weights, err := normalizedWeights(cfg)
	if err != nil {
		return nil, err
	}
	e.weights = weights

	return e, nil
}

// normalizedWeights returns per-model weights summing to 1.0. Modes that do
// not weight get uniform weights so the vote math stays uniform.
func normalizedWeights(cfg config.EnsembleConfig) ([]float64, error) {
	n := len(cfg.Models)
	weighted := cfg.VotingMode == VotingWeighted || cfg.ConfidenceReducer == ReduceWeightedMean

	if !weighted || len(cfg.Weights) == 0 {
		uniform := make([]float64, n)
		for i := range uniform {
			uniform[i] = 1.0 / float64(n)
		}
		return uniform, nil
	}

	if len(cfg.Weights) != n {
		return nil, fmt.Errorf("ensemble weights count %d does not match models count %d", len(cfg.Weights), n)
	}
	sum := 0.0
	for i, w := range cfg.Weights {
		if w < 0 {
			return nil, fmt.Errorf("ensemble weight %d is negative", i)
		}
		sum += w
	}
	if sum <= 0 {
		return nil, fmt.Errorf("ensemble weights sum to zero")
	}

	out := make([]float64, n)
	for i, w := range cfg.Weights {
		out[i] = w / sum
	}
	return out, nil
}

// ProviderName implements providerNamer.
func (e *Ensemble) ProviderName() string { return ProviderName(e.defaultClient) }

// Generate implements Client.
func (e *Ensemble) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	return e.defaultClient.Generate(ctx, systemPrompt, userPrompt)
}

// modelAnswer is one model's parsed vote. ok is false when the model failed
// or answered something unusable.
type modelAnswer struct {
	model  string
	weight float64
	resp   models.LlmSecurityEventResponse
	ok     bool
}

// Analyze implements Client.
func (e *Ensemble) Analyze(ctx context.Context, event models.LogEvent, neighbors []models.LogEvent) (string, error) {
	if !e.cfg.Enabled {
		return e.defaultClient.Analyze(ctx, event, neighbors)
	}

	e.runs.Add(1)

	runCtx := ctx
	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	answers := e.collect(runCtx, event, neighbors)
	if ctx.Err() != nil {
		return "", ctx.Err()
	}

	successes := 0
	for _, a := range answers {
		if a.ok {
			successes++
		}
	}

	switch {
	case successes == 0:
		e.fallthroughs.Add(1)
		e.logger.Warn("All ensemble models failed, using default client", "models", len(e.clients))
		return e.defaultClient.Analyze(ctx, event, neighbors)

	case successes < e.cfg.MinSuccessfulModels:
		e.partialResults.Add(1)
		best := highestConfidence(answers)
		e.logger.Warn("Ensemble below quorum, using best partial result",
			"successes", successes, "required", e.cfg.MinSuccessfulModels, "model", best.model)
		return marshalResponse(best.resp)
	}

	return marshalResponse(e.aggregate(answers))
}

// collect fans the analysis out over all models, preserving configured
// model order in the result slice.
func (e *Ensemble) collect(ctx context.Context, event models.LogEvent, neighbors []models.LogEvent) []modelAnswer {
	answers := make([]modelAnswer, len(e.clients))

	run := func(ctx context.Context, i int) {
		answers[i] = modelAnswer{model: e.models[i], weight: e.weights[i]}

		raw, err := e.clients[i].Analyze(ctx, event, neighbors)
		if err != nil || raw == "" {
			return
		}
		var resp models.LlmSecurityEventResponse
		if json.Unmarshal([]byte(raw), &resp) != nil || !resp.Risk.IsValid() {
			e.logger.Warn("Discarding unparseable ensemble answer", "model", e.models[i])
			return
		}
		resp.ApplyDefaults()
		answers[i].resp = resp
		answers[i].ok = true
	}

	if e.cfg.Parallel {
		g, gctx := errgroup.WithContext(ctx)
		for i := range e.clients {
			i := i
			g.Go(func() error {
				run(gctx, i)
				return nil
			})
		}
		_ = g.Wait()
		return answers
	}

	for i := range e.clients {
		if ctx.Err() != nil {
			break
		}
		run(ctx, i)
	}
	return answers
}

// aggregate folds all successful answers into one response.
func (e *Ensemble) aggregate(answers []modelAnswer) models.LlmSecurityEventResponse {
	votes := make([]modelAnswer, 0, len(answers))
	for _, a := range answers {
		if a.ok {
			votes = append(votes, a)
		}
	}

	risk, unanimous := e.voteRisk(votes)
	if e.cfg.VotingMode == VotingUnanimous && unanimous {
		e.unanimousVotes.Add(1)
	}

	best := highestConfidence(answers)

	out := models.LlmSecurityEventResponse{
		Risk:               risk,
		Confidence:         e.reduceConfidence(votes),
		Summary:            best.resp.Summary,
		Mitre:              unionSorted(votes),
		RecommendedActions: unionOrdered(votes),
		EventType:          voteEventType(votes),
	}
	return out
}

// voteRisk tallies risk votes. Majority and unanimous modes count heads;
// weighted mode counts normalized weights. Ties go to the risk seen first.
func (e *Ensemble) voteRisk(votes []modelAnswer) (models.RiskLevel, bool) {
	tally := make(map[models.RiskLevel]float64, 4)
	order := make([]models.RiskLevel, 0, 4)

	for _, v := range votes {
		w := 1.0
		if e.cfg.VotingMode == VotingWeighted {
			w = v.weight
		}
		if _, seen := tally[v.resp.Risk]; !seen {
			order = append(order, v.resp.Risk)
		}
		tally[v.resp.Risk] += w
	}

	winner := order[0]
	for _, r := range order[1:] {
		if tally[r] > tally[winner] {
			winner = r
		}
	}
	return winner, len(order) == 1
}

func voteEventType(votes []modelAnswer) models.SecurityEventType {
	tally := make(map[models.SecurityEventType]int)
	order := make([]models.SecurityEventType, 0, len(votes))

	for _, v := range votes {
		t := v.resp.EventType
		if t == "" || !t.IsValid() {
			t = models.EventTypeUnknown
		}
		if _, seen := tally[t]; !seen {
			order = append(order, t)
		}
		tally[t]++
	}
	if len(order) == 0 {
		return models.EventTypeUnknown
	}

	winner := order[0]
	for _, t := range order[1:] {
		if tally[t] > tally[winner] {
			winner = t
		}
	}
	return winner
}

func (e *Ensemble) reduceConfidence(votes []modelAnswer) int {
	values := make([]int, 0, len(votes))
	for _, v := range votes {
		values = append(values, v.resp.Confidence)
	}

	switch e.cfg.ConfidenceReducer {
	case ReduceMedian:
		sort.Ints(values)
		mid := len(values) / 2
		if len(values)%2 == 1 {
			return values[mid]
		}
		return int(math.Round(float64(values[mid-1]+values[mid]) / 2))

	case ReduceMin:
		min := values[0]
		for _, v := range values[1:] {
			if v < min {
				min = v
			}
		}
		return min

	case ReduceMax:
		max := values[0]
		for _, v := range values[1:] {
			if v > max {
				max = v
			}
		}
		return max

	case ReduceWeightedMean:
		sum, wsum := 0.0, 0.0
		for _, v := range votes {
			sum += v.weight * float64(v.resp.Confidence)
			wsum += v.weight
		}
		if wsum == 0 {
			return 0
		}
		return int(math.Round(sum / wsum))

	default: // mean
		sum := 0
		for _, v := range values {
			sum += v
		}
		return int(math.Round(float64(sum) / float64(len(values))))
	}
}

// highestConfidence picks the best successful answer, ties broken by
// configured model order.
func highestConfidence(answers []modelAnswer) modelAnswer {
	var best modelAnswer
	for _, a := range answers {
		if !a.ok {
			continue
		}
		if !best.ok || a.resp.Confidence > best.resp.Confidence {
			best = a
		}
	}
	return best
}

// unionSorted merges MITRE ids across answers into a sorted unique list.
func unionSorted(votes []modelAnswer) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, v := range votes {
		for _, id := range v.resp.Mitre {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// unionOrdered merges recommended actions preserving first-seen order.
func unionOrdered(votes []modelAnswer) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, v := range votes {
		for _, action := range v.resp.RecommendedActions {
			action = strings.TrimSpace(action)
			if action == "" {
				continue
			}
			if _, dup := seen[action]; dup {
				continue
			}
			seen[action] = struct{}{}
			out = append(out, action)
		}
	}
	return out
}

// EnsembleStats is a point-in-time snapshot of voting outcomes.
type EnsembleStats struct {
	Runs           uint64 `json:"runs"`
	UnanimousVotes uint64 `json:"unanimousVotes"`
	PartialResults uint64 `json:"partialResults"`
	Fallthroughs   uint64 `json:"fallthroughs"`
}

// Snapshot returns current counters.
func (e *Ensemble) Snapshot() EnsembleStats {
	return EnsembleStats{
		Runs:           e.runs.Load(),
		UnanimousVotes: e.unanimousVotes.Load(),
		PartialResults: e.partialResults.Load(),
		Fallthroughs:   e.fallthroughs.Load(),
	}
}
