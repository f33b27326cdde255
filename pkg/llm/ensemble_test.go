package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MLidstrom/Castellan-sub013/pkg/config"
	"github.com/MLidstrom/Castellan-sub013/pkg/models"
)

func ensembleConfig(names ...string) config.EnsembleConfig {
	return config.EnsembleConfig{
		Enabled:             true,
		Models:              names,
		Parallel:            false,
		VotingMode:          VotingMajority,
		ConfidenceReducer:   ReduceMean,
		MinSuccessfulModels: 2,
	}
}

// answerFor builds a full JSON answer with distinct per-model fields.
func answerFor(risk string, confidence int, summary string, mitre, actions []string) string {
	resp := models.LlmSecurityEventResponse{
		Risk:               models.RiskLevel(risk),
		Confidence:         confidence,
		Summary:            summary,
		Mitre:              mitre,
		RecommendedActions: actions,
	}
	data, _ := json.Marshal(resp)
	return string(data)
}

// newEnsembleWith wires an ensemble whose member clients answer from the
// byModel map; missing entries fail.
func newEnsembleWith(t *testing.T, cfg config.EnsembleConfig, byModel map[string]scriptedReply) (*Ensemble, map[string]*mockClient) {
	t.Helper()

	mocks := make(map[string]*mockClient, len(byModel))
	factory := func(model string) Client {
		m := &mockClient{analyzeReplies: []scriptedReply{byModel[model]}}
		mocks[model] = m
		return m
	}

	defaultMock := &mockClient{analyzeReplies: []scriptedReply{{text: validAnswer("low", 50)}}}
	mocks["default"] = defaultMock

	e, err := NewEnsemble(defaultMock, factory, cfg)
	require.NoError(t, err)
	return e, mocks
}

func TestEnsembleDisabledDelegates(t *testing.T) {
	defaultMock := &mockClient{
		analyzeReplies:  []scriptedReply{{text: "raw answer"}},
		generateReplies: []scriptedReply{{text: "generated"}},
	}
	e, err := NewEnsemble(defaultMock, nil, config.EnsembleConfig{Enabled: false})
	require.NoError(t, err)

	out, err := e.Analyze(context.Background(), testEvent(), nil)
	require.NoError(t, err)
	assert.Equal(t, "raw answer", out)

	gen, err := e.Generate(context.Background(), "s", "u")
	require.NoError(t, err)
	assert.Equal(t, "generated", gen)
	assert.Zero(t, e.Snapshot().Runs)
}

func TestEnsembleRequiresTwoModels(t *testing.T) {
	cfg := ensembleConfig("only-one")
	_, err := NewEnsemble(&mockClient{}, func(string) Client { return &mockClient{} }, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least two models")
}

func TestEnsembleMajorityVote(t *testing.T) {
	cfg := ensembleConfig("m1", "m2", "m3")
	e, _ := newEnsembleWith(t, cfg, map[string]scriptedReply{
		"m1": {text: answerFor("high", 80, "Privilege escalation attempt detected", []string{"T1068"}, []string{"Isolate host"})},
		"m2": {text: answerFor("high", 90, "Likely privilege escalation on workstation", []string{"T1068", "T1078"}, []string{"Reset credentials"})},
		"m3": {text: answerFor("low", 40, "Routine administrative activity", nil, []string{"Isolate host"})},
	})

	out, err := e.Analyze(context.Background(), testEvent(), nil)
	require.NoError(t, err)

	resp := mustParse(t, out)
	assert.Equal(t, models.RiskLevelHigh, resp.Risk, "two high votes beat one low")
	assert.Equal(t, 70, resp.Confidence, "mean of 80, 90, 40")
	assert.Equal(t, "Likely privilege escalation on workstation", resp.Summary, "highest-confidence summary wins")
	assert.Equal(t, []string{"T1068", "T1078"}, resp.Mitre, "sorted union")
	assert.Equal(t, []string{"Isolate host", "Reset credentials"}, resp.RecommendedActions, "order-preserving union")
}

func TestEnsembleTieGoesToFirstModel(t *testing.T) {
	cfg := ensembleConfig("m1", "m2")
	e, _ := newEnsembleWith(t, cfg, map[string]scriptedReply{
		"m1": {text: answerFor("medium", 60, "Possibly suspicious activity observed", nil, nil)},
		"m2": {text: answerFor("critical", 60, "Active compromise indicators present", nil, nil)},
	})

	out, err := e.Analyze(context.Background(), testEvent(), nil)
	require.NoError(t, err)
	assert.Equal(t, models.RiskLevelMedium, mustParse(t, out).Risk, "first configured model wins ties")
}

func TestEnsembleWeightedVote(t *testing.T) {
	cfg := ensembleConfig("m1", "m2", "m3")
	cfg.VotingMode = VotingWeighted
	cfg.Weights = []float64{5, 1, 1}

	e, _ := newEnsembleWith(t, cfg, map[string]scriptedReply{
		"m1": {text: answerFor("critical", 95, "Confirmed compromise in progress now", nil, nil)},
		"m2": {text: answerFor("low", 30, "Benign looking administrative action", nil, nil)},
		"m3": {text: answerFor("low", 35, "Expected maintenance window activity", nil, nil)},
	})

	out, err := e.Analyze(context.Background(), testEvent(), nil)
	require.NoError(t, err)
	assert.Equal(t, models.RiskLevelCritical, mustParse(t, out).Risk,
		"one heavy vote outweighs two light ones")
}

func TestEnsembleConfidenceReducers(t *testing.T) {
	tests := []struct {
		reducer string
		want    int
	}{
		{ReduceMean, 60},   // (30+60+90)/3
		{ReduceMedian, 60}, // middle of 30,60,90
		{ReduceMin, 30},
		{ReduceMax, 90},
	}

	for _, tt := range tests {
		t.Run(tt.reducer, func(t *testing.T) {
			cfg := ensembleConfig("m1", "m2", "m3")
			cfg.ConfidenceReducer = tt.reducer

			e, _ := newEnsembleWith(t, cfg, map[string]scriptedReply{
				"m1": {text: answerFor("low", 30, "Low confidence benign classification", nil, nil)},
				"m2": {text: answerFor("low", 60, "Medium confidence benign classification", nil, nil)},
				"m3": {text: answerFor("low", 90, "High confidence benign classification", nil, nil)},
			})

			out, err := e.Analyze(context.Background(), testEvent(), nil)
			require.NoError(t, err)
			assert.Equal(t, tt.want, mustParse(t, out).Confidence)
		})
	}
}

func TestEnsembleWeightedMeanConfidence(t *testing.T) {
	cfg := ensembleConfig("m1", "m2")
	cfg.ConfidenceReducer = ReduceWeightedMean
	cfg.Weights = []float64{3, 1}

	e, _ := newEnsembleWith(t, cfg, map[string]scriptedReply{
		"m1": {text: answerFor("low", 80, "Weighted heavily toward this answer", nil, nil)},
		"m2": {text: answerFor("low", 40, "Weighted lightly toward this answer", nil, nil)},
	})

	out, err := e.Analyze(context.Background(), testEvent(), nil)
	require.NoError(t, err)
	// 0.75*80 + 0.25*40 = 70
	assert.Equal(t, 70, mustParse(t, out).Confidence)
}

func TestEnsembleUnanimousTracking(t *testing.T) {
	cfg := ensembleConfig("m1", "m2")
	cfg.VotingMode = VotingUnanimous

	e, _ := newEnsembleWith(t, cfg, map[string]scriptedReply{
		"m1": {text: answerFor("high", 80, "Both models agree on elevated risk", nil, nil)},
		"m2": {text: answerFor("high", 85, "Both models agree on elevated risk", nil, nil)},
	})

	_, err := e.Analyze(context.Background(), testEvent(), nil)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), e.Snapshot().UnanimousVotes)
}

func TestEnsembleBelowQuorumUsesBestPartial(t *testing.T) {
	cfg := ensembleConfig("m1", "m2", "m3")
	cfg.MinSuccessfulModels = 2

	e, _ := newEnsembleWith(t, cfg, map[string]scriptedReply{
		"m1": {text: answerFor("medium", 65, "The only model that answered usable JSON", nil, nil)},
		"m2": {text: ""},
		"m3": {err: fmt.Errorf("model unavailable")},
	})

	out, err := e.Analyze(context.Background(), testEvent(), nil)
	require.NoError(t, err)

	resp := mustParse(t, out)
	assert.Equal(t, models.RiskLevelMedium, resp.Risk)
	assert.Equal(t, 65, resp.Confidence)
	assert.Equal(t, uint64(1), e.Snapshot().PartialResults)
}

func TestEnsembleAllFailedFallsThrough(t *testing.T) {
	cfg := ensembleConfig("m1", "m2")
	e, mocks := newEnsembleWith(t, cfg, map[string]scriptedReply{
		"m1": {text: ""},
		"m2": {text: "complete garbage"},
	})

	out, err := e.Analyze(context.Background(), testEvent(), nil)
	require.NoError(t, err)

	resp := mustParse(t, out)
	assert.Equal(t, models.RiskLevelLow, resp.Risk, "default client's answer")

	defaultCalls, _ := mocks["default"].calls()
	assert.Equal(t, 1, defaultCalls)
	assert.Equal(t, uint64(1), e.Snapshot().Fallthroughs)
}

func TestEnsembleParallelCollectsAll(t *testing.T) {
	cfg := ensembleConfig("m1", "m2", "m3")
	cfg.Parallel = true

	e, mocks := newEnsembleWith(t, cfg, map[string]scriptedReply{
		"m1": {text: answerFor("low", 50, "Parallel answer from the first model", nil, nil)},
		"m2": {text: answerFor("low", 55, "Parallel answer from the second model", nil, nil)},
		"m3": {text: answerFor("low", 60, "Parallel answer from the third model", nil, nil)},
	})

	out, err := e.Analyze(context.Background(), testEvent(), nil)
	require.NoError(t, err)
	assert.Equal(t, 55, mustParse(t, out).Confidence, "mean of all three")

	for _, model := range []string{"m1", "m2", "m3"} {
		calls, _ := mocks[model].calls()
		assert.Equal(t, 1, calls, "model %s must be consulted exactly once", model)
	}
}

func TestEnsembleGenerateNeverVoted(t *testing.T) {
	cfg := ensembleConfig("m1", "m2")
	e, mocks := newEnsembleWith(t, cfg, map[string]scriptedReply{
		"m1": {text: "x"}, "m2": {text: "y"},
	})
	mocks["default"].generateReplies = []scriptedReply{{text: "from default"}}

	out, err := e.Generate(context.Background(), "sys", "user")
	require.NoError(t, err)
	assert.Equal(t, "from default", out)

	for _, model := range []string{"m1", "m2"} {
		calls, _ := mocks[model].calls()
		assert.Zero(t, calls)
	}
}

func TestEnsembleWeightMismatchRejected(t *testing.T) {
	cfg := ensembleConfig("m1", "m2")
	cfg.VotingMode = VotingWeighted
	cfg.Weights = []float64{1, 2, 3}

	_, err := NewEnsemble(&mockClient{}, func(string) Client { return &mockClient{} }, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match models count")
}
