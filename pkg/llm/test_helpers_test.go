package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MLidstrom/Castellan-sub013/pkg/models"
)

// scriptedReply is one canned answer for the mock client.
type scriptedReply struct {
	text string
	err  error
}

// mockClient is a test mock for Client. Analyze and Generate consume their
// reply queues in call order; an exhausted queue repeats the last entry.
type mockClient struct {
	mu sync.Mutex

	analyzeReplies  []scriptedReply
	generateReplies []scriptedReply

	analyzeCalls  int
	generateCalls int

	lastSystemPrompt string
	lastUserPrompt   string
	lastNeighbors    []models.LogEvent

	// onCall runs before each Analyze/Generate with the call index,
	// letting tests inject side effects such as cancelling a context or
	// blocking past a deadline.
	onCall func(ctx context.Context, call int)
}

var _ Client = (*mockClient)(nil)

func (m *mockClient) ProviderName() string { return "mock" }

func (m *mockClient) Analyze(ctx context.Context, _ models.LogEvent, neighbors []models.LogEvent) (string, error) {
	m.mu.Lock()
	call := m.analyzeCalls
	m.analyzeCalls++
	m.lastNeighbors = neighbors
	hook := m.onCall
	reply := takeReply(m.analyzeReplies, call)
	m.mu.Unlock()

	if hook != nil {
		hook(ctx, call)
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	return reply.text, reply.err
}

func (m *mockClient) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	m.mu.Lock()
	call := m.generateCalls
	m.generateCalls++
	m.lastSystemPrompt = systemPrompt
	m.lastUserPrompt = userPrompt
	hook := m.onCall
	reply := takeReply(m.generateReplies, call)
	m.mu.Unlock()

	if hook != nil {
		hook(ctx, call)
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	return reply.text, reply.err
}

func (m *mockClient) calls() (analyze, generate int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.analyzeCalls, m.generateCalls
}

func takeReply(replies []scriptedReply, call int) scriptedReply {
	if len(replies) == 0 {
		return scriptedReply{}
	}
	if call >= len(replies) {
		return replies[len(replies)-1]
	}
	return replies[call]
}

// blockUntilDone keeps a call pending until its context expires, simulating
// a hung model server.
func blockUntilDone(ctx context.Context, _ int) {
	<-ctx.Done()
}

func testEvent() models.LogEvent {
	return models.NewLogEvent(
		time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		"WS01", "Security", 4624, "Information", "alice",
		"An account was successfully logged on", "", "",
	)
}

func validAnswer(risk string, confidence int) string {
	return fmt.Sprintf(`{"risk":%q,"confidence":%d,"summary":"Successful login from known workstation","mitre":["T1078"],"recommended_actions":["Review logon origin"]}`, risk, confidence)
}
