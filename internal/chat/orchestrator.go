package chat

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/modelfleet/modelfleet/config"
	"github.com/modelfleet/modelfleet/internal/helpers"
	"github.com/modelfleet/modelfleet/internal/telemetry"
	"github.com/modelfleet/modelfleet/models"
)

var chatTracer trace.Tracer = otel.Tracer("modelfleet/internal/chat")

// MemoryStore is the conversational memory consumed by the orchestrator.
type MemoryStore interface {
	AddMessage(models.Turn)
	Conversation() []models.Turn
	RelevantContext(query string) []models.DocumentChunk
	Clear()
}

// ModelInvoker issues one chat-completion call. *Client satisfies it.
type ModelInvoker interface {
	Invoke(ctx context.Context, model config.ModelConfig, history []Message, sink StreamSink) (string, error)
}

// Event is one observable step of a dispatch round, delivered to the
// optional notify callback passed to Send.
type Event struct {
	Type    string `json:"type"` // token, model_done, model_error, round_done
	RoundID string `json:"round_id"`
	Model   string `json:"model,omitempty"`
	Data    string `json:"data,omitempty"`
}

// Orchestrator coordinates one conversation: it fans a user turn out to
// the selected models concurrently, accumulates their streams into
// per-model buffers and folds completed responses back into memory.
// Conversation state is only ever mutated by the round's coordinating
// goroutine; the per-model goroutines write exclusively into their own
// buffers.
type Orchestrator struct {
	gateway config.GatewayConfig
	client  ModelInvoker
	mem     MemoryStore
	tele    *telemetry.Telemetry
	logger  *log.Logger

	// dispatchMu serializes the cancel-prior-round / register-new-round
	// window so concurrent Send calls cannot both start streaming.
	dispatchMu sync.Mutex

	mu           sync.Mutex
	params       map[string]*ModelParams
	systemPrompt string
	active       *Round
}

// NewOrchestrator wires an orchestrator for a single conversation.
func NewOrchestrator(gateway config.GatewayConfig, client ModelInvoker, mem MemoryStore, tele *telemetry.Telemetry, logger *log.Logger) *Orchestrator {
	if logger == nil {
		logger = log.New(log.Writer(), "[ORCH] ", log.LstdFlags)
	}
	return &Orchestrator{
		gateway: gateway,
		client:  client,
		mem:     mem,
		tele:    tele,
		logger:  logger,
		params:  make(map[string]*ModelParams),
	}
}

// Round is one dispatched user turn and its concurrent model responses.
// The per-round response buffers live here, scoped to the round's
// lifetime, not in any process-wide cache.
type Round struct {
	id        string
	cancel    context.CancelFunc
	buffers   map[string]*modelBuffer
	order     []string
	done      chan struct{}
	mu        sync.Mutex
	status    RoundStatus
	cancelled bool
}

type modelBuffer struct {
	mu      sync.Mutex
	content strings.Builder
	done    bool
	errMsg  string
}

func (b *modelBuffer) append(tok string) {
	b.mu.Lock()
	b.content.WriteString(tok)
	b.mu.Unlock()
}

func (b *modelBuffer) snapshot() (string, bool, string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.content.String(), b.done, b.errMsg
}

// ID returns the round identifier.
func (r *Round) ID() string { return r.id }

// Wait blocks until every model call of the round has settled.
func (r *Round) Wait() { <-r.done }

// Status returns the round's current lifecycle state.
func (r *Round) Status() RoundStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Snapshot copies the round's visible state for rendering. Buffer
// contents reflect every token received so far, in arrival order.
func (r *Round) Snapshot() RoundSnapshot {
	snap := RoundSnapshot{RoundID: r.id, Status: r.Status()}
	for _, name := range r.order {
		content, done, errMsg := r.buffers[name].snapshot()
		snap.Responses = append(snap.Responses, ModelResponse{
			ModelName: name,
			Content:   content,
			Done:      done,
			Err:       errMsg,
		})
	}
	return snap
}

// outcome is what one settled model call hands to the coordinator.
type outcome struct {
	model   string
	text    string
	err     error
	elapsed time.Duration
}

// SetSystemPrompt replaces the user-editable system prompt.
func (o *Orchestrator) SetSystemPrompt(prompt string) {
	o.mu.Lock()
	o.systemPrompt = prompt
	o.mu.Unlock()
}

// SystemPrompt returns the current system prompt.
func (o *Orchestrator) SystemPrompt() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.systemPrompt
}

// SetModelParams overrides temperature/max-token settings for one catalog
// model within this session. Nil fields keep any prior override.
func (o *Orchestrator) SetModelParams(name string, p ModelParams) error {
	if _, ok := o.gateway.Model(name); !ok {
		return fmt.Errorf("unknown model: %s", name)
	}
	if p.Temperature == nil && p.MaxTokens == nil {
		return fmt.Errorf("no parameters supplied")
	}
	if p.Temperature != nil && (*p.Temperature < 0 || *p.Temperature > 1) {
		return fmt.Errorf("temperature must be in [0,1]")
	}
	if p.MaxTokens != nil && *p.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be > 0")
	}
	o.mu.Lock()
	cur := o.params[name]
	if cur == nil {
		cur = &ModelParams{}
		o.params[name] = cur
	}
	if p.Temperature != nil {
		cur.Temperature = p.Temperature
	}
	if p.MaxTokens != nil {
		cur.MaxTokens = p.MaxTokens
	}
	o.mu.Unlock()
	return nil
}

// Models returns the catalog with session overrides applied.
func (o *Orchestrator) Models() []config.ModelConfig {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]config.ModelConfig, 0, len(o.gateway.Models))
	for _, m := range o.gateway.Models {
		out = append(out, ApplyParams(m, o.params[m.Name]))
	}
	return out
}

// Conversation returns the visible conversation.
func (o *Orchestrator) Conversation() []models.Turn {
	return o.mem.Conversation()
}

// ActiveRound returns the in-flight round, if any.
func (o *Orchestrator) ActiveRound() *Round {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.active
}

// Send dispatches a user turn to the selected models concurrently and
// returns the started round. Any in-flight round is cancelled and fully
// settled before the new one starts. notify, when non-nil, receives
// token/model/round events as they happen; it is called from the round's
// goroutines and must be safe for concurrent use.
func (o *Orchestrator) Send(ctx context.Context, input string, fileIDs []string, selected []string, notify func(Event)) (*Round, error) {
	input = strings.TrimSpace(input)
	if input == "" && len(fileIDs) == 0 {
		return nil, fmt.Errorf("nothing to send: empty input and no attached files")
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("no models selected")
	}
	configs := make([]config.ModelConfig, 0, len(selected))
	for _, name := range selected {
		m, ok := o.gateway.Model(name)
		if !ok {
			return nil, fmt.Errorf("unknown model: %s", name)
		}
		configs = append(configs, m)
	}

	// Supersede any in-flight round before touching shared state. The
	// dispatch lock stays held until the new round is registered, so a
	// concurrent Send observes this round and cancels it rather than
	// racing past the supersede check.
	o.dispatchMu.Lock()
	defer o.dispatchMu.Unlock()
	o.cancelActive()

	ctx, span := chatTracer.Start(ctx, "chat.dispatch_round",
		trace.WithAttributes(attribute.Int("round.models", len(selected))))

	contextBlock := o.contextBlock(input)

	userTurn := models.Turn{
		ID:        uuid.NewString(),
		Role:      models.RoleUser,
		Content:   input,
		CreatedAt: time.Now().UTC(),
		FileIDs:   append([]string(nil), fileIDs...),
	}
	o.mem.AddMessage(userTurn)

	history := o.buildHistory(contextBlock)

	roundCtx, cancel := context.WithCancel(ctx)
	r := &Round{
		id:      uuid.NewString(),
		cancel:  cancel,
		buffers: make(map[string]*modelBuffer, len(selected)),
		done:    make(chan struct{}),
		status:  RoundStreaming,
	}
	span.SetAttributes(attribute.String("round.id", r.id))
	for _, name := range selected {
		r.buffers[name] = &modelBuffer{}
		r.order = append(r.order, name)
	}

	o.mu.Lock()
	o.active = r
	paramsByName := make(map[string]*ModelParams, len(selected))
	for _, name := range selected {
		if p := o.params[name]; p != nil {
			cp := *p
			paramsByName[name] = &cp
		}
	}
	o.mu.Unlock()

	outcomes := make(chan outcome, len(configs))
	for _, mc := range configs {
		mc := ApplyParams(mc, paramsByName[mc.Name])
		buf := r.buffers[mc.Name]
		go func() {
			started := time.Now()
			sink := &bufferSink{round: r, buf: buf, model: mc.Name, notify: notify, tele: o.tele}
			text, err := o.client.Invoke(roundCtx, mc, history, sink)
			outcomes <- outcome{model: mc.Name, text: text, err: err, elapsed: time.Since(started)}
		}()
	}

	// Coordinator: the only goroutine that touches the conversation
	// while the round is live. First settled, first appended.
	go func() {
		defer span.End()
		for range configs {
			oc := <-outcomes
			o.settle(r, oc, notify)
		}
		o.finishRound(r, notify)
	}()

	return r, nil
}

// contextBlock formats the memory store's relevant chunks for injection
// into the system turn.
func (o *Orchestrator) contextBlock(query string) string {
	chunks := o.mem.RelevantContext(query)
	if len(chunks) == 0 {
		return ""
	}
	parts := make([]string, 0, len(chunks))
	for _, c := range chunks {
		parts = append(parts, fmt.Sprintf("[%s (Chunk %d)]: %s", c.FileName, c.Index, c.Text))
	}
	return "\nRelevant context from documents:\n" + strings.Join(parts, "\n\n")
}

// buildHistory assembles the message sequence for this round: optional
// system turn, then the full conversation including the new user turn.
func (o *Orchestrator) buildHistory(contextBlock string) []Message {
	o.mu.Lock()
	system := o.systemPrompt
	o.mu.Unlock()

	var history []Message
	if system != "" || contextBlock != "" {
		history = append(history, Message{Role: string(models.RoleSystem), Content: system + contextBlock})
	}
	return append(history, MessagesFromTurns(o.mem.Conversation())...)
}

// settle folds one settled model call into the conversation. Failures
// are isolated to their model; cancellations append nothing.
func (o *Orchestrator) settle(r *Round, oc outcome, notify func(Event)) {
	buf := r.buffers[oc.model]

	if oc.err != nil {
		o.tele.RecordModelCall(oc.model, false, oc.elapsed)
		if IsCancellation(oc.err) {
			buf.mu.Lock()
			buf.done = true
			buf.mu.Unlock()
			return
		}
		msg := fmt.Sprintf("Error from %s: %s", oc.model, oc.err.Error())
		buf.mu.Lock()
		buf.done = true
		buf.errMsg = oc.err.Error()
		buf.mu.Unlock()
		o.logger.Printf("round %s: %s", r.id, msg)
		o.mem.AddMessage(models.Turn{
			ID:        uuid.NewString(),
			Role:      models.RoleSystem,
			Content:   msg,
			CreatedAt: time.Now().UTC(),
		})
		if notify != nil {
			notify(Event{Type: "model_error", RoundID: r.id, Model: oc.model, Data: msg})
		}
		return
	}

	o.tele.RecordModelCall(oc.model, true, oc.elapsed)
	buf.mu.Lock()
	buf.done = true
	buf.mu.Unlock()

	if oc.text != "" {
		o.mem.AddMessage(models.Turn{
			ID:        uuid.NewString(),
			Role:      models.RoleAssistant,
			Content:   helpers.CleanMarkdown(oc.text),
			Model:     oc.model,
			CreatedAt: time.Now().UTC(),
		})
	}
	if notify != nil {
		notify(Event{Type: "model_done", RoundID: r.id, Model: oc.model})
	}
}

// finishRound marks the round terminal and releases it.
func (o *Orchestrator) finishRound(r *Round, notify func(Event)) {
	r.mu.Lock()
	switch {
	case r.cancelled:
		r.status = RoundCancelled
	case o.allFailed(r):
		r.status = RoundFailed
	default:
		r.status = RoundCompleted
	}
	status := r.status
	r.mu.Unlock()

	o.tele.RecordRound(string(status))

	o.mu.Lock()
	if o.active == r {
		o.active = nil
	}
	o.mu.Unlock()

	r.cancel()
	// The terminal event must land before Wait unblocks; callers tear
	// their event sinks down as soon as Wait returns.
	if notify != nil {
		notify(Event{Type: "round_done", RoundID: r.id, Data: string(status)})
	}
	close(r.done)
}

func (o *Orchestrator) allFailed(r *Round) bool {
	for _, name := range r.order {
		_, _, errMsg := r.buffers[name].snapshot()
		if errMsg == "" {
			return false
		}
	}
	return true
}

// CancelActive cancels the in-flight round, if any, and blocks until it
// has fully settled. Cancelled calls append no assistant turns and no
// error messages.
func (o *Orchestrator) CancelActive() {
	o.dispatchMu.Lock()
	defer o.dispatchMu.Unlock()
	o.cancelActive()
}

func (o *Orchestrator) cancelActive() {
	o.mu.Lock()
	r := o.active
	o.mu.Unlock()
	if r == nil {
		return
	}
	r.mu.Lock()
	r.cancelled = true
	r.mu.Unlock()
	r.cancel()
	<-r.done
}

// Clear cancels any active round and empties the conversation memory.
func (o *Orchestrator) Clear() {
	o.dispatchMu.Lock()
	defer o.dispatchMu.Unlock()
	o.cancelActive()
	o.mem.Clear()
}

// bufferSink routes one model's stream into its private round buffer.
type bufferSink struct {
	round  *Round
	buf    *modelBuffer
	model  string
	notify func(Event)
	tele   *telemetry.Telemetry
}

func (s *bufferSink) OnToken(token string) {
	s.buf.append(token)
	s.tele.RecordTokens(s.model, 1)
	if s.notify != nil {
		s.notify(Event{Type: "token", RoundID: s.round.id, Model: s.model, Data: token})
	}
}

func (s *bufferSink) OnComplete() {}

func (s *bufferSink) OnError(err error) {}
