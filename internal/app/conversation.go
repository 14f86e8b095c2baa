package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/toolchat/internal/chat"
	"github.com/MrWong99/toolchat/internal/inference"
	"github.com/MrWong99/toolchat/internal/toolcall"
	"github.com/MrWong99/toolchat/pkg/provider/llm"
	"github.com/MrWong99/toolchat/pkg/types"
)

// ErrBusy is returned by [Conversation.Send] while the chat still has a
// running job.
var ErrBusy = errors.New("app: chat is still generating")

// Settings controls how replies are generated.
type Settings struct {
	// ModelName is recorded on every assistant message.
	ModelName string

	SystemPrompt string
	Temperature  float64
	MaxTokens    int

	// AutoExecute runs the tool calls of a finished reply immediately.
	AutoExecute bool

	// ToolRounds is how many times the model is asked to continue after its
	// tool calls were answered. Zero stops after the tool results.
	ToolRounds int
}

// Update reports progress of a reply to an observer.
type Update struct {
	Chat      string
	MessageID int
	JobID     int
	Content   string

	TokensPerSecond float64

	// Finished is set once generation of the message ended. ToolResults
	// follow in a later update when the calls were executed.
	Finished    bool
	ToolResults []types.ToolResult
	Err         error
}

// ConversationOption configures a [Conversation].
type ConversationOption func(*Conversation)

// WithUpdates registers an observer for reply progress. It is called from
// job goroutines and must not block for long.
func WithUpdates(fn func(Update)) ConversationOption {
	return func(c *Conversation) { c.observe = fn }
}

// WithConversationLogger sets the logger. Defaults to [slog.Default].
func WithConversationLogger(l *slog.Logger) ConversationOption {
	return func(c *Conversation) { c.logger = l }
}

// Conversation drives the exchange between the chat store, the inference
// runner and the tool engine. Streamed text is written into the assistant
// message as it arrives; tool calls are extracted on the fly and executed
// once the reply is complete.
type Conversation struct {
	store   *chat.Store
	engine  *toolcall.Engine
	runner  *inference.Runner
	logger  *slog.Logger
	observe func(Update)

	wg sync.WaitGroup

	mu       sync.RWMutex
	settings Settings
}

// NewConversation returns a conversation over the given subsystems.
func NewConversation(store *chat.Store, engine *toolcall.Engine, runner *inference.Runner, settings Settings, opts ...ConversationOption) *Conversation {
	c := &Conversation{
		store:    store,
		engine:   engine,
		runner:   runner,
		logger:   slog.Default(),
		settings: settings,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Settings returns the current settings.
func (c *Conversation) Settings() Settings {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings
}

// SetSettings replaces the settings for replies started afterwards.
func (c *Conversation) SetSettings(s Settings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.settings = s
}

// Send appends text as a user message to the current chat and starts
// generating the reply. It returns the job id once the job runs; the reply,
// tool execution and persistence continue in the background. ctx bounds the
// whole exchange.
func (c *Conversation) Send(ctx context.Context, text string) (int, error) {
	name, err := c.store.CurrentChatName()
	if err != nil {
		return 0, fmt.Errorf("app: send: %w", err)
	}
	msg, err := types.NewMessage(types.RoleUser, text)
	if err != nil {
		return 0, fmt.Errorf("app: send: %w", err)
	}
	claim, err := c.claim(name)
	if err != nil {
		return 0, err
	}
	if _, _, err := c.store.AddMessage(name, msg); err != nil {
		c.store.RemoveJobID(claim)
		return 0, fmt.Errorf("app: send: %w", err)
	}
	return c.generate(ctx, name, claim, c.Settings().ToolRounds)
}

// Regenerate starts a new reply in the named chat from its current
// transcript without adding a user message.
func (c *Conversation) Regenerate(ctx context.Context, chatName string) (int, error) {
	claim, err := c.claim(chatName)
	if err != nil {
		return 0, err
	}
	return c.generate(ctx, chatName, claim, c.Settings().ToolRounds)
}

// claim reserves the chat's job slot, failing with ErrBusy while another
// reply is running.
func (c *Conversation) claim(chatName string) (int, error) {
	claim, err := c.store.ClaimJob(chatName)
	switch {
	case errors.Is(err, chat.ErrJobRunning):
		return 0, ErrBusy
	case err != nil:
		return 0, fmt.Errorf("app: claim chat: %w", err)
	}
	return claim, nil
}

// Stop cancels the running job of the named chat and reports whether there
// was one.
func (c *Conversation) Stop(chatName string) bool {
	id := c.store.JobID(chatName)
	if id == chat.NoJob {
		return false
	}
	return c.runner.Stop(id)
}

// Wait blocks until every reply started so far, including its tool
// execution, has completed or ctx is done.
func (c *Conversation) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// generate appends an empty assistant message and streams the reply into it.
// The chat's job slot must be held by claim; it is released when generate
// fails and handed to the job otherwise.
func (c *Conversation) generate(ctx context.Context, chatName string, claim, rounds int) (int, error) {
	settings := c.Settings()
	history, err := c.store.Chat(chatName)
	if err != nil {
		c.store.RemoveJobID(claim)
		return 0, fmt.Errorf("app: generate: %w", err)
	}

	reply := types.MustMessage(types.RoleAssistant, "")
	reply.ModelName = settings.ModelName
	msgID, _, err := c.store.AddMessage(chatName, reply)
	if err != nil {
		c.store.RemoveJobID(claim)
		return 0, fmt.Errorf("app: generate: %w", err)
	}

	params := inference.Params{
		Messages:     llm.FromTranscript(history.Messages),
		SystemPrompt: c.engine.AugmentPrompt(settings.SystemPrompt),
		Temperature:  settings.Temperature,
		MaxTokens:    settings.MaxTokens,
	}

	// The callback may run before the job id is stored.
	ready := make(chan struct{})
	c.wg.Add(1)
	id, err := c.runner.StartChatCompletionJob(ctx, params, func(partial string, tps float64, jobID int, finished bool) {
		<-ready
		c.onPartial(jobID, msgID, partial, tps, finished)
	})
	if err != nil {
		c.wg.Done()
		c.store.RemoveJobID(claim)
		if _, derr := c.store.DeleteMessageByID(chatName, msgID); derr != nil {
			c.logger.Warn("app: remove empty reply", "chat", chatName, "err", derr)
		}
		return 0, fmt.Errorf("app: generate: %w", err)
	}
	if !c.store.ReplaceJobID(claim, id) {
		// The chat was deleted in the meantime.
		c.runner.Stop(id)
	}
	close(ready)

	go func() {
		defer c.wg.Done()
		c.finish(ctx, id, msgID, rounds)
	}()
	return id, nil
}

// onPartial writes streamed text into the reply and extracts tool calls.
func (c *Conversation) onPartial(jobID, msgID int, partial string, tps float64, finished bool) {
	name, err := c.store.ChatNameByJobID(jobID)
	if err != nil {
		return
	}
	var calls []types.ToolCall
	if c.engine.ContainsToolCall(partial) {
		calls = c.engine.ExtractToolCalls(partial)
	}
	err = c.store.UpdateMessageByID(name, msgID, func(m *types.Message) {
		m.Content = partial
		m.TokensPerSecond = tps
		m.ToolCalls = calls
	})
	if err != nil {
		c.logger.Debug("app: reply message gone", "chat", name, "job_id", jobID, "err", err)
		return
	}
	c.notify(Update{
		Chat:            name,
		MessageID:       msgID,
		JobID:           jobID,
		Content:         partial,
		TokensPerSecond: tps,
		Finished:        finished,
	})
}

// finish waits for the job, persists the reply and runs its tool calls.
func (c *Conversation) finish(ctx context.Context, jobID, msgID, rounds int) {
	// A cancelled ctx stops the job; the partial reply is still saved.
	persistCtx := context.WithoutCancel(ctx)
	res, err := c.runner.Wait(persistCtx, jobID)
	name, nameErr := c.store.ChatNameByJobID(jobID)
	c.store.RemoveJobID(jobID)
	if err != nil || nameErr != nil {
		return
	}
	if res.Err != nil && !errors.Is(res.Err, inference.ErrStopped) {
		c.logger.Warn("app: reply failed", "chat", name, "job_id", jobID, "err", res.Err)
		c.notify(Update{Chat: name, MessageID: msgID, JobID: jobID, Finished: true, Err: res.Err})
	}

	model := c.Settings().ModelName
	err = c.store.UpdateMessageByID(name, msgID, func(m *types.Message) { m.ModelName = model })
	if err != nil {
		return
	}
	if err := c.store.SaveChat(persistCtx, name); err != nil {
		c.logger.Warn("app: save reply", "chat", name, "err", err)
	}

	if errors.Is(res.Err, inference.ErrStopped) || !c.Settings().AutoExecute {
		return
	}
	executed, err := c.executeTools(ctx, name, msgID)
	if err != nil {
		c.logger.Warn("app: execute tool calls", "chat", name, "err", err)
		return
	}
	if executed && rounds > 0 {
		claim, err := c.claim(name)
		if err == nil {
			_, err = c.generate(ctx, name, claim, rounds-1)
		}
		if err != nil {
			c.logger.Warn("app: continue after tool calls", "chat", name, "err", err)
		}
	}
}

// ExecuteToolCalls runs the tool calls stored on the message with the given
// id, stores their outputs on it and appends a tool message holding the
// reply text with every call replaced by its output. It reports whether the
// message had any calls.
func (c *Conversation) ExecuteToolCalls(ctx context.Context, chatName string, msgID int) (bool, error) {
	return c.executeTools(ctx, chatName, msgID)
}

func (c *Conversation) executeTools(ctx context.Context, chatName string, msgID int) (bool, error) {
	history, err := c.store.Chat(chatName)
	if err != nil {
		return false, err
	}
	var reply *types.Message
	for i := range history.Messages {
		if history.Messages[i].ID == msgID {
			reply = &history.Messages[i]
			break
		}
	}
	if reply == nil {
		return false, fmt.Errorf("%w: id %d", chat.ErrMessageNotFound, msgID)
	}
	if len(reply.ToolCalls) == 0 {
		return false, nil
	}

	var results []types.ToolResult
	select {
	case results = <-c.engine.ExecuteAllAsync(ctx, reply.ToolCalls):
	case <-ctx.Done():
		return false, ctx.Err()
	}
	applied := toolcall.ApplyResults(reply.ToolCalls, results)

	if err := c.store.UpdateMessageByID(chatName, msgID, func(m *types.Message) {
		m.ToolCalls = applied
	}); err != nil {
		return false, err
	}
	toolMsg := types.MustMessage(types.RoleTool, toolcall.ReplaceCallsWithResults(reply.Content, applied))
	_, pending, err := c.store.AddMessage(chatName, toolMsg)
	if err != nil {
		return false, err
	}
	if err := pending.Wait(ctx); err != nil {
		c.logger.Warn("app: save tool results", "chat", chatName, "err", err)
	}
	c.notify(Update{Chat: chatName, MessageID: msgID, Finished: true, ToolResults: results})
	return true, nil
}

func (c *Conversation) notify(u Update) {
	if c.observe != nil {
		c.observe(u)
	}
}
