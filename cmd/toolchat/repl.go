package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/MrWong99/toolchat/internal/app"
	"github.com/MrWong99/toolchat/internal/chat"
	"github.com/MrWong99/toolchat/internal/toolcall"
	"github.com/MrWong99/toolchat/pkg/types"
)

const helpText = `Commands:
  /list               list chats, most recent first
  /new [name]         start a new chat
  /switch <name>      switch to a chat
  /rename <name>      rename the current chat
  /delete [name]      delete a chat (default: the current one)
  /clear              remove all messages of the current chat
  /history            print the current chat
  /tools              list the tools the model can call
  /grammar [name]     show or set the tool-call grammar (json, bracket, auto)
  /run                execute the tool calls of the last reply
  /regen              generate the last reply again
  /like, /dislike     rate the last reply
  /stop               stop the running reply
  /quit               exit
Anything else is sent to the model.`

// printer writes streamed replies to the terminal. Updates carry the whole
// text so far; only the new suffix is printed.
type printer struct {
	mu      sync.Mutex
	w       io.Writer
	printed map[int]int // message id -> bytes already written
}

func newPrinter(w io.Writer) *printer {
	return &printer{w: w, printed: make(map[int]int)}
}

func (p *printer) update(u app.Update) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch {
	case u.Err != nil:
		fmt.Fprintf(p.w, "\n[error: %v]\n", u.Err)
		return
	case len(u.ToolResults) > 0:
		for _, r := range u.ToolResults {
			status := "ok"
			if !r.Succeeded {
				status = "failed"
			}
			fmt.Fprintf(p.w, "[tool %s %s] %s\n", r.Call.FunctionName, status, r.Text())
		}
		return
	}
	n := p.printed[u.MessageID]
	if len(u.Content) > n {
		fmt.Fprint(p.w, u.Content[n:])
		p.printed[u.MessageID] = len(u.Content)
	}
	if u.Finished {
		fmt.Fprintf(p.w, "\n[%.1f tok/s]\n", u.TokensPerSecond)
		delete(p.printed, u.MessageID)
	}
}

func (p *printer) printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, format, args...)
}

// repl reads commands and messages line by line.
type repl struct {
	app *app.App
	out *printer
}

// run reads from in until EOF, /quit or ctx is done.
func (r *repl) run(ctx context.Context, in io.Reader) {
	lines := make(chan string)
	done := make(chan struct{})
	defer close(done)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		sc.Buffer(make([]byte, 64*1024), 1024*1024)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-done:
				return
			}
		}
	}()

	r.out.printf("Type /help for commands.\n")
	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := r.handle(ctx, strings.TrimSpace(line)); quit {
				return
			}
		}
	}
}

// handle executes one input line and reports whether the user asked to quit.
func (r *repl) handle(ctx context.Context, line string) bool {
	if line == "" {
		return false
	}
	if !strings.HasPrefix(line, "/") {
		r.report(r.send(ctx, line))
		return false
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	store := r.app.Store()
	switch cmd {
	case "/quit", "/exit":
		return true
	case "/help":
		r.out.printf("%s\n", helpText)
	case "/list":
		current, _ := store.CurrentChatName()
		for _, c := range store.Chats() {
			marker := " "
			if c.Name == current {
				marker = "*"
			}
			r.out.printf("%s %s (%d messages)\n", marker, c.Name, len(c.Messages))
		}
	case "/new":
		if arg == "" {
			arg = chat.DefaultChatName
		}
		name, err := store.CreateChat(ctx, arg)
		if err == nil {
			r.out.printf("created %q\n", name)
		}
		r.report(err)
	case "/switch":
		r.report(store.SwitchToChat(arg))
	case "/rename":
		name, err := store.RenameChat(ctx, arg)
		if err == nil {
			r.out.printf("renamed to %q\n", name)
		}
		r.report(err)
	case "/delete":
		if arg == "" {
			arg, _ = store.CurrentChatName()
		}
		r.report(store.DeleteChat(ctx, arg))
	case "/clear":
		pending, err := store.ClearCurrentChat()
		if err == nil {
			err = pending.Wait(ctx)
		}
		r.report(err)
	case "/history":
		r.history()
	case "/tools":
		defs := r.app.Tools().Catalog()
		if len(defs) == 0 {
			r.out.printf("no tools available (%s)\n", r.app.Tools().State())
		}
		for _, d := range defs {
			r.out.printf("%s: %s\n", d.Name, d.Description)
		}
	case "/grammar":
		engine := r.app.Tools()
		if arg != "" {
			if err := engine.SetGrammar(toolcall.Grammar(arg)); err != nil {
				r.report(err)
				break
			}
		}
		r.out.printf("tool grammar: %s\n", engine.Config().Grammar)
	case "/run":
		r.report(r.runTools(ctx))
	case "/regen":
		r.report(r.regenerate(ctx))
	case "/like", "/dislike":
		r.report(r.rate(ctx, cmd == "/like"))
	case "/stop":
		name, _ := store.CurrentChatName()
		if !r.app.Conversation().Stop(name) {
			r.out.printf("nothing to stop\n")
		}
	default:
		r.out.printf("unknown command %s, try /help\n", cmd)
	}
	return false
}

func (r *repl) send(ctx context.Context, text string) error {
	_, err := r.app.Conversation().Send(ctx, text)
	return err
}

// lastAssistant finds the newest assistant message of the current chat and
// returns the chat name, the message and its index.
func (r *repl) lastAssistant() (string, types.Message, int, error) {
	c, err := r.app.Store().CurrentChat()
	if err != nil {
		return "", types.Message{}, 0, err
	}
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == types.RoleAssistant {
			return c.Name, c.Messages[i], i, nil
		}
	}
	return "", types.Message{}, 0, errors.New("no reply in this chat yet")
}

func (r *repl) rate(ctx context.Context, liked bool) error {
	name, _, i, err := r.lastAssistant()
	if err != nil {
		return err
	}
	pending, err := r.app.Store().SetMessageFeedback(name, i, liked, !liked)
	if err != nil {
		return err
	}
	return pending.Wait(ctx)
}

func (r *repl) runTools(ctx context.Context) error {
	name, msg, _, err := r.lastAssistant()
	if err != nil {
		return err
	}
	ran, err := r.app.Conversation().ExecuteToolCalls(ctx, name, msg.ID)
	if err == nil && !ran {
		r.out.printf("the last reply has no tool calls\n")
	}
	return err
}

// regenerate drops the last reply and asks for a new one.
func (r *repl) regenerate(ctx context.Context) error {
	store := r.app.Store()
	name, msg, _, err := r.lastAssistant()
	if err != nil {
		return err
	}
	if store.JobID(name) != chat.NoJob {
		return app.ErrBusy
	}
	pending, err := store.DeleteMessageByID(name, msg.ID)
	if err != nil {
		return err
	}
	if err := pending.Wait(ctx); err != nil {
		return err
	}
	_, err = r.app.Conversation().Regenerate(ctx, name)
	return err
}

func (r *repl) history() {
	c, err := r.app.Store().CurrentChat()
	if err != nil {
		r.report(err)
		return
	}
	r.out.printf("── %s ──\n", c.Name)
	for _, m := range c.Messages {
		r.out.printf("[%s %s] %s\n", m.Timestamp.Format("15:04"), m.Role, m.Content)
	}
}

func (r *repl) report(err error) {
	if err != nil {
		r.out.printf("error: %v\n", err)
	}
}
