package isolation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// Codes a worker uses for failures outside the handler.
const (
	CodeBadTask = "bad_task"
	CodePanic   = "panic"
)

// ServeWorker reads one task from in, runs it through h and writes one
// reply to out. Handler failures are part of the reply; the returned error
// only reports a broken pipe or an undecodable task.
func ServeWorker(ctx context.Context, in io.Reader, out io.Writer, h Handler) error {
	var t Task
	if err := json.NewDecoder(in).Decode(&t); err != nil {
		werr := writeReply(out, reply{Error: &RemoteError{Code: CodeBadTask, Message: "decode task: " + err.Error()}})
		if werr != nil {
			return werr
		}
		return fmt.Errorf("decode task: %w", err)
	}

	result, err := handleSafely(ctx, h, t)
	r := reply{Result: result}
	if err != nil {
		r.Result = nil
		r.Error = &RemoteError{Code: CodeOf(err), Message: err.Error()}
	}
	return writeReply(out, r)
}

func handleSafely(ctx context.Context, h Handler, t Task) (result json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, WithCode(CodePanic, fmt.Errorf("task %s panicked: %v", t.Kind, r))
		}
	}()
	return h.Handle(ctx, t)
}

func writeReply(out io.Writer, r reply) error {
	if err := json.NewEncoder(out).Encode(r); err != nil {
		return fmt.Errorf("write reply: %w", err)
	}
	return nil
}
