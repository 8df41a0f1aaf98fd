package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"
)

// Signal delivers messages through a signal-cli process running in
// jsonRpc mode over stdin/stdout. User IDs are Signal phone numbers.
// Incoming message notifications are pushed to a channel; outbound
// requests use request-response correlation via a pending map.
type Signal struct {
	command string
	args    []string
	logger  *slog.Logger

	cmd    *exec.Cmd
	stdin  io.WriteCloser
	reader *bufio.Reader

	nextID  atomic.Int64
	mu      sync.Mutex                 // protects pending + stdin writes
	pending map[int64]chan rpcResponse // request ID → response channel

	inbound chan Inbound  // inbound user messages
	done    chan struct{} // closed when reader goroutine exits
	waitErr chan error    // receives cmd.Wait result (exactly once)
}

// rpcResponse pairs a raw JSON result with an optional error for
// delivery through the pending channel.
type rpcResponse struct {
	Result json.RawMessage
	Error  *rpcError
}

// rpcError is a JSON-RPC 2.0 error object.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func (e *rpcError) Error() string {
	return fmt.Sprintf("signal-cli rpc error %d: %s", e.Code, e.Message)
}

// rpcRequest is a JSON-RPC 2.0 request written to signal-cli's stdin.
type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// rpcRaw is used to inspect incoming JSON lines from signal-cli to
// determine whether they are responses (have an id) or notifications
// (have a method).
type rpcRaw struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"` // nil for notifications
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

// signalEnvelope is the received-event structure pushed by signal-cli.
// Only data messages matter here; typing indicators, receipts, and
// sync messages are skipped.
type signalEnvelope struct {
	Source      string `json:"source"`
	SourceName  string `json:"sourceName"`
	Timestamp   int64  `json:"timestamp"`
	DataMessage *struct {
		Timestamp int64  `json:"timestamp"`
		Message   string `json:"message"`
	} `json:"dataMessage,omitempty"`
}

// receiveNotification is the JSON-RPC notification payload for method
// "receive" pushed by signal-cli.
type receiveNotification struct {
	Envelope signalEnvelope `json:"envelope"`
}

// sendResult is the response payload from a successful "send" RPC call.
type sendResult struct {
	Timestamp int64 `json:"timestamp"`
}

// NewSignal creates a Signal transport. Call Start to launch the
// signal-cli subprocess.
func NewSignal(command string, args []string, logger *slog.Logger) *Signal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Signal{
		command: command,
		args:    args,
		logger:  logger,
		pending: make(map[int64]chan rpcResponse),
		inbound: make(chan Inbound, 64),
		done:    make(chan struct{}),
		waitErr: make(chan error, 1),
	}
}

func (s *Signal) Name() string { return "signal" }

// Start launches the signal-cli subprocess and begins reading
// notifications. Must be called exactly once.
func (s *Signal) Start(ctx context.Context) error {
	s.logger.Info("starting signal-cli subprocess",
		"command", s.command,
		"args", s.args,
	)

	cmd := exec.CommandContext(ctx, s.command, s.args...)
	cmd.Env = os.Environ()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	stderrPipe, err := cmd.StderrPipe()
	if err != nil {
		stdin.Close()
		stdout.Close()
		return fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start signal-cli: %w", err)
	}

	s.cmd = cmd
	s.stdin = stdin
	s.reader = bufio.NewReaderSize(stdout, 1<<20) // 1 MiB

	go s.drainStderr(stderrPipe)
	go s.readLoop()
	go func() {
		err := cmd.Wait()
		if err != nil {
			s.logger.Error("signal-cli subprocess exited with error", "error", err)
		} else {
			s.logger.Info("signal-cli subprocess exited")
		}
		s.waitErr <- err
	}()

	s.logger.Info("signal-cli subprocess started", "pid", cmd.Process.Pid)
	return nil
}

// Inbound returns the channel of user messages. The channel is closed
// when the subprocess exits.
func (s *Signal) Inbound() <-chan Inbound {
	return s.inbound
}

// Send delivers a message to a user's Signal number, with any actions
// rendered as reply-keyword lines.
func (s *Signal) Send(ctx context.Context, userID, text string, actions []Action) error {
	raw, err := s.call(ctx, "send", map[string]any{
		"recipient": []string{userID},
		"message":   RenderMessage(text, actions),
	})
	if err != nil {
		return fmt.Errorf("signal send: %w", err)
	}

	var result sendResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("unmarshal send result: %w", err)
	}
	return nil
}

// Ping checks that the signal-cli subprocess is responsive by
// requesting its version.
func (s *Signal) Ping(ctx context.Context) error {
	_, err := s.call(ctx, "version", nil)
	return err
}

// Close shuts down the signal-cli subprocess gracefully. It closes
// stdin to signal exit, waits briefly, then force-kills if needed.
// The waiter goroutine started by Start() owns cmd.Wait(); Close
// reads its result via waitErr.
func (s *Signal) Close() error {
	if s.cmd == nil || s.cmd.Process == nil {
		return nil
	}

	s.logger.Info("stopping signal-cli subprocess", "pid", s.cmd.Process.Pid)

	// Close stdin to signal the subprocess to exit.
	if s.stdin != nil {
		s.stdin.Close()
	}

	select {
	case err := <-s.waitErr:
		return err
	case <-time.After(5 * time.Second):
		s.logger.Warn("signal-cli did not exit gracefully, killing",
			"pid", s.cmd.Process.Pid,
		)
		_ = s.cmd.Process.Kill()
		<-s.waitErr
		return nil
	}
}

// call sends a JSON-RPC request and waits for the response.
func (s *Signal) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	// Bail early if context is already cancelled to avoid blocking on
	// a pipe write that has no reader.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id := s.nextID.Add(1)
	ch := make(chan rpcResponse, 1)

	s.mu.Lock()
	s.pending[id] = ch

	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      id,
		Method:  method,
		Params:  params,
	}
	data, err := json.Marshal(req)
	if err != nil {
		delete(s.pending, id)
		s.mu.Unlock()
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	if _, err := s.stdin.Write(append(data, '\n')); err != nil {
		delete(s.pending, id)
		s.mu.Unlock()
		return nil, fmt.Errorf("write to signal-cli stdin: %w", err)
	}
	s.mu.Unlock()

	select {
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return nil, ctx.Err()
	case resp := <-ch:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-s.done:
		return nil, fmt.Errorf("signal-cli subprocess exited")
	}
}

// readLoop reads newline-delimited JSON from the subprocess stdout,
// routing responses to their pending channels and notifications to the
// inbound channel.
func (s *Signal) readLoop() {
	defer close(s.done)
	defer close(s.inbound)

	for {
		line, err := s.reader.ReadBytes('\n')
		if err != nil {
			if err != io.EOF {
				s.logger.Error("signal-cli read error", "error", err)
			}
			// Drain any pending requests.
			s.mu.Lock()
			for id, ch := range s.pending {
				ch <- rpcResponse{Error: &rpcError{
					Code:    -1,
					Message: "subprocess exited",
				}}
				delete(s.pending, id)
			}
			s.mu.Unlock()
			return
		}

		var raw rpcRaw
		if err := json.Unmarshal(line, &raw); err != nil {
			s.logger.Debug("signal-cli non-JSON line", "line", string(line))
			continue
		}

		// Response (has ID) — route to pending channel.
		if raw.ID != nil {
			s.mu.Lock()
			ch, ok := s.pending[*raw.ID]
			if ok {
				delete(s.pending, *raw.ID)
			}
			s.mu.Unlock()

			if ok {
				ch <- rpcResponse{Result: raw.Result, Error: raw.Error}
			} else {
				s.logger.Debug("signal-cli response for unknown ID", "id", *raw.ID)
			}
			continue
		}

		// Notification — only data messages (text) are actionable.
		// Typing indicators, receipts, and sync messages are skipped.
		if raw.Method == "receive" {
			var notif receiveNotification
			if err := json.Unmarshal(raw.Params, &notif); err != nil {
				s.logger.Warn("signal-cli malformed receive notification",
					"error", err,
					"params", string(raw.Params),
				)
				continue
			}

			env := notif.Envelope
			if env.DataMessage != nil {
				msg := Inbound{
					UserID: env.Source,
					Name:   env.SourceName,
					Text:   env.DataMessage.Message,
				}
				select {
				case s.inbound <- msg:
				default:
					s.logger.Warn("signal inbound channel full, dropping message",
						"sender", env.Source,
					)
				}
			}
			continue
		}

		s.logger.Debug("signal-cli unknown message", "method", raw.Method)
	}
}

// drainStderr reads stderr lines and logs them at debug level.
func (s *Signal) drainStderr(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		s.logger.Debug("signal-cli stderr", "line", scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		s.logger.Warn("signal-cli stderr scan error", "error", err)
	}
}
