package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/gameupdater/gameupdater/pkg/config"
)

const (
	defaultInactivityTimeout = 10 * time.Minute
	defaultLoginTimeout      = 2 * time.Minute
	defaultLoginAttempts     = 3
	readBufferSize           = 4096
)

var (
	ErrInactivityTimeout = errors.New("update tool inactivity timeout")
	ErrLoginTimeout      = errors.New("login timeout")
)

// ExitError reports a non-zero exit of the update tool.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("update tool exited with code %d", e.Code)
}

// LoginError carries the output line that reported a failed login.
type LoginError struct {
	Line string
}

func (e *LoginError) Error() string {
	return "login failure reported: " + e.Line
}

type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// LineSink receives every line the update tool prints.
type LineSink func(stream Stream, line string)

// PromptObserver is told when the tool is waiting for an out-of-band answer.
type PromptObserver func(kind PromptKind)

type Option func(*Driver)

func WithPromptObserver(observer PromptObserver) Option {
	return func(d *Driver) {
		d.observer = observer
	}
}

func WithTriggers(triggers []Trigger) Option {
	return func(d *Driver) {
		d.triggers = triggers
	}
}

// Driver spawns the update tool and answers its login prompts.
type Driver struct {
	cfg      config.DriverConfig
	logger   *zap.Logger
	triggers []Trigger
	observer PromptObserver
	prompts  PromptSlot

	runMu sync.Mutex
}

func NewDriver(cfg config.DriverConfig, logger *zap.Logger, opts ...Option) *Driver {
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = defaultInactivityTimeout
	}
	if cfg.LoginTimeout <= 0 {
		cfg.LoginTimeout = defaultLoginTimeout
	}
	if cfg.LoginAttempts <= 0 {
		cfg.LoginAttempts = defaultLoginAttempts
	}
	d := &Driver{
		cfg:      cfg,
		logger:   logger,
		triggers: DefaultTriggers,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Run executes cmd to completion. Failed logins are retried with the same
// credentials up to the configured attempt count.
func (d *Driver) Run(ctx context.Context, cmd Command, creds Credentials, sink LineSink) error {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	var lastErr error
	for attempt := 1; attempt <= d.cfg.LoginAttempts; attempt++ {
		loggedIn, err := d.runOnce(ctx, cmd, creds, sink)
		if err == nil {
			return nil
		}
		if loggedIn || !isLoginError(err) || ctx.Err() != nil {
			return err
		}

		lastErr = err
		d.logger.Warn("login attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", d.cfg.LoginAttempts),
			zap.Error(err),
		)
	}
	return fmt.Errorf("login failed after %d attempts: %w", d.cfg.LoginAttempts, lastErr)
}

// SubmitCode answers a pending guard-code prompt.
func (d *Driver) SubmitCode(code string) error {
	if err := d.prompts.Resolve(PromptGuardCode, strings.TrimSpace(code)); err != nil {
		d.logger.Warn("second factor code submitted with no pending prompt")
		return err
	}
	return nil
}

func (d *Driver) AwaitingCode() bool {
	kind, ok := d.prompts.Pending()
	return ok && kind == PromptGuardCode
}

func isLoginError(err error) bool {
	var loginErr *LoginError
	return errors.As(err, &loginErr) || errors.Is(err, ErrLoginTimeout)
}

type outputLine struct {
	stream  Stream
	text    string
	partial bool
}

func (d *Driver) runOnce(ctx context.Context, cmd Command, creds Credentials, sink LineSink) (bool, error) {
	c := exec.Command(cmd.Path, cmd.Args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.Env...)
	}
	setupProcessGroup(c)

	stdin, err := c.StdinPipe()
	if err != nil {
		return false, fmt.Errorf("failed to open stdin: %w", err)
	}
	stdout, err := c.StdoutPipe()
	if err != nil {
		return false, fmt.Errorf("failed to open stdout: %w", err)
	}
	stderr, err := c.StderrPipe()
	if err != nil {
		return false, fmt.Errorf("failed to open stderr: %w", err)
	}

	d.logger.Info("starting update tool", zap.String("command", cmd.Redacted()))
	if err := c.Start(); err != nil {
		return false, fmt.Errorf("failed to start update tool: %w", err)
	}

	lines := make(chan outputLine, 64)
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)
	go pump(StreamStdout, stdout, lines, done, &wg)
	go pump(StreamStderr, stderr, lines, done, &wg)
	go func() {
		wg.Wait()
		close(lines)
	}()

	s := &session{
		driver:  d,
		stdin:   stdin,
		creds:   creds,
		sink:    sink,
		handled: make(map[Stream]string),
	}
	failure := s.loop(ctx, lines)
	close(done)
	s.stopLoginTimer()
	d.prompts.Cancel()

	if failure != nil {
		if err := killProcessGroup(c); err != nil {
			d.logger.Warn("failed to kill update tool", zap.Error(err))
		}
		_ = c.Wait()
		return s.loggedIn, failure
	}

	if err := c.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return s.loggedIn, &ExitError{Code: exitErr.ExitCode()}
		}
		return s.loggedIn, fmt.Errorf("update tool failed: %w", err)
	}
	return s.loggedIn, nil
}

func pump(stream Stream, r io.Reader, out chan<- outputLine, done <-chan struct{}, wg *sync.WaitGroup) {
	defer wg.Done()

	send := func(line outputLine) bool {
		select {
		case out <- line:
			return true
		case <-done:
			return false
		}
	}

	var splitter LineSplitter
	buf := make([]byte, readBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			for _, line := range splitter.Feed(buf[:n]) {
				if !send(outputLine{stream: stream, text: line}) {
					return
				}
			}
			if partial := splitter.Partial(); partial != "" {
				if !send(outputLine{stream: stream, text: partial, partial: true}) {
					return
				}
			}
		}
		if err != nil {
			if rest, ok := splitter.Flush(); ok {
				send(outputLine{stream: stream, text: rest})
			}
			return
		}
	}
}

// session is the state of one spawned process.
type session struct {
	driver *Driver
	stdin  io.Writer
	creds  Credentials
	sink   LineSink

	loggedIn   bool
	loginTimer *time.Timer
	codeCh     <-chan string
	// handled remembers a partial line whose prompt was already answered.
	handled map[Stream]string
}

func (s *session) loop(ctx context.Context, lines <-chan outputLine) error {
	inactivity := time.NewTimer(s.driver.cfg.InactivityTimeout)
	defer inactivity.Stop()

	for {
		var loginC <-chan time.Time
		if s.loginTimer != nil {
			loginC = s.loginTimer.C
		}

		select {
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			resetTimer(inactivity, s.driver.cfg.InactivityTimeout)
			if err := s.handle(line); err != nil {
				return err
			}
		case <-inactivity.C:
			s.driver.logger.Warn("update tool produced no output", zap.Duration("timeout", s.driver.cfg.InactivityTimeout))
			return fmt.Errorf("%w after %s", ErrInactivityTimeout, s.driver.cfg.InactivityTimeout)
		case <-loginC:
			s.loginTimer = nil
			s.driver.logger.Warn("login did not complete in time", zap.Duration("timeout", s.driver.cfg.LoginTimeout))
			return fmt.Errorf("%w after %s", ErrLoginTimeout, s.driver.cfg.LoginTimeout)
		case code := <-s.codeCh:
			s.codeCh = nil
			if err := s.write(code); err != nil {
				return err
			}
			s.driver.logger.Info("second factor code sent")
			s.armLoginTimer()
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *session) handle(line outputLine) error {
	if line.partial {
		if prev := s.handled[line.stream]; prev != "" && strings.HasPrefix(line.text, prev) {
			return nil
		}
		trigger, ok := Match(s.driver.triggers, line.text)
		if !ok || !trigger.Action.IsPrompt() {
			return nil
		}
		s.handled[line.stream] = line.text
		return s.apply(trigger, line.text)
	}

	if s.sink != nil {
		s.sink(line.stream, line.text)
	}
	s.driver.logger.Debug("update tool output", zap.String("stream", string(line.stream)), zap.String("line", line.text))

	if prev := s.handled[line.stream]; prev != "" {
		delete(s.handled, line.stream)
		if strings.HasPrefix(line.text, prev) {
			return nil
		}
	}

	trigger, ok := Match(s.driver.triggers, line.text)
	if !ok {
		return nil
	}
	return s.apply(trigger, line.text)
}

func (s *session) apply(trigger Trigger, text string) error {
	logger := s.driver.logger.With(zap.String("trigger", trigger.Name))

	switch trigger.Action {
	case ActionLoggingIn:
		s.armLoginTimer()
	case ActionSendPassword:
		s.armLoginTimer()
		logger.Info("answering password prompt")
		return s.write(s.creds.Password)
	case ActionAwaitGuardCode:
		if s.codeCh != nil {
			return nil
		}
		codeCh, err := s.driver.prompts.Await(PromptGuardCode)
		if err != nil {
			logger.Warn("guard code prompt ignored", zap.Error(err))
			return nil
		}
		s.codeCh = codeCh
		// The wait for a human is bounded by the inactivity timeout only.
		s.stopLoginTimer()
		logger.Info("waiting for second factor code")
		if s.driver.observer != nil {
			s.driver.observer(PromptGuardCode)
		}
	case ActionLoginFailed:
		s.stopLoginTimer()
		return &LoginError{Line: text}
	case ActionLoginSucceeded:
		s.loggedIn = true
		s.stopLoginTimer()
		logger.Info("login succeeded")
	}
	return nil
}

func (s *session) write(value string) error {
	if _, err := io.WriteString(s.stdin, value+"\n"); err != nil {
		return fmt.Errorf("failed to write to update tool: %w", err)
	}
	return nil
}

func (s *session) armLoginTimer() {
	if s.loggedIn || s.loginTimer != nil || s.codeCh != nil {
		return
	}
	s.loginTimer = time.NewTimer(s.driver.cfg.LoginTimeout)
}

func (s *session) stopLoginTimer() {
	if s.loginTimer == nil {
		return
	}
	s.loginTimer.Stop()
	s.loginTimer = nil
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
