// Package service runs the account login lifecycle: it serializes work per account, drives the
// protocol, maps protocol outcomes onto the session state machine and persists every result.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"account-relay/internal/platform/keylock"
	"account-relay/internal/protocol"
	"account-relay/internal/relayerr"
	"account-relay/internal/session/domain"
	"account-relay/internal/session/repository"
	"account-relay/internal/telemetry"
)

const instrumentationName = "account-relay/session"

// Defaults applied by NewLifecycle to zero Config fields.
const (
	DefaultProtocolTimeout     = 30 * time.Second
	DefaultLockTimeout         = 35 * time.Second
	DefaultCodeTTL             = 5 * time.Minute
	DefaultMaxPasswordAttempts = 3
	DefaultBackoffBase         = 30 * time.Second
	DefaultBackoffMax          = 30 * time.Minute
)

// Config tunes the lifecycle.
type Config struct {
	// ProtocolTimeout bounds one request's protocol work (dial plus calls).
	ProtocolTimeout time.Duration
	// LockTimeout bounds the wait for another request on the same account.
	LockTimeout time.Duration
	// CodeTTL is used as the pending token expiry when the protocol does not report one.
	CodeTTL             time.Duration
	MaxPasswordAttempts int
	// BackoffBase and BackoffMax shape the exponential wait after rate-limited code requests.
	BackoffBase        time.Duration
	BackoffMax         time.Duration
	DefaultCredentials domain.Credentials
}

func (c Config) withDefaults() Config {
	if c.ProtocolTimeout <= 0 {
		c.ProtocolTimeout = DefaultProtocolTimeout
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = DefaultLockTimeout
	}
	if c.CodeTTL <= 0 {
		c.CodeTTL = DefaultCodeTTL
	}
	if c.MaxPasswordAttempts <= 0 {
		c.MaxPasswordAttempts = DefaultMaxPasswordAttempts
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = DefaultBackoffBase
	}
	if c.BackoffMax < c.BackoffBase {
		c.BackoffMax = DefaultBackoffMax
		if c.BackoffMax < c.BackoffBase {
			c.BackoffMax = c.BackoffBase
		}
	}
	return c
}

// Lifecycle implements RequestCode, SubmitCode, SubmitPassword, Invalidate, Logout and Status, and
// hands authorized connections to the command dispatcher.
type Lifecycle struct {
	repo    repository.Repository
	dialer  protocol.Dialer
	locks   *keylock.Locker
	cfg     Config
	logger  *slog.Logger
	emitter telemetry.EventEmitter
	tracer  trace.Tracer
	moves   metric.Int64Counter
	now     func() time.Time
}

// NewLifecycle returns a Lifecycle. locks may be shared with other components that mutate sessions;
// logger and emitter may be nil.
func NewLifecycle(
	repo repository.Repository,
	dialer protocol.Dialer,
	locks *keylock.Locker,
	cfg Config,
	logger *slog.Logger,
	emitter telemetry.EventEmitter,
) *Lifecycle {
	if locks == nil {
		locks = keylock.New()
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	moves, err := otel.Meter(instrumentationName).Int64Counter("relay.session.transitions",
		metric.WithDescription("Session state machine transitions by event and outcome."))
	if err != nil {
		logger.Warn("session: transition counter unavailable", "error", err)
	}
	return &Lifecycle{
		repo:    repo,
		dialer:  dialer,
		locks:   locks,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		emitter: emitter,
		tracer:  otel.Tracer(instrumentationName),
		moves:   moves,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// RequestCode asks the protocol to send a login code to phone. creds overrides the stored or default
// application credentials. While a code is pending for the same phone and has not expired, it returns
// the stored session without calling the protocol.
func (l *Lifecycle) RequestCode(ctx context.Context, accountID, phone string, creds *domain.Credentials) (*domain.Session, error) {
	accountID = strings.TrimSpace(accountID)
	phone = strings.TrimSpace(phone)
	if accountID == "" || phone == "" {
		return nil, relayerr.New(relayerr.KindBadRequest, "accountId and phone are required")
	}
	if creds != nil && (creds.APIID <= 0 || creds.APIHash == "") {
		return nil, relayerr.New(relayerr.KindBadRequest, "apiId and apiHash must be given together")
	}
	unlock, err := l.lock(ctx, accountID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	s, err := l.load(ctx, accountID)
	if err != nil {
		return nil, err
	}
	now := l.now()
	if s == nil {
		s = domain.New(accountID, now)
	}
	if !domain.CanApply(s.Phase, domain.EventRequestCode) {
		return nil, relayerr.InvalidPhase(string(domain.EventRequestCode), string(s.Phase))
	}
	wantCreds := l.credentialsFor(s, creds)
	if s.Phase == domain.PhaseCodeSent && s.Phone == phone && wantCreds == s.Credentials && !s.PendingExpired(now) {
		return s, nil
	}
	if s.RetryBlocked(now) {
		wait := s.RetryAfter.Sub(now).Round(time.Second)
		rerr := relayerr.Protocol(string(protocol.ErrRateLimited), fmt.Sprintf("code requests are rate limited; retry in %s", wait), nil)
		s.RecordError(rerr.Code, rerr.Message, now)
		if err := l.save(ctx, s); err != nil {
			return nil, err
		}
		return nil, rerr
	}

	ctx, span := l.startSpan(ctx, domain.EventRequestCode, accountID)
	defer span.End()
	pctx, cancel := context.WithTimeout(ctx, l.cfg.ProtocolTimeout)
	defer cancel()

	var req *protocol.CodeRequest
	err = l.withConn(pctx, protocol.Credentials{APIID: wantCreds.APIID, APIHash: wantCreds.APIHash}, func(c protocol.Conn) error {
		var cerr error
		req, cerr = c.RequestCode(pctx, phone)
		return cerr
	})
	now = l.now()
	outcome := classifyRequestCode(err)
	from := s.Phase
	if outcome != domain.OutcomeTransient {
		s.Phone = phone
		s.Credentials = wantCreds
	}
	if aerr := s.Apply(domain.EventRequestCode, outcome, now); aerr != nil {
		return nil, relayerr.Wrap(relayerr.KindInternal, "state machine rejected outcome", aerr)
	}
	switch outcome {
	case domain.OutcomeSucceeded:
		s.PendingLoginToken = req.Token
		expires := req.ExpiresAt
		if expires.IsZero() {
			expires = now.Add(l.cfg.CodeTTL)
		}
		s.PendingExpiresAt = &expires
		s.RateLimitStrikes = 0
		s.RetryAfter = nil
		s.LastError = nil
	case domain.OutcomeRateLimited:
		s.RateLimitStrikes++
		retryAt := now.Add(l.backoff(s.RateLimitStrikes, err))
		s.RetryAfter = &retryAt
	}
	return l.finish(ctx, span, s, from, domain.EventRequestCode, outcome, err)
}

// SubmitCode completes the code step of the pending login.
func (l *Lifecycle) SubmitCode(ctx context.Context, accountID, code string) (*domain.Session, error) {
	accountID = strings.TrimSpace(accountID)
	code = strings.TrimSpace(code)
	if accountID == "" || code == "" {
		return nil, relayerr.New(relayerr.KindBadRequest, "accountId and code are required")
	}
	unlock, err := l.lock(ctx, accountID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	s, err := l.loadExisting(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !domain.CanApply(s.Phase, domain.EventSubmitCode) {
		return nil, relayerr.InvalidPhase(string(domain.EventSubmitCode), string(s.Phase))
	}
	ctx, span := l.startSpan(ctx, domain.EventSubmitCode, accountID)
	defer span.End()
	from := s.Phase
	if s.PendingExpired(l.now()) {
		if aerr := s.Apply(domain.EventSubmitCode, domain.OutcomeExpired, l.now()); aerr != nil {
			return nil, relayerr.Wrap(relayerr.KindInternal, "state machine rejected outcome", aerr)
		}
		return l.finish(ctx, span, s, from, domain.EventSubmitCode, domain.OutcomeExpired,
			protocol.NewError(protocol.ErrCodeExpired, "the login code has expired; request a new one"))
	}

	pctx, cancel := context.WithTimeout(ctx, l.cfg.ProtocolTimeout)
	defer cancel()
	var res *protocol.SignIn
	err = l.withConn(pctx, l.connCredentials(s), func(c protocol.Conn) error {
		var cerr error
		res, cerr = c.SubmitCode(pctx, s.PendingLoginToken, code)
		return cerr
	})
	outcome := classifySignIn(err, res)
	if aerr := s.Apply(domain.EventSubmitCode, outcome, l.now()); aerr != nil {
		return nil, relayerr.Wrap(relayerr.KindInternal, "state machine rejected outcome", aerr)
	}
	switch outcome {
	case domain.OutcomeSucceeded:
		s.ProtocolSessionBlob = res.Blob
		s.LastError = nil
	case domain.OutcomePasswordNeeded:
		if res.Token != "" {
			s.PendingLoginToken = res.Token
		}
		s.PasswordAttempts = 0
		s.LastError = nil
	}
	return l.finish(ctx, span, s, from, domain.EventSubmitCode, outcome, err)
}

// SubmitPassword completes the two-step verification step. Wrong passwords count against
// MaxPasswordAttempts; the last allowed failure moves the session to Failed.
func (l *Lifecycle) SubmitPassword(ctx context.Context, accountID, password string) (*domain.Session, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" || password == "" {
		return nil, relayerr.New(relayerr.KindBadRequest, "accountId and password are required")
	}
	unlock, err := l.lock(ctx, accountID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	s, err := l.loadExisting(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if !domain.CanApply(s.Phase, domain.EventSubmitPassword) {
		return nil, relayerr.InvalidPhase(string(domain.EventSubmitPassword), string(s.Phase))
	}
	ctx, span := l.startSpan(ctx, domain.EventSubmitPassword, accountID)
	defer span.End()
	from := s.Phase
	if s.PendingExpired(l.now()) {
		if aerr := s.Apply(domain.EventSubmitPassword, domain.OutcomeExpired, l.now()); aerr != nil {
			return nil, relayerr.Wrap(relayerr.KindInternal, "state machine rejected outcome", aerr)
		}
		return l.finish(ctx, span, s, from, domain.EventSubmitPassword, domain.OutcomeExpired,
			protocol.NewError(protocol.ErrCodeExpired, "the login has expired; request a new code"))
	}

	pctx, cancel := context.WithTimeout(ctx, l.cfg.ProtocolTimeout)
	defer cancel()
	var res *protocol.SignIn
	err = l.withConn(pctx, l.connCredentials(s), func(c protocol.Conn) error {
		var cerr error
		res, cerr = c.SubmitPassword(pctx, s.PendingLoginToken, password)
		return cerr
	})
	outcome := classifySignIn(err, res)
	attempts := s.PasswordAttempts
	if outcome == domain.OutcomeRejected {
		attempts++
		if attempts >= l.cfg.MaxPasswordAttempts {
			outcome = domain.OutcomeExhausted
			err = protocol.NewError("password_attempts_exhausted",
				fmt.Sprintf("password rejected %d times; request a new code", attempts))
		}
	}
	if outcome == domain.OutcomePasswordNeeded {
		// A second password prompt after a password is not a flow the protocol defines.
		outcome = domain.OutcomeUnrecoverable
		err = protocol.NewError(protocol.ErrCommandFailed, "protocol asked for a password twice")
	}
	if aerr := s.Apply(domain.EventSubmitPassword, outcome, l.now()); aerr != nil {
		return nil, relayerr.Wrap(relayerr.KindInternal, "state machine rejected outcome", aerr)
	}
	switch outcome {
	case domain.OutcomeSucceeded:
		s.ProtocolSessionBlob = res.Blob
		s.LastError = nil
	case domain.OutcomeRejected:
		s.PasswordAttempts = attempts
	}
	return l.finish(ctx, span, s, from, domain.EventSubmitPassword, outcome, err)
}

// Invalidate drops the protocol session and any pending login, returning the account to
// Unauthenticated. Phone, credentials and rate-limit state are kept.
func (l *Lifecycle) Invalidate(ctx context.Context, accountID string) (*domain.Session, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, relayerr.New(relayerr.KindBadRequest, "accountId is required")
	}
	unlock, err := l.lock(ctx, accountID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	s, err := l.loadExisting(ctx, accountID)
	if err != nil {
		return nil, err
	}
	from := s.Phase
	if err := s.Apply(domain.EventInvalidate, domain.OutcomeSucceeded, l.now()); err != nil {
		return nil, relayerr.Wrap(relayerr.KindInternal, "state machine rejected outcome", err)
	}
	if err := l.save(ctx, s); err != nil {
		return nil, err
	}
	l.record(ctx, s, from, domain.EventInvalidate, domain.OutcomeSucceeded)
	return s, nil
}

// Logout deletes the account's session record.
func (l *Lifecycle) Logout(ctx context.Context, accountID string) error {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return relayerr.New(relayerr.KindBadRequest, "accountId is required")
	}
	unlock, err := l.lock(ctx, accountID)
	if err != nil {
		return err
	}
	defer unlock()
	s, err := l.loadExisting(ctx, accountID)
	if err != nil {
		return err
	}
	if err := l.repo.Delete(ctx, accountID); err != nil {
		return relayerr.Wrap(relayerr.KindInternal, "session store unavailable", err)
	}
	l.logger.InfoContext(ctx, "session: logged out", "account_id", accountID, "phase", s.Phase)
	telemetry.EmitAsync(l.emitter, ctx, l.event(ctx, telemetry.EventSessionReset, s, "deleted"))
	return nil
}

// Status returns the stored session without touching the protocol. It waits for any transition
// in progress on the account.
func (l *Lifecycle) Status(ctx context.Context, accountID string) (*domain.Session, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, relayerr.New(relayerr.KindBadRequest, "accountId is required")
	}
	unlock, err := l.lock(ctx, accountID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return l.loadExisting(ctx, accountID)
}

// RunAuthorized opens a connection for an authorized session and passes it to fn, all under the
// account lock. The protocol is asked whether the session is still authorized first; a revoked
// session, reported either way, is moved to Unauthenticated with its blob cleared. Rejected app
// credentials move the session to Failed, also clearing the blob.
func (l *Lifecycle) RunAuthorized(ctx context.Context, accountID string, fn func(ctx context.Context, conn protocol.Conn) error) error {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return relayerr.New(relayerr.KindBadRequest, "accountId is required")
	}
	unlock, err := l.lock(ctx, accountID)
	if err != nil {
		return err
	}
	defer unlock()
	s, err := l.loadExisting(ctx, accountID)
	if err != nil {
		return err
	}
	if !domain.CanApply(s.Phase, domain.EventExecute) {
		return relayerr.InvalidPhase(string(domain.EventExecute), string(s.Phase))
	}
	ctx, span := l.startSpan(ctx, domain.EventExecute, accountID)
	defer span.End()
	pctx, cancel := context.WithTimeout(ctx, l.cfg.ProtocolTimeout)
	defer cancel()
	err = l.withConn(pctx, l.connCredentials(s), func(c protocol.Conn) error {
		ok, aerr := c.IsAuthorized(pctx)
		if aerr != nil {
			return aerr
		}
		if !ok {
			return protocol.NewError(protocol.ErrSessionRevoked, "the protocol session is no longer authorized")
		}
		return fn(pctx, c)
	})
	outcome := classifyExecute(err)
	from := s.Phase
	if aerr := s.Apply(domain.EventExecute, outcome, l.now()); aerr != nil {
		return relayerr.Wrap(relayerr.KindInternal, "state machine rejected outcome", aerr)
	}
	_, err = l.finish(ctx, span, s, from, domain.EventExecute, outcome, err)
	return err
}

// finish records err on s (if any), persists s, emits telemetry and returns s or the relay error.
func (l *Lifecycle) finish(ctx context.Context, span trace.Span, s *domain.Session, from domain.Phase, event domain.Event, outcome domain.Outcome, err error) (*domain.Session, error) {
	var rerr error
	if err != nil {
		rerr = toRelayError(string(event), err)
		if re, ok := relayerr.As(rerr); ok {
			s.RecordError(re.EnvelopeKind(), re.Message, l.now())
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, string(outcome))
	}
	// The protocol side effect has happened; persist even if the caller went away.
	if serr := l.save(context.WithoutCancel(ctx), s); serr != nil {
		return nil, serr
	}
	l.record(ctx, s, from, event, outcome)
	if rerr != nil {
		return nil, rerr
	}
	return s, nil
}

func (l *Lifecycle) record(ctx context.Context, s *domain.Session, from domain.Phase, event domain.Event, outcome domain.Outcome) {
	if l.moves != nil {
		l.moves.Add(ctx, 1, metric.WithAttributes(
			attribute.String("event", string(event)),
			attribute.String("outcome", string(outcome)),
			attribute.String("to", string(s.Phase)),
		))
	}
	level := slog.LevelInfo
	if outcome != domain.OutcomeSucceeded && outcome != domain.OutcomePasswordNeeded {
		level = slog.LevelWarn
	}
	l.logger.Log(ctx, level, "session: transition",
		"account_id", s.AccountID,
		"event", event,
		"outcome", outcome,
		"from", from,
		"to", s.Phase,
		"request_id", telemetry.RequestIDFrom(ctx),
	)
	ev := l.event(ctx, eventTypeFor(event), s, string(outcome))
	ev.Metadata = fmt.Appendf(nil, `{"from":%q,"to":%q}`, from, s.Phase)
	telemetry.EmitAsync(l.emitter, ctx, ev)
}

func (l *Lifecycle) event(ctx context.Context, eventType string, s *domain.Session, outcome string) *telemetry.Event {
	ev := telemetry.NewEvent(eventType, s.AccountID, outcome, nil)
	ev.RequestID = telemetry.RequestIDFrom(ctx)
	ev.Phase = string(s.Phase)
	return ev
}

func eventTypeFor(event domain.Event) string {
	switch event {
	case domain.EventRequestCode:
		return telemetry.EventCodeRequested
	case domain.EventSubmitCode:
		return telemetry.EventCodeSubmitted
	case domain.EventSubmitPassword:
		return telemetry.EventPasswordSubmitted
	case domain.EventExecute:
		return telemetry.EventCommandExecuted
	default:
		return telemetry.EventSessionReset
	}
}

func (l *Lifecycle) startSpan(ctx context.Context, event domain.Event, accountID string) (context.Context, trace.Span) {
	return l.tracer.Start(ctx, "session."+string(event), trace.WithAttributes(
		attribute.String("relay.account_id", accountID),
	))
}

func (l *Lifecycle) lock(ctx context.Context, accountID string) (func(), error) {
	lctx, cancel := context.WithTimeout(ctx, l.cfg.LockTimeout)
	defer cancel()
	unlock, err := l.locks.Lock(lctx, accountID)
	if err != nil {
		return nil, relayerr.Timeout("waiting for another request on this account", err)
	}
	return unlock, nil
}

func (l *Lifecycle) load(ctx context.Context, accountID string) (*domain.Session, error) {
	s, err := l.repo.Get(ctx, accountID)
	if err != nil {
		return nil, relayerr.Wrap(relayerr.KindInternal, "session store unavailable", err)
	}
	return s, nil
}

func (l *Lifecycle) loadExisting(ctx context.Context, accountID string) (*domain.Session, error) {
	s, err := l.load(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if s == nil {
		return nil, relayerr.NotFound(accountID)
	}
	return s, nil
}

func (l *Lifecycle) save(ctx context.Context, s *domain.Session) error {
	if err := l.repo.Put(ctx, s); err != nil {
		l.logger.ErrorContext(ctx, "session: persist failed", "account_id", s.AccountID, "error", err)
		return relayerr.Wrap(relayerr.KindInternal, "session store unavailable", err)
	}
	return nil
}

// withConn dials, runs fn and always closes the connection.
func (l *Lifecycle) withConn(ctx context.Context, creds protocol.Credentials, fn func(protocol.Conn) error) error {
	conn, err := l.dialer.Dial(ctx, creds)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			l.logger.WarnContext(ctx, "session: protocol disconnect failed", "error", cerr)
		}
	}()
	return fn(conn)
}

func (l *Lifecycle) credentialsFor(s *domain.Session, override *domain.Credentials) domain.Credentials {
	switch {
	case override != nil:
		return *override
	case s.Credentials.APIID > 0 && s.Credentials.APIHash != "":
		return s.Credentials
	default:
		return l.cfg.DefaultCredentials
	}
}

func (l *Lifecycle) connCredentials(s *domain.Session) protocol.Credentials {
	c := l.credentialsFor(s, nil)
	return protocol.Credentials{APIID: c.APIID, APIHash: c.APIHash, Blob: s.ProtocolSessionBlob}
}

// backoff returns the wait after the strikes-th consecutive rate limit: BackoffBase doubled per
// strike, capped at BackoffMax, and never shorter than the protocol's own wait.
func (l *Lifecycle) backoff(strikes int, err error) time.Duration {
	d := l.cfg.BackoffBase
	for i := 1; i < strikes && d < l.cfg.BackoffMax; i++ {
		d *= 2
	}
	if d > l.cfg.BackoffMax {
		d = l.cfg.BackoffMax
	}
	if pe, ok := protocol.AsError(err); ok && pe.RetryAfter > d {
		d = pe.RetryAfter
	}
	return d
}

func classifyRequestCode(err error) domain.Outcome {
	switch {
	case err == nil:
		return domain.OutcomeSucceeded
	case isTransient(err):
		return domain.OutcomeTransient
	case protocol.KindOf(err) == protocol.ErrRateLimited:
		return domain.OutcomeRateLimited
	default:
		return domain.OutcomeUnrecoverable
	}
}

func classifySignIn(err error, res *protocol.SignIn) domain.Outcome {
	if err == nil {
		if res == nil {
			return domain.OutcomeUnrecoverable
		}
		if res.PasswordRequired {
			return domain.OutcomePasswordNeeded
		}
		if res.Blob == "" {
			return domain.OutcomeUnrecoverable
		}
		return domain.OutcomeSucceeded
	}
	if isTransient(err) {
		return domain.OutcomeTransient
	}
	switch protocol.KindOf(err) {
	case protocol.ErrInvalidCode, protocol.ErrInvalidPassword:
		return domain.OutcomeRejected
	case protocol.ErrCodeExpired:
		return domain.OutcomeExpired
	case protocol.ErrRateLimited:
		return domain.OutcomeTransient
	default:
		return domain.OutcomeUnrecoverable
	}
}

func classifyExecute(err error) domain.Outcome {
	switch {
	case err == nil:
		return domain.OutcomeSucceeded
	case protocol.KindOf(err) == protocol.ErrSessionRevoked:
		return domain.OutcomeRevoked
	case protocol.KindOf(err) == protocol.ErrInvalidCredentials:
		return domain.OutcomeUnrecoverable
	case isTransient(err):
		return domain.OutcomeTransient
	default:
		return domain.OutcomeRejected
	}
}

// isTransient treats errors that carry no protocol verdict like network failures.
func isTransient(err error) bool {
	if protocol.IsTransient(err) {
		return true
	}
	_, typed := protocol.AsError(err)
	_, relay := relayerr.As(err)
	return !typed && !relay
}

// toRelayError maps a protocol-call error to the caller-facing error.
func toRelayError(op string, err error) error {
	if re, ok := relayerr.As(err); ok {
		return re
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return relayerr.Timeout(op, err)
	}
	if pe, ok := protocol.AsError(err); ok {
		return relayerr.Protocol(string(pe.Kind), pe.Message, err)
	}
	return relayerr.Protocol(string(protocol.ErrNetworkFailure), "protocol unreachable", err)
}
