package service

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	commanddomain "account-relay/internal/command/domain"
	"account-relay/internal/db/sqlitedb"
	"account-relay/internal/devotp"
	"account-relay/internal/protocol"
	"account-relay/internal/protocol/simulated"
	"account-relay/internal/relayerr"
	"account-relay/internal/session/domain"
	"account-relay/internal/session/repository"
)

const testPhone = "+15551234567"

// memRepo is an in-memory repository.Repository that counts calls.
type memRepo struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
	gets     int
	puts     int
}

func newMemRepo() *memRepo {
	return &memRepo{sessions: make(map[string]*domain.Session)}
}

func (r *memRepo) Get(ctx context.Context, id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gets++
	return r.sessions[id].Clone(), nil
}

func (r *memRepo) Put(ctx context.Context, s *domain.Session) error {
	if err := s.Validate(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.puts++
	r.sessions[s.AccountID] = s.Clone()
	return nil
}

func (r *memRepo) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
	return nil
}

func (r *memRepo) stored(id string) *domain.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[id].Clone()
}

func (r *memRepo) calls() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gets, r.puts
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type harness struct {
	l     *Lifecycle
	proto *simulated.Protocol
	inbox *devotp.MemoryInbox
	repo  repository.Repository
	clock *fakeClock
}

var testCreds = domain.Credentials{APIID: 12345, APIHash: "0123456789abcdef"}

func newHarness(t *testing.T, repo repository.Repository, opts simulated.Options, cfg Config) *harness {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)}
	opts.Now = clock.now
	inbox := devotp.NewMemoryInboxWithClock(clock.now)
	proto := simulated.New(inbox, opts)
	if cfg.DefaultCredentials == (domain.Credentials{}) {
		cfg.DefaultCredentials = testCreds
	}
	l := NewLifecycle(repo, proto, nil, cfg, nil, nil)
	l.now = clock.now
	return &harness{l: l, proto: proto, inbox: inbox, repo: repo, clock: clock}
}

func (h *harness) code(t *testing.T, phone string) string {
	t.Helper()
	msg, ok := h.inbox.Latest(context.Background(), phone)
	if !ok {
		t.Fatalf("no code delivered to %s", phone)
	}
	return msg.Code
}

func (h *harness) assertNoOpenConns(t *testing.T) {
	t.Helper()
	if n := h.proto.OpenConns(); n != 0 {
		t.Errorf("%d protocol connections left open", n)
	}
}

func assertKind(t *testing.T, err error, kind string) {
	t.Helper()
	re, ok := relayerr.As(err)
	if !ok {
		t.Fatalf("err = %v, want relay error %s", err, kind)
	}
	if re.EnvelopeKind() != kind {
		t.Fatalf("kind = %s, want %s (err %v)", re.EnvelopeKind(), kind, err)
	}
}

func TestAcct1LoginAndExecute(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, newMemRepo(), simulated.Options{}, Config{})

	s, err := h.l.RequestCode(ctx, "acct1", testPhone, nil)
	if err != nil {
		t.Fatalf("RequestCode: %v", err)
	}
	if s.Phase != domain.PhaseCodeSent {
		t.Fatalf("phase = %s, want code_sent", s.Phase)
	}
	s, err = h.l.SubmitCode(ctx, "acct1", h.code(t, testPhone))
	if err != nil {
		t.Fatalf("SubmitCode: %v", err)
	}
	if s.Phase != domain.PhaseAuthorized || s.ProtocolSessionBlob == "" || s.PendingLoginToken != "" {
		t.Fatalf("session after submit = %+v", s)
	}

	var result json.RawMessage
	err = h.l.RunAuthorized(ctx, "acct1", func(ctx context.Context, c protocol.Conn) error {
		var cerr error
		result, cerr = c.ExecuteCommand(ctx, commanddomain.GetMe())
		return cerr
	})
	if err != nil {
		t.Fatalf("RunAuthorized: %v", err)
	}
	var me struct {
		Phone string `json:"phone"`
	}
	if err := json.Unmarshal(result, &me); err != nil || me.Phone != testPhone {
		t.Errorf("get_me = %s (%v)", result, err)
	}
	h.assertNoOpenConns(t)
}

func TestRequestCode_IdempotentWhilePending(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, newMemRepo(), simulated.Options{CodeTTL: time.Minute}, Config{})

	first, err := h.l.RequestCode(ctx, "acct1", testPhone, nil)
	if err != nil {
		t.Fatal(err)
	}
	second, err := h.l.RequestCode(ctx, "acct1", testPhone, nil)
	if err != nil {
		t.Fatal(err)
	}
	if second.Phase != domain.PhaseCodeSent || second.PendingLoginToken != first.PendingLoginToken {
		t.Errorf("second request changed the pending login: %+v", second)
	}
	if d := h.proto.Dials(); d != 1 {
		t.Errorf("dials = %d, want 1", d)
	}

	h.clock.advance(2 * time.Minute)
	third, err := h.l.RequestCode(ctx, "acct1", testPhone, nil)
	if err != nil {
		t.Fatal(err)
	}
	if third.PendingLoginToken == first.PendingLoginToken {
		t.Error("expired code was not re-issued")
	}
	if d := h.proto.Dials(); d != 2 {
		t.Errorf("dials = %d, want 2", d)
	}
}

func TestRequestCode_NewPhoneReissues(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, newMemRepo(), simulated.Options{}, Config{})
	if _, err := h.l.RequestCode(ctx, "acct1", testPhone, nil); err != nil {
		t.Fatal(err)
	}
	s, err := h.l.RequestCode(ctx, "acct1", "+15557654321", nil)
	if err != nil {
		t.Fatal(err)
	}
	if s.Phone != "+15557654321" || h.proto.Dials() != 2 {
		t.Errorf("phone = %s dials = %d", s.Phone, h.proto.Dials())
	}
}

func TestSubmitCode_ConcurrentSingleWinner(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, newMemRepo(), simulated.Options{}, Config{})
	if _, err := h.l.RequestCode(ctx, "acct1", testPhone, nil); err != nil {
		t.Fatal(err)
	}
	code := h.code(t, testPhone)

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = h.l.SubmitCode(ctx, "acct1", code)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case relayerr.IsKind(err, relayerr.KindInvalidPhase):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Errorf("winners = %d, want 1", wins)
	}
	h.assertNoOpenConns(t)
}

func TestSubmitCode_WrongCodeStaysCodeSent(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	h := newHarness(t, repo, simulated.Options{FixedCode: "11111"}, Config{})
	if _, err := h.l.RequestCode(ctx, "acct1", testPhone, nil); err != nil {
		t.Fatal(err)
	}
	_, err := h.l.SubmitCode(ctx, "acct1", "22222")
	assertKind(t, err, "invalid_code")
	s := repo.stored("acct1")
	if s.Phase != domain.PhaseCodeSent {
		t.Errorf("phase = %s, want code_sent", s.Phase)
	}
	if s.LastError == nil || s.LastError.Kind != "invalid_code" {
		t.Errorf("last error = %+v", s.LastError)
	}
	if _, err := h.l.SubmitCode(ctx, "acct1", "11111"); err != nil {
		t.Fatalf("retry with right code: %v", err)
	}
}

func TestSubmitCode_StoredExpiryFailsWithoutProtocolCall(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	h := newHarness(t, repo, simulated.Options{CodeTTL: time.Minute, FixedCode: "11111"}, Config{})
	if _, err := h.l.RequestCode(ctx, "acct1", testPhone, nil); err != nil {
		t.Fatal(err)
	}
	h.clock.advance(time.Minute)
	dials := h.proto.Dials()
	_, err := h.l.SubmitCode(ctx, "acct1", "11111")
	assertKind(t, err, "code_expired")
	if h.proto.Dials() != dials {
		t.Error("expired code reached the protocol")
	}
	s := repo.stored("acct1")
	if s.Phase != domain.PhaseFailed || s.PendingLoginToken != "" {
		t.Errorf("session = %+v, want failed with token cleared", s)
	}
	if _, err := h.l.RequestCode(ctx, "acct1", testPhone, nil); err != nil {
		t.Fatalf("request_code from failed: %v", err)
	}
}

func TestTwoStepPassword(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	h := newHarness(t, repo, simulated.Options{FixedCode: "11111"}, Config{MaxPasswordAttempts: 3})
	h.proto.AddAccount(simulated.Account{Phone: testPhone, Password: "hunter2"})

	if _, err := h.l.RequestCode(ctx, "acct1", testPhone, nil); err != nil {
		t.Fatal(err)
	}
	s, err := h.l.SubmitCode(ctx, "acct1", "11111")
	if err != nil {
		t.Fatal(err)
	}
	if s.Phase != domain.PhasePasswordRequired || s.PendingLoginToken == "" {
		t.Fatalf("session = %+v, want password_required holding token", s)
	}

	for i := 1; i <= 2; i++ {
		_, err := h.l.SubmitPassword(ctx, "acct1", "wrong")
		assertKind(t, err, "invalid_password")
		if got := repo.stored("acct1"); got.Phase != domain.PhasePasswordRequired || got.PasswordAttempts != i {
			t.Fatalf("after %d wrong: phase=%s attempts=%d", i, got.Phase, got.PasswordAttempts)
		}
	}
	s, err = h.l.SubmitPassword(ctx, "acct1", "hunter2")
	if err != nil {
		t.Fatalf("SubmitPassword: %v", err)
	}
	if s.Phase != domain.PhaseAuthorized || s.PasswordAttempts != 0 {
		t.Errorf("session = %+v", s)
	}
}

func TestTwoStepPassword_AttemptsExhausted(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	h := newHarness(t, repo, simulated.Options{FixedCode: "11111"}, Config{MaxPasswordAttempts: 2})
	h.proto.AddAccount(simulated.Account{Phone: testPhone, Password: "hunter2"})
	if _, err := h.l.RequestCode(ctx, "acct1", testPhone, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := h.l.SubmitCode(ctx, "acct1", "11111"); err != nil {
		t.Fatal(err)
	}
	_, err := h.l.SubmitPassword(ctx, "acct1", "wrong")
	assertKind(t, err, "invalid_password")
	_, err = h.l.SubmitPassword(ctx, "acct1", "wrong")
	assertKind(t, err, "password_attempts_exhausted")
	s := repo.stored("acct1")
	if s.Phase != domain.PhaseFailed || s.PendingLoginToken != "" {
		t.Errorf("session = %+v, want failed", s)
	}
	_, err = h.l.SubmitPassword(ctx, "acct1", "hunter2")
	assertKind(t, err, string(relayerr.KindInvalidPhase))
}

func TestTimeoutLeavesPhaseUnchanged(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	h := newHarness(t, repo, simulated.Options{FixedCode: "11111"}, Config{ProtocolTimeout: 20 * time.Millisecond})
	if _, err := h.l.RequestCode(ctx, "acct1", testPhone, nil); err != nil {
		t.Fatal(err)
	}
	h.proto.SetLatency(500 * time.Millisecond)
	_, err := h.l.SubmitCode(ctx, "acct1", "11111")
	assertKind(t, err, string(relayerr.KindTimeout))
	s := repo.stored("acct1")
	if s.Phase != domain.PhaseCodeSent || s.PendingLoginToken == "" {
		t.Errorf("session = %+v, want unchanged code_sent", s)
	}
	if s.LastError == nil || s.LastError.Kind != string(relayerr.KindTimeout) {
		t.Errorf("last error = %+v", s.LastError)
	}
	h.assertNoOpenConns(t)

	h.proto.SetLatency(0)
	if _, err := h.l.SubmitCode(ctx, "acct1", "11111"); err != nil {
		t.Fatalf("retry after timeout: %v", err)
	}
}

func TestNetworkFailureLeavesPhaseUnchanged(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	h := newHarness(t, repo, simulated.Options{}, Config{})
	h.proto.FailNext("send_code", protocol.NewError(protocol.ErrNetworkFailure, "connection reset"))
	_, err := h.l.RequestCode(ctx, "acct1", testPhone, nil)
	assertKind(t, err, "network_failure")
	if s := repo.stored("acct1"); s.Phase != domain.PhaseUnauthenticated {
		t.Errorf("phase = %s, want unauthenticated", s.Phase)
	}
}

func TestRequestCode_RateLimitBackoff(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	h := newHarness(t, repo,
		simulated.Options{MaxCodeSends: 1, FloodWait: 10 * time.Second},
		Config{BackoffBase: 30 * time.Second, BackoffMax: 90 * time.Second})

	if _, err := h.l.RequestCode(ctx, "acct1", testPhone, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := h.l.Invalidate(ctx, "acct1"); err != nil {
		t.Fatal(err)
	}

	_, err := h.l.RequestCode(ctx, "acct1", testPhone, nil)
	assertKind(t, err, "rate_limited")
	s := repo.stored("acct1")
	if s.Phase != domain.PhaseFailed || s.RateLimitStrikes != 1 {
		t.Fatalf("session = %+v", s)
	}
	if want := h.clock.now().Add(30 * time.Second); s.RetryAfter == nil || !s.RetryAfter.Equal(want) {
		t.Errorf("retry after = %v, want %v", s.RetryAfter, want)
	}

	dials := h.proto.Dials()
	_, err = h.l.RequestCode(ctx, "acct1", testPhone, nil)
	assertKind(t, err, "rate_limited")
	if h.proto.Dials() != dials {
		t.Error("request before retryAfter reached the protocol")
	}

	for _, want := range []time.Duration{60 * time.Second, 90 * time.Second, 90 * time.Second} {
		h.clock.advance(2 * time.Minute)
		_, err = h.l.RequestCode(ctx, "acct1", testPhone, nil)
		assertKind(t, err, "rate_limited")
		s = repo.stored("acct1")
		if got := s.RetryAfter.Sub(h.clock.now()); got != want {
			t.Errorf("strike %d backoff = %s, want %s", s.RateLimitStrikes, got, want)
		}
	}
}

func TestBackoff_NeverShorterThanProtocolWait(t *testing.T) {
	l := NewLifecycle(newMemRepo(), nil, nil, Config{BackoffBase: time.Second, BackoffMax: 4 * time.Second}, nil, nil)
	flood := &protocol.Error{Kind: protocol.ErrRateLimited, RetryAfter: time.Minute}
	testCases := []struct {
		strikes int
		err     error
		want    time.Duration
	}{
		{1, nil, time.Second},
		{2, nil, 2 * time.Second},
		{3, nil, 4 * time.Second},
		{10, nil, 4 * time.Second},
		{1, flood, time.Minute},
	}
	for _, tc := range testCases {
		if got := l.backoff(tc.strikes, tc.err); got != tc.want {
			t.Errorf("backoff(%d, %v) = %s, want %s", tc.strikes, tc.err, got, tc.want)
		}
	}
}

func TestRequestCode_InvalidPhoneFails(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	h := newHarness(t, repo, simulated.Options{}, Config{})
	_, err := h.l.RequestCode(ctx, "acct1", "not-a-phone", nil)
	assertKind(t, err, "invalid_phone")
	s := repo.stored("acct1")
	if s.Phase != domain.PhaseFailed || s.LastError == nil || s.LastError.Kind != "invalid_phone" {
		t.Errorf("session = %+v", s)
	}
	if s, err := h.l.RequestCode(ctx, "acct1", testPhone, nil); err != nil || s.Phase != domain.PhaseCodeSent {
		t.Fatalf("retry from failed: %v", err)
	}
}

func TestRequestCode_Credentials(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	h := newHarness(t, repo, simulated.Options{}, Config{})

	_, err := h.l.RequestCode(ctx, "acct1", testPhone, &domain.Credentials{APIID: 7})
	assertKind(t, err, string(relayerr.KindBadRequest))
	if _, puts := repo.calls(); puts != 0 {
		t.Error("bad request touched the store")
	}

	custom := domain.Credentials{APIID: 777, APIHash: "custom"}
	s, err := h.l.RequestCode(ctx, "acct1", testPhone, &custom)
	if err != nil {
		t.Fatal(err)
	}
	if s.Credentials != custom {
		t.Errorf("credentials = %+v, want %+v", s.Credentials, custom)
	}

	h.l.cfg.DefaultCredentials = domain.Credentials{}
	_, err = h.l.RequestCode(ctx, "acct2", testPhone, nil)
	assertKind(t, err, "invalid_credentials")
	if got := repo.stored("acct2"); got.Phase != domain.PhaseFailed {
		t.Errorf("phase = %s, want failed", got.Phase)
	}
}

func TestUnknownAccountNotFound(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	h := newHarness(t, repo, simulated.Options{}, Config{})
	calls := map[string]func() error{
		"submit_code":     func() error { _, err := h.l.SubmitCode(ctx, "ghost", "12345"); return err },
		"submit_password": func() error { _, err := h.l.SubmitPassword(ctx, "ghost", "pw"); return err },
		"invalidate":      func() error { _, err := h.l.Invalidate(ctx, "ghost"); return err },
		"logout":          func() error { return h.l.Logout(ctx, "ghost") },
		"status":          func() error { _, err := h.l.Status(ctx, "ghost"); return err },
		"execute": func() error {
			return h.l.RunAuthorized(ctx, "ghost", func(context.Context, protocol.Conn) error { return nil })
		},
	}
	for name, call := range calls {
		t.Run(name, func(t *testing.T) {
			assertKind(t, call(), string(relayerr.KindNotFound))
		})
	}
	if _, puts := repo.calls(); puts != 0 {
		t.Errorf("puts = %d, want 0", puts)
	}
	if h.proto.Dials() != 0 {
		t.Error("protocol was dialled for an unknown account")
	}
}

func TestInvalidPhaseDoesNotMutate(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	h := newHarness(t, repo, simulated.Options{}, Config{})
	if _, err := h.l.RequestCode(ctx, "acct1", testPhone, nil); err != nil {
		t.Fatal(err)
	}
	before := repo.stored("acct1")
	_, putsBefore := repo.calls()
	dials := h.proto.Dials()

	_, err := h.l.SubmitPassword(ctx, "acct1", "pw")
	assertKind(t, err, string(relayerr.KindInvalidPhase))
	err = h.l.RunAuthorized(ctx, "acct1", func(context.Context, protocol.Conn) error { return nil })
	assertKind(t, err, string(relayerr.KindInvalidPhase))

	if _, puts := repo.calls(); puts != putsBefore {
		t.Error("invalid_phase persisted state")
	}
	if h.proto.Dials() != dials {
		t.Error("invalid_phase reached the protocol")
	}
	after := repo.stored("acct1")
	if after.LastError != nil || after.Phase != before.Phase || !after.LastActivityAt.Equal(before.LastActivityAt) {
		t.Errorf("session mutated: %+v", after)
	}
}

func login(t *testing.T, h *harness, accountID string) {
	t.Helper()
	ctx := context.Background()
	if _, err := h.l.RequestCode(ctx, accountID, testPhone, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := h.l.SubmitCode(ctx, accountID, h.code(t, testPhone)); err != nil {
		t.Fatal(err)
	}
}

func TestRunAuthorized_RevokedSession(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	h := newHarness(t, repo, simulated.Options{}, Config{})
	login(t, h, "acct1")
	h.proto.Revoke(testPhone)

	called := false
	err := h.l.RunAuthorized(ctx, "acct1", func(context.Context, protocol.Conn) error {
		called = true
		return nil
	})
	assertKind(t, err, "session_revoked")
	if called {
		t.Error("command ran on a revoked session")
	}
	s := repo.stored("acct1")
	if s.Phase != domain.PhaseUnauthenticated || s.ProtocolSessionBlob != "" {
		t.Errorf("session = %+v, want unauthenticated without blob", s)
	}
}

func TestRunAuthorized_CommandErrorKeepsAuthorized(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	h := newHarness(t, repo, simulated.Options{}, Config{})
	login(t, h, "acct1")
	err := h.l.RunAuthorized(ctx, "acct1", func(ctx context.Context, c protocol.Conn) error {
		_, err := c.ExecuteCommand(ctx, commanddomain.NewSendGift(1, 999))
		return err
	})
	assertKind(t, err, "command_failed")
	if s := repo.stored("acct1"); s.Phase != domain.PhaseAuthorized {
		t.Errorf("phase = %s, want authorized", s.Phase)
	}
}

func TestRunAuthorized_InvalidCredentialsFails(t *testing.T) {
	testCases := []struct {
		name string
		op   string
	}{
		{"from is_authorized", "is_authorized"},
		{"from command", "command"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			ctx := context.Background()
			repo := newMemRepo()
			h := newHarness(t, repo, simulated.Options{}, Config{})
			login(t, h, "acct1")
			h.proto.FailNext(tc.op, protocol.NewError(protocol.ErrInvalidCredentials, "api_id revoked"))

			err := h.l.RunAuthorized(ctx, "acct1", func(ctx context.Context, c protocol.Conn) error {
				_, err := c.ExecuteCommand(ctx, commanddomain.Noop())
				return err
			})
			assertKind(t, err, "invalid_credentials")
			s := repo.stored("acct1")
			if s.Phase != domain.PhaseFailed || s.ProtocolSessionBlob != "" {
				t.Errorf("phase=%s blob=%q, want failed without blob", s.Phase, s.ProtocolSessionBlob)
			}
			if s.LastError == nil || s.LastError.Kind != "invalid_credentials" {
				t.Errorf("lastError = %+v", s.LastError)
			}
			h.assertNoOpenConns(t)
		})
	}
}

func TestInvalidateAndLogout(t *testing.T) {
	ctx := context.Background()
	repo := newMemRepo()
	h := newHarness(t, repo, simulated.Options{}, Config{})
	login(t, h, "acct1")

	s, err := h.l.Invalidate(ctx, "acct1")
	if err != nil {
		t.Fatal(err)
	}
	if s.Phase != domain.PhaseUnauthenticated || s.ProtocolSessionBlob != "" || s.Phone != testPhone {
		t.Errorf("session = %+v", s)
	}
	status, err := h.l.Status(ctx, "acct1")
	if err != nil || status.Phase != domain.PhaseUnauthenticated {
		t.Fatalf("Status = %+v, %v", status, err)
	}

	if err := h.l.Logout(ctx, "acct1"); err != nil {
		t.Fatal(err)
	}
	if repo.stored("acct1") != nil {
		t.Error("logout left the record")
	}
}

func TestLockTimeout(t *testing.T) {
	h := newHarness(t, newMemRepo(), simulated.Options{}, Config{LockTimeout: 20 * time.Millisecond})
	unlock, err := h.l.locks.Lock(context.Background(), "acct1")
	if err != nil {
		t.Fatal(err)
	}
	defer unlock()
	_, err = h.l.RequestCode(context.Background(), "acct1", testPhone, nil)
	assertKind(t, err, string(relayerr.KindTimeout))
}

func TestStatus_WaitsForAccountLock(t *testing.T) {
	h := newHarness(t, newMemRepo(), simulated.Options{}, Config{LockTimeout: 20 * time.Millisecond})
	login(t, h, "acct1")
	unlock, err := h.l.locks.Lock(context.Background(), "acct1")
	if err != nil {
		t.Fatal(err)
	}
	_, err = h.l.Status(context.Background(), "acct1")
	assertKind(t, err, string(relayerr.KindTimeout))
	unlock()
	if s, err := h.l.Status(context.Background(), "acct1"); err != nil || s.Phase != domain.PhaseAuthorized {
		t.Fatalf("Status after unlock = %v, %v", s, err)
	}
}

func TestSessionSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "relay.db")
	open := func() *sqlitedb.Pool {
		pool, err := sqlitedb.Open(sqlitedb.Config{Path: path, Schema: repository.SQLiteSchema})
		if err != nil {
			t.Fatalf("open sqlite: %v", err)
		}
		return pool
	}

	pool := open()
	h := newHarness(t, repository.NewSQLiteRepository(pool), simulated.Options{}, Config{})
	login(t, h, "acct1")
	if err := pool.Close(); err != nil {
		t.Fatal(err)
	}

	// A fresh process: new pool, new lifecycle, same remote protocol.
	pool = open()
	defer pool.Close()
	restarted := NewLifecycle(repository.NewSQLiteRepository(pool), h.proto, nil, Config{DefaultCredentials: testCreds}, nil, nil)
	restarted.now = h.clock.now

	s, err := restarted.Status(ctx, "acct1")
	if err != nil {
		t.Fatal(err)
	}
	if s.Phase != domain.PhaseAuthorized {
		t.Fatalf("phase after restart = %s", s.Phase)
	}
	err = restarted.RunAuthorized(ctx, "acct1", func(ctx context.Context, c protocol.Conn) error {
		_, err := c.ExecuteCommand(ctx, commanddomain.GetBalance())
		return err
	})
	if err != nil {
		t.Fatalf("execute after restart: %v", err)
	}
}

func TestFinish_StoreFailureIsInternal(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, brokenRepo{}, simulated.Options{}, Config{})
	_, err := h.l.RequestCode(ctx, "acct1", testPhone, nil)
	assertKind(t, err, string(relayerr.KindInternal))
}

type brokenRepo struct{}

func (brokenRepo) Get(context.Context, string) (*domain.Session, error) { return nil, nil }
func (brokenRepo) Put(context.Context, *domain.Session) error { return errors.New("disk full") }
func (brokenRepo) Delete(context.Context, string) error { return nil }
