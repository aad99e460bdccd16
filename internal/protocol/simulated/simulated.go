// Package simulated is an in-process stand-in for the messaging protocol. It keeps its own accounts,
// pending logins and issued sessions, so relay state can be dropped and rehydrated against it the way
// it would be against the real remote service. Codes are delivered to a devotp.Inbox.
package simulated

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	commanddomain "account-relay/internal/command/domain"
	"account-relay/internal/devotp"
	"account-relay/internal/protocol"
)

const (
	defaultCodeTTL       = 5 * time.Minute
	defaultMaxCodeSends  = 5
	defaultSendWindow    = time.Hour
	defaultFloodWait     = 60 * time.Second
	defaultStartingStars = 1000
)

var phonePattern = regexp.MustCompile(`^\+?[1-9][0-9]{6,14}$`)

// Account is a protocol-side user.
type Account struct {
	UserID    int64
	Phone     string
	FirstName string
	// Password enables two-step verification when non-empty.
	Password string
	Stars    int64
	Banned   bool
}

// Gift is a catalogue entry purchasable with stars.
type Gift struct {
	ID    int64
	Stars int64
}

// Options configure a Protocol. Zero values take defaults.
type Options struct {
	CodeTTL time.Duration
	// MaxCodeSends is how many codes one phone may request per SendWindow before being rate limited.
	MaxCodeSends int
	SendWindow   time.Duration
	FloodWait    time.Duration
	// FixedCode, when set, is issued instead of a random code.
	FixedCode string
	// Latency is added to every call, honouring the caller's context.
	Latency time.Duration
	Now     func() time.Time
}

type pendingLogin struct {
	phone     string
	codeHash  string
	expiresAt time.Time
	// awaitingPassword is set once the code was accepted for an account with two-step verification.
	awaitingPassword bool
}

// SentGift records a completed send_gift.
type SentGift struct {
	From   int64
	To     int64
	GiftID int64
	At     time.Time
}

// Protocol is the simulated remote service. It is safe for concurrent use.
type Protocol struct {
	opts  Options
	inbox devotp.Inbox

	mu         sync.Mutex
	accounts   map[string]*Account // by phone
	nextUserID int64
	gifts      map[int64]Gift
	pending    map[string]*pendingLogin // by token
	sessions   map[string]string        // blob -> phone
	sends      map[string][]time.Time   // phone -> recent code sends
	sent       []SentGift
	faults     map[string][]error
	openConns  int
	dials      int
}

// New returns a simulated protocol delivering codes to inbox (may be nil).
func New(inbox devotp.Inbox, opts Options) *Protocol {
	if opts.CodeTTL <= 0 {
		opts.CodeTTL = defaultCodeTTL
	}
	if opts.MaxCodeSends <= 0 {
		opts.MaxCodeSends = defaultMaxCodeSends
	}
	if opts.SendWindow <= 0 {
		opts.SendWindow = defaultSendWindow
	}
	if opts.FloodWait <= 0 {
		opts.FloodWait = defaultFloodWait
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Protocol{
		opts:       opts,
		inbox:      inbox,
		accounts:   make(map[string]*Account),
		nextUserID: 100000,
		gifts: map[int64]Gift{
			5170145012310081615: {ID: 5170145012310081615, Stars: 15},
			5170233102089322756: {ID: 5170233102089322756, Stars: 25},
			5168043875654172773: {ID: 5168043875654172773, Stars: 50},
		},
		pending:  make(map[string]*pendingLogin),
		sessions: make(map[string]string),
		sends:    make(map[string][]time.Time),
		faults:   make(map[string][]error),
	}
}

// AddAccount registers a protocol account and returns it with its assigned user id.
func (p *Protocol) AddAccount(a Account) Account {
	p.mu.Lock()
	defer p.mu.Unlock()
	return *p.addAccountLocked(a)
}

func (p *Protocol) addAccountLocked(a Account) *Account {
	if a.UserID == 0 {
		p.nextUserID++
		a.UserID = p.nextUserID
	}
	if a.FirstName == "" {
		a.FirstName = "User"
	}
	acct := a
	p.accounts[a.Phone] = &acct
	return &acct
}

// AddGift adds a catalogue gift.
func (p *Protocol) AddGift(g Gift) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.gifts[g.ID] = g
}

// Revoke terminates every session issued for phone, as if the user logged out all devices.
func (p *Protocol) Revoke(phone string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for blob, ph := range p.sessions {
		if ph == phone {
			delete(p.sessions, blob)
		}
	}
}

// FailNext makes the next call to op ("send_code", "sign_in", "check_password", "command",
// "is_authorized") return err instead of running.
func (p *Protocol) FailNext(op string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.faults[op] = append(p.faults[op], err)
}

// SetLatency changes the per-call latency.
func (p *Protocol) SetLatency(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opts.Latency = d
}

// OpenConns returns the number of connections dialled and not yet closed.
func (p *Protocol) OpenConns() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.openConns
}

// Dials returns the total number of Dial calls.
func (p *Protocol) Dials() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dials
}

// SentGifts returns every completed send_gift.
func (p *Protocol) SentGifts() []SentGift {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]SentGift(nil), p.sent...)
}

// Dial opens a connection. Application credentials are checked on first use, like the real service.
func (p *Protocol) Dial(ctx context.Context, creds protocol.Credentials) (protocol.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.openConns++
	p.dials++
	p.mu.Unlock()
	return &conn{p: p, creds: creds}, nil
}

type conn struct {
	p      *Protocol
	creds  protocol.Credentials
	mu     sync.Mutex
	closed bool
}

func (c *conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.p.mu.Lock()
	c.p.openConns--
	c.p.mu.Unlock()
	return nil
}

// enter runs the shared prologue of every call: closed check, latency, injected faults and the
// application credential check. It returns with p.mu held on success.
func (c *conn) enter(ctx context.Context, op string) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return protocol.NewError(protocol.ErrNetworkFailure, "connection closed")
	}
	c.p.mu.Lock()
	latency := c.p.opts.Latency
	c.p.mu.Unlock()
	if latency > 0 {
		t := time.NewTimer(latency)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.p.mu.Lock()
	if queued := c.p.faults[op]; len(queued) > 0 {
		err := queued[0]
		c.p.faults[op] = queued[1:]
		c.p.mu.Unlock()
		return err
	}
	if c.creds.APIID <= 0 || c.creds.APIHash == "" {
		c.p.mu.Unlock()
		return protocol.NewError(protocol.ErrInvalidCredentials, "api_id/api_hash combination is invalid")
	}
	return nil
}

func (c *conn) RequestCode(ctx context.Context, phone string) (*protocol.CodeRequest, error) {
	if err := c.enter(ctx, "send_code"); err != nil {
		return nil, err
	}
	p := c.p
	now := p.opts.Now()
	if !phonePattern.MatchString(phone) {
		p.mu.Unlock()
		return nil, protocol.NewError(protocol.ErrInvalidPhone, "phone number is invalid")
	}
	acct, ok := p.accounts[phone]
	if !ok {
		acct = p.addAccountLocked(Account{Phone: phone, Stars: defaultStartingStars})
	}
	if acct.Banned {
		p.mu.Unlock()
		return nil, protocol.NewError(protocol.ErrInvalidPhone, "phone number is banned")
	}
	recent := p.sends[phone][:0]
	for _, at := range p.sends[phone] {
		if now.Sub(at) < p.opts.SendWindow {
			recent = append(recent, at)
		}
	}
	p.sends[phone] = recent
	if len(recent) >= p.opts.MaxCodeSends {
		p.mu.Unlock()
		return nil, &protocol.Error{Kind: protocol.ErrRateLimited, Message: "too many code requests", RetryAfter: p.opts.FloodWait}
	}
	code := p.opts.FixedCode
	if code == "" {
		var err error
		if code, err = generateCode(); err != nil {
			p.mu.Unlock()
			return nil, err
		}
	}
	token := uuid.NewString()
	expires := now.Add(p.opts.CodeTTL)
	for tok, pl := range p.pending {
		if pl.phone == phone {
			delete(p.pending, tok)
		}
	}
	p.pending[token] = &pendingLogin{phone: phone, codeHash: hashSecret(code), expiresAt: expires}
	p.sends[phone] = append(p.sends[phone], now)
	p.mu.Unlock()

	if p.inbox != nil {
		p.inbox.Deliver(ctx, devotp.Message{Phone: phone, Code: code, SentAt: now, ExpiresAt: expires})
	}
	return &protocol.CodeRequest{Token: token, ExpiresAt: expires}, nil
}

func (c *conn) SubmitCode(ctx context.Context, token, code string) (*protocol.SignIn, error) {
	if err := c.enter(ctx, "sign_in"); err != nil {
		return nil, err
	}
	p := c.p
	defer p.mu.Unlock()
	pl, err := p.pendingLocked(token)
	if err != nil {
		return nil, err
	}
	if pl.awaitingPassword {
		return nil, protocol.NewError(protocol.ErrCodeExpired, "code already used")
	}
	if !secretMatches(code, pl.codeHash) {
		return nil, protocol.NewError(protocol.ErrInvalidCode, "phone code is invalid")
	}
	acct := p.accounts[pl.phone]
	if acct.Password != "" {
		pl.awaitingPassword = true
		return &protocol.SignIn{PasswordRequired: true}, nil
	}
	delete(p.pending, token)
	return &protocol.SignIn{Blob: p.issueLocked(pl.phone)}, nil
}

func (c *conn) SubmitPassword(ctx context.Context, token, password string) (*protocol.SignIn, error) {
	if err := c.enter(ctx, "check_password"); err != nil {
		return nil, err
	}
	p := c.p
	defer p.mu.Unlock()
	pl, err := p.pendingLocked(token)
	if err != nil {
		return nil, err
	}
	if !pl.awaitingPassword {
		return nil, protocol.NewError(protocol.ErrInvalidCode, "password not requested for this login")
	}
	acct := p.accounts[pl.phone]
	if password == "" || password != acct.Password {
		return nil, protocol.NewError(protocol.ErrInvalidPassword, "password is invalid")
	}
	delete(p.pending, token)
	return &protocol.SignIn{Blob: p.issueLocked(pl.phone)}, nil
}

func (p *Protocol) pendingLocked(token string) (*pendingLogin, error) {
	pl, ok := p.pending[token]
	if !ok {
		return nil, protocol.NewError(protocol.ErrCodeExpired, "login token unknown or superseded")
	}
	if !pl.expiresAt.After(p.opts.Now()) {
		delete(p.pending, token)
		return nil, protocol.NewError(protocol.ErrCodeExpired, "phone code expired")
	}
	return pl, nil
}

func (p *Protocol) issueLocked(phone string) string {
	blob := "sim:" + uuid.NewString()
	p.sessions[blob] = phone
	return blob
}

func (c *conn) IsAuthorized(ctx context.Context) (bool, error) {
	if err := c.enter(ctx, "is_authorized"); err != nil {
		return false, err
	}
	defer c.p.mu.Unlock()
	_, ok := c.p.sessions[c.creds.Blob]
	return ok && c.creds.Blob != "", nil
}

func (c *conn) ExecuteCommand(ctx context.Context, cmd commanddomain.Command) (json.RawMessage, error) {
	if err := c.enter(ctx, "command"); err != nil {
		return nil, err
	}
	p := c.p
	defer p.mu.Unlock()
	phone, ok := p.sessions[c.creds.Blob]
	if !ok || c.creds.Blob == "" {
		return nil, protocol.NewError(protocol.ErrSessionRevoked, "authorization key unregistered")
	}
	acct := p.accounts[phone]
	var result any
	switch cmd.Kind {
	case commanddomain.KindNoop:
		result = map[string]any{"ok": true}
	case commanddomain.KindGetMe:
		result = map[string]any{"id": acct.UserID, "phone": acct.Phone, "first_name": acct.FirstName}
	case commanddomain.KindGetBalance:
		result = map[string]any{"stars": acct.Stars}
	case commanddomain.KindSendGift:
		g, ok := p.gifts[cmd.SendGift.GiftID]
		if !ok {
			return nil, protocol.NewError(protocol.ErrCommandFailed, fmt.Sprintf("gift %d not found", cmd.SendGift.GiftID))
		}
		if acct.Stars < g.Stars {
			return nil, protocol.NewError(protocol.ErrCommandFailed, "insufficient stars balance")
		}
		acct.Stars -= g.Stars
		p.sent = append(p.sent, SentGift{From: acct.UserID, To: cmd.SendGift.UserID, GiftID: g.ID, At: p.opts.Now()})
		result = map[string]any{"ok": true, "gift_id": g.ID, "user_id": cmd.SendGift.UserID, "stars_left": acct.Stars}
	default:
		return nil, protocol.NewError(protocol.ErrCommandFailed, fmt.Sprintf("unknown command %q", cmd.Kind))
	}
	return json.Marshal(result)
}
