// Package coordinator owns one client's view of a planning poker session.
// Every client runs its own coordinator against the shared document; all
// writes are field level so that no client needs to be in charge.
package coordinator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DoyleJ11/planning-poker/internal/identity"
	"github.com/DoyleJ11/planning-poker/internal/poker"
	"github.com/DoyleJ11/planning-poker/internal/store"
)

const (
	maxCreateAttempts = 5
	purgeTimeout      = 5 * time.Second
)

// Sink is told about every view change. It is called from store delivery
// goroutines and must not call back into coordinator commands synchronously.
type Sink interface {
	OnViewChanged(View)
}

type SinkFunc func(View)

func (f SinkFunc) OnViewChanged(v View) { f(v) }

type Option func(*Coordinator)

func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

func WithSink(s Sink) Option {
	return func(c *Coordinator) { c.sink = s }
}

func WithCredentials(cs CredentialStore) Option {
	return func(c *Coordinator) { c.creds = cs }
}

func WithCodeGenerator(gen func() (string, error)) Option {
	return func(c *Coordinator) { c.newCode = gen }
}

type notification struct {
	seq  uint64
	view View
}

type Coordinator struct {
	store   store.Store
	issuer  identity.Issuer
	creds   CredentialStore
	sink    Sink
	log     *zap.Logger
	now     func() time.Time
	newCode func() (string, error)

	// subscriptions outlive the commands that start them
	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	view        View
	name        string
	sessionID   string
	playerID    string
	gen         uint64 // bumped on every attach/detach; stale pushes are dropped
	unsubscribe func()
	pending     int
	awaiting    bool // attached, first document not seen yet
	seq         uint64

	notifyMu  sync.Mutex
	published uint64
}

func New(st store.Store, issuer identity.Issuer, opts ...Option) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Coordinator{
		store:   st,
		issuer:  issuer,
		creds:   &MemoryCredentials{},
		sink:    SinkFunc(func(View) {}),
		log:     zap.NewNop(),
		now:     time.Now,
		newCode: identity.GenerateCode,
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.Named("coordinator")
	return c
}

// Close detaches the subscription. The coordinator is unusable afterwards.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.detachLocked()
	c.mu.Unlock()
	c.cancel()
}

// State returns a copy of the current view.
func (c *Coordinator) State() View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

// Resume silently rejoins the session remembered in the credential store.
// It does nothing when there is nothing to resume or when the issuer no
// longer hands out the remembered participant id.
func (c *Coordinator) Resume(ctx context.Context) error {
	saved, err := c.creds.Load()
	if err != nil {
		c.log.Warn("load credentials", zap.Error(err))
		return nil
	}
	c.mu.Lock()
	if c.name == "" {
		c.name = saved.DisplayName
	}
	c.mu.Unlock()
	if !saved.resumable() {
		return nil
	}

	uid, err := c.issuer.SignIn(ctx, saved.PlayerID)
	if err != nil {
		return c.fail(newError(KindUnavailable, "resume", saved.SessionID, err))
	}
	if uid != saved.PlayerID {
		c.log.Warn("participant id changed, not reconnecting",
			zap.String("session", saved.SessionID),
			zap.String("stored", saved.PlayerID),
			zap.String("issued", uid))
		return nil
	}

	err = c.JoinSession(ctx, saved.SessionID, saved.DisplayName)
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrExpired) {
		c.forget()
	}
	return err
}

// CreateSession starts a new session with the caller as its only player
// and returns the session code.
func (c *Coordinator) CreateSession(ctx context.Context, displayName string) (string, error) {
	const op = "create"
	c.begin()

	uid, err := c.issuer.SignIn(ctx, c.storedPlayerID(""))
	if err != nil {
		return "", c.end(newError(KindCreation, op, "", err))
	}

	host := poker.Player{ID: uid, Name: displayName}
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		code, err := c.newCode()
		if err != nil {
			return "", c.end(newError(KindCreation, op, "", err))
		}
		s := poker.NewSession(code, host, c.now())
		err = c.store.Create(ctx, poker.Collection, code, NewDocument(s))
		if errors.Is(err, store.ErrAlreadyExists) {
			c.log.Debug("session code taken", zap.String("session", code))
			continue
		}
		if err != nil {
			return "", c.end(newError(KindCreation, op, code, err))
		}

		c.attach(code, uid, displayName)
		c.log.Info("session created", zap.String("session", code), zap.String("player", uid))
		return code, c.end(nil)
	}
	return "", c.end(newError(KindCreation, op, "", store.ErrAlreadyExists))
}

// JoinSession adds the caller to an existing session. A participant id
// already present in the session is a reconnection and keeps its vote.
func (c *Coordinator) JoinSession(ctx context.Context, sessionID, displayName string) error {
	const op = "join"
	sessionID = strings.ToUpper(strings.TrimSpace(sessionID))
	c.begin()

	if !identity.ValidCode(sessionID) {
		return c.end(newError(KindNotFound, op, sessionID, store.ErrNotFound))
	}

	uid, err := c.issuer.SignIn(ctx, c.storedPlayerID(sessionID))
	if err != nil {
		return c.end(newError(KindUnavailable, op, sessionID, err))
	}

	doc, err := c.store.Get(ctx, poker.Collection, sessionID)
	if err != nil {
		return c.end(fromStore(op, sessionID, err, KindUnavailable))
	}
	now := c.now()
	s, err := DecodeSession(doc, now)
	if err != nil {
		return c.end(newError(KindUnavailable, op, sessionID, err))
	}
	if s.Expired(now) {
		c.purge(sessionID)
		return c.end(newError(KindExpired, op, sessionID, nil))
	}

	if _, ok := s.Player(uid); ok {
		c.log.Info("reconnecting", zap.String("session", sessionID), zap.String("player", uid))
	} else {
		joiner := playerElement(poker.Player{ID: uid, Name: displayName})
		if err := c.store.Update(ctx, poker.Collection, sessionID, store.AppendUnique(fieldPlayers, joiner, keyPlayerID)); err != nil {
			return c.end(fromStore(op, sessionID, err, KindUnavailable))
		}
		c.log.Info("joined", zap.String("session", sessionID), zap.String("player", uid))
	}

	c.attach(sessionID, uid, displayName)
	return c.end(nil)
}

// SubmitVote replaces the current player's vote and nothing else. Without
// an active session the call is ignored. Toggling a held card off is the
// caller's business (see poker.Toggle).
func (c *Coordinator) SubmitVote(ctx context.Context, vote poker.Vote) error {
	const op = "vote"
	sessionID, pid := c.active()
	if sessionID == "" || pid == "" {
		return nil
	}
	if err := vote.Validate(); err != nil {
		return c.fail(newError(KindInvalidVote, op, sessionID, err))
	}

	c.begin()
	err := c.store.Update(ctx, poker.Collection, sessionID,
		store.SetWhere(fieldPlayers, keyPlayerID, pid, keyPlayerVote, voteValue(vote)))
	if err != nil {
		return c.end(fromStore(op, sessionID, err, KindUnavailable))
	}
	return c.end(nil)
}

// RevealVotes flips the session to revealed and records the average of the
// numeric votes in the same write.
func (c *Coordinator) RevealVotes(ctx context.Context) error {
	const op = "reveal"
	sessionID, _ := c.active()
	if sessionID == "" {
		return nil
	}

	c.begin()
	doc, err := c.store.Get(ctx, poker.Collection, sessionID)
	if err != nil {
		return c.end(fromStore(op, sessionID, err, KindUnavailable))
	}
	s, err := DecodeSession(doc, c.now())
	if err != nil {
		return c.end(newError(KindUnavailable, op, sessionID, err))
	}

	err = c.store.Update(ctx, poker.Collection, sessionID,
		store.Set(fieldRevealed, true),
		store.Set(fieldAverage, averageValue(poker.Average(s.Players))),
	)
	if err != nil {
		return c.end(fromStore(op, sessionID, err, KindUnavailable))
	}
	return c.end(nil)
}

// ResetSession starts a new round: hidden, no average, every vote cleared.
// Membership and order are untouched.
func (c *Coordinator) ResetSession(ctx context.Context) error {
	const op = "reset"
	sessionID, _ := c.active()
	if sessionID == "" {
		return nil
	}

	c.begin()
	err := c.store.Update(ctx, poker.Collection, sessionID,
		store.Set(fieldRevealed, false),
		store.Set(fieldAverage, nil),
		store.SetEach(fieldPlayers, keyPlayerVote, nil),
	)
	if err != nil {
		return c.end(fromStore(op, sessionID, err, KindUnavailable))
	}
	return c.end(nil)
}

// LeaveSession forgets the session locally. The player stays in the
// shared document.
func (c *Coordinator) LeaveSession() {
	c.mu.Lock()
	sessionID := c.sessionID
	c.detachLocked()
	c.view = View{}
	n := c.notificationLocked()
	c.mu.Unlock()

	c.forget()
	c.publish(n)
	if sessionID != "" {
		c.log.Info("left session", zap.String("session", sessionID))
	}
}

func (c *Coordinator) attach(sessionID, pid, name string) {
	c.mu.Lock()
	c.detachLocked()
	c.gen++
	gen := c.gen
	c.sessionID, c.playerID, c.name = sessionID, pid, name
	c.view = View{}
	c.awaiting = true
	c.mu.Unlock()

	if err := c.creds.Save(Credentials{DisplayName: name, SessionID: sessionID, PlayerID: pid}); err != nil {
		c.log.Warn("save credentials", zap.Error(err))
	}

	unsubscribe := c.store.Subscribe(c.ctx, poker.Collection, sessionID, store.SinkFuncs{
		Change: func(doc store.Document) { c.ingest(gen, doc) },
		Error:  func(err error) { c.fault(gen, err) },
	})

	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		unsubscribe()
		return
	}
	c.unsubscribe = unsubscribe
	c.mu.Unlock()
}

func (c *Coordinator) detachLocked() {
	if c.unsubscribe != nil {
		c.unsubscribe()
		c.unsubscribe = nil
	}
	c.gen++
	c.sessionID, c.playerID = "", ""
	c.awaiting = false
}

func (c *Coordinator) ingest(gen uint64, doc store.Document) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	next, effect := Ingest(c.view, doc, c.playerID, c.now())
	c.awaiting = false
	purge := ""
	if effect == EffectPurge {
		purge = c.sessionID
		c.detachLocked()
	}
	c.view = next
	n := c.notificationLocked()
	c.mu.Unlock()

	c.publish(n)
	if purge != "" {
		c.log.Info("session expired", zap.String("session", purge))
		c.forget()
		c.purge(purge)
	}
}

func (c *Coordinator) fault(gen uint64, err error) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	sessionID := c.sessionID
	next, effect := Fault(c.view, err, sessionID)
	c.awaiting = false
	if effect == EffectForget {
		c.detachLocked()
	}
	c.view = next
	n := c.notificationLocked()
	c.mu.Unlock()

	c.publish(n)
	if effect == EffectForget {
		c.log.Info("session removed", zap.String("session", sessionID))
		c.forget()
		return
	}
	c.log.Error("subscription fault", zap.String("session", sessionID), zap.Error(err))
}

// purge deletes an expired session. Failure changes nothing for this
// client, so it is only logged.
func (c *Coordinator) purge(sessionID string) {
	ctx, cancel := context.WithTimeout(c.ctx, purgeTimeout)
	defer cancel()
	if err := c.store.Delete(ctx, poker.Collection, sessionID); err != nil {
		c.log.Warn("delete expired session", zap.String("session", sessionID), zap.Error(err))
	}
}

// forget drops the remembered session but keeps the display name.
func (c *Coordinator) forget() {
	c.mu.Lock()
	name := c.name
	c.mu.Unlock()
	if err := c.creds.Save(Credentials{DisplayName: name}); err != nil {
		c.log.Warn("clear credentials", zap.Error(err))
	}
}

func (c *Coordinator) active() (string, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID, c.playerID
}

// storedPlayerID is the remembered participant id when it belongs to
// sessionID, or to any session when sessionID is "".
func (c *Coordinator) storedPlayerID(sessionID string) string {
	saved, err := c.creds.Load()
	if err != nil {
		return ""
	}
	if sessionID != "" && saved.SessionID != sessionID {
		return ""
	}
	return saved.PlayerID
}

func (c *Coordinator) begin() {
	c.mu.Lock()
	c.pending++
	n := c.notificationLocked()
	c.mu.Unlock()
	c.publish(n)
}

// end closes a begin bracket and records err, if any, as the view error.
func (c *Coordinator) end(err *Error) error {
	c.mu.Lock()
	c.pending--
	if err != nil {
		c.view.Err = err
	}
	n := c.notificationLocked()
	c.mu.Unlock()
	c.publish(n)
	if err == nil {
		return nil
	}
	c.log.Debug("command failed", zap.Error(err))
	return err
}

func (c *Coordinator) fail(err *Error) error {
	c.begin()
	return c.end(err)
}

func (c *Coordinator) viewLocked() View {
	v := c.view.clone()
	v.Loading = c.pending > 0 || c.awaiting
	return v
}

func (c *Coordinator) notificationLocked() notification {
	c.seq++
	return notification{seq: c.seq, view: c.viewLocked()}
}

// publish hands views to the sink in the order they were taken.
func (c *Coordinator) publish(n notification) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()
	if n.seq <= c.published {
		return
	}
	c.published = n.seq
	c.sink.OnViewChanged(n.view)
}
