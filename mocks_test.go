package allowlist

import (
	"context"
	"strings"
	"sync"

	"github.com/goliatone/go-allowlist/social"
	"github.com/stretchr/testify/mock"
)

type fakeDiscord struct {
	token       *social.Token
	exchangeErr error
	refreshed   *social.Token
	refreshErr  error
	profile     *social.SocialProfile
	userErr     error
	grantErr    error

	exchangeRedirects []string
	authRedirects     []string
	grants            []string
}

func (f *fakeDiscord) Name() string { return "discord" }

func (f *fakeDiscord) AuthCodeURL(state string, opts ...social.AuthCodeOption) string {
	cfg := social.ApplyAuthCodeOptions([]string{"identify"}, opts...)
	f.authRedirects = append(f.authRedirects, cfg.RedirectURL)
	return "https://discord.test/authorize?scope=" + strings.Join(cfg.Scopes, "+") + "&state=" + state
}

func (f *fakeDiscord) Exchange(_ context.Context, _ string, opts ...social.ExchangeOption) (*social.Token, error) {
	cfg := social.ApplyExchangeOptions(opts...)
	f.exchangeRedirects = append(f.exchangeRedirects, cfg.RedirectURL)
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return f.token, nil
}

func (f *fakeDiscord) RefreshToken(_ context.Context, _ string) (*social.Token, error) {
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return f.refreshed, nil
}

func (f *fakeDiscord) UserInfo(_ context.Context, _ *social.Token) (*social.SocialProfile, error) {
	if f.userErr != nil {
		return nil, f.userErr
	}
	return f.profile, nil
}

func (f *fakeDiscord) GrantRole(_ context.Context, userID string) error {
	f.grants = append(f.grants, userID)
	return f.grantErr
}

type fakeTwitter struct {
	authURL     string
	authErr     error
	token       *social.Token
	exchangeErr error
	profile     *social.SocialProfile
	userErr     error
	byID        map[string]*social.SocialProfile
	lookupErr   error
}

func (f *fakeTwitter) Name() string { return "twitter" }

func (f *fakeTwitter) AuthenticateURL(context.Context) (string, error) {
	if f.authErr != nil {
		return "", f.authErr
	}
	return f.authURL, nil
}

func (f *fakeTwitter) Exchange(_ context.Context, _, _ string) (*social.Token, error) {
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	return f.token, nil
}

func (f *fakeTwitter) UserInfo(_ context.Context, _ *social.Token) (*social.SocialProfile, error) {
	if f.userErr != nil {
		return nil, f.userErr
	}
	return f.profile, nil
}

func (f *fakeTwitter) LookupUserByID(_ context.Context, id string) (*social.SocialProfile, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	if p, ok := f.byID[id]; ok {
		return p, nil
	}
	return nil, &social.ProviderError{Provider: "twitter", Operation: "lookup", Code: social.CodeBadResponse, Status: 404}
}

func (f *fakeTwitter) LookupUserByUsername(_ context.Context, username string) (*social.SocialProfile, error) {
	if f.lookupErr != nil {
		return nil, f.lookupErr
	}
	for _, p := range f.byID {
		if strings.EqualFold(p.Username, username) {
			return p, nil
		}
	}
	return nil, &social.ProviderError{Provider: "twitter", Operation: "lookup", Code: social.CodeBadResponse, Status: 404}
}

// memoryStore is a MemberStore that keeps copies of the records and counts calls.
type memoryStore struct {
	mu      sync.Mutex
	members map[string]*Member
	calls   int
}

func newMemoryStore(members ...*Member) *memoryStore {
	s := &memoryStore{members: map[string]*Member{}}
	for _, m := range members {
		cp := *m
		s.members[m.ID] = &cp
	}
	return s
}

func (s *memoryStore) get(id string) *Member {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.members[id]; ok {
		cp := *m
		return &cp
	}
	return nil
}

func (s *memoryStore) find(match func(*Member) bool) (*Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	for _, m := range s.members {
		if match(m) {
			cp := *m
			return &cp, nil
		}
	}
	return nil, ErrMemberNotFound.Clone()
}

func (s *memoryStore) FindByHandles(_ context.Context, discord, twitter string) (*Member, error) {
	return s.find(func(m *Member) bool {
		return (discord != "" && m.Discord == discord) || (twitter != "" && m.Twitter == twitter)
	})
}

func (s *memoryStore) FindByTwitterID(_ context.Context, twitterID string) (*Member, error) {
	return s.find(func(m *Member) bool {
		return twitterID != "" && m.TwitterID == twitterID
	})
}

func (s *memoryStore) FindByTwitter(_ context.Context, username string) (*Member, error) {
	return s.find(func(m *Member) bool {
		return username != "" && m.Twitter == username
	})
}

func (s *memoryStore) FindByAddress(_ context.Context, address string) (*Member, error) {
	return s.find(func(m *Member) bool {
		return address != "" && m.Address == address
	})
}

func (s *memoryStore) LinkIdentities(_ context.Context, id string, ids Identities) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	m, ok := s.members[id]
	if !ok {
		return ErrMemberNotFound.Clone()
	}
	if m.Address != "" {
		return ErrAlreadySubmitted.Clone()
	}
	m.Apply(ids)
	return nil
}

func (s *memoryStore) BindAddress(_ context.Context, id, address string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	m, ok := s.members[id]
	if !ok {
		return ErrMemberNotFound.Clone()
	}
	if m.Address != "" {
		return ErrAlreadySubmitted.Clone()
	}
	m.Address = address
	return nil
}

func (s *memoryStore) Upsert(_ context.Context, member *Member) (*Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	cp := *member
	s.members[member.ID] = &cp
	return member, nil
}

func (s *memoryStore) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type MockActivitySink struct {
	mock.Mock
}

func (m *MockActivitySink) Record(ctx context.Context, event ActivityEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

type recordingSink struct {
	mu     sync.Mutex
	events []ActivityEvent
}

func (r *recordingSink) Record(_ context.Context, event ActivityEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingSink) types() []ActivityEventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ActivityEventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}

type stubPasses struct {
	image []byte
	err   error
	calls []string
}

func (s *stubPasses) Generate(_ context.Context, username string) ([]byte, error) {
	s.calls = append(s.calls, username)
	return s.image, s.err
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
