package allowlist

import (
	"context"
	"time"

	"github.com/goliatone/go-allowlist/social"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
)

const submittedMessage = "Address has been submitted."

// Service runs the verification workflow: identity linking, wallet
// submission and allowlist checks.
type Service struct {
	discord      DiscordClient
	twitter      TwitterClient
	store        MemberStore
	stages       MemberStateMachine
	stateManager social.StateManager
	activitySink ActivitySink
	logger       Logger
	debug        bool
	now          func() time.Time

	frontendRedirectURL string
}

// ServiceOption customizes the Service.
type ServiceOption func(*Service)

// WithFrontendRedirectURL sets the redirect URI the frontend used when it
// obtained the Discord code sent to LinkIdentities.
func WithFrontendRedirectURL(u string) ServiceOption {
	return func(s *Service) {
		s.frontendRedirectURL = u
	}
}

// WithStateManager enables issuing and verifying Discord OAuth state.
func WithStateManager(sm social.StateManager) ServiceOption {
	return func(s *Service) {
		s.stateManager = sm
	}
}

// WithActivitySink sets the sink receiving workflow events.
func WithActivitySink(sink ActivitySink) ServiceOption {
	return func(s *Service) {
		s.activitySink = normalizeActivitySink(sink)
	}
}

// WithLogger sets the service logger.
func WithLogger(logger Logger) ServiceOption {
	return func(s *Service) {
		s.logger = normalizeLogger(logger)
	}
}

// WithStateMachine overrides the member state machine.
func WithStateMachine(sm MemberStateMachine) ServiceOption {
	return func(s *Service) {
		if sm != nil {
			s.stages = sm
		}
	}
}

// WithDebug dumps provider profiles to the debug log.
func WithDebug(debug bool) ServiceOption {
	return func(s *Service) {
		s.debug = debug
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) ServiceOption {
	return func(s *Service) {
		if clock != nil {
			s.now = clock
		}
	}
}

// NewService creates the workflow service.
func NewService(discord DiscordClient, twitter TwitterClient, store MemberStore, opts ...ServiceOption) *Service {
	s := &Service{
		discord:      discord,
		twitter:      twitter,
		store:        store,
		activitySink: noopActivitySink{},
		logger:       defLogger{},
		now:          time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	if s.stages == nil {
		s.stages = NewMemberStateMachine(store,
			WithStateMachineActivitySink(s.activitySink),
			WithStateMachineLogger(s.logger),
			WithStateMachineClock(s.now),
		)
	}

	return s
}

// DiscordAuthURL returns the Discord authorize URL for the frontend. The
// redirect URI is the frontend one, so the code can later be sent to
// LinkIdentities.
func (s *Service) DiscordAuthURL(ctx context.Context, returnTo string) (string, error) {
	state := ""
	if s.stateManager != nil {
		encoded, err := s.stateManager.Encode(&social.OAuthState{
			Provider: s.discord.Name(),
			ReturnTo: returnTo,
		})
		if err != nil {
			return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to encode oauth state")
		}
		state = encoded
	}

	var opts []social.AuthCodeOption
	if s.frontendRedirectURL != "" {
		opts = append(opts, social.WithAuthRedirectURL(s.frontendRedirectURL))
	}

	return s.discord.AuthCodeURL(state, opts...), nil
}

// DiscordAccessToken exchanges a code issued to the backend callback.
func (s *Service) DiscordAccessToken(ctx context.Context, code, state string) (string, error) {
	if code == "" {
		return "", ErrBadRequest.Clone()
	}

	if err := s.verifyState(state); err != nil {
		return "", err
	}

	token, err := s.discord.Exchange(ctx, code)
	if err != nil {
		return "", s.upstream(ctx, StepDiscordOAuth, err)
	}

	return token.AccessToken, nil
}

// TwitterAuthURL obtains a request token and returns the authenticate URL.
func (s *Service) TwitterAuthURL(ctx context.Context) (string, error) {
	authURL, err := s.twitter.AuthenticateURL(ctx)
	if err != nil {
		return "", s.upstream(ctx, StepTwitterAuth, err)
	}
	return authURL, nil
}

// LinkIdentities confirms both identities and stores them on the matching member.
func (s *Service) LinkIdentities(ctx context.Context, msg LinkIdentitiesMessage) (*LinkResult, error) {
	if err := s.verifyState(msg.DiscordState); err != nil {
		return nil, err
	}

	var exchangeOpts []social.ExchangeOption
	if s.frontendRedirectURL != "" {
		exchangeOpts = append(exchangeOpts, social.WithRedirectURL(s.frontendRedirectURL))
	}

	discordToken, err := s.discord.Exchange(ctx, msg.DiscordCode, exchangeOpts...)
	if err != nil {
		return nil, s.upstream(ctx, StepDiscordOAuth, err)
	}
	if discordToken.RefreshToken == "" {
		return nil, s.upstream(ctx, StepDiscordOAuth, &social.ProviderError{
			Provider:    s.discord.Name(),
			Operation:   "exchange",
			Code:        social.CodeInvalidResponse,
			Description: "missing refresh token",
		})
	}

	discordProfile, err := s.discord.UserInfo(ctx, discordToken)
	if err != nil {
		return nil, s.upstream(ctx, StepDiscordLookup, err)
	}

	twitterToken, err := s.twitter.Exchange(ctx, msg.TwitterToken, msg.TwitterVerifier)
	if err != nil {
		return nil, s.upstream(ctx, StepTwitterAccess, err)
	}

	twitterProfile, err := s.twitter.UserInfo(ctx, twitterToken)
	if err != nil {
		return nil, s.upstream(ctx, StepTwitterAccess, err)
	}

	s.dump("link identities profiles", discordProfile, twitterProfile)

	ids := Identities{
		Discord:   discordProfile.Username,
		DiscordID: discordProfile.ProviderUserID,
		Twitter:   twitterProfile.Username,
		TwitterID: twitterProfile.ProviderUserID,
	}

	member, err := s.store.FindByHandles(ctx, ids.Discord, ids.Twitter)
	if err != nil {
		if HasTextCode(err, TextCodeMemberNotFound) {
			return nil, s.reject(ctx, nil, ids, withSource(ErrNotAllowlisted, err, nil))
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to find member by handles")
	}

	if member.Stage() == StageVerified {
		return nil, s.reject(ctx, member, ids, ErrAlreadySubmitted.Clone())
	}

	if _, err := s.stages.Transition(ctx, member, StageLinked, StageUpdate{
		Identities: ids,
		Reason:     "identities linked",
	}); err != nil {
		return nil, s.transitionError(ctx, member, ids, err)
	}

	s.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventIdentitiesLinked,
		MemberID:  member.ID,
		Discord:   ids.Discord,
		Twitter:   ids.Twitter,
	})

	return &LinkResult{
		DiscordRefreshToken: discordToken.RefreshToken,
		DiscordUsername:     ids.Discord,
		TwitterUsername:     ids.Twitter,
		TwitterID:           ids.TwitterID,
	}, nil
}

// SubmitWallet binds a wallet address to a linked member and grants the
// Discord role. A failed role grant keeps the address and returns
// ErrRoleGrantFailed together with the result.
func (s *Service) SubmitWallet(ctx context.Context, msg SubmitWalletMessage) (*SubmitResult, error) {
	address, err := ToChecksumAddress(msg.WalletAddress)
	if err != nil {
		return nil, s.reject(ctx, nil, Identities{TwitterID: msg.TwitterID}, err)
	}

	discordToken, err := s.discord.RefreshToken(ctx, msg.DiscordRefresh)
	if err != nil {
		return nil, s.upstream(ctx, StepDiscordOAuth, err)
	}

	discordProfile, err := s.discord.UserInfo(ctx, discordToken)
	if err != nil {
		return nil, s.upstream(ctx, StepDiscordLookup, err)
	}

	member, err := s.store.FindByTwitterID(ctx, msg.TwitterID)
	if err != nil {
		if HasTextCode(err, TextCodeMemberNotFound) {
			return nil, s.reject(ctx, nil, Identities{TwitterID: msg.TwitterID}, withSource(ErrUnknownMember, err, nil))
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to find member by twitter id")
	}

	current := Identities{
		Discord:   member.Discord,
		DiscordID: member.DiscordID,
		Twitter:   member.Twitter,
		TwitterID: member.TwitterID,
	}

	if discordProfile.ProviderUserID != member.DiscordID || discordProfile.Username != member.Discord {
		return nil, s.reject(ctx, member, current, withSource(ErrMismatch, nil, map[string]any{
			"provider": "discord",
		}))
	}

	twitterProfile, err := s.twitter.LookupUserByID(ctx, msg.TwitterID)
	if err != nil {
		return nil, s.upstream(ctx, StepTwitterLookup, err)
	}

	if twitterProfile.Username != member.Twitter {
		return nil, s.reject(ctx, member, current, withSource(ErrMismatch, nil, map[string]any{
			"provider": "twitter",
		}))
	}

	if member.Stage() == StageVerified {
		return nil, s.reject(ctx, member, current, ErrAlreadySubmitted.Clone())
	}

	if _, err := s.stages.Transition(ctx, member, StageVerified, StageUpdate{
		Address: address,
		Reason:  "wallet submitted",
	}); err != nil {
		return nil, s.transitionError(ctx, member, current, err)
	}

	s.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventWalletSubmitted,
		MemberID:  member.ID,
		Discord:   member.Discord,
		Twitter:   member.Twitter,
		Metadata:  map[string]any{"address": address},
	})

	result := &SubmitResult{Address: address}

	if err := s.discord.GrantRole(ctx, member.DiscordID); err != nil {
		s.logger.Error("role grant failed", "member", member.ID, "discord_id", member.DiscordID, "error", err)
		s.recordActivity(ctx, ActivityEvent{
			EventType: ActivityEventRoleGrantFailed,
			MemberID:  member.ID,
			Discord:   member.Discord,
			Twitter:   member.Twitter,
			Reason:    social.ProviderErrorCode(err),
		})
		result.Message = ErrRoleGrantFailed.Message
		return result, withSource(ErrRoleGrantFailed, err, map[string]any{"address": address})
	}

	s.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventRoleGranted,
		MemberID:  member.ID,
		Discord:   member.Discord,
		Twitter:   member.Twitter,
	})

	result.RoleGranted = true
	result.Message = submittedMessage
	return result, nil
}

// CheckAllowlisted returns the Twitter username of the member holding
// address when both identities are populated.
func (s *Service) CheckAllowlisted(ctx context.Context, address string) (string, error) {
	checksummed, err := ToChecksumAddress(address)
	if err != nil {
		return "", err
	}

	member, err := s.store.FindByAddress(ctx, checksummed)
	if err != nil {
		if HasTextCode(err, TextCodeMemberNotFound) {
			return "", withSource(ErrAddressNotAllowlisted, err, nil)
		}
		return "", goerrors.Wrap(err, goerrors.CategoryInternal, "failed to find member by address")
	}

	if !member.HasProfile() {
		return "", withSource(ErrProfileIncomplete, nil, map[string]any{"member": member.ID})
	}

	return member.Twitter, nil
}

func (s *Service) verifyState(state string) error {
	if state == "" || s.stateManager == nil {
		return nil
	}

	decoded, err := s.stateManager.Decode(state)
	if err != nil {
		return withSource(ErrBadRequest, err, map[string]any{"reason": "invalid oauth state"})
	}

	if decoded.Provider != s.discord.Name() {
		return withSource(ErrBadRequest, nil, map[string]any{
			"reason":   "oauth state issued for another provider",
			"provider": decoded.Provider,
		})
	}

	return nil
}

func (s *Service) transitionError(ctx context.Context, member *Member, ids Identities, err error) error {
	if HasTextCode(err, textCodeTerminalStage, TextCodeAlreadySubmitted) {
		return s.reject(ctx, member, ids, withSource(ErrAlreadySubmitted, err, nil))
	}
	if HasTextCode(err, textCodeInvalidTransition) {
		return s.reject(ctx, member, ids, withSource(ErrNotAllowlisted, err, nil))
	}
	return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update member")
}

func (s *Service) upstream(ctx context.Context, step UpstreamStep, err error) error {
	s.logger.Warn("upstream call failed", "step", string(step), "error", err)
	s.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventRejected,
		Reason:    string(step) + ":" + social.ProviderErrorCode(err),
	})
	return UpstreamError(step, err)
}

func (s *Service) reject(ctx context.Context, member *Member, ids Identities, err error) error {
	event := ActivityEvent{
		EventType: ActivityEventRejected,
		Discord:   ids.Discord,
		Twitter:   ids.Twitter,
	}
	if member != nil {
		event.MemberID = member.ID
		event.FromStage = member.Stage()
	}

	var rich *goerrors.Error
	if goerrors.As(err, &rich) {
		event.Reason = rich.TextCode
	}

	s.recordActivity(ctx, event)
	return err
}

func (s *Service) recordActivity(ctx context.Context, event ActivityEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = s.now()
	}

	sink := normalizeActivitySink(s.activitySink)
	if err := sink.Record(ctx, event); err != nil {
		s.logger.Warn("service activity sink error", "error", err)
	}
}

func (s *Service) dump(msg string, values ...any) {
	if !s.debug {
		return
	}
	for _, v := range values {
		s.logger.Debug(msg, "payload", print.MaybePrettyJSON(v))
	}
}
