package allowlist

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-allowlist/social"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testAddress      = "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed"
	testAddressLower = "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"
	frontendRedirect = "https://app.test/discord"
)

func seededMember() *Member {
	return &Member{
		ID:      "member-1",
		Discord: "pilot#0001",
		Twitter: "pilot_tw",
		Project: "udo",
	}
}

func linkedMember() *Member {
	m := seededMember()
	m.DiscordID = "d-1"
	m.TwitterID = "t-1"
	return m
}

func newFakeDiscord() *fakeDiscord {
	return &fakeDiscord{
		token:     &social.Token{AccessToken: "discord-access", RefreshToken: "discord-refresh"},
		refreshed: &social.Token{AccessToken: "discord-access-2", RefreshToken: "discord-refresh-2"},
		profile:   &social.SocialProfile{Provider: "discord", ProviderUserID: "d-1", Username: "pilot#0001"},
	}
}

func newFakeTwitter() *fakeTwitter {
	profile := &social.SocialProfile{Provider: "twitter", ProviderUserID: "t-1", Username: "pilot_tw"}
	return &fakeTwitter{
		authURL: "https://api.twitter.test/oauth/authenticate?oauth_token=req",
		token:   &social.Token{AccessToken: "tw-token", TokenSecret: "tw-secret"},
		profile: profile,
		byID:    map[string]*social.SocialProfile{"t-1": profile},
	}
}

type serviceFixture struct {
	service *Service
	discord *fakeDiscord
	twitter *fakeTwitter
	store   *memoryStore
	sink    *recordingSink
}

func newServiceFixture(members ...*Member) *serviceFixture {
	f := &serviceFixture{
		discord: newFakeDiscord(),
		twitter: newFakeTwitter(),
		store:   newMemoryStore(members...),
		sink:    &recordingSink{},
	}
	f.service = NewService(f.discord, f.twitter, f.store,
		WithFrontendRedirectURL(frontendRedirect),
		WithActivitySink(f.sink),
		WithLogger(nopLogger{}),
	)
	return f
}

func linkMessage() LinkIdentitiesMessage {
	return LinkIdentitiesMessage{
		DiscordCode:     "code",
		TwitterToken:    "req-token",
		TwitterVerifier: "verifier",
	}
}

func submitMessage(address string) SubmitWalletMessage {
	return SubmitWalletMessage{
		DiscordRefresh: "discord-refresh",
		TwitterID:      "t-1",
		WalletAddress:  address,
	}
}

func requireMessage(t *testing.T, err error, want string) {
	t.Helper()
	require.Error(t, err)
	msg, ok := ErrorMessage(err)
	require.True(t, ok, "expected rich error, got %v", err)
	assert.Equal(t, want, msg)
}

func TestLinkIdentitiesStoresBothIdentities(t *testing.T) {
	f := newServiceFixture(seededMember())

	result, err := f.service.LinkIdentities(context.Background(), linkMessage())
	require.NoError(t, err)

	assert.Equal(t, "discord-refresh", result.DiscordRefreshToken)
	assert.Equal(t, "pilot#0001", result.DiscordUsername)
	assert.Equal(t, "pilot_tw", result.TwitterUsername)
	assert.Equal(t, "t-1", result.TwitterID)

	stored := f.store.get("member-1")
	assert.Equal(t, "d-1", stored.DiscordID)
	assert.Equal(t, "t-1", stored.TwitterID)
	assert.Empty(t, stored.Address)
	assert.Equal(t, StageLinked, stored.Stage())

	assert.Equal(t, []string{frontendRedirect}, f.discord.exchangeRedirects)
	assert.Equal(t, []ActivityEventType{ActivityEventStageChanged, ActivityEventIdentitiesLinked}, f.sink.types())
}

func TestLinkIdentitiesMatchesEitherHandle(t *testing.T) {
	member := seededMember()
	member.Discord = "renamed#9999"
	f := newServiceFixture(member)

	result, err := f.service.LinkIdentities(context.Background(), linkMessage())
	require.NoError(t, err)
	assert.Equal(t, "pilot#0001", result.DiscordUsername)

	stored := f.store.get("member-1")
	assert.Equal(t, "pilot#0001", stored.Discord)
}

func TestLinkIdentitiesAllowsRelinkBeforeSubmission(t *testing.T) {
	f := newServiceFixture(linkedMember())

	_, err := f.service.LinkIdentities(context.Background(), linkMessage())
	require.NoError(t, err)
	assert.Equal(t, StageLinked, f.store.get("member-1").Stage())
}

func TestLinkIdentitiesAbsentRecordIsNotAllowlisted(t *testing.T) {
	f := newServiceFixture(&Member{ID: "other", Discord: "someone#1", Twitter: "someone"})

	_, err := f.service.LinkIdentities(context.Background(), linkMessage())
	requireMessage(t, err, "User is not allowlisted.")
	assert.True(t, HasTextCode(err, TextCodeNotAllowlisted))
	assert.Equal(t, []ActivityEventType{ActivityEventRejected}, f.sink.types())
}

func TestLinkIdentitiesRejectsVerifiedMember(t *testing.T) {
	member := linkedMember()
	member.Address = testAddress
	f := newServiceFixture(member)

	_, err := f.service.LinkIdentities(context.Background(), linkMessage())
	requireMessage(t, err, "User has already submitted a wallet address.")
	assert.True(t, HasTextCode(err, TextCodeAlreadySubmitted))
}

func TestLinkIdentitiesUpstreamFailures(t *testing.T) {
	providerErr := func(code string) error {
		return &social.ProviderError{Provider: "test", Operation: "op", Code: code}
	}

	tests := []struct {
		name    string
		prepare func(*serviceFixture)
		message string
	}{
		{
			name: "discord exchange transport",
			prepare: func(f *serviceFixture) {
				f.discord.exchangeErr = providerErr(social.CodeRequestFailed)
			},
			message: "Failed Discord OAuth2 Request.",
		},
		{
			name: "discord exchange rejected",
			prepare: func(f *serviceFixture) {
				f.discord.exchangeErr = providerErr(social.CodeBadResponse)
			},
			message: "Bad Discord OAuth2 Response.",
		},
		{
			name: "discord exchange malformed",
			prepare: func(f *serviceFixture) {
				f.discord.exchangeErr = providerErr(social.CodeMalformedResponse)
			},
			message: "Malformed Discord OAuth2 Response.",
		},
		{
			name: "discord missing refresh token",
			prepare: func(f *serviceFixture) {
				f.discord.token = &social.Token{AccessToken: "only-access"}
			},
			message: "Invalid Discord OAuth2 Response.",
		},
		{
			name: "discord lookup rejected",
			prepare: func(f *serviceFixture) {
				f.discord.userErr = providerErr(social.CodeBadResponse)
			},
			message: "Bad Discord Lookup Response.",
		},
		{
			name: "discord lookup malformed",
			prepare: func(f *serviceFixture) {
				f.discord.userErr = providerErr(social.CodeInvalidResponse)
			},
			message: "Malformed Discord Lookup Response.",
		},
		{
			name: "twitter access transport",
			prepare: func(f *serviceFixture) {
				f.twitter.exchangeErr = providerErr(social.CodeRequestFailed)
			},
			message: "Failed Twitter Access Request.",
		},
		{
			name: "twitter access rejected",
			prepare: func(f *serviceFixture) {
				f.twitter.exchangeErr = providerErr(social.CodeBadResponse)
			},
			message: "Bad Twitter Access Response.",
		},
		{
			name: "twitter identity malformed",
			prepare: func(f *serviceFixture) {
				f.twitter.userErr = providerErr(social.CodeMalformedResponse)
			},
			message: "Bad Twitter Access Response.",
		},
		{
			name: "plain error",
			prepare: func(f *serviceFixture) {
				f.discord.exchangeErr = errors.New("boom")
			},
			message: "Failed Discord OAuth2 Request.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture(seededMember())
			tt.prepare(f)

			_, err := f.service.LinkIdentities(context.Background(), linkMessage())
			requireMessage(t, err, tt.message)
			assert.True(t, HasTextCode(err, TextCodeUpstream))
			assert.Empty(t, f.store.get("member-1").DiscordID)
		})
	}
}

func TestLinkIdentitiesVerifiesState(t *testing.T) {
	states := social.NewSignedStateManager([]byte("state-key"), time.Minute)

	f := newServiceFixture(seededMember())
	f.service = NewService(f.discord, f.twitter, f.store,
		WithStateManager(states),
		WithLogger(nopLogger{}),
	)

	valid, err := states.Encode(&social.OAuthState{Provider: "discord"})
	require.NoError(t, err)

	foreign, err := states.Encode(&social.OAuthState{Provider: "twitter"})
	require.NoError(t, err)

	t.Run("tampered", func(t *testing.T) {
		msg := linkMessage()
		msg.DiscordState = valid + "x"
		_, err := f.service.LinkIdentities(context.Background(), msg)
		requireMessage(t, err, "Bad request.")
	})

	t.Run("other provider", func(t *testing.T) {
		msg := linkMessage()
		msg.DiscordState = foreign
		_, err := f.service.LinkIdentities(context.Background(), msg)
		requireMessage(t, err, "Bad request.")
	})

	t.Run("valid", func(t *testing.T) {
		msg := linkMessage()
		msg.DiscordState = valid
		_, err := f.service.LinkIdentities(context.Background(), msg)
		require.NoError(t, err)
	})
}

func TestSubmitWalletBindsChecksummedAddress(t *testing.T) {
	tests := []struct {
		name    string
		address string
	}{
		{name: "mixed case checksum", address: testAddress},
		{name: "lowercase", address: testAddressLower},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture(linkedMember())

			result, err := f.service.SubmitWallet(context.Background(), submitMessage(tt.address))
			require.NoError(t, err)

			assert.Equal(t, testAddress, result.Address)
			assert.True(t, result.RoleGranted)
			assert.Equal(t, "Address has been submitted.", result.Message)

			stored := f.store.get("member-1")
			assert.Equal(t, testAddress, stored.Address)
			assert.Equal(t, StageVerified, stored.Stage())
			assert.Equal(t, []string{"d-1"}, f.discord.grants)

			assert.Equal(t, []ActivityEventType{
				ActivityEventStageChanged,
				ActivityEventWalletSubmitted,
				ActivityEventRoleGranted,
			}, f.sink.types())
		})
	}
}

func TestSubmitWalletTwiceIsRejected(t *testing.T) {
	f := newServiceFixture(linkedMember())

	_, err := f.service.SubmitWallet(context.Background(), submitMessage(testAddress))
	require.NoError(t, err)

	_, err = f.service.SubmitWallet(context.Background(), submitMessage(testAddressLower))
	requireMessage(t, err, "User has already submitted a wallet address.")
	assert.Equal(t, testAddress, f.store.get("member-1").Address)
	assert.Len(t, f.discord.grants, 1)
}

func TestSubmitWalletConcurrentSubmissionsBindOnce(t *testing.T) {
	f := newServiceFixture(linkedMember())

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.service.SubmitWallet(context.Background(), submitMessage(testAddress))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.True(t, HasTextCode(err, TextCodeAlreadySubmitted), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, succeeded)
}

func TestSubmitWalletInvalidAddressSkipsStore(t *testing.T) {
	tests := []string{
		"0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAeD",
		"0x5aaeb6053f3e94c9b9a09f33669435e7ef1bea",
		"not-an-address",
	}

	for _, address := range tests {
		t.Run(address, func(t *testing.T) {
			f := newServiceFixture(linkedMember())

			_, err := f.service.SubmitWallet(context.Background(), submitMessage(address))
			requireMessage(t, err, address+" is not a valid Ethereum address.")
			assert.True(t, HasTextCode(err, TextCodeInvalidAddress))
			assert.Zero(t, f.store.callCount())
			assert.Empty(t, f.discord.grants)
		})
	}
}

func TestSubmitWalletUnknownTwitterID(t *testing.T) {
	f := newServiceFixture(seededMember())

	_, err := f.service.SubmitWallet(context.Background(), submitMessage(testAddress))
	requireMessage(t, err, "Don't try to be sneaky.")
	assert.True(t, HasTextCode(err, TextCodeUnknownMember))
}

func TestSubmitWalletMismatch(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(*serviceFixture)
	}{
		{
			name: "discord id",
			prepare: func(f *serviceFixture) {
				f.discord.profile = &social.SocialProfile{ProviderUserID: "d-2", Username: "pilot#0001"}
			},
		},
		{
			name: "discord username",
			prepare: func(f *serviceFixture) {
				f.discord.profile = &social.SocialProfile{ProviderUserID: "d-1", Username: "pilot#0002"}
			},
		},
		{
			name: "twitter username",
			prepare: func(f *serviceFixture) {
				f.twitter.byID["t-1"] = &social.SocialProfile{ProviderUserID: "t-1", Username: "renamed"}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newServiceFixture(linkedMember())
			tt.prepare(f)

			_, err := f.service.SubmitWallet(context.Background(), submitMessage(testAddress))
			requireMessage(t, err, "User information mismatch.")
			assert.Empty(t, f.store.get("member-1").Address)
			assert.Empty(t, f.discord.grants)
		})
	}
}

func TestSubmitWalletUpstreamFailures(t *testing.T) {
	f := newServiceFixture(linkedMember())
	f.discord.refreshErr = &social.ProviderError{Code: social.CodeBadResponse}

	_, err := f.service.SubmitWallet(context.Background(), submitMessage(testAddress))
	requireMessage(t, err, "Bad Discord OAuth2 Response.")

	f = newServiceFixture(linkedMember())
	f.twitter.lookupErr = &social.ProviderError{Code: social.CodeBadResponse}

	_, err = f.service.SubmitWallet(context.Background(), submitMessage(testAddress))
	requireMessage(t, err, "Failed Twitter Lookup Request.")
	assert.Empty(t, f.store.get("member-1").Address)
}

func TestSubmitWalletRoleGrantFailureKeepsAddress(t *testing.T) {
	f := newServiceFixture(linkedMember())
	f.discord.grantErr = &social.ProviderError{Code: social.CodeBadResponse, Status: 403}

	result, err := f.service.SubmitWallet(context.Background(), submitMessage(testAddress))
	requireMessage(t, err, "Failed Role Allocation.")
	assert.True(t, HasTextCode(err, TextCodeRoleGrantFailed))

	require.NotNil(t, result)
	assert.False(t, result.RoleGranted)
	assert.Equal(t, testAddress, result.Address)
	assert.Equal(t, testAddress, f.store.get("member-1").Address)
	assert.Contains(t, f.sink.types(), ActivityEventRoleGrantFailed)
}

func TestCheckAllowlisted(t *testing.T) {
	verified := linkedMember()
	verified.Address = testAddress

	incomplete := &Member{
		ID:      "member-2",
		Discord: "half#0001",
		Twitter: "half",
		Address: "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359",
	}

	f := newServiceFixture(verified, incomplete)
	ctx := context.Background()

	username, err := f.service.CheckAllowlisted(ctx, testAddressLower)
	require.NoError(t, err)
	assert.Equal(t, "pilot_tw", username)

	_, err = f.service.CheckAllowlisted(ctx, "0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359")
	requireMessage(t, err, "Profile not populated.")

	_, err = f.service.CheckAllowlisted(ctx, "0xdbF03B407c01E7cD3CBea99509d93f8DDDC8C6FB")
	requireMessage(t, err, "Address is not allowlisted.")

	_, err = f.service.CheckAllowlisted(ctx, "0x123")
	requireMessage(t, err, "0x123 is not a valid Ethereum address.")
}

func TestDiscordAuthURLCarriesSignedState(t *testing.T) {
	states := social.NewSignedStateManager([]byte("state-key"), time.Minute)
	discord := newFakeDiscord()

	service := NewService(discord, newFakeTwitter(), newMemoryStore(),
		WithStateManager(states),
		WithFrontendRedirectURL(frontendRedirect),
		WithLogger(nopLogger{}),
	)

	authURL, err := service.DiscordAuthURL(context.Background(), "/claim")
	require.NoError(t, err)

	parsed, err := url.Parse(authURL)
	require.NoError(t, err)

	decoded, err := states.Decode(parsed.Query().Get("state"))
	require.NoError(t, err)
	assert.Equal(t, "discord", decoded.Provider)
	assert.Equal(t, "/claim", decoded.ReturnTo)
	assert.Equal(t, []string{frontendRedirect}, discord.authRedirects)
}

func TestDiscordAccessToken(t *testing.T) {
	f := newServiceFixture()

	_, err := f.service.DiscordAccessToken(context.Background(), "", "")
	requireMessage(t, err, "Bad request.")

	token, err := f.service.DiscordAccessToken(context.Background(), "code", "")
	require.NoError(t, err)
	assert.Equal(t, "discord-access", token)
	assert.Equal(t, []string{""}, f.discord.exchangeRedirects)
}

func TestTwitterAuthURL(t *testing.T) {
	f := newServiceFixture()

	authURL, err := f.service.TwitterAuthURL(context.Background())
	require.NoError(t, err)
	assert.Equal(t, f.twitter.authURL, authURL)

	f.twitter.authErr = &social.ProviderError{Code: social.CodeBadResponse}
	_, err = f.service.TwitterAuthURL(context.Background())
	requireMessage(t, err, "Failed Twitter Authentication Request.")
}
