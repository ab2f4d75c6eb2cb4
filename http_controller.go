package allowlist

import (
	"fmt"

	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

const internalErrorMessage = "Internal server error."

// RouteRegistrar captures the router methods used by the controller.
type RouteRegistrar interface {
	Get(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
	Post(path string, handler router.HandlerFunc, mw ...router.MiddlewareFunc) router.RouteInfo
}

// HTTPControllerRoutes holds the route paths.
type HTTPControllerRoutes struct {
	DiscordRedirect  string
	DiscordAuthorize string
	TwitterToken     string
	Verify           string
	Submit           string
	Claim            string
	Allowlisted      string
}

// HTTPController exposes the workflow over HTTP.
type HTTPController struct {
	Debug  bool
	Logger Logger
	Routes *HTTPControllerRoutes

	service *Service
	passes  PassGenerator
	link    *LinkIdentitiesHandler
	submit  *SubmitWalletHandler
}

// HTTPControllerOption customizes the controller.
type HTTPControllerOption func(*HTTPController) *HTTPController

// WithControllerLogger sets the controller logger.
func WithControllerLogger(logger Logger) HTTPControllerOption {
	return func(c *HTTPController) *HTTPController {
		c.Logger = normalizeLogger(logger)
		return c
	}
}

// WithControllerDebug dumps request payloads to the debug log.
func WithControllerDebug(debug bool) HTTPControllerOption {
	return func(c *HTTPController) *HTTPController {
		c.Debug = debug
		return c
	}
}

// WithControllerRoutes overrides the default route paths.
func WithControllerRoutes(routes *HTTPControllerRoutes) HTTPControllerOption {
	return func(c *HTTPController) *HTTPController {
		if routes != nil {
			c.Routes = routes
		}
		return c
	}
}

// NewHTTPController creates the controller.
func NewHTTPController(service *Service, passes PassGenerator, opts ...HTTPControllerOption) *HTTPController {
	c := &HTTPController{
		Logger:  defLogger{},
		service: service,
		passes:  passes,
		link:    NewLinkIdentitiesHandler(service),
		submit:  NewSubmitWalletHandler(service),
		Routes: &HTTPControllerRoutes{
			DiscordRedirect:  "/oauth2/discord/redirect",
			DiscordAuthorize: "/oauth2/discord/authorize",
			TwitterToken:     "/oauth1/twitter/token",
			Verify:           "/oauth/verify",
			Submit:           "/submit",
			Claim:            "/claim",
			Allowlisted:      "/allowlisted/:address",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.service == nil {
		panic("Missing Service in allowlist controller...")
	}

	if c.passes == nil {
		panic("Missing PassGenerator in allowlist controller...")
	}

	return c
}

// RegisterRoutes registers the workflow routes.
func (c *HTTPController) RegisterRoutes(app RouteRegistrar) {
	app.Get(c.Routes.DiscordRedirect, c.DiscordRedirect)
	app.Get(c.Routes.DiscordAuthorize, c.DiscordAuthorize)
	app.Get(c.Routes.TwitterToken, c.TwitterToken)
	app.Post(c.Routes.Verify, c.Verify)
	app.Post(c.Routes.Submit, c.Submit)
	app.Get(c.Routes.Claim, c.Claim)
	app.Get(c.Routes.Allowlisted, c.Allowlisted)
}

// DiscordRedirect exchanges the code sent to the backend callback.
func (c *HTTPController) DiscordRedirect(ctx router.Context) error {
	code := ctx.Query("code")
	if code == "" {
		return c.renderError(ctx, ErrBadRequest)
	}

	token, err := c.service.DiscordAccessToken(ctx.Context(), code, ctx.Query("state"))
	if err != nil {
		return c.renderError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"access_token": token,
	})
}

// DiscordAuthorize returns the Discord authorize URL for the frontend.
func (c *HTTPController) DiscordAuthorize(ctx router.Context) error {
	authURL, err := c.service.DiscordAuthURL(ctx.Context(), ctx.Query("return_to"))
	if err != nil {
		return c.renderError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"auth_url": authURL,
	})
}

// TwitterToken returns the Twitter authenticate URL.
func (c *HTTPController) TwitterToken(ctx router.Context) error {
	authURL, err := c.service.TwitterAuthURL(ctx.Context())
	if err != nil {
		return c.renderError(ctx, err)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"auth_url": authURL,
	})
}

// Verify links the Discord and Twitter identities of an allowlisted member.
func (c *HTTPController) Verify(ctx router.Context) error {
	payload := new(LinkIdentitiesMessage)
	if err := ctx.Bind(payload); err != nil {
		return c.renderError(ctx, withSource(ErrInvalidPayload, err, nil))
	}

	c.dump("verify payload", payload)

	var result *LinkResult
	payload.OnResponse = func(resp *LinkResult) {
		result = resp
	}

	if err := c.link.Execute(ctx.Context(), *payload); err != nil {
		return c.renderError(ctx, err, TextCodeNotAllowlisted, TextCodeAlreadySubmitted)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"success": true,
		"discord": map[string]any{
			"refresh_token": result.DiscordRefreshToken,
			"username":      result.DiscordUsername,
		},
		"twitter": map[string]any{
			"username": result.TwitterUsername,
			"id":       result.TwitterID,
		},
	})
}

// Submit binds a wallet address to a linked member.
func (c *HTTPController) Submit(ctx router.Context) error {
	payload := new(SubmitWalletMessage)
	if err := ctx.Bind(payload); err != nil {
		return c.renderError(ctx, withSource(ErrInvalidPayload, err, nil))
	}

	c.dump("submit payload", payload)

	if err := c.submit.Execute(ctx.Context(), *payload); err != nil {
		return c.renderError(ctx, err, TextCodeInvalidAddress, TextCodeAlreadySubmitted)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"success": true,
		"message": submittedMessage,
	})
}

// Claim downloads the boarding pass of an allowlisted Twitter user.
func (c *HTTPController) Claim(ctx router.Context) error {
	username := ctx.Query("username")
	if username == "" {
		return c.renderError(ctx, ErrInvalidRequest)
	}

	image, err := c.passes.Generate(ctx.Context(), username)
	if err != nil {
		return c.renderError(ctx, err)
	}

	ctx.SetHeader("Content-Type", "image/png")
	ctx.SetHeader("Content-Disposition", fmt.Sprintf(`attachment; filename="BP_%s.png"`, username))
	return ctx.Send(image)
}

// Allowlisted reports whether an address belongs to a fully linked member.
func (c *HTTPController) Allowlisted(ctx router.Context) error {
	username, err := c.service.CheckAllowlisted(ctx.Context(), ctx.Param("address"))
	if err != nil {
		return c.renderError(ctx, err,
			TextCodeInvalidAddress,
			TextCodeAddressNotAllowlisted,
			TextCodeProfileIncomplete,
		)
	}

	return ctx.JSON(router.StatusOK, map[string]any{
		"success":  true,
		"username": username,
	})
}

// renderError writes soft failures as 200 {success:false,message}, other
// domain errors as 400 {error} and anything else as a 500.
func (c *HTTPController) renderError(ctx router.Context, err error, soft ...string) error {
	msg, ok := ErrorMessage(err)
	if !ok {
		c.Logger.Error("request failed", "error", err)
		return ctx.JSON(router.StatusInternalServerError, map[string]any{
			"error": internalErrorMessage,
		})
	}

	if HasTextCode(err, soft...) {
		return ctx.JSON(router.StatusOK, map[string]any{
			"success": false,
			"message": msg,
		})
	}

	c.Logger.Debug("request rejected", "error", err)
	return ctx.JSON(router.StatusBadRequest, map[string]any{
		"error": msg,
	})
}

func (c *HTTPController) dump(msg string, v any) {
	if !c.Debug {
		return
	}
	c.Logger.Debug(msg, "payload", print.MaybePrettyJSON(v))
}
