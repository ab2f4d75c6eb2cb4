package pass

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/goliatone/go-allowlist"
	"github.com/goliatone/go-allowlist/social"
	"github.com/goliatone/go-allowlist/social/providers/twitter"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

const (
	DefaultBaseImage       = "base.png"
	DefaultTemplatesDir    = "templates"
	DefaultTemplate        = "default"
	DefaultFontSize        = 48
	DefaultDownloadTimeout = 10 * time.Second

	// max avatar payload accepted from the image CDN
	maxAvatarBytes = 8 << 20
	maxAvatarSide  = 4096
)

// Layout positions on the base image.
var (
	AvatarBox     = image.Rect(570, 400, 970, 800)
	UsernamePoint = image.Pt(965, 470)
)

var projectName = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// MemberFinder resolves members by Twitter username.
type MemberFinder interface {
	FindByTwitter(ctx context.Context, username string) (*allowlist.Member, error)
}

// ProfileLookup resolves a Twitter profile by username.
type ProfileLookup interface {
	LookupUserByUsername(ctx context.Context, username string) (*social.SocialProfile, error)
}

// Generator renders boarding pass images.
type Generator struct {
	members  MemberFinder
	profiles ProfileLookup
	client   *http.Client

	assetDir     string
	baseImage    string
	templatesDir string
	fontPath     string
	fontSize     float64
	font         *opentype.Font

	logger allowlist.Logger
	sink   allowlist.ActivitySink
	now    func() time.Time
}

var _ allowlist.PassGenerator = (*Generator)(nil)

// Option customizes the Generator.
type Option func(*Generator)

// WithAssetDir sets the directory holding the base image and templates.
func WithAssetDir(dir string) Option {
	return func(g *Generator) {
		g.assetDir = dir
	}
}

// WithBaseImage overrides the base image path, relative to the asset dir.
func WithBaseImage(path string) Option {
	return func(g *Generator) {
		if path != "" {
			g.baseImage = path
		}
	}
}

// WithTemplatesDir overrides the templates directory, relative to the asset dir.
func WithTemplatesDir(dir string) Option {
	return func(g *Generator) {
		if dir != "" {
			g.templatesDir = dir
		}
	}
}

// WithFont sets a TrueType or OpenType font file. Go Regular is used when empty.
func WithFont(path string) Option {
	return func(g *Generator) {
		g.fontPath = path
	}
}

// WithFontSize sets the username font size in points.
func WithFontSize(size float64) Option {
	return func(g *Generator) {
		if size > 0 {
			g.fontSize = size
		}
	}
}

// WithHTTPClient sets the client used to download avatars.
func WithHTTPClient(client *http.Client) Option {
	return func(g *Generator) {
		if client != nil {
			g.client = client
		}
	}
}

// WithLogger sets the generator logger.
func WithLogger(logger allowlist.Logger) Option {
	return func(g *Generator) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithActivitySink records a pass.issued event for every generated pass.
func WithActivitySink(sink allowlist.ActivitySink) Option {
	return func(g *Generator) {
		g.sink = sink
	}
}

// New creates a Generator. The font is parsed once here.
func New(members MemberFinder, profiles ProfileLookup, opts ...Option) (*Generator, error) {
	if members == nil || profiles == nil {
		return nil, fmt.Errorf("pass generator requires a member finder and a profile lookup")
	}

	g := &Generator{
		members:      members,
		profiles:     profiles,
		client:       &http.Client{Timeout: DefaultDownloadTimeout},
		baseImage:    DefaultBaseImage,
		templatesDir: DefaultTemplatesDir,
		fontSize:     DefaultFontSize,
		logger:       allowlist.NewStdoutLogger("PASS"),
		now:          time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}

	raw := goregular.TTF
	if g.fontPath != "" {
		data, err := os.ReadFile(g.fontPath)
		if err != nil {
			return nil, fmt.Errorf("read font %s: %w", g.fontPath, err)
		}
		raw = data
	}

	f, err := opentype.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse font: %w", err)
	}
	g.font = f

	return g, nil
}

// Generate implements allowlist.PassGenerator.
func (g *Generator) Generate(ctx context.Context, username string) ([]byte, error) {
	member, err := g.members.FindByTwitter(ctx, username)
	if err != nil {
		if allowlist.HasTextCode(err, allowlist.TextCodeMemberNotFound) {
			return nil, allowlist.ErrNotAllowlisted.Clone().WithMetadata(map[string]any{
				"twitter": username,
			})
		}
		return nil, err
	}

	profile, err := g.profiles.LookupUserByUsername(ctx, username)
	if err != nil {
		return nil, allowlist.UpstreamError(allowlist.StepTwitterLookup, err)
	}

	avatar, err := g.downloadAvatar(ctx, twitter.LargeAvatarURL(profile.AvatarURL))
	if err != nil {
		return nil, allowlist.UpstreamError(allowlist.StepTwitterLookup, err)
	}

	out, err := g.render(member, username, avatar)
	if err != nil {
		g.logger.Error("failed to render boarding pass", "twitter", username, "error", err)
		return nil, passFailed(err, map[string]any{"twitter": username})
	}

	g.record(ctx, member)
	g.logger.Debug("boarding pass generated", "twitter", username, "project", member.Project, "bytes", len(out))

	return out, nil
}

func (g *Generator) downloadAvatar(ctx context.Context, url string) (image.Image, error) {
	if url == "" {
		return nil, &social.ProviderError{
			Provider:    "twitter",
			Operation:   "avatar",
			Code:        social.CodeInvalidResponse,
			Description: "profile has no image url",
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	res, err := g.client.Do(req)
	if err != nil {
		return nil, &social.ProviderError{
			Provider:  "twitter",
			Operation: "avatar",
			Code:      social.CodeRequestFailed,
			Err:       err,
		}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, &social.ProviderError{
			Provider:  "twitter",
			Operation: "avatar",
			Status:    res.StatusCode,
			Code:      social.CodeBadResponse,
		}
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, maxAvatarBytes))
	if err != nil {
		return nil, &social.ProviderError{
			Provider:  "twitter",
			Operation: "avatar",
			Code:      social.CodeRequestFailed,
			Err:       err,
		}
	}

	// dimensions are checked before decoding allocates the pixel buffer
	cfg, _, err := image.DecodeConfig(bytes.NewReader(body))
	if err == nil && (cfg.Width > maxAvatarSide || cfg.Height > maxAvatarSide) {
		err = fmt.Errorf("avatar is %dx%d, limit is %dx%d", cfg.Width, cfg.Height, maxAvatarSide, maxAvatarSide)
	}

	var img image.Image
	if err == nil {
		img, _, err = image.Decode(bytes.NewReader(body))
	}
	if err != nil {
		return nil, &social.ProviderError{
			Provider:  "twitter",
			Operation: "avatar",
			Code:      social.CodeMalformedResponse,
			Err:       err,
		}
	}

	return img, nil
}

func (g *Generator) render(member *allowlist.Member, username string, avatar image.Image) ([]byte, error) {
	base, err := g.loadImage(g.asset(g.baseImage))
	if err != nil {
		return nil, err
	}

	canvas := image.NewRGBA(base.Bounds())
	draw.Draw(canvas, canvas.Bounds(), base, base.Bounds().Min, draw.Src)

	box := AvatarBox.Add(canvas.Bounds().Min)
	xdraw.CatmullRom.Scale(canvas, box, avatar, avatar.Bounds(), xdraw.Over, nil)

	overlay, err := g.loadImage(g.templatePath(member.Project))
	if err != nil {
		return nil, err
	}
	draw.Draw(canvas, canvas.Bounds(), overlay, overlay.Bounds().Min, draw.Over)

	if err := g.drawUsername(canvas, strings.ToUpper(username)); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, fmt.Errorf("encode pass: %w", err)
	}
	return buf.Bytes(), nil
}

func (g *Generator) drawUsername(dst draw.Image, text string) error {
	face, err := opentype.NewFace(g.font, &opentype.FaceOptions{
		Size:    g.fontSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return fmt.Errorf("font face: %w", err)
	}
	defer face.Close()

	origin := UsernamePoint.Add(dst.Bounds().Min)
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(color.White),
		Face: face,
		Dot: fixed.Point26_6{
			X: fixed.I(origin.X),
			Y: fixed.I(origin.Y) + face.Metrics().Ascent,
		},
	}
	d.DrawString(text)
	return nil
}

// templatePath returns the overlay for project, falling back to the default template.
func (g *Generator) templatePath(project string) string {
	if projectName.MatchString(project) {
		path := g.asset(filepath.Join(g.templatesDir, project+".png"))
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return g.asset(filepath.Join(g.templatesDir, DefaultTemplate+".png"))
}

func (g *Generator) asset(path string) string {
	if filepath.IsAbs(path) || g.assetDir == "" {
		return path
	}
	return filepath.Join(g.assetDir, path)
}

func (g *Generator) loadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

func (g *Generator) record(ctx context.Context, member *allowlist.Member) {
	if g.sink == nil {
		return
	}
	err := g.sink.Record(ctx, allowlist.ActivityEvent{
		EventType:  allowlist.ActivityEventPassIssued,
		MemberID:   member.ID,
		Discord:    member.Discord,
		Twitter:    member.Twitter,
		Metadata:   map[string]any{"project": member.Project},
		OccurredAt: g.now(),
	})
	if err != nil {
		g.logger.Warn("pass activity sink error", "error", err)
	}
}

func passFailed(err error, meta map[string]any) error {
	clone := allowlist.ErrPassFailed.Clone()
	clone.Source = err
	return clone.WithMetadata(meta)
}
