package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/goliatone/go-allowlist"
	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// MemberModel is the Bun model for allowlist members.
type MemberModel struct {
	bun.BaseModel `bun:"table:members,alias:mbr"`

	ID        uuid.UUID `bun:"id,pk,type:uuid"`
	Discord   string    `bun:"discord,notnull,default:''"`
	DiscordID string    `bun:"discord_id,notnull,default:''"`
	Twitter   string    `bun:"twitter,notnull,default:''"`
	TwitterID string    `bun:"twitter_id,notnull,default:''"`
	Address   string    `bun:"address,notnull,default:''"`
	Project   string    `bun:"project,notnull,default:''"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// MemberRepository implements allowlist.MemberStore using Bun.
type MemberRepository struct {
	db  *bun.DB
	now func() time.Time
}

var _ allowlist.MemberStore = (*MemberRepository)(nil)

// NewMemberRepository creates a new repository.
func NewMemberRepository(db *bun.DB) *MemberRepository {
	return &MemberRepository{db: db, now: time.Now}
}

// FindByHandles implements allowlist.MemberStore.
func (r *MemberRepository) FindByHandles(ctx context.Context, discord, twitter string) (*allowlist.Member, error) {
	if discord == "" && twitter == "" {
		return nil, notFound(map[string]any{"discord": discord, "twitter": twitter})
	}

	model := &MemberModel{}
	err := r.db.NewSelect().
		Model(model).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			if discord != "" {
				q = q.WhereOr("?TableAlias.discord = ?", discord)
			}
			if twitter != "" {
				q = q.WhereOr("?TableAlias.twitter = ?", twitter)
			}
			return q
		}).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, lookupError(err, map[string]any{"discord": discord, "twitter": twitter})
	}

	return toMember(model), nil
}

// FindByTwitterID implements allowlist.MemberStore.
func (r *MemberRepository) FindByTwitterID(ctx context.Context, twitterID string) (*allowlist.Member, error) {
	return r.findBy(ctx, "twitter_id", twitterID)
}

// FindByTwitter implements allowlist.MemberStore.
func (r *MemberRepository) FindByTwitter(ctx context.Context, username string) (*allowlist.Member, error) {
	return r.findBy(ctx, "twitter", username)
}

// FindByAddress implements allowlist.MemberStore.
func (r *MemberRepository) FindByAddress(ctx context.Context, address string) (*allowlist.Member, error) {
	return r.findBy(ctx, "address", address)
}

func (r *MemberRepository) findBy(ctx context.Context, column, value string) (*allowlist.Member, error) {
	if value == "" {
		return nil, notFound(map[string]any{column: value})
	}

	model := &MemberModel{}
	err := r.db.NewSelect().
		Model(model).
		Where("?TableAlias.? = ?", bun.Ident(column), value).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, lookupError(err, map[string]any{column: value})
	}

	return toMember(model), nil
}

// LinkIdentities implements allowlist.MemberStore. The update only applies
// while the member has no address.
func (r *MemberRepository) LinkIdentities(ctx context.Context, id string, ids allowlist.Identities) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return notFound(map[string]any{"id": id})
	}

	res, err := r.db.NewUpdate().
		Model((*MemberModel)(nil)).
		Set("discord = ?", ids.Discord).
		Set("discord_id = ?", ids.DiscordID).
		Set("twitter = ?", ids.Twitter).
		Set("twitter_id = ?", ids.TwitterID).
		Set("updated_at = ?", r.now()).
		Where("id = ?", uid).
		Where("address = ''").
		Exec(ctx)
	if err != nil {
		return err
	}

	return r.conditionalResult(ctx, res, uid)
}

// BindAddress implements allowlist.MemberStore. Only the first address wins.
func (r *MemberRepository) BindAddress(ctx context.Context, id, address string) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return notFound(map[string]any{"id": id})
	}

	res, err := r.db.NewUpdate().
		Model((*MemberModel)(nil)).
		Set("address = ?", address).
		Set("updated_at = ?", r.now()).
		Where("id = ?", uid).
		Where("address = ''").
		Exec(ctx)
	if err != nil {
		return err
	}

	return r.conditionalResult(ctx, res, uid)
}

// Upsert implements allowlist.MemberStore. Members without an id get a
// deterministic one derived from their handle, so seeding is idempotent.
// Existing rows keep their linked ids and address.
func (r *MemberRepository) Upsert(ctx context.Context, member *allowlist.Member) (*allowlist.Member, error) {
	model, err := fromMember(member)
	if err != nil {
		return nil, err
	}
	model.UpdatedAt = r.now()
	if model.CreatedAt.IsZero() {
		model.CreatedAt = model.UpdatedAt
	}

	_, err = r.db.NewInsert().
		Model(model).
		On("CONFLICT (id) DO UPDATE").
		Set("discord = CASE WHEN discord_id = '' THEN EXCLUDED.discord ELSE discord END").
		Set("twitter = CASE WHEN twitter_id = '' THEN EXCLUDED.twitter ELSE twitter END").
		Set("project = EXCLUDED.project").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return nil, err
	}

	stored := &MemberModel{}
	if err := r.db.NewSelect().Model(stored).Where("?TableAlias.id = ?", model.ID).Scan(ctx); err != nil {
		return nil, lookupError(err, map[string]any{"id": model.ID.String()})
	}

	return toMember(stored), nil
}

func (r *MemberRepository) conditionalResult(ctx context.Context, res sql.Result, id uuid.UUID) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	exists, err := r.db.NewSelect().
		Model((*MemberModel)(nil)).
		Where("?TableAlias.id = ?", id).
		Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return notFound(map[string]any{"id": id.String()})
	}

	return allowlist.ErrAlreadySubmitted.Clone().WithMetadata(map[string]any{"id": id.String()})
}

// MemberID returns the deterministic id used for seeded members.
func MemberID(member *allowlist.Member) (uuid.UUID, error) {
	key := member.Twitter
	if key == "" {
		key = member.Discord
	}
	if key == "" {
		return uuid.Nil, errors.New("member needs a twitter or discord handle")
	}
	return hashid.NewUUID(strings.ToLower(key))
}

func fromMember(m *allowlist.Member) (*MemberModel, error) {
	if m == nil {
		return nil, errors.New("member is nil")
	}

	var id uuid.UUID
	if m.ID != "" {
		if parsed, err := uuid.Parse(m.ID); err == nil {
			id = parsed
		}
	}
	if id == uuid.Nil {
		derived, err := MemberID(m)
		if err != nil {
			return nil, err
		}
		id = derived
	}

	model := &MemberModel{
		ID:        id,
		Discord:   m.Discord,
		DiscordID: m.DiscordID,
		Twitter:   m.Twitter,
		TwitterID: m.TwitterID,
		Address:   m.Address,
		Project:   m.Project,
	}
	if m.CreatedAt != nil {
		model.CreatedAt = *m.CreatedAt
	}
	return model, nil
}

func toMember(m *MemberModel) *allowlist.Member {
	createdAt := m.CreatedAt
	updatedAt := m.UpdatedAt
	return &allowlist.Member{
		ID:        m.ID.String(),
		Discord:   m.Discord,
		DiscordID: m.DiscordID,
		Twitter:   m.Twitter,
		TwitterID: m.TwitterID,
		Address:   m.Address,
		Project:   m.Project,
		CreatedAt: &createdAt,
		UpdatedAt: &updatedAt,
	}
}

func lookupError(err error, meta map[string]any) error {
	if repository.IsRecordNotFound(err) || errors.Is(err, sql.ErrNoRows) {
		return notFound(meta)
	}
	return err
}

func notFound(meta map[string]any) error {
	return allowlist.ErrMemberNotFound.Clone().WithMetadata(meta)
}
