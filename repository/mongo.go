package repository

import (
	"context"
	"errors"
	"time"

	"github.com/goliatone/go-allowlist"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	DefaultMongoDatabase   = "allowlist"
	DefaultMongoCollection = "members"
)

// memberDocument mirrors documents in the allowlist.members collection.
// Seeded documents may miss any of the identity fields.
type memberDocument struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Discord   string             `bson:"discord"`
	DiscordID string             `bson:"discord_id,omitempty"`
	Twitter   string             `bson:"twitter"`
	TwitterID string             `bson:"twitter_id,omitempty"`
	Address   string             `bson:"address,omitempty"`
	Project   string             `bson:"project,omitempty"`
	CreatedAt *time.Time         `bson:"created_at,omitempty"`
	UpdatedAt *time.Time         `bson:"updated_at,omitempty"`
}

// MongoMemberRepository implements allowlist.MemberStore on a Mongo collection.
type MongoMemberRepository struct {
	collection *mongo.Collection
	now        func() time.Time
}

var _ allowlist.MemberStore = (*MongoMemberRepository)(nil)

// NewMongoMemberRepository creates a repository backed by collection.
func NewMongoMemberRepository(collection *mongo.Collection) *MongoMemberRepository {
	return &MongoMemberRepository{collection: collection, now: time.Now}
}

// EnsureIndexes creates the lookup indexes.
func (r *MongoMemberRepository) EnsureIndexes(ctx context.Context) error {
	models := []mongo.IndexModel{
		{Keys: bson.D{{Key: "discord", Value: 1}}},
		{Keys: bson.D{{Key: "twitter", Value: 1}}},
		{Keys: bson.D{{Key: "twitter_id", Value: 1}}},
		{Keys: bson.D{{Key: "address", Value: 1}}},
	}
	_, err := r.collection.Indexes().CreateMany(ctx, models)
	return err
}

// FindByHandles implements allowlist.MemberStore.
func (r *MongoMemberRepository) FindByHandles(ctx context.Context, discord, twitter string) (*allowlist.Member, error) {
	var or bson.A
	if discord != "" {
		or = append(or, bson.M{"discord": discord})
	}
	if twitter != "" {
		or = append(or, bson.M{"twitter": twitter})
	}
	if len(or) == 0 {
		return nil, notFound(map[string]any{"discord": discord, "twitter": twitter})
	}

	return r.findOne(ctx, bson.M{"$or": or}, map[string]any{"discord": discord, "twitter": twitter})
}

// FindByTwitterID implements allowlist.MemberStore.
func (r *MongoMemberRepository) FindByTwitterID(ctx context.Context, twitterID string) (*allowlist.Member, error) {
	return r.findBy(ctx, "twitter_id", twitterID)
}

// FindByTwitter implements allowlist.MemberStore.
func (r *MongoMemberRepository) FindByTwitter(ctx context.Context, username string) (*allowlist.Member, error) {
	return r.findBy(ctx, "twitter", username)
}

// FindByAddress implements allowlist.MemberStore.
func (r *MongoMemberRepository) FindByAddress(ctx context.Context, address string) (*allowlist.Member, error) {
	return r.findBy(ctx, "address", address)
}

func (r *MongoMemberRepository) findBy(ctx context.Context, field, value string) (*allowlist.Member, error) {
	if value == "" {
		return nil, notFound(map[string]any{field: value})
	}
	return r.findOne(ctx, bson.M{field: value}, map[string]any{field: value})
}

func (r *MongoMemberRepository) findOne(ctx context.Context, filter bson.M, meta map[string]any) (*allowlist.Member, error) {
	var doc memberDocument
	if err := r.collection.FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, notFound(meta)
		}
		return nil, err
	}
	return doc.toMember(), nil
}

// LinkIdentities implements allowlist.MemberStore.
func (r *MongoMemberRepository) LinkIdentities(ctx context.Context, id string, ids allowlist.Identities) error {
	return r.updateUnbound(ctx, id, bson.M{
		"discord":    ids.Discord,
		"discord_id": ids.DiscordID,
		"twitter":    ids.Twitter,
		"twitter_id": ids.TwitterID,
		"updated_at": r.now(),
	})
}

// BindAddress implements allowlist.MemberStore.
func (r *MongoMemberRepository) BindAddress(ctx context.Context, id, address string) error {
	return r.updateUnbound(ctx, id, bson.M{
		"address":    address,
		"updated_at": r.now(),
	})
}

// updateUnbound applies set only while the document has no address. A
// missing field counts as empty.
func (r *MongoMemberRepository) updateUnbound(ctx context.Context, id string, set bson.M) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return notFound(map[string]any{"id": id})
	}

	res, err := r.collection.UpdateOne(ctx, bson.M{
		"_id":     oid,
		"address": bson.M{"$in": bson.A{"", nil}},
	}, bson.M{"$set": set})
	if err != nil {
		return err
	}
	if res.MatchedCount > 0 {
		return nil
	}

	count, err := r.collection.CountDocuments(ctx, bson.M{"_id": oid})
	if err != nil {
		return err
	}
	if count == 0 {
		return notFound(map[string]any{"id": id})
	}

	return allowlist.ErrAlreadySubmitted.Clone().WithMetadata(map[string]any{"id": id})
}

// Upsert implements allowlist.MemberStore. Documents are keyed by id when
// given, by twitter handle otherwise, falling back to the discord handle.
func (r *MongoMemberRepository) Upsert(ctx context.Context, member *allowlist.Member) (*allowlist.Member, error) {
	if member == nil {
		return nil, errors.New("member is nil")
	}

	var filter bson.M
	switch {
	case member.ID != "":
		oid, err := primitive.ObjectIDFromHex(member.ID)
		if err != nil {
			return nil, err
		}
		filter = bson.M{"_id": oid}
	case member.Twitter != "":
		filter = bson.M{"twitter": member.Twitter}
	case member.Discord != "":
		filter = bson.M{"discord": member.Discord}
	default:
		return nil, errors.New("member needs a twitter or discord handle")
	}

	update := upsertPipeline(member, r.now())

	opts := options.FindOneAndUpdate().
		SetUpsert(true).
		SetReturnDocument(options.After)

	var doc memberDocument
	if err := r.collection.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		return nil, err
	}

	return doc.toMember(), nil
}

// upsertPipeline builds the update applied by Upsert. Handles are only
// refreshed while the member is not linked. Seeded ids and address apply
// when the document has none, so existing values are kept.
func upsertPipeline(member *allowlist.Member, now time.Time) bson.A {
	set := bson.M{"updated_at": now}
	if member.Project != "" {
		set["project"] = member.Project
	}

	seeded := bson.M{
		"discord":    unlinkedValue("$discord_id", "$discord", member.Discord),
		"twitter":    unlinkedValue("$twitter_id", "$twitter", member.Twitter),
		"created_at": bson.M{"$ifNull": bson.A{"$created_at", now}},
	}
	for field, value := range map[string]string{
		"discord_id": member.DiscordID,
		"twitter_id": member.TwitterID,
		"address":    member.Address,
	} {
		if value != "" {
			seeded[field] = bson.M{"$ifNull": bson.A{"$" + field, bson.M{"$literal": value}}}
		}
	}

	return bson.A{
		bson.M{"$set": set},
		bson.M{"$set": seeded},
	}
}

func unlinkedValue(idField, current, seeded string) bson.M {
	return bson.M{"$cond": bson.A{
		bson.M{"$eq": bson.A{bson.M{"$ifNull": bson.A{idField, ""}}, ""}},
		bson.M{"$literal": seeded},
		current,
	}}
}

func (d memberDocument) toMember() *allowlist.Member {
	return &allowlist.Member{
		ID:        d.ID.Hex(),
		Discord:   d.Discord,
		DiscordID: d.DiscordID,
		Twitter:   d.Twitter,
		TwitterID: d.TwitterID,
		Address:   d.Address,
		Project:   d.Project,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}
