// Package mongostore implements store.Store on MongoDB. Projects embed
// their member ids; tasks reference their project, assignee and creator.
// References are resolved with a second users lookup at read time.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"kyri56xcaesar/pms-kanban/internal/store"
)

const (
	usersCollection    = "users"
	projectsCollection = "projects"
	tasksCollection    = "tasks"
)

type Store struct {
	client   *mongo.Client
	users    *mongo.Collection
	projects *mongo.Collection
	tasks    *mongo.Collection

	Now func() time.Time
}

type userDoc struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	Name         string             `bson:"name"`
	Email        string             `bson:"email"`
	PasswordHash string             `bson:"passwordHash"`
	Role         string             `bson:"role"`
	CreatedAt    time.Time          `bson:"createdAt"`
	UpdatedAt    time.Time          `bson:"updatedAt"`
}

type projectDoc struct {
	ID          primitive.ObjectID   `bson:"_id,omitempty"`
	Name        string               `bson:"name"`
	Key         string               `bson:"key"`
	Description string               `bson:"description"`
	Members     []primitive.ObjectID `bson:"members"`
	CreatedBy   primitive.ObjectID   `bson:"createdBy,omitempty"`
	CreatedAt   time.Time            `bson:"createdAt"`
	UpdatedAt   time.Time            `bson:"updatedAt"`
}

type taskDoc struct {
	ID          primitive.ObjectID  `bson:"_id,omitempty"`
	Project     primitive.ObjectID  `bson:"project"`
	Title       string              `bson:"title"`
	Description string              `bson:"description"`
	Status      string              `bson:"status"`
	Priority    string              `bson:"priority"`
	Assignee    *primitive.ObjectID `bson:"assignee,omitempty"`
	DueDate     *time.Time          `bson:"dueDate,omitempty"`
	CreatedBy   primitive.ObjectID  `bson:"createdBy,omitempty"`
	CreatedAt   time.Time           `bson:"createdAt"`
	UpdatedAt   time.Time           `bson:"updatedAt"`
}

// Open connects to uri, selects database and ensures indexes.
func Open(ctx context.Context, uri, database string) (*Store, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("could not connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping mongo: %w", err)
	}

	db := client.Database(database)
	s := &Store{
		client:   client,
		users:    db.Collection(usersCollection),
		projects: db.Collection(projectsCollection),
		tasks:    db.Collection(tasksCollection),
		Now:      func() time.Time { return time.Now().UTC() },
	}

	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	if _, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	}); err != nil {
		return fmt.Errorf("users index: %w", err)
	}
	if _, err := s.projects.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "key", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "members", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("projects index: %w", err)
	}
	if _, err := s.tasks.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "project", Value: 1}, {Key: "createdAt", Value: -1}}},
		{Keys: bson.D{{Key: "project", Value: 1}, {Key: "assignee", Value: 1}}},
	}); err != nil {
		return fmt.Errorf("tasks index: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

func (s *Store) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

/* users */

func (d userDoc) toUser() store.User {
	return store.User{
		ID:           d.ID.Hex(),
		Name:         d.Name,
		Email:        d.Email,
		PasswordHash: d.PasswordHash,
		Role:         store.Role(d.Role),
		CreatedAt:    d.CreatedAt.UTC(),
		UpdatedAt:    d.UpdatedAt.UTC(),
	}
}

func (s *Store) CreateUser(ctx context.Context, u *store.User) error {
	now := s.Now()
	doc := userDoc{
		ID:           primitive.NewObjectID(),
		Name:         u.Name,
		Email:        store.NormalizeEmail(u.Email),
		PasswordHash: u.PasswordHash,
		Role:         string(u.Role),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := s.users.InsertOne(ctx, doc); err != nil {
		return mapErr(err, "user "+doc.Email)
	}
	*u = doc.toUser()
	return nil
}

func (s *Store) findUser(ctx context.Context, filter bson.M, what string) (*store.User, error) {
	var doc userDoc
	if err := s.users.FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, mapErr(err, what)
	}
	u := doc.toUser()
	return &u, nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*store.User, error) {
	oid, err := parseID(id, "user")
	if err != nil {
		return nil, err
	}
	return s.findUser(ctx, bson.M{"_id": oid}, "user "+id)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*store.User, error) {
	email = store.NormalizeEmail(email)
	return s.findUser(ctx, bson.M{"email": email}, "user "+email)
}

func (s *Store) FindUsers(ctx context.Context, ids []string) ([]store.User, error) {
	docs, err := s.usersByID(ctx, parseIDs(ids))
	if err != nil {
		return nil, err
	}
	out := make([]store.User, 0, len(docs))
	for _, id := range store.Dedupe(ids) {
		if d, ok := docs[id]; ok {
			out = append(out, d.toUser())
		}
	}
	return out, nil
}

func (s *Store) ListUsers(ctx context.Context, f store.UserFilter) ([]store.User, int64, error) {
	filter := bson.M{}
	if q := strings.TrimSpace(f.Query); q != "" {
		rx := containsRegex(q)
		filter["$or"] = bson.A{bson.M{"name": rx}, bson.M{"email": rx}}
	}

	total, err := s.users.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	opts := paged(options.Find().SetSort(bson.D{{Key: "name", Value: 1}, {Key: "email", Value: 1}}), f.Page)
	cur, err := s.users.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	var docs []userDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, 0, err
	}

	out := make([]store.User, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toUser())
	}
	return out, total, nil
}

// usersByID loads the referenced users keyed by hex id.
func (s *Store) usersByID(ctx context.Context, ids []primitive.ObjectID) (map[string]userDoc, error) {
	out := make(map[string]userDoc, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	cur, err := s.users.Find(ctx, bson.M{"_id": bson.M{"$in": ids}})
	if err != nil {
		return nil, err
	}
	var docs []userDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	for _, d := range docs {
		out[d.ID.Hex()] = d
	}
	return out, nil
}

/* helpers */

func parseID(id, kind string) (primitive.ObjectID, error) {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%s %s: %w", kind, id, store.ErrNotFound)
	}
	return oid, nil
}

// parseIDs drops ids that are not valid object ids; such ids can not
// reference any document.
func parseIDs(ids []string) []primitive.ObjectID {
	out := make([]primitive.ObjectID, 0, len(ids))
	for _, id := range store.Dedupe(ids) {
		if oid, err := primitive.ObjectIDFromHex(id); err == nil {
			out = append(out, oid)
		}
	}
	return out
}

func containsRegex(q string) primitive.Regex {
	return primitive.Regex{Pattern: regexp.QuoteMeta(q), Options: "i"}
}

func paged(opts *options.FindOptions, p store.Page) *options.FindOptions {
	if p.Unbounded() {
		return opts
	}
	return opts.SetSkip(int64(p.Offset())).SetLimit(int64(p.Limit))
}

func refOf(docs map[string]userDoc, id primitive.ObjectID) *store.UserRef {
	if id.IsZero() {
		return nil
	}
	d, ok := docs[id.Hex()]
	if !ok {
		return nil
	}
	ref := d.toUser().Ref()
	return &ref
}

func hexOrEmpty(id primitive.ObjectID) string {
	if id.IsZero() {
		return ""
	}
	return id.Hex()
}

func mapErr(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%s: %w", what, store.ErrConflict)
	}
	return fmt.Errorf("%s: %w", what, err)
}
