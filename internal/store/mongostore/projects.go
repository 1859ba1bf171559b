package mongostore

import (
	"context"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"kyri56xcaesar/pms-kanban/internal/store"
)

func (s *Store) populateProjects(ctx context.Context, docs []projectDoc) ([]store.Project, error) {
	refs := make([]primitive.ObjectID, 0)
	for _, d := range docs {
		refs = append(refs, d.Members...)
		if !d.CreatedBy.IsZero() {
			refs = append(refs, d.CreatedBy)
		}
	}
	users, err := s.usersByID(ctx, refs)
	if err != nil {
		return nil, err
	}

	out := make([]store.Project, 0, len(docs))
	for _, d := range docs {
		p := store.Project{
			ID:          d.ID.Hex(),
			Name:        d.Name,
			Key:         d.Key,
			Description: d.Description,
			MemberIDs:   make([]string, 0, len(d.Members)),
			Members:     make([]store.UserRef, 0, len(d.Members)),
			CreatedByID: hexOrEmpty(d.CreatedBy),
			CreatedBy:   refOf(users, d.CreatedBy),
			CreatedAt:   d.CreatedAt.UTC(),
			UpdatedAt:   d.UpdatedAt.UTC(),
		}
		for _, m := range d.Members {
			p.MemberIDs = append(p.MemberIDs, m.Hex())
			if ref := refOf(users, m); ref != nil {
				p.Members = append(p.Members, *ref)
			}
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) populateProject(ctx context.Context, d projectDoc) (*store.Project, error) {
	ps, err := s.populateProjects(ctx, []projectDoc{d})
	if err != nil {
		return nil, err
	}
	return &ps[0], nil
}

func (s *Store) CreateProject(ctx context.Context, p *store.Project) error {
	now := s.Now()
	doc := projectDoc{
		ID:          primitive.NewObjectID(),
		Name:        strings.TrimSpace(p.Name),
		Key:         store.NormalizeKey(p.Key),
		Description: p.Description,
		Members:     parseIDs(p.MemberIDs),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if oid, err := primitive.ObjectIDFromHex(p.CreatedByID); err == nil {
		doc.CreatedBy = oid
	}

	if _, err := s.projects.InsertOne(ctx, doc); err != nil {
		return mapErr(err, "project key "+doc.Key)
	}

	created, err := s.populateProject(ctx, doc)
	if err != nil {
		return err
	}
	*p = *created
	return nil
}

func (s *Store) GetProject(ctx context.Context, id string) (*store.Project, error) {
	oid, err := parseID(id, "project")
	if err != nil {
		return nil, err
	}

	var doc projectDoc
	if err := s.projects.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		return nil, mapErr(err, "project "+id)
	}
	return s.populateProject(ctx, doc)
}

func (s *Store) ListProjects(ctx context.Context, f store.ProjectFilter) ([]store.Project, int64, error) {
	and := bson.A{}
	if q := strings.TrimSpace(f.Query); q != "" {
		rx := containsRegex(q)
		and = append(and, bson.M{"$or": bson.A{bson.M{"name": rx}, bson.M{"key": rx}}})
	}
	if f.VisibleTo != "" {
		oid, err := primitive.ObjectIDFromHex(f.VisibleTo)
		if err != nil {
			return []store.Project{}, 0, nil
		}
		assigned, err := s.tasks.Distinct(ctx, "project", bson.M{"assignee": oid})
		if err != nil {
			return nil, 0, err
		}
		and = append(and, bson.M{"$or": bson.A{
			bson.M{"members": oid},
			bson.M{"_id": bson.M{"$in": assigned}},
		}})
	}

	filter := bson.M{}
	if len(and) > 0 {
		filter["$and"] = and
	}

	total, err := s.projects.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	opts := paged(options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}), f.Page)
	cur, err := s.projects.Find(ctx, filter, opts)
	if err != nil {
		return nil, 0, err
	}
	var docs []projectDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, 0, err
	}

	out, err := s.populateProjects(ctx, docs)
	return out, total, err
}

// updateProject applies update to the project and returns the populated
// result.
func (s *Store) updateProject(ctx context.Context, filter bson.M, update bson.M, what string) (*store.Project, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc projectDoc
	if err := s.projects.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		return nil, mapErr(err, what)
	}
	return s.populateProject(ctx, doc)
}

func (s *Store) UpdateProject(ctx context.Context, id string, u store.ProjectUpdate) (*store.Project, error) {
	oid, err := parseID(id, "project")
	if err != nil {
		return nil, err
	}

	set := bson.M{}
	if u.Name != nil {
		set["name"] = strings.TrimSpace(*u.Name)
	}
	if u.Key != nil {
		set["key"] = store.NormalizeKey(*u.Key)
	}
	if u.Description != nil {
		set["description"] = *u.Description
	}
	if len(set) == 0 {
		return nil, fmt.Errorf("no fields to update")
	}
	set["updatedAt"] = s.Now()

	return s.updateProject(ctx, bson.M{"_id": oid}, bson.M{"$set": set}, "project "+id)
}

func (s *Store) DeleteProject(ctx context.Context, id string) (int64, error) {
	oid, err := parseID(id, "project")
	if err != nil {
		return 0, err
	}

	res, err := s.projects.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return 0, err
	}
	if res.DeletedCount == 0 {
		return 0, mapErr(mongo.ErrNoDocuments, "project "+id)
	}

	tasks, err := s.tasks.DeleteMany(ctx, bson.M{"project": oid})
	if err != nil {
		return 0, fmt.Errorf("project %s deleted, tasks left behind: %w", id, err)
	}
	return tasks.DeletedCount, nil
}

func (s *Store) AddMembers(ctx context.Context, projectID string, userIDs []string) (*store.Project, error) {
	oid, err := parseID(projectID, "project")
	if err != nil {
		return nil, err
	}

	update := bson.M{
		"$addToSet": bson.M{"members": bson.M{"$each": parseIDs(userIDs)}},
		"$set":      bson.M{"updatedAt": s.Now()},
	}
	return s.updateProject(ctx, bson.M{"_id": oid}, update, "project "+projectID)
}

func (s *Store) RemoveMember(ctx context.Context, projectID, userID string) (*store.Project, error) {
	oid, err := parseID(projectID, "project")
	if err != nil {
		return nil, err
	}
	uid, err := parseID(userID, "member")
	if err != nil {
		return nil, err
	}

	update := bson.M{
		"$pull": bson.M{"members": uid},
		"$set":  bson.M{"updatedAt": s.Now()},
	}
	return s.updateProject(ctx, bson.M{"_id": oid, "members": uid}, update,
		"member "+userID+" of project "+projectID)
}
