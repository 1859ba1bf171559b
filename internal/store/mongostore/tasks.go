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

func (s *Store) populateTasks(ctx context.Context, docs []taskDoc) ([]store.Task, error) {
	refs := make([]primitive.ObjectID, 0, 2*len(docs))
	for _, d := range docs {
		if d.Assignee != nil {
			refs = append(refs, *d.Assignee)
		}
		if !d.CreatedBy.IsZero() {
			refs = append(refs, d.CreatedBy)
		}
	}
	users, err := s.usersByID(ctx, refs)
	if err != nil {
		return nil, err
	}

	out := make([]store.Task, 0, len(docs))
	for _, d := range docs {
		t := store.Task{
			ID:          d.ID.Hex(),
			ProjectID:   d.Project.Hex(),
			Title:       d.Title,
			Description: d.Description,
			Status:      store.Status(d.Status),
			Priority:    store.Priority(d.Priority),
			CreatedByID: hexOrEmpty(d.CreatedBy),
			CreatedBy:   refOf(users, d.CreatedBy),
			CreatedAt:   d.CreatedAt.UTC(),
			UpdatedAt:   d.UpdatedAt.UTC(),
		}
		if d.Assignee != nil {
			t.AssigneeID = d.Assignee.Hex()
			t.Assignee = refOf(users, *d.Assignee)
		}
		if d.DueDate != nil {
			due := d.DueDate.UTC()
			t.DueDate = &due
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Store) CreateTask(ctx context.Context, t *store.Task) error {
	pid, err := parseID(t.ProjectID, "project")
	if err != nil {
		return err
	}

	now := s.Now()
	doc := taskDoc{
		ID:          primitive.NewObjectID(),
		Project:     pid,
		Title:       t.Title,
		Description: t.Description,
		Status:      string(t.Status),
		Priority:    string(t.Priority),
		DueDate:     t.DueDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if t.AssigneeID != "" {
		aid, err := parseID(t.AssigneeID, "assignee")
		if err != nil {
			return err
		}
		doc.Assignee = &aid
	}
	if oid, err := primitive.ObjectIDFromHex(t.CreatedByID); err == nil {
		doc.CreatedBy = oid
	}

	if _, err := s.tasks.InsertOne(ctx, doc); err != nil {
		return mapErr(err, "task in project "+t.ProjectID)
	}

	created, err := s.populateTasks(ctx, []taskDoc{doc})
	if err != nil {
		return err
	}
	*t = created[0]
	return nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*store.Task, error) {
	oid, err := parseID(id, "task")
	if err != nil {
		return nil, err
	}

	var doc taskDoc
	if err := s.tasks.FindOne(ctx, bson.M{"_id": oid}).Decode(&doc); err != nil {
		return nil, mapErr(err, "task "+id)
	}
	ts, err := s.populateTasks(ctx, []taskDoc{doc})
	if err != nil {
		return nil, err
	}
	return &ts[0], nil
}

// taskFilter translates f into a query document. ok is false when an id in
// f can not match anything.
func taskFilter(f store.TaskFilter) (filter bson.M, ok bool) {
	filter = bson.M{}
	if f.ProjectID != "" {
		pid, err := primitive.ObjectIDFromHex(f.ProjectID)
		if err != nil {
			return nil, false
		}
		filter["project"] = pid
	}
	if f.Status != "" {
		filter["status"] = string(f.Status)
	}
	if f.Priority != "" {
		filter["priority"] = string(f.Priority)
	}
	if f.Unassigned {
		filter["assignee"] = nil
	} else if f.AssigneeID != "" {
		aid, err := primitive.ObjectIDFromHex(f.AssigneeID)
		if err != nil {
			return nil, false
		}
		filter["assignee"] = aid
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		rx := containsRegex(q)
		filter["$or"] = bson.A{bson.M{"title": rx}, bson.M{"description": rx}}
	}
	if f.DueFrom != nil || f.DueTo != nil {
		due := bson.M{}
		if f.DueFrom != nil {
			due["$gte"] = *f.DueFrom
		}
		if f.DueTo != nil {
			due["$lte"] = *f.DueTo
		}
		filter["dueDate"] = due
	}
	return filter, true
}

// taskSort returns the $sort stage for order. Tasks without a due date sort
// last in both due orders, which needs the computed noDue field.
func taskSort(order string) bson.D {
	switch order {
	case store.SortCreatedAsc:
		return bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}
	case store.SortDueAsc:
		return bson.D{{Key: "noDue", Value: 1}, {Key: "dueDate", Value: 1}, {Key: "createdAt", Value: -1}}
	case store.SortDueDesc:
		return bson.D{{Key: "noDue", Value: 1}, {Key: "dueDate", Value: -1}, {Key: "createdAt", Value: -1}}
	case store.SortPriorityDesc:
		return bson.D{{Key: "priorityRank", Value: -1}, {Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}
	default:
		return bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}
	}
}

func taskPipeline(filter bson.M, order string, p store.Page) mongo.Pipeline {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: filter}},
		{{Key: "$addFields", Value: bson.M{
			"noDue": bson.M{"$cond": bson.A{bson.M{"$ifNull": bson.A{"$dueDate", false}}, 0, 1}},
			"priorityRank": bson.M{"$switch": bson.M{
				"branches": bson.A{
					bson.M{"case": bson.M{"$eq": bson.A{"$priority", string(store.PriorityHigh)}}, "then": 3},
					bson.M{"case": bson.M{"$eq": bson.A{"$priority", string(store.PriorityMedium)}}, "then": 2},
				},
				"default": 1,
			}},
		}}},
		{{Key: "$sort", Value: taskSort(order)}},
	}
	if !p.Unbounded() {
		pipeline = append(pipeline,
			bson.D{{Key: "$skip", Value: int64(p.Offset())}},
			bson.D{{Key: "$limit", Value: int64(p.Limit)}},
		)
	}
	return pipeline
}

func (s *Store) ListTasks(ctx context.Context, f store.TaskFilter) ([]store.Task, int64, error) {
	filter, ok := taskFilter(f)
	if !ok {
		return []store.Task{}, 0, nil
	}

	total, err := s.tasks.CountDocuments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}

	cur, err := s.tasks.Aggregate(ctx, taskPipeline(filter, f.Sort, f.Page))
	if err != nil {
		return nil, 0, err
	}
	var docs []taskDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, 0, err
	}

	out, err := s.populateTasks(ctx, docs)
	return out, total, err
}

func (s *Store) CountTasks(ctx context.Context, f store.TaskFilter) (int64, error) {
	filter, ok := taskFilter(f)
	if !ok {
		return 0, nil
	}
	return s.tasks.CountDocuments(ctx, filter)
}

func (s *Store) UpdateTask(ctx context.Context, id string, u store.TaskUpdate) (*store.Task, error) {
	oid, err := parseID(id, "task")
	if err != nil {
		return nil, err
	}

	set := bson.M{}
	unset := bson.M{}
	if u.Title != nil {
		set["title"] = *u.Title
	}
	if u.Description != nil {
		set["description"] = *u.Description
	}
	if u.Status != nil {
		set["status"] = string(*u.Status)
	}
	if u.Priority != nil {
		set["priority"] = string(*u.Priority)
	}
	if u.AssigneeID != nil {
		if *u.AssigneeID == "" {
			unset["assignee"] = ""
		} else {
			aid, err := parseID(*u.AssigneeID, "assignee")
			if err != nil {
				return nil, err
			}
			set["assignee"] = aid
		}
	}
	if u.ClearDueDate {
		unset["dueDate"] = ""
	} else if u.DueDate != nil {
		set["dueDate"] = *u.DueDate
	}

	if len(set) == 0 && len(unset) == 0 {
		return nil, fmt.Errorf("no fields to update")
	}
	set["updatedAt"] = s.Now()

	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var doc taskDoc
	if err := s.tasks.FindOneAndUpdate(ctx, bson.M{"_id": oid}, update, opts).Decode(&doc); err != nil {
		return nil, mapErr(err, "task "+id)
	}

	ts, err := s.populateTasks(ctx, []taskDoc{doc})
	if err != nil {
		return nil, err
	}
	return &ts[0], nil
}

func (s *Store) DeleteTask(ctx context.Context, id string) error {
	oid, err := parseID(id, "task")
	if err != nil {
		return err
	}

	res, err := s.tasks.DeleteOne(ctx, bson.M{"_id": oid})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return mapErr(mongo.ErrNoDocuments, "task "+id)
	}
	return nil
}
