package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/CodeBTHS/app/logging"
	"github.com/CodeBTHS/app/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var creationOrder = bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}

type MongoTaskRepository struct {
	client       *mongo.Client
	tasks        *mongo.Collection
	assignees    *mongo.Collection
	users        *mongo.Collection
	events       *mongo.Collection
	transactions bool
}

// NewMongoTaskRepository wires the collections of dbName and ensures their indexes.
// With transactions enabled the server must be a replica set or a sharded
// cluster. Disabling them makes multi-write operations best-effort.
func NewMongoTaskRepository(ctx context.Context, client *mongo.Client, dbName string, transactions bool) (*MongoTaskRepository, error) {
	db := client.Database(dbName)
	r := &MongoTaskRepository{
		client:       client,
		tasks:        db.Collection("tasks"),
		assignees:    db.Collection("task_assignees"),
		users:        db.Collection("users"),
		events:       db.Collection("events"),
		transactions: transactions,
	}
	if transactions {
		var hello bson.M
		err := client.Database("admin").RunCommand(ctx, bson.D{{Key: "hello", Value: 1}}).Decode(&hello)
		if err != nil {
			return nil, fmt.Errorf("check MongoDB topology: %w", err)
		}
		if !supportsTransactions(hello) {
			return nil, errors.New("MongoDB server is standalone and cannot run transactions; " +
				"use a replica set or set MONGO_TRANSACTIONS=false")
		}
	}
	if err := r.ensureIndexes(ctx); err != nil {
		return nil, err
	}
	if !transactions {
		logging.Logger.WithField(logging.EventField, "DB_TRANSACTIONS_DISABLED").
			Warn("MongoDB transactions disabled, multi-write operations are not atomic")
	}
	return r, nil
}

// supportsTransactions reads a hello reply: replica set members report
// setName and mongos reports msg "isdbgrid".
func supportsTransactions(hello bson.M) bool {
	if name, ok := hello["setName"].(string); ok && name != "" {
		return true
	}
	msg, _ := hello["msg"].(string)
	return msg == "isdbgrid"
}

func (r *MongoTaskRepository) ensureIndexes(ctx context.Context) error {
	_, err := r.assignees.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "taskId", Value: 1}, {Key: "userId", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{Keys: bson.D{{Key: "userId", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create assignee indexes: %w", err)
	}
	_, err = r.tasks.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "parentId", Value: 1}, {Key: "createdAt", Value: 1}}},
		{Keys: bson.D{{Key: "eventId", Value: 1}, {Key: "createdAt", Value: 1}}},
	})
	if err != nil {
		return fmt.Errorf("create task indexes: %w", err)
	}
	return nil
}

func (r *MongoTaskRepository) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	if !r.transactions || mongo.SessionFromContext(ctx) != nil {
		return fn(ctx)
	}
	session, err := r.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

func (r *MongoTaskRepository) FindByID(ctx context.Context, taskID string, opts FindOptions) (*models.Task, error) {
	var task models.Task
	err := r.tasks.FindOne(ctx, bson.M{"_id": taskID}).Decode(&task)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, fmt.Errorf("task %s: %w", taskID, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find task %s: %w", taskID, err)
	}

	if opts.WithAssignees {
		if task.Assignees, err = r.assigneesOf(ctx, taskID); err != nil {
			return nil, err
		}
	}
	if opts.WithSubTasks {
		children, err := r.findTasks(ctx, bson.M{"parentId": taskID}, options.Find().SetSort(creationOrder))
		if err != nil {
			return nil, fmt.Errorf("find sub-tasks of %s: %w", taskID, err)
		}
		if opts.WithAssignees {
			for i := range children {
				if children[i].Assignees, err = r.assigneesOf(ctx, children[i].ID); err != nil {
					return nil, err
				}
			}
		}
		task.SubTasks = children
	}
	return &task, nil
}

func (r *MongoTaskRepository) FindByEvent(ctx context.Context, eventID string) ([]models.Task, error) {
	tasks, err := r.findTasks(ctx, bson.M{"eventId": eventID, "parentId": nil}, options.Find().SetSort(creationOrder))
	if err != nil {
		return nil, fmt.Errorf("find tasks of event %s: %w", eventID, err)
	}
	return tasks, nil
}

func (r *MongoTaskRepository) FindAssignedTo(ctx context.Context, userID string) ([]models.Task, error) {
	cursor, err := r.assignees.Find(ctx, bson.M{"userId": userID})
	if err != nil {
		return nil, fmt.Errorf("find assignments of %s: %w", userID, err)
	}
	var edges []models.Assignee
	if err := cursor.All(ctx, &edges); err != nil {
		return nil, fmt.Errorf("decode assignments of %s: %w", userID, err)
	}
	if len(edges) == 0 {
		return []models.Task{}, nil
	}

	taskIDs := make([]string, 0, len(edges))
	for _, edge := range edges {
		taskIDs = append(taskIDs, edge.TaskID)
	}
	tasks, err := r.findTasks(ctx, bson.M{"_id": bson.M{"$in": taskIDs}})
	if err != nil {
		return nil, fmt.Errorf("find tasks assigned to %s: %w", userID, err)
	}
	sortByDueDate(tasks)
	return tasks, nil
}

func (r *MongoTaskRepository) Create(ctx context.Context, task *models.Task) (*models.Task, error) {
	created := *task
	created.SubTasks = nil
	created.Assignees = nil
	if created.ID == "" {
		created.ID = primitive.NewObjectID().Hex()
	}
	if created.CreatedAt.IsZero() {
		created.CreatedAt = time.Now().UTC()
	}
	// BSON dates keep millisecond precision.
	created.CreatedAt = created.CreatedAt.Truncate(time.Millisecond)

	if _, err := r.tasks.InsertOne(ctx, created); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("task %s: %w", created.ID, models.ErrConflict)
		}
		return nil, fmt.Errorf("failed to create task: %w", err)
	}
	return &created, nil
}

func (r *MongoTaskRepository) Update(ctx context.Context, taskID string, patch models.TaskPatch) (*models.Task, error) {
	set := bson.M{}
	if patch.Name != nil {
		set["name"] = *patch.Name
	}
	if patch.Description != nil {
		set["description"] = *patch.Description
	}
	switch {
	case patch.ClearDueDate:
		set["dueDate"] = nil
	case patch.DueDate != nil:
		set["dueDate"] = *patch.DueDate
	}
	if patch.SetCompletedAt {
		set["completedAt"] = patch.CompletedAt
	}

	if len(set) > 0 {
		result, err := r.tasks.UpdateOne(ctx, bson.M{"_id": taskID}, bson.M{"$set": set})
		if err != nil {
			return nil, fmt.Errorf("failed to update task %s: %w", taskID, err)
		}
		if result.MatchedCount == 0 {
			return nil, fmt.Errorf("task %s: %w", taskID, models.ErrNotFound)
		}
	}
	return r.FindByID(ctx, taskID, FindOptions{})
}

func (r *MongoTaskRepository) Delete(ctx context.Context, taskID string) (*models.Task, error) {
	task, err := r.FindByID(ctx, taskID, FindOptions{WithAssignees: true})
	if err != nil {
		return nil, err
	}
	if _, err := r.assignees.DeleteMany(ctx, bson.M{"taskId": taskID}); err != nil {
		return nil, fmt.Errorf("delete assignees of %s: %w", taskID, err)
	}
	result, err := r.tasks.DeleteOne(ctx, bson.M{"_id": taskID})
	if err != nil {
		return nil, fmt.Errorf("delete task %s: %w", taskID, err)
	}
	if result.DeletedCount == 0 {
		return nil, fmt.Errorf("task %s: %w", taskID, models.ErrNotFound)
	}
	return task, nil
}

func (r *MongoTaskRepository) CreateAssignee(ctx context.Context, taskID, userID string) error {
	count, err := r.tasks.CountDocuments(ctx, bson.M{"_id": taskID})
	if err != nil {
		return fmt.Errorf("find task %s: %w", taskID, err)
	}
	if count == 0 {
		return fmt.Errorf("task %s: %w", taskID, models.ErrNotFound)
	}

	edge := models.Assignee{
		TaskID:    taskID,
		UserID:    userID,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	if _, err := r.assignees.InsertOne(ctx, edge); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("user %s on task %s: %w", userID, taskID, models.ErrConflict)
		}
		return fmt.Errorf("assign user %s to task %s: %w", userID, taskID, err)
	}
	return nil
}

func (r *MongoTaskRepository) DeleteAssignee(ctx context.Context, taskID, userID string) error {
	result, err := r.assignees.DeleteOne(ctx, bson.M{"taskId": taskID, "userId": userID})
	if err != nil {
		return fmt.Errorf("unassign user %s from task %s: %w", userID, taskID, err)
	}
	if result.DeletedCount == 0 {
		return fmt.Errorf("user %s on task %s: %w", userID, taskID, models.ErrNotFound)
	}
	return nil
}

func (r *MongoTaskRepository) FindUsersAssignedTo(ctx context.Context, taskID string) ([]models.User, error) {
	assignees, err := r.assigneesOf(ctx, taskID)
	if err != nil {
		return nil, err
	}
	users := make([]models.User, 0, len(assignees))
	for _, a := range assignees {
		users = append(users, a.User)
	}
	return users, nil
}

func (r *MongoTaskRepository) EventExists(ctx context.Context, eventID string) (bool, error) {
	count, err := r.events.CountDocuments(ctx, bson.M{"_id": eventID})
	if err != nil {
		return false, fmt.Errorf("find event %s: %w", eventID, err)
	}
	return count > 0, nil
}

func (r *MongoTaskRepository) SaveEvent(ctx context.Context, event models.Event) error {
	_, err := r.events.ReplaceOne(ctx, bson.M{"_id": event.ID}, event, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save event %s: %w", event.ID, err)
	}
	return nil
}

func (r *MongoTaskRepository) SaveUser(ctx context.Context, user models.User) error {
	_, err := r.users.ReplaceOne(ctx, bson.M{"_id": user.ID}, user, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("save user %s: %w", user.ID, err)
	}
	return nil
}

func (r *MongoTaskRepository) findTasks(ctx context.Context, filter bson.M, opts ...*options.FindOptions) ([]models.Task, error) {
	cursor, err := r.tasks.Find(ctx, filter, opts...)
	if err != nil {
		return nil, err
	}
	tasks := []models.Task{}
	if err := cursor.All(ctx, &tasks); err != nil {
		return nil, fmt.Errorf("failed to decode tasks: %w", err)
	}
	return tasks, nil
}

// assigneesOf loads the task's edges in assignment order and resolves their users.
func (r *MongoTaskRepository) assigneesOf(ctx context.Context, taskID string) ([]models.Assignee, error) {
	cursor, err := r.assignees.Find(ctx, bson.M{"taskId": taskID}, options.Find().SetSort(creationOrder))
	if err != nil {
		return nil, fmt.Errorf("find assignees of %s: %w", taskID, err)
	}
	assignees := []models.Assignee{}
	if err := cursor.All(ctx, &assignees); err != nil {
		return nil, fmt.Errorf("decode assignees of %s: %w", taskID, err)
	}
	if len(assignees) == 0 {
		return assignees, nil
	}

	userIDs := make([]string, 0, len(assignees))
	for _, a := range assignees {
		userIDs = append(userIDs, a.UserID)
	}
	cursor, err = r.users.Find(ctx, bson.M{"_id": bson.M{"$in": userIDs}})
	if err != nil {
		return nil, fmt.Errorf("find users of %s: %w", taskID, err)
	}
	var users []models.User
	if err := cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("decode users of %s: %w", taskID, err)
	}
	byID := make(map[string]models.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}

	for i := range assignees {
		user, ok := byID[assignees[i].UserID]
		if !ok {
			user = models.User{ID: assignees[i].UserID}
		}
		assignees[i].User = user
	}
	return assignees, nil
}
