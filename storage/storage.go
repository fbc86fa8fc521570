// Package storage persists users and tasks. Tables is the Azure Table Storage
// backend; Memory is an in-process backend with the same semantics.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"taskhub-api/domain"
)

const userPartition = "user"

// Tables stores users and tasks in two Azure tables. Users share a single
// partition keyed by id; tasks are partitioned by owner and keyed by task id.
type Tables struct {
	service   *aztables.ServiceClient
	userTable *aztables.Client
	taskTable *aztables.Client
	names     []string
	now       func() time.Time
}

// NewTables creates a Tables backend from the given connection string.
func NewTables(connStr, usersTable, tasksTable string) (*Tables, error) {
	return newTables(connStr, usersTable, tasksTable, clientOptions())
}

func clientOptions() *aztables.ClientOptions {
	return &aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: 15 * time.Second,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
}

func newTables(connStr, usersTable, tasksTable string, opts *aztables.ClientOptions) (*Tables, error) {
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, opts)
	if err != nil {
		return nil, err
	}
	return &Tables{
		service:   svc,
		userTable: svc.NewClient(usersTable),
		taskTable: svc.NewClient(tasksTable),
		names:     []string{usersTable, tasksTable},
		now:       time.Now,
	}, nil
}

// EnsureTables creates the user and task tables when they do not exist yet.
func (s *Tables) EnsureTables(ctx context.Context) error {
	return CreateTables(ctx, s.service, s.names...)
}

// CreateTables creates each named table, ignoring tables that already exist.
func CreateTables(ctx context.Context, svc *aztables.ServiceClient, names ...string) error {
	for _, name := range names {
		if name == "" {
			continue
		}
		if _, err := svc.NewClient(name).CreateTable(ctx, nil); err != nil {
			var respErr *azcore.ResponseError
			if !(errors.As(err, &respErr) && respErr.ErrorCode == string(aztables.TableAlreadyExists)) {
				return fmt.Errorf("create table %s: %w", name, err)
			}
		}
	}
	return nil
}

// entityKeys are the table keys written with every entity. The service-owned
// Timestamp property is deliberately absent.
type entityKeys struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

const edmDateTime = "Edm.DateTime"

type userEntity struct {
	entityKeys
	Email         string    `json:"Email"`
	PasswordHash  string    `json:"PasswordHash"`
	CreatedAt     time.Time `json:"CreatedAt"`
	CreatedAtType string    `json:"CreatedAt@odata.type,omitempty"`
	UpdatedAt     time.Time `json:"UpdatedAt"`
	UpdatedAtType string    `json:"UpdatedAt@odata.type,omitempty"`
}

func (e userEntity) user() domain.User {
	return domain.User{
		ID:           e.RowKey,
		Email:        e.Email,
		PasswordHash: e.PasswordHash,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
}

type taskEntity struct {
	entityKeys
	Title         string    `json:"Title"`
	Description   string    `json:"Description"`
	Completed     bool      `json:"Completed"`
	CreatedAt     time.Time `json:"CreatedAt"`
	CreatedAtType string    `json:"CreatedAt@odata.type,omitempty"`
	UpdatedAt     time.Time `json:"UpdatedAt"`
	UpdatedAtType string    `json:"UpdatedAt@odata.type,omitempty"`
}

func newTaskEntity(t domain.Task) taskEntity {
	return taskEntity{
		entityKeys:    entityKeys{PartitionKey: t.Owner, RowKey: t.ID},
		Title:         t.Title,
		Description:   t.Description,
		Completed:     t.Completed,
		CreatedAt:     t.CreatedAt,
		CreatedAtType: edmDateTime,
		UpdatedAt:     t.UpdatedAt,
		UpdatedAtType: edmDateTime,
	}
}

func (e taskEntity) task() domain.Task {
	return domain.Task{
		ID:          e.RowKey,
		Owner:       e.PartitionKey,
		Title:       e.Title,
		Description: e.Description,
		Completed:   e.Completed,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

// emailClaim reserves an address inside the user partition. It is written in
// the same transaction as the user so two registrations for one address
// cannot both commit.
type emailClaim struct {
	entityKeys
	UserID string `json:"UserID"`
}

func emailClaimKey(email string) string {
	sum := sha256.Sum256([]byte(email))
	return "email-" + hex.EncodeToString(sum[:])
}

func (s *Tables) CreateUser(ctx context.Context, u *domain.User) error {
	now := s.now().UTC()
	u.CreatedAt, u.UpdatedAt = now, now
	ent := userEntity{
		entityKeys:    entityKeys{PartitionKey: userPartition, RowKey: u.ID},
		Email:         u.Email,
		PasswordHash:  u.PasswordHash,
		CreatedAt:     u.CreatedAt,
		CreatedAtType: edmDateTime,
		UpdatedAt:     u.UpdatedAt,
		UpdatedAtType: edmDateTime,
	}
	payload, err := json.Marshal(ent)
	if err != nil {
		return err
	}
	claim, err := json.Marshal(emailClaim{
		entityKeys: entityKeys{PartitionKey: userPartition, RowKey: emailClaimKey(u.Email)},
		UserID:     u.ID,
	})
	if err != nil {
		return err
	}
	actions := []aztables.TransactionAction{
		{ActionType: aztables.TransactionTypeAdd, Entity: claim},
		{ActionType: aztables.TransactionTypeAdd, Entity: payload},
	}
	if _, err := s.userTable.SubmitTransaction(ctx, actions, nil); err != nil {
		return translateTransaction(err)
	}
	return nil
}

func (s *Tables) FindUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	filter := "PartitionKey eq " + quote(userPartition) + " and Email eq " + quote(email)
	top := int32(1)
	pager := s.userTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter, Top: &top})
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, translate(err)
		}
		for _, raw := range resp.Entities {
			var ent userEntity
			if err := json.Unmarshal(raw, &ent); err != nil {
				return nil, err
			}
			u := ent.user()
			return &u, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (s *Tables) DeleteUser(ctx context.Context, id string) (*domain.User, error) {
	resp, err := s.userTable.GetEntity(ctx, userPartition, id, nil)
	if err != nil {
		return nil, translate(err)
	}
	var ent userEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return nil, err
	}
	userKeys, err := json.Marshal(entityKeys{PartitionKey: userPartition, RowKey: id})
	if err != nil {
		return nil, err
	}
	claimKeys, err := json.Marshal(entityKeys{PartitionKey: userPartition, RowKey: emailClaimKey(ent.Email)})
	if err != nil {
		return nil, err
	}
	etag := resp.ETag
	actions := []aztables.TransactionAction{
		{ActionType: aztables.TransactionTypeDelete, Entity: userKeys, IfMatch: &etag},
		{ActionType: aztables.TransactionTypeDelete, Entity: claimKeys},
	}
	if _, err := s.userTable.SubmitTransaction(ctx, actions, nil); err != nil {
		return nil, translateTransaction(err)
	}
	u := ent.user()
	return &u, nil
}

func (s *Tables) CreateTask(ctx context.Context, t *domain.Task) error {
	now := s.now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	payload, err := json.Marshal(newTaskEntity(*t))
	if err != nil {
		return err
	}
	if _, err := s.taskTable.AddEntity(ctx, payload, nil); err != nil {
		return translate(err)
	}
	return nil
}

// FindTasks returns every task in the owner's partition ordered by row key,
// which for time-ordered ids is insertion order.
func (s *Tables) FindTasks(ctx context.Context, owner string) ([]domain.Task, error) {
	filter := "PartitionKey eq " + quote(owner)
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, translate(err)
		}
		for _, raw := range resp.Entities {
			var ent taskEntity
			if err := json.Unmarshal(raw, &ent); err != nil {
				return nil, err
			}
			tasks = append(tasks, ent.task())
		}
	}
	return tasks, nil
}

func (s *Tables) FindTask(ctx context.Context, id, owner string) (*domain.Task, error) {
	ent, _, err := s.getTask(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	t := ent.task()
	return &t, nil
}

// UpdateTask merges patch into the task with the given id whatever its owner.
// Concurrent merges are last-writer-wins per property.
func (s *Tables) UpdateTask(ctx context.Context, id string, patch domain.TaskPatch) (*domain.Task, error) {
	filter := "RowKey eq " + quote(id)
	top := int32(1)
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter, Top: &top})
	var found *taskEntity
	for pager.More() && found == nil {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, translate(err)
		}
		if len(resp.Entities) > 0 {
			var ent taskEntity
			if err := json.Unmarshal(resp.Entities[0], &ent); err != nil {
				return nil, err
			}
			found = &ent
		}
	}
	if found == nil {
		return nil, domain.ErrNotFound
	}

	t := found.task()
	patch.Apply(&t, s.now().UTC())
	payload, err := json.Marshal(mergeFields(t, patch))
	if err != nil {
		return nil, err
	}
	etag := azcore.ETagAny
	_, err = s.taskTable.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &etag, UpdateMode: aztables.UpdateModeMerge})
	if err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

func (s *Tables) DeleteTask(ctx context.Context, id, owner string) (*domain.Task, error) {
	ent, etag, err := s.getTask(ctx, owner, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.taskTable.DeleteEntity(ctx, owner, id, &aztables.DeleteEntityOptions{IfMatch: &etag}); err != nil {
		return nil, translate(err)
	}
	t := ent.task()
	return &t, nil
}

func (s *Tables) getTask(ctx context.Context, owner, id string) (taskEntity, azcore.ETag, error) {
	resp, err := s.taskTable.GetEntity(ctx, owner, id, nil)
	if err != nil {
		return taskEntity{}, "", translate(err)
	}
	var ent taskEntity
	if err := json.Unmarshal(resp.Value, &ent); err != nil {
		return taskEntity{}, "", err
	}
	return ent, resp.ETag, nil
}

// mergeFields builds the merge payload carrying only the patched properties.
func mergeFields(t domain.Task, patch domain.TaskPatch) map[string]any {
	fields := map[string]any{
		"PartitionKey":         t.Owner,
		"RowKey":               t.ID,
		"UpdatedAt":            t.UpdatedAt,
		"UpdatedAt@odata.type": edmDateTime,
	}
	if patch.Title != nil {
		fields["Title"] = t.Title
	}
	if patch.Description != nil {
		fields["Description"] = t.Description
	}
	if patch.Completed != nil {
		fields["Completed"] = t.Completed
	}
	return fields
}

// quote renders s as an OData string literal.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func translate(err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) {
		switch respErr.StatusCode {
		case 404:
			return fmt.Errorf("%w: %s", domain.ErrNotFound, respErr.ErrorCode)
		case 409:
			return fmt.Errorf("%w: %s", domain.ErrConflict, respErr.ErrorCode)
		}
	}
	return err
}

// translateTransaction classifies a failed batch. The service reports a
// failed operation inside an accepted batch, so the error may carry the outer
// 202 with the real status only in the multipart body.
func translateTransaction(err error) error {
	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) {
		return err
	}
	if respErr.StatusCode == 202 && respErr.RawResponse != nil {
		body, _ := runtime.Payload(respErr.RawResponse)
		switch {
		case strings.Contains(string(body), string(aztables.EntityAlreadyExists)), strings.Contains(string(body), " 409 "):
			return fmt.Errorf("%w: %s", domain.ErrConflict, aztables.EntityAlreadyExists)
		case strings.Contains(string(body), string(aztables.ResourceNotFound)), strings.Contains(string(body), " 404 "):
			return fmt.Errorf("%w: %s", domain.ErrNotFound, aztables.ResourceNotFound)
		}
	}
	if respErr.ErrorCode == string(aztables.EntityAlreadyExists) {
		return fmt.Errorf("%w: %s", domain.ErrConflict, respErr.ErrorCode)
	}
	return translate(err)
}
