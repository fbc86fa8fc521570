package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"taskhub-api/broadcast"
	"taskhub-api/domain"
)

const (
	msgNoSuchTask    = "No such task"
	msgTaskNotFound  = "Task not found"
	msgNoTasks       = "No tasks found"
	msgTitleRequired = "Title is required"
	msgNoOwner       = "missing task owner"
)

// TaskService runs the task operations for an authenticated owner and
// announces each successful operation on the publisher.
type TaskService struct {
	store  TaskStore
	pub    broadcast.Publisher
	logger *log.Logger
}

// NewTaskService wires a TaskService. The publisher must already be running;
// a nil publisher is a configuration error.
func NewTaskService(store TaskStore, pub broadcast.Publisher, logger *log.Logger) *TaskService {
	if store == nil {
		panic("service.NewTaskService: store is nil")
	}
	if pub == nil {
		panic("service.NewTaskService: publisher is nil")
	}
	if logger == nil {
		panic("service.NewTaskService: logger is nil")
	}
	return &TaskService{store: store, pub: pub, logger: logger}
}

// Create stores a new task for owner and publishes taskCreated.
func (s *TaskService) Create(ctx context.Context, owner string, in domain.TaskInput) (*domain.Task, error) {
	if owner == "" {
		return nil, domain.NewError(domain.ErrUnauthorized, msgNoOwner)
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, domain.NewError(domain.ErrValidation, msgTitleRequired)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate task id: %w", err)
	}
	task := &domain.Task{
		ID:          id.String(),
		Owner:       owner,
		Title:       in.Title,
		Description: in.Description,
		Completed:   in.Completed != nil && *in.Completed,
	}
	if err := s.store.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	s.pub.Publish(ctx, domain.TaskCreated, task)
	return task, nil
}

// List returns all of owner's tasks. Having no tasks is reported as not found.
func (s *TaskService) List(ctx context.Context, owner string) ([]domain.Task, error) {
	if owner == "" {
		return nil, domain.NewError(domain.ErrUnauthorized, msgNoOwner)
	}
	tasks, err := s.store.FindTasks(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("find tasks: %w", err)
	}
	if len(tasks) == 0 {
		return nil, domain.NewError(domain.ErrNotFound, msgNoTasks)
	}
	s.pub.Publish(ctx, domain.TaskRetrieved, tasks)
	return tasks, nil
}

// Get returns owner's task with the given id.
func (s *TaskService) Get(ctx context.Context, owner, id string) (*domain.Task, error) {
	if owner == "" {
		return nil, domain.NewError(domain.ErrUnauthorized, msgNoOwner)
	}
	if !validTaskID(id) {
		return nil, domain.NewError(domain.ErrValidation, msgNoSuchTask)
	}
	task, err := s.store.FindTask(ctx, id, owner)
	if err != nil {
		return nil, notFoundOr(err, msgNoSuchTask, "find task")
	}
	s.pub.Publish(ctx, domain.TaskRetrieved, task)
	return task, nil
}

// Update merges patch into the task with the given id. The store lookup is by
// id alone, so the task need not belong to owner.
func (s *TaskService) Update(ctx context.Context, owner, id string, patch domain.TaskPatch) (*domain.Task, error) {
	if owner == "" {
		return nil, domain.NewError(domain.ErrUnauthorized, msgNoOwner)
	}
	if !validTaskID(id) {
		return nil, domain.NewError(domain.ErrValidation, msgNoSuchTask)
	}
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return nil, domain.NewError(domain.ErrValidation, msgTitleRequired)
	}
	task, err := s.store.UpdateTask(ctx, id, patch)
	if err != nil {
		return nil, notFoundOr(err, msgTaskNotFound, "update task")
	}
	if task.Owner != owner {
		s.logger.WithFields(log.Fields{"task_id": id, "owner": task.Owner, "caller": owner}).Warn("task updated by non-owner")
	}
	s.pub.Publish(ctx, domain.TaskUpdated, task)
	return task, nil
}

// Delete removes owner's task with the given id and publishes its id.
func (s *TaskService) Delete(ctx context.Context, owner, id string) (*domain.Task, error) {
	if owner == "" {
		return nil, domain.NewError(domain.ErrUnauthorized, msgNoOwner)
	}
	if !validTaskID(id) {
		return nil, domain.NewError(domain.ErrValidation, msgNoSuchTask)
	}
	task, err := s.store.DeleteTask(ctx, id, owner)
	if err != nil {
		return nil, notFoundOr(err, msgTaskNotFound, "delete task")
	}
	s.pub.Publish(ctx, domain.TaskDeleted, id)
	return task, nil
}

// validTaskID accepts canonical hyphenated UUIDs only.
func validTaskID(id string) bool {
	if len(id) != 36 {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}

func notFoundOr(err error, message, op string) error {
	if errors.Is(err, domain.ErrNotFound) {
		return domain.WrapError(domain.ErrNotFound, message, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
