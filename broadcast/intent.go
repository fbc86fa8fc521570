package broadcast

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/bytedance/sonic"

	"taskhub-api/domain"
)

var (
	// ErrUnknownIntent is returned for intent names the channel does not accept.
	ErrUnknownIntent  = errors.New("unknown intent")
	ErrInvalidPayload = errors.New("intent payload is not valid json")
)

// HandleIntent answers a client-originated intent. Intents are echoed back to
// all subscribers under the matching event name and never reach the task store.
func HandleIntent(ctx context.Context, pub Publisher, intent string, body []byte) error {
	if len(body) > 0 && !sonic.Valid(body) {
		return ErrInvalidPayload
	}
	switch intent {
	case domain.IntentCreateTask:
		pub.Publish(ctx, domain.TaskCreated, json.RawMessage(body))
	case domain.IntentUpdateTask:
		pub.Publish(ctx, domain.TaskUpdated, json.RawMessage(body))
	case domain.IntentDeleteTask:
		pub.Publish(ctx, domain.TaskDeleted, json.RawMessage(body))
	case domain.IntentGetTasks:
		pub.Publish(ctx, domain.TasksList, []domain.Task{})
	default:
		return ErrUnknownIntent
	}
	return nil
}
