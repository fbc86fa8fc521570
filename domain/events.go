package domain

// Server-to-client event names.
const (
	TaskCreated   = "taskCreated"
	TaskUpdated   = "taskUpdated"
	TaskDeleted   = "taskDeleted"
	TaskRetrieved = "taskRetrieved"
	TasksList     = "tasksList"
)

// Client-to-server intent names accepted on the real-time channel.
const (
	IntentCreateTask = "createTask"
	IntentUpdateTask = "updateTask"
	IntentDeleteTask = "deleteTask"
	IntentGetTasks   = "getTasks"
)
