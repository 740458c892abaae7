package domain

type TaskStage string

const (
	TaskStageCreated   TaskStage = "CREATED"
	TaskStageStarted   TaskStage = "STARTED"
	TaskStageFinished  TaskStage = "FINISHED"
	TaskStageFailed    TaskStage = "FAILED"
	TaskStageCancelled TaskStage = "CANCELLED"
)

// TaskInfo describes the execution mode and progress of a task document.
type TaskInfo struct {
	Stage TaskStage `json:"stage,omitempty"`

	// Direct requests that the creation response is deferred until the task
	// reaches a terminal stage.
	Direct bool `json:"isDirect,omitempty"`

	Failure *ErrorResponse `json:"failure,omitempty"`
}

// TaskState is the document body shared by all task-like services. Concrete
// tasks embed it and add their own fields.
type TaskState struct {
	DocumentSelfLink         string    `json:"documentSelfLink,omitempty"`
	DocumentExpirationMicros int64     `json:"documentExpirationTimeMicros,omitempty"`
	TaskInfo                 *TaskInfo `json:"taskInfo,omitempty"`
}

func IsTaskInProgress(info *TaskInfo) bool {
	if info == nil {
		return false
	}
	return info.Stage == TaskStageCreated || info.Stage == TaskStageStarted
}

func IsTaskFinished(info *TaskInfo) bool {
	if info == nil {
		return false
	}
	switch info.Stage {
	case TaskStageFinished, TaskStageFailed, TaskStageCancelled:
		return true
	default:
		return false
	}
}
