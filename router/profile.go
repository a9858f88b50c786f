package router

// TaskType classifies the intent of one conversational turn.
type TaskType string

const (
	TaskChat        TaskType = "chat"
	TaskReasoning   TaskType = "reasoning"
	TaskCreative    TaskType = "creative"
	TaskSummarize   TaskType = "summarize"
	TaskToolUse     TaskType = "tool_use"
	TaskInstruction TaskType = "instruction"
)

// Tier buckets models by weight class.
type Tier string

const (
	TierSmall    Tier = "small"
	TierMedium   Tier = "medium"
	TierLarge    Tier = "large"
	TierFrontier Tier = "frontier"
)

// Profile holds the static benchmark scores of one model. Scores are on a
// 0-100 scale; TaskScores carries per-task results where benchmarks exist.
// Profiles are read-only at runtime; which models are actually loaded comes
// from the availability list passed to SelectModel.
type Profile struct {
	Quality       int              `json:"quality"`
	Speed         int              `json:"speed"`
	TaskScores    map[TaskType]int `json:"task_scores,omitempty"`
	Strengths     []TaskType       `json:"strengths,omitempty"`
	Weaknesses    []TaskType       `json:"weaknesses,omitempty"`
	ContextLength int              `json:"context_length"`
	Tier          Tier             `json:"tier"`
}

// TaskScore returns the profile's benchmark score for task, zero when the
// task was never benchmarked.
func (p Profile) TaskScore(task TaskType) int {
	return p.TaskScores[task]
}

// hasTask reports whether task appears in the given list.
func hasTask(list []TaskType, task TaskType) bool {
	for _, t := range list {
		if t == task {
			return true
		}
	}
	return false
}

// TaskSpec states what a task type wants from a serving model.
type TaskSpec struct {
	PreferredTier Tier `json:"preferred_tier,omitempty"`
	MinQuality    int  `json:"min_quality"`
	MinTaskScore  int  `json:"min_task_score"`
}
