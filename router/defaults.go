package router

// DefaultModel is the fallback returned when no available model meets a
// task's requirements.
const DefaultModel = "gpt-4o-mini"

// DefaultProfiles returns the built-in model performance table. Scores come
// from offline benchmark runs; callers override the table through Options
// when they maintain their own benchmarks.
func DefaultProfiles() map[string]Profile {
	return map[string]Profile{
		"gpt-4o": {
			Quality: 88, Speed: 55, ContextLength: 128000, Tier: TierFrontier,
			TaskScores: map[TaskType]int{
				TaskChat: 90, TaskReasoning: 85, TaskCreative: 82,
				TaskSummarize: 86, TaskToolUse: 92, TaskInstruction: 88,
			},
			Strengths: []TaskType{TaskToolUse, TaskChat},
		},
		"gpt-4o-mini": {
			Quality: 72, Speed: 85, ContextLength: 128000, Tier: TierSmall,
			TaskScores: map[TaskType]int{
				TaskChat: 78, TaskReasoning: 62, TaskCreative: 60,
				TaskSummarize: 74, TaskToolUse: 80, TaskInstruction: 72,
			},
			Strengths:  []TaskType{TaskToolUse},
			Weaknesses: []TaskType{TaskCreative},
		},
		"o3-mini": {
			Quality: 84, Speed: 45, ContextLength: 200000, Tier: TierMedium,
			TaskScores: map[TaskType]int{
				TaskChat: 70, TaskReasoning: 95, TaskCreative: 55,
				TaskSummarize: 72, TaskToolUse: 75, TaskInstruction: 80,
			},
			Strengths:  []TaskType{TaskReasoning},
			Weaknesses: []TaskType{TaskCreative, TaskChat},
		},
		"claude-3-7-sonnet": {
			Quality: 90, Speed: 50, ContextLength: 200000, Tier: TierFrontier,
			TaskScores: map[TaskType]int{
				TaskChat: 88, TaskReasoning: 92, TaskCreative: 90,
				TaskSummarize: 88, TaskToolUse: 90, TaskInstruction: 90,
			},
			Strengths: []TaskType{TaskReasoning, TaskCreative},
		},
		"claude-3-5-haiku": {
			Quality: 70, Speed: 90, ContextLength: 200000, Tier: TierSmall,
			TaskScores: map[TaskType]int{
				TaskChat: 80, TaskReasoning: 58, TaskCreative: 64,
				TaskSummarize: 78, TaskToolUse: 72, TaskInstruction: 70,
			},
			Strengths:  []TaskType{TaskChat, TaskSummarize},
			Weaknesses: []TaskType{TaskReasoning},
		},
		"llama-3.1-8b": {
			Quality: 58, Speed: 95, ContextLength: 131072, Tier: TierSmall,
			TaskScores: map[TaskType]int{
				TaskChat: 68, TaskReasoning: 45, TaskCreative: 55,
				TaskSummarize: 60, TaskToolUse: 48, TaskInstruction: 62,
			},
			Strengths:  []TaskType{TaskChat},
			Weaknesses: []TaskType{TaskReasoning, TaskToolUse},
		},
		"qwen2.5-14b": {
			Quality: 66, Speed: 75, ContextLength: 131072, Tier: TierMedium,
			TaskScores: map[TaskType]int{
				TaskChat: 70, TaskReasoning: 60, TaskCreative: 58,
				TaskSummarize: 68, TaskToolUse: 64, TaskInstruction: 74,
			},
			Strengths: []TaskType{TaskInstruction},
		},
		"mistral-small": {
			Quality: 64, Speed: 80, ContextLength: 32000, Tier: TierMedium,
			TaskScores: map[TaskType]int{
				TaskChat: 70, TaskReasoning: 55, TaskCreative: 62,
				TaskSummarize: 72, TaskToolUse: 58, TaskInstruction: 66,
			},
			Strengths:  []TaskType{TaskSummarize},
			Weaknesses: []TaskType{TaskReasoning},
		},
	}
}

// DefaultBestByTask returns the precomputed winner per task type, derived
// from the same benchmark runs as DefaultProfiles.
func DefaultBestByTask() map[TaskType]string {
	return map[TaskType]string{
		TaskChat:        "gpt-4o",
		TaskReasoning:   "o3-mini",
		TaskCreative:    "claude-3-7-sonnet",
		TaskSummarize:   "claude-3-7-sonnet",
		TaskToolUse:     "gpt-4o",
		TaskInstruction: "claude-3-7-sonnet",
	}
}

// DefaultTaskSpecs returns the per-task requirements used for candidate
// filtering and tier matching.
func DefaultTaskSpecs() map[TaskType]TaskSpec {
	return map[TaskType]TaskSpec{
		TaskChat:        {PreferredTier: TierSmall, MinQuality: 40, MinTaskScore: 40},
		TaskReasoning:   {PreferredTier: TierFrontier, MinQuality: 70, MinTaskScore: 60},
		TaskCreative:    {PreferredTier: TierFrontier, MinQuality: 65, MinTaskScore: 55},
		TaskSummarize:   {PreferredTier: TierMedium, MinQuality: 50, MinTaskScore: 50},
		TaskToolUse:     {PreferredTier: TierMedium, MinQuality: 60, MinTaskScore: 60},
		TaskInstruction: {PreferredTier: TierMedium, MinQuality: 55, MinTaskScore: 50},
	}
}
