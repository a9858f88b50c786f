package router

import (
	"sort"
	"strings"

	"github.com/hupe1980/toolmesh/logging"
)

// Scoring weights. Task fit dominates, raw quality comes second, and speed
// only counts when the caller asks for it, capped so a fast weak model
// cannot outscore a strong one.
const (
	taskScoreWeight = 2
	strengthBonus   = 15
	weaknessPenalty = 15
	speedCap        = 50
	tierMatchBonus  = 10
)

// Options configures a Router.
type Options struct {
	// Profiles maps model names to benchmark profiles. Defaults to
	// DefaultProfiles.
	Profiles map[string]Profile

	// BestByTask maps each task type to its precomputed benchmark winner.
	// Defaults to DefaultBestByTask.
	BestByTask map[TaskType]string

	// TaskSpecs holds per-task requirements. Defaults to DefaultTaskSpecs.
	TaskSpecs map[TaskType]TaskSpec

	// DefaultModel is returned when no available model qualifies.
	// Defaults to DefaultModel.
	DefaultModel string

	// Logger receives selection events. Defaults to a no-op logger.
	Logger logging.Logger
}

// SelectOptions tunes a single selection call.
type SelectOptions struct {
	// PreferSpeed adds each candidate's speed score (capped) to its total,
	// favoring low-latency models among those that qualify.
	PreferSpeed bool

	// MinContext excludes models whose context window is smaller than this
	// many tokens. Zero means no context requirement.
	MinContext int

	// Disabled excludes specific models from this selection even when they
	// appear in the available list.
	Disabled []string
}

// Selection describes the outcome of a routing decision.
type Selection struct {
	// Model is the chosen model name. Always non-empty.
	Model string `json:"model"`

	// Profile is the chosen model's benchmark profile. Zero-valued when the
	// router fell back to a model it has no profile for.
	Profile Profile `json:"profile"`

	// TaskType is the task the selection was made for.
	TaskType TaskType `json:"task_type"`

	// Reason explains the decision in one human-readable sentence.
	Reason string `json:"reason"`

	// RunnersUp lists up to three qualifying models that scored below the
	// winner, best first.
	RunnersUp []string `json:"runners_up,omitempty"`

	// Fallback reports whether the router returned the default model
	// because nothing available met the task requirements.
	Fallback bool `json:"fallback"`
}

// Router picks the best model for a task from the models currently
// available.
//
// Contract:
//   - SelectModel is pure with respect to router state: it never mutates the
//     tables, so a single Router is safe for concurrent use.
//   - Identical inputs produce identical selections. Candidates are walked
//     in sorted name order and ties keep the earlier name.
//   - SelectModel always returns a usable model name: when no candidate
//     qualifies it falls back to the configured default.
type Router struct {
	profiles     map[string]Profile
	bestByTask   map[TaskType]string
	taskSpecs    map[TaskType]TaskSpec
	defaultModel string
	logger       logging.Logger
}

// New creates a Router with the given options.
func New(optFns ...func(o *Options)) *Router {
	opts := Options{
		Profiles:     DefaultProfiles(),
		BestByTask:   DefaultBestByTask(),
		TaskSpecs:    DefaultTaskSpecs(),
		DefaultModel: DefaultModel,
		Logger:       logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Router{
		profiles:     opts.Profiles,
		bestByTask:   opts.BestByTask,
		taskSpecs:    opts.TaskSpecs,
		defaultModel: opts.DefaultModel,
		logger:       opts.Logger,
	}
}

// SelectModel chooses a model for the given task from the available names.
// Unknown names are ignored, so callers can pass their raw pool without
// filtering it against the profile table first.
func (r *Router) SelectModel(available []string, task TaskType, optFns ...func(o *SelectOptions)) Selection {
	var opts SelectOptions
	for _, fn := range optFns {
		fn(&opts)
	}

	spec := r.taskSpecs[task]
	pool := r.eligible(available, opts)

	// Fast path: the benchmark winner for this task is available and
	// eligible, no scoring needed.
	if best, ok := r.bestByTask[task]; ok {
		if _, in := pool[best]; in {
			sel := Selection{
				Model:    best,
				Profile:  r.profiles[best],
				TaskType: task,
				Reason:   "benchmark best for task " + string(task),
			}
			r.logSelection(sel, opts)
			return sel
		}
	}

	candidates := r.qualify(pool, task, spec)
	if len(candidates) == 0 {
		sel := Selection{
			Model:    r.defaultModel,
			Profile:  r.profiles[r.defaultModel],
			TaskType: task,
			Reason:   "no available model met requirements for task " + string(task) + ", using default",
			Fallback: true,
		}
		r.logSelection(sel, opts)
		return sel
	}

	ranked := r.rank(candidates, task, spec, opts)
	winner := ranked[0]

	sel := Selection{
		Model:    winner.name,
		Profile:  r.profiles[winner.name],
		TaskType: task,
		Reason:   "highest scoring candidate for task " + string(task),
	}
	for _, ru := range ranked[1:] {
		sel.RunnersUp = append(sel.RunnersUp, ru.name)
		if len(sel.RunnersUp) == 3 {
			break
		}
	}
	r.logSelection(sel, opts)

	return sel
}

// eligible dedupes the available list and drops disabled or unknown models.
func (r *Router) eligible(available []string, opts SelectOptions) map[string]Profile {
	disabled := make(map[string]struct{}, len(opts.Disabled))
	for _, name := range opts.Disabled {
		disabled[name] = struct{}{}
	}

	pool := make(map[string]Profile, len(available))
	for _, name := range available {
		if _, off := disabled[name]; off {
			continue
		}

		profile, known := r.profiles[name]
		if !known {
			continue
		}

		if opts.MinContext > 0 && profile.ContextLength < opts.MinContext {
			continue
		}

		pool[name] = profile
	}

	return pool
}

// qualify filters the pool down to models meeting the task's thresholds,
// returned in sorted name order.
func (r *Router) qualify(pool map[string]Profile, task TaskType, spec TaskSpec) []string {
	names := make([]string, 0, len(pool))
	for name := range pool {
		names = append(names, name)
	}

	sort.Strings(names)

	candidates := names[:0]
	for _, name := range names {
		profile := pool[name]
		if profile.Quality < spec.MinQuality {
			continue
		}

		if profile.TaskScore(task) < spec.MinTaskScore {
			continue
		}

		candidates = append(candidates, name)
	}

	return candidates
}

type scored struct {
	name  string
	score int
}

// rank scores each candidate and returns them best first. Candidates arrive
// in sorted name order and the sort is stable, so equal scores keep that
// order and the result is deterministic.
func (r *Router) rank(candidates []string, task TaskType, spec TaskSpec, opts SelectOptions) []scored {
	ranked := make([]scored, 0, len(candidates))
	for _, name := range candidates {
		ranked = append(ranked, scored{name: name, score: r.score(r.profiles[name], task, spec, opts)})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	return ranked
}

func (r *Router) score(profile Profile, task TaskType, spec TaskSpec, opts SelectOptions) int {
	score := taskScoreWeight*profile.TaskScore(task) + profile.Quality

	if opts.PreferSpeed {
		score += min(profile.Speed, speedCap)
	}

	if hasTask(profile.Strengths, task) {
		score += strengthBonus
	}

	if hasTask(profile.Weaknesses, task) {
		score -= weaknessPenalty
	}

	if spec.PreferredTier != "" && profile.Tier == spec.PreferredTier {
		score += tierMatchBonus
	}

	return score
}

func (r *Router) logSelection(sel Selection, opts SelectOptions) {
	r.logger.Debug("router.selected",
		"model", sel.Model,
		"task", string(sel.TaskType),
		"reason", sel.Reason,
		"fallback", sel.Fallback,
		"prefer_speed", opts.PreferSpeed,
	)
}

// taskKeywords maps trigger phrases to task types. Order matters: earlier
// rows win when a prompt matches several, so the more specific intents come
// before the generic ones.
var taskKeywords = []struct {
	task     TaskType
	keywords []string
}{
	{TaskCreative, []string{"write a story", "write a poem", "poem", "fiction", "creative", "imagine", "brainstorm"}},
	{TaskReasoning, []string{"why", "explain", "analyze", "prove", "step by step", "reason", "logic", "solve", "calculate"}},
	{TaskSummarize, []string{"summarize", "summary", "tl;dr", "condense", "shorten", "key points"}},
	{TaskToolUse, []string{"search", "look up", "fetch", "weather", "run the", "call the", "use the tool"}},
	{TaskInstruction, []string{"translate", "convert", "rewrite", "format", "extract", "classify", "list the"}},
}

// DetectTaskType classifies a prompt by keyword matching. Prompts matching
// nothing are treated as plain chat.
func DetectTaskType(prompt string) TaskType {
	lowered := strings.ToLower(prompt)
	for _, row := range taskKeywords {
		for _, kw := range row.keywords {
			if strings.Contains(lowered, kw) {
				return row.task
			}
		}
	}

	return TaskChat
}
