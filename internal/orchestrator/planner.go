package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/hive/internal/llm"
	"github.com/ShayCichocki/hive/pkg/models"
)

// Planner is the external planning collaborator that decomposes a goal
// into a structured task list. The default implementation wraps the
// Anthropic client; tests inject a canned one.
type Planner interface {
	Plan(ctx context.Context, prompt string) (string, error)
}

// LLMPlanner adapts the Anthropic client to the Planner interface and
// charges planner usage against the maestro budget.
type LLMPlanner struct {
	client *llm.Client
	usage  func(prompt, completion int64)
}

// NewLLMPlanner wraps an Anthropic client. The usage callback, when
// set, receives token counts for every planning call.
func NewLLMPlanner(client *llm.Client, usage func(prompt, completion int64)) *LLMPlanner {
	return &LLMPlanner{client: client, usage: usage}
}

// Plan sends the decomposition prompt and returns the raw model reply.
func (p *LLMPlanner) Plan(ctx context.Context, prompt string) (string, error) {
	resp, err := p.client.Complete(ctx, llm.Request{
		Messages: []models.ChatMessage{{Role: models.ChatRoleUser, Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	if p.usage != nil {
		p.usage(resp.Usage.Prompt, resp.Usage.Completion)
	}
	return resp.Text, nil
}

// decompositionPrompt asks the planner for a dependency-ordered task
// list. The reply must be a bare JSON array; prose around it is
// tolerated by the parser.
const decompositionPrompt = `Break this goal into tasks for a team of specialized agents. Each task should be sized for a single agent to complete.

Goal:
%s
%s
Return ONLY a JSON array of tasks with this exact structure (no other text):
[
  {
    "name": "Short task name",
    "description": "Detailed task description",
    "type": "one of: analyze, design, plan, research, implement, write-code, refactor, fix-bug, write-tests, run-tests, code-review, security-audit, deploy, document",
    "role": "optional target agent role, omit to derive from type",
    "priority": 5,
    "complexity": 3,
    "depends_on": ["name of a prerequisite task"],
    "requirements": ["specific, verifiable acceptance requirement"],
    "estimated_tokens": 20000
  }
]

Guidelines:
- Tasks should be as independent as possible to allow parallel execution
- Only add dependencies when task A must genuinely complete before task B
- List prerequisite tasks before the tasks that depend on them
- priority: 1 low, 5 normal, 8 high, 10 critical; complexity: 1-10
- Use [] for depends_on and requirements when empty`

// plannedTask is the JSON structure the planner returns per task.
type plannedTask struct {
	Name            string   `json:"name"`
	Description     string   `json:"description"`
	Type            string   `json:"type"`
	Role            string   `json:"role"`
	Priority        int      `json:"priority"`
	Complexity      int      `json:"complexity"`
	DependsOn       []string `json:"depends_on"`
	Requirements    []string `json:"requirements"`
	EstimatedTokens int64    `json:"estimated_tokens"`
}

// buildDecompositionPrompt renders the planning prompt with optional
// goal context appended as a JSON block.
func buildDecompositionPrompt(goal string, taskContext map[string]interface{}) string {
	contextBlock := "\n"
	if len(taskContext) > 0 {
		if raw, err := json.Marshal(taskContext); err == nil {
			contextBlock = fmt.Sprintf("\nContext:\n%s\n\n", raw)
		}
	}
	return fmt.Sprintf(decompositionPrompt, goal, contextBlock)
}

// parsePlannedTasks parses the planner reply into tasks. Tasks that
// fail to parse are skipped and logged; they never abort the whole
// decomposition. Dependency names are resolved to task ids; a task
// naming an unknown dependency is itself skipped.
func (o *Orchestrator) parsePlannedTasks(reply string) ([]*models.Task, error) {
	raw, err := llm.ExtractJSONArray(reply)
	if err != nil {
		return nil, fmt.Errorf("decomposition reply: %w", err)
	}

	var planned []plannedTask
	if err := json.Unmarshal([]byte(raw), &planned); err != nil {
		return nil, fmt.Errorf("decomposition reply: %w", err)
	}
	if len(planned) == 0 {
		return nil, fmt.Errorf("decomposition reply: empty task list")
	}

	now := time.Now()
	nameToID := make(map[string]string, len(planned))
	var tasks []*models.Task
	var kept []plannedTask
	for _, pt := range planned {
		task, err := o.taskFromPlanned(pt, now)
		if err != nil {
			o.logger.Log("[decompose] skipping task %q: %v", pt.Name, err)
			continue
		}
		nameToID[pt.Name] = task.ID
		tasks = append(tasks, task)
		kept = append(kept, pt)
	}

	// Resolve dependency names to ids. A task that names an unknown or
	// skipped dependency is dropped too; keeping it would either run it
	// too early or wedge it forever.
	resolved := tasks[:0]
	for i, task := range tasks {
		ok := true
		for _, depName := range kept[i].DependsOn {
			depID, found := nameToID[depName]
			if !found {
				o.logger.Log("[decompose] skipping task %q: unknown dependency %q", task.Name, depName)
				ok = false
				break
			}
			task.DependsOn = append(task.DependsOn, depID)
		}
		if ok {
			resolved = append(resolved, task)
		}
	}
	if len(resolved) == 0 {
		return nil, fmt.Errorf("decomposition reply: no parseable tasks")
	}
	return resolved, nil
}

// taskFromPlanned validates one planned task and converts it.
func (o *Orchestrator) taskFromPlanned(pt plannedTask, now time.Time) (*models.Task, error) {
	if strings.TrimSpace(pt.Name) == "" {
		return nil, fmt.Errorf("missing name")
	}
	ttype := models.TaskType(pt.Type)
	if !ttype.Valid() {
		return nil, fmt.Errorf("unknown task type %q", pt.Type)
	}
	role := models.AgentRole(pt.Role)
	if pt.Role != "" && !role.Valid() {
		return nil, fmt.Errorf("unknown role %q", pt.Role)
	}

	complexity := pt.Complexity
	if complexity < 1 {
		complexity = 1
	} else if complexity > 10 {
		complexity = 10
	}

	return &models.Task{
		ID:              uuid.New().String(),
		Name:            pt.Name,
		Description:     pt.Description,
		Type:            ttype,
		TargetRole:      role,
		Priority:        priorityFromInt(pt.Priority),
		Complexity:      complexity,
		ProjectID:       o.projectID,
		Requirements:    pt.Requirements,
		TimeoutSeconds:  o.defaultTaskTimeout,
		MaxAttempts:     o.defaultMaxAttempts,
		EstimatedTokens: pt.EstimatedTokens,
		Status:          models.TaskStatusPending,
		CreatedAt:       now,
	}, nil
}

// priorityFromInt snaps a planner-supplied integer onto the priority
// scale. Out-of-range values become normal.
func priorityFromInt(p int) models.TaskPriority {
	switch {
	case p >= int(models.PriorityCritical):
		return models.PriorityCritical
	case p >= int(models.PriorityHigh):
		return models.PriorityHigh
	case p <= 0:
		return models.PriorityNormal
	case p <= int(models.PriorityLow):
		return models.PriorityLow
	default:
		return models.PriorityNormal
	}
}
