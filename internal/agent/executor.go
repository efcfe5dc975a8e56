package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/ShayCichocki/hive/internal/llm"
	"github.com/ShayCichocki/hive/pkg/models"
)

// Executor performs the actual work of a task inside a checkout. The
// worker harness owns the protocol around it; implementations own the
// semantics. workdir is the worktree path, empty when the worker runs
// without a worktree manager.
type Executor interface {
	Execute(ctx context.Context, task *models.Task, workdir string) (*models.TaskResult, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, task *models.Task, workdir string) (*models.TaskResult, error)

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, task *models.Task, workdir string) (*models.TaskResult, error) {
	return f(ctx, task, workdir)
}

// LLMExecutor is the default executor: it renders the task into a chat
// prompt for the configured role and returns the model reply as the
// task output. It produces no artifacts; code-producing executors wrap
// this with tool use.
type LLMExecutor struct {
	client *llm.Client
	role   models.AgentRole
	usage  func(prompt, completion int64)
}

// NewLLMExecutor builds an executor over an Anthropic client. The usage
// callback, when set, receives token counts per execution.
func NewLLMExecutor(client *llm.Client, role models.AgentRole, usage func(prompt, completion int64)) *LLMExecutor {
	return &LLMExecutor{client: client, role: role, usage: usage}
}

// Execute sends the task prompt and wraps the reply in a result.
func (e *LLMExecutor) Execute(ctx context.Context, task *models.Task, workdir string) (*models.TaskResult, error) {
	resp, err := e.client.Complete(ctx, llm.Request{
		System:   rolePrompt(e.role),
		Messages: []models.ChatMessage{{Role: models.ChatRoleUser, Content: taskPrompt(task, workdir)}},
	})
	if err != nil {
		return nil, err
	}
	if e.usage != nil {
		e.usage(resp.Usage.Prompt, resp.Usage.Completion)
	}
	return &models.TaskResult{
		TaskID:  task.ID,
		Success: true,
		Output:  resp.Text,
	}, nil
}

func rolePrompt(role models.AgentRole) string {
	return fmt.Sprintf("You are a %s agent on a software team. Complete the assigned task and report concretely what you did.", role)
}

// taskPrompt renders the task the way the orchestrator's context
// validator models it: name, description, requirements, then string
// context values.
func taskPrompt(task *models.Task, workdir string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n\n%s\n", task.Name, task.Description)
	if workdir != "" {
		fmt.Fprintf(&b, "\nWorking directory: %s\n", workdir)
	}
	if len(task.Requirements) > 0 {
		b.WriteString("\nRequirements:\n")
		for _, req := range task.Requirements {
			fmt.Fprintf(&b, "- %s\n", req)
		}
	}
	for key, v := range task.Context {
		if s, ok := v.(string); ok {
			fmt.Fprintf(&b, "\n%s:\n%s\n", key, s)
		}
	}
	return b.String()
}
