package models

import "time"

// MessageType categorizes a message on the broker.
type MessageType string

const (
	// MessageTaskAssign carries a task assignment to an agent inbox.
	MessageTaskAssign MessageType = "task-assign"
	// MessageTaskResult carries a full task result envelope.
	MessageTaskResult MessageType = "task-result"
	// MessageTaskComplete announces a successful task completion.
	MessageTaskComplete MessageType = "task-complete"
	// MessageTaskFailed announces a failed task.
	MessageTaskFailed MessageType = "task-failed"
	// MessageTaskProgress carries incremental progress from an agent.
	MessageTaskProgress MessageType = "task-progress"
	// MessageAgentNotification carries a one-way note to an agent.
	MessageAgentNotification MessageType = "agent-notification"
	// MessageAgentStatus carries an agent heartbeat or status change.
	MessageAgentStatus MessageType = "agent-status"
	// MessageReflexionRequest asks an agent to critique a failed attempt.
	MessageReflexionRequest MessageType = "reflexion-request"
	// MessageReflexionResponse carries the critique back.
	MessageReflexionResponse MessageType = "reflexion-response"
	// MessageMemoryUpdate announces new or changed memory items.
	MessageMemoryUpdate MessageType = "memory-update"
	// MessageWorkflowEvent carries workflow lifecycle events.
	MessageWorkflowEvent MessageType = "workflow-event"
	// MessageSystem carries orchestrator control traffic.
	MessageSystem MessageType = "system"
	// MessageBroadcast is a fan-out message with no single recipient.
	MessageBroadcast MessageType = "broadcast"
)

// Valid returns true if the type is a known value.
func (m MessageType) Valid() bool {
	switch m {
	case MessageTaskAssign, MessageTaskResult, MessageTaskComplete,
		MessageTaskFailed, MessageTaskProgress, MessageAgentNotification,
		MessageAgentStatus, MessageReflexionRequest, MessageReflexionResponse,
		MessageMemoryUpdate, MessageWorkflowEvent, MessageSystem,
		MessageBroadcast:
		return true
	default:
		return false
	}
}

// MessagePriority orders messages for consumers that care. The broker
// itself delivers FIFO regardless of priority.
type MessagePriority int

const (
	// MessagePriorityLow is for background traffic.
	MessagePriorityLow MessagePriority = 1
	// MessagePriorityNormal is the default.
	MessagePriorityNormal MessagePriority = 5
	// MessagePriorityHigh is for traffic consumers should handle first.
	MessagePriorityHigh MessagePriority = 7
	// MessagePriorityUrgent is for control traffic.
	MessagePriorityUrgent MessagePriority = 10
)

// Valid returns true if the priority is a known value.
func (p MessagePriority) Valid() bool {
	switch p {
	case MessagePriorityLow, MessagePriorityNormal, MessagePriorityHigh, MessagePriorityUrgent:
		return true
	default:
		return false
	}
}

// ChannelType categorizes a broker channel.
type ChannelType string

const (
	// ChannelAgent is a per-agent inbox channel.
	ChannelAgent ChannelType = "agent"
	// ChannelProject carries project-scoped traffic.
	ChannelProject ChannelType = "project"
	// ChannelWorkflow carries workflow lifecycle traffic.
	ChannelWorkflow ChannelType = "workflow"
	// ChannelBroadcast fans out to every subscriber.
	ChannelBroadcast ChannelType = "broadcast"
	// ChannelSystem carries orchestrator control traffic and cannot be deleted.
	ChannelSystem ChannelType = "system"
	// ChannelNotifications carries operator-facing notices.
	ChannelNotifications ChannelType = "notifications"
)

// Valid returns true if the channel type is a known value.
func (c ChannelType) Valid() bool {
	switch c {
	case ChannelAgent, ChannelProject, ChannelWorkflow, ChannelBroadcast,
		ChannelSystem, ChannelNotifications:
		return true
	default:
		return false
	}
}

// AgentChannel returns the inbox channel name for an agent id.
func AgentChannel(agentID string) string {
	return "agent:" + agentID
}

// ResponseChannel returns the one-shot reply channel for a correlation id.
func ResponseChannel(correlationID string) string {
	return "response:" + correlationID
}

// ChannelInfo is a read-only snapshot of one broker channel.
type ChannelInfo struct {
	// Name is the channel's routing name.
	Name string `json:"name"`
	// Type categorizes the channel.
	Type ChannelType `json:"type"`
	// Subscribers is the number of active subscriptions.
	Subscribers int `json:"subscribers"`
	// Messages is the number of messages published to the channel.
	Messages int64 `json:"messages"`
}

// Message is the unit of communication on the broker.
type Message struct {
	// ID is the unique identifier for this message.
	ID string `json:"id"`
	// Type categorizes the message.
	Type MessageType `json:"type"`
	// Sender is the id of the component that published the message.
	Sender string `json:"sender"`
	// Recipient is the target agent id; empty means broadcast.
	Recipient string `json:"recipient,omitempty"`
	// Channel is the routing endpoint the message was published on.
	Channel string `json:"channel"`
	// Payload carries the message body.
	Payload map[string]interface{} `json:"payload,omitempty"`
	// Priority is metadata for consumers; delivery ignores it.
	Priority MessagePriority `json:"priority"`
	// CreatedAt is when the message was constructed.
	CreatedAt time.Time `json:"created_at"`
	// ExpiresAt drops the message at publish time once passed.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	// CorrelationID ties a response to its request.
	CorrelationID string `json:"correlation_id,omitempty"`
	// Metadata carries free-form routing hints.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Expired returns true if the message must not be delivered at the
// given instant.
func (m *Message) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && !m.ExpiresAt.After(now)
}
