package cortex

import (
	"context"
	"fmt"
)

// Client is the root orchestrator (C6): the single entry point that wires
// storage, embedding, the LLM provider, belief revision, recall, and the
// reference graph into the two caller-facing operations, remember and
// recall. Construct one with New.
type Client struct {
	cfg clientConfig
}

// New builds a Client from the given options. WithStore is required; every
// other option has a usable default.
func New(opts ...Option) *Client {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Client{cfg: cfg}
}

// RememberRequest is the input to Client.Remember.
type RememberRequest struct {
	MemorySpaceID    string
	ConversationID   string
	UserID           string
	ParticipantID    string
	AgentID          string
	UserName         string // optional, used to build the enriched content string
	AgentName        string
	UserMessage      string
	AgentResponse    string
	Importance       int
	Tags             []string
	Metadata         map[string]any
	ExtractFacts     bool
	BeliefRevision   bool
	GenerateEmbedding GenerateEmbeddingFunc
	Idempotency      IdempotencyKey
}

// RememberResult is the output of Client.Remember.
type RememberResult struct {
	MessageIDs  []string
	Memory      Memory
	Facts       []FactOutcome
	GraphQueued bool
}

// FactOutcome reports the belief-revision outcome for one extracted fact.
type FactOutcome struct {
	Fact   Fact
	Action FactHistoryAction
	Reason string
}

// Remember performs the full write path as a single logical unit:
// append both messages (1), build the memory content and embedding (2),
// insert the memory (3), optionally extract and revise facts (4), and
// enqueue a graph-sync record (5). Steps 1-3 are separate store calls with
// no enclosing transaction: if step 2 or 3 fails, the messages appended in
// step 1 stay in the conversation. 4-5 run after but still within the scope
// of this call — any error propagates to the caller.
func (c *Client) Remember(ctx context.Context, req RememberRequest) (RememberResult, error) {
	ctx, span := c.cfg.tracer.Start(ctx, "cortex.Remember",
		StringAttr("memorySpaceId", req.MemorySpaceID),
		StringAttr("conversationId", req.ConversationID))
	defer span.End()

	if req.MemorySpaceID == "" {
		err := &ValidationError{Field: "memorySpaceId", Message: "required"}
		span.Error(err)
		return RememberResult{}, err
	}
	if req.ConversationID == "" {
		err := &ValidationError{Field: "conversationId", Message: "required"}
		span.Error(err)
		return RememberResult{}, err
	}

	now := NowMillis()
	userMsg := Message{
		ID:            NewID(),
		Role:          RoleUser,
		Content:       req.UserMessage,
		Timestamp:     now,
		ParticipantID: req.ParticipantID,
	}
	agentMsg := Message{
		ID:        NewID(),
		Role:      RoleAgent,
		Content:   req.AgentResponse,
		Timestamp: now,
	}

	userMsgID, err := c.cfg.store.AddMessage(ctx, req.ConversationID, userMsg, req.Idempotency)
	if err != nil {
		span.Error(err)
		return RememberResult{}, err
	}
	agentMsgID, err := c.cfg.store.AddMessage(ctx, req.ConversationID, agentMsg, "")
	if err != nil {
		span.Error(err)
		return RememberResult{}, err
	}
	messageIDs := []string{userMsgID, agentMsgID}

	content := buildExchangeContent(req)

	var embedding []float32
	if req.GenerateEmbedding != nil || c.cfg.embedding != nil {
		embedding, err = embedOne(ctx, req.GenerateEmbedding, c.cfg.embedding, content)
		if err != nil {
			span.Error(err)
			return RememberResult{}, err
		}
	}

	mem := Memory{
		MemoryID:      NewID(),
		MemorySpaceID: req.MemorySpaceID,
		ParticipantID: req.ParticipantID,
		Content:       content,
		ContentType:   ContentSummarized,
		Embedding:     embedding,
		SourceType:    SourceConversation,
		UserID:        req.UserID,
		AgentID:       req.AgentID,
		ConversationRef: &ConversationRef{
			ConversationID: req.ConversationID,
			MessageIDs:     messageIDs,
		},
		Importance: req.Importance,
		Tags:       req.Tags,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	mem, err = c.cfg.store.StoreMemory(ctx, mem, 0, req.Idempotency)
	if err != nil {
		span.Error(err)
		return RememberResult{}, err
	}

	result := RememberResult{MessageIDs: messageIDs, Memory: mem}

	if req.ExtractFacts && c.cfg.llm != nil {
		outcomes, primary, err := c.extractAndReviseFacts(ctx, req, content)
		if err != nil {
			span.Error(err)
			return result, err
		}
		result.Facts = outcomes
		if primary != "" {
			mem.FactsRef = &FactsRef{FactID: primary}
			mem, err = c.cfg.store.UpdateMemory(ctx, mem.MemoryID, func(cur Memory) (Memory, error) {
				cur.FactsRef = mem.FactsRef
				return cur, nil
			}, 0)
			if err != nil {
				span.Error(err)
				return result, err
			}
			result.Memory = mem
		}
	}

	if c.cfg.graph != nil {
		item := GraphSyncItem{
			ID:        NewID(),
			Table:     "memories",
			EntityID:  mem.MemoryID,
			Operation: GraphOpInsert,
			Entity:    memoryGraphProps(mem),
			Priority:  "background",
			CreatedAt: now,
			UpdatedAt: now,
		}
		if _, err := c.cfg.store.EnqueueGraphSync(ctx, item); err != nil {
			span.Error(err)
			return result, err
		}
		result.GraphQueued = true
	}

	return result, nil
}

func buildExchangeContent(req RememberRequest) string {
	if req.UserName != "" && req.AgentName != "" {
		return fmt.Sprintf("%s: %s\n%s: %s", req.UserName, req.UserMessage, req.AgentName, req.AgentResponse)
	}
	return fmt.Sprintf("%s\n%s", req.UserMessage, req.AgentResponse)
}

func memoryGraphProps(m Memory) map[string]any {
	return map[string]any{
		"memoryId":      m.MemoryID,
		"memorySpaceId": m.MemorySpaceID,
		"contentType":   string(m.ContentType),
	}
}
