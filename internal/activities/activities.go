// Package activities hosts the Temporal activities driving one research
// query: reasoning, tool execution, synthesis, persistence, and progress
// events. The workflow in internal/workflows sequences them.
package activities

import (
	"go.uber.org/zap"

	"github.com/inquest-ai/orchestrator/internal/config"
	"github.com/inquest-ai/orchestrator/internal/db"
	"github.com/inquest-ai/orchestrator/internal/llm"
	"github.com/inquest-ai/orchestrator/internal/streaming"
	"github.com/inquest-ai/orchestrator/internal/tools"
)

// Activity name constants, used by the workflow so renames stay in one place.
const (
	LoadQueryStateActivity     = "LoadQueryState"
	ReasonActivity             = "Reason"
	ExecuteToolActivity        = "ExecuteTool"
	SynthesizeActivity         = "Synthesize"
	CreateIterationActivity    = "CreateIteration"
	AttachObservationActivity  = "AttachObservation"
	UpdateQueryStatusActivity  = "UpdateQueryStatus"
	MarkQueryFailedActivity    = "MarkQueryFailed"
	EmitResearchUpdateActivity = "EmitResearchUpdate"
)

// Activities bundles the dependencies shared by all activity implementations.
type Activities struct {
	store      *db.Store
	llm        llm.Client
	dispatcher *tools.Dispatcher
	registry   *tools.Registry
	stream     *streaming.Manager
	mirror     *streaming.RedisMirror
	research   config.ResearchConfig
	logger     *zap.Logger
}

// Deps lists what Activities needs; mirror may be nil when Redis is disabled.
type Deps struct {
	Store      *db.Store
	LLM        llm.Client
	Dispatcher *tools.Dispatcher
	Registry   *tools.Registry
	Stream     *streaming.Manager
	Mirror     *streaming.RedisMirror
	Research   config.ResearchConfig
	Logger     *zap.Logger
}

func New(deps Deps) *Activities {
	return &Activities{
		store:      deps.Store,
		llm:        deps.LLM,
		dispatcher: deps.Dispatcher,
		registry:   deps.Registry,
		stream:     deps.Stream,
		mirror:     deps.Mirror,
		research:   deps.Research,
		logger:     deps.Logger,
	}
}
