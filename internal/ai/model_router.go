package ai

import "strings"

type TaskKind string

const (
	TaskExtraction TaskKind = "extraction"
	TaskSummary    TaskKind = "summary"
)

type ModelProfile struct {
	Model           string
	Temperature     float64
	MaxOutputTokens int
}

type ModelRouterConfig struct {
	ExtractionModel string
	SummaryModel    string

	ExtractionMaxTokens int
	SummaryMaxTokens    int
}

type ModelRouter struct {
	config ModelRouterConfig
}

func NewModelRouter(config ModelRouterConfig) *ModelRouter {
	if strings.TrimSpace(config.ExtractionModel) == "" {
		config.ExtractionModel = "gpt-4o-mini"
	}
	if strings.TrimSpace(config.SummaryModel) == "" {
		config.SummaryModel = "gpt-4o-mini"
	}
	if config.ExtractionMaxTokens <= 0 {
		config.ExtractionMaxTokens = 4000
	}
	if config.SummaryMaxTokens <= 0 {
		config.SummaryMaxTokens = 300
	}

	return &ModelRouter{config: config}
}

func (r *ModelRouter) Select(task TaskKind) ModelProfile {
	switch task {
	case TaskExtraction:
		return ModelProfile{
			Model:           r.config.ExtractionModel,
			Temperature:     0,
			MaxOutputTokens: r.config.ExtractionMaxTokens,
		}
	default:
		return ModelProfile{
			Model:           r.config.SummaryModel,
			Temperature:     0.2,
			MaxOutputTokens: r.config.SummaryMaxTokens,
		}
	}
}
