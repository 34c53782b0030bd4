package worker

import (
	"context"
	"fmt"

	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/queue"
)

// DesiredReplicas sizes the worker fleet from the queue backlog:
// ceil(backlog/targetPerReplica) clamped to [min, max].
func DesiredReplicas(backlog int64, targetPerReplica, min, max int) int {
	if targetPerReplica <= 0 {
		targetPerReplica = 1
	}
	if min < 0 {
		min = 0
	}
	if max < min {
		max = min
	}
	if backlog < 0 {
		backlog = 0
	}

	target := int64(targetPerReplica)
	desired := (backlog + target - 1) / target
	if desired < int64(min) {
		return min
	}
	if desired > int64(max) {
		return max
	}
	return int(desired)
}

type ScalingConfig struct {
	TargetPerReplica int
	MinReplicas      int
	MaxReplicas      int
}

type ScalingDecision struct {
	Backlog         int64 `json:"backlog"`
	DesiredReplicas int   `json:"desired_replicas"`
	MinReplicas     int   `json:"min_replicas"`
	MaxReplicas     int   `json:"max_replicas"`
}

// Scaler reports the replica count an external autoscaler should converge to.
type Scaler struct {
	backlog queue.BacklogReporter
	config  ScalingConfig
}

func NewScaler(backlog queue.BacklogReporter, config ScalingConfig) *Scaler {
	return &Scaler{backlog: backlog, config: config}
}

func (s *Scaler) Decide(ctx context.Context) (ScalingDecision, error) {
	backlog, err := s.backlog.Backlog(ctx)
	if err != nil {
		return ScalingDecision{}, fmt.Errorf("read backlog: %w", err)
	}
	return s.DecideFor(backlog), nil
}

func (s *Scaler) DecideFor(backlog int64) ScalingDecision {
	return ScalingDecision{
		Backlog:         backlog,
		DesiredReplicas: DesiredReplicas(backlog, s.config.TargetPerReplica, s.config.MinReplicas, s.config.MaxReplicas),
		MinReplicas:     s.config.MinReplicas,
		MaxReplicas:     s.config.MaxReplicas,
	}
}
