package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/worker"
)

var backlogOverride int64

var replicasCmd = &cobra.Command{
	Use:   "replicas",
	Short: "Print the desired worker replica count for the current (or a given) backlog",
	RunE:  runReplicas,
}

func init() {
	replicasCmd.Flags().Int64Var(&backlogOverride, "backlog", -1, "use this backlog instead of reading the queue")
	rootCmd.AddCommand(replicasCmd)
}

func runReplicas(cmd *cobra.Command, _ []string) error {
	var decision worker.ScalingDecision
	if backlogOverride >= 0 {
		decision = newScaler(cfg, nil).DecideFor(backlogOverride)
	} else {
		rt := setupRuntime(cmd.Context(), cfg, logger)
		defer rt.Close()

		var err error
		decision, err = newScaler(cfg, rt.backlog).Decide(cmd.Context())
		if err != nil {
			return err
		}
	}

	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(decision)
}
