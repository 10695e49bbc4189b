// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package orchestrator

import "github.com/aleutian-labs/locusagent/services/core/taskdag"

// buildContextDAG constructs the standard shape a prompt produces
// (§4.4): a parallel fan-out of context gathering feeding a single
// PatchAgent node over soft edges, so a context agent's failure never
// blocks the patch attempt — it just runs with PartialInput set.
// ConstraintAgent sits on the other side of PatchAgent: §4.6 has it
// check "the proposed diff set, active constraint memories", so it
// cannot run until a diff exists. It hangs off patchNode over a hard
// edge — there is nothing to check if the patch attempt itself failed.
//
// Mode gates which context agents run: Rush's profile has
// IncludeSearchAgent=false (omit SearchAgent and ConstraintAgent, the
// two lower-priority enrichment agents) and IncludeDeepRecall=false
// (omit a dedicated MemoryRecallAgent node — the bundle Inject already
// produced still reaches PatchAgent through Input.Bundle regardless).
func buildContextDAG(prompt string, includeSearch, includeDeepRecall bool) (dag *taskdag.DAG, patchNodeID, constraintNodeID string) {
	dag = taskdag.NewDAG()

	var fanout []*taskdag.Node

	repo := taskdag.NewNode(taskdag.KindRepo, prompt)
	dag.AddNode(repo)
	fanout = append(fanout, repo)

	if includeDeepRecall {
		recall := taskdag.NewNode(taskdag.KindMemoryRecall, prompt)
		dag.AddNode(recall)
		fanout = append(fanout, recall)
	}

	if includeSearch {
		search := taskdag.NewNode(taskdag.KindSearch, prompt)
		dag.AddNode(search)
		fanout = append(fanout, search)
	}

	patchNode := taskdag.NewNode(taskdag.KindPatch, prompt)
	dag.AddNode(patchNode)
	for _, n := range fanout {
		_ = dag.AddEdge(taskdag.Edge{DependsOn: n.ID, Dependent: patchNode.ID, Kind: taskdag.EdgeSoft})
	}

	if includeSearch {
		constraint := taskdag.NewNode(taskdag.KindConstraint, prompt)
		dag.AddNode(constraint)
		_ = dag.AddEdge(taskdag.Edge{DependsOn: patchNode.ID, Dependent: constraint.ID, Kind: taskdag.EdgeHard})
		constraintNodeID = constraint.ID
	}

	return dag, patchNode.ID, constraintNodeID
}
