// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package orchestration

import (
	"sort"

	"github.com/teradata-labs/conductor/pkg/types"
)

// topoLayers computes the topological depth layers of the stage DAG. Layer N
// holds every stage whose longest dependency chain has length N. Stage order
// within a layer follows declaration order. Returns ErrCommandInvalid on a
// cycle.
func topoLayers(stages []Stage) ([][]*Stage, error) {
	index := make(map[string]int, len(stages))
	for i := range stages {
		index[stages[i].Name] = i
	}

	depth := make([]int, len(stages))
	for i := range depth {
		depth[i] = -1
	}

	// visiting guards against cycles during the depth computation.
	visiting := make([]bool, len(stages))

	var resolve func(i int) (int, error)
	resolve = func(i int) (int, error) {
		if depth[i] >= 0 {
			return depth[i], nil
		}
		if visiting[i] {
			return 0, types.NewError(types.ErrCommandInvalid,
				"dependency cycle through stage %q", stages[i].Name)
		}
		visiting[i] = true
		defer func() { visiting[i] = false }()

		d := 0
		for _, dep := range stages[i].DependsOn {
			depDepth, err := resolve(index[dep])
			if err != nil {
				return 0, err
			}
			if depDepth+1 > d {
				d = depDepth + 1
			}
		}
		depth[i] = d
		return d, nil
	}

	maxDepth := 0
	for i := range stages {
		d, err := resolve(i)
		if err != nil {
			return nil, err
		}
		if d > maxDepth {
			maxDepth = d
		}
	}

	layers := make([][]*Stage, maxDepth+1)
	for i := range stages {
		layers[depth[i]] = append(layers[depth[i]], &stages[i])
	}
	return layers, nil
}

// cohortsOf splits one layer into execution cohorts: stages sharing a
// parallel_group tag form one concurrent cohort; untagged stages run as
// singleton cohorts in declaration order.
func cohortsOf(layer []*Stage) [][]*Stage {
	var cohorts [][]*Stage
	grouped := make(map[string]int)

	for _, stage := range layer {
		if stage.ParallelGroup == "" {
			cohorts = append(cohorts, []*Stage{stage})
			continue
		}
		if idx, ok := grouped[stage.ParallelGroup]; ok {
			cohorts[idx] = append(cohorts[idx], stage)
			continue
		}
		grouped[stage.ParallelGroup] = len(cohorts)
		cohorts = append(cohorts, []*Stage{stage})
	}
	return cohorts
}

// downstreamOf returns every stage name transitively depending on any of the
// given roots.
func downstreamOf(stages []Stage, roots map[string]bool) map[string]bool {
	dependents := make(map[string][]string)
	for i := range stages {
		for _, dep := range stages[i].DependsOn {
			dependents[dep] = append(dependents[dep], stages[i].Name)
		}
	}

	affected := make(map[string]bool)
	queue := make([]string, 0, len(roots))
	for root := range roots {
		queue = append(queue, root)
	}
	sort.Strings(queue)

	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		for _, child := range dependents[name] {
			if !affected[child] {
				affected[child] = true
				queue = append(queue, child)
			}
		}
	}
	return affected
}
