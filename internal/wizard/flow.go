// Package wizard drives a swap through its steps for one caller.
package wizard

import (
	"slices"

	"hybrid-swap/internal/domain"
)

// Step is a wizard state.
type Step string

const (
	EnterCollection        Step = "ENTER_COLLECTION"
	EnterToken             Step = "ENTER_TOKEN"
	SelectDirection        Step = "SELECT_DIRECTION"
	SelectSourceAsset      Step = "SELECT_SOURCE_ASSET"
	SelectDestinationAsset Step = "SELECT_DESTINATION_ASSET" // TokenToAsset only
	Executing              Step = "EXECUTING"
)

var flows = map[domain.Direction][]Step{
	domain.AssetToToken: {EnterCollection, EnterToken, SelectDirection, SelectSourceAsset, Executing},
	domain.TokenToAsset: {EnterCollection, EnterToken, SelectDirection, SelectSourceAsset, SelectDestinationAsset, Executing},
}

// Flow returns the ordered steps of a direction.
func Flow(dir domain.Direction) []Step {
	return slices.Clone(flows[dir])
}

// transitions lists the legal moves out of each step per direction:
// forward, backward, the success reset and the failure return.
var transitions = buildTransitions()

func buildTransitions() map[domain.Direction]map[Step][]Step {
	out := make(map[domain.Direction]map[Step][]Step, len(flows))
	for dir, steps := range flows {
		t := make(map[Step][]Step, len(steps))
		for i, s := range steps {
			if i+1 < len(steps) {
				t[s] = append(t[s], steps[i+1])
			}
			if i > 0 && s != Executing {
				t[s] = append(t[s], steps[i-1])
			}
		}
		t[Executing] = append(t[Executing], EnterCollection, finalSelection(dir))
		out[dir] = t
	}
	return out
}

// Legal reports whether the wizard may move from one step to another.
func Legal(dir domain.Direction, from, to Step) bool {
	return slices.Contains(transitions[dir][from], to)
}

func contains(dir domain.Direction, s Step) bool {
	return slices.Contains(flows[dir], s)
}

func index(dir domain.Direction, s Step) int {
	return slices.Index(flows[dir], s)
}

func next(dir domain.Direction, s Step) (Step, bool) {
	i := index(dir, s)
	if i < 0 || i+1 >= len(flows[dir]) {
		return "", false
	}
	return flows[dir][i+1], true
}

func prev(dir domain.Direction, s Step) (Step, bool) {
	i := index(dir, s)
	if i <= 0 {
		return "", false
	}
	return flows[dir][i-1], true
}

// finalSelection is the step a failed execution returns to.
func finalSelection(dir domain.Direction) Step {
	steps := flows[dir]
	return steps[len(steps)-2]
}

// clamp maps s onto the flow of dir. A step that does not exist under dir
// becomes the last selection step of that flow.
func clamp(dir domain.Direction, s Step) Step {
	if contains(dir, s) {
		return s
	}
	return finalSelection(dir)
}
