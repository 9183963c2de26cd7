package visits

import (
	"sort"

	"github.com/trapline/visits-platform/internal/taxonomy"
)

// Resolver reconciles possibly-conflicting track tags into a single
// classification per visit. It is stateless apart from the shared
// read-only taxonomy index.
type Resolver struct {
	index       *taxonomy.Index
	masterModel string
}

// NewResolver creates a resolver. masterModel names the one automatic
// classifier whose tags participate in the primary classification;
// other models' tags are ignored for that field so one project's bespoke
// model cannot influence another project's counts.
func NewResolver(index *taxonomy.Index, masterModel string) *Resolver {
	return &Resolver{index: index, masterModel: masterModel}
}

// Classification is the reconciled outcome for one visit.
type Classification struct {
	Label     string
	FromHuman bool
}

type vote struct {
	Label string
	Human bool
}

// Resolve computes the visit's primary classification (human tags plus
// the master model) and its AI-only classification against compareAI.
// The two never feed into each other.
func (r *Resolver) Resolve(recordings []Recording, compareAI string) (Classification, string) {
	var main, ai []vote
	for i := range recordings {
		for j := range recordings[i].Tracks {
			track := &recordings[i].Tracks[j]
			if v, ok := r.trackVote(track, r.masterModel, true); ok {
				main = append(main, v)
			}
			if v, ok := r.trackVote(track, compareAI, false); ok {
				ai = append(ai, v)
			}
		}
	}

	return r.resolveVotes(main), r.resolveVotes(ai).Label
}

// TrackTag returns the label a single track contributes to the primary
// classification, for per-track response summaries. ok is false when the
// track has no eligible tag.
func (r *Resolver) TrackTag(track *Track) (label string, human bool, ok bool) {
	v, ok := r.trackVote(track, r.masterModel, true)
	if !ok {
		return "", false, false
	}
	return v.Label, v.Human, true
}

// trackVote reduces one track to a single vote. Any human tag overrides
// automatic ones (the most recent human tag wins); otherwise the vote is
// the eligible model's tag, if any.
func (r *Resolver) trackVote(track *Track, model string, humanAllowed bool) (vote, bool) {
	if humanAllowed {
		best := -1
		for i, tag := range track.Tags {
			if tag.Automatic {
				continue
			}
			if best < 0 || tag.CreatedAt.After(track.Tags[best].CreatedAt) {
				best = i
			}
		}
		if best >= 0 {
			return vote{Label: track.Tags[best].Label, Human: true}, true
		}
	}

	for _, tag := range track.Tags {
		if tag.Automatic && tag.Model == model {
			return vote{Label: tag.Label, Human: false}, true
		}
	}
	return vote{}, false
}

// resolveVotes tallies track votes and resolves disagreement through the
// taxonomy.
func (r *Resolver) resolveVotes(votes []vote) Classification {
	if len(votes) == 0 {
		return Classification{Label: taxonomy.LabelNone}
	}

	// "unidentified" only wins when nothing concrete was voted, and
	// "false-positive" only when no other label got any vote at all.
	var concrete, unidentified, falsePositive []vote
	for _, v := range votes {
		switch v.Label {
		case taxonomy.LabelUnidentified:
			unidentified = append(unidentified, v)
		case taxonomy.LabelFalsePositive:
			falsePositive = append(falsePositive, v)
		default:
			concrete = append(concrete, v)
		}
	}

	if len(concrete) == 0 {
		if len(unidentified) > 0 {
			return Classification{Label: taxonomy.LabelUnidentified, FromHuman: anyHuman(unidentified)}
		}
		return Classification{Label: taxonomy.LabelFalsePositive, FromHuman: anyHuman(falsePositive)}
	}

	counts := make(map[string]int)
	for _, v := range concrete {
		counts[v.Label]++
	}

	labels := make([]string, 0, len(counts))
	for label := range counts {
		labels = append(labels, label)
	}
	// Precedence-sort distinct labels so resolution is independent of
	// input order.
	sort.Slice(labels, func(i, j int) bool { return r.index.Less(labels[i], labels[j]) })

	if len(labels) == 1 {
		return Classification{Label: labels[0], FromHuman: anyHumanFor(concrete, labels[0])}
	}

	// A strict majority of the non-ignored votes wins outright.
	for _, label := range labels {
		if counts[label]*2 > len(concrete) {
			return Classification{Label: label, FromHuman: anyHumanFor(concrete, label)}
		}
	}

	// No majority: only the labels holding the top vote count stay in
	// contention. When that eliminates anyone, precedence breaks the tie
	// among the leaders; the sort above already put the lowest rank first.
	top := 0
	for _, n := range counts {
		if n > top {
			top = n
		}
	}
	var leaders []string
	for _, label := range labels {
		if counts[label] == top {
			leaders = append(leaders, label)
		}
	}
	if len(leaders) < len(labels) {
		return Classification{Label: leaders[0], FromHuman: anyHumanFor(concrete, leaders[0])}
	}

	// Every competing label is tied across the board; they collapse to
	// their nearest common ancestor.
	if ancestor, ok := r.index.CommonAncestor(labels); ok {
		return Classification{Label: ancestor, FromHuman: anyHuman(concrete)}
	}

	// Labels wholly unknown to the taxonomy have nothing to intersect;
	// the precedence fallback (alphabetical among unranked labels) picks
	// a deterministic winner instead of declaring a conflict.
	if r.allUnknown(labels) {
		return Classification{Label: labels[0], FromHuman: anyHumanFor(concrete, labels[0])}
	}

	return Classification{Label: taxonomy.LabelConflicting, FromHuman: anyHuman(concrete)}
}

func (r *Resolver) allUnknown(labels []string) bool {
	for _, label := range labels {
		if r.index.Known(label) {
			return false
		}
	}
	return true
}

func anyHuman(votes []vote) bool {
	for _, v := range votes {
		if v.Human {
			return true
		}
	}
	return false
}

func anyHumanFor(votes []vote, label string) bool {
	for _, v := range votes {
		if v.Human && v.Label == label {
			return true
		}
	}
	return false
}
