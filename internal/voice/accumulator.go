package voice

import "strings"

// Accumulator merges result events into settled and unsettled text.
// Settled segments are never revised, so Final only grows until Reset.
type Accumulator struct {
	segments []Segment
}

func (a *Accumulator) Reset() {
	a.segments = a.segments[:0]
}

// Apply folds one result event in and returns the rebuilt transcript.
func (a *Accumulator) Apply(ev ResultEvent) Transcript {
	start := ev.ResultIndex
	if start < 0 {
		start = 0
	}
	if start > len(a.segments) {
		start = len(a.segments)
	}
	for i := start; i < len(ev.Results); i++ {
		seg := ev.Results[i]
		if i < len(a.segments) {
			if a.segments[i].Final {
				continue
			}
			a.segments[i] = seg
			continue
		}
		a.segments = append(a.segments, seg)
	}

	// Interim tail the engine no longer reports is dropped.
	keep := a.segments[:0]
	for i, seg := range a.segments {
		if i >= len(ev.Results) && !seg.Final {
			continue
		}
		keep = append(keep, seg)
	}
	a.segments = keep

	return a.Transcript()
}

// Transcript rebuilds the display text from the held segments.
func (a *Accumulator) Transcript() Transcript {
	var final, interim []string
	for _, seg := range a.segments {
		if seg.Final {
			final = append(final, seg.Transcript)
		} else {
			interim = append(interim, seg.Transcript)
		}
	}
	return Transcript{Final: normalize(final), Interim: normalize(interim)}
}

func normalize(parts []string) string {
	return strings.Join(strings.Fields(strings.Join(parts, " ")), " ")
}
