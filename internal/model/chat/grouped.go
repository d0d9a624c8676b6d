package chat

import "time"

// GroupedView partitions a turn sequence by the viewer's local calendar
// day. Dates preserves first-appearance order so callers can render the
// groups chronologically; within each group the original turn order is
// kept.
type GroupedView struct {
	Dates  []string          `json:"dates"`
	Groups map[string][]Turn `json:"groups"`
}

// GroupByDate derives a GroupedView from turns without mutating them.
// Every turn lands in exactly one group.
func GroupByDate(turns []Turn, loc *time.Location) GroupedView {
	if loc == nil {
		loc = time.Local
	}

	view := GroupedView{Groups: make(map[string][]Turn, 4)}
	for _, turn := range turns {
		day := turn.CreatedAt.In(loc).Format("2006-01-02")
		if _, ok := view.Groups[day]; !ok {
			view.Dates = append(view.Dates, day)
		}
		view.Groups[day] = append(view.Groups[day], turn)
	}
	return view
}
