package triage

// ResolvePriority bands score by the most urgent threshold it reaches, or
// schedulable when it reaches none. escalated is true only when the new band
// is strictly more urgent than previous; ties and de-escalations never
// escalate.
func ResolvePriority(score float64, previous Priority, thresholds []Threshold) (band Priority, escalated bool) {
	band = PrioritySchedulable
	for _, th := range thresholds {
		if score >= th.MinScore && th.Priority.MoreUrgentThan(band) {
			band = th.Priority
		}
	}
	if !previous.Valid() {
		previous = PrioritySchedulable
	}
	return band, band.MoreUrgentThan(previous)
}
