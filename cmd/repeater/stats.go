package main

import "time"

// Stats represents current relay state for the dashboard & API.
type Stats struct {
	Parked    int           `json:"parked"`
	Sessions  int64         `json:"sessions"`
	Evictions int64         `json:"evictions"`
	Entries   []parkedEntry `json:"entries"`
	Now       string        `json:"now"`
}

func collectStats(s StateStore) Stats {
	snap := s.getStats()
	return Stats{
		Parked:    len(snap.Entries),
		Sessions:  snap.Sessions,
		Evictions: snap.Evictions,
		Entries:   snap.Entries,
		Now:       time.Now().UTC().Format(time.RFC3339),
	}
}

// ToTemplateMap returns a map suited for html/template rendering.
func (s Stats) ToTemplateMap() map[string]any {
	return map[string]any{
		"Parked":    s.Parked,
		"Sessions":  s.Sessions,
		"Evictions": s.Evictions,
		"Entries":   s.Entries,
	}
}
