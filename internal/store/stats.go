package store

import (
	"context"
	"time"
)

// Stats holds store statistics.
type Stats struct {
	Dir          string    `json:"dir"`
	Records      int       `json:"records"`
	TotalBytes   int64     `json:"total_bytes"`
	LargestBytes int       `json:"largest_bytes"`
	Unreadable   int       `json:"unreadable"`
	Oldest       time.Time `json:"oldest,omitzero"`
	Newest       time.Time `json:"newest,omitzero"`
}

// Stats returns store statistics. Unreadable files are counted, not fatal.
func (s *FileStore) Stats(ctx context.Context) (*Stats, error) {
	res, err := s.scan(ctx, false)
	if err != nil {
		return nil, err
	}
	st := &Stats{Dir: s.dir, Records: len(res.Records), Unreadable: len(res.Warnings)}
	for _, r := range res.Records {
		st.TotalBytes += int64(r.SizeBytes)
		st.LargestBytes = max(st.LargestBytes, r.SizeBytes)
		if st.Oldest.IsZero() || r.CreatedAt.Before(st.Oldest) {
			st.Oldest = r.CreatedAt
		}
		if r.UpdatedAt.After(st.Newest) {
			st.Newest = r.UpdatedAt
		}
	}
	return st, nil
}
