package main

import (
	"encoding/json"

	"github.com/livefir/liveregion"
)

type counterState struct {
	Count int `json:"count"`
}

func registerCounter(s *liveregion.Server) {
	s.Gateway("counter").On("increment", increment)
}

// increment reads the count at commit time so clicks racing in from other tabs
// of the session are all counted
func increment(c *liveregion.Client, _ *liveregion.Message) error {
	return c.Mutate(func(state json.RawMessage) (interface{}, error) {
		var st counterState
		if len(state) > 0 {
			if err := json.Unmarshal(state, &st); err != nil {
				return nil, err
			}
		}
		st.Count++
		return st, nil
	})
}
