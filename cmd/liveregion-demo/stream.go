package main

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/golang/glog"

	"github.com/livefir/liveregion"
)

const maxEvents = 10

var streamInterval = time.Second

type event struct {
	Seq int    `json:"seq"`
	At  string `json:"at"`
}

type streamState struct {
	Streaming bool    `json:"streaming"`
	Events    []event `json:"events"`
}

func registerStream(s *liveregion.Server) {
	s.Gateway("event-stream").
		On("startStreaming", startStreaming).
		On("stopStreaming", stopStreaming)
}

func decodeStream(raw json.RawMessage) (streamState, error) {
	var st streamState
	if len(raw) == 0 {
		return st, nil
	}
	err := json.Unmarshal(raw, &st)
	return st, err
}

func startStreaming(c *liveregion.Client, _ *liveregion.Message) error {
	err := c.Mutate(func(raw json.RawMessage) (interface{}, error) {
		st, err := decodeStream(raw)
		st.Streaming = true
		return st, err
	})
	if err != nil {
		return err
	}

	c.Spawn("stream", func(ctx context.Context) {
		ticker := time.NewTicker(streamInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				if err := c.Mutate(appendEvent(t)); err != nil {
					if ctx.Err() != nil || errors.Is(err, liveregion.ErrClosed) {
						return
					}
					glog.Warningf("region %s: stream update: %v", c.RegionID(), err)
				}
			}
		}
	})
	return nil
}

func appendEvent(t time.Time) func(json.RawMessage) (interface{}, error) {
	return func(raw json.RawMessage) (interface{}, error) {
		st, err := decodeStream(raw)
		if err != nil {
			return nil, err
		}
		seq := 1
		if n := len(st.Events); n > 0 {
			seq = st.Events[n-1].Seq + 1
		}
		st.Events = append(st.Events, event{Seq: seq, At: t.Format("15:04:05.000")})
		if len(st.Events) > maxEvents {
			st.Events = st.Events[len(st.Events)-maxEvents:]
		}
		return st, nil
	}
}

func stopStreaming(c *liveregion.Client, _ *liveregion.Message) error {
	c.Stop("stream")
	return c.Mutate(func(raw json.RawMessage) (interface{}, error) {
		st, err := decodeStream(raw)
		st.Streaming = false
		return st, err
	})
}
