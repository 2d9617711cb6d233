package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"

	"github.com/sudorandom/ixpdetect/pkg/utils"
)

// AtlasStream follows RIPE Atlas traceroute results over the streaming
// websocket API, reconnecting with exponential backoff.
type AtlasStream struct {
	URL          string
	Measurements []int
	Dialer       *websocket.Dialer
	MaxBackoff   time.Duration
}

func NewAtlasStream(url string, measurements ...int) *AtlasStream {
	return &AtlasStream{
		URL:          url,
		Measurements: measurements,
		Dialer:       websocket.DefaultDialer,
		MaxBackoff:   60 * time.Second,
	}
}

func subscribeMessage(msm int) ([]byte, error) {
	return json.Marshal([]any{"atlas_subscribe", map[string]any{"streamType": "result", "msm": msm}})
}

// Run delivers every IPv4 traceroute result to fn until ctx is cancelled.
func (s *AtlasStream) Run(ctx context.Context, fn func(AtlasResult)) error {
	backoff := time.Second
	for {
		err := s.session(ctx, fn)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		utils.Log.Warnf("[Atlas] %v. Reconnecting in %v...", err, backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > s.MaxBackoff {
			backoff = s.MaxBackoff
		}
	}
}

// session runs a single connection. It always returns a non-nil error.
func (s *AtlasStream) session(ctx context.Context, fn func(AtlasResult)) error {
	utils.Log.Infof("[Atlas] Connecting to %s", s.URL)
	c, _, err := s.Dialer.DialContext(ctx, s.URL, nil)
	if err != nil {
		return errors.Wrap(err, "dial error")
	}
	defer func() {
		_ = c.Close()
	}()
	stop := context.AfterFunc(ctx, func() {
		_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		_ = c.Close()
	})
	defer stop()

	for _, msm := range s.Measurements {
		msg, err := subscribeMessage(msm)
		if err != nil {
			return err
		}
		if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
			return errors.Wrapf(err, "subscribe error for measurement %d", msm)
		}
		utils.Log.Infof("[Atlas] Subscribed to measurement %d", msm)
	}

	for {
		_, message, err := c.ReadMessage()
		if err != nil {
			return errors.Wrap(err, "read error")
		}
		var frame []json.RawMessage
		if json.Unmarshal(message, &frame) != nil || len(frame) < 2 {
			continue
		}
		var kind string
		if json.Unmarshal(frame[0], &kind) != nil {
			continue
		}
		switch kind {
		case "atlas_result":
			var res AtlasResult
			if err := json.Unmarshal(frame[1], &res); err != nil {
				utils.Log.Debugf("[Atlas] Undecodable result: %v", err)
				continue
			}
			if res.AF != 4 || res.Type != "traceroute" {
				continue
			}
			fn(res)
		case "atlas_error":
			utils.Log.Errorf("[Atlas] Stream error: %s", string(frame[1]))
		}
	}
}

// FetchAtlasMeasurement downloads the stored results of one measurement
// from the REST API. apiURL takes the measurement id as its only verb.
func FetchAtlasMeasurement(ctx context.Context, apiURL string, msm int) ([]Trace, error) {
	rc, err := utils.CachedReader(ctx, fmt.Sprintf(apiURL, msm), "", "[Atlas]")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch measurement %d", msm)
	}
	defer func() {
		_ = rc.Close()
	}()
	return ParseAtlasResults(rc)
}
