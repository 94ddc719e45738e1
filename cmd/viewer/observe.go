package main

import (
	"context"
	"encoding/json"
	"log"

	"github.com/gorilla/websocket"

	"voxelstream.io/internal/observerproto"
	"voxelstream.io/internal/sim/encoding"
)

// runObserver subscribes to the host's observer feed and logs each column
// surface it receives until ctx is done or the socket fails.
func runObserver(ctx context.Context, url string, logger *log.Logger) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	sub := observerproto.SubscribeMsg{
		Type:            "SUBSCRIBE",
		ProtocolVersion: observerproto.Version,
		ChunkRadius:     8,
	}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(msg, &head); err != nil {
			continue
		}
		if head.Type != "COLUMN_SURFACE" {
			continue
		}
		var s observerproto.ColumnSurfaceMsg
		if err := json.Unmarshal(msg, &s); err != nil {
			continue
		}
		lo, hi, err := heightRange(s)
		if err != nil {
			logger.Printf("observer: column %d,%d: %v", s.CX, s.CZ, err)
			continue
		}
		logger.Printf("observer: column %d,%d heights %d..%d digest=%s", s.CX, s.CZ, lo, hi, s.Digest)
	}
}

func heightRange(m observerproto.ColumnSurfaceMsg) (lo, hi uint16, err error) {
	s, err := encoding.DecodeSurface(m.Heights, m.Blocks)
	if err != nil {
		return 0, 0, err
	}
	lo, hi = s.HeightRange()
	return lo, hi, nil
}
