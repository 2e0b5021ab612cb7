package peerdoc

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"pkt.systems/peerdoc/internal/gateway"
	"pkt.systems/peerdoc/internal/signaling"
)

// ServerStatus is the public occupancy summary of a server.
type ServerStatus = gateway.Status

// RoomInfo describes one room and its peers.
type RoomInfo = signaling.RoomInfo

// Status fetches the public server status.
func Status(ctx context.Context, client ClientOptions) (ServerStatus, error) {
	var out ServerStatus
	if err := doJSON(ctx, client, http.MethodGet, "/status", nil, &out); err != nil {
		return ServerStatus{}, err
	}
	return out, nil
}

// RoomStatus fetches the peers of one document room. It requires the admin key.
func RoomStatus(ctx context.Context, client ClientOptions, documentID string) (RoomInfo, error) {
	documentID = strings.TrimSpace(documentID)
	if documentID == "" {
		return RoomInfo{}, fmt.Errorf("document id is required")
	}
	var out RoomInfo
	if err := doJSON(ctx, client, http.MethodGet, "/status/rooms/"+url.PathEscape(documentID), nil, &out); err != nil {
		return RoomInfo{}, err
	}
	return out, nil
}
