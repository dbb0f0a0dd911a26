package store

import (
	"context"
	"errors"
	"net"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/x/mongo/driver/topology"
)

// IsConnectivityFault reports whether err is a socket, timeout or server
// selection failure the next call can recover from by reconnecting.
func IsConnectivityFault(err error) bool {
	if err == nil {
		return false
	}

	if mongo.IsNetworkError(err) || mongo.IsTimeout(err) {
		return true
	}

	if errors.Is(err, mongo.ErrClientDisconnected) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var selectionErr topology.ServerSelectionError
	if errors.As(err, &selectionErr) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr)
}
