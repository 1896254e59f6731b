package cluster

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/splitsync/internal/protocol"
)

// sendTimeout bounds one envelope delivery. The relay treats a timeout as
// a drop; there is no retry at this layer.
const sendTimeout = 2 * time.Second

// HTTPLink implements relay.Link over HTTP POSTs to each peer's /relay
// endpoint.
//
// On the central it fans out to the live follower set supplied by the
// targets provider (typically the registry); on a follower it knows only
// the central's address. Either constructor leaves the unused direction
// returning an error, which the relay's role checks make unreachable in
// practice.
type HTTPLink struct {
	central string                 // Central base URL, follower side only
	targets func() []NodeInfo      // Live followers, central side only
	log     *zap.Logger
}

// NewCentralLink builds the central side of the link. targets returns the
// follower set to fan out to; it is consulted on every broadcast so
// registrations take effect immediately.
func NewCentralLink(targets func() []NodeInfo, log *zap.Logger) *HTTPLink {
	return &HTTPLink{targets: targets, log: log}
}

// NewFollowerLink builds the follower side of the link, pointed at the
// central's base URL.
func NewFollowerLink(centralAddr string, log *zap.Logger) *HTTPLink {
	return &HTTPLink{central: centralAddr, log: log}
}

// Broadcast posts env to every follower except exclude. Failures for
// individual followers do not stop the fan-out; they are joined into the
// returned error after every target has been attempted.
func (l *HTTPLink) Broadcast(ctx context.Context, env protocol.Envelope, exclude protocol.NodeID) error {
	if l.targets == nil {
		return errors.New("link has no follower targets (follower side?)")
	}

	var errs []error
	for _, n := range l.targets() {
		if n.ID == exclude {
			continue
		}
		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		err := PostJSON(sendCtx, n.Addr+"/relay", env, nil)
		cancel()
		if err != nil {
			l.log.Warn("relay send to follower failed",
				zap.Stringer("follower", n.ID),
				zap.String("addr", n.Addr),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("follower %s: %w", n.ID, err))
		}
	}
	return errors.Join(errs...)
}

// SendToCentral posts env to the central's /relay endpoint.
func (l *HTTPLink) SendToCentral(ctx context.Context, env protocol.Envelope) error {
	if l.central == "" {
		return errors.New("link has no central address (central side?)")
	}

	sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	return PostJSON(sendCtx, l.central+"/relay", env, nil)
}
