package ctlplane

import (
	"strconv"

	"github.com/wardfw/ward/internal/errors"
)

// Subscribe opens a new bounded event-stream subscription and returns
// its identifier. Remote callers poll it with DrainEvents; in-process
// callers can subscribe to the events.Pipeline directly to get the
// channel.
func (s *Server) Subscribe(args *SubscribeArgs, reply *SubscribeReply) error {
	if s.pipeline == nil {
		reply.SubscriptionID = ""
		ok(&reply.Response)
		return nil
	}
	ch, cancel, err := s.pipeline.Subscribe()
	if err != nil {
		fail(&reply.Response, err)
		return nil
	}

	s.subMu.Lock()
	s.nextSub++
	id := strconv.FormatUint(s.nextSub, 10)
	s.subs[id] = &subscription{ch: ch, cancel: cancel}
	s.subMu.Unlock()

	reply.SubscriptionID = id
	ok(&reply.Response)
	return nil
}

// Unsubscribe cancels and releases subscriptionID's buffer, per §5's
// "server releases the subscription buffer within one drain cycle" on
// disconnect.
func (s *Server) Unsubscribe(args *UnsubscribeArgs, reply *Response) error {
	s.subMu.Lock()
	sub, found := s.subs[args.SubscriptionID]
	delete(s.subs, args.SubscriptionID)
	s.subMu.Unlock()

	if !found {
		fail(reply, errors.New(errors.KindNotFound, "unknown subscription"))
		return nil
	}
	sub.cancel()
	ok(reply)
	return nil
}

// DrainEvents is the net/rpc-friendly polling surface for event
// delivery: net/rpc has no native server-streaming support, so remote
// callers repeatedly call DrainEvents to pull whatever has accumulated
// on their subscription's buffered channel, mirroring how the teacher
// bridges its internal nflog/SNI channels out through a different
// transport (websockets in internal/api).
func (s *Server) DrainEvents(args *DrainEventsArgs, reply *DrainEventsReply) error {
	s.subMu.Lock()
	sub, found := s.subs[args.SubscriptionID]
	s.subMu.Unlock()

	if !found {
		fail(&reply.Response, errors.New(errors.KindNotFound, "unknown subscription"))
		return nil
	}

	max := args.Max
	if max <= 0 {
		max = 256
	}

	for i := 0; i < max; i++ {
		select {
		case evt, openCh := <-sub.ch:
			if !openCh {
				ok(&reply.Response)
				return nil
			}
			reply.Events = append(reply.Events, eventToMessage(evt))
		default:
			ok(&reply.Response)
			return nil
		}
	}
	ok(&reply.Response)
	return nil
}
