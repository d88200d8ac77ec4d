package websocket

import (
	"encoding/json"
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/nbd-wtf/go-nostr"

	"github.com/rabble/nosflare-sub000/lib/broker"
	lib_nostr "github.com/rabble/nosflare-sub000/lib/handlers/nostr"
	filterhandler "github.com/rabble/nosflare-sub000/lib/handlers/nostr/filter"
	"github.com/rabble/nosflare-sub000/lib/logging"
	"github.com/rabble/nosflare-sub000/lib/query"
)

var jsonFast = jsoniter.ConfigCompatibleWithStandardLibrary

// handleFrame dispatches one client frame. Returning an error tears the
// session down.
func handleFrame(s *Session, b *broker.Broker, message []byte) error {
	var arr []json.RawMessage
	if err := jsonFast.Unmarshal(message, &arr); err != nil || len(arr) == 0 {
		s.writeFrame("NOTICE", "invalid: malformed frame")
		return nil
	}

	var label string
	if err := jsonFast.Unmarshal(arr[0], &label); err != nil {
		s.writeFrame("NOTICE", "invalid: malformed frame")
		return nil
	}

	switch label {
	case "EVENT":
		handleEventFrame(s, b, message)
	case "REQ":
		handleReqFrame(s, arr)
	case "CLOSE":
		handleCloseFrame(s, arr)
	default:
		s.writeFrame("NOTICE", "Unknown message type: "+label)
	}
	return nil
}

// handleEventFrame runs the ingress pipeline through the handler registry.
// An accepted event (OK true observed on the write path) is published to the
// broker after the ack, preserving the OK-before-broadcast ordering.
func handleEventFrame(s *Session, b *broker.Broker, message []byte) {
	var env nostr.EventEnvelope
	if err := env.UnmarshalJSON(message); err != nil {
		s.writeFrame("NOTICE", "Failed to deserialize the event envelope")
		return
	}

	if !s.eventBucket.Allow() {
		s.writeFrame("OK", env.Event.ID, false, "rate-limited: event")
		return
	}

	handler := lib_nostr.GetHandler(fmt.Sprintf("kind/%d", env.Event.Kind))
	if handler == nil {
		handler = lib_nostr.GetHandler("universal")
	}
	if handler == nil {
		s.writeFrame("OK", env.Event.ID, false, "error: no handler registered")
		return
	}

	read := func() ([]byte, error) {
		return jsonFast.Marshal(&env)
	}

	accepted := false
	write := func(messageType string, params ...interface{}) {
		if messageType == "OK" && len(params) >= 2 {
			if ok, isBool := params[1].(bool); isBool && ok {
				accepted = true
			}
		}
		s.writeFrame(messageType, params...)
	}

	handler(read, write)

	if accepted {
		b.Publish(&env.Event, s.shard.ID())
	}
}

// handleReqFrame parses the subscription id and raw filters, applies the REQ
// buckets, streams stored results through the filter handler, and only then
// registers the live subscription so the EOSE ordering holds.
func handleReqFrame(s *Session, arr []json.RawMessage) {
	if len(arr) < 3 {
		s.writeFrame("NOTICE", "invalid: REQ requires a subscription id and at least one filter")
		return
	}

	var subID string
	if err := jsonFast.Unmarshal(arr[1], &subID); err != nil || subID == "" {
		s.writeFrame("NOTICE", "invalid: malformed subscription id")
		return
	}

	if !s.reqBucket.Allow() {
		s.writeFrame("CLOSED", subID, "rate-limited: req")
		return
	}

	raws := arr[2:]
	filters := make([]*query.Filter, 0, len(raws))
	sorted := false
	for _, raw := range raws {
		f := &query.Filter{}
		if err := f.UnmarshalJSON(raw); err != nil {
			s.writeFrame("CLOSED", subID, "invalid: malformed filter")
			return
		}
		if f.HasVendorExtensions() {
			sorted = true
		}
		filters = append(filters, f)
	}

	if sorted && !s.sortedBucket.Allow() {
		s.writeFrame("CLOSED", subID, "rate-limited: sorted-query")
		return
	}

	handler := lib_nostr.GetHandler("filter")
	if handler == nil {
		s.writeFrame("CLOSED", subID, "error: no query handler registered")
		return
	}

	payload := filterhandler.ReqPayload{SubscriptionID: subID, Filters: raws}

	read := func() ([]byte, error) {
		return jsonFast.Marshal(&payload)
	}

	closed := false
	write := func(messageType string, params ...interface{}) {
		if messageType == "CLOSED" {
			closed = true
		}
		s.writeFrame(messageType, params...)
	}

	handler(read, write)

	if !closed {
		s.setSubscription(subID, filters)
		logging.Debugf("Session %s subscribed %s with %d filters", s.id, subID, len(filters))
	}
}

func handleCloseFrame(s *Session, arr []json.RawMessage) {
	if len(arr) < 2 {
		return
	}
	var subID string
	if err := jsonFast.Unmarshal(arr[1], &subID); err != nil {
		return
	}
	if s.removeSubscription(subID) {
		s.writeFrame("CLOSED", subID, "Subscription closed")
	}
}
