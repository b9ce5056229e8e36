// Package wire defines the socket protocol: event names and the JSON
// payload shapes both sides exchange.
//
// Every frame is an Envelope with an event name and a raw payload. An
// inbound envelope may carry an ack id; the server resolves it with an
// "ack" event carrying the same id once the operation settles, either
// with the persisted message or an error string.
//
// Status models the delivery lifecycle of a message. Rank orders statuses
// so both sides can enforce monotonic transitions: a late delivered
// update never regresses a read message.
package wire
