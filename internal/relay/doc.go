// Package relay contains the room relays signaling sessions publish to and
// subscribe from: an in-process hub, a Redis-backed relay and a websocket
// client of the roomcall relay server.
//
// All of them deliver a publisher's own messages back to it; filtering is
// the session's job.
package relay
