// Package signaling serves the room-based WebSocket signaling endpoint.
//
// Each connection is bound to the room named in its URL path. Clients send
// JSON messages of the form {"type", "role", "code", "data"}; join messages
// are acknowledged to the sender, offer/answer/ice-candidate messages are
// relayed verbatim to every other member of the room, and anything else gets
// an error reply. Messages whose code does not match the connection's room
// are discarded silently.
package signaling
