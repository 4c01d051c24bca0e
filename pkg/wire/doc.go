// Package wire defines the JSON message envelope exchanged between an agent
// and its controller over the persistent connection.
//
// Every frame carries exactly one Message. Four message types flow in normal
// operation:
//
//   - "command": controller -> agent, addressed to a device
//   - "result": agent -> controller, correlated to a command by id
//   - "ping"/"pong": health probes in either direction
//
// Agents additionally send "status" reports after (re)connecting.
//
// Validation happens at decode time: a command without an id, deviceId, or
// action never reaches the dispatch layer, and a failed result must carry an
// error code from the taxonomy in this package.
package wire
