// Package topology defines the entities of an emulated Internet.
//
// # Core Types
//
// Node is a host, router or route server. It carries its network
// memberships, provisioning instructions (software, files, build and start
// commands, published ports) and the markers layers use to stay idempotent.
//
// Network is a layer 2 segment with an IPv4 prefix. It hands out addresses
// through an AddressAssignmentConstraint and records every lease so that an
// address held by one node is never given to another.
//
// AutonomousSystem and InternetExchange own networks and nodes until they are
// registered into an emulator. An exchange owns its peering LAN and a route
// server joined to it at construction.
//
// # Remote Access
//
// RemoteAccessProvider is the capability attached to a network to make it
// reachable from outside the emulation through a bridge node.
package topology
