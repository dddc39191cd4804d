/*
Package types defines the core data structures shared across polisd.

This package holds the domain model described by the container
platform: containers, images, layers, network and security primitives,
build recipes, and authentication sessions. Every other package in this
module depends on types for its public vocabulary; types itself depends
on nothing else in the module.

# Core Types

Container lifecycle:
  - ContainerId: opaque 128-bit identifier, UUID-rendered
  - Container: mutable record with status, timestamps, network/volume/
    resource configuration
  - ContainerStatus: Created, Running, Paused, Stopped, Exited, Dead

Images:
  - ImageRef: parsed (registry, repository, tag|digest) triple
  - Image: content-addressed image plus its ImageConfig
  - Layer: content-addressed filesystem layer, refcounted by images

Networking:
  - IpPool / Bridge / FirewallChain / DnsZone / PortForwardRule

Security:
  - SecurityProfile: namespaces, cgroup limits, capability sets, seccomp

Build:
  - BuildRecipe / BuildCacheEntry

Auth:
  - AuthSession, User, Role

# Error taxonomy

errors.go defines the Kind enum and Error type used by every component
to report failures; see that file's doc comment for the propagation
policy.

# Thread safety

Types in this package carry no locks of their own. Components that
hold collections of these types (the container registry in pkg/runtime,
the pool in pkg/ipam, and so on) are responsible for guarding concurrent
access with their own sync.RWMutex.
*/
package types
