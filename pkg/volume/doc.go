/*
Package volume resolves a container's VolumeMount entries to host
paths for the runtime driver to bind into the container.

There are three mount modes: bind (an existing host path, passed
through after validation), volume (a name resolved to a directory
under Manager's base path, created on first use), and tmpfs (no host
path at all). There is no named-Volume entity or driver registry here,
only mount resolution at container-create time.
*/
package volume
