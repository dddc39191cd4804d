/*
Package security is SecurityMgr: the composite that engages
namespaces, a cgroup, a seccomp profile, and a capability set for each
container.

Manager composes four independent sub-managers — NamespaceManager,
CgroupManager, SeccompManager, CapabilityManager — each tracking its
own resource under its own lock, following the rest of the module's
one-lock-per-resource convention. ResolveProfile expands one of the
three built-in profile names (default, high-security, privileged) into
a concrete types.SecurityProfile; Secure engages all four sub-managers
for a container in one call, and Teardown reverses it.

Namespaces are tracked by path convention; only the network namespace
is created for real, via github.com/vishvananda/netns — the rest are
placed by ProcessMgr's OCI spec fragment when it spawns the container's
init process. Cgroups use github.com/containerd/cgroups/v3/cgroup1.
Seccomp profiles compile to github.com/seccomp/libseccomp-golang
filters loaded immediately before exec.
*/
package security
