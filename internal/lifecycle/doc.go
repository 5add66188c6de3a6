// lifecycle turns an instance configuration into a running, reachable and
// fully initialized compute resource, and tears it down again.
//
// # Overview
//
// A Controller drives one instance against two injected collaborators: a
// Compute provider (EC2, docker, ...) and an ObjectStore backing the
// readiness channel. Controllers for one scenario are built from a shared
// Manager.
//
// # Start
//
//  1. Discover - look up a non-terminated resource tagged with the instance
//     Identity. If one exists it is adopted and creation is skipped.
//  2. Create - select the most recent matching image, launch the resource
//     with the assembled startup script as guest init data.
//  3. Tag - write the Name, InstanceName, SubnetName, CloudName,
//     ScenarioName and DateCreated tags.
//  4. Wait - block until the provider reports the resource running.
//  5. Address - allocate and associate a public address when the instance is
//     internet accessible.
//  6. Reload - refresh the resource attributes (public address).
//  7. Readiness - poll the readiness marker until the guest has written it.
//
// # Stop
//
//  1. Address - disassociate and release every public address associated
//     with the resource.
//  2. Terminate - terminate the resource and wait until it is gone.
//  3. Readiness - delete the readiness marker.
//
// # Idempotence
//
// Provider failures are never retried internally. Callers retry Start or
// Stop as a whole; discovery before creation and enumerate-then-release
// teardown make both safe to repeat. Concurrent Start calls for the same
// identity within one process share a single discover-or-create through the
// Manager; across processes the race is not guarded.
package lifecycle
