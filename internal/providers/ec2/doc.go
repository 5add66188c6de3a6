// ec2 implements lifecycle.Compute on AWS EC2.
//
// # Overview
//
// Instances are discovered by their Name tag, launched from the most recent
// image matching a per-OS name pattern and reached through Elastic IPs.
//
// # Waits
//
// Running and terminated states are awaited with the SDK waiters, bounded by
// Config.WaitTimeout.
//
// # Elastic IPs
//
// Addresses are allocated in the vpc domain and tagged with the instance's
// descriptive tags. Teardown enumerates every address associated with an
// instance, so addresses leaked by earlier runs are released too.
package ec2
