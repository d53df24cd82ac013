// Package discovery advertises the alarm host and lets nodes find it.
//
// Three backends share the Advertiser and Watcher interfaces: multicast DNS
// for a single local network, etcd leases for routed deployments and a static
// address list. Watchers emit Added when a host becomes reachable and Removed
// when it goes away; consumers decide which notifications to act on.
package discovery
