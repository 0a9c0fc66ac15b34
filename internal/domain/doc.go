// Package domain models the results of seismic detection.
//
// # Clusters
//
// A [Cluster] groups picks from different stations that are believed to come
// from one source. It holds at most one pick per station and never fewer than
// [MinClusterSize] while active. Picks are owned by their stations; a cluster
// only records which pick it claims for each station, and a pick names at
// most one owning cluster.
//
// # Hypocenters
//
// Search produces [PreliminaryHypocenter] candidates that are compared with
// [Better]. The comparator is not a total order:
//
//	a wins outright when it has at least 30% more correct events than b
//	otherwise the higher correct / (err² + 2) wins
//
// An accepted [Hypocenter] adds confidence intervals, magnitude, the obvious
// arrivals diagnostic and a [Quality] grade.
//
// # Earthquakes
//
// An [Earthquake] is created when a cluster's first hypocenter is accepted.
// Its location and magnitude accessors read through to the cluster, so the
// quake always reflects the latest revision. Quakes are archived after a
// magnitude-dependent retention (see [StoreDurationMs]):
//
//	M < 3.0        3 min
//	M 3.0 - 4.9    5 to 16 min
//	M 5.0 - 6.9    30 min
//	M >= 7.0       60 min
//
// # Time
//
// Timestamps are Unix milliseconds (int64) throughout detection.
package domain
