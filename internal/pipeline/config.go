package pipeline

import "time"

// Config contains the values controlling how deliveries are detected,
// stabilized and processed. The defaults applied by the configuration
// surface suit a producer that writes parts continuously and pauses for
// a second or two once a delivery is complete.
type Config struct {
	// WatchPath is the directory tree the remote distributor deposits
	// files into. Parts under it are only ever read, never moved or
	// deleted, to avoid racing the producer.
	WatchPath string

	// OutputPath is the root under which extracted item output is
	// published, one directory per item.
	OutputPath string

	// Debounce is the coalescing window for filesystem event bursts.
	Debounce time.Duration

	// QuiescenceInterval separates the consecutive polls a part set
	// must survive unchanged before its item is considered fully
	// written.
	QuiescenceInterval time.Duration

	// NeverStabilizedCeiling bounds how long an item may sit in
	// Stabilizing without reaching quiescence before it is failed.
	NeverStabilizedCeiling time.Duration

	// IncompleteSequenceCeiling bounds how long an item may wait on a
	// gap in its part sequence before it is failed.
	IncompleteSequenceCeiling time.Duration

	// RescanInterval is how often the watch root is re-walked to catch
	// events the native watcher missed.
	RescanInterval time.Duration

	// AssemblyParallelism and ProbeParallelism size the bounded worker
	// pools for the assembly and probing stages.
	AssemblyParallelism int
	ProbeParallelism    int
}
