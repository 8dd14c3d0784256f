// Package memory sizes the Go heap for the container the service runs in
// and holds new compression jobs while the heap is under pressure.
//
// # Heap limit
//
// Call [ConfigureFromEnv] first thing in main. It leaves an explicit
// GOMEMLIMIT alone; otherwise it derives one from MEMORY_LIMIT (bytes,
// usually injected with the Kubernetes Downward API) or, failing that, from
// the cgroup v2 memory.max of the process:
//
//	env:
//	- name: MEMORY_LIMIT
//	  valueFrom:
//	    resourceFieldRef:
//	      resource: limits.memory
//	- name: MEMORY_RATIO
//	  value: "0.7"
//
// MEMORY_RATIO (default 0.75) is the share of that limit given to the Go
// heap. ffmpeg runs as a child process and libvips allocates through cgo,
// so neither counts against GOMEMLIMIT; lower the ratio when many video
// jobs run at once.
//
// # Admission gate
//
// Image jobs hold the upload and the encoded result in memory, and video
// results are read back whole before delivery. [Monitor] samples heap use
// and, once it crosses the critical mark, makes [Monitor.Wait] block until
// usage falls below the high-water mark:
//
//	monitor := memory.NewMonitor(memory.DefaultConfig())
//	monitor.Start()
//	defer monitor.Stop()
//
//	limiter := compression.NewLimiter(images, videos)
//	limiter.SetGate(monitor)
//
// Jobs already running are not affected. Stop releases all waiters.
package memory
