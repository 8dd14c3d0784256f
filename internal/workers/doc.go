/*
Package workers sizes job concurrency in containerized environments.

When running in a container the number of usable CPUs may be limited by
cgroup constraints. Go 1.19+ sets GOMAXPROCS from that limit, while
runtime.NumCPU() still returns the host's CPU count, so sizing is always
derived from GOMAXPROCS:

	// Wrong: Returns 64 (host CPUs), ignores container limit
	jobs := runtime.NumCPU()

	// Correct: Returns 2 (respects container limit)
	jobs := runtime.GOMAXPROCS(0)

# Usage

	imageSlots := workers.ForImages(0) // 1 per CPU
	videoSlots := workers.ForVideos(4) // 1 per 2 CPUs, at most 4

The results size the admission semaphores in the compression package.

# Environment Variable Override

MAX_IMAGE_JOBS and MAX_VIDEO_JOBS override the calculation when set to a
positive integer:

	env:
	- name: MAX_VIDEO_JOBS
	  value: "2"

The cap passed by the caller still applies to an override.
*/
package workers
