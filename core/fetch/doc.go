// Package fetch schedules block loads on a fixed pool of fetcher goroutines.
//
// Jobs wait in a [Queue] with one deque per priority; priority 0 is served
// first. Coarse pyramid levels are given lower indices so a viewer sees a
// blurry image quickly and refines it as finer blocks arrive. Jobs demoted
// with [Queue.ClearToPrefetch] move to a bounded prefetch deque that is
// served only when every priority deque is empty.
package fetch
