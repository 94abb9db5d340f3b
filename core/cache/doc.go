// Package cache holds loaded blocks keyed by grid cell.
//
// A request names a cell, a loading [Strategy] and the function that loads
// it. Misses are handed to a fetch scheduler as jobs; concurrent requests for
// the same cell share one pending entry and one store read. Entries live until
// the whole cache is cleared.
package cache
