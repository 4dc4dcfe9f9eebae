// Package redislock implements the distributed lock provider for the
// periodic runner on redis. A lock is a key holding a random owner token,
// set with SET NX PX and extended or released with scripts which check the
// owner first.
package redislock
