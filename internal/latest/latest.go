// Package latest holds the channel idioms used between workers: producers
// never block, and consumers only care about the most recent value.
package latest

// Offer sends v on c. When c is full the oldest buffered value is dropped to
// make room, so a slow consumer bounds latency instead of stalling the producer.
// c must be buffered, and Offer must only be called from its single producer.
func Offer[T any](c chan T, v T) {
	for {
		select {
		case c <- v:
			return
		default:
		}
		select {
		case <-c:
		default:
		}
	}
}

// Drain empties c without blocking and returns the last value received.
// ok is false when nothing was pending.
func Drain[T any](c <-chan T) (v T, ok bool) {
	for {
		select {
		case x, open := <-c:
			if !open {
				return v, ok
			}
			v, ok = x, true
		default:
			return v, ok
		}
	}
}
