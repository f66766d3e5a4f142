// Package spinlock provides a busy-wait mutual exclusion cell that owns the
// value it protects.
//
// A Mutex[T] pairs a one-word lock flag with an inline payload of type T. The
// payload is reachable only through the WithLock entry points, which hand the
// caller's operation a pointer to it while the flag is held. The flag
// transition, not the type system, is what makes that pointer exclusive, so
// leaking it out of the operation breaks the lock.
//
// Three acquire/release protocols are provided side by side on purpose. They
// are successive stages of the same lock, kept as separate entry points
// because their distinct failure and success behaviors are what the package
// demonstrates:
//
//   - WithLock: load then store. Broken under contention; the check and the
//     act are two separate operations, and two goroutines can pass the check
//     before either acts.
//   - WithLock2: compare-and-swap. Exclusion holds, but every waiter retries
//     the read-modify-write on each spin, so all waiters fight over the
//     flag's cache line for as long as they wait.
//   - WithLock3: compare-and-swap with a read-only wait loop between
//     attempts. Correct and quiet while waiting. Use this one.
//
// All three spin without yielding, sleeping or backing off. A waiter occupies
// its CPU until the flag clears, which is only acceptable for critical
// sections of a few instructions; anything longer belongs under sync.Mutex.
// Acquisition is not interruptible and has no timeout. The lock is not
// reentrant: acquiring a Mutex from inside its own held section spins
// forever. If the operation panics, the flag stays locked and every later
// acquisition spins forever; there is no unlock on unwind and no poisoning.
package spinlock

import "sync/atomic"

const (
	unlocked uint32 = 0
	locked   uint32 = 1
)

// Mutex is a spin mutex that owns a value of type T. The zero value is an
// unlocked Mutex owning the zero value of T.
//
// A Mutex must not be copied after first use. It is shared by reference among
// any number of goroutines; the value inside is only ever touched by the one
// currently holding the flag.
type Mutex[T any] struct {
	noCopy noCopy
	flag   uint32
	value  T
}

// New returns an unlocked Mutex owning v.
func New[T any](v T) *Mutex[T] {
	return &Mutex[T]{value: v}
}

// WithLock runs f with what is supposed to be exclusive access to the
// protected value and returns f's result.
//
// Supposed to be: the wait loop observes the flag unlocked and only then
// writes it locked, but the observation and the write are two separate
// atomic operations. Two goroutines can both see unlocked before either
// writes, and both enter their sections at once. The window is deliberate
// and must stay; it is the canonical check-then-act race, and the reason the
// other two entry points exist. Under `go test -race`, contended use is
// reported as a data race on the payload.
//
// Without contention the protocol is sound, which is exactly what makes the
// bug easy to ship.
func WithLock[T, R any](m *Mutex[T], f func(*T) R) R {
	for atomic.LoadUint32(&m.flag) == locked {
		// spin
	}
	// A second goroutine can pass the check in this window.
	atomic.StoreUint32(&m.flag, locked)
	r := f(&m.value)
	atomic.StoreUint32(&m.flag, unlocked)
	return r
}

// WithLock2 runs f with exclusive access to the protected value and returns
// f's result.
//
// The unlocked check and the locked write are a single compare-and-swap, so
// exactly one waiter can win each transition and the WithLock race is gone.
// Waiting is the crude part: a failed attempt is retried immediately, and
// every retry is another exclusive-access read-modify-write on the same
// word. All waiters pull the flag's cache line back and forth for as long as
// the holder runs. WithLock3 gives the same guarantee without the traffic.
func WithLock2[T, R any](m *Mutex[T], f func(*T) R) R {
	for !atomic.CompareAndSwapUint32(&m.flag, unlocked, locked) {
		// spin
	}
	r := f(&m.value)
	atomic.StoreUint32(&m.flag, unlocked)
	return r
}

// WithLock3 runs f with exclusive access to the protected value and returns
// f's result. This is the protocol the package exists to provide; prefer it
// over the other two outside of demonstrations.
//
// Acquisition is the same compare-and-swap as WithLock2, but a failed
// attempt drops into a read-only loop until the flag reads unlocked before
// the swap is tried again (test, then test-and-set). The reads are satisfied
// from the waiter's own copy of the cache line until the holder's release
// write invalidates it, so waiters sit quietly and at most one swap is raced
// per handoff.
//
// The winning swap is the acquire point of the critical section and the
// unlock store its release point. Everything f does to memory sits between
// the two, and the release-to-acquire pairing on the same flag orders one
// holder's writes before the next holder's reads. Go's atomic operations
// carry this ordering themselves, which is why a value mutated under
// WithLock3 is never stale for the next WithLock3 caller on any
// architecture, including ones that reorder plain stores.
func WithLock3[T, R any](m *Mutex[T], f func(*T) R) R {
	for !atomic.CompareAndSwapUint32(&m.flag, unlocked, locked) {
		for atomic.LoadUint32(&m.flag) == locked {
			// wait for the release write to reach this cache line
		}
	}
	r := f(&m.value)
	atomic.StoreUint32(&m.flag, unlocked)
	return r
}

// TryWithLock attempts the compare-and-swap once. On success it runs f and
// returns f's result and true; otherwise it returns the zero R and false
// without spinning. Called on a Mutex the caller already holds, it returns
// false, which makes the lock's non-reentrancy observable without hanging a
// goroutine.
func TryWithLock[T, R any](m *Mutex[T], f func(*T) R) (R, bool) {
	if !atomic.CompareAndSwapUint32(&m.flag, unlocked, locked) {
		var zero R
		return zero, false
	}
	r := f(&m.value)
	atomic.StoreUint32(&m.flag, unlocked)
	return r, true
}

// Locked reports whether the flag read locked at some instant during the
// call. The answer can be stale by the time it returns; it is for stats and
// tests, never for deciding an access.
func (m *Mutex[T]) Locked() bool {
	return atomic.LoadUint32(&m.flag) == locked
}

// noCopy makes `go vet` flag copies of a Mutex after first use.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}
