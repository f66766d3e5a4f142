// Package lease provides mutual exclusion across processes through a Redis
// key with a TTL. It is the process-external counterpart of the in-process
// spin mutex: same closure-shaped API, but acquisition is interruptible
// through the context and the exclusion expires instead of deadlocking when
// the holder dies.
package lease

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/xid"
)

var (
	// ErrNotObtained is returned when the key is held by someone else and
	// the configured retries are exhausted.
	ErrNotObtained = errors.New("lease: not obtained")
	// ErrNotHeld is returned when releasing or refreshing a lease whose
	// token no longer matches the key, usually because the TTL lapsed.
	ErrNotHeld = errors.New("lease: not held")
)

var (
	// obtain re-extends a lease this holder already has, otherwise takes
	// the key only if nobody holds it.
	luaObtain = redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
			return "OK"
		else
			return redis.call("SET", KEYS[1], ARGV[1], "NX", "PX", ARGV[2])
		end`)
	luaRefresh = redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("PEXPIRE", KEYS[1], ARGV[2])
		else
			return 0
		end`)
	luaRelease = redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		else
			return 0
		end`)
)

type Options struct {
	// TTL is how long the key lives after each obtain or refresh.
	TTL time.Duration
	// RetryCount is how many additional attempts follow a busy first one.
	RetryCount int
	// RetryDelay is the pause between attempts.
	RetryDelay time.Duration
	// TokenPrefix is prepended to the generated holder token, handy for
	// telling holders apart in Redis.
	TokenPrefix string
}

func (o *Options) normalize() {
	if o.TTL < 1 {
		o.TTL = 5 * time.Second
	}
	if o.RetryCount < 0 {
		o.RetryCount = 0
	}
	if o.RetryDelay < 1 {
		o.RetryDelay = 100 * time.Millisecond
	}
}

// Lease is a single-holder claim on one Redis key. The holder token is fixed
// at construction, so a Lock by the current holder re-extends the TTL rather
// than failing. A Lease is not safe for concurrent use; share the key, not
// the Lease.
type Lease struct {
	client redis.UniversalClient
	key    string
	opts   Options
	token  string
	held   bool
}

func New(client redis.UniversalClient, key string, opts *Options) *Lease {
	var o Options
	if opts != nil {
		o = *opts
	}
	o.normalize()
	return &Lease{
		client: client,
		key:    key,
		opts:   o,
		token:  o.TokenPrefix + xid.New().String(),
	}
}

// Obtain is a shortcut for New followed by Lock.
func Obtain(ctx context.Context, client redis.UniversalClient, key string, opts *Options) (*Lease, error) {
	l := New(client, key, opts)
	if err := l.Lock(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// Run obtains the lease, calls fn and releases. fn's error wins over a
// release error. fn must return before the TTL lapses or the exclusion is
// gone while it still runs; long operations should Refresh along the way.
func Run(ctx context.Context, client redis.UniversalClient, key string, opts *Options, fn func(ctx context.Context) error) error {
	l, err := Obtain(ctx, client, key, opts)
	if err != nil {
		return err
	}
	runErr := fn(ctx)
	if err := l.Unlock(ctx); err != nil && runErr == nil {
		return err
	}
	return runErr
}

// Lock claims the key, waiting RetryDelay between attempts up to RetryCount
// retries. Waiting is cut short by ctx; the ctx error is returned as-is in
// that case.
func (l *Lease) Lock(ctx context.Context) error {
	attempts := l.opts.RetryCount + 1
	var delay *time.Timer
	defer func() {
		if delay != nil {
			delay.Stop()
		}
	}()
	for {
		ok, err := l.obtain(ctx)
		if err != nil {
			return err
		} else if ok {
			l.held = true
			return nil
		}
		if attempts--; attempts <= 0 {
			return ErrNotObtained
		}
		if delay == nil {
			delay = time.NewTimer(l.opts.RetryDelay)
		} else {
			delay.Reset(l.opts.RetryDelay)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-delay.C:
		}
	}
}

// Refresh pushes the TTL back out to its full length. It fails with
// ErrNotHeld once the key expired or changed hands; the caller decides
// whether to Lock again.
func (l *Lease) Refresh(ctx context.Context) error {
	if !l.held {
		return ErrNotHeld
	}
	status, err := luaRefresh.Run(ctx, l.client, []string{l.key}, l.token, l.ttlArg()).Result()
	if err != nil {
		return err
	}
	if i, ok := status.(int64); !ok || i != 1 {
		l.held = false
		return ErrNotHeld
	}
	return nil
}

// Unlock deletes the key if this holder still owns it.
func (l *Lease) Unlock(ctx context.Context) error {
	if !l.held {
		return ErrNotHeld
	}
	l.held = false
	res, err := luaRelease.Run(ctx, l.client, []string{l.key}, l.token).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNotHeld
		}
		return err
	}
	if i, ok := res.(int64); !ok || i != 1 {
		return ErrNotHeld
	}
	return nil
}

// Token returns the holder token while the lease is held, otherwise "".
func (l *Lease) Token() string {
	if !l.held {
		return ""
	}
	return l.token
}

func (l *Lease) obtain(ctx context.Context) (bool, error) {
	res, err := luaObtain.Run(ctx, l.client, []string{l.key}, l.token, l.ttlArg()).Result()
	if err != nil {
		// SET NX on a held key replies nil, surfaced as redis.Nil.
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, err
	}
	reply, _ := res.(string)
	return reply == "OK", nil
}

func (l *Lease) ttlArg() string {
	return strconv.FormatInt(l.opts.TTL.Milliseconds(), 10)
}
