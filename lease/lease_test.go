package lease

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"
)

const testKey = "__spinlock_lease_unit_test__"

var ctx = context.Background()

var _ = Describe("Lease", func() {
	var subject *Lease

	hostname, _ := os.Hostname()
	tokenPfx := fmt.Sprintf("%s-%d-", hostname, os.Getpid())

	var newLease = func() *Lease {
		return New(redisClient, testKey, &Options{
			TTL:         time.Second,
			RetryCount:  4,
			RetryDelay:  25 * time.Millisecond,
			TokenPrefix: tokenPfx,
		})
	}

	var getTTL = func() (time.Duration, error) {
		return redisClient.PTTL(ctx, testKey).Result()
	}

	BeforeEach(func() {
		subject = newLease()
	})

	AfterEach(func() {
		Expect(redisClient.Del(ctx, testKey).Err()).NotTo(HaveOccurred())
	})

	It("should normalize options", func() {
		l := New(redisClient, testKey, &Options{TTL: -1, RetryCount: -1, RetryDelay: -1})
		Expect(l.opts).To(Equal(Options{
			TTL:        5 * time.Second,
			RetryCount: 0,
			RetryDelay: 100 * time.Millisecond,
		}))
	})

	It("should obtain fresh leases", func() {
		Expect(subject.Lock(ctx)).To(Succeed())

		// xid tokens are 20 characters
		Expect(redisClient.Get(ctx, testKey).Result()).To(HaveLen(20 + len(tokenPfx)))
		Expect(getTTL()).To(BeNumerically("~", time.Second, 50*time.Millisecond))

		Expect(subject.Unlock(ctx)).To(Succeed())
	})

	It("should re-extend when the holder locks again", func() {
		Expect(subject.Lock(ctx)).To(Succeed())
		token := subject.Token()

		Expect(redisClient.PExpire(ctx, testKey, 100*time.Millisecond).Err()).NotTo(HaveOccurred())
		Expect(subject.Lock(ctx)).To(Succeed())
		Expect(subject.Token()).To(Equal(token))
		Expect(getTTL()).To(BeNumerically("~", time.Second, 50*time.Millisecond))

		Expect(subject.Unlock(ctx)).To(Succeed())
	})

	It("should fail while someone else holds the key", func() {
		Expect(redisClient.Set(ctx, testKey, "ABCD", 0).Err()).NotTo(HaveOccurred())

		l := New(redisClient, testKey, nil)
		Expect(l.Lock(ctx)).To(MatchError(ErrNotObtained))
		Expect(l.Token()).To(BeEmpty())
		Expect(redisClient.Get(ctx, testKey).Result()).To(Equal("ABCD"))
	})

	It("should retry until the key frees up", func() {
		Expect(redisClient.Set(ctx, testKey, "ABCD", 30*time.Millisecond).Err()).NotTo(HaveOccurred())

		Expect(subject.Lock(ctx)).To(Succeed())
		Expect(redisClient.Get(ctx, testKey).Result()).To(Equal(subject.Token()))
		Expect(subject.Unlock(ctx)).To(Succeed())
	})

	It("should stop retrying when the context ends", func() {
		Expect(redisClient.Set(ctx, testKey, "ABCD", 0).Err()).NotTo(HaveOccurred())

		short, cancel := context.WithTimeout(ctx, 60*time.Millisecond)
		defer cancel()
		l := New(redisClient, testKey, &Options{RetryCount: 100, RetryDelay: 25 * time.Millisecond})
		Expect(l.Lock(short)).To(MatchError(context.DeadlineExceeded))
	})

	It("should refresh a held lease", func() {
		Expect(subject.Lock(ctx)).To(Succeed())

		Expect(redisClient.PExpire(ctx, testKey, 100*time.Millisecond).Err()).NotTo(HaveOccurred())
		Expect(subject.Refresh(ctx)).To(Succeed())
		Expect(getTTL()).To(BeNumerically("~", time.Second, 50*time.Millisecond))

		Expect(subject.Unlock(ctx)).To(Succeed())
	})

	It("should fail to release an expired lease", func() {
		l := New(redisClient, testKey, &Options{TTL: 50 * time.Millisecond, TokenPrefix: tokenPfx})
		Expect(l.Lock(ctx)).To(Succeed())

		time.Sleep(120 * time.Millisecond)
		Expect(l.Unlock(ctx)).To(MatchError(ErrNotHeld))
	})

	It("should refuse refresh and unlock when never held", func() {
		Expect(subject.Refresh(ctx)).To(MatchError(ErrNotHeld))
		Expect(subject.Unlock(ctx)).To(MatchError(ErrNotHeld))
	})

	It("should obtain through the shortcut", func() {
		l, err := Obtain(ctx, redisClient, testKey, nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(l.Unlock(ctx)).To(Succeed())
	})

	It("should run a function under the lease", func() {
		ran := false
		err := Run(ctx, redisClient, testKey, nil, func(ctx context.Context) error {
			ran = true
			Expect(redisClient.Exists(ctx, testKey).Val()).To(Equal(int64(1)))
			return nil
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(ran).To(BeTrue())
		Expect(redisClient.Exists(ctx, testKey).Val()).To(Equal(int64(0)))
	})

	It("should serialize two contenders through Run", func() {
		var (
			wg  sync.WaitGroup
			res int32
		)

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer GinkgoRecover()

			err := Run(ctx, redisClient, testKey, &Options{RetryCount: 20, RetryDelay: 10 * time.Millisecond}, func(ctx context.Context) error {
				atomic.AddInt32(&res, 1)
				return nil
			})
			Expect(err).NotTo(HaveOccurred())
		}()

		err := Run(ctx, redisClient, testKey, &Options{RetryCount: 5, RetryDelay: 10 * time.Millisecond}, func(ctx context.Context) error {
			atomic.AddInt32(&res, 1)
			time.Sleep(20 * time.Millisecond)
			return nil
		})
		wg.Wait()

		Expect(err).NotTo(HaveOccurred())
		Expect(atomic.LoadInt32(&res)).To(Equal(int32(2)))
	})
})

// --------------------------------------------------------------------

func TestLease(t *testing.T) {
	addr := redisAddr()
	probe := redis.NewClient(&redis.Options{Addr: addr, DB: 9})
	if err := probe.Ping(context.Background()).Err(); err != nil {
		_ = probe.Close()
		t.Skipf("redis unreachable at %s: %v", addr, err)
	}
	_ = probe.Close()

	RegisterFailHandler(Fail)
	RunSpecs(t, "lease")
}

func redisAddr() string {
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		return addr
	}
	return "127.0.0.1:6379"
}

var redisClient *redis.Client

var _ = BeforeSuite(func() {
	redisClient = redis.NewClient(&redis.Options{
		Network: "tcp",
		Addr:    redisAddr(),
		DB:      9,
	})
	Expect(redisClient.Ping(ctx).Err()).NotTo(HaveOccurred())
})

var _ = AfterSuite(func() {
	Expect(redisClient.Close()).To(Succeed())
})
