package launchlane

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWithLaunchLane_EnforcesWorkspaceLimit(t *testing.T) {
	lane := NewLane()
	var inFlight int32
	var maxSeen int32
	var wg sync.WaitGroup

	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = WithLaunchLane(lane, "ws1", Options{
				Priority: PriorityNormal,
				Limits:   Limits{WorkspaceLimit: 2, ProviderLimit: 5},
			}, func() (struct{}, error) {
				cur := atomic.AddInt32(&inFlight, 1)
				for {
					prev := atomic.LoadInt32(&maxSeen)
					if cur <= prev || atomic.CompareAndSwapInt32(&maxSeen, prev, cur) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return struct{}{}, nil
			})
		}()
	}
	wg.Wait()
	require.LessOrEqual(t, int(maxSeen), 2)
}

func TestWithLaunchLane_EnforcesProviderLimit(t *testing.T) {
	lane := NewLane()
	var inFlight int32
	var maxSeen int32
	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = WithLaunchLane(lane, "ws1", Options{
				Provider: "claude",
				Priority: PriorityNormal,
				Limits:   Limits{WorkspaceLimit: 10, ProviderLimit: 1},
			}, func() (struct{}, error) {
				cur := atomic.AddInt32(&inFlight, 1)
				for {
					prev := atomic.LoadInt32(&maxSeen)
					if cur <= prev || atomic.CompareAndSwapInt32(&maxSeen, prev, cur) {
						break
					}
				}
				time.Sleep(20 * time.Millisecond)
				atomic.AddInt32(&inFlight, -1)
				return struct{}{}, nil
			})
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), maxSeen)
}

func TestWithLaunchLane_DifferentProvidersRunConcurrently(t *testing.T) {
	lane := NewLane()
	var inFlight int32
	var maxSeen int32
	var wg sync.WaitGroup

	run := func(provider string) {
		defer wg.Done()
		_, _ = WithLaunchLane(lane, "ws1", Options{
			Provider: provider,
			Priority: PriorityNormal,
			Limits:   Limits{WorkspaceLimit: 10, ProviderLimit: 1},
		}, func() (struct{}, error) {
			cur := atomic.AddInt32(&inFlight, 1)
			for {
				prev := atomic.LoadInt32(&maxSeen)
				if cur <= prev || atomic.CompareAndSwapInt32(&maxSeen, prev, cur) {
					break
				}
			}
			time.Sleep(50 * time.Millisecond)
			atomic.AddInt32(&inFlight, -1)
			return struct{}{}, nil
		})
	}

	wg.Add(2)
	go run("claude")
	go run("codex")
	wg.Wait()
	require.Equal(t, int32(2), maxSeen)
}

func TestReportProviderBackpressure_BlocksUntilCleared(t *testing.T) {
	lane := NewLane()
	lane.ReportProviderBackpressure("ws1", "claude", "rate_limited", 50*time.Millisecond, time.Second)

	done := make(chan struct{})
	go func() {
		_, _ = WithLaunchLane(lane, "ws1", Options{
			Provider: "claude",
			Priority: PriorityNormal,
			Limits:   Limits{WorkspaceLimit: 1, ProviderLimit: 1},
		}, func() (struct{}, error) {
			close(done)
			return struct{}{}, nil
		})
	}()

	select {
	case <-done:
		t.Fatal("launch should not have been admitted during cooldown")
	case <-time.After(20 * time.Millisecond):
	}

	lane.ClearProviderCooldown("ws1", "claude")
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("launch should have been admitted after cooldown cleared")
	}
}

func TestReportProviderBackpressure_GrowsExponentially(t *testing.T) {
	base := 10 * time.Millisecond
	max := 200 * time.Millisecond
	d1 := cooldownDelay(1, base, max)
	d2 := cooldownDelay(2, base, max)
	d3 := cooldownDelay(3, base, max)
	require.Greater(t, d2, d1-time.Duration(float64(d1)*0.1))
	require.Greater(t, d3, d2-time.Duration(float64(d2)*0.1))
	require.LessOrEqual(t, d3, max+time.Duration(float64(max)*0.1)+time.Millisecond)
}

func TestReadLaunchLaneStatsForWorkspace(t *testing.T) {
	lane := NewLane()
	stats := lane.ReadLaunchLaneStatsForWorkspace("ws1")
	require.Equal(t, 0, stats.Pending)
	require.Equal(t, 0, stats.Running)
	require.Empty(t, stats.ProviderCooldowns)

	lane.ReportProviderBackpressure("ws1", "claude", "rate_limited", time.Second, 10*time.Second)
	stats = lane.ReadLaunchLaneStatsForWorkspace("ws1")
	require.Contains(t, stats.ProviderCooldowns, "claude")
	require.Greater(t, stats.ProviderCooldowns["claude"], time.Duration(0))
}

func TestWithLaunchLane_HighPriorityJumpsQueuedNormalWaiters(t *testing.T) {
	lane := NewLane()
	var order []int
	var mu sync.Mutex
	record := func(id int) {
		mu.Lock()
		order = append(order, id)
		mu.Unlock()
	}

	limits := Limits{WorkspaceLimit: 1, ProviderLimit: 1}
	blocker := make(chan struct{})
	started := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = WithLaunchLane(lane, "ws1", Options{Provider: "claude", Priority: PriorityNormal, Limits: limits}, func() (struct{}, error) {
			record(0)
			close(started)
			<-blocker
			return struct{}{}, nil
		})
	}()
	<-started
	time.Sleep(10 * time.Millisecond)

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = WithLaunchLane(lane, "ws1", Options{Provider: "claude", Priority: PriorityNormal, Limits: limits}, func() (struct{}, error) {
			record(1)
			return struct{}{}, nil
		})
	}()
	time.Sleep(10 * time.Millisecond)

	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = WithLaunchLane(lane, "ws1", Options{Provider: "claude", Priority: PriorityHigh, Limits: limits}, func() (struct{}, error) {
			record(2)
			return struct{}{}, nil
		})
	}()
	time.Sleep(10 * time.Millisecond)

	close(blocker)
	wg.Wait()

	require.Equal(t, []int{0, 2, 1}, order)
}
