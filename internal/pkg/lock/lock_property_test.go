// Property-based tests for per-user lock serialization.
package lock

import (
	"sync"
	"testing"

	"pgregory.net/rapid"
)

// TestConcurrentXPAccumulationProperty checks that concurrent XP credits for
// the same user, serialized through the lock, always produce the sequential
// total.
func TestConcurrentXPAccumulationProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		numOps := rapid.IntRange(2, 20).Draw(t, "numOps")

		credits := make([]int64, numOps)
		var expected int64
		for i := 0; i < numOps; i++ {
			credits[i] = rapid.Int64Range(0, 500).Draw(t, "credit")
			expected += credits[i]
		}

		userID := rapid.Int64Range(1, 1000000).Draw(t, "userID")

		ul := NewUserLock()
		var total int64

		var wg sync.WaitGroup
		wg.Add(numOps)
		for _, credit := range credits {
			go func(amount int64) {
				defer wg.Done()
				ul.Lock(userID)
				defer ul.Unlock(userID)
				// Read-modify-write is safe only because of the lock.
				total += amount
			}(credit)
		}
		wg.Wait()

		if total != expected {
			t.Fatalf("expected total %d, got %d", expected, total)
		}
	})
}

// TestIndependentUsersDoNotBlockProperty checks that locks for distinct
// users are independent: TryLock on user B succeeds while user A is held.
func TestIndependentUsersDoNotBlockProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		userA := rapid.Int64Range(1, 1000000).Draw(t, "userA")
		userB := rapid.Int64Range(1000001, 2000000).Draw(t, "userB")

		ul := NewUserLock()
		ul.Lock(userA)
		defer ul.Unlock(userA)

		if !ul.TryLock(userB) {
			t.Fatalf("lock for user %d blocked by unrelated user %d", userB, userA)
		}
		ul.Unlock(userB)
	})
}

// TestTryLockExcludesSecondHolder verifies mutual exclusion on one user.
func TestTryLockExcludesSecondHolder(t *testing.T) {
	ul := NewUserLock()
	userID := int64(42)

	if !ul.TryLock(userID) {
		t.Fatal("first TryLock should succeed")
	}
	if ul.TryLock(userID) {
		t.Fatal("second TryLock should fail while lock is held")
	}
	ul.Unlock(userID)

	if !ul.TryLock(userID) {
		t.Fatal("TryLock should succeed after Unlock")
	}
	ul.Unlock(userID)
}
