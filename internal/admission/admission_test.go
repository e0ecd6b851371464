package admission

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAdmitRejectRelease(t *testing.T) {
	c := NewController()

	require.True(t, c.TryAdmit("alice"))
	require.False(t, c.TryAdmit("alice"), "second admission for the same subject must fail")
	require.True(t, c.TryAdmit("bob"), "other subjects are unaffected")
	require.Equal(t, 2, c.Count())
	require.True(t, c.Active("alice"))

	c.Release("alice")
	require.False(t, c.Active("alice"))
	require.True(t, c.TryAdmit("alice"), "released subject admits again")
}

func TestReleaseUnadmittedIsNoop(t *testing.T) {
	c := NewController()
	c.Release("ghost")
	c.Release("ghost")
	require.Zero(t, c.Count())
}

func TestConcurrentAdmitSingleWinner(t *testing.T) {
	c := NewController()

	const racers = 32
	var wg sync.WaitGroup
	admitted := make(chan bool, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			admitted <- c.TryAdmit("contested")
		}()
	}
	wg.Wait()
	close(admitted)

	wins := 0
	for ok := range admitted {
		if ok {
			wins++
		}
	}
	require.Equal(t, 1, wins)
	require.Equal(t, 1, c.Count())
}
