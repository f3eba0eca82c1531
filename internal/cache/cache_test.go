package cache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDoComputesOnceThenHits(t *testing.T) {
	c := New()
	computes := 0
	compute := func() (string, error) {
		computes++
		return "valor", nil
	}

	v, hit, err := c.Do(ClassVolatile, "k", compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "valor", v)

	v, hit, err = c.Do(ClassVolatile, "k", compute)
	require.NoError(t, err)
	assert.True(t, hit)
	assert.Equal(t, "valor", v)
	assert.Equal(t, 1, computes)
}

func TestErrorsAreNeverCached(t *testing.T) {
	c := New()
	computes := 0

	_, _, err := c.Do(ClassVolatile, "k", func() (string, error) {
		computes++
		return "", errors.New("timeout")
	})
	require.Error(t, err)

	v, hit, err := c.Do(ClassVolatile, "k", func() (string, error) {
		computes++
		return "recuperado", nil
	})
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, "recuperado", v)
	assert.Equal(t, 2, computes)
}

func TestEntriesExpire(t *testing.T) {
	c := NewWithTTLs(50*time.Millisecond, time.Hour, time.Hour)
	computes := 0
	compute := func() (string, error) {
		computes++
		return "v", nil
	}

	_, _, err := c.Do(ClassVolatile, "k", compute)
	require.NoError(t, err)

	time.Sleep(120 * time.Millisecond)

	_, hit, err := c.Do(ClassVolatile, "k", compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 2, computes)
}

func TestClassesAreIsolated(t *testing.T) {
	c := New()
	computes := 0
	compute := func() (string, error) {
		computes++
		return "v", nil
	}

	_, _, err := c.Do(ClassVolatile, "k", compute)
	require.NoError(t, err)
	_, hit, err := c.Do(ClassCatalog, "k", compute)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.Equal(t, 2, computes)
}

func TestConcurrentFillsCollapse(t *testing.T) {
	c := New()
	var computes atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, _, err := c.Do(ClassVolatile, "k", func() (string, error) {
				computes.Add(1)
				time.Sleep(20 * time.Millisecond)
				return "v", nil
			})
			assert.NoError(t, err)
			assert.Equal(t, "v", v)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), computes.Load())
}

func TestPurge(t *testing.T) {
	c := New()
	_, _, err := c.Do(ClassCatalog, "k", func() (string, error) { return "v", nil })
	require.NoError(t, err)

	c.Purge()

	_, hit, err := c.Do(ClassCatalog, "k", func() (string, error) { return "v", nil })
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestKeyIsStableAcrossArgOrder(t *testing.T) {
	a := Key("get_sales_insights", map[string]string{"days": "30", "scope": "Renata"})
	b := Key("get_sales_insights", map[string]string{"scope": "Renata", "days": "30"})
	assert.Equal(t, a, b)
	assert.Equal(t, "get_sales_insights|days=30|scope=Renata", a)

	assert.NotEqual(t, a, Key("get_sales_insights", map[string]string{"days": "60", "scope": "Renata"}))
}
