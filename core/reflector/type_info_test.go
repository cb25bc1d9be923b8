package reflector

import (
	"reflect"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type courseCreated struct {
	Name string
}

func TestTypeInfoOf(t *testing.T) {
	ti := TypeInfoOf(courseCreated{Name: "math"})
	require.Equal(t, "github.com/codewandler/dcb-go/core/reflector.courseCreated", ti.Name)
	require.Equal(t, "courseCreated", ti.Short)

	ptr := TypeInfoOf(&courseCreated{})
	require.Equal(t, ti.Name, ptr.Name)
	require.NotEqual(t, reflect.Pointer, ptr.Type.Kind())

	require.Equal(t, ti, TypeInfoFor[courseCreated]())
	require.Equal(t, ti, TypeInfoFor[*courseCreated]())
}

func TestTypeInfoOf_Unnamed(t *testing.T) {
	require.Equal(t, "map[string]int", NameOf(map[string]int{}))
	require.Equal(t, TypeInfo{}, TypeInfoOf(nil))
}

func TestDeref(t *testing.T) {
	v := courseCreated{Name: "x"}
	require.Equal(t, v, Deref(&v))
	require.Equal(t, v, Deref(v))
	var nilPtr *courseCreated
	require.Equal(t, nilPtr, Deref(nilPtr))
}

type seatReserved struct{}

func TestTypeInfoOf_Concurrent(t *testing.T) {
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if got := TypeInfoOf(seatReserved{}).Short; got != "seatReserved" {
				t.Errorf("short name %q", got)
			}
		}()
	}
	close(start)
	wg.Wait()

	muCache.RLock()
	defer muCache.RUnlock()
	require.Equal(t, "seatReserved", cache[reflect.TypeFor[seatReserved]()].Short)
}

func TestTypeInfoForType_KeepsCachedEntry(t *testing.T) {
	type ledgerOpened struct{}
	typ := reflect.TypeFor[ledgerOpened]()
	want := TypeInfo{Name: "ledger.Opened", Short: "Opened", Type: typ}

	muCache.Lock()
	cache[typ] = want
	muCache.Unlock()

	require.Equal(t, want, TypeInfoForType(typ))
	require.Equal(t, want, TypeInfoOf(&ledgerOpened{}))
}
