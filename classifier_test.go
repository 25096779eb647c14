package flowtrace

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeDirectBuf struct {
	refs   int
	direct bool
}

func (b *fakeDirectBuf) RefCnt() int    { return b.refs }
func (b *fakeDirectBuf) IsDirect() bool { return b.direct }

type unrecognized struct{}

func TestRefCountedClassifierRecognizesRefCounted(t *testing.T) {
	c := refCountedClassifier{}
	b := &fakeDirectBuf{refs: 3, direct: true}
	require.True(t, c.Recognizes(b))
	require.Equal(t, 3, c.Metric(b))
	require.True(t, c.IsDirect(b))
	require.Equal(t, "refcounted", c.Name())
}

func TestRefCountedClassifierRejectsUnrelated(t *testing.T) {
	c := refCountedClassifier{}
	require.False(t, c.Recognizes(&unrecognized{}))
}

type refOnlyBuf struct{ refs int }

func (b *refOnlyBuf) RefCnt() int { return b.refs }

func TestRefCountedClassifierDefaultsIsDirectFalse(t *testing.T) {
	c := refCountedClassifier{}
	b := &refOnlyBuf{refs: 1}
	require.True(t, c.Recognizes(b))
	require.False(t, c.IsDirect(b))
}

type customClassifier struct{ name string }

func (c *customClassifier) Recognizes(obj any) bool { _, ok := obj.(*unrecognized); return ok }
func (c *customClassifier) Metric(obj any) int      { return 42 }
func (c *customClassifier) IsDirect(obj any) bool   { return true }
func (c *customClassifier) Name() string            { return c.name }

func TestClassifierRegistryPrefersMostRecentlyRegistered(t *testing.T) {
	r := newClassifierRegistry()
	r.register(&customClassifier{name: "custom"})

	c, ok := r.classify(&unrecognized{})
	require.True(t, ok)
	require.Equal(t, "custom", c.Name())

	c2, ok2 := r.classify(&fakeDirectBuf{})
	require.True(t, ok2)
	require.Equal(t, "refcounted", c2.Name())
}

func TestClassifierRegistryReportsNoMatch(t *testing.T) {
	r := newClassifierRegistry()
	_, ok := r.classify(&unrecognized{})
	require.False(t, ok)
}
