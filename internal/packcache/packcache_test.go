package packcache

import (
	"testing"
	"time"

	"github.com/ctxforge/retrievalcore/internal/entry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetSetRoundTrip(t *testing.T) {
	c, err := New[*entry.ContextPack](Config{Enabled: true, TTL: time.Minute, MaxEntries: 10})
	require.NoError(t, err)

	pack := &entry.ContextPack{PackID: "p1", IssueID: "I-1", Version: 1}
	c.Set("key1", pack)

	got, ok := c.Get("key1")
	require.True(t, ok)
	assert.Equal(t, pack, got)
}

func TestGetMissReturnsFalse(t *testing.T) {
	c, err := New[*entry.ContextPack](Config{Enabled: true, TTL: time.Minute, MaxEntries: 10})
	require.NoError(t, err)
	_, ok := c.Get("nope")
	assert.False(t, ok)
}

func TestDisabledCacheNeverHits(t *testing.T) {
	c, err := New[*entry.ContextPack](Config{Enabled: false, MaxEntries: 10})
	require.NoError(t, err)
	c.Set("k", &entry.ContextPack{PackID: "p"})
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestTTLExpiry(t *testing.T) {
	c, err := New[*entry.ContextPack](Config{Enabled: true, TTL: time.Nanosecond, MaxEntries: 10})
	require.NoError(t, err)
	c.Set("k", &entry.ContextPack{PackID: "p"})
	time.Sleep(time.Millisecond)
	_, ok := c.Get("k")
	assert.False(t, ok)
}

func TestHybridColdTierSurvivesHotEviction(t *testing.T) {
	dir := t.TempDir()
	c, err := New[*entry.ContextPack](Config{
		Enabled: true, Hybrid: true, ColdDir: dir, TTL: time.Minute, MaxEntries: 1, Compression: true,
	})
	require.NoError(t, err)
	require.NoError(t, c.Initialize())

	p1 := &entry.ContextPack{PackID: "p1", IssueID: "I1"}
	p2 := &entry.ContextPack{PackID: "p2", IssueID: "I2"}
	c.Set("k1", p1)
	c.Set("k2", p2) // evicts k1 from the hot tier (MaxEntries=1)

	got, ok := c.Get("k1")
	require.True(t, ok, "cold tier should still serve the evicted key")
	assert.Equal(t, p1.PackID, got.PackID)
}

func TestEncryptedColdTier(t *testing.T) {
	dir := t.TempDir()
	key := make([]byte, 32)
	c, err := New[*entry.ContextPack](Config{
		Enabled: true, Hybrid: true, ColdDir: dir, TTL: time.Minute, MaxEntries: 1,
		Encryption: true, EncryptionKey: key,
	})
	require.NoError(t, err)
	require.NoError(t, c.Initialize())

	c.Set("k1", &entry.ContextPack{PackID: "secret"})
	c.Set("k2", &entry.ContextPack{PackID: "other"})

	got, ok := c.Get("k1")
	require.True(t, ok)
	assert.Equal(t, "secret", got.PackID)
}

func TestKeyStringIsStableAndFilesystemSafe(t *testing.T) {
	k := entry.CacheKey{IssueID: "I-1", AgentType: "coder", ContentFingerprint: "abc", Version: 2}
	s1 := KeyString(k)
	s2 := KeyString(k)
	assert.Equal(t, s1, s2)
	assert.NotContains(t, s1, "/")
}
