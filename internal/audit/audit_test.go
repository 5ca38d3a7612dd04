package audit

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readEntries(t *testing.T, buf *bytes.Buffer) []Entry {
	t.Helper()
	var entries []Entry
	scanner := bufio.NewScanner(buf)
	for scanner.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		entries = append(entries, e)
	}
	require.NoError(t, scanner.Err())
	return entries
}

func TestAppend_WritesChainedEntries(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)

	require.NoError(t, l.Append(EventSessionOpened, map[string]string{"peer": "1.2.3.4"}))
	require.NoError(t, l.Append(EventRecommendationRejected, map[string]string{"reason": "expired_ttl"}))
	require.NoError(t, l.Append(EventSessionClosed, nil))

	entries := readEntries(t, &buf)
	require.Len(t, entries, 3)
	assert.Equal(t, uint64(1), entries[0].Sequence)
	assert.Equal(t, uint64(3), entries[2].Sequence)
	assert.Equal(t, entries[0].Hash, entries[1].PrevHash)
	assert.Equal(t, entries[1].Hash, entries[2].PrevHash)
}

func TestAppend_GenesisPrevHashIsAllZero(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	require.NoError(t, l.Append(EventSessionOpened, nil))

	entries := readEntries(t, &buf)
	require.Len(t, entries, 1)
	assert.Equal(t, hex.EncodeToString(make([]byte, sha256.Size)), entries[0].PrevHash)
}

func TestVerifyChain_AcceptsUntamperedChain(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	require.NoError(t, l.Append(EventSessionOpened, nil))
	require.NoError(t, l.Append(EventSafetyRejection, map[string]string{"kind": "ExceedsMaxSpeed"}))

	entries := readEntries(t, &buf)
	assert.NoError(t, VerifyChain(entries))
}

func TestVerifyChain_DetectsTamperedDetail(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	require.NoError(t, l.Append(EventSessionOpened, map[string]string{"peer": "1.2.3.4"}))
	require.NoError(t, l.Append(EventSessionClosed, nil))

	entries := readEntries(t, &buf)
	entries[0].Detail["peer"] = "9.9.9.9" // tamper after the hash was computed

	assert.Error(t, VerifyChain(entries))
}

func TestVerifyChain_DetectsTruncation(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf)
	require.NoError(t, l.Append(EventSessionOpened, nil))
	require.NoError(t, l.Append(EventSessionClosed, nil))
	require.NoError(t, l.Append(EventSessionOpened, nil))

	entries := readEntries(t, &buf)
	truncated := []Entry{entries[0], entries[2]} // drop the middle entry

	assert.Error(t, VerifyChain(truncated), "removing an entry must break the prev_hash link")
}

func TestVerifyChain_EmptyChainIsValid(t *testing.T) {
	assert.NoError(t, VerifyChain(nil))
}
