package checkpoint

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	dir := t.TempDir()
	key := make([]byte, KeySize)
	for i := range key {
		key[i] = byte(i)
	}
	e, err := NewEngine(dir, key)
	require.NoError(t, err)
	return e
}

func msgs(n int) []Message {
	out := make([]Message, n)
	for i := range out {
		out[i] = Message{Role: "user", Content: "hello"}
	}
	return out
}

func TestEngine_RoundTrip(t *testing.T) {
	e := testEngine(t)
	cp := &Checkpoint{
		Version: 1, TaskID: "t1", CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
		Status: StatusInProgress, Messages: msgs(2),
		ToolCalls: []ToolCallLog{{CallID: "call_1", Name: "shell_exec", Success: true}},
	}
	require.NoError(t, e.Save(cp))

	loaded, err := e.Load("t1")
	require.NoError(t, err)
	assert.Equal(t, cp.Version, loaded.Version)
	assert.Equal(t, cp.Messages, loaded.Messages)
	assert.Equal(t, cp.ToolCalls, loaded.ToolCalls)
}

func TestEngine_CrashRecoveryViaDeltas(t *testing.T) {
	e := testEngine(t)
	cp := &Checkpoint{
		Version: 1, TaskID: "t2", CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
		Status: StatusInProgress, Messages: msgs(5),
	}
	require.NoError(t, e.Save(cp))

	for i := 0; i < 3; i++ {
		cp.Version++
		cp.Messages = append(cp.Messages, Message{Role: "assistant", Content: "step"})
		cp.UpdatedAt = time.Now().UTC()
		require.NoError(t, e.Save(cp))
	}

	lines, err := readLines(e.deltaPath("t2"))
	require.NoError(t, err)
	assert.Len(t, lines, 3, "expected 3 delta entries before compaction")

	loaded, err := e.Load("t2")
	require.NoError(t, err)
	assert.Len(t, loaded.Messages, 8)
	assert.Equal(t, 4, loaded.Version)
}

func TestEngine_TamperedPrimaryFallsBackToBackup(t *testing.T) {
	e := testEngine(t)
	cp := &Checkpoint{
		Version: 1, TaskID: "t3", CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
		Status: StatusInProgress, Messages: msgs(5),
	}
	require.NoError(t, e.Save(cp))

	for i := 0; i < 3; i++ {
		cp.Version++
		cp.Messages = append(cp.Messages, Message{Role: "assistant", Content: "step"})
		require.NoError(t, e.Save(cp))
	}

	// Force a full write so the 5-message primary is rotated to .bak (the
	// three deltas stay on disk), then corrupt the new primary file directly.
	cp.Version++
	cp.Status = StatusCompleted
	require.NoError(t, e.writeFull(cp))

	primary := e.primaryPath("t3")
	data, err := os.ReadFile(primary)
	require.NoError(t, err)
	data[len(data)/2] ^= 0xFF
	require.NoError(t, os.WriteFile(primary, data, 0644))

	loaded, err := e.Load("t3")
	require.NoError(t, err)
	assert.Len(t, loaded.Messages, 8, "expected recovery from backup with 5+3 messages")
}

func TestEngine_TotalCorruptionSynthesizesFreshCheckpoint(t *testing.T) {
	e := testEngine(t)
	cp := &Checkpoint{Version: 1, TaskID: "t4", CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	require.NoError(t, e.Save(cp))

	primary := e.primaryPath("t4")
	require.NoError(t, os.WriteFile(primary, []byte("not json at all"), 0644))
	require.NoError(t, os.Remove(e.backupPath("t4")))

	loaded, err := e.Load("t4")
	require.NoError(t, err)
	assert.Equal(t, "t4", loaded.TaskID)
	assert.Empty(t, loaded.Messages)
}

func TestEngine_EnvelopeTamperDetected(t *testing.T) {
	e := testEngine(t)
	cp := &Checkpoint{Version: 1, TaskID: "t5", CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	require.NoError(t, e.writeFull(cp))

	data, err := os.ReadFile(e.primaryPath("t5"))
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))

	_, err = verifyEnvelope(e.key, env)
	require.NoError(t, err, "untampered envelope should verify")

	tamperedPayload := append([]byte{}, env.Payload...)
	tamperedPayload[0] ^= 0xFF
	env.Payload = tamperedPayload
	_, err = verifyEnvelope(e.key, env)
	assert.Error(t, err, "tampering any byte of payload must fail verification")
}

func TestEngine_CompactionOnEntryCount(t *testing.T) {
	e := testEngine(t)
	cp := &Checkpoint{Version: 1, TaskID: "t6", CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(), Messages: msgs(1)}
	require.NoError(t, e.Save(cp))

	for i := 0; i < maxDeltaEntries+2; i++ {
		cp.Version++
		cp.Messages = append(cp.Messages, Message{Role: "user", Content: "x"})
		require.NoError(t, e.Save(cp))
	}

	lines, err := readLines(e.deltaPath("t6"))
	require.NoError(t, err)
	assert.Less(t, len(lines), maxDeltaEntries, "delta log should have compacted before reaching the entry cap")
}

func TestEngine_Redaction(t *testing.T) {
	e := testEngine(t)
	cp := &Checkpoint{
		Version: 1, TaskID: "t7", CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
		Messages: []Message{{Role: "user", Content: "my key is sk-abcdefghijklmnopqrstuvwx"}},
	}
	require.NoError(t, e.writeFull(cp))

	raw, err := os.ReadFile(e.primaryPath("t7"))
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "sk-abcdefghijklmnopqrstuvwx")
	assert.Contains(t, string(raw), "[REDACTED]")
}

func TestEngine_List(t *testing.T) {
	e := testEngine(t)
	a := &Checkpoint{Version: 1, TaskID: "a", CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC().Add(-time.Hour)}
	b := &Checkpoint{Version: 1, TaskID: "b", CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	require.NoError(t, e.Save(a))
	require.NoError(t, e.Save(b))

	list, err := e.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "b", list[0].TaskID, "expected most-recently-updated first")
}

func TestEngine_Delete(t *testing.T) {
	e := testEngine(t)
	cp := &Checkpoint{Version: 1, TaskID: "d1", CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	require.NoError(t, e.Save(cp))
	require.NoError(t, e.Delete("d1"))

	_, err := os.Stat(e.primaryPath("d1"))
	assert.True(t, os.IsNotExist(err))
}

func TestLoadOrCreateKey_PersistsAndReuses(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "checkpoint_hmac_key")

	k1, err := LoadOrCreateKey(path)
	require.NoError(t, err)
	assert.Len(t, k1, KeySize)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	k2, err := LoadOrCreateKey(path)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
}
