package queue

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubjects(t *testing.T) {
	assert.Equal(t, "aleo.blocks.testnet3.fetch", SubjectFetch("testnet3"))
	assert.Equal(t, "aleo.blocks.testnet3.indexed", SubjectIndexed("testnet3"))
	assert.Equal(t, "aleo.blocks.testnet3.pruned", SubjectPruned("testnet3"))
}

func TestFetchRequest(t *testing.T) {
	a := NewFetchRequest("testnet3", 100, 150)
	b := NewFetchRequest("testnet3", 100, 150)

	assert.Equal(t, a.MessageID(), b.MessageID(), "same range must de-duplicate")
	assert.Equal(t, "fetch-testnet3-100-150", a.MessageID())
	assert.Equal(t, SubjectFetch("testnet3"), a.Subject())
	assert.Equal(t, 50, a.Size())
	assert.Equal(t, 0, (&FetchRequest{Start: 5, End: 5}).Size())
	assert.NotEqual(t, a.MessageID(), NewFetchRequest("testnet3", 150, 200).MessageID())
}

func TestUnmarshalFetchRequest(t *testing.T) {
	data, err := json.Marshal(NewFetchRequest("testnet3", 1, 10))
	require.NoError(t, err)

	msg, err := UnmarshalFetchRequest(data)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), msg.Start)
	assert.Equal(t, uint32(10), msg.End)
	assert.Equal(t, "testnet3", msg.Network)

	tests := []struct {
		name string
		data string
	}{
		{"not json", `{`},
		{"wrong type", `{"type":"indexed","network":"testnet3"}`},
		{"no network", `{"type":"fetch","start":1,"end":2}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := UnmarshalFetchRequest([]byte(tt.data))
			assert.Error(t, err)
		})
	}
}

func TestBlockIndexedAndPrune(t *testing.T) {
	ev := NewBlockIndexed("testnet3", 7, "ab1seven", 3, true)
	data, err := json.Marshal(ev)
	require.NoError(t, err)

	got, err := UnmarshalBlockIndexed(data)
	require.NoError(t, err)
	assert.Equal(t, MessageTypeIndexed, got.Type)
	assert.Equal(t, "ab1seven", got.Hash)
	assert.Equal(t, 3, got.TxCount)
	assert.True(t, got.Archived)

	p1 := NewPruneNotification("testnet3", 1000, 20, 5, false)
	p2 := NewPruneNotification("testnet3", 1000, 20, 5, false)
	assert.NotEqual(t, p1.MessageID(), p2.MessageID())
	assert.Equal(t, SubjectPruned("testnet3"), p1.Subject())

	data, err = json.Marshal(p1)
	require.NoError(t, err)
	pruned, err := UnmarshalPruneNotification(data)
	require.NoError(t, err)
	assert.Equal(t, uint32(1000), pruned.Below)
	assert.Equal(t, int64(20), pruned.Deleted)
}

func TestPermanent(t *testing.T) {
	assert.Nil(t, Permanent(nil))

	err := Permanent(assert.AnError)
	assert.False(t, IsRetryable(err))
	assert.ErrorIs(t, err, assert.AnError)
	assert.True(t, IsRetryable(assert.AnError))
}
