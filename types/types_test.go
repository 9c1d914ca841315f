package types

import (
	"fmt"
	"math/big"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testMessage(nonce uint64) *Message {
	return &Message{
		Nonce:       nonce,
		OriginChain: "ETH",
		Initiator:   []byte{0x01, 0x02},
		Sender:      []byte{0xaa, 0xbb, 0xcc},
		AssetID:     "stBTC",
		Payload: []PayloadItem{
			StringItem("memo", "hello"),
			IntItem("amount", MsgTypeU128, big.NewInt(1000)),
			IntItem("delta", MsgTypeI64, big.NewInt(-5)),
			AddressItem("to", Address{Chain: "BNB", Raw: []byte{0x10}}),
		},
		SQoS:      []SQoSItem{{Type: SQoSThreshold, Value: []byte{0x02}}},
		Signature: []byte{0x99},
	}
}

func TestMessageKey(t *testing.T) {
	msg := testMessage(7)
	key := msg.Key()
	require.Equal(t, TaskKey{Sender: "aabbcc", Nonce: 7, AssetID: "stBTC"}, key)

	sender, err := key.SenderBytes()
	require.NoError(t, err)
	require.Equal(t, msg.Sender, sender)
}

func TestTaskKeyDigestDistinguishesFields(t *testing.T) {
	// "ab"+"1"+"2x" and "ab1"+"2"+"x" collide when concatenated naively
	a := TaskKey{Sender: "ab", Nonce: 12, AssetID: "x"}
	b := TaskKey{Sender: "ab1", Nonce: 2, AssetID: "x"}
	assert.NotEqual(t, a.Digest(), b.Digest())
	assert.Equal(t, a.Digest(), TaskKey{Sender: "ab", Nonce: 12, AssetID: "x"}.Digest())
	assert.Len(t, a.Digest(), 64)
}

func TestMessageSameContentIgnoresHeight(t *testing.T) {
	a := testMessage(1)
	b := testMessage(1)
	b.Height = 500
	assert.True(t, a.SameContent(b))

	b.Payload[1] = IntItem("amount", MsgTypeU128, big.NewInt(1001))
	assert.False(t, a.SameContent(b))

	c := testMessage(1)
	c.Signature = []byte{0x98}
	assert.False(t, a.SameContent(c))
}

func TestPayloadValidate(t *testing.T) {
	tests := []struct {
		item  PayloadItem
		valid bool
	}{
		{IntItem("a", MsgTypeU8, big.NewInt(255)), true},
		{IntItem("a", MsgTypeU8, big.NewInt(256)), false},
		{IntItem("a", MsgTypeU8, big.NewInt(-1)), false},
		{IntItem("a", MsgTypeI8, big.NewInt(-128)), true},
		{IntItem("a", MsgTypeI8, big.NewInt(128)), false},
		{IntItem("a", MsgTypeU128, new(big.Int).Lsh(big.NewInt(1), 128)), false},
		{IntItem("a", MsgTypeU64, nil), false},
		{PayloadItem{Name: "a", Type: MsgTypeI16Array, Value: Value{Ints: []*big.Int{big.NewInt(-300), big.NewInt(300)}}}, true},
		{PayloadItem{Name: "a", Type: MsgTypeU16Array, Value: Value{Ints: []*big.Int{big.NewInt(70000)}}}, false},
		{PayloadItem{Name: "a", Type: MsgTypeAddress}, false},
		{PayloadItem{Name: "a", Type: MsgType(200)}, false},
	}

	for i, tc := range tests {
		t.Run(fmt.Sprintf("case-%d-%s", i, tc.item.Type), func(t *testing.T) {
			err := tc.item.Validate()
			if tc.valid {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestMsgTypeScalar(t *testing.T) {
	assert.Equal(t, MsgTypeU32, MsgTypeU32Array.Scalar())
	assert.Equal(t, MsgTypeString, MsgTypeStringArray.Scalar())
	assert.Equal(t, MsgTypeAddress, MsgTypeAddress.Scalar())
	assert.False(t, MsgTypeAddress.IsArray())
	assert.Equal(t, "int128[]", MsgTypeI128Array.String())
}

func TestErrorKinds(t *testing.T) {
	base := errors.New("rpc down")
	err := errors.Wrap(Transient("get nonce", base), "push")
	assert.Equal(t, KindTransient, KindOf(err))
	assert.True(t, errors.Is(err, base))

	assert.True(t, IsAnomaly(Anomaly("compare", base)))
	assert.True(t, IsFatal(errors.WithMessage(Fatal("restore", base), "chain ETH")))
	assert.Equal(t, KindTransient, KindOf(base))
	assert.False(t, IsFatal(nil))
}

func TestPendingEntry(t *testing.T) {
	entry := &PendingEntry{
		OriginChain: "A",
		Members:     []Member{{ChainID: "A"}, {ChainID: "B"}, {ChainID: "C"}},
		Pending:     []string{"C"},
	}
	assert.True(t, entry.Names("B"))
	assert.False(t, entry.Names("D"))
	assert.True(t, entry.IsPending("C"))
	assert.False(t, entry.IsPending("B"))
}
