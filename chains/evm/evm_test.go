package evm

import (
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/Lorenzo-Protocol/lorenzo-omnichain-relayer/types"
)

func sampleMessage() *types.Message {
	return &types.Message{
		Nonce:       7,
		OriginChain: "bsc",
		Initiator:   common.HexToAddress("0x1111111111111111111111111111111111111111").Bytes(),
		Sender:      []byte{0xab, 0xcd},
		AssetID:     "stBTC",
		Payload: []types.PayloadItem{
			types.StringItem("memo", "hello"),
			types.IntItem("amount", types.MsgTypeU128, new(big.Int).Lsh(big.NewInt(1), 100)),
			types.IntItem("delta", types.MsgTypeI64, big.NewInt(-42)),
			{Name: "tags", Type: types.MsgTypeStringArray, Value: types.Value{Strs: []string{"a", "b"}}},
			{Name: "shares", Type: types.MsgTypeI16Array, Value: types.Value{Ints: []*big.Int{big.NewInt(-3), big.NewInt(300)}}},
			types.AddressItem("to", types.Address{Chain: "eth", Raw: []byte{0x01, 0x02}}),
		},
		SQoS:      []types.SQoSItem{{Type: types.SQoSThreshold, Value: []byte{0x02}}},
		Signature: []byte{0x99},
	}
}

func TestMessageCodec(t *testing.T) {
	msg := sampleMessage()
	encoded, err := EncodeMessage(msg)
	require.NoError(t, err)

	decoded, err := DecodeMessage(encoded)
	require.NoError(t, err)
	require.True(t, msg.SameContent(decoded))
	require.Equal(t, msg.Key(), decoded.Key())
	require.Equal(t, "-42", decoded.Payload[2].Value.Int.String())

	// the record comparison relies on re-encoding being stable
	again, err := EncodeMessage(decoded)
	require.NoError(t, err)
	require.Equal(t, encoded, again)
}

func TestMessageCodecRejectsOutOfRange(t *testing.T) {
	msg := sampleMessage()
	msg.Payload = []types.PayloadItem{types.IntItem("x", types.MsgTypeU8, big.NewInt(256))}
	_, err := EncodeMessage(msg)
	require.Error(t, err)

	_, err = DecodeMessage([]byte{0x01, 0x02})
	require.Error(t, err)
}

func TestClassify(t *testing.T) {
	require.NoError(t, classify("op", nil))

	tests := []struct {
		err  error
		kind types.ErrorKind
	}{
		{errors.New("Post \"http://node\": context deadline exceeded"), types.KindTransient},
		{errors.New("nonce too low"), types.KindTransient},
		{errors.New("execution reverted: bad signature"), types.KindAnomaly},
		{errors.New("something unexpected"), types.KindTransient},
	}
	for _, tt := range tests {
		require.Equal(t, tt.kind, types.KindOf(classify("op", tt.err)), tt.err.Error())
	}
}

func TestParseEvents(t *testing.T) {
	msg := sampleMessage()
	encoded, err := EncodeMessage(msg)
	require.NoError(t, err)

	senderHash := crypto.Keccak256Hash(msg.Sender)
	nonceTopic := common.BigToHash(new(big.Int).SetUint64(msg.Nonce))

	sentData, err := contractABI.Events["MessageSent"].Inputs.NonIndexed().Pack(encoded)
	require.NoError(t, err)
	event, err := parseEvent(ethtypes.Log{
		Topics:      []common.Hash{MessageSentEventTopic, senderHash, nonceTopic},
		Data:        sentData,
		BlockNumber: 12,
	})
	require.NoError(t, err)
	require.Nil(t, event.Executed)
	require.Equal(t, uint64(12), event.Height)
	require.True(t, msg.SameContent(event.Sent))

	executedData, err := contractABI.Events["MessageExecuted"].Inputs.NonIndexed().Pack("bsc", msg.Sender, msg.AssetID)
	require.NoError(t, err)
	event, err = parseEvent(ethtypes.Log{
		Topics:      []common.Hash{MessageExecutedEventTopic, senderHash, nonceTopic},
		Data:        executedData,
		BlockNumber: 20,
	})
	require.NoError(t, err)
	require.Nil(t, event.Sent)
	require.Equal(t, msg.Key(), *event.Executed)

	// nonce topic disagreeing with the message body
	_, err = parseEvent(ethtypes.Log{
		Topics: []common.Hash{MessageSentEventTopic, senderHash, common.BigToHash(big.NewInt(8))},
		Data:   sentData,
	})
	require.Error(t, err)
}
