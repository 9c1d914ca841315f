package evm

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"

	"github.com/Lorenzo-Protocol/lorenzo-omnichain-relayer/types"
)

// messageArgs is the contract-side layout of a message:
// nonce, originChain, initiator, sender, tokenId, item names, item types,
// item values, sqos types, sqos values, signature.
var (
	messageArgs = mustArguments("uint256", "string", "bytes", "bytes", "string",
		"string[]", "uint8[]", "bytes[]", "uint8[]", "bytes[]", "bytes")

	stringArgs      = mustArguments("string")
	stringArrayArgs = mustArguments("string[]")
	uintArgs        = mustArguments("uint256")
	intArgs         = mustArguments("int256")
	uintArrayArgs   = mustArguments("uint256[]")
	intArrayArgs    = mustArguments("int256[]")
	addressArgs     = mustArguments("string", "bytes")
)

func mustArguments(typeNames ...string) abi.Arguments {
	args := make(abi.Arguments, 0, len(typeNames))
	for _, name := range typeNames {
		typ, err := abi.NewType(name, "", nil)
		if err != nil {
			panic(err)
		}
		args = append(args, abi.Argument{Type: typ})
	}
	return args
}

// EncodeMessage produces the bytes the contract stores for a received message.
func EncodeMessage(msg *types.Message) ([]byte, error) {
	names := make([]string, 0, len(msg.Payload))
	msgTypes := make([]uint8, 0, len(msg.Payload))
	values := make([][]byte, 0, len(msg.Payload))
	for _, item := range msg.Payload {
		value, err := encodeValue(item)
		if err != nil {
			return nil, err
		}
		names = append(names, item.Name)
		msgTypes = append(msgTypes, uint8(item.Type))
		values = append(values, value)
	}

	sqosTypes := make([]uint8, 0, len(msg.SQoS))
	sqosValues := make([][]byte, 0, len(msg.SQoS))
	for _, item := range msg.SQoS {
		sqosTypes = append(sqosTypes, uint8(item.Type))
		sqosValues = append(sqosValues, nonNil(item.Value))
	}

	return messageArgs.Pack(
		new(big.Int).SetUint64(msg.Nonce),
		msg.OriginChain,
		nonNil(msg.Initiator),
		nonNil(msg.Sender),
		msg.AssetID,
		names,
		msgTypes,
		values,
		sqosTypes,
		sqosValues,
		nonNil(msg.Signature),
	)
}

func nonNil(b []byte) []byte {
	if b == nil {
		return []byte{}
	}
	return b
}

func encodeValue(item types.PayloadItem) ([]byte, error) {
	if err := item.Validate(); err != nil {
		return nil, err
	}

	_, signed, isInt := item.Type.IntBounds()
	switch {
	case item.Type == types.MsgTypeString:
		return stringArgs.Pack(item.Value.Str)
	case item.Type == types.MsgTypeStringArray:
		strs := item.Value.Strs
		if strs == nil {
			strs = []string{}
		}
		return stringArrayArgs.Pack(strs)
	case item.Type == types.MsgTypeAddress:
		return addressArgs.Pack(item.Value.Address.Chain, nonNil(item.Value.Address.Raw))
	case isInt && item.Type.IsArray():
		ints := item.Value.Ints
		if ints == nil {
			ints = []*big.Int{}
		}
		if signed {
			return intArrayArgs.Pack(ints)
		}
		return uintArrayArgs.Pack(ints)
	case isInt:
		if signed {
			return intArgs.Pack(item.Value.Int)
		}
		return uintArgs.Pack(item.Value.Int)
	}
	return nil, fmt.Errorf("payload item %q: unsupported type %s", item.Name, item.Type)
}

// DecodeMessage is the inverse of EncodeMessage.
func DecodeMessage(data []byte) (*types.Message, error) {
	values, err := messageArgs.Unpack(data)
	if err != nil {
		return nil, fmt.Errorf("failed to unpack message: %w", err)
	}

	var (
		nonce      *big.Int
		msg        types.Message
		names      []string
		msgTypes   []uint8
		itemValues [][]byte
		sqosTypes  []uint8
		sqosValues [][]byte
	)
	ok := assign(values[0], &nonce) &&
		assign(values[1], &msg.OriginChain) &&
		assign(values[2], &msg.Initiator) &&
		assign(values[3], &msg.Sender) &&
		assign(values[4], &msg.AssetID) &&
		assign(values[5], &names) &&
		assign(values[6], &msgTypes) &&
		assign(values[7], &itemValues) &&
		assign(values[8], &sqosTypes) &&
		assign(values[9], &sqosValues) &&
		assign(values[10], &msg.Signature)
	if !ok {
		return nil, fmt.Errorf("unexpected message layout")
	}
	if !nonce.IsUint64() {
		return nil, fmt.Errorf("nonce %s overflows uint64", nonce)
	}
	msg.Nonce = nonce.Uint64()

	if len(names) != len(msgTypes) || len(names) != len(itemValues) {
		return nil, fmt.Errorf("payload has %d names, %d types and %d values", len(names), len(msgTypes), len(itemValues))
	}
	for i := range names {
		item, err := decodeValue(names[i], types.MsgType(msgTypes[i]), itemValues[i])
		if err != nil {
			return nil, err
		}
		msg.Payload = append(msg.Payload, item)
	}

	if len(sqosTypes) != len(sqosValues) {
		return nil, fmt.Errorf("sqos has %d types and %d values", len(sqosTypes), len(sqosValues))
	}
	for i := range sqosTypes {
		msg.SQoS = append(msg.SQoS, types.SQoSItem{Type: types.SQoSType(sqosTypes[i]), Value: sqosValues[i]})
	}

	return &msg, nil
}

func assign[T any](value interface{}, dst *T) bool {
	v, ok := value.(T)
	if ok {
		*dst = v
	}
	return ok
}

func decodeValue(name string, msgType types.MsgType, data []byte) (types.PayloadItem, error) {
	item := types.PayloadItem{Name: name, Type: msgType}
	if !msgType.Valid() {
		return item, fmt.Errorf("payload item %q: unknown type %d", name, msgType)
	}

	var (
		args abi.Arguments
		dst  func(values []interface{}) bool
	)
	_, signed, isInt := msgType.IntBounds()
	switch {
	case msgType == types.MsgTypeString:
		args = stringArgs
		dst = func(v []interface{}) bool { return assign(v[0], &item.Value.Str) }
	case msgType == types.MsgTypeStringArray:
		args = stringArrayArgs
		dst = func(v []interface{}) bool { return assign(v[0], &item.Value.Strs) }
	case msgType == types.MsgTypeAddress:
		args = addressArgs
		item.Value.Address = &types.Address{}
		dst = func(v []interface{}) bool {
			return assign(v[0], &item.Value.Address.Chain) && assign(v[1], &item.Value.Address.Raw)
		}
	case isInt && msgType.IsArray():
		args = uintArrayArgs
		if signed {
			args = intArrayArgs
		}
		dst = func(v []interface{}) bool { return assign(v[0], &item.Value.Ints) }
	case isInt:
		args = uintArgs
		if signed {
			args = intArgs
		}
		dst = func(v []interface{}) bool { return assign(v[0], &item.Value.Int) }
	}

	values, err := args.Unpack(data)
	if err != nil {
		return item, fmt.Errorf("payload item %q: %w", name, err)
	}
	if !dst(values) {
		return item, fmt.Errorf("payload item %q: unexpected %s layout", name, msgType)
	}
	return item, item.Validate()
}
