package types

import (
	"fmt"
	"math/big"
)

// MsgType tags the value carried by a PayloadItem.
type MsgType uint8

const (
	MsgTypeString MsgType = iota
	MsgTypeU8
	MsgTypeU16
	MsgTypeU32
	MsgTypeU64
	MsgTypeU128
	MsgTypeI8
	MsgTypeI16
	MsgTypeI32
	MsgTypeI64
	MsgTypeI128
	MsgTypeStringArray
	MsgTypeU8Array
	MsgTypeU16Array
	MsgTypeU32Array
	MsgTypeU64Array
	MsgTypeU128Array
	MsgTypeI8Array
	MsgTypeI16Array
	MsgTypeI32Array
	MsgTypeI64Array
	MsgTypeI128Array
	MsgTypeAddress
)

var msgTypeNames = map[MsgType]string{
	MsgTypeString:      "string",
	MsgTypeU8:          "uint8",
	MsgTypeU16:         "uint16",
	MsgTypeU32:         "uint32",
	MsgTypeU64:         "uint64",
	MsgTypeU128:        "uint128",
	MsgTypeI8:          "int8",
	MsgTypeI16:         "int16",
	MsgTypeI32:         "int32",
	MsgTypeI64:         "int64",
	MsgTypeI128:        "int128",
	MsgTypeStringArray: "string[]",
	MsgTypeU8Array:     "uint8[]",
	MsgTypeU16Array:    "uint16[]",
	MsgTypeU32Array:    "uint32[]",
	MsgTypeU64Array:    "uint64[]",
	MsgTypeU128Array:   "uint128[]",
	MsgTypeI8Array:     "int8[]",
	MsgTypeI16Array:    "int16[]",
	MsgTypeI32Array:    "int32[]",
	MsgTypeI64Array:    "int64[]",
	MsgTypeI128Array:   "int128[]",
	MsgTypeAddress:     "address",
}

func (t MsgType) String() string {
	if name, ok := msgTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("MsgType(%d)", uint8(t))
}

func (t MsgType) Valid() bool {
	_, ok := msgTypeNames[t]
	return ok
}

func (t MsgType) IsArray() bool {
	return t >= MsgTypeStringArray && t <= MsgTypeI128Array
}

// Scalar returns the element type of an array tag, or t itself.
func (t MsgType) Scalar() MsgType {
	if t.IsArray() {
		return t - MsgTypeStringArray
	}
	return t
}

// IntBounds reports the bit width and signedness of an integer tag.
func (t MsgType) IntBounds() (bits int, signed bool, ok bool) {
	switch t.Scalar() {
	case MsgTypeU8:
		return 8, false, true
	case MsgTypeU16:
		return 16, false, true
	case MsgTypeU32:
		return 32, false, true
	case MsgTypeU64:
		return 64, false, true
	case MsgTypeU128:
		return 128, false, true
	case MsgTypeI8:
		return 8, true, true
	case MsgTypeI16:
		return 16, true, true
	case MsgTypeI32:
		return 32, true, true
	case MsgTypeI64:
		return 64, true, true
	case MsgTypeI128:
		return 128, true, true
	}
	return 0, false, false
}

// Address is the chain-agnostic account reference carried in payloads.
type Address struct {
	Chain string
	Raw   []byte
}

// Value holds exactly the field selected by the owning item's MsgType.
type Value struct {
	Str     string
	Int     *big.Int
	Strs    []string
	Ints    []*big.Int
	Address *Address
}

type PayloadItem struct {
	Name  string
	Type  MsgType
	Value Value
}

func StringItem(name, v string) PayloadItem {
	return PayloadItem{Name: name, Type: MsgTypeString, Value: Value{Str: v}}
}

func IntItem(name string, t MsgType, v *big.Int) PayloadItem {
	return PayloadItem{Name: name, Type: t, Value: Value{Int: v}}
}

func AddressItem(name string, addr Address) PayloadItem {
	return PayloadItem{Name: name, Type: MsgTypeAddress, Value: Value{Address: &addr}}
}

// Validate checks that the value matches its tag and fits the tagged width.
func (p PayloadItem) Validate() error {
	if !p.Type.Valid() {
		return fmt.Errorf("payload item %q: unknown type %d", p.Name, p.Type)
	}

	switch {
	case p.Type == MsgTypeString:
		return nil
	case p.Type == MsgTypeStringArray:
		return nil
	case p.Type == MsgTypeAddress:
		if p.Value.Address == nil {
			return fmt.Errorf("payload item %q: missing address", p.Name)
		}
		return nil
	case p.Type.IsArray():
		for i, v := range p.Value.Ints {
			if err := checkIntRange(p.Type, v); err != nil {
				return fmt.Errorf("payload item %q[%d]: %w", p.Name, i, err)
			}
		}
		return nil
	default:
		if err := checkIntRange(p.Type, p.Value.Int); err != nil {
			return fmt.Errorf("payload item %q: %w", p.Name, err)
		}
		return nil
	}
}

func checkIntRange(t MsgType, v *big.Int) error {
	if v == nil {
		return fmt.Errorf("missing %s value", t.Scalar())
	}
	bits, signed, _ := t.IntBounds()
	if !signed {
		if v.Sign() < 0 || v.BitLen() > bits {
			return fmt.Errorf("%s out of range for %s", v, t.Scalar())
		}
		return nil
	}

	limit := new(big.Int).Lsh(big.NewInt(1), uint(bits-1))
	minValue := new(big.Int).Neg(limit)
	if v.Cmp(minValue) < 0 || v.Cmp(limit) >= 0 {
		return fmt.Errorf("%s out of range for %s", v, t.Scalar())
	}
	return nil
}

// SQoSType is the kind of a delivery requirement. Relayed opaquely.
type SQoSType uint8

const (
	SQoSReveal SQoSType = iota
	SQoSChallenge
	SQoSThreshold
	SQoSPriority
	SQoSExceptionRollback
	SQoSSelectionDelay
	SQoSIsolation
	SQoSCrossVerify
)

type SQoSItem struct {
	Type  SQoSType
	Value []byte
}
