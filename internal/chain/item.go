package chain

import (
	"github.com/devrev/pairdb/ledger-node/internal/codec"
)

// HeaderAddress is the opaque content address of a header
type HeaderAddress string

// Item is one entry in the chain sequence
type Item struct {
	HeaderAddress HeaderAddress
	// Index is the item's position in the chain. It is the store key and is
	// never serialized with the value.
	Index uint32
	// Batch groups every item committed by the same session
	Batch uint32
	// ReplicationComplete is set once the item's network operations have been
	// published. It is the only field that changes after commit.
	ReplicationComplete bool
}

// itemRecord is the persisted form of Item
type itemRecord struct {
	HeaderAddress       string `cbor:"1,keyasint"`
	Batch               uint32 `cbor:"2,keyasint"`
	ReplicationComplete bool   `cbor:"3,keyasint"`
}

// itemCodec encodes items for the chain sequence database
type itemCodec struct{}

func (itemCodec) Encode(it Item) ([]byte, error) {
	return codec.Marshal(itemRecord{
		HeaderAddress:       string(it.HeaderAddress),
		Batch:               it.Batch,
		ReplicationComplete: it.ReplicationComplete,
	})
}

func (itemCodec) Decode(key uint32, data []byte) (Item, error) {
	var rec itemRecord
	if err := codec.Unmarshal(data, &rec); err != nil {
		return Item{}, err
	}
	return Item{
		HeaderAddress:       HeaderAddress(rec.HeaderAddress),
		Index:               key,
		Batch:               rec.Batch,
		ReplicationComplete: rec.ReplicationComplete,
	}, nil
}

// head is an optional header address. The zero value is "no head".
type head struct {
	addr HeaderAddress
	ok   bool
}

func someHead(addr HeaderAddress) head {
	return head{addr: addr, ok: true}
}

func (h head) get() (HeaderAddress, bool) {
	return h.addr, h.ok
}

func (h head) String() string {
	if !h.ok {
		return "<none>"
	}
	return string(h.addr)
}
