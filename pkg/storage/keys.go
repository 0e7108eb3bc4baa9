package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Key schema. Everything is scoped to the connected account's address so one
// store can hold records for several accounts without cross-talk:
//
//   act:<address>:<localId> -> OptimisticAction
//   ntf:<address>:<seq>     -> Notification (seq big-endian for ordered scans)

const (
	prefixAction       = "act:"
	prefixNotification = "ntf:"
)

func actionKey(addr common.Address, localID string) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixAction, addr.Hex(), localID))
}

func actionPrefix(addr common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixAction, addr.Hex()))
}

func notificationKey(addr common.Address, seq uint64) []byte {
	key := []byte(fmt.Sprintf("%s%s:", prefixNotification, addr.Hex()))
	var s [8]byte
	binary.BigEndian.PutUint64(s[:], seq)
	return append(key, s[:]...)
}

func notificationPrefix(addr common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixNotification, addr.Hex()))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
