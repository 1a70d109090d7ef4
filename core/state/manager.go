package state

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"vaultledger/storage/trie"
)

// Manager reads and writes ledger state held in a Merkle trie. Values are
// RLP-encoded and keys are keccak-hashed before they reach the trie.
//
// Snapshots are copy-on-write copies of the trie. Snapshot, RevertToSnapshot
// and ReleaseSnapshot let a caller run a multi-step mutation speculatively
// and either keep or drop all of it.
type Manager struct {
	trie      *trie.Trie
	snapshots []*trie.Trie
}

// NewManager creates a state manager operating on the provided trie.
func NewManager(tr *trie.Trie) *Manager {
	return &Manager{trie: tr}
}

var rolePrefix = []byte("role:")

func roleKey(role string) []byte {
	buf := make([]byte, len(rolePrefix)+len(role))
	copy(buf, rolePrefix)
	copy(buf[len(rolePrefix):], role)
	return ethcrypto.Keccak256(buf)
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// Snapshot records the current state and returns an identifier that can be
// passed to RevertToSnapshot or ReleaseSnapshot.
func (m *Manager) Snapshot() int {
	m.snapshots = append(m.snapshots, m.trie.Copy())
	return len(m.snapshots) - 1
}

// RevertToSnapshot restores the state captured by the given snapshot and
// invalidates it together with every snapshot taken after it.
func (m *Manager) RevertToSnapshot(id int) error {
	if id < 0 || id >= len(m.snapshots) {
		return fmt.Errorf("state: snapshot %d does not exist", id)
	}
	m.trie = m.snapshots[id]
	m.snapshots = m.snapshots[:id]
	return nil
}

// ReleaseSnapshot keeps the current state and drops the given snapshot and
// every snapshot taken after it.
func (m *Manager) ReleaseSnapshot(id int) {
	if id < 0 || id >= len(m.snapshots) {
		return
	}
	m.snapshots = m.snapshots[:id]
}

// Hash returns the root hash of the uncommitted state.
func (m *Manager) Hash() common.Hash {
	return m.trie.Hash()
}

// Root returns the last committed root.
func (m *Manager) Root() common.Hash {
	return m.trie.Root()
}

// Commit flushes the pending state to the backing store. Outstanding
// snapshots are discarded.
func (m *Manager) Commit(sequence uint64) (common.Hash, error) {
	m.snapshots = nil
	return m.trie.Commit(sequence)
}

// SetRole associates an address with the specified role. Duplicate assignments
// are ignored while the stored list remains sorted for determinism.
func (m *Manager) SetRole(role string, addr []byte) error {
	trimmed := strings.TrimSpace(role)
	if trimmed == "" {
		return fmt.Errorf("role must not be empty")
	}
	if len(addr) == 0 {
		return fmt.Errorf("address must not be empty")
	}
	members, err := m.RoleMembers(trimmed)
	if err != nil {
		return err
	}
	for _, existing := range members {
		if bytes.Equal(existing, addr) {
			return nil
		}
	}
	members = append(members, append([]byte(nil), addr...))
	sort.Slice(members, func(i, j int) bool {
		return hex.EncodeToString(members[i]) < hex.EncodeToString(members[j])
	})
	encoded, err := rlp.EncodeToBytes(members)
	if err != nil {
		return err
	}
	return m.trie.Update(roleKey(trimmed), encoded)
}

// RemoveRole revokes the role from the address if present.
func (m *Manager) RemoveRole(role string, addr []byte) error {
	trimmed := strings.TrimSpace(role)
	members, err := m.RoleMembers(trimmed)
	if err != nil {
		return err
	}
	filtered := members[:0]
	for _, existing := range members {
		if !bytes.Equal(existing, addr) {
			filtered = append(filtered, existing)
		}
	}
	encoded, err := rlp.EncodeToBytes(filtered)
	if err != nil {
		return err
	}
	return m.trie.Update(roleKey(trimmed), encoded)
}

// RoleMembers returns the sorted members of a role.
func (m *Manager) RoleMembers(role string) ([][]byte, error) {
	data, err := m.trie.Get(roleKey(strings.TrimSpace(role)))
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return [][]byte{}, nil
	}
	var members [][]byte
	if err := rlp.DecodeBytes(data, &members); err != nil {
		return nil, err
	}
	return members, nil
}

// HasRole reports whether addr is a member of role.
func (m *Manager) HasRole(role string, addr []byte) bool {
	if len(addr) == 0 {
		return false
	}
	members, err := m.RoleMembers(role)
	if err != nil {
		return false
	}
	for _, member := range members {
		if bytes.Equal(member, addr) {
			return true
		}
	}
	return false
}

// KVPut stores an arbitrary RLP-encodable value under the supplied key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.trie.Update(kvKey(key), encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.trie.Get(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes the value stored under key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return m.trie.Delete(kvKey(key))
}

// KVAppend appends the provided value to the RLP-encoded byte slice list stored
// under the supplied key. Duplicate values are ignored to keep the index
// deterministic.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	var list [][]byte
	if err := m.KVGetList(key, &list); err != nil {
		return err
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	return m.KVPut(key, list)
}

// KVGetList decodes the list stored under key into out, which must point to a
// slice. A missing key yields an empty slice.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.trie.Get(kvKey(key))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		val := reflect.ValueOf(out)
		if val.Kind() != reflect.Ptr || val.IsNil() {
			return fmt.Errorf("kv: destination must be a non-nil pointer")
		}
		elem := val.Elem()
		if elem.Kind() != reflect.Slice {
			return fmt.Errorf("kv: destination must point to a slice")
		}
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
		return nil
	}
	return rlp.DecodeBytes(data, out)
}
