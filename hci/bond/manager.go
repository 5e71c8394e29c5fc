package bond

import (
	"encoding/binary"
	"encoding/hex"
	"io/ioutil"
	"os"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/rigado/blehost"
	"github.com/rigado/blehost/hci/smp"
)

// Manager keeps bonds in memory and, when created with a file path, mirrors
// them to a JSON file after every change.
type Manager struct {
	lock  sync.RWMutex
	path  string
	bonds map[string]bond
}

type bondInfo struct {
	Bonds []remoteKeyInfo `json:"bonds"`
}

type remoteKeyInfo struct {
	Address     string  `json:"address"`
	AddressType uint8   `json:"addressType"`
	Our         keyInfo `json:"our"`
	Their       keyInfo `json:"their"`
}

type keyInfo struct {
	LongTermKey           string `json:"longTermKey"`
	EncryptionDiversifier string `json:"encryptionDiversifier"`
	RandomValue           string `json:"randomValue"`
	Authenticated         bool   `json:"authenticated"`
	SecureConnections     bool   `json:"secureConnections"`
}

type bond struct {
	peer  blehost.Addr
	our   smp.KeyRecord
	their smp.KeyRecord
}

// NewManager returns a key store. An empty path keeps bonds in memory only.
func NewManager(path string) (*Manager, error) {
	m := &Manager{path: path, bonds: make(map[string]bond)}
	if path == "" {
		return m, nil
	}

	bonds, err := loadBonds(path)
	if err != nil {
		return nil, err
	}
	for _, rki := range bonds.Bonds {
		b, err := rki.bond()
		if err != nil {
			return nil, errors.Wrapf(err, "bond %v", rki.Address)
		}
		m.bonds[b.peer.Key()] = b
	}
	return m, nil
}

// Save replaces the bond for peer.
func (m *Manager) Save(peer blehost.Addr, our, their smp.KeyRecord) error {
	if !our.LTKValid {
		return errors.New("empty bond information")
	}

	m.lock.Lock()
	defer m.lock.Unlock()

	m.bonds[peer.Key()] = bond{peer: peer, our: our, their: their}
	return m.store()
}

// Find returns the local key record for peer.
func (m *Manager) Find(peer blehost.Addr) (smp.KeyRecord, error) {
	m.lock.RLock()
	defer m.lock.RUnlock()

	b, ok := m.bonds[peer.Key()]
	if !ok {
		return smp.KeyRecord{}, smp.ErrNotFound
	}
	return b.our, nil
}

// Exists reports whether a bond for peer is stored.
func (m *Manager) Exists(peer blehost.Addr) bool {
	m.lock.RLock()
	defer m.lock.RUnlock()
	_, ok := m.bonds[peer.Key()]
	return ok
}

// Delete forgets peer. Deleting an unknown peer is not an error.
func (m *Manager) Delete(peer blehost.Addr) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	if _, ok := m.bonds[peer.Key()]; !ok {
		return nil
	}
	delete(m.bonds, peer.Key())
	return m.store()
}

// Len returns the number of bonds.
func (m *Manager) Len() int {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return len(m.bonds)
}

func (m *Manager) store() error {
	if m.path == "" {
		return nil
	}

	bi := bondInfo{Bonds: make([]remoteKeyInfo, 0, len(m.bonds))}
	for _, b := range m.bonds {
		bi.Bonds = append(bi.Bonds, createRemoteKeyInfo(b))
	}
	return storeBonds(m.path, &bi)
}

func createRemoteKeyInfo(b bond) remoteKeyInfo {
	return remoteKeyInfo{
		Address:     b.peer.String(),
		AddressType: b.peer.Type,
		Our:         createKeyInfo(b.our),
		Their:       createKeyInfo(b.their),
	}
}

func createKeyInfo(k smp.KeyRecord) keyInfo {
	ki := keyInfo{
		Authenticated:     k.Authenticated,
		SecureConnections: k.SC,
	}
	if k.LTKValid {
		ki.LongTermKey = hex.EncodeToString(k.LTK[:])
	}
	if k.EDivRandValid {
		eDiv := make([]byte, 2)
		binary.LittleEndian.PutUint16(eDiv, k.EDiv)

		randVal := make([]byte, 8)
		binary.LittleEndian.PutUint64(randVal, k.Rand)

		ki.EncryptionDiversifier = hex.EncodeToString(eDiv)
		ki.RandomValue = hex.EncodeToString(randVal)
	}
	return ki
}

func (rki remoteKeyInfo) bond() (bond, error) {
	peer, err := blehost.ParseAddr(rki.Address, rki.AddressType)
	if err != nil {
		return bond{}, err
	}
	our, err := rki.Our.record()
	if err != nil {
		return bond{}, err
	}
	their, err := rki.Their.record()
	if err != nil {
		return bond{}, err
	}
	return bond{peer: peer, our: our, their: their}, nil
}

func (ki keyInfo) record() (smp.KeyRecord, error) {
	k := smp.KeyRecord{
		Authenticated: ki.Authenticated,
		SC:            ki.SecureConnections,
	}

	if ki.LongTermKey != "" {
		ltk, err := hex.DecodeString(ki.LongTermKey)
		if err != nil || len(ltk) != len(k.LTK) {
			return k, errors.Errorf("failed to decode long term key %q", ki.LongTermKey)
		}
		copy(k.LTK[:], ltk)
		k.LTKValid = true
	}

	if ki.EncryptionDiversifier != "" || ki.RandomValue != "" {
		eDiv, err := hex.DecodeString(ki.EncryptionDiversifier)
		if err != nil || len(eDiv) != 2 {
			return k, errors.New("invalid ediv in bond file")
		}
		randVal, err := hex.DecodeString(ki.RandomValue)
		if err != nil || len(randVal) != 8 {
			return k, errors.New("invalid random value in bond file")
		}
		k.EDiv = binary.LittleEndian.Uint16(eDiv)
		k.Rand = binary.LittleEndian.Uint64(randVal)
		k.EDivRandValid = true
	}
	return k, nil
}

func loadBonds(path string) (*bondInfo, error) {
	var bonds bondInfo

	fileData, err := ioutil.ReadFile(path)
	if os.IsNotExist(err) {
		return &bonds, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read bond file information")
	}

	if len(fileData) > 0 {
		if err := jsoniter.Unmarshal(fileData, &bonds); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal current bond info")
		}
	}
	return &bonds, nil
}

func storeBonds(path string, bonds *bondInfo) error {
	out, err := jsoniter.MarshalIndent(bonds, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal bonds to json")
	}

	if err := ioutil.WriteFile(path, out, 0600); err != nil {
		return errors.Wrap(err, "failed to update bond information")
	}
	return nil
}
