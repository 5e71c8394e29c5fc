package bond

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/rigado/blehost"
	"github.com/rigado/blehost/hci/smp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var peer = blehost.MustParseAddr("c0:de:00:00:00:01", blehost.AddrTypeRandom)

func testRecord(b byte, auth bool) smp.KeyRecord {
	k := smp.KeyRecord{
		LTKValid:      true,
		EDiv:          0x1234,
		Rand:          0x0102030405060708,
		EDivRandValid: true,
		Authenticated: auth,
		SC:            true,
	}
	for i := range k.LTK {
		k.LTK[i] = b + byte(i)
	}
	return k
}

func TestMemoryStore(t *testing.T) {
	m, err := NewManager("")
	require.NoError(t, err)

	_, err = m.Find(peer)
	assert.Equal(t, smp.ErrNotFound, err)
	assert.False(t, m.Exists(peer))

	require.NoError(t, m.Save(peer, testRecord(0x10, true), testRecord(0x10, true)))
	k, err := m.Find(peer)
	require.NoError(t, err)
	assert.Equal(t, testRecord(0x10, true), k)
	assert.Equal(t, 1, m.Len())

	// same address, other type, is another peer
	other := peer
	other.Type = blehost.AddrTypePublic
	_, err = m.Find(other)
	assert.Equal(t, smp.ErrNotFound, err)

	require.NoError(t, m.Save(peer, testRecord(0x20, false), testRecord(0x20, false)))
	k, err = m.Find(peer)
	require.NoError(t, err)
	assert.Equal(t, testRecord(0x20, false), k)
	assert.Equal(t, 1, m.Len())

	require.NoError(t, m.Delete(peer))
	require.NoError(t, m.Delete(peer))
	assert.Zero(t, m.Len())
}

func TestSaveRejectsEmpty(t *testing.T) {
	m, err := NewManager("")
	require.NoError(t, err)
	assert.Error(t, m.Save(peer, smp.KeyRecord{}, smp.KeyRecord{}))
}

func TestFileStore(t *testing.T) {
	dir, err := ioutil.TempDir("", "bond")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "bonds.json")

	m, err := NewManager(path)
	require.NoError(t, err)
	require.NoError(t, m.Save(peer, testRecord(0x30, true), testRecord(0x40, true)))

	// a fresh manager sees the saved bond
	m2, err := NewManager(path)
	require.NoError(t, err)
	k, err := m2.Find(peer)
	require.NoError(t, err)
	assert.Equal(t, testRecord(0x30, true), k)

	require.NoError(t, m2.Delete(peer))
	m3, err := NewManager(path)
	require.NoError(t, err)
	assert.Zero(t, m3.Len())
}

func TestCorruptFile(t *testing.T) {
	dir, err := ioutil.TempDir("", "bond")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	path := filepath.Join(dir, "bonds.json")

	require.NoError(t, ioutil.WriteFile(path, []byte(`{"bonds":[{"address":"c0:de:00:00:00:01","our":{"longTermKey":"zz"}}]}`), 0600))
	_, err = NewManager(path)
	assert.Error(t, err)

	require.NoError(t, ioutil.WriteFile(path, []byte(`not json`), 0600))
	_, err = NewManager(path)
	assert.Error(t, err)
}

func TestImplementsKeyStore(t *testing.T) {
	var _ smp.KeyStore = &Manager{}
}
