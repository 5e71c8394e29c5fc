package blehost

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValid(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
}

func TestLoadConfigOverridesDefaults(t *testing.T) {
	dir, err := ioutil.TempDir("", "blehost")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "config.json")
	in := `{"localAddr":"11:22:33:44:55:66","security":{"ioCap":1,"mitm":true}}`
	require.NoError(t, ioutil.WriteFile(path, []byte(in), 0644))

	c, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, uint8(1), c.Security.IoCap)
	assert.True(t, c.Security.MITM)
	assert.True(t, c.Security.SC, "untouched fields keep defaults")
	assert.Equal(t, 30*time.Second, c.Security.Timeout)
	assert.Equal(t, [6]byte{0x66, 0x55, 0x44, 0x33, 0x22, 0x11}, c.Addr().Bytes)
}

func TestLoadConfigTimeout(t *testing.T) {
	dir, err := ioutil.TempDir("", "blehost")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "config.json")
	load := func(timeout string) (Config, error) {
		in := `{"security":{"mitm":true,"timeout":` + timeout + `}}`
		require.NoError(t, ioutil.WriteFile(path, []byte(in), 0644))
		return LoadConfig(path)
	}

	c, err := load(`"45s"`)
	require.NoError(t, err)
	assert.Equal(t, 45*time.Second, c.Security.Timeout)
	assert.True(t, c.Security.MITM)

	c, err = load(`30`)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Second, c.Security.Timeout)

	c, err = load(`"1m30s"`)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, c.Security.Timeout)

	_, err = load(`"soon"`)
	assert.Error(t, err)

	_, err = load(`0`)
	assert.Error(t, err, "zero timeout fails validation")
}

func TestConfigStoresTimeoutString(t *testing.T) {
	out, err := jsoniter.Marshal(DefaultConfig().Security)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"timeout":"30s"`)
	assert.Contains(t, string(out), `"maxKeySize":16`)
}

func TestConfigRoundTrip(t *testing.T) {
	dir, err := ioutil.TempDir("", "blehost")
	require.NoError(t, err)
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "config.json")
	c := DefaultConfig()
	c.Security.IoCap = 0x04
	require.NoError(t, c.Store(path))

	loaded, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, c, loaded)
}

func TestConfigValidate(t *testing.T) {
	c := DefaultConfig()
	c.Security.IoCap = 5
	assert.Error(t, c.Validate())

	c = DefaultConfig()
	c.Transport.CmdBufSize = 100
	assert.Error(t, c.Validate())

	c = DefaultConfig()
	c.LocalAddr = "zz"
	assert.Error(t, c.Validate())

	c = DefaultConfig()
	c.Security.SC = false
	assert.Error(t, c.Validate())
}

func TestAddrString(t *testing.T) {
	a := MustParseAddr("AA:BB:CC:DD:EE:FF", AddrTypeRandom)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", a.String())
	assert.Equal(t, byte(0xff), a.Bytes[0])
	assert.Equal(t, "1/ffeeddccbbaa", a.Key())
}
