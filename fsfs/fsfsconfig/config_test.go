package fsfsconfig

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshalAppliesDefaultsWhenSectionsAbsent(t *testing.T) {
	cfg, err := Unmarshal([]byte(""))
	require.NoError(t, err)
	assert.True(t, cfg.EnableRepSharing)
	assert.Equal(t, 16, cfg.Deltification.MaxLinearDeltification)
	assert.Equal(t, 1023, cfg.Deltification.MaxDeltificationWalk)
}

func TestUnmarshalParsesEachSection(t *testing.T) {
	body := `
[memcached-servers]
server1 = localhost:11211

[caches]
fail-stop = true

[rep-sharing]
enable-rep-sharing = false

[deltification]
enable-dir-deltification = true
max-deltification-walk = 0
max-linear-deltification = 1

[packed-revprops]
revprop-pack-size = 64
compress-packed-revprops = true
`
	cfg, err := Unmarshal([]byte(body))
	require.NoError(t, err)

	assert.Equal(t, "localhost:11211", cfg.MemcachedServers["server1"])
	assert.True(t, cfg.CachesFailStop)
	assert.False(t, cfg.EnableRepSharing)
	assert.Equal(t, 0, cfg.Deltification.MaxDeltificationWalk)
	assert.Equal(t, 1, cfg.Deltification.MaxLinearDeltification)
	assert.Equal(t, 64, cfg.RevpropPackSizeKB)
	assert.True(t, cfg.CompressPackedRevprops)
}

func TestUnmarshalRejectsNegativeDeltificationWalk(t *testing.T) {
	_, err := Unmarshal([]byte("[deltification]\nmax-deltification-walk = -1\n"))
	require.Error(t, err)
}

func TestLoadConfigFileReadsFromDisk(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/fsfs.conf"
	require.NoError(t, os.WriteFile(path, []byte("[rep-sharing]\nenable-rep-sharing = false\n"), 0644))

	cfg, err := LoadConfigFile(path)
	require.NoError(t, err)
	assert.False(t, cfg.EnableRepSharing)
}

func TestLoadConfigFileReportsMissingFile(t *testing.T) {
	_, err := LoadConfigFile("/nonexistent/fsfs.conf")
	require.Error(t, err)
}
