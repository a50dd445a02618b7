package paths

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func withMountPrefix(t *testing.T, prefix string) {
	t.Helper()
	prev := MountPrefix
	MountPrefix = prefix
	t.Cleanup(func() { MountPrefix = prev })
}

func TestForHomeSplitsInternalAndExternalViews(t *testing.T) {
	withMountPrefix(t, "/external")

	d := ForHome("/home/alice")
	assert.Equal(t, "/home/alice/.xbat", d.External.Base)
	assert.Equal(t, "/home/alice/.xbat/jobscripts", d.External.Jobscripts)
	assert.Equal(t, "/external/home/alice/.xbat", d.Internal.Base)
	assert.Equal(t, "/external/home/alice/.xbat/logs", d.Internal.Logs)
}

func TestForHomeWithoutMountPrefixCoincides(t *testing.T) {
	withMountPrefix(t, "")

	d := ForHome("/home/alice")
	assert.Equal(t, d.External, d.Internal)
}

func TestInternalPrefixesHostPaths(t *testing.T) {
	withMountPrefix(t, "/external")
	assert.Equal(t, "/external/home/alice/job.sh", Internal("/home/alice/job.sh"))

	withMountPrefix(t, "")
	assert.Equal(t, "/home/alice/job.sh", Internal("/home/alice/job.sh"))
}

func TestSetListCreationOrder(t *testing.T) {
	withMountPrefix(t, "")
	d := ForHome("/home/alice")
	list := d.Internal.List()
	assert.Equal(t, d.Internal.Base, list[0])
	assert.Len(t, list, 4)
}
