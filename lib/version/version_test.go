package version

import (
	"testing"

	"oss.terrastruct.com/util-go/assert"
)

func TestOnlyNumbers(t *testing.T) {
	prev := Version
	t.Cleanup(func() { Version = prev })

	Version = "v1.22.333-HEAD"
	assert.String(t, "1.22.333", OnlyNumbers())
	assert.String(t, "muse/v1.22.333-HEAD", UserAgent())

	Version = "dev"
	assert.String(t, "", OnlyNumbers())
}
