package service

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddProvider(t *testing.T) {
	assert := assert.New(t)
	order, changed := addProvider("RDPNP,LanmanWorkstation", NetworkProviderName)
	assert.True(changed)
	assert.Equal("RDPNP,LanmanWorkstation,DokanNP", order)

	again, changed := addProvider(order, "dokannp")
	assert.False(changed)
	assert.Equal(order, again)

	order, changed = addProvider("", NetworkProviderName)
	assert.True(changed)
	assert.Equal("DokanNP", order)
}

func TestRemoveProvider(t *testing.T) {
	assert := assert.New(t)
	order, changed := removeProvider("RDPNP, DokanNP ,webclient", NetworkProviderName)
	assert.True(changed)
	assert.Equal("RDPNP,webclient", order)

	_, changed = removeProvider(order, NetworkProviderName)
	assert.False(changed)
}

func TestKind(t *testing.T) {
	assert.Equal(t, "driver", KindDriver.String())
	assert.Equal(t, "service", KindService.String())
	assert.Equal(t, "unknown", Kind(7).String())
}

func TestConnectUnsupported(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("service manager present")
	}
	m, err := Connect()
	assert.ErrorIs(t, err, ErrUnsupported)
	assert.Nil(t, m)
}
