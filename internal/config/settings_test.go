package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	ini "gopkg.in/ini.v1"
)

func load(t *testing.T, data string) (*Settings, error) {
	t.Helper()
	cfg, err := ini.Load([]byte(data))
	require.NoError(t, err)
	return LoadSettings(cfg)
}

func TestLoadSettingsFull(t *testing.T) {
	s, err := load(t, `
[sip]
listen = 0.0.0.0:5080
public_address = 198.51.100.7
transport = tcp
uri = sip:1000@pbx.example.com
display_name = Desk Phone
password = hunter2
registrar = sip:pbx.example.com
default_number = +15550100
session_timers = true
register_expires = 600

[ice]
stun_url = stun:stun.example.com:3478
turn_url = turn:turn.example.com:3478
turn_username = u
turn_password = p

[other]
shutdown_wait = 3
`)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0:5080", s.ListenAddr())
	assert.Equal(t, "198.51.100.7", s.PublicAddress())
	assert.Equal(t, "tcp", s.Transport())
	assert.Equal(t, "sip:1000@pbx.example.com", s.URI())
	assert.Equal(t, "Desk Phone", s.DisplayName())
	assert.Equal(t, "hunter2", s.Password())
	assert.Equal(t, "sip:pbx.example.com", s.Registrar())
	assert.Equal(t, "+15550100", s.DefaultNumber())
	assert.True(t, s.SessionTimers())
	assert.Equal(t, 600, s.RegisterTTL())
	assert.Equal(t, 3*time.Second, s.ShutdownWait())

	ice := s.ICE()
	require.NotNil(t, ice)
	assert.Equal(t, "stun:stun.example.com:3478", ice.STUNURL)
	assert.Equal(t, "p", ice.TURNPassword)
}

func TestLoadSettingsDefaults(t *testing.T) {
	s, err := load(t, `
[sip]
uri = sip:1000@pbx.example.com
`)
	require.NoError(t, err)

	assert.Equal(t, ":5060", s.ListenAddr())
	assert.Equal(t, "udp", s.Transport())
	assert.False(t, s.SessionTimers())
	assert.Equal(t, 3600, s.RegisterTTL())
	assert.Equal(t, time.Second, s.ShutdownWait())
	assert.Nil(t, s.ICE(), "no ice section means no traversal config")
}

func TestLoadSettingsRequiresURI(t *testing.T) {
	_, err := load(t, `
[sip]
listen = :5060
`)
	assert.ErrorContains(t, err, "uri")
}
