package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestICEServersNilConfig(t *testing.T) {
	var c *ICEConfig
	assert.Nil(t, c.Servers())
}

func TestICEServersEmptyConfig(t *testing.T) {
	c := &ICEConfig{}
	assert.Empty(t, c.Servers())
}

func TestICEServersSTUNOnly(t *testing.T) {
	c := &ICEConfig{STUNURL: "stun:stun.example.com:3478"}

	got := c.Servers()

	assert.Equal(t, []ICEServer{{URL: "stun:stun.example.com:3478"}}, got)
}

func TestICEServersTURNOnly(t *testing.T) {
	c := &ICEConfig{
		TURNURL:      "turn:turn.example.com:3478",
		TURNUsername: "user",
		TURNPassword: "secret",
	}

	got := c.Servers()

	assert.Equal(t, []ICEServer{{
		URL:        "turn:turn.example.com:3478",
		Username:   "user",
		Credential: "secret",
	}}, got)
}

func TestICEServersBoth(t *testing.T) {
	c := &ICEConfig{
		STUNURL:      "stun:stun.example.com:3478",
		TURNURL:      "turn:turn.example.com:3478",
		TURNUsername: "user",
		TURNPassword: "secret",
	}

	got := c.Servers()

	assert.Len(t, got, 2)
	assert.Equal(t, "stun:stun.example.com:3478", got[0].URL)
	assert.Empty(t, got[0].Username)
	assert.Equal(t, "turn:turn.example.com:3478", got[1].URL)
	assert.Equal(t, "user", got[1].Username)
}
