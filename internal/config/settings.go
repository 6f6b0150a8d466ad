// Package config loads application settings from an ini file.
package config

import (
	"fmt"
	"time"

	ini "gopkg.in/ini.v1"

	"softsip/internal/engine"
)

// Settings holds application configuration loaded from settings.ini.
type Settings struct {
	listenAddr    string
	publicAddress string
	transport     string

	uri           string
	displayName   string
	password      string
	registrar     string
	defaultNumber string
	sessionTimers bool
	registerTTL   int

	stunURL      string
	turnURL      string
	turnUsername string
	turnPassword string

	shutdownWait int
}

// LoadSettings reads configuration from an ini file and validates required
// fields.
func LoadSettings(cfg *ini.File) (*Settings, error) {
	s := &Settings{}

	sec := cfg.Section("sip")
	s.listenAddr = sec.Key("listen").MustString(":5060")
	s.publicAddress = sec.Key("public_address").String()
	s.transport = sec.Key("transport").MustString("udp")
	s.uri = sec.Key("uri").String()
	s.displayName = sec.Key("display_name").String()
	s.password = sec.Key("password").String()
	s.registrar = sec.Key("registrar").String()
	s.defaultNumber = sec.Key("default_number").String()
	s.sessionTimers = sec.Key("session_timers").MustBool(false)
	s.registerTTL = sec.Key("register_expires").MustInt(3600)

	sec = cfg.Section("ice")
	s.stunURL = sec.Key("stun_url").String()
	s.turnURL = sec.Key("turn_url").String()
	s.turnUsername = sec.Key("turn_username").String()
	s.turnPassword = sec.Key("turn_password").String()

	sec = cfg.Section("other")
	s.shutdownWait = sec.Key("shutdown_wait").MustInt(1)

	if s.uri == "" {
		return nil, fmt.Errorf("sip uri must be set")
	}

	return s, nil
}

func (s *Settings) ListenAddr() string    { return s.listenAddr }
func (s *Settings) PublicAddress() string { return s.publicAddress }
func (s *Settings) Transport() string     { return s.transport }

func (s *Settings) URI() string           { return s.uri }
func (s *Settings) DisplayName() string   { return s.displayName }
func (s *Settings) Password() string      { return s.password }
func (s *Settings) Registrar() string     { return s.registrar }
func (s *Settings) DefaultNumber() string { return s.defaultNumber }
func (s *Settings) SessionTimers() bool   { return s.sessionTimers }
func (s *Settings) RegisterTTL() int      { return s.registerTTL }

// ICE returns the traversal configuration, or nil when none is set.
func (s *Settings) ICE() *engine.ICEConfig {
	if s.stunURL == "" && s.turnURL == "" {
		return nil
	}
	return &engine.ICEConfig{
		STUNURL:      s.stunURL,
		TURNURL:      s.turnURL,
		TURNUsername: s.turnUsername,
		TURNPassword: s.turnPassword,
	}
}

func (s *Settings) ShutdownWait() time.Duration {
	return time.Duration(s.shutdownWait) * time.Second
}
